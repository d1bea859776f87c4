package fit

import (
	"errors"
	"fmt"
)

// ErrEstimationFailed is the sentinel wrapped by every EstimationError.
// Use errors.Is to test whether a failure came from degenerate data
// rather than from a violated call contract.
var ErrEstimationFailed = errors.New("estimation failed")

// EstimationError reports that an estimator could not produce a model
// from the data it was given, such as degenerate geometry or a
// numerical routine that did not converge. Consensus sampling treats
// these as recoverable and moves on to the next subset.
type EstimationError struct {
	Model  string
	Reason string
}

func (e *EstimationError) Error() string {
	return fmt.Sprintf("%s estimation failed: %s", e.Model, e.Reason)
}

func (e *EstimationError) Unwrap() error {
	return ErrEstimationFailed
}

// DimensionError reports data whose column count does not match what a
// model requires. Unlike EstimationError it marks a broken call
// contract, so callers should not retry with another sample.
type DimensionError struct {
	Model string
	Want  int
	Got   int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("%s model requires %d-dimensional points, got %d", e.Model, e.Want, e.Got)
}
