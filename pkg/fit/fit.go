// Package fit provides total least squares estimators for geometric
// primitives: N-dimensional lines, circles, and ellipses. Estimators
// consume point data as gonum matrices with one row per point and
// return immutable model values that compute per-point residuals.
//
// Failures caused by the data itself (zero spread, rank deficiency)
// are reported as *EstimationError and unwrap to ErrEstimationFailed,
// so callers that sample repeatedly can discard the attempt and
// continue. Violations of a call contract, such as data with the wrong
// number of columns, are plain errors and should not be retried.
package fit

import (
	"fmt"
	"log/slog"
	"sync"

	"gonum.org/v1/gonum/mat"
)

// Model is a fitted geometric primitive. Residuals returns one value
// per data row measuring how far the point lies from the model. The
// sign convention is model specific; magnitudes are comparable against
// a distance threshold.
type Model interface {
	Residuals(data ...mat.Matrix) ([]float64, error)
}

// Estimator fits a Model to point data. Implementations are stateless
// and safe for concurrent use.
type Estimator interface {
	Estimate(data ...mat.Matrix) (Model, error)
}

// LegacyModel is the older in-place estimation style: the model value
// is mutated by estimation and success is a bare boolean.
type LegacyModel interface {
	Model
	EstimateInPlace(data ...mat.Matrix) bool
}

// AdaptLegacy lifts a LegacyModel constructor into an Estimator. A
// boolean failure carries no reason, so adapted estimators can only
// report a generic degeneracy. The logger warns once per adapter about
// the lossy interface; nil uses slog.Default().
func AdaptLegacy(name string, construct func() LegacyModel, logger *slog.Logger) Estimator {
	if logger == nil {
		logger = slog.Default()
	}
	return &legacyAdapter{name: name, construct: construct, logger: logger}
}

type legacyAdapter struct {
	name      string
	construct func() LegacyModel
	logger    *slog.Logger
	warnOnce  sync.Once
}

func (a *legacyAdapter) Estimate(data ...mat.Matrix) (Model, error) {
	a.warnOnce.Do(func() {
		a.logger.Warn("in-place estimation hides failure reasons; prefer a native Estimator",
			"model", a.name)
	})
	m := a.construct()
	if !m.EstimateInPlace(data...) {
		return nil, &EstimationError{Model: a.name, Reason: "in-place estimation reported failure"}
	}
	return m, nil
}

// singleArray unwraps the variadic data list for models that operate
// on one point set.
func singleArray(model string, data []mat.Matrix) (mat.Matrix, error) {
	if len(data) != 1 {
		return nil, fmt.Errorf("%s model expects a single data array, got %d", model, len(data))
	}
	return data[0], nil
}
