// Package ransac fits models to data contaminated by outliers using
// random sample consensus. Each trial estimates a candidate model from
// a minimal random subset, scores it by counting inliers over the full
// data, and keeps the best consensus set; the returned model is refit
// on that set. The search is deterministic for a fixed random source.
package ransac

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"geom-fit/internal/numeric"
	"geom-fit/pkg/fit"
)

// Result is the outcome of a consensus search. Model and Inliers are
// nil when no trial produced any inliers; Inliers alone is kept when
// the final refit on the consensus set failed.
type Result struct {
	// Model is the model refit on the full consensus set.
	Model fit.Model
	// Inliers marks the rows of the winning consensus set.
	Inliers []bool
	// Trials is the number of trials actually run.
	Trials int
	// InlierCount is the size of the winning consensus set.
	InlierCount int
	// ResidualSum is the winning trial's sum of squared residuals over
	// all data points.
	ResidualSum float64
}

// Fit runs a consensus search over a single data array of N sample
// rows. Each trial draws minSamples distinct rows, estimates a
// candidate with the estimator, and classifies every row whose
// absolute residual is strictly below residualThreshold as an inlier.
// A trial beats the incumbent with more inliers, or with an equal
// count and a smaller sum of squared residuals.
func Fit(data mat.Matrix, estimator fit.Estimator, minSamples int, residualThreshold float64, opts ...Option) (*Result, error) {
	return FitMulti([]mat.Matrix{data}, estimator, minSamples, residualThreshold, opts...)
}

// FitMulti is Fit over parallel data arrays sharing their row count,
// sampled in lockstep: trial k passes the same row subset of every
// array to the estimator. Models relating point sets, such as
// transforms between source and destination coordinates, consume the
// arrays as separate arguments.
func FitMulti(data []mat.Matrix, estimator fit.Estimator, minSamples int, residualThreshold float64, opts ...Option) (*Result, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	if estimator == nil {
		return nil, errors.New("estimator must not be nil")
	}
	if len(data) == 0 {
		return nil, errors.New("no data arrays given")
	}
	n, _ := data[0].Dims()
	for _, d := range data[1:] {
		if rows, _ := d.Dims(); rows != n {
			return nil, fmt.Errorf("data arrays disagree on sample count: %d != %d", rows, n)
		}
	}

	if minSamples <= 0 || minSamples > n {
		return nil, fmt.Errorf("min samples must be in range (0, %d]", n)
	}
	if residualThreshold < 0 {
		return nil, errors.New("residual threshold must be greater than zero")
	}
	if o.maxTrials < 0 {
		return nil, errors.New("max trials must be greater than zero")
	}
	if o.stopProbability < 0 || o.stopProbability > 1 {
		return nil, errors.New("stop probability must be in range [0, 1]")
	}
	if o.initialInliers != nil && len(o.initialInliers) != n {
		return nil, fmt.Errorf("initial inliers length %d does not match sample count %d",
			len(o.initialInliers), n)
	}

	bestCount := 0
	bestResidualSum := math.Inf(1)
	var bestInliers []bool

	// The first trial may be seeded from the initial-inlier guess; all
	// later subsets are drawn without replacement.
	var sampleIdx []int
	if o.initialInliers != nil {
		sampleIdx = maskIndices(o.initialInliers)
	} else {
		sampleIdx = o.rng.Perm(n)[:minSamples]
	}

	maxTrials := o.maxTrials
	trials := 0
	for trials < maxTrials {
		trials++

		idx := sampleIdx
		sampleIdx = o.rng.Perm(n)[:minSamples]

		if len(idx) == 0 {
			continue
		}
		samples := takeRows(data, idx)

		if o.dataValid != nil && !o.dataValid(samples...) {
			continue
		}

		model, err := estimator.Estimate(samples...)
		if err != nil {
			if errors.Is(err, fit.ErrEstimationFailed) {
				continue
			}
			return nil, err
		}

		if o.modelValid != nil && !o.modelValid(model, samples...) {
			continue
		}

		residuals, err := model.Residuals(data...)
		if err != nil {
			return nil, err
		}
		if len(residuals) != n {
			return nil, fmt.Errorf("model produced %d residuals for %d samples", len(residuals), n)
		}

		inliers := make([]bool, n)
		count := 0
		var residualSum float64
		for i, r := range residuals {
			r = math.Abs(r)
			residualSum += r * r
			if r < residualThreshold {
				inliers[i] = true
				count++
			}
		}

		if count > bestCount || (count == bestCount && residualSum < bestResidualSum) {
			bestCount = count
			bestResidualSum = residualSum
			bestInliers = inliers
			if dyn := dynamicMaxTrials(bestCount, n, minSamples, o.stopProbability); dyn < maxTrials {
				maxTrials = dyn
			}
			if bestCount >= o.stopSampleNum || bestResidualSum <= o.stopResidualsSum {
				break
			}
		}
	}

	result := &Result{
		Trials:      trials,
		InlierCount: bestCount,
		ResidualSum: bestResidualSum,
	}

	if bestCount == 0 {
		o.logger.Warn("no inliers found, model not fitted")
		return result, nil
	}

	// Refit on the full consensus set.
	inlierData := takeRows(data, maskIndices(bestInliers))
	model, err := estimator.Estimate(inlierData...)
	if err != nil {
		if errors.Is(err, fit.ErrEstimationFailed) {
			o.logger.Warn("final estimation on consensus set failed", "err", err)
			result.Inliers = bestInliers
			return result, nil
		}
		return nil, err
	}
	if o.modelValid != nil && !o.modelValid(model, inlierData...) {
		o.logger.Warn("estimated model is not valid, try increasing max trials")
	}

	result.Model = model
	result.Inliers = bestInliers
	return result, nil
}

// dynamicMaxTrials returns the trial count needed to draw at least one
// all-inlier subset with the given confidence, for the current inlier
// ratio. Clamping keeps both logarithms negative, so the count stays
// positive.
func dynamicMaxTrials(inliers, samples, minSamples int, probability float64) int {
	if probability == 0 {
		return 0
	}
	if inliers == 0 {
		return math.MaxInt
	}
	ratio := float64(inliers) / float64(samples)
	nom := clampUnit(1 - probability)
	denom := clampUnit(1 - math.Pow(ratio, float64(minSamples)))
	trials := math.Ceil(math.Log(nom) / math.Log(denom))
	if trials >= float64(math.MaxInt) {
		return math.MaxInt
	}
	return int(trials)
}

func clampUnit(x float64) float64 {
	switch {
	case x < numeric.Eps:
		return numeric.Eps
	case x > 1-numeric.Eps:
		return 1 - numeric.Eps
	}
	return x
}

func maskIndices(mask []bool) []int {
	idx := make([]int, 0, len(mask))
	for i, ok := range mask {
		if ok {
			idx = append(idx, i)
		}
	}
	return idx
}

// takeRows gathers the given rows of every data array. idx must not be
// empty.
func takeRows(data []mat.Matrix, idx []int) []mat.Matrix {
	out := make([]mat.Matrix, len(data))
	for k, d := range data {
		_, c := d.Dims()
		sub := mat.NewDense(len(idx), c, nil)
		for i, j := range idx {
			for col := 0; col < c; col++ {
				sub.Set(i, col, d.At(j, col))
			}
		}
		out[k] = sub
	}
	return out
}
