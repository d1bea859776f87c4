package ransac

import (
	"log/slog"
	"math"
	"math/rand"
	"time"

	"gonum.org/v1/gonum/mat"

	"geom-fit/pkg/fit"
)

// DataValidFunc vets a randomly drawn sample subset before estimation.
// Returning false discards the trial.
type DataValidFunc func(samples ...mat.Matrix) bool

// ModelValidFunc vets a model estimated from a sample subset. Returning
// false discards the trial.
type ModelValidFunc func(model fit.Model, samples ...mat.Matrix) bool

type options struct {
	maxTrials        int
	stopSampleNum    int
	stopResidualsSum float64
	stopProbability  float64
	dataValid        DataValidFunc
	modelValid       ModelValidFunc
	initialInliers   []bool
	rng              *rand.Rand
	logger           *slog.Logger
}

func defaultOptions() *options {
	return &options{
		maxTrials:       100,
		stopSampleNum:   math.MaxInt,
		stopProbability: 1,
		rng:             rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:          slog.Default(),
	}
}

// Option configures a consensus search.
type Option func(*options)

// WithMaxTrials caps the number of random trials. Default 100.
func WithMaxTrials(n int) Option {
	return func(o *options) { o.maxTrials = n }
}

// WithStopSampleNum stops the search as soon as a trial reaches this
// many inliers. Unlimited by default.
func WithStopSampleNum(n int) Option {
	return func(o *options) { o.stopSampleNum = n }
}

// WithStopResidualsSum stops the search as soon as a trial's sum of
// squared residuals drops to this value or below. Default 0.
func WithStopResidualsSum(sum float64) Option {
	return func(o *options) { o.stopResidualsSum = sum }
}

// WithStopProbability sets the confidence that at least one outlier
// free subset gets sampled; the trial budget shrinks adaptively as
// better consensus sets are found. Must lie in [0, 1], default 1.
func WithStopProbability(p float64) Option {
	return func(o *options) { o.stopProbability = p }
}

// WithDataValid installs a predicate over each random sample subset.
func WithDataValid(fn DataValidFunc) Option {
	return func(o *options) { o.dataValid = fn }
}

// WithModelValid installs a predicate over each candidate model. The
// final model estimated from the consensus set is checked against it
// too.
func WithModelValid(fn ModelValidFunc) Option {
	return func(o *options) { o.modelValid = fn }
}

// WithInitialInliers seeds the first trial with the true entries of the
// mask instead of a random subset. The mask length must match the
// sample count.
func WithInitialInliers(mask []bool) Option {
	return func(o *options) { o.initialInliers = mask }
}

// WithRNG sets the random source. A search makes all of its draws from
// this one generator, so two searches with equally seeded generators
// select identical subsets. nil keeps the default time-seeded source.
func WithRNG(rng *rand.Rand) Option {
	return func(o *options) {
		if rng != nil {
			o.rng = rng
		}
	}
}

// WithSeed is shorthand for WithRNG with a deterministic seed.
func WithSeed(seed int64) Option {
	return func(o *options) { o.rng = rand.New(rand.NewSource(seed)) }
}

// WithLogger routes the search's warnings to the given logger. nil
// keeps slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}
