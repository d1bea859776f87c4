package ransac

import (
	"bytes"
	"log/slog"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"geom-fit/pkg/fit"
	"geom-fit/pkg/geometry"
)

// circleWithOutliers returns 30 exact points on a circle around (5, 5)
// with radius 3 followed by 6 distant outliers.
func circleWithOutliers() *mat.Dense {
	points := geometry.GenerateCirclePoints(5, 5, 3, 30)
	points = append(points,
		geometry.NewPoint2D(20, 20),
		geometry.NewPoint2D(25, 17),
		geometry.NewPoint2D(30, 30),
		geometry.NewPoint2D(15, 28),
		geometry.NewPoint2D(28, 12),
		geometry.NewPoint2D(22, 25),
	)
	return geometry.PointsToMatrix(points)
}

func TestFitCircleWithOutliers(t *testing.T) {
	data := circleWithOutliers()

	result, err := Fit(data, fit.CircleEstimator{}, 3, 0.1, WithSeed(1))
	require.NoError(t, err)
	require.NotNil(t, result.Model)

	circle, ok := result.Model.(*fit.Circle)
	require.True(t, ok)
	assert.InDelta(t, 5.0, circle.Center.X, 1e-6)
	assert.InDelta(t, 5.0, circle.Center.Y, 1e-6)
	assert.InDelta(t, 3.0, circle.Radius, 1e-6)

	expected := make([]bool, 36)
	for i := 0; i < 30; i++ {
		expected[i] = true
	}
	assert.Equal(t, expected, result.Inliers)
	assert.Equal(t, 30, result.InlierCount)
	assert.Positive(t, result.ResidualSum)
	assert.Positive(t, result.Trials)
}

func TestFitValidation(t *testing.T) {
	data := circleWithOutliers()
	est := fit.CircleEstimator{}

	tests := []struct {
		name    string
		run     func() (*Result, error)
		wantMsg string
	}{
		{
			name: "MinSamplesZero",
			run: func() (*Result, error) {
				return Fit(data, est, 0, 1)
			},
			wantMsg: "min samples",
		},
		{
			name: "MinSamplesTooLarge",
			run: func() (*Result, error) {
				return Fit(data, est, 37, 1)
			},
			wantMsg: "min samples",
		},
		{
			name: "NegativeThreshold",
			run: func() (*Result, error) {
				return Fit(data, est, 3, -1)
			},
			wantMsg: "residual threshold",
		},
		{
			name: "NegativeMaxTrials",
			run: func() (*Result, error) {
				return Fit(data, est, 3, 1, WithMaxTrials(-1))
			},
			wantMsg: "max trials",
		},
		{
			name: "StopProbabilityTooLarge",
			run: func() (*Result, error) {
				return Fit(data, est, 3, 1, WithStopProbability(1.5))
			},
			wantMsg: "stop probability",
		},
		{
			name: "StopProbabilityNegative",
			run: func() (*Result, error) {
				return Fit(data, est, 3, 1, WithStopProbability(-0.1))
			},
			wantMsg: "stop probability",
		},
		{
			name: "InitialInliersWrongLength",
			run: func() (*Result, error) {
				return Fit(data, est, 3, 1, WithInitialInliers(make([]bool, 5)))
			},
			wantMsg: "initial inliers",
		},
		{
			name: "NilEstimator",
			run: func() (*Result, error) {
				return Fit(data, nil, 3, 1)
			},
			wantMsg: "estimator",
		},
		{
			name: "NoDataArrays",
			run: func() (*Result, error) {
				return FitMulti(nil, est, 3, 1)
			},
			wantMsg: "no data arrays",
		},
		{
			name: "MismatchedArrayLengths",
			run: func() (*Result, error) {
				return FitMulti([]mat.Matrix{
					mat.NewDense(4, 2, nil),
					mat.NewDense(5, 2, nil),
				}, est, 2, 1)
			},
			wantMsg: "disagree",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := tt.run()
			require.Error(t, err)
			assert.Nil(t, result)
			assert.ErrorContains(t, err, tt.wantMsg)
		})
	}
}

func TestDynamicMaxTrials(t *testing.T) {
	tests := []struct {
		name        string
		inliers     int
		samples     int
		minSamples  int
		probability float64
		want        int
	}{
		{name: "ZeroProbability", inliers: 10, samples: 20, minSamples: 2, probability: 0, want: 0},
		{name: "NoInliers", inliers: 0, samples: 20, minSamples: 2, probability: 0.99, want: math.MaxInt},
		{name: "HalfInliers", inliers: 50, samples: 100, minSamples: 2, probability: 0.99, want: 17},
		{name: "CertaintyClamped", inliers: 50, samples: 100, minSamples: 2, probability: 1, want: 126},
		{name: "AllInliers", inliers: 20, samples: 20, minSamples: 3, probability: 0.99, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := dynamicMaxTrials(tt.inliers, tt.samples, tt.minSamples, tt.probability)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDynamicMaxTrialsMonotonic(t *testing.T) {
	// More inliers never ask for more trials.
	prev := dynamicMaxTrials(1, 100, 4, 0.99)
	for inliers := 2; inliers <= 100; inliers++ {
		cur := dynamicMaxTrials(inliers, 100, 4, 0.99)
		assert.LessOrEqual(t, cur, prev, "inliers=%d", inliers)
		prev = cur
	}
}

func TestFitStopSampleNum(t *testing.T) {
	points := geometry.GenerateCirclePoints(0, 0, 10, 20)
	points = append(points,
		geometry.NewPoint2D(40, 0),
		geometry.NewPoint2D(0, 44),
		geometry.NewPoint2D(-38, 5),
		geometry.NewPoint2D(3, -41),
		geometry.NewPoint2D(45, 45),
	)
	data := geometry.PointsToMatrix(points)

	result, err := Fit(data, fit.CircleEstimator{}, 3, 0.5,
		WithSeed(7), WithStopSampleNum(20))
	require.NoError(t, err)

	assert.Equal(t, 20, result.InlierCount)
	// The search halts at the first trial reaching the target, well
	// before the adaptive budget of roughly fifty trials runs out.
	assert.Less(t, result.Trials, 51)
}

func TestFitStopSampleNumClean(t *testing.T) {
	// On outlier-free data the first scored trial already reaches the
	// full sample count.
	data := geometry.PointsToMatrix(geometry.GenerateCirclePoints(1, 2, 6, 18))

	result, err := Fit(data, fit.CircleEstimator{}, 3, 0.5,
		WithSeed(13), WithStopSampleNum(18))
	require.NoError(t, err)
	assert.Equal(t, 18, result.InlierCount)
	assert.Equal(t, 1, result.Trials)
}

func TestFitStopResidualsSum(t *testing.T) {
	data := circleWithOutliers()

	// A generous residual budget accepts the very first scored trial.
	result, err := Fit(data, fit.CircleEstimator{}, 3, 0.1,
		WithSeed(5), WithStopResidualsSum(1e12))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Trials)
}

// zeroModel scores every row as a perfect inlier.
type zeroModel struct{}

func (zeroModel) Residuals(data ...mat.Matrix) ([]float64, error) {
	n, _ := data[0].Dims()
	return make([]float64, n), nil
}

// rowRecorder notes how many rows each estimation call received.
type rowRecorder struct {
	rows *[]int
}

func (r rowRecorder) Estimate(data ...mat.Matrix) (fit.Model, error) {
	n, _ := data[0].Dims()
	*r.rows = append(*r.rows, n)
	return zeroModel{}, nil
}

func TestFitInitialInliers(t *testing.T) {
	data := mat.NewDense(10, 2, nil)
	mask := make([]bool, 10)
	for _, i := range []int{0, 2, 3, 5, 6, 8, 9} {
		mask[i] = true
	}

	var rows []int
	result, err := Fit(data, rowRecorder{rows: &rows}, 3, 1,
		WithSeed(3), WithInitialInliers(mask))
	require.NoError(t, err)

	// First trial estimates from the seven seeded rows; the zero
	// residuals make every row an inlier and stop the search, so the
	// only other call is the final refit on all ten.
	require.Equal(t, []int{7, 10}, rows)
	assert.Equal(t, 1, result.Trials)
	assert.Equal(t, 10, result.InlierCount)
}

func TestFitAllFalseInitialInliers(t *testing.T) {
	data := circleWithOutliers()

	// An empty seed discards the first trial but later random draws
	// still find the consensus set.
	result, err := Fit(data, fit.CircleEstimator{}, 3, 0.1,
		WithSeed(11), WithInitialInliers(make([]bool, 36)))
	require.NoError(t, err)
	assert.Equal(t, 30, result.InlierCount)
	assert.Greater(t, result.Trials, 1)
}

// scriptedEstimator hands out canned models in call order.
type scriptedEstimator struct {
	models []fit.Model
	calls  *int
}

func (s scriptedEstimator) Estimate(data ...mat.Matrix) (fit.Model, error) {
	i := *s.calls
	*s.calls++
	if i >= len(s.models) {
		i = len(s.models) - 1
	}
	return s.models[i], nil
}

// cannedModel returns a fixed residual vector regardless of data.
type cannedModel struct {
	residuals []float64
}

func (m cannedModel) Residuals(data ...mat.Matrix) ([]float64, error) {
	return m.residuals, nil
}

func TestFitTieBreak(t *testing.T) {
	data := mat.NewDense(4, 2, nil)

	t.Run("SmallerSumWins", func(t *testing.T) {
		calls := 0
		est := scriptedEstimator{
			models: []fit.Model{
				cannedModel{residuals: []float64{0.5, 0.5, 5, 5}},
				cannedModel{residuals: []float64{5, 0.4, 0.4, 5}},
				zeroModel{},
			},
			calls: &calls,
		}

		result, err := Fit(data, est, 1, 1, WithSeed(2), WithMaxTrials(2))
		require.NoError(t, err)

		// Both trials count two inliers; the second trial's smaller
		// residual sum moves the consensus to rows 1 and 2.
		assert.Equal(t, []bool{false, true, true, false}, result.Inliers)
		assert.Equal(t, 2, result.InlierCount)
		assert.InDelta(t, 25+0.16+0.16+25, result.ResidualSum, 1e-12)
	})

	t.Run("LargerSumLoses", func(t *testing.T) {
		calls := 0
		est := scriptedEstimator{
			models: []fit.Model{
				cannedModel{residuals: []float64{0.5, 0.5, 5, 5}},
				cannedModel{residuals: []float64{5, 0.4, 0.4, 6}},
				zeroModel{},
			},
			calls: &calls,
		}

		result, err := Fit(data, est, 1, 1, WithSeed(2), WithMaxTrials(2))
		require.NoError(t, err)

		assert.Equal(t, []bool{true, true, false, false}, result.Inliers)
		assert.InDelta(t, 0.25+0.25+25+25, result.ResidualSum, 1e-12)
	})

	t.Run("MoreInliersBeatSum", func(t *testing.T) {
		calls := 0
		est := scriptedEstimator{
			models: []fit.Model{
				cannedModel{residuals: []float64{0.5, 0.5, 5, 5}},
				cannedModel{residuals: []float64{0.9, 0.9, 0.9, 50}},
				zeroModel{},
			},
			calls: &calls,
		}

		result, err := Fit(data, est, 1, 1, WithSeed(2), WithMaxTrials(2))
		require.NoError(t, err)

		assert.Equal(t, []bool{true, true, true, false}, result.Inliers)
		assert.Equal(t, 3, result.InlierCount)
	})
}

func TestFitNoInliers(t *testing.T) {
	// Identical points make every estimation degenerate, so no trial
	// ever scores.
	data := mat.NewDense(5, 2, []float64{1, 1, 1, 1, 1, 1, 1, 1, 1, 1})

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	result, err := Fit(data, fit.CircleEstimator{}, 3, 0.5,
		WithSeed(4), WithMaxTrials(7), WithLogger(logger))
	require.NoError(t, err)

	assert.Nil(t, result.Model)
	assert.Nil(t, result.Inliers)
	assert.Equal(t, 0, result.InlierCount)
	assert.Equal(t, 7, result.Trials)
	assert.True(t, math.IsInf(result.ResidualSum, 1))
	assert.Contains(t, buf.String(), "no inliers found, model not fitted")
}

func TestFitDataValid(t *testing.T) {
	data := circleWithOutliers()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	rejected := 0
	result, err := Fit(data, fit.CircleEstimator{}, 3, 0.1,
		WithSeed(6), WithMaxTrials(5), WithLogger(logger),
		WithDataValid(func(samples ...mat.Matrix) bool {
			rejected++
			return false
		}))
	require.NoError(t, err)

	assert.Equal(t, 5, rejected)
	assert.Nil(t, result.Model)
	assert.Contains(t, buf.String(), "no inliers found")
}

func TestFitModelValid(t *testing.T) {
	data := circleWithOutliers()

	t.Run("RejectAll", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&buf, nil))

		result, err := Fit(data, fit.CircleEstimator{}, 3, 0.1,
			WithSeed(8), WithMaxTrials(5), WithLogger(logger),
			WithModelValid(func(model fit.Model, samples ...mat.Matrix) bool {
				return false
			}))
		require.NoError(t, err)
		assert.Nil(t, result.Model)
		assert.Contains(t, buf.String(), "no inliers found")
	})

	t.Run("RejectRefit", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&buf, nil))

		// Accept minimal subsets only: the refit on the full consensus
		// set fails validation but the model is still returned.
		result, err := Fit(data, fit.CircleEstimator{}, 3, 0.1,
			WithSeed(9), WithLogger(logger),
			WithModelValid(func(model fit.Model, samples ...mat.Matrix) bool {
				rows, _ := samples[0].Dims()
				return rows == 3
			}))
		require.NoError(t, err)

		assert.NotNil(t, result.Model)
		assert.Equal(t, 30, result.InlierCount)
		assert.Contains(t, buf.String(), "estimated model is not valid, try increasing max trials")
	})
}

func TestFitContractErrorPropagates(t *testing.T) {
	// Three-column data breaks the circle contract on the first
	// estimation; the search reports it instead of retrying.
	data := mat.NewDense(6, 3, nil)

	result, err := Fit(data, fit.CircleEstimator{}, 3, 0.5, WithSeed(10))
	require.Error(t, err)
	assert.Nil(t, result)

	var dimErr *fit.DimensionError
	assert.ErrorAs(t, err, &dimErr)
}

// shortModel returns one residual fewer than there are rows.
type shortModel struct{}

func (shortModel) Residuals(data ...mat.Matrix) ([]float64, error) {
	n, _ := data[0].Dims()
	return make([]float64, n-1), nil
}

type shortEstimator struct{}

func (shortEstimator) Estimate(data ...mat.Matrix) (fit.Model, error) {
	return shortModel{}, nil
}

func TestFitResidualLengthMismatch(t *testing.T) {
	_, err := Fit(mat.NewDense(4, 2, nil), shortEstimator{}, 2, 1, WithSeed(12))
	require.Error(t, err)
	assert.ErrorContains(t, err, "residuals")
}

func TestFitDeterministic(t *testing.T) {
	data := circleWithOutliers()

	run := func(opt Option) *Result {
		result, err := Fit(data, fit.CircleEstimator{}, 3, 0.1, opt)
		require.NoError(t, err)
		return result
	}

	first := run(WithSeed(42))
	second := run(WithSeed(42))
	assert.Equal(t, first, second)
}

// translationModel maps source points onto destination points by a
// fixed offset.
type translationModel struct {
	transform geometry.AffineTransform
}

func (m translationModel) Residuals(data ...mat.Matrix) ([]float64, error) {
	src, dst := data[0], data[1]
	n, _ := src.Dims()
	res := make([]float64, n)
	for i := 0; i < n; i++ {
		moved := m.transform.Apply(geometry.NewPoint2D(src.At(i, 0), src.At(i, 1)))
		res[i] = moved.Distance(geometry.NewPoint2D(dst.At(i, 0), dst.At(i, 1)))
	}
	return res, nil
}

type translationEstimator struct{}

func (translationEstimator) Estimate(data ...mat.Matrix) (fit.Model, error) {
	src, dst := data[0], data[1]
	n, _ := src.Dims()
	var dx, dy float64
	for i := 0; i < n; i++ {
		dx += dst.At(i, 0) - src.At(i, 0)
		dy += dst.At(i, 1) - src.At(i, 1)
	}
	dx /= float64(n)
	dy /= float64(n)
	return translationModel{transform: geometry.Translation(dx, dy)}, nil
}

func TestFitMultiTranslation(t *testing.T) {
	src := mat.NewDense(12, 2, nil)
	dst := mat.NewDense(12, 2, nil)
	for i := 0; i < 12; i++ {
		x := float64(i) * 1.7
		y := float64(i*i) * 0.3
		src.Set(i, 0, x)
		src.Set(i, 1, y)
		dst.Set(i, 0, x+3)
		dst.Set(i, 1, y-2)
	}
	// Corrupt three correspondences.
	dst.Set(2, 0, 100)
	dst.Set(2, 1, 100)
	dst.Set(6, 0, -80)
	dst.Set(6, 1, 55)
	dst.Set(9, 0, 70)
	dst.Set(9, 1, -90)

	result, err := FitMulti([]mat.Matrix{src, dst}, translationEstimator{}, 2, 0.1, WithSeed(21))
	require.NoError(t, err)
	require.NotNil(t, result.Model)

	model, ok := result.Model.(translationModel)
	require.True(t, ok)
	assert.InDelta(t, 3.0, model.transform.TX, 1e-9)
	assert.InDelta(t, -2.0, model.transform.TY, 1e-9)

	assert.Equal(t, 9, result.InlierCount)
	for i, in := range result.Inliers {
		corrupted := i == 2 || i == 6 || i == 9
		assert.Equal(t, !corrupted, in, "row %d", i)
	}
}

func TestFitEllipseWithHullPredicate(t *testing.T) {
	points := geometry.GenerateEllipsePoints(10, 15, 8, 4, math.Pi/6, 30)
	points = append(points,
		geometry.NewPoint2D(40, -20),
		geometry.NewPoint2D(-25, 50),
		geometry.NewPoint2D(55, 60),
		geometry.NewPoint2D(-30, -35),
		geometry.NewPoint2D(65, 5),
	)
	data := geometry.PointsToMatrix(points)

	// Discard clustered draws whose convex hull spans almost no area;
	// they make poorly conditioned conic fits.
	spread := func(samples ...mat.Matrix) bool {
		pts, err := geometry.MatrixToPoints(samples[0])
		if err != nil {
			return false
		}
		return geometry.PolygonArea(geometry.ConvexHull(pts)) > 1
	}

	result, err := Fit(data, fit.EllipseEstimator{}, 5, 0.1,
		WithSeed(17), WithDataValid(spread))
	require.NoError(t, err)
	require.NotNil(t, result.Model)

	ellipse, ok := result.Model.(*fit.Ellipse)
	require.True(t, ok)
	assert.InDelta(t, 10, ellipse.Center.X, 1e-3)
	assert.InDelta(t, 15, ellipse.Center.Y, 1e-3)
	assert.InDelta(t, 8, ellipse.A, 1e-3)
	assert.InDelta(t, 4, ellipse.B, 1e-3)
	assert.InDelta(t, math.Pi/6, ellipse.Theta, 1e-3)
	assert.Equal(t, 30, result.InlierCount)
}
