package fit

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"geom-fit/internal/numeric"
)

// Line is a total least squares line in D-dimensional space, defined by
// a point on the line and a direction. Estimated lines have a unit
// direction; Residuals and Predict assume one.
type Line struct {
	Origin    []float64
	Direction []float64
}

// NewLine builds a line from an origin and a direction of equal length.
func NewLine(origin, direction []float64) (*Line, error) {
	if len(origin) != len(direction) {
		return nil, fmt.Errorf("origin has %d components but direction has %d",
			len(origin), len(direction))
	}
	return &Line{Origin: origin, Direction: direction}, nil
}

// EstimateLine fits a line to N points in D >= 2 dimensions by total
// least squares: the origin is the centroid and the direction is the
// dominant right singular vector of the centered data. Two points use
// their normalized difference directly. Identical points leave the
// direction undefined and fail with an *EstimationError.
func EstimateLine(data mat.Matrix) (*Line, error) {
	n, d := data.Dims()
	if d < 2 {
		return nil, fmt.Errorf("line model requires at least 2-dimensional points, got %d", d)
	}
	if n < 2 {
		return nil, &EstimationError{Model: "line", Reason: "estimate under-determined"}
	}

	centered, origin := numeric.Center(data)

	direction := make([]float64, d)
	if n == 2 {
		mat.Row(direction, 1, centered)
		floats.Sub(direction, mat.Row(nil, 0, centered))
		norm := floats.Norm(direction, 2)
		if norm == 0 {
			return nil, &EstimationError{Model: "line", Reason: "identical data points"}
		}
		floats.Scale(1/norm, direction)
	} else {
		var svd mat.SVD
		if !svd.Factorize(centered, mat.SVDThin) {
			return nil, &EstimationError{Model: "line", Reason: "svd did not converge"}
		}
		if svd.Values(nil)[0] == 0 {
			return nil, &EstimationError{Model: "line", Reason: "identical data points"}
		}
		var v mat.Dense
		svd.VTo(&v)
		mat.Col(direction, 0, &v)
	}

	return &Line{Origin: origin, Direction: direction}, nil
}

// Residuals returns the orthogonal distance of each point to the line.
func (l *Line) Residuals(data ...mat.Matrix) ([]float64, error) {
	m, err := singleArray("line", data)
	if err != nil {
		return nil, err
	}
	n, d := m.Dims()
	if d != len(l.Origin) {
		return nil, &DimensionError{Model: "line", Want: len(l.Origin), Got: d}
	}

	res := make([]float64, n)
	diff := make([]float64, d)
	row := make([]float64, d)
	for i := 0; i < n; i++ {
		mat.Row(row, i, m)
		floats.SubTo(diff, row, l.Origin)
		t := floats.Dot(diff, l.Direction)
		floats.AddScaled(diff, -t, l.Direction)
		res[i] = floats.Norm(diff, 2)
	}
	return res, nil
}

// Predict returns the points on the line whose coordinate along the
// given axis equals each value in coords, one row per value. A line
// parallel to the axis has no such points and yields an error.
func (l *Line) Predict(coords []float64, axis int) (*mat.Dense, error) {
	d := len(l.Origin)
	if axis < 0 || axis >= d {
		return nil, fmt.Errorf("axis %d out of range for %d-dimensional line", axis, d)
	}
	if l.Direction[axis] == 0 {
		return nil, fmt.Errorf("line parallel to axis %d", axis)
	}
	if len(coords) == 0 {
		return &mat.Dense{}, nil
	}

	out := mat.NewDense(len(coords), d, nil)
	row := make([]float64, d)
	for i, c := range coords {
		t := (c - l.Origin[axis]) / l.Direction[axis]
		copy(row, l.Origin)
		floats.AddScaled(row, t, l.Direction)
		out.SetRow(i, row)
	}
	return out, nil
}

// PredictX returns the x coordinate of the line at each y value.
func (l *Line) PredictX(y []float64) ([]float64, error) {
	pts, err := l.Predict(y, 1)
	if err != nil {
		return nil, err
	}
	if len(y) == 0 {
		return nil, nil
	}
	return mat.Col(nil, 0, pts), nil
}

// PredictY returns the y coordinate of the line at each x value.
func (l *Line) PredictY(x []float64) ([]float64, error) {
	pts, err := l.Predict(x, 0)
	if err != nil {
		return nil, err
	}
	if len(x) == 0 {
		return nil, nil
	}
	return mat.Col(nil, 1, pts), nil
}

// LineEstimator adapts EstimateLine to the Estimator interface.
type LineEstimator struct{}

// Estimate fits a line to a single data array.
func (LineEstimator) Estimate(data ...mat.Matrix) (Model, error) {
	m, err := singleArray("line", data)
	if err != nil {
		return nil, err
	}
	line, err := EstimateLine(m)
	if err != nil {
		return nil, err
	}
	return line, nil
}
