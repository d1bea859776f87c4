package fit

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"geom-fit/internal/numeric"
	"geom-fit/pkg/geometry"
)

// Circle is a circle in the plane.
type Circle struct {
	Center geometry.Point2D
	Radius float64
}

// NewCircle builds a circle, rejecting a negative radius.
func NewCircle(center geometry.Point2D, radius float64) (*Circle, error) {
	if radius < 0 {
		return nil, fmt.Errorf("negative radius %v", radius)
	}
	return &Circle{Center: center, Radius: radius}, nil
}

// EstimateCircle fits a circle to N 2D points. The data is shifted to
// its centroid and divided by its flattened standard deviation before
// solving the linear system [2x 2y 1]·[xc yc k] = x²+y² by least
// squares; the radius is the root mean square distance of the
// normalized points to the solved center. A rank-deficient system or
// vanishing spread fails with an *EstimationError.
func EstimateCircle(data mat.Matrix) (*Circle, error) {
	n, d := data.Dims()
	if d != 2 {
		return nil, &DimensionError{Model: "circle", Want: 2, Got: d}
	}
	if n == 0 {
		return nil, &EstimationError{Model: "circle",
			Reason: "input does not contain enough significant data points"}
	}

	centered, origin := numeric.Center(data)
	scale := numeric.FlatStd(centered)
	if scale < numeric.SmallestNormal {
		return nil, &EstimationError{Model: "circle",
			Reason: "standard deviation of data is too small to estimate circle with meaningful precision"}
	}
	centered.Scale(1/scale, centered)

	a := mat.NewDense(n, 3, nil)
	b := make([]float64, n)
	for i := 0; i < n; i++ {
		x := centered.At(i, 0)
		y := centered.At(i, 1)
		a.Set(i, 0, 2*x)
		a.Set(i, 1, 2*y)
		a.Set(i, 2, 1)
		b[i] = x*x + y*y
	}

	sol, rank, err := numeric.SolveLeastSquares(a, b)
	if err != nil {
		return nil, &EstimationError{Model: "circle", Reason: "least squares solve did not converge"}
	}
	if rank != 3 {
		return nil, &EstimationError{Model: "circle",
			Reason: "input does not contain enough significant data points"}
	}

	xc, yc := sol[0], sol[1]
	var sum float64
	for i := 0; i < n; i++ {
		dx := centered.At(i, 0) - xc
		dy := centered.At(i, 1) - yc
		sum += dx*dx + dy*dy
	}
	r := math.Sqrt(sum / float64(n))

	return &Circle{
		Center: geometry.NewPoint2D(xc*scale+origin[0], yc*scale+origin[1]),
		Radius: r * scale,
	}, nil
}

// Residuals returns radius minus center distance for each point:
// positive inside the circle, negative outside.
func (c *Circle) Residuals(data ...mat.Matrix) ([]float64, error) {
	m, err := singleArray("circle", data)
	if err != nil {
		return nil, err
	}
	n, d := m.Dims()
	if d != 2 {
		return nil, &DimensionError{Model: "circle", Want: 2, Got: d}
	}

	res := make([]float64, n)
	for i := 0; i < n; i++ {
		p := geometry.NewPoint2D(m.At(i, 0), m.At(i, 1))
		res[i] = c.Radius - c.Center.Distance(p)
	}
	return res, nil
}

// PredictXY returns the circle point at each parametric angle.
func (c *Circle) PredictXY(t []float64) []geometry.Point2D {
	points := make([]geometry.Point2D, len(t))
	for i, angle := range t {
		points[i] = geometry.Point2D{
			X: c.Center.X + c.Radius*math.Cos(angle),
			Y: c.Center.Y + c.Radius*math.Sin(angle),
		}
	}
	return points
}

// CircleEstimator adapts EstimateCircle to the Estimator interface.
type CircleEstimator struct{}

// Estimate fits a circle to a single data array.
func (CircleEstimator) Estimate(data ...mat.Matrix) (Model, error) {
	m, err := singleArray("circle", data)
	if err != nil {
		return nil, err
	}
	circle, err := EstimateCircle(m)
	if err != nil {
		return nil, err
	}
	return circle, nil
}
