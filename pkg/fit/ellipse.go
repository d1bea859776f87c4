package fit

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"geom-fit/internal/numeric"
	"geom-fit/pkg/geometry"
)

// Ellipse is a rotated ellipse in the plane. A and B are the semi-axis
// lengths, with A lying along the direction at angle Theta from the
// positive x axis. Estimated ellipses have A >= B and Theta in [0, pi).
type Ellipse struct {
	Center geometry.Point2D
	A, B   float64
	Theta  float64
}

// NewEllipse builds an ellipse, rejecting negative semi-axis lengths.
func NewEllipse(center geometry.Point2D, a, b, theta float64) (*Ellipse, error) {
	if a < 0 || b < 0 {
		return nil, fmt.Errorf("negative semi-axis (a=%v, b=%v)", a, b)
	}
	return &Ellipse{Center: center, A: a, B: b, Theta: theta}, nil
}

// invC1 is the inverse of the Halir-Flusser constraint matrix
// [[0 0 2] [0 -1 0] [2 0 0]] enforcing 4ac - b^2 = 1.
var invC1 = mat.NewDense(3, 3, []float64{
	0, 0, 0.5,
	0, -1, 0,
	0.5, 0, 0,
})

// EstimateEllipse fits an ellipse to N >= 5 2D points with the direct
// least squares method of Halir and Flusser. The data is normalized the
// same way as for circles, the conic coefficients come from the
// eigenvector of the reduced scatter matrix satisfying the ellipse
// constraint, and the conic is converted to center, semi-axes and
// rotation. Degenerate input fails with an *EstimationError.
func EstimateEllipse(data mat.Matrix) (*Ellipse, error) {
	n, cols := data.Dims()
	if cols != 2 {
		return nil, &DimensionError{Model: "ellipse", Want: 2, Got: cols}
	}
	if n < 5 {
		return nil, &EstimationError{Model: "ellipse",
			Reason: "need at least 5 data points to estimate an ellipse"}
	}

	centered, origin := numeric.Center(data)
	scale := numeric.FlatStd(centered)
	if scale < numeric.SmallestNormal {
		return nil, &EstimationError{Model: "ellipse",
			Reason: "standard deviation of data is too small to estimate ellipse with meaningful precision"}
	}
	centered.Scale(1/scale, centered)

	// Quadratic and linear parts of the design matrix.
	d1 := mat.NewDense(n, 3, nil)
	d2 := mat.NewDense(n, 3, nil)
	for i := 0; i < n; i++ {
		x := centered.At(i, 0)
		y := centered.At(i, 1)
		d1.Set(i, 0, x*x)
		d1.Set(i, 1, x*y)
		d1.Set(i, 2, y*y)
		d2.Set(i, 0, x)
		d2.Set(i, 1, y)
		d2.Set(i, 2, 1)
	}

	// Scatter matrices S1 = D1'D1, S2 = D1'D2, S3 = D2'D2.
	var s1, s2, s3 mat.Dense
	s1.Mul(d1.T(), d1)
	s2.Mul(d1.T(), d2)
	s3.Mul(d2.T(), d2)

	// tm = S3^-1 S2', shared by the reduced scatter matrix and the
	// recovery of the linear coefficients below.
	var tm mat.Dense
	if err := tm.Solve(&s3, s2.T()); solveFailed(err) {
		return nil, &EstimationError{Model: "ellipse", Reason: "singular matrix from estimation"}
	}

	var reduced mat.Dense
	reduced.Mul(&s2, &tm)
	reduced.Sub(&s1, &reduced)
	var m mat.Dense
	m.Mul(invC1, &reduced)

	var eig mat.Eigen
	if !eig.Factorize(&m, mat.EigenRight) {
		return nil, &EstimationError{Model: "ellipse", Reason: "eigendecomposition did not converge"}
	}
	var vecs mat.CDense
	eig.VectorsTo(&vecs)

	// Exactly one eigenvector satisfies 4ac - b^2 > 0 for an ellipse;
	// real parts only, complex pairs never qualify alone.
	selected := -1
	for j := 0; j < 3; j++ {
		v0 := real(vecs.At(0, j))
		v1 := real(vecs.At(1, j))
		v2 := real(vecs.At(2, j))
		if 4*v0*v2-v1*v1 > 0 {
			if selected >= 0 {
				return nil, &EstimationError{Model: "ellipse", Reason: "eigenvector constraints not met"}
			}
			selected = j
		}
	}
	if selected < 0 {
		return nil, &EstimationError{Model: "ellipse", Reason: "eigenvector constraints not met"}
	}

	a := real(vecs.At(0, selected))
	b := real(vecs.At(1, selected))
	c := real(vecs.At(2, selected))

	a1 := mat.NewVecDense(3, []float64{a, b, c})
	var a2 mat.VecDense
	a2.MulVec(&tm, a1)
	d := -a2.AtVec(0)
	f := -a2.AtVec(1)
	g := -a2.AtVec(2)

	// The conic is a*x^2 + 2b*xy + c*y^2 + 2d*x + 2f*y + g = 0.
	b /= 2
	d /= 2
	f /= 2

	denom := b*b - a*c
	x0 := (c*d - b*f) / denom
	y0 := (a*f - b*d) / denom

	num := a*f*f + c*d*d + g*b*b - 2*b*d*f - a*c*g
	term := math.Sqrt((a-c)*(a-c) + 4*b*b)
	width := math.Sqrt(2 * num / (denom * (term - (a + c))))
	height := math.Sqrt(2 * num / (denom * (-term - (a + c))))

	phi := 0.5 * math.Atan(2*b/(a-c))
	if a > c {
		phi += 0.5 * math.Pi
	}
	// Noise can swap the recovered axes; keep the major axis first.
	if width < height {
		width, height = height, width
		phi += math.Pi / 2
	}
	phi = numeric.Mod(phi, math.Pi)

	return &Ellipse{
		Center: geometry.NewPoint2D(
			numeric.Finite(x0)*scale+origin[0],
			numeric.Finite(y0)*scale+origin[1],
		),
		A:     numeric.Finite(width) * scale,
		B:     numeric.Finite(height) * scale,
		Theta: numeric.Finite(phi),
	}, nil
}

// Residuals returns the shortest distance of each point to the
// ellipse, found by minimizing the squared distance over the
// parametric angle starting from the polar angle of the point.
func (e *Ellipse) Residuals(data ...mat.Matrix) ([]float64, error) {
	m, err := singleArray("ellipse", data)
	if err != nil {
		return nil, err
	}
	n, cols := m.Dims()
	if cols != 2 {
		return nil, &DimensionError{Model: "ellipse", Want: 2, Got: cols}
	}

	ctheta := math.Cos(e.Theta)
	stheta := math.Sin(e.Theta)

	res := make([]float64, n)
	for i := 0; i < n; i++ {
		x := m.At(i, 0)
		y := m.At(i, 1)
		sq := func(t float64) float64 {
			ct := math.Cos(t)
			st := math.Sin(t)
			xt := e.Center.X + e.A*ctheta*ct - e.B*stheta*st
			yt := e.Center.Y + e.A*stheta*ct + e.B*ctheta*st
			return (x-xt)*(x-xt) + (y-yt)*(y-yt)
		}

		t0 := math.Atan2(y-e.Center.Y, x-e.Center.X) - e.Theta
		best := sq(t0)
		problem := optimize.Problem{
			Func: func(p []float64) float64 { return sq(p[0]) },
		}
		if result, err := optimize.Minimize(problem, []float64{t0}, nil, &optimize.NelderMead{}); err == nil && result.F < best {
			best = result.F
		}
		res[i] = math.Sqrt(best)
	}
	return res, nil
}

// PredictXY returns the ellipse point at each parametric angle. Angles
// count from the positive x axis towards the positive y axis.
func (e *Ellipse) PredictXY(t []float64) []geometry.Point2D {
	ctheta := math.Cos(e.Theta)
	stheta := math.Sin(e.Theta)
	points := make([]geometry.Point2D, len(t))
	for i, angle := range t {
		ct := math.Cos(angle)
		st := math.Sin(angle)
		points[i] = geometry.Point2D{
			X: e.Center.X + e.A*ctheta*ct - e.B*stheta*st,
			Y: e.Center.Y + e.A*stheta*ct + e.B*ctheta*st,
		}
	}
	return points
}

// EllipseEstimator adapts EstimateEllipse to the Estimator interface.
type EllipseEstimator struct{}

// Estimate fits an ellipse to a single data array.
func (EllipseEstimator) Estimate(data ...mat.Matrix) (Model, error) {
	m, err := singleArray("ellipse", data)
	if err != nil {
		return nil, err
	}
	ellipse, err := EstimateEllipse(m)
	if err != nil {
		return nil, err
	}
	return ellipse, nil
}

// solveFailed reports whether a linear solve produced no usable
// solution. A finite Condition error still carries a computed result;
// only a singular system counts as failure.
func solveFailed(err error) bool {
	if err == nil {
		return false
	}
	var cond mat.Condition
	if errors.As(err, &cond) {
		return math.IsInf(float64(cond), 0)
	}
	return true
}
