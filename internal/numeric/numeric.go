// Package numeric provides shared numeric plumbing for the estimators:
// data centering, flattened-scale computation, rank-revealing least
// squares, and scalar conveniences with array-library semantics.
package numeric

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Eps is the distance from 1.0 to the next representable float64.
const Eps = 0x1p-52

// SmallestNormal is the smallest positive normal float64.
const SmallestNormal = 0x1p-1022

// Center returns a copy of data with the per-column mean subtracted,
// together with the subtracted means. data must have at least one row.
func Center(data mat.Matrix) (*mat.Dense, []float64) {
	r, c := data.Dims()

	means := make([]float64, c)
	col := make([]float64, r)
	for j := 0; j < c; j++ {
		mat.Col(col, j, data)
		means[j] = stat.Mean(col, nil)
	}

	centered := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			centered.Set(i, j, data.At(i, j)-means[j])
		}
	}
	return centered, means
}

// FlatStd returns the population standard deviation of all entries of m
// taken as a single flat sample.
func FlatStd(m mat.Matrix) float64 {
	r, c := m.Dims()
	flat := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			flat = append(flat, m.At(i, j))
		}
	}
	return stat.PopStdDev(flat, nil)
}

// SolveLeastSquares solves a·x = b in the least squares sense via SVD,
// discarding singular values at or below the cutoff eps * max(dims) * σmax.
// It returns the minimum-norm solution together with the effective rank.
func SolveLeastSquares(a *mat.Dense, b []float64) ([]float64, int, error) {
	rows, cols := a.Dims()
	if len(b) != rows {
		return nil, 0, fmt.Errorf("numeric: %d rows but %d right-hand values", rows, len(b))
	}

	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDThin) {
		return nil, 0, errors.New("numeric: svd did not converge")
	}
	vals := svd.Values(nil)
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	maxDim := rows
	if cols > maxDim {
		maxDim = cols
	}
	cutoff := Eps * float64(maxDim) * vals[0]

	rank := 0
	x := make([]float64, cols)
	for k, s := range vals {
		if s <= cutoff {
			continue
		}
		rank++
		var coef float64
		for i := 0; i < rows; i++ {
			coef += u.At(i, k) * b[i]
		}
		coef /= s
		for j := 0; j < cols; j++ {
			x[j] += coef * v.At(j, k)
		}
	}
	return x, rank, nil
}

// Mod returns x mod m with the result in [0, m) for positive m, matching
// the remainder convention of array libraries rather than math.Mod.
func Mod(x, m float64) float64 {
	r := math.Mod(x, m)
	if r < 0 {
		r += m
	}
	return r
}

// Finite clamps non-finite values, mapping NaN to 0 and ±Inf to the
// largest-magnitude representable float64.
func Finite(x float64) float64 {
	switch {
	case math.IsNaN(x):
		return 0
	case math.IsInf(x, 1):
		return math.MaxFloat64
	case math.IsInf(x, -1):
		return -math.MaxFloat64
	}
	return x
}
