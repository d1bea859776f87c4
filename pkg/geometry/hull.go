package geometry

import (
	"math"
	"sort"
)

// ConvexHull computes the convex hull of a set of points using the
// Graham scan algorithm. The hull is returned in counter-clockwise
// order. Returns the input unchanged for fewer than 3 points.
func ConvexHull(points []Point2D) []Point2D {
	n := len(points)
	if n < 3 {
		result := make([]Point2D, n)
		copy(result, points)
		return result
	}

	// Find the point with the lowest y (leftmost on ties).
	lowest := 0
	for i := 1; i < n; i++ {
		if points[i].Y < points[lowest].Y ||
			(points[i].Y == points[lowest].Y && points[i].X < points[lowest].X) {
			lowest = i
		}
	}

	sorted := make([]Point2D, n)
	copy(sorted, points)
	sorted[0], sorted[lowest] = sorted[lowest], sorted[0]
	pivot := sorted[0]

	// Sort the remaining points by polar angle around the pivot,
	// closer points first on collinear ties.
	sort.Slice(sorted[1:], func(i, j int) bool {
		a, b := sorted[i+1], sorted[j+1]
		cross := crossProduct(pivot, a, b)
		if cross == 0 {
			return distSq(pivot, a) < distSq(pivot, b)
		}
		return cross > 0
	})

	hull := []Point2D{sorted[0], sorted[1]}
	for i := 2; i < n; i++ {
		for len(hull) > 1 && crossProduct(hull[len(hull)-2], hull[len(hull)-1], sorted[i]) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, sorted[i])
	}

	return hull
}

// PolygonArea computes the area of a simple polygon via the shoelace
// formula. The vertex order does not matter.
func PolygonArea(polygon []Point2D) float64 {
	n := len(polygon)
	if n < 3 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		sum += polygon[i].X*polygon[j].Y - polygon[j].X*polygon[i].Y
	}
	return math.Abs(sum) / 2
}

// crossProduct returns the z-component of (b-a) x (c-a). Positive when
// the turn a->b->c is counter-clockwise.
func crossProduct(a, b, c Point2D) float64 {
	return (b.X-a.X)*(c.Y-a.Y) - (b.Y-a.Y)*(c.X-a.X)
}

func distSq(a, b Point2D) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	return dx*dx + dy*dy
}
