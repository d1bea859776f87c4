package ransac_test

import (
	"fmt"
	"log"

	"geom-fit/pkg/fit"
	"geom-fit/pkg/geometry"
	"geom-fit/pkg/ransac"
)

// Recover a circle from data where three of the points are gross
// outliers.
func ExampleFit() {
	points := geometry.GenerateCirclePoints(4, 9, 5, 24)
	points = append(points,
		geometry.NewPoint2D(30, 30),
		geometry.NewPoint2D(-20, 14),
		geometry.NewPoint2D(42, -11),
	)
	data := geometry.PointsToMatrix(points)

	result, err := ransac.Fit(data, fit.CircleEstimator{}, 3, 0.5, ransac.WithSeed(99))
	if err != nil {
		log.Fatal(err)
	}

	circle := result.Model.(*fit.Circle)
	fmt.Printf("center=(%.1f, %.1f) radius=%.1f inliers=%d/%d\n",
		circle.Center.X, circle.Center.Y, circle.Radius,
		result.InlierCount, len(result.Inliers))
	// Output:
	// center=(4.0, 9.0) radius=5.0 inliers=24/27
}
