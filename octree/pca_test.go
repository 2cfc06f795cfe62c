package octree

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func TestFitPlaneDiagonal(t *testing.T) {
	points := []r3.Vector{}
	for i := 0; i < 10; i++ {
		points = append(points, r3.Vector{X: float64(i), Y: float64(-i), Z: 2})
	}
	fit, ok := fitPlane(points)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, fit.centroid.X, test.ShouldAlmostEqual, 4.5)
	test.That(t, fit.centroid.Y, test.ShouldAlmostEqual, -4.5)

	// axes are canonical: first non-zero component positive.
	test.That(t, fit.normals[2].X, test.ShouldAlmostEqual, math.Sqrt2/2, 1e-9)
	test.That(t, fit.normals[2].Y, test.ShouldAlmostEqual, -math.Sqrt2/2, 1e-9)
	test.That(t, fit.normals[1].X, test.ShouldAlmostEqual, math.Sqrt2/2, 1e-9)
	test.That(t, fit.normals[1].Y, test.ShouldAlmostEqual, math.Sqrt2/2, 1e-9)
	test.That(t, fit.normals[0].Z, test.ShouldAlmostEqual, 1, 1e-9)

	test.That(t, fit.isCoplanar(0.5, 0), test.ShouldBeTrue)
	test.That(t, fit.isCoplanar(0.5, 0.1), test.ShouldBeFalse)
}

func TestFitPlaneDegenerate(t *testing.T) {
	_, ok := fitPlane([]r3.Vector{{X: 1}})
	test.That(t, ok, test.ShouldBeFalse)

	fit, ok := fitPlane([]r3.Vector{{X: 1}, {X: 1}, {X: 1}})
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, fit.isCoplanar(1, 0), test.ShouldBeFalse)
}

func TestCanonical(t *testing.T) {
	test.That(t, canonical(r3.Vector{X: -1}), test.ShouldResemble, r3.Vector{X: 1})
	test.That(t, canonical(r3.Vector{X: 1e-13, Y: -1}), test.ShouldResemble, r3.Vector{X: -1e-13, Y: 1})
	test.That(t, canonical(r3.Vector{}), test.ShouldResemble, r3.Vector{})
}
