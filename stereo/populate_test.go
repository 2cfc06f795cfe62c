package stereo

import (
	"context"
	"image"
	"image/color"
	"sync"
	"testing"

	"go.viam.com/test"

	"go.viam.com/scampca/rimage"
)

type insertedPoint struct {
	X, Y, Z float64
	C       color.NRGBA
}

type recordingInserter struct {
	mu     sync.Mutex
	points []insertedPoint
}

func (ri *recordingInserter) Insert(x, y, z float64, c color.NRGBA) int {
	ri.mu.Lock()
	defer ri.mu.Unlock()
	ri.points = append(ri.points, insertedPoint{x, y, z, c})
	return len(ri.points) - 1
}

func grayImage(bounds image.Rectangle, fill func(x, y int) uint8) *image.Gray {
	img := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			img.SetGray(x, y, color.Gray{Y: fill(x, y)})
		}
	}
	return img
}

func gray(v uint8) color.NRGBA {
	return color.NRGBA{R: v, G: v, B: v, A: 255}
}

func TestPopulate(t *testing.T) {
	// the left image does not start at the origin; colors come from the matching pixel
	full := grayImage(image.Rect(0, 0, 20, 20), func(x, y int) uint8 {
		if x == 7 && y == 5 {
			return 200
		}
		return 10
	})
	leftImg := full.SubImage(image.Rect(4, 2, 14, 12))
	rightImg := grayImage(image.Rect(0, 0, 10, 10), func(x, y int) uint8 { return uint8(10 * x) })

	leftEdges := rimage.NewMagnitudeMap(10, 10)
	leftEdges.Set(3, 3, 0.7)
	rightEdges := rimage.NewMagnitudeMap(10, 10)
	rightEdges.Set(9, 0, 1)
	rightEdges.Set(1, 0, 1)
	rightEdges.Set(5, 8, 0.2)

	for _, workers := range []int{1, 4} {
		var left, right recordingInserter
		err := Populate(context.Background(), leftEdges, rightEdges, leftImg, rightImg, &left, &right, 1, workers)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, left.points, test.ShouldResemble, []insertedPoint{
			{-2, -2, 1, gray(200)},
		})
		test.That(t, right.points, test.ShouldResemble, []insertedPoint{
			{-4, -5, 1, gray(10)},
			{4, -5, 1, gray(90)},
			{0, 3, 1, gray(50)},
		})
	}
}

func TestPopulateEmpty(t *testing.T) {
	img := grayImage(image.Rect(0, 0, 8, 6), func(x, y int) uint8 { return 100 })
	var left, right recordingInserter
	err := Populate(context.Background(), rimage.NewMagnitudeMap(8, 6), rimage.NewMagnitudeMap(8, 6), img, img, &left, &right, 0, 4)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, left.points, test.ShouldBeEmpty)
	test.That(t, right.points, test.ShouldBeEmpty)
}

func TestPopulateSizeMismatch(t *testing.T) {
	img := grayImage(image.Rect(0, 0, 8, 6), func(x, y int) uint8 { return 100 })
	leftEdges := rimage.NewMagnitudeMap(8, 6)
	leftEdges.Set(1, 1, 1)
	var left, right recordingInserter
	err := Populate(context.Background(), leftEdges, rimage.NewMagnitudeMap(6, 8), img, img, &left, &right, 0, 4)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "differ in size")
	test.That(t, left.points, test.ShouldBeEmpty)
}
