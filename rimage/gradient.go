package rimage

import (
	"image"
	"image/color"
	"math"

	"gonum.org/v1/gonum/mat"

	"go.viam.com/scampca/utils"
)

// Vec2D represents the gradient of an image at a point.
// The gradient has both a magnitude and direction.
// Magnitude has values [0, infinity) and direction is [0, 2pi).
type Vec2D struct {
	magnitude float64
	direction float64
}

// Magnitude is the length of the gradient.
func (g Vec2D) Magnitude() float64 {
	return g.magnitude
}

// Direction is the angle of the gradient in radians.
func (g Vec2D) Direction() float64 {
	return g.direction
}

// VectorField2D stores all the gradient vectors of the image
// allowing one to retrieve the gradient for any given (x,y) point.
type VectorField2D struct {
	width  int
	height int

	data []Vec2D
}

// MakeEmptyVectorField2D returns a zero gradient field of the given size.
func MakeEmptyVectorField2D(width, height int) VectorField2D {
	return VectorField2D{
		width:  width,
		height: height,
		data:   make([]Vec2D, width*height),
	}
}

func (vf *VectorField2D) kxy(x, y int) int {
	return (y * vf.width) + x
}

// Width of the field.
func (vf *VectorField2D) Width() int {
	return vf.width
}

// Height of the field.
func (vf *VectorField2D) Height() int {
	return vf.height
}

// GetVec2D returns the gradient at (x, y).
func (vf *VectorField2D) GetVec2D(x, y int) Vec2D {
	return vf.data[vf.kxy(x, y)]
}

// Set stores the gradient at (x, y). Distinct points may be set concurrently.
func (vf *VectorField2D) Set(x, y int, val Vec2D) {
	vf.data[vf.kxy(x, y)] = val
}

// MaxMagnitude returns the largest gradient magnitude in the field.
func (vf *VectorField2D) MaxMagnitude() float64 {
	maxMag := 0.0
	for _, v := range vf.data {
		maxMag = math.Max(maxMag, v.magnitude)
	}
	return maxMag
}

// MagnitudeField returns all the magnitudes of the gradient in the image as a mat.Dense.
func (vf *VectorField2D) MagnitudeField() *mat.Dense {
	mag := make([]float64, 0, vf.height*vf.width)
	for _, v := range vf.data {
		mag = append(mag, v.magnitude)
	}
	return mat.NewDense(vf.height, vf.width, mag)
}

var (
	sobelXMat = mat.NewDense(3, 3, []float64{-1, 0, 1, -2, 0, 2, -1, 0, 1})
	sobelYMat = mat.NewDense(3, 3, []float64{-1, -2, -1, 0, 0, 0, 1, 2, 1})
)

// SobelGradient computes the Sobel gradient of a single channel image stored row major in a
// mat.Dense. Pixels outside the image replicate the nearest border pixel, so the field has the
// same size as the input.
func SobelGradient(intensity *mat.Dense) *VectorField2D {
	height, width := intensity.Dims()
	vf := MakeEmptyVectorField2D(width, height)
	utils.ParallelForEachPixel(image.Point{width, height}, func(x, y int) {
		var sumX, sumY float64
		for j := 0; j < 3; j++ {
			row := clampIndex(y+j-1, height)
			for i := 0; i < 3; i++ {
				v := intensity.At(row, clampIndex(x+i-1, width))
				sumX += sobelXMat.At(j, i) * v
				sumY += sobelYMat.At(j, i) * v
			}
		}
		mag, dir := getMagnitudeAndDirection(sumX, sumY)
		vf.Set(x, y, Vec2D{mag, dir})
	})
	return &vf
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

func getMagnitudeAndDirection(x, y float64) (float64, float64) {
	mag := math.Sqrt(x*x + y*y)
	// get direction - make angle so that it is between [0, 2pi] rather than [-pi, pi]
	dir := math.Atan2(y, x)
	if dir < 0. {
		dir += 2. * math.Pi
	}
	return mag, dir
}

// GrayIntensity converts any image to a row major mat.Dense of luminance values in [0, 255].
func GrayIntensity(img image.Image) *mat.Dense {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	data := make([]float64, width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			gray, ok := color.GrayModel.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.Gray)
			if !ok {
				continue
			}
			data[y*width+x] = float64(gray.Y)
		}
	}
	return mat.NewDense(height, width, data)
}
