package rimage

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	"go.viam.com/scampca/utils"
)

// MagnitudeMap is a per-pixel gradient magnitude map. Pixels that are not edges hold 0.
type MagnitudeMap struct {
	width  int
	height int
	data   []float64
}

// NewMagnitudeMap returns an empty map of the given size.
func NewMagnitudeMap(width, height int) *MagnitudeMap {
	return &MagnitudeMap{width: width, height: height, data: make([]float64, width*height)}
}

// Width of the map.
func (mm *MagnitudeMap) Width() int {
	return mm.width
}

// Height of the map.
func (mm *MagnitudeMap) Height() int {
	return mm.height
}

// At returns the magnitude at (x, y), or 0 outside the map.
func (mm *MagnitudeMap) At(x, y int) float64 {
	if x < 0 || y < 0 || x >= mm.width || y >= mm.height {
		return 0
	}
	return mm.data[y*mm.width+x]
}

// Set stores the magnitude at (x, y).
func (mm *MagnitudeMap) Set(x, y int, magnitude float64) {
	mm.data[y*mm.width+x] = magnitude
}

// Row returns the magnitudes of one scanline. The slice aliases the map.
func (mm *MagnitudeMap) Row(y int) []float64 {
	return mm.data[y*mm.width : (y+1)*mm.width]
}

// EdgeCount returns the number of non-zero pixels.
func (mm *MagnitudeMap) EdgeCount() int {
	count := 0
	for _, v := range mm.data {
		if v != 0 {
			count++
		}
	}
	return count
}

// ToGray renders edge pixels white on black, for debugging dumps.
func (mm *MagnitudeMap) ToGray() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, mm.width, mm.height))
	for y := 0; y < mm.height; y++ {
		for x := 0; x < mm.width; x++ {
			if mm.At(x, y) != 0 {
				img.SetGray(x, y, color.Gray{255})
			}
		}
	}
	return img
}

// CannyEdgeDetector finds one pixel wide edges. Thresholds are fractions of the strongest gradient
// in the image being processed.
type CannyEdgeDetector struct {
	LowThreshold  float64
	HighThreshold float64
	// BlurRadius is the sigma of the Gaussian blur applied before the gradient. 0 disables it.
	BlurRadius float64
}

// NewCannyEdgeDetectorWithParameters creates a new edge detector with the given thresholds.
func NewCannyEdgeDetectorWithParameters(low, high, blurRadius float64) *CannyEdgeDetector {
	return &CannyEdgeDetector{LowThreshold: low, HighThreshold: high, BlurRadius: blurRadius}
}

// DetectEdges returns the gradient magnitudes of the edge pixels of img.
func (cd *CannyEdgeDetector) DetectEdges(img image.Image) (*MagnitudeMap, error) {
	if img == nil {
		return nil, errors.New("cannot detect edges of a nil image")
	}
	if cd.LowThreshold > cd.HighThreshold {
		return nil, errors.Errorf("low threshold %v is above high threshold %v", cd.LowThreshold, cd.HighThreshold)
	}
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 {
		return NewMagnitudeMap(width, height), nil
	}

	gray := imaging.Grayscale(img)
	if cd.BlurRadius > 0 {
		gray = imaging.Blur(gray, cd.BlurRadius)
	}
	gradient := SobelGradient(GrayIntensity(gray))

	maxMag := gradient.MaxMagnitude()
	out := NewMagnitudeMap(width, height)
	if maxMag == 0 {
		return out, nil
	}

	thin := nonMaxSuppression(gradient)
	hysteresis(thin, out, cd.LowThreshold*maxMag, cd.HighThreshold*maxMag)
	return out, nil
}

// nonMaxSuppression keeps the pixels whose magnitude is a local maximum along the gradient
// direction. Ties go to the pixel further along the quantized direction so that a step edge,
// whose two sides have equal magnitude, stays one pixel wide.
func nonMaxSuppression(vf *VectorField2D) *MagnitudeMap {
	out := NewMagnitudeMap(vf.Width(), vf.Height())
	utils.ParallelForEachPixel(image.Point{vf.Width(), vf.Height()}, func(x, y int) {
		g := vf.GetVec2D(x, y)
		if g.Magnitude() == 0 {
			return
		}
		dx, dy := quantizedDirection(g.Direction())
		ahead := magnitudeAt(vf, x+dx, y+dy)
		behind := magnitudeAt(vf, x-dx, y-dy)
		if g.Magnitude() > ahead && g.Magnitude() >= behind {
			out.Set(x, y, g.Magnitude())
		}
	})
	return out
}

// quantizedDirection maps a gradient angle to one of the four neighbor axes. Opposite directions
// share an axis.
func quantizedDirection(dir float64) (int, int) {
	deg := math.Mod(utils.RadToDeg(dir), 180)
	if deg < 0 {
		deg += 180
	}
	switch {
	case deg < 22.5 || deg >= 157.5:
		return 1, 0
	case deg < 67.5:
		return 1, 1
	case deg < 112.5:
		return 0, 1
	default:
		return -1, 1
	}
}

func magnitudeAt(vf *VectorField2D, x, y int) float64 {
	if x < 0 || y < 0 || x >= vf.Width() || y >= vf.Height() {
		return 0
	}
	return vf.GetVec2D(x, y).Magnitude()
}

// hysteresis copies into out every pixel of thin that is at least high, plus every pixel at least
// low that is 8-connected to one of those.
func hysteresis(thin, out *MagnitudeMap, low, high float64) {
	width, height := thin.Width(), thin.Height()
	stack := make([]image.Point, 0, 64)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if thin.At(x, y) < high || out.At(x, y) != 0 {
				continue
			}
			out.Set(x, y, thin.At(x, y))
			stack = append(stack, image.Pt(x, y))
			for len(stack) > 0 {
				p := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				for ny := p.Y - 1; ny <= p.Y+1; ny++ {
					for nx := p.X - 1; nx <= p.X+1; nx++ {
						mag := thin.At(nx, ny)
						if mag == 0 || mag < low || out.At(nx, ny) != 0 {
							continue
						}
						out.Set(nx, ny, mag)
						stack = append(stack, image.Pt(nx, ny))
					}
				}
			}
		}
	}
}
