package stereo

import (
	"context"
	"image"
	"image/color"

	"github.com/golang/geo/r3"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"

	"go.viam.com/scampca/rimage"
	"go.viam.com/scampca/utils"
)

// PointInserter is the part of a spatial index the populate stage writes to.
type PointInserter interface {
	Insert(x, y, z float64, c color.NRGBA) int
}

type edgePoint struct {
	p r3.Vector
	c color.NRGBA
}

// Populate inserts one point per non-zero edge pixel of each side into its index. A point sits at
// (column - width/2, row - height/2, constantZ) with the color of the source pixel.
//
// Rows are scanned by parallel tasks and inserted in row order afterwards, so point indices do not
// depend on scheduling. The returned error combines the failures of individual rows; the points of
// the other rows are still inserted.
func Populate(
	ctx context.Context,
	leftEdges, rightEdges *rimage.MagnitudeMap,
	leftImg, rightImg image.Image,
	left, right PointInserter,
	constantZ float64,
	maxWorkers int,
) error {
	width, height := leftEdges.Width(), leftEdges.Height()
	if rightEdges.Width() != width || rightEdges.Height() != height {
		return errors.Errorf("edge maps differ in size: %dx%d vs %dx%d", width, height, rightEdges.Width(), rightEdges.Height())
	}

	leftRows := make([][]edgePoint, height)
	rightRows := make([][]edgePoint, height)
	err := utils.RunTasks(ctx, height, maxWorkers, func(ctx context.Context, row int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		leftRows[row] = scanRow(row, leftEdges, leftImg, constantZ)
		rightRows[row] = scanRow(row, rightEdges, rightImg, constantZ)
		return nil
	})

	for row := 0; row < height; row++ {
		for _, ep := range leftRows[row] {
			left.Insert(ep.p.X, ep.p.Y, ep.p.Z, ep.c)
		}
		for _, ep := range rightRows[row] {
			right.Insert(ep.p.X, ep.p.Y, ep.p.Z, ep.c)
		}
	}
	return err
}

func scanRow(row int, edges *rimage.MagnitudeMap, img image.Image, constantZ float64) []edgePoint {
	width, height := edges.Width(), edges.Height()
	origin := img.Bounds().Min
	y := float64(row) - float64(height)/2
	var points []edgePoint
	for col, magnitude := range edges.Row(row) {
		if magnitude == 0 {
			continue
		}
		points = append(points, edgePoint{
			p: r3.Vector{X: float64(col) - float64(width)/2, Y: y, Z: constantZ},
			c: pixelColor(img.At(origin.X+col, origin.Y+row)),
		})
	}
	return points
}

func pixelColor(c color.Color) color.NRGBA {
	cf, ok := colorful.MakeColor(c)
	if !ok {
		return color.NRGBA{A: 255}
	}
	r, g, b := cf.RGB255()
	return color.NRGBA{R: r, G: g, B: b, A: 255}
}
