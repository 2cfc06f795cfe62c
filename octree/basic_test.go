package octree

import (
	"context"
	"image/color"
	"sync"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/scampca/logging"
)

func newTestOctree(t *testing.T) *Octree {
	t.Helper()
	octree, err := New(3, 2, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	return octree
}

func insertGrid(octree *Octree, size int) {
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			octree.Insert(float64(x), float64(y), 1, color.NRGBA{uint8(x), uint8(y), 0, 255})
		}
	}
}

func vectorsAlmostEqual(t *testing.T, actual, expected r3.Vector) {
	t.Helper()
	test.That(t, actual.X, test.ShouldAlmostEqual, expected.X, 1e-6)
	test.That(t, actual.Y, test.ShouldAlmostEqual, expected.Y, 1e-6)
	test.That(t, actual.Z, test.ShouldAlmostEqual, expected.Z, 1e-6)
}

func TestNew(t *testing.T) {
	logger := logging.NewTestLogger(t)
	_, err := New(2, 0, logger)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = New(3, -1, logger)
	test.That(t, err, test.ShouldNotBeNil)
	octree, err := New(3, 0, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, octree.Size(), test.ShouldEqual, 0)
	test.That(t, octree.Nodes(), test.ShouldBeEmpty)
}

func TestConcurrentInsert(t *testing.T) {
	octree := newTestOctree(t)
	var wg sync.WaitGroup
	for row := 0; row < 20; row++ {
		row := row
		wg.Add(1)
		go func() {
			defer wg.Done()
			for x := 0; x < 50; x++ {
				octree.Insert(float64(x), float64(row), 0, color.NRGBA{})
			}
		}()
	}
	wg.Wait()
	test.That(t, octree.Size(), test.ShouldEqual, 1000)
}

func TestSubdivideLine(t *testing.T) {
	octree := newTestOctree(t)
	for x := 0; x < 32; x++ {
		octree.Insert(float64(x), 0, 1, color.NRGBA{255, 0, 0, 255})
	}

	test.That(t, octree.Subdivide(context.Background(), 0, 1, 0), test.ShouldBeNil)
	nodes := octree.Nodes()
	test.That(t, len(nodes), test.ShouldEqual, 1)

	node := nodes[0]
	test.That(t, node.PointCount(), test.ShouldEqual, 32)
	test.That(t, node.Level, test.ShouldEqual, 0)
	test.That(t, node.Size, test.ShouldAlmostEqual, 31, 1e-6)
	vectorsAlmostEqual(t, node.Centroid, r3.Vector{X: 15.5, Y: 0, Z: 1})

	// a horizontal line in a constant depth plane: the plane normal is the view axis and the
	// second axis is vertical.
	vectorsAlmostEqual(t, node.Normal1, r3.Vector{Z: 1})
	vectorsAlmostEqual(t, node.Normal2, r3.Vector{Y: 1})
	vectorsAlmostEqual(t, node.Normal3, r3.Vector{X: 1})
	test.That(t, node.Variance1, test.ShouldAlmostEqual, 0, 1e-9)
	test.That(t, node.Variance2, test.ShouldAlmostEqual, 0, 1e-9)
	test.That(t, node.Variance3, test.ShouldAlmostEqual, 88, 1e-6)
	test.That(t, node.HasAxes(), test.ShouldBeTrue)
}

func TestSubdivideLevels(t *testing.T) {
	octree := newTestOctree(t)
	insertGrid(octree, 64)
	ctx := context.Background()

	test.That(t, octree.Subdivide(ctx, 2, 1, 0.5), test.ShouldBeNil)
	nodes := octree.Nodes()
	test.That(t, len(nodes), test.ShouldEqual, 16)
	total := 0
	for _, node := range nodes {
		test.That(t, node.Level, test.ShouldEqual, 2)
		test.That(t, node.PointCount(), test.ShouldEqual, 256)
		test.That(t, node.Size, test.ShouldAlmostEqual, 63./4, 1e-6)
		test.That(t, node.Variance2/node.Variance3, test.ShouldBeGreaterThanOrEqualTo, 0.5)
		total += node.PointCount()
	}
	test.That(t, total, test.ShouldEqual, 64*64)

	// same points, same order.
	test.That(t, octree.Subdivide(ctx, 2, 1, 0.5), test.ShouldBeNil)
	again := octree.Nodes()
	for i := range nodes {
		test.That(t, again[i].Centroid, test.ShouldResemble, nodes[i].Centroid)
		test.That(t, again[i].Indices, test.ShouldResemble, nodes[i].Indices)
	}

	octree.Clear()
	test.That(t, octree.Nodes(), test.ShouldBeEmpty)
	test.That(t, octree.Size(), test.ShouldEqual, 64*64)
	test.That(t, octree.Subdivide(ctx, 1, 1, 0.5), test.ShouldBeNil)
	test.That(t, len(octree.Nodes()), test.ShouldEqual, 4)

	octree.Reset()
	test.That(t, octree.Size(), test.ShouldEqual, 0)
	test.That(t, octree.Subdivide(ctx, 1, 1, 0.5), test.ShouldBeNil)
	test.That(t, octree.Nodes(), test.ShouldBeEmpty)
}

func TestSubdivideRejects(t *testing.T) {
	ctx := context.Background()

	t.Run("not isotropic", func(t *testing.T) {
		octree := newTestOctree(t)
		for x := 0; x < 32; x++ {
			octree.Insert(float64(x), 5, 1, color.NRGBA{})
		}
		test.That(t, octree.Subdivide(ctx, 0, 1, 0.5), test.ShouldBeNil)
		test.That(t, octree.Nodes(), test.ShouldBeEmpty)
	})

	t.Run("too far from the plane", func(t *testing.T) {
		// no extra levels, so the corner clusters are never fit on their own.
		octree, err := New(3, 0, logging.NewTestLogger(t))
		test.That(t, err, test.ShouldBeNil)
		for i := 0; i < 4; i++ {
			for _, p := range []r3.Vector{{X: 0, Y: 0, Z: 0}, {X: 10, Y: 0, Z: 10}, {X: 0, Y: 10, Z: 10}, {X: 10, Y: 10, Z: 0}} {
				octree.Insert(p.X+float64(i)*0.01, p.Y, p.Z, color.NRGBA{})
			}
		}
		test.That(t, octree.Subdivide(ctx, 0, 0.1, 0), test.ShouldBeNil)
		test.That(t, octree.Nodes(), test.ShouldBeEmpty)
	})

	t.Run("too few points", func(t *testing.T) {
		octree := newTestOctree(t)
		octree.Insert(0, 0, 0, color.NRGBA{})
		octree.Insert(1, 0, 0, color.NRGBA{})
		test.That(t, octree.Subdivide(ctx, 0, 1, 0), test.ShouldBeNil)
		test.That(t, octree.Nodes(), test.ShouldBeEmpty)
	})

	t.Run("bad arguments", func(t *testing.T) {
		octree := newTestOctree(t)
		test.That(t, octree.Subdivide(ctx, -1, 1, 0), test.ShouldNotBeNil)
		cancelCtx, cancel := context.WithCancel(ctx)
		cancel()
		test.That(t, octree.Subdivide(cancelCtx, 0, 1, 0), test.ShouldNotBeNil)
	})
}

func TestPointDepths(t *testing.T) {
	octree := newTestOctree(t)
	idx := octree.Insert(3, 4, 1, color.NRGBA{1, 2, 3, 255})
	octree.Insert(5, 4, 1, color.NRGBA{})
	octree.SetPointDepth(idx, 12.5)

	p, d := octree.Point(idx)
	test.That(t, p, test.ShouldResemble, r3.Vector{X: 3, Y: 4, Z: 1})
	test.That(t, d.HasValue(), test.ShouldBeTrue)
	test.That(t, d.Value(), test.ShouldEqual, 12.5)

	cloud := octree.PointCloud()
	test.That(t, cloud.Size(), test.ShouldEqual, 2)
	cd, ok := cloud.At(3, 4, 1)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, cd.Value(), test.ShouldEqual, 12.5)
	r, g, b := cd.RGB255()
	test.That(t, []uint8{r, g, b}, test.ShouldResemble, []uint8{1, 2, 3})
}

func TestNodeHasAxes(t *testing.T) {
	node := &Node{Normal2: r3.Vector{Y: 1}, Normal3: r3.Vector{X: 1}}
	test.That(t, node.HasAxes(), test.ShouldBeTrue)
	node.Normal2 = r3.Vector{}
	test.That(t, node.HasAxes(), test.ShouldBeFalse)
	test.That(t, LeafNodeFilled.String(), test.ShouldEqual, "filled")
}
