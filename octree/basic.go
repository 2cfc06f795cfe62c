package octree

import (
	"context"
	"image/color"
	"math"
	"sync"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/scampca/logging"
	pc "go.viam.com/scampca/pointcloud"
)

// Octree stores points and, after Subdivide, the coplanar nodes covering them. Insert and
// SetPointDepth may be called concurrently; Subdivide, Clear and Reset must not overlap with
// them.
type Octree struct {
	logger         logging.Logger
	minNodePoints  int
	maxExtraLevels int

	mu     sync.RWMutex
	points []pc.PointAndData
	nodes  []*Node
}

// New creates an empty octree. Cells with fewer than minNodePoints points are never fit, and a
// cell that is not coplanar at the requested level may be split up to maxExtraLevels more times.
func New(minNodePoints, maxExtraLevels int, logger logging.Logger) (*Octree, error) {
	if minNodePoints < 3 {
		return nil, errors.Errorf("invalid minimum node points (%d) for octree, need at least 3", minNodePoints)
	}
	if maxExtraLevels < 0 {
		return nil, errors.Errorf("invalid extra levels (%d) for octree", maxExtraLevels)
	}
	return &Octree{
		logger:         logger,
		minNodePoints:  minNodePoints,
		maxExtraLevels: maxExtraLevels,
	}, nil
}

// Insert adds a colored point and returns its index.
func (octree *Octree) Insert(x, y, z float64, c color.NRGBA) int {
	octree.mu.Lock()
	defer octree.mu.Unlock()
	octree.points = append(octree.points, pc.PointAndData{P: r3.Vector{X: x, Y: y, Z: z}, D: pc.NewColoredData(c)})
	return len(octree.points) - 1
}

// Size returns the number of points stored in the octree.
func (octree *Octree) Size() int {
	octree.mu.RLock()
	defer octree.mu.RUnlock()
	return len(octree.points)
}

// Point returns the point at index i.
func (octree *Octree) Point(i int) (r3.Vector, pc.Data) {
	octree.mu.RLock()
	defer octree.mu.RUnlock()
	pd := octree.points[i]
	return pd.P, pd.D
}

// SetPointDepth stores a depth on the point at index i.
func (octree *Octree) SetPointDepth(i int, depth float64) {
	octree.mu.RLock()
	defer octree.mu.RUnlock()
	octree.points[i].D.SetValue(depth)
}

// Nodes returns the coplanar nodes of the last subdivision in octant order.
func (octree *Octree) Nodes() []*Node {
	octree.mu.RLock()
	defer octree.mu.RUnlock()
	nodes := make([]*Node, len(octree.nodes))
	copy(nodes, octree.nodes)
	return nodes
}

// Clear drops the node structure but keeps the points, so the octree can be subdivided again at
// another level.
func (octree *Octree) Clear() {
	octree.mu.Lock()
	defer octree.mu.Unlock()
	octree.nodes = nil
}

// Reset drops both the points and the nodes.
func (octree *Octree) Reset() {
	octree.mu.Lock()
	defer octree.mu.Unlock()
	octree.points = nil
	octree.nodes = nil
}

// PointCloud returns a copy of the stored points, carrying any depth set on them.
func (octree *Octree) PointCloud() pc.PointCloud {
	octree.mu.RLock()
	defer octree.mu.RUnlock()
	cloud := pc.NewWithPrealloc(len(octree.points))
	for _, pd := range octree.points {
		//nolint:errcheck
		cloud.Set(pd.P, pd.D)
	}
	return cloud
}

// cell is the cube being subdivided.
type cell struct {
	center  r3.Vector
	side    float64
	level   int
	indices []int
}

// Subdivide rebuilds the node structure. The root cube spans the bounding box of the points.
// Cells are split down to level; a cell at or below level with at least minNodePoints points is
// fit and kept when its points are coplanar per maxDistanceToPlane and minIsotropy. Cells that
// fail the test are split further, up to maxExtraLevels times.
func (octree *Octree) Subdivide(ctx context.Context, level int, maxDistanceToPlane, minIsotropy float64) error {
	if level < 0 {
		return errors.Errorf("invalid subdivision level %d", level)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	octree.mu.Lock()
	defer octree.mu.Unlock()
	octree.nodes = nil
	if len(octree.points) == 0 {
		return nil
	}

	meta := pc.NewMetaData()
	indices := make([]int, len(octree.points))
	for i, pd := range octree.points {
		meta.Merge(pd.P, pd.D)
		indices[i] = i
	}
	side := math.Max(meta.MaxX-meta.MinX, math.Max(meta.MaxY-meta.MinY, meta.MaxZ-meta.MinZ))
	if side <= 0 {
		side = 1
	}
	root := cell{
		center: r3.Vector{
			X: (meta.MinX + meta.MaxX) / 2,
			Y: (meta.MinY + meta.MaxY) / 2,
			Z: (meta.MinZ + meta.MaxZ) / 2,
		},
		// widen slightly so points on the max faces stay inside the root.
		side:    side * (1 + 1e-9),
		indices: indices,
	}

	counts := map[NodeType]int{}
	octree.subdivide(root, level, maxDistanceToPlane, minIsotropy, counts)
	octree.logger.Debugw("subdivided",
		"level", level,
		"points", len(octree.points),
		"filled", counts[LeafNodeFilled],
		"rejected", counts[LeafNodeRejected],
		"empty", counts[LeafNodeEmpty],
		"internal", counts[InternalNode])
	return nil
}

func (octree *Octree) subdivide(c cell, level int, maxDistanceToPlane, minIsotropy float64, counts map[NodeType]int) {
	if len(c.indices) < octree.minNodePoints {
		counts[LeafNodeEmpty]++
		return
	}
	if c.level >= level {
		if node, ok := octree.fitNode(c, maxDistanceToPlane, minIsotropy); ok {
			counts[LeafNodeFilled]++
			octree.nodes = append(octree.nodes, node)
			return
		}
		if c.level >= level+octree.maxExtraLevels {
			counts[LeafNodeRejected]++
			return
		}
	}

	counts[InternalNode]++
	for _, child := range octree.splitIntoOctants(c) {
		octree.subdivide(child, level, maxDistanceToPlane, minIsotropy, counts)
	}
}

// splitIntoOctants distributes the cell's points over its eight children. A point on a
// dividing plane goes to the upper child.
func (octree *Octree) splitIntoOctants(c cell) []cell {
	children := make([]cell, 8)
	quarter := c.side / 4
	for i := range children {
		offset := r3.Vector{X: -quarter, Y: -quarter, Z: -quarter}
		if i&1 != 0 {
			offset.X = quarter
		}
		if i&2 != 0 {
			offset.Y = quarter
		}
		if i&4 != 0 {
			offset.Z = quarter
		}
		children[i] = cell{center: c.center.Add(offset), side: c.side / 2, level: c.level + 1}
	}
	for _, idx := range c.indices {
		p := octree.points[idx].P
		octant := 0
		if p.X >= c.center.X {
			octant |= 1
		}
		if p.Y >= c.center.Y {
			octant |= 2
		}
		if p.Z >= c.center.Z {
			octant |= 4
		}
		children[octant].indices = append(children[octant].indices, idx)
	}
	return children
}

func (octree *Octree) fitNode(c cell, maxDistanceToPlane, minIsotropy float64) (*Node, bool) {
	points := make([]r3.Vector, len(c.indices))
	for i, idx := range c.indices {
		points[i] = octree.points[idx].P
	}
	fit, ok := fitPlane(points)
	if !ok || !fit.isCoplanar(maxDistanceToPlane, minIsotropy) {
		return nil, false
	}
	return &Node{
		Centroid:  fit.centroid,
		Normal1:   fit.normals[0],
		Variance1: fit.variances[0],
		Normal2:   fit.normals[1],
		Variance2: fit.variances[1],
		Normal3:   fit.normals[2],
		Variance3: fit.variances[2],
		Indices:   c.indices,
		Size:      c.side,
		Level:     c.level,
	}, true
}
