// Package octree implements a concurrent-safe octree that splits a set of colored points into
// coplanar cells and fits each cell with a principal component analysis.
package octree

import (
	"math"

	"github.com/golang/geo/r3"
)

// Each cell visited by a subdivision is either an internal node which links to its octants, an
// empty leaf with too few points to fit, a filled leaf holding a coplanar fit, or a rejected leaf
// whose points never became coplanar within the allowed extra levels.
const (
	InternalNode = NodeType(iota)
	LeafNodeEmpty
	LeafNodeFilled
	LeafNodeRejected
)

// NodeType represents the possible types of nodes in an octree.
type NodeType uint8

func (nt NodeType) String() string {
	switch nt {
	case InternalNode:
		return "internal"
	case LeafNodeEmpty:
		return "empty"
	case LeafNodeFilled:
		return "filled"
	case LeafNodeRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Node is a coplanar cell produced by a subdivision. The axes are unit eigenvectors of the
// covariance of the cell's points, sorted by ascending variance: Normal1 is the plane normal,
// Normal3 the direction of largest spread.
type Node struct {
	Centroid r3.Vector

	Normal1   r3.Vector
	Variance1 float64
	Normal2   r3.Vector
	Variance2 float64
	Normal3   r3.Vector
	Variance3 float64

	// Indices are positions in the octree's point list.
	Indices []int
	// Size is the edge length of the node's cube.
	Size  float64
	Level int
}

// PointCount is the number of points owned by the node.
func (n *Node) PointCount() int {
	return len(n.Indices)
}

// HasAxes reports whether the node's second and third principal axes are usable unit vectors.
// A node without them did not complete its fit.
func (n *Node) HasAxes() bool {
	return isUnit(n.Normal2) && isUnit(n.Normal3) &&
		!math.IsNaN(n.Variance2) && !math.IsNaN(n.Variance3)
}

func isUnit(v r3.Vector) bool {
	norm := v.Norm()
	return !math.IsNaN(norm) && math.Abs(norm-1) < 1e-6
}
