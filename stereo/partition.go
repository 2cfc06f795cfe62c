package stereo

import (
	"math"
	"sort"

	"go.viam.com/scampca/octree"
)

// Partition is a half open range [Start, End) of a Y-sorted node list whose nodes share one
// rounded centroid Y.
type Partition struct {
	Start, End int
	Y          float64
}

// sortByY returns the nodes ordered by centroid Y, then X.
func sortByY(nodes []*octree.Node) []*octree.Node {
	sorted := make([]*octree.Node, len(nodes))
	copy(sorted, nodes)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i].Centroid, sorted[j].Centroid
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.X < b.X
	})
	return sorted
}

// partitionByY splits a Y-sorted list into runs sharing math.Round(centroid.Y).
func partitionByY(sorted []*octree.Node) []Partition {
	var parts []Partition
	for i, node := range sorted {
		y := math.Round(node.Centroid.Y)
		if len(parts) > 0 && parts[len(parts)-1].Y == y {
			parts[len(parts)-1].End = i + 1
			continue
		}
		parts = append(parts, Partition{Start: i, End: i + 1, Y: y})
	}
	return parts
}
