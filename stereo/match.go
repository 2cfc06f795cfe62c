package stereo

import (
	"context"
	"math"
	"sort"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"go.viam.com/scampca/logging"
	"go.viam.com/scampca/octree"
	"go.viam.com/scampca/utils"
)

// ErrMalformedNode is returned when a node reaching the matcher lacks its principal axes. It fails
// the whole frame's matching stage.
var ErrMalformedNode = errors.New("node has no principal axes")

const (
	// tieTolerance is how close two angles or variance differences must be to count as a tie.
	tieTolerance = 1e-9
	// verticalTolerance is how close |normal₂·Y| must be to 1 for a normal to count as vertical.
	verticalTolerance = 1e-6
)

var yAxis = r3.Vector{X: 0, Y: 1, Z: 0}

// MatchParams hold the camera and matching constants of a frame.
type MatchParams struct {
	// VerticalTolerance bounds |Δcentroid.Y| between a left node and its candidates.
	VerticalTolerance float64
	// PlanarityThreshold is the largest accepted angle between normals, in radians.
	PlanarityThreshold float64
	FocalLength        float64
	Baseline           float64
	// MaxHorizontalSeparation caps the computed depth.
	MaxHorizontalSeparation float64
	// Epsilon is the smallest centroid distance used in the depth formula.
	Epsilon float64
}

// Depth converts the centroid distance of a matched pair to a depth: f·B/distance, with the
// distance floored at Epsilon and the result capped at MaxHorizontalSeparation.
func (p MatchParams) Depth(distance float64) float64 {
	return math.Min(p.FocalLength*p.Baseline/math.Max(distance, p.Epsilon), p.MaxHorizontalSeparation)
}

// NormalAngle is the angle between two second principal axes. Axes have no sign, so antiparallel
// axes count as parallel.
func NormalAngle(a, b r3.Vector) float64 {
	return math.Acos(utils.ClampUnit(math.Abs(a.Dot(b))))
}

func isVertical(n r3.Vector) bool {
	return math.Abs(n.Dot(yAxis)) >= 1-verticalTolerance
}

type candidate struct {
	index    int
	node     *octree.Node
	angle    float64
	varDiff  float64
	sizeDiff int
}

// better reports whether c wins over the current best. Equal candidates keep the earlier one, so
// the lowest index in the Y-sorted list wins the last tie.
func (c candidate) better(best candidate) bool {
	if d := c.angle - best.angle; math.Abs(d) > tieTolerance {
		return d < 0
	}
	if d := c.varDiff - best.varDiff; math.Abs(d) > tieTolerance {
		return d < 0
	}
	return c.sizeDiff < best.sizeDiff
}

// matchNode finds the best right node for left among the Y-sorted right nodes. It returns the
// depth and whether a match was accepted.
func matchNode(left *octree.Node, right []*octree.Node, params MatchParams) (float64, bool, error) {
	if !left.HasAxes() {
		return 0, false, errors.Wrapf(ErrMalformedNode, "left node at (%.2f, %.2f)", left.Centroid.X, left.Centroid.Y)
	}

	yMin := left.Centroid.Y - params.VerticalTolerance
	yMax := left.Centroid.Y + params.VerticalTolerance
	start := sort.Search(len(right), func(i int) bool { return right[i].Centroid.Y >= yMin })

	var (
		best     candidate
		accepted int
	)
	for i := start; i < len(right) && right[i].Centroid.Y <= yMax; i++ {
		node := right[i]
		if !node.HasAxes() {
			return 0, false, errors.Wrapf(ErrMalformedNode, "right node at (%.2f, %.2f)", node.Centroid.X, node.Centroid.Y)
		}
		angle := NormalAngle(left.Normal2, node.Normal2)
		if angle >= params.PlanarityThreshold {
			continue
		}
		c := candidate{
			index:    i,
			node:     node,
			angle:    angle,
			varDiff:  math.Abs(left.Variance2 - node.Variance2),
			sizeDiff: absInt(left.PointCount() - node.PointCount()),
		}
		accepted++
		if accepted == 1 || c.better(best) {
			best = c
		}
	}

	if accepted == 0 {
		return 0, false, nil
	}
	// A horizontal edge looks the same all along its row, so several candidates cannot be told
	// apart.
	if isVertical(left.Normal2) && accepted > 1 {
		return 0, false, nil
	}

	distance := math.Hypot(left.Centroid.X-best.node.Centroid.X, left.Centroid.Y-best.node.Centroid.Y)
	return params.Depth(distance), true, nil
}

// matchPartition matches every left node of one partition. Matched and unmatched envelopes come
// back in left list order.
func matchPartition(part Partition, left, right []*octree.Node, params MatchParams) (matched, unmatched []*Envelope, err error) {
	for _, node := range left[part.Start:part.End] {
		depth, ok, err := matchNode(node, right, params)
		if err != nil {
			return nil, nil, err
		}
		if ok {
			matched = append(matched, NewMinimalEnvelope(node, depth))
		} else {
			unmatched = append(unmatched, NewMinimalEnvelope(node, 0))
		}
	}
	return matched, unmatched, nil
}

// MatchResult holds the minimal envelopes of one frame in Y-sorted left node order.
type MatchResult struct {
	Matched    []*Envelope
	Unmatched  []*Envelope
	Partitions []Partition
}

// Depths returns the depths of the matched envelopes.
func (mr *MatchResult) Depths() []float64 {
	return lo.Map(mr.Matched, func(e *Envelope, _ int) float64 { return e.Depth })
}

// Match groups the left nodes by rounded centroid Y and matches each group on its own task against
// the right nodes. A malformed node fails the whole match. Any other failure of a group is logged
// and the group contributes no envelopes.
func Match(
	ctx context.Context,
	leftNodes, rightNodes []*octree.Node,
	params MatchParams,
	maxWorkers int,
	logger logging.Logger,
) (*MatchResult, error) {
	left := sortByY(leftNodes)
	right := sortByY(rightNodes)
	parts := partitionByY(left)

	matched := make([][]*Envelope, len(parts))
	unmatched := make([][]*Envelope, len(parts))
	err := utils.RunTasks(ctx, len(parts), maxWorkers, func(ctx context.Context, i int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		var err error
		matched[i], unmatched[i], err = matchPartition(parts[i], left, right, params)
		return err
	})
	if errors.Is(err, ErrMalformedNode) {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	for _, taskErr := range utils.TaskErrors(err) {
		if taskErr.Task < 0 {
			logger.Errorw("matching failed", "error", taskErr.Err)
			continue
		}
		part := parts[taskErr.Task]
		matched[taskErr.Task], unmatched[taskErr.Task] = nil, nil
		logger.Errorw("partition failed to match",
			"partition", taskErr.Task, "y", part.Y, "start", part.Start, "end", part.End, "error", taskErr.Err)
	}

	return &MatchResult{
		Matched:    lo.Flatten(matched),
		Unmatched:  lo.Flatten(unmatched),
		Partitions: parts,
	}, nil
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
