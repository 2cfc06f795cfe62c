package stereo

import (
	"math"

	"github.com/golang/geo/r1"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"

	"go.viam.com/scampca/octree"
)

// EnvelopeKind tells the two envelope shapes apart.
type EnvelopeKind uint8

const (
	// Minimal envelopes come from fine nodes and get their depth from matching.
	Minimal = EnvelopeKind(iota)
	// Maximal envelopes come from coarse nodes and get the mean depth of the minimal envelopes
	// they enclose.
	Maximal
)

func (k EnvelopeKind) String() string {
	if k == Maximal {
		return "maximal"
	}
	return "minimal"
}

// Envelope is an axis aligned box in the image plane carrying a depth.
type Envelope struct {
	Kind   EnvelopeKind
	Bounds r2.Rect
	Depth  float64
	// Node is the spatial node the envelope was built from.
	Node *octree.Node

	// Enclosed lists the minimal envelopes claimed by a resolved maximal envelope.
	Enclosed []*Envelope
	// Borrowed is set on a maximal envelope whose depth came from the fallback pass.
	Borrowed bool
}

// NewMinimalEnvelope builds the box centroid ± size/2 of a fine node.
func NewMinimalEnvelope(node *octree.Node, depth float64) *Envelope {
	half := node.Size / 2
	return &Envelope{
		Kind:   Minimal,
		Bounds: r2.RectFromCenterSize(r2.Point{X: node.Centroid.X, Y: node.Centroid.Y}, r2.Point{X: 2 * half, Y: 2 * half}),
		Depth:  depth,
		Node:   node,
	}
}

// NewMaximalEnvelope builds the bounding box of the four corners
// centroid ± scale·σ₂·normal₂ ± scale·σ₃·normal₃ of a coarse node, projected on the image plane.
// Each half axis is at least half the node's cube side, so that a node whose points lie on a line
// still spans the fine cells along that line.
func NewMaximalEnvelope(node *octree.Node, scale float64) *Envelope {
	floor := node.Size / 2
	a2 := node.Normal2.Mul(math.Max(scale*math.Sqrt(node.Variance2), floor))
	a3 := node.Normal3.Mul(math.Max(scale*math.Sqrt(node.Variance3), floor))

	rect := r2.EmptyRect()
	for _, corner := range []r3.Vector{
		node.Centroid.Add(a2).Add(a3),
		node.Centroid.Add(a2).Sub(a3),
		node.Centroid.Sub(a2).Add(a3),
		node.Centroid.Sub(a2).Sub(a3),
	} {
		rect = rect.AddPoint(r2.Point{X: corner.X, Y: corner.Y})
	}
	return &Envelope{Kind: Maximal, Bounds: rect, Node: node}
}

// NewEnvelope builds an envelope straight from its bounds.
func NewEnvelope(kind EnvelopeKind, xmin, ymin, xmax, ymax, depth float64) *Envelope {
	return &Envelope{
		Kind:   kind,
		Bounds: r2.Rect{X: r1.Interval{Lo: xmin, Hi: xmax}, Y: r1.Interval{Lo: ymin, Hi: ymax}},
		Depth:  depth,
	}
}

// Encloses reports whether other lies within e, borders included.
func (e *Envelope) Encloses(other *Envelope) bool {
	return e.Bounds.Contains(other.Bounds)
}

// ContainsPoint reports whether (x, y) lies within e, borders included.
func (e *Envelope) ContainsPoint(x, y float64) bool {
	return e.Bounds.ContainsPoint(r2.Point{X: x, Y: y})
}

// Overlaps reports whether either envelope encloses the other or a corner of one lies within the
// other.
func (e *Envelope) Overlaps(other *Envelope) bool {
	if e.Encloses(other) || other.Encloses(e) {
		return true
	}
	for _, v := range other.Bounds.Vertices() {
		if e.Bounds.ContainsPoint(v) {
			return true
		}
	}
	for _, v := range e.Bounds.Vertices() {
		if other.Bounds.ContainsPoint(v) {
			return true
		}
	}
	return false
}
