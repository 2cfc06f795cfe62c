package stereo

import (
	"context"

	"github.com/golang/geo/r3"
	"github.com/montanaflynn/stats"
	"github.com/samber/lo"
	"go.uber.org/atomic"
	"go.uber.org/multierr"

	pc "go.viam.com/scampca/pointcloud"
	"go.viam.com/scampca/utils"
)

// PointDepthWriter is the part of a spatial index that resolution writes point depths through.
type PointDepthWriter interface {
	Point(i int) (r3.Vector, pc.Data)
	SetPointDepth(i int, depth float64)
}

// ResolveParams configure the resolution of one frame.
type ResolveParams struct {
	// OutlierSigma is the number of standard deviations above the mean depth a minimal envelope
	// may reach before it is discarded.
	OutlierSigma float64
	MaxWorkers   int
	// Points, when set, receives a depth for every point owned by a resolved maximal envelope.
	Points PointDepthWriter
}

// ResolveResult sorts the envelopes of one frame by outcome. Every matched minimal envelope is in
// exactly one of Gated, Unenclosed, or the Enclosed list of one Resolved envelope. Minimal
// envelopes claimed by a maximal envelope that failed to resolve are Unenclosed.
type ResolveResult struct {
	Resolved      []*Envelope
	ZeroEnclosing []*Envelope
	Gated         []*Envelope
	Unenclosed    []*Envelope
}

const unclaimed = -1

// Resolve assigns every matched minimal envelope that passes the outlier gate to the enclosing
// maximal envelope with the lowest index, then gives each maximal envelope the mean depth of what
// it claimed. Maximal envelopes that claimed nothing are returned as zero enclosing.
//
// The returned error combines the failures of individual maximal envelopes. A failed envelope is
// left out of the result and the minimal envelopes it claimed count as unenclosed.
func Resolve(ctx context.Context, matched, maximal []*Envelope, depthStats DepthStats, params ResolveParams) (*ResolveResult, error) {
	result := &ResolveResult{}

	candidates := make([]*Envelope, 0, len(matched))
	for _, env := range matched {
		if depthStats.Admits(env.Depth, params.OutlierSigma) {
			candidates = append(candidates, env)
		} else {
			result.Gated = append(result.Gated, env)
		}
	}

	owners := make([]atomic.Int64, len(candidates))
	for i := range owners {
		owners[i].Store(unclaimed)
	}

	// Claim: every maximal envelope lowers the owner of each minimal envelope it encloses to its
	// own index. The lowest enclosing index wins no matter the order tasks run in.
	claimErr := utils.RunTasks(ctx, len(maximal), params.MaxWorkers, func(ctx context.Context, m int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		for i, env := range candidates {
			if !maximal[m].Encloses(env) {
				continue
			}
			for {
				cur := owners[i].Load()
				if cur != unclaimed && cur <= int64(m) {
					break
				}
				if owners[i].CompareAndSwap(cur, int64(m)) {
					break
				}
			}
		}
		return nil
	})

	enclosed := make([][]*Envelope, len(maximal))
	for i, env := range candidates {
		owner := owners[i].Load()
		if owner == unclaimed {
			result.Unenclosed = append(result.Unenclosed, env)
			continue
		}
		enclosed[owner] = append(enclosed[owner], env)
	}

	failed := make([]bool, len(maximal))
	for _, taskErr := range utils.TaskErrors(claimErr) {
		if taskErr.Task >= 0 {
			failed[taskErr.Task] = true
		}
	}

	// Assign: each maximal envelope averages the minimal envelopes it owns.
	assignErr := utils.RunTasks(ctx, len(maximal), params.MaxWorkers, func(ctx context.Context, m int) error {
		if failed[m] {
			return nil
		}
		env := maximal[m]
		env.Enclosed = enclosed[m]
		if len(env.Enclosed) == 0 {
			return nil
		}
		mean, err := stats.Mean(lo.Map(env.Enclosed, func(e *Envelope, _ int) float64 { return e.Depth }))
		if err != nil {
			return err
		}
		env.Depth = mean
		if params.Points != nil {
			writePointDepths(env, params.Points)
		}
		return nil
	})
	for _, taskErr := range utils.TaskErrors(assignErr) {
		if taskErr.Task >= 0 {
			failed[taskErr.Task] = true
		}
	}

	for m, env := range maximal {
		switch {
		case failed[m]:
			result.Unenclosed = append(result.Unenclosed, enclosed[m]...)
			if env != nil {
				env.Enclosed = nil
			}
		case len(env.Enclosed) == 0:
			result.ZeroEnclosing = append(result.ZeroEnclosing, env)
		default:
			result.Resolved = append(result.Resolved, env)
		}
	}
	return result, multierr.Combine(claimErr, assignErr)
}

// writePointDepths gives each point of a maximal envelope's node the depth of the first claimed
// minimal envelope containing it, or the envelope's own depth.
func writePointDepths(env *Envelope, points PointDepthWriter) {
	if env.Node == nil {
		return
	}
	for _, idx := range env.Node.Indices {
		p, _ := points.Point(idx)
		depth := env.Depth
		if inner, ok := lo.Find(env.Enclosed, func(e *Envelope) bool { return e.ContainsPoint(p.X, p.Y) }); ok {
			depth = inner.Depth
		}
		points.SetPointDepth(idx, depth)
	}
}
