package stereo

import (
	"context"

	"github.com/montanaflynn/stats"
	"github.com/samber/lo"

	"go.viam.com/scampca/utils"
)

// Fallback gives each zero enclosing envelope the mean depth of the resolved envelopes it overlaps,
// where overlap means either envelope encloses the other or a corner of one lies within the other.
// Envelopes that overlap nothing keep no depth and are returned as unresolved. The pass reads only
// depths resolved by Resolve, so it runs once.
func Fallback(ctx context.Context, zero, resolved []*Envelope, maxWorkers int, points PointDepthWriter) (borrowed, unresolved []*Envelope, err error) {
	found := make([]bool, len(zero))
	depths := make([]float64, len(zero))
	err = utils.RunTasks(ctx, len(zero), maxWorkers, func(ctx context.Context, z int) error {
		overlapping := lo.Filter(resolved, func(m *Envelope, _ int) bool { return zero[z].Overlaps(m) })
		if len(overlapping) == 0 {
			return nil
		}
		mean, err := stats.Mean(lo.Map(overlapping, func(m *Envelope, _ int) float64 { return m.Depth }))
		if err != nil {
			return err
		}
		depths[z] = mean
		found[z] = true
		return nil
	})

	for z, env := range zero {
		if !found[z] {
			unresolved = append(unresolved, env)
			continue
		}
		env.Depth = depths[z]
		env.Borrowed = true
		if points != nil {
			writePointDepths(env, points)
		}
		borrowed = append(borrowed, env)
	}
	return borrowed, unresolved, err
}
