package stereo

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/atomic"

	"go.viam.com/scampca/logging"
	"go.viam.com/scampca/utils"
)

const frameTimeWindow = 32

// Diagnostics counts what happened to frames and envelopes since the pipeline started.
type Diagnostics struct {
	frameTime *utils.RollingAverage

	framesProcessed  atomic.Uint64
	framesFailed     atomic.Uint64
	matched          atomic.Uint64
	unmatched        atomic.Uint64
	gated            atomic.Uint64
	unenclosed       atomic.Uint64
	resolved         atomic.Uint64
	borrowed         atomic.Uint64
	unresolved       atomic.Uint64
	taskFailures     atomic.Uint64
	consumerFailures atomic.Uint64
}

// DiagnosticsSnapshot is a point in time copy of the counters.
type DiagnosticsSnapshot struct {
	FramesProcessed  uint64
	FramesFailed     uint64
	Matched          uint64
	Unmatched        uint64
	Gated            uint64
	Unenclosed       uint64
	Resolved         uint64
	Borrowed         uint64
	Unresolved       uint64
	TaskFailures     uint64
	ConsumerFailures uint64
	// FrameTime is the mean processing time of the last few frames.
	FrameTime time.Duration
}

func newDiagnostics() *Diagnostics {
	return &Diagnostics{frameTime: utils.NewRollingAverage(frameTimeWindow)}
}

// Snapshot reads all counters.
func (d *Diagnostics) Snapshot() DiagnosticsSnapshot {
	return DiagnosticsSnapshot{
		FramesProcessed:  d.framesProcessed.Load(),
		FramesFailed:     d.framesFailed.Load(),
		Matched:          d.matched.Load(),
		Unmatched:        d.unmatched.Load(),
		Gated:            d.gated.Load(),
		Unenclosed:       d.unenclosed.Load(),
		Resolved:         d.resolved.Load(),
		Borrowed:         d.borrowed.Load(),
		Unresolved:       d.unresolved.Load(),
		TaskFailures:     d.taskFailures.Load(),
		ConsumerFailures: d.consumerFailures.Load(),
		FrameTime:        time.Duration(d.frameTime.Average()),
	}
}

func (d *Diagnostics) addFrame(result *FrameResult, elapsed time.Duration) {
	d.framesProcessed.Inc()
	d.frameTime.Add(float64(elapsed))
	d.matched.Add(uint64(len(result.Matched)))
	d.unmatched.Add(uint64(len(result.Unmatched)))
	d.gated.Add(uint64(len(result.Gated)))
	d.unenclosed.Add(uint64(len(result.Unenclosed)))
	d.resolved.Add(uint64(len(result.Resolved)))
	d.borrowed.Add(uint64(len(result.Borrowed)))
	d.unresolved.Add(uint64(len(result.Unresolved)))
}

// summary describes the change between two snapshots taken interval apart.
func summary(oldState, newState DiagnosticsSnapshot, interval time.Duration) string {
	frames := newState.FramesProcessed - oldState.FramesProcessed
	return fmt.Sprintf(
		"%d frames in the last %s (%.2f/s, %s each), %d failed; envelopes: %d matched, %d unmatched, %d resolved, %d borrowed, %d unresolved",
		frames, interval, float64(frames)/interval.Seconds(), newState.FrameTime,
		newState.FramesFailed-oldState.FramesFailed,
		newState.Matched-oldState.Matched,
		newState.Unmatched-oldState.Unmatched,
		newState.Resolved-oldState.Resolved,
		newState.Borrowed-oldState.Borrowed,
		newState.Unresolved-oldState.Unresolved,
	)
}

// StartReporting logs a summary of the counters every interval until the returned workers are
// stopped.
func (d *Diagnostics) StartReporting(interval time.Duration, logger logging.Logger) utils.StoppableWorkers {
	return utils.NewStoppableWorkers(func(ctx context.Context) {
		oldState := d.Snapshot()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				newState := d.Snapshot()
				logger.Info(summary(oldState, newState, interval))
				oldState = newState
			}
		}
	})
}
