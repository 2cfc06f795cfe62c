package camera

import (
	"context"
	"image"
	"io"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"go.viam.com/scampca/logging"
	"go.viam.com/scampca/utils"
)

type capturedFrame struct {
	img     image.Image
	release func()
}

// StereoCapture runs one producer per camera and pairs their frames into a FrameQueue, assigning
// increasing sequence numbers. The queue is closed once either camera runs out of frames.
type StereoCapture struct {
	left, right VideoSource
	queue       *FrameQueue
	logger      logging.Logger

	workers  utils.StoppableWorkers
	cancel   context.CancelFunc
	seq      atomic.Uint64
	mismatch atomic.Uint64
}

// NewStereoCapture wires two sources to a queue. Nothing runs until Start.
func NewStereoCapture(left, right VideoSource, queue *FrameQueue, logger logging.Logger) *StereoCapture {
	return &StereoCapture{left: left, right: right, queue: queue, logger: logger}
}

// Start launches the producers. They stop when ctx is cancelled, on Stop, or at the end of
// either stream.
func (sc *StereoCapture) Start(ctx context.Context) {
	leftFrames := make(chan capturedFrame)
	rightFrames := make(chan capturedFrame)
	ctx, sc.cancel = context.WithCancel(ctx)
	sc.workers = utils.NewStoppableWorkersWithContext(ctx,
		func(ctx context.Context) { sc.produce(ctx, "left", sc.left, leftFrames) },
		func(ctx context.Context) { sc.produce(ctx, "right", sc.right, rightFrames) },
		func(ctx context.Context) { sc.pair(ctx, leftFrames, rightFrames) },
	)
}

// Stop stops the producers and closes the queue.
func (sc *StereoCapture) Stop() {
	if sc.workers != nil {
		sc.workers.Stop()
	}
	sc.queue.Close()
}

// Mismatched is the number of pairs discarded because the two frames had different sizes.
func (sc *StereoCapture) Mismatched() uint64 {
	return sc.mismatch.Load()
}

func (sc *StereoCapture) produce(ctx context.Context, side string, src VideoSource, out chan<- capturedFrame) {
	defer close(out)
	for {
		img, release, err := src.Next(ctx)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				sc.logger.Debugw("camera stream ended", "camera", side)
			case ctx.Err() != nil:
			default:
				sc.logger.Errorw("failed to read frame, stopping camera", "camera", side, "error", err)
			}
			return
		}
		if release == nil {
			release = func() {}
		}
		select {
		case out <- capturedFrame{img, release}:
		case <-ctx.Done():
			release()
			return
		}
	}
}

func (sc *StereoCapture) pair(ctx context.Context, leftFrames, rightFrames <-chan capturedFrame) {
	defer func() {
		// stop whichever producer is still running, then release what it already captured.
		sc.cancel()
		drain(leftFrames)
		drain(rightFrames)
		sc.queue.Close()
	}()
	for {
		left, ok := <-leftFrames
		if !ok {
			return
		}
		right, ok := <-rightFrames
		if !ok {
			left.release()
			return
		}

		lb, rb := left.img.Bounds(), right.img.Bounds()
		if lb.Dx() != rb.Dx() || lb.Dy() != rb.Dy() {
			sc.mismatch.Inc()
			sc.logger.Warnw("dropping stereo pair with mismatched frame sizes", "left", lb.Size(), "right", rb.Size())
			left.release()
			right.release()
			continue
		}

		pair := NewFramePair(sc.seq.Inc(), left.img, right.img, time.Now(), left.release, right.release)
		if err := sc.queue.Push(ctx, pair); err != nil {
			pair.Release()
			return
		}
	}
}

// drain releases any frames a producer is still trying to hand over, until it closes the channel.
func drain(frames <-chan capturedFrame) {
	for f := range frames {
		f.release()
	}
}
