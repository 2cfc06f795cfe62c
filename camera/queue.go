package camera

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"go.viam.com/scampca/config"
)

// ErrQueueClosed is returned by Take once the queue is closed and drained, and by Push after
// Close.
var ErrQueueClosed = errors.New("frame queue closed")

// FramePair is a synchronized pair of rectified left and right frames.
type FramePair struct {
	Left, Right   image.Image
	Seq           uint64
	Width, Height int
	CapturedAt    time.Time

	release []func()
}

// NewFramePair pairs two frames of the same size. The release functions run once on Release.
func NewFramePair(seq uint64, left, right image.Image, capturedAt time.Time, release ...func()) *FramePair {
	b := left.Bounds()
	return &FramePair{
		Left:       left,
		Right:      right,
		Seq:        seq,
		Width:      b.Dx(),
		Height:     b.Dy(),
		CapturedAt: capturedAt,
		release:    release,
	}
}

// Release hands the frames back to their sources. It is safe to call more than once.
func (fp *FramePair) Release() {
	for _, r := range fp.release {
		if r != nil {
			r()
		}
	}
	fp.release = nil
}

// FrameQueue is a bounded queue of frame pairs. When full, Push either blocks or discards the
// oldest queued pair, per its policy.
type FrameQueue struct {
	frames chan *FramePair
	policy config.DropPolicy

	closeOnce sync.Once
	closed    chan struct{}
	dropped   atomic.Uint64
}

// NewFrameQueue returns a queue holding at most depth pairs.
func NewFrameQueue(depth int, policy config.DropPolicy) (*FrameQueue, error) {
	if depth <= 0 {
		return nil, errors.Errorf("invalid frame queue depth %d", depth)
	}
	switch policy {
	case config.DropPolicyBlock, config.DropPolicyDropOldest:
	default:
		return nil, errors.Errorf("unknown drop policy %q", policy)
	}
	return &FrameQueue{
		frames: make(chan *FramePair, depth),
		policy: policy,
		closed: make(chan struct{}),
	}, nil
}

// Push adds a pair to the queue.
func (q *FrameQueue) Push(ctx context.Context, pair *FramePair) error {
	select {
	case <-q.closed:
		return ErrQueueClosed
	default:
	}

	if q.policy == config.DropPolicyBlock {
		select {
		case q.frames <- pair:
			return nil
		case <-q.closed:
			return ErrQueueClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for {
		select {
		case q.frames <- pair:
			return nil
		default:
		}
		select {
		case oldest := <-q.frames:
			oldest.Release()
			q.dropped.Inc()
		default:
		}
	}
}

// Take blocks until a pair is available. There is no timeout: only ctx or a closed, drained queue
// ends the wait.
func (q *FrameQueue) Take(ctx context.Context) (*FramePair, error) {
	select {
	case pair := <-q.frames:
		return pair, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-q.closed:
		select {
		case pair := <-q.frames:
			return pair, nil
		default:
			return nil, ErrQueueClosed
		}
	}
}

// Close marks the end of the stream. Queued pairs can still be taken.
func (q *FrameQueue) Close() {
	q.closeOnce.Do(func() { close(q.closed) })
}

// Len is the number of queued pairs.
func (q *FrameQueue) Len() int {
	return len(q.frames)
}

// Dropped is the number of pairs discarded by the drop_oldest policy.
func (q *FrameQueue) Dropped() uint64 {
	return q.dropped.Load()
}
