package session

import (
	"context"
	"sync"

	"github.com/interviewd/interviewd/internal/audio"
)

// Queue is the bounded per-session audio frame queue (audio_q in spec §3),
// with a configurable backpressure policy applied once it fills: either
// drop-oldest (the default — make room for the newest frame by discarding
// the head) or block the producer until a consumer drains a slot.
//
// Anti-starvation under sustained overload is the consumer's job, not the
// producer's: see [Queue.DrainIfOverloaded], which a consumer calls after
// each Pop to proactively shed a batch of frames (rather than one per Push)
// once occupancy crosses 80%, draining back down to 50%.
type Queue struct {
	mu                sync.Mutex
	cond              *sync.Cond
	buf               []audio.AudioFrame
	capacity          int
	dropOldest        bool
	closed            bool
	dropped           int64
	consecutiveDrains int
}

// NewQueue returns a [Queue] with the given capacity and backpressure
// policy.
func NewQueue(capacity int, dropOldest bool) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	q := &Queue{capacity: capacity, dropOldest: dropOldest}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push enqueues a frame. Under the drop-oldest policy it never blocks: once
// entirely full it drops the oldest frame to make room for the new one.
// Returns whether a frame was dropped to make room. Proactive anti-
// starvation draining before the queue is completely full is the
// consumer's responsibility; see [Queue.DrainIfOverloaded].
//
// Under the block policy, Push blocks until ctx is done or a slot frees.
func (q *Queue) Push(ctx context.Context, frame audio.AudioFrame) (droppedExisting bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false, context.Canceled
	}

	if !q.dropOldest {
		for len(q.buf) >= q.capacity && !q.closed {
			waitErr := q.waitWithContext(ctx)
			if waitErr != nil {
				return false, waitErr
			}
		}
		if q.closed {
			return false, context.Canceled
		}
		q.buf = append(q.buf, frame)
		q.cond.Broadcast()
		return false, nil
	}

	if len(q.buf) >= q.capacity {
		q.buf = q.buf[1:]
		q.dropped++
		droppedExisting = true
	}
	q.buf = append(q.buf, frame)
	q.cond.Broadcast()
	return droppedExisting, nil
}

// DrainIfOverloaded proactively sheds buffered frames down to 50% capacity
// once occupancy is at or above 80%, per spec §4.2's consumer-side anti-
// starvation rule: dropping a batch at once (rather than one frame per
// Push) keeps end-to-end latency bounded under sustained overload. Meant
// to be called by the consumer after each Pop.
//
// shouldPause reports whether this call is the third or later consecutive
// call to actually drop frames, signalling the caller should pause briefly
// instead of immediately looping back into an already-overloaded queue.
func (q *Queue) DrainIfOverloaded() (dropped int, shouldPause bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if float64(len(q.buf))/float64(q.capacity) < 0.8 {
		q.consecutiveDrains = 0
		return 0, false
	}

	target := q.capacity / 2
	for len(q.buf) > target {
		q.buf = q.buf[1:]
		q.dropped++
		dropped++
	}

	if dropped > 0 {
		q.consecutiveDrains++
	} else {
		q.consecutiveDrains = 0
	}
	return dropped, q.consecutiveDrains >= 3
}

// Pop blocks until a frame is available, the queue is closed, or ctx is
// done.
func (q *Queue) Pop(ctx context.Context) (audio.AudioFrame, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.buf) == 0 && !q.closed {
		if err := q.waitWithContext(ctx); err != nil {
			return audio.AudioFrame{}, false, err
		}
	}
	if len(q.buf) == 0 && q.closed {
		return audio.AudioFrame{}, false, nil
	}

	frame := q.buf[0]
	q.buf = q.buf[1:]
	return frame, true, nil
}

// Len returns the current number of buffered frames.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

// DroppedCount returns the cumulative number of frames dropped by the
// backpressure policy.
func (q *Queue) DroppedCount() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Close unblocks any waiting Push/Pop calls and marks the queue unusable.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.cond.Broadcast()
}

// waitWithContext waits on q.cond, translating ctx cancellation into a
// returned error. Must be called with q.mu held; re-acquires it before
// returning in all cases.
func (q *Queue) waitWithContext(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	done := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
		close(done)
	})
	defer stop()

	q.cond.Wait()

	select {
	case <-done:
		return ctx.Err()
	default:
		return nil
	}
}
