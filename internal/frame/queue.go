package frame

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Sample is one raw planar 4:2:0 buffer delivered by a frame source.
type Sample struct {
	Seq      uint64
	Captured time.Time
	Width    int
	Height   int
	Data     []byte
}

// OverflowPolicy decides what Push does when the queue is full.
type OverflowPolicy string

const (
	// OverflowBlock makes Push wait for space (backpressure on the source).
	OverflowBlock OverflowPolicy = "block"
	// OverflowDropOldest discards the oldest queued sample to make room.
	OverflowDropOldest OverflowPolicy = "drop-oldest"
)

// DefaultQueueSize is used when a non-positive capacity is requested.
const DefaultQueueSize = 8

// ErrQueueClosed is returned by Push after Close, and by Pop once a closed
// queue has been drained.
var ErrQueueClosed = errors.New("frame queue closed")

// ParseOverflowPolicy maps a config string to a policy. Empty means drop-oldest.
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch OverflowPolicy(s) {
	case "", OverflowDropOldest:
		return OverflowDropOldest, nil
	case OverflowBlock:
		return OverflowBlock, nil
	default:
		return "", fmt.Errorf("unknown overflow policy: %q", s)
	}
}

// Queue is a bounded FIFO between a frame source (producer) and the capture
// loop (consumer). Safe for concurrent use by one or more producers and a
// single consumer.
type Queue struct {
	ch      chan Sample
	policy  OverflowPolicy
	dropped atomic.Uint64

	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

// NewQueue creates a queue holding at most size samples.
func NewQueue(size int, policy OverflowPolicy) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if policy == "" {
		policy = OverflowDropOldest
	}
	return &Queue{
		ch:     make(chan Sample, size),
		policy: policy,
		done:   make(chan struct{}),
	}
}

// Push enqueues s according to the overflow policy.
func (q *Queue) Push(ctx context.Context, s Sample) error {
	if q.closed.Load() {
		return ErrQueueClosed
	}

	if q.policy == OverflowBlock {
		select {
		case q.ch <- s:
			return nil
		case <-q.done:
			return ErrQueueClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for {
		select {
		case q.ch <- s:
			return nil
		default:
		}
		// Full: evict the oldest sample. The consumer may win the race and
		// empty a slot first, in which case nothing is counted.
		select {
		case <-q.ch:
			q.dropped.Add(1)
		default:
		}
	}
}

// Pop blocks until a sample is available, the context is done, or the queue
// is closed and drained.
func (q *Queue) Pop(ctx context.Context) (Sample, error) {
	select {
	case s := <-q.ch:
		return s, nil
	default:
	}
	select {
	case s := <-q.ch:
		return s, nil
	case <-q.done:
		select {
		case s := <-q.ch:
			return s, nil
		default:
			return Sample{}, ErrQueueClosed
		}
	case <-ctx.Done():
		return Sample{}, ctx.Err()
	}
}

// Close stops accepting samples. Queued samples can still be popped.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		q.closed.Store(true)
		close(q.done)
	})
}

// Len returns the number of queued samples.
func (q *Queue) Len() int { return len(q.ch) }

// Cap returns the queue capacity.
func (q *Queue) Cap() int { return cap(q.ch) }

// Dropped returns how many samples were evicted by the drop-oldest policy.
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }

// Policy returns the configured overflow policy.
func (q *Queue) Policy() OverflowPolicy { return q.policy }
