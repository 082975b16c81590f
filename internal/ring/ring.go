// Package ring implements the bounded FIFO queue of sample blocks that
// connects the acquisition goroutine to the analysis goroutine. It is
// the single shared-mutable resource of the pipeline; all access is
// guarded by its own internal synchronization.
package ring

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rkarpov/carrierwatch/internal/iq"
)

// ErrClosed is returned by Pop once the ring is closed and all buffered
// blocks have been drained.
var ErrClosed = errors.New("ring buffer closed")

// OverflowPolicy selects how Push behaves when the ring is full.
type OverflowPolicy string

const (
	// PolicyBlock makes Push wait until the consumer frees a slot.
	// Acquisition latency grows but no samples are lost.
	PolicyBlock OverflowPolicy = "block"

	// PolicyDropOldest evicts the oldest buffered block to admit the new
	// one, keeping the freshest samples.
	PolicyDropOldest OverflowPolicy = "drop-oldest"

	// PolicyDropNewest rejects the incoming block, keeping the backlog.
	PolicyDropNewest OverflowPolicy = "drop-newest"
)

// ParsePolicy validates a policy string from configuration.
func ParsePolicy(s string) (OverflowPolicy, error) {
	switch p := OverflowPolicy(s); p {
	case PolicyBlock, PolicyDropOldest, PolicyDropNewest:
		return p, nil
	default:
		return "", fmt.Errorf("unknown overflow policy %q", s)
	}
}

// Ring is a bounded single-producer single-consumer FIFO of sample
// blocks. Capacity is fixed at construction and never grows. Blocks are
// dequeued in the exact order they were admitted under every policy.
type Ring struct {
	policy OverflowPolicy

	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond

	buf    []*iq.Block
	head   int // index of the oldest block
	size   int
	closed bool

	dropped atomic.Uint64
}

// New creates a ring with the given fixed capacity and overflow policy.
func New(capacity int, policy OverflowPolicy) (*Ring, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("invalid ring capacity %d", capacity)
	}
	if _, err := ParsePolicy(string(policy)); err != nil {
		return nil, err
	}

	r := &Ring{
		policy: policy,
		buf:    make([]*iq.Block, capacity),
	}
	r.notEmpty = sync.NewCond(&r.mu)
	r.notFull = sync.NewCond(&r.mu)
	return r, nil
}

// Push hands a block over to the consumer side. The caller must not
// touch the block afterwards. It reports whether the block was admitted:
// under PolicyDropNewest a full ring rejects the block, under
// PolicyDropOldest the oldest buffered block is evicted instead, and
// under PolicyBlock the call waits for space. Every dropped block is
// counted; Push on a closed ring reports false.
func (r *Ring) Push(b *iq.Block) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false
	}

	if r.size == len(r.buf) {
		switch r.policy {
		case PolicyBlock:
			for r.size == len(r.buf) && !r.closed {
				r.notFull.Wait()
			}
			if r.closed {
				return false
			}

		case PolicyDropOldest:
			r.head = (r.head + 1) % len(r.buf)
			r.size--
			r.dropped.Add(1)

		case PolicyDropNewest:
			r.dropped.Add(1)
			return false
		}
	}

	r.buf[(r.head+r.size)%len(r.buf)] = b
	r.size++
	r.notEmpty.Signal()
	return true
}

// Pop removes and returns the oldest buffered block, waiting until one
// is available, the ring is closed and drained (ErrClosed), or ctx is
// done.
func (r *Ring) Pop(ctx context.Context) (*iq.Block, error) {
	// A context cancellation must wake a waiting consumer. Cond has no
	// native context support, so a watcher broadcasts on ctx.Done.
	stop := context.AfterFunc(ctx, func() {
		r.mu.Lock()
		r.notEmpty.Broadcast()
		r.mu.Unlock()
	})
	defer stop()

	r.mu.Lock()
	defer r.mu.Unlock()

	for r.size == 0 {
		if r.closed {
			return nil, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r.notEmpty.Wait()
	}

	b := r.buf[r.head]
	r.buf[r.head] = nil
	r.head = (r.head + 1) % len(r.buf)
	r.size--
	r.notFull.Signal()
	return b, nil
}

// Close signals that no further pushes will occur. Buffered blocks
// remain poppable; once drained, Pop returns ErrClosed. Close is
// idempotent and wakes any blocked producer or consumer.
func (r *Ring) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true
	r.notEmpty.Broadcast()
	r.notFull.Broadcast()
}

// Len returns the current number of buffered blocks.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Cap returns the fixed capacity.
func (r *Ring) Cap() int {
	return len(r.buf)
}

// Dropped returns the cumulative number of blocks lost to the overflow
// policy. A non-zero value means the consumer could not keep up.
func (r *Ring) Dropped() uint64 {
	return r.dropped.Load()
}
