package ring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rkarpov/carrierwatch/internal/iq"
)

func block(seq uint64) *iq.Block {
	return &iq.Block{Seq: seq, Samples: make([]complex64, 4)}
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		policy   OverflowPolicy
	}{
		{"zero capacity", 0, PolicyBlock},
		{"negative capacity", -1, PolicyDropOldest},
		{"bad policy", 4, OverflowPolicy("spill")},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.capacity, tc.policy); err == nil {
				t.Error("expected error for invalid parameters")
			}
		})
	}
}

func TestFIFOOrder(t *testing.T) {
	r, err := New(8, PolicyDropOldest)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for seq := uint64(0); seq < 8; seq++ {
		if !r.Push(block(seq)) {
			t.Fatalf("push %d rejected below capacity", seq)
		}
	}

	ctx := context.Background()
	for seq := uint64(0); seq < 8; seq++ {
		b, err := r.Pop(ctx)
		if err != nil {
			t.Fatalf("Pop: %v", err)
		}
		if b.Seq != seq {
			t.Errorf("expected seq %d, got %d", seq, b.Seq)
		}
	}
	if r.Dropped() != 0 {
		t.Errorf("expected zero drops, got %d", r.Dropped())
	}
}

func TestDropOldestOverflow(t *testing.T) {
	r, err := New(3, PolicyDropOldest)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Capacity pushes never block or drop.
	for seq := uint64(0); seq < 3; seq++ {
		if !r.Push(block(seq)) {
			t.Fatalf("push %d rejected below capacity", seq)
		}
	}
	if r.Dropped() != 0 {
		t.Fatalf("premature drop count %d", r.Dropped())
	}

	// One additional push evicts exactly the oldest block.
	if !r.Push(block(3)) {
		t.Fatal("drop-oldest push must admit the new block")
	}
	if r.Dropped() != 1 {
		t.Fatalf("expected 1 drop, got %d", r.Dropped())
	}

	ctx := context.Background()
	for _, want := range []uint64{1, 2, 3} {
		b, err := r.Pop(ctx)
		if err != nil {
			t.Fatalf("Pop: %v", err)
		}
		if b.Seq != want {
			t.Errorf("expected seq %d, got %d", want, b.Seq)
		}
	}
}

func TestDropNewestOverflow(t *testing.T) {
	r, err := New(2, PolicyDropNewest)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	r.Push(block(0))
	r.Push(block(1))

	if r.Push(block(2)) {
		t.Error("drop-newest push must reject the new block when full")
	}
	if r.Dropped() != 1 {
		t.Errorf("expected 1 drop, got %d", r.Dropped())
	}

	ctx := context.Background()
	for _, want := range []uint64{0, 1} {
		b, err := r.Pop(ctx)
		if err != nil {
			t.Fatalf("Pop: %v", err)
		}
		if b.Seq != want {
			t.Errorf("expected seq %d, got %d", want, b.Seq)
		}
	}
}

func TestBlockPolicyWaitsForSpace(t *testing.T) {
	r, err := New(1, PolicyBlock)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	r.Push(block(0))

	pushed := make(chan bool)
	go func() {
		pushed <- r.Push(block(1))
	}()

	select {
	case <-pushed:
		t.Fatal("push on a full ring must wait under the block policy")
	case <-time.After(50 * time.Millisecond):
	}

	if _, err := r.Pop(context.Background()); err != nil {
		t.Fatalf("Pop: %v", err)
	}

	select {
	case ok := <-pushed:
		if !ok {
			t.Error("blocked push should succeed once space frees")
		}
	case <-time.After(time.Second):
		t.Fatal("blocked push never completed")
	}
	if r.Dropped() != 0 {
		t.Errorf("block policy must not drop, got %d", r.Dropped())
	}
}

func TestCloseDrainsThenReportsClosed(t *testing.T) {
	r, err := New(4, PolicyBlock)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	r.Push(block(0))
	r.Push(block(1))
	r.Close()

	if r.Push(block(2)) {
		t.Error("push after close must be rejected")
	}

	ctx := context.Background()
	for _, want := range []uint64{0, 1} {
		b, err := r.Pop(ctx)
		if err != nil {
			t.Fatalf("Pop while draining: %v", err)
		}
		if b.Seq != want {
			t.Errorf("expected seq %d, got %d", want, b.Seq)
		}
	}

	if _, err := r.Pop(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed after drain, got %v", err)
	}
}

func TestCloseWakesBlockedConsumer(t *testing.T) {
	r, err := New(2, PolicyBlock)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	popErr := make(chan error)
	go func() {
		_, err := r.Pop(context.Background())
		popErr <- err
	}()

	time.Sleep(20 * time.Millisecond)
	r.Close()

	select {
	case err := <-popErr:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("expected ErrClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("consumer not woken by Close")
	}
}

func TestPopHonorsContext(t *testing.T) {
	r, err := New(2, PolicyBlock)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	popErr := make(chan error)
	go func() {
		_, err := r.Pop(ctx)
		popErr <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-popErr:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("consumer not woken by context cancellation")
	}
}
