package sweep

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestPoolRunsRegisteredReclaimersOnTick(t *testing.T) {
	var calls atomic.Int64
	p := NewPool(2, 4, 5*time.Millisecond, zerolog.Nop())
	p.Register(func() { calls.Add(1) })

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		p.Start(ctx)
		close(done)
	}()

	<-done
	if calls.Load() == 0 {
		t.Fatalf("expected at least one reclaim tick to run, got 0")
	}
}

func TestPoolRecoversFromPanickingReclaimer(t *testing.T) {
	var ran atomic.Bool
	p := NewPool(1, 2, 5*time.Millisecond, zerolog.Nop())
	p.Register(func() { panic("boom") })
	p.Register(func() { ran.Store(true) })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		p.Start(ctx)
		close(done)
	}()

	<-done
	if !ran.Load() {
		t.Fatalf("sibling reclaimer should still have run after a panic")
	}
}

func TestDroppedCountsWhenQueueFull(t *testing.T) {
	block := make(chan struct{})
	p := NewPool(1, 1, 2*time.Millisecond, zerolog.Nop())
	p.Register(func() { <-block })
	p.Register(func() {})
	p.Register(func() {})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		p.Start(ctx)
		close(done)
	}()

	time.Sleep(15 * time.Millisecond)
	if p.Dropped() == 0 {
		t.Fatalf("expected some ticks to be dropped under a full queue")
	}
	close(block)
	<-done
}
