// Package subscriber implements the subscriber port (spec §4.5, C5):
// a bounded, per-subscriber ring buffer of slot identifiers with FIFO
// delivery per publisher, safe-overflow eviction, and reclaim-on-
// disconnect. Grounded on the ring-buffer fan-out structure of
// go-server/pkg/websocket/ring_buffer.go (head/tail index bookkeeping
// over a fixed array) adapted to reference-counted slot entries rather
// than raw message bytes.
package subscriber

import (
	"sync"

	"github.com/adred-codev/zcbus/internal/monitoring"
	"github.com/adred-codev/zcbus/internal/segment"
	"github.com/adred-codev/zcbus/internal/types"
)

// slotOwner is the subset of *segment.SlotManager this package needs,
// so a Subscriber can release entries without import-cycling back
// into internal/port/publisher.
type slotOwner interface {
	Release(segment.SlotRef) int32
	Payload(segment.SlotRef) []byte
}

type queuedSample struct {
	manager slotOwner
	ref     segment.SlotRef
}

// Subscriber is one subscriber port's receive buffer.
type Subscriber struct {
	id          types.SubscriberId
	capacity    int
	serviceName string

	mu     sync.Mutex
	buf    []queuedSample
	head   int
	tail   int
	count  int
	closed bool
}

// New constructs a Subscriber with the given buffer_size (spec §3:
// buffer_size ≥ 1).
func New(id types.SubscriberId, bufferSize int) *Subscriber {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &Subscriber{
		id:       id,
		capacity: bufferSize,
		buf:      make([]queuedSample, bufferSize),
	}
}

// ID returns this port's identity.
func (s *Subscriber) ID() types.SubscriberId { return s.id }

// WithServiceName tags a Subscriber with the service name its metrics
// are reported under. Optional: an untagged subscriber reports under
// the empty-string service label.
func (s *Subscriber) WithServiceName(name string) *Subscriber {
	s.serviceName = name
	return s
}

// TryEnqueue attempts to push one slot reference. If the buffer is
// full and safeOverflow is true, the oldest entry is evicted (its
// slot released) to make room, per spec §4.4's safe-overflow
// interplay. Returns false if the buffer is full and safeOverflow is
// false (the DiscardSample/Block decision is the publisher's to make
// on a false return).
func (s *Subscriber) TryEnqueue(manager slotOwner, ref segment.SlotRef, safeOverflow bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	if s.count == s.capacity {
		if !safeOverflow {
			return false
		}
		evicted := s.buf[s.head]
		evicted.manager.Release(evicted.ref)
		s.head = (s.head + 1) % s.capacity
		s.count--
	}

	s.buf[s.tail] = queuedSample{manager: manager, ref: ref}
	s.tail = (s.tail + 1) % s.capacity
	s.count++
	return true
}

// Received is a read-only borrow of one delivered slot. Releasing it
// decrements the slot's refcount (spec §3, subscriber-side Sample).
type Received struct {
	manager  slotOwner
	ref      segment.SlotRef
	released bool
}

// Payload exposes the slot's bytes for reading.
func (r *Received) Payload() []byte { return r.manager.Payload(r.ref) }

// Release decrements the slot's refcount. Idempotent.
func (r *Received) Release() {
	if r.released {
		return
	}
	r.released = true
	r.manager.Release(r.ref)
}

// Receive pops the oldest queued slot identifier, FIFO across
// publishers in enqueue order (spec §4.5). Returns (nil, nil) when the
// buffer is empty — receive is non-blocking by design.
func (s *Subscriber) Receive() (*Received, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		monitoring.ReceivesTotal.WithLabelValues(s.serviceName, "connection_corrupted").Inc()
		return nil, types.ErrConnectionCorrupted
	}
	if s.count == 0 {
		monitoring.ReceivesTotal.WithLabelValues(s.serviceName, "empty").Inc()
		return nil, nil
	}
	item := s.buf[s.head]
	s.head = (s.head + 1) % s.capacity
	s.count--
	monitoring.ReceivesTotal.WithLabelValues(s.serviceName, "ok").Inc()
	return &Received{manager: item.manager, ref: item.ref}, nil
}

// HasSamples reports whether a Receive call would return a sample.
func (s *Subscriber) HasSamples() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count > 0
}

// Len returns the current number of undelivered entries.
func (s *Subscriber) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Close drops the subscriber: every slot identifier still queued is
// released so the owning publisher's arena is fully reclaimed even
// though receive() was never called on them (spec §4.5,
// reclaim-on-disconnect). Idempotent.
func (s *Subscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for s.count > 0 {
		item := s.buf[s.head]
		item.manager.Release(item.ref)
		s.head = (s.head + 1) % s.capacity
		s.count--
	}
	s.closed = true
}
