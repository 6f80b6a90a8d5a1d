package segment

import (
	"sync"
	"sync/atomic"

	"github.com/adred-codev/zcbus/internal/types"
)

// SlotRef is a stable reference to one acquired slot. The zero value
// refers to slot 0 of the first segment.
type SlotRef struct {
	segment int32
	index   int32
}

func (r SlotRef) valid() bool { return r.index >= 0 }

type slotMeta struct {
	refcount     atomic.Int32
	initialized  atomic.Bool
	elementCount atomic.Int32
	next         atomic.Int32 // free-list link, -1 terminates
}

// segmentInstance is one mapped arena plus the fixed-stride slot
// metadata carved out of it. Static policy ever has exactly one;
// Dynamic policy grows a new one in as its predecessor fills, up to
// MaxNumberOfSegments.
type segmentInstance struct {
	arena    *Arena
	slots    []slotMeta
	freeHead atomic.Uint64 // packed free-list head, same encoding as internal/container
	stride   int           // bytes reserved per element
}

func packHead(index int32, tag uint32) uint64 {
	return uint64(uint32(index))<<32 | uint64(tag)
}

func unpackIndex(h uint64) int32 { return int32(uint32(h >> 32)) }
func unpackTag(h uint64) uint32  { return uint32(h) }

func newSegmentInstance(capacity int, stride int) (*segmentInstance, error) {
	arena, err := NewArena(capacity * stride)
	if err != nil {
		return nil, err
	}
	s := &segmentInstance{arena: arena, slots: make([]slotMeta, capacity), stride: stride}
	for i := range s.slots {
		if i == len(s.slots)-1 {
			s.slots[i].next.Store(-1)
		} else {
			s.slots[i].next.Store(int32(i + 1))
		}
	}
	s.freeHead.Store(packHead(0, 0))
	return s, nil
}

// acquire pops one free slot, or reports false if the segment is full.
func (s *segmentInstance) acquire() (int32, bool) {
	for {
		old := s.freeHead.Load()
		idx := unpackIndex(old)
		if idx < 0 || int(idx) >= len(s.slots) {
			return 0, false
		}
		next := s.slots[idx].next.Load()
		newHead := packHead(next, unpackTag(old)+1)
		if s.freeHead.CompareAndSwap(old, newHead) {
			return idx, true
		}
	}
}

func (s *segmentInstance) free(idx int32) {
	for {
		old := s.freeHead.Load()
		s.slots[idx].next.Store(unpackIndex(old))
		newHead := packHead(idx, unpackTag(old)+1)
		if s.freeHead.CompareAndSwap(old, newHead) {
			return
		}
	}
}

// Policy selects how a manager grows its segments, mirroring
// types.DataSegmentType.
type Policy struct {
	Type                types.DataSegmentType
	MaxNumberOfSegments uint8
}

// SlotManager owns one publisher's data segment(s). Acquire/Retain/
// Release implement the free-list and refcount contract of spec §4.3;
// AcquireSlice additionally enforces the fixed-size-type and
// max-loan-size invariants.
type SlotManager struct {
	mu sync.Mutex

	segmentCapacity int
	elementStride   int
	maxSliceLen     int
	payload         types.TypeDetail
	policy          Policy

	segments []*segmentInstance
}

// NewSlotManager builds a manager for numberOfSamples slots of
// elementStride*maxSliceLen bytes each, under policy.
func NewSlotManager(numberOfSamples, elementStride, maxSliceLen int, payload types.TypeDetail, policy Policy) (*SlotManager, error) {
	m := &SlotManager{
		segmentCapacity: numberOfSamples,
		elementStride:   elementStride,
		maxSliceLen:     maxSliceLen,
		payload:         payload,
		policy:          policy,
	}
	first, err := newSegmentInstance(numberOfSamples, elementStride*maxSliceLen)
	if err != nil {
		return nil, types.NewError(types.UnableToCreateDataSegment, err.Error())
	}
	m.segments = append(m.segments, first)
	return m, nil
}

// Acquire reserves one element's worth of slot, refcount 1.
func (m *SlotManager) Acquire() (SlotRef, error) {
	return m.acquireN(1)
}

// AcquireSlice reserves a contiguous n-element slot. For a FixedSize
// payload type only n == 1 is permitted (spec §3, §4.3); any other n
// is a protocol-misuse error, not a capacity error.
func (m *SlotManager) AcquireSlice(n int) (SlotRef, error) {
	if !m.payload.AllowsSlice(n) {
		return SlotRef{}, types.ErrFixedSizeSliceLengthViolation
	}
	if n > m.maxSliceLen {
		return SlotRef{}, types.ErrExceedsMaxLoanSize
	}
	return m.acquireN(n)
}

func stampSlot(seg *segmentInstance, idx int32, n int) {
	seg.slots[idx].refcount.Store(1)
	seg.slots[idx].initialized.Store(false)
	seg.slots[idx].elementCount.Store(int32(n))
}

func (m *SlotManager) acquireN(n int) (SlotRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for segIdx, seg := range m.segments {
		if idx, ok := seg.acquire(); ok {
			stampSlot(seg, idx, n)
			return SlotRef{segment: int32(segIdx), index: idx}, nil
		}
	}

	if m.policy.Type != types.Dynamic || len(m.segments) >= int(m.policy.MaxNumberOfSegments) {
		return SlotRef{}, types.ErrOutOfMemory
	}

	next, err := newSegmentInstance(m.segmentCapacity, m.elementStride*m.maxSliceLen)
	if err != nil {
		return SlotRef{}, types.NewError(types.UnableToCreateDataSegment, err.Error())
	}
	m.segments = append(m.segments, next)
	idx, ok := next.acquire()
	if !ok {
		return SlotRef{}, types.ErrOutOfMemory
	}
	stampSlot(next, idx, n)
	return SlotRef{segment: int32(len(m.segments) - 1), index: idx}, nil
}

// Retain increments a slot's refcount, used when a publisher enqueues
// the same sample into an additional subscriber's queue.
func (m *SlotManager) Retain(ref SlotRef) {
	m.segments[ref.segment].slots[ref.index].refcount.Add(1)
}

// Release decrements a slot's refcount; at zero the slot returns to
// its segment's free list. Returns the post-decrement refcount.
func (m *SlotManager) Release(ref SlotRef) int32 {
	seg := m.segments[ref.segment]
	n := seg.slots[ref.index].refcount.Add(-1)
	if n == 0 {
		seg.slots[ref.index].initialized.Store(false)
		seg.free(ref.index)
	}
	return n
}

// Refcount reports a slot's current reference count.
func (m *SlotManager) Refcount(ref SlotRef) int32 {
	return m.segments[ref.segment].slots[ref.index].refcount.Load()
}

// MarkInitialized records that the publisher has written a valid
// value into ref (write_payload/loan default-fill transition, spec
// §3).
func (m *SlotManager) MarkInitialized(ref SlotRef) {
	m.segments[ref.segment].slots[ref.index].initialized.Store(true)
}

// Initialized reports whether ref's payload has been written.
func (m *SlotManager) Initialized(ref SlotRef) bool {
	return m.segments[ref.segment].slots[ref.index].initialized.Load()
}

// ElementCount reports how many elements ref covers (1 for a
// non-slice loan).
func (m *SlotManager) ElementCount(ref SlotRef) int {
	return int(m.segments[ref.segment].slots[ref.index].elementCount.Load())
}

// Payload returns the raw byte view ref covers, sized to the slot's
// current element count.
func (m *SlotManager) Payload(ref SlotRef) []byte {
	seg := m.segments[ref.segment]
	n := int(seg.slots[ref.index].elementCount.Load())
	start := int(ref.index) * m.elementStride * m.maxSliceLen
	end := start + n*m.elementStride
	return seg.arena.Bytes()[start:end]
}

// Close unmaps every backing segment. Not safe to call while any slot
// is still in flight.
func (m *SlotManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for _, seg := range m.segments {
		if err := seg.arena.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// NumberOfSegments reports how many arenas are currently mapped,
// useful for tests asserting Dynamic growth behavior.
func (m *SlotManager) NumberOfSegments() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.segments)
}
