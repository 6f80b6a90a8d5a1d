// Package sample implements the Sample handle and state machine (spec
// §4.6, C6): the linear uninit→init→sent/dropped token a publisher
// loans and a subscriber borrows. There is no real FFI boundary in
// this module (spec §6's ABI projection is out of scope), but the
// "empty on send" runtime enforcement it describes is still honored
// here so the state machine behaves identically to what a foreign
// binding built on top of it would require.
package sample

import (
	"sync/atomic"

	"github.com/adred-codev/zcbus/internal/segment"
	"github.com/adred-codev/zcbus/internal/types"
)

// state is the token's current lifecycle stage.
type state int32

const (
	stateUninitialised state = iota
	stateInitialised
	stateConsumed // Sent or Dropped; any further use is AlreadySent
)

// slotReleaser is the subset of *segment.SlotManager a Sample needs,
// kept as an interface so tests can substitute a fake without mapping
// real memory.
type slotReleaser interface {
	Release(segment.SlotRef) int32
	MarkInitialized(segment.SlotRef)
	Payload(segment.SlotRef) []byte
}

// Sample is a publisher-side linear token over one loaned slot. The
// zero value is not usable; obtain one from a publisher port's
// LoanUninit/Loan.
//
// Sample is not safe for concurrent use by multiple goroutines: spec
// §3 states at most one publisher-side token exists per slot, so
// there is exactly one owning goroutine at a time by construction.
type Sample struct {
	manager  slotReleaser
	ref      segment.SlotRef
	state    atomic.Int32
	consumed bool // set once Send/Drop has run, guards double-release
}

// NewUninit wraps a freshly acquired, not-yet-written slot.
func NewUninit(manager slotReleaser, ref segment.SlotRef) *Sample {
	s := &Sample{manager: manager, ref: ref}
	s.state.Store(int32(stateUninitialised))
	return s
}

// NewInitialised wraps a slot that is already default-filled (the
// loan() path, as opposed to loan_uninit()).
func NewInitialised(manager slotReleaser, ref segment.SlotRef) *Sample {
	s := &Sample{manager: manager, ref: ref}
	s.state.Store(int32(stateInitialised))
	manager.MarkInitialized(ref)
	return s
}

// Payload exposes the slot's raw bytes for writing. Calling it on a
// consumed Sample is a programming error the spec treats as a bug
// (internal invariant violation), not a recoverable condition; this
// implementation still reports it as InternalFailure rather than
// panicking, since there is no foreign boundary here to abort across.
func (s *Sample) Payload() ([]byte, error) {
	if state(s.state.Load()) == stateConsumed {
		return nil, types.ErrInternalFailure
	}
	return s.manager.Payload(s.ref), nil
}

// WritePayload consumes an UninitSample and yields an InitSample,
// copying v's bytes into the slot (spec §4.6).
func (s *Sample) WritePayload(v []byte) error {
	if !s.state.CompareAndSwap(int32(stateUninitialised), int32(stateInitialised)) {
		return types.ErrAlreadySent
	}
	copy(s.manager.Payload(s.ref), v)
	s.manager.MarkInitialized(s.ref)
	return nil
}

// AssumeInit allows send on an UninitSample without an explicit
// WritePayload call, per spec §4.6 ("send consumes an InitSample, or
// an UninitSample after explicit assume_init"). The caller attests the
// memory already holds a valid value.
func (s *Sample) AssumeInit() error {
	if !s.state.CompareAndSwap(int32(stateUninitialised), int32(stateInitialised)) {
		if state(s.state.Load()) == stateInitialised {
			return nil
		}
		return types.ErrAlreadySent
	}
	return nil
}

// Ref exposes the underlying slot reference for the publisher port's
// delivery algorithm (enqueue/retain) to use once this Sample is sent.
func (s *Sample) Ref() segment.SlotRef { return s.ref }

// MarkSent transitions an Initialised Sample to its terminal state.
// Returns types.ErrAlreadySent if called twice, which is the
// "detect and report, not silent double-free" contract spec §4.6
// requires of the foreign-binding move primitive.
func (s *Sample) MarkSent() error {
	if !s.state.CompareAndSwap(int32(stateInitialised), int32(stateConsumed)) {
		return types.ErrAlreadySent
	}
	s.consumed = true
	return nil
}

// Drop releases the slot without sending. A no-op if the sample was
// already sent or already dropped (idempotent, mirrors Container's
// double-remove contract). Returns the slot's post-release refcount,
// or -1 if this call was a no-op.
func (s *Sample) Drop() int32 {
	if !s.state.CompareAndSwap(int32(stateInitialised), int32(stateConsumed)) &&
		!s.state.CompareAndSwap(int32(stateUninitialised), int32(stateConsumed)) {
		return -1
	}
	s.consumed = true
	return s.manager.Release(s.ref)
}

// IsConsumed reports whether Send or Drop has already run.
func (s *Sample) IsConsumed() bool { return s.consumed }
