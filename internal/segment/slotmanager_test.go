package segment

import (
	"testing"

	"github.com/adred-codev/zcbus/internal/types"
)

func fixedSizePayload() types.TypeDetail {
	return types.TypeDetail{Size: 8, Alignment: 8, Variant: types.FixedSize}
}

func slicePayload() types.TypeDetail {
	return types.TypeDetail{Size: 1, Alignment: 1, Variant: types.DynamicSlice}
}

func TestAcquireReleaseRefcountCycle(t *testing.T) {
	m, err := NewSlotManager(4, 8, 1, fixedSizePayload(), Policy{Type: types.Static})
	if err != nil {
		t.Fatalf("new slot manager: %v", err)
	}
	defer m.Close()

	ref, err := m.Acquire()
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if got, want := m.Refcount(ref), int32(1); got != want {
		t.Fatalf("Refcount() = %d, want %d", got, want)
	}

	m.Retain(ref)
	if got, want := m.Refcount(ref), int32(2); got != want {
		t.Fatalf("Refcount() after retain = %d, want %d", got, want)
	}

	if n := m.Release(ref); n != 1 {
		t.Fatalf("Release() = %d, want 1", n)
	}
	if n := m.Release(ref); n != 0 {
		t.Fatalf("Release() = %d, want 0", n)
	}
}

func TestAcquireExhaustionReportsOutOfMemory(t *testing.T) {
	m, err := NewSlotManager(2, 8, 1, fixedSizePayload(), Policy{Type: types.Static})
	if err != nil {
		t.Fatalf("new slot manager: %v", err)
	}
	defer m.Close()

	if _, err := m.Acquire(); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := m.Acquire(); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := m.Acquire(); err != types.ErrOutOfMemory {
		t.Fatalf("Acquire on exhausted static segment = %v, want ErrOutOfMemory", err)
	}
}

func TestAcquiredSlotIsReusableAfterRelease(t *testing.T) {
	m, err := NewSlotManager(1, 8, 1, fixedSizePayload(), Policy{Type: types.Static})
	if err != nil {
		t.Fatalf("new slot manager: %v", err)
	}
	defer m.Close()

	ref, err := m.Acquire()
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	m.Release(ref)

	if _, err := m.Acquire(); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

func TestFixedSizeRejectsSliceLengthOtherThanOne(t *testing.T) {
	m, err := NewSlotManager(4, 8, 4, fixedSizePayload(), Policy{Type: types.Static})
	if err != nil {
		t.Fatalf("new slot manager: %v", err)
	}
	defer m.Close()

	if _, err := m.AcquireSlice(2); err != types.ErrFixedSizeSliceLengthViolation {
		t.Fatalf("AcquireSlice(2) on FixedSize = %v, want ErrFixedSizeSliceLengthViolation", err)
	}
	if _, err := m.AcquireSlice(1); err != nil {
		t.Fatalf("AcquireSlice(1) on FixedSize: %v", err)
	}
}

func TestSliceBoundsAt125And126(t *testing.T) {
	m, err := NewSlotManager(1, 1, 125, slicePayload(), Policy{Type: types.Static})
	if err != nil {
		t.Fatalf("new slot manager: %v", err)
	}
	defer m.Close()

	if _, err := m.AcquireSlice(125); err != nil {
		t.Fatalf("AcquireSlice(125): %v", err)
	}

	m2, err := NewSlotManager(1, 1, 125, slicePayload(), Policy{Type: types.Static})
	if err != nil {
		t.Fatalf("new slot manager: %v", err)
	}
	defer m2.Close()

	if _, err := m2.AcquireSlice(126); err != types.ErrExceedsMaxLoanSize {
		t.Fatalf("AcquireSlice(126) = %v, want ErrExceedsMaxLoanSize", err)
	}
}

func TestDynamicPolicyGrowsNewSegmentWhenExhausted(t *testing.T) {
	m, err := NewSlotManager(1, 8, 1, slicePayload(), Policy{Type: types.Dynamic, MaxNumberOfSegments: 3})
	if err != nil {
		t.Fatalf("new slot manager: %v", err)
	}
	defer m.Close()

	if _, err := m.Acquire(); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if got, want := m.NumberOfSegments(), 1; got != want {
		t.Fatalf("NumberOfSegments() = %d, want %d", got, want)
	}

	if _, err := m.Acquire(); err != nil {
		t.Fatalf("acquire triggering growth: %v", err)
	}
	if got, want := m.NumberOfSegments(), 2; got != want {
		t.Fatalf("NumberOfSegments() after growth = %d, want %d", got, want)
	}
}

func TestDynamicPolicyRespectsMaxNumberOfSegments(t *testing.T) {
	m, err := NewSlotManager(1, 8, 1, slicePayload(), Policy{Type: types.Dynamic, MaxNumberOfSegments: 1})
	if err != nil {
		t.Fatalf("new slot manager: %v", err)
	}
	defer m.Close()

	if _, err := m.Acquire(); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := m.Acquire(); err != types.ErrOutOfMemory {
		t.Fatalf("Acquire beyond MaxNumberOfSegments = %v, want ErrOutOfMemory", err)
	}
}

func TestPayloadWriteAndReadRoundTrip(t *testing.T) {
	m, err := NewSlotManager(1, 8, 1, fixedSizePayload(), Policy{Type: types.Static})
	if err != nil {
		t.Fatalf("new slot manager: %v", err)
	}
	defer m.Close()

	ref, err := m.Acquire()
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	payload := m.Payload(ref)
	if len(payload) != 8 {
		t.Fatalf("Payload() len = %d, want 8", len(payload))
	}
	payload[0] = 42
	m.MarkInitialized(ref)

	if !m.Initialized(ref) {
		t.Fatalf("Initialized() = false, want true after MarkInitialized")
	}
	if got := m.Payload(ref)[0]; got != 42 {
		t.Fatalf("Payload()[0] = %d, want 42", got)
	}
}
