package sample

import (
	"testing"

	"github.com/adred-codev/zcbus/internal/segment"
	"github.com/adred-codev/zcbus/internal/types"
)

type fakeManager struct {
	buf          []byte
	released     int
	initialized  bool
	releaseCount int
}

func (f *fakeManager) Release(segment.SlotRef) int32 {
	f.releaseCount++
	f.released = 1
	return 0
}
func (f *fakeManager) MarkInitialized(segment.SlotRef) { f.initialized = true }
func (f *fakeManager) Payload(segment.SlotRef) []byte  { return f.buf }

func TestWritePayloadThenSend(t *testing.T) {
	m := &fakeManager{buf: make([]byte, 8)}
	s := NewUninit(m, segment.SlotRef{})

	if err := s.WritePayload([]byte{1, 2, 3, 4, 5, 6, 7, 8}); err != nil {
		t.Fatalf("write payload: %v", err)
	}
	if !m.initialized {
		t.Fatalf("MarkInitialized was not called")
	}
	if err := s.MarkSent(); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	if !s.IsConsumed() {
		t.Fatalf("IsConsumed() = false after send")
	}
}

func TestDoubleSendReturnsAlreadySent(t *testing.T) {
	m := &fakeManager{buf: make([]byte, 8)}
	s := NewUninit(m, segment.SlotRef{})
	_ = s.WritePayload([]byte{0, 0, 0, 0, 0, 0, 0, 0})

	if err := s.MarkSent(); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if err := s.MarkSent(); err != types.ErrAlreadySent {
		t.Fatalf("second send = %v, want ErrAlreadySent", err)
	}
}

func TestSendBeforeWritePayloadFails(t *testing.T) {
	m := &fakeManager{buf: make([]byte, 8)}
	s := NewUninit(m, segment.SlotRef{})

	if err := s.MarkSent(); err != types.ErrAlreadySent {
		t.Fatalf("send on Uninitialised sample = %v, want ErrAlreadySent", err)
	}
}

func TestDropWithoutSendReleasesSlot(t *testing.T) {
	m := &fakeManager{buf: make([]byte, 8)}
	s := NewUninit(m, segment.SlotRef{})
	_ = s.WritePayload([]byte{0, 0, 0, 0, 0, 0, 0, 0})

	n := s.Drop()
	if n != 0 {
		t.Fatalf("Drop() refcount = %d, want 0", n)
	}
	if m.releaseCount != 1 {
		t.Fatalf("Release called %d times, want 1", m.releaseCount)
	}

	// Double-drop is a no-op, not a second release.
	if n := s.Drop(); n != -1 {
		t.Fatalf("second Drop() = %d, want -1 (no-op)", n)
	}
	if m.releaseCount != 1 {
		t.Fatalf("Release called %d times after double drop, want 1", m.releaseCount)
	}
}

func TestLoanDefaultFillsViaNewInitialised(t *testing.T) {
	m := &fakeManager{buf: make([]byte, 8)}
	s := NewInitialised(m, segment.SlotRef{})
	if !m.initialized {
		t.Fatalf("NewInitialised did not mark the slot initialized")
	}
	if err := s.MarkSent(); err != nil {
		t.Fatalf("send a default-filled loan: %v", err)
	}
}

func TestAssumeInitAllowsSendAfterManualWrite(t *testing.T) {
	m := &fakeManager{buf: make([]byte, 8)}
	s := NewUninit(m, segment.SlotRef{})
	copy(m.buf, []byte{9, 9, 9, 9, 9, 9, 9, 9})

	if err := s.AssumeInit(); err != nil {
		t.Fatalf("assume init: %v", err)
	}
	if err := s.MarkSent(); err != nil {
		t.Fatalf("send after assume init: %v", err)
	}
}

func TestPayloadAfterSendFails(t *testing.T) {
	m := &fakeManager{buf: make([]byte, 8)}
	s := NewUninit(m, segment.SlotRef{})
	_ = s.WritePayload([]byte{0, 0, 0, 0, 0, 0, 0, 0})
	_ = s.MarkSent()

	if _, err := s.Payload(); err != types.ErrInternalFailure {
		t.Fatalf("Payload() after send = %v, want ErrInternalFailure", err)
	}
}
