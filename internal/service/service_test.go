package service

import (
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/adred-codev/zcbus/internal/types"
)

func staticConfig(numSamples, maxSliceLen, subscriberBuffer int) types.StaticConfig {
	return types.StaticConfig{
		NumberOfPublishers:   8,
		NumberOfSubscribers:  16,
		NumberOfSamples:      numSamples,
		MaxSliceLen:          maxSliceLen,
		DataSegmentType:      types.Static,
		SubscriberBufferSize: subscriberBuffer,
		Payload:              types.TypeDetail{Size: 8, Alignment: 8, Variant: types.FixedSize},
	}
}

func mustNode(t *testing.T) *Node {
	t.Helper()
	n, err := NewNode()
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	return n
}

func newTestService(t *testing.T, name string, static types.StaticConfig) *Service {
	t.Helper()
	svc, err := Create(name, static, nil)
	if err != nil {
		t.Fatalf("create service: %v", err)
	}
	t.Cleanup(func() { Drop(name) })
	return svc
}

func u64Bytes(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

// Scenario 1 (spec §8): loan_uninit().write_payload(42).send(); a
// subscriber with default buffer receives a sample whose value == 42.
func TestLoanAndSendU64(t *testing.T) {
	svc := newTestService(t, "svc/scenario1", staticConfig(4, 1, 4))
	node := mustNode(t)
	svc.AttachNode(node)

	pub, err := svc.PublisherBuilder(node, PublisherOptions{MaxLoanedSamples: 2, UnableToDeliverPolicy: types.DiscardSample})
	if err != nil {
		t.Fatalf("publisher builder: %v", err)
	}
	sub, err := svc.SubscriberBuilder(node, 0, 0)
	if err != nil {
		t.Fatalf("subscriber builder: %v", err)
	}

	s, err := pub.LoanUninit()
	if err != nil {
		t.Fatalf("loan uninit: %v", err)
	}
	if err := s.WritePayload(u64Bytes(42)); err != nil {
		t.Fatalf("write payload: %v", err)
	}
	n, err := pub.Send(s)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if n != 1 {
		t.Fatalf("recipients = %d, want 1", n)
	}

	recv, err := sub.Receive()
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if recv == nil {
		t.Fatalf("receive returned nil, want a sample")
	}
	if got := binary.LittleEndian.Uint64(recv.Payload()); got != 42 {
		t.Fatalf("received value = %d, want 42", got)
	}
}

// Scenario 2: max_loaned_samples=2; three consecutive loan_uninit();
// the third fails with ExceedsMaxLoans; dropping one loan allows a new
// loan to succeed.
func TestMaxLoansExceeded(t *testing.T) {
	svc := newTestService(t, "svc/scenario2", staticConfig(8, 1, 4))
	node := mustNode(t)
	svc.AttachNode(node)

	pub, err := svc.PublisherBuilder(node, PublisherOptions{MaxLoanedSamples: 2})
	if err != nil {
		t.Fatalf("publisher builder: %v", err)
	}

	first, err := pub.LoanUninit()
	if err != nil {
		t.Fatalf("first loan: %v", err)
	}
	if _, err := pub.LoanUninit(); err != nil {
		t.Fatalf("second loan: %v", err)
	}
	if _, err := pub.LoanUninit(); err != types.ErrExceedsMaxLoans {
		t.Fatalf("third loan = %v, want ErrExceedsMaxLoans", err)
	}

	first.Drop()
	if _, err := pub.LoanUninit(); err != nil {
		t.Fatalf("loan after drop: %v", err)
	}
}

// Scenario 3: initial_max_slice_len=125; loan_slice(125) succeeds;
// loan_slice(126) fails with ExceedsMaxLoanSize.
func TestSliceBounds(t *testing.T) {
	static := staticConfig(4, 125, 4)
	static.Payload.Variant = types.DynamicSlice
	svc := newTestService(t, "svc/scenario3", static)
	node := mustNode(t)
	svc.AttachNode(node)

	pub, err := svc.PublisherBuilder(node, PublisherOptions{MaxLoanedSamples: 4})
	if err != nil {
		t.Fatalf("publisher builder: %v", err)
	}

	if _, err := pub.LoanSlice(125); err != nil {
		t.Fatalf("loan_slice(125) = %v, want nil", err)
	}
	if _, err := pub.LoanSlice(126); err != types.ErrExceedsMaxLoanSize {
		t.Fatalf("loan_slice(126) = %v, want ErrExceedsMaxLoanSize", err)
	}
}

// Scenario 5: subscriber_max_buffer_size=7, max_loaned_samples=2; for
// n in 0..4 create n subscribers, send 7 copies, drop all subscribers;
// finally loan().send() succeeds (no slot leaked).
func TestReclaimAfterSubscriberDisconnect(t *testing.T) {
	svc := newTestService(t, "svc/scenario5", staticConfig(10, 1, 7))
	pubNode := mustNode(t)
	svc.AttachNode(pubNode)

	pub, err := svc.PublisherBuilder(pubNode, PublisherOptions{MaxLoanedSamples: 2})
	if err != nil {
		t.Fatalf("publisher builder: %v", err)
	}

	for n := 0; n < 4; n++ {
		subNode := mustNode(t)
		svc.AttachNode(subNode)

		var subIds []types.SubscriberId
		for i := 0; i < n; i++ {
			sub, err := svc.SubscriberBuilder(subNode, 7, 0)
			if err != nil {
				t.Fatalf("n=%d: subscriber builder: %v", n, err)
			}
			subIds = append(subIds, sub.ID())
		}

		for i := 0; i < 7; i++ {
			if _, err := pub.SendCopy(u64Bytes(uint64(i))); err != nil {
				t.Fatalf("n=%d: send copy %d: %v", n, i, err)
			}
		}

		for _, id := range subIds {
			svc.ReleaseSubscriber(id)
		}
		subNode.MarkDead()
		svc.DetachNode(subNode)
	}

	s, err := pub.Loan()
	if err != nil {
		t.Fatalf("final loan: %v", err)
	}
	if _, err := pub.Send(s); err != nil {
		t.Fatalf("final send: %v", err)
	}
}

// Scenario 6: MAX_PUBLISHERS=8 publishers on one service; the set of
// publisher.ID() has cardinality 8.
func TestUniquePublisherIds(t *testing.T) {
	svc := newTestService(t, "svc/scenario6", staticConfig(2, 1, 2))
	node := mustNode(t)
	svc.AttachNode(node)

	seen := map[string]bool{}
	for i := 0; i < 8; i++ {
		pub, err := svc.PublisherBuilder(node, PublisherOptions{MaxLoanedSamples: 1})
		if err != nil {
			t.Fatalf("publisher %d: %v", i, err)
		}
		id := pub.ID().String()
		if seen[id] {
			t.Fatalf("duplicate publisher id: %s", id)
		}
		seen[id] = true
	}
	if len(seen) != 8 {
		t.Fatalf("len(seen) = %d, want 8", len(seen))
	}
	if _, err := svc.PublisherBuilder(node, PublisherOptions{MaxLoanedSamples: 1}); err != types.ErrExceedsMaxSupportedPublishers {
		t.Fatalf("9th publisher = %v, want ErrExceedsMaxSupportedPublishers", err)
	}
}

func TestCreateServiceTwiceFails(t *testing.T) {
	newTestService(t, "svc/dup", staticConfig(2, 1, 2))
	if _, err := Create("svc/dup", staticConfig(2, 1, 2), nil); err == nil {
		t.Fatalf("second Create for the same name should fail")
	}
}

func TestOpenUnknownServiceFails(t *testing.T) {
	if _, err := Open(fmt.Sprintf("svc/does-not-exist-%d", 1)); err == nil {
		t.Fatalf("Open of an unknown service should fail")
	}
}

func TestOpenAttachesToSameService(t *testing.T) {
	created := newTestService(t, "svc/open", staticConfig(2, 1, 2))
	opened, err := Open("svc/open")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if opened != created {
		t.Fatalf("Open returned a different *Service than Create")
	}
}
