package registry

import (
	"testing"

	"github.com/adred-codev/zcbus/internal/types"
)

func settings(pubs, subs int) types.DynamicConfigSettings {
	return types.DynamicConfigSettings{NumberOfPublishers: pubs, NumberOfSubscribers: subs}
}

func TestAddReleasePublisherAccounting(t *testing.T) {
	d := New(settings(2, 2))
	node, err := types.NewNodeId()
	if err != nil {
		t.Fatalf("new node id: %v", err)
	}

	h1, err := d.AddPublisher(PublisherDetails{PublisherId: types.PublisherId{NodeId: node, Value: 1}, NodeId: node})
	if err != nil {
		t.Fatalf("add publisher: %v", err)
	}
	if _, err := d.AddPublisher(PublisherDetails{PublisherId: types.PublisherId{NodeId: node, Value: 2}, NodeId: node}); err != nil {
		t.Fatalf("add publisher: %v", err)
	}
	if got, want := d.NumberOfPublishers(), 2; got != want {
		t.Fatalf("NumberOfPublishers() = %d, want %d", got, want)
	}

	if _, err := d.AddPublisher(PublisherDetails{NodeId: node}); err != types.ErrExceedsMaxSupportedPublishers {
		t.Fatalf("add publisher over capacity = %v, want ErrExceedsMaxSupportedPublishers", err)
	}

	d.ReleasePublisher(h1)
	if got, want := d.NumberOfPublishers(), 1; got != want {
		t.Fatalf("NumberOfPublishers() after release = %d, want %d", got, want)
	}

	// Idempotent double release.
	d.ReleasePublisher(h1)
	if got, want := d.NumberOfPublishers(), 1; got != want {
		t.Fatalf("NumberOfPublishers() after double release = %d, want %d", got, want)
	}
}

func TestAddReleaseSubscriberAccounting(t *testing.T) {
	d := New(settings(1, 1))
	node, _ := types.NewNodeId()

	h, err := d.AddSubscriber(SubscriberDetails{SubscriberId: types.SubscriberId{NodeId: node, Value: 1}, NodeId: node, BufferSize: 16})
	if err != nil {
		t.Fatalf("add subscriber: %v", err)
	}
	if got, want := d.NumberOfSubscribers(), 1; got != want {
		t.Fatalf("NumberOfSubscribers() = %d, want %d", got, want)
	}

	if _, err := d.AddSubscriber(SubscriberDetails{NodeId: node}); err != types.ErrExceedsMaxSupportedSubscribers {
		t.Fatalf("add subscriber over capacity = %v, want ErrExceedsMaxSupportedSubscribers", err)
	}

	d.ReleaseSubscriber(h)
	if got, want := d.NumberOfSubscribers(), 0; got != want {
		t.Fatalf("NumberOfSubscribers() after release = %d, want %d", got, want)
	}
}

func TestListPublishersStopsEarly(t *testing.T) {
	d := New(settings(4, 0))
	node, _ := types.NewNodeId()
	for i := 0; i < 4; i++ {
		if _, err := d.AddPublisher(PublisherDetails{PublisherId: types.PublisherId{NodeId: node, Value: uint64(i)}, NodeId: node}); err != nil {
			t.Fatalf("add publisher: %v", err)
		}
	}

	seen := 0
	d.ListPublishers(func(PublisherDetails) types.CallbackProgression {
		seen++
		if seen == 2 {
			return types.Stop
		}
		return types.Continue
	})
	if seen != 2 {
		t.Fatalf("ListPublishers visited %d, want 2", seen)
	}
}

func TestRemoveDeadNodeProcessesPublishersBeforeSubscribers(t *testing.T) {
	d := New(settings(1, 1))
	deadNode, _ := types.NewNodeId()
	liveNode, _ := types.NewNodeId()

	pubId := types.PublisherId{NodeId: deadNode, Value: 1}
	subId := types.SubscriberId{NodeId: deadNode, Value: 1}
	if _, err := d.AddPublisher(PublisherDetails{PublisherId: pubId, NodeId: deadNode}); err != nil {
		t.Fatalf("add publisher: %v", err)
	}
	if _, err := d.AddSubscriber(SubscriberDetails{SubscriberId: subId, NodeId: deadNode}); err != nil {
		t.Fatalf("add subscriber: %v", err)
	}

	var order []bool // true = publisher cleanup, false = subscriber cleanup
	d.RemoveDeadNode(deadNode, func(p types.UniquePortId) types.PortCleanupAction {
		order = append(order, p.IsPublisher)
		return types.RemovePort
	})

	if len(order) != 2 || order[0] != true || order[1] != false {
		t.Fatalf("cleanup order = %v, want [publisher, subscriber]", order)
	}
	if d.NumberOfPublishers() != 0 || d.NumberOfSubscribers() != 0 {
		t.Fatalf("dead node's ports not released: pubs=%d subs=%d", d.NumberOfPublishers(), d.NumberOfSubscribers())
	}

	// A live node's ports must survive the sweep.
	d2 := New(settings(1, 0))
	if _, err := d2.AddPublisher(PublisherDetails{PublisherId: types.PublisherId{NodeId: liveNode, Value: 1}, NodeId: liveNode}); err != nil {
		t.Fatalf("add publisher: %v", err)
	}
	d2.RemoveDeadNode(deadNode, func(types.UniquePortId) types.PortCleanupAction { return types.RemovePort })
	if d2.NumberOfPublishers() != 1 {
		t.Fatalf("live node's publisher was swept, NumberOfPublishers() = %d, want 1", d2.NumberOfPublishers())
	}
}

func TestRemoveDeadNodeSkipPortRetainsSlot(t *testing.T) {
	d := New(settings(1, 0))
	deadNode, _ := types.NewNodeId()
	if _, err := d.AddPublisher(PublisherDetails{PublisherId: types.PublisherId{NodeId: deadNode, Value: 1}, NodeId: deadNode}); err != nil {
		t.Fatalf("add publisher: %v", err)
	}

	d.RemoveDeadNode(deadNode, func(types.UniquePortId) types.PortCleanupAction { return types.SkipPort })
	if d.NumberOfPublishers() != 1 {
		t.Fatalf("SkipPort should retain the slot, NumberOfPublishers() = %d, want 1", d.NumberOfPublishers())
	}
}

func TestMemorySizeIsSumOfBothContainers(t *testing.T) {
	s := settings(8, 16)
	size := MemorySize(s)
	if size <= 0 {
		t.Fatalf("MemorySize = %d, want > 0", size)
	}

	alloc := &fakeAllocator{}
	d := NewUninit(s)
	if err := d.Init(alloc); err != nil {
		t.Fatalf("init: %v", err)
	}
	if alloc.total != size {
		t.Fatalf("Init requested %d bytes total, want %d", alloc.total, size)
	}
}

type fakeAllocator struct {
	total int
}

func (f *fakeAllocator) Alloc(size int) ([]byte, error) {
	f.total += size
	return make([]byte, size), nil
}
