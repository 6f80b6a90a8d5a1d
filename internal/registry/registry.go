// Package registry implements the dynamic config registry (spec §4.2,
// C2): the live, shared-visible list of publishers and subscribers
// currently attached to a service, built on top of internal/container's
// fixed-capacity handle set. It is grounded on the original iceoryx2
// DynamicConfig (service/dynamic_config/publish_subscribe.rs), most
// directly its add/release pair and its remove_dead_node_id sweep that
// processes publishers before subscribers.
package registry

import (
	"fmt"

	"github.com/adred-codev/zcbus/internal/container"
	"github.com/adred-codev/zcbus/internal/monitoring"
	"github.com/adred-codev/zcbus/internal/types"
)

// PublisherDetails is the record kept for one attached publisher port.
type PublisherDetails struct {
	PublisherId types.PublisherId
	NodeId      types.NodeId
	Mode        types.Mode
}

// SubscriberDetails is the record kept for one attached subscriber port.
type SubscriberDetails struct {
	SubscriberId types.SubscriberId
	NodeId       types.NodeId
	BufferSize   int
	Mode         types.Mode
}

// DynamicConfig is the live publisher/subscriber membership for one
// service. Capacities are fixed at construction (spec: "no dynamic
// re-allocation of per-service capacities after service creation").
type DynamicConfig struct {
	serviceName string
	publishers  *container.Container[PublisherDetails]
	subscribers *container.Container[SubscriberDetails]
}

// WithServiceName tags a DynamicConfig with the service name its
// metrics are reported under. Optional: an untagged registry simply
// reports under the empty-string service label.
func (d *DynamicConfig) WithServiceName(name string) *DynamicConfig {
	d.serviceName = name
	return d
}

// MemorySize returns the bytes New/Init need from an allocator, the
// sum of both member containers' sizes — mirroring the original
// DynamicConfig::memory_size.
func MemorySize(settings types.DynamicConfigSettings) int {
	return container.MemorySize[PublisherDetails](settings.NumberOfPublishers) +
		container.MemorySize[SubscriberDetails](settings.NumberOfSubscribers)
}

// New constructs a ready-to-use, in-process DynamicConfig.
func New(settings types.DynamicConfigSettings) *DynamicConfig {
	return &DynamicConfig{
		publishers:  container.New[PublisherDetails](settings.NumberOfPublishers),
		subscribers: container.New[SubscriberDetails](settings.NumberOfSubscribers),
	}
}

// NewUninit begins the two-phase, shared-memory-placeable construction.
func NewUninit(settings types.DynamicConfigSettings) *DynamicConfig {
	return &DynamicConfig{
		publishers:  container.NewUninit[PublisherDetails](settings.NumberOfPublishers),
		subscribers: container.NewUninit[SubscriberDetails](settings.NumberOfSubscribers),
	}
}

// Init completes construction of a DynamicConfig produced by NewUninit.
func (d *DynamicConfig) Init(allocator container.Allocator) error {
	if err := d.publishers.Init(allocator); err != nil {
		return fmt.Errorf("registry: init publishers: %w", err)
	}
	if err := d.subscribers.Init(allocator); err != nil {
		return fmt.Errorf("registry: init subscribers: %w", err)
	}
	return nil
}

// NumberOfPublishers returns the current live publisher count.
func (d *DynamicConfig) NumberOfPublishers() int { return d.publishers.Len() }

// NumberOfSubscribers returns the current live subscriber count.
func (d *DynamicConfig) NumberOfSubscribers() int { return d.subscribers.Len() }

// PublisherHandle is an opaque reference returned by AddPublisher,
// required by ReleasePublisher to release the slot.
type PublisherHandle container.Handle

// SubscriberHandle is an opaque reference returned by AddSubscriber,
// required by ReleaseSubscriber to release the slot.
type SubscriberHandle container.Handle

// AddPublisher registers a new publisher, returning
// types.ErrExceedsMaxSupportedPublishers if the registry is at capacity
// for this service (spec §4.2, §7).
func (d *DynamicConfig) AddPublisher(details PublisherDetails) (PublisherHandle, error) {
	h, err := d.publishers.Add(details)
	if err != nil {
		return PublisherHandle{}, types.ErrExceedsMaxSupportedPublishers
	}
	monitoring.RegistryPublishers.WithLabelValues(d.serviceName).Set(float64(d.publishers.Len()))
	return PublisherHandle(h), nil
}

// ReleasePublisher releases a publisher slot. Idempotent, per
// Container.Remove's double-remove contract.
func (d *DynamicConfig) ReleasePublisher(h PublisherHandle) {
	d.publishers.Remove(container.Handle(h), container.Default)
	monitoring.RegistryPublishers.WithLabelValues(d.serviceName).Set(float64(d.publishers.Len()))
}

// AddSubscriber registers a new subscriber, returning
// types.ErrExceedsMaxSupportedSubscribers if the registry is at
// capacity for this service.
func (d *DynamicConfig) AddSubscriber(details SubscriberDetails) (SubscriberHandle, error) {
	h, err := d.subscribers.Add(details)
	if err != nil {
		return SubscriberHandle{}, types.ErrExceedsMaxSupportedSubscribers
	}
	monitoring.RegistrySubscribers.WithLabelValues(d.serviceName).Set(float64(d.subscribers.Len()))
	return SubscriberHandle(h), nil
}

// ReleaseSubscriber releases a subscriber slot. Idempotent.
func (d *DynamicConfig) ReleaseSubscriber(h SubscriberHandle) {
	d.subscribers.Remove(container.Handle(h), container.Default)
	monitoring.RegistrySubscribers.WithLabelValues(d.serviceName).Set(float64(d.subscribers.Len()))
}

// ListPublishers invokes f for every currently attached publisher,
// stopping early if f returns types.Stop. f observes a consistent
// point-in-time snapshot (see container.Container.GetState).
func (d *DynamicConfig) ListPublishers(f func(PublisherDetails) types.CallbackProgression) {
	snap := d.publishers.GetState()
	snap.ForEach(func(_ container.Handle, v *PublisherDetails) types.CallbackProgression {
		return f(*v)
	})
}

// ListSubscribers invokes f for every currently attached subscriber,
// stopping early if f returns types.Stop.
func (d *DynamicConfig) ListSubscribers(f func(SubscriberDetails) types.CallbackProgression) {
	snap := d.subscribers.GetState()
	snap.ForEach(func(_ container.Handle, v *SubscriberDetails) types.CallbackProgression {
		return f(*v)
	})
}

// RemoveDeadNode sweeps every publisher and subscriber owned by
// deadNode, invoking cleanup for each before releasing its slot.
// Publishers are processed before subscribers, matching the original
// remove_dead_node_id: a reader racing the sweep should never observe a
// subscriber outlive the publisher it was receiving from.
func (d *DynamicConfig) RemoveDeadNode(deadNode types.NodeId, cleanup func(types.UniquePortId) types.PortCleanupAction) {
	var deadPublishers []PublisherHandle
	snapPub := d.publishers.GetState()
	snapPub.ForEach(func(h container.Handle, v *PublisherDetails) types.CallbackProgression {
		if v.NodeId != deadNode {
			return types.Continue
		}
		action := cleanup(types.UniquePortId{IsPublisher: true, Publisher: v.PublisherId})
		if action == types.RemovePort {
			deadPublishers = append(deadPublishers, PublisherHandle(h))
		}
		return types.Continue
	})
	for _, h := range deadPublishers {
		d.ReleasePublisher(h)
	}
	if len(deadPublishers) > 0 {
		monitoring.DeadNodeReclaimsTotal.WithLabelValues(d.serviceName, "publisher").Add(float64(len(deadPublishers)))
	}

	var deadSubscribers []SubscriberHandle
	snapSub := d.subscribers.GetState()
	snapSub.ForEach(func(h container.Handle, v *SubscriberDetails) types.CallbackProgression {
		if v.NodeId != deadNode {
			return types.Continue
		}
		action := cleanup(types.UniquePortId{IsPublisher: false, Subscriber: v.SubscriberId})
		if action == types.RemovePort {
			deadSubscribers = append(deadSubscribers, SubscriberHandle(h))
		}
		return types.Continue
	})
	for _, h := range deadSubscribers {
		d.ReleaseSubscriber(h)
	}
	if len(deadSubscribers) > 0 {
		monitoring.DeadNodeReclaimsTotal.WithLabelValues(d.serviceName, "subscriber").Add(float64(len(deadSubscribers)))
	}
}
