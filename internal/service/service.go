// Package service implements the Node and Service front door (spec
// §4.7, C7): the thin layer spec.md §1 treats as an external
// collaborator (Node/Service bootstrap, filesystem discovery) but a
// complete repository still needs to actually hand out working
// Publisher/Subscriber ports. A Service owns the registry (C2) and,
// per publisher, a data segment (C3); a Node owns zero or more ports
// across zero or more Services and tracks its own liveness for the
// dead-node reclamation path (spec §4.2, §4.4).
//
// Cross-process shared memory and a real multi-process rendezvous are
// explicitly out of scope (spec §1's "concrete shared-memory allocator
// and its segment layout" and "Node and Service bootstrap"); Service
// here is a single-process stand-in that every other component in
// this repository is written against, so swapping in a real allocator
// later only touches this package and internal/segment.Arena.
package service

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adred-codev/zcbus/internal/monitoring"
	"github.com/adred-codev/zcbus/internal/port/publisher"
	"github.com/adred-codev/zcbus/internal/port/subscriber"
	"github.com/adred-codev/zcbus/internal/registry"
	"github.com/adred-codev/zcbus/internal/segment"
	"github.com/adred-codev/zcbus/internal/sweep"
	"github.com/adred-codev/zcbus/internal/types"
)

// Node is a participant process (or, for in-process tests and the
// multi-goroutine demo, a participant within one process). It owns an
// id generator for the ports it creates and its own liveness flag,
// consulted by every Service it has opened when a publisher needs to
// decide whether a subscriber's owning Node has died (spec §4.4).
type Node struct {
	id   types.NodeId
	ids  *types.PortIdGenerator
	dead atomic.Bool
}

// NewNode constructs a Node with a freshly generated NodeId.
func NewNode() (*Node, error) {
	id, err := types.NewNodeId()
	if err != nil {
		return nil, fmt.Errorf("service: new node: %w", err)
	}
	return &Node{id: id, ids: types.NewPortIdGenerator(id)}, nil
}

// ID returns this Node's identity.
func (n *Node) ID() types.NodeId { return n.id }

// MarkDead flags this Node as no longer live. Intended for tests and
// the demo binaries to simulate a Node vanishing without actually
// terminating a goroutine or process; a real deployment instead infers
// liveness from the process/heartbeat layer spec §1 scopes out of this
// core.
func (n *Node) MarkDead() { n.dead.Store(true) }

// Alive reports whether this Node is still considered live.
func (n *Node) Alive() bool { return !n.dead.Load() }

// liveNodes is the shared liveness oracle every Service's publishers
// consult. Modeled as a simple registry of *Node by id rather than a
// heartbeat protocol, since process/Node health detection is out of
// scope (spec §1); tests and demo code register/forget Nodes as they
// come and go.
type liveNodes struct {
	mu    sync.RWMutex
	nodes map[types.NodeId]*Node
}

func newLiveNodes() *liveNodes {
	return &liveNodes{nodes: map[types.NodeId]*Node{}}
}

func (l *liveNodes) track(n *Node) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nodes[n.id] = n
}

func (l *liveNodes) forget(id types.NodeId) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.nodes, id)
}

func (l *liveNodes) alive(id types.NodeId) bool {
	l.mu.RLock()
	n, ok := l.nodes[id]
	l.mu.RUnlock()
	if !ok {
		// A Node this Service never tracked (e.g. a stale id from a
		// prior process generation) is treated as dead, matching the
		// conservative default a real heartbeat table would apply to
		// an unknown id.
		return false
	}
	return n.Alive()
}

// Service is a named rendezvous (spec §3): a fixed StaticConfig, the
// registry (C2), and one data segment (C3) per publisher it has
// created. Created once via Create; every Node that calls Open with
// the same name attaches to the same in-process instance.
type Service struct {
	name   string
	static types.StaticConfig
	reg    *registry.DynamicConfig
	nodes  *liveNodes
	sweep  *sweep.Pool

	mu          sync.Mutex
	publishers  map[types.PublisherId]publisherEntry
	subscribers map[types.SubscriberId]subscriberEntry
}

type publisherEntry struct {
	port   *publisher.Publisher
	slots  *segment.SlotManager
	handle registry.PublisherHandle
}

type subscriberEntry struct {
	port   *subscriber.Subscriber
	handle registry.SubscriberHandle
}

var (
	registryMu sync.Mutex
	services   = map[string]*Service{}
)

// Create allocates a brand-new Service under name, sized from static.
// Returns an error if a Service with this name already exists — spec's
// Non-goals forbid re-sizing capacities after creation, so re-creating
// an existing name would be ambiguous about which capacities apply.
func Create(name string, static types.StaticConfig, sweepPool *sweep.Pool) (*Service, error) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := services[name]; exists {
		return nil, fmt.Errorf("service: %q already exists", name)
	}

	reg := registry.New(types.DynamicConfigSettings{
		NumberOfPublishers:  static.NumberOfPublishers,
		NumberOfSubscribers: static.NumberOfSubscribers,
	}).WithServiceName(name)

	svc := &Service{
		name:        name,
		static:      static,
		reg:         reg,
		nodes:       newLiveNodes(),
		sweep:       sweepPool,
		publishers:  map[types.PublisherId]publisherEntry{},
		subscribers: map[types.SubscriberId]subscriberEntry{},
	}
	services[name] = svc
	return svc, nil
}

// Open attaches to an already-created Service by name without
// resizing its registry (spec §4.7).
func Open(name string) (*Service, error) {
	registryMu.Lock()
	defer registryMu.Unlock()

	svc, ok := services[name]
	if !ok {
		return nil, fmt.Errorf("service: %q not found, call Create first", name)
	}
	return svc, nil
}

// Drop removes a Service from the process-wide registry. Intended for
// test teardown; a real deployment tears down a Service when its last
// Node closes, which is out of this core's scope to detect.
func Drop(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(services, name)
}

// Name returns the service's rendezvous name.
func (s *Service) Name() string { return s.name }

// StaticConfig returns the immutable configuration this Service was
// created with.
func (s *Service) StaticConfig() types.StaticConfig { return s.static }

// Registry exposes the dynamic config registry for callers that need
// direct introspection (e.g. metrics scraping, tests).
func (s *Service) Registry() *registry.DynamicConfig { return s.reg }

// AttachNode registers node as live for this Service's dead-node
// reclamation oracle. A Node must attach before any of its ports are
// built so publisher.New's NodeAlive callback resolves correctly.
func (s *Service) AttachNode(node *Node) { s.nodes.track(node) }

// DetachNode forgets node, the in-process stand-in for "the process
// exited" since this core is not told about real process lifecycles.
func (s *Service) DetachNode(node *Node) { s.nodes.forget(node.id) }

// PublisherOptions configures one publisher built by PublisherBuilder:
// the loan limit and the delivery policy knobs spec §4.4 exposes. The
// data segment sizing (number_of_samples, max_slice_len,
// data_segment_type, max_number_of_segments) is not set here; it comes
// from the Service's StaticConfig.
type PublisherOptions struct {
	MaxLoanedSamples      int32
	UnableToDeliverPolicy types.UnableToDeliverPolicy
	BlockTimeout          time.Duration
	// RetryGate paces the Block policy's backoff loop, typically an
	// *advisor.Advisor's AllowRetry. Falls back to the publisher's own
	// internal rate.Limiter when nil.
	RetryGate   publisher.RetryGate
	Degradation publisher.DegradationCallback
	Mode        types.Mode
}

// PublisherBuilder creates a new publisher port owned by node, backed
// by this Service's static config and a fresh data segment sized from
// StaticConfig.NumberOfSamples/MaxSliceLen/DataSegmentType (spec §4.3,
// §4.7). Fails with types.ErrExceedsMaxSupportedPublishers once the
// registry is at capacity (spec §4.2).
func (s *Service) PublisherBuilder(node *Node, opts PublisherOptions) (*publisher.Publisher, error) {
	pubId := node.ids.NextPublisherId()

	elementStride := int(s.static.Payload.Size)
	if elementStride <= 0 {
		elementStride = 8
	}
	slots, err := segment.NewSlotManager(
		s.static.NumberOfSamples,
		elementStride,
		max(s.static.MaxSliceLen, 1),
		s.static.Payload,
		segment.Policy{Type: s.static.DataSegmentType, MaxNumberOfSegments: s.static.MaxNumberOfSegments},
	)
	if err != nil {
		return nil, err
	}

	mode := opts.Mode
	if mode == 0 {
		mode = types.DefaultSubscriberMode
	}
	handle, err := s.reg.AddPublisher(registry.PublisherDetails{PublisherId: pubId, NodeId: node.id, Mode: mode})
	if err != nil {
		slots.Close()
		return nil, err
	}

	cfg := publisher.Config{
		MaxLoanedSamples:      opts.MaxLoanedSamples,
		UnableToDeliverPolicy: opts.UnableToDeliverPolicy,
		EnableSafeOverflow:    s.static.EnableSafeOverflow,
		BlockTimeout:          opts.BlockTimeout,
		RetryGate:             opts.RetryGate,
		Static:                s.static,
		Degradation:           opts.Degradation,
		ServiceName:           s.name,
	}

	pub := publisher.New(pubId, cfg, slots, s.reg, s.lookupSubscriber, s.nodes.alive)

	s.mu.Lock()
	s.publishers[pubId] = publisherEntry{port: pub, slots: slots, handle: handle}
	s.mu.Unlock()

	if s.sweep != nil {
		s.sweep.Register(pub.ReclaimDeadSubscribers)
	}

	monitoring.RegistryPublishers.WithLabelValues(s.name).Set(float64(s.reg.NumberOfPublishers()))
	return pub, nil
}

// SubscriberBuilder creates a new subscriber port owned by node, with
// a buffer sized from bufferSize (falling back to
// StaticConfig.SubscriberBufferSize when bufferSize <= 0). Fails with
// types.ErrExceedsMaxSupportedSubscribers once the registry is at
// capacity.
func (s *Service) SubscriberBuilder(node *Node, bufferSize int, mode types.Mode) (*subscriber.Subscriber, error) {
	if bufferSize <= 0 {
		bufferSize = s.static.SubscriberBufferSize
	}
	if mode == 0 {
		mode = types.DefaultSubscriberMode
	}

	subId := node.ids.NextSubscriberId()
	sub := subscriber.New(subId, bufferSize).WithServiceName(s.name)

	handle, err := s.reg.AddSubscriber(registry.SubscriberDetails{
		SubscriberId: subId,
		NodeId:       node.id,
		BufferSize:   bufferSize,
		Mode:         mode,
	})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.subscribers[subId] = subscriberEntry{port: sub, handle: handle}
	s.mu.Unlock()

	monitoring.RegistrySubscribers.WithLabelValues(s.name).Set(float64(s.reg.NumberOfSubscribers()))
	return sub, nil
}

// ReleaseSubscriber closes id's buffer (reclaiming any queued slots,
// spec §4.5) and releases its registry slot. A no-op if id is not
// currently attached to this Service.
func (s *Service) ReleaseSubscriber(id types.SubscriberId) {
	s.mu.Lock()
	entry, ok := s.subscribers[id]
	delete(s.subscribers, id)
	s.mu.Unlock()
	if !ok {
		return
	}

	entry.port.Close()
	s.reg.ReleaseSubscriber(entry.handle)
	monitoring.RegistrySubscribers.WithLabelValues(s.name).Set(float64(s.reg.NumberOfSubscribers()))
}

// ReleasePublisher releases a publisher's registry slot and closes its
// data segment. Not safe to call while any Sample for this publisher
// is still outstanding. A no-op if id is not currently attached to
// this Service.
func (s *Service) ReleasePublisher(id types.PublisherId) error {
	s.mu.Lock()
	entry, ok := s.publishers[id]
	delete(s.publishers, id)
	s.mu.Unlock()
	if !ok {
		return nil
	}

	s.reg.ReleasePublisher(entry.handle)
	monitoring.RegistryPublishers.WithLabelValues(s.name).Set(float64(s.reg.NumberOfPublishers()))
	return entry.slots.Close()
}

func (s *Service) lookupSubscriber(id types.SubscriberId) (*subscriber.Subscriber, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.subscribers[id]
	return entry.port, ok
}
