// Package types holds the identifiers, enums and error kinds shared by
// every layer of the publish/subscribe core: the registry, the segment
// and slot manager, and the publisher/subscriber ports.
package types

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync/atomic"
)

// NodeId uniquely identifies a participant process on this machine.
// Modeled as a 128-bit value (high/low halves) the way the original
// iceoryx2 NodeId is laid out, even though this core only ever compares
// and copies it — it never needs to be split for wire transport since
// there is no network transport in scope.
type NodeId struct {
	Hi uint64
	Lo uint64
}

// NewNodeId generates a NodeId from a cryptographically random source.
// Two Nodes colliding would corrupt dead-node reclamation (a live Node's
// ports could be swept as dead), so randomness width matters more than
// speed here.
func NewNodeId() (NodeId, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return NodeId{}, fmt.Errorf("types: generate node id: %w", err)
	}
	return NodeId{
		Hi: binary.BigEndian.Uint64(buf[0:8]),
		Lo: binary.BigEndian.Uint64(buf[8:16]),
	}, nil
}

func (n NodeId) String() string {
	return fmt.Sprintf("%016x%016x", n.Hi, n.Lo)
}

// IsZero reports whether the id was never assigned.
func (n NodeId) IsZero() bool {
	return n.Hi == 0 && n.Lo == 0
}

// idCounter is the common layout for publisher/subscriber unique ids: a
// per-Node monotonic counter paired with the owning NodeId, so ids
// are unique cluster-wide (machine-local here) without a central
// allocator.
type idCounter struct {
	NodeId NodeId
	Value  uint64
}

// PublisherId uniquely identifies one publisher port.
type PublisherId idCounter

// SubscriberId uniquely identifies one subscriber port.
type SubscriberId idCounter

func (p PublisherId) String() string  { return fmt.Sprintf("pub-%s-%d", p.NodeId, p.Value) }
func (s SubscriberId) String() string { return fmt.Sprintf("sub-%s-%d", s.NodeId, s.Value) }

// PortIdGenerator hands out unique PublisherId/SubscriberId values for
// one Node. Safe for concurrent use: a Node may open ports from several
// goroutines (e.g. a connection-accepting goroutine and a CLI command
// goroutine) without external locking.
type PortIdGenerator struct {
	node NodeId
	next atomic.Uint64
}

// NewPortIdGenerator returns a generator for ports owned by node.
func NewPortIdGenerator(node NodeId) *PortIdGenerator {
	return &PortIdGenerator{node: node}
}

// NextPublisherId returns the next unique PublisherId for this Node.
func (g *PortIdGenerator) NextPublisherId() PublisherId {
	return PublisherId{NodeId: g.node, Value: g.next.Add(1)}
}

// NextSubscriberId returns the next unique SubscriberId for this Node.
func (g *PortIdGenerator) NextSubscriberId() SubscriberId {
	return SubscriberId{NodeId: g.node, Value: g.next.Add(1)}
}

// UniquePortId is a tagged union over the two port id kinds, used by
// the registry's dead-node cleanup callback (spec: remove_dead_node).
type UniquePortId struct {
	IsPublisher bool
	Publisher   PublisherId
	Subscriber  SubscriberId
}
