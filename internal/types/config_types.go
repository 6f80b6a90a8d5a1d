package types

// DataSegmentType selects how a publisher's payload arena grows.
type DataSegmentType int

const (
	// Static: one pre-sized arena, capacity fixed at publisher creation.
	Static DataSegmentType = iota
	// Dynamic: up to MaxNumberOfSegments arenas, a new one mapped when
	// every existing arena is full. Each new arena has the same size as
	// the first; the maximum slice length does not grow.
	Dynamic
)

func (d DataSegmentType) String() string {
	if d == Dynamic {
		return "Dynamic"
	}
	return "Static"
}

// TypeVariant distinguishes a fixed-size payload (exactly one element
// per loan) from one that may be loaned as a slice.
type TypeVariant int

const (
	FixedSize TypeVariant = iota
	DynamicSlice
)

// TypeDetail describes the payload type a service was created for. It
// is part of the persisted static config (spec §6).
type TypeDetail struct {
	Size      uintptr
	Alignment uintptr
	Variant   TypeVariant
}

// AllowsSlice reports whether a loan of a length other than 1 is
// permitted for this type, per spec §3 "For a FixedSize custom payload
// type, only one element per loan is permitted."
func (t TypeDetail) AllowsSlice(n int) bool {
	if t.Variant == FixedSize {
		return n == 1
	}
	return true
}

// UnableToDeliverPolicy controls what a publisher does when a
// subscriber's queue is full at send time.
type UnableToDeliverPolicy int

const (
	// DiscardSample skips this subscriber; it loses the message.
	DiscardSample UnableToDeliverPolicy = iota
	// Block spins/parks until room appears or the subscriber vanishes.
	Block
)

// DegradationAction is returned by a publisher's degradation callback
// when a subscriber connection looks unhealthy.
type DegradationAction int

const (
	Ignore DegradationAction = iota
	WarnAndProceed
	Abort
)

// PortCleanupAction is returned by the registry's dead-node cleanup
// callback for each endpoint found to belong to a dead node.
type PortCleanupAction int

const (
	RemovePort PortCleanupAction = iota
	SkipPort
)

// CallbackProgression is returned by a snapshot-iteration callback
// (Container.ForEach, DynamicConfig.ListPublishers/ListSubscribers) to
// control whether iteration continues.
type CallbackProgression int

const (
	Continue CallbackProgression = iota
	Stop
)

// DynamicConfigSettings sizes the two registry containers at service
// creation time. Capacities never change afterwards (spec Non-goals:
// "no dynamic re-allocation of per-service capacities after service
// creation").
type DynamicConfigSettings struct {
	NumberOfPublishers  int
	NumberOfSubscribers int
}

// StaticConfig is the per-service configuration persisted alongside the
// registry at service creation (spec §6).
type StaticConfig struct {
	NumberOfPublishers  int
	NumberOfSubscribers int

	NumberOfSamples      int
	MaxSliceLen          int
	DataSegmentType      DataSegmentType
	MaxNumberOfSegments  uint8
	SubscriberBufferSize int
	EnableSafeOverflow   bool

	Payload TypeDetail
}

// Mode holds POSIX-style owner/group/other permission bits for an
// endpoint's segment-backing object (spec §5: "mode-to-permission
// mapping is bit-for-bit standard POSIX rwx triplets").
type Mode uint16

const (
	OwnerRead Mode = 1 << (8 - iota)
	OwnerWrite
	OwnerExec
	GroupRead
	GroupWrite
	GroupExec
	OthersRead
	OthersWrite
	OthersExec
)

// DefaultSubscriberMode is the "0o640 default for subscribers" spec §5
// calls out explicitly.
const DefaultSubscriberMode Mode = OwnerRead | OwnerWrite | GroupRead

// Permission is a decoded, queryable view of a Mode.
type Permission struct {
	OwnerRead, OwnerWrite, OwnerExec    bool
	GroupRead, GroupWrite, GroupExec    bool
	OthersRead, OthersWrite, OthersExec bool
}

// ToPermission expands a Mode into its individual rwx bits.
func (m Mode) ToPermission() Permission {
	return Permission{
		OwnerRead:   m&OwnerRead != 0,
		OwnerWrite:  m&OwnerWrite != 0,
		OwnerExec:   m&OwnerExec != 0,
		GroupRead:   m&GroupRead != 0,
		GroupWrite:  m&GroupWrite != 0,
		GroupExec:   m&GroupExec != 0,
		OthersRead:  m&OthersRead != 0,
		OthersWrite: m&OthersWrite != 0,
		OthersExec:  m&OthersExec != 0,
	}
}

// FromPermission packs individual rwx bits back into a Mode, the
// inverse of ToPermission — together they are the "permission
// round-trip" property spec §8 requires.
func FromPermission(p Permission) Mode {
	var m Mode
	if p.OwnerRead {
		m |= OwnerRead
	}
	if p.OwnerWrite {
		m |= OwnerWrite
	}
	if p.OwnerExec {
		m |= OwnerExec
	}
	if p.GroupRead {
		m |= GroupRead
	}
	if p.GroupWrite {
		m |= GroupWrite
	}
	if p.GroupExec {
		m |= GroupExec
	}
	if p.OthersRead {
		m |= OthersRead
	}
	if p.OthersWrite {
		m |= OthersWrite
	}
	if p.OthersExec {
		m |= OthersExec
	}
	return m
}
