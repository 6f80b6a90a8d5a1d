// Package publisher implements the publisher port (spec §4.4, C4):
// loaning, write-payload, send, outstanding-loan accounting, and the
// fan-out delivery algorithm that pushes a sent sample's slot
// identifier into every connected subscriber's bounded queue.
//
// The Block unable-to-deliver policy's backoff loop is grounded on
// golang.org/x/time/rate usage in the resource guard example
// (ws/internal/shared/limits/resource_guard.go): a rate.Limiter gates
// retry attempts instead of a bare spin, the same non-blocking
// Allow()-style check that guard uses for broadcast admission. The
// gate itself is pluggable (RetryGate) so a publisher can share one
// advisor's limiter instead of spinning up its own.
package publisher

import (
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/adred-codev/zcbus/internal/monitoring"
	"github.com/adred-codev/zcbus/internal/port/subscriber"
	"github.com/adred-codev/zcbus/internal/registry"
	"github.com/adred-codev/zcbus/internal/sample"
	"github.com/adred-codev/zcbus/internal/segment"
	"github.com/adred-codev/zcbus/internal/types"
)

// SubscriberLookup resolves a registry SubscriberId to the live local
// port instance delivery pushes into. The LOCAL/IPC dispatch the spec
// leaves as an open question (§9) resolves to this single lookup here:
// there is only the in-process, local-node path in scope.
type SubscriberLookup func(types.SubscriberId) (*subscriber.Subscriber, bool)

// NodeAlive reports whether a Node is still considered live, used by
// dead-subscriber reclamation before a loan failure is reported.
type NodeAlive func(types.NodeId) bool

// DegradationCallback mirrors spec §4.4: invoked with the static
// config and the (publisher, subscriber) pair when a queue appears
// corrupted or unhealthy, and returns the caller's chosen action.
type DegradationCallback func(types.StaticConfig, types.PublisherId, types.SubscriberId) types.DegradationAction

// RetryGate rate-limits the Block policy's backoff loop. Returning
// false means "not yet, ask again" — callers typically wire this to
// an *advisor.Advisor's AllowRetry so a publisher's own block loop
// never becomes the load the advisor is watching for, rather than
// each publisher constructing an independent rate.Limiter.
type RetryGate func() bool

// Config holds the per-publisher settings fixed at creation.
type Config struct {
	MaxLoanedSamples      int32
	UnableToDeliverPolicy types.UnableToDeliverPolicy
	EnableSafeOverflow    bool
	// BlockTimeout is how long the Block policy waits before the first
	// degradation warning, and the interval it re-warns at afterwards
	// (spec §5: e.g. 25ms in tests). It is not an abandonment deadline:
	// Block keeps retrying until the sample is delivered or the
	// subscriber disappears, per spec §4.4 ("spin/park until room
	// appears or the subscriber disappears").
	BlockTimeout time.Duration
	// RetryGate paces the Block policy's backoff polling. Falls back
	// to an internal rate.Limiter when nil.
	RetryGate   RetryGate
	Static      types.StaticConfig
	Degradation DegradationCallback
	ServiceName string // metrics label only
}

// Publisher is one publisher port bound to a service's registry and
// its own data segment. The zero value is not usable; construct with
// New.
type Publisher struct {
	id     types.PublisherId
	cfg    Config
	slots  *segment.SlotManager
	reg    *registry.DynamicConfig
	lookup SubscriberLookup
	nodeUp NodeAlive
	loans  atomic.Int32
}

// New constructs a Publisher. slots is this publisher's own data
// segment manager (spec: "a publisher exclusively owns its free slot
// pool for the duration of a loan"); reg is the service's registry,
// used to discover connected subscribers at send time; lookup resolves
// a subscriber id to its live local port.
func New(id types.PublisherId, cfg Config, slots *segment.SlotManager, reg *registry.DynamicConfig, lookup SubscriberLookup, nodeUp NodeAlive) *Publisher {
	return &Publisher{
		id:     id,
		cfg:    cfg,
		slots:  slots,
		reg:    reg,
		lookup: lookup,
		nodeUp: nodeUp,
	}
}

// ID returns this port's identity.
func (p *Publisher) ID() types.PublisherId { return p.id }

// OutstandingLoans reports the current outstanding-loan count.
func (p *Publisher) OutstandingLoans() int32 { return p.loans.Load() }

// LoanUninit reserves one slot without initialising it.
func (p *Publisher) LoanUninit() (*sample.Sample, error) {
	ref, err := p.acquireWithReclamation(func() (segment.SlotRef, error) { return p.slots.Acquire() })
	if err != nil {
		return nil, err
	}
	return sample.NewUninit(loanSlots{p.slots, p}, ref), nil
}

// Loan reserves one slot, default-filled (the backing arena is
// zeroed memory, spec §3 "loan → Initialised directly").
func (p *Publisher) Loan() (*sample.Sample, error) {
	ref, err := p.acquireWithReclamation(func() (segment.SlotRef, error) { return p.slots.Acquire() })
	if err != nil {
		return nil, err
	}
	return sample.NewInitialised(loanSlots{p.slots, p}, ref), nil
}

// LoanSlice reserves n elements, default-filled.
func (p *Publisher) LoanSlice(n int) (*sample.Sample, error) {
	ref, err := p.acquireWithReclamation(func() (segment.SlotRef, error) { return p.slots.AcquireSlice(n) })
	if err != nil {
		return nil, err
	}
	return sample.NewInitialised(loanSlots{p.slots, p}, ref), nil
}

// LoanSliceUninit reserves n elements, uninitialised.
func (p *Publisher) LoanSliceUninit(n int) (*sample.Sample, error) {
	ref, err := p.acquireWithReclamation(func() (segment.SlotRef, error) { return p.slots.AcquireSlice(n) })
	if err != nil {
		return nil, err
	}
	return sample.NewUninit(loanSlots{p.slots, p}, ref), nil
}

// loanSlots is the slot manager view a loaned Sample holds: a Sample
// dropped unsent releases its slot through it, which returns the loan.
type loanSlots struct {
	*segment.SlotManager
	p *Publisher
}

func (l loanSlots) Release(ref segment.SlotRef) int32 {
	n := l.p.loans.Add(-1)
	monitoring.LoansOutstanding.WithLabelValues(l.p.cfg.ServiceName, l.p.id.String()).Set(float64(n))
	return l.SlotManager.Release(ref)
}

func (p *Publisher) acquireWithReclamation(acquire func() (segment.SlotRef, error)) (segment.SlotRef, error) {
	if p.loans.Load() >= p.cfg.MaxLoanedSamples {
		p.reclaimDeadSubscribers()
		if p.loans.Load() >= p.cfg.MaxLoanedSamples {
			monitoring.LoansTotal.WithLabelValues(p.cfg.ServiceName, "exceeds_max_loans").Inc()
			return segment.SlotRef{}, types.ErrExceedsMaxLoans
		}
	}
	ref, err := acquire()
	if err != nil {
		if err == types.ErrOutOfMemory {
			p.reclaimDeadSubscribers()
			ref, err = acquire()
		}
		if err != nil {
			monitoring.LoansTotal.WithLabelValues(p.cfg.ServiceName, "error").Inc()
			return segment.SlotRef{}, err
		}
	}
	n := p.loans.Add(1)
	monitoring.LoansTotal.WithLabelValues(p.cfg.ServiceName, "ok").Inc()
	monitoring.LoansOutstanding.WithLabelValues(p.cfg.ServiceName, p.id.String()).Set(float64(n))
	return ref, nil
}

// ReclaimDeadSubscribers runs the same dead-node reclamation
// acquireWithReclamation triggers lazily on loan exhaustion, exported
// for a background sweeper (internal/sweep) to call on a timer so a
// publisher that simply never loans again still releases a dead
// subscriber's held slots promptly.
func (p *Publisher) ReclaimDeadSubscribers() { p.reclaimDeadSubscribers() }

// reclaimDeadSubscribers releases queues belonging to subscribers
// whose owning Node is no longer alive, in cooperation with the
// registry's dead-node sweep (spec §4.4).
func (p *Publisher) reclaimDeadSubscribers() {
	if p.nodeUp == nil || p.lookup == nil {
		return
	}
	seen := map[types.NodeId]bool{}
	var dead []types.NodeId
	p.reg.ListSubscribers(func(d registry.SubscriberDetails) types.CallbackProgression {
		if !p.nodeUp(d.NodeId) && !seen[d.NodeId] {
			seen[d.NodeId] = true
			dead = append(dead, d.NodeId)
		}
		return types.Continue
	})
	for _, node := range dead {
		p.reg.RemoveDeadNode(node, func(port types.UniquePortId) types.PortCleanupAction {
			if !port.IsPublisher {
				if sub, ok := p.lookup(port.Subscriber); ok {
					sub.Close()
				}
			}
			return types.RemovePort
		})
	}
}

// SendCopy loans an uninitialised slot, writes value into it, and sends in
// one call, returning the number of recipients.
func (p *Publisher) SendCopy(value []byte) (int, error) {
	s, err := p.LoanUninit()
	if err != nil {
		return 0, err
	}
	if err := s.WritePayload(value); err != nil {
		return 0, err
	}
	return p.Send(s)
}

// Send consumes s and delivers it to every currently connected
// subscriber, per the fan-out algorithm in spec §4.4. The outstanding
// loan counter is decremented before the fan-out loop runs, so a
// sequence of sends within one batch never transiently appears
// over-limit.
func (p *Publisher) Send(s *sample.Sample) (int, error) {
	if err := s.MarkSent(); err != nil {
		monitoring.SendsTotal.WithLabelValues(p.cfg.ServiceName, "already_sent").Inc()
		return 0, err
	}
	n := p.loans.Add(-1)
	monitoring.LoansOutstanding.WithLabelValues(p.cfg.ServiceName, p.id.String()).Set(float64(n))

	ref := s.Ref()
	delivered := 0
	p.reg.ListSubscribers(func(d registry.SubscriberDetails) types.CallbackProgression {
		sub, ok := p.lookup(d.SubscriberId)
		if !ok {
			return types.Continue
		}
		if p.deliverOne(sub, ref, d) {
			delivered++
		}
		return types.Continue
	})

	p.slots.Release(ref) // publisher's own refcount
	monitoring.SlotRefcount.WithLabelValues(p.cfg.ServiceName, p.id.String()).Set(float64(p.slots.Refcount(ref)))
	if delivered > 0 {
		monitoring.SendsTotal.WithLabelValues(p.cfg.ServiceName, "delivered").Inc()
	} else {
		monitoring.SendsTotal.WithLabelValues(p.cfg.ServiceName, "no_recipients").Inc()
	}
	return delivered, nil
}

func (p *Publisher) deliverOne(sub *subscriber.Subscriber, ref segment.SlotRef, d registry.SubscriberDetails) bool {
	if p.cfg.EnableSafeOverflow {
		p.slots.Retain(ref)
		return sub.TryEnqueue(p.slots, ref, true)
	}

	p.slots.Retain(ref)
	if sub.TryEnqueue(p.slots, ref, false) {
		return true
	}
	p.slots.Release(ref)

	switch p.cfg.UnableToDeliverPolicy {
	case types.DiscardSample:
		monitoring.SendsTotal.WithLabelValues(p.cfg.ServiceName, "discarded").Inc()
		return false
	case types.Block:
		return p.blockUntilDeliveredOrGone(sub, ref, d)
	default:
		return false
	}
}

// blockUntilDeliveredOrGone spins/parks until the subscriber's queue
// has room or the subscriber disappears (spec §4.4, §9: subscriber
// disappearance is treated as an unblock event, counted as
// not-delivered). Blocking is unbounded: BlockTimeout only paces how
// often the degradation callback is warned while still retrying, it
// never abandons the sample on its own — only an Abort from the
// degradation callback, or the subscriber vanishing, ends the loop.
func (p *Publisher) blockUntilDeliveredOrGone(sub *subscriber.Subscriber, ref segment.SlotRef, d registry.SubscriberDetails) bool {
	warnEvery := p.cfg.BlockTimeout
	if warnEvery <= 0 {
		warnEvery = 25 * time.Millisecond
	}
	gate := p.cfg.RetryGate
	if gate == nil {
		limiter := rate.NewLimiter(rate.Every(time.Millisecond), 1)
		gate = limiter.Allow
	}

	nextWarn := time.Now().Add(warnEvery)
	for {
		if !gate() {
			continue
		}
		if _, ok := p.lookup(d.SubscriberId); !ok {
			return false
		}
		p.slots.Retain(ref)
		if sub.TryEnqueue(p.slots, ref, false) {
			return true
		}
		p.slots.Release(ref)

		if now := time.Now(); !now.Before(nextWarn) {
			p.invokeDegradation(d)
			nextWarn = now.Add(warnEvery)
		}
	}
}

func (p *Publisher) invokeDegradation(d registry.SubscriberDetails) {
	if p.cfg.Degradation == nil {
		return
	}
	switch p.cfg.Degradation(p.cfg.Static, p.id, d.SubscriberId) {
	case types.Abort:
		panic("publisher: degradation callback requested Abort")
	case types.WarnAndProceed, types.Ignore:
		// no-op: caller has already logged via its own callback.
	}
}
