// Package advisor samples host/container CPU and memory load and turns
// it into a small advisory signal the rest of the system can consult
// before deciding to degrade service, grounded on the teacher's
// ResourceGuard (ws/internal/shared/limits/resource_guard.go): static
// thresholds, a periodic sampler goroutine, and atomic snapshot values
// rather than a push/subscribe model. automaxprocs is wired from
// cmd/pub and cmd/sub (its effect is process-global, not per-advisor),
// so GOMAXPROCS already reflects any container CPU quota by the time
// an Advisor takes its first sample.
package advisor

import (
	"context"
	"math"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"golang.org/x/time/rate"

	"github.com/adred-codev/zcbus/internal/monitoring"
	"github.com/adred-codev/zcbus/internal/types"
)

// Thresholds configures when Advise escalates from WarnAndProceed to
// Abort, and the pace the Block policy's backoff loop is allowed to
// retry at while load stays high.
type Thresholds struct {
	// CPUAbortPercent is the CPU utilization (0-100) above which
	// Advise reports types.Abort instead of types.WarnAndProceed.
	CPUAbortPercent float64
	// MemoryAbortBytes is the system memory in use above which Advise
	// reports types.Abort.
	MemoryAbortBytes uint64
	// SampleInterval is how often Run refreshes the cached snapshot.
	SampleInterval time.Duration
	// BackoffRate caps how often a Block-policy retry loop may poll
	// the advisor per second, so the loop itself never becomes load.
	BackoffRate rate.Limit
}

// DefaultThresholds mirrors the teacher's CPURejectThreshold/
// MemoryLimit defaults: conservative enough to leave headroom for a
// burst before a publisher starts aborting sends.
func DefaultThresholds() Thresholds {
	return Thresholds{
		CPUAbortPercent:  90.0,
		MemoryAbortBytes: 2 << 30, // 2 GiB
		SampleInterval:   5 * time.Second,
		BackoffRate:      rate.Every(time.Millisecond),
	}
}

// Advisor periodically samples CPU and memory and answers Advise
// queries from a cached snapshot so callers on a hot send path never
// block on a syscall.
type Advisor struct {
	thresholds Thresholds
	limiter    *rate.Limiter

	cpuPercent atomic.Uint64 // math.Float64bits
	memBytes   atomic.Uint64
}

// New constructs an Advisor. Call Run in a goroutine to keep its
// snapshot current; an Advisor that never runs reports zero load.
func New(thresholds Thresholds) *Advisor {
	if thresholds.SampleInterval <= 0 {
		thresholds.SampleInterval = 5 * time.Second
	}
	if thresholds.BackoffRate <= 0 {
		thresholds.BackoffRate = rate.Every(time.Millisecond)
	}
	return &Advisor{
		thresholds: thresholds,
		limiter:    rate.NewLimiter(thresholds.BackoffRate, 1),
	}
}

// Run samples on thresholds.SampleInterval until ctx is cancelled.
// Intended to be started once per process via `go advisor.Run(ctx)`.
func (a *Advisor) Run(ctx context.Context) {
	ticker := time.NewTicker(a.thresholds.SampleInterval)
	defer ticker.Stop()

	a.sample()
	for {
		select {
		case <-ticker.C:
			a.sample()
		case <-ctx.Done():
			return
		}
	}
}

func (a *Advisor) sample() {
	percents, err := cpu.Percent(0, false)
	if err == nil && len(percents) > 0 {
		a.cpuPercent.Store(math.Float64bits(percents[0]))
		monitoring.AdvisorCPUPercent.Set(percents[0])
	}

	var rssBytes uint64
	if vm, err := mem.VirtualMemory(); err == nil {
		rssBytes = vm.Used
	} else {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		rssBytes = ms.Alloc
	}
	a.memBytes.Store(rssBytes)
	monitoring.AdvisorMemoryBytes.Set(float64(rssBytes))
}

// CPUPercent reports the most recently sampled CPU utilization.
func (a *Advisor) CPUPercent() float64 {
	return math.Float64frombits(a.cpuPercent.Load())
}

// MemoryBytes reports the most recently sampled system memory in use
// (the Go heap allocation when the system figure is unavailable).
func (a *Advisor) MemoryBytes() uint64 {
	return a.memBytes.Load()
}

// Advise is the DegradationCallback an advisor-backed publisher wires
// in: sustained high CPU or memory escalates to Abort, everything else
// is WarnAndProceed (spec §4.4's degradation actions).
func (a *Advisor) Advise(_ types.StaticConfig, _ types.PublisherId, _ types.SubscriberId) types.DegradationAction {
	if a.CPUPercent() > a.thresholds.CPUAbortPercent || a.MemoryBytes() > a.thresholds.MemoryAbortBytes {
		monitoring.AdvisorThrottledTotal.Inc()
		return types.Abort
	}
	return types.WarnAndProceed
}

// AllowRetry rate-limits a Block-policy backoff loop's polling of the
// advisor itself, so the loop's own busy-checking never adds to the
// load the advisor is watching for.
func (a *Advisor) AllowRetry() bool {
	return a.limiter.Allow()
}
