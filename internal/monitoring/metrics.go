package monitoring

import "github.com/prometheus/client_golang/prometheus"

// Metrics scraped by Prometheus, named after the components they
// observe (spec §2's C1-C6 plus the ambient advisor). Counters and
// gauges, registered in init() the way the root metrics.go registers
// its WebSocket-server family.
var (
	RegistryPublishers = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "zcbus_registry_publishers",
		Help: "Current number of live publishers per service",
	}, []string{"service"})

	RegistrySubscribers = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "zcbus_registry_subscribers",
		Help: "Current number of live subscribers per service",
	}, []string{"service"})

	LoansOutstanding = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "zcbus_loans_outstanding",
		Help: "Current outstanding loan count per publisher",
	}, []string{"service", "publisher"})

	LoansTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "zcbus_loans_total",
		Help: "Total loans granted, by result",
	}, []string{"service", "result"})

	SendsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "zcbus_sends_total",
		Help: "Total send() calls, by result",
	}, []string{"service", "result"})

	ReceivesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "zcbus_receives_total",
		Help: "Total receive() calls, by result",
	}, []string{"service", "result"})

	DeadNodeReclaimsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "zcbus_dead_node_reclaims_total",
		Help: "Total ports released by dead-node reclamation sweeps",
	}, []string{"service", "port_kind"})

	SlotRefcount = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "zcbus_slot_refcount",
		Help: "Most recently observed refcount for a publisher's data segment slot",
	}, []string{"service", "publisher"})

	AdvisorCPUPercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "zcbus_advisor_cpu_percent",
		Help: "Most recent CPU utilization sample observed by the resource advisor",
	})

	AdvisorMemoryBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "zcbus_advisor_memory_bytes",
		Help: "Most recent memory-in-use sample observed by the resource advisor",
	})

	AdvisorThrottledTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "zcbus_advisor_throttled_total",
		Help: "Total operations the advisor asked callers to back off from",
	})
)

func init() {
	prometheus.MustRegister(RegistryPublishers)
	prometheus.MustRegister(RegistrySubscribers)
	prometheus.MustRegister(LoansOutstanding)
	prometheus.MustRegister(LoansTotal)
	prometheus.MustRegister(SendsTotal)
	prometheus.MustRegister(ReceivesTotal)
	prometheus.MustRegister(DeadNodeReclaimsTotal)
	prometheus.MustRegister(SlotRefcount)
	prometheus.MustRegister(AdvisorCPUPercent)
	prometheus.MustRegister(AdvisorMemoryBytes)
	prometheus.MustRegister(AdvisorThrottledTotal)
}
