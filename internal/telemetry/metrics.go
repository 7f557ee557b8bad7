package telemetry

import "github.com/prometheus/client_golang/prometheus"

var SlotsAcquiredTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "crawlcore",
		Subsystem: "capacity",
		Name:      "slots_acquired_total",
		Help:      "Total number of successful slot acquisitions by tenant.",
	},
	[]string{"tenant"},
)

var SlotsRefusedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "crawlcore",
		Subsystem: "capacity",
		Name:      "slots_refused_total",
		Help:      "Total number of slot acquisitions refused because the tenant was at capacity.",
	},
	[]string{"tenant"},
)

var SlotsReleasedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "crawlcore",
		Subsystem: "capacity",
		Name:      "slots_released_total",
		Help:      "Total number of slot releases by tenant.",
	},
	[]string{"tenant"},
)

var ZombieReconciliationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "crawlcore",
		Subsystem: "watchdog",
		Name:      "zombie_reconciliations_total",
		Help:      "Total number of slot-counter corrections applied by watchdog Phase 0.",
	},
	[]string{"tenant"},
)

var WatchdogPhaseDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "crawlcore",
		Subsystem: "watchdog",
		Name:      "phase_duration_seconds",
		Help:      "Duration of each watchdog phase.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	},
	[]string{"phase"},
)

var WatchdogJobsFailedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "crawlcore",
		Subsystem: "watchdog",
		Name:      "jobs_failed_total",
		Help:      "Total number of jobs failed by the watchdog, by phase.",
	},
	[]string{"phase"},
)

var FeederJobsDispatchedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "crawlcore",
		Subsystem: "feeder",
		Name:      "jobs_dispatched_total",
		Help:      "Total number of jobs dispatched into the worker pool by tenant.",
	},
	[]string{"tenant"},
)

var FeederTickDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "crawlcore",
		Subsystem: "feeder",
		Name:      "tick_duration_seconds",
		Help:      "Duration of a single feeder tick across all tenants.",
		Buckets:   prometheus.DefBuckets,
	},
)

var ExportRowsProcessedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "crawlcore",
		Subsystem: "export",
		Name:      "rows_processed_total",
		Help:      "Total number of audit log rows processed by exports, by format.",
	},
	[]string{"format"},
)

var ExportJobsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "crawlcore",
		Subsystem: "export",
		Name:      "jobs_total",
		Help:      "Total number of export jobs by terminal status.",
	},
	[]string{"status"},
)

var AuditLogWriteDropsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "crawlcore",
		Subsystem: "audit",
		Name:      "write_drops_total",
		Help:      "Total number of audit log entries dropped because the writer buffer was full.",
	},
)

// All returns all crawlcore-specific metrics for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		SlotsAcquiredTotal,
		SlotsRefusedTotal,
		SlotsReleasedTotal,
		ZombieReconciliationsTotal,
		WatchdogPhaseDuration,
		WatchdogJobsFailedTotal,
		FeederJobsDispatchedTotal,
		FeederTickDuration,
		ExportRowsProcessedTotal,
		ExportJobsTotal,
		AuditLogWriteDropsTotal,
	}
}
