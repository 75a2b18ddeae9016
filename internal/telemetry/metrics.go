package telemetry

import "github.com/prometheus/client_golang/prometheus"

var SandboxesCreatedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "sandboxd",
		Subsystem: "sandboxes",
		Name:      "created_total",
		Help:      "Total number of sandboxes created.",
	},
)

var SandboxesByStatus = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "sandboxd",
		Subsystem: "sandboxes",
		Name:      "by_status",
		Help:      "Current number of sandboxes in each status.",
	},
	[]string{"status"},
)

var SandboxProvisionDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "sandboxd",
		Subsystem: "sandbox",
		Name:      "provision_duration_seconds",
		Help:      "Time from create_sandbox to the sandbox reaching running, in seconds.",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
	},
	[]string{"outcome"},
)

var ProvisionerQueueDepth = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "sandboxd",
		Subsystem: "provisioner",
		Name:      "queue_depth",
		Help:      "Number of sandboxes currently queued for or undergoing provisioning.",
	},
)

var SandboxActionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "sandboxd",
		Subsystem: "sandboxes",
		Name:      "actions_total",
		Help:      "Total number of lifecycle actions performed on sandboxes by action and outcome.",
	},
	[]string{"action", "outcome"},
)

var TTLSweeperDestroyedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "sandboxd",
		Subsystem: "ttl_sweeper",
		Name:      "destroyed_total",
		Help:      "Total number of sandboxes destroyed by the TTL sweeper.",
	},
)

var HubViewersConnected = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "sandboxd",
		Subsystem: "hub",
		Name:      "viewers_connected",
		Help:      "Current number of connected WebSocket viewers by channel kind (logs, terminal).",
	},
	[]string{"kind"},
)

var RuntimeCallDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "sandboxd",
		Subsystem: "runtime",
		Name:      "call_duration_seconds",
		Help:      "Duration of calls into the container runtime adapter, by operation.",
		Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	},
	[]string{"operation", "outcome"},
)

var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "sandboxd",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Duration of HTTP requests by method, route, and status code.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "route", "status"},
)

var RateLimitRejectionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "sandboxd",
		Subsystem: "ratelimit",
		Name:      "rejections_total",
		Help:      "Total number of requests rejected by a rate limiter, by limiter name.",
	},
	[]string{"limiter"},
)

// All returns all sandboxd-specific metrics for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		SandboxesCreatedTotal,
		SandboxesByStatus,
		SandboxProvisionDuration,
		ProvisionerQueueDepth,
		SandboxActionsTotal,
		TTLSweeperDestroyedTotal,
		HubViewersConnected,
		RuntimeCallDuration,
		HTTPRequestDuration,
		RateLimitRejectionsTotal,
	}
}
