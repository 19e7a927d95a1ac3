// Package metrics provides the Prometheus collectors of the scheduling engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "swapengine"

// Metrics holds every collector used by the engine.
type Metrics struct {
	registry *prometheus.Registry

	// Scheduler
	LoopTicks       *prometheus.CounterVec
	LoopDuration    *prometheus.HistogramVec
	EntityOutcomes  *prometheus.CounterVec
	LockContention  *prometheus.CounterVec
	WorkerSaturated *prometheus.CounterVec

	// Quote/price port
	CacheLookups *prometheus.CounterVec
	QuoteLatency *prometheus.HistogramVec
	QuoteErrors  *prometheus.CounterVec

	// Executor
	StepOutcomes   *prometheus.CounterVec
	SwapOutcomes   *prometheus.CounterVec
	RefundOutcomes *prometheus.CounterVec

	// Events and notifications
	EventsPublished prometheus.Counter
	EventsDropped   prometheus.Counter
	SinkErrors      *prometheus.CounterVec
	Notifications   *prometheus.CounterVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		LoopTicks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "ticks_total",
			Help:      "Total number of tick loop iterations by loop",
		}, []string{"loop"}),
		LoopDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "tick_duration_seconds",
			Help:      "Duration of a full tick including worker fan-out",
			Buckets:   prometheus.DefBuckets,
		}, []string{"loop"}),
		EntityOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "entity_outcomes_total",
			Help:      "Per-entity attempt outcomes by loop",
		}, []string{"loop", "outcome"}),
		LockContention: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "lock_contention_total",
			Help:      "Attempts skipped because another worker held the entity lock",
		}, []string{"loop"}),
		WorkerSaturated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "batch_full_total",
			Help:      "Ticks whose due batch hit the configured batch size",
		}, []string{"loop"}),

		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "quote",
			Name:      "cache_lookups_total",
			Help:      "Quote and price cache lookups by tier and result",
		}, []string{"kind", "tier", "result"}),
		QuoteLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "quote",
			Name:      "source_latency_seconds",
			Help:      "Latency of quote source calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"source", "op"}),
		QuoteErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "quote",
			Name:      "source_errors_total",
			Help:      "Quote source failures by source and class",
		}, []string{"source", "class"}),

		StepOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "step_outcomes_total",
			Help:      "Swap step attempts by outcome",
		}, []string{"outcome"}),
		SwapOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "swap_outcomes_total",
			Help:      "Swaps reaching a terminal status by source and status",
		}, []string{"source", "status"}),
		RefundOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "refund_outcomes_total",
			Help:      "Refund submissions by resulting status",
		}, []string{"status"}),

		EventsPublished: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Events accepted by the publisher",
		}),
		EventsDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Events dropped because the publish queue was full",
		}),
		SinkErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "sink_errors_total",
			Help:      "Event delivery failures by sink",
		}, []string{"sink"}),
		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "deliveries_total",
			Help:      "Notification deliveries by channel and result",
		}, []string{"channel", "result"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
