// Package metrics registers the Prometheus series tracecore-agent
// exposes, following the per-subsystem collector-struct convention used
// throughout tekert-etw_exporter's internal/collectors packages.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collectors bundles every series tracecore-agent registers. Constructed
// once at startup and threaded into the components that need it. The
// counters are updated inline on the hot paths; SlotsPending and
// SubmissionsPending are registered but nothing in this module sets them.
type Collectors struct {
	EventsDiscardedOutOfOrder prometheus.Counter
	InstrumentationDrops      prometheus.Counter
	SlotsPending              prometheus.Gauge
	SubmissionsPending        prometheus.Gauge
	SubmissionsCompleted      prometheus.Counter
}

// NewCollectors creates and registers all series against reg.
func NewCollectors(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		EventsDiscardedOutOfOrder: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracecore_events_discarded_out_of_order_total",
			Help: "Events dropped by DelayedEventProcessor for arriving older than last_processed_timestamp.",
		}),
		InstrumentationDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracecore_instrumentation_drops_total",
			Help: "Instrumentation marks skipped because SlotPool was saturated.",
		}),
		SlotsPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracecore_slots_pending",
			Help: "Logical query slots currently PENDING across all devices.",
		}),
		SubmissionsPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracecore_submissions_pending",
			Help: "Queue submissions awaiting GPU completion.",
		}),
		SubmissionsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracecore_submissions_completed_total",
			Help: "Queue submissions drained and emitted by SubmissionCompleter.",
		}),
	}
	reg.MustRegister(
		c.EventsDiscardedOutOfOrder,
		c.InstrumentationDrops,
		c.SlotsPending,
		c.SubmissionsPending,
		c.SubmissionsCompleted,
	)
	return c
}
