package core

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the pipeline's Prometheus collectors. A fresh registry per
// engine keeps tests independent of global collector state.
type Metrics struct {
	Registry *prometheus.Registry

	RecordsProcessed prometheus.Counter
	RecordsRejected  prometheus.Counter
	AttacksDetected  *prometheus.CounterVec
	EventsRecorded   prometheus.Counter
	RecordRetries    prometheus.Counter
	RecordsDropped   prometheus.Counter
	AlertsSent       prometheus.Counter
	AlertsSuppressed prometheus.Counter
	AlertsFailed     prometheus.Counter
}

// NewMetrics creates and registers all pipeline collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		RecordsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentryd_records_processed_total",
			Help: "Classified records handled by the detection pipeline.",
		}),
		RecordsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentryd_records_rejected_total",
			Help: "Records rejected as normal or below the confidence threshold.",
		}),
		AttacksDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentryd_attacks_detected_total",
			Help: "Attack events produced, by label.",
		}, []string{"label"}),
		EventsRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentryd_events_recorded_total",
			Help: "Attack events durably written to the store.",
		}),
		RecordRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentryd_record_retries_total",
			Help: "Durable write attempts that failed and were retried.",
		}),
		RecordsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentryd_records_dropped_total",
			Help: "Events dropped because the overflow queue was full.",
		}),
		AlertsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentryd_alerts_sent_total",
			Help: "Alert notifications delivered successfully.",
		}),
		AlertsSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentryd_alerts_suppressed_total",
			Help: "Alerts suppressed by score threshold or rate limiting.",
		}),
		AlertsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentryd_alerts_failed_total",
			Help: "Alert deliveries that failed after formatting.",
		}),
	}

	reg.MustRegister(
		m.RecordsProcessed, m.RecordsRejected, m.AttacksDetected,
		m.EventsRecorded, m.RecordRetries, m.RecordsDropped,
		m.AlertsSent, m.AlertsSuppressed, m.AlertsFailed,
	)
	return m
}

// RegisterCacheStats exposes intelligence cache counters through the
// registry without the intel package importing Prometheus types.
func (m *Metrics) RegisterCacheStats(hits, misses func() int64) {
	m.Registry.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "sentryd_intel_cache_hits_total",
			Help: "Intelligence lookups served from cache.",
		}, func() float64 { return float64(hits()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "sentryd_intel_cache_misses_total",
			Help: "Intelligence lookups that required a provider query.",
		}, func() float64 { return float64(misses()) }),
	)
}
