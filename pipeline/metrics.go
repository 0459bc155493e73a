package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "buloradar"

// Metrics holds the pipeline's Prometheus collectors.
type Metrics struct {
	Scans              prometheus.Counter
	UnitsExtracted     *prometheus.CounterVec // kind
	Submissions        *prometheus.CounterVec // status
	Classifications    *prometheus.CounterVec // result
	ClassifyDuration   prometheus.Histogram
	InFlight           prometheus.Gauge
	AlertsRendered     prometheus.Counter
	RenderFailures     prometheus.Counter
	DiscardedLateTotal prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg. Each
// pipeline gets its own registry unless the caller shares one.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Scans: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_total",
			Help:      "Number of page scans run",
		}),
		UnitsExtracted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_extracted_total",
			Help:      "Content units extracted, by kind",
		}, []string{"kind"}),
		Submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Deduplicator outcomes, by status",
		}, []string{"status"}),
		Classifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifications_total",
			Help:      "Classifier results: flagged, clean, timeout, network_error, invalid_response",
		}, []string{"result"}),
		ClassifyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "classify_duration_seconds",
			Help:      "Time spent waiting for the verdict service",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "classifications_in_flight",
			Help:      "Classifications currently awaiting a verdict",
		}),
		AlertsRendered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_rendered_total",
			Help:      "Alerts mounted in the page",
		}),
		RenderFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "render_failures_total",
			Help:      "Alerts that could not be mounted",
		}),
		DiscardedLateTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "late_verdicts_discarded_total",
			Help:      "Verdicts that arrived after their submission was evicted or the page closed",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.Scans,
			m.UnitsExtracted,
			m.Submissions,
			m.Classifications,
			m.ClassifyDuration,
			m.InFlight,
			m.AlertsRendered,
			m.RenderFailures,
			m.DiscardedLateTotal,
		)
	}
	return m
}
