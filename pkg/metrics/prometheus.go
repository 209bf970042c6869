package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain repository.Metrics using Prometheus.
type Recorder struct {
	signalsProcessed *prometheus.CounterVec
	deliveries       *prometheus.CounterVec
	suppressions     *prometheus.CounterVec
	errorsTotal      *prometheus.CounterVec
	cycleDuration    prometheus.Histogram
	backlog          prometheus.Gauge
	latency          *prometheus.HistogramVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		signalsProcessed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sigrelay_signals_processed_total",
				Help: "Total number of signals marked processed",
			},
			[]string{"kind"},
		),
		deliveries: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sigrelay_deliveries_total",
				Help: "Delivery results per recipient",
			},
			[]string{"outcome"},
		),
		suppressions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sigrelay_suppressions_total",
				Help: "Deliveries suppressed by the anti-spam chain",
			},
			[]string{"filter"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sigrelay_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		cycleDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sigrelay_cycle_duration_seconds",
				Help:    "Duration of dispatch cycles in seconds",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
			},
		),
		backlog: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "sigrelay_unprocessed_signals",
				Help: "Unprocessed signal backlog at last check",
			},
		),
		latency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sigrelay_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordSignalProcessed records a completed signal by kind.
func (r *Recorder) RecordSignalProcessed(kind string) {
	r.signalsProcessed.WithLabelValues(kind).Inc()
}

// RecordDelivery records one per-recipient delivery result.
func (r *Recorder) RecordDelivery(outcome string) {
	r.deliveries.WithLabelValues(outcome).Inc()
}

// RecordSuppression records an anti-spam suppression by filter name.
func (r *Recorder) RecordSuppression(filter string) {
	r.suppressions.WithLabelValues(filter).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordCycleDuration records one dispatch cycle's duration.
func (r *Recorder) RecordCycleDuration(seconds float64) {
	r.cycleDuration.Observe(seconds)
}

// RecordBacklog records the unprocessed signal count.
func (r *Recorder) RecordBacklog(n int) {
	r.backlog.Set(float64(n))
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
