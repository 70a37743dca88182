// Package metrics exposes Prometheus collectors for scans, sweeps, mode
// transitions and verification calls.
//
// Collectors live on a private registry so that several instances can
// coexist in one process (tests, embedded use).
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Scans by verdict and source ("region", "field", "selection", "hover", "cli")
	Scans *prometheus.CounterVec

	// Zero-width characters seen across all scans
	ZeroWidthChars prometheus.Counter

	// Tags decoded, by checksum validity
	Tags *prometheus.CounterVec

	Sweeps           prometheus.Counter
	SweepDuration    prometheus.Histogram
	CoalescedBatches prometheus.Counter
	StaleEvents      *prometheus.CounterVec
	AnnotationErrors prometheus.Counter

	Transitions *prometheus.CounterVec
	ActiveMode  *prometheus.GaugeVec

	Verifications       *prometheus.CounterVec
	VerificationLatency prometheus.Histogram
}

// New creates a Metrics instance with all collectors registered on a fresh
// registry, plus the Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Scans: f.NewCounterVec(prometheus.CounterOpts{
			Name: "zwsentry_scans_total",
			Help: "Text units scanned, by verdict and source",
		}, []string{"verdict", "source"}),
		ZeroWidthChars: f.NewCounter(prometheus.CounterOpts{
			Name: "zwsentry_zero_width_chars_total",
			Help: "Zero-width characters observed across all scans",
		}),
		Tags: f.NewCounterVec(prometheus.CounterOpts{
			Name: "zwsentry_tags_total",
			Help: "Watermark tags decoded, by checksum validity",
		}, []string{"valid"}),
		Sweeps: f.NewCounter(prometheus.CounterOpts{
			Name: "zwsentry_sweeps_total",
			Help: "Full document sweeps performed in auto-detect mode",
		}),
		SweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "zwsentry_sweep_duration_seconds",
			Help:    "Duration of full document sweeps",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		CoalescedBatches: f.NewCounter(prometheus.CounterOpts{
			Name: "zwsentry_mutation_batches_coalesced_total",
			Help: "Mutation batches folded into an already pending re-sweep",
		}),
		StaleEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "zwsentry_stale_events_total",
			Help: "Deferred events dropped because their ticket was stale, by kind",
		}, []string{"kind"}),
		AnnotationErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "zwsentry_annotation_errors_total",
			Help: "Renderer failures while applying or clearing highlights",
		}),
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "zwsentry_mode_transitions_total",
			Help: "Mode transitions, by target mode",
		}, []string{"mode"}),
		ActiveMode: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "zwsentry_active_mode",
			Help: "1 for the active mode, 0 otherwise",
		}, []string{"mode"}),
		Verifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "zwsentry_verifications_total",
			Help: "Verification calls, by outcome status",
		}, []string{"status"}),
		VerificationLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "zwsentry_verification_duration_seconds",
			Help:    "Duration of verification calls including retries",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
	}
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveScan records one scanned text unit.
func (m *Metrics) ObserveScan(source, verdict string, zeroWidth, valid, invalid int) {
	if m == nil {
		return
	}
	m.Scans.WithLabelValues(verdict, source).Inc()
	m.ZeroWidthChars.Add(float64(zeroWidth))
	if valid > 0 {
		m.Tags.WithLabelValues("true").Add(float64(valid))
	}
	if invalid > 0 {
		m.Tags.WithLabelValues("false").Add(float64(invalid))
	}
}

// ObserveSweep records a completed sweep.
func (m *Metrics) ObserveSweep(d time.Duration) {
	if m != nil {
		m.Sweeps.Inc()
		m.SweepDuration.Observe(d.Seconds())
	}
}

// IncrementCoalesced records a mutation batch that did not schedule a new
// re-sweep.
func (m *Metrics) IncrementCoalesced() {
	if m != nil {
		m.CoalescedBatches.Inc()
	}
}

// IncrementStale records a dropped deferred event.
func (m *Metrics) IncrementStale(kind string) {
	if m != nil {
		m.StaleEvents.WithLabelValues(kind).Inc()
	}
}

// IncrementAnnotationErrors records a renderer failure.
func (m *Metrics) IncrementAnnotationErrors() {
	if m != nil {
		m.AnnotationErrors.Inc()
	}
}

// SetMode records a transition and flips the active-mode gauge.
func (m *Metrics) SetMode(mode string, all []string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(mode).Inc()
	for _, name := range all {
		v := 0.0
		if name == mode {
			v = 1
		}
		m.ActiveMode.WithLabelValues(name).Set(v)
	}
}

// ObserveVerification records one verification call.
func (m *Metrics) ObserveVerification(status string, d time.Duration) {
	if m != nil {
		m.Verifications.WithLabelValues(status).Inc()
		m.VerificationLatency.Observe(d.Seconds())
	}
}
