package transport

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "telprobe"

// Recorder collects request and verification metrics in a private registry.
// Params: none; a nil *Recorder is a valid no-op.
// Returns: metrics sink shared by clients of one run.
type Recorder struct {
	registry     *prometheus.Registry
	attempts     *prometheus.CounterVec
	results      *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	verification *prometheus.CounterVec
	ticks        prometheus.Histogram
}

// NewRecorder creates and registers the probe metric families.
// Params: none.
// Returns: recorder with its own registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "http",
				Name:      "attempts_total",
				Help:      "HTTP attempts by client and status class.",
			},
			[]string{"client", "class"},
		),
		results: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "http",
				Name:      "calls_total",
				Help:      "Completed calls after retries by client and result.",
			},
			[]string{"client", "result"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "http",
				Name:      "attempt_duration_seconds",
				Help:      "Duration of one HTTP attempt.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"client"},
		),
		verification: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "verify",
				Name:      "outcomes_total",
				Help:      "Verification outcomes by final state.",
			},
			[]string{"state"},
		),
		ticks: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "verify",
				Name:      "ticks",
				Help:      "Query ticks needed per verification.",
				Buckets:   []float64{1, 2, 3, 5, 10, 20, 50},
			},
		),
	}
	r.registry.MustRegister(r.attempts, r.results, r.latency, r.verification, r.ticks)
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// ObserveAttempt records one HTTP attempt.
// Params: client label; class status class or transport_error; took attempt duration.
// Returns: none.
func (r *Recorder) ObserveAttempt(client string, class string, took time.Duration) {
	if r == nil {
		return
	}
	r.attempts.WithLabelValues(client, class).Inc()
	r.latency.WithLabelValues(client).Observe(took.Seconds())
}

// ObserveResult records one completed call.
// Params: client label; result success/rejected/server_error/transport_error.
// Returns: none.
func (r *Recorder) ObserveResult(client string, result string) {
	if r == nil {
		return
	}
	r.results.WithLabelValues(client, result).Inc()
}

// ObserveVerification records one finished verification.
// Params: state final state name; ticks query attempts made.
// Returns: none.
func (r *Recorder) ObserveVerification(state string, ticks int) {
	if r == nil {
		return
	}
	r.verification.WithLabelValues(state).Inc()
	r.ticks.Observe(float64(ticks))
}

// WriteTextfile writes all metrics in Prometheus text format.
// Params: path destination file (node_exporter textfile collector layout).
// Returns: write error.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile %q: %w", path, err)
	}
	return nil
}
