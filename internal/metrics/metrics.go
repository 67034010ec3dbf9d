// Package metrics records per-run counters for one compliance suite.
//
// Each Recorder owns its own prometheus.Registry so that concurrent suite
// runs never share collectors. A nil *Recorder is valid and records nothing.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "mcpcheck"

const (
	methodLabel   = "method"
	categoryLabel = "category"
	statusLabel   = "status"
	outcomeLabel  = "outcome"
)

// Outcomes recorded for an awaited request.
const (
	OutcomeResult  = "result"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
	OutcomeFailed  = "transport_failure"
)

// Recorder collects harness and suite metrics for one run.
type Recorder struct {
	registry *prometheus.Registry

	requests      *prometheus.CounterVec
	responses     *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	pending       prometheus.Gauge
	uncorrelated  prometheus.Counter
	notifications prometheus.Counter
	cases         *prometheus.CounterVec
	suiteDuration prometheus.Gauge
}

// NewRecorder creates a recorder with a fresh registry. The server label
// is attached to every series.
func NewRecorder(server string) *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(prometheus.WrapRegistererWith(prometheus.Labels{"server": server}, reg))

	return &Recorder{
		registry: reg,
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_sent_total",
				Help:      "Requests written to the server by method",
			},
			[]string{methodLabel}),
		responses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_completed_total",
				Help:      "Awaited requests by method and outcome",
			},
			[]string{methodLabel, outcomeLabel}),
		latency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Time from send to correlated response",
				Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{methodLabel}),
		pending: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pending_requests",
				Help:      "Requests awaiting a correlated response",
			}),
		uncorrelated: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "uncorrelated_responses_total",
				Help:      "Responses whose id matched no pending request",
			}),
		notifications: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "server_notifications_total",
				Help:      "Notifications received from the server",
			}),
		cases: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "test_cases_total",
				Help:      "Compliance test cases by category and status",
			},
			[]string{categoryLabel, statusLabel}),
		suiteDuration: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "suite_duration_seconds",
				Help:      "Wall-clock duration of the last suite run",
			}),
	}
}

// Registry exposes the underlying registry for gathering.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// RequestSent counts a request written for method and marks it pending
// when awaited is true.
func (r *Recorder) RequestSent(method string, awaited bool) {
	if r == nil {
		return
	}
	r.requests.WithLabelValues(method).Inc()
	if awaited {
		r.pending.Inc()
	}
}

// RequestDone records the end of an awaited request.
func (r *Recorder) RequestDone(method, outcome string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.pending.Dec()
	r.responses.WithLabelValues(method, outcome).Inc()
	if outcome == OutcomeResult || outcome == OutcomeError {
		r.latency.WithLabelValues(method).Observe(elapsed.Seconds())
	}
}

// Uncorrelated counts a response that matched no pending request.
func (r *Recorder) Uncorrelated() {
	if r == nil {
		return
	}
	r.uncorrelated.Inc()
}

// Notification counts a server notification.
func (r *Recorder) Notification() {
	if r == nil {
		return
	}
	r.notifications.Inc()
}

// CaseFinished counts a finished test case.
func (r *Recorder) CaseFinished(category, status string) {
	if r == nil {
		return
	}
	r.cases.WithLabelValues(category, status).Inc()
}

// SuiteFinished records the suite duration.
func (r *Recorder) SuiteFinished(elapsed time.Duration) {
	if r == nil {
		return
	}
	r.suiteDuration.Set(elapsed.Seconds())
}

// WriteTextfile writes every series in the text exposition format, for the
// node_exporter textfile collector.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil {
		return nil
	}
	return WriteTextfile(path, r.registry)
}

// WriteTextfile writes everything g gathers to path atomically.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// Gatherers merges several recorders, e.g. parallel suite runs, into one
// gatherer. Nil recorders are skipped.
func Gatherers(recorders ...*Recorder) prometheus.Gatherers {
	var gs prometheus.Gatherers
	for _, r := range recorders {
		if r != nil {
			gs = append(gs, r.registry)
		}
	}
	return gs
}
