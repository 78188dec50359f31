// Package metrics exposes Prometheus instruments for practice sessions and
// grading. Every method is safe to call on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pmjourney"

// Evaluation outcomes.
const (
	OutcomePassed     = "passed"
	OutcomeFailed     = "failed"
	OutcomeTransport  = "transport_error"
	OutcomeExtraction = "extraction_error"
	OutcomeConfig     = "config_error"
)

// Metrics holds the application's collectors on a private registry.
type Metrics struct {
	registry        *prometheus.Registry
	evaluations     *prometheus.CounterVec
	overallScore    prometheus.Histogram
	gradingDuration prometheus.Histogram
	backfilled      prometheus.Counter
	messagesPosted  *prometheus.CounterVec
	sessionsCreated prometheus.Counter
	sessionsExpired prometheus.Counter
	replyFailures   prometheus.Counter
	liveSubscribers prometheus.Gauge
}

// New creates and registers all collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Evaluations attempted, by outcome.",
		}, []string{"outcome"}),
		overallScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "evaluation_overall_score",
			Help:      "Overall score of finalized evaluations.",
			Buckets:   prometheus.LinearBuckets(10, 10, 10),
		}),
		gradingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "grading_duration_seconds",
			Help:      "Latency of grading completions.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 9),
		}),
		backfilled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluation_backfilled_categories_total",
			Help:      "Criteria missing from model output and backfilled with a zero score.",
		}),
		messagesPosted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_posted_total",
			Help:      "Messages stored by the session service, by role.",
		}, []string{"role"}),
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "Practice sessions created.",
		}),
		sessionsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_expired_total",
			Help:      "Active sessions moved to completed after idling past the TTL.",
		}),
		replyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reply_failures_total",
			Help:      "Counterpart replies that could not be generated.",
		}),
		liveSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_subscribers",
			Help:      "Open websocket live-feed subscriptions.",
		}),
	}
	reg.MustRegister(
		m.evaluations, m.overallScore, m.gradingDuration, m.backfilled,
		m.messagesPosted, m.sessionsCreated, m.sessionsExpired, m.replyFailures, m.liveSubscribers,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// EvaluationFinished records a successful evaluation.
func (m *Metrics) EvaluationFinished(overall int, passing bool, backfilled int) {
	if m == nil {
		return
	}
	outcome := OutcomeFailed
	if passing {
		outcome = OutcomePassed
	}
	m.evaluations.WithLabelValues(outcome).Inc()
	m.overallScore.Observe(float64(overall))
	m.backfilled.Add(float64(backfilled))
}

// EvaluationFailed records an evaluation that produced no score.
func (m *Metrics) EvaluationFailed(outcome string) {
	if m == nil {
		return
	}
	m.evaluations.WithLabelValues(outcome).Inc()
}

// GradingObserved records the latency of one completion call.
func (m *Metrics) GradingObserved(d time.Duration) {
	if m == nil {
		return
	}
	m.gradingDuration.Observe(d.Seconds())
}

// MessagePosted counts a stored message.
func (m *Metrics) MessagePosted(role string) {
	if m == nil {
		return
	}
	m.messagesPosted.WithLabelValues(role).Inc()
}

// SessionCreated counts a new session.
func (m *Metrics) SessionCreated() {
	if m == nil {
		return
	}
	m.sessionsCreated.Inc()
}

// SessionsExpired counts sessions closed by the idle sweeper.
func (m *Metrics) SessionsExpired(n int) {
	if m == nil {
		return
	}
	m.sessionsExpired.Add(float64(n))
}

// ReplyFailed counts a counterpart reply that could not be generated.
func (m *Metrics) ReplyFailed() {
	if m == nil {
		return
	}
	m.replyFailures.Inc()
}

// SubscriberAdded tracks a new live-feed subscriber.
func (m *Metrics) SubscriberAdded() {
	if m == nil {
		return
	}
	m.liveSubscribers.Inc()
}

// SubscriberRemoved tracks a closed live-feed subscriber.
func (m *Metrics) SubscriberRemoved() {
	if m == nil {
		return
	}
	m.liveSubscribers.Dec()
}
