package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the visitor lifecycle.
type Metrics struct {
	// Registrations accepted
	Registrations prometheus.Counter

	// Decisions by decision and outcome ("applied", "already_processed", "not_found", "error")
	Decisions *prometheus.CounterVec

	// Scan gate results by outcome ("admitted", "denied", "duplicate", "malformed", "not_found", "error")
	Scans *prometheus.CounterVec

	// Outbound notifications by kind and result
	Notifications *prometheus.CounterVec

	// Latency of the locked read-modify-write for decide and scan
	TransitionLatency *prometheus.HistogramVec
}

// New registers the visitor metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Registrations: f.NewCounter(prometheus.CounterOpts{
			Name: "visitorpass_registrations_total",
			Help: "Visitor registrations persisted",
		}),
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "visitorpass_decisions_total",
			Help: "Approval decisions by decision and outcome",
		}, []string{"decision", "outcome"}),
		Scans: f.NewCounterVec(prometheus.CounterOpts{
			Name: "visitorpass_scans_total",
			Help: "Scan gate results by outcome",
		}, []string{"outcome"}),
		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "visitorpass_notifications_total",
			Help: "Outbound notifications by kind and result",
		}, []string{"kind", "result"}),
		TransitionLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "visitorpass_transition_duration_seconds",
			Help:    "Duration of the atomic state transition including the store round trip",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"operation"}),
	}
}

func (m *Metrics) IncRegistration() {
	if m != nil {
		m.Registrations.Inc()
	}
}

func (m *Metrics) IncDecision(decision, outcome string) {
	if m != nil {
		m.Decisions.WithLabelValues(decision, outcome).Inc()
	}
}

func (m *Metrics) IncScan(outcome string) {
	if m != nil {
		m.Scans.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) IncNotification(kind, result string) {
	if m != nil {
		m.Notifications.WithLabelValues(kind, result).Inc()
	}
}

// ObserveTransition records how long a decide or scan transition took.
func (m *Metrics) ObserveTransition(operation string, start time.Time) {
	if m != nil {
		m.TransitionLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}
}
