package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"accountlink/internal/link/models"
)

// Metrics holds Prometheus metrics for account-link reconciliation.
type Metrics struct {
	Reconciliations *prometheus.CounterVec
	Duration        prometheus.Histogram
	DuplicateEvents prometheus.Counter
}

// New creates and registers link metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	m := &Metrics{
		Reconciliations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "accountlink_reconciliations_total",
			Help: "Account-link reconciliations by outcome",
		}, []string{"outcome"}),
		Duration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "accountlink_reconcile_duration_seconds",
			Help:    "Time spent reconciling one account link",
			Buckets: prometheus.DefBuckets,
		}),
		DuplicateEvents: f.NewCounter(prometheus.CounterOpts{
			Name: "accountlink_link_events_duplicate_total",
			Help: "Link events dropped because their event id was already seen",
		}),
	}
	// Pre-create every label so dashboards see zeroes instead of gaps.
	for _, o := range models.Outcomes {
		m.Reconciliations.WithLabelValues(o.String())
	}
	return m
}

// ObserveReconcile records one reconciliation.
func (m *Metrics) ObserveReconcile(outcome models.Outcome, took time.Duration) {
	m.Reconciliations.WithLabelValues(outcome.String()).Inc()
	m.Duration.Observe(took.Seconds())
}

// IncrementDuplicateEvents counts a redelivered link event.
func (m *Metrics) IncrementDuplicateEvents() {
	m.DuplicateEvents.Inc()
}
