package metrics

import "github.com/prometheus/client_golang/prometheus"

// Commit outcomes recorded by ObserveCommit.
const (
	OutcomeCommitted  = "committed"
	OutcomeReplayed   = "replayed"
	OutcomeConflict   = "conflict"
	OutcomeValidation = "validation"
	OutcomeTransient  = "transient"
	OutcomeError      = "error"
)

// SchedulingMetrics exposes counters/histograms for availability and booking
// flows. A nil *SchedulingMetrics is a valid no-op recorder.
type SchedulingMetrics struct {
	commitsTotal        *prometheus.CounterVec
	transitionsTotal    *prometheus.CounterVec
	availabilityLatency *prometheus.HistogramVec
}

func NewSchedulingMetrics(reg prometheus.Registerer) *SchedulingMetrics {
	m := &SchedulingMetrics{
		commitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dentaldesk",
			Subsystem: "scheduling",
			Name:      "booking_commits_total",
			Help:      "Booking commit attempts by outcome",
		}, []string{"outcome"}),
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dentaldesk",
			Subsystem: "scheduling",
			Name:      "status_transitions_total",
			Help:      "Booking status transitions by target status",
		}, []string{"status"}),
		availabilityLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dentaldesk",
			Subsystem: "scheduling",
			Name:      "availability_latency_seconds",
			Help:      "Latency of availability queries",
			Buckets:   prometheus.DefBuckets,
		}, []string{"cache"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.commitsTotal, m.transitionsTotal, m.availabilityLatency)
	return m
}

func (m *SchedulingMetrics) ObserveCommit(outcome string) {
	if m == nil {
		return
	}
	m.commitsTotal.WithLabelValues(outcome).Inc()
}

func (m *SchedulingMetrics) ObserveTransition(status string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(status).Inc()
}

// ObserveAvailability records one availability query; cache is "hit" or "miss".
func (m *SchedulingMetrics) ObserveAvailability(cache string, seconds float64) {
	if m == nil {
		return
	}
	m.availabilityLatency.WithLabelValues(cache).Observe(seconds)
}
