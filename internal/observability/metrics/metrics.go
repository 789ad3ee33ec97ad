package metrics

import "github.com/prometheus/client_golang/prometheus"

// AutomationMetrics exposes counters/histograms for follow-up scheduling and dispatch.
type AutomationMetrics struct {
	scheduledTotal *prometheus.CounterVec
	dispatchTotal  *prometheus.CounterVec
	reclaimedTotal *prometheus.CounterVec
	cycleDuration  prometheus.Histogram
	eventsTotal    *prometheus.CounterVec
}

func NewAutomationMetrics(reg prometheus.Registerer) *AutomationMetrics {
	m := &AutomationMetrics{
		scheduledTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "automation",
			Name:      "scheduled_total",
			Help:      "Follow-up scheduling outcomes by trigger",
		}, []string{"trigger", "outcome"}),
		dispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "automation",
			Name:      "dispatch_total",
			Help:      "Terminal dispatch transitions",
		}, []string{"status", "channel"}),
		reclaimedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "automation",
			Name:      "reclaimed_total",
			Help:      "Stale claims released by the dispatcher",
		}, []string{"outcome"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "automation",
			Name:      "dispatch_cycle_seconds",
			Help:      "Duration of dispatcher cycles",
			Buckets:   prometheus.DefBuckets,
		}),
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "automation",
			Name:      "events_total",
			Help:      "Domain events received by source",
		}, []string{"source", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.scheduledTotal, m.dispatchTotal, m.reclaimedTotal, m.cycleDuration, m.eventsTotal)
	return m
}

// ObserveScheduled counts one scheduling attempt. Outcome is one of
// scheduled, duplicate, skipped or error.
func (m *AutomationMetrics) ObserveScheduled(trigger, outcome string) {
	if m == nil {
		return
	}
	m.scheduledTotal.WithLabelValues(trigger, outcome).Inc()
}

func (m *AutomationMetrics) ObserveDispatch(status, channel string) {
	if m == nil {
		return
	}
	if channel == "" {
		channel = "none"
	}
	m.dispatchTotal.WithLabelValues(status, channel).Inc()
}

func (m *AutomationMetrics) ObserveReclaimed(requeued, failed int64) {
	if m == nil {
		return
	}
	if requeued > 0 {
		m.reclaimedTotal.WithLabelValues("requeued").Add(float64(requeued))
	}
	if failed > 0 {
		m.reclaimedTotal.WithLabelValues("failed").Add(float64(failed))
	}
}

func (m *AutomationMetrics) ObserveCycle(seconds float64) {
	if m == nil {
		return
	}
	m.cycleDuration.Observe(seconds)
}

func (m *AutomationMetrics) ObserveEvent(source, status string) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(source, status).Inc()
}
