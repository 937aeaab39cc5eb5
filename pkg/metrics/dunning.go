package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

// DunningMetrics holds the domain counters for webhook ingestion, retries,
// notifications and sweep jobs. A nil or zero value is a no-op.
type DunningMetrics struct {
	webhookEvents *prometheus.CounterVec
	attempts      *prometheus.CounterVec
	notifications *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	bpDur         *prometheus.HistogramVec

	jobDuration *prometheus.HistogramVec
	jobSuccess  *prometheus.CounterVec
	jobFailure  *prometheus.CounterVec
}

// NewDunningMetrics registers the dunning metrics on reg. A nil registerer
// yields a no-op instance, which tests rely on.
func NewDunningMetrics(reg prometheus.Registerer) *DunningMetrics {
	if reg == nil {
		return &DunningMetrics{}
	}
	m := &DunningMetrics{
		webhookEvents: NewMetric(webhookEventsMetric, "dunning").(*prometheus.CounterVec),
		attempts:      NewMetric(paymentAttemptsMetric, "dunning").(*prometheus.CounterVec),
		notifications: NewMetric(notificationsMetric, "dunning").(*prometheus.CounterVec),
		transitions:   NewMetric(transitionsMetric, "dunning").(*prometheus.CounterVec),
		bpDur:         NewMetric(MetricsBusinessProcess, "dunning").(*prometheus.HistogramVec),
		jobDuration:   NewMetric(jobDurationMetric, "").(*prometheus.HistogramVec),
		jobSuccess:    NewMetric(jobSuccessMetric, "").(*prometheus.CounterVec),
		jobFailure:    NewMetric(jobFailureMetric, "").(*prometheus.CounterVec),
	}
	reg.MustRegister(
		m.webhookEvents, m.attempts, m.notifications, m.transitions, m.bpDur,
		m.jobDuration, m.jobSuccess, m.jobFailure,
	)
	return m
}

func (m *DunningMetrics) WebhookEvent(provider, outcome string) {
	if m == nil || m.webhookEvents == nil {
		return
	}
	m.webhookEvents.WithLabelValues(normalizeLabel(provider), outcome).Inc()
}

func (m *DunningMetrics) PaymentAttempt(provider, status, reason string) {
	if m == nil || m.attempts == nil {
		return
	}
	m.attempts.WithLabelValues(normalizeLabel(provider), status, reason).Inc()
}

func (m *DunningMetrics) Notification(stage, outcome string) {
	if m == nil || m.notifications == nil {
		return
	}
	m.notifications.WithLabelValues(stage, outcome).Inc()
}

func (m *DunningMetrics) Transition(status, stage string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(status, stage).Inc()
}

// ObserveProcess records a business-process latency in milliseconds.
func (m *DunningMetrics) ObserveProcess(typ, subtype string, start time.Time) {
	if m == nil || m.bpDur == nil {
		return
	}
	m.bpDur.WithLabelValues(typ, subtype).Observe(MillisecondsSince(start))
}

// ObserveJob records the duration and outcome of a scheduled job run.
func (m *DunningMetrics) ObserveJob(job string, duration time.Duration, err error) {
	if m == nil || m.jobDuration == nil {
		return
	}
	job = normalizeLabel(job)
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
	if err != nil {
		m.jobFailure.WithLabelValues(job).Inc()
		return
	}
	m.jobSuccess.WithLabelValues(job).Inc()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

func newDefaultDunningMetrics() *DunningMetrics {
	return NewDunningMetrics(prometheus.DefaultRegisterer)
}

var Module = fx.Options(
	fx.Provide(newDefaultDunningMetrics),
)
