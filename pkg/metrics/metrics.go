package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// HistogramBuckets are latency buckets in milliseconds. Provider calls during
// a retry can take tens of seconds, so the tail reaches two minutes.
var HistogramBuckets = []float64{
	25, 50, 100, 200, 300, 500,
	750, 1000, 1500, 2000,
	3000, 5000, 7500, 10000, 15000,
	30000, 60000, 120000,
}

// Metric is a definition for the name, description, type and labels of a
// collector.
type Metric struct {
	ID          string
	Name        string
	Description string
	Type        string
	Args        []string
	// Buckets overrides HistogramBuckets for histogram types.
	Buckets []float64
}

func (m *Metric) buckets() []float64 {
	if len(m.Buckets) > 0 {
		return m.Buckets
	}
	return HistogramBuckets
}

// NewMetric builds the collector for m.Type. It returns nil for an unknown type.
func NewMetric(m *Metric, subsystem string) prometheus.Collector {
	switch m.Type {
	case "counter_vec":
		return prometheus.NewCounterVec(prometheus.CounterOpts{Subsystem: subsystem, Name: m.Name, Help: m.Description}, m.Args)
	case "counter":
		return prometheus.NewCounter(prometheus.CounterOpts{Subsystem: subsystem, Name: m.Name, Help: m.Description})
	case "gauge_vec":
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{Subsystem: subsystem, Name: m.Name, Help: m.Description}, m.Args)
	case "histogram_vec":
		return prometheus.NewHistogramVec(prometheus.HistogramOpts{Subsystem: subsystem, Name: m.Name, Help: m.Description, Buckets: m.buckets()}, m.Args)
	case "summary_vec":
		return prometheus.NewSummaryVec(prometheus.SummaryOpts{Subsystem: subsystem, Name: m.Name, Help: m.Description}, m.Args)
	}
	return nil
}

// Dunning domain metrics, registered under the "dunning" subsystem.
var (
	webhookEventsMetric = &Metric{
		ID:          "webhookEvents",
		Name:        "webhook_events_total",
		Description: "Inbound webhook deliveries by provider and outcome.",
		Type:        "counter_vec",
		Args:        []string{"provider", "outcome"},
	}
	paymentAttemptsMetric = &Metric{
		ID:          "paymentAttempts",
		Name:        "payment_attempts_total",
		Description: "Retry charges by provider, status and failure reason.",
		Type:        "counter_vec",
		Args:        []string{"provider", "status", "reason"},
	}
	notificationsMetric = &Metric{
		ID:          "notifications",
		Name:        "notifications_total",
		Description: "Dunning notifications by stage and outcome.",
		Type:        "counter_vec",
		Args:        []string{"stage", "outcome"},
	}
	transitionsMetric = &Metric{
		ID:          "transitions",
		Name:        "transitions_total",
		Description: "Dunning process transitions by resulting status and stage.",
		Type:        "counter_vec",
		Args:        []string{"status", "stage"},
	}
	// MetricsBusinessProcess times webhook handling and dunning advances,
	// labelled by component and provider/stage.
	MetricsBusinessProcess = &Metric{
		ID:          "bpDur",
		Name:        "bp_dur",
		Description: "process latency in milliseconds",
		Type:        "histogram_vec",
		Args:        []string{"type", "subtype"},
	}
)

// Scheduled job metrics carry no subsystem so every job shares them.
var (
	jobDurationMetric = &Metric{
		ID:          "jobDuration",
		Name:        "job_duration_seconds",
		Description: "Duration of scheduled jobs in seconds.",
		Type:        "histogram_vec",
		Args:        []string{"job"},
		Buckets:     prometheus.DefBuckets,
	}
	jobSuccessMetric = &Metric{
		ID:          "jobSuccess",
		Name:        "job_success",
		Description: "Successful scheduled job executions.",
		Type:        "counter_vec",
		Args:        []string{"job"},
	}
	jobFailureMetric = &Metric{
		ID:          "jobFailure",
		Name:        "job_failure",
		Description: "Failed scheduled job executions.",
		Type:        "counter_vec",
		Args:        []string{"job"},
	}
)
