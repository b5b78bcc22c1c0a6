package magpie

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for batch submission. Attach one to
// Config.Metrics to have SendAll record counters and durations.
type Metrics struct {
	BatchesTotal     prometheus.Counter
	BatchDuration    prometheus.Histogram
	MessagesAccepted prometheus.Counter
	MessagesFailed   prometheus.Counter
	MessagesSkipped  prometheus.Counter
	SessionFaults    prometheus.Counter
	RecipientsTotal  *prometheus.CounterVec
	SubmitDuration   prometheus.Histogram
}

// NewMetrics creates and registers submission metrics with the given
// registerer. Pass prometheus.DefaultRegisterer for the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		BatchesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "magpie_batches_total",
			Help: "Total number of batch submissions",
		}),
		BatchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "magpie_batch_duration_seconds",
			Help:    "Wall time of batch submissions",
			Buckets: prometheus.DefBuckets,
		}),
		MessagesAccepted: factory.NewCounter(prometheus.CounterOpts{
			Name: "magpie_messages_accepted_total",
			Help: "Messages accepted by the server",
		}),
		MessagesFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "magpie_messages_failed_total",
			Help: "Messages offered and rejected",
		}),
		MessagesSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "magpie_messages_skipped_total",
			Help: "Messages never attempted because the session had failed",
		}),
		SessionFaults: factory.NewCounter(prometheus.CounterOpts{
			Name: "magpie_session_faults_total",
			Help: "Batches ended early by a session fault",
		}),
		RecipientsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "magpie_recipients_total",
			Help: "RCPT TO verdicts by status",
		}, []string{"status"}),
		SubmitDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "magpie_submit_duration_seconds",
			Help:    "Wall time of individual message transactions",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// observeBatch records a finished batch report.
func (m *Metrics) observeBatch(report *BatchReport) {
	m.BatchesTotal.Inc()
	m.BatchDuration.Observe(report.FinishedAt.Sub(report.StartedAt).Seconds())
	if report.Fault != nil {
		m.SessionFaults.Inc()
	}
	for _, o := range report.Outcomes {
		switch {
		case o.Accepted:
			m.MessagesAccepted.Inc()
		case o.NotAttempted:
			m.MessagesSkipped.Inc()
		default:
			m.MessagesFailed.Inc()
		}
		if !o.NotAttempted {
			m.SubmitDuration.Observe(o.Duration.Seconds())
		}
		for _, rcpt := range o.Recipients {
			if rcpt.Accepted {
				m.RecipientsTotal.WithLabelValues("accepted").Inc()
			} else {
				m.RecipientsTotal.WithLabelValues("rejected").Inc()
			}
		}
	}
}
