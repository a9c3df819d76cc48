package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	APIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "courier_api_requests_total", Help: "API requests"},
		[]string{"endpoint", "status"},
	)
	Enqueues = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "courier_enqueue_total", Help: "SQS enqueue results"},
		[]string{"result"},
	)
	SESSend = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ses_send_total", Help: "SES send outcomes"},
		[]string{"result"},
	)
	SESLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "ses_send_latency_seconds", Help: "SES send latency"},
	)
	SNSEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "sns_events_total", Help: "Inbound SNS notifications"},
		[]string{"type"},
	)
	SNSDuplicates = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "sns_events_duplicate_total", Help: "Redelivered SNS notifications skipped by dedup"},
	)
	Uncorrelated = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "sns_events_uncorrelated_total", Help: "SNS notifications with no matching delivery log"},
	)
	Suppressions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "courier_suppressions_total", Help: "Suppression entries created"},
		[]string{"reason"},
	)
	Suppressed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "courier_suppressed_sends_total", Help: "Sends short-circuited by the suppression list"},
		[]string{"reason"},
	)
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(APIRequests, Enqueues, SESSend, SESLatency, SNSEvents, SNSDuplicates, Uncorrelated, Suppressions, Suppressed)
}
