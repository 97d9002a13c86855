package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	WebhookRequests        *prometheus.CounterVec
	JobEvents              *prometheus.CounterVec
	JobDuration            *prometheus.HistogramVec
	QueueDepth             *prometheus.GaugeVec
	ClassifierResults      *prometheus.CounterVec
	ClassifierDuration     prometheus.Histogram
	FlowTransitions        *prometheus.CounterVec
	DeliveryDuration       *prometheus.HistogramVec
	StoreOperationDuration *prometheus.HistogramVec
	LeaderChanges          prometheus.Counter
}

// NewMetrics registers the collectors on reg. Pass prometheus.DefaultRegisterer
// in main and a fresh prometheus.NewRegistry() in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		WebhookRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "webhook_requests_total",
			Help: "Inbound webhook requests by outcome",
		}, []string{"outcome"}),
		JobEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "queue_job_events_total",
			Help: "Queue lifecycle events by job kind and event",
		}, []string{"kind", "event"}),
		JobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "queue_job_duration_seconds",
			Help:    "Time spent in job handlers",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "queue_jobs",
			Help: "Jobs currently held by the queue by kind and state",
		}, []string{"kind", "state"}),
		ClassifierResults: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "classifier_results_total",
			Help: "Classifications by source and intent",
		}, []string{"source", "intent"}),
		ClassifierDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "classifier_duration_seconds",
			Help:    "Time taken to classify one message",
			Buckets: prometheus.DefBuckets,
		}),
		FlowTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "conversation_flow_transitions_total",
			Help: "Responses produced per flow",
		}, []string{"flow"}),
		DeliveryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "delivery_duration_seconds",
			Help:    "Time taken to hand a reply to the provider",
			Buckets: prometheus.DefBuckets,
		}, []string{"status"}),
		StoreOperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "store_operation_duration_seconds",
			Help:    "Time taken for queue and session store operations",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		LeaderChanges: factory.NewCounter(prometheus.CounterOpts{
			Name: "leader_changes_total",
			Help: "Total number of leader changes",
		}),
	}
}
