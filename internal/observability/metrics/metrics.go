package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"service", "method", "path", "status"},
	)

	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)

	KeyPackagesPublishedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "key_packages_published_total",
			Help: "Total number of key packages accepted into the pool.",
		},
	)

	KeyPackagesAvailable = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "key_packages_available",
			Help: "Unconsumed single-use key packages per device, as of the last count.",
		},
		[]string{"device_id"},
	)

	KeyPackagesConsumedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "key_packages_consumed_total",
			Help: "Total number of key packages handed out.",
		},
		[]string{"last_resort"},
	)

	MessagesQueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_queued_total",
			Help: "Total number of messages accepted by the relay.",
		},
		[]string{"kind"},
	)

	CommitConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "commit_conflicts_total",
			Help: "Total number of commit submissions rejected by epoch-fencing.",
		},
	)

	MessagesAckedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "messages_acked_total",
			Help: "Total number of inbox entries acknowledged.",
		},
	)

	DeliveryTasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_tasks_total",
			Help: "Delivery task outcomes per worker run.",
		},
		[]string{"outcome"},
	)
)

func MustRegister(serviceName string) {
	HTTPRequestsTotal = HTTPRequestsTotal.MustCurryWith(prometheus.Labels{"service": serviceName})
	HTTPRequestDurationSeconds = HTTPRequestDurationSeconds.MustCurryWith(prometheus.Labels{"service": serviceName}).(*prometheus.HistogramVec)

	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDurationSeconds,
		KeyPackagesPublishedTotal,
		KeyPackagesAvailable,
		KeyPackagesConsumedTotal,
		MessagesQueuedTotal,
		CommitConflictsTotal,
		MessagesAckedTotal,
		DeliveryTasksTotal,
	)
}
