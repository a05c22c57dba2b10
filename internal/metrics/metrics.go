package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "talep"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservation_transitions_total",
			Help:      "Committed reservation lifecycle transitions by resource kind.",
		},
		[]string{"kind", "transition"},
	)

	conflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservation_conflicts_total",
			Help:      "Requests refused because of overlap or exhausted capacity.",
		},
		[]string{"kind"},
	)

	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification attempts by channel and outcome.",
		},
		[]string{"channel", "outcome"},
	)

	sheetsTasks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sheets_tasks_total",
			Help:      "Processed sheet sync tasks by type and outcome.",
		},
		[]string{"task", "outcome"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, transitions, conflicts, notifications, sheetsTasks)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

func IncTransition(kind, transition string) {
	transitions.WithLabelValues(kind, transition).Inc()
}

func IncConflict(kind string) {
	conflicts.WithLabelValues(kind).Inc()
}

// IncNotification records one delivery attempt. outcome is sent, failed or dropped.
func IncNotification(channel, outcome string) {
	notifications.WithLabelValues(channel, outcome).Inc()
}

// IncSheetsTask records a sync task result. outcome is completed, retry or failed.
func IncSheetsTask(task, outcome string) {
	sheetsTasks.WithLabelValues(task, outcome).Inc()
}
