package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	requestCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "teamplan",
			Name:      "change_request_created_total",
			Help:      "Count of change requests proposed.",
		},
	)

	requestDecision = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "teamplan",
			Name:      "change_request_decision_total",
			Help:      "Count of change request resolutions by decision.",
		},
		[]string{"decision"},
	)

	conflictsDetected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "teamplan",
			Name:      "schedule_conflicts_detected_total",
			Help:      "Count of conflict check rejections by stage.",
		},
		[]string{"stage"},
	)

	scheduleWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "teamplan",
			Name:      "schedule_writes_total",
			Help:      "Count of schedule mutations by kind.",
		},
		[]string{"kind"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "teamplan",
			Name:      "http_requests_total",
			Help:      "Count of HTTP API requests by endpoint.",
		},
		[]string{"endpoint"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(requestCreated, requestDecision, conflictsDetected, scheduleWrites, httpRequests)
	})
}

func IncRequestCreated() {
	requestCreated.Inc()
}

func IncRequestDecision(decision string) {
	requestDecision.WithLabelValues(decision).Inc()
}

func IncConflictDetected(stage string) {
	conflictsDetected.WithLabelValues(stage).Inc()
}

func IncScheduleWrite(kind string) {
	scheduleWrites.WithLabelValues(kind).Inc()
}

func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}
