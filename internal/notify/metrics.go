package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"teamplan/internal/models"
)

// Metrics holds Prometheus metrics for resolution delivery.
type Metrics struct {
	// DeliveriesTotal is the total number of delivery attempts by outcome.
	DeliveriesTotal *prometheus.CounterVec

	// QueueSize is the current number of undelivered resolutions.
	QueueSize prometheus.Gauge

	// SendDuration is the time to deliver one resolution to all recipients.
	SendDuration prometheus.Histogram
}

// NewMetrics creates and registers delivery metrics.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		DeliveriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resolution_deliveries_total",
				Help:      "Total number of resolution delivery attempts",
			},
			[]string{"status", "decision"},
		),

		QueueSize: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "resolution_delivery_queue_size",
				Help:      "Current number of undelivered resolutions",
			},
		),

		SendDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "resolution_delivery_duration_seconds",
				Help:      "Time to deliver a resolution to all recipients",
				Buckets:   []float64{.01, .05, .1, .5, 1, 2, 5},
			},
		),
	}
}

// IncSent increments the delivery counter for a given outcome and decision.
func (m *Metrics) IncSent(status string, state models.RequestState) {
	m.DeliveriesTotal.WithLabelValues(status, string(state)).Inc()
}

// SetQueueSize sets the current queue size.
func (m *Metrics) SetQueueSize(size int64) {
	m.QueueSize.Set(float64(size))
}

// ObserveSendDuration records the time taken to deliver one resolution.
func (m *Metrics) ObserveSendDuration(seconds float64) {
	m.SendDuration.Observe(seconds)
}
