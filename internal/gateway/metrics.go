package gateway

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeSuccess     = "success"
	outcomeFailure     = "failure"
	outcomeUnavailable = "unavailable"
)

// promMetrics holds the gateway collectors
type promMetrics struct {
	operations    *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	transferSpeed *prometheus.GaugeVec
}

// newPromMetrics creates the collectors and registers them on reg.
// A nil reg leaves them unregistered.
func newPromMetrics(reg prometheus.Registerer) *promMetrics {
	factory := promauto.With(reg)
	return &promMetrics{
		operations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gitdeck_backend_operations_total",
				Help: "Total number of backend operations by outcome",
			},
			[]string{"operation", "result"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gitdeck_backend_operation_duration_seconds",
				Help:    "Backend operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		transferSpeed: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gitdeck_transfer_speed_kbps",
				Help: "Speed of the last network transfer in KB/s",
			},
			[]string{"direction"},
		),
	}
}

func (m *promMetrics) observe(op, outcome string, elapsed time.Duration) {
	m.operations.WithLabelValues(op, outcome).Inc()
	if outcome != outcomeUnavailable {
		m.duration.WithLabelValues(op).Observe(elapsed.Seconds())
	}
}

func (m *promMetrics) observeTransfer(upload bool, kbps float64) {
	direction := "download"
	if upload {
		direction = "upload"
	}
	m.transferSpeed.WithLabelValues(direction).Set(kbps)
}
