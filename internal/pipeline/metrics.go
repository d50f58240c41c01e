package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics instruments pipeline execution.
type Metrics struct {
	stageDuration *prometheus.HistogramVec
	requestsTotal *prometheus.CounterVec
}

// NewMetrics registers pipeline metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "analystd",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Duration of each pipeline stage in seconds, labeled by stage name.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"stage"}),
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "analystd",
			Subsystem: "pipeline",
			Name:      "requests_total",
			Help:      "Completed pipeline requests labeled by message type and outcome.",
		}, []string{"message_type", "outcome"}),
	}
}

// ObserveStage records one stage's elapsed time.
func (m *Metrics) ObserveStage(stage Stage, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(string(stage)).Observe(elapsed.Seconds())
}

// ObserveRequest records one completed request.
func (m *Metrics) ObserveRequest(messageType MessageType, success bool) {
	if m == nil {
		return
	}
	outcome := "error"
	if success {
		outcome = "success"
	}
	m.requestsTotal.WithLabelValues(string(messageType), outcome).Inc()
}
