package obsmetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MLClientMetrics instruments outbound calls to the remote ML service
// (embeddings/similarity/daily-topics), mirroring ai_client.go's
// aiClientRequestsTotal/aiClientRequestDuration shape.
type MLClientMetrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// NewMLClientMetrics constructs and registers ML client metrics.
func NewMLClientMetrics() *MLClientMetrics {
	return &MLClientMetrics{
		RequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mlclient_requests_total",
			Help: "Total ML service requests, by endpoint path and outcome.",
		}, []string{"path", "outcome"}),
		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mlclient_request_duration_seconds",
			Help:    "ML service request latency, by endpoint path.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
		}, []string{"path"}),
	}
}

// ObserveRequest records one completed call.
func (m *MLClientMetrics) ObserveRequest(path string, d time.Duration, ok bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "error"
	}
	m.RequestsTotal.WithLabelValues(path, outcome).Inc()
	m.RequestDuration.WithLabelValues(path).Observe(d.Seconds())
}
