package obsmetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ScanMetrics instruments the scan pipeline: per-source scan duration,
// article throughput, and failure-class breakdown used by the scan
// result's diagnosis heuristic (spec §4.2 step 8).
type ScanMetrics struct {
	ScanDurationSeconds *prometheus.HistogramVec
	ArticlesScanned     *prometheus.CounterVec
	ArticlesInserted    *prometheus.CounterVec
	FailuresTotal       *prometheus.CounterVec
}

// NewScanMetrics constructs and registers scan pipeline metrics.
func NewScanMetrics() *ScanMetrics {
	return &ScanMetrics{
		ScanDurationSeconds: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scan_source_duration_seconds",
			Help:    "Per-source scan job duration.",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
		}, []string{"source"}),
		ArticlesScanned: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "scan_articles_scanned_total",
			Help: "Total feed entries processed, by source.",
		}, []string{"source"}),
		ArticlesInserted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "scan_articles_inserted_total",
			Help: "Total new articles created, by source.",
		}, []string{"source"}),
		FailuresTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "scan_failures_total",
			Help: "Per-article extraction failures, by source and failure class.",
		}, []string{"source", "class"}),
	}
}

// ObserveScan records one completed per-source scan job.
func (m *ScanMetrics) ObserveScan(source string, d time.Duration, scanned, inserted int) {
	if m == nil {
		return
	}
	m.ScanDurationSeconds.WithLabelValues(source).Observe(d.Seconds())
	m.ArticlesScanned.WithLabelValues(source).Add(float64(scanned))
	m.ArticlesInserted.WithLabelValues(source).Add(float64(inserted))
}

// ObserveFailure records one classified per-article failure.
func (m *ScanMetrics) ObserveFailure(source, class string) {
	if m == nil {
		return
	}
	m.FailuresTotal.WithLabelValues(source, class).Inc()
}
