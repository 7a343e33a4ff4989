// Package obsmetrics wires the Prometheus instrumentation used by the
// task runtime, the scan pipeline and the ML client, grounded in the teacher's
// internal/infra/worker metrics and internal/observability packages.
package obsmetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// TaskRuntimeMetrics instruments the queue dispatcher: dispatch counts
// per queue class and outcome, execution duration, queue depth, and
// retry/dead-letter counters.
type TaskRuntimeMetrics struct {
	TasksSubmittedTotal *prometheus.CounterVec
	TasksCompletedTotal *prometheus.CounterVec
	TaskDurationSeconds *prometheus.HistogramVec
	QueueDepth          *prometheus.GaugeVec
	RetriesTotal        *prometheus.CounterVec
	DeadLetterTotal     prometheus.Counter
}

// NewTaskRuntimeMetrics constructs and registers task runtime metrics
// against the default Prometheus registerer.
func NewTaskRuntimeMetrics() *TaskRuntimeMetrics {
	return &TaskRuntimeMetrics{
		TasksSubmittedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "taskruntime_tasks_submitted_total",
			Help: "Total tasks submitted, by queue class.",
		}, []string{"queue", "task"}),
		TasksCompletedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "taskruntime_tasks_completed_total",
			Help: "Total tasks completed, by queue class and outcome (succeeded/failed/cancelled).",
		}, []string{"queue", "task", "outcome"}),
		TaskDurationSeconds: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "taskruntime_task_duration_seconds",
			Help:    "Task handler execution duration.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300},
		}, []string{"task"}),
		QueueDepth: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "taskruntime_queue_depth",
			Help: "Number of queued-or-retrying tasks, by queue class.",
		}, []string{"queue"}),
		RetriesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "taskruntime_retries_total",
			Help: "Total reschedule-on-failure events, by task and failure class.",
		}, []string{"task", "class"}),
		DeadLetterTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "taskruntime_dead_letter_total",
			Help: "Tasks that could not be dispatched because their name is unregistered.",
		}),
	}
}

// ObserveDuration records a task handler's execution time.
func (m *TaskRuntimeMetrics) ObserveDuration(task string, d time.Duration) {
	if m == nil {
		return
	}
	m.TaskDurationSeconds.WithLabelValues(task).Observe(d.Seconds())
}
