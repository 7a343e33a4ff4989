// Package adminapi is the typed Go surface spec.md §6's "Task admin
// API (internal, consumed by the HTTP layer)" describes: submit,
// cancel, get_status, get_queue_stats, trigger_scheduled_scan. The
// HTTP/REST layer that would expose these over the wire is out of
// core scope per spec.md §1 ("HTTP API surface... treated as external
// collaborators, interfaces only") — this package is the interface
// those handlers would call, with no routing of its own.
package adminapi

import (
	"context"
	"time"

	"newsrun/internal/domain/entity"
	"newsrun/internal/repository"
	"newsrun/internal/scan"
	"newsrun/internal/taskruntime"
)

// Runtime is the subset of taskruntime.Runtime the admin API calls.
type Runtime interface {
	Submit(ctx context.Context, name string, args, kwargs map[string]any, opts taskruntime.SubmitOptions) (string, error)
	SubmitAndWait(ctx context.Context, name string, args, kwargs map[string]any, opts taskruntime.SubmitOptions, timeout time.Duration) (any, error)
	Cancel(ctx context.Context, id string) (bool, error)
}

// API wraps a Runtime, a TaskRepository, and the scan pipeline's
// fan-out task name to implement spec.md §6's task admin operations.
type API struct {
	runtime Runtime
	tasks   repository.TaskRepository
}

// New builds an API bound to runtime and tasks.
func New(runtime Runtime, tasks repository.TaskRepository) *API {
	return &API{runtime: runtime, tasks: tasks}
}

// Submit enqueues name and returns its task id immediately, per spec
// §4.1's submission API in its non-blocking form.
func (a *API) Submit(ctx context.Context, name string, args, kwargs map[string]any, queue entity.QueueClass, priority int) (string, error) {
	return a.runtime.Submit(ctx, name, args, kwargs, taskruntime.SubmitOptions{Queue: queue, Priority: priority})
}

// SubmitAndWait enqueues name and blocks up to timeout for its
// terminal result (spec §4.1's wait_for_result mode). The returned
// snapshot is not re-checked after the call returns: per spec.md §9's
// open question, a caller that timed out should treat what it gets
// back as a snapshot, not a final verdict.
func (a *API) SubmitAndWait(ctx context.Context, name string, args, kwargs map[string]any, queue entity.QueueClass, priority int, timeout time.Duration) (any, error) {
	return a.runtime.SubmitAndWait(ctx, name, args, kwargs, taskruntime.SubmitOptions{Queue: queue, Priority: priority}, timeout)
}

// Cancel marks id cancelled. A running task observes this at its next
// cooperative checkpoint; external I/O already in flight is not
// guaranteed to stop (spec §4.1).
func (a *API) Cancel(ctx context.Context, id string) (bool, error) {
	return a.runtime.Cancel(ctx, id)
}

// GetStatus returns the current task record for id.
func (a *API) GetStatus(ctx context.Context, id string) (*entity.TaskRecord, error) {
	return a.tasks.Get(ctx, id)
}

// GetQueueStats returns per-queue-class depth counters.
func (a *API) GetQueueStats(ctx context.Context) ([]repository.TaskQueueStats, error) {
	return a.tasks.Stats(ctx)
}

// TriggerScheduledScan submits a high-priority manual-refresh fan-out,
// bypassing the periodic scheduler's cron cadence, per spec.md §6's
// "trigger_scheduled_scan" operation and §2's "HTTP API may enqueue
// high-priority manual-refresh jobs synchronously awaiting completion."
func (a *API) TriggerScheduledScan(ctx context.Context, waitForResult bool, timeout time.Duration) (string, any, error) {
	if !waitForResult {
		id, err := a.Submit(ctx, scan.TaskNameFanOut, nil, nil, entity.QueueHigh, 10)
		return id, nil, err
	}
	result, err := a.SubmitAndWait(ctx, scan.TaskNameFanOut, nil, nil, entity.QueueHigh, 10, timeout)
	return "", result, err
}
