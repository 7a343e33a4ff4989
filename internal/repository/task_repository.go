package repository

import (
	"context"
	"time"

	"newsrun/internal/domain/entity"
)

// TaskQueueStats summarizes the depth of each queue class, used by the
// task admin API's get_queue_stats operation.
type TaskQueueStats struct {
	Queue       entity.QueueClass
	Queued      int64
	Running     int64
	Retrying    int64
	OldestQueue *time.Time
}

// TaskRepository persists the append-only task record stream described
// in spec §6 ("tasks: append-only within retention; keyed by task id").
// Terminal-state records are immutable once written.
type TaskRepository interface {
	// Create inserts a newly-submitted task record in the Queued state.
	Create(ctx context.Context, task *entity.TaskRecord) error

	// Get retrieves a task record by id. Returns entity.ErrNotFound if no
	// record exists, or if it exists but has fallen outside the result TTL.
	Get(ctx context.Context, id string) (*entity.TaskRecord, error)

	// UpdateState transitions a task to a new state, recording attempt
	// count, error, and result as applicable. Implementations must reject
	// updates to a record that is already in a terminal state.
	UpdateState(ctx context.Context, id string, state entity.TaskState, fields TaskStateUpdate) error

	// ListDue returns queued/retrying tasks whose NotBefore has elapsed,
	// ordered by (queue priority, priority desc, submitted_at asc), for
	// workers to claim.
	ListDue(ctx context.Context, queue entity.QueueClass, limit int) ([]*entity.TaskRecord, error)

	// Claim atomically transitions a due task from Queued/Retrying to
	// Running, returning false if another worker claimed it first.
	Claim(ctx context.Context, id string) (bool, error)

	// Stats returns per-queue-class depth counters for get_queue_stats.
	Stats(ctx context.Context) ([]TaskQueueStats, error)

	// Cancel marks a non-terminal task Cancelled. Returns false if the
	// task was already terminal.
	Cancel(ctx context.Context, id string) (bool, error)

	// PurgeExpiredResults deletes completed task records whose TTL has
	// elapsed, per spec §6 result TTL of 3600s.
	PurgeExpiredResults(ctx context.Context, olderThan time.Time) (int64, error)
}

// TaskStateUpdate carries the optional fields that change alongside a
// task state transition.
type TaskStateUpdate struct {
	LastError string
	Attempt   *int
	NotBefore *time.Time
	Result    any
	StartedAt *time.Time
	Completed *time.Time
}
