package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"newsrun/internal/domain/entity"
	"newsrun/internal/repository"
)

// TaskRepo persists the append-only task record stream (spec §6) backing
// the task runtime's result store and admin API.
type TaskRepo struct{ db *sql.DB }

func NewTaskRepo(db *sql.DB) repository.TaskRepository {
	return &TaskRepo{db: db}
}

func (repo *TaskRepo) Create(ctx context.Context, t *entity.TaskRecord) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	argsJSON, err := json.Marshal(t.Args)
	if err != nil {
		return fmt.Errorf("Create: marshal args: %w", err)
	}
	kwargsJSON, err := json.Marshal(t.Kwargs)
	if err != nil {
		return fmt.Errorf("Create: marshal kwargs: %w", err)
	}

	const query = `
INSERT INTO tasks (id, name, queue, priority, state, args, kwargs, not_before, submitted_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW())
RETURNING submitted_at`
	row := repo.db.QueryRowContext(ctx, query,
		t.ID, t.Name, string(t.Queue), t.Priority, string(t.State), argsJSON, kwargsJSON, t.NotBefore)
	if err := row.Scan(&t.SubmittedAt); err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (repo *TaskRepo) Get(ctx context.Context, id string) (*entity.TaskRecord, error) {
	const query = `
SELECT id, name, queue, priority, state, args, kwargs, last_error, attempt,
       not_before, result, submitted_at, started_at, completed_at, ttl_seconds
FROM tasks WHERE id = $1`

	var (
		t                              entity.TaskRecord
		queue, state                   string
		argsJSON, kwargsJSON, resultJS []byte
		ttlSeconds                     int64
	)
	row := repo.db.QueryRowContext(ctx, query, id)
	err := row.Scan(&t.ID, &t.Name, &queue, &t.Priority, &state, &argsJSON, &kwargsJSON,
		&t.LastError, &t.Attempt, &t.NotBefore, &resultJS, &t.SubmittedAt, &t.StartedAt, &t.CompletedAt, &ttlSeconds)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}

	t.Queue = entity.QueueClass(queue)
	t.State = entity.TaskState(state)
	t.TTL = time.Duration(ttlSeconds) * time.Second
	_ = json.Unmarshal(argsJSON, &t.Args)
	_ = json.Unmarshal(kwargsJSON, &t.Kwargs)
	if len(resultJS) > 0 {
		_ = json.Unmarshal(resultJS, &t.Result)
	}

	if t.State.IsTerminal() && t.CompletedAt != nil && t.TTL > 0 {
		if time.Since(*t.CompletedAt) > t.TTL {
			return nil, entity.ErrNotFound
		}
	}
	return &t, nil
}

func (repo *TaskRepo) UpdateState(ctx context.Context, id string, state entity.TaskState, fields repository.TaskStateUpdate) error {
	var resultJSON []byte
	if fields.Result != nil {
		var err error
		resultJSON, err = json.Marshal(fields.Result)
		if err != nil {
			return fmt.Errorf("UpdateState: marshal result: %w", err)
		}
	}

	const query = `
UPDATE tasks SET
	state = $1,
	last_error = COALESCE($2, last_error),
	attempt = COALESCE($3, attempt),
	not_before = COALESCE($4, not_before),
	result = COALESCE($5, result),
	started_at = COALESCE($6, started_at),
	completed_at = COALESCE($7, completed_at)
WHERE id = $8 AND state NOT IN ('succeeded', 'failed', 'cancelled')`

	res, err := repo.db.ExecContext(ctx, query,
		string(state), nullString(fields.LastError), fields.Attempt, fields.NotBefore,
		nullBytes(resultJSON), fields.StartedAt, fields.Completed, id)
	if err != nil {
		return fmt.Errorf("UpdateState: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("UpdateState: task %s not found or already terminal: %w", id, entity.ErrNotFound)
	}
	return nil
}

func (repo *TaskRepo) ListDue(ctx context.Context, queue entity.QueueClass, limit int) ([]*entity.TaskRecord, error) {
	const query = `
SELECT id, name, queue, priority, state, args, kwargs, attempt, not_before, submitted_at
FROM tasks
WHERE queue = $1 AND state IN ('queued', 'retrying') AND not_before <= NOW()
ORDER BY priority DESC, submitted_at ASC
LIMIT $2`

	rows, err := repo.db.QueryContext(ctx, query, string(queue), limit)
	if err != nil {
		return nil, fmt.Errorf("ListDue: %w", err)
	}
	defer func() { _ = rows.Close() }()

	tasks := make([]*entity.TaskRecord, 0, limit)
	for rows.Next() {
		var t entity.TaskRecord
		var q, state string
		var argsJSON, kwargsJSON []byte
		if err := rows.Scan(&t.ID, &t.Name, &q, &t.Priority, &state, &argsJSON, &kwargsJSON,
			&t.Attempt, &t.NotBefore, &t.SubmittedAt); err != nil {
			return nil, fmt.Errorf("ListDue: Scan: %w", err)
		}
		t.Queue = entity.QueueClass(q)
		t.State = entity.TaskState(state)
		_ = json.Unmarshal(argsJSON, &t.Args)
		_ = json.Unmarshal(kwargsJSON, &t.Kwargs)
		tasks = append(tasks, &t)
	}
	return tasks, rows.Err()
}

func (repo *TaskRepo) Claim(ctx context.Context, id string) (bool, error) {
	const query = `
UPDATE tasks SET state = 'running', started_at = NOW()
WHERE id = $1 AND state IN ('queued', 'retrying')`
	res, err := repo.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("Claim: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (repo *TaskRepo) Stats(ctx context.Context) ([]repository.TaskQueueStats, error) {
	const query = `
SELECT queue, state, COUNT(*), MIN(submitted_at)
FROM tasks
WHERE state IN ('queued', 'running', 'retrying')
GROUP BY queue, state`

	rows, err := repo.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("Stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	byQueue := map[entity.QueueClass]*repository.TaskQueueStats{}
	for rows.Next() {
		var queue, state string
		var count int64
		var oldest sql.NullTime
		if err := rows.Scan(&queue, &state, &count, &oldest); err != nil {
			return nil, fmt.Errorf("Stats: Scan: %w", err)
		}
		q := entity.QueueClass(queue)
		stat, ok := byQueue[q]
		if !ok {
			stat = &repository.TaskQueueStats{Queue: q}
			byQueue[q] = stat
		}
		switch entity.TaskState(state) {
		case entity.TaskStateQueued:
			stat.Queued = count
		case entity.TaskStateRunning:
			stat.Running = count
		case entity.TaskStateRetrying:
			stat.Retrying = count
		}
		if oldest.Valid && (stat.OldestQueue == nil || oldest.Time.Before(*stat.OldestQueue)) {
			t := oldest.Time
			stat.OldestQueue = &t
		}
	}

	out := make([]repository.TaskQueueStats, 0, len(byQueue))
	for _, s := range byQueue {
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (repo *TaskRepo) Cancel(ctx context.Context, id string) (bool, error) {
	const query = `
UPDATE tasks SET state = 'cancelled', completed_at = NOW()
WHERE id = $1 AND state NOT IN ('succeeded', 'failed', 'cancelled')`
	res, err := repo.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("Cancel: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (repo *TaskRepo) PurgeExpiredResults(ctx context.Context, olderThan time.Time) (int64, error) {
	const query = `
DELETE FROM tasks
WHERE state IN ('succeeded', 'failed', 'cancelled') AND completed_at < $1`
	res, err := repo.db.ExecContext(ctx, query, olderThan)
	if err != nil {
		return 0, fmt.Errorf("PurgeExpiredResults: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("PurgeExpiredResults: RowsAffected: %w", err)
	}
	return n, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
