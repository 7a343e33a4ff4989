package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"newsrun/internal/domain/entity"
	"newsrun/internal/repository"
)

// TopicRepo persists rolling and daily topic groups. Both collections
// are rewritten wholesale (spec §6), so writes run inside a single
// transaction doing delete-many then insert-many.
type TopicRepo struct{ db *sql.DB }

func NewTopicRepo(db *sql.DB) repository.TopicRepository {
	return &TopicRepo{db: db}
}

func (repo *TopicRepo) ReplaceRolling(ctx context.Context, groups []*entity.TopicGroup) error {
	return repo.replace(ctx, "rolling_topics", "", time.Time{}, time.Time{}, groups)
}

func (repo *TopicRepo) ListRolling(ctx context.Context) ([]*entity.TopicGroup, error) {
	return repo.list(ctx, "rolling_topics")
}

func (repo *TopicRepo) ReplaceDaily(ctx context.Context, windowStart, windowEnd time.Time, groups []*entity.TopicGroup) error {
	return repo.replace(ctx, "daily_topics", "window", windowStart, windowEnd, groups)
}

func (repo *TopicRepo) ListDaily(ctx context.Context) ([]*entity.TopicGroup, error) {
	return repo.list(ctx, "daily_topics")
}

func (repo *TopicRepo) replace(ctx context.Context, table, _ string, windowStart, windowEnd time.Time, groups []*entity.TopicGroup) error {
	tx, err := repo.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("replace %s: begin: %w", table, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, table)); err != nil {
		return fmt.Errorf("replace %s: delete: %w", table, err)
	}

	insertQuery := fmt.Sprintf(`
INSERT INTO %s (topic_id, articles, shared_summary, shared_summary_status, headline, created_at, window_start, window_end)
VALUES ($1,$2,$3,$4,$5,NOW(),$6,$7)`, table)

	for _, g := range groups {
		membersJSON, err := json.Marshal(g.Articles)
		if err != nil {
			return fmt.Errorf("replace %s: marshal members: %w", table, err)
		}
		start, end := g.WindowStart, g.WindowEnd
		if !windowStart.IsZero() {
			start, end = windowStart, windowEnd
		}
		if _, err := tx.ExecContext(ctx, insertQuery,
			g.TopicID, membersJSON, g.SharedSummary, string(g.SharedSummaryStatus), g.Headline, start, end); err != nil {
			return fmt.Errorf("replace %s: insert %s: %w", table, g.TopicID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("replace %s: commit: %w", table, err)
	}
	return nil
}

func (repo *TopicRepo) list(ctx context.Context, table string) ([]*entity.TopicGroup, error) {
	query := fmt.Sprintf(`
SELECT topic_id, articles, shared_summary, shared_summary_status, headline, created_at, window_start, window_end
FROM %s
ORDER BY jsonb_array_length(articles) DESC`, table)

	rows, err := repo.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	groups := make([]*entity.TopicGroup, 0, 20)
	for rows.Next() {
		var g entity.TopicGroup
		var membersJSON []byte
		var status string
		var windowStart, windowEnd sql.NullTime
		if err := rows.Scan(&g.TopicID, &membersJSON, &g.SharedSummary, &status, &g.Headline,
			&g.CreatedAt, &windowStart, &windowEnd); err != nil {
			return nil, fmt.Errorf("list %s: Scan: %w", table, err)
		}
		if err := json.Unmarshal(membersJSON, &g.Articles); err != nil {
			return nil, fmt.Errorf("list %s: unmarshal members: %w", table, err)
		}
		g.SharedSummaryStatus = entity.SharedSummaryStatus(status)
		if windowStart.Valid {
			g.WindowStart = windowStart.Time
		}
		if windowEnd.Valid {
			g.WindowEnd = windowEnd.Time
		}
		groups = append(groups, &g)
	}
	return groups, rows.Err()
}
