package repository

import (
	"context"
	"time"

	"newsrun/internal/domain/entity"
)

// TopicRepository persists TopicGroup collections. Both the rolling
// maintenance pipeline and the Daily-Topic Builder rewrite their
// collection wholesale (spec §6: "rewritten wholesale"), so the
// interface favors atomic replace over incremental upsert.
type TopicRepository interface {
	// ReplaceRolling atomically replaces the entire rolling-topics
	// collection with groups, per spec §4.5.
	ReplaceRolling(ctx context.Context, groups []*entity.TopicGroup) error

	// ListRolling returns the current rolling topic groups.
	ListRolling(ctx context.Context) ([]*entity.TopicGroup, error)

	// ReplaceDaily atomically replaces the daily-topics collection with
	// groups for the given window, per spec §4.6 ("atomic replace").
	ReplaceDaily(ctx context.Context, windowStart, windowEnd time.Time, groups []*entity.TopicGroup) error

	// ListDaily returns the current daily topic groups.
	ListDaily(ctx context.Context) ([]*entity.TopicGroup, error)
}
