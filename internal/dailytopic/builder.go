// Package dailytopic is the C7 Daily-Topic Builder: the periodic (and
// manually triggerable) job that asks the ML service to group the
// recent article window into major daily topics and requests a
// combined summary per group from the Provider Gateway (spec.md §4.6).
package dailytopic

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"newsrun/internal/domain/entity"
	"newsrun/internal/mlclient"
	"newsrun/internal/provider"
	"newsrun/internal/repository"
	"newsrun/internal/taskruntime"
)

// TaskName is the registry name for the daily-topic build task.
const TaskName = "build_daily_topics"

// Spec-mandated defaults (spec.md §4.6, §6).
const (
	DefaultWindowDays    = 7
	DefaultMaxArticles   = 500
	DailySimilarityThreshold = 0.80
	DailyMinGroupSize   = 5
)

// MLCallTimeout bounds the daily-topic ML delegation call (spec §5:
// "daily-topic ML call 5 min").
const MLCallTimeout = 5 * time.Minute

// SharedSummaryPrompt is the system prompt used when requesting a
// daily topic group's combined summary, distinct in wording from the
// rolling-group prompt since it summarizes completed article summaries
// rather than raw content.
const SharedSummaryPrompt = `You are a news summarization assistant. Given several article summaries about the same major event or story, write one combined summary (3-5 sentences) capturing what happened and any notable differences in coverage.`

// Service implements the Daily-Topic Builder's task body.
type Service struct {
	Articles repository.ArticleRepository
	Topics   repository.TopicRepository
	ML       mlclient.Client
	Gateway  *provider.Gateway
	Logger   *slog.Logger

	WindowDays   int
	MaxArticles  int
	Threshold    float64
	MinGroupSize int
}

// NewService builds a Service with spec.md §4.6's default window/cap/
// threshold/min-group-size.
func NewService(articles repository.ArticleRepository, topics repository.TopicRepository,
	ml mlclient.Client, gateway *provider.Gateway, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		Articles: articles, Topics: topics, ML: ml, Gateway: gateway, Logger: logger,
		WindowDays: DefaultWindowDays, MaxArticles: DefaultMaxArticles,
		Threshold: DailySimilarityThreshold, MinGroupSize: DailyMinGroupSize,
	}
}

// BuildResult is the JSON-serializable result of a daily-topic build.
type BuildResult struct {
	GroupsCreated     int `json:"groups_created"`
	ArticlesProcessed int `json:"articles_processed"`
	ArticlesGrouped   int `json:"articles_grouped"`
}

// Handler adapts Build to taskruntime.Handler.
func (s *Service) Handler(ctx context.Context, args, kwargs map[string]any) (any, error) {
	return s.Build(ctx)
}

// Build implements spec.md §4.6's four-step algorithm.
func (s *Service) Build(ctx context.Context) (*BuildResult, error) {
	windowEnd := time.Now()
	windowStart := windowEnd.AddDate(0, 0, -s.WindowDays)

	// Step 1: confirm the window has eligible articles before paying
	// for the ML round trip; the ML service itself re-derives the
	// window server-side from daysBack, so this is a pre-flight count
	// rather than the data actually sent.
	eligible, err := s.Articles.ListForDailyTopicWindow(ctx, windowStart, s.MaxArticles)
	if err != nil {
		return nil, taskruntime.Internal(fmt.Errorf("build_daily_topics: list window: %w", err))
	}
	if len(eligible) == 0 {
		return &BuildResult{}, nil
	}

	// Step 2: delegate pairwise grouping to the ML service.
	mlCtx, cancel := context.WithTimeout(ctx, MLCallTimeout)
	defer cancel()
	mlResult, err := s.ML.GenerateDailyTopics(mlCtx, s.WindowDays, s.Threshold, s.MinGroupSize, s.MaxArticles)
	if err != nil {
		return nil, taskruntime.Upstream(fmt.Errorf("build_daily_topics: generate daily topics: %w", err))
	}

	// Step 3: request a combined summary per group from the Provider
	// Gateway, using the concatenated per-article summaries.
	groups := make([]*entity.TopicGroup, 0, len(mlResult.TopicGroups))
	for i, mlGroup := range mlResult.TopicGroups {
		group, err := s.buildGroup(ctx, i, mlGroup, windowStart, windowEnd)
		if err != nil {
			s.Logger.Warn("build_daily_topics: skipping group", slog.Int("index", i), slog.Any("error", err))
			continue
		}
		groups = append(groups, group)
	}

	// Tie-breaking: sort by article count descending for presentation.
	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].ArticleCount() > groups[j].ArticleCount()
	})

	// Step 4: atomically replace the daily-topic collection.
	if err := s.Topics.ReplaceDaily(ctx, windowStart, windowEnd, groups); err != nil {
		return nil, taskruntime.Internal(fmt.Errorf("build_daily_topics: replace daily topics: %w", err))
	}

	return &BuildResult{
		GroupsCreated:     len(groups),
		ArticlesProcessed: mlResult.ArticlesProcessed,
		ArticlesGrouped:   mlResult.ArticlesGrouped,
	}, nil
}

func (s *Service) buildGroup(ctx context.Context, index int, mlGroup mlclient.TopicGroup,
	windowStart, windowEnd time.Time) (*entity.TopicGroup, error) {
	members := make([]entity.TopicMember, 0, len(mlGroup.Articles))
	var summaries []string
	for _, a := range mlGroup.Articles {
		article, err := s.Articles.Get(ctx, a.ArticleID)
		if err != nil {
			s.Logger.Warn("build_daily_topics: member article lookup failed",
				slog.Int64("article_id", a.ArticleID), slog.Any("error", err))
			continue
		}
		members = append(members, entity.TopicMember{ArticleID: article.ID, ArticleURL: article.URL, Title: article.Title})
		if article.Summary != "" {
			summaries = append(summaries, fmt.Sprintf("%s: %s", article.Title, article.Summary))
		}
	}

	topicID := fmt.Sprintf("%s_%d", windowEnd.Format("20060102"), index+1)
	group := &entity.TopicGroup{
		TopicID:     topicID,
		Articles:    members,
		CreatedAt:   time.Now(),
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
	}
	if err := group.Validate(s.MinGroupSize); err != nil {
		return nil, err
	}

	combined, err := s.combinedSummary(ctx, summaries)
	if err != nil {
		group.SharedSummaryStatus = entity.SharedSummaryFailed
		s.Logger.Warn("build_daily_topics: combined summary failed", slog.String("topic_id", topicID), slog.Any("error", err))
		return group, nil
	}
	group.SharedSummary = combined
	group.SharedSummaryStatus = entity.SharedSummaryCompleted
	return group, nil
}

func (s *Service) combinedSummary(ctx context.Context, summaries []string) (string, error) {
	if len(summaries) == 0 {
		return "", fmt.Errorf("no member summaries available")
	}
	prompt := strings.Join(summaries, "\n")
	resp, err := s.Gateway.Generate(ctx, []provider.Message{
		{Role: provider.RoleSystem, Content: SharedSummaryPrompt},
		{Role: provider.RoleUser, Content: prompt},
	})
	if err != nil {
		return "", err
	}
	return resp.FirstText(), nil
}
