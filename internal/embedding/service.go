// Package embedding is the C6 Embedding & Topic Jobs: per-article
// content/summary embedding generation, batch backfill, rolling topic
// grouping, shared-summary generation, and per-new-article topic
// analysis (spec.md §4.5).
package embedding

import (
	"context"
	"fmt"
	"log/slog"

	"newsrun/internal/domain/entity"
	"newsrun/internal/mlclient"
	"newsrun/internal/provider"
	"newsrun/internal/repository"
	"newsrun/internal/taskruntime"
)

// Task names registered against the runtime's Registry.
const (
	TaskNameContentEmbedding = "embed_article_content"
	TaskNameSummaryEmbedding = "embed_article_summary"
	TaskNameBatchBackfill    = "embedding_batch_backfill"
	TaskNameTopicAnalysis    = "analyze_article_topic"
)

// TopicAnalysisThreshold is the similarity cutoff for the per-new-
// article topic analysis job (spec §4.5: "threshold 0.7").
const TopicAnalysisThreshold = 0.7

// TopicAnalysisTopN is how many similar articles the per-new-article
// analysis requests (spec §4.5: "top-10").
const TopicAnalysisTopN = 10

// Service implements the embedding job bodies. It is shared by all
// four task handlers registered in this package.
type Service struct {
	Articles   repository.ArticleRepository
	Embeddings repository.ArticleEmbeddingRepository
	ML         mlclient.Client
	Logger     *slog.Logger

	// EmbeddingModel/Provider are recorded on every stored vector; they
	// describe the ML service's current model, not a Go SDK choice.
	EmbeddingModel    string
	EmbeddingProvider entity.EmbeddingProvider
}

// NewService builds a Service with sane defaults for the provider/model
// labels if left zero.
func NewService(articles repository.ArticleRepository, embeddings repository.ArticleEmbeddingRepository, ml mlclient.Client, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		Articles:          articles,
		Embeddings:        embeddings,
		ML:                ml,
		Logger:            logger,
		EmbeddingModel:    "all-MiniLM-L6-v2",
		EmbeddingProvider: entity.EmbeddingProviderOpenAI,
	}
}

// EmbedResult is the JSON-serializable result of an embedding task.
type EmbedResult struct {
	ArticleID int64  `json:"article_id"`
	Skipped   bool   `json:"skipped"`
	Model     string `json:"model,omitempty"`
}

// ContentEmbeddingHandler adapts EmbedContent to taskruntime.Handler.
func (s *Service) ContentEmbeddingHandler(ctx context.Context, args, kwargs map[string]any) (any, error) {
	url, _ := args["url"].(string)
	if url == "" {
		return nil, taskruntime.Validation(fmt.Errorf("embed_article_content: missing url"))
	}
	return s.EmbedContent(ctx, url)
}

// EmbedContent implements spec §4.5's "per-article content embedding":
// skip if present, otherwise embed title + cleaned/raw content.
func (s *Service) EmbedContent(ctx context.Context, url string) (*EmbedResult, error) {
	article, err := s.Articles.GetByURL(ctx, url)
	if err != nil {
		return nil, taskruntime.NotFound(fmt.Errorf("embed_article_content: %w", err))
	}
	if article.HasContentEmbedding() {
		return &EmbedResult{ArticleID: article.ID, Skipped: true}, nil
	}

	text := article.Title + " " + article.ContentForAnalysis()
	if len(text) <= len(article.Title)+1 {
		return nil, taskruntime.Validation(fmt.Errorf("embed_article_content: no content to embed"))
	}

	vec, model, err := s.ML.GenerateEmbedding(ctx, article.ID, text)
	if err != nil {
		return nil, taskruntime.Upstream(fmt.Errorf("embed_article_content: %w", err))
	}

	article.ContentEmbedding = vec
	article.ContentEmbedModel = model
	if err := s.Articles.Update(ctx, article); err != nil {
		return nil, taskruntime.Internal(fmt.Errorf("embed_article_content: persist: %w", err))
	}
	if err := s.upsertVector(ctx, article.ID, entity.EmbeddingTypeContent, vec, model); err != nil {
		s.Logger.Warn("embed_article_content: secondary vector store persist failed",
			slog.Int64("article_id", article.ID), slog.Any("error", err))
	}

	return &EmbedResult{ArticleID: article.ID, Model: model}, nil
}

// SummaryEmbeddingHandler adapts EmbedSummary to taskruntime.Handler.
func (s *Service) SummaryEmbeddingHandler(ctx context.Context, args, kwargs map[string]any) (any, error) {
	url, _ := args["url"].(string)
	if url == "" {
		return nil, taskruntime.Validation(fmt.Errorf("embed_article_summary: missing url"))
	}
	return s.EmbedSummary(ctx, url)
}

// EmbedSummary implements spec §4.5's "per-article summary embedding":
// requires a completed summary and no existing summary embedding.
func (s *Service) EmbedSummary(ctx context.Context, url string) (*EmbedResult, error) {
	article, err := s.Articles.GetByURL(ctx, url)
	if err != nil {
		return nil, taskruntime.NotFound(fmt.Errorf("embed_article_summary: %w", err))
	}
	if article.SummaryStatus != entity.SummaryStatusCompleted {
		return nil, taskruntime.Validation(fmt.Errorf("embed_article_summary: summary not completed"))
	}
	if article.HasSummaryEmbedding() {
		return &EmbedResult{ArticleID: article.ID, Skipped: true}, nil
	}

	vec, model, err := s.ML.GenerateEmbedding(ctx, article.ID, article.Summary)
	if err != nil {
		return nil, taskruntime.Upstream(fmt.Errorf("embed_article_summary: %w", err))
	}

	article.SummaryEmbedding = vec
	article.SummaryEmbedModel = model
	if err := s.Articles.Update(ctx, article); err != nil {
		return nil, taskruntime.Internal(fmt.Errorf("embed_article_summary: persist: %w", err))
	}
	if err := s.upsertVector(ctx, article.ID, entity.EmbeddingTypeSummary, vec, model); err != nil {
		s.Logger.Warn("embed_article_summary: secondary vector store persist failed",
			slog.Int64("article_id", article.ID), slog.Any("error", err))
	}

	return &EmbedResult{ArticleID: article.ID, Model: model}, nil
}

func (s *Service) upsertVector(ctx context.Context, articleID int64, et entity.EmbeddingType, vec []float32, model string) error {
	if s.Embeddings == nil {
		return nil
	}
	return s.Embeddings.Upsert(ctx, &entity.ArticleEmbedding{
		ArticleID:     articleID,
		EmbeddingType: et,
		Provider:      s.EmbeddingProvider,
		Model:         model,
		Dimension:     int32(len(vec)),
		Embedding:     vec,
	})
}

// TopicAnalysisHandler adapts AnalyzeNewArticleTopic to taskruntime.Handler.
func (s *Service) TopicAnalysisHandler(ctx context.Context, args, kwargs map[string]any) (any, error) {
	url, _ := args["url"].(string)
	if url == "" {
		return nil, taskruntime.Validation(fmt.Errorf("analyze_article_topic: missing url"))
	}
	return nil, s.AnalyzeNewArticleTopic(ctx, url)
}

// AnalyzeNewArticleTopic implements spec §4.5's "per-new-article topic
// analysis": generate the embedding if missing, find the top similar
// articles, and log the result. It does not write topic groups.
func (s *Service) AnalyzeNewArticleTopic(ctx context.Context, url string) error {
	article, err := s.Articles.GetByURL(ctx, url)
	if err != nil {
		return taskruntime.NotFound(fmt.Errorf("analyze_article_topic: %w", err))
	}
	if !article.HasContentEmbedding() {
		if _, err := s.EmbedContent(ctx, url); err != nil {
			return err
		}
		article, err = s.Articles.GetByURL(ctx, url)
		if err != nil {
			return taskruntime.NotFound(fmt.Errorf("analyze_article_topic: %w", err))
		}
	}

	similar, err := s.ML.SearchSimilar(ctx, article.ID, TopicAnalysisTopN, TopicAnalysisThreshold, true)
	if err != nil {
		return taskruntime.Upstream(fmt.Errorf("analyze_article_topic: %w", err))
	}

	s.Logger.Info("topic analysis complete",
		slog.Int64("article_id", article.ID),
		slog.String("url", article.URL),
		slog.Int("similar_count", len(similar)))
	return nil
}

// BackfillResult is the JSON-serializable result of a batch backfill task.
type BackfillResult struct {
	ContentSubmitted int `json:"content_submitted"`
	SummarySubmitted int `json:"summary_submitted"`
}

// JobSubmitter is the subset of taskruntime.Runtime the batch backfill
// and rolling/shared-summary jobs need: submitting follow-on tasks
// without importing the concrete Runtime everywhere embedding does so.
type JobSubmitter interface {
	Submit(ctx context.Context, name string, args, kwargs map[string]any, opts taskruntime.SubmitOptions) (string, error)
}

// BatchBackfillHandler adapts BatchBackfill to taskruntime.Handler.
func (s *Service) BatchBackfillHandler(submitter JobSubmitter, batchSize int) taskruntime.Handler {
	return func(ctx context.Context, args, kwargs map[string]any) (any, error) {
		return s.BatchBackfill(ctx, submitter, batchSize)
	}
}

// BatchBackfill implements spec §4.5's "batch backfill": find up to
// batchSize articles missing content or summary embeddings and submit
// one individual embedding job per article at priority 4.
func (s *Service) BatchBackfill(ctx context.Context, submitter JobSubmitter, batchSize int) (*BackfillResult, error) {
	if batchSize <= 0 {
		batchSize = 50
	}
	result := &BackfillResult{}

	missingContent, err := s.Articles.ListMissingContentEmbedding(ctx, batchSize)
	if err != nil {
		return nil, taskruntime.Internal(fmt.Errorf("embedding_batch_backfill: list content backlog: %w", err))
	}
	for _, a := range missingContent {
		if _, err := submitter.Submit(ctx, TaskNameContentEmbedding, map[string]any{"url": a.URL}, nil, taskruntime.SubmitOptions{Priority: 4}); err != nil {
			s.Logger.Warn("embedding_batch_backfill: submit content embedding failed", slog.Int64("article_id", a.ID), slog.Any("error", err))
			continue
		}
		result.ContentSubmitted++
	}

	missingSummary, err := s.Articles.ListMissingSummaryEmbedding(ctx, batchSize)
	if err != nil {
		return nil, taskruntime.Internal(fmt.Errorf("embedding_batch_backfill: list summary backlog: %w", err))
	}
	for _, a := range missingSummary {
		if _, err := submitter.Submit(ctx, TaskNameSummaryEmbedding, map[string]any{"url": a.URL}, nil, taskruntime.SubmitOptions{Priority: 4}); err != nil {
			s.Logger.Warn("embedding_batch_backfill: submit summary embedding failed", slog.Int64("article_id", a.ID), slog.Any("error", err))
			continue
		}
		result.SummarySubmitted++
	}

	return result, nil
}

// SharedSummaryPrompt is the system prompt used when requesting a
// topic group's combined summary from the Provider Gateway.
const SharedSummaryPrompt = `You are a news summarization assistant. Given several related article summaries, write one combined summary (3-5 sentences) capturing the shared event or theme and any notable differences between sources.`

// GenerateSharedSummary calls the Provider Gateway to produce a
// group's combined summary from its member titles/content, per spec
// §4.5 ("concatenate titles and capped per-article content").
func GenerateSharedSummary(ctx context.Context, gw *provider.Gateway, prompt string) (string, error) {
	if prompt == "" {
		return "", fmt.Errorf("generate shared summary: empty prompt")
	}
	resp, err := gw.Generate(ctx, []provider.Message{
		{Role: provider.RoleSystem, Content: SharedSummaryPrompt},
		{Role: provider.RoleUser, Content: prompt},
	})
	if err != nil {
		return "", err
	}
	return resp.FirstText(), nil
}
