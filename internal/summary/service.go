// Package summary is the C5 Summary Job: the state-machine task body
// that turns an article's cleaned text into a generated summary via
// the Provider Gateway (spec.md §4.4).
package summary

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"newsrun/internal/domain/entity"
	"newsrun/internal/provider"
	"newsrun/internal/repository"
	"newsrun/internal/taskruntime"
)

// TaskName is the registry name for the summarize-article task.
const TaskName = "summarize_article"

// EmbedSummaryTaskName is the follow-on job submitted after a
// successful summarize (spec §4.4 step 6: "submit a summary-embedding
// job"). It is a string constant rather than an import of the
// embedding package to avoid a dependency cycle (embedding never needs
// to know about summary).
const EmbedSummaryTaskName = "embed_article_summary"

// EmbedSummaryPriority is the priority the follow-on embedding job is
// submitted at (spec §4.4 step 6: "normal, priority 4").
const EmbedSummaryPriority = 4

// DefaultSystemPrompt is the versioned prompt text sent to the
// Provider Gateway as the system message. Changing its text changes
// PromptVersion, which is computed once at construction time the same
// way the teacher computes config hashes at start-up.
const DefaultSystemPrompt = `You are a news summarization assistant. Summarize the given article in 2-3 concise sentences, preserving names, numbers, and the central claim. Do not add commentary or opinion.`

// JobSubmitter is the subset of taskruntime.Runtime the summary job
// needs to submit its follow-on embedding job, mirroring
// embedding.JobSubmitter so neither package needs to import the
// concrete Runtime type.
type JobSubmitter interface {
	Submit(ctx context.Context, name string, args, kwargs map[string]any, opts taskruntime.SubmitOptions) (string, error)
}

// Service implements the Summary Job's handler body.
type Service struct {
	Articles  repository.ArticleRepository
	Gateway   *provider.Gateway
	Submitter JobSubmitter // nil disables the follow-on embedding submission
	Logger    *slog.Logger

	SystemPrompt  string
	PromptVersion string
}

// NewService builds a Service bound to articles, gateway and submitter,
// computing PromptVersion from systemPrompt (DefaultSystemPrompt if
// empty). submitter may be nil, in which case the follow-on embedding
// job is simply not submitted (useful in tests).
func NewService(articles repository.ArticleRepository, gateway *provider.Gateway, submitter JobSubmitter, systemPrompt string) *Service {
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}
	return &Service{
		Articles:      articles,
		Gateway:       gateway,
		Submitter:     submitter,
		Logger:        slog.Default(),
		SystemPrompt:  systemPrompt,
		PromptVersion: shortHash(systemPrompt),
	}
}

func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:12]
}

// Handler adapts Summarize to the taskruntime.Handler signature for
// registration, reading `url` out of args (spec §4.4 "input: article URL").
func (s *Service) Handler(ctx context.Context, args, kwargs map[string]any) (any, error) {
	url, _ := args["url"].(string)
	if url == "" {
		return nil, taskruntime.Validation(fmt.Errorf("summarize_article: missing url"))
	}
	return s.Summarize(ctx, url)
}

// SummaryResult is the JSON-serializable result of a summarize task.
type SummaryResult struct {
	ArticleID int64  `json:"article_id"`
	Status    string `json:"status"`
	Summary   string `json:"summary,omitempty"`
}

// Summarize runs the full state-machine contract of spec.md §4.4 for
// the article identified by url.
func (s *Service) Summarize(ctx context.Context, url string) (*SummaryResult, error) {
	article, err := s.Articles.GetByURL(ctx, url)
	if err != nil {
		return nil, taskruntime.NotFound(fmt.Errorf("summarize_article: %w", err))
	}

	// Step 2: no-op if already completed.
	if article.SummaryStatus == entity.SummaryStatusCompleted && article.Summary != "" {
		return &SummaryResult{ArticleID: article.ID, Status: string(article.SummaryStatus), Summary: article.Summary}, nil
	}

	article.SummaryStatus = entity.SummaryStatusProcessing
	if err := s.Articles.Update(ctx, article); err != nil {
		return nil, taskruntime.Internal(fmt.Errorf("summarize_article: mark processing: %w", err))
	}

	content := article.ContentForAnalysis()
	if content == "" {
		article.SummaryStatus = entity.SummaryStatusFailed
		article.SummaryError = "no content"
		_ = s.Articles.Update(ctx, article)
		return &SummaryResult{ArticleID: article.ID, Status: string(article.SummaryStatus)}, nil
	}

	resp, genErr := s.Gateway.Generate(ctx, []provider.Message{
		{Role: provider.RoleSystem, Content: s.SystemPrompt},
		{Role: provider.RoleUser, Content: content},
	})
	if genErr != nil {
		article.SummaryStatus = entity.SummaryStatusFailed
		article.SummaryError = genErr.Error()
		if err := s.Articles.Update(ctx, article); err != nil {
			return nil, taskruntime.Internal(fmt.Errorf("summarize_article: persist failure: %w", err))
		}
		return nil, taskruntime.Upstream(fmt.Errorf("summarize_article: generate: %w", genErr))
	}

	article.Summary = resp.FirstText()
	article.SummaryModel = resp.Model
	article.PromptVersion = s.PromptVersion
	article.SummaryStatus = entity.SummaryStatusCompleted
	article.SummaryError = ""
	article.SummaryUpdated = time.Now()
	if err := s.Articles.Update(ctx, article); err != nil {
		return nil, taskruntime.Internal(fmt.Errorf("summarize_article: persist success: %w", err))
	}

	s.submitEmbeddingFollowOn(ctx, article.URL)

	return &SummaryResult{ArticleID: article.ID, Status: string(article.SummaryStatus), Summary: article.Summary}, nil
}

// submitEmbeddingFollowOn submits the summary-embedding job per spec
// §4.4 step 6. A submission failure is logged, not returned: the
// summarize task itself already succeeded, and the backfill sweep
// (embedding.Service.BatchBackfill) will pick up any article still
// missing its summary embedding.
func (s *Service) submitEmbeddingFollowOn(ctx context.Context, url string) {
	if s.Submitter == nil {
		return
	}
	_, err := s.Submitter.Submit(ctx, EmbedSummaryTaskName, map[string]any{"url": url}, nil, taskruntime.SubmitOptions{Priority: EmbedSummaryPriority})
	if err != nil {
		logger := s.Logger
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("summarize_article: submit summary-embedding follow-on failed",
			slog.String("url", url), slog.Any("error", err))
	}
}
