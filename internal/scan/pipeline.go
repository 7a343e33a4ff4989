package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"newsrun/internal/domain/entity"
	"newsrun/internal/obsmetrics"
	"newsrun/internal/repository"
	"newsrun/internal/taskruntime"
)

// Task names registered against the runtime's Registry.
const (
	TaskNameFanOut = "scan_all_sources"
	TaskNameSource = "scan_single_source"
)

// Follow-on job priorities, submitted per new article (spec §4.2 step 7).
const (
	SummarizePriority    = 4
	EmbedContentPriority = 3
	TopicAnalysisPriority = 2
)

// FailureClass classifies one per-article extraction failure for the
// scan result's accumulated counts and diagnosis heuristic (spec §4.2
// steps 5/8).
type FailureClass string

const (
	FailureHTTP500    FailureClass = "http_500"
	FailureHTTP403    FailureClass = "http_403"
	FailureHTTP429    FailureClass = "http_429"
	FailureTimeout    FailureClass = "timeout"
	FailureNoContent  FailureClass = "no_content"
	FailureOther      FailureClass = "other"
)

// classifyFailure maps an extraction error to a FailureClass.
func classifyFailure(err error) FailureClass {
	switch {
	case errors.Is(err, ErrHTTP500):
		return FailureHTTP500
	case errors.Is(err, ErrHTTP403):
		return FailureHTTP403
	case errors.Is(err, ErrHTTP429):
		return FailureHTTP429
	case errors.Is(err, ErrExtractTimeout), errors.Is(err, context.DeadlineExceeded):
		return FailureTimeout
	case errors.Is(err, ErrReadabilityFailed):
		return FailureNoContent
	default:
		return FailureOther
	}
}

// Config controls the scan pipeline's fan-out stagger and per-source
// retry/concurrency envelope (spec §4.2, §6 "scan config knobs").
type Config struct {
	// StaggerInterval spaces successive scan-single-source submissions
	// (spec §4.2 fan-out: "not_before = now + 30s x index").
	StaggerInterval time.Duration
	// MaxConcurrentPerSource bounds in-flight article extractions
	// within one scan job (spec §4.2 step 3, default 5).
	MaxConcurrentPerSource int
	// MaxRetries bounds per-article retry on HTTP >= 500 (spec §4.2 step 4).
	MaxRetries int
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{StaggerInterval: 30 * time.Second, MaxConcurrentPerSource: 5, MaxRetries: 2}
}

// JobSubmitter is the subset of taskruntime.Runtime the scan pipeline
// needs to fan out per-source jobs and chain follow-on jobs per new
// article, mirroring embedding.JobSubmitter/summary.JobSubmitter so
// this package does not import the concrete Runtime type.
type JobSubmitter interface {
	Submit(ctx context.Context, name string, args, kwargs map[string]any, opts taskruntime.SubmitOptions) (string, error)
}

// ArticleObserver is notified, best-effort, whenever the scan pipeline
// creates a new article. It is a side channel independent of the
// summary/embedding/topic-analysis job chain (spec §9's "explicit,
// visible side effect" redesign note applies to both): a nil Observer
// simply disables it.
type ArticleObserver interface {
	NotifyNewArticle(ctx context.Context, article *entity.Article, source *entity.Source) error
}

// Service implements the Scan Pipeline's two task bodies.
type Service struct {
	Sources        repository.SourceRepository
	Articles       repository.ArticleRepository
	FeedFetcher    FeedFetcher
	ContentFetcher ContentFetcher
	Submitter      JobSubmitter
	Observer       ArticleObserver
	Metrics        *obsmetrics.ScanMetrics
	Logger         *slog.Logger

	Config Config
}

// NewService builds a Service with DefaultConfig if cfg is the zero value.
func NewService(sources repository.SourceRepository, articles repository.ArticleRepository,
	feedFetcher FeedFetcher, contentFetcher ContentFetcher, submitter JobSubmitter,
	metrics *obsmetrics.ScanMetrics, logger *slog.Logger, cfg Config) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxConcurrentPerSource == 0 {
		cfg = DefaultConfig()
	}
	return &Service{
		Sources: sources, Articles: articles,
		FeedFetcher: feedFetcher, ContentFetcher: contentFetcher,
		Submitter: submitter, Metrics: metrics, Logger: logger, Config: cfg,
	}
}

// FanOutResult is the JSON-serializable result of the fan-out task.
type FanOutResult struct {
	SourcesSubmitted int `json:"sources_submitted"`
}

// FanOutHandler adapts FanOut to taskruntime.Handler.
func (s *Service) FanOutHandler(ctx context.Context, args, kwargs map[string]any) (any, error) {
	return s.FanOut(ctx)
}

// FanOut implements spec §4.2's fan-out job: submit one scan-single-
// source task per active source, staggered by StaggerInterval x index.
func (s *Service) FanOut(ctx context.Context) (*FanOutResult, error) {
	sources, err := s.Sources.ListActive(ctx)
	if err != nil {
		return nil, taskruntime.Internal(fmt.Errorf("scan_all_sources: list active sources: %w", err))
	}

	now := time.Now()
	submitted := 0
	for i, src := range sources {
		notBefore := now.Add(time.Duration(i) * s.Config.StaggerInterval)
		_, err := s.Submitter.Submit(ctx, TaskNameSource, map[string]any{"source_id": src.ID}, nil,
			taskruntime.SubmitOptions{Priority: 3, NotBefore: notBefore})
		if err != nil {
			s.Logger.Warn("scan_all_sources: submit failed", slog.Int64("source_id", src.ID), slog.Any("error", err))
			continue
		}
		submitted++
	}
	return &FanOutResult{SourcesSubmitted: submitted}, nil
}

// ScanResult is the JSON-serializable result of one per-source scan job.
type ScanResult struct {
	SourceID  int64                  `json:"source_id"`
	Total     int                    `json:"total"`
	Scanned   int                    `json:"scanned"`
	Failed    int                    `json:"failed"`
	Inserted  int                    `json:"inserted"`
	Failures  map[FailureClass]int   `json:"failures,omitempty"`
	Diagnosis string                 `json:"diagnosis,omitempty"`
}

// ScanSourceHandler adapts ScanSource to taskruntime.Handler.
func (s *Service) ScanSourceHandler(ctx context.Context, args, kwargs map[string]any) (any, error) {
	sourceID, ok := asInt64(args["source_id"])
	if !ok {
		return nil, taskruntime.Validation(fmt.Errorf("scan_single_source: missing source_id"))
	}
	return s.ScanSource(ctx, sourceID)
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

// ScanSource implements spec §4.2's per-source scan: parse the feed,
// extract each entry's content with bounded concurrency and retry,
// upsert new/refreshed articles, chain follow-on jobs for new
// articles, and return an accumulated result with a diagnosis.
func (s *Service) ScanSource(ctx context.Context, sourceID int64) (*ScanResult, error) {
	start := time.Now()
	src, err := s.Sources.Get(ctx, sourceID)
	if err != nil {
		return nil, taskruntime.NotFound(fmt.Errorf("scan_single_source: %w", err))
	}

	items, err := s.FeedFetcher.Fetch(ctx, src.FeedURL)
	if err != nil {
		return nil, taskruntime.Upstream(fmt.Errorf("scan_single_source: fetch feed: %w", err))
	}

	result := &ScanResult{SourceID: sourceID, Total: len(items), Failures: make(map[FailureClass]int)}
	var (
		mu       sync.Mutex
		inserted int64
	)

	sem := make(chan struct{}, s.Config.MaxConcurrentPerSource)
	eg, egCtx := errgroup.WithContext(ctx)

	for idx, feedItem := range items {
		item := feedItem
		i := idx
		eg.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()

			time.Sleep(time.Duration(i) * 20 * time.Millisecond)

			created, class, err := s.processEntry(egCtx, src, item)
			mu.Lock()
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					mu.Unlock()
					return err
				}
				result.Failed++
				result.Failures[class]++
				if s.Metrics != nil {
					s.Metrics.ObserveFailure(src.Name, string(class))
				}
			} else {
				result.Scanned++
				if created {
					atomic.AddInt64(&inserted, 1)
				}
			}
			mu.Unlock()
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, taskruntime.Internal(fmt.Errorf("scan_single_source: %w", err))
	}

	result.Inserted = int(atomic.LoadInt64(&inserted))
	result.Diagnosis = diagnose(result.Failed, result.Failures)

	if err := s.Sources.TouchCrawledAt(context.WithoutCancel(ctx), sourceID, time.Now()); err != nil {
		s.Logger.Warn("scan_single_source: touch crawled_at failed", slog.Int64("source_id", sourceID), slog.Any("error", err))
	}

	if s.Metrics != nil {
		s.Metrics.ObserveScan(src.Name, time.Since(start), result.Scanned, result.Inserted)
	}

	return result, nil
}

// processEntry extracts one feed entry's content (with retry on 5xx),
// upserts the resulting article by URL, and chains follow-on jobs when
// a new article is created. It returns whether a new article was
// created and, on failure, the failure's classification.
func (s *Service) processEntry(ctx context.Context, src *entity.Source, item FeedItem) (created bool, class FailureClass, err error) {
	content := item.Content
	title := item.Title

	if s.ContentFetcher != nil {
		extracted, fetchErr := s.fetchWithRetry(ctx, item.URL)
		if fetchErr != nil {
			return false, classifyFailure(fetchErr), fetchErr
		}
		if extracted.Text != "" {
			content = extracted.Text
		}
		if extracted.Title != "" {
			title = extracted.Title
		}
		// date_extraction_service.py strategy 2: when the feed entry had
		// no usable date, the fetched page's own meta tags are a better
		// fallback than the scan's observation time.
		if item.DateFlagged && extracted.DateFound {
			item.PublishedAt = extracted.PublishedAt
			item.DateFlagged = false
		}
	}
	if content == "" {
		return false, FailureNoContent, fmt.Errorf("%w: no content for %s", ErrReadabilityFailed, item.URL)
	}

	clampFutureDate(&item.PublishedAt, &item.DateFlagged)

	existing, getErr := s.Articles.GetByURL(ctx, item.URL)
	isNew := errors.Is(getErr, entity.ErrNotFound)
	if getErr != nil && !isNew {
		return false, FailureOther, fmt.Errorf("lookup existing article: %w", getErr)
	}

	article := &entity.Article{
		SourceID:    src.ID,
		Title:       title,
		RawContent:  item.Content,
		CleanedText: content,
		Origin:      src.FeedURL,
		URL:         item.URL,
		PublishedAt: item.PublishedAt,
		PublishedAtFlagged: item.DateFlagged,
		AnalyzedAt:  time.Now(),
	}

	if isNew {
		if err := s.Articles.Create(ctx, article); err != nil {
			return false, FailureOther, fmt.Errorf("create article: %w", err)
		}
		s.submitFollowOnJobs(ctx, article.URL)
		if s.Observer != nil {
			if err := s.Observer.NotifyNewArticle(ctx, article, src); err != nil {
				s.Logger.Warn("scan_single_source: article observer failed",
					slog.String("url", article.URL), slog.Any("error", err))
			}
		}
		return true, "", nil
	}

	// Re-scan: preserve URL identity and the earlier publication date
	// (DESIGN.md Open Question #1), refreshing everything else.
	article.ID = existing.ID
	article.Summary = existing.Summary
	article.SummaryStatus = existing.SummaryStatus
	article.SummaryModel = existing.SummaryModel
	article.PromptVersion = existing.PromptVersion
	article.SummaryError = existing.SummaryError
	article.SummaryUpdated = existing.SummaryUpdated
	article.ContentEmbedding = existing.ContentEmbedding
	article.ContentEmbedModel = existing.ContentEmbedModel
	article.ContentEmbedUpdate = existing.ContentEmbedUpdate
	article.SummaryEmbedding = existing.SummaryEmbedding
	article.SummaryEmbedModel = existing.SummaryEmbedModel
	article.SummaryEmbedUpdate = existing.SummaryEmbedUpdate
	article.CreatedAt = existing.CreatedAt

	if existing.PublishedAt.Before(article.PublishedAt) {
		article.PublishedAt = existing.PublishedAt
		article.PublishedAtFlagged = true
	} else if !existing.PublishedAt.Equal(article.PublishedAt) {
		article.PublishedAtFlagged = true
	}
	clampFutureDate(&article.PublishedAt, &article.PublishedAtFlagged)

	if err := s.Articles.Update(ctx, article); err != nil {
		return false, FailureOther, fmt.Errorf("update article: %w", err)
	}
	return false, "", nil
}

// futureDateTolerance bounds clock skew between a source and this
// scanner; beyond it a publication date is treated as wrong rather
// than as a legitimately scheduled future post.
const futureDateTolerance = 24 * time.Hour

// clampFutureDate corrects a publication date that lands too far ahead
// of the scan's observation time, grounded in
// scripts/fix_future_dates.py/fix_plainsman_dates.py (spec.md §9's
// future-dated-article example): rather than carrying the bogus date
// forward, it is clamped to now and flagged.
func clampFutureDate(publishedAt *time.Time, flagged *bool) {
	if publishedAt.After(time.Now().Add(futureDateTolerance)) {
		*publishedAt = time.Now()
		*flagged = true
	}
}

// fetchWithRetry fetches articleURL, retrying up to Config.MaxRetries
// times with exponential backoff (2^attempt seconds) on an upstream
// 5xx, and never retrying 429/403 (spec §4.2 step 4).
func (s *Service) fetchWithRetry(ctx context.Context, articleURL string) (ExtractedContent, error) {
	var lastErr error
	for attempt := 0; attempt <= s.Config.MaxRetries; attempt++ {
		extracted, err := s.ContentFetcher.FetchContent(ctx, articleURL)
		if err == nil {
			return extracted, nil
		}
		lastErr = err
		if !errors.Is(err, ErrHTTP500) {
			return ExtractedContent{}, err
		}
		if attempt == s.Config.MaxRetries {
			break
		}
		backoff := time.Duration(math.Pow(2, float64(attempt))) * time.Second
		select {
		case <-ctx.Done():
			return ExtractedContent{}, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return ExtractedContent{}, lastErr
}

// submitFollowOnJobs chains the three jobs spec §4.2 step 7 requires
// for every newly created article. Submission failures are logged, not
// returned, matching the teacher's fire-and-forget embedding/notify
// hooks: the scan itself already succeeded in creating the article,
// and the embedding batch backfill provides an eventual-consistency
// safety net for anything dropped here.
func (s *Service) submitFollowOnJobs(ctx context.Context, url string) {
	if s.Submitter == nil {
		return
	}
	jobs := []struct {
		name     string
		priority int
	}{
		{"summarize_article", SummarizePriority},
		{"embed_article_content", EmbedContentPriority},
		{"analyze_article_topic", TopicAnalysisPriority},
	}
	for _, job := range jobs {
		if _, err := s.Submitter.Submit(ctx, job.name, map[string]any{"url": url}, nil,
			taskruntime.SubmitOptions{Priority: job.priority}); err != nil {
			s.Logger.Warn("scan_single_source: submit follow-on job failed",
				slog.String("task", job.name), slog.String("url", url), slog.Any("error", err))
		}
	}
}

// diagnose applies spec §4.2 step 8's heuristic thresholds to the
// accumulated per-class failure counts.
func diagnose(failed int, failures map[FailureClass]int) string {
	if failed == 0 {
		return ""
	}
	pct := func(class FailureClass) float64 {
		return float64(failures[class]) / float64(failed)
	}
	switch {
	case pct(FailureHTTP403) > 0.5:
		return "bot detection"
	case pct(FailureHTTP429) > 0.3:
		return "rate limiting"
	case pct(FailureHTTP500) > 0.7:
		return "extractor strain"
	case pct(FailureNoContent) > 0.8:
		return "redirect/paywall"
	default:
		return ""
	}
}
