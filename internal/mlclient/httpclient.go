package mlclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"github.com/tidwall/gjson"

	"newsrun/internal/obsmetrics"
	"newsrun/internal/resilience/circuitbreaker"
)

// ErrUpstream wraps a non-2xx ML service response.
var ErrUpstream = errors.New("mlclient: upstream error")

// HTTPClient is the spec-mandated HTTP/JSON implementation of Client,
// grounded on the circuit-breaker + Prometheus-metrics + structured
// logging shape of internal/infra/grpc/ai_client.go, adapted from gRPC
// to the plain JSON contract spec.md §6 fixes.
type HTTPClient struct {
	baseURL        string
	httpClient     *http.Client
	circuitBreaker *circuitbreaker.CircuitBreaker
	metrics        *obsmetrics.MLClientMetrics
	logger         *slog.Logger
}

// NewHTTPClient constructs an HTTPClient against baseURL (e.g.
// "http://ml-service:8000"). timeout applies per-request; callers
// needing the daily-topics 5-minute ceiling (spec §5) pass it via ctx.
func NewHTTPClient(baseURL string, timeout time.Duration, metrics *obsmetrics.MLClientMetrics, logger *slog.Logger) *HTTPClient {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL:        baseURL,
		httpClient:     &http.Client{Timeout: timeout},
		circuitBreaker: circuitbreaker.New(circuitbreaker.DefaultConfig("ml-client")),
		metrics:        metrics,
		logger:         logger,
	}
}

func (c *HTTPClient) post(ctx context.Context, path string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("mlclient: marshal request: %w", err)
	}

	start := time.Now()
	result, err := c.circuitBreaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("%w: %s %d: %s", ErrUpstream, path, resp.StatusCode, raw)
		}
		return raw, nil
	})

	duration := time.Since(start)
	if c.metrics != nil {
		c.metrics.ObserveRequest(path, duration, err == nil)
	}
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) {
			c.logger.Warn("mlclient: circuit breaker open", slog.String("path", path))
			return nil, fmt.Errorf("mlclient: %s unavailable: circuit breaker open", path)
		}
		c.logger.Error("mlclient: request failed", slog.String("path", path), slog.Any("error", err), slog.Duration("duration", duration))
		return nil, err
	}
	return result.([]byte), nil
}

// GenerateEmbedding implements Client.
func (c *HTTPClient) GenerateEmbedding(ctx context.Context, articleID int64, text string) ([]float32, string, error) {
	raw, err := c.post(ctx, "/embeddings/generate", map[string]any{
		"text":       text,
		"article_id": articleID,
	})
	if err != nil {
		return nil, "", err
	}

	// Fast-path extraction of the embedding array without a full struct
	// decode, per SPEC_FULL.md's gjson domain-stack entry.
	if !gjson.GetBytes(raw, "success").Bool() {
		return nil, "", fmt.Errorf("mlclient: embedding generation reported failure")
	}
	vecResult := gjson.GetBytes(raw, "embedding")
	if !vecResult.IsArray() {
		return nil, "", fmt.Errorf("mlclient: response missing embedding array")
	}
	vals := vecResult.Array()
	embedding := make([]float32, len(vals))
	for i, v := range vals {
		embedding[i] = float32(v.Float())
	}
	model := gjson.GetBytes(raw, "model_name").String()
	return embedding, model, nil
}

// BatchEmbed implements Client.
func (c *HTTPClient) BatchEmbed(ctx context.Context, batchSize int) (BatchResult, error) {
	raw, err := c.post(ctx, fmt.Sprintf("/embeddings/batch?batch_size=%d", batchSize), map[string]any{})
	if err != nil {
		return BatchResult{}, err
	}
	var out struct {
		TotalArticles int `json:"total_articles"`
		Processed     int `json:"processed"`
		Failed        int `json:"failed"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return BatchResult{}, fmt.Errorf("mlclient: decode batch response: %w", err)
	}
	return BatchResult(out), nil
}

// SearchSimilar implements Client.
func (c *HTTPClient) SearchSimilar(ctx context.Context, articleID int64, limit int, threshold float64, excludeSelf bool) ([]SimilarArticle, error) {
	raw, err := c.post(ctx, "/similarity/search", map[string]any{
		"article":              articleID,
		"limit":                limit,
		"similarity_threshold": threshold,
		"exclude_self":         excludeSelf,
	})
	if err != nil {
		return nil, err
	}
	var out struct {
		Success bool `json:"success"`
		Similar []struct {
			Article  int64   `json:"article"`
			Score    float64 `json:"similarity_score"`
		} `json:"similar_articles"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("mlclient: decode search response: %w", err)
	}
	if !out.Success {
		return nil, fmt.Errorf("mlclient: similarity search reported failure")
	}
	results := make([]SimilarArticle, 0, len(out.Similar))
	for _, s := range out.Similar {
		results = append(results, SimilarArticle{ArticleID: s.Article, Similarity: s.Score})
	}
	return results, nil
}

// GenerateDailyTopics implements Client.
func (c *HTTPClient) GenerateDailyTopics(ctx context.Context, daysBack int, threshold float64, minGroupSize, maxArticles int) (DailyTopicsResult, error) {
	raw, err := c.post(ctx, "/topics/generate-daily-topics", map[string]any{
		"days_back":            daysBack,
		"similarity_threshold": threshold,
		"min_group_size":       minGroupSize,
		"max_articles":         maxArticles,
	})
	if err != nil {
		return DailyTopicsResult{}, err
	}
	var out struct {
		Success     bool `json:"success"`
		TopicGroups []struct {
			Articles []struct {
				ArticleID int64  `json:"article_id"`
				URL       string `json:"url"`
				Title     string `json:"title"`
			} `json:"articles"`
		} `json:"topic_groups"`
		ArticlesProcessed int `json:"articles_processed"`
		ArticlesGrouped   int `json:"articles_grouped"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return DailyTopicsResult{}, fmt.Errorf("mlclient: decode daily-topics response: %w", err)
	}
	groups := make([]TopicGroup, 0, len(out.TopicGroups))
	for _, g := range out.TopicGroups {
		articles := make([]TopicArticle, 0, len(g.Articles))
		for _, a := range g.Articles {
			articles = append(articles, TopicArticle{ArticleID: a.ArticleID, URL: a.URL, Title: a.Title})
		}
		groups = append(groups, TopicGroup{Articles: articles})
	}
	return DailyTopicsResult{
		Success:           out.Success,
		TopicGroups:       groups,
		ArticlesProcessed: out.ArticlesProcessed,
		ArticlesGrouped:   out.ArticlesGrouped,
	}, nil
}
