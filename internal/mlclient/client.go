// Package mlclient is the C2 ML Client: a thin request/response wrapper
// around the remote embedding/topic service described in spec.md §6.
package mlclient

import "context"

// SimilarArticle is one hit returned by similarity search.
type SimilarArticle struct {
	ArticleID  int64
	Similarity float64
}

// TopicArticle is one article record as returned inside a ML-delegated
// topic group (spec §6 "topics/generate-daily-topics").
type TopicArticle struct {
	ArticleID int64
	URL       string
	Title     string
}

// TopicGroup is one group in the daily-topics response.
type TopicGroup struct {
	Articles []TopicArticle
}

// DailyTopicsResult is the parsed response of generate-daily-topics.
type DailyTopicsResult struct {
	Success           bool
	TopicGroups       []TopicGroup
	ArticlesProcessed int
	ArticlesGrouped   int
}

// BatchResult is the parsed response of the embeddings/batch endpoint.
type BatchResult struct {
	TotalArticles int
	Processed     int
	Failed        int
}

// Client is the ML service contract from spec §6: embedding
// generation, batch backfill delegation, similarity search, and
// ML-delegated daily-topic grouping. Both the HTTP/JSON client (the
// spec-mandated wire format) and any alternate transport implement
// this same interface.
type Client interface {
	// GenerateEmbedding calls POST /embeddings/generate.
	GenerateEmbedding(ctx context.Context, articleID int64, text string) (embedding []float32, modelName string, err error)

	// BatchEmbed calls POST /embeddings/batch?batch_size=N.
	BatchEmbed(ctx context.Context, batchSize int) (BatchResult, error)

	// SearchSimilar calls POST /similarity/search.
	SearchSimilar(ctx context.Context, articleID int64, limit int, threshold float64, excludeSelf bool) ([]SimilarArticle, error)

	// GenerateDailyTopics calls POST /topics/generate-daily-topics.
	GenerateDailyTopics(ctx context.Context, daysBack int, threshold float64, minGroupSize, maxArticles int) (DailyTopicsResult, error)
}
