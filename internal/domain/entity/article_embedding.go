package entity

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for ArticleEmbedding validation.
var (
	ErrInvalidEmbeddingType      = errors.New("invalid embedding type")
	ErrInvalidEmbeddingProvider  = errors.New("invalid embedding provider")
	ErrEmptyEmbedding            = errors.New("embedding vector is empty")
	ErrInvalidEmbeddingDimension = errors.New("embedding dimension does not match vector length")
)

// EmbeddingType identifies which part of an article an embedding was
// computed from.
type EmbeddingType string

const (
	EmbeddingTypeTitle   EmbeddingType = "title"
	EmbeddingTypeContent EmbeddingType = "content"
	EmbeddingTypeSummary EmbeddingType = "summary"
)

// IsValid reports whether et is one of the known embedding types.
func (et EmbeddingType) IsValid() bool {
	switch et {
	case EmbeddingTypeTitle, EmbeddingTypeContent, EmbeddingTypeSummary:
		return true
	default:
		return false
	}
}

// EmbeddingProvider identifies the remote service that produced an
// embedding vector.
type EmbeddingProvider string

const (
	EmbeddingProviderOpenAI EmbeddingProvider = "openai"
	EmbeddingProviderVoyage EmbeddingProvider = "voyage"
)

// IsValid reports whether ep is one of the known embedding providers.
func (ep EmbeddingProvider) IsValid() bool {
	switch ep {
	case EmbeddingProviderOpenAI, EmbeddingProviderVoyage:
		return true
	default:
		return false
	}
}

// ArticleEmbedding is a single stored embedding vector for an article,
// keyed on (ArticleID, EmbeddingType, Provider, Model).
type ArticleEmbedding struct {
	ID            int64
	ArticleID     int64
	EmbeddingType EmbeddingType
	Provider      EmbeddingProvider
	Model         string
	Dimension     int32
	Embedding     []float32
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Validate checks that the embedding carries a complete, self-consistent
// key and that its vector's length matches the declared dimension (spec
// §8: "len(E) == embedding_dim(model_name) and model_name is recorded").
func (e *ArticleEmbedding) Validate() error {
	if e.ArticleID <= 0 {
		return &ValidationError{Field: "ArticleID", Message: "article id is required"}
	}
	if !e.EmbeddingType.IsValid() {
		return fmt.Errorf("embedding_type %q: %w", e.EmbeddingType, ErrInvalidEmbeddingType)
	}
	if !e.Provider.IsValid() {
		return fmt.Errorf("provider %q: %w", e.Provider, ErrInvalidEmbeddingProvider)
	}
	if e.Model == "" {
		return &ValidationError{Field: "Model", Message: "model is required"}
	}
	if len(e.Embedding) == 0 {
		return ErrEmptyEmbedding
	}
	if int(e.Dimension) != len(e.Embedding) {
		return fmt.Errorf("dimension %d, vector length %d: %w", e.Dimension, len(e.Embedding), ErrInvalidEmbeddingDimension)
	}
	return nil
}
