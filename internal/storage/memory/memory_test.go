package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newsrun/internal/domain/entity"
	"newsrun/internal/storage/memory"
)

func TestStore_ArticleUpsertByURLRoundTrip(t *testing.T) {
	store := memory.New()
	articles := store.Articles()
	ctx := context.Background()

	a := &entity.Article{URL: "https://example.com/a", Title: "First"}
	require.NoError(t, articles.Create(ctx, a))
	assert.NotZero(t, a.ID)

	got, err := articles.GetByURL(ctx, a.URL)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)

	_, err = articles.GetByURL(ctx, "https://example.com/missing")
	assert.ErrorIs(t, err, entity.ErrNotFound)
}

func TestStore_TaskClaimIsExclusive(t *testing.T) {
	store := memory.New()
	tasks := store.Tasks()
	ctx := context.Background()

	task := &entity.TaskRecord{ID: "t1", Name: "scan_source", Queue: entity.QueueNormal, Priority: 5}
	require.NoError(t, tasks.Create(ctx, task))

	claimed, err := tasks.Claim(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, claimed)

	claimedAgain, err := tasks.Claim(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, claimedAgain)
}

func TestStore_EmbeddingSearchSimilarOrdersByScore(t *testing.T) {
	store := memory.New()
	embeddings := store.Embeddings()
	ctx := context.Background()

	mk := func(articleID int64, vec []float32) *entity.ArticleEmbedding {
		return &entity.ArticleEmbedding{
			ArticleID: articleID, EmbeddingType: entity.EmbeddingTypeContent,
			Provider: entity.EmbeddingProviderOpenAI, Model: "test-model",
			Dimension: int32(len(vec)), Embedding: vec,
		}
	}
	require.NoError(t, embeddings.Upsert(ctx, mk(1, []float32{1, 0})))
	require.NoError(t, embeddings.Upsert(ctx, mk(2, []float32{0, 1})))
	require.NoError(t, embeddings.Upsert(ctx, mk(3, []float32{0.9, 0.1})))

	results, err := embeddings.SearchSimilar(ctx, []float32{1, 0}, entity.EmbeddingTypeContent, 10)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, int64(1), results[0].ArticleID)
	assert.Equal(t, int64(3), results[1].ArticleID)
}

func TestStore_TopicReplaceIsWholesale(t *testing.T) {
	store := memory.New()
	topics := store.Topics()
	ctx := context.Background()

	require.NoError(t, topics.ReplaceRolling(ctx, []*entity.TopicGroup{{TopicID: "r1"}}))
	got, err := topics.ListRolling(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)

	require.NoError(t, topics.ReplaceRolling(ctx, []*entity.TopicGroup{{TopicID: "r2"}, {TopicID: "r3"}}))
	got, err = topics.ListRolling(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
}
