package embedding_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newsrun/internal/domain/entity"
	"newsrun/internal/embedding"
	"newsrun/internal/storage/memory"
)

func storeEmbedding(t *testing.T, store *memory.Store, articleID int64, vec []float32) {
	t.Helper()
	require.NoError(t, store.Embeddings().Upsert(context.Background(), &entity.ArticleEmbedding{
		ArticleID:     articleID,
		EmbeddingType: entity.EmbeddingTypeContent,
		Provider:      entity.EmbeddingProviderOpenAI,
		Model:         "test-model",
		Dimension:     3,
		Embedding:     vec,
	}))
}

func TestBuildRollingGroups_ConnectedComponents(t *testing.T) {
	store := memory.New()

	// a and b are near-identical vectors, and so are c and d; the two
	// pairs are orthogonal to each other, so they form two separate
	// components, and the isolated article joins neither.
	a := &entity.Article{URL: "https://example.com/a", Title: "A", ContentEmbedding: []float32{1, 0, 0}}
	b := &entity.Article{URL: "https://example.com/b", Title: "B", ContentEmbedding: []float32{0.99, 0.01, 0}}
	c := &entity.Article{URL: "https://example.com/c", Title: "C", ContentEmbedding: []float32{0, 1, 0}}
	d := &entity.Article{URL: "https://example.com/d", Title: "D", ContentEmbedding: []float32{0, 0.99, 0.01}}
	isolated := &entity.Article{URL: "https://example.com/e", Title: "E", ContentEmbedding: []float32{0, 0, 1}}

	for _, art := range []*entity.Article{a, b, c, d, isolated} {
		require.NoError(t, store.Articles().Create(context.Background(), art))
		storeEmbedding(t, store, art.ID, art.ContentEmbedding)
	}

	articles, err := store.Articles().List(context.Background())
	require.NoError(t, err)

	groups, err := embedding.BuildRollingGroups(context.Background(), store.Embeddings(), articles, 0.95, 2)
	require.NoError(t, err)

	var total int
	for _, g := range groups {
		total += g.ArticleCount()
		assert.GreaterOrEqual(t, g.ArticleCount(), 2)
	}
	assert.Equal(t, 4, total, "a/b and c/d should each form a 2-member group; the isolated article is dropped")
	assert.Len(t, groups, 2)
}

func TestBuildRollingGroups_SkipsArticlesWithoutContentEmbedding(t *testing.T) {
	store := memory.New()
	noEmbedding := &entity.Article{URL: "https://example.com/no-embed", Title: "NoEmbed"}
	require.NoError(t, store.Articles().Create(context.Background(), noEmbedding))

	articles, err := store.Articles().List(context.Background())
	require.NoError(t, err)

	groups, err := embedding.BuildRollingGroups(context.Background(), store.Embeddings(), articles, 0.75, 2)
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestBuildRollingGroups_DeterministicAcrossIterationOrder(t *testing.T) {
	store := memory.New()
	a := &entity.Article{URL: "https://example.com/a", Title: "A", ContentEmbedding: []float32{1, 0, 0}}
	b := &entity.Article{URL: "https://example.com/b", Title: "B", ContentEmbedding: []float32{0.99, 0.01, 0}}
	for _, art := range []*entity.Article{a, b} {
		require.NoError(t, store.Articles().Create(context.Background(), art))
		storeEmbedding(t, store, art.ID, art.ContentEmbedding)
	}

	articles, err := store.Articles().List(context.Background())
	require.NoError(t, err)

	groupsForward, err := embedding.BuildRollingGroups(context.Background(), store.Embeddings(), articles, 0.9, 2)
	require.NoError(t, err)

	reversed := []*entity.Article{articles[1], articles[0]}
	groupsReversed, err := embedding.BuildRollingGroups(context.Background(), store.Embeddings(), reversed, 0.9, 2)
	require.NoError(t, err)

	require.Len(t, groupsForward, 1)
	require.Len(t, groupsReversed, 1)
	assert.ElementsMatch(t, groupsForward[0].Articles, groupsReversed[0].Articles)
}
