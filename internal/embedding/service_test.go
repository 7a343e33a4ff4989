package embedding_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newsrun/internal/domain/entity"
	"newsrun/internal/embedding"
	"newsrun/internal/mlclient"
	"newsrun/internal/storage/memory"
	"newsrun/internal/taskruntime"
)

type fakeML struct {
	embedFn  func(articleID int64, text string) ([]float32, string, error)
	searchFn func(articleID int64) ([]mlclient.SimilarArticle, error)
}

func (f *fakeML) GenerateEmbedding(_ context.Context, articleID int64, text string) ([]float32, string, error) {
	if f.embedFn != nil {
		return f.embedFn(articleID, text)
	}
	return []float32{0.1, 0.2, 0.3}, "test-model", nil
}

func (f *fakeML) BatchEmbed(context.Context, int) (mlclient.BatchResult, error) {
	return mlclient.BatchResult{}, nil
}

func (f *fakeML) SearchSimilar(_ context.Context, articleID int64, _ int, _ float64, _ bool) ([]mlclient.SimilarArticle, error) {
	if f.searchFn != nil {
		return f.searchFn(articleID)
	}
	return nil, nil
}

func (f *fakeML) GenerateDailyTopics(context.Context, int, float64, int, int) (mlclient.DailyTopicsResult, error) {
	return mlclient.DailyTopicsResult{}, nil
}

type fakeSubmitter struct {
	calls []string
}

func (f *fakeSubmitter) Submit(_ context.Context, name string, _, _ map[string]any, _ taskruntime.SubmitOptions) (string, error) {
	f.calls = append(f.calls, name)
	return "task-x", nil
}

func newArticle(t *testing.T, store *memory.Store, url, content string) *entity.Article {
	t.Helper()
	a := &entity.Article{URL: url, Title: "T", CleanedText: content}
	require.NoError(t, store.Articles().Create(context.Background(), a))
	return a
}

func TestEmbedContent_Success(t *testing.T) {
	store := memory.New()
	article := newArticle(t, store, "https://example.com/a", "article body")
	ml := &fakeML{}

	svc := embedding.NewService(store.Articles(), store.Embeddings(), ml, nil)
	result, err := svc.EmbedContent(context.Background(), article.URL)
	require.NoError(t, err)
	assert.False(t, result.Skipped)
	assert.Equal(t, "test-model", result.Model)

	stored, err := store.Articles().GetByURL(context.Background(), article.URL)
	require.NoError(t, err)
	assert.True(t, stored.HasContentEmbedding())

	vecs, err := store.Embeddings().FindByArticleID(context.Background(), article.ID)
	require.NoError(t, err)
	require.Len(t, vecs, 1)
	assert.Equal(t, entity.EmbeddingTypeContent, vecs[0].EmbeddingType)
}

func TestEmbedContent_SkipsWhenAlreadyEmbedded(t *testing.T) {
	store := memory.New()
	article := newArticle(t, store, "https://example.com/a", "body")
	article.ContentEmbedding = []float32{1, 2, 3}
	require.NoError(t, store.Articles().Update(context.Background(), article))

	ml := &fakeML{embedFn: func(int64, string) ([]float32, string, error) {
		t.Fatal("must not call ML client when embedding already exists")
		return nil, "", nil
	}}

	svc := embedding.NewService(store.Articles(), store.Embeddings(), ml, nil)
	result, err := svc.EmbedContent(context.Background(), article.URL)
	require.NoError(t, err)
	assert.True(t, result.Skipped)
}

func TestEmbedContent_NoContentIsValidationError(t *testing.T) {
	store := memory.New()
	article := newArticle(t, store, "https://example.com/a", "")
	ml := &fakeML{}

	svc := embedding.NewService(store.Articles(), store.Embeddings(), ml, nil)
	_, err := svc.EmbedContent(context.Background(), article.URL)
	require.Error(t, err)
	assert.Equal(t, taskruntime.ClassValidation, taskruntime.ClassOf(err))
}

func TestEmbedContent_UpstreamFailureIsUpstreamError(t *testing.T) {
	store := memory.New()
	article := newArticle(t, store, "https://example.com/a", "body")
	ml := &fakeML{embedFn: func(int64, string) ([]float32, string, error) {
		return nil, "", errors.New("ml service down")
	}}

	svc := embedding.NewService(store.Articles(), store.Embeddings(), ml, nil)
	_, err := svc.EmbedContent(context.Background(), article.URL)
	require.Error(t, err)
	assert.Equal(t, taskruntime.ClassUpstream, taskruntime.ClassOf(err))
}

func TestEmbedSummary_RequiresCompletedSummary(t *testing.T) {
	store := memory.New()
	article := newArticle(t, store, "https://example.com/a", "body")
	ml := &fakeML{}

	svc := embedding.NewService(store.Articles(), store.Embeddings(), ml, nil)
	_, err := svc.EmbedSummary(context.Background(), article.URL)
	require.Error(t, err)
	assert.Equal(t, taskruntime.ClassValidation, taskruntime.ClassOf(err))
}

func TestEmbedSummary_Success(t *testing.T) {
	store := memory.New()
	article := newArticle(t, store, "https://example.com/a", "body")
	article.SummaryStatus = entity.SummaryStatusCompleted
	article.Summary = "a summary"
	article.PromptVersion = "v1"
	require.NoError(t, store.Articles().Update(context.Background(), article))

	ml := &fakeML{}
	svc := embedding.NewService(store.Articles(), store.Embeddings(), ml, nil)
	result, err := svc.EmbedSummary(context.Background(), article.URL)
	require.NoError(t, err)
	assert.False(t, result.Skipped)

	stored, err := store.Articles().GetByURL(context.Background(), article.URL)
	require.NoError(t, err)
	assert.True(t, stored.HasSummaryEmbedding())
}

func TestAnalyzeNewArticleTopic_EmbedsIfMissingThenSearches(t *testing.T) {
	store := memory.New()
	article := newArticle(t, store, "https://example.com/a", "body")

	searched := false
	ml := &fakeML{
		searchFn: func(articleID int64) ([]mlclient.SimilarArticle, error) {
			searched = true
			assert.Equal(t, article.ID, articleID)
			return []mlclient.SimilarArticle{{ArticleID: 99, Similarity: 0.9}}, nil
		},
	}

	svc := embedding.NewService(store.Articles(), store.Embeddings(), ml, nil)
	err := svc.AnalyzeNewArticleTopic(context.Background(), article.URL)
	require.NoError(t, err)
	assert.True(t, searched)

	stored, err := store.Articles().GetByURL(context.Background(), article.URL)
	require.NoError(t, err)
	assert.True(t, stored.HasContentEmbedding(), "analysis must embed content first when missing")
}

func TestBatchBackfill_SubmitsMissingContentAndSummaryJobs(t *testing.T) {
	store := memory.New()
	withEmbedding := newArticle(t, store, "https://example.com/has-embedding", "body")
	withEmbedding.ContentEmbedding = []float32{1, 2, 3}
	withEmbedding.SummaryStatus = entity.SummaryStatusCompleted
	withEmbedding.Summary = "done"
	withEmbedding.PromptVersion = "v1"
	withEmbedding.SummaryEmbedding = []float32{1, 2, 3}
	require.NoError(t, store.Articles().Update(context.Background(), withEmbedding))

	newArticle(t, store, "https://example.com/missing-content", "body")

	missingSummaryEmbed := newArticle(t, store, "https://example.com/missing-summary-embed", "body")
	missingSummaryEmbed.ContentEmbedding = []float32{1, 2, 3}
	missingSummaryEmbed.SummaryStatus = entity.SummaryStatusCompleted
	missingSummaryEmbed.Summary = "done"
	missingSummaryEmbed.PromptVersion = "v1"
	require.NoError(t, store.Articles().Update(context.Background(), missingSummaryEmbed))

	ml := &fakeML{}
	svc := embedding.NewService(store.Articles(), store.Embeddings(), ml, nil)
	submitter := &fakeSubmitter{}

	result, err := svc.BatchBackfill(context.Background(), submitter, 50)
	require.NoError(t, err)
	assert.Equal(t, 1, result.ContentSubmitted)
	assert.Equal(t, 1, result.SummarySubmitted)
	assert.ElementsMatch(t, []string{embedding.TaskNameContentEmbedding, embedding.TaskNameSummaryEmbedding}, submitter.calls)
}

func TestHandlers_MissingURLIsValidationError(t *testing.T) {
	store := memory.New()
	ml := &fakeML{}
	svc := embedding.NewService(store.Articles(), store.Embeddings(), ml, nil)

	_, err := svc.ContentEmbeddingHandler(context.Background(), map[string]any{}, nil)
	require.Error(t, err)
	assert.Equal(t, taskruntime.ClassValidation, taskruntime.ClassOf(err))

	_, err = svc.SummaryEmbeddingHandler(context.Background(), map[string]any{}, nil)
	require.Error(t, err)
	assert.Equal(t, taskruntime.ClassValidation, taskruntime.ClassOf(err))

	_, err = svc.TopicAnalysisHandler(context.Background(), map[string]any{}, nil)
	require.Error(t, err)
	assert.Equal(t, taskruntime.ClassValidation, taskruntime.ClassOf(err))
}
