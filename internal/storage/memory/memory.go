// Package memory provides in-process implementations of the storage
// repository interfaces, used by tests and by local development runs
// that don't need a real Postgres instance.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"newsrun/internal/domain/entity"
	"newsrun/internal/repository"
)

// Store is an in-memory backing for every repository interface in
// internal/repository. It replaces the teacher's sqlite test-double
// adapter with a dependency-free one, guarded by a single mutex since
// it is only ever used in single-process tests and dev runs.
type Store struct {
	mu sync.Mutex

	nextArticleID int64
	articles      map[int64]*entity.Article

	nextSourceID int64
	sources      map[int64]*entity.Source

	embeddings map[string]*entity.ArticleEmbedding // key: articleID|type|provider|model
	nextEmbID  int64

	tasks map[string]*entity.TaskRecord

	rollingTopics []*entity.TopicGroup
	dailyTopics   []*entity.TopicGroup
}

// New constructs an empty in-memory Store.
func New() *Store {
	return &Store{
		articles:   make(map[int64]*entity.Article),
		sources:    make(map[int64]*entity.Source),
		embeddings: make(map[string]*entity.ArticleEmbedding),
		tasks:      make(map[string]*entity.TaskRecord),
	}
}

// Articles returns an ArticleRepository backed by this store.
func (s *Store) Articles() repository.ArticleRepository { return (*articleStore)(s) }

// Sources returns a SourceRepository backed by this store.
func (s *Store) Sources() repository.SourceRepository { return (*sourceStore)(s) }

// Embeddings returns an ArticleEmbeddingRepository backed by this store.
func (s *Store) Embeddings() repository.ArticleEmbeddingRepository { return (*embeddingStore)(s) }

// Tasks returns a TaskRepository backed by this store.
func (s *Store) Tasks() repository.TaskRepository { return (*taskStore)(s) }

// Topics returns a TopicRepository backed by this store.
func (s *Store) Topics() repository.TopicRepository { return (*topicStore)(s) }

func cloneArticle(a *entity.Article) *entity.Article {
	cp := *a
	cp.ContentEmbedding = append([]float32(nil), a.ContentEmbedding...)
	cp.SummaryEmbedding = append([]float32(nil), a.SummaryEmbedding...)
	return &cp
}

type articleStore Store

func (s *articleStore) lock() *Store   { return (*Store)(s) }
func (s *articleStore) List(ctx context.Context) ([]*entity.Article, error) {
	st := s.lock()
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]*entity.Article, 0, len(st.articles))
	for _, a := range st.articles {
		out = append(out, cloneArticle(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PublishedAt.After(out[j].PublishedAt) })
	return out, nil
}

func (s *articleStore) ListWithSource(ctx context.Context) ([]repository.ArticleWithSource, error) {
	st := s.lock()
	articles, _ := (*articleStore)(st).List(ctx)
	out := make([]repository.ArticleWithSource, 0, len(articles))
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, a := range articles {
		name := ""
		if src, ok := st.sources[a.SourceID]; ok {
			name = src.Name
		}
		out = append(out, repository.ArticleWithSource{Article: a, SourceName: name})
	}
	return out, nil
}

func (s *articleStore) ListWithSourcePaginated(ctx context.Context, offset, limit int) ([]repository.ArticleWithSource, error) {
	all, _ := s.ListWithSource(ctx)
	if offset >= len(all) {
		return []repository.ArticleWithSource{}, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (s *articleStore) CountArticles(ctx context.Context) (int64, error) {
	st := s.lock()
	st.mu.Lock()
	defer st.mu.Unlock()
	return int64(len(st.articles)), nil
}

func (s *articleStore) Get(ctx context.Context, id int64) (*entity.Article, error) {
	st := s.lock()
	st.mu.Lock()
	defer st.mu.Unlock()
	a, ok := st.articles[id]
	if !ok {
		return nil, entity.ErrNotFound
	}
	return cloneArticle(a), nil
}

func (s *articleStore) GetByURL(ctx context.Context, url string) (*entity.Article, error) {
	st := s.lock()
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, a := range st.articles {
		if a.URL == url {
			return cloneArticle(a), nil
		}
	}
	return nil, entity.ErrNotFound
}

func (s *articleStore) GetWithSource(ctx context.Context, id int64) (*entity.Article, string, error) {
	a, err := s.Get(ctx, id)
	if err != nil {
		return nil, "", nil
	}
	st := s.lock()
	st.mu.Lock()
	defer st.mu.Unlock()
	name := ""
	if src, ok := st.sources[a.SourceID]; ok {
		name = src.Name
	}
	return a, name, nil
}

func (s *articleStore) Search(ctx context.Context, keyword string) ([]*entity.Article, error) {
	return s.SearchWithFilters(ctx, []string{keyword}, repository.ArticleSearchFilters{})
}

func (s *articleStore) SearchWithFilters(ctx context.Context, keywords []string, filters repository.ArticleSearchFilters) ([]*entity.Article, error) {
	all, _ := s.List(ctx)
	out := make([]*entity.Article, 0)
	for _, a := range all {
		if filters.SourceID != nil && a.SourceID != *filters.SourceID {
			continue
		}
		if filters.From != nil && a.PublishedAt.Before(*filters.From) {
			continue
		}
		if filters.To != nil && a.PublishedAt.After(*filters.To) {
			continue
		}
		if !matchesAllKeywords(a, keywords) {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func matchesAllKeywords(a *entity.Article, keywords []string) bool {
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if !containsFold(a.Title, kw) && !containsFold(a.Summary, kw) {
			return false
		}
	}
	return true
}

func containsFold(haystack, needle string) bool {
	return len(needle) == 0 || indexFold(haystack, needle) >= 0
}

func indexFold(haystack, needle string) int {
	hl, nl := []rune(toLower(haystack)), []rune(toLower(needle))
	if len(nl) == 0 {
		return 0
	}
	for i := 0; i+len(nl) <= len(hl); i++ {
		match := true
		for j := range nl {
			if hl[i+j] != nl[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

func toLower(s string) string {
	out := []rune(s)
	for i, r := range out {
		if r >= 'A' && r <= 'Z' {
			out[i] = r + ('a' - 'A')
		}
	}
	return string(out)
}

func (s *articleStore) Create(ctx context.Context, a *entity.Article) error {
	if err := a.Validate(); err != nil {
		return err
	}
	st := s.lock()
	st.mu.Lock()
	defer st.mu.Unlock()
	st.nextArticleID++
	a.ID = st.nextArticleID
	a.CreatedAt = time.Now()
	st.articles[a.ID] = cloneArticle(a)
	return nil
}

func (s *articleStore) Update(ctx context.Context, a *entity.Article) error {
	if err := a.Validate(); err != nil {
		return err
	}
	st := s.lock()
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.articles[a.ID]; !ok {
		return entity.ErrNotFound
	}
	st.articles[a.ID] = cloneArticle(a)
	return nil
}

func (s *articleStore) Delete(ctx context.Context, id int64) error {
	st := s.lock()
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.articles[id]; !ok {
		return entity.ErrNotFound
	}
	delete(st.articles, id)
	return nil
}

func (s *articleStore) ExistsByURL(ctx context.Context, url string) (bool, error) {
	_, err := s.GetByURL(ctx, url)
	if err == entity.ErrNotFound {
		return false, nil
	}
	return err == nil, err
}

func (s *articleStore) ExistsByURLBatch(ctx context.Context, urls []string) (map[string]bool, error) {
	st := s.lock()
	st.mu.Lock()
	defer st.mu.Unlock()
	known := make(map[string]bool, len(st.articles))
	for _, a := range st.articles {
		known[a.URL] = true
	}
	out := make(map[string]bool, len(urls))
	for _, u := range urls {
		if known[u] {
			out[u] = true
		}
	}
	return out, nil
}

func (s *articleStore) ListMissingContentEmbedding(ctx context.Context, limit int) ([]*entity.Article, error) {
	all, _ := s.List(ctx)
	return filterArticles(all, limit, func(a *entity.Article) bool { return !a.HasContentEmbedding() }), nil
}

func (s *articleStore) ListMissingSummaryEmbedding(ctx context.Context, limit int) ([]*entity.Article, error) {
	all, _ := s.List(ctx)
	return filterArticles(all, limit, func(a *entity.Article) bool {
		return a.SummaryStatus == entity.SummaryStatusCompleted && !a.HasSummaryEmbedding()
	}), nil
}

func (s *articleStore) ListForDailyTopicWindow(ctx context.Context, since time.Time, limit int) ([]*entity.Article, error) {
	all, _ := s.List(ctx)
	return filterArticles(all, limit, func(a *entity.Article) bool {
		return !a.PublishedAt.Before(since) && a.EligibleForDailyTopic()
	}), nil
}

func filterArticles(all []*entity.Article, limit int, keep func(*entity.Article) bool) []*entity.Article {
	out := make([]*entity.Article, 0, limit)
	for _, a := range all {
		if len(out) >= limit {
			break
		}
		if keep(a) {
			out = append(out, a)
		}
	}
	return out
}
