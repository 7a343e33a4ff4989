package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"newsrun/internal/domain/entity"
	"newsrun/internal/repository"
)

type sourceStore Store

func (s *sourceStore) Get(ctx context.Context, id int64) (*entity.Source, error) {
	st := (*Store)(s)
	st.mu.Lock()
	defer st.mu.Unlock()
	src, ok := st.sources[id]
	if !ok {
		return nil, entity.ErrNotFound
	}
	cp := *src
	return &cp, nil
}

func (s *sourceStore) List(ctx context.Context) ([]*entity.Source, error) {
	st := (*Store)(s)
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]*entity.Source, 0, len(st.sources))
	for _, src := range st.sources {
		cp := *src
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *sourceStore) ListActive(ctx context.Context) ([]*entity.Source, error) {
	all, _ := s.List(ctx)
	out := make([]*entity.Source, 0, len(all))
	for _, src := range all {
		if src.Active {
			out = append(out, src)
		}
	}
	return out, nil
}

func (s *sourceStore) Search(ctx context.Context, keyword string) ([]*entity.Source, error) {
	all, _ := s.List(ctx)
	kw := strings.ToLower(keyword)
	out := make([]*entity.Source, 0)
	for _, src := range all {
		if strings.Contains(strings.ToLower(src.Name), kw) || strings.Contains(strings.ToLower(src.FeedURL), kw) {
			out = append(out, src)
		}
	}
	return out, nil
}

func (s *sourceStore) Create(ctx context.Context, src *entity.Source) error {
	if err := src.Validate(); err != nil {
		return err
	}
	st := (*Store)(s)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.nextSourceID++
	src.ID = st.nextSourceID
	cp := *src
	st.sources[src.ID] = &cp
	return nil
}

func (s *sourceStore) Update(ctx context.Context, src *entity.Source) error {
	if err := src.Validate(); err != nil {
		return err
	}
	st := (*Store)(s)
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.sources[src.ID]; !ok {
		return entity.ErrNotFound
	}
	cp := *src
	st.sources[src.ID] = &cp
	return nil
}

func (s *sourceStore) Delete(ctx context.Context, id int64) error {
	st := (*Store)(s)
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.sources[id]; !ok {
		return entity.ErrNotFound
	}
	delete(st.sources, id)
	return nil
}

func (s *sourceStore) TouchCrawledAt(ctx context.Context, id int64, t time.Time) error {
	st := (*Store)(s)
	st.mu.Lock()
	defer st.mu.Unlock()
	src, ok := st.sources[id]
	if !ok {
		return entity.ErrNotFound
	}
	src.LastCrawledAt = &t
	return nil
}

type embeddingStore Store

func embKey(articleID int64, et entity.EmbeddingType, provider entity.EmbeddingProvider, model string) string {
	return fmt.Sprintf("%d|%s|%s|%s", articleID, et, provider, model)
}

func (s *embeddingStore) Upsert(ctx context.Context, e *entity.ArticleEmbedding) error {
	if err := e.Validate(); err != nil {
		return err
	}
	st := (*Store)(s)
	st.mu.Lock()
	defer st.mu.Unlock()
	key := embKey(e.ArticleID, e.EmbeddingType, e.Provider, e.Model)
	now := time.Now()
	if existing, ok := st.embeddings[key]; ok {
		e.ID = existing.ID
		e.CreatedAt = existing.CreatedAt
	} else {
		st.nextEmbID++
		e.ID = st.nextEmbID
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	cp := *e
	st.embeddings[key] = &cp
	return nil
}

func (s *embeddingStore) FindByArticleID(ctx context.Context, articleID int64) ([]*entity.ArticleEmbedding, error) {
	st := (*Store)(s)
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]*entity.ArticleEmbedding, 0)
	for _, e := range st.embeddings {
		if e.ArticleID == articleID {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EmbeddingType != out[j].EmbeddingType {
			return out[i].EmbeddingType < out[j].EmbeddingType
		}
		return out[i].Provider < out[j].Provider
	})
	return out, nil
}

func (s *embeddingStore) SearchSimilar(ctx context.Context, embedding []float32, embeddingType entity.EmbeddingType, limit int) ([]repository.SimilarArticle, error) {
	st := (*Store)(s)
	st.mu.Lock()
	defer st.mu.Unlock()
	type scored struct {
		id    int64
		score float64
	}
	var candidates []scored
	for _, e := range st.embeddings {
		if e.EmbeddingType != embeddingType {
			continue
		}
		candidates = append(candidates, scored{id: e.ArticleID, score: cosineSimilarity(embedding, e.Embedding)})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]repository.SimilarArticle, len(candidates))
	for i, c := range candidates {
		out[i] = repository.SimilarArticle{ArticleID: c.id, Similarity: c.score}
	}
	return out, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (sqrt(normA) * sqrt(normB))
}

func sqrt(v float64) float64 {
	if v == 0 {
		return 0
	}
	x := v
	for i := 0; i < 40; i++ {
		x = 0.5 * (x + v/x)
	}
	return x
}

func (s *embeddingStore) DeleteByArticleID(ctx context.Context, articleID int64) (int64, error) {
	st := (*Store)(s)
	st.mu.Lock()
	defer st.mu.Unlock()
	var n int64
	for key, e := range st.embeddings {
		if e.ArticleID == articleID {
			delete(st.embeddings, key)
			n++
		}
	}
	return n, nil
}

type taskStore Store

func (s *taskStore) Create(ctx context.Context, t *entity.TaskRecord) error {
	if err := t.Validate(); err != nil {
		return err
	}
	st := (*Store)(s)
	st.mu.Lock()
	defer st.mu.Unlock()
	t.SubmittedAt = time.Now()
	if t.State == "" {
		t.State = entity.TaskStateQueued
	}
	cp := *t
	st.tasks[t.ID] = &cp
	return nil
}

func (s *taskStore) Get(ctx context.Context, id string) (*entity.TaskRecord, error) {
	st := (*Store)(s)
	st.mu.Lock()
	defer st.mu.Unlock()
	t, ok := st.tasks[id]
	if !ok {
		return nil, entity.ErrNotFound
	}
	if t.State.IsTerminal() && t.CompletedAt != nil && t.TTL > 0 && time.Since(*t.CompletedAt) > t.TTL {
		return nil, entity.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *taskStore) UpdateState(ctx context.Context, id string, state entity.TaskState, fields repository.TaskStateUpdate) error {
	st := (*Store)(s)
	st.mu.Lock()
	defer st.mu.Unlock()
	t, ok := st.tasks[id]
	if !ok {
		return entity.ErrNotFound
	}
	if t.State.IsTerminal() {
		return fmt.Errorf("task %s is already terminal: %w", id, entity.ErrInvalidInput)
	}
	t.State = state
	if fields.LastError != "" {
		t.LastError = fields.LastError
	}
	if fields.Attempt != nil {
		t.Attempt = *fields.Attempt
	}
	if fields.NotBefore != nil {
		t.NotBefore = *fields.NotBefore
	}
	if fields.Result != nil {
		t.Result = fields.Result
	}
	if fields.StartedAt != nil {
		t.StartedAt = fields.StartedAt
	}
	if fields.Completed != nil {
		t.CompletedAt = fields.Completed
	}
	return nil
}

func (s *taskStore) ListDue(ctx context.Context, queue entity.QueueClass, limit int) ([]*entity.TaskRecord, error) {
	st := (*Store)(s)
	st.mu.Lock()
	defer st.mu.Unlock()
	now := time.Now()
	out := make([]*entity.TaskRecord, 0)
	for _, t := range st.tasks {
		if t.Queue != queue {
			continue
		}
		if t.State != entity.TaskStateQueued && t.State != entity.TaskStateRetrying {
			continue
		}
		if t.NotBefore.After(now) {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *taskStore) Claim(ctx context.Context, id string) (bool, error) {
	st := (*Store)(s)
	st.mu.Lock()
	defer st.mu.Unlock()
	t, ok := st.tasks[id]
	if !ok {
		return false, nil
	}
	if t.State != entity.TaskStateQueued && t.State != entity.TaskStateRetrying {
		return false, nil
	}
	t.State = entity.TaskStateRunning
	now := time.Now()
	t.StartedAt = &now
	return true, nil
}

func (s *taskStore) Stats(ctx context.Context) ([]repository.TaskQueueStats, error) {
	st := (*Store)(s)
	st.mu.Lock()
	defer st.mu.Unlock()
	byQueue := map[entity.QueueClass]*repository.TaskQueueStats{}
	for _, t := range st.tasks {
		stat, ok := byQueue[t.Queue]
		if !ok {
			stat = &repository.TaskQueueStats{Queue: t.Queue}
			byQueue[t.Queue] = stat
		}
		switch t.State {
		case entity.TaskStateQueued:
			stat.Queued++
		case entity.TaskStateRunning:
			stat.Running++
		case entity.TaskStateRetrying:
			stat.Retrying++
		}
	}
	out := make([]repository.TaskQueueStats, 0, len(byQueue))
	for _, s := range byQueue {
		out = append(out, *s)
	}
	return out, nil
}

func (s *taskStore) Cancel(ctx context.Context, id string) (bool, error) {
	st := (*Store)(s)
	st.mu.Lock()
	defer st.mu.Unlock()
	t, ok := st.tasks[id]
	if !ok || t.State.IsTerminal() {
		return false, nil
	}
	t.State = entity.TaskStateCancelled
	now := time.Now()
	t.CompletedAt = &now
	return true, nil
}

func (s *taskStore) PurgeExpiredResults(ctx context.Context, olderThan time.Time) (int64, error) {
	st := (*Store)(s)
	st.mu.Lock()
	defer st.mu.Unlock()
	var n int64
	for id, t := range st.tasks {
		if t.State.IsTerminal() && t.CompletedAt != nil && t.CompletedAt.Before(olderThan) {
			delete(st.tasks, id)
			n++
		}
	}
	return n, nil
}

type topicStore Store

func (s *topicStore) ReplaceRolling(ctx context.Context, groups []*entity.TopicGroup) error {
	st := (*Store)(s)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.rollingTopics = groups
	return nil
}

func (s *topicStore) ListRolling(ctx context.Context) ([]*entity.TopicGroup, error) {
	st := (*Store)(s)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.rollingTopics, nil
}

func (s *topicStore) ReplaceDaily(ctx context.Context, windowStart, windowEnd time.Time, groups []*entity.TopicGroup) error {
	st := (*Store)(s)
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, g := range groups {
		g.WindowStart, g.WindowEnd = windowStart, windowEnd
	}
	st.dailyTopics = groups
	return nil
}

func (s *topicStore) ListDaily(ctx context.Context) ([]*entity.TopicGroup, error) {
	st := (*Store)(s)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.dailyTopics, nil
}
