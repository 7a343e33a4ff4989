package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"newsrun/internal/domain/entity"
	"newsrun/internal/repository"
)

const articleColumns = `
id, source_id, title, raw_content, cleaned_text, host, origin, url,
published_at, published_at_flagged, analyzed_at,
flesch_reading_ease, flesch_kincaid_grade, word_count, sentence_count,
summary, summary_status, summary_model, prompt_version, summary_error, summary_updated,
content_embedding, content_embed_model, content_embed_update,
summary_embedding, summary_embed_model, summary_embed_update,
created_at`

type ArticleRepo struct{ db *sql.DB }

func NewArticleRepo(db *sql.DB) repository.ArticleRepository {
	return &ArticleRepo{db: db}
}

type articleScanTarget struct {
	a                  *entity.Article
	summaryStatus      string
	contentEmbedding   pgvectorScanner
	summaryEmbedding   pgvectorScanner
	publishedAtFlagged sql.NullBool
}

func newArticleScanTarget() *articleScanTarget {
	a := &entity.Article{}
	return &articleScanTarget{a: a}
}

func (t *articleScanTarget) scanArgs() []any {
	a := t.a
	return []any{
		&a.ID, &a.SourceID, &a.Title, &a.RawContent, &a.CleanedText, &a.Host, &a.Origin, &a.URL,
		&a.PublishedAt, &t.publishedAtFlagged, &a.AnalyzedAt,
		&a.Readability.FleschReadingEase, &a.Readability.FleschKincaidGrade,
		&a.Readability.WordCount, &a.Readability.SentenceCount,
		&a.Summary, &t.summaryStatus, &a.SummaryModel, &a.PromptVersion, &a.SummaryError, &a.SummaryUpdated,
		&t.contentEmbedding, &a.ContentEmbedModel, &a.ContentEmbedUpdate,
		&t.summaryEmbedding, &a.SummaryEmbedModel, &a.SummaryEmbedUpdate,
		&a.CreatedAt,
	}
}

func (t *articleScanTarget) finish() *entity.Article {
	t.a.SummaryStatus = entity.SummaryStatus(t.summaryStatus)
	t.a.PublishedAtFlagged = t.publishedAtFlagged.Bool
	t.a.ContentEmbedding = t.contentEmbedding.slice
	t.a.SummaryEmbedding = t.summaryEmbedding.slice
	return t.a
}

func scanArticleRow(row *sql.Row) (*entity.Article, error) {
	target := newArticleScanTarget()
	if err := row.Scan(target.scanArgs()...); err != nil {
		return nil, err
	}
	return target.finish(), nil
}

func scanArticleRows(rows *sql.Rows) (*entity.Article, error) {
	target := newArticleScanTarget()
	if err := rows.Scan(target.scanArgs()...); err != nil {
		return nil, err
	}
	return target.finish(), nil
}

func (repo *ArticleRepo) List(ctx context.Context) ([]*entity.Article, error) {
	query := fmt.Sprintf(`SELECT %s FROM articles ORDER BY published_at DESC`, articleColumns)
	rows, err := repo.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	defer func() { _ = rows.Close() }()

	articles := make([]*entity.Article, 0, 100)
	for rows.Next() {
		a, err := scanArticleRows(rows)
		if err != nil {
			return nil, fmt.Errorf("List: Scan: %w", err)
		}
		articles = append(articles, a)
	}
	return articles, rows.Err()
}

func (repo *ArticleRepo) ListWithSource(ctx context.Context) ([]repository.ArticleWithSource, error) {
	query := fmt.Sprintf(`
SELECT %s, s.name AS source_name
FROM articles a
INNER JOIN sources s ON a.source_id = s.id
ORDER BY a.published_at DESC`, prefixColumns("a", articleColumns))
	rows, err := repo.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ListWithSource: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := make([]repository.ArticleWithSource, 0, 100)
	for rows.Next() {
		target := newArticleScanTarget()
		var sourceName string
		args := append(target.scanArgs(), &sourceName)
		if err := rows.Scan(args...); err != nil {
			return nil, fmt.Errorf("ListWithSource: Scan: %w", err)
		}
		result = append(result, repository.ArticleWithSource{Article: target.finish(), SourceName: sourceName})
	}
	return result, rows.Err()
}

func (repo *ArticleRepo) ListWithSourcePaginated(ctx context.Context, offset, limit int) ([]repository.ArticleWithSource, error) {
	query := fmt.Sprintf(`
SELECT %s, s.name AS source_name
FROM articles a
INNER JOIN sources s ON a.source_id = s.id
ORDER BY a.published_at DESC
LIMIT $1 OFFSET $2`, prefixColumns("a", articleColumns))

	rows, err := repo.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ListWithSourcePaginated: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := make([]repository.ArticleWithSource, 0, limit)
	for rows.Next() {
		target := newArticleScanTarget()
		var sourceName string
		args := append(target.scanArgs(), &sourceName)
		if err := rows.Scan(args...); err != nil {
			return nil, fmt.Errorf("ListWithSourcePaginated: Scan: %w", err)
		}
		result = append(result, repository.ArticleWithSource{Article: target.finish(), SourceName: sourceName})
	}
	return result, rows.Err()
}

func (repo *ArticleRepo) CountArticles(ctx context.Context) (int64, error) {
	const query = `SELECT COUNT(*) FROM articles`
	var count int64
	if err := repo.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("CountArticles: %w", err)
	}
	return count, nil
}

func (repo *ArticleRepo) Get(ctx context.Context, id int64) (*entity.Article, error) {
	query := fmt.Sprintf(`SELECT %s FROM articles WHERE id = $1`, articleColumns)
	a, err := scanArticleRow(repo.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return a, nil
}

func (repo *ArticleRepo) GetByURL(ctx context.Context, url string) (*entity.Article, error) {
	query := fmt.Sprintf(`SELECT %s FROM articles WHERE url = $1`, articleColumns)
	a, err := scanArticleRow(repo.db.QueryRowContext(ctx, query, url))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetByURL: %w", err)
	}
	return a, nil
}

func (repo *ArticleRepo) GetWithSource(ctx context.Context, id int64) (*entity.Article, string, error) {
	query := fmt.Sprintf(`
SELECT %s, s.name AS source_name
FROM articles a
INNER JOIN sources s ON a.source_id = s.id
WHERE a.id = $1`, prefixColumns("a", articleColumns))

	target := newArticleScanTarget()
	var sourceName string
	args := append(target.scanArgs(), &sourceName)
	err := repo.db.QueryRowContext(ctx, query, id).Scan(args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("GetWithSource: %w", err)
	}
	return target.finish(), sourceName, nil
}

func (repo *ArticleRepo) Search(ctx context.Context, keyword string) ([]*entity.Article, error) {
	return repo.SearchWithFilters(ctx, []string{keyword}, repository.ArticleSearchFilters{})
}

func (repo *ArticleRepo) SearchWithFilters(ctx context.Context, keywords []string, filters repository.ArticleSearchFilters) ([]*entity.Article, error) {
	qb := NewArticleQueryBuilder()
	where, args := qb.BuildWhereClause(keywords, filters, "")
	query := fmt.Sprintf(`SELECT %s FROM articles %s ORDER BY published_at DESC`, articleColumns, where)

	rows, err := repo.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("SearchWithFilters: %w", err)
	}
	defer func() { _ = rows.Close() }()

	articles := make([]*entity.Article, 0, 50)
	for rows.Next() {
		a, err := scanArticleRows(rows)
		if err != nil {
			return nil, fmt.Errorf("SearchWithFilters: Scan: %w", err)
		}
		articles = append(articles, a)
	}
	return articles, rows.Err()
}

func (repo *ArticleRepo) Create(ctx context.Context, a *entity.Article) error {
	if err := a.Validate(); err != nil {
		return fmt.Errorf("Create: %w", err)
	}

	const query = `
INSERT INTO articles (
	source_id, title, raw_content, cleaned_text, host, origin, url,
	published_at, published_at_flagged, analyzed_at,
	flesch_reading_ease, flesch_kincaid_grade, word_count, sentence_count,
	summary, summary_status, summary_model, prompt_version, summary_error, summary_updated,
	content_embedding, content_embed_model, content_embed_update,
	summary_embedding, summary_embed_model, summary_embed_update,
	created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,NOW())
RETURNING id, created_at`

	row := repo.db.QueryRowContext(ctx, query,
		a.SourceID, a.Title, a.RawContent, a.CleanedText, a.Host, a.Origin, a.URL,
		a.PublishedAt, a.PublishedAtFlagged, a.AnalyzedAt,
		a.Readability.FleschReadingEase, a.Readability.FleschKincaidGrade,
		a.Readability.WordCount, a.Readability.SentenceCount,
		a.Summary, string(a.SummaryStatus), a.SummaryModel, a.PromptVersion, a.SummaryError, a.SummaryUpdated,
		newPgvectorArg(a.ContentEmbedding), a.ContentEmbedModel, a.ContentEmbedUpdate,
		newPgvectorArg(a.SummaryEmbedding), a.SummaryEmbedModel, a.SummaryEmbedUpdate,
	)
	if err := row.Scan(&a.ID, &a.CreatedAt); err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (repo *ArticleRepo) Update(ctx context.Context, a *entity.Article) error {
	if err := a.Validate(); err != nil {
		return fmt.Errorf("Update: %w", err)
	}

	const query = `
UPDATE articles SET
	source_id = $1, title = $2, raw_content = $3, cleaned_text = $4, host = $5, origin = $6, url = $7,
	published_at = $8, published_at_flagged = $9, analyzed_at = $10,
	flesch_reading_ease = $11, flesch_kincaid_grade = $12, word_count = $13, sentence_count = $14,
	summary = $15, summary_status = $16, summary_model = $17, prompt_version = $18, summary_error = $19, summary_updated = $20,
	content_embedding = $21, content_embed_model = $22, content_embed_update = $23,
	summary_embedding = $24, summary_embed_model = $25, summary_embed_update = $26
WHERE id = $27`

	res, err := repo.db.ExecContext(ctx, query,
		a.SourceID, a.Title, a.RawContent, a.CleanedText, a.Host, a.Origin, a.URL,
		a.PublishedAt, a.PublishedAtFlagged, a.AnalyzedAt,
		a.Readability.FleschReadingEase, a.Readability.FleschKincaidGrade,
		a.Readability.WordCount, a.Readability.SentenceCount,
		a.Summary, string(a.SummaryStatus), a.SummaryModel, a.PromptVersion, a.SummaryError, a.SummaryUpdated,
		newPgvectorArg(a.ContentEmbedding), a.ContentEmbedModel, a.ContentEmbedUpdate,
		newPgvectorArg(a.SummaryEmbedding), a.SummaryEmbedModel, a.SummaryEmbedUpdate,
		a.ID,
	)
	if err != nil {
		return fmt.Errorf("Update: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("Update: %w", entity.ErrNotFound)
	}
	return nil
}

func (repo *ArticleRepo) Delete(ctx context.Context, id int64) error {
	const query = `DELETE FROM articles WHERE id = $1`
	res, err := repo.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("Delete: %w", entity.ErrNotFound)
	}
	return nil
}

func (repo *ArticleRepo) ExistsByURL(ctx context.Context, url string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM articles WHERE url = $1)`
	var existsFlag bool
	if err := repo.db.QueryRowContext(ctx, query, url).Scan(&existsFlag); err != nil {
		return false, fmt.Errorf("ExistsByURL: %w", err)
	}
	return existsFlag, nil
}

// ExistsByURLBatch はバッチでURL存在チェックを行い、N+1問題を解消する
func (repo *ArticleRepo) ExistsByURLBatch(ctx context.Context, urls []string) (map[string]bool, error) {
	if len(urls) == 0 {
		return make(map[string]bool), nil
	}

	// pgx's database/sql driver accepts a native Go []string for ANY($1)
	// array parameters; no pq.Array-style wrapper is needed.
	const query = `SELECT url FROM articles WHERE url = ANY($1)`
	rows, err := repo.db.QueryContext(ctx, query, urls)
	if err != nil {
		return nil, fmt.Errorf("ExistsByURLBatch: QueryContext: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := make(map[string]bool)
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, fmt.Errorf("ExistsByURLBatch: Scan: %w", err)
		}
		result[url] = true
	}
	return result, rows.Err()
}

func (repo *ArticleRepo) ListMissingContentEmbedding(ctx context.Context, limit int) ([]*entity.Article, error) {
	query := fmt.Sprintf(`
SELECT %s FROM articles
WHERE content_embedding IS NULL
ORDER BY created_at ASC
LIMIT $1`, articleColumns)
	return repo.queryArticles(ctx, "ListMissingContentEmbedding", query, limit)
}

func (repo *ArticleRepo) ListMissingSummaryEmbedding(ctx context.Context, limit int) ([]*entity.Article, error) {
	query := fmt.Sprintf(`
SELECT %s FROM articles
WHERE summary_status = 'completed' AND summary_embedding IS NULL
ORDER BY summary_updated ASC
LIMIT $1`, articleColumns)
	return repo.queryArticles(ctx, "ListMissingSummaryEmbedding", query, limit)
}

func (repo *ArticleRepo) ListForDailyTopicWindow(ctx context.Context, since time.Time, limit int) ([]*entity.Article, error) {
	query := fmt.Sprintf(`
SELECT %s FROM articles
WHERE published_at >= $1
  AND summary_status = 'completed'
  AND summary_embedding IS NOT NULL
ORDER BY published_at DESC
LIMIT $2`, articleColumns)

	rows, err := repo.db.QueryContext(ctx, query, since, limit)
	if err != nil {
		return nil, fmt.Errorf("ListForDailyTopicWindow: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return collectArticles(rows, "ListForDailyTopicWindow")
}

func (repo *ArticleRepo) queryArticles(ctx context.Context, op, query string, limit int) ([]*entity.Article, error) {
	rows, err := repo.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = rows.Close() }()
	return collectArticles(rows, op)
}

func collectArticles(rows *sql.Rows, op string) ([]*entity.Article, error) {
	articles := make([]*entity.Article, 0, 50)
	for rows.Next() {
		a, err := scanArticleRows(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: Scan: %w", op, err)
		}
		articles = append(articles, a)
	}
	return articles, rows.Err()
}

func prefixColumns(alias, cols string) string {
	// articleColumns is a flat, unqualified column list; queries that join
	// against other tables prefix every column with the articles alias.
	out := ""
	for i, c := range splitColumns(cols) {
		if i > 0 {
			out += ", "
		}
		out += alias + "." + c
	}
	return out
}

func splitColumns(cols string) []string {
	var result []string
	cur := ""
	for _, r := range cols {
		switch r {
		case ',', '\n', '\t', ' ':
			if cur != "" {
				result = append(result, cur)
				cur = ""
			}
		default:
			cur += string(r)
		}
	}
	if cur != "" {
		result = append(result, cur)
	}
	return result
}
