package storage

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"NewsRAG/internal/domain"
	"NewsRAG/internal/ports"
)

//go:embed schema_postgres.sql
var postgresSchema string

// maxEfSearch is the largest hnsw.ef_search pgvector accepts.
const maxEfSearch = 1000

// PostgresRepository persists articles, passages and sections into Postgres
// with pgvector columns for similarity search.
type PostgresRepository struct {
	pool *pgxpool.Pool
	sb   sq.StatementBuilderType
	dims int
}

var _ ports.Store = (*PostgresRepository)(nil)

// OpenPostgres connects a pool and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string, dims int) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewPostgresRepository(pool, dims), nil
}

// NewPostgresRepository wires an existing pool.
func NewPostgresRepository(pool *pgxpool.Pool, dims int) *PostgresRepository {
	return &PostgresRepository{
		pool: pool,
		sb:   sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		dims: dims,
	}
}

// Migrate applies the embedded schema. Statements are idempotent.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	if r.dims <= 0 {
		return fmt.Errorf("%w: embedding dimensions must be positive", domain.ErrValidation)
	}
	schema := strings.ReplaceAll(postgresSchema, "{{dimensions}}", strconv.Itoa(r.dims))
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply postgres schema: %w", err)
	}
	return nil
}

// Close releases the pool.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// LatestPublishedAt returns the newest stored publication time.
func (r *PostgresRepository) LatestPublishedAt(ctx context.Context) (time.Time, bool, error) {
	var latest *time.Time
	if err := r.pool.QueryRow(ctx, `SELECT MAX(published_at) FROM articles`).Scan(&latest); err != nil {
		return time.Time{}, false, fmt.Errorf("query latest published: %w", err)
	}
	if latest == nil {
		return time.Time{}, false, nil
	}
	return latest.UTC(), true, nil
}

// KnownProviderIDs returns a set with ids that already exist in storage.
func (r *PostgresRepository) KnownProviderIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	result := make(map[string]bool)
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := r.pool.Query(ctx, `SELECT provider_id FROM articles WHERE provider_id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("query known ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		result[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return result, nil
}

// InsertArticles bulk inserts articles, ignoring provider ids that already
// exist, and returns the number of rows actually inserted.
func (r *PostgresRepository) InsertArticles(ctx context.Context, articles []domain.Article) (int, error) {
	if len(articles) == 0 {
		return 0, nil
	}

	inserted := 0
	for _, chunk := range chunkRows(articles, maxInsertRows) {
		q := r.sb.Insert("articles").Columns(articleInsertColumns...)
		for _, a := range chunk {
			tags, contributors, err := marshalRefs(a)
			if err != nil {
				return inserted, err
			}
			q = q.Values(
				a.ProviderID, a.SectionID, a.SectionName, a.WebTitle, a.WebURL, a.APIURL,
				a.Headline, a.TrailText, a.BodyText, a.Thumbnail, a.PublishedAt.UTC(), nullableTime(a.LastModified),
				sq.Expr("?::jsonb", tags), sq.Expr("?::jsonb", contributors),
			)
		}
		sql, args, err := q.Suffix("ON CONFLICT (provider_id) DO NOTHING").ToSql()
		if err != nil {
			return inserted, fmt.Errorf("build insert: %w", err)
		}
		tag, err := r.pool.Exec(ctx, sql, args...)
		if err != nil {
			return inserted, fmt.Errorf("insert articles: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

// Article loads a single article by primary key.
func (r *PostgresRepository) Article(ctx context.Context, id int64) (domain.Article, error) {
	sql, args, err := r.articleSelect().Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return domain.Article{}, fmt.Errorf("build select: %w", err)
	}
	article, err := scanPostgresArticle(r.pool.QueryRow(ctx, sql, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Article{}, fmt.Errorf("article %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Article{}, err
	}
	return article, nil
}

// ArticlesByIDs hydrates many articles in one query; missing ids are absent from the map.
func (r *PostgresRepository) ArticlesByIDs(ctx context.Context, ids []int64) (map[int64]domain.Article, error) {
	result := make(map[int64]domain.Article, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	articles, err := r.queryArticles(ctx, r.articleSelect().Where("id = ANY(?)", uniqueIDs(ids)))
	if err != nil {
		return nil, err
	}
	for _, a := range articles {
		result[a.ID] = a
	}
	return result, nil
}

// ArticlesWithoutEmbedding lists articles with no whole-article vector, newest first.
func (r *PostgresRepository) ArticlesWithoutEmbedding(ctx context.Context, limit int) ([]domain.Article, error) {
	return r.queryArticles(ctx, withLimit(r.articleSelect().
		Where("embedding IS NULL").
		OrderBy("published_at DESC", "id DESC"), limit))
}

// ArticlesWithoutPassages lists articles that have never been split and embedded, newest first.
func (r *PostgresRepository) ArticlesWithoutPassages(ctx context.Context, limit int) ([]domain.Article, error) {
	return r.queryArticles(ctx, withLimit(r.articleSelect().
		Where("NOT EXISTS (SELECT 1 FROM passages p WHERE p.article_id = articles.id)").
		OrderBy("published_at DESC", "id DESC"), limit))
}

// RecentArticles lists the newest articles; limit <= 0 means all.
func (r *PostgresRepository) RecentArticles(ctx context.Context, limit int) ([]domain.Article, error) {
	return r.queryArticles(ctx, withLimit(r.articleSelect().OrderBy("published_at DESC", "id DESC"), limit))
}

// UpdateArticleEmbeddings writes whole-article vectors for a batch in one transaction.
func (r *PostgresRepository) UpdateArticleEmbeddings(ctx context.Context, vectors map[int64][]float32) error {
	if len(vectors) == 0 {
		return nil
	}
	for id, v := range vectors {
		if err := checkDimensions(v, r.dims); err != nil {
			return fmt.Errorf("article %d: %w", id, err)
		}
	}

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		ids := make([]int64, 0, len(vectors))
		for id, v := range vectors {
			sql, args, err := r.sb.Update("articles").
				Set("embedding", sq.Expr("?::text::vector", vectorLiteral(v))).
				Set("updated_at", sq.Expr("NOW()")).
				Where(sq.Eq{"id": id}).
				ToSql()
			if err != nil {
				return fmt.Errorf("build update: %w", err)
			}
			batch.Queue(sql, args...)
			ids = append(ids, id)
		}

		br := tx.SendBatch(ctx, batch)
		for _, id := range ids {
			tag, err := br.Exec()
			if err != nil {
				_ = br.Close()
				return fmt.Errorf("update embedding of article %d: %w", id, err)
			}
			if tag.RowsAffected() == 0 {
				_ = br.Close()
				return fmt.Errorf("update embedding of article %d: %w", id, domain.ErrNotFound)
			}
		}
		return br.Close()
	})
}

// ReplacePassages deletes every passage of the batch articles and inserts the
// new generation in one transaction.
func (r *PostgresRepository) ReplacePassages(ctx context.Context, articleIDs []int64, passages []domain.Passage) error {
	articleIDs = uniqueIDs(articleIDs)
	if len(articleIDs) == 0 {
		return nil
	}
	if err := validatePassages(articleIDs, passages, r.dims); err != nil {
		return err
	}

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM passages WHERE article_id = ANY($1)`, articleIDs); err != nil {
			return fmt.Errorf("delete passages: %w", err)
		}

		for _, chunk := range chunkRows(passages, maxInsertRows) {
			q := r.sb.Insert("passages").Columns("id", "article_id", "chunk_index", "text", "embedding")
			for _, p := range chunk {
				id := p.ID
				if id == "" {
					id = uuid.NewString()
				}
				q = q.Values(id, p.ArticleID, p.Index, p.Text, sq.Expr("?::text::vector", vectorLiteral(p.Embedding)))
			}
			sql, args, err := q.ToSql()
			if err != nil {
				return fmt.Errorf("build passage insert: %w", err)
			}
			if _, err := tx.Exec(ctx, sql, args...); err != nil {
				return fmt.Errorf("insert passages: %w", err)
			}
		}
		return nil
	})
}

// UpsertSections inserts or refreshes sections and reports how many were new.
func (r *PostgresRepository) UpsertSections(ctx context.Context, sections []domain.Section) (int, error) {
	if len(sections) == 0 {
		return 0, nil
	}

	q := r.sb.Insert("sections").Columns("section_id", "web_title", "web_url", "api_url")
	for _, s := range sections {
		q = q.Values(s.SectionID, s.WebTitle, s.WebURL, s.APIURL)
	}
	sql, args, err := q.Suffix(`ON CONFLICT (section_id) DO UPDATE
		SET web_title = EXCLUDED.web_title,
		    web_url = EXCLUDED.web_url,
		    api_url = EXCLUDED.api_url,
		    updated_at = NOW()
		RETURNING (xmax = 0)`).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build section upsert: %w", err)
	}

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("upsert sections: %w", err)
	}
	defer rows.Close()

	created := 0
	for rows.Next() {
		var inserted bool
		if err := rows.Scan(&inserted); err != nil {
			return 0, fmt.Errorf("scan upsert result: %w", err)
		}
		if inserted {
			created++
		}
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("upsert sections: %w", err)
	}
	return created, nil
}

// Sections lists stored sections ordered by id.
func (r *PostgresRepository) Sections(ctx context.Context) ([]domain.Section, error) {
	rows, err := r.pool.Query(ctx, `SELECT section_id, web_title, web_url, api_url FROM sections ORDER BY section_id`)
	if err != nil {
		return nil, fmt.Errorf("query sections: %w", err)
	}
	defer rows.Close()

	var out []domain.Section
	for rows.Next() {
		var s domain.Section
		if err := rows.Scan(&s.SectionID, &s.WebTitle, &s.WebURL, &s.APIURL); err != nil {
			return nil, fmt.Errorf("scan section: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// SearchPassages runs an HNSW cosine search over passage vectors. candidates
// sizes the ef_search pool so that limit results survive the approximate scan.
func (r *PostgresRepository) SearchPassages(ctx context.Context, vector []float32, limit, candidates int) ([]domain.PassageHit, error) {
	if err := checkDimensions(vector, r.dims); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}
	literal := vectorLiteral(vector)

	sql, args, err := r.sb.Select("id::text", "article_id", "chunk_index", "text").
		Column(sq.Expr("1 - (embedding <=> ?::text::vector)", literal)).
		From("passages").
		OrderByClause("embedding <=> ?::text::vector", literal).
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build passage search: %w", err)
	}

	var hits []domain.PassageHit
	err = r.withCandidatePool(ctx, max(candidates, limit), func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, sql, args...)
		if err != nil {
			return fmt.Errorf("search passages: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var h domain.PassageHit
			if err := rows.Scan(&h.PassageID, &h.ArticleID, &h.Index, &h.Text, &h.Score); err != nil {
				return fmt.Errorf("scan passage hit: %w", err)
			}
			hits = append(hits, h)
		}
		return rows.Err()
	})
	return hits, err
}

// SearchArticles runs an HNSW cosine search over article vectors, skipping exclude when positive.
func (r *PostgresRepository) SearchArticles(ctx context.Context, vector []float32, limit, candidates int, exclude int64) ([]domain.ArticleHit, error) {
	if err := checkDimensions(vector, r.dims); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}
	literal := vectorLiteral(vector)

	q := r.sb.Select("id").
		Column(sq.Expr("1 - (embedding <=> ?::text::vector)", literal)).
		From("articles").
		Where("embedding IS NOT NULL")
	if exclude > 0 {
		q = q.Where(sq.NotEq{"id": exclude})
	}
	sql, args, err := q.OrderByClause("embedding <=> ?::text::vector", literal).Limit(uint64(limit)).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build article search: %w", err)
	}

	var hits []domain.ArticleHit
	err = r.withCandidatePool(ctx, max(candidates, limit), func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, sql, args...)
		if err != nil {
			return fmt.Errorf("search articles: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var h domain.ArticleHit
			if err := rows.Scan(&h.ArticleID, &h.Score); err != nil {
				return fmt.Errorf("scan article hit: %w", err)
			}
			hits = append(hits, h)
		}
		return rows.Err()
	})
	return hits, err
}

func (r *PostgresRepository) withCandidatePool(ctx context.Context, candidates int, fn func(pgx.Tx) error) error {
	candidates = min(max(candidates, 1), maxEfSearch)
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SET LOCAL hnsw.ef_search = "+strconv.Itoa(candidates)); err != nil {
			return fmt.Errorf("set ef_search: %w", err)
		}
		return fn(tx)
	})
}

func (r *PostgresRepository) articleSelect() sq.SelectBuilder {
	cols := append(append([]string{}, articleColumns...), "embedding::text", "tags::text", "contributors::text", "created_at", "updated_at")
	return r.sb.Select(cols...).From("articles")
}

func (r *PostgresRepository) queryArticles(ctx context.Context, q sq.SelectBuilder) ([]domain.Article, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query articles: %w", err)
	}
	defer rows.Close()

	var out []domain.Article
	for rows.Next() {
		a, err := scanPostgresArticle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}

func scanPostgresArticle(row pgx.Row) (domain.Article, error) {
	var (
		a            domain.Article
		lastModified *time.Time
		embedding    *string
		tags         string
		contributors string
	)
	err := row.Scan(
		&a.ID, &a.ProviderID, &a.SectionID, &a.SectionName, &a.WebTitle, &a.WebURL, &a.APIURL,
		&a.Headline, &a.TrailText, &a.BodyText, &a.Thumbnail, &a.PublishedAt, &lastModified,
		&embedding, &tags, &contributors, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Article{}, err
		}
		return domain.Article{}, fmt.Errorf("scan article: %w", err)
	}

	a.PublishedAt = a.PublishedAt.UTC()
	if lastModified != nil {
		a.LastModified = lastModified.UTC()
	}
	if embedding != nil {
		if a.Embedding, err = parseVectorLiteral(*embedding); err != nil {
			return domain.Article{}, fmt.Errorf("article %d: %w", a.ID, err)
		}
	}
	if err := unmarshalRefs(&a, tags, contributors); err != nil {
		return domain.Article{}, err
	}
	return a, nil
}

func withLimit(q sq.SelectBuilder, limit int) sq.SelectBuilder {
	if limit > 0 {
		return q.Limit(uint64(limit))
	}
	return q
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
