package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"NewsRAG/internal/domain"
	"NewsRAG/internal/ports"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

// sqliteTimeLayout has a fixed width so that text comparison orders timestamps.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteRepository is a single-file store for local runs and tests. Vector
// search is an exact cosine scan over stored blobs.
type SQLiteRepository struct {
	db   *sql.DB
	sb   sq.StatementBuilderType
	dims int
	now  func() time.Time
}

var _ ports.Store = (*SQLiteRepository)(nil)

// OpenSQLite opens (or creates) the database at dsn. Use ":memory:" for tests.
func OpenSQLite(ctx context.Context, dsn string, dims int) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps in-memory databases alive and serialises writers.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	return &SQLiteRepository{
		db:   db,
		sb:   sq.StatementBuilder.PlaceholderFormat(sq.Question),
		dims: dims,
		now:  time.Now,
	}, nil
}

// Migrate applies the embedded schema statement by statement.
func (r *SQLiteRepository) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(sqliteSchema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply sqlite schema: %w", err)
		}
	}
	return nil
}

// Close closes the database handle.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

func (r *SQLiteRepository) LatestPublishedAt(ctx context.Context) (time.Time, bool, error) {
	var latest sql.NullString
	if err := r.db.QueryRowContext(ctx, `SELECT MAX(published_at) FROM articles`).Scan(&latest); err != nil {
		return time.Time{}, false, fmt.Errorf("query latest published: %w", err)
	}
	if !latest.Valid || latest.String == "" {
		return time.Time{}, false, nil
	}
	t, err := parseSQLiteTime(latest.String)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

func (r *SQLiteRepository) KnownProviderIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	result := make(map[string]bool)
	if len(ids) == 0 {
		return result, nil
	}

	query, args, err := r.sb.Select("provider_id").From("articles").Where(sq.Eq{"provider_id": ids}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build known ids: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
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
	return result, rows.Err()
}

func (r *SQLiteRepository) InsertArticles(ctx context.Context, articles []domain.Article) (int, error) {
	if len(articles) == 0 {
		return 0, nil
	}

	stamp := formatSQLiteTime(r.now())
	cols := append(append([]string{}, articleInsertColumns...), "created_at", "updated_at")
	inserted := 0
	// SQLite caps bound parameters, so rows go in modest chunks.
	for _, chunk := range chunkRows(articles, 50) {
		q := r.sb.Insert("articles").Columns(cols...)
		for _, a := range chunk {
			tags, contributors, err := marshalRefs(a)
			if err != nil {
				return inserted, err
			}
			q = q.Values(
				a.ProviderID, a.SectionID, a.SectionName, a.WebTitle, a.WebURL, a.APIURL,
				a.Headline, a.TrailText, a.BodyText, a.Thumbnail, formatSQLiteTime(a.PublishedAt),
				nullableSQLiteTime(a.LastModified), tags, contributors, stamp, stamp,
			)
		}
		query, args, err := q.Suffix("ON CONFLICT (provider_id) DO NOTHING").ToSql()
		if err != nil {
			return inserted, fmt.Errorf("build insert: %w", err)
		}
		res, err := r.db.ExecContext(ctx, query, args...)
		if err != nil {
			return inserted, fmt.Errorf("insert articles: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return inserted, fmt.Errorf("insert articles: %w", err)
		}
		inserted += int(n)
	}
	return inserted, nil
}

func (r *SQLiteRepository) Article(ctx context.Context, id int64) (domain.Article, error) {
	articles, err := r.queryArticles(ctx, r.articleSelect().Where(sq.Eq{"id": id}))
	if err != nil {
		return domain.Article{}, err
	}
	if len(articles) == 0 {
		return domain.Article{}, fmt.Errorf("article %d: %w", id, domain.ErrNotFound)
	}
	return articles[0], nil
}

func (r *SQLiteRepository) ArticlesByIDs(ctx context.Context, ids []int64) (map[int64]domain.Article, error) {
	result := make(map[int64]domain.Article, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	articles, err := r.queryArticles(ctx, r.articleSelect().Where(sq.Eq{"id": uniqueIDs(ids)}))
	if err != nil {
		return nil, err
	}
	for _, a := range articles {
		result[a.ID] = a
	}
	return result, nil
}

func (r *SQLiteRepository) ArticlesWithoutEmbedding(ctx context.Context, limit int) ([]domain.Article, error) {
	return r.queryArticles(ctx, withLimit(r.articleSelect().
		Where("embedding IS NULL").
		OrderBy("published_at DESC", "id DESC"), limit))
}

func (r *SQLiteRepository) ArticlesWithoutPassages(ctx context.Context, limit int) ([]domain.Article, error) {
	return r.queryArticles(ctx, withLimit(r.articleSelect().
		Where("NOT EXISTS (SELECT 1 FROM passages p WHERE p.article_id = articles.id)").
		OrderBy("published_at DESC", "id DESC"), limit))
}

func (r *SQLiteRepository) RecentArticles(ctx context.Context, limit int) ([]domain.Article, error) {
	return r.queryArticles(ctx, withLimit(r.articleSelect().OrderBy("published_at DESC", "id DESC"), limit))
}

func (r *SQLiteRepository) UpdateArticleEmbeddings(ctx context.Context, vectors map[int64][]float32) error {
	if len(vectors) == 0 {
		return nil
	}
	for id, v := range vectors {
		if err := checkDimensions(v, r.dims); err != nil {
			return fmt.Errorf("article %d: %w", id, err)
		}
	}

	stamp := formatSQLiteTime(r.now())
	return r.inTx(ctx, func(tx *sql.Tx) error {
		for id, v := range vectors {
			query, args, err := r.sb.Update("articles").
				Set("embedding", encodeBlob(v)).
				Set("updated_at", stamp).
				Where(sq.Eq{"id": id}).
				ToSql()
			if err != nil {
				return fmt.Errorf("build update: %w", err)
			}
			res, err := tx.ExecContext(ctx, query, args...)
			if err != nil {
				return fmt.Errorf("update embedding of article %d: %w", id, err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return fmt.Errorf("update embedding of article %d: %w", id, domain.ErrNotFound)
			}
		}
		return nil
	})
}

func (r *SQLiteRepository) ReplacePassages(ctx context.Context, articleIDs []int64, passages []domain.Passage) error {
	articleIDs = uniqueIDs(articleIDs)
	if len(articleIDs) == 0 {
		return nil
	}
	if err := validatePassages(articleIDs, passages, r.dims); err != nil {
		return err
	}

	return r.inTx(ctx, func(tx *sql.Tx) error {
		query, args, err := r.sb.Delete("passages").Where(sq.Eq{"article_id": articleIDs}).ToSql()
		if err != nil {
			return fmt.Errorf("build passage delete: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("delete passages: %w", err)
		}

		for _, chunk := range chunkRows(passages, 100) {
			q := r.sb.Insert("passages").Columns("id", "article_id", "chunk_index", "text", "embedding")
			for _, p := range chunk {
				id := p.ID
				if id == "" {
					id = uuid.NewString()
				}
				q = q.Values(id, p.ArticleID, p.Index, p.Text, encodeBlob(p.Embedding))
			}
			query, args, err := q.ToSql()
			if err != nil {
				return fmt.Errorf("build passage insert: %w", err)
			}
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("insert passages: %w", err)
			}
		}
		return nil
	})
}

func (r *SQLiteRepository) UpsertSections(ctx context.Context, sections []domain.Section) (int, error) {
	if len(sections) == 0 {
		return 0, nil
	}

	stamp := formatSQLiteTime(r.now())
	created := 0
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		for _, s := range sections {
			var exists int
			err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM sections WHERE section_id = ?`, s.SectionID).Scan(&exists)
			if err != nil {
				return fmt.Errorf("check section %s: %w", s.SectionID, err)
			}

			query, args, err := r.sb.Insert("sections").
				Columns("section_id", "web_title", "web_url", "api_url", "updated_at").
				Values(s.SectionID, s.WebTitle, s.WebURL, s.APIURL, stamp).
				Suffix(`ON CONFLICT (section_id) DO UPDATE SET
					web_title = excluded.web_title,
					web_url = excluded.web_url,
					api_url = excluded.api_url,
					updated_at = excluded.updated_at`).
				ToSql()
			if err != nil {
				return fmt.Errorf("build section upsert: %w", err)
			}
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("upsert section %s: %w", s.SectionID, err)
			}
			if exists == 0 {
				created++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return created, nil
}

func (r *SQLiteRepository) Sections(ctx context.Context) ([]domain.Section, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT section_id, web_title, web_url, api_url FROM sections ORDER BY section_id`)
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

// SearchPassages scores every stored passage; candidates is irrelevant for an exact scan.
func (r *SQLiteRepository) SearchPassages(ctx context.Context, vector []float32, limit, _ int) ([]domain.PassageHit, error) {
	if err := checkDimensions(vector, r.dims); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}

	rows, err := r.db.QueryContext(ctx, `SELECT id, article_id, chunk_index, text, embedding FROM passages`)
	if err != nil {
		return nil, fmt.Errorf("search passages: %w", err)
	}
	defer rows.Close()

	var hits []domain.PassageHit
	for rows.Next() {
		var (
			h    domain.PassageHit
			blob []byte
		)
		if err := rows.Scan(&h.PassageID, &h.ArticleID, &h.Index, &h.Text, &blob); err != nil {
			return nil, fmt.Errorf("scan passage: %w", err)
		}
		v, err := decodeBlob(blob)
		if err != nil {
			return nil, fmt.Errorf("passage %s: %w", h.PassageID, err)
		}
		h.Score = cosine(vector, v)
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search passages: %w", err)
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (r *SQLiteRepository) SearchArticles(ctx context.Context, vector []float32, limit, _ int, exclude int64) ([]domain.ArticleHit, error) {
	if err := checkDimensions(vector, r.dims); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}

	q := r.sb.Select("id", "embedding").From("articles").Where("embedding IS NOT NULL")
	if exclude > 0 {
		q = q.Where(sq.NotEq{"id": exclude})
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build article search: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search articles: %w", err)
	}
	defer rows.Close()

	var hits []domain.ArticleHit
	for rows.Next() {
		var (
			h    domain.ArticleHit
			blob []byte
		)
		if err := rows.Scan(&h.ArticleID, &blob); err != nil {
			return nil, fmt.Errorf("scan article vector: %w", err)
		}
		v, err := decodeBlob(blob)
		if err != nil {
			return nil, fmt.Errorf("article %d: %w", h.ArticleID, err)
		}
		h.Score = cosine(vector, v)
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search articles: %w", err)
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (r *SQLiteRepository) articleSelect() sq.SelectBuilder {
	cols := append(append([]string{}, articleColumns...), "embedding", "tags", "contributors", "created_at", "updated_at")
	return r.sb.Select(cols...).From("articles")
}

func (r *SQLiteRepository) queryArticles(ctx context.Context, q sq.SelectBuilder) ([]domain.Article, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query articles: %w", err)
	}
	defer rows.Close()

	var out []domain.Article
	for rows.Next() {
		var (
			a                           domain.Article
			published, created, updated string
			lastModified                sql.NullString
			blob                        []byte
			tags, contributors          string
		)
		err := rows.Scan(
			&a.ID, &a.ProviderID, &a.SectionID, &a.SectionName, &a.WebTitle, &a.WebURL, &a.APIURL,
			&a.Headline, &a.TrailText, &a.BodyText, &a.Thumbnail, &published, &lastModified,
			&blob, &tags, &contributors, &created, &updated,
		)
		if err != nil {
			return nil, fmt.Errorf("scan article: %w", err)
		}
		if a.PublishedAt, err = parseSQLiteTime(published); err != nil {
			return nil, err
		}
		if lastModified.Valid && lastModified.String != "" {
			if a.LastModified, err = parseSQLiteTime(lastModified.String); err != nil {
				return nil, err
			}
		}
		if a.CreatedAt, err = parseSQLiteTime(created); err != nil {
			return nil, err
		}
		if a.UpdatedAt, err = parseSQLiteTime(updated); err != nil {
			return nil, err
		}
		if len(blob) > 0 {
			if a.Embedding, err = decodeBlob(blob); err != nil {
				return nil, fmt.Errorf("article %d: %w", a.ID, err)
			}
		}
		if err := unmarshalRefs(&a, tags, contributors); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}

func (r *SQLiteRepository) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func nullableSQLiteTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatSQLiteTime(t)
}

func parseSQLiteTime(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTimeLayout, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339Nano, s)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: stored timestamp %q: %v", domain.ErrConsistency, s, err)
	}
	return t.UTC(), nil
}
