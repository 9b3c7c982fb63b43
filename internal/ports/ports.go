package ports

import (
	"context"
	"time"

	"NewsRAG/internal/domain"
)

// ContentProvider pulls pages of articles and the section taxonomy from the
// upstream content API. Implementations never retry.
type ContentProvider interface {
	FetchPage(ctx context.Context, req domain.PageRequest) (domain.Page, error)
	FetchSections(ctx context.Context) ([]domain.Section, error)
}

// ArticleRepository persists articles for deduplication, hydration and embedding.
type ArticleRepository interface {
	LatestPublishedAt(ctx context.Context) (time.Time, bool, error)
	KnownProviderIDs(ctx context.Context, ids []string) (map[string]bool, error)
	InsertArticles(ctx context.Context, articles []domain.Article) (int, error)
	Article(ctx context.Context, id int64) (domain.Article, error)
	ArticlesByIDs(ctx context.Context, ids []int64) (map[int64]domain.Article, error)
	ArticlesWithoutEmbedding(ctx context.Context, limit int) ([]domain.Article, error)
	ArticlesWithoutPassages(ctx context.Context, limit int) ([]domain.Article, error)
	RecentArticles(ctx context.Context, limit int) ([]domain.Article, error)
	UpdateArticleEmbeddings(ctx context.Context, vectors map[int64][]float32) error
}

// PassageRepository replaces passage generations atomically per batch.
type PassageRepository interface {
	ReplacePassages(ctx context.Context, articleIDs []int64, passages []domain.Passage) error
}

// SectionRepository stores the provider taxonomy.
type SectionRepository interface {
	UpsertSections(ctx context.Context, sections []domain.Section) (created int, err error)
	Sections(ctx context.Context) ([]domain.Section, error)
}

// VectorIndex runs similarity search over stored vectors. Results are
// ordered by descending score; candidates is the oversampled pool size.
type VectorIndex interface {
	SearchPassages(ctx context.Context, vector []float32, limit, candidates int) ([]domain.PassageHit, error)
	SearchArticles(ctx context.Context, vector []float32, limit, candidates int, exclude int64) ([]domain.ArticleHit, error)
}

// Store is the full capability set of a persistence backend.
type Store interface {
	ArticleRepository
	PassageRepository
	SectionRepository
	VectorIndex
	Migrate(ctx context.Context) error
	Close() error
}

// Embedder turns texts into vectors positionally: same length, same order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// LanguageModel sends a system + user prompt and returns the raw completion.
type LanguageModel interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// TokenCounter measures text length in model tokens.
type TokenCounter interface {
	Count(text string) int
}

// Scheduler controls when recurring jobs execute.
type Scheduler interface {
	Start(ctx context.Context, job func(context.Context, time.Time)) error
	Stop(ctx context.Context) error
}
