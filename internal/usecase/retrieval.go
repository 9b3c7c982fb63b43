package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"NewsRAG/internal/domain"
	"NewsRAG/internal/ports"
)

// RetrieverDeps wires the retrieval engine.
type RetrieverDeps struct {
	Embedder ports.Embedder
	Index    ports.VectorIndex
	Articles ports.ArticleRepository
	// SearchLimit is the minimum number of passages requested for article search.
	SearchLimit       int
	SearchCandidates  int
	PassageCandidates int
	SimilarCandidates int
	// Timeout bounds each store call; EmbedTimeout bounds the query embedding.
	Timeout      time.Duration
	EmbedTimeout time.Duration
	Logger       *slog.Logger
}

// Retriever answers similarity queries over passages and whole articles.
type Retriever struct {
	embedder          ports.Embedder
	index             ports.VectorIndex
	articles          ports.ArticleRepository
	searchLimit       int
	searchCandidates  int
	passageCandidates int
	similarCandidates int
	timeout           time.Duration
	embedTimeout      time.Duration
	logger            *slog.Logger
}

// NewRetriever constructs the retrieval engine.
func NewRetriever(deps RetrieverDeps) *Retriever {
	r := &Retriever{
		embedder:          deps.Embedder,
		index:             deps.Index,
		articles:          deps.Articles,
		searchLimit:       deps.SearchLimit,
		searchCandidates:  deps.SearchCandidates,
		passageCandidates: deps.PassageCandidates,
		similarCandidates: deps.SimilarCandidates,
		timeout:           deps.Timeout,
		embedTimeout:      deps.EmbedTimeout,
		logger:            deps.Logger,
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// SearchArticles ranks articles by their best matching passage.
func (r *Retriever) SearchArticles(ctx context.Context, query string, k int) ([]domain.RankedArticle, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive", domain.ErrValidation)
	}
	vector, err := r.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	limit := max(k, r.searchLimit)
	hits, err := callWithTimeout(ctx, r.timeout, func(ctx context.Context) ([]domain.PassageHit, error) {
		return r.index.SearchPassages(ctx, vector, limit, max(r.searchCandidates, limit))
	})
	if err != nil {
		return nil, fmt.Errorf("search passages: %w", err)
	}

	best := DedupByArticle(hits)
	if len(best) > k {
		best = best[:k]
	}

	ranked := make([]rankedID, len(best))
	for i, h := range best {
		ranked[i] = rankedID{articleID: h.ArticleID, score: h.Score, passageID: h.PassageID}
	}
	return r.hydrate(ctx, ranked)
}

// SimilarArticles ranks articles by whole-article similarity to a seed article,
// which never appears in its own results.
func (r *Retriever) SimilarArticles(ctx context.Context, articleID int64, k int) ([]domain.RankedArticle, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive", domain.ErrValidation)
	}

	seed, err := callWithTimeout(ctx, r.timeout, func(ctx context.Context) (domain.Article, error) {
		return r.articles.Article(ctx, articleID)
	})
	if err != nil {
		return nil, fmt.Errorf("load seed article: %w", err)
	}
	if !seed.HasEmbedding() {
		return nil, fmt.Errorf("%w: article %d has no embedding yet", domain.ErrValidation, articleID)
	}

	hits, err := callWithTimeout(ctx, r.timeout, func(ctx context.Context) ([]domain.ArticleHit, error) {
		return r.index.SearchArticles(ctx, seed.Embedding, k+1, max(r.similarCandidates, k+1), articleID)
	})
	if err != nil {
		return nil, fmt.Errorf("search articles: %w", err)
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	ranked := make([]rankedID, 0, k)
	for _, h := range hits {
		if h.ArticleID == articleID {
			continue
		}
		ranked = append(ranked, rankedID{articleID: h.ArticleID, score: h.Score})
		if len(ranked) == k {
			break
		}
	}
	return r.hydrate(ctx, ranked)
}

// Passages returns the top-k passages for query without per-article
// deduplication, each with its source article title and URL.
func (r *Retriever) Passages(ctx context.Context, query string, k int) ([]domain.SupportingPassage, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive", domain.ErrValidation)
	}
	vector, err := r.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	hits, err := callWithTimeout(ctx, r.timeout, func(ctx context.Context) ([]domain.PassageHit, error) {
		return r.index.SearchPassages(ctx, vector, k, max(r.passageCandidates, k))
	})
	if err != nil {
		return nil, fmt.Errorf("search passages: %w", err)
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}

	ids := make([]int64, len(hits))
	for i, h := range hits {
		ids[i] = h.ArticleID
	}
	articles, err := r.loadArticles(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]domain.SupportingPassage, 0, len(hits))
	for _, h := range hits {
		article, ok := articles[h.ArticleID]
		if !ok {
			r.logger.Warn("passage references a missing article", "passage_id", h.PassageID, "article_id", h.ArticleID)
			continue
		}
		out = append(out, domain.SupportingPassage{Hit: h, ArticleTitle: article.WebTitle, ArticleURL: article.WebURL})
	}
	return out, nil
}

// DedupByArticle keeps the highest-scoring passage of each article. Input
// order is not trusted: hits are stable-sorted by descending score first, so
// equal scores keep their arrival order.
func DedupByArticle(hits []domain.PassageHit) []domain.PassageHit {
	sorted := make([]domain.PassageHit, len(hits))
	copy(sorted, hits)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	seen := make(map[int64]struct{}, len(sorted))
	out := make([]domain.PassageHit, 0, len(sorted))
	for _, h := range sorted {
		if _, ok := seen[h.ArticleID]; ok {
			continue
		}
		seen[h.ArticleID] = struct{}{}
		out = append(out, h)
	}
	return out
}

type rankedID struct {
	articleID int64
	score     float64
	passageID string
}

// hydrate bulk-loads articles and restores rank order; ids missing from the store are dropped.
func (r *Retriever) hydrate(ctx context.Context, ranked []rankedID) ([]domain.RankedArticle, error) {
	if len(ranked) == 0 {
		return []domain.RankedArticle{}, nil
	}
	ids := make([]int64, len(ranked))
	for i, item := range ranked {
		ids[i] = item.articleID
	}
	articles, err := r.loadArticles(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]domain.RankedArticle, 0, len(ranked))
	for _, item := range ranked {
		article, ok := articles[item.articleID]
		if !ok {
			r.logger.Warn("ranked article is missing from the store", "article_id", item.articleID)
			continue
		}
		out = append(out, domain.RankedArticle{Article: article, Score: item.score, PassageID: item.passageID})
	}
	return out, nil
}

func (r *Retriever) loadArticles(ctx context.Context, ids []int64) (map[int64]domain.Article, error) {
	if len(ids) == 0 {
		return map[int64]domain.Article{}, nil
	}
	articles, err := callWithTimeout(ctx, r.timeout, func(ctx context.Context) (map[int64]domain.Article, error) {
		return r.articles.ArticlesByIDs(ctx, ids)
	})
	if err != nil {
		return nil, fmt.Errorf("hydrate articles: %w", err)
	}
	return articles, nil
}

// embedQuery embeds a single query string. A failure here fails the search.
func (r *Retriever) embedQuery(ctx context.Context, query string) ([]float32, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", domain.ErrValidation)
	}

	vectors, err := callWithTimeout(ctx, r.embedTimeout, func(ctx context.Context) ([][]float32, error) {
		return r.embedder.Embed(ctx, []string{query})
	})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("%w: expected one query vector, got %d", domain.ErrModelOutput, len(vectors))
	}
	return vectors[0], nil
}
