package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"NewsRAG/internal/domain"
	"NewsRAG/internal/ports"
)

const (
	defaultArticleBatch = 100
	defaultPassageBatch = 20
)

// PassageSplitter turns article bodies into indexed passages.
type PassageSplitter interface {
	SplitArticles(articles []domain.Article) []domain.Passage
}

// PipelineDeps wires all driven adapters into the embedding pipeline.
type PipelineDeps struct {
	Articles   ports.ArticleRepository
	Passages   ports.PassageRepository
	Embedder   ports.Embedder
	Splitter   PassageSplitter
	Dimensions int
	Workers    int
	// Timeout bounds each embedding call and each bulk write.
	Timeout time.Duration
	Logger  *slog.Logger
}

// EmbedOptions selects and sizes the work-set of one run.
type EmbedOptions struct {
	BatchSize   int
	MaxArticles int
	// Force re-embeds articles that already have vectors or passages.
	Force bool
}

// EmbedReport summarises a pipeline run. Embedded counts articles whose
// vectors (or passage generation) were written.
type EmbedReport struct {
	RunID         string             `json:"run_id"`
	Granularity   domain.Granularity `json:"granularity"`
	Selected      int                `json:"selected"`
	Batches       int                `json:"batches"`
	FailedBatches int                `json:"failed_batches"`
	Embedded      int                `json:"embedded"`
	Passages      int                `json:"passages,omitempty"`
	Skipped       int                `json:"skipped"`
	Duration      time.Duration      `json:"duration"`

	mu sync.Mutex
}

func (r *EmbedReport) batchDone(embedded, passages, skipped int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Embedded += embedded
	r.Passages += passages
	r.Skipped += skipped
}

func (r *EmbedReport) batchFailed(skipped int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.FailedBatches++
	r.Skipped += skipped
}

// EmbeddingPipeline computes whole-article and passage vectors in batches.
type EmbeddingPipeline struct {
	articles   ports.ArticleRepository
	passages   ports.PassageRepository
	embedder   ports.Embedder
	splitter   PassageSplitter
	dimensions int
	workers    int
	timeout    time.Duration
	logger     *slog.Logger
}

// NewPipeline constructs the embedding pipeline.
func NewPipeline(deps PipelineDeps) *EmbeddingPipeline {
	p := &EmbeddingPipeline{
		articles:   deps.Articles,
		passages:   deps.Passages,
		embedder:   deps.Embedder,
		splitter:   deps.Splitter,
		dimensions: deps.Dimensions,
		workers:    deps.Workers,
		timeout:    deps.Timeout,
		logger:     deps.Logger,
	}
	if p.workers <= 0 {
		p.workers = 1
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// EmbedPending dispatches to the run for the requested granularity.
func (p *EmbeddingPipeline) EmbedPending(ctx context.Context, granularity domain.Granularity, opts EmbedOptions) (*EmbedReport, error) {
	switch granularity {
	case domain.GranularityArticle:
		return p.EmbedArticles(ctx, opts)
	case domain.GranularityPassage:
		return p.EmbedPassages(ctx, opts)
	default:
		return nil, fmt.Errorf("%w: unknown granularity %q", domain.ErrValidation, granularity)
	}
}

// EmbedArticles attaches whole-article vectors to articles lacking one (all articles with Force).
func (p *EmbeddingPipeline) EmbedArticles(ctx context.Context, opts EmbedOptions) (*EmbedReport, error) {
	if p.articles == nil || p.embedder == nil {
		return nil, fmt.Errorf("%w: article pipeline is not wired", domain.ErrValidation)
	}

	selectFn := p.articles.ArticlesWithoutEmbedding
	if opts.Force {
		selectFn = p.articles.RecentArticles
	}
	return p.run(ctx, domain.GranularityArticle, opts, defaultArticleBatch, selectFn, p.embedArticleBatch)
}

// EmbedPassages splits and embeds articles that have no passages (all articles with Force).
// Each batch replaces the passages of its articles atomically.
func (p *EmbeddingPipeline) EmbedPassages(ctx context.Context, opts EmbedOptions) (*EmbedReport, error) {
	if p.articles == nil || p.passages == nil || p.embedder == nil || p.splitter == nil {
		return nil, fmt.Errorf("%w: passage pipeline is not wired", domain.ErrValidation)
	}

	selectFn := p.articles.ArticlesWithoutPassages
	if opts.Force {
		selectFn = p.articles.RecentArticles
	}
	return p.run(ctx, domain.GranularityPassage, opts, defaultPassageBatch, selectFn, p.embedPassageBatch)
}

type batchFunc func(ctx context.Context, logger *slog.Logger, batch []domain.Article, report *EmbedReport) error

func (p *EmbeddingPipeline) run(
	ctx context.Context,
	granularity domain.Granularity,
	opts EmbedOptions,
	defaultBatch int,
	selectFn func(context.Context, int) ([]domain.Article, error),
	process batchFunc,
) (*EmbedReport, error) {
	started := time.Now()
	report := &EmbedReport{RunID: uuid.NewString(), Granularity: granularity}
	logger := p.logger.With("run_id", report.RunID, "granularity", string(granularity))

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatch
	}

	workSet, err := callWithTimeout(ctx, p.timeout, func(ctx context.Context) ([]domain.Article, error) {
		return selectFn(ctx, opts.MaxArticles)
	})
	if err != nil {
		return report, fmt.Errorf("select %s work-set: %w", granularity, err)
	}
	report.Selected = len(workSet)
	if len(workSet) == 0 {
		logger.Info("nothing to embed")
		return report, nil
	}

	batches := partition(workSet, batchSize)
	report.Batches = len(batches)
	logger.Info("embedding started",
		"articles", len(workSet),
		"batches", len(batches),
		"batch_size", batchSize,
		"force", opts.Force,
		"workers", p.workers,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, batch := range batches {
		batch := batch
		batchLogger := logger.With("batch", i+1, "of", len(batches), "size", len(batch))
		g.Go(func() error {
			if gctx.Err() != nil {
				report.batchFailed(len(batch))
				return nil
			}
			if err := process(gctx, batchLogger, batch, report); err != nil {
				batchLogger.Error("batch failed", "error", err)
				report.batchFailed(len(batch))
				return nil
			}
			batchLogger.Info("batch embedded")
			return nil
		})
	}
	_ = g.Wait()

	report.Duration = time.Since(started)
	logger.Info("embedding finished",
		"embedded", report.Embedded,
		"passages", report.Passages,
		"skipped", report.Skipped,
		"failed_batches", report.FailedBatches,
		"duration", report.Duration,
	)
	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

func (p *EmbeddingPipeline) embedArticleBatch(ctx context.Context, logger *slog.Logger, batch []domain.Article, report *EmbedReport) error {
	var (
		texts []string
		ids   []int64
	)
	skipped := 0
	for _, article := range batch {
		if strings.TrimSpace(article.BodyText) == "" {
			logger.Warn("article has no body, skipping", "article_id", article.ID)
			skipped++
			continue
		}
		texts = append(texts, article.BodyText)
		ids = append(ids, article.ID)
	}
	if len(texts) == 0 {
		report.batchDone(0, 0, skipped)
		return nil
	}

	vectors, err := p.embed(ctx, texts)
	if err != nil {
		return err
	}

	updates := make(map[int64][]float32, len(ids))
	for i, id := range ids {
		updates[id] = vectors[i]
	}
	err = withTimeout(ctx, p.timeout, func(ctx context.Context) error {
		return p.articles.UpdateArticleEmbeddings(ctx, updates)
	})
	if err != nil {
		return fmt.Errorf("store article vectors: %w", err)
	}

	report.batchDone(len(ids), 0, skipped)
	return nil
}

func (p *EmbeddingPipeline) embedPassageBatch(ctx context.Context, logger *slog.Logger, batch []domain.Article, report *EmbedReport) error {
	passages := p.splitter.SplitArticles(batch)

	produced := make(map[int64]bool, len(batch))
	for _, passage := range passages {
		produced[passage.ArticleID] = true
	}
	var ids []int64
	skipped := 0
	for _, article := range batch {
		if !produced[article.ID] {
			logger.Warn("article produced no passages, skipping", "article_id", article.ID)
			skipped++
			continue
		}
		ids = append(ids, article.ID)
	}
	if len(passages) == 0 {
		report.batchDone(0, 0, skipped)
		return nil
	}

	texts := make([]string, len(passages))
	for i, passage := range passages {
		texts[i] = passage.Text
	}
	vectors, err := p.embed(ctx, texts)
	if err != nil {
		return err
	}
	for i := range passages {
		passages[i].Embedding = vectors[i]
	}

	err = withTimeout(ctx, p.timeout, func(ctx context.Context) error {
		return p.passages.ReplacePassages(ctx, ids, passages)
	})
	if err != nil {
		return fmt.Errorf("replace passages: %w", err)
	}

	report.batchDone(len(ids), len(passages), skipped)
	return nil
}

// embed enforces the positional contract: one vector per text, each of the configured size.
func (p *EmbeddingPipeline) embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := callWithTimeout(ctx, p.timeout, func(ctx context.Context) ([][]float32, error) {
		return p.embedder.Embed(ctx, texts)
	})
	if err != nil {
		return nil, fmt.Errorf("embed %d texts: %w", len(texts), err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: embedder returned %d vectors for %d texts", domain.ErrModelOutput, len(vectors), len(texts))
	}
	for i, v := range vectors {
		if len(v) == 0 || (p.dimensions > 0 && len(v) != p.dimensions) {
			return nil, fmt.Errorf("%w: vector %d has %d dimensions, expected %d", domain.ErrModelOutput, i, len(v), p.dimensions)
		}
	}
	return vectors, nil
}

func partition(articles []domain.Article, size int) [][]domain.Article {
	var out [][]domain.Article
	for start := 0; start < len(articles); start += size {
		out = append(out, articles[start:min(start+size, len(articles))])
	}
	return out
}
