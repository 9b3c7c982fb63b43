package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"NewsRAG/internal/config"
	"NewsRAG/internal/domain"
	"NewsRAG/internal/infrastructure/cache"
	"NewsRAG/internal/infrastructure/feed"
	"NewsRAG/internal/infrastructure/llm"
	"NewsRAG/internal/infrastructure/ml"
	"NewsRAG/internal/infrastructure/provider"
	"NewsRAG/internal/infrastructure/scheduler"
	"NewsRAG/internal/infrastructure/storage"
	"NewsRAG/internal/logging"
	"NewsRAG/internal/ports"
	"NewsRAG/internal/scanner"
	"NewsRAG/internal/splitter"
	"NewsRAG/internal/usecase"
)

// Application wires configs to use cases and owns the open resources.
type Application struct {
	cfg    config.Config
	logger *slog.Logger
	store  ports.Store
	redis  *redis.Client

	Ingestor  *usecase.Ingestor
	Pipeline  *usecase.EmbeddingPipeline
	Retriever *usecase.Retriever
	Answerer  *usecase.Answerer
	Sections  *usecase.SectionSync
}

// New opens the store and builds every use case. The caller must Close it.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}

	store, err := openStore(ctx, cfg.Database, cfg.Embedding.Dimensions)
	if err != nil {
		return nil, err
	}
	a := &Application{cfg: cfg, logger: baseLogger, store: store}

	contentProvider := provider.NewGuardianClient(cfg.Provider.BaseURL, cfg.Provider.APIKey, &http.Client{Timeout: cfg.Provider.Timeout})
	embedder := ml.NewClient(cfg.Embedding.Endpoint, cfg.Embedding.APIKey, cfg.Embedding.Model, cfg.Embedding.Dimensions, cfg.Embedding.Timeout)

	var queryEmbedder ports.Embedder = embedder
	if cfg.Cache.RedisURL != "" {
		client, err := cache.NewClient(cfg.Cache.RedisURL)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		a.redis = client
		queryEmbedder = cache.NewEmbeddingCache(embedder, client, cfg.Cache.Prefix, cfg.Embedding.Model, cfg.Cache.TTL, baseLogger.With("component", "cache"))
	}

	passageSplitter, err := newSplitter(cfg.Splitter, baseLogger)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	model, err := llm.New(cfg.LLM)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	a.Ingestor = usecase.NewIngestor(usecase.IngestDeps{
		Provider: contentProvider,
		Articles: store,
		Logger:   baseLogger.With("component", "ingest"),
		Timeout:  cfg.Database.Timeout,
	})
	a.Pipeline = usecase.NewPipeline(usecase.PipelineDeps{
		Articles:   store,
		Passages:   store,
		Embedder:   embedder,
		Splitter:   passageSplitter,
		Dimensions: cfg.Embedding.Dimensions,
		Workers:    cfg.Embedding.Workers,
		Timeout:    cfg.Embedding.Timeout,
		Logger:     baseLogger.With("component", "pipeline"),
	})
	a.Retriever = usecase.NewRetriever(usecase.RetrieverDeps{
		Embedder:          queryEmbedder,
		Index:             store,
		Articles:          store,
		SearchLimit:       cfg.Retrieval.SearchLimit,
		SearchCandidates:  cfg.Retrieval.SearchCandidates,
		PassageCandidates: cfg.Retrieval.QACandidates,
		SimilarCandidates: cfg.Retrieval.SimilarCandidates,
		Timeout:           cfg.Database.Timeout,
		EmbedTimeout:      cfg.Embedding.Timeout,
		Logger:            baseLogger.With("component", "retrieval"),
	})
	a.Answerer = usecase.NewAnswerer(usecase.AnswererDeps{
		Articles:  store,
		Retriever: a.Retriever,
		Model:     model,
		TopK:      cfg.Retrieval.QATopK,
		Timeout:   cfg.LLM.Timeout,
		Logger:    baseLogger.With("component", "qa"),
	})
	a.Sections = usecase.NewSectionSync(contentProvider, store, cfg.Provider.Timeout, baseLogger.With("component", "sections"))

	return a, nil
}

func openStore(ctx context.Context, cfg config.DatabaseConfig, dims int) (ports.Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "postgres", "postgresql", "pgx":
		return storage.OpenPostgres(ctx, cfg.DSN, dims)
	case "sqlite", "sqlite3":
		return storage.OpenSQLite(ctx, cfg.DSN, dims)
	default:
		return nil, fmt.Errorf("database driver %s is not supported", cfg.Driver)
	}
}

func newSplitter(cfg config.SplitterConfig, logger *slog.Logger) (*splitter.Splitter, error) {
	counter, err := splitter.NewCounter(cfg.Tokenizer)
	if err != nil {
		logger.Warn("tokenizer unavailable, counting words instead", "tokenizer", cfg.Tokenizer, "error", err)
		counter = splitter.WordCounter{}
	}
	return splitter.New(splitter.Config{ChunkSize: cfg.ChunkSize, Overlap: cfg.Overlap}, counter)
}

// Config returns the configuration the application was built from.
func (a *Application) Config() config.Config {
	return a.cfg
}

// Migrate creates or updates the schema.
func (a *Application) Migrate(ctx context.Context) error {
	return a.store.Migrate(ctx)
}

// IngestOptions turns the ingestion config into run options.
func (a *Application) IngestOptions() usecase.IngestOptions {
	ing := a.cfg.Ingestion
	tiers := make([]scanner.PageSizeTier, len(ing.Tiers))
	for i, t := range ing.Tiers {
		tiers[i] = scanner.PageSizeTier{MaxAge: t.MaxAge, PageSize: t.PageSize}
	}
	return usecase.IngestOptions{
		StaleAfter: ing.StaleAfter,
		OnlyRecent: ing.OnlyRecent,
		PageSize:   ing.PageSize,
		MaxPages:   ing.MaxPages,
		PageDelay:  ing.PageDelay,
		Tiers:      tiers,
	}
}

// EmbedOptions returns configured batch sizing for granularity.
func (a *Application) EmbedOptions(granularity domain.Granularity) usecase.EmbedOptions {
	if granularity == domain.GranularityPassage {
		return usecase.EmbedOptions{BatchSize: a.cfg.Embedding.PassageBatchSize}
	}
	return usecase.EmbedOptions{BatchSize: a.cfg.Embedding.ArticleBatchSize}
}

// Schedule starts the repeat loop. The returned driver's Done channel closes
// when the loop exits; call Stop on it to end the loop early.
func (a *Application) Schedule(ctx context.Context, every time.Duration, opts usecase.IngestOptions, embedAfter bool) (*scheduler.IntervalScheduler, error) {
	driver := scheduler.NewIntervalScheduler(every, a.cfg.Scheduler.Location(), a.logger.With("component", "scheduler"))
	s := usecase.NewScheduler(usecase.SchedulerDeps{
		Driver:      driver,
		Ingestor:    a.Ingestor,
		Pipeline:    a.Pipeline,
		IngestOpts:  opts,
		EmbedAfter:  embedAfter,
		ArticleOpts: a.EmbedOptions(domain.GranularityArticle),
		PassageOpts: a.EmbedOptions(domain.GranularityPassage),
		Logger:      a.logger.With("component", "scheduler"),
	})
	if err := s.Start(ctx); err != nil {
		return nil, err
	}
	return driver, nil
}

// Feed renders the most recent articles as RSS.
func (a *Application) Feed(ctx context.Context, limit int) (string, error) {
	if limit <= 0 {
		limit = a.cfg.Feed.Limit
	}
	articles, err := a.store.RecentArticles(ctx, limit)
	if err != nil {
		return "", fmt.Errorf("load recent articles: %w", err)
	}
	return feed.RenderRSS(articles, a.cfg.Feed, time.Now().In(a.cfg.Scheduler.Location()))
}

// Close releases the store and the cache connection.
func (a *Application) Close() error {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}
