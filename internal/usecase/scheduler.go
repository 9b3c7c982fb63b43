package usecase

import (
	"context"
	"log/slog"
	"time"

	"NewsRAG/internal/ports"
)

// Scheduler wires the interval driver with ingestion and, optionally, both embedding runs.
type Scheduler struct {
	driver      ports.Scheduler
	ingestor    *Ingestor
	pipeline    *EmbeddingPipeline
	ingestOpts  IngestOptions
	embedAfter  bool
	articleOpts EmbedOptions
	passageOpts EmbedOptions
	logger      *slog.Logger
}

// SchedulerDeps configures the repeat loop.
type SchedulerDeps struct {
	Driver      ports.Scheduler
	Ingestor    *Ingestor
	Pipeline    *EmbeddingPipeline
	IngestOpts  IngestOptions
	EmbedAfter  bool
	ArticleOpts EmbedOptions
	PassageOpts EmbedOptions
	Logger      *slog.Logger
}

// NewScheduler returns a helper to start/stop recurring ingestion.
func NewScheduler(deps SchedulerDeps) *Scheduler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		driver:      deps.Driver,
		ingestor:    deps.Ingestor,
		pipeline:    deps.Pipeline,
		ingestOpts:  deps.IngestOpts,
		embedAfter:  deps.EmbedAfter,
		articleOpts: deps.ArticleOpts,
		passageOpts: deps.PassageOpts,
		logger:      logger,
	}
}

// Start registers the job with the driver.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.ingestor == nil {
		return nil
	}
	return s.driver.Start(ctx, func(ctx context.Context, trigger time.Time) {
		_ = s.RunOnce(ctx, trigger)
	})
}

// Stop gracefully tears down the underlying scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}
	return s.driver.Stop(ctx)
}

// RunOnce performs one repetition. An ingestion failure skips the embedding
// runs; the error is logged and returned so the next repetition can retry.
func (s *Scheduler) RunOnce(ctx context.Context, trigger time.Time) error {
	s.logger.Info("scheduled run started", "trigger", trigger.Format(time.RFC3339))

	if _, err := s.ingestor.IngestOnce(ctx, s.ingestOpts); err != nil {
		s.logger.Error("scheduled ingestion failed", "error", err)
		return err
	}
	if !s.embedAfter || s.pipeline == nil {
		return nil
	}

	if _, err := s.pipeline.EmbedArticles(ctx, s.articleOpts); err != nil {
		s.logger.Error("scheduled article embedding failed", "error", err)
		return err
	}
	if _, err := s.pipeline.EmbedPassages(ctx, s.passageOpts); err != nil {
		s.logger.Error("scheduled passage embedding failed", "error", err)
		return err
	}
	return nil
}
