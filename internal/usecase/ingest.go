package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"NewsRAG/internal/domain"
	"NewsRAG/internal/ports"
	"NewsRAG/internal/scanner"
)

const defaultMaxPages = 10

// StopReason names the terminal state of an ingestion run.
type StopReason string

const (
	StopNoResults StopReason = "no_results"
	StopCutoff    StopReason = "cutoff"
	StopAllKnown  StopReason = "all_known"
	StopLastPage  StopReason = "last_page"
	StopPageCap   StopReason = "page_cap"
)

// IngestOptions tunes a single ingestion run.
type IngestOptions struct {
	StaleAfter time.Duration
	OnlyRecent bool
	PageSize   int
	MaxPages   int
	PageDelay  time.Duration
	Tiers      []scanner.PageSizeTier
}

// IngestReport describes what a run did. It is returned even when the run fails.
type IngestReport struct {
	RunID          string        `json:"run_id"`
	LowerBound     time.Time     `json:"lower_bound"`
	PageSize       int           `json:"page_size"`
	Pages          int           `json:"pages"`
	Saved          int           `json:"saved"`
	SkippedKnown   int           `json:"skipped_known"`
	SkippedEmpty   int           `json:"skipped_empty"`
	SkippedInvalid int           `json:"skipped_invalid"`
	StopReason     StopReason    `json:"stop_reason,omitempty"`
	Duration       time.Duration `json:"duration"`
}

// IngestDeps wires the driven adapters of the ingestion run.
type IngestDeps struct {
	Provider ports.ContentProvider
	Articles ports.ArticleRepository
	Logger   *slog.Logger
	// Timeout bounds every provider and store call.
	Timeout time.Duration
	Now     func() time.Time
	Sleep   func(ctx context.Context, d time.Duration) error
}

// Ingestor pulls new articles page by page until the cursor is reached.
type Ingestor struct {
	provider ports.ContentProvider
	articles ports.ArticleRepository
	logger   *slog.Logger
	timeout  time.Duration
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewIngestor constructs the ingestion use case.
func NewIngestor(deps IngestDeps) *Ingestor {
	in := &Ingestor{
		provider: deps.Provider,
		articles: deps.Articles,
		logger:   deps.Logger,
		timeout:  deps.Timeout,
		now:      deps.Now,
		sleep:    deps.Sleep,
	}
	if in.logger == nil {
		in.logger = slog.Default()
	}
	if in.now == nil {
		in.now = time.Now
	}
	if in.sleep == nil {
		in.sleep = sleepContext
	}
	return in
}

// IngestOnce runs one incremental fetch. Pages are processed strictly in
// sequence; every page that was inserted stays committed if a later page fails.
func (in *Ingestor) IngestOnce(ctx context.Context, opts IngestOptions) (IngestReport, error) {
	started := in.now()
	report := IngestReport{RunID: uuid.NewString()}
	logger := in.logger.With("run_id", report.RunID)

	if in.provider == nil || in.articles == nil {
		return report, fmt.Errorf("%w: ingestor is not wired", domain.ErrValidation)
	}

	now := started.UTC()
	var (
		latest    time.Time
		hasLatest bool
	)
	err := withTimeout(ctx, in.timeout, func(ctx context.Context) error {
		var err error
		latest, hasLatest, err = in.articles.LatestPublishedAt(ctx)
		return err
	})
	if err != nil {
		return in.finish(logger, started, report, fmt.Errorf("load cursor: %w", err))
	}

	report.LowerBound = scanner.LowerBound(latest, hasLatest, now, opts.StaleAfter, opts.OnlyRecent)
	report.PageSize = scanner.PageSizeFor(report.LowerBound, now, opts.Tiers, opts.PageSize)
	maxPages := opts.MaxPages
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}

	logger.Info("ingestion started",
		"lower_bound", report.LowerBound,
		"page_size", report.PageSize,
		"max_pages", maxPages,
	)

	known := make(map[string]bool)
	for page := 1; ; page++ {
		if page > 1 {
			if err := in.sleep(ctx, opts.PageDelay); err != nil {
				return in.finish(logger, started, report, fmt.Errorf("pace before page %d: %w", page, err))
			}
		}

		result, err := callWithTimeout(ctx, in.timeout, func(ctx context.Context) (domain.Page, error) {
			return in.provider.FetchPage(ctx, domain.PageRequest{
				Page:     page,
				PageSize: report.PageSize,
				From:     report.LowerBound,
			})
		})
		if err != nil {
			return in.finish(logger, started, report, fmt.Errorf("fetch page %d: %w", page, err))
		}
		report.Pages++

		if len(result.Items) == 0 {
			report.StopReason = StopNoResults
			break
		}

		if err := in.loadKnown(ctx, result.Items, known); err != nil {
			return in.finish(logger, started, report, fmt.Errorf("page %d: %w", page, err))
		}

		scan := scanner.ScanPage(result.Items, report.LowerBound, known)
		if len(scan.Staged) > 0 {
			inserted, err := callWithTimeout(ctx, in.timeout, func(ctx context.Context) (int, error) {
				return in.articles.InsertArticles(ctx, scan.Staged)
			})
			if err != nil {
				return in.finish(logger, started, report, fmt.Errorf("insert page %d: %w", page, err))
			}
			report.Saved += inserted
		}
		report.SkippedKnown += scan.SkippedKnown
		report.SkippedEmpty += scan.SkippedEmpty
		report.SkippedInvalid += scan.SkippedInvalid

		logger.Info("page ingested",
			"page", page,
			"total_pages", result.TotalPages,
			"items", len(result.Items),
			"staged", len(scan.Staged),
			"skipped_known", scan.SkippedKnown,
			"skipped_empty", scan.SkippedEmpty,
			"skipped_invalid", scan.SkippedInvalid,
		)

		if reason, stop := stopAfterPage(page, maxPages, result.TotalPages, scan, report.LowerBound); stop {
			report.StopReason = reason
			break
		}
	}

	return in.finish(logger, started, report, nil)
}

func stopAfterPage(page, maxPages, totalPages int, scan scanner.PageResult, bound time.Time) (StopReason, bool) {
	switch {
	case scan.ReachedCutoff:
		return StopCutoff, true
	case len(scan.Staged) == 0 && !bound.IsZero():
		return StopAllKnown, true
	case page >= totalPages:
		return StopLastPage, true
	case page >= maxPages:
		return StopPageCap, true
	default:
		return "", false
	}
}

// loadKnown adds the stored ids among the page's items to known.
func (in *Ingestor) loadKnown(ctx context.Context, items []domain.ProviderItem, known map[string]bool) error {
	var lookup []string
	for _, id := range scanner.ProviderIDs(items) {
		if !known[id] {
			lookup = append(lookup, id)
		}
	}
	if len(lookup) == 0 {
		return nil
	}

	stored, err := callWithTimeout(ctx, in.timeout, func(ctx context.Context) (map[string]bool, error) {
		return in.articles.KnownProviderIDs(ctx, lookup)
	})
	if err != nil {
		return fmt.Errorf("load known ids: %w", err)
	}
	for id := range stored {
		known[id] = true
	}
	return nil
}

func (in *Ingestor) finish(logger *slog.Logger, started time.Time, report IngestReport, err error) (IngestReport, error) {
	report.Duration = in.now().Sub(started)
	if err != nil {
		logger.Error("ingestion aborted",
			"error", err,
			"pages", report.Pages,
			"saved", report.Saved,
			"lower_bound", report.LowerBound,
		)
		return report, err
	}
	logger.Info("ingestion finished",
		"pages", report.Pages,
		"saved", report.Saved,
		"skipped_known", report.SkippedKnown,
		"skipped_empty", report.SkippedEmpty,
		"skipped_invalid", report.SkippedInvalid,
		"stop_reason", report.StopReason,
	)
	return report, nil
}
