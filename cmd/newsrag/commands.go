package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"NewsRAG/internal/app"
	"NewsRAG/internal/config"
	"NewsRAG/internal/domain"
	"NewsRAG/internal/usecase"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.Application) error {
				if err := a.Migrate(ctx); err != nil {
					return err
				}
				if jsonOutput {
					printJSON(map[string]bool{"ok": true})
				} else {
					fmt.Println("schema is up to date")
				}
				return nil
			})
		},
	}
}

func ingestCmd() *cobra.Command {
	var (
		stopAgeHours int
		ignoreRecent bool
		pageSize     int
		maxPages     int
		embedAfter   bool
		repeatMin    int
	)

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Fetch new articles from the content provider",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.Application) error {
				opts := a.IngestOptions()
				flags := cmd.Flags()
				if flags.Changed("stop-age-hours") {
					opts.StaleAfter = time.Duration(stopAgeHours) * time.Hour
				}
				if ignoreRecent {
					opts.OnlyRecent = false
				}
				if flags.Changed("page-size") {
					opts.PageSize = pageSize
				}
				if flags.Changed("max-pages") {
					opts.MaxPages = maxPages
				}

				every, embedAfter := ingestSchedule(cmd, a.Config().Ingestion, repeatMin, embedAfter)
				if every > 0 {
					driver, err := a.Schedule(ctx, every, opts, embedAfter)
					if err != nil {
						return err
					}
					<-driver.Done()
					return nil
				}

				report, err := a.Ingestor.IngestOnce(ctx, opts)
				printIngestReport(report)
				if err != nil || !embedAfter {
					return err
				}
				for _, granularity := range []domain.Granularity{domain.GranularityArticle, domain.GranularityPassage} {
					embedReport, err := a.Pipeline.EmbedPending(ctx, granularity, a.EmbedOptions(granularity))
					if embedReport != nil {
						printEmbedReport(embedReport)
					}
					if err != nil {
						return err
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&stopAgeHours, "stop-age-hours", 24, "Never look further back than this many hours")
	cmd.Flags().BoolVar(&ignoreRecent, "ignore-recent", false, "Ignore the newest stored article when computing the lower bound")
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "Fixed page size (disables tiering)")
	cmd.Flags().IntVar(&maxPages, "max-pages", 10, "Maximum pages per run")
	cmd.Flags().BoolVar(&embedAfter, "embed", false, "Embed articles and passages after ingesting (defaults to config)")
	cmd.Flags().IntVar(&repeatMin, "repeat", 0, "Repeat the run every N minutes until interrupted; --repeat alone means 30, --repeat=N sets N")
	cmd.Flags().Lookup("repeat").NoOptDefVal = strconv.Itoa(defaultRepeatMinutes)
	return cmd
}

const defaultRepeatMinutes = 30

// ingestSchedule resolves the repeat interval and embed-after switch: explicit
// flags win, otherwise the ingestion config applies. A zero interval means a single run.
func ingestSchedule(cmd *cobra.Command, cfg config.IngestionConfig, repeatMin int, embedAfter bool) (time.Duration, bool) {
	flags := cmd.Flags()

	every := cfg.RepeatEvery
	if flags.Changed("repeat") {
		every = time.Duration(repeatMin) * time.Minute
	}
	if every < 0 {
		every = 0
	}
	if !flags.Changed("embed") {
		embedAfter = cfg.EmbedAfter
	}
	return every, embedAfter
}

func embedCmd() *cobra.Command {
	var (
		batchSize   int
		maxArticles int
		reembed     bool
	)

	cmd := &cobra.Command{
		Use:       "embed articles|passages",
		Short:     "Compute pending whole-article or passage embeddings",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(domain.GranularityArticle), string(domain.GranularityPassage)},
		RunE: func(cmd *cobra.Command, args []string) error {
			granularity := domain.Granularity(strings.ToLower(args[0]))
			return withApp(cmd, func(ctx context.Context, a *app.Application) error {
				opts := a.EmbedOptions(granularity)
				if batchSize > 0 {
					opts.BatchSize = batchSize
				}
				opts.MaxArticles = maxArticles
				opts.Force = reembed

				report, err := a.Pipeline.EmbedPending(ctx, granularity, opts)
				if report != nil {
					printEmbedReport(report)
				}
				return err
			})
		},
	}

	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "Articles per embedding call (defaults to config)")
	cmd.Flags().IntVar(&maxArticles, "max-articles", 0, "Limit the work-set to the newest N articles")
	cmd.Flags().BoolVar(&reembed, "reembed", false, "Recompute vectors for articles that already have them")
	return cmd
}

func searchCmd() *cobra.Command {
	var k int
	cmd := &cobra.Command{
		Use:   "search QUERY",
		Short: "Rank articles by their best matching passage",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return withApp(cmd, func(ctx context.Context, a *app.Application) error {
				results, err := a.Retriever.SearchArticles(ctx, query, k)
				if err != nil {
					return err
				}
				printRanked(results)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&k, "k", "k", 10, "Number of articles to return")
	return cmd
}

func similarCmd() *cobra.Command {
	var k int
	cmd := &cobra.Command{
		Use:   "similar ARTICLE_ID",
		Short: "List articles similar to a stored article",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseArticleID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.Application) error {
				results, err := a.Retriever.SimilarArticles(ctx, id, k)
				if err != nil {
					return err
				}
				printRanked(results)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&k, "k", "k", 5, "Number of articles to return")
	return cmd
}

func askCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ask ARTICLE_ID QUESTION",
		Short: "Answer a question about an article from retrieved passages",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseArticleID(args[0])
			if err != nil {
				return err
			}
			question := strings.Join(args[1:], " ")
			return withApp(cmd, func(ctx context.Context, a *app.Application) error {
				answer, err := a.Answerer.Answer(ctx, id, question)
				if err != nil {
					var qaErr *domain.QAError
					if errors.As(err, &qaErr) {
						fmt.Fprintf(os.Stderr, "could not process the question (stage %s)\n", qaErr.Stage)
					} else {
						fmt.Fprintln(os.Stderr, "could not process the question")
					}
					return err
				}

				if jsonOutput {
					printJSON(answer)
					return nil
				}
				fmt.Println(answer.Text)
				for _, c := range answer.Citations {
					fmt.Printf("\n[%s] %s\n  %q\n  %s\n", c.PassageID, c.ArticleTitle, c.Excerpt, c.ArticleURL)
				}
				return nil
			})
		},
	}
}

func sectionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sections",
		Short: "Synchronise the provider section taxonomy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.Application) error {
				report, err := a.Sections.Sync(ctx)
				if err != nil {
					return err
				}
				if jsonOutput {
					printJSON(report)
				} else {
					fmt.Printf("sections: %d fetched, %d created, %d updated\n", report.Fetched, report.Created, report.Updated)
				}
				return nil
			})
		},
	}
}

func feedCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "feed",
		Short: "Print an RSS feed of the most recent articles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.Application) error {
				rss, err := a.Feed(ctx, limit)
				if err != nil {
					return err
				}
				fmt.Println(rss)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Number of items (defaults to config)")
	return cmd
}

func parseArticleID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid article id %q", domain.ErrValidation, raw)
	}
	return id, nil
}

func printIngestReport(report usecase.IngestReport) {
	if jsonOutput {
		printJSON(report)
		return
	}
	fmt.Printf("ingest %s: %d saved over %d pages (known %d, empty %d, invalid %d), stop=%s, took %s\n",
		report.RunID, report.Saved, report.Pages,
		report.SkippedKnown, report.SkippedEmpty, report.SkippedInvalid,
		report.StopReason, report.Duration.Round(time.Millisecond))
}

func printEmbedReport(report *usecase.EmbedReport) {
	if jsonOutput {
		printJSON(report)
		return
	}
	fmt.Printf("embed %s: %d of %d articles embedded, %d passages, %d skipped, %d/%d batches failed, took %s\n",
		report.Granularity, report.Embedded, report.Selected, report.Passages,
		report.Skipped, report.FailedBatches, report.Batches, report.Duration.Round(time.Millisecond))
}

func printRanked(results []domain.RankedArticle) {
	if jsonOutput {
		type row struct {
			ArticleID   int64     `json:"article_id"`
			ProviderID  string    `json:"provider_id"`
			Title       string    `json:"title"`
			URL         string    `json:"url"`
			PublishedAt time.Time `json:"published_at"`
			Score       float64   `json:"score"`
			PassageID   string    `json:"passage_id,omitempty"`
		}
		rows := make([]row, len(results))
		for i, r := range results {
			rows[i] = row{
				ArticleID:   r.Article.ID,
				ProviderID:  r.Article.ProviderID,
				Title:       r.Article.WebTitle,
				URL:         r.Article.WebURL,
				PublishedAt: r.Article.PublishedAt,
				Score:       r.Score,
				PassageID:   r.PassageID,
			}
		}
		printJSON(rows)
		return
	}
	if len(results) == 0 {
		fmt.Println("no results")
		return
	}
	for i, r := range results {
		fmt.Printf("%2d. [%d] %.4f  %s\n    %s\n", i+1, r.Article.ID, r.Score, r.Article.WebTitle, r.Article.WebURL)
	}
}
