package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"NewsRAG/internal/app"
	"NewsRAG/internal/config"
	"NewsRAG/internal/logging"
)

var (
	configPath string
	jsonOutput bool
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := &cobra.Command{
		Use:           "newsrag",
		Short:         "News ingestion, embedding and grounded question answering",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file (defaults to $NEWSRAG_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&jsonOutput, "json", "j", false, "Output as JSON")

	rootCmd.AddCommand(
		migrateCmd(),
		ingestCmd(),
		embedCmd(),
		searchCmd(),
		similarCmd(),
		askCmd(),
		sectionsCmd(),
		feedCmd(),
	)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// withApp loads configuration, builds the application and closes it after fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.Application) error) error {
	var cfg config.Config
	if configPath != "" {
		cfg = config.LoadFile(configPath)
	} else {
		cfg = config.Load()
	}
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)

	ctx := cmd.Context()
	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := application.Close(); err != nil {
			logger.Warn("close application", "error", err)
		}
	}()

	return fn(ctx, application)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
