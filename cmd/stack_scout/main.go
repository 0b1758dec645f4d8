// Package main provides the stack_scout CLI: scrape job postings, detect
// sales-engagement tools with an LLM, and record the companies that use them.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jonathan/stack-scout/internal/config"
)

var (
	configPath  string
	databaseURL string
	verbose     bool
	logJSON     bool

	// Populated by PersistentPreRunE for every subcommand.
	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "stack_scout",
	Short: "Find companies that use Outreach.io or SalesLoft from their job postings",
	Long: `stack_scout scrapes job postings for configured search terms, asks an LLM whether each
posting names a sales-engagement platform, and records the companies that do.

Configuration is read from --config (YAML or JSON), then STACK_SCOUT_* environment variables
and a .env file. Command-line flags override both.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML or JSON config file")
	rootCmd.PersistentFlags().StringVar(&databaseURL, "db-url", "", "Store URL: postgres://..., sqlite:<path> or memory (defaults to DATABASE_URL)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging and a boxed run summary")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Emit logs as JSON")
}

func setup(cmd *cobra.Command, _ []string) error {
	loaded, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cmd.Flags().Changed("db-url") {
		loaded.DatabaseURL = databaseURL
	}
	if err := loaded.Validate(); err != nil {
		return err
	}
	cfg = loaded

	logger = newLogger(cmd.ErrOrStderr(), verbose, logJSON)
	slog.SetDefault(logger)
	if configPath != "" {
		logger.Debug("loaded config", "path", configPath)
	}
	return nil
}

func newLogger(w io.Writer, verbose, jsonOut bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if jsonOut {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
