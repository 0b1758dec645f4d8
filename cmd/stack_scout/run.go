package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jonathan/stack-scout/internal/observability"
	"github.com/jonathan/stack-scout/internal/pipeline"
)

var runCommand = &cobra.Command{
	Use:   "run",
	Short: "Run one pass over every due search term",
	Long: `Selects due search terms (or the one given with --term), scrapes postings, skips ones
already seen, analyzes the rest and records identified companies.

Interrupting with Ctrl-C finishes the posting in progress and stops. The command exits
non-zero when the run is aborted by a storage failure.`,
	RunE: runPipelineCmd,
}

var (
	runTerm         string
	runMaxItems     int
	runRetryPending bool
	runJSON         bool
)

func init() {
	runCommand.Flags().StringVarP(&runTerm, "term", "t", "", "Run a single search term, creating it if needed")
	runCommand.Flags().IntVar(&runMaxItems, "max-items", 0, "Maximum postings fetched per term (defaults to max_items_per_term)")
	runCommand.Flags().BoolVar(&runRetryPending, "retry-pending", false, "Re-analyze postings whose analysis failed earlier (defaults to retry_pending)")
	runCommand.Flags().BoolVar(&runJSON, "json", false, "Print the run summary as JSON")

	rootCmd.AddCommand(runCommand)
}

func runPipelineCmd(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	opts := pipeline.RunOptions{
		SearchTerm:   runTerm,
		RetryPending: cfg.RetryPending,
		PendingLimit: cfg.PendingLimit,
	}
	// Only override if the flag was explicitly set
	if cmd.Flags().Changed("max-items") {
		opts.MaxItemsPerTerm = runMaxItems
	}
	if cmd.Flags().Changed("retry-pending") {
		opts.RetryPending = runRetryPending
	}
	if verbose {
		opts.OnProgress = func(ev pipeline.ProgressEvent) {
			logger.Debug("progress", "state", ev.State, "search_term", ev.SearchTerm, "job_id", ev.JobID, "message", ev.Message)
		}
	}

	summary, runErr := a.orch.Run(ctx, opts)
	if summary != nil {
		if runJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(summary); err != nil {
				return fmt.Errorf("failed to write summary: %w", err)
			}
		} else {
			observability.NewPrinter(cmd.OutOrStdout()).PrintRunSummary(summary)
		}
	}

	switch {
	case runErr == nil:
		return nil
	case summary != nil && summary.Cancelled:
		logger.Warn("run interrupted; unprocessed postings will be picked up by the next run")
		return nil
	default:
		return fmt.Errorf("run failed: %w", runErr)
	}
}
