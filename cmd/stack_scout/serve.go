package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/stack-scout/internal/lease"
	"github.com/jonathan/stack-scout/internal/pipeline"
	"github.com/jonathan/stack-scout/internal/scheduler"
	"github.com/jonathan/stack-scout/internal/server"
)

var (
	serveSchedule string
	servePort     int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the pipeline continuously on a schedule",
	Long: `Runs a pass immediately and then on every tick of --schedule (a cron spec such as
"@every 5m" or "*/10 * * * *"). A tick that fires while a pass is still running is skipped.

An HTTP server exposes GET /health, GET /last-run and POST /runs/stream.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveSchedule, "schedule", "", "Cron schedule (defaults to serve.schedule)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (defaults to serve.port)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	if cmd.Flags().Changed("schedule") {
		cfg.Serve.Schedule = serveSchedule
	}
	if cmd.Flags().Changed("port") {
		cfg.Serve.Port = servePort
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	pass := func(ctx context.Context) error {
		_, err := a.orch.Run(ctx, pipeline.RunOptions{
			RetryPending: cfg.RetryPending,
			PendingLimit: cfg.PendingLimit,
		})
		switch {
		case errors.Is(err, pipeline.ErrRunInProgress), errors.Is(err, lease.ErrLeaseHeld):
			logger.Info("pass skipped; another run holds the lease")
			return nil
		case errors.Is(err, context.Canceled):
			return nil
		}
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return scheduler.NewService(cfg.Serve.Schedule, pass, logger).Run(gctx)
	})
	g.Go(func() error {
		return server.New(server.Config{Port: cfg.Serve.Port}, a.orch, logger).Start(gctx)
	})
	return g.Wait()
}
