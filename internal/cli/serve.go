package cli

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"bullish/internal/api"

	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Serve the JSON API used by the mobile client:

  GET  /ping         liveness
  GET  /api/ping     liveness with server timestamp
  GET  /api/account  account summary
  POST /api/trade    one buy-then-sell run
  GET  /metrics      Prometheus metrics`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("starting bot",
		"addr", cfg.Addr,
		"base_url", cfg.BaseURL,
		"allocation_pct", cfg.AllocationPct,
		"min_notional", cfg.MinNotional,
		"journal", cfg.JournalPath,
	)
	srv := api.New(a.engine, a.broker, a.metrics.Handler())
	if err := srv.ListenAndServe(ctx, cfg.Addr); err != nil {
		return err
	}
	slog.Info("bot shutdown complete")
	return nil
}
