package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"bullish/internal/execution"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func newTradeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trade SYMBOL",
		Short: "Run one buy-then-sell for SYMBOL and print the result",
		Example: `  bot trade BTC/USD
  bot trade ETH/USD --notional-pct 0.05 --profit-target 0.002`,
		Args: cobra.ExactArgs(1),
		RunE: runTrade,
	}
	cmd.Flags().Float64("notional-pct", 0, "fraction of non-marginable buying power for this run (0 uses --allocation-pct)")
	return cmd
}

func runTrade(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	req := execution.TradeRequest{Symbol: args[0]}
	if cmd.Flags().Changed("notional-pct") {
		pct, err := cmd.Flags().GetFloat64("notional-pct")
		if err != nil {
			return err
		}
		req.AllocationFraction = decimal.NewNullDecimal(decimal.NewFromFloat(pct))
	}

	// Once started, a run is not cancellable: a submitted buy may fill at any
	// moment and must get its sell. Signals are acknowledged, not obeyed.
	stop := holdSignals()
	defer stop()

	res, err := a.engine.Execute(context.WithoutCancel(cmd.Context()), req)
	if err != nil {
		var execErr *execution.Error
		if errors.As(err, &execErr) && execErr.PositionOpen() {
			_ = writeIndented(cmd.OutOrStdout(), map[string]any{"position_open": true, "buy": execErr.Buy})
		}
		return fmt.Errorf("trade failed: %w", err)
	}
	return writeIndented(cmd.OutOrStdout(), res)
}

// holdSignals traps SIGINT and SIGTERM until stop is called.
func holdSignals() (stop func()) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case sig := <-sigs:
				slog.Warn("signal received, finishing the run in progress", "signal", sig.String())
			}
		}
	}()
	return func() {
		signal.Stop(sigs)
		close(done)
	}
}

func writeIndented(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
