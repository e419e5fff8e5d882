// Package cli holds the bot's cobra commands.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"bullish/internal/config"

	"github.com/spf13/cobra"
)

// Execute runs the root command against os.Args.
func Execute() error {
	return NewRootCmd().Execute()
}

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "bot",
		Short: "Buy-then-sell execution service for Alpaca",
		Long: `bot places a market buy sized from non-marginable buying power, waits for
the fill, then places a limit sell at the fill price plus a fee buffer and
profit target.

Settings come from defaults, an optional YAML file (--config), the
environment (including .env) and flags, in increasing precedence.`,
		SilenceUsage: true,
	}
	config.BindFlags(root.PersistentFlags())

	root.AddCommand(
		newServeCmd(),
		newTradeCmd(),
		newAccountCmd(),
		newVersionCmd(),
	)
	return root
}

// loadConfig resolves settings for cmd and installs the process logger.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	slog.SetDefault(newLogger(cfg, os.Stderr))
	return cfg, nil
}

func newLogger(cfg config.Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.LogFormat == config.FormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
