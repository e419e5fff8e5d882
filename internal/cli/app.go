package cli

import (
	"fmt"
	"log/slog"

	"bullish/internal/broker"
	"bullish/internal/config"
	"bullish/internal/execution"
	"bullish/internal/journal"
	"bullish/internal/metrics"
)

// app is the wired dependency graph shared by the commands.
type app struct {
	cfg     config.Config
	metrics *metrics.Metrics
	broker  *broker.Client
	engine  *execution.Engine
	journal *journal.Journal
}

func newApp(cfg config.Config) (*app, error) {
	a := &app{cfg: cfg, metrics: metrics.New()}

	client, err := broker.New(broker.Options{
		APIKey:            cfg.APIKey,
		APISecret:         cfg.APISecret,
		BaseURL:           cfg.BaseURL,
		RequestsPerSecond: cfg.BrokerRPS,
		Burst:             cfg.BrokerBurst,
		Metrics:           a.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("broker: %w", err)
	}
	a.broker = client

	opts := []execution.Option{execution.WithObserver(a.metrics)}
	if cfg.JournalPath != "" {
		j, err := journal.Open(cfg.JournalPath)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		a.journal = j
		opts = append(opts, execution.WithObserver(j))
	}

	engine, err := execution.New(client, cfg.Execution(), opts...)
	if err != nil {
		a.close()
		return nil, err
	}
	a.engine = engine
	return a, nil
}

func (a *app) close() {
	if a.journal == nil {
		return
	}
	if err := a.journal.Close(); err != nil {
		slog.Error("failed to close journal", "error", err)
	}
}
