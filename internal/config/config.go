package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"bullish/internal/execution"

	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

const (
	FormatText = "text"
	FormatJSON = "json"
)

type Config struct {
	Addr          string        `yaml:"addr"`
	BaseURL       string        `yaml:"base_url"`
	APIKey        string        `yaml:"api_key"`
	APISecret     string        `yaml:"api_secret"`
	AllocationPct float64       `yaml:"allocation_pct"`
	MinNotional   float64       `yaml:"min_notional"`
	FeeBuffer     float64       `yaml:"fee_buffer"`
	ProfitTarget  float64       `yaml:"profit_target"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	PollAttempts  int           `yaml:"poll_attempts"`
	BrokerRPS     float64       `yaml:"broker_rps"`
	BrokerBurst   int           `yaml:"broker_burst"`
	JournalPath   string        `yaml:"journal_path"`
	LogLevel      string        `yaml:"log_level"`
	LogFormat     string        `yaml:"log_format"`
}

func Default() Config {
	return Config{
		Addr:          ":3000",
		BaseURL:       "https://paper-api.alpaca.markets",
		AllocationPct: 0.10,
		MinNotional:   5,
		FeeBuffer:     0.0025,
		ProfitTarget:  0.0005,
		PollInterval:  execution.DefaultPollInterval,
		PollAttempts:  execution.DefaultMaxPollAttempts,
		BrokerRPS:     3,
		BrokerBurst:   5,
		LogLevel:      "info",
		LogFormat:     FormatText,
	}
}

// BindFlags registers every configurable setting on fs. Credentials are
// env/file only.
func BindFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("config", "", "path to YAML config file")
	fs.String("addr", d.Addr, "HTTP listen address")
	fs.String("base-url", d.BaseURL, "Alpaca trading API base URL")
	fs.Float64("allocation-pct", d.AllocationPct, "default fraction of non-marginable buying power per buy")
	fs.Float64("min-notional", d.MinNotional, "default minimum buy notional")
	fs.Float64("fee-buffer", d.FeeBuffer, "default fee buffer added to the sell target")
	fs.Float64("profit-target", d.ProfitTarget, "default profit target added to the sell target")
	fs.Duration("poll-interval", d.PollInterval, "interval between buy fill polls")
	fs.Int("poll-attempts", d.PollAttempts, "maximum buy fill polls")
	fs.Float64("broker-rps", d.BrokerRPS, "brokerage requests per second (0 disables pacing)")
	fs.Int("broker-burst", d.BrokerBurst, "brokerage request burst")
	fs.String("journal-path", d.JournalPath, "append run outcomes as NDJSON to this file")
	fs.String("log-level", d.LogLevel, "log level: debug, info, warn, error")
	fs.String("log-format", d.LogFormat, "log format: text or json")
}

// Load resolves settings with precedence defaults < config file < environment
// (including .env) < flags explicitly set on fs.
func Load(fs *pflag.FlagSet) (Config, error) {
	cfg := Default()

	loadDotEnvIfPresent(".env")

	if path, err := fs.GetString("config"); err == nil && path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, err
		}
	}

	var errs []error
	applyEnv(&cfg, &errs)
	applyFlags(fs, &cfg, &errs)
	if len(errs) > 0 {
		return cfg, errors.Join(errs...)
	}

	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyFlags(fs *pflag.FlagSet, cfg *Config, errs *[]error) {
	setString := func(name string, dst *string) {
		if fs.Changed(name) {
			v, err := fs.GetString(name)
			collect(errs, name, err)
			*dst = v
		}
	}
	setFloat := func(name string, dst *float64) {
		if fs.Changed(name) {
			v, err := fs.GetFloat64(name)
			collect(errs, name, err)
			*dst = v
		}
	}
	setInt := func(name string, dst *int) {
		if fs.Changed(name) {
			v, err := fs.GetInt(name)
			collect(errs, name, err)
			*dst = v
		}
	}

	setString("addr", &cfg.Addr)
	setString("base-url", &cfg.BaseURL)
	setFloat("allocation-pct", &cfg.AllocationPct)
	setFloat("min-notional", &cfg.MinNotional)
	setFloat("fee-buffer", &cfg.FeeBuffer)
	setFloat("profit-target", &cfg.ProfitTarget)
	if fs.Changed("poll-interval") {
		v, err := fs.GetDuration("poll-interval")
		collect(errs, "poll-interval", err)
		cfg.PollInterval = v
	}
	setInt("poll-attempts", &cfg.PollAttempts)
	setFloat("broker-rps", &cfg.BrokerRPS)
	setInt("broker-burst", &cfg.BrokerBurst)
	setString("journal-path", &cfg.JournalPath)
	setString("log-level", &cfg.LogLevel)
	setString("log-format", &cfg.LogFormat)
}

func collect(errs *[]error, name string, err error) {
	if err != nil {
		*errs = append(*errs, fmt.Errorf("flag --%s: %w", name, err))
	}
}

func validate(cfg Config) error {
	var errs []error
	if cfg.APIKey == "" || cfg.APISecret == "" {
		errs = append(errs, fmt.Errorf("%w: APCA_API_KEY_ID and APCA_API_SECRET_KEY are required", execution.ErrMissingCredentials))
	}
	if cfg.Addr == "" {
		errs = append(errs, fmt.Errorf("addr must not be empty"))
	}
	if cfg.AllocationPct < 0 {
		errs = append(errs, fmt.Errorf("allocation-pct must be >= 0"))
	}
	if cfg.MinNotional <= 0 {
		errs = append(errs, fmt.Errorf("min-notional must be > 0"))
	}
	if cfg.FeeBuffer < 0 {
		errs = append(errs, fmt.Errorf("fee-buffer must be >= 0"))
	}
	if cfg.ProfitTarget < 0 {
		errs = append(errs, fmt.Errorf("profit-target must be >= 0"))
	}
	if cfg.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll-interval must be > 0"))
	}
	if cfg.PollAttempts <= 0 {
		errs = append(errs, fmt.Errorf("poll-attempts must be > 0"))
	}
	if cfg.BrokerRPS < 0 {
		errs = append(errs, fmt.Errorf("broker-rps must be >= 0"))
	}
	if _, err := parseLevel(cfg.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if cfg.LogFormat != FormatText && cfg.LogFormat != FormatJSON {
		errs = append(errs, fmt.Errorf("invalid log format: %s", cfg.LogFormat))
	}
	return errors.Join(errs...)
}

// Execution builds the engine configuration from the loaded settings.
func (c Config) Execution() execution.Config {
	return execution.Config{
		Policy: execution.Policy{
			AllocationFraction: decimal.NewFromFloat(c.AllocationPct),
			MinNotional:        decimal.NewFromFloat(c.MinNotional),
			FeeBuffer:          decimal.NewFromFloat(c.FeeBuffer),
			ProfitTarget:       decimal.NewFromFloat(c.ProfitTarget),
		},
		PollInterval:    c.PollInterval,
		MaxPollAttempts: c.PollAttempts,
	}
}

func (c Config) SlogLevel() slog.Level {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", s)
	}
	return level, nil
}
