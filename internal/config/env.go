package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// loadDotEnv sets variables from path without overriding ones already in the
// environment.
func loadDotEnv(path string) error {
	return godotenv.Load(path)
}

func loadDotEnvIfPresent(path string) {
	if err := loadDotEnv(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to load env file", "path", path, "error", err)
	}
}

func applyEnv(cfg *Config, errs *[]error) {
	if v := firstEnv("APCA_API_KEY_ID", "ALPACA_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := firstEnv("APCA_API_SECRET_KEY", "ALPACA_SECRET_KEY"); v != "" {
		cfg.APISecret = v
	}
	if v := firstEnv("ALPACA_BASE_URL", "APCA_API_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.Addr = ":" + v
	}
	if v := os.Getenv("JOURNAL_PATH"); v != "" {
		cfg.JournalPath = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}

	envFloat("ALLOCATION_PCT", &cfg.AllocationPct, errs)
	envFloat("MIN_NOTIONAL", &cfg.MinNotional, errs)
	envFloat("FEE_BUFFER", &cfg.FeeBuffer, errs)
	envFloat("PROFIT_TARGET", &cfg.ProfitTarget, errs)
	envFloat("BROKER_RPS", &cfg.BrokerRPS, errs)
	envInt("POLL_ATTEMPTS", &cfg.PollAttempts, errs)
	envInt("BROKER_BURST", &cfg.BrokerBurst, errs)
	if v := os.Getenv("POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid POLL_INTERVAL: %w", err))
		} else {
			cfg.PollInterval = d
		}
	}
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return ""
}

func envFloat(key string, dst *float64, errs *[]error) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
		return
	}
	*dst = f
}

func envInt(key string, dst *int, errs *[]error) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
		return
	}
	*dst = n
}
