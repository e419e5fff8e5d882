package execution

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	DefaultPollInterval    = 1500 * time.Millisecond
	DefaultMaxPollAttempts = 20
)

// Policy holds the sizing and pricing defaults applied when a TradeRequest
// leaves a field unset.
type Policy struct {
	AllocationFraction decimal.Decimal
	MinNotional        decimal.Decimal
	FeeBuffer          decimal.Decimal
	ProfitTarget       decimal.Decimal
}

func DefaultPolicy() Policy {
	return Policy{
		AllocationFraction: decimal.RequireFromString("0.10"),
		MinNotional:        decimal.NewFromInt(5),
		FeeBuffer:          decimal.RequireFromString("0.0025"),
		ProfitTarget:       decimal.RequireFromString("0.0005"),
	}
}

func (p Policy) Validate() error {
	if p.AllocationFraction.IsNegative() {
		return fmt.Errorf("allocation fraction must be >= 0")
	}
	if !p.MinNotional.IsPositive() {
		return fmt.Errorf("min notional must be > 0")
	}
	if p.FeeBuffer.IsNegative() {
		return fmt.Errorf("fee buffer must be >= 0")
	}
	if p.ProfitTarget.IsNegative() {
		return fmt.Errorf("profit target must be >= 0")
	}
	return nil
}

// Resolve layers the request's overrides on top of p. An override outside its
// valid range is ignored, the same as an absent one.
func (p Policy) Resolve(req TradeRequest) Policy {
	out := p
	if v, ok := nonNegative(req.AllocationFraction); ok {
		out.AllocationFraction = v
	}
	if req.MinNotional.Valid && req.MinNotional.Decimal.IsPositive() {
		out.MinNotional = req.MinNotional.Decimal
	}
	if v, ok := nonNegative(req.FeeBuffer); ok {
		out.FeeBuffer = v
	}
	if v, ok := nonNegative(req.ProfitTarget); ok {
		out.ProfitTarget = v
	}
	return out
}

func nonNegative(v decimal.NullDecimal) (decimal.Decimal, bool) {
	if !v.Valid || v.Decimal.IsNegative() {
		return decimal.Decimal{}, false
	}
	return v.Decimal, true
}

// BuyNotional floors the scaled allocation at the minimum order value.
func (p Policy) BuyNotional(buyingPower decimal.Decimal) decimal.Decimal {
	return decimal.Max(p.MinNotional, buyingPower.Mul(p.AllocationFraction))
}

// Markup is the multiplier applied to the fill price to reach the sell target.
func (p Policy) Markup() decimal.Decimal {
	return decimal.NewFromInt(1).Add(p.FeeBuffer).Add(p.ProfitTarget)
}

// Config is the engine's construction-time configuration.
type Config struct {
	Policy          Policy
	PollInterval    time.Duration
	MaxPollAttempts int
}

func DefaultConfig() Config {
	return Config{
		Policy:          DefaultPolicy(),
		PollInterval:    DefaultPollInterval,
		MaxPollAttempts: DefaultMaxPollAttempts,
	}
}

func (c Config) Validate() error {
	if err := c.Policy.Validate(); err != nil {
		return err
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be > 0")
	}
	if c.MaxPollAttempts <= 0 {
		return fmt.Errorf("max poll attempts must be > 0")
	}
	return nil
}
