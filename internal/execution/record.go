package execution

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

const (
	OutcomeCompleted    = "completed"
	OutcomeFailed       = "failed"
	OutcomePositionOpen = "position_open"
)

// Record summarises a finished run for observers. It is never read back by
// the engine.
type Record struct {
	RunID       string
	Symbol      string
	StartedAt   time.Time
	Duration    time.Duration
	Polls       int
	BuyNotional decimal.Decimal
	Result      *Result
	Err         error
}

func (r Record) Outcome() string {
	switch {
	case r.Err == nil:
		return OutcomeCompleted
	case errors.Is(r.Err, ErrPositionOpen):
		return OutcomePositionOpen
	default:
		return OutcomeFailed
	}
}

type Observer interface {
	ObserveRun(rec Record)
}

// ObserverFunc adapts a plain function to Observer.
type ObserverFunc func(rec Record)

func (f ObserverFunc) ObserveRun(rec Record) {
	f(rec)
}
