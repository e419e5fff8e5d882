package execution

import (
	"errors"
	"fmt"
)

var (
	ErrMissingCredentials      = errors.New("missing brokerage credentials")
	ErrInvalidRequest          = errors.New("invalid trade request")
	ErrAccountUnavailable      = errors.New("account lookup failed")
	ErrInsufficientBuyingPower = errors.New("insufficient non-marginable buying power")
	ErrOrderSubmissionFailed   = errors.New("order submission failed")
	ErrOrderRejected           = errors.New("order rejected")
	ErrOrderLookupFailed       = errors.New("order lookup failed")
	ErrFillTimeout             = errors.New("timed out waiting for fill")
	ErrInvalidFillData         = errors.New("filled order missing avg price or qty")

	// ErrPositionOpen matches any failure that happened after the buy filled.
	// The bought quantity is held with no sell order working against it.
	ErrPositionOpen = errors.New("buy filled but no sell was placed")
)

type Step string

const (
	StepRequest Step = "request"
	StepSizing  Step = "sizing"
	StepBuy     Step = "buy"
	StepFill    Step = "fill"
	StepPricing Step = "pricing"
	StepSell    Step = "sell"
)

// Error is the terminal failure of one run.
type Error struct {
	// Kind is one of the Err* sentinels above.
	Kind error
	Step Step
	// Detail is the upstream diagnostic (API message, reject reason) verbatim.
	Detail string
	// Err is the underlying cause, if any.
	Err error
	// Buy is set once the buy has filled.
	Buy *BuyResult
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Step, e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil && e.Err.Error() != e.Detail {
		msg += ": " + e.Err.Error()
	}
	if e.Buy != nil {
		msg += fmt.Sprintf(" (position open: buy %s filled %s @ %s)", e.Buy.ID, e.Buy.FilledQty, e.Buy.FilledAvgPrice)
	}
	return msg
}

func (e *Error) Unwrap() []error {
	errs := []error{e.Kind}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	if e.Buy != nil {
		errs = append(errs, ErrPositionOpen)
	}
	return errs
}

// PositionOpen reports whether the failure left a filled buy unhedged.
func (e *Error) PositionOpen() bool {
	return e.Buy != nil
}

// KindName returns a stable snake_case label for the error kind.
func KindName(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMissingCredentials):
		return "missing_credentials"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrAccountUnavailable):
		return "account_unavailable"
	case errors.Is(err, ErrInsufficientBuyingPower):
		return "insufficient_buying_power"
	case errors.Is(err, ErrOrderSubmissionFailed):
		return "order_submission_failed"
	case errors.Is(err, ErrOrderRejected):
		return "order_rejected"
	case errors.Is(err, ErrOrderLookupFailed):
		return "order_lookup_failed"
	case errors.Is(err, ErrFillTimeout):
		return "fill_timeout"
	case errors.Is(err, ErrInvalidFillData):
		return "invalid_fill_data"
	default:
		return "unknown"
	}
}

// Detailer is implemented by brokerage errors that carry a raw upstream
// payload worth surfacing to operators.
type Detailer interface {
	Detail() string
}

func detailOf(err error) string {
	var d Detailer
	if errors.As(err, &d) {
		return d.Detail()
	}
	if err != nil {
		return err.Error()
	}
	return ""
}
