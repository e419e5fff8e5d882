// Package execution runs the buy-then-sell workflow against a brokerage:
// size a market buy from buying power, wait for it to fill, then rest a limit
// sell above the fill price.
//
// Runs are independent. Nothing serialises concurrent runs on the same
// account, so two runs sizing off the same snapshot can jointly commit more
// than one allocation of buying power.
package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"bullish/internal/id"

	"github.com/shopspring/decimal"
)

// Waiter blocks for d or until ctx is done.
type Waiter func(ctx context.Context, d time.Duration) error

type Engine struct {
	broker    Brokerage
	cfg       Config
	wait      Waiter
	newRunID  func() string
	observers []Observer
	logger    *slog.Logger
}

type Option func(*Engine)

func WithWaiter(w Waiter) Option {
	return func(e *Engine) {
		e.wait = w
	}
}

func WithObserver(o Observer) Option {
	return func(e *Engine) {
		e.observers = append(e.observers, o)
	}
}

func WithRunIDs(fn func() string) Option {
	return func(e *Engine) {
		e.newRunID = fn
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func New(broker Brokerage, cfg Config, opts ...Option) (*Engine, error) {
	if broker == nil {
		return nil, errors.New("execution: nil brokerage")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("execution: %w", err)
	}
	e := &Engine{
		broker:   broker,
		cfg:      cfg,
		wait:     WaitForContext,
		newRunID: id.New,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Engine) Config() Config {
	return e.cfg
}

// Execute performs one buy-then-sell run. A failure in any step ends the run;
// nothing is retried and a filled buy is never unwound. Errors are *Error.
func (e *Engine) Execute(ctx context.Context, req TradeRequest) (Result, error) {
	rec := Record{
		RunID:     e.newRunID(),
		Symbol:    req.Symbol,
		StartedAt: time.Now().UTC(),
	}
	res, err := e.run(ctx, req, &rec)
	rec.Duration = time.Since(rec.StartedAt)
	rec.Err = err
	if err == nil {
		rec.Result = &res
	}
	for _, o := range e.observers {
		o.ObserveRun(rec)
	}
	return res, err
}

func (e *Engine) run(ctx context.Context, req TradeRequest, rec *Record) (Result, error) {
	log := e.logger.With("run_id", rec.RunID, "symbol", req.Symbol)

	if strings.TrimSpace(req.Symbol) == "" {
		return Result{}, &Error{Kind: ErrInvalidRequest, Step: StepRequest, Detail: "symbol is required"}
	}
	policy := e.cfg.Policy.Resolve(req)

	acct, err := e.broker.AccountSnapshot(ctx)
	if err != nil {
		log.Error("account lookup failed", "error", err)
		return Result{}, &Error{Kind: ErrAccountUnavailable, Step: StepSizing, Detail: detailOf(err), Err: err}
	}
	buyingPower := acct.NonMarginableBuyingPower
	if !buyingPower.IsPositive() {
		log.Error("insufficient buying power", "non_marginable_buying_power", buyingPower)
		return Result{}, &Error{
			Kind:   ErrInsufficientBuyingPower,
			Step:   StepSizing,
			Detail: fmt.Sprintf("non_marginable_buying_power=%s", buyingPower),
		}
	}
	notional := policy.BuyNotional(buyingPower)
	rec.BuyNotional = notional
	log.Info("sized buy", "non_marginable_buying_power", buyingPower, "allocation", policy.AllocationFraction, "notional", notional)

	buy, err := e.broker.SubmitOrder(ctx, OrderRequest{
		Symbol:        req.Symbol,
		Side:          Buy,
		Type:          Market,
		Notional:      &notional,
		ClientOrderID: clientOrderID(rec.RunID, 1, Buy),
	})
	if err != nil {
		log.Error("buy submission failed", "notional", notional, "error", err)
		return Result{}, &Error{Kind: ErrOrderSubmissionFailed, Step: StepBuy, Detail: detailOf(err), Err: err}
	}
	log.Info("buy submitted", "order_id", buy.ID, "status", buy.Status)

	filled, polls, err := e.awaitFill(ctx, buy.ID)
	rec.Polls = polls
	if err != nil {
		log.Error("buy did not fill", "order_id", buy.ID, "polls", polls, "error", err)
		return Result{}, err
	}

	bought := BuyResult{ID: filled.ID, Status: filled.Status}
	if filled.FilledAvgPrice != nil {
		bought.FilledAvgPrice = *filled.FilledAvgPrice
	}
	if filled.FilledQty != nil {
		bought.FilledQty = *filled.FilledQty
	}
	if !bought.FilledAvgPrice.IsPositive() || !bought.FilledQty.IsPositive() {
		log.Error("filled order missing fill data", "order_id", filled.ID, "avg", filled.FilledAvgPrice, "qty", filled.FilledQty)
		return Result{}, &Error{
			Kind:   ErrInvalidFillData,
			Step:   StepPricing,
			Detail: fmt.Sprintf("avg=%s, qty=%s", optString(filled.FilledAvgPrice), optString(filled.FilledQty)),
			Buy:    &bought,
		}
	}

	target := TargetPrice(bought.FilledAvgPrice, policy)
	qty := bought.FilledQty.Round(QtyPlaces)
	log.Info("buy filled", "order_id", filled.ID, "avg", bought.FilledAvgPrice, "qty", bought.FilledQty, "target", target)

	sell, err := e.broker.SubmitOrder(ctx, OrderRequest{
		Symbol:        req.Symbol,
		Side:          Sell,
		Type:          Limit,
		Qty:           &qty,
		LimitPrice:    &target,
		ClientOrderID: clientOrderID(rec.RunID, 2, Sell),
	})
	if err != nil {
		log.Error("sell submission failed, position left open", "buy_order_id", filled.ID, "qty", FormatQty(qty), "limit", target, "error", err)
		return Result{}, &Error{Kind: ErrOrderSubmissionFailed, Step: StepSell, Detail: detailOf(err), Err: err, Buy: &bought}
	}
	log.Info("sell submitted", "order_id", sell.ID, "status", sell.Status, "qty", FormatQty(qty), "limit", target)

	return Result{
		Buy: bought,
		Sell: SellResult{
			ID:         sell.ID,
			Status:     sell.Status,
			Qty:        FormatQty(qty),
			LimitPrice: target,
		},
	}, nil
}

// awaitFill polls at a fixed interval until the order reaches a terminal
// status or the attempt budget runs out. It returns the number of polls made.
func (e *Engine) awaitFill(ctx context.Context, orderID string) (Order, int, error) {
	for attempt := 1; attempt <= e.cfg.MaxPollAttempts; attempt++ {
		order, err := e.broker.GetOrder(ctx, orderID)
		if err != nil {
			return Order{}, attempt, &Error{Kind: ErrOrderLookupFailed, Step: StepFill, Detail: detailOf(err), Err: err}
		}

		switch order.Status {
		case StatusFilled:
			return order, attempt, nil
		case StatusCanceled, StatusRejected:
			reason := order.RejectReason
			if reason == "" {
				reason = "no reason"
			}
			return Order{}, attempt, &Error{
				Kind:   ErrOrderRejected,
				Step:   StepFill,
				Detail: fmt.Sprintf("buy order %s %s: %s", order.ID, order.Status, reason),
			}
		}

		if attempt == e.cfg.MaxPollAttempts {
			break
		}
		if err := e.wait(ctx, e.cfg.PollInterval); err != nil {
			return Order{}, attempt, &Error{Kind: ErrFillTimeout, Step: StepFill, Detail: "wait interrupted", Err: err}
		}
	}
	return Order{}, e.cfg.MaxPollAttempts, &Error{
		Kind:   ErrFillTimeout,
		Step:   StepFill,
		Detail: fmt.Sprintf("order %s not filled after %d polls", orderID, e.cfg.MaxPollAttempts),
	}
}

func clientOrderID(runID string, seq int, side Side) string {
	return fmt.Sprintf("%s-%d-%s", runID, seq, side)
}

func optString(d *decimal.Decimal) string {
	if d == nil {
		return "missing"
	}
	return d.String()
}

func WaitForContext(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
