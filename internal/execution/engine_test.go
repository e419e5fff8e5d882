package execution

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBroker struct {
	mu         sync.Mutex
	account    AccountSnapshot
	accountErr error
	buyErr     error
	sellErr    error
	pollErr    error
	statuses   []Order
	submitted  []OrderRequest
	polls      int
}

func (f *fakeBroker) AccountSnapshot(ctx context.Context) (AccountSnapshot, error) {
	if f.accountErr != nil {
		return AccountSnapshot{}, f.accountErr
	}
	return f.account, nil
}

func (f *fakeBroker) SubmitOrder(ctx context.Context, req OrderRequest) (Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, req)
	if req.Side == Buy {
		if f.buyErr != nil {
			return Order{}, f.buyErr
		}
		return Order{ID: "buy-1", Status: "pending_new", Side: Buy, Type: Market}, nil
	}
	if f.sellErr != nil {
		return Order{}, f.sellErr
	}
	return Order{ID: "sell-1", Status: "new", Side: Sell, Type: Limit}, nil
}

func (f *fakeBroker) GetOrder(ctx context.Context, orderID string) (Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if f.pollErr != nil {
		return Order{}, f.pollErr
	}
	idx := f.polls - 1
	if idx >= len(f.statuses) {
		idx = len(f.statuses) - 1
	}
	order := f.statuses[idx]
	order.ID = orderID
	return order, nil
}

type upstreamErr struct {
	payload string
}

func (e upstreamErr) Error() string  { return "upstream: " + e.payload }
func (e upstreamErr) Detail() string { return e.payload }

func pending() Order {
	return Order{Status: "pending_new"}
}

func filledAt(avg, qty string) Order {
	a, q := dec(avg), dec(qty)
	return Order{Status: StatusFilled, FilledAvgPrice: &a, FilledQty: &q}
}

func newTestEngine(t *testing.T, broker *fakeBroker, opts ...Option) (*Engine, *int) {
	t.Helper()
	waits := 0
	base := []Option{
		WithWaiter(func(ctx context.Context, d time.Duration) error {
			assert.Equal(t, DefaultPollInterval, d)
			waits++
			return nil
		}),
		WithRunIDs(func() string { return "run" }),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	engine, err := New(broker, DefaultConfig(), append(base, opts...)...)
	require.NoError(t, err)
	return engine, &waits
}

func TestExecuteBuyThenSellEndToEnd(t *testing.T) {
	broker := &fakeBroker{
		account:  AccountSnapshot{NonMarginableBuyingPower: dec("1000")},
		statuses: []Order{filledAt("50000", "0.002")},
	}
	engine, waits := newTestEngine(t, broker)

	res, err := engine.Execute(context.Background(), TradeRequest{Symbol: "BTC/USD"})
	require.NoError(t, err)

	require.Len(t, broker.submitted, 2)
	buy := broker.submitted[0]
	assert.Equal(t, Buy, buy.Side)
	assert.Equal(t, Market, buy.Type)
	assert.Equal(t, "BTC/USD", buy.Symbol)
	assert.Equal(t, "run-1-buy", buy.ClientOrderID)
	require.NotNil(t, buy.Notional)
	assert.True(t, buy.Notional.Equal(dec("100")), "notional %s", buy.Notional)
	assert.Nil(t, buy.Qty)

	sell := broker.submitted[1]
	assert.Equal(t, Sell, sell.Side)
	assert.Equal(t, Limit, sell.Type)
	assert.Equal(t, "run-2-sell", sell.ClientOrderID)
	require.NotNil(t, sell.Qty)
	assert.Equal(t, "0.00200000", FormatQty(*sell.Qty))
	require.NotNil(t, sell.LimitPrice)
	assert.Equal(t, "50150.00", FormatPrice(*sell.LimitPrice))

	assert.Equal(t, "buy-1", res.Buy.ID)
	assert.Equal(t, StatusFilled, res.Buy.Status)
	assert.True(t, res.Buy.FilledAvgPrice.Equal(dec("50000")))
	assert.True(t, res.Buy.FilledQty.Equal(dec("0.002")))
	assert.Equal(t, "sell-1", res.Sell.ID)
	assert.Equal(t, "new", res.Sell.Status)
	assert.Equal(t, "0.00200000", res.Sell.Qty)
	assert.True(t, res.Sell.LimitPrice.Equal(dec("50150")))
	assert.Equal(t, 1, broker.polls)
	assert.Equal(t, 0, *waits)
}

func TestExecuteAppliesRequestOverrides(t *testing.T) {
	broker := &fakeBroker{
		account:  AccountSnapshot{NonMarginableBuyingPower: dec("1000")},
		statuses: []Order{filledAt("2", "25")},
	}
	engine, _ := newTestEngine(t, broker)

	res, err := engine.Execute(context.Background(), TradeRequest{
		Symbol:             "DOGE/USD",
		AllocationFraction: decimal.NewNullDecimal(dec("0.05")),
		FeeBuffer:          decimal.NewNullDecimal(dec("0.01")),
		ProfitTarget:       decimal.NewNullDecimal(dec("0.02")),
	})
	require.NoError(t, err)

	assert.True(t, broker.submitted[0].Notional.Equal(dec("50")))
	assert.True(t, res.Sell.LimitPrice.Equal(dec("2.06")), "limit %s", res.Sell.LimitPrice)
}

func TestExecuteUsesMinNotionalFloor(t *testing.T) {
	broker := &fakeBroker{
		account:  AccountSnapshot{NonMarginableBuyingPower: dec("20")},
		statuses: []Order{filledAt("0.5", "10")},
	}
	engine, _ := newTestEngine(t, broker)

	_, err := engine.Execute(context.Background(), TradeRequest{Symbol: "ADA/USD"})
	require.NoError(t, err)
	assert.True(t, broker.submitted[0].Notional.Equal(dec("5")))
}

func TestExecutePollsUntilFilled(t *testing.T) {
	broker := &fakeBroker{
		account:  AccountSnapshot{NonMarginableBuyingPower: dec("1000")},
		statuses: []Order{pending(), pending(), filledAt("100", "1")},
	}
	engine, waits := newTestEngine(t, broker)

	res, err := engine.Execute(context.Background(), TradeRequest{Symbol: "SOL/USD"})
	require.NoError(t, err)
	assert.Equal(t, 3, broker.polls)
	assert.Equal(t, 2, *waits)
	assert.Equal(t, "100.3000", res.Sell.LimitPrice.StringFixed(4))
}

func TestExecuteStopsOnRejection(t *testing.T) {
	broker := &fakeBroker{
		account:  AccountSnapshot{NonMarginableBuyingPower: dec("1000")},
		statuses: []Order{{Status: StatusRejected, RejectReason: "insufficient balance"}, pending()},
	}
	engine, waits := newTestEngine(t, broker)

	_, err := engine.Execute(context.Background(), TradeRequest{Symbol: "BTC/USD"})
	require.ErrorIs(t, err, ErrOrderRejected)
	assert.NotErrorIs(t, err, ErrPositionOpen)
	assert.Contains(t, err.Error(), "insufficient balance")
	assert.Equal(t, 1, broker.polls)
	assert.Equal(t, 0, *waits)
	assert.Len(t, broker.submitted, 1)
}

func TestExecuteCanceledWithoutReason(t *testing.T) {
	broker := &fakeBroker{
		account:  AccountSnapshot{NonMarginableBuyingPower: dec("1000")},
		statuses: []Order{pending(), {Status: StatusCanceled}},
	}
	engine, _ := newTestEngine(t, broker)

	_, err := engine.Execute(context.Background(), TradeRequest{Symbol: "BTC/USD"})
	var execErr *Error
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, StepFill, execErr.Step)
	assert.Contains(t, execErr.Detail, "canceled: no reason")
	assert.Equal(t, 2, broker.polls)
}

func TestExecuteTimesOutAfterMaxPolls(t *testing.T) {
	broker := &fakeBroker{
		account:  AccountSnapshot{NonMarginableBuyingPower: dec("1000")},
		statuses: []Order{pending()},
	}
	engine, waits := newTestEngine(t, broker)

	_, err := engine.Execute(context.Background(), TradeRequest{Symbol: "BTC/USD"})
	require.ErrorIs(t, err, ErrFillTimeout)
	assert.Equal(t, DefaultMaxPollAttempts, broker.polls)
	assert.Equal(t, DefaultMaxPollAttempts-1, *waits)
	assert.Len(t, broker.submitted, 1)
}

func TestExecuteWaitInterruptedIsFillTimeout(t *testing.T) {
	broker := &fakeBroker{
		account:  AccountSnapshot{NonMarginableBuyingPower: dec("1000")},
		statuses: []Order{pending()},
	}
	engine, err := New(broker, DefaultConfig(),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = engine.Execute(ctx, TradeRequest{Symbol: "BTC/USD"})
	require.ErrorIs(t, err, ErrFillTimeout)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, broker.polls)
}

func TestExecuteRejectsNonPositiveBuyingPower(t *testing.T) {
	for _, bp := range []string{"0", "-25"} {
		broker := &fakeBroker{account: AccountSnapshot{NonMarginableBuyingPower: dec(bp)}}
		engine, _ := newTestEngine(t, broker)

		_, err := engine.Execute(context.Background(), TradeRequest{Symbol: "BTC/USD"})
		require.ErrorIs(t, err, ErrInsufficientBuyingPower, "bp=%s", bp)
		assert.Empty(t, broker.submitted)
	}
}

func TestExecuteAccountFailure(t *testing.T) {
	broker := &fakeBroker{accountErr: upstreamErr{payload: `{"message":"forbidden"}`}}
	engine, _ := newTestEngine(t, broker)

	_, err := engine.Execute(context.Background(), TradeRequest{Symbol: "BTC/USD"})
	require.ErrorIs(t, err, ErrAccountUnavailable)
	var execErr *Error
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, `{"message":"forbidden"}`, execErr.Detail)
}

func TestExecuteRequiresSymbol(t *testing.T) {
	broker := &fakeBroker{}
	engine, _ := newTestEngine(t, broker)

	_, err := engine.Execute(context.Background(), TradeRequest{Symbol: "  "})
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestExecuteBuySubmissionFailure(t *testing.T) {
	broker := &fakeBroker{
		account: AccountSnapshot{NonMarginableBuyingPower: dec("1000")},
		buyErr:  upstreamErr{payload: "notional below minimum"},
	}
	engine, _ := newTestEngine(t, broker)

	_, err := engine.Execute(context.Background(), TradeRequest{Symbol: "BTC/USD"})
	require.ErrorIs(t, err, ErrOrderSubmissionFailed)
	assert.NotErrorIs(t, err, ErrPositionOpen)

	var execErr *Error
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, StepBuy, execErr.Step)
	assert.Equal(t, "notional below minimum", execErr.Detail)
	assert.False(t, execErr.PositionOpen())
	assert.Equal(t, 0, broker.polls)
}

func TestExecuteOrderLookupFailure(t *testing.T) {
	broker := &fakeBroker{
		account: AccountSnapshot{NonMarginableBuyingPower: dec("1000")},
		pollErr: errors.New("connection reset"),
	}
	engine, _ := newTestEngine(t, broker)

	_, err := engine.Execute(context.Background(), TradeRequest{Symbol: "BTC/USD"})
	require.ErrorIs(t, err, ErrOrderLookupFailed)
	assert.Len(t, broker.submitted, 1)
}

func TestExecuteInvalidFillDataLeavesPositionOpen(t *testing.T) {
	qty := dec("0.5")
	zero := decimal.Zero
	cases := map[string]Order{
		"missing avg": {Status: StatusFilled, FilledQty: &qty},
		"missing qty": {Status: StatusFilled, FilledAvgPrice: &qty},
		"zero qty":    {Status: StatusFilled, FilledAvgPrice: &qty, FilledQty: &zero},
	}
	for name, order := range cases {
		t.Run(name, func(t *testing.T) {
			broker := &fakeBroker{
				account:  AccountSnapshot{NonMarginableBuyingPower: dec("1000")},
				statuses: []Order{order},
			}
			engine, _ := newTestEngine(t, broker)

			_, err := engine.Execute(context.Background(), TradeRequest{Symbol: "ETH/USD"})
			require.ErrorIs(t, err, ErrInvalidFillData)
			assert.ErrorIs(t, err, ErrPositionOpen)
			assert.Len(t, broker.submitted, 1)
		})
	}
}

func TestExecuteSellFailureLeavesPositionOpen(t *testing.T) {
	broker := &fakeBroker{
		account:  AccountSnapshot{NonMarginableBuyingPower: dec("1000")},
		statuses: []Order{filledAt("3000", "0.0333")},
		sellErr:  upstreamErr{payload: "qty exceeds available"},
	}
	engine, _ := newTestEngine(t, broker)

	_, err := engine.Execute(context.Background(), TradeRequest{Symbol: "ETH/USD"})
	require.ErrorIs(t, err, ErrOrderSubmissionFailed)
	require.ErrorIs(t, err, ErrPositionOpen)

	var execErr *Error
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, StepSell, execErr.Step)
	assert.True(t, execErr.PositionOpen())
	assert.Equal(t, "buy-1", execErr.Buy.ID)
	assert.True(t, execErr.Buy.FilledQty.Equal(dec("0.0333")))
	assert.Equal(t, "order_submission_failed", KindName(err))
}

func TestExecuteNotifiesObservers(t *testing.T) {
	var records []Record
	observer := ObserverFunc(func(rec Record) {
		records = append(records, rec)
	})

	ok := &fakeBroker{
		account:  AccountSnapshot{NonMarginableBuyingPower: dec("1000")},
		statuses: []Order{pending(), filledAt("100", "1")},
	}
	engine, _ := newTestEngine(t, ok, WithObserver(observer))
	_, err := engine.Execute(context.Background(), TradeRequest{Symbol: "SOL/USD"})
	require.NoError(t, err)

	failing := &fakeBroker{account: AccountSnapshot{}}
	engine, _ = newTestEngine(t, failing, WithObserver(observer))
	_, err = engine.Execute(context.Background(), TradeRequest{Symbol: "SOL/USD"})
	require.Error(t, err)

	require.Len(t, records, 2)
	assert.Equal(t, OutcomeCompleted, records[0].Outcome())
	assert.Equal(t, 2, records[0].Polls)
	assert.True(t, records[0].BuyNotional.Equal(dec("100")))
	require.NotNil(t, records[0].Result)
	assert.Equal(t, OutcomeFailed, records[1].Outcome())
	assert.Nil(t, records[1].Result)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPollAttempts = -1
	_, err := New(&fakeBroker{}, cfg)
	assert.Error(t, err)

	_, err = New(nil, DefaultConfig())
	assert.Error(t, err)
}

func TestWaitForContext(t *testing.T) {
	require.NoError(t, WaitForContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, WaitForContext(ctx, time.Hour), context.Canceled)
}
