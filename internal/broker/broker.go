package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"bullish/internal/execution"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const DefaultBaseURL = "https://paper-api.alpaca.markets"

type Options struct {
	APIKey    string
	APISecret string
	BaseURL   string
	// RequestsPerSecond and Burst pace calls to the trading API. Zero
	// disables pacing.
	RequestsPerSecond float64
	Burst             int
	Metrics           Metrics
}

// Metrics receives one observation per brokerage call.
type Metrics interface {
	ObserveBrokerCall(op string, err error)
}

type AccountSummary struct {
	Equity                   decimal.Decimal `json:"equity"`
	LastEquity               decimal.Decimal `json:"lastEquity"`
	DayChange                decimal.Decimal `json:"dayChange"`
	BuyingPower              decimal.Decimal `json:"buying_power"`
	NonMarginableBuyingPower decimal.Decimal `json:"non_marginable_buying_power"`
	Status                   string          `json:"status"`
	AccountBlocked           bool            `json:"account_blocked"`
	TradeSuspendedByUser     bool            `json:"trade_suspended_by_user"`
}

// APIError is a brokerage-side failure with the upstream payload preserved.
type APIError struct {
	Op         string
	StatusCode int
	Code       int
	Message    string
	// Body is the raw response body.
	Body string
	Err  error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: alpaca status=%d code=%d: %s", e.Op, e.StatusCode, e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

func (e *APIError) Detail() string {
	if e.Body != "" {
		return e.Body
	}
	return e.Message
}

type Client struct {
	client    *alpaca.Client
	http      *http.Client
	baseURL   string
	apiKey    string
	apiSecret string
	limiter   *rate.Limiter
	metrics   Metrics
}

var _ execution.Brokerage = (*Client)(nil)

func New(opts Options) (*Client, error) {
	if opts.APIKey == "" || opts.APISecret == "" {
		return nil, execution.ErrMissingCredentials
	}
	baseURL := NormalizeBaseURL(opts.BaseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := &http.Client{Timeout: 10 * time.Second}
	c := &Client{
		client: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:     opts.APIKey,
			APISecret:  opts.APISecret,
			BaseURL:    baseURL,
			HTTPClient: httpClient,
		}),
		http:      httpClient,
		baseURL:   baseURL,
		apiKey:    opts.APIKey,
		apiSecret: opts.APISecret,
		limiter:   rate.NewLimiter(rate.Inf, 0),
		metrics:   opts.Metrics,
	}
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return c, nil
}

// NormalizeBaseURL strips a trailing /v2, which the SDK appends itself.
func NormalizeBaseURL(raw string) string {
	u := strings.TrimRight(strings.TrimSpace(raw), "/")
	return strings.TrimSuffix(u, "/v2")
}

func (c *Client) AccountSnapshot(ctx context.Context) (execution.AccountSnapshot, error) {
	acct, err := c.account(ctx)
	if err != nil {
		return execution.AccountSnapshot{}, err
	}
	slog.Info("account fetched", "non_marginable_buying_power", acct.NonMarginBuyingPower, "status", acct.Status)
	return execution.AccountSnapshot{NonMarginableBuyingPower: acct.NonMarginBuyingPower}, nil
}

func (c *Client) Account(ctx context.Context) (AccountSummary, error) {
	acct, err := c.account(ctx)
	if err != nil {
		return AccountSummary{}, err
	}
	equity := acct.Equity
	lastEquity := acct.LastEquity
	if lastEquity.IsZero() {
		lastEquity = equity
	}
	dayChange := decimal.Zero
	if !lastEquity.IsZero() {
		dayChange = equity.Sub(lastEquity).Div(lastEquity)
	}

	slog.Info("account fetched", "equity", equity, "buying_power", acct.BuyingPower, "status", acct.Status)
	return AccountSummary{
		Equity:                   equity,
		LastEquity:               lastEquity,
		DayChange:                dayChange,
		BuyingPower:              acct.BuyingPower,
		NonMarginableBuyingPower: acct.NonMarginBuyingPower,
		Status:                   string(acct.Status),
		AccountBlocked:           acct.AccountBlocked,
		TradeSuspendedByUser:     acct.TradeSuspendedByUser,
	}, nil
}

func (c *Client) account(ctx context.Context) (*alpaca.Account, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	acct, err := c.client.GetAccount()
	c.observe("get_account", err)
	if err != nil {
		slog.Error("fetch account failed", "error", err)
		return nil, wrap("get account", err)
	}
	return acct, nil
}

func (c *Client) SubmitOrder(ctx context.Context, req execution.OrderRequest) (execution.Order, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return execution.Order{}, err
	}
	order, err := c.placeOrder(ctx, newOrderBody(req))
	c.observe("place_order", err)
	if err != nil {
		slog.Error("place order failed", "side", req.Side, "symbol", req.Symbol, "type", req.Type, "client_order_id", req.ClientOrderID, "error", err)
		return execution.Order{}, wrap("place order", err)
	}

	slog.Info("place order success", "order_id", order.ID, "side", req.Side, "symbol", req.Symbol, "type", req.Type, "status", order.Status)
	return toOrder(order), nil
}

func (c *Client) GetOrder(ctx context.Context, orderID string) (execution.Order, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return execution.Order{}, err
	}
	order, err := c.client.GetOrder(orderID)
	c.observe("get_order", err)
	if err != nil {
		slog.Error("fetch order failed", "order_id", orderID, "error", err)
		return execution.Order{}, wrap("get order", err)
	}
	slog.Debug("order polled", "order_id", order.ID, "status", order.Status)
	return toOrder(order), nil
}

func (c *Client) observe(op string, err error) {
	if c.metrics != nil {
		c.metrics.ObserveBrokerCall(op, err)
	}
}

func toOrder(order *alpaca.Order) execution.Order {
	out := execution.Order{
		ID:             order.ID,
		ClientOrderID:  order.ClientOrderID,
		Status:         string(order.Status),
		Side:           execution.Side(order.Side),
		Type:           execution.OrderType(order.Type),
		FilledAvgPrice: order.FilledAvgPrice,
	}
	if !order.FilledQty.IsZero() {
		qty := order.FilledQty
		out.FilledQty = &qty
	}
	return out
}

func wrap(op string, err error) error {
	var apiErr *alpaca.APIError
	if errors.As(err, &apiErr) {
		return &APIError{
			Op:         op,
			StatusCode: apiErr.StatusCode,
			Code:       apiErr.Code,
			Message:    apiErr.Message,
			Body:       apiErr.Body,
			Err:        err,
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
