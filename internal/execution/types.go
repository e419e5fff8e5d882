package execution

import (
	"context"

	"github.com/shopspring/decimal"
)

type Side string

type OrderType string

const (
	Buy  Side = "buy"
	Sell Side = "sell"

	Market OrderType = "market"
	Limit  OrderType = "limit"
)

const (
	StatusFilled   = "filled"
	StatusCanceled = "canceled"
	StatusRejected = "rejected"
)

// TradeRequest is one buy-then-sell invocation. Unset numeric fields fall
// back to the engine's Policy.
type TradeRequest struct {
	Symbol             string
	AllocationFraction decimal.NullDecimal
	MinNotional        decimal.NullDecimal
	FeeBuffer          decimal.NullDecimal
	ProfitTarget       decimal.NullDecimal
}

type AccountSnapshot struct {
	NonMarginableBuyingPower decimal.Decimal
}

// OrderRequest is what the engine asks the brokerage to place. Exactly one of
// Notional and Qty is set.
type OrderRequest struct {
	Symbol        string
	Side          Side
	Type          OrderType
	Notional      *decimal.Decimal
	Qty           *decimal.Decimal
	LimitPrice    *decimal.Decimal
	ClientOrderID string
}

type Order struct {
	ID             string
	ClientOrderID  string
	Status         string
	Side           Side
	Type           OrderType
	FilledAvgPrice *decimal.Decimal
	FilledQty      *decimal.Decimal
	RejectReason   string
}

// Brokerage is the capability the engine needs. Implementations are
// authenticated and safe for concurrent use.
type Brokerage interface {
	AccountSnapshot(ctx context.Context) (AccountSnapshot, error)
	SubmitOrder(ctx context.Context, req OrderRequest) (Order, error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
}

type BuyResult struct {
	ID             string          `json:"id"`
	Status         string          `json:"status"`
	FilledAvgPrice decimal.Decimal `json:"filled_avg_price"`
	FilledQty      decimal.Decimal `json:"filled_qty"`
}

type SellResult struct {
	ID         string          `json:"id"`
	Status     string          `json:"status"`
	Qty        string          `json:"qty"`
	LimitPrice decimal.Decimal `json:"limit_price"`
}

type Result struct {
	Buy  BuyResult  `json:"buy"`
	Sell SellResult `json:"sell"`
}
