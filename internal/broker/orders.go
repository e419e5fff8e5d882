package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"bullish/internal/execution"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"
)

// orderBody is the POST /v2/orders payload. Amounts are pre-formatted strings:
// decimal.Decimal marshals in its shortest form, which would drop the
// fixed 8-place quantity the sell is sent with.
type orderBody struct {
	Symbol        string             `json:"symbol"`
	Qty           string             `json:"qty,omitempty"`
	Notional      string             `json:"notional,omitempty"`
	Side          alpaca.Side        `json:"side"`
	Type          alpaca.OrderType   `json:"type"`
	TimeInForce   alpaca.TimeInForce `json:"time_in_force"`
	LimitPrice    string             `json:"limit_price,omitempty"`
	ClientOrderID string             `json:"client_order_id,omitempty"`
}

func newOrderBody(req execution.OrderRequest) orderBody {
	body := orderBody{
		Symbol:        req.Symbol,
		Side:          alpaca.Side(req.Side),
		Type:          alpaca.OrderType(req.Type),
		TimeInForce:   alpaca.GTC,
		ClientOrderID: req.ClientOrderID,
	}
	if req.Qty != nil {
		body.Qty = execution.FormatQty(*req.Qty)
	}
	body.Notional = decimalString(req.Notional)
	body.LimitPrice = decimalString(req.LimitPrice)
	return body
}

func decimalString(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.String()
}

func (c *Client) placeOrder(ctx context.Context, body orderBody) (*alpaca.Order, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/orders", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("APCA-API-KEY-ID", c.apiKey)
	httpReq.Header.Set("APCA-API-SECRET-KEY", c.apiSecret)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		return nil, alpaca.APIErrorFromResponse(resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read order response: %w", err)
	}
	var order alpaca.Order
	if err := json.Unmarshal(data, &order); err != nil {
		return nil, fmt.Errorf("decode order response: %w", err)
	}
	return &order, nil
}
