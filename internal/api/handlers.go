package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"bullish/internal/execution"

	"github.com/shopspring/decimal"
)

type errorResponse struct {
	Error        string               `json:"error"`
	Kind         string               `json:"kind,omitempty"`
	Detail       string               `json:"detail,omitempty"`
	Step         string               `json:"step,omitempty"`
	PositionOpen bool                 `json:"position_open,omitempty"`
	Buy          *execution.BuyResult `json:"buy,omitempty"`
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAPIPing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "ts": s.now().UnixMilli()})
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	summary, err := s.accounts.Account(r.Context())
	if err != nil {
		slog.Error("account fetch failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Account fetch failed", Detail: upstreamDetail(err)})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleTrade(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeTradeRequest(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: `symbol is required, e.g. "BTC/USD"`})
		return
	}

	// The run outlives the request: a dropped connection must not abandon a
	// filled buy before its sell is placed.
	res, err := s.exec.Execute(context.WithoutCancel(r.Context()), req)
	if err != nil {
		slog.Error("trade failed", "symbol", req.Symbol, "error", err)
		writeJSON(w, statusFor(err), tradeError(err))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// decodeTradeRequest reads the trade body. Numeric overrides of the wrong JSON
// type are dropped so the engine's defaults apply; only the symbol is
// mandatory.
func decodeTradeRequest(r *http.Request) (execution.TradeRequest, bool) {
	body := map[string]any{}
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		body = map[string]any{}
	}

	symbol, _ := body["symbol"].(string)
	if symbol == "" {
		return execution.TradeRequest{}, false
	}
	return execution.TradeRequest{
		Symbol:             symbol,
		AllocationFraction: numberField(body, "notionalPct"),
		MinNotional:        numberField(body, "minNotional"),
		FeeBuffer:          numberField(body, "feeBuffer"),
		ProfitTarget:       numberField(body, "profitTarget"),
	}, true
}

func numberField(body map[string]any, key string) decimal.NullDecimal {
	n, ok := body[key].(json.Number)
	if !ok {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

// upstreamDetail prefers the brokerage's raw payload over the wrapped message.
func upstreamDetail(err error) string {
	var d execution.Detailer
	if errors.As(err, &d) {
		return d.Detail()
	}
	return err.Error()
}

func statusFor(err error) int {
	if errors.Is(err, execution.ErrInvalidRequest) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func tradeError(err error) errorResponse {
	resp := errorResponse{
		Error:  "Trade failed",
		Kind:   execution.KindName(err),
		Detail: err.Error(),
	}
	var execErr *execution.Error
	if errors.As(err, &execErr) {
		resp.Step = string(execErr.Step)
		if execErr.Detail != "" {
			resp.Detail = execErr.Detail
		}
		resp.PositionOpen = execErr.PositionOpen()
		resp.Buy = execErr.Buy
	}
	return resp
}
