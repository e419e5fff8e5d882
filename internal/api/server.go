// Package api serves the JSON endpoints the mobile client calls.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"bullish/internal/broker"
	"bullish/internal/execution"
)

type Executor interface {
	Execute(ctx context.Context, req execution.TradeRequest) (execution.Result, error)
}

type AccountReader interface {
	Account(ctx context.Context) (broker.AccountSummary, error)
}

type Server struct {
	exec     Executor
	accounts AccountReader
	metrics  http.Handler
	now      func() time.Time
	srv      *http.Server
}

// New wires the handlers. metrics may be nil.
func New(exec Executor, accounts AccountReader, metrics http.Handler) *Server {
	return &Server{
		exec:     exec,
		accounts: accounts,
		metrics:  metrics,
		now:      time.Now,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ping", s.handlePing)
	mux.HandleFunc("GET /api/ping", s.handleAPIPing)
	mux.HandleFunc("GET /api/account", s.handleAccount)
	mux.HandleFunc("POST /api/trade", s.handleTrade)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	return withCORS(withRequestLog(mux))
}

// ListenAndServe blocks until ctx is done, then drains in-flight requests.
// A trade already in progress keeps running to completion during the drain.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("api listening", "addr", addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("api shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("write response failed", "error", err)
	}
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Debug("http request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start))
	})
}
