// Package metrics exposes run and brokerage-call counters in Prometheus
// format.
package metrics

import (
	"net/http"

	"bullish/internal/execution"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry    *prometheus.Registry
	runs        *prometheus.CounterVec
	runDuration prometheus.Histogram
	fillPolls   prometheus.Histogram
	brokerCalls *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bullish_execution_runs_total",
			Help: "Buy-then-sell runs by outcome and error kind",
		}, []string{"outcome", "kind"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bullish_execution_run_duration_seconds",
			Help:    "Wall time of a buy-then-sell run",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 45, 60},
		}),
		fillPolls: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bullish_execution_fill_polls",
			Help:    "Order status polls made before the buy reached a terminal state",
			Buckets: prometheus.LinearBuckets(1, 2, 10),
		}),
		brokerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bullish_broker_requests_total",
			Help: "Brokerage API calls by operation and result",
		}, []string{"op", "result"}),
	}
	m.registry.MustRegister(
		m.runs,
		m.runDuration,
		m.fillPolls,
		m.brokerCalls,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) ObserveRun(rec execution.Record) {
	m.runs.WithLabelValues(rec.Outcome(), execution.KindName(rec.Err)).Inc()
	m.runDuration.Observe(rec.Duration.Seconds())
	if rec.Polls > 0 {
		m.fillPolls.Observe(float64(rec.Polls))
	}
}

func (m *Metrics) ObserveBrokerCall(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.brokerCalls.WithLabelValues(op, result).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
