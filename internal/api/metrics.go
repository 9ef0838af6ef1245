package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// serverMetrics exposes run counters and latencies on /metrics.
type serverMetrics struct {
	registry      *prometheus.Registry
	runsStarted   prometheus.Counter
	runsCompleted prometheus.Counter
	runsFailed    prometheus.Counter
	runDuration   prometheus.Histogram
	wsClients     prometheus.Gauge
}

func newServerMetrics() *serverMetrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	return &serverMetrics{
		registry: registry,
		runsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "quant_backtest_runs_started_total",
			Help: "Backtest runs accepted by the API.",
		}),
		runsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "quant_backtest_runs_completed_total",
			Help: "Backtest runs finished successfully.",
		}),
		runsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "quant_backtest_runs_failed_total",
			Help: "Backtest runs that ended in an error.",
		}),
		runDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "quant_backtest_run_duration_seconds",
			Help:    "Wall clock duration of completed backtest runs.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		wsClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "quant_websocket_clients",
			Help: "Currently connected WebSocket clients.",
		}),
	}
}
