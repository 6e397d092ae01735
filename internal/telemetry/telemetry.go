// Package telemetry exposes backtest run metrics in the Prometheus format.
// Metrics live on a private registry and are published by writing a
// node-exporter textfile after a batch.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Run outcome labels.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusTimeout   = "timeout"
)

// Metrics holds the run counters for one process.
type Metrics struct {
	reg *prometheus.Registry

	runsTotal    *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	tradesTotal  *prometheus.CounterVec
	totalReturn  *prometheus.GaugeVec
	barsReplayed prometheus.Counter
}

// New registers the run metrics on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		reg: reg,
		runsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backtest_runs_total",
				Help: "Total number of backtest runs by outcome",
			},
			[]string{"strategy", "status"},
		),
		runDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "backtest_run_duration_seconds",
				Help:    "Wall-clock duration of a backtest run",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
			},
			[]string{"strategy"},
		),
		tradesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backtest_trades_total",
				Help: "Closed trades recorded across runs",
			},
			[]string{"strategy", "symbol"},
		),
		totalReturn: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "backtest_total_return_percent",
				Help: "Total return of the latest run per display name",
			},
			[]string{"name"},
		),
		barsReplayed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "backtest_bars_replayed_total",
				Help: "Bars fed to strategies after filtering",
			},
		),
	}
}

// RunFinished records one run. trades and ret are ignored unless status is
// StatusCompleted.
func (m *Metrics) RunFinished(name, strategy, symbol, status string, d time.Duration, bars, trades int, ret float64) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(strategy, status).Inc()
	m.runDuration.WithLabelValues(strategy).Observe(d.Seconds())
	if status != StatusCompleted {
		return
	}
	m.barsReplayed.Add(float64(bars))
	m.tradesTotal.WithLabelValues(strategy, symbol).Add(float64(trades))
	m.totalReturn.WithLabelValues(name).Set(ret)
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// WriteTextfile writes the current metrics to path atomically, in the text
// exposition format read by the node exporter's textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.reg)
}
