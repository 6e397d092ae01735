package backtest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"quantlab/internal/broker"
	"quantlab/internal/domain"
	"quantlab/internal/engine"
	"quantlab/internal/strategy"
	"quantlab/internal/telemetry"
	"quantlab/internal/util"
)

// Batch defaults.
const (
	DefaultMaxConcurrent = 3
	DefaultTimeout       = 300 * time.Second
)

// BarSource supplies the price series for a symbol. store.ParquetStore
// satisfies it.
type BarSource interface {
	ReadBars(ctx context.Context, symbol string, market string, start, end time.Time) ([]domain.Bar, error)
}

// RunConfig is one entry of a batch.
type RunConfig struct {
	// Name overrides the "<strategy>_<SYMBOL>" base display name.
	Name     string
	Strategy string
	Symbol   string
	Params   strategy.Params
	Filters  []domain.FilterSpec
}

// RunnerConfig holds the settings shared by every run of a batch.
type RunnerConfig struct {
	Broker         broker.Config
	Market         domain.Market
	Start, End     time.Time
	PeriodsPerYear float64

	// MaxConcurrent bounds parallel runs; zero uses DefaultMaxConcurrent.
	MaxConcurrent int
	// Timeout abandons a run that takes longer; zero uses DefaultTimeout.
	Timeout time.Duration

	// Pre-trade limits applied to every run; zero disables.
	MaxPositionPct  float64
	MaxDailyLossPct float64
}

// Runner executes batches of runs. It is safe for concurrent use.
type Runner struct {
	registry *strategy.Registry
	source   BarSource
	cfg      RunnerConfig
	metrics  *telemetry.Metrics
	log      *slog.Logger
}

// NewRunner creates a Runner resolving strategies from reg and loading
// series from src. m may be nil to disable telemetry.
func NewRunner(reg *strategy.Registry, src BarSource, cfg RunnerConfig, m *telemetry.Metrics, log *slog.Logger) *Runner {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Market == "" {
		cfg.Market = domain.MarketUS
	}
	return &Runner{
		registry: reg,
		source:   src,
		cfg:      cfg,
		metrics:  m,
		log:      util.OrDefault(log),
	}
}

// RunBatch executes configs with bounded concurrency and returns the results
// of the runs that succeeded, in config order. A failing run is logged and
// omitted; it never stops the others.
func (r *Runner) RunBatch(ctx context.Context, configs []RunConfig) []*domain.RunResult {
	names := DisplayNames(configs)
	results := make([]*domain.RunResult, len(configs))
	loader := &barLoader{source: r.source, market: string(r.cfg.Market), start: r.cfg.Start, end: r.cfg.End}

	var g errgroup.Group
	g.SetLimit(r.cfg.MaxConcurrent)

	for i, rc := range configs {
		g.Go(func() error {
			started := time.Now()
			res, err := r.runWithTimeout(ctx, loader, names[i], rc)
			elapsed := time.Since(started)

			if err != nil {
				status := telemetry.StatusFailed
				if errors.Is(err, context.DeadlineExceeded) {
					status = telemetry.StatusTimeout
				}
				r.metrics.RunFinished(names[i], rc.Strategy, rc.Symbol, status, elapsed, 0, 0, 0)
				r.log.Error("run failed",
					"name", names[i],
					"strategy", rc.Strategy,
					"symbol", rc.Symbol,
					"status", status,
					"error", err,
				)
				return nil
			}

			r.metrics.RunFinished(names[i], rc.Strategy, rc.Symbol, telemetry.StatusCompleted,
				elapsed, res.NumBars, res.NumTrades, res.TotalReturn)
			r.log.Info("run done",
				"name", names[i],
				"trades", res.NumTrades,
				"total_return", res.TotalReturn,
				"sharpe_ratio", res.SharpeRatio,
				"elapsed", elapsed,
			)
			results[i] = res
			return nil
		})
	}
	_ = g.Wait() // run errors are absorbed above

	out := make([]*domain.RunResult, 0, len(results))
	for _, res := range results {
		if res != nil {
			out = append(out, res)
		}
	}
	return out
}

type outcome struct {
	res *domain.RunResult
	err error
}

// runWithTimeout abandons the run when it outlives the configured timeout.
// The abandoned goroutine stops at its next bar once ctx is done.
func (r *Runner) runWithTimeout(ctx context.Context, loader *barLoader, name string, rc RunConfig) (*domain.RunResult, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				ch <- outcome{err: fmt.Errorf("panic: %v", p)}
			}
		}()
		res, err := r.runOne(ctx, loader, name, rc)
		ch <- outcome{res: res, err: err}
	}()

	select {
	case o := <-ch:
		return o.res, o.err
	case <-ctx.Done():
		return nil, fmt.Errorf("run %s abandoned: %w", name, ctx.Err())
	}
}

func (r *Runner) runOne(ctx context.Context, loader *barLoader, name string, rc RunConfig) (*domain.RunResult, error) {
	factory, ok := r.registry.Get(rc.Strategy)
	if !ok {
		return nil, fmt.Errorf("%w: unknown strategy %q", domain.ErrConfig, rc.Strategy)
	}
	bars, err := loader.load(ctx, rc.Symbol)
	if err != nil {
		return nil, err
	}

	var risk *engine.RiskManager
	if r.cfg.MaxPositionPct > 0 || r.cfg.MaxDailyLossPct > 0 {
		risk = engine.NewRiskManager(r.cfg.MaxPositionPct, r.cfg.MaxDailyLossPct)
	}

	return Run(ctx, factory, bars, rc.Filters, r.cfg.Broker, Options{
		Name:           name,
		Strategy:       rc.Strategy,
		Params:         rc.Params.Clone(),
		Market:         r.cfg.Market,
		PeriodsPerYear: r.cfg.PeriodsPerYear,
		Risk:           risk,
		Log:            r.log.With("run", name),
	})
}

// DisplayNames returns a unique name per config: the base name for the first
// occurrence and base_2, base_3, ... for repeats. A suffix already taken by
// an explicit name is skipped.
func DisplayNames(configs []RunConfig) []string {
	used := make(map[string]bool, len(configs))
	next := make(map[string]int, len(configs))
	names := make([]string, len(configs))
	for i, rc := range configs {
		base := rc.Name
		if base == "" {
			base = baseName(rc.Strategy, rc.Symbol)
		}
		name := base
		for n := max(next[base], 1); used[name]; {
			n++
			name = base + "_" + strconv.Itoa(n)
			next[base] = n
		}
		used[name] = true
		names[i] = name
	}
	return names
}

// barLoader reads each symbol once per batch and shares the series between
// runs. Bars are never mutated after loading.
type barLoader struct {
	source BarSource
	market string
	start  time.Time
	end    time.Time

	group singleflight.Group
	mu    sync.Mutex
	cache map[string][]domain.Bar
}

func (l *barLoader) load(ctx context.Context, symbol string) ([]domain.Bar, error) {
	if l.source == nil {
		return nil, fmt.Errorf("%w: no bar source configured", domain.ErrConfig)
	}

	l.mu.Lock()
	bars, ok := l.cache[symbol]
	l.mu.Unlock()
	if ok {
		return bars, nil
	}

	v, err, _ := l.group.Do(symbol, func() (any, error) {
		l.mu.Lock()
		cached, ok := l.cache[symbol]
		l.mu.Unlock()
		if ok {
			return cached, nil
		}

		bars, err := l.source.ReadBars(ctx, symbol, l.market, l.start, l.end)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", symbol, err)
		}
		if len(bars) == 0 {
			return nil, fmt.Errorf("%w: no bars for %s", domain.ErrData, symbol)
		}
		l.mu.Lock()
		if l.cache == nil {
			l.cache = make(map[string][]domain.Bar)
		}
		l.cache[symbol] = bars
		l.mu.Unlock()
		return bars, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]domain.Bar), nil
}
