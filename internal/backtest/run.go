// Package backtest ties the filter pipeline, the simulation engine and the
// metrics calculator into single runs, batches of runs and comparisons.
package backtest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"quantlab/internal/broker"
	"quantlab/internal/domain"
	"quantlab/internal/engine"
	"quantlab/internal/filter"
	"quantlab/internal/metrics"
	"quantlab/internal/strategy"
	"quantlab/internal/util"
)

// Options tunes a single run. The zero value is usable.
type Options struct {
	// Name is the display name; empty uses "<strategy>_<SYMBOL>".
	Name string
	// Strategy is the registered strategy name recorded on the result;
	// empty uses the strategy's own Name().
	Strategy string
	Params   strategy.Params

	// Market selects the calendar used by datetime filters. Empty is US.
	Market domain.Market

	// PeriodsPerYear annualizes the Sharpe ratio; zero infers it from the
	// bar spacing.
	PeriodsPerYear float64

	// Risk optionally applies pre-trade limits. Each run works on its own
	// copy.
	Risk *engine.RiskManager

	Log *slog.Logger
}

// Run filters bars, replays them through a strategy built by factory and
// returns the run's result.
//
// It fails with ErrData when the series is empty before or after filtering,
// with ErrConfig when the account or strategy parameters are malformed and
// with ErrStrategy when the strategy fails.
func Run(ctx context.Context, factory strategy.Factory, bars []domain.Bar, filters []domain.FilterSpec, cfg broker.Config, opts Options) (*domain.RunResult, error) {
	log := util.OrDefault(opts.Log)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: empty price series", domain.ErrData)
	}

	market := opts.Market
	if market == "" {
		market = domain.MarketUS
	}
	filtered := filter.NewPipeline(log, market).Apply(bars, filters)
	if len(filtered) == 0 {
		return nil, fmt.Errorf("%w: no bars left after filtering %d", domain.ErrData, len(bars))
	}

	s, err := factory(opts.Params)
	if err != nil {
		return nil, fmt.Errorf("creating strategy: %w", err)
	}
	if s == nil {
		return nil, fmt.Errorf("%w: factory returned no strategy", domain.ErrStrategy)
	}

	out, err := engine.NewEngine(cfg, opts.Risk, log).Run(ctx, s, filtered, opts.Params)
	if err != nil {
		return nil, err
	}

	start := filtered[0].Timestamp
	end := filtered[len(filtered)-1].Timestamp
	sum := metrics.Calculate(metrics.Input{
		Trades:         out.Trades,
		Equity:         out.Equity,
		InitialCash:    out.InitialCash,
		FinalValue:     out.FinalValue,
		Start:          start,
		End:            end,
		PeriodsPerYear: opts.PeriodsPerYear,
	})

	strategyName := opts.Strategy
	if strategyName == "" {
		strategyName = s.Name()
	}
	name := opts.Name
	if name == "" {
		name = baseName(strategyName, out.Symbol)
	}

	return &domain.RunResult{
		ID:            uuid.NewString(),
		Name:          name,
		Strategy:      strategyName,
		Symbol:        out.Symbol,
		Start:         start,
		End:           end,
		InitialCash:   out.InitialCash,
		FinalValue:    out.FinalValue,
		TotalReturn:   sum.TotalReturn,
		SharpeRatio:   sum.SharpeRatio,
		MaxDrawdown:   sum.MaxDrawdown,
		NumTrades:     sum.NumTrades,
		WinRate:       sum.WinRate,
		ProfitFactor:  sum.ProfitFactor,
		WonTrades:     sum.WonTrades,
		LostTrades:    sum.LostTrades,
		NumBars:       len(filtered),
		OpenPositions: out.OpenPositions,
		Trades:        out.Trades,
		EquityCurve:   sum.EquityCurve,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

func baseName(strategyName, symbol string) string {
	return strategyName + "_" + strings.ToUpper(symbol)
}
