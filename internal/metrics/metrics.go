// Package metrics rolls a run's closed trades and mark-to-market history up
// into summary performance figures.
package metrics

import (
	"math"
	"sort"
	"time"

	"quantlab/internal/domain"
)

// ProfitFactorSentinel stands in for an infinite profit factor (profits and
// no losses) so results stay serializable.
const ProfitFactorSentinel = 999999.0

// Input is everything Calculate needs from a run.
type Input struct {
	Trades []domain.Trade

	// Equity is the per-bar mark-to-market history, oldest first.
	Equity []domain.EquityPoint

	InitialCash float64
	FinalValue  float64
	Start       time.Time
	End         time.Time

	// PeriodsPerYear annualizes the Sharpe ratio. Zero infers it from the
	// spacing of the equity history.
	PeriodsPerYear float64
}

// Summary holds the computed figures. Every float is finite.
type Summary struct {
	TotalReturn  float64 // percent
	SharpeRatio  float64
	MaxDrawdown  float64 // percent
	NumTrades    int
	WonTrades    int
	LostTrades   int
	WinRate      float64 // percent
	ProfitFactor float64
	EquityCurve  []domain.EquityPoint
}

// Calculate computes the run summary.
func Calculate(in Input) Summary {
	var s Summary

	if in.InitialCash > 0 {
		s.TotalReturn = finite((in.FinalValue/in.InitialCash - 1) * 100)
	}

	var grossProfit, grossLoss float64
	for _, t := range in.Trades {
		if t.NetPnL > 0 {
			s.WonTrades++
			grossProfit += t.NetPnL
		} else {
			s.LostTrades++
			grossLoss += -t.NetPnL
		}
	}
	s.NumTrades = len(in.Trades)
	if s.NumTrades > 0 {
		s.WinRate = 100 * float64(s.WonTrades) / float64(s.NumTrades)
	}
	s.ProfitFactor = profitFactor(grossProfit, grossLoss)

	returns := Returns(in.Equity)
	s.EquityCurve = equityCurve(in, returns)
	s.MaxDrawdown = finite(MaxDrawdown(in.InitialCash, in.Equity))

	ppy := in.PeriodsPerYear
	if ppy <= 0 {
		ppy = PeriodsPerYear(in.Equity)
	}
	s.SharpeRatio = finite(Sharpe(returns, ppy))
	return s
}

func profitFactor(profit, loss float64) float64 {
	switch {
	case loss > 0:
		return finite(profit / loss)
	case profit > 0:
		return ProfitFactorSentinel
	}
	return 0
}

// Returns computes the simple return between consecutive equity points.
// A non-positive previous value yields a zero return.
func Returns(equity []domain.EquityPoint) []float64 {
	if len(equity) < 2 {
		return nil
	}
	out := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		prev := equity[i-1].Value
		if prev <= 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, equity[i].Value/prev-1)
	}
	return out
}

// equityCurve starts at the initial cash and compounds each period return
// onto it. Without returns it degrades to the start and end values.
func equityCurve(in Input, returns []float64) []domain.EquityPoint {
	start := in.Start
	if start.IsZero() && len(in.Equity) > 0 {
		start = in.Equity[0].Timestamp
	}
	if len(returns) == 0 {
		end := in.End
		if end.IsZero() {
			end = start
		}
		return []domain.EquityPoint{
			{Timestamp: start, Value: in.InitialCash},
			{Timestamp: end, Value: in.FinalValue},
		}
	}

	curve := make([]domain.EquityPoint, 0, len(returns)+1)
	curve = append(curve, domain.EquityPoint{Timestamp: start, Value: in.InitialCash})
	v := in.InitialCash
	for i, r := range returns {
		v *= 1 + r
		curve = append(curve, domain.EquityPoint{Timestamp: in.Equity[i+1].Timestamp, Value: finite(v)})
	}
	return curve
}

// MaxDrawdown returns the largest peak-to-trough decline of the equity
// history in percent, with the initial cash as the first peak.
func MaxDrawdown(initial float64, equity []domain.EquityPoint) float64 {
	peak := initial
	maxDD := 0.0
	for _, p := range equity {
		if p.Value > peak {
			peak = p.Value
		}
		if peak <= 0 {
			continue
		}
		if dd := (peak - p.Value) / peak * 100; dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

// Sharpe returns the annualized Sharpe ratio of returns with a zero risk-free
// rate, using the sample standard deviation. It is 0 for fewer than two
// returns or zero variance.
func Sharpe(returns []float64, periodsPerYear float64) float64 {
	n := len(returns)
	if n < 2 {
		return 0
	}
	sum := 0.0
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(n)

	sumSquaredDiff := 0.0
	for _, r := range returns {
		diff := r - mean
		sumSquaredDiff += diff * diff
	}
	std := math.Sqrt(sumSquaredDiff / float64(n-1))
	if std == 0 || math.IsNaN(std) {
		return 0
	}
	if periodsPerYear <= 0 {
		periodsPerYear = 252
	}
	return mean / std * math.Sqrt(periodsPerYear)
}

// PeriodsPerYear infers the annualization factor from the median spacing of
// the equity history: monthly 12, weekly 52, daily 252, and intraday bars
// scaled to a 6.5 hour session.
func PeriodsPerYear(equity []domain.EquityPoint) float64 {
	if len(equity) < 2 {
		return 252
	}
	gaps := make([]time.Duration, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		gaps = append(gaps, equity[i].Timestamp.Sub(equity[i-1].Timestamp))
	}
	sort.Slice(gaps, func(a, b int) bool { return gaps[a] < gaps[b] })
	median := gaps[len(gaps)/2]

	const day = 24 * time.Hour
	switch {
	case median <= 0:
		return 252
	case median >= 28*day:
		return 12
	case median >= 7*day:
		return 52
	case median >= 20*time.Hour:
		return 252
	}
	session := 6*time.Hour + 30*time.Minute
	return 252 * float64(session) / float64(median)
}

func finite(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0
	}
	return x
}
