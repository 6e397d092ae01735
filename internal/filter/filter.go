// Package filter reduces a bar series with an ordered list of row-selection
// predicates before a run.
package filter

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"quantlab/internal/domain"
	"quantlab/internal/indicator"
	"quantlab/internal/util"
)

// Pipeline applies FilterSpecs to bar series. It holds no per-run state and
// may be shared by concurrent runs.
type Pipeline struct {
	log      *slog.Logger
	calendar *util.TradingCalendar
}

// NewPipeline creates a Pipeline whose datetime filters follow the given
// market's calendar.
func NewPipeline(log *slog.Logger, market domain.Market) *Pipeline {
	return &Pipeline{
		log:      util.OrDefault(log),
		calendar: util.NewTradingCalendar(market),
	}
}

// Apply runs every enabled spec in order, each stage filtering the output of
// the previous one. A stage that cannot be evaluated is logged and skipped.
// The input slice is never modified.
func (p *Pipeline) Apply(bars []domain.Bar, specs []domain.FilterSpec) []domain.Bar {
	out := make([]domain.Bar, len(bars))
	copy(out, bars)
	if len(specs) == 0 {
		return out
	}

	for _, spec := range specs {
		if !spec.Enabled {
			continue
		}
		next, err := p.applyOne(out, spec)
		if err != nil {
			p.log.Warn("filter skipped",
				"type", spec.Kind,
				"operator", spec.Operator,
				"indicator", spec.Indicator,
				"error", err,
			)
			continue
		}
		p.log.Debug("filter applied",
			"type", spec.Kind,
			"operator", spec.Operator,
			"value", spec.Value,
			"rows_in", len(out),
			"rows_out", len(next),
		)
		out = next
	}

	p.log.Info("filtered bars", "from", len(bars), "to", len(out))
	return out
}

func (p *Pipeline) applyOne(bars []domain.Bar, spec domain.FilterSpec) ([]domain.Bar, error) {
	keep, err := p.mask(bars, spec)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Bar, 0, len(bars))
	for i, b := range bars {
		if keep[i] {
			out = append(out, b)
		}
	}
	return out, nil
}

// mask evaluates the spec's predicate for every bar.
func (p *Pipeline) mask(bars []domain.Bar, spec domain.FilterSpec) ([]bool, error) {
	switch spec.Kind {
	case domain.FilterVolume:
		cmp, err := parseOperator(spec.Operator)
		if err != nil {
			return nil, err
		}
		return rowMask(bars, func(_ int, b domain.Bar) bool {
			return cmp(float64(b.Volume), spec.Value)
		}), nil

	case domain.FilterPrice:
		cmp, err := parseOperator(spec.Operator)
		if err != nil {
			return nil, err
		}
		field := priceField(spec.Parameter)
		return rowMask(bars, func(_ int, b domain.Bar) bool {
			return cmp(field(b), spec.Value)
		}), nil

	case domain.FilterTechnical:
		return technicalMask(bars, spec)

	case domain.FilterDatetime:
		return p.datetimeMask(bars, spec)
	}
	return nil, fmt.Errorf("%w: unknown filter type %q", domain.ErrConfig, spec.Kind)
}

func rowMask(bars []domain.Bar, pred func(i int, b domain.Bar) bool) []bool {
	keep := make([]bool, len(bars))
	for i, b := range bars {
		keep[i] = pred(i, b)
	}
	return keep
}

// priceField picks the OHLC column named by param, defaulting to close.
func priceField(param string) func(domain.Bar) float64 {
	switch strings.ToLower(strings.TrimSpace(param)) {
	case "open":
		return func(b domain.Bar) float64 { return b.Open }
	case "high":
		return func(b domain.Bar) float64 { return b.High }
	case "low":
		return func(b domain.Bar) float64 { return b.Low }
	default:
		return func(b domain.Bar) float64 { return b.Close }
	}
}

func (p *Pipeline) datetimeMask(bars []domain.Bar, spec domain.FilterSpec) ([]bool, error) {
	var pred func(t time.Time) bool
	switch strings.ToLower(strings.TrimSpace(spec.Parameter)) {
	case "weekdays_only":
		pred = p.calendar.IsTradingDay
	case "trading_hours":
		pred = p.calendar.IsMarketOpen
	default:
		return nil, fmt.Errorf("%w: unknown datetime rule %q", domain.ErrConfig, spec.Parameter)
	}
	return rowMask(bars, func(_ int, b domain.Bar) bool {
		return pred(b.Timestamp)
	}), nil
}

// parseOperator maps a comparison symbol to its predicate.
func parseOperator(op string) (func(a, b float64) bool, error) {
	switch strings.TrimSpace(op) {
	case ">":
		return func(a, b float64) bool { return a > b }, nil
	case "<":
		return func(a, b float64) bool { return a < b }, nil
	case ">=":
		return func(a, b float64) bool { return a >= b }, nil
	case "<=":
		return func(a, b float64) bool { return a <= b }, nil
	case "==":
		return func(a, b float64) bool { return a == b }, nil
	case "!=":
		return func(a, b float64) bool { return a != b }, nil
	}
	return nil, fmt.Errorf("%w: unknown operator %q", domain.ErrConfig, op)
}

// parsePeriod reads the look-back window from a filter parameter. An empty
// parameter means indicator.DefaultPeriod.
func parsePeriod(param string) (int, error) {
	param = strings.TrimSpace(param)
	if param == "" {
		return indicator.DefaultPeriod, nil
	}
	n, err := strconv.Atoi(param)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: invalid period %q", domain.ErrConfig, param)
	}
	return n, nil
}
