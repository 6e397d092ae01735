// Package builtins provides built-in strategy implementations that ship with
// the backtester.
package builtins

import (
	"fmt"

	"quantlab/internal/domain"
	"quantlab/internal/indicator"
	"quantlab/internal/strategy"
)

// Default parameters shared by the built-in strategies.
const (
	DefaultStake    = 100
	DefaultStopLoss = 0.02
)

// Register adds every built-in strategy to reg.
func Register(reg *strategy.Registry) {
	reg.Register(SMACrossName, NewSMACross)
	reg.Register(RSIName, NewRSI)
	reg.Register(RSIMeanReversionName, NewRSIMeanReversion)
	reg.Register(BollingerReversalName, NewBollingerReversal)
	reg.Register(BollingerCrossoverName, NewBollingerCrossover)
}

// NewRegistry returns a registry holding the built-in strategies.
func NewRegistry() *strategy.Registry {
	reg := strategy.NewRegistry()
	Register(reg)
	return reg
}

// closes returns the closes of the last n bars of history, fewer when the
// history is shorter. The window indicators used here depend only on the
// tail, so computing them on it matches the full-series values.
func closes(history []domain.Bar, n int) []float64 {
	if n > len(history) {
		n = len(history)
	}
	out := make([]float64, n)
	for i, b := range history[len(history)-n:] {
		out[i] = b.Close
	}
	return out
}

// lastTwo returns the final two values of xs when both are available.
func lastTwo(xs []float64) (prev, cur float64, ok bool) {
	if len(xs) < 2 {
		return 0, 0, false
	}
	prev, cur = xs[len(xs)-2], xs[len(xs)-1]
	return prev, cur, indicator.Available(prev) && indicator.Available(cur)
}

func last(xs []float64) (float64, bool) {
	if len(xs) == 0 {
		return 0, false
	}
	v := xs[len(xs)-1]
	return v, indicator.Available(v)
}

func crossedAbove(prevA, prevB, a, b float64) bool {
	return prevA <= prevB && a > b
}

func crossedBelow(prevA, prevB, a, b float64) bool {
	return prevA >= prevB && a < b
}

func marketBuy(qty float64, reason string) domain.OrderRequest {
	return domain.OrderRequest{Side: domain.OrderSideBuy, Type: domain.OrderTypeMarket, Qty: qty, Reason: reason}
}

func marketSell(qty float64, reason string) domain.OrderRequest {
	return domain.OrderRequest{Side: domain.OrderSideSell, Type: domain.OrderTypeMarket, Qty: qty, Reason: reason}
}

// cancelAll cancels every queued order of the run.
func cancelAll(env strategy.Env) {
	for _, o := range env.OpenOrders() {
		env.Cancel(o.ID)
	}
}

// ---------------------------------------------------------------------------
// Parameter validation
// ---------------------------------------------------------------------------

func positiveInt(p strategy.Params, key string, def int) (int, error) {
	v, err := p.Int(key, def)
	if err != nil {
		return 0, err
	}
	if v <= 0 {
		return 0, fmt.Errorf("%w: %s must be positive, got %d", domain.ErrConfig, key, v)
	}
	return v, nil
}

func positiveFloat(p strategy.Params, key string, def float64) (float64, error) {
	v, err := p.Float(key, def)
	if err != nil {
		return 0, err
	}
	if v <= 0 {
		return 0, fmt.Errorf("%w: %s must be positive, got %v", domain.ErrConfig, key, v)
	}
	return v, nil
}

// fraction reads a value in [0, 1); zero disables the feature it controls.
func fraction(p strategy.Params, key string, def float64) (float64, error) {
	v, err := p.Float(key, def)
	if err != nil {
		return 0, err
	}
	if v < 0 || v >= 1 {
		return 0, fmt.Errorf("%w: %s must be in [0, 1), got %v", domain.ErrConfig, key, v)
	}
	return v, nil
}

// errs returns the first non-nil error.
func errs(list ...error) error {
	for _, err := range list {
		if err != nil {
			return err
		}
	}
	return nil
}
