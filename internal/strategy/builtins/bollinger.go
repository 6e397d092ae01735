package builtins

import (
	"fmt"

	"quantlab/internal/domain"
	"quantlab/internal/indicator"
	"quantlab/internal/strategy"
)

// Registry keys of the Bollinger Band strategies.
const (
	BollingerReversalName  = "bollinger-reversal"
	BollingerCrossoverName = "bollinger-crossover"
)

// Compile-time interface checks.
var (
	_ strategy.Strategy = (*BollingerReversal)(nil)
	_ strategy.Strategy = (*BollingerCrossover)(nil)
)

type bandParams struct {
	period   int
	k        float64
	stake    float64
	stopLoss float64
}

func parseBandParams(p strategy.Params) (bandParams, error) {
	period, err1 := positiveInt(p, "bb_period", 20)
	k, err2 := positiveFloat(p, "bb_std", indicator.BollingerK)
	stake, err3 := positiveFloat(p, "stake", DefaultStake)
	stop, err4 := fraction(p, "stop_loss", DefaultStopLoss)
	if err := errs(err1, err2, err3, err4); err != nil {
		return bandParams{}, err
	}
	return bandParams{period: period, k: k, stake: stake, stopLoss: stop}, nil
}

func (bp bandParams) bands(history []domain.Bar) indicator.Bands {
	return indicator.Bollinger(closes(history, bp.period+1), bp.period, bp.k)
}

// ---------------------------------------------------------------------------
// Reversal
// ---------------------------------------------------------------------------

// BollingerReversal buys when the close touches the lower band and sells
// when it reaches the upper band or falls stop_loss below the entry.
type BollingerReversal struct {
	strategy.Base
	bandParams
}

// NewBollingerReversal builds a BollingerReversal from bb_period (20),
// bb_std (2.0), stake (100) and stop_loss (0.02).
func NewBollingerReversal(p strategy.Params) (strategy.Strategy, error) {
	bp, err := parseBandParams(p)
	if err != nil {
		return nil, err
	}
	return &BollingerReversal{bandParams: bp}, nil
}

// Name returns "bollinger-reversal".
func (s *BollingerReversal) Name() string {
	return BollingerReversalName
}

// Init performs no setup.
func (s *BollingerReversal) Init(_ strategy.Env) error {
	return nil
}

// OnBar trades band touches.
func (s *BollingerReversal) OnBar(env strategy.Env, bar domain.Bar) ([]domain.OrderRequest, error) {
	if len(env.OpenOrders()) > 0 {
		return nil, nil
	}
	b := s.bands(env.History())
	lower, ok1 := last(b.Lower)
	upper, ok2 := last(b.Upper)
	if !ok1 || !ok2 {
		return nil, nil
	}

	pos := env.Position()
	if pos.Qty == 0 {
		if bar.Close <= lower {
			return []domain.OrderRequest{marketBuy(s.stake, "Lower Band Touch")}, nil
		}
		return nil, nil
	}
	if pos.Qty < 0 {
		return nil, nil
	}
	if s.stopLoss > 0 && bar.Close <= pos.AvgEntryPrice*(1-s.stopLoss) {
		return []domain.OrderRequest{marketSell(pos.Qty, "Stop Loss")}, nil
	}
	if bar.Close >= upper {
		return []domain.OrderRequest{marketSell(pos.Qty, "Upper Band Touch")}, nil
	}
	return nil, nil
}

// ---------------------------------------------------------------------------
// Crossover
// ---------------------------------------------------------------------------

// BollingerCrossover buys when the close crosses above the lower band and
// sells when it crosses above the upper band. Each entry is bracketed by a
// resting stop order stop_loss below the signal close and, when take_profit
// is set, a limit order that far above it. Bracket legs are reduce-only, so
// whichever fills first flattens the position and the other lapses.
type BollingerCrossover struct {
	strategy.Base
	bandParams
	takeProfit float64
}

// NewBollingerCrossover builds a BollingerCrossover from bb_period (20),
// bb_std (2.0), stake (100), stop_loss (0.02) and take_profit (0,
// disabled).
func NewBollingerCrossover(p strategy.Params) (strategy.Strategy, error) {
	bp, err := parseBandParams(p)
	if err != nil {
		return nil, err
	}
	tp, err := p.Float("take_profit", 0)
	if err != nil {
		return nil, err
	}
	if tp < 0 {
		return nil, fmt.Errorf("%w: take_profit must not be negative, got %v", domain.ErrConfig, tp)
	}
	return &BollingerCrossover{bandParams: bp, takeProfit: tp}, nil
}

// Name returns "bollinger-crossover".
func (s *BollingerCrossover) Name() string {
	return BollingerCrossoverName
}

// Init performs no setup.
func (s *BollingerCrossover) Init(_ strategy.Env) error {
	return nil
}

// OnBar enters on a lower-band cross with its bracket and exits on an
// upper-band cross, cancelling the bracket first.
func (s *BollingerCrossover) OnBar(env strategy.Env, bar domain.Bar) ([]domain.OrderRequest, error) {
	pos := env.Position()
	open := env.OpenOrders()

	if pos.Qty == 0 {
		if pendingEntry(open) {
			return nil, nil
		}
		// Bracket legs left behind by an exit or a rejected entry.
		cancelAll(env)
	}

	b := s.bands(env.History())
	window := closes(env.History(), 2)
	prevLower, lower, ok1 := lastTwo(b.Lower)
	prevUpper, upper, ok2 := lastTwo(b.Upper)
	if !ok1 || !ok2 || len(window) < 2 {
		return nil, nil
	}
	prevClose := window[0]

	if pos.Qty == 0 {
		if !crossedAbove(prevClose, prevLower, bar.Close, lower) {
			return nil, nil
		}
		reqs := []domain.OrderRequest{marketBuy(s.stake, "Lower Band Cross")}
		if s.stopLoss > 0 {
			reqs = append(reqs, domain.OrderRequest{
				Side:       domain.OrderSideSell,
				Type:       domain.OrderTypeStop,
				Qty:        s.stake,
				Price:      bar.Close * (1 - s.stopLoss),
				ReduceOnly: true,
				Reason:     "Stop Loss",
			})
		}
		if s.takeProfit > 0 {
			reqs = append(reqs, domain.OrderRequest{
				Side:       domain.OrderSideSell,
				Type:       domain.OrderTypeLimit,
				Qty:        s.stake,
				Price:      bar.Close * (1 + s.takeProfit),
				ReduceOnly: true,
				Reason:     "Take Profit",
			})
		}
		return reqs, nil
	}
	if pos.Qty < 0 || pendingExit(open) {
		return nil, nil
	}

	if crossedAbove(prevClose, prevUpper, bar.Close, upper) {
		cancelAll(env)
		return []domain.OrderRequest{marketSell(pos.Qty, "Upper Band Cross")}, nil
	}
	return nil, nil
}

// pendingEntry reports a queued market buy.
func pendingEntry(open []domain.Order) bool {
	for _, o := range open {
		if o.Side == domain.OrderSideBuy && o.Type == domain.OrderTypeMarket {
			return true
		}
	}
	return false
}

// pendingExit reports a queued market sell.
func pendingExit(open []domain.Order) bool {
	for _, o := range open {
		if o.Side == domain.OrderSideSell && o.Type == domain.OrderTypeMarket {
			return true
		}
	}
	return false
}
