package builtins

import (
	"fmt"

	"quantlab/internal/domain"
	"quantlab/internal/indicator"
	"quantlab/internal/strategy"
)

// SMACrossName is the registry key of SMACross.
const SMACrossName = "sma-cross"

// Compile-time interface check.
var _ strategy.Strategy = (*SMACross)(nil)

// SMACross implements a simple moving average crossover strategy. It buys
// when the short-period SMA crosses above the long-period SMA and sells when
// it crosses below. With a non-zero stop loss it also exits once the close
// falls that fraction below the entry price.
type SMACross struct {
	strategy.Base

	shortPeriod int
	longPeriod  int
	stake       float64
	stopLoss    float64
}

// NewSMACross builds an SMACross from fast_period (10), slow_period (30),
// stake (100) and stop_loss (0, disabled).
func NewSMACross(p strategy.Params) (strategy.Strategy, error) {
	fast, err1 := positiveInt(p, "fast_period", 10)
	slow, err2 := positiveInt(p, "slow_period", 30)
	stake, err3 := positiveFloat(p, "stake", DefaultStake)
	stop, err4 := fraction(p, "stop_loss", 0)
	if err := errs(err1, err2, err3, err4); err != nil {
		return nil, err
	}
	if fast >= slow {
		return nil, fmt.Errorf("%w: fast_period %d must be below slow_period %d", domain.ErrConfig, fast, slow)
	}
	return &SMACross{shortPeriod: fast, longPeriod: slow, stake: stake, stopLoss: stop}, nil
}

// Name returns "sma-cross".
func (s *SMACross) Name() string {
	return SMACrossName
}

// Init performs no setup; the averages are computed from the run history.
func (s *SMACross) Init(_ strategy.Env) error {
	return nil
}

// OnBar returns a buy on an upward cross while flat and a sell on a
// downward cross or stop-loss breach while long.
func (s *SMACross) OnBar(env strategy.Env, bar domain.Bar) ([]domain.OrderRequest, error) {
	if len(env.OpenOrders()) > 0 {
		return nil, nil
	}

	window := closes(env.History(), s.longPeriod+1)
	prevFast, fast, ok1 := lastTwo(indicator.SMA(window, s.shortPeriod))
	prevSlow, slow, ok2 := lastTwo(indicator.SMA(window, s.longPeriod))
	crossOK := ok1 && ok2

	pos := env.Position()
	if pos.Qty == 0 {
		if crossOK && crossedAbove(prevFast, prevSlow, fast, slow) {
			return []domain.OrderRequest{marketBuy(s.stake, "SMA Crossover Up")}, nil
		}
		return nil, nil
	}
	if pos.Qty < 0 {
		return nil, nil
	}

	if s.stopLoss > 0 && bar.Close <= pos.AvgEntryPrice*(1-s.stopLoss) {
		return []domain.OrderRequest{marketSell(pos.Qty, "Stop Loss")}, nil
	}
	if crossOK && crossedBelow(prevFast, prevSlow, fast, slow) {
		return []domain.OrderRequest{marketSell(pos.Qty, "SMA Crossover Down")}, nil
	}
	return nil, nil
}
