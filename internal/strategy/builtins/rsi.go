package builtins

import (
	"fmt"
	"math"

	"quantlab/internal/domain"
	"quantlab/internal/indicator"
	"quantlab/internal/strategy"
)

// Registry keys of the RSI strategies.
const (
	RSIName              = "rsi"
	RSIMeanReversionName = "rsi-mean-reversion"
)

// Compile-time interface checks.
var (
	_ strategy.Strategy = (*RSI)(nil)
	_ strategy.Strategy = (*RSIMeanReversion)(nil)
)

// RSI buys a fixed stake when RSI drops below the oversold level and sells
// the position when RSI rises above the overbought level.
type RSI struct {
	strategy.Base

	period     int
	oversold   float64
	overbought float64
	stake      float64
}

// NewRSI builds an RSI strategy from rsi_period (14), oversold_level (30),
// overbought_level (70) and stake (100).
func NewRSI(p strategy.Params) (strategy.Strategy, error) {
	period, err1 := positiveInt(p, "rsi_period", indicator.DefaultPeriod)
	oversold, err2 := p.Float("oversold_level", 30)
	overbought, err3 := p.Float("overbought_level", 70)
	stake, err4 := positiveFloat(p, "stake", DefaultStake)
	if err := errs(err1, err2, err3, err4); err != nil {
		return nil, err
	}
	if err := checkLevels(oversold, overbought); err != nil {
		return nil, err
	}
	return &RSI{period: period, oversold: oversold, overbought: overbought, stake: stake}, nil
}

// Name returns "rsi".
func (s *RSI) Name() string {
	return RSIName
}

// Init performs no setup.
func (s *RSI) Init(_ strategy.Env) error {
	return nil
}

// OnBar trades on RSI threshold crossings.
func (s *RSI) OnBar(env strategy.Env, _ domain.Bar) ([]domain.OrderRequest, error) {
	if len(env.OpenOrders()) > 0 {
		return nil, nil
	}
	rsi, ok := last(indicator.RSI(closes(env.History(), s.period+1), s.period))
	if !ok {
		return nil, nil
	}

	pos := env.Position()
	switch {
	case pos.Qty == 0 && rsi < s.oversold:
		return []domain.OrderRequest{marketBuy(s.stake, "RSI Oversold")}, nil
	case pos.Qty > 0 && rsi > s.overbought:
		return []domain.OrderRequest{marketSell(pos.Qty, "RSI Overbought")}, nil
	}
	return nil, nil
}

// RSIMeanReversion scales its stake by how extreme RSI is. A normal oversold
// entry also requires the close to sit above the trend SMA. Normal
// overbought readings sell part of the position; extreme ones sell all of
// it.
type RSIMeanReversion struct {
	strategy.Base

	period            int
	trendPeriod       int
	extremeOversold   float64
	oversold          float64
	overbought        float64
	extremeOverbought float64
	stakeNormal       float64
	stakeExtreme      float64
}

// NewRSIMeanReversion builds an RSIMeanReversion from rsi_period (14),
// trend_period (50), extreme_oversold (20), oversold_level (30),
// overbought_level (70), extreme_overbought (80), stake_normal (50) and
// stake_extreme (100).
func NewRSIMeanReversion(p strategy.Params) (strategy.Strategy, error) {
	s := &RSIMeanReversion{}
	var e [8]error
	s.period, e[0] = positiveInt(p, "rsi_period", indicator.DefaultPeriod)
	s.trendPeriod, e[1] = positiveInt(p, "trend_period", 50)
	s.extremeOversold, e[2] = p.Float("extreme_oversold", 20)
	s.oversold, e[3] = p.Float("oversold_level", 30)
	s.overbought, e[4] = p.Float("overbought_level", 70)
	s.extremeOverbought, e[5] = p.Float("extreme_overbought", 80)
	s.stakeNormal, e[6] = positiveFloat(p, "stake_normal", 50)
	s.stakeExtreme, e[7] = positiveFloat(p, "stake_extreme", DefaultStake)
	if err := errs(e[:]...); err != nil {
		return nil, err
	}
	if !(0 <= s.extremeOversold && s.extremeOversold <= s.oversold &&
		s.oversold < s.overbought &&
		s.overbought <= s.extremeOverbought && s.extremeOverbought <= 100) {
		return nil, fmt.Errorf("%w: RSI levels must satisfy 0 <= extreme_oversold <= oversold < overbought <= extreme_overbought <= 100", domain.ErrConfig)
	}
	return s, nil
}

// Name returns "rsi-mean-reversion".
func (s *RSIMeanReversion) Name() string {
	return RSIMeanReversionName
}

// Init performs no setup.
func (s *RSIMeanReversion) Init(_ strategy.Env) error {
	return nil
}

// OnBar sizes entries and exits by RSI band.
func (s *RSIMeanReversion) OnBar(env strategy.Env, bar domain.Bar) ([]domain.OrderRequest, error) {
	if len(env.OpenOrders()) > 0 {
		return nil, nil
	}
	history := env.History()
	rsi, ok := last(indicator.RSI(closes(history, s.period+1), s.period))
	if !ok {
		return nil, nil
	}

	pos := env.Position()
	if pos.Qty == 0 {
		if rsi < s.extremeOversold {
			return []domain.OrderRequest{marketBuy(s.stakeExtreme, "RSI Extreme Oversold")}, nil
		}
		trend, ok := last(indicator.SMA(closes(history, s.trendPeriod), s.trendPeriod))
		if rsi < s.oversold && ok && bar.Close > trend {
			return []domain.OrderRequest{marketBuy(s.stakeNormal, "RSI Oversold")}, nil
		}
		return nil, nil
	}
	if pos.Qty < 0 {
		return nil, nil
	}

	if rsi > s.extremeOverbought {
		return []domain.OrderRequest{marketSell(pos.Qty, "RSI Extreme Overbought")}, nil
	}
	if rsi > s.overbought {
		return []domain.OrderRequest{marketSell(math.Min(s.stakeNormal, pos.Qty), "RSI Overbought Partial")}, nil
	}
	return nil, nil
}

func checkLevels(oversold, overbought float64) error {
	if oversold < 0 || overbought > 100 || oversold >= overbought {
		return fmt.Errorf("%w: need 0 <= oversold_level < overbought_level <= 100, got %v/%v",
			domain.ErrConfig, oversold, overbought)
	}
	return nil
}
