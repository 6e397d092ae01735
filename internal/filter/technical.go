package filter

import (
	"fmt"
	"strings"

	"quantlab/internal/domain"
	"quantlab/internal/indicator"
)

// Technical indicator names accepted by technical filters.
const (
	IndicatorSMA      = "sma"
	IndicatorEMA      = "ema"
	IndicatorRSI      = "rsi"
	IndicatorMACD     = "macd"
	IndicatorBBUpper  = "bb_upper"
	IndicatorBBMiddle = "bb_middle"
	IndicatorBBLower  = "bb_lower"
	IndicatorStochK   = "stoch_k"
	IndicatorStochD   = "stoch_d"
	IndicatorATR      = "atr"
	IndicatorADX      = "adx"
)

// priceOverlay reports whether the indicator lives on the price scale. Those
// filters compare close against the indicator and ignore the threshold;
// oscillators compare the indicator against the threshold.
func priceOverlay(name string) bool {
	switch name {
	case IndicatorSMA, IndicatorEMA, IndicatorBBUpper, IndicatorBBMiddle, IndicatorBBLower:
		return true
	}
	return false
}

func technicalMask(bars []domain.Bar, spec domain.FilterSpec) ([]bool, error) {
	name := strings.ToLower(strings.TrimSpace(spec.Indicator))
	if name == "" {
		return nil, fmt.Errorf("%w: technical filter without indicator", domain.ErrConfig)
	}
	cmp, err := parseOperator(spec.Operator)
	if err != nil {
		return nil, err
	}
	period, err := parsePeriod(spec.Parameter)
	if err != nil {
		return nil, err
	}

	s := indicator.FromBars(bars)
	values, err := compute(name, s, period)
	if err != nil {
		return nil, err
	}

	if priceOverlay(name) {
		return rowMask(bars, func(i int, b domain.Bar) bool {
			return cmp(b.Close, values[i])
		}), nil
	}
	return rowMask(bars, func(i int, _ domain.Bar) bool {
		return cmp(values[i], spec.Value)
	}), nil
}

func compute(name string, s indicator.Series, period int) ([]float64, error) {
	switch name {
	case IndicatorSMA:
		return indicator.SMA(s.Close, period), nil
	case IndicatorEMA:
		return indicator.EMA(s.Close, period), nil
	case IndicatorRSI:
		return indicator.RSI(s.Close, period), nil
	case IndicatorMACD:
		return indicator.MACD(s.Close, indicator.MACDFast, indicator.MACDSlow, indicator.MACDSignal), nil
	case IndicatorBBUpper:
		return indicator.Bollinger(s.Close, period, indicator.BollingerK).Upper, nil
	case IndicatorBBMiddle:
		return indicator.Bollinger(s.Close, period, indicator.BollingerK).Middle, nil
	case IndicatorBBLower:
		return indicator.Bollinger(s.Close, period, indicator.BollingerK).Lower, nil
	case IndicatorStochK:
		return indicator.StochasticK(s.High, s.Low, s.Close, period), nil
	case IndicatorStochD:
		return indicator.StochasticD(s.High, s.Low, s.Close, period), nil
	case IndicatorATR:
		return indicator.ATR(s.High, s.Low, s.Close, period), nil
	case IndicatorADX:
		return indicator.ADX(s.High, s.Low, s.Close, period), nil
	}
	return nil, fmt.Errorf("%w: unknown indicator %q", domain.ErrConfig, name)
}
