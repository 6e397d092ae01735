package indicator

import "math"

// MACD defaults.
const (
	MACDFast   = 12
	MACDSlow   = 26
	MACDSignal = 9
)

// RSI is the relative strength index over p price deltas using simple
// averages of gains and losses. When the average loss is zero the value
// saturates at 100, or sits at 50 when the average gain is zero as well
// (a flat window).
func RSI(x []float64, p int) []float64 {
	n := len(x)
	gains := make([]float64, n)
	losses := make([]float64, n)
	for i := range x {
		if i == 0 {
			gains[i], losses[i] = math.NaN(), math.NaN()
			continue
		}
		d := x[i] - x[i-1]
		if math.IsNaN(d) {
			gains[i], losses[i] = math.NaN(), math.NaN()
			continue
		}
		gains[i] = math.Max(d, 0)
		losses[i] = math.Max(-d, 0)
	}

	avgGain := SMA(gains, p)
	avgLoss := SMA(losses, p)
	out := make([]float64, n)
	for i := range out {
		g, l := avgGain[i], avgLoss[i]
		if math.IsNaN(g) || math.IsNaN(l) {
			out[i] = math.NaN()
			continue
		}
		// Rolling sums of non-negative values can drift a hair below zero.
		g, l = math.Max(g, 0), math.Max(l, 0)
		switch {
		case l == 0 && g == 0:
			out[i] = 50
		case l == 0:
			out[i] = 100
		default:
			out[i] = clamp(100-100/(1+g/l), 0, 100)
		}
	}
	return out
}

// MACD returns the histogram (EMA_fast − EMA_slow) − EMA(EMA_fast − EMA_slow, signal).
func MACD(x []float64, fast, slow, signal int) []float64 {
	emaFast := EMA(x, fast)
	emaSlow := EMA(x, slow)
	line := make([]float64, len(x))
	for i := range x {
		line[i] = emaFast[i] - emaSlow[i]
	}
	sig := EMA(line, signal)
	out := make([]float64, len(x))
	for i := range x {
		out[i] = line[i] - sig[i]
	}
	return out
}

// StochasticK is 100 × (close − lowest low) / (highest high − lowest low)
// over p bars. A zero range has no defined position and yields NaN.
func StochasticK(high, low, close []float64, p int) []float64 {
	hh := rollingMax(high, p)
	ll := rollingMin(low, p)
	out := make([]float64, len(close))
	for i := range close {
		rng := hh[i] - ll[i]
		if math.IsNaN(rng) || rng == 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = 100 * (close[i] - ll[i]) / rng
	}
	return out
}

// StochasticD is the 3-period SMA of %K.
func StochasticD(high, low, close []float64, p int) []float64 {
	return SMA(StochasticK(high, low, close, p), 3)
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
