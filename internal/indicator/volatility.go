package indicator

import "math"

// BollingerK is the default band width in standard deviations.
const BollingerK = 2.0

// Bands holds the three Bollinger lines.
type Bands struct {
	Upper  []float64
	Middle []float64
	Lower  []float64
}

// Bollinger returns middle = SMA(p) and upper/lower = middle ± k·std(p), where
// std is the sample standard deviation of the window.
func Bollinger(x []float64, p int, k float64) Bands {
	mid := SMA(x, p)
	std := rollingStd(x, p)
	b := Bands{
		Upper:  make([]float64, len(x)),
		Middle: mid,
		Lower:  make([]float64, len(x)),
	}
	for i := range x {
		b.Upper[i] = mid[i] + k*std[i]
		b.Lower[i] = mid[i] - k*std[i]
	}
	return b
}

// TrueRange is max(high−low, |high−prev close|, |low−prev close|). The first
// bar has no previous close and uses high−low.
func TrueRange(high, low, close []float64) []float64 {
	out := make([]float64, len(close))
	for i := range close {
		tr := high[i] - low[i]
		if i > 0 {
			pc := close[i-1]
			tr = math.Max(tr, math.Max(math.Abs(high[i]-pc), math.Abs(low[i]-pc)))
		}
		out[i] = tr
	}
	return out
}

// ATR is the simple rolling mean of the true range over p bars.
func ATR(high, low, close []float64, p int) []float64 {
	return SMA(TrueRange(high, low, close), p)
}
