package indicator

import "math"

// ADX is a simplified average directional index. +DM/−DM are averaged with a
// simple rolling mean (not Wilder's smoothing) and divided by ATR(p) to get
// ±DI; DX = 100·|+DI − −DI| / (+DI + −DI) and ADX = SMA(DX, p).
//
// A zero ATR yields ±DI of 0 and a zero DI sum yields DX of 0, so a series
// without directional movement reads as no trend rather than NaN.
func ADX(high, low, close []float64, p int) []float64 {
	n := len(close)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	for i := 1; i < n; i++ {
		up := high[i] - high[i-1]
		down := low[i-1] - low[i]
		if up > down && up > 0 {
			plusDM[i] = up
		}
		if down > up && down > 0 {
			minusDM[i] = down
		}
	}

	atr := ATR(high, low, close, p)
	avgPlus := SMA(plusDM, p)
	avgMinus := SMA(minusDM, p)

	dx := make([]float64, n)
	for i := range dx {
		if math.IsNaN(atr[i]) || math.IsNaN(avgPlus[i]) || math.IsNaN(avgMinus[i]) {
			dx[i] = math.NaN()
			continue
		}
		var pdi, mdi float64
		if atr[i] > 0 {
			pdi = 100 * avgPlus[i] / atr[i]
			mdi = 100 * avgMinus[i] / atr[i]
		}
		if sum := pdi + mdi; sum > 0 {
			dx[i] = 100 * math.Abs(pdi-mdi) / sum
		}
	}
	return SMA(dx, p)
}
