// Package indicator computes rolling technical indicators over a price or
// volume series. Every function returns a slice aligned index-for-index with
// its input; positions without enough history hold NaN, which callers test
// with Available.
package indicator

import "math"

// DefaultPeriod is used when a caller does not supply a look-back window.
const DefaultPeriod = 14

// Available reports whether v is a computed value rather than the warm-up
// sentinel.
func Available(v float64) bool {
	return !math.IsNaN(v)
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// SMA is the arithmetic mean over the trailing window of p points. A window
// that contains a NaN yields NaN.
func SMA(x []float64, p int) []float64 {
	if p <= 0 {
		return nanSlice(len(x))
	}
	out := make([]float64, len(x))
	var sum float64
	nans := 0
	for i, v := range x {
		if math.IsNaN(v) {
			nans++
		} else {
			sum += v
		}
		if i >= p {
			if old := x[i-p]; math.IsNaN(old) {
				nans--
			} else {
				sum -= old
			}
		}
		if i < p-1 || nans > 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = sum / float64(p)
	}
	return out
}

// EMA is the adjusted exponentially weighted mean with α = 2/(span+1). It is
// defined from the first observation: y[t] = Σ wᵢ·x[t-i] / Σ wᵢ with
// wᵢ = (1-α)^i. NaN inputs produce NaN and leave the running state alone.
func EMA(x []float64, span int) []float64 {
	if span <= 0 {
		return nanSlice(len(x))
	}
	out := make([]float64, len(x))
	decay := 1 - 2.0/float64(span+1)
	var num, den float64
	for i, v := range x {
		if math.IsNaN(v) {
			out[i] = math.NaN()
			continue
		}
		num = v + decay*num
		den = 1 + decay*den
		out[i] = num / den
	}
	return out
}

// rollingStd is the sample (n-1) standard deviation over a trailing window.
func rollingStd(x []float64, p int) []float64 {
	out := nanSlice(len(x))
	if p < 2 {
		return out
	}
	for i := p - 1; i < len(x); i++ {
		w := x[i-p+1 : i+1]
		var mean float64
		ok := true
		for _, v := range w {
			if math.IsNaN(v) {
				ok = false
				break
			}
			mean += v
		}
		if !ok {
			continue
		}
		mean /= float64(p)
		var ss float64
		for _, v := range w {
			d := v - mean
			ss += d * d
		}
		out[i] = math.Sqrt(ss / float64(p-1))
	}
	return out
}

func rollingMax(x []float64, p int) []float64 {
	return rollingExtreme(x, p, func(a, b float64) bool { return a > b })
}

func rollingMin(x []float64, p int) []float64 {
	return rollingExtreme(x, p, func(a, b float64) bool { return a < b })
}

func rollingExtreme(x []float64, p int, better func(a, b float64) bool) []float64 {
	out := nanSlice(len(x))
	if p <= 0 {
		return out
	}
	for i := p - 1; i < len(x); i++ {
		best := x[i-p+1]
		for _, v := range x[i-p+2 : i+1] {
			if math.IsNaN(v) || better(v, best) {
				best = v
			}
			if math.IsNaN(best) {
				break
			}
		}
		out[i] = best
	}
	return out
}
