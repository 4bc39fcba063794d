// Package indicators implements the pure technical-analysis functions the
// scoring engine and regime classifier treat as external collaborators
// (indicator math is deliberately kept out of the decision core itself,
// but something must compute them end-to-end in paper mode).
//
// SMA/RSI/ZScore are generalized from a []Candle input to a bare
// []float64 close series so this package has no dependency on any OHLCV
// struct. ATR/ADX/Choppiness/EMA/MACD/OBV/RollingStd are new, built to the
// exact signatures a strategy's feature-building step expects of them,
// generalized for perpcore's regime classifier and scoring engine.
package indicators

import "math"

// Bar is the minimal OHLC shape the indicators in this package need.
type Bar struct {
	High  float64
	Low   float64
	Close float64
}

// SMA returns the n-period simple moving average of close, aligned to close.
// Indices before the first full window are NaN.
func SMA(close []float64, n int) []float64 {
	out := make([]float64, len(close))
	if n <= 0 || len(close) == 0 {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}
	var sum float64
	for i := range close {
		sum += close[i]
		if i >= n {
			sum -= close[i-n]
		}
		if i >= n-1 {
			out[i] = sum / float64(n)
		} else {
			out[i] = math.NaN()
		}
	}
	return out
}

// EMA returns the n-period exponential moving average of close, seeded with
// the first value and aligned to close.
func EMA(close []float64, n int) []float64 {
	out := make([]float64, len(close))
	if n <= 0 || len(close) == 0 {
		return out
	}
	k := 2.0 / float64(n+1)
	out[0] = close[0]
	for i := 1; i < len(close); i++ {
		out[i] = close[i]*k + out[i-1]*(1-k)
	}
	return out
}

// RSI returns the n-period Relative Strength Index using Wilder's smoothing.
// Indices before the first full window are zero.
func RSI(close []float64, n int) []float64 {
	out := make([]float64, len(close))
	if n <= 0 || len(close) == 0 {
		return out
	}
	var gain, loss float64
	for i := 1; i < len(close); i++ {
		d := close[i] - close[i-1]
		if i <= n {
			if d > 0 {
				gain += d
			} else {
				loss -= d
			}
			if i == n {
				avgGain := gain / float64(n)
				avgLoss := loss / float64(n)
				out[i] = rsiFromAverages(avgGain, avgLoss)
			}
		} else {
			if d > 0 {
				gain = (gain*float64(n-1) + d) / float64(n)
				loss = (loss * float64(n-1)) / float64(n)
			} else {
				gain = (gain * float64(n-1)) / float64(n)
				loss = (loss*float64(n-1) - d) / float64(n)
			}
			out[i] = rsiFromAverages(gain, loss)
		}
	}
	return out
}

// rsiFromAverages converts average gain/loss into the [0,100] RSI value. A
// zero average loss means no losing bars in the window, so RSI saturates at
// 100 rather than dividing by zero into an RS of 0.
func rsiFromAverages(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50.0
		}
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100.0 - (100.0 / (1.0 + rs))
}

// ZScore returns the rolling z-score of close over window n, aligned to close.
func ZScore(close []float64, n int) []float64 {
	out := make([]float64, len(close))
	if n <= 1 || len(close) == 0 {
		return out
	}
	var sum, sumSq float64
	for i := range close {
		x := close[i]
		sum += x
		sumSq += x * x
		if i >= n {
			y := close[i-n]
			sum -= y
			sumSq -= y * y
		}
		if i >= n-1 {
			mean := sum / float64(n)
			variance := (sumSq / float64(n)) - (mean * mean)
			std := math.Sqrt(math.Max(variance, 1e-12))
			out[i] = (x - mean) / std
		}
	}
	return out
}

// RollingStd returns the rolling standard deviation of close over window n.
func RollingStd(close []float64, n int) []float64 {
	out := make([]float64, len(close))
	if n <= 1 || len(close) == 0 {
		return out
	}
	var sum, sumSq float64
	for i := range close {
		x := close[i]
		sum += x
		sumSq += x * x
		if i >= n {
			y := close[i-n]
			sum -= y
			sumSq -= y * y
		}
		if i >= n-1 {
			mean := sum / float64(n)
			variance := math.Max((sumSq/float64(n))-(mean*mean), 0)
			out[i] = math.Sqrt(variance)
		}
	}
	return out
}

// trueRange computes a single bar's true range against the prior close.
func trueRange(bar Bar, prevClose float64) float64 {
	hl := bar.High - bar.Low
	hc := math.Abs(bar.High - prevClose)
	lc := math.Abs(bar.Low - prevClose)
	return math.Max(hl, math.Max(hc, lc))
}

// ATR returns the n-period Average True Range (Wilder's smoothing), aligned
// to bars. bars[0] has no prior close so its true range degenerates to
// high-low.
func ATR(bars []Bar, n int) []float64 {
	out := make([]float64, len(bars))
	if n <= 0 || len(bars) == 0 {
		return out
	}
	trs := make([]float64, len(bars))
	trs[0] = bars[0].High - bars[0].Low
	for i := 1; i < len(bars); i++ {
		trs[i] = trueRange(bars[i], bars[i-1].Close)
	}
	var sum float64
	for i, tr := range trs {
		if i < n {
			sum += tr
			if i == n-1 {
				out[i] = sum / float64(n)
			}
			continue
		}
		out[i] = (out[i-1]*float64(n-1) + tr) / float64(n)
	}
	return out
}

// MACD returns the MACD line, signal line, and histogram (macd - signal) for
// the given fast/slow/signal periods (classically 12/26/9).
func MACD(close []float64, fast, slow, signal int) (macd, signalLine, hist []float64) {
	n := len(close)
	macd = make([]float64, n)
	signalLine = make([]float64, n)
	hist = make([]float64, n)
	if n == 0 {
		return
	}
	emaFast := EMA(close, fast)
	emaSlow := EMA(close, slow)
	for i := 0; i < n; i++ {
		macd[i] = emaFast[i] - emaSlow[i]
	}
	signalLine = EMA(macd, signal)
	for i := 0; i < n; i++ {
		hist[i] = macd[i] - signalLine[i]
	}
	return
}

// OBV returns the On-Balance Volume series for bars with the given volumes.
func OBV(bars []Bar, volume []float64) []float64 {
	out := make([]float64, len(bars))
	if len(bars) == 0 {
		return out
	}
	for i := 1; i < len(bars); i++ {
		switch {
		case bars[i].Close > bars[i-1].Close:
			out[i] = out[i-1] + volume[i]
		case bars[i].Close < bars[i-1].Close:
			out[i] = out[i-1] - volume[i]
		default:
			out[i] = out[i-1]
		}
	}
	return out
}

// ADX returns the n-period Average Directional Index, the trend-strength
// indicator the regime classifier gates TRENDING on.
func ADX(bars []Bar, n int) []float64 {
	out := make([]float64, len(bars))
	if n <= 0 || len(bars) < 2 {
		return out
	}
	plusDM := make([]float64, len(bars))
	minusDM := make([]float64, len(bars))
	tr := make([]float64, len(bars))
	for i := 1; i < len(bars); i++ {
		upMove := bars[i].High - bars[i-1].High
		downMove := bars[i-1].Low - bars[i].Low
		if upMove > downMove && upMove > 0 {
			plusDM[i] = upMove
		}
		if downMove > upMove && downMove > 0 {
			minusDM[i] = downMove
		}
		tr[i] = trueRange(bars[i], bars[i-1].Close)
	}

	smooth := func(series []float64) []float64 {
		out := make([]float64, len(series))
		var sum float64
		for i, v := range series {
			if i < n {
				sum += v
				if i == n-1 {
					out[i] = sum
				}
				continue
			}
			out[i] = out[i-1] - out[i-1]/float64(n) + v
		}
		return out
	}
	smTR := smooth(tr)
	smPlusDM := smooth(plusDM)
	smMinusDM := smooth(minusDM)

	dx := make([]float64, len(bars))
	for i := range bars {
		if smTR[i] == 0 {
			continue
		}
		plusDI := 100 * smPlusDM[i] / smTR[i]
		minusDI := 100 * smMinusDM[i] / smTR[i]
		denom := plusDI + minusDI
		if denom == 0 {
			continue
		}
		dx[i] = 100 * math.Abs(plusDI-minusDI) / denom
	}

	var sum float64
	for i := range dx {
		if i < 2*n-1 {
			if i >= n-1 {
				sum += dx[i]
			}
			if i == 2*n-2 {
				out[i] = sum / float64(n)
			}
			continue
		}
		out[i] = (out[i-1]*float64(n-1) + dx[i]) / float64(n)
	}
	return out
}

// Choppiness returns the n-period Choppiness Index: 100 when the market is
// perfectly range-bound, approaching 0 in a strong trend. The regime
// classifier uses this alongside ADX.
func Choppiness(bars []Bar, n int) []float64 {
	out := make([]float64, len(bars))
	if n <= 0 || len(bars) == 0 {
		return out
	}
	trs := make([]float64, len(bars))
	trs[0] = bars[0].High - bars[0].Low
	for i := 1; i < len(bars); i++ {
		trs[i] = trueRange(bars[i], bars[i-1].Close)
	}
	logN := math.Log10(float64(n))
	for i := range bars {
		if i < n-1 {
			continue
		}
		var sumTR, hi, lo float64
		hi, lo = bars[i-n+1].High, bars[i-n+1].Low
		for j := i - n + 1; j <= i; j++ {
			sumTR += trs[j]
			if bars[j].High > hi {
				hi = bars[j].High
			}
			if bars[j].Low < lo {
				lo = bars[j].Low
			}
		}
		rng := hi - lo
		if rng <= 0 || logN == 0 {
			continue
		}
		out[i] = 100 * math.Log10(sumTR/rng) / logN
	}
	return out
}
