package indicators

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSMA_AveragesLastNCloses(t *testing.T) {
	closes := []float64{1, 2, 3, 4, 5}
	out := SMA(closes, 3)
	assert.True(t, math.IsNaN(out[0]))
	assert.True(t, math.IsNaN(out[1]))
	assert.InDelta(t, 2.0, out[2], 1e-9)
	assert.InDelta(t, 3.0, out[3], 1e-9)
	assert.InDelta(t, 4.0, out[4], 1e-9)
}

func TestSMA_EmptyOrZeroWindow(t *testing.T) {
	out := SMA([]float64{1, 2, 3}, 0)
	for _, v := range out {
		assert.True(t, math.IsNaN(v))
	}
}

func TestEMA_SeededWithFirstValue(t *testing.T) {
	out := EMA([]float64{10, 10, 10, 10}, 3)
	assert.Equal(t, 10.0, out[0])
	assert.InDelta(t, 10.0, out[3], 1e-9)
}

func TestRSI_AllGainsSaturatesHigh(t *testing.T) {
	closes := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}
	out := RSI(closes, 14)
	assert.InDelta(t, 100.0, out[14], 1e-6)
}

func TestZScore_ZeroAtConstantSeries(t *testing.T) {
	closes := []float64{5, 5, 5, 5, 5}
	out := ZScore(closes, 3)
	assert.InDelta(t, 0.0, out[4], 1e-6)
}

func TestATR_ZeroWhileWindowIncomplete(t *testing.T) {
	bars := []Bar{{High: 10, Low: 8, Close: 9}}
	out := ATR(bars, 14)
	// n > len(bars) means the window never completes; out stays zero except
	// the precomputed raw true-range series isn't surfaced until index n-1.
	assert.Equal(t, 0.0, out[0])
}

func TestATR_ConstantRangeConverges(t *testing.T) {
	bars := make([]Bar, 20)
	for i := range bars {
		bars[i] = Bar{High: 110, Low: 90, Close: 100}
	}
	out := ATR(bars, 14)
	assert.InDelta(t, 20.0, out[19], 1e-6)
}

func TestMACD_ZeroOnFlatSeries(t *testing.T) {
	closes := make([]float64, 40)
	for i := range closes {
		closes[i] = 100
	}
	macd, signal, hist := MACD(closes, 12, 26, 9)
	assert.InDelta(t, 0.0, macd[len(macd)-1], 1e-9)
	assert.InDelta(t, 0.0, signal[len(signal)-1], 1e-9)
	assert.InDelta(t, 0.0, hist[len(hist)-1], 1e-9)
}

func TestOBV_AccumulatesOnDirection(t *testing.T) {
	bars := []Bar{{Close: 10}, {Close: 11}, {Close: 10}, {Close: 10}}
	vol := []float64{1, 2, 3, 4}
	out := OBV(bars, vol)
	assert.Equal(t, 0.0, out[0])
	assert.Equal(t, 2.0, out[1])
	assert.Equal(t, -1.0, out[2])
	assert.Equal(t, -1.0, out[3])
}

func TestChoppiness_RangeBoundApproaches100(t *testing.T) {
	bars := make([]Bar, 20)
	for i := range bars {
		bars[i] = Bar{High: 105, Low: 95, Close: 100}
	}
	out := Choppiness(bars, 14)
	assert.Greater(t, out[19], 50.0)
}

func TestADX_FlatSeriesIsZero(t *testing.T) {
	bars := make([]Bar, 40)
	for i := range bars {
		bars[i] = Bar{High: 100, Low: 100, Close: 100}
	}
	out := ADX(bars, 14)
	assert.Equal(t, 0.0, out[39])
}
