// Package scoring implements a composite scoring engine: a
// weighted linear combination of normalized [0,1] factors. Factor inputs
// that reduce to indicator math reuse internal/indicators, generalized from
// a prior spot bot's SMA/RSI/ZScore and the ATR/MACD/OBV
// helpers a strategy's feature-building step references.
package scoring

// Weights mirrors the configured per-factor weight set: weights sum to 1
// by convention but are not enforced.
type Weights struct {
	TrendAlignment    float64
	VolatilityFit     float64
	EntryQuality      float64
	FundingPenalty    float64
	NewsModifier      float64
	Liquidity         float64
	Crowding          float64
	FundingVolatility float64
	OIExpansion       float64
	TakerImbalance    float64
	VolumeRatio       float64
	Threshold         float64
}

// Factors bundles every normalized [0,1] factor input to the composite
// score. A factor the caller could not compute should be left at its zero
// value and flagged via Missing instead of guessed; Score then uses a
// neutral 0.5 for it. Result carries no per-factor diagnostic.
type Factors struct {
	TrendAlignment    float64
	VolatilityFit     float64
	EntryQuality      float64
	FundingPenalty    float64
	NewsModifier      float64
	Liquidity         float64
	Crowding          float64
	FundingVolatility float64
	OIExpansion       float64
	TakerImbalance    float64
	VolumeRatio       float64

	Missing map[string]bool
}

// neutral fills in 0.5 for any factor named in Missing.
func (f Factors) neutral() Factors {
	get := func(name string, v float64) float64 {
		if f.Missing != nil && f.Missing[name] {
			return 0.5
		}
		return v
	}
	f.TrendAlignment = get("trend_alignment", f.TrendAlignment)
	f.VolatilityFit = get("volatility_fit", f.VolatilityFit)
	f.EntryQuality = get("entry_quality", f.EntryQuality)
	f.FundingPenalty = get("funding_penalty", f.FundingPenalty)
	f.NewsModifier = get("news_modifier", f.NewsModifier)
	f.Liquidity = get("liquidity", f.Liquidity)
	f.Crowding = get("crowding", f.Crowding)
	f.FundingVolatility = get("funding_volatility", f.FundingVolatility)
	f.OIExpansion = get("oi_expansion", f.OIExpansion)
	f.TakerImbalance = get("taker_imbalance", f.TakerImbalance)
	f.VolumeRatio = get("volume_ratio", f.VolumeRatio)
	return f
}

// SignalType is the composite-score gate outcome.
type SignalType string

const (
	SignalNone SignalType = "NONE"
	SignalGo   SignalType = "GO"
)

// Result is the scoring engine's output.
type Result struct {
	Composite float64
	Signal    SignalType
}

// Score computes the weighted composite and applies the threshold gate,
//.
func Score(f Factors, w Weights) Result {
	f = f.neutral()
	composite := w.TrendAlignment*f.TrendAlignment +
		w.VolatilityFit*f.VolatilityFit +
		w.EntryQuality*f.EntryQuality +
		w.FundingPenalty*f.FundingPenalty +
		w.NewsModifier*f.NewsModifier +
		w.Liquidity*f.Liquidity +
		w.Crowding*f.Crowding +
		w.FundingVolatility*f.FundingVolatility +
		w.OIExpansion*f.OIExpansion +
		w.TakerImbalance*f.TakerImbalance +
		w.VolumeRatio*f.VolumeRatio

	sig := SignalNone
	if composite >= w.Threshold {
		sig = SignalGo
	}
	return Result{Composite: composite, Signal: sig}
}

// EntryQualityFromATRDistance computes the entry-quality factor: an
// inverted-U shaped function of the distance (in ATR units) from a
// breakout/pullback reference price, peaking in [0.5, 1.0] ATR.
func EntryQualityFromATRDistance(distanceATR float64) float64 {
	if distanceATR < 0 {
		distanceATR = -distanceATR
	}
	const peakLo, peakHi = 0.5, 1.0
	switch {
	case distanceATR >= peakLo && distanceATR <= peakHi:
		return 1.0
	case distanceATR < peakLo:
		if peakLo == 0 {
			return 1.0
		}
		return distanceATR / peakLo
	default:
		// Decay linearly to 0 by 3x the peak's upper bound.
		decayRange := peakHi * 2
		v := 1.0 - (distanceATR-peakHi)/decayRange
		if v < 0 {
			return 0
		}
		return v
	}
}

// LiquidityFromSpread maps a bid/ask spread percentage to a [0,1] liquidity
// factor: tighter spreads score higher. capPct is the spread at/above which
// liquidity bottoms out at 0.
func LiquidityFromSpread(spreadPct, capPct float64) float64 {
	if capPct <= 0 {
		return 0.5
	}
	v := 1.0 - spreadPct/capPct
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// CrowdingFromLongShortRatio maps a long/short ratio to a [0,1] crowding
// factor, where 1.0 is balanced (ratio == 1) and extremity in either
// direction decays the score toward 0.
func CrowdingFromLongShortRatio(ratio float64) float64 {
	if ratio <= 0 {
		return 0
	}
	extremity := ratio
	if ratio < 1 {
		extremity = 1 / ratio
	}
	v := 1.0 - (extremity-1)/4
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
