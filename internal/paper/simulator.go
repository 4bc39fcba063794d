// Package paper implements a paper-trading fill simulator: per-bar
// probabilistic limit fills, a slippage-floor-adjusted fill price, and
// discrete funding settlement that must match live semantics. Callers
// hand it one bar (or one settlement list) per call; the package has no
// merged bar/funding-settlement stream or replay driver of its own.
//
// Built from a single-mutable-price, uuid-stamped synthetic-fill broker
// (generalized from a single quote-driven market fill to the full
// slippage/fill-probability/funding model a perpetual needs) and a
// CSV-driven step loop.
// Funding settlement has no precedent in a spot-only broker and is built
// directly from the formula.
package paper

import (
	"math/rand"

	"github.com/google/uuid"

	"github.com/chidi150c/perpcore/internal/state"
)

// VolRegime selects the slippage multiplier bucket.
type VolRegime string

const (
	VolLow    VolRegime = "LOW"
	VolNormal VolRegime = "NORMAL"
	VolHigh   VolRegime = "HIGH"
)

func (r VolRegime) multiplier() float64 {
	switch r {
	case VolLow:
		return 0.5
	case VolHigh:
		return 2.0
	default:
		return 1.0
	}
}

// SlippageModel bundles the configured base/ATR-scale slippage inputs.
type SlippageModel struct {
	BaseBps       float64
	ATRScale      float64
	MarketPenaltyBps float64
}

// slippagePct computes the direction-aware, regime-scaled slippage
// percentage for one fill.
func (m SlippageModel) slippagePct(atrPct float64, regime VolRegime, isMarket bool) float64 {
	bps := (m.BaseBps + m.ATRScale*atrPct*10000) * regime.multiplier()
	if isMarket {
		bps += m.MarketPenaltyBps
	}
	return bps / 10000
}

// Bar is one OHLCV record a limit-fill decision is evaluated against.
type Bar struct {
	Open, High, Low, Close, Volume float64
}

// FundingSettlement is one discrete funding event at a point in time.
type FundingSettlement struct {
	UnixSec   int64
	Rate      float64
	MarkPrice float64 // 0 means "use bar close" as the mark-price fallback
}

// Simulator decides fills one call at a time from a seeded PRNG; it holds
// no bar or settlement stream.
type Simulator struct {
	rng     *rand.Rand
	slip    SlippageModel
	partialFillRate float64
}

// New constructs a Simulator with a seeded PRNG for deterministic,
// reproducible fill draws.
func New(seed int64, slip SlippageModel, partialFillRate float64) *Simulator {
	return &Simulator{rng: rand.New(rand.NewSource(seed)), slip: slip, partialFillRate: partialFillRate}
}

// FillDecision is the simulator's point-in-time verdict for one working
// order against one bar close.
type FillDecision struct {
	Filled      bool
	Partial     bool
	FillPrice   float64
	FillQty     float64
}

// halfSpreadFloor enforces the half-spread floor: marketable orders get
// max(modelled, spread/2); passive limits get no floor.
func halfSpreadFloor(modelledPct, spreadPct float64, marketable bool) float64 {
	if !marketable {
		return modelledPct
	}
	floor := spreadPct / 2 / 100
	if floor > modelledPct {
		return floor
	}
	return modelledPct
}

// isMarketable reports whether a limit order is through the market or
// within 5bps of the opposing quote.
func isMarketable(side state.Side, limitPrice, bid, ask float64) bool {
	const withinBps = 5.0 / 10000
	if side == state.Long {
		return limitPrice >= ask || (ask-limitPrice)/ask <= withinBps
	}
	return limitPrice <= bid || (limitPrice-bid)/bid <= withinBps
}

// EvaluateMarketFill simulates an immediate MARKET order fill, applying
// slippage (direction-aware: never favorable) and the half-spread floor.
func (s *Simulator) EvaluateMarketFill(side state.Side, mark, spreadPct, atrPct float64, regime VolRegime) FillDecision {
	slip := s.slip.slippagePct(atrPct, regime, true)
	slip = halfSpreadFloor(slip, spreadPct, true)
	price := applySlippage(side, mark, slip)
	return FillDecision{Filled: true, FillPrice: price, FillQty: 1.0}
}

func applySlippage(side state.Side, mark, slipPct float64) float64 {
	if side == state.Long {
		return mark * (1 + slipPct)
	}
	return mark * (1 - slipPct)
}

// EvaluateLimitFill simulates one bar-close fill decision for a working
// LIMIT order: immediate fill if the limit price is through the market;
// otherwise a distance-decayed probability with bonuses for bars held and
// volatility, with a configured partial-fill rate on successful draws.
func (s *Simulator) EvaluateLimitFill(side state.Side, limitPrice float64, bar Bar, bid, ask, atrPct float64, barsHeld int, regime VolRegime) FillDecision {
	marketable := isMarketable(side, limitPrice, bid, ask)
	spreadPct := 0.0
	if mid := (bid + ask) / 2; mid > 0 {
		spreadPct = (ask - bid) / mid * 100
	}

	throughMarket := false
	if side == state.Long {
		throughMarket = bar.Low <= limitPrice
	} else {
		throughMarket = bar.High >= limitPrice
	}

	if throughMarket {
		slip := s.slip.slippagePct(atrPct, regime, false)
		slip = halfSpreadFloor(slip, spreadPct, marketable)
		price := applySlippage(side, limitPrice, slip)
		return s.maybePartial(price)
	}

	mid := (bar.High + bar.Low) / 2
	distance := 0.0
	if mid > 0 {
		distance = absf(limitPrice-mid) / mid
	}
	prob := distanceDecayProbability(distance, barsHeld, atrPct)
	if s.rng.Float64() >= prob {
		return FillDecision{Filled: false}
	}

	slip := s.slip.slippagePct(atrPct, regime, false)
	slip = halfSpreadFloor(slip, spreadPct, marketable)
	price := applySlippage(side, limitPrice, slip)
	return s.maybePartial(price)
}

func (s *Simulator) maybePartial(price float64) FillDecision {
	if s.partialFillRate > 0 && s.rng.Float64() < s.partialFillRate {
		return FillDecision{Filled: true, Partial: true, FillPrice: price, FillQty: 0.5}
	}
	return FillDecision{Filled: true, FillPrice: price, FillQty: 1.0}
}

// distanceDecayProbability is a monotonically-decreasing-in-distance,
// monotonically-increasing-in-(barsHeld, volatility) probability in [0,1].
func distanceDecayProbability(distance float64, barsHeld int, atrPct float64) float64 {
	base := 1.0 / (1.0 + distance*200)
	holdBonus := float64(barsHeld) * 0.02
	volBonus := atrPct * 5
	p := base + holdBonus + volBonus
	if p > 0.95 {
		p = 0.95
	}
	if p < 0 {
		p = 0
	}
	return p
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// FundingCashflow computes the signed cashflow for one settlement applied
// to a position: LONG pays when rate>0, receives when rate<0; SHORT is
// the opposite; no leverage multiplier.
func FundingCashflow(side state.Side, qty, markPrice, rate float64) float64 {
	notional := absf(qty) * markPrice
	cashflow := notional * rate
	if side == state.Short {
		cashflow = -cashflow
	}
	return cashflow
}

// ApplySettlements iterates every settlement in (t0, t1] not yet applied to
// pos, updates pos.AccumulatedFunding and pos.FundingSettled, and returns
// the total equity delta (negative cashflow reduces equity). At most one
// application is allowed per settlement timestamp per position.
func ApplySettlements(pos *state.Position, settlements []FundingSettlement, t0, t1Unix int64, barClose float64) float64 {
	if pos.FundingSettled == nil {
		pos.FundingSettled = make(map[int64]bool)
	}
	var totalEquityDelta float64
	for _, s := range settlements {
		if s.UnixSec <= t0 || s.UnixSec > t1Unix {
			continue
		}
		if pos.FundingSettled[s.UnixSec] {
			continue
		}
		mark := s.MarkPrice
		if mark <= 0 {
			mark = barClose
		}
		cashflow := FundingCashflow(pos.Side, pos.Quantity, mark, s.Rate)
		pos.AccumulatedFunding += cashflow
		pos.FundingSettled[s.UnixSec] = true
		totalEquityDelta -= cashflow
	}
	return totalEquityDelta
}

// NewClientOrderID generates a uuid-stamped synthetic order id for paper
// fills, grounded in a prior spot bot's paper-broker file's
// uuid.New().String() usage.
func NewClientOrderID(symbol string) string {
	return symbol + "-PAPER-" + uuid.NewString()
}
