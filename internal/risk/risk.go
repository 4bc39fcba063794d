// Package risk implements a deterministic risk engine: a pure function
// from (state, proposal, filters, now) to an approval decision,
// accumulating every failing hard limit rather than short-circuiting on
// the first one.
//
// Sizing math uses github.com/shopspring/decimal internally to avoid float
// accumulation error across repeated clamps; the public Proposal/Result
// types stay float64 to match the order/candle shape at the boundary.
package risk

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/chidi150c/perpcore/internal/state"
)

// ReasonTag is one of the rejection/adjustment reason codes the engine
// can attach to a decision.
type ReasonTag string

const (
	StrategyPaused     ReasonTag = "STRATEGY_PAUSED"
	PositionLimit      ReasonTag = "POSITION_LIMIT"
	SymbolBusy         ReasonTag = "SYMBOL_BUSY"
	NewsBlocked        ReasonTag = "NEWS_BLOCKED"
	FundingExcess      ReasonTag = "FUNDING_EXCESS"
	StopDistanceInvalid ReasonTag = "STOP_DISTANCE_INVALID"
	LeverageClamped    ReasonTag = "LEVERAGE_CLAMPED"
	SizeBelowMin       ReasonTag = "SIZE_BELOW_MIN"
)

// Limits bundles the configured hard-limit thresholds risk evaluation reads.
type Limits struct {
	MaxPositions      int
	RiskPerTradePct   float64
	MaxLeverage       float64
	MaxFundingRatePct float64
	MinStopATR        float64
	MaxStopATR        float64
}

// SymbolFilters mirrors exchange-reported quantization rules for a symbol.
type SymbolFilters struct {
	StepSize    float64
	MinQty      float64
	MinNotional float64
}

// Proposal is the subset of the TradeProposal the risk engine
// consumes.
type Proposal struct {
	Symbol       string
	Side         state.Side
	EntryPrice   float64
	StopPrice    float64
	TakeProfit   float64
	ATR          float64
	Leverage     float64
	FundingRate  float64
}

// Result is the RiskCheckResult.
type Result struct {
	Approved         bool
	Reasons          []ReasonTag
	AdjustedLeverage float64
	AdjustedQuantity float64
	CircuitBreaker   bool
}

// Evaluate is the pure risk function. Identical inputs yield identical
// outputs across runs.
func Evaluate(st state.TradingState, p Proposal, filters SymbolFilters, limits Limits, now time.Time) Result {
	var reasons []ReasonTag
	circuitBreaker := st.CircuitBreakerActive

	if st.CircuitBreakerActive || st.RequiresManualReview || now.Before(st.CooldownUntil) {
		reasons = append(reasons, StrategyPaused)
	}
	if len(st.Positions) >= limits.MaxPositions {
		reasons = append(reasons, PositionLimit)
	}
	if _, busy := st.Positions[p.Symbol]; busy {
		reasons = append(reasons, SymbolBusy)
	}
	if flag, ok := st.NewsRiskFlags[p.Symbol]; ok && flag.Level == state.NewsRiskHigh && now.Before(flag.ExpiresAt) {
		reasons = append(reasons, NewsBlocked)
	}
	adverseFunding := (p.Side == state.Long && p.FundingRate > 0) || (p.Side == state.Short && p.FundingRate < 0)
	if adverseFunding && absf(p.FundingRate) > limits.MaxFundingRatePct {
		reasons = append(reasons, FundingExcess)
	}

	stopDistanceATR := 0.0
	if p.ATR > 0 {
		stopDistanceATR = absf(p.EntryPrice-p.StopPrice) / p.ATR
	}
	if p.ATR <= 0 || stopDistanceATR < limits.MinStopATR || stopDistanceATR > limits.MaxStopATR {
		reasons = append(reasons, StopDistanceInvalid)
	}

	adjustedLeverage := p.Leverage
	if adjustedLeverage > limits.MaxLeverage {
		adjustedLeverage = limits.MaxLeverage
		reasons = append(reasons, LeverageClamped)
	}

	qty := sizePosition(st.Equity, limits.RiskPerTradePct, p.EntryPrice, p.StopPrice, filters.StepSize)
	if qty <= 0 || qty < filters.MinQty || qty*p.EntryPrice < filters.MinNotional {
		reasons = append(reasons, SizeBelowMin)
	}

	approved := true
	for _, r := range reasons {
		if r != LeverageClamped {
			approved = false
			break
		}
	}

	return Result{
		Approved:         approved,
		Reasons:          reasons,
		AdjustedLeverage: adjustedLeverage,
		AdjustedQuantity: qty,
		CircuitBreaker:   circuitBreaker,
	}
}

// sizePosition implements the sizing formula:
//
//	risk_capital = equity * risk_per_trade_pct
//	raw_qty = risk_capital / |entry - stop|
//	round down to step_size
func sizePosition(equity, riskPerTradePct, entry, stop, stepSize float64) float64 {
	dEquity := decimal.NewFromFloat(equity)
	dRiskPct := decimal.NewFromFloat(riskPerTradePct)
	dEntry := decimal.NewFromFloat(entry)
	dStop := decimal.NewFromFloat(stop)

	riskCapital := dEquity.Mul(dRiskPct)
	dist := dEntry.Sub(dStop).Abs()
	if dist.IsZero() {
		return 0
	}
	rawQty := riskCapital.Div(dist)

	if stepSize <= 0 {
		f, _ := rawQty.Float64()
		return f
	}
	dStep := decimal.NewFromFloat(stepSize)
	steps := rawQty.Div(dStep).Floor()
	result := steps.Mul(dStep)
	f, _ := result.Float64()
	return f
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
