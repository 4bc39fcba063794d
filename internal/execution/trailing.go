// Trailing-stop state machine, generalized from a USD-PnL-gated trailing
// stop to an ATR-distance-gated trailing stop: activation and step are
// both expressed in ATR units rather than USD, since a perpetual
// position's notional (and therefore USD PnL) scales with leverage in a
// way a spot lot never has to account for.
package execution

import (
	"fmt"

	"github.com/chidi150c/perpcore/internal/state"
)

// TrailingLimits mirrors the configured trailing-stop distances.
type TrailingLimits struct {
	StartATR    float64
	DistanceATR float64
	TickSize    float64
}

// TrailingDecision is the outcome of one cycle's trailing-stop evaluation
// for a single position.
type TrailingDecision struct {
	ShouldReplace  bool
	NewStopPrice   float64
	NewClientOrder string
}

// EvaluateTrailing implements the trailing-stop update: compute
// favorable excursion, and if it has cleared the activation distance,
// propose a new stop that is only ever strictly more favorable (monotonic)
// than the current one by at least one tick.
func EvaluateTrailing(pos state.Position, currentPrice, atr float64, lim TrailingLimits) TrailingDecision {
	if atr <= 0 {
		return TrailingDecision{}
	}

	var excursion float64
	if pos.Side == state.Long {
		excursion = currentPrice - pos.EntryPrice
	} else {
		excursion = pos.EntryPrice - currentPrice
	}
	if excursion < lim.StartATR*atr {
		return TrailingDecision{}
	}

	var candidate float64
	if pos.Side == state.Long {
		candidate = currentPrice - lim.DistanceATR*atr
	} else {
		candidate = currentPrice + lim.DistanceATR*atr
	}

	tick := lim.TickSize
	if tick <= 0 {
		tick = 0
	}

	moreFavorable := false
	if pos.Side == state.Long {
		moreFavorable = candidate > pos.StopPrice && candidate >= pos.StopPrice+tick
	} else {
		moreFavorable = candidate < pos.StopPrice && candidate <= pos.StopPrice-tick
	}
	if !moreFavorable {
		return TrailingDecision{}
	}

	counter := pos.TrailCounter + 1
	side := "LONG"
	if pos.Side == state.Short {
		side = "SHORT"
	}
	return TrailingDecision{
		ShouldReplace:  true,
		NewStopPrice:   candidate,
		NewClientOrder: fmt.Sprintf("%s_SL-TRAIL-%s-%d", pos.Symbol, side, counter),
	}
}
