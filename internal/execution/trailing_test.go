package execution

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/chidi150c/perpcore/internal/state"
)

func TestEvaluateTrailing_NoMoveBeforeActivation(t *testing.T) {
	pos := state.Position{Symbol: "BTC-PERP", Side: state.Long, EntryPrice: 100, StopPrice: 95}
	dec := EvaluateTrailing(pos, 101, 10, TrailingLimits{StartATR: 1, DistanceATR: 0.5})
	assert.False(t, dec.ShouldReplace)
}

func TestEvaluateTrailing_LongMovesStopUpAfterActivation(t *testing.T) {
	pos := state.Position{Symbol: "BTC-PERP", Side: state.Long, EntryPrice: 100, StopPrice: 95}
	dec := EvaluateTrailing(pos, 115, 10, TrailingLimits{StartATR: 1, DistanceATR: 0.5})
	assert.True(t, dec.ShouldReplace)
	assert.InDelta(t, 110.0, dec.NewStopPrice, 1e-9)
	assert.Contains(t, dec.NewClientOrder, "LONG")
}

func TestEvaluateTrailing_ShortMovesStopDownAfterActivation(t *testing.T) {
	pos := state.Position{Symbol: "BTC-PERP", Side: state.Short, EntryPrice: 100, StopPrice: 105}
	dec := EvaluateTrailing(pos, 85, 10, TrailingLimits{StartATR: 1, DistanceATR: 0.5})
	assert.True(t, dec.ShouldReplace)
	assert.InDelta(t, 90.0, dec.NewStopPrice, 1e-9)
	assert.Contains(t, dec.NewClientOrder, "SHORT")
}

func TestEvaluateTrailing_NeverMovesBackward(t *testing.T) {
	pos := state.Position{Symbol: "BTC-PERP", Side: state.Long, EntryPrice: 100, StopPrice: 112}
	dec := EvaluateTrailing(pos, 115, 10, TrailingLimits{StartATR: 1, DistanceATR: 0.5})
	// Candidate stop (115 - 5 = 110) is less favorable than the current 112.
	assert.False(t, dec.ShouldReplace)
}

func TestEvaluateTrailing_ZeroATRNeverTrails(t *testing.T) {
	pos := state.Position{Symbol: "BTC-PERP", Side: state.Long, EntryPrice: 100, StopPrice: 95}
	dec := EvaluateTrailing(pos, 200, 0, TrailingLimits{StartATR: 1, DistanceATR: 0.5})
	assert.False(t, dec.ShouldReplace)
}

func TestEvaluateTrailing_CounterIncrements(t *testing.T) {
	pos := state.Position{Symbol: "BTC-PERP", Side: state.Long, EntryPrice: 100, StopPrice: 95, TrailCounter: 3}
	dec := EvaluateTrailing(pos, 115, 10, TrailingLimits{StartATR: 1, DistanceATR: 0.5})
	assert.Contains(t, dec.NewClientOrder, "-4")
}
