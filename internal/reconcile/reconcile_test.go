package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/chidi150c/perpcore/internal/state"
)

func TestCompare_NoDriftWhenPositionsMatch(t *testing.T) {
	st := state.New(10000, []string{"BTC-PERP"})
	st.Positions["BTC-PERP"] = state.Position{Symbol: "BTC-PERP", Side: state.Long, Quantity: 1.5}

	drifts := Compare(st, []ExchangePosition{{Symbol: "BTC-PERP", Side: state.Long, Quantity: 1.5}})
	assert.Empty(t, drifts)
}

func TestCompare_ToleratesTinyQuantityNoise(t *testing.T) {
	st := state.New(10000, []string{"BTC-PERP"})
	st.Positions["BTC-PERP"] = state.Position{Symbol: "BTC-PERP", Side: state.Long, Quantity: 1.5}

	drifts := Compare(st, []ExchangePosition{{Symbol: "BTC-PERP", Side: state.Long, Quantity: 1.5 + 1e-10}})
	assert.Empty(t, drifts)
}

func TestCompare_InternalOnlyPositionDrifts(t *testing.T) {
	st := state.New(10000, []string{"BTC-PERP"})
	st.Positions["BTC-PERP"] = state.Position{Symbol: "BTC-PERP", Side: state.Long, Quantity: 1}

	drifts := Compare(st, nil)
	assert.Len(t, drifts, 1)
	assert.Equal(t, "BTC-PERP", drifts[0].Symbol)
	assert.Equal(t, DriftPosition, drifts[0].Kind)
}

func TestCompare_ExchangeOnlyPositionDrifts(t *testing.T) {
	st := state.New(10000, []string{"BTC-PERP"})

	drifts := Compare(st, []ExchangePosition{{Symbol: "BTC-PERP", Side: state.Long, Quantity: 1}})
	assert.Len(t, drifts, 1)
	assert.Equal(t, "exchange position has no internal counterpart", drifts[0].Detail)
}

func TestCompare_SideMismatchDrifts(t *testing.T) {
	st := state.New(10000, []string{"BTC-PERP"})
	st.Positions["BTC-PERP"] = state.Position{Symbol: "BTC-PERP", Side: state.Long, Quantity: 1}

	drifts := Compare(st, []ExchangePosition{{Symbol: "BTC-PERP", Side: state.Short, Quantity: 1}})
	assert.Len(t, drifts, 1)
	assert.Equal(t, "side mismatch", drifts[0].Detail)
}

func TestCompare_QuantityMismatchBeyondToleranceDrifts(t *testing.T) {
	st := state.New(10000, []string{"BTC-PERP"})
	st.Positions["BTC-PERP"] = state.Position{Symbol: "BTC-PERP", Side: state.Long, Quantity: 1}

	drifts := Compare(st, []ExchangePosition{{Symbol: "BTC-PERP", Side: state.Long, Quantity: 1.01}})
	assert.Len(t, drifts, 1)
	assert.Equal(t, "quantity mismatch", drifts[0].Detail)
}
