package broker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chidi150c/perpcore/internal/paper"
	"github.com/chidi150c/perpcore/internal/state"
)

func TestPaperBroker_GetBBOFailsWithoutMarkSet(t *testing.T) {
	p := NewPaperBroker(paper.New(1, paper.SlippageModel{}, 0))
	_, err := p.GetBBO(context.Background(), "BTC-PERP")
	assert.Error(t, err)
}

func TestPaperBroker_GetBBODerivesSpreadFromMark(t *testing.T) {
	p := NewPaperBroker(paper.New(1, paper.SlippageModel{}, 0))
	p.SetMark("BTC-PERP", paper.Bar{Close: 100}, 0.01, paper.VolNormal)

	bbo, err := p.GetBBO(context.Background(), "BTC-PERP")
	require.NoError(t, err)
	assert.Less(t, bbo.Bid, 100.0)
	assert.Greater(t, bbo.Ask, 100.0)
}

func TestPaperBroker_PlaceOrderFailsWithoutMarkSet(t *testing.T) {
	p := NewPaperBroker(paper.New(1, paper.SlippageModel{}, 0))
	_, err := p.PlaceOrder(context.Background(), state.Order{Symbol: "BTC-PERP", OrderType: state.OrderMarket})
	assert.Error(t, err)
}

func TestPaperBroker_PlaceMarketOrderFillsAgainstMark(t *testing.T) {
	p := NewPaperBroker(paper.New(1, paper.SlippageModel{}, 0))
	p.SetMark("BTC-PERP", paper.Bar{High: 101, Low: 99, Close: 100}, 0.01, paper.VolNormal)

	ack, err := p.PlaceOrder(context.Background(), state.Order{
		ClientOrderID: "co-1", Symbol: "BTC-PERP", Side: state.Long, OrderType: state.OrderMarket, Quantity: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, state.OrderStatusFilled, ack.Status)
	assert.Equal(t, "co-1", ack.ClientOrderID)
	assert.NotEmpty(t, ack.ExchangeOrderID)
}

func TestPaperBroker_GetExchangeFiltersReturnsFixedStepValues(t *testing.T) {
	p := NewPaperBroker(paper.New(1, paper.SlippageModel{}, 0))
	f, err := p.GetExchangeFilters(context.Background(), "BTC-PERP")
	require.NoError(t, err)
	assert.Equal(t, 0.001, f.StepSize)
}

func TestPaperBroker_GetOrderIsUnsupported(t *testing.T) {
	p := NewPaperBroker(paper.New(1, paper.SlippageModel{}, 0))
	_, err := p.GetOrder(context.Background(), "BTC-PERP", "co-1")
	assert.Error(t, err)
}

func TestSpreadPct_ZeroMidReturnsZero(t *testing.T) {
	assert.Equal(t, 0.0, spreadPct(0, 0))
}

func TestSpreadPct_ComputesPercentOfMid(t *testing.T) {
	assert.InDelta(t, 2.0, spreadPct(99, 101), 1e-9)
}
