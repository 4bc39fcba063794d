// Package broker provides concrete adapters of the execution.Broker
// interface: an in-process PaperBroker driving internal/paper's simulator
// (paper run mode), and a REST BridgeBroker for testnet/live run modes.
//
// PaperBroker is grounded in a prior spot bot's paper-broker file's
// single-mutable-last-price PaperBroker, generalized from a spot
// quote-to-base market fill to perpetual LIMIT/MARKET/STOP_MARKET orders
// routed through internal/paper's slippage/fill-probability model.
package broker

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/chidi150c/perpcore/internal/execution"
	"github.com/chidi150c/perpcore/internal/paper"
	"github.com/chidi150c/perpcore/internal/state"
)

// PaperBroker never contacts an exchange; all fills come from the
// simulator.
type PaperBroker struct {
	mu        sync.Mutex
	sim       *paper.Simulator
	lastPrice map[string]float64
	bars      map[string]paper.Bar
	atrPct    map[string]float64
	regime    map[string]paper.VolRegime
}

// NewPaperBroker constructs a PaperBroker around a Simulator.
func NewPaperBroker(sim *paper.Simulator) *PaperBroker {
	return &PaperBroker{
		sim:       sim,
		lastPrice: make(map[string]float64),
		bars:      make(map[string]paper.Bar),
		atrPct:    make(map[string]float64),
		regime:    make(map[string]paper.VolRegime),
	}
}

// SetMark feeds the simulator's view of a symbol's current bar, mirroring
// a prior spot bot's paper-broker file's single mutable price but carrying a
// full bar plus ATR%/regime so the slippage model has what it needs.
func (p *PaperBroker) SetMark(symbol string, bar paper.Bar, atrPct float64, regime paper.VolRegime) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastPrice[symbol] = bar.Close
	p.bars[symbol] = bar
	p.atrPct[symbol] = atrPct
	p.regime[symbol] = regime
}

func (p *PaperBroker) Name() string { return "paper" }

func (p *PaperBroker) EnsureAccountSettings(ctx context.Context, s execution.AccountSettings) error {
	return nil
}

func (p *PaperBroker) GetBBO(ctx context.Context, symbol string) (execution.BBO, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	price, ok := p.lastPrice[symbol]
	if !ok {
		return execution.BBO{}, errors.New("no mark price set for symbol")
	}
	spread := price * 0.0005
	return execution.BBO{Bid: price - spread/2, Ask: price + spread/2}, nil
}

func (p *PaperBroker) PlaceOrder(ctx context.Context, o state.Order) (execution.PlacedOrderAck, error) {
	p.mu.Lock()
	bar, ok := p.bars[o.Symbol]
	atrPct := p.atrPct[o.Symbol]
	regime := p.regime[o.Symbol]
	p.mu.Unlock()
	if !ok {
		return execution.PlacedOrderAck{}, errors.New("no bar set for symbol")
	}

	bid, ask, _ := p.bidAsk(o.Symbol)

	var decision paper.FillDecision
	switch o.OrderType {
	case state.OrderMarket, state.OrderStopMarket, state.OrderTakeProfitMarket:
		decision = p.sim.EvaluateMarketFill(o.Side, bar.Close, spreadPct(bid, ask), atrPct, regime)
	default:
		decision = p.sim.EvaluateLimitFill(o.Side, o.LimitPrice, bar, bid, ask, atrPct, 0, regime)
	}

	status := state.OrderStatusOpen
	filledQty := 0.0
	if decision.Filled {
		status = state.OrderStatusFilled
		filledQty = o.Quantity
		if decision.Partial {
			status = state.OrderStatusPartiallyFilled
			filledQty = o.Quantity * decision.FillQty
		}
	}
	return execution.PlacedOrderAck{
		ClientOrderID:   o.ClientOrderID,
		ExchangeOrderID: uuid.NewString(),
		Status:          status,
		FillPrice:       decision.FillPrice,
		FilledQuantity:  filledQty,
	}, nil
}

func (p *PaperBroker) CancelOrder(ctx context.Context, symbol, clientOrderID string) error {
	return nil
}

func (p *PaperBroker) GetOrder(ctx context.Context, symbol, clientOrderID string) (state.Order, error) {
	return state.Order{}, errors.New("paper broker does not track orders by id; consult the pending store")
}

func (p *PaperBroker) GetExchangeFilters(ctx context.Context, symbol string) (execution.StepFilters, error) {
	return execution.StepFilters{StepSize: 0.001, MinQty: 0.001, MinNotional: 5, TickSize: 0.5}, nil
}

func (p *PaperBroker) bidAsk(symbol string) (bid, ask float64, err error) {
	bbo, err := p.GetBBO(context.Background(), symbol)
	return bbo.Bid, bbo.Ask, err
}

func spreadPct(bid, ask float64) float64 {
	mid := (bid + ask) / 2
	if mid <= 0 {
		return 0
	}
	return (ask - bid) / mid * 100
}

