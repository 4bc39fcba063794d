// Package execution implements the ExecutionEngine:
// entry placement, protective-order attachment, trailing-stop updates, and
// entry-order lifecycle/timeout handling.
//
// Grounded in a prior spot bot's closeLot/updateRunnerTrail/
// applyRunnerTargets (generalized from spot long/short lot bookkeeping to a
// perpetual Position with leverage and funding) and its
// maybeRepriceOnce/RehydratePending maker-first poller (generalized into
// the entry lifecycle/timeout state machine below). The Broker interface
// itself is carried over from that same bot, generalized
// with reduce_only and leverage/position-mode settings for perpetuals.
package execution

import (
	"context"
	"time"

	"github.com/chidi150c/perpcore/internal/state"
)

// BBO is a best-bid/best-offer snapshot, used by the pre-trade
// microstructure gate.
type BBO struct {
	Bid float64
	Ask float64
}

// AccountSettings is the idempotent per-symbol exchange configuration
// (position mode, margin type, leverage) required before any entry.
type AccountSettings struct {
	Symbol      string
	PositionMode string
	MarginType   string
	Leverage     float64
}

// PlacedOrderAck is what the exchange returns on order acceptance,
// generalized from a prior spot bot's PlacedOrder. FillPrice/FilledQuantity
// are only meaningful when Status already reports a fill (the paper
// simulator decides fills synchronously at placement time); a live/testnet
// bridge that only acks PLACED/OPEN leaves them zero and the actual fill
// arrives later over the user stream.
type PlacedOrderAck struct {
	ClientOrderID   string
	ExchangeOrderID string
	Status          state.OrderStatus
	FillPrice       float64
	FilledQuantity  float64
}

// Broker is the exchange-facing interface the execution engine drives.
// Concrete adapters (paper, testnet, live) implement it; the transport
// itself is treated as an external collaborator.
type Broker interface {
	Name() string
	EnsureAccountSettings(ctx context.Context, s AccountSettings) error
	GetBBO(ctx context.Context, symbol string) (BBO, error)
	PlaceOrder(ctx context.Context, o state.Order) (PlacedOrderAck, error)
	CancelOrder(ctx context.Context, symbol, clientOrderID string) error
	GetOrder(ctx context.Context, symbol, clientOrderID string) (state.Order, error)
	GetExchangeFilters(ctx context.Context, symbol string) (StepFilters, error)
}

// StepFilters mirrors a prior spot bot's ExFilters, generalized
// with min-notional for perpetual sizing.
type StepFilters struct {
	StepSize    float64
	MinQty      float64
	MinNotional float64
	TickSize    float64
}

// Clock abstracts time.Now. Engine stores one (defaulting to UTC now);
// placement retries run back to back with no delay between attempts.
type Clock func() time.Time
