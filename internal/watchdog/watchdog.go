// Package watchdog implements the protective-order watchdog: a periodic
// check that every open position still has a live protective stop order,
// surfacing any gap as a ProtectiveOrdersMissing event rather than
// silently leaving a position unprotected.
//
// Grounded in a prior spot bot's runLive ticker+select loop idiom
// (time.NewTicker + select{ctx.Done(), ticker.C}), generalized from a
// single candle-poll loop into a dedicated periodic sweep, and in its
// applyRunnerTargets (which treats StopOrderID/TakeProfitOrderID as the
// source of truth for "this position is protected").
package watchdog

import (
	"context"
	"log/slog"
	"time"

	"github.com/chidi150c/perpcore/internal/bus"
	"github.com/chidi150c/perpcore/internal/events"
	"github.com/chidi150c/perpcore/internal/metrics"
	"github.com/chidi150c/perpcore/internal/state"
)

// BrokerOrderLookup is the narrow broker capability the watchdog needs: can
// it confirm an order is still live on the exchange? Declared locally
// (rather than importing internal/execution.Broker wholesale) to keep the
// watchdog's dependency surface minimal.
type BrokerOrderLookup interface {
	GetOrder(ctx context.Context, symbol, clientOrderID string) (state.Order, error)
}

// Watchdog periodically sweeps every open position and confirms its
// protective stop order is present and live on the exchange. Take-profit
// orders are not checked.
type Watchdog struct {
	snapshot func() state.TradingState
	broker   BrokerOrderLookup
	bus      *bus.Bus
	metrics  *metrics.Set
	log      *slog.Logger
	interval time.Duration
}

// New constructs a Watchdog. snapshot is typically manager.Snapshot from
// internal/state.
func New(snapshot func() state.TradingState, broker BrokerOrderLookup, b *bus.Bus, m *metrics.Set, log *slog.Logger, interval time.Duration) *Watchdog {
	return &Watchdog{snapshot: snapshot, broker: broker, bus: b, metrics: m, log: log.With("component", "watchdog"), interval: interval}
}

// Run blocks, sweeping every interval until ctx is cancelled, mirroring
// live.go's runLive ticker+select shutdown discipline.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info("shutdown")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

// sweep checks every open position for a missing or dead stop order. A
// missing take-profit is tolerated (not every strategy attaches one); a
// missing stop is never tolerated — every open position must carry a
// protective stop.
func (w *Watchdog) sweep(ctx context.Context) {
	st := w.snapshot()
	for symbol, pos := range st.Positions {
		if pos.StopOrderID == "" {
			w.flagMissing(symbol, pos, "STOP_ORDER_MISSING")
			continue
		}
		ord, err := w.broker.GetOrder(ctx, symbol, pos.StopOrderID)
		if err != nil {
			w.log.Warn("watchdog order lookup failed", "symbol", symbol, "client_order_id", pos.StopOrderID, "error", err)
			continue
		}
		switch ord.Status {
		case state.OrderStatusCancelled, state.OrderStatusExpired:
			w.flagMissing(symbol, pos, "STOP_ORDER_TERMINATED")
		}
	}
}

func (w *Watchdog) flagMissing(symbol string, pos state.Position, reason string) {
	if w.metrics != nil {
		w.metrics.WatchdogMisses.WithLabelValues(symbol).Inc()
	}
	w.log.Error("position missing protective stop", "symbol", symbol, "reason", reason, "trade_id", pos.TradeID)
	if w.bus == nil {
		return
	}
	if _, err := w.bus.Publish(events.ProtectiveOrdersMissing, map[string]any{
		"symbol":   symbol,
		"trade_id": pos.TradeID,
		"reason":   reason,
		"side":     string(pos.Side),
	}, events.WithSource("watchdog", nil)); err != nil {
		w.log.Error("failed to publish watchdog finding", "error", err)
	}
}
