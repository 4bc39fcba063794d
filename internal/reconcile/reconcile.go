// Package reconcile implements the reconciliation protocol: periodically
// compare TradingState positions against exchange-reported positions, and
// surface any drift as a ReconciliationCompleted event plus, for true
// mismatches, a ManualInterventionDetected event — exchange truth always
// wins over internal belief. Open orders and equity are not compared.
//
// Grounded in a runLive-style ticker+select loop idiom, generalized into
// a dedicated periodic comparison pass, and in position bookkeeping
// (Position.Quantity/EntryPrice as the fields reconciliation compares
// against exchange-reported values).
package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/chidi150c/perpcore/internal/bus"
	"github.com/chidi150c/perpcore/internal/events"
	"github.com/chidi150c/perpcore/internal/metrics"
	"github.com/chidi150c/perpcore/internal/state"
)

// ExchangePosition is the exchange's reported view of one open position.
type ExchangePosition struct {
	Symbol   string
	Side     state.Side
	Quantity float64
}

// ExchangeView is the narrow broker capability reconciliation needs: the
// full exchange-side position book. A concrete broker adapter supplies
// this via whatever endpoint it has (e.g. GET /positions on the bridge).
type ExchangeView interface {
	ListPositions(ctx context.Context) ([]ExchangePosition, error)
}

// DriftKind is the coarse "kind" label on perpcore_reconciliation_drift_total
// (position|order|equity per metrics.go); Drift.Detail carries the specific
// mismatch description.
type DriftKind string

const (
	DriftPosition DriftKind = "position"
)

const quantityTolerance = 1e-8

// Reconciler drives the periodic internal-vs-exchange comparison.
type Reconciler struct {
	snapshot func() state.TradingState
	exchange ExchangeView
	bus      *bus.Bus
	metrics  *metrics.Set
	log      *slog.Logger
	interval time.Duration
}

// New constructs a Reconciler.
func New(snapshot func() state.TradingState, exchange ExchangeView, b *bus.Bus, m *metrics.Set, log *slog.Logger, interval time.Duration) *Reconciler {
	return &Reconciler{snapshot: snapshot, exchange: exchange, bus: b, metrics: m, log: log.With("component", "reconcile"), interval: interval}
}

// Run blocks, reconciling every interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.log.Info("shutdown")
			return
		case <-ticker.C:
			r.reconcileOnce(ctx)
		}
	}
}

// Drift is one detected discrepancy between internal and exchange state.
type Drift struct {
	Symbol string
	Kind   DriftKind
	Detail string
}

// Compare is the pure comparison step, split out from reconcileOnce so it
// can be exercised directly in tests without a broker.
func Compare(st state.TradingState, exchangePositions []ExchangePosition) []Drift {
	exch := make(map[string]ExchangePosition, len(exchangePositions))
	for _, p := range exchangePositions {
		exch[p.Symbol] = p
	}

	var drifts []Drift
	for symbol, pos := range st.Positions {
		ep, ok := exch[symbol]
		if !ok {
			drifts = append(drifts, Drift{Symbol: symbol, Kind: DriftPosition, Detail: "internal position has no exchange counterpart"})
			continue
		}
		if ep.Side != pos.Side {
			drifts = append(drifts, Drift{Symbol: symbol, Kind: DriftPosition, Detail: "side mismatch"})
			continue
		}
		if absf(ep.Quantity-pos.Quantity) > quantityTolerance {
			drifts = append(drifts, Drift{Symbol: symbol, Kind: DriftPosition, Detail: "quantity mismatch"})
		}
	}
	for symbol := range exch {
		if _, ok := st.Positions[symbol]; !ok {
			drifts = append(drifts, Drift{Symbol: symbol, Kind: DriftPosition, Detail: "exchange position has no internal counterpart"})
		}
	}
	return drifts
}

func (r *Reconciler) reconcileOnce(ctx context.Context) {
	st := r.snapshot()
	exchPositions, err := r.exchange.ListPositions(ctx)
	if err != nil {
		r.log.Warn("reconciliation exchange fetch failed", "error", err)
		return
	}

	drifts := Compare(st, exchPositions)

	for _, d := range drifts {
		if r.metrics != nil {
			r.metrics.ReconciliationDrift.WithLabelValues(string(d.Kind)).Inc()
		}
		r.log.Error("reconciliation drift detected", "symbol", d.Symbol, "kind", d.Kind, "detail", d.Detail)
		if r.bus != nil {
			if _, err := r.bus.Publish(events.ManualInterventionDetected, map[string]any{
				"symbol": d.Symbol,
				"kind":   string(d.Kind),
				"detail": d.Detail,
			}, events.WithSource("reconcile", nil)); err != nil {
				r.log.Error("failed to publish drift finding", "error", err)
			}
		}
	}

	if r.bus != nil {
		if _, err := r.bus.Publish(events.ReconciliationCompleted, map[string]any{
			"drift_count": len(drifts),
		}, events.WithSource("reconcile", nil)); err != nil {
			r.log.Error("failed to publish reconciliation completion", "error", err)
		}
	}
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
