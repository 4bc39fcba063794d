// Package metrics exposes the Prometheus metrics the trading core updates
// during operation, covering the full multi-symbol, multi-loop trading
// core:
//
//   - perpcore_orders_total{mode,side,type}     – orders placed
//   - perpcore_proposals_total{outcome}         – risk decisions (approved|rejected)
//   - perpcore_equity_usd                       – current equity snapshot (gauge)
//   - perpcore_trades_total{result}             – closed trades by result (win|loss)
//   - perpcore_exit_reasons_total{reason,side}  – exits split by reason/side
//   - perpcore_circuit_breaker_trips_total      – circuit-breaker activations
//   - perpcore_manual_review_total              – manual-intervention events
//   - perpcore_reconciliation_drift_total{kind} – drift detected per reconciliation pass
//   - perpcore_watchdog_misses_total{symbol}    – missing protective orders detected
//   - perpcore_funding_settlements_total{side}  – funding cashflow applications
//   - perpcore_funding_paid_usd                 – cumulative signed funding cashflow
//   - perpcore_ledger_sequence                  – last applied ledger sequence
//
// Registered against a private registry so multiple engines/tests in the
// same process never collide on MustRegister, instead of a package-level
// init() registration against the default registry.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Set bundles every metric the trading core updates. Construct one with New
// and register it with a *prometheus.Registry (promhttp.HandlerFor);
// callers can each use an isolated registry per process or test.
type Set struct {
	Orders    *prometheus.CounterVec
	Proposals *prometheus.CounterVec
	Equity    prometheus.Gauge
	Trades    *prometheus.CounterVec
	Exits     *prometheus.CounterVec

	CircuitBreakerTrips prometheus.Counter
	ManualReview        prometheus.Counter

	ReconciliationDrift *prometheus.CounterVec
	WatchdogMisses      *prometheus.CounterVec

	FundingSettlements *prometheus.CounterVec
	FundingPaidUSD     prometheus.Gauge

	LedgerSequence prometheus.Gauge
}

// New builds a Set and registers it against reg. reg may be
// prometheus.NewRegistry() for an isolated instance, or
// prometheus.DefaultRegisterer wrapped via prometheus.WrapRegistererWith.
func New(reg prometheus.Registerer) *Set {
	s := &Set{
		Orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "perpcore_orders_total",
			Help: "Orders placed, by run mode, side, and order type.",
		}, []string{"mode", "side", "type"}),

		Proposals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "perpcore_proposals_total",
			Help: "Trade proposals by risk-engine outcome (approved|rejected).",
		}, []string{"outcome"}),

		Equity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "perpcore_equity_usd",
			Help: "Current equity in USD.",
		}),

		Trades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "perpcore_trades_total",
			Help: "Closed trades by result (win|loss).",
		}, []string{"result"}),

		Exits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "perpcore_exit_reasons_total",
			Help: "Exits split by reason and position side.",
		}, []string{"reason", "side"}),

		CircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "perpcore_circuit_breaker_trips_total",
			Help: "Number of times the circuit breaker has tripped.",
		}),

		ManualReview: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "perpcore_manual_review_total",
			Help: "Number of ManualInterventionDetected events emitted.",
		}),

		ReconciliationDrift: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "perpcore_reconciliation_drift_total",
			Help: "Drift detected during reconciliation, by kind (position|order|equity).",
		}, []string{"kind"}),

		WatchdogMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "perpcore_watchdog_misses_total",
			Help: "Missing protective orders detected by the watchdog, by symbol.",
		}, []string{"symbol"}),

		FundingSettlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "perpcore_funding_settlements_total",
			Help: "Funding settlements applied, by position side.",
		}, []string{"side"}),

		FundingPaidUSD: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "perpcore_funding_paid_usd",
			Help: "Cumulative signed funding cashflow in USD (positive = net paid).",
		}),

		LedgerSequence: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "perpcore_ledger_sequence",
			Help: "Highest sequence number applied to trading state.",
		}),
	}

	reg.MustRegister(
		s.Orders, s.Proposals, s.Equity, s.Trades, s.Exits,
		s.CircuitBreakerTrips, s.ManualReview,
		s.ReconciliationDrift, s.WatchdogMisses,
		s.FundingSettlements, s.FundingPaidUSD,
		s.LedgerSequence,
	)
	return s
}
