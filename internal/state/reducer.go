package state

import (
	"log/slog"
	"time"

	"github.com/chidi150c/perpcore/internal/events"
)

// CircuitBreakerLimits bundles the thresholds the circuit breaker is
// evaluated against.
type CircuitBreakerLimits struct {
	MaxDrawdownPct     float64
	MaxConsecutiveLoss int
	MaxDailyLossPct    float64
}

// PendingSink is the subset of *pending.Store the reducer needs to keep the
// durable PendingEntry map in lockstep with OpenOrders. Declared as an
// interface here (rather than importing internal/pending) to keep the
// reducer a pure, independently testable component — pending depends on
// state, not the other way around.
type PendingSink interface {
	Put(PendingEntry) error
	Remove(clientOrderID string) error
}

// Manager is the StateManager: a single-writer,
// table-driven reducer. All mutation happens inside Reduce; external
// readers only ever see Snapshot() copies.
//
// Grounded in a prior spot bot's centralized stateApplyCh
// dispatch (a single goroutine mutating BotState), generalized here to a
// synchronous Reduce call driven by the bus's per-handler serialization
// guarantee rather than its own channel — the bus already guarantees only
// one event is in flight per handler at a time.
type Manager struct {
	state   TradingState
	pending PendingSink
	limits  CircuitBreakerLimits
	log     *slog.Logger
}

// NewManager constructs a Manager seeded with an initial state.
func NewManager(initial TradingState, pending PendingSink, limits CircuitBreakerLimits, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{state: initial, pending: pending, limits: limits, log: log.With("component", "state")}
}

// Snapshot returns a read-only copy of the current state.
func (m *Manager) Snapshot() TradingState { return m.state.Snapshot() }

// Reduce applies one event to the state. It is idempotent with respect to
// replay: applying the same event a second time after LastAppliedSequence
// has already advanced past it is a no-op (the idempotence
// property), detected by comparing ev.Sequence against the last-applied
// mark before mutating.
func (m *Manager) Reduce(ev events.Event) {
	if ev.Sequence != 0 && ev.Sequence <= m.state.LastAppliedSequence {
		return
	}
	switch ev.Kind {
	case events.OrderPlaced:
		m.applyOrderPlaced(ev)
	case events.OrderFilled:
		m.applyOrderFilled(ev)
	case events.OrderPartialFill:
		m.applyOrderPartialFill(ev)
	case events.OrderCancelled, events.OrderExpired:
		m.applyOrderTerminal(ev)
	case events.PositionClosed:
		m.applyPositionClosed(ev)
	case events.NewsClassified:
		m.applyNewsClassified(ev)
	case events.ManualInterventionDetected:
		m.state.RequiresManualReview = true
	case events.ManualReviewAcknowledged:
		m.state.RequiresManualReview = false
	case events.UniverseUpdated:
		m.applyUniverseUpdated(ev)
	case events.ReconciliationCompleted:
		m.state.LastReconciliationTime = ev.Timestamp
	case events.CircuitBreakerTriggered:
		m.state.CircuitBreakerActive = true
	default:
		m.log.Debug("skipping unknown event kind at replay", "kind", ev.Kind, "sequence", ev.Sequence)
	}
	if ev.Sequence != 0 {
		m.state.LastAppliedSequence = ev.Sequence
	}
}

func str(p map[string]any, k string) string {
	v, _ := p[k].(string)
	return v
}

func f64(p map[string]any, k string) float64 {
	switch v := p[k].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 0
	}
}

func boolv(p map[string]any, k string) bool {
	v, _ := p[k].(bool)
	return v
}

func timev(p map[string]any, k string) time.Time {
	switch v := p[k].(type) {
	case time.Time:
		return v
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err == nil {
			return t
		}
	}
	return time.Time{}
}

// applyOrderPlaced inserts an entry order into open_orders with status
// PLACED and installs a PendingEntry.
func (m *Manager) applyOrderPlaced(ev events.Event) {
	p := ev.Payload
	clientID := str(p, "client_order_id")
	o := Order{
		ClientOrderID:    clientID,
		Symbol:           str(p, "symbol"),
		Side:             Side(str(p, "side")),
		OrderType:        OrderType(str(p, "order_type")),
		Quantity:         f64(p, "quantity"),
		LimitPrice:       f64(p, "limit_price"),
		StopPrice:        f64(p, "stop_price"),
		ReduceOnly:       boolv(p, "reduce_only"),
		Status:           OrderStatusPlaced,
		CreatedAt:        ev.Timestamp,
		LastUpdated:      ev.Timestamp,
		CandleTimestamp:  timev(p, "candle_timestamp"),
		OriginalClientID: str(p, "original_client_order_id"),
	}
	m.state.OpenOrders[clientID] = o

	if o.ReduceOnly {
		m.linkProtectiveOrder(o)
		return
	}

	pe := PendingEntry{
		ClientOrderID:       clientID,
		TradeID:             str(p, "trade_id"),
		Symbol:              o.Symbol,
		Side:                o.Side,
		IntendedEntryPrice:  f64(p, "intended_entry_price"),
		IntendedStop:        f64(p, "intended_stop"),
		IntendedTakeProfit:  f64(p, "intended_take_profit"),
		Quantity:            o.Quantity,
		Leverage:            f64(p, "leverage"),
		LifecycleState:      PendingPlaced,
		CandleTimestamp:     o.CandleTimestamp,
		OriginalClientOrder: o.OriginalClientID,
	}
	if m.pending != nil {
		if err := m.pending.Put(pe); err != nil {
			m.log.Error("pending store put failed", "error", err, "client_order_id", clientID)
		}
	}
}

// linkProtectiveOrder stamps a freshly placed reduce-only protective order
// (stop or take-profit) back onto the Position it protects, so
// Position.StopOrderID/TakeProfitOrderID always reflects the live
// protective order the watchdog and the trailing-stop replace path depend
// on. A STOP_MARKET replacing an already-linked stop (a trailing update)
// also advances TrailCounter, keeping it in step with the counter
// EvaluateTrailing encoded into the new client-order-id.
func (m *Manager) linkProtectiveOrder(o Order) {
	pos, ok := m.state.Positions[o.Symbol]
	if !ok {
		return
	}
	switch o.OrderType {
	case OrderStopMarket:
		if pos.StopOrderID != "" {
			pos.TrailCounter++
		}
		pos.StopOrderID = o.ClientOrderID
	case OrderTakeProfitMarket:
		pos.TakeProfitOrderID = o.ClientOrderID
	default:
		return
	}
	m.state.Positions[o.Symbol] = pos
}

// applyOrderFilled handles both entry fills (open a Position) and
// reduce-only fills (close a Position).
func (m *Manager) applyOrderFilled(ev events.Event) {
	p := ev.Payload
	clientID := str(p, "client_order_id")
	o, ok := m.state.OpenOrders[clientID]
	if !ok {
		m.log.Warn("OrderFilled for unknown order", "client_order_id", clientID)
		return
	}
	o.Status = OrderStatusFilled
	o.FilledQuantity = o.Quantity
	o.LastUpdated = ev.Timestamp
	delete(m.state.OpenOrders, clientID)

	fillPrice := f64(p, "fill_price")

	if !o.ReduceOnly {
		pos := Position{
			Symbol:         o.Symbol,
			Side:           sideFromOrderSide(o.Side),
			Quantity:       o.Quantity,
			EntryPrice:     fillPrice,
			Leverage:       f64(p, "leverage"),
			OpenedAt:        ev.Timestamp,
			StopPrice:       f64(p, "intended_stop"),
			TakeProfitPrice: f64(p, "intended_take_profit"),
			TradeID:         str(p, "trade_id"),
			EntryOrderID:    clientID,
			FundingSettled:  make(map[int64]bool),
		}
		m.state.Positions[pos.Symbol] = pos
		if m.pending != nil {
			if err := m.pending.Remove(clientID); err != nil {
				m.log.Error("pending store remove failed", "error", err, "client_order_id", clientID)
			}
		}
		return
	}

	// Reduce-only fill closes (or reduces) a position.
	pos, ok := m.state.Positions[o.Symbol]
	if !ok {
		m.log.Warn("reduce-only fill for symbol with no open position", "symbol", o.Symbol)
		return
	}
	realized := realizedPnL(pos, fillPrice, o.Quantity)
	m.closePositionAccounting(pos.Symbol, realized)
}

func sideFromOrderSide(s Side) Side {
	// Order side and Position side share the same enum; entries that are
	// BUY open a LONG and SELL opens a SHORT, both already encoded by the
	// caller into o.Side as LONG/SHORT at proposal time.
	return s
}

func realizedPnL(pos Position, exitPrice, qty float64) float64 {
	if pos.Side == Short {
		return (pos.EntryPrice - exitPrice) * qty
	}
	return (exitPrice - pos.EntryPrice) * qty
}

// applyOrderPartialFill adjusts the order's filled/remaining and, for an
// entry order, may open the Position at partial quantity.
func (m *Manager) applyOrderPartialFill(ev events.Event) {
	p := ev.Payload
	clientID := str(p, "client_order_id")
	o, ok := m.state.OpenOrders[clientID]
	if !ok {
		return
	}
	filledDelta := f64(p, "filled_delta")
	o.FilledQuantity += filledDelta
	o.Status = OrderStatusPartiallyFilled
	o.LastUpdated = ev.Timestamp
	m.state.OpenOrders[clientID] = o

	if o.ReduceOnly {
		return
	}
	fillPrice := f64(p, "fill_price")
	pos, exists := m.state.Positions[o.Symbol]
	if !exists {
		pos = Position{
			Symbol:         o.Symbol,
			Side:           o.Side,
			EntryPrice:     fillPrice,
			Leverage:       f64(p, "leverage"),
			OpenedAt:       ev.Timestamp,
			StopPrice:      f64(p, "intended_stop"),
			TradeID:        str(p, "trade_id"),
			EntryOrderID:   clientID,
			FundingSettled: make(map[int64]bool),
		}
	}
	// Weighted-average entry price across partials.
	totalQty := pos.Quantity + filledDelta
	if totalQty > 0 {
		pos.EntryPrice = (pos.EntryPrice*pos.Quantity + fillPrice*filledDelta) / totalQty
	}
	pos.Quantity = totalQty
	m.state.Positions[o.Symbol] = pos
}

func (m *Manager) applyOrderTerminal(ev events.Event) {
	p := ev.Payload
	clientID := str(p, "client_order_id")
	if o, ok := m.state.OpenOrders[clientID]; ok {
		if ev.Kind == events.OrderCancelled {
			o.Status = OrderStatusCancelled
		} else {
			o.Status = OrderStatusExpired
		}
		o.LastUpdated = ev.Timestamp
		delete(m.state.OpenOrders, clientID)
	}
	if m.pending != nil {
		if err := m.pending.Remove(clientID); err != nil {
			m.log.Error("pending store remove failed", "error", err, "client_order_id", clientID)
		}
	}
}

// applyPositionClosed removes the position, updates equity and the loss
// streak, and re-evaluates circuit-breaker conditions. It does not set
// CooldownUntil; no event handled by the reducer does.
func (m *Manager) applyPositionClosed(ev events.Event) {
	p := ev.Payload
	symbol := str(p, "symbol")
	pos, ok := m.state.Positions[symbol]
	if !ok {
		return
	}
	realized := f64(p, "realized_pnl")
	delete(m.state.Positions, symbol)
	m.closePositionAccounting(symbol, realized)
	_ = pos
}

func (m *Manager) closePositionAccounting(symbol string, realized float64) {
	delete(m.state.Positions, symbol)
	m.state.Equity += realized
	m.state.RealizedPnLToday += realized
	m.state.DailyLoss = m.state.DailyAnchorEquity - m.state.Equity
	if m.state.Equity > m.state.PeakEquity {
		m.state.PeakEquity = m.state.Equity
	}
	if realized < 0 {
		m.state.ConsecutiveLosses++
	} else {
		m.state.ConsecutiveLosses = 0
	}
	m.evaluateCircuitBreaker()
}

// evaluateCircuitBreaker implements the three OR'd conditions.
func (m *Manager) evaluateCircuitBreaker() bool {
	if m.state.CircuitBreakerActive {
		return true
	}
	drawdownPct := 0.0
	if m.state.PeakEquity > 0 {
		drawdownPct = (m.state.PeakEquity - m.state.Equity) / m.state.PeakEquity
	}
	dailyLossPct := 0.0
	if m.state.DailyAnchorEquity > 0 {
		dailyLossPct = m.state.DailyLoss / m.state.DailyAnchorEquity
	}
	triggered := drawdownPct >= m.limits.MaxDrawdownPct ||
		m.state.ConsecutiveLosses >= m.limits.MaxConsecutiveLoss ||
		dailyLossPct >= m.limits.MaxDailyLossPct
	if triggered {
		m.state.CircuitBreakerActive = true
		m.state.RequiresManualReview = true
	}
	return triggered
}

// TripsCircuitBreaker reports (without mutating) whether the current state
// would trip the breaker — used by callers that must emit
// CircuitBreakerTriggered/ManualInterventionDetected themselves after
// observing a PositionClosed reduction, since Reduce is a pure state
// transition and does not itself publish events.
func (m *Manager) TripsCircuitBreaker() bool {
	return m.state.CircuitBreakerActive
}

func (m *Manager) applyNewsClassified(ev events.Event) {
	p := ev.Payload
	symbol := str(p, "symbol")
	level := NewsRiskLevel(str(p, "level"))
	if level == "" {
		delete(m.state.NewsRiskFlags, symbol)
		return
	}
	m.state.NewsRiskFlags[symbol] = NewsRiskFlag{
		Level:     level,
		ExpiresAt: timev(p, "expires_at"),
	}
}

func (m *Manager) applyUniverseUpdated(ev events.Event) {
	if raw, ok := ev.Payload["universe"].([]any); ok {
		u := make([]string, 0, len(raw))
		for _, v := range raw {
			if s, ok := v.(string); ok {
				u = append(u, s)
			}
		}
		m.state.Universe = u
	}
}

// RollDailyAnchor resets DailyAnchorEquity/DailyAnchorDay at UTC midnight,
// grounded in a prior spot bot's trader.go's midnightUTC/updateDaily.
func (m *Manager) RollDailyAnchor(now time.Time) {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if m.state.DailyAnchorDay.Equal(midnight) {
		return
	}
	m.state.DailyAnchorDay = midnight
	m.state.DailyAnchorEquity = m.state.Equity
	m.state.DailyLoss = 0
}
