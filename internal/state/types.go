// Package state implements the StateManager: a pure,
// table-driven reducer over the event stream producing a single
// TradingState snapshot. Grounded in a prior spot bot's trader.go's
// BotState/Trader (equity, per-side books of open lots, pending opens),
// generalized from a single spot symbol to the full multi-symbol perpetual
// TradingState this trading core tracks.
package state

import "time"

// Side is a position or order direction.
type Side string

const (
	Long  Side = "LONG"
	Short Side = "SHORT"
)

// OrderType enumerates the order types
type OrderType string

const (
	OrderLimit            OrderType = "LIMIT"
	OrderMarket           OrderType = "MARKET"
	OrderStopMarket       OrderType = "STOP_MARKET"
	OrderTakeProfitMarket OrderType = "TAKE_PROFIT_MARKET"
)

// OrderStatus enumerates the order lifecycle states
type OrderStatus string

const (
	OrderStatusPlaced         OrderStatus = "PLACED"
	OrderStatusOpen           OrderStatus = "OPEN"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled         OrderStatus = "FILLED"
	OrderStatusCancelled      OrderStatus = "CANCELLED"
	OrderStatusExpired        OrderStatus = "EXPIRED"
)

// NewsRiskLevel enumerates the per-symbol news-risk flag levels.
type NewsRiskLevel string

const (
	NewsRiskLow    NewsRiskLevel = "LOW"
	NewsRiskMedium NewsRiskLevel = "MEDIUM"
	NewsRiskHigh   NewsRiskLevel = "HIGH"
)

// PendingLifecycle enumerates PendingEntry.lifecycle_state.
type PendingLifecycle string

const (
	PendingPlaced PendingLifecycle = "PLACED"
	PendingOpen   PendingLifecycle = "OPEN"
)

// Position mirrors the Position record.
type Position struct {
	Symbol             string    `json:"symbol"`
	Side               Side      `json:"side"`
	Quantity           float64   `json:"quantity"`
	EntryPrice         float64   `json:"entry_price"`
	Leverage           float64   `json:"leverage"`
	OpenedAt           time.Time `json:"opened_at"`
	StopPrice          float64   `json:"stop_price"`
	TakeProfitPrice    float64   `json:"take_profit_price,omitempty"`
	AccumulatedFunding float64   `json:"accumulated_funding"`
	RealizedPnL        float64   `json:"realized_pnl"`
	UnrealizedPnL      float64   `json:"unrealized_pnl"`
	TrailingHighWater  float64   `json:"trailing_high_water"`

	// TradeID links this position back to the TradeProposal/trade log row
	// that opened it, and is the index orders reference it by rather than
	// an embedded cyclic reference.
	TradeID string `json:"trade_id"`

	// EntryOrderID is the client_order_id of the order whose fill opened
	// this position.
	EntryOrderID string `json:"entry_order_id"`
	// StopOrderID/TakeProfitOrderID are the client_order_ids of the
	// currently-attached protective orders, if any. At most one of each
	// is attached at any instant.
	StopOrderID       string `json:"stop_order_id,omitempty"`
	TakeProfitOrderID string `json:"take_profit_order_id,omitempty"`

	// FundingSettled tracks settlement timestamps already applied to this
	// position. At most one application is allowed per settlement
	// timestamp per position.
	FundingSettled map[int64]bool `json:"-"`

	// TrailCounter feeds the idempotent client-order-id suffix
	// <symbol>_SL-TRAIL-<side>-<counter>.
	TrailCounter int `json:"trail_counter"`
}

// Order mirrors the Order record.
type Order struct {
	ClientOrderID    string      `json:"client_order_id"`
	ExchangeOrderID  string      `json:"exchange_order_id,omitempty"`
	Symbol           string      `json:"symbol"`
	Side             Side        `json:"side"`
	OrderType        OrderType   `json:"order_type"`
	Quantity         float64     `json:"quantity"`
	FilledQuantity   float64     `json:"filled_quantity"`
	LimitPrice       float64     `json:"limit_price,omitempty"`
	StopPrice        float64     `json:"stop_price,omitempty"`
	ReduceOnly       bool        `json:"reduce_only"`
	Status           OrderStatus `json:"status"`
	CreatedAt        time.Time   `json:"created_at"`
	LastUpdated      time.Time   `json:"last_updated"`
	CandleTimestamp  time.Time   `json:"candle_timestamp,omitempty"`
	OriginalClientID string      `json:"original_client_order_id,omitempty"`
}

// PendingEntry mirrors the PendingEntry record.
type PendingEntry struct {
	ClientOrderID       string           `json:"client_order_id"`
	TradeID             string           `json:"trade_id"`
	Symbol              string           `json:"symbol"`
	Side                Side             `json:"side"`
	IntendedEntryPrice  float64          `json:"intended_entry_price"`
	IntendedStop        float64          `json:"intended_stop"`
	IntendedTakeProfit  float64          `json:"intended_take_profit,omitempty"`
	Quantity            float64          `json:"quantity"`
	Leverage            float64          `json:"leverage"`
	LifecycleState      PendingLifecycle `json:"lifecycle_state"`
	CandleTimestamp     time.Time        `json:"candle_timestamp"`
	AttemptCount        int              `json:"attempt_count"`
	OriginalClientOrder string           `json:"original_client_order_id,omitempty"`
}

// NewsRiskFlag mirrors the per-symbol entry in TradingState.news_risk_flags.
type NewsRiskFlag struct {
	Level     NewsRiskLevel `json:"level"`
	ExpiresAt time.Time     `json:"expires_at"`
}

// TradingState is the single reducer output. It is
// owned exclusively by StateManager and must never be mutated outside
// Reduce; callers receive Snapshot() copies so concurrent readers never
// see a torn write.
type TradingState struct {
	Equity           float64
	PeakEquity       float64
	RealizedPnLToday float64
	DailyLoss        float64

	ConsecutiveLosses int
	CooldownUntil     time.Time

	CircuitBreakerActive  bool
	RequiresManualReview  bool

	LastReconciliationTime time.Time
	LastAppliedSequence    uint64

	Universe []string

	Positions  map[string]Position // symbol -> Position
	OpenOrders map[string]Order    // client_order_id -> Order

	NewsRiskFlags map[string]NewsRiskFlag // symbol -> flag

	// DailyAnchorEquity is the equity value at the most recent UTC
	// midnight, used to compute DailyLoss — grounded in
	// a prior spot bot's trader.go's midnightUTC/updateDaily pattern.
	DailyAnchorEquity float64
	DailyAnchorDay    time.Time
}

// New returns a zero-value TradingState seeded with the given starting
// equity, mirroring a prior spot bot's trader.go's NewTrader initialization.
func New(startingEquity float64, universe []string) TradingState {
	return TradingState{
		Equity:            startingEquity,
		PeakEquity:        startingEquity,
		DailyAnchorEquity: startingEquity,
		Universe:          append([]string(nil), universe...),
		Positions:         make(map[string]Position),
		OpenOrders:        make(map[string]Order),
		NewsRiskFlags:     make(map[string]NewsRiskFlag),
	}
}

// Snapshot returns a deep-enough copy for read-only external consumption:
// new maps, but Position/Order values (already value types) are copied by
// assignment. This is the only way outside code observes TradingState,
// matching the read-only external access policy.
func (s TradingState) Snapshot() TradingState {
	cp := s
	cp.Universe = append([]string(nil), s.Universe...)
	cp.Positions = make(map[string]Position, len(s.Positions))
	for k, v := range s.Positions {
		cp.Positions[k] = v
	}
	cp.OpenOrders = make(map[string]Order, len(s.OpenOrders))
	for k, v := range s.OpenOrders {
		cp.OpenOrders[k] = v
	}
	cp.NewsRiskFlags = make(map[string]NewsRiskFlag, len(s.NewsRiskFlags))
	for k, v := range s.NewsRiskFlags {
		cp.NewsRiskFlags[k] = v
	}
	return cp
}
