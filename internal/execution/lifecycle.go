package execution

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/chidi150c/perpcore/internal/bus"
	"github.com/chidi150c/perpcore/internal/events"
	"github.com/chidi150c/perpcore/internal/pending"
	"github.com/chidi150c/perpcore/internal/state"
)

// TimeoutMode is the entry-order deadline policy
type TimeoutMode string

const (
	TimeoutFixed     TimeoutMode = "fixed"
	TimeoutTimeframe TimeoutMode = "timeframe"
	TimeoutUnlimited TimeoutMode = "unlimited"
)

// TimeoutAction is what happens when an entry order's deadline passes.
type TimeoutAction string

const (
	ActionCancel        TimeoutAction = "cancel"
	ActionConvertMarket TimeoutAction = "convert_market"
	ActionConvertStop   TimeoutAction = "convert_stop"
)

// Settings bundles the execution engine's configured knobs.
type Settings struct {
	RetryAttempts       int
	EntryTimeoutMode    TimeoutMode
	EntryTimeoutSeconds time.Duration
	EntryMaxDuration    time.Duration
	EntryTimeoutAction  TimeoutAction
	Trailing            TrailingLimits
	TakeProfitATR       float64
	TakeProfitFraction  float64
	Microstructure      MicrostructureLimits
}

// Proposal is the subset of a TradeProposal the execution engine needs to
// place an entry, already risk-approved.
type Proposal struct {
	Symbol          string
	Side            state.Side
	EntryPrice      float64
	StopPrice       float64
	TakeProfit      float64
	ATR             float64
	Leverage        float64
	Quantity        string // decimal-formatted to avoid float round-trip drift in the client-order-id
	TradeID         string
	CandleTimestamp time.Time
}

// Engine is the ExecutionEngine
type Engine struct {
	broker   Broker
	bus      *bus.Bus
	pending  *pending.Store
	settings Settings
	log      *slog.Logger
	clock    Clock
}

// New constructs an Engine.
func New(broker Broker, b *bus.Bus, p *pending.Store, settings Settings, log *slog.Logger, clock Clock) *Engine {
	if log == nil {
		log = slog.Default()
	}
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Engine{broker: broker, bus: b, pending: p, settings: settings, log: log.With("component", "execution"), clock: clock}
}

// PlaceEntry implements the entry-placement sequence.
func (e *Engine) PlaceEntry(ctx context.Context, p Proposal, quantity float64) error {
	barUnix := p.CandleTimestamp.Unix()
	if existing, ok := e.pending.FindBySymbolAndBar(p.Symbol, barUnix); ok {
		e.log.Info("entry already pending for this bar, not reissuing", "symbol", p.Symbol, "client_order_id", existing.ClientOrderID)
		return nil
	}

	if err := e.broker.EnsureAccountSettings(ctx, AccountSettings{
		Symbol:   p.Symbol,
		Leverage: p.Leverage,
	}); err != nil {
		e.publish(events.AccountSettingFailed, map[string]any{"symbol": p.Symbol, "error": err.Error()}, "execution")
		return fmt.Errorf("ensure account settings: %w", err)
	}
	e.publish(events.AccountSettingUpdated, map[string]any{"symbol": p.Symbol, "leverage": p.Leverage}, "execution")

	gate, bboErr := e.checkMicrostructure(ctx, p)
	if bboErr == nil && !gate.Approved {
		e.publish(events.RiskRejected, map[string]any{
			"symbol": p.Symbol, "reason": gate.Reason, "spread_pct": gate.SpreadPct, "threshold_pct": gate.ThresholdPct,
		}, "execution")
		return nil
	}

	clientOrderID := fmt.Sprintf("%s_ENTRY-%s", p.Symbol, uuid.NewString())
	orderKind := "LIMIT"
	if _, err := e.bus.Publish(events.OrderPlaced, map[string]any{
		"client_order_id":       clientOrderID,
		"symbol":                p.Symbol,
		"side":                  string(p.Side),
		"order_type":            orderKind,
		"quantity":              quantity,
		"limit_price":           p.EntryPrice,
		"reduce_only":           false,
		"trade_id":              p.TradeID,
		"intended_entry_price":  p.EntryPrice,
		"intended_stop":         p.StopPrice,
		"intended_take_profit":  p.TakeProfit,
		"leverage":              p.Leverage,
		"candle_timestamp":      p.CandleTimestamp,
	}, events.WithSource("execution", nil)); err != nil {
		return fmt.Errorf("publish OrderPlaced: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < e.settings.RetryAttempts; attempt++ {
		ack, err := e.broker.PlaceOrder(ctx, state.Order{
			ClientOrderID: clientOrderID,
			Symbol:        p.Symbol,
			Side:          p.Side,
			OrderType:     state.OrderLimit,
			Quantity:      quantity,
			LimitPrice:    p.EntryPrice,
		})
		if err == nil {
			e.publishFill(ack, quantity, map[string]any{
				"entry_fill":           true,
				"symbol":               p.Symbol,
				"side":                 string(p.Side),
				"quantity":             quantity,
				"leverage":             p.Leverage,
				"trade_id":             p.TradeID,
				"intended_stop":        p.StopPrice,
				"intended_take_profit": p.TakeProfit,
			})
			return nil
		}
		lastErr = err
	}
	e.publish(events.OrderExpired, map[string]any{
		"client_order_id": clientOrderID, "symbol": p.Symbol, "reason": "PLACEMENT_FAILED",
	}, "execution")
	return fmt.Errorf("place order after %d attempts: %w", e.settings.RetryAttempts, lastErr)
}

func (e *Engine) checkMicrostructure(ctx context.Context, p Proposal) (GateResult, error) {
	bbo, err := e.broker.GetBBO(ctx, p.Symbol)
	if err != nil {
		return GateResult{Approved: true, TickerFetchFailed: true}, nil
	}
	atrPct := 0.0
	if p.EntryPrice > 0 {
		atrPct = p.ATR / p.EntryPrice
	}
	mid := (bbo.Bid + bbo.Ask) / 2
	return Evaluate(bbo, true, atrPct, p.EntryPrice, mid, e.settings.Microstructure), nil
}

// AttachProtective implements the protective-order attachment,
// invoked on the first OrderFilled for an entry. filledQty is the
// currently-filled quantity, already accounting for partials under the
// conservative policy of sizing protection to filled quantity, not
// intended quantity.
func (e *Engine) AttachProtective(ctx context.Context, pos state.Position, filledQty float64) error {
	e.publish(events.PositionOpened, map[string]any{
		"symbol": pos.Symbol, "side": string(pos.Side), "quantity": filledQty, "entry_price": pos.EntryPrice,
	}, "execution")

	stopClientID := fmt.Sprintf("%s_SL-%s", pos.Symbol, pos.EntryOrderID)
	stopSide := state.Short
	if pos.Side == state.Short {
		stopSide = state.Long
	}
	stopAck, err := e.broker.PlaceOrder(ctx, state.Order{
		ClientOrderID: stopClientID,
		Symbol:        pos.Symbol,
		Side:          stopSide,
		OrderType:     state.OrderStopMarket,
		Quantity:      filledQty,
		StopPrice:     pos.StopPrice,
		ReduceOnly:    true,
	})
	if err != nil {
		e.publish(events.ManualInterventionDetected, map[string]any{
			"symbol": pos.Symbol, "reason": "PROTECTIVE_ORDER_FAILED_STOP", "error": err.Error(),
		}, "execution")
		return fmt.Errorf("place protective stop: %w", err)
	}
	e.publish(events.OrderPlaced, map[string]any{
		"client_order_id": stopClientID, "symbol": pos.Symbol, "side": string(stopSide),
		"order_type": "STOP_MARKET", "quantity": filledQty, "stop_price": pos.StopPrice, "reduce_only": true,
	}, "execution")
	e.publishFill(stopAck, filledQty, nil)

	if e.settings.TakeProfitFraction > 0 && pos.TakeProfitPrice > 0 {
		tpClientID := fmt.Sprintf("%s_TP-%s", pos.Symbol, pos.EntryOrderID)
		tpQty := filledQty * e.settings.TakeProfitFraction
		tpAck, err := e.broker.PlaceOrder(ctx, state.Order{
			ClientOrderID: tpClientID,
			Symbol:        pos.Symbol,
			Side:          stopSide,
			OrderType:     state.OrderTakeProfitMarket,
			Quantity:      tpQty,
			StopPrice:     pos.TakeProfitPrice,
			ReduceOnly:    true,
		})
		if err != nil {
			e.publish(events.ManualInterventionDetected, map[string]any{
				"symbol": pos.Symbol, "reason": "PROTECTIVE_ORDER_FAILED_TAKE_PROFIT", "error": err.Error(),
			}, "execution")
			return fmt.Errorf("place protective take-profit: %w", err)
		}
		e.publish(events.OrderPlaced, map[string]any{
			"client_order_id": tpClientID, "symbol": pos.Symbol, "side": string(stopSide),
			"order_type": "TAKE_PROFIT_MARKET", "quantity": tpQty, "stop_price": pos.TakeProfitPrice, "reduce_only": true,
		}, "execution")
		e.publishFill(tpAck, tpQty, nil)
	}
	return nil
}

// ReplaceTrailingStop cancels the current stop and places a new one at the
// decision's price, using a fresh idempotent client-order-id.
func (e *Engine) ReplaceTrailingStop(ctx context.Context, pos state.Position, d TrailingDecision) error {
	if !d.ShouldReplace {
		return nil
	}
	if pos.StopOrderID != "" {
		if err := e.broker.CancelOrder(ctx, pos.Symbol, pos.StopOrderID); err != nil {
			e.publish(events.ManualInterventionDetected, map[string]any{
				"symbol": pos.Symbol, "reason": "PROTECTIVE_ORDER_FAILED_STOP", "error": err.Error(),
			}, "execution")
			return fmt.Errorf("cancel old trailing stop: %w", err)
		}
	}
	stopSide := state.Short
	if pos.Side == state.Short {
		stopSide = state.Long
	}
	ack, err := e.broker.PlaceOrder(ctx, state.Order{
		ClientOrderID: d.NewClientOrder,
		Symbol:        pos.Symbol,
		Side:          stopSide,
		OrderType:     state.OrderStopMarket,
		Quantity:      pos.Quantity,
		StopPrice:     d.NewStopPrice,
		ReduceOnly:    true,
	})
	if err != nil {
		e.publish(events.ManualInterventionDetected, map[string]any{
			"symbol": pos.Symbol, "reason": "PROTECTIVE_ORDER_FAILED_STOP", "error": err.Error(),
		}, "execution")
		return fmt.Errorf("place new trailing stop: %w", err)
	}
	e.publish(events.OrderPlaced, map[string]any{
		"client_order_id": d.NewClientOrder, "symbol": pos.Symbol, "side": string(stopSide),
		"order_type": "STOP_MARKET", "quantity": pos.Quantity, "stop_price": d.NewStopPrice, "reduce_only": true,
	}, "execution")
	e.publishFill(ack, pos.Quantity, nil)
	return nil
}

// Deadline computes the entry order's timeout instant per the configured
// TimeoutMode, given the candle's bar close (for timeframe mode) and the
// order's creation time.
func (e *Engine) Deadline(createdAt, nextBarClose time.Time) time.Time {
	switch e.settings.EntryTimeoutMode {
	case TimeoutFixed:
		return createdAt.Add(e.settings.EntryTimeoutSeconds)
	case TimeoutTimeframe:
		return nextBarClose
	default:
		return createdAt.Add(e.settings.EntryMaxDuration)
	}
}

// HandleTimeout applies the configured TimeoutAction to an entry order that
// has passed its deadline.
func (e *Engine) HandleTimeout(ctx context.Context, o state.Order) error {
	switch e.settings.EntryTimeoutAction {
	case ActionCancel:
		if err := e.broker.CancelOrder(ctx, o.Symbol, o.ClientOrderID); err != nil {
			return fmt.Errorf("cancel timed-out entry: %w", err)
		}
		e.publish(events.OrderExpired, map[string]any{
			"client_order_id": o.ClientOrderID, "symbol": o.Symbol, "reason": "TIMEOUT",
		}, "execution")
		return nil
	case ActionConvertMarket, ActionConvertStop:
		if err := e.broker.CancelOrder(ctx, o.Symbol, o.ClientOrderID); err != nil {
			return fmt.Errorf("cancel before convert: %w", err)
		}
		newID := fmt.Sprintf("%s_CONV-%s", o.Symbol, uuid.NewString())
		orderType := state.OrderMarket
		if e.settings.EntryTimeoutAction == ActionConvertStop {
			orderType = state.OrderStopMarket
		}
		remaining := o.Quantity - o.FilledQuantity
		ack, err := e.broker.PlaceOrder(ctx, state.Order{
			ClientOrderID:    newID,
			Symbol:           o.Symbol,
			Side:             o.Side,
			OrderType:        orderType,
			Quantity:         remaining,
			StopPrice:        o.StopPrice,
			OriginalClientID: o.ClientOrderID,
		})
		if err != nil {
			return fmt.Errorf("convert timed-out entry: %w", err)
		}
		e.publish(events.OrderPlaced, map[string]any{
			"client_order_id": newID, "symbol": o.Symbol, "side": string(o.Side),
			"order_type": string(orderType), "quantity": remaining,
			"original_client_order_id": o.ClientOrderID,
		}, "execution")
		e.publishFill(ack, remaining, map[string]any{
			"entry_fill":    !o.ReduceOnly,
			"symbol":        o.Symbol,
			"side":          string(o.Side),
			"quantity":      remaining,
			"intended_stop": o.StopPrice,
		})
		return nil
	}
	return nil
}

func (e *Engine) publish(kind events.Kind, payload map[string]any, source string) {
	if _, err := e.bus.Publish(kind, payload, events.WithSource(source, nil)); err != nil {
		e.log.Error("publish failed", "kind", kind, "error", err)
	}
}

// publishFill turns a broker ack into the OrderFilled/OrderPartialFill event
// the state reducer needs to open or close a Position. It is a no-op when
// the ack reports neither a full nor a partial fill (the live/testnet
// bridge acks PLACED/OPEN and the fill itself arrives later over the user
// stream). extra carries whatever entry-specific fields (trade_id,
// leverage, intended stop/take-profit) the caller already has in hand, so
// the reducer never has to look them up elsewhere.
func (e *Engine) publishFill(ack PlacedOrderAck, requestedQty float64, extra map[string]any) {
	payload := map[string]any{
		"client_order_id": ack.ClientOrderID,
		"fill_price":      ack.FillPrice,
	}
	for k, v := range extra {
		payload[k] = v
	}
	switch ack.Status {
	case state.OrderStatusFilled:
		e.publish(events.OrderFilled, payload, "execution")
	case state.OrderStatusPartiallyFilled:
		filledQty := ack.FilledQuantity
		if filledQty <= 0 {
			filledQty = requestedQty
		}
		payload["filled_delta"] = filledQty
		e.publish(events.OrderPartialFill, payload, "execution")
	}
}
