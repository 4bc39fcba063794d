// BridgeBroker adapts execution.Broker onto an HTTP exchange-bridge sidecar,
// generalized from a plain net/http client calling a FastAPI sidecar
// fronting a spot exchange. The ad-hoc normalized-then-fallback field
// parsing is replaced with resty and generalized from spot quote-market
// orders to the full LIMIT/MARKET/STOP_MARKET/TAKE_PROFIT_MARKET
// perpetual order surface, account-settings (position mode / margin
// type / leverage), and exchange filter lookups the live and testnet
// run modes require.
package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/chidi150c/perpcore/internal/execution"
	"github.com/chidi150c/perpcore/internal/reconcile"
	"github.com/chidi150c/perpcore/internal/state"
	"github.com/chidi150c/perpcore/internal/txerr"
)

// BridgeBroker talks to an out-of-process exchange-bridge sidecar over
// HTTP, the same separation of concerns as broker_bridge.go: this process
// never holds exchange API keys directly.
type BridgeBroker struct {
	name   string
	client *resty.Client
}

// NewBridgeBroker constructs a BridgeBroker against a sidecar base URL,
// mirroring broker_bridge.go's NewBridgeBroker(base string) constructor.
func NewBridgeBroker(name, baseURL string, timeout time.Duration) *BridgeBroker {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(0) // Engine.PlaceEntry owns the retry policy, not the transport

	return &BridgeBroker{name: name, client: c}
}

func (b *BridgeBroker) Name() string { return b.name }

type accountSettingsReq struct {
	Symbol       string  `json:"symbol"`
	PositionMode string  `json:"position_mode"`
	MarginType   string  `json:"margin_type"`
	Leverage     float64 `json:"leverage"`
}

func (b *BridgeBroker) EnsureAccountSettings(ctx context.Context, s execution.AccountSettings) error {
	resp, err := b.client.R().SetContext(ctx).
		SetBody(accountSettingsReq{
			Symbol:       s.Symbol,
			PositionMode: s.PositionMode,
			MarginType:   s.MarginType,
			Leverage:     s.Leverage,
		}).
		Post("/account/settings")
	return classifyHTTP("EnsureAccountSettings", resp, err)
}

type bboResp struct {
	Bid any `json:"bid"`
	Ask any `json:"ask"`
}

// GetBBO implements the bid/ask fetch, generalized from
// broker_bridge.go's GetNowPrice (GET /product/{id}) to a two-sided quote
// with the same flexible float/string parsing that handled Coinbase's
// inconsistent numeric encoding.
func (b *BridgeBroker) GetBBO(ctx context.Context, symbol string) (execution.BBO, error) {
	var out bboResp
	resp, err := b.client.R().SetContext(ctx).SetResult(&out).
		Get(fmt.Sprintf("/product/%s/bbo", symbol))
	if err := classifyHTTP("GetBBO", resp, err); err != nil {
		return execution.BBO{}, err
	}
	bid, ok1 := flexibleFloat(out.Bid)
	ask, ok2 := flexibleFloat(out.Ask)
	if !ok1 || !ok2 {
		return execution.BBO{}, txerr.Permanentf("GetBBO", "unparseable bid/ask in bridge response")
	}
	return execution.BBO{Bid: bid, Ask: ask}, nil
}

type placeOrderReq struct {
	ClientOrderID string  `json:"client_order_id"`
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	OrderType     string  `json:"order_type"`
	Quantity      float64 `json:"quantity"`
	LimitPrice    float64 `json:"limit_price,omitempty"`
	StopPrice     float64 `json:"stop_price,omitempty"`
	ReduceOnly    bool    `json:"reduce_only"`
}

type placeOrderResp struct {
	ClientOrderID   any `json:"client_order_id"`
	ExchangeOrderID any `json:"exchange_order_id"`
	Status          any `json:"status"`
	FillPrice       any `json:"fill_price"`
	FilledQuantity  any `json:"filled_quantity"`
}

// PlaceOrder is generalized from broker_bridge.go's PlaceMarketQuote (POST
// /order/market, spot quote-to-base) into a single perpetual order-placement
// endpoint taking the full order record, with the same
// normalized-then-fallback response field parsing via firstNonEmpty/
// flexibleFloat.
func (b *BridgeBroker) PlaceOrder(ctx context.Context, o state.Order) (execution.PlacedOrderAck, error) {
	req := placeOrderReq{
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Side:          string(o.Side),
		OrderType:     string(o.OrderType),
		Quantity:      o.Quantity,
		LimitPrice:    o.LimitPrice,
		StopPrice:     o.StopPrice,
		ReduceOnly:    o.ReduceOnly,
	}
	var out placeOrderResp
	resp, err := b.client.R().SetContext(ctx).SetBody(req).SetResult(&out).
		Post("/order")
	if err := classifyHTTP("PlaceOrder", resp, err); err != nil {
		return execution.PlacedOrderAck{}, err
	}

	exchangeID := firstNonEmpty(flexibleString(out.ExchangeOrderID), "")
	status := firstNonEmpty(flexibleString(out.Status), string(state.OrderStatusOpen))
	clientID := firstNonEmpty(flexibleString(out.ClientOrderID), o.ClientOrderID)
	fillPrice, _ := flexibleFloat(out.FillPrice)
	filledQty, _ := flexibleFloat(out.FilledQuantity)

	return execution.PlacedOrderAck{
		ClientOrderID:   clientID,
		ExchangeOrderID: exchangeID,
		Status:          state.OrderStatus(status),
		FillPrice:       fillPrice,
		FilledQuantity:  filledQty,
	}, nil
}

func (b *BridgeBroker) CancelOrder(ctx context.Context, symbol, clientOrderID string) error {
	resp, err := b.client.R().SetContext(ctx).
		Delete(fmt.Sprintf("/order/%s/%s", symbol, clientOrderID))
	return classifyHTTP("CancelOrder", resp, err)
}

type orderStatusResp struct {
	Status         any `json:"status"`
	FilledQuantity any `json:"filled_quantity"`
}

func (b *BridgeBroker) GetOrder(ctx context.Context, symbol, clientOrderID string) (state.Order, error) {
	var out orderStatusResp
	resp, err := b.client.R().SetContext(ctx).SetResult(&out).
		Get(fmt.Sprintf("/order/%s/%s", symbol, clientOrderID))
	if err := classifyHTTP("GetOrder", resp, err); err != nil {
		return state.Order{}, err
	}
	filled, _ := flexibleFloat(out.FilledQuantity)
	return state.Order{
		ClientOrderID:  clientOrderID,
		Symbol:         symbol,
		Status:         state.OrderStatus(flexibleString(out.Status)),
		FilledQuantity: filled,
	}, nil
}

type filtersResp struct {
	StepSize    any `json:"step_size"`
	MinQty      any `json:"min_qty"`
	MinNotional any `json:"min_notional"`
	TickSize    any `json:"tick_size"`
}

func (b *BridgeBroker) GetExchangeFilters(ctx context.Context, symbol string) (execution.StepFilters, error) {
	var out filtersResp
	resp, err := b.client.R().SetContext(ctx).SetResult(&out).
		Get(fmt.Sprintf("/product/%s/filters", symbol))
	if err := classifyHTTP("GetExchangeFilters", resp, err); err != nil {
		return execution.StepFilters{}, err
	}
	step, _ := flexibleFloat(out.StepSize)
	minQty, _ := flexibleFloat(out.MinQty)
	minNotional, _ := flexibleFloat(out.MinNotional)
	tick, _ := flexibleFloat(out.TickSize)
	return execution.StepFilters{
		StepSize:    step,
		MinQty:      minQty,
		MinNotional: minNotional,
		TickSize:    tick,
	}, nil
}

type exchangePositionResp struct {
	Symbol   string `json:"symbol"`
	Side     string `json:"side"`
	Quantity any    `json:"quantity"`
}

// ListPositions satisfies internal/reconcile's ExchangeView, the exchange
// side of the reconciliation protocol's internal-vs-exchange comparison.
// A spot-only bot holding at most one lot never needs this; this endpoint
// and its tolerant parsing are new, built directly from this method's
// sibling order/account endpoints above.
func (b *BridgeBroker) ListPositions(ctx context.Context) ([]reconcile.ExchangePosition, error) {
	var out []exchangePositionResp
	resp, err := b.client.R().SetContext(ctx).SetResult(&out).Get("/positions")
	if err := classifyHTTP("ListPositions", resp, err); err != nil {
		return nil, err
	}
	positions := make([]reconcile.ExchangePosition, 0, len(out))
	for _, p := range out {
		qty, _ := flexibleFloat(p.Quantity)
		positions = append(positions, reconcile.ExchangePosition{
			Symbol:   p.Symbol,
			Side:     state.Side(p.Side),
			Quantity: qty,
		})
	}
	return positions, nil
}

// classifyHTTP maps a resty response/error pair onto the txerr taxonomy:
// transport errors and 5xx are Transient, 401/403 AuthError, 429
// RateLimited, and any other 4xx Permanent.
func classifyHTTP(op string, resp *resty.Response, err error) error {
	if err != nil {
		return txerr.Transientf(op, "bridge request failed: %v", err)
	}
	if resp == nil {
		return txerr.Transientf(op, "bridge returned no response")
	}
	switch {
	case resp.StatusCode() == 401 || resp.StatusCode() == 403:
		return txerr.New(txerr.AuthError, op, fmt.Errorf("bridge auth error: %s", resp.Status()))
	case resp.StatusCode() == 429:
		return txerr.New(txerr.RateLimited, op, fmt.Errorf("bridge rate limited: %s", resp.Status()))
	case resp.StatusCode() >= 500:
		return txerr.New(txerr.Transient, op, fmt.Errorf("bridge server error: %s", resp.Status()))
	case resp.StatusCode() >= 400:
		return txerr.New(txerr.Permanent, op, fmt.Errorf("bridge rejected request: %s", resp.Status()))
	}
	return nil
}

// flexibleFloat and flexibleString generalize broker_bridge.go's tolerant
// float/string/time parsing (the sidecar sometimes encodes numbers as JSON
// strings) to any any-typed JSON field.
func flexibleFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		var f float64
		if _, err := fmt.Sscanf(t, "%g", &f); err == nil {
			return f, true
		}
	}
	return 0, false
}

func flexibleString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return fmt.Sprintf("%g", t)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

// firstNonEmpty mirrors broker_bridge.go's firstNonEmpty helper used when
// reconciling normalized vs. fallback response fields.
func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
