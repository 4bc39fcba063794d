package execution

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chidi150c/perpcore/internal/bus"
	"github.com/chidi150c/perpcore/internal/events"
	"github.com/chidi150c/perpcore/internal/ledger"
	"github.com/chidi150c/perpcore/internal/pending"
	"github.com/chidi150c/perpcore/internal/state"
)

type fakeBroker struct {
	bbo             BBO
	bboErr          error
	ensureErr       error
	placeErr        error
	placeCalls      []state.Order
	cancelCalls     []string
	ensureCalls     []AccountSettings
	fillAck         *PlacedOrderAck
}

func (f *fakeBroker) Name() string { return "fake" }
func (f *fakeBroker) EnsureAccountSettings(ctx context.Context, s AccountSettings) error {
	f.ensureCalls = append(f.ensureCalls, s)
	return f.ensureErr
}
func (f *fakeBroker) GetBBO(ctx context.Context, symbol string) (BBO, error) { return f.bbo, f.bboErr }
func (f *fakeBroker) PlaceOrder(ctx context.Context, o state.Order) (PlacedOrderAck, error) {
	f.placeCalls = append(f.placeCalls, o)
	if f.placeErr != nil {
		return PlacedOrderAck{}, f.placeErr
	}
	if f.fillAck != nil {
		ack := *f.fillAck
		ack.ClientOrderID = o.ClientOrderID
		return ack, nil
	}
	return PlacedOrderAck{ClientOrderID: o.ClientOrderID, Status: state.OrderStatusPlaced}, nil
}
func (f *fakeBroker) CancelOrder(ctx context.Context, symbol, clientOrderID string) error {
	f.cancelCalls = append(f.cancelCalls, clientOrderID)
	return nil
}
func (f *fakeBroker) GetOrder(ctx context.Context, symbol, clientOrderID string) (state.Order, error) {
	return state.Order{}, nil
}
func (f *fakeBroker) GetExchangeFilters(ctx context.Context, symbol string) (StepFilters, error) {
	return StepFilters{}, nil
}

func newTestEngine(t *testing.T, broker Broker, settings Settings) (*Engine, *bus.Bus, *pending.Store) {
	dir := t.TempDir()
	l, err := ledger.Open(filepath.Join(dir, "events.log"), filepath.Join(dir, "events.seq"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	b := bus.New(l)
	p, err := pending.Open(filepath.Join(dir, "pending.json"))
	require.NoError(t, err)
	return New(broker, b, p, settings, nil, nil), b, p
}

func tightSettings() Settings {
	return Settings{
		RetryAttempts: 2,
		Microstructure: MicrostructureLimits{
			DynamicThresholds: false, FixedMaxSpreadPct: 1.0, MaxSlippagePct: 1.0,
		},
	}
}

func TestPlaceEntry_HappyPathPublishesOrderPlacedAndCallsBroker(t *testing.T) {
	broker := &fakeBroker{bbo: BBO{Bid: 99.9, Ask: 100.1}}
	engine, b, _ := newTestEngine(t, broker, tightSettings())

	var seen []events.Event
	b.Subscribe("capture", func(ev events.Event) { seen = append(seen, ev) })

	err := engine.PlaceEntry(context.Background(), Proposal{
		Symbol: "BTC-PERP", Side: state.Long, EntryPrice: 100, ATR: 1, Leverage: 2,
		CandleTimestamp: time.Unix(1000, 0),
	}, 1.0)
	b.Close()

	require.NoError(t, err)
	require.Len(t, broker.placeCalls, 1)
	assert.Equal(t, "BTC-PERP", broker.placeCalls[0].Symbol)

	var kinds []events.Kind
	for _, ev := range seen {
		kinds = append(kinds, ev.Kind)
	}
	assert.Contains(t, kinds, events.AccountSettingUpdated)
	assert.Contains(t, kinds, events.OrderPlaced)
}

func TestPlaceEntry_SkipsWhenAlreadyPendingForBar(t *testing.T) {
	broker := &fakeBroker{bbo: BBO{Bid: 99.9, Ask: 100.1}}
	engine, _, p := newTestEngine(t, broker, tightSettings())

	bar := time.Unix(2000, 0)
	require.NoError(t, p.Put(state.PendingEntry{
		ClientOrderID: "existing", Symbol: "BTC-PERP", CandleTimestamp: bar,
	}))

	err := engine.PlaceEntry(context.Background(), Proposal{
		Symbol: "BTC-PERP", Side: state.Long, EntryPrice: 100, CandleTimestamp: bar,
	}, 1.0)

	require.NoError(t, err)
	assert.Empty(t, broker.placeCalls)
}

func TestPlaceEntry_AccountSettingsFailureAbortsBeforeOrderPlaced(t *testing.T) {
	broker := &fakeBroker{ensureErr: errors.New("exchange rejected leverage")}
	engine, b, _ := newTestEngine(t, broker, tightSettings())

	var seen []events.Event
	b.Subscribe("capture", func(ev events.Event) { seen = append(seen, ev) })

	err := engine.PlaceEntry(context.Background(), Proposal{
		Symbol: "BTC-PERP", Side: state.Long, EntryPrice: 100, CandleTimestamp: time.Unix(3000, 0),
	}, 1.0)
	b.Close()

	assert.Error(t, err)
	assert.Empty(t, broker.placeCalls)
	require.Len(t, seen, 1)
	assert.Equal(t, events.AccountSettingFailed, seen[0].Kind)
}

func TestPlaceEntry_RejectedByMicrostructureGateNeverPlacesOrder(t *testing.T) {
	broker := &fakeBroker{bbo: BBO{Bid: 90, Ask: 110}} // ~20% spread
	engine, b, _ := newTestEngine(t, broker, tightSettings())

	var seen []events.Event
	b.Subscribe("capture", func(ev events.Event) { seen = append(seen, ev) })

	err := engine.PlaceEntry(context.Background(), Proposal{
		Symbol: "BTC-PERP", Side: state.Long, EntryPrice: 100, CandleTimestamp: time.Unix(4000, 0),
	}, 1.0)
	b.Close()

	require.NoError(t, err)
	assert.Empty(t, broker.placeCalls)

	var kinds []events.Kind
	for _, ev := range seen {
		kinds = append(kinds, ev.Kind)
	}
	assert.Contains(t, kinds, events.RiskRejected)
	assert.NotContains(t, kinds, events.OrderPlaced)
}

func TestPlaceEntry_RetriesThenPublishesOrderExpiredOnPersistentFailure(t *testing.T) {
	broker := &fakeBroker{bbo: BBO{Bid: 99.9, Ask: 100.1}, placeErr: errors.New("exchange down")}
	settings := tightSettings()
	settings.RetryAttempts = 3
	engine, b, _ := newTestEngine(t, broker, settings)

	var seen []events.Event
	b.Subscribe("capture", func(ev events.Event) { seen = append(seen, ev) })

	err := engine.PlaceEntry(context.Background(), Proposal{
		Symbol: "BTC-PERP", Side: state.Long, EntryPrice: 100, CandleTimestamp: time.Unix(5000, 0),
	}, 1.0)
	b.Close()

	assert.Error(t, err)
	assert.Len(t, broker.placeCalls, 3)

	var kinds []events.Kind
	for _, ev := range seen {
		kinds = append(kinds, ev.Kind)
	}
	assert.Contains(t, kinds, events.OrderExpired)
}

func TestPlaceEntry_FilledAckPublishesOrderFilledWithEntryFillFlag(t *testing.T) {
	broker := &fakeBroker{
		bbo:     BBO{Bid: 99.9, Ask: 100.1},
		fillAck: &PlacedOrderAck{Status: state.OrderStatusFilled, FillPrice: 100.2, FilledQuantity: 1.0},
	}
	engine, b, _ := newTestEngine(t, broker, tightSettings())

	var seen []events.Event
	b.Subscribe("capture", func(ev events.Event) { seen = append(seen, ev) })

	err := engine.PlaceEntry(context.Background(), Proposal{
		Symbol: "BTC-PERP", Side: state.Long, EntryPrice: 100, ATR: 1, Leverage: 2, TradeID: "t-1",
		StopPrice: 95, TakeProfit: 110, CandleTimestamp: time.Unix(1000, 0),
	}, 1.0)
	b.Close()

	require.NoError(t, err)
	var fillEvent *events.Event
	for i := range seen {
		if seen[i].Kind == events.OrderFilled {
			fillEvent = &seen[i]
		}
	}
	require.NotNil(t, fillEvent, "expected an OrderFilled event")
	assert.Equal(t, true, fillEvent.Payload["entry_fill"])
	assert.Equal(t, "BTC-PERP", fillEvent.Payload["symbol"])
	assert.Equal(t, 100.2, fillEvent.Payload["fill_price"])
}

func TestPlaceEntry_PartialFillAckPublishesOrderPartialFill(t *testing.T) {
	broker := &fakeBroker{
		bbo:     BBO{Bid: 99.9, Ask: 100.1},
		fillAck: &PlacedOrderAck{Status: state.OrderStatusPartiallyFilled, FillPrice: 100.2, FilledQuantity: 0.4},
	}
	engine, b, _ := newTestEngine(t, broker, tightSettings())

	var seen []events.Event
	b.Subscribe("capture", func(ev events.Event) { seen = append(seen, ev) })

	err := engine.PlaceEntry(context.Background(), Proposal{
		Symbol: "BTC-PERP", Side: state.Long, EntryPrice: 100, CandleTimestamp: time.Unix(1000, 0),
	}, 1.0)
	b.Close()

	require.NoError(t, err)
	var fillEvent *events.Event
	for i := range seen {
		if seen[i].Kind == events.OrderPartialFill {
			fillEvent = &seen[i]
		}
	}
	require.NotNil(t, fillEvent, "expected an OrderPartialFill event")
	assert.Equal(t, 0.4, fillEvent.Payload["filled_delta"])
}

func TestAttachProtective_PlacesStopAndTakeProfit(t *testing.T) {
	broker := &fakeBroker{}
	settings := tightSettings()
	settings.TakeProfitFraction = 0.5
	engine, b, _ := newTestEngine(t, broker, settings)

	var seen []events.Event
	b.Subscribe("capture", func(ev events.Event) { seen = append(seen, ev) })

	pos := state.Position{
		Symbol: "BTC-PERP", Side: state.Long, Quantity: 2, EntryPrice: 100,
		StopPrice: 95, TakeProfitPrice: 110, EntryOrderID: "entry-1",
	}
	err := engine.AttachProtective(context.Background(), pos, 2)
	b.Close()

	require.NoError(t, err)
	require.Len(t, broker.placeCalls, 2)
	assert.Equal(t, state.OrderStopMarket, broker.placeCalls[0].OrderType)
	assert.Equal(t, state.OrderTakeProfitMarket, broker.placeCalls[1].OrderType)
	assert.InDelta(t, 1.0, broker.placeCalls[1].Quantity, 1e-9)

	var kinds []events.Kind
	for _, ev := range seen {
		kinds = append(kinds, ev.Kind)
	}
	assert.Contains(t, kinds, events.PositionOpened)
}

func TestAttachProtective_StopFailurePublishesManualIntervention(t *testing.T) {
	broker := &fakeBroker{placeErr: errors.New("rejected")}
	engine, b, _ := newTestEngine(t, broker, tightSettings())

	var seen []events.Event
	b.Subscribe("capture", func(ev events.Event) { seen = append(seen, ev) })

	pos := state.Position{Symbol: "BTC-PERP", Side: state.Long, Quantity: 1, StopPrice: 95, EntryOrderID: "entry-1"}
	err := engine.AttachProtective(context.Background(), pos, 1)
	b.Close()

	assert.Error(t, err)
	var kinds []events.Kind
	for _, ev := range seen {
		kinds = append(kinds, ev.Kind)
	}
	assert.Contains(t, kinds, events.ManualInterventionDetected)
}

func TestHandleTimeout_CancelActionPublishesOrderExpired(t *testing.T) {
	broker := &fakeBroker{}
	settings := tightSettings()
	settings.EntryTimeoutAction = ActionCancel
	engine, b, _ := newTestEngine(t, broker, settings)

	var seen []events.Event
	b.Subscribe("capture", func(ev events.Event) { seen = append(seen, ev) })

	err := engine.HandleTimeout(context.Background(), state.Order{Symbol: "BTC-PERP", ClientOrderID: "co-1"})
	b.Close()

	require.NoError(t, err)
	assert.Contains(t, broker.cancelCalls, "co-1")
	require.Len(t, seen, 1)
	assert.Equal(t, events.OrderExpired, seen[0].Kind)
}

func TestHandleTimeout_ConvertMarketCancelsThenPlacesNewOrder(t *testing.T) {
	broker := &fakeBroker{}
	settings := tightSettings()
	settings.EntryTimeoutAction = ActionConvertMarket
	engine, b, _ := newTestEngine(t, broker, settings)

	var seen []events.Event
	b.Subscribe("capture", func(ev events.Event) { seen = append(seen, ev) })

	err := engine.HandleTimeout(context.Background(), state.Order{
		Symbol: "BTC-PERP", ClientOrderID: "co-1", Side: state.Long, Quantity: 2, FilledQuantity: 0.5,
	})
	b.Close()

	require.NoError(t, err)
	assert.Contains(t, broker.cancelCalls, "co-1")
	require.Len(t, broker.placeCalls, 1)
	assert.Equal(t, state.OrderMarket, broker.placeCalls[0].OrderType)
	assert.InDelta(t, 1.5, broker.placeCalls[0].Quantity, 1e-9)

	var kinds []events.Kind
	for _, ev := range seen {
		kinds = append(kinds, ev.Kind)
	}
	assert.Contains(t, kinds, events.OrderPlaced)
}

func TestDeadline_TimeframeModeUsesNextBarClose(t *testing.T) {
	settings := tightSettings()
	settings.EntryTimeoutMode = TimeoutTimeframe
	engine, _, _ := newTestEngine(t, &fakeBroker{}, settings)

	nextBar := time.Unix(9999, 0)
	assert.Equal(t, nextBar, engine.Deadline(time.Unix(1, 0), nextBar))
}

func TestDeadline_FixedModeAddsConfiguredDuration(t *testing.T) {
	settings := tightSettings()
	settings.EntryTimeoutMode = TimeoutFixed
	settings.EntryTimeoutSeconds = 30 * time.Second
	engine, _, _ := newTestEngine(t, &fakeBroker{}, settings)

	created := time.Unix(1000, 0)
	assert.Equal(t, created.Add(30*time.Second), engine.Deadline(created, time.Time{}))
}

func TestReplaceTrailingStop_NoopWhenDecisionSaysDoNotReplace(t *testing.T) {
	broker := &fakeBroker{}
	engine, _, _ := newTestEngine(t, broker, tightSettings())

	err := engine.ReplaceTrailingStop(context.Background(), state.Position{}, TrailingDecision{ShouldReplace: false})
	require.NoError(t, err)
	assert.Empty(t, broker.placeCalls)
	assert.Empty(t, broker.cancelCalls)
}

func TestReplaceTrailingStop_CancelsOldAndPlacesNew(t *testing.T) {
	broker := &fakeBroker{}
	engine, _, _ := newTestEngine(t, broker, tightSettings())

	pos := state.Position{Symbol: "BTC-PERP", Side: state.Long, Quantity: 1, StopOrderID: "old-stop"}
	dec := TrailingDecision{ShouldReplace: true, NewStopPrice: 105, NewClientOrder: "new-stop"}
	err := engine.ReplaceTrailingStop(context.Background(), pos, dec)

	require.NoError(t, err)
	assert.Contains(t, broker.cancelCalls, "old-stop")
	require.Len(t, broker.placeCalls, 1)
	assert.Equal(t, "new-stop", broker.placeCalls[0].ClientOrderID)
}
