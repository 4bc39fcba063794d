package watchdog

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chidi150c/perpcore/internal/bus"
	"github.com/chidi150c/perpcore/internal/events"
	"github.com/chidi150c/perpcore/internal/ledger"
	"github.com/chidi150c/perpcore/internal/metrics"
	"github.com/chidi150c/perpcore/internal/state"
)

type fakeOrderLookup struct {
	order state.Order
	err   error
}

func (f *fakeOrderLookup) GetOrder(ctx context.Context, symbol, clientOrderID string) (state.Order, error) {
	return f.order, f.err
}

func newTestBus(t *testing.T) *bus.Bus {
	dir := t.TempDir()
	l, err := ledger.Open(filepath.Join(dir, "events.log"), filepath.Join(dir, "events.seq"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return bus.New(l)
}

func TestSweep_MissingStopOrderIDPublishesFinding(t *testing.T) {
	b := newTestBus(t)
	m := metrics.New(prometheus.NewRegistry())
	var seen []events.Event
	b.Subscribe("capture", func(ev events.Event) { seen = append(seen, ev) })

	snapshot := func() state.TradingState {
		st := state.New(10000, []string{"BTC-PERP"})
		st.Positions["BTC-PERP"] = state.Position{Symbol: "BTC-PERP", Side: state.Long, TradeID: "t-1"}
		return st
	}
	wd := New(snapshot, &fakeOrderLookup{}, b, m, slog.Default(), time.Second)
	wd.sweep(context.Background())
	b.Close()

	require.Len(t, seen, 1)
	assert.Equal(t, events.ProtectiveOrdersMissing, seen[0].Kind)
	assert.Equal(t, "STOP_ORDER_MISSING", seen[0].Payload["reason"])
}

func TestSweep_TerminatedStopOrderPublishesFinding(t *testing.T) {
	b := newTestBus(t)
	m := metrics.New(prometheus.NewRegistry())
	var seen []events.Event
	b.Subscribe("capture", func(ev events.Event) { seen = append(seen, ev) })

	snapshot := func() state.TradingState {
		st := state.New(10000, []string{"BTC-PERP"})
		st.Positions["BTC-PERP"] = state.Position{Symbol: "BTC-PERP", Side: state.Long, StopOrderID: "stop-1"}
		return st
	}
	lookup := &fakeOrderLookup{order: state.Order{Status: state.OrderStatusCancelled}}
	wd := New(snapshot, lookup, b, m, slog.Default(), time.Second)
	wd.sweep(context.Background())
	b.Close()

	require.Len(t, seen, 1)
	assert.Equal(t, "STOP_ORDER_TERMINATED", seen[0].Payload["reason"])
}

func TestSweep_LiveStopOrderIsSilent(t *testing.T) {
	b := newTestBus(t)
	m := metrics.New(prometheus.NewRegistry())
	var seen []events.Event
	b.Subscribe("capture", func(ev events.Event) { seen = append(seen, ev) })

	snapshot := func() state.TradingState {
		st := state.New(10000, []string{"BTC-PERP"})
		st.Positions["BTC-PERP"] = state.Position{Symbol: "BTC-PERP", Side: state.Long, StopOrderID: "stop-1"}
		return st
	}
	lookup := &fakeOrderLookup{order: state.Order{Status: state.OrderStatusPlaced}}
	wd := New(snapshot, lookup, b, m, slog.Default(), time.Second)
	wd.sweep(context.Background())
	b.Close()

	assert.Empty(t, seen)
}

func TestSweep_OrderLookupErrorIsSkippedNotFlagged(t *testing.T) {
	b := newTestBus(t)
	m := metrics.New(prometheus.NewRegistry())
	var seen []events.Event
	b.Subscribe("capture", func(ev events.Event) { seen = append(seen, ev) })

	snapshot := func() state.TradingState {
		st := state.New(10000, []string{"BTC-PERP"})
		st.Positions["BTC-PERP"] = state.Position{Symbol: "BTC-PERP", Side: state.Long, StopOrderID: "stop-1"}
		return st
	}
	lookup := &fakeOrderLookup{err: errors.New("network error")}
	wd := New(snapshot, lookup, b, m, slog.Default(), time.Second)
	wd.sweep(context.Background())
	b.Close()

	assert.Empty(t, seen)
}
