package userstream

import (
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chidi150c/perpcore/internal/bus"
	"github.com/chidi150c/perpcore/internal/events"
	"github.com/chidi150c/perpcore/internal/ledger"
)

func TestDecodeJSONEnvelope_MapsKnownType(t *testing.T) {
	translate := DecodeJSONEnvelope("type", map[string]events.Kind{"order_filled": events.OrderFilled})
	msg, ok := translate([]byte(`{"type":"order_filled","client_order_id":"co-1"}`))
	assert.True(t, ok)
	assert.Equal(t, events.OrderFilled, msg.Kind)
	assert.Equal(t, "co-1", msg.Payload["client_order_id"])
	_, hasTypeField := msg.Payload["type"]
	assert.False(t, hasTypeField)
}

func TestDecodeJSONEnvelope_UnknownTypeIsIgnored(t *testing.T) {
	translate := DecodeJSONEnvelope("type", map[string]events.Kind{"order_filled": events.OrderFilled})
	_, ok := translate([]byte(`{"type":"heartbeat"}`))
	assert.False(t, ok)
}

func TestDecodeJSONEnvelope_InvalidJSONIsIgnored(t *testing.T) {
	translate := DecodeJSONEnvelope("type", map[string]events.Kind{"order_filled": events.OrderFilled})
	_, ok := translate([]byte(`not json`))
	assert.False(t, ok)
}

func TestDecodeJSONEnvelope_NilKindMapNeverMatches(t *testing.T) {
	translate := DecodeJSONEnvelope("type", nil)
	_, ok := translate([]byte(`{"type":"order_filled"}`))
	assert.False(t, ok)
}

func TestStreamHandle_PublishesTranslatedMessageToBus(t *testing.T) {
	dir := t.TempDir()
	l, err := ledger.Open(filepath.Join(dir, "events.log"), filepath.Join(dir, "events.seq"))
	require.NoError(t, err)
	defer l.Close()
	b := bus.New(l)

	var seen []events.Event
	b.Subscribe("capture", func(ev events.Event) { seen = append(seen, ev) })

	translate := DecodeJSONEnvelope("type", map[string]events.Kind{"order_filled": events.OrderFilled})
	s := New("wss://example.invalid", translate, b, slog.Default())
	s.handle([]byte(`{"type":"order_filled","client_order_id":"co-1"}`))
	b.Close()

	require.Len(t, seen, 1)
	assert.Equal(t, events.OrderFilled, seen[0].Kind)
	assert.Equal(t, "co-1", seen[0].Payload["client_order_id"])
}

func TestStreamHandle_UntranslatableFrameIsDropped(t *testing.T) {
	dir := t.TempDir()
	l, err := ledger.Open(filepath.Join(dir, "events.log"), filepath.Join(dir, "events.seq"))
	require.NoError(t, err)
	defer l.Close()
	b := bus.New(l)

	var seen []events.Event
	b.Subscribe("capture", func(ev events.Event) { seen = append(seen, ev) })

	translate := DecodeJSONEnvelope("type", map[string]events.Kind{"order_filled": events.OrderFilled})
	s := New("wss://example.invalid", translate, b, slog.Default())
	s.handle([]byte(`{"type":"heartbeat"}`))
	b.Close()

	assert.Empty(t, seen)
}
