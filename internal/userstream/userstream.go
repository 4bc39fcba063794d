// Package userstream implements the continuous user-data-stream ingestion
// loop: a long-lived websocket connection to the exchange's private
// channel, translating order/fill/funding push messages into bus events,
// with reconnect-with-backoff on drop.
//
// Grounded in a prior spot bot's runLive ticker+select shutdown
// discipline (generalized here to a read-loop goroutine selecting on
// ctx.Done() alongside the socket's message channel) and a
// market-making service's gorilla/websocket dependency, following its
// dial/read-loop/reconnect shape rather than inventing one.
package userstream

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chidi150c/perpcore/internal/bus"
	"github.com/chidi150c/perpcore/internal/events"
)

// Message is one normalized push message off the user-data stream. The
// exchange's own envelope varies; Translate below maps a raw frame to this
// shape before it becomes a bus event.
type Message struct {
	Kind    events.Kind
	Payload map[string]any
}

// Translator maps one raw websocket text frame to zero or one Messages.
// Returning (Message{}, false) means the frame carried nothing the trading
// core cares about (e.g. a heartbeat/ping frame).
type Translator func(raw []byte) (Message, bool)

// Stream manages one reconnecting websocket connection and republishes
// translated messages onto the bus.
type Stream struct {
	url        string
	translate  Translator
	bus        *bus.Bus
	log        *slog.Logger
	backoffMin time.Duration
	backoffMax time.Duration
}

// New constructs a Stream. translate is exchange-specific wire decoding;
// every adapter (paper/testnet/live) supplies its own.
func New(url string, translate Translator, b *bus.Bus, log *slog.Logger) *Stream {
	return &Stream{
		url:        url,
		translate:  translate,
		bus:        b,
		log:        log.With("component", "userstream"),
		backoffMin: time.Second,
		backoffMax: 30 * time.Second,
	}
}

// Run dials, reads, and republishes until ctx is cancelled, reconnecting
// with exponential backoff (capped at backoffMax) on any read/dial error.
func (s *Stream) Run(ctx context.Context) {
	backoff := s.backoffMin
	for {
		select {
		case <-ctx.Done():
			s.log.Info("shutdown")
			return
		default:
		}

		if err := s.runOnce(ctx); err != nil {
			s.log.Warn("user stream disconnected", "error", err, "retry_in", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > s.backoffMax {
				backoff = s.backoffMax
			}
			continue
		}
		backoff = s.backoffMin
	}
}

func (s *Stream) runOnce(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, s.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	s.log.Info("user stream connected", "url", s.url)

	msgCh := make(chan []byte, 64)
	errCh := make(chan error, 1)
	go func() {
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				errCh <- err
				return
			}
			msgCh <- raw
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			return err
		case raw := <-msgCh:
			s.handle(raw)
		}
	}
}

func (s *Stream) handle(raw []byte) {
	msg, ok := s.translate(raw)
	if !ok {
		return
	}
	if _, err := s.bus.Publish(msg.Kind, msg.Payload, events.WithSource("userstream", nil)); err != nil {
		s.log.Error("failed to publish user-stream event", "kind", msg.Kind, "error", err)
	}
}

// DecodeJSONEnvelope is a convenience Translator constructor for exchanges
// that push a flat {"type": "...", ...fields} JSON object: it maps "type"
// onto an events.Kind and forwards the remaining fields verbatim as the
// payload.
func DecodeJSONEnvelope(kindField string, kindMap map[string]events.Kind) Translator {
	return func(raw []byte) (Message, bool) {
		var envelope map[string]any
		if err := json.Unmarshal(raw, &envelope); err != nil {
			return Message{}, false
		}
		typeStr, _ := envelope[kindField].(string)
		kind, ok := kindMap[typeStr]
		if !ok {
			return Message{}, false
		}
		delete(envelope, kindField)
		return Message{Kind: kind, Payload: envelope}, true
	}
}
