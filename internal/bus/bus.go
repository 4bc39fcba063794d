// Package bus implements the EventBus: publish calls
// reserve a gap-free sequence number, durably append to the ledger, and
// only then fan out to registered handlers in registration order, with
// per-handler serialization.
//
// The single-writer serialization point is grounded in
// a prior spot bot's trader.go's stateApplyCh pattern: a single goroutine
// drains a buffered channel of closures and applies them one at a time,
// generalized here from Trader-mutation closures to published Events fanned
// out to N independent per-handler queues (one goroutine per handler keeps
// a slow handler from blocking the bus or other handlers, while still
// guaranteeing in-order delivery to each).
package bus

import (
	"fmt"
	"sync"

	"github.com/chidi150c/perpcore/internal/events"
	"github.com/chidi150c/perpcore/internal/ledger"
)

// Handler observes durably-appended events in ledger order. A handler must
// not block indefinitely; it runs on its own dedicated goroutine behind a
// 256-event queue, so a slow handler does not stall publication until that
// queue is full (Publish then blocks, holding up every publisher and
// handler). It sees its own events strictly in order (per-handler
// serialization).
type Handler func(events.Event)

// Bus is the single in-process publish/subscribe point. Publish is safe for
// concurrent use: concurrent publishers serialize around the ledger's
// append critical section, preserving a single total order.
type Bus struct {
	mu      sync.Mutex
	ledger  *ledger.Ledger
	queues  []chan events.Event
	names   []string
	closeWG sync.WaitGroup
}

// New wraps a Ledger with fan-out dispatch.
func New(l *ledger.Ledger) *Bus {
	return &Bus{ledger: l}
}

// Subscribe registers a named handler. Handlers added before Publish is
// first called receive every subsequently published event, in the order
// they were registered, and in ledger order among themselves.
func (b *Bus) Subscribe(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := make(chan events.Event, 256)
	b.queues = append(b.queues, q)
	b.names = append(b.names, name)
	b.closeWG.Add(1)
	go func() {
		defer b.closeWG.Done()
		for ev := range q {
			h(ev)
		}
	}()
}

// Publish reserves the next sequence, durably appends the event, and only
// then dispatches it to every subscribed handler's queue. It returns the
// finalized Event or a LedgerWriteError if persistence failed — on failure
// no handler is notified (the "must not partially notify
// handlers on such failures").
func (b *Bus) Publish(kind events.Kind, payload map[string]any, metadata map[string]any) (events.Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ev, err := b.ledger.Append(kind, payload, metadata)
	if err != nil {
		return events.Event{}, &LedgerWriteError{Kind: kind, Err: err}
	}
	for _, q := range b.queues {
		q <- ev
	}
	return ev, nil
}

// Close stops accepting dispatch and waits for every handler goroutine to
// drain its queue.
func (b *Bus) Close() {
	b.mu.Lock()
	for _, q := range b.queues {
		close(q)
	}
	b.mu.Unlock()
	b.closeWG.Wait()
}

// LedgerWriteError is returned when the durable append itself fails; no
// handler observes the event in this case.
type LedgerWriteError struct {
	Kind events.Kind
	Err  error
}

func (e *LedgerWriteError) Error() string {
	return fmt.Sprintf("ledger write failed for %s: %v", e.Kind, e.Err)
}

func (e *LedgerWriteError) Unwrap() error { return e.Err }
