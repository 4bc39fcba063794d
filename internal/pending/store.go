// Package pending implements a durable pending-entry store: a key/value
// file mapping client_order_id to PendingEntry, written on every mutation.
// ReconcileAgainstOpenOrders discards entries whose orders are no longer
// open; cmd/perpcore does not call it at startup.
//
// Grounded in a prior spot bot's PendingOpen map plus its
// saveStateFrom/loadState atomic write-tmp-then-rename JSON persistence,
// generalized from a two-slot (buy/sell) map to an arbitrary keyed map.
package pending

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/chidi150c/perpcore/internal/state"
)

// Store is the durable client_order_id -> PendingEntry map.
type Store struct {
	mu      sync.RWMutex
	path    string
	entries map[string]state.PendingEntry
}

// Open loads an existing store from path, or starts empty if path does not
// exist yet.
func Open(path string) (*Store, error) {
	s := &Store{path: path, entries: make(map[string]state.PendingEntry)}
	bs, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}
	if len(bs) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(bs, &s.entries); err != nil {
		return nil, err
	}
	return s, nil
}

// Put installs or replaces a PendingEntry and persists the store.
func (s *Store) Put(e state.PendingEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.ClientOrderID] = e
	return s.flushLocked()
}

// Remove deletes a PendingEntry (fill finalization, cancel, or expiry) and
// persists the store.
func (s *Store) Remove(clientOrderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[clientOrderID]; !ok {
		return nil
	}
	delete(s.entries, clientOrderID)
	return s.flushLocked()
}

// Get returns the PendingEntry for a client_order_id, if any.
func (s *Store) Get(clientOrderID string) (state.PendingEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[clientOrderID]
	return e, ok
}

// FindBySymbolAndBar looks up an in-flight PendingEntry for (symbol,
// candle_timestamp), used by the strategy loop's dedup-bypass rule.
func (s *Store) FindBySymbolAndBar(symbol string, barUnixSec int64) (state.PendingEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.entries {
		if e.Symbol == symbol && e.CandleTimestamp.Unix() == barUnixSec {
			return e, true
		}
	}
	return state.PendingEntry{}, false
}

// All returns a snapshot copy of every pending entry, used by the watchdog
// and reconciliation loops.
func (s *Store) All() map[string]state.PendingEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]state.PendingEntry, len(s.entries))
	for k, v := range s.entries {
		out[k] = v
	}
	return out
}

// ReconcileAgainstOpenOrders discards pending entries whose order is no
// longer open on the exchange: loaded and reconciled at startup against
// the exchange's open orders, with stale entries whose orders are no
// longer open discarded. openClientOrderIDs is the set of
// client_order_ids the exchange currently reports as open.
func (s *Store) ReconcileAgainstOpenOrders(openClientOrderIDs map[string]bool) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var discarded []string
	for id := range s.entries {
		if !openClientOrderIDs[id] {
			discarded = append(discarded, id)
			delete(s.entries, id)
		}
	}
	if len(discarded) > 0 {
		if err := s.flushLocked(); err != nil {
			return discarded, err
		}
	}
	return discarded, nil
}

func (s *Store) flushLocked() error {
	bs, err := json.MarshalIndent(s.entries, "", " ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, bs, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
