// Package csvlog implements the external trade-log and order-log CSV
// writers, plus the thinking-log JSON-lines writer.
//
// Grounded in a prior spot bot's encoding/csv reader (here inverted into
// a writer: header-once, append-only, one row per record) and its
// ExitRecord (generalized into TradeRecord, with LotID/EntryOrderID/
// ExitOrderID renamed to the perpetual TradeID/EntryOrderID/ExitOrderID
// fields this domain needs).
package csvlog

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// TradeRecord is one closed-trade row, generalized from
// a prior spot bot's trader.go's ExitRecord to the perpetual domain
// (side/leverage/funding instead of spot lot bookkeeping).
type TradeRecord struct {
	Time            time.Time
	Symbol          string
	Side            string
	EntryPrice      float64
	ExitPrice       float64
	Quantity        float64
	Leverage        float64
	RealizedPnL     float64
	FundingPaid     float64
	Reason          string
	TradeID         string
	EntryOrderID    string
	ExitOrderID     string
}

var tradeHeader = []string{
	"time", "symbol", "side", "entry_price", "exit_price", "quantity",
	"leverage", "realized_pnl", "funding_paid", "reason", "trade_id",
	"entry_order_id", "exit_order_id",
}

// OrderRecord is one order-lifecycle row (placed/filled/cancelled/expired).
type OrderRecord struct {
	Time          time.Time
	Symbol        string
	ClientOrderID string
	OrderType     string
	Side          string
	Quantity      float64
	Price         float64
	Status        string
}

var orderHeader = []string{
	"time", "symbol", "client_order_id", "order_type", "side", "quantity", "price", "status",
}

// Writer manages one append-only CSV file, writing the header once if the
// file is new/empty, mirroring backtest.go's plain encoding/csv usage.
type Writer struct {
	mu     sync.Mutex
	file   *os.File
	csv    *csv.Writer
}

// OpenTradeLog opens (creating if absent) the trade-log CSV at path.
func OpenTradeLog(path string) (*Writer, error) {
	return open(path, tradeHeader)
}

// OpenOrderLog opens (creating if absent) the order-log CSV at path.
func OpenOrderLog(path string) (*Writer, error) {
	return open(path, orderHeader)
}

func open(path string, header []string) (*Writer, error) {
	fi, statErr := os.Stat(path)
	needsHeader := statErr != nil || fi.Size() == 0

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open csv log %s: %w", path, err)
	}
	w := &Writer{file: f, csv: csv.NewWriter(f)}
	if needsHeader {
		if err := w.csv.Write(header); err != nil {
			f.Close()
			return nil, fmt.Errorf("write csv header %s: %w", path, err)
		}
		w.csv.Flush()
	}
	return w, nil
}

// WriteTrade appends one trade row and flushes, so a reader tailing the
// file (e.g. an operator dashboard) always sees complete rows.
func (w *Writer) WriteTrade(r TradeRecord) error {
	row := []string{
		r.Time.UTC().Format(time.RFC3339),
		r.Symbol, r.Side,
		fmt.Sprintf("%g", r.EntryPrice), fmt.Sprintf("%g", r.ExitPrice),
		fmt.Sprintf("%g", r.Quantity), fmt.Sprintf("%g", r.Leverage),
		fmt.Sprintf("%g", r.RealizedPnL), fmt.Sprintf("%g", r.FundingPaid),
		r.Reason, r.TradeID, r.EntryOrderID, r.ExitOrderID,
	}
	return w.writeRow(row)
}

// WriteOrder appends one order-lifecycle row and flushes.
func (w *Writer) WriteOrder(r OrderRecord) error {
	row := []string{
		r.Time.UTC().Format(time.RFC3339),
		r.Symbol, r.ClientOrderID, r.OrderType, r.Side,
		fmt.Sprintf("%g", r.Quantity), fmt.Sprintf("%g", r.Price), r.Status,
	}
	return w.writeRow(row)
}

func (w *Writer) writeRow(row []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.csv.Write(row); err != nil {
		return err
	}
	w.csv.Flush()
	return w.csv.Error()
}

// Close flushes and closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.csv.Flush()
	return w.file.Close()
}

// ThinkingLog is the append-only JSON-lines record of per-cycle scoring/
// regime/selection rationale, one line per cycle —
// distinct from the event ledger, which is a correctness substrate rather
// than an operator-facing explanation trail.
type ThinkingLog struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
}

// OpenThinkingLog opens (creating/appending) the thinking-log file at path.
func OpenThinkingLog(path string) (*ThinkingLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open thinking log %s: %w", path, err)
	}
	return &ThinkingLog{file: f, writer: bufio.NewWriter(f)}, nil
}

// Write appends one JSON-encoded entry as a single line, flushing
// immediately so the file stays tailable in real time.
func (t *ThinkingLog) Write(entry any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal thinking log entry: %w", err)
	}
	if _, err := t.writer.Write(b); err != nil {
		return err
	}
	if err := t.writer.WriteByte('\n'); err != nil {
		return err
	}
	return t.writer.Flush()
}

// Close flushes and closes the underlying file.
func (t *ThinkingLog) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.writer.Flush(); err != nil {
		return err
	}
	return t.file.Close()
}
