// Package ledger implements an append-only durable event log: one
// self-describing JSON record per line, a sibling sequence counter file,
// and torn-last-record truncation on startup.
//
// The gap-detection-on-replay and scan-to-last-valid-record discipline are
// grounded in an order-matching engine's EventLog.recover/Replay pattern
// (that log uses gob + CRC32; this one uses a JSON-line format instead).
// The atomic write-tmp-then-rename style for the sibling sequence file is
// grounded in a prior spot bot's saveStateFrom (os.WriteFile to a .tmp
// path, then os.Rename).
package ledger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chidi150c/perpcore/internal/events"
)

// Ledger is the durable, append-only event log backing the EventBus.
type Ledger struct {
	mu           sync.Mutex
	path         string
	seqPath      string
	file         *os.File
	writer       *bufio.Writer
	lastSequence uint64
}

// Open opens (or creates) the ledger at path, with its sequence counter at
// a sibling file seqPath. On open, a torn final record (incomplete JSON
// line — e.g. a crash mid-write) is truncated, and the sequence counter is
// reconciled to the last intact record's sequence.
func Open(path, seqPath string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("ledger: create dir: %w", err)
	}

	lastSeq, err := recoverTornTail(path)
	if err != nil {
		return nil, fmt.Errorf("ledger: recover: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("ledger: open: %w", err)
	}

	l := &Ledger{
		path:         path,
		seqPath:      seqPath,
		file:         f,
		writer:       bufio.NewWriter(f),
		lastSequence: lastSeq,
	}
	if err := l.writeSequenceFile(); err != nil {
		f.Close()
		return nil, err
	}
	return l, nil
}

// recoverTornTail scans path line by line. Any line that fails to parse as
// a well-formed Event record is treated as a torn write: the file is
// truncated to the byte offset just before that line, and scanning stops.
// Returns the highest sequence number found among intact records.
func recoverTornTail(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	defer f.Close()

	var lastSeq uint64
	var offset int64
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	torn := false
	for scanner.Scan() {
		line := scanner.Bytes()
		lineLen := int64(len(line)) + 1 // + newline
		var ev events.Event
		if err := json.Unmarshal(line, &ev); err != nil || ev.Kind == "" {
			torn = true
			break
		}
		if lastSeq != 0 && ev.Sequence != lastSeq+1 {
			return 0, fmt.Errorf("sequence gap detected: expected %d, got %d", lastSeq+1, ev.Sequence)
		}
		lastSeq = ev.Sequence
		offset += lineLen
	}
	if err := scanner.Err(); err != nil {
		torn = true
	}
	if torn {
		fw, err := os.OpenFile(path, os.O_WRONLY, 0644)
		if err != nil {
			return 0, err
		}
		defer fw.Close()
		if err := fw.Truncate(offset); err != nil {
			return 0, err
		}
	}
	return lastSeq, nil
}

func (l *Ledger) writeSequenceFile() error {
	tmp := l.seqPath + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.FormatUint(l.lastSequence+1, 10)), 0644); err != nil {
		return err
	}
	return os.Rename(tmp, l.seqPath)
}

// Append assigns the next gap-free sequence number to kind/payload/metadata,
// durably writes it, and returns the finalized Event. Metadata must already
// carry a "source" tag (events.WithSource).
func (l *Ledger) Append(kind events.Kind, payload, metadata map[string]any) (events.Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.lastSequence++
	ev := events.Event{
		EventID:   uuid.NewString(),
		Kind:      kind,
		Sequence:  l.lastSequence,
		Payload:   payload,
		Metadata:  metadata,
		Timestamp: time.Now().UTC(),
	}

	line, err := json.Marshal(ev)
	if err != nil {
		l.lastSequence--
		return events.Event{}, fmt.Errorf("ledger: marshal: %w", err)
	}
	if _, err := l.writer.Write(line); err != nil {
		l.lastSequence--
		return events.Event{}, fmt.Errorf("ledger: write: %w", err)
	}
	if _, err := l.writer.WriteString("\n"); err != nil {
		l.lastSequence--
		return events.Event{}, fmt.Errorf("ledger: write newline: %w", err)
	}
	if err := l.writer.Flush(); err != nil {
		l.lastSequence--
		return events.Event{}, fmt.Errorf("ledger: flush: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		l.lastSequence--
		return events.Event{}, fmt.Errorf("ledger: fsync: %w", err)
	}
	if err := l.writeSequenceFile(); err != nil {
		return events.Event{}, fmt.Errorf("ledger: sequence file: %w", err)
	}
	return ev, nil
}

// Replay reads every intact record in order and invokes handler for each.
// Unknown kinds are not special-cased here (the state reducer is
// responsible for skip-on-unknown); Replay itself only
// validates structural integrity (JSON parse + gap-free sequencing).
func (l *Ledger) Replay(handler func(events.Event) error) error {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var lastSeq uint64
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var ev events.Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			return fmt.Errorf("ledger: corrupt record: %w", err)
		}
		if lastSeq != 0 && ev.Sequence != lastSeq+1 {
			return fmt.Errorf("ledger: sequence gap: expected %d got %d", lastSeq+1, ev.Sequence)
		}
		lastSeq = ev.Sequence
		if err := handler(ev); err != nil {
			return fmt.Errorf("ledger: handler at sequence %d: %w", ev.Sequence, err)
		}
	}
	return scanner.Err()
}

// LastSequence returns the highest sequence number appended so far.
func (l *Ledger) LastSequence() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastSequence
}

// Close flushes and closes the underlying file.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.writer.Flush(); err != nil {
		return err
	}
	return l.file.Close()
}
