package ledger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chidi150c/perpcore/internal/events"
)

func paths(t *testing.T) (string, string) {
	dir := t.TempDir()
	return filepath.Join(dir, "events.log"), filepath.Join(dir, "events.seq")
}

func TestAppend_AssignsGapFreeSequence(t *testing.T) {
	logPath, seqPath := paths(t)
	l, err := Open(logPath, seqPath)
	require.NoError(t, err)
	defer l.Close()

	ev1, err := l.Append(events.OrderPlaced, map[string]any{"a": 1.0}, map[string]any{"source": "test"})
	require.NoError(t, err)
	ev2, err := l.Append(events.OrderFilled, map[string]any{"b": 2.0}, map[string]any{"source": "test"})
	require.NoError(t, err)

	assert.Equal(t, uint64(1), ev1.Sequence)
	assert.Equal(t, uint64(2), ev2.Sequence)
	assert.Equal(t, uint64(2), l.LastSequence())
}

func TestReplay_InvokesHandlerInOrder(t *testing.T) {
	logPath, seqPath := paths(t)
	l, err := Open(logPath, seqPath)
	require.NoError(t, err)

	l.Append(events.OrderPlaced, map[string]any{}, map[string]any{"source": "test"})
	l.Append(events.OrderFilled, map[string]any{}, map[string]any{"source": "test"})
	l.Append(events.PositionClosed, map[string]any{}, map[string]any{"source": "test"})
	require.NoError(t, l.Close())

	l2, err := Open(logPath, seqPath)
	require.NoError(t, err)
	defer l2.Close()

	var kinds []events.Kind
	err = l2.Replay(func(ev events.Event) error {
		kinds = append(kinds, ev.Kind)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []events.Kind{events.OrderPlaced, events.OrderFilled, events.PositionClosed}, kinds)
}

func TestOpen_SurvivesAcrossReopen(t *testing.T) {
	logPath, seqPath := paths(t)
	l, err := Open(logPath, seqPath)
	require.NoError(t, err)
	l.Append(events.OrderPlaced, map[string]any{}, map[string]any{"source": "test"})
	l.Append(events.OrderPlaced, map[string]any{}, map[string]any{"source": "test"})
	require.NoError(t, l.Close())

	l2, err := Open(logPath, seqPath)
	require.NoError(t, err)
	defer l2.Close()
	assert.Equal(t, uint64(2), l2.LastSequence())

	ev3, err := l2.Append(events.OrderPlaced, map[string]any{}, map[string]any{"source": "test"})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), ev3.Sequence)
}

func TestOpen_TruncatesTornTailRecord(t *testing.T) {
	logPath, seqPath := paths(t)
	l, err := Open(logPath, seqPath)
	require.NoError(t, err)
	l.Append(events.OrderPlaced, map[string]any{}, map[string]any{"source": "test"})
	l.Append(events.OrderFilled, map[string]any{}, map[string]any{"source": "test"})
	require.NoError(t, l.Close())

	// Simulate a crash mid-write: append a partial, unterminated JSON line.
	f, err := os.OpenFile(logPath, os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"event_id":"broken","kind":"OrderPlaced","sequ`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	l2, err := Open(logPath, seqPath)
	require.NoError(t, err)
	defer l2.Close()

	assert.Equal(t, uint64(2), l2.LastSequence())

	var count int
	err = l2.Replay(func(ev events.Event) error {
		count++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestReplay_OnEmptyLedgerIsNoop(t *testing.T) {
	logPath, seqPath := paths(t)
	l, err := Open(logPath, seqPath)
	require.NoError(t, err)
	defer l.Close()

	var count int
	err = l.Replay(func(ev events.Event) error {
		count++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
