package journal_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Attestor-Labs/attestor/pkg/events"
	"github.com/Attestor-Labs/attestor/pkg/journal"
)

func openStore(t *testing.T) *journal.Store {
	t.Helper()
	s, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAppendAndReadBack(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, "run-1", 1, "Orchestrator.Start", "trace-1", "init", "info", 100.5, map[string]any{"domain": "demo"}))
	require.NoError(t, s.Append(ctx, "run-1", 2, "AE.Step", "trace-1", "AE", "info", 101.0, nil))
	require.NoError(t, s.Append(ctx, "run-2", 1, "Orchestrator.Start", "trace-2", "init", "info", 200.0, nil))

	rows, err := s.EventsForRun(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, uint64(1), rows[0].Seq)
	assert.Equal(t, "Orchestrator.Start", rows[0].Type)
	assert.Equal(t, map[string]any{"domain": "demo"}, rows[0].Payload)
	assert.Equal(t, "AE", rows[1].Phase)

	n, err := s.CountForRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.CountForRun(ctx, "run-absent")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestDuplicateSeqIsRejected(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, "run-1", 7, "a", "", "", "info", 1, nil))
	err := s.Append(ctx, "run-1", 7, "a", "", "", "info", 1, nil)
	assert.Error(t, err, "(run_id, seq) is a primary key")

	// The same seq under a different run is fine.
	assert.NoError(t, s.Append(ctx, "run-2", 7, "a", "", "", "info", 1, nil))
}

func TestSinkPersistsBusEvents(t *testing.T) {
	s := openStore(t)

	bus, err := events.NewBus(events.BusConfig{BufferSize: 16})
	require.NoError(t, err)
	bus.AttachSink(journal.NewSink(s))
	bus.Start()

	for i := 0; i < 3; i++ {
		require.NoError(t, bus.Publish(events.Event{
			Type:  "CEGIS.Iter.Start",
			RunID: "run-sink",
			Phase: "CEGIS",
			Level: events.LevelInfo,
			Payload: map[string]any{
				"iteration": float64(i + 1),
			},
		}))
	}
	require.NoError(t, bus.Flush())
	require.NoError(t, bus.Stop())

	rows, err := s.EventsForRun(context.Background(), "run-sink")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	for i, row := range rows {
		assert.Equal(t, uint64(i+1), row.Seq)
		assert.Equal(t, map[string]any{"iteration": float64(i + 1)}, row.Payload)
	}
}

func TestSinkReportsWriteFailure(t *testing.T) {
	s := openStore(t)
	sink := journal.NewSink(s)

	ev := events.Event{Type: "a", RunID: "run-x", Seq: 1, Timestamp: 1}
	require.NoError(t, sink.Write(ev, nil))

	err := sink.Write(ev, nil)
	require.Error(t, err)
	var swe *events.SinkWriteError
	require.ErrorAs(t, err, &swe)
	assert.Equal(t, "journal", swe.Sink)

	stats := sink.Stats()
	assert.Equal(t, uint64(1), stats.Written)
	assert.Equal(t, uint64(1), stats.Dropped)
}
