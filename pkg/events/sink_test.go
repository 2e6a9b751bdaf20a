package events_test

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Attestor-Labs/attestor/pkg/events"
)

func TestRotatingSinkRollsPastThreshold(t *testing.T) {
	base := filepath.Join(t.TempDir(), "journal.jsonl")
	bus, err := events.NewBus(events.BusConfig{
		BufferSize:   64,
		Sinks:        []events.SinkKind{events.SinkRotatingFile},
		FilePath:     base,
		MaxFileBytes: 200,
	})
	require.NoError(t, err)

	bus.Start()
	for i := 1; i <= 10; i++ {
		require.NoError(t, bus.Publish(events.Event{
			Type:  fmt.Sprintf("e%d", i),
			RunID: "run-rotate",
			Level: events.LevelInfo,
		}))
	}
	require.NoError(t, bus.Flush())
	require.NoError(t, bus.Stop())

	// The first segment is the base path; later ones are numbered siblings.
	segments := []string{base}
	for i := 1; ; i++ {
		next := fmt.Sprintf("%s.%d", base, i)
		if _, err := os.Stat(next); err != nil {
			break
		}
		segments = append(segments, next)
	}
	require.Greater(t, len(segments), 1, "writes past the byte threshold open a new segment")

	var all []events.Event
	for _, seg := range segments {
		info, err := os.Stat(seg)
		require.NoError(t, err)
		assert.Positive(t, info.Size(), seg)

		evs, err := events.ReadJournal(seg)
		require.NoError(t, err)
		all = append(all, evs...)
	}

	require.Len(t, all, 10, "rotation loses no events")
	for i, ev := range all {
		assert.Equal(t, uint64(i+1), ev.Seq, "segment order preserves admission order")
	}
	assert.Equal(t, uint64(10), bus.Stats().Delivered[string(events.SinkRotatingFile)])
}
