package badger

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nicktill/wavetrend/pkg/source"
	"github.com/nicktill/wavetrend/pkg/source/sourcetest"
	"github.com/nicktill/wavetrend/pkg/synth"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestBadgerStore(t *testing.T) {
	sourcetest.Run(t, func(t *testing.T) source.Store {
		return newTestStore(t)
	})
}

func TestBadgerStore_Persistence(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	recs := synth.Generate(synth.Defaults(20))

	store, err := New(Config{Path: dir})
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "logger-a", recs))
	require.NoError(t, store.Close())

	store, err = New(Config{Path: dir})
	require.NoError(t, err)
	defer store.Close()

	n, err := store.Count(ctx, "logger-a")
	require.NoError(t, err)
	require.Equal(t, 20, n)

	got, err := store.FetchByTimestamp(ctx, "logger-a", recs[19].Timestamp)
	require.NoError(t, err)
	require.Equal(t, recs[19], got)
}

func TestRecordKey_Ordering(t *testing.T) {
	tests := []struct {
		name string
		a, b int64
	}{
		{name: "positive", a: 1, b: 2},
		{name: "negative before positive", a: -5, b: 3},
		{name: "large", a: 1_720_000_000_000, b: 1_720_000_060_000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ka := recordKey("src", tt.a)
			kb := recordKey("src", tt.b)
			require.Negative(t, bytes.Compare(ka, kb))
			require.Equal(t, tt.a, parseTimestamp(ka))
		})
	}
}

func TestSourcesAreIsolated(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "a", synth.Generate(synth.Defaults(3))))
	require.NoError(t, store.Put(ctx, "b", synth.Generate(synth.Defaults(7))))

	chunk, err := store.FetchChunk(ctx, "a", 0, 100)
	require.NoError(t, err)
	require.Len(t, chunk, 3)
}
