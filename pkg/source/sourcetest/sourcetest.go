// Package sourcetest is a behaviour suite shared by every source.Store backend.
package sourcetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nicktill/wavetrend/pkg/record"
	"github.com/nicktill/wavetrend/pkg/source"
	"github.com/nicktill/wavetrend/pkg/synth"
	"github.com/nicktill/wavetrend/pkg/waveform"
)

// Run exercises a fresh store returned by newStore.
func Run(t *testing.T, newStore func(t *testing.T) source.Store) {
	t.Run("ChunksInOrder", func(t *testing.T) { testChunks(t, newStore(t)) })
	t.Run("ListSources", func(t *testing.T) { testListSources(t, newStore(t)) })
	t.Run("FetchByTimestamp", func(t *testing.T) { testFetchByTimestamp(t, newStore(t)) })
	t.Run("ListTimestamps", func(t *testing.T) { testListTimestamps(t, newStore(t)) })
	t.Run("LatestCalibration", func(t *testing.T) { testCalibration(t, newStore(t)) })
	t.Run("PutReplaces", func(t *testing.T) { testPutReplaces(t, newStore(t)) })
	t.Run("UnknownSource", func(t *testing.T) { testUnknownSource(t, newStore(t)) })
}

func seed(t *testing.T, store source.Store, id string, n int) []record.Record {
	t.Helper()
	opts := synth.Defaults(n)
	opts.Samples = 8
	recs := synth.Generate(opts)
	require.NoError(t, store.Put(context.Background(), id, recs))
	return recs
}

func testChunks(t *testing.T, store source.Store) {
	ctx := context.Background()
	want := seed(t, store, "logger-a", 250)

	n, err := store.Count(ctx, "logger-a")
	require.NoError(t, err)
	require.Equal(t, 250, n)

	var got []record.Record
	for _, size := range []int{100, 100, 50} {
		chunk, err := store.FetchChunk(ctx, "logger-a", len(got), 100)
		require.NoError(t, err)
		require.Len(t, chunk, size)
		got = append(got, chunk...)
	}
	require.Equal(t, want, got)

	tail, err := store.FetchChunk(ctx, "logger-a", 250, 100)
	require.NoError(t, err)
	require.Empty(t, tail)
}

func testListSources(t *testing.T, store source.Store) {
	a := seed(t, store, "logger-a", 5)
	seed(t, store, "logger-b", 2)

	infos, err := store.ListSources(context.Background())
	require.NoError(t, err)
	require.Len(t, infos, 2)
	require.Equal(t, source.Info{ID: "logger-a", Count: 5, Oldest: a[0].Timestamp, Newest: a[4].Timestamp}, infos[0])
	require.Equal(t, "logger-b", infos[1].ID)
	require.Equal(t, 2, infos[1].Count)
}

func testFetchByTimestamp(t *testing.T, store source.Store) {
	ctx := context.Background()
	recs := seed(t, store, "logger-a", 10)

	got, err := store.FetchByTimestamp(ctx, "logger-a", recs[7].Timestamp)
	require.NoError(t, err)
	require.Equal(t, recs[7], got)

	_, err = store.FetchByTimestamp(ctx, "logger-a", recs[7].Timestamp+1)
	require.ErrorIs(t, err, source.ErrNotFound)
}

func testListTimestamps(t *testing.T, store source.Store) {
	ctx := context.Background()
	recs := seed(t, store, "logger-a", 10)

	all, err := store.ListTimestamps(ctx, "logger-a", 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 10)
	require.Equal(t, recs[0].Timestamp, all[0])

	some, err := store.ListTimestamps(ctx, "logger-a", recs[2].Timestamp, recs[4].Timestamp)
	require.NoError(t, err)
	require.Equal(t, []int64{recs[2].Timestamp, recs[3].Timestamp, recs[4].Timestamp}, some)
}

func testCalibration(t *testing.T, store source.Store) {
	ctx := context.Background()
	recs := seed(t, store, "logger-a", 3)

	newest := recs[2]
	newest.Calibration = waveform.Calibration{VoltageMultiplier: 7, VoltageDivider: 3, CurrentMultiplier: 5, CurrentDivider: 2}
	require.NoError(t, store.Put(ctx, "logger-a", []record.Record{newest}))

	cal, err := store.Calibration(ctx, "logger-a")
	require.NoError(t, err)
	require.Equal(t, newest.Calibration, cal)
}

func testPutReplaces(t *testing.T, store source.Store) {
	ctx := context.Background()
	recs := seed(t, store, "logger-a", 4)

	changed := recs[1]
	changed.SampleCount = 0
	require.NoError(t, store.Put(ctx, "logger-a", []record.Record{changed}))

	n, err := store.Count(ctx, "logger-a")
	require.NoError(t, err)
	require.Equal(t, 4, n)

	got, err := store.FetchByTimestamp(ctx, "logger-a", changed.Timestamp)
	require.NoError(t, err)
	require.Equal(t, 0, got.SampleCount)
}

func testUnknownSource(t *testing.T, store source.Store) {
	ctx := context.Background()

	_, err := store.Count(ctx, "nope")
	require.ErrorIs(t, err, source.ErrNotFound)

	var se *source.Error
	require.ErrorAs(t, err, &se)
	require.Equal(t, "nope", se.SourceID)

	_, err = store.FetchByTimestamp(ctx, "nope", 1)
	require.ErrorIs(t, err, source.ErrNotFound)
}
