package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nicktill/wavetrend/pkg/record"
	"github.com/nicktill/wavetrend/pkg/source"
	"github.com/nicktill/wavetrend/pkg/source/sourcetest"
	"github.com/nicktill/wavetrend/pkg/synth"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(context.Background(), Config{Path: filepath.Join(t.TempDir(), "records.db")})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore(t *testing.T) {
	sourcetest.Run(t, func(t *testing.T) source.Store {
		return newTestStore(t)
	})
}

func TestSQLiteStore_NullCalibrationColumns(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := synth.Generate(synth.Defaults(1))[0]
	row := record.ToRow(rec)
	_, err := store.DB().ExecContext(ctx,
		"INSERT INTO records (source_id, timestamp, mask, npoints, points) VALUES (?, ?, ?, ?, ?)",
		"legacy", row[record.ColTimestamp], row[record.ColMask], row[record.ColSampleCount], row[record.ColPoints])
	require.NoError(t, err)

	cal, err := store.Calibration(ctx, "legacy")
	require.NoError(t, err)
	require.Error(t, cal.Validate())

	got, err := store.FetchByTimestamp(ctx, "legacy", rec.Timestamp)
	require.NoError(t, err)
	require.Equal(t, rec.Block, got.Block)
	require.Zero(t, got.Calibration.VoltageDivider)
}

func TestSQLiteStore_BadRowIsSourceError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.DB().ExecContext(ctx,
		"INSERT INTO records (source_id, timestamp, mask, npoints, points) VALUES ('bad', 1, '1x1', 1, 'AAAA')")
	require.NoError(t, err)

	_, err = store.FetchChunk(ctx, "bad", 0, 10)
	var se *source.Error
	require.ErrorAs(t, err, &se)

	var fe *record.FieldError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, record.ColMask, fe.Field)
}

func TestSQLiteStore_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.db")
	ctx := context.Background()

	store, err := New(ctx, Config{Path: path})
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "a", synth.Generate(synth.Defaults(12))))
	require.NoError(t, store.Close())

	store, err = New(ctx, Config{Path: path})
	require.NoError(t, err)
	defer store.Close()

	n, err := store.Count(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, 12, n)
}
