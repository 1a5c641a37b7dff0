// Package sqlite reads logger records from a SQLite database laid out the way
// the field loggers write them: one row per record, base64 points and the
// calibration factors alongside.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"
	"time"

	"github.com/NotCoffee418/dbmigrator"
	"github.com/cenkalti/backoff/v4"

	"github.com/nicktill/wavetrend/pkg/record"
	"github.com/nicktill/wavetrend/pkg/source"
	"github.com/nicktill/wavetrend/pkg/waveform"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Config holds SQLite configuration
type Config struct {
	// Path to the database file
	Path string

	// BusyTimeout is how long a reader waits on a locked database
	BusyTimeout time.Duration

	// OpenRetries bounds the connection attempts at startup (0 = 5)
	OpenRetries uint64
}

// Store implements source.Store on a SQLite database
type Store struct {
	db *sql.DB
}

// New opens the database, retrying with exponential backoff while the file
// is locked or not yet present, and applies pending migrations.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if cfg.OpenRetries == 0 {
		cfg.OpenRetries = 5
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)",
		cfg.Path, cfg.BusyTimeout.Milliseconds())

	var db *sql.DB
	open := func() error {
		var err error
		db, err = sql.Open("sqlite", dsn)
		if err != nil {
			return backoff.Permanent(err)
		}
		if err = db.PingContext(ctx); err != nil {
			db.Close()
			return err
		}
		return nil
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), cfg.OpenRetries), ctx)
	if err := backoff.Retry(open, policy); err != nil {
		return nil, fmt.Errorf("failed to open sqlite %s: %w", cfg.Path, err)
	}

	dbmigrator.SetDatabaseType(dbmigrator.SQLite)
	<-dbmigrator.MigrateUpCh(db, migrationFS, "migrations")

	return &Store{db: db}, nil
}

// DB exposes the handle for tools that write logger tables directly
func (s *Store) DB() *sql.DB {
	return s.db
}

// Put upserts records in one transaction
func (s *Store) Put(ctx context.Context, sourceID string, records []record.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return source.Wrap("put", sourceID, err)
	}
	defer tx.Rollback()

	cols := strings.Join(record.Columns, ", ")
	stmt, err := tx.PrepareContext(ctx,
		"INSERT OR REPLACE INTO records (source_id, "+cols+") "+
			"VALUES (?"+strings.Repeat(", ?", len(record.Columns))+")")
	if err != nil {
		return source.Wrap("put", sourceID, err)
	}
	defer stmt.Close()

	for _, r := range records {
		row := record.ToRow(r)
		args := make([]any, 0, len(record.Columns)+1)
		args = append(args, sourceID)
		for _, c := range record.Columns {
			args = append(args, row[c])
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return source.Wrap("put", sourceID, fmt.Errorf("record %d: %w", r.Timestamp, err))
		}
	}
	return source.Wrap("put", sourceID, tx.Commit())
}

// ListSources groups records by source
func (s *Store) ListSources(ctx context.Context) ([]source.Info, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT source_id, COUNT(*), MIN(timestamp), MAX(timestamp) "+
			"FROM records GROUP BY source_id ORDER BY source_id")
	if err != nil {
		return nil, source.Wrap("list", "", err)
	}
	defer rows.Close()

	infos := []source.Info{}
	for rows.Next() {
		var info source.Info
		if err := rows.Scan(&info.ID, &info.Count, &info.Oldest, &info.Newest); err != nil {
			return nil, source.Wrap("list", "", err)
		}
		infos = append(infos, info)
	}
	return infos, source.Wrap("list", "", rows.Err())
}

// Count returns ErrNotFound for a source with no rows
func (s *Store) Count(ctx context.Context, sourceID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM records WHERE source_id = ?", sourceID).Scan(&n)
	if err != nil {
		return 0, source.Wrap("count", sourceID, err)
	}
	if n == 0 {
		return 0, &source.Error{Op: "count", SourceID: sourceID, Err: source.ErrNotFound}
	}
	return n, nil
}

// Calibration reads the factors of the newest record
func (s *Store) Calibration(ctx context.Context, sourceID string) (waveform.Calibration, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT cfg_voltage_multiplier, cfg_voltage_divider, cfg_current_multiplier, cfg_current_divider "+
			"FROM records WHERE source_id = ? ORDER BY timestamp DESC LIMIT 1", sourceID)
	if err != nil {
		return waveform.Calibration{}, source.Wrap("calibration", sourceID, err)
	}
	rs, err := scanRows(rows)
	if err != nil {
		return waveform.Calibration{}, source.Wrap("calibration", sourceID, err)
	}
	if len(rs) == 0 {
		return waveform.Calibration{}, &source.Error{Op: "calibration", SourceID: sourceID, Err: source.ErrNotFound}
	}
	cal, err := record.CalibrationFromRow(rs[0])
	return cal, source.Wrap("calibration", sourceID, err)
}

// FetchChunk is ORDER BY timestamp LIMIT/OFFSET
func (s *Store) FetchChunk(ctx context.Context, sourceID string, offset, limit int) ([]record.Record, error) {
	return s.query(ctx, "fetch chunk", sourceID,
		"WHERE source_id = ? ORDER BY timestamp LIMIT ? OFFSET ?", sourceID, limit, offset)
}

// FetchByTimestamp is a primary key lookup
func (s *Store) FetchByTimestamp(ctx context.Context, sourceID string, ts int64) (record.Record, error) {
	recs, err := s.query(ctx, "fetch", sourceID, "WHERE source_id = ? AND timestamp = ?", sourceID, ts)
	if err != nil {
		return record.Record{}, err
	}
	if len(recs) == 0 {
		return record.Record{}, &source.Error{Op: "fetch", SourceID: sourceID, Err: source.ErrNotFound}
	}
	return recs[0], nil
}

// ListTimestamps returns timestamps within [from, to]
func (s *Store) ListTimestamps(ctx context.Context, sourceID string, from, to int64) ([]int64, error) {
	q := "SELECT timestamp FROM records WHERE source_id = ? AND timestamp >= ?"
	args := []any{sourceID, from}
	if to > 0 {
		q += " AND timestamp <= ?"
		args = append(args, to)
	}
	rows, err := s.db.QueryContext(ctx, q+" ORDER BY timestamp", args...)
	if err != nil {
		return nil, source.Wrap("list timestamps", sourceID, err)
	}
	defer rows.Close()

	out := []int64{}
	for rows.Next() {
		var ts int64
		if err := rows.Scan(&ts); err != nil {
			return nil, source.Wrap("list timestamps", sourceID, err)
		}
		out = append(out, ts)
	}
	return out, source.Wrap("list timestamps", sourceID, rows.Err())
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) query(ctx context.Context, op, sourceID, where string, args ...any) ([]record.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+strings.Join(record.Columns, ", ")+" FROM records "+where, args...)
	if err != nil {
		return nil, source.Wrap(op, sourceID, err)
	}
	rs, err := scanRows(rows)
	if err != nil {
		return nil, source.Wrap(op, sourceID, err)
	}

	out := make([]record.Record, 0, len(rs))
	for _, row := range rs {
		rec, err := record.FromRow(row)
		if err != nil {
			return nil, source.Wrap(op, sourceID, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// scanRows reads every row into a column-name keyed map and closes rows.
func scanRows(rows *sql.Rows) ([]record.Row, error) {
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []record.Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(record.Row, len(cols))
		for i, c := range cols {
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
