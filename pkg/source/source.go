package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/nicktill/wavetrend/pkg/record"
	"github.com/nicktill/wavetrend/pkg/waveform"
)

var (
	// ErrNotFound is returned for an unknown source or timestamp
	ErrNotFound = errors.New("not found")

	// ErrCountUnknown is returned by Count when the backend cannot size a source cheaply
	ErrCountUnknown = errors.New("record count unknown")
)

// Source is an ordered, read-only store of logger records.
// Implementations: memory (testing), sqlite (logger tables), badger (embedded)
type Source interface {
	// ListSources returns every source with its record range
	ListSources(ctx context.Context) ([]Info, error)

	// Count returns the number of records of a source, or ErrCountUnknown
	Count(ctx context.Context, sourceID string) (int, error)

	// Calibration returns the source-level calibration (latest record wins)
	Calibration(ctx context.Context, sourceID string) (waveform.Calibration, error)

	// FetchChunk returns up to limit records starting at offset, ascending by timestamp
	FetchChunk(ctx context.Context, sourceID string, offset, limit int) ([]record.Record, error)

	// FetchByTimestamp returns one record or ErrNotFound
	FetchByTimestamp(ctx context.Context, sourceID string, ts int64) (record.Record, error)

	// ListTimestamps returns timestamps in [from, to], ascending. to <= 0 means no upper bound.
	ListTimestamps(ctx context.Context, sourceID string, from, to int64) ([]int64, error)

	// Close releases the backend
	Close() error
}

// Writer stores records. Records with an existing timestamp replace the stored one.
type Writer interface {
	Put(ctx context.Context, sourceID string, records []record.Record) error
}

// Store is a Source that can also be written to.
type Store interface {
	Source
	Writer
}

// Info describes one source
type Info struct {
	ID     string `json:"id"`
	Count  int    `json:"count"`
	Oldest int64  `json:"oldest"`
	Newest int64  `json:"newest"`
}

// Error is a failure talking to a source. It is fatal to a pipeline run.
type Error struct {
	Op       string
	SourceID string
	Err      error
}

func (e *Error) Error() string {
	if e.SourceID == "" {
		return fmt.Sprintf("source %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("source %s %q: %v", e.Op, e.SourceID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap returns err as a *Error unless it is nil or already one.
func Wrap(op, sourceID string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Op: op, SourceID: sourceID, Err: err}
}

// FilterRange returns the timestamps of ts within [from, to]; to <= 0 is open.
func FilterRange(ts []int64, from, to int64) []int64 {
	out := make([]int64, 0, len(ts))
	for _, t := range ts {
		if t < from {
			continue
		}
		if to > 0 && t > to {
			break
		}
		out = append(out, t)
	}
	return out
}
