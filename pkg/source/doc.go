/*
Package source defines the record source the trend pipeline reads from.

A source is a named, ordered collection of logger records keyed by an
ascending millisecond timestamp. The pipeline only ever asks for a count, the
source calibration and fixed-size chunks by offset, so any store that can
answer those can drive a trend run.

# Backends

  - memory: sorted slices, used by tests and the synth command
  - sqlite: one records table in the column layout the field loggers write
  - badger: embedded LSM store, keys are [xxhash(source)][timestamp]

All backends implement Store:

	type Store interface {
	    ListSources(ctx context.Context) ([]Info, error)
	    Count(ctx context.Context, sourceID string) (int, error)
	    Calibration(ctx context.Context, sourceID string) (waveform.Calibration, error)
	    FetchChunk(ctx context.Context, sourceID string, offset, limit int) ([]record.Record, error)
	    FetchByTimestamp(ctx context.Context, sourceID string, ts int64) (record.Record, error)
	    ListTimestamps(ctx context.Context, sourceID string, from, to int64) ([]int64, error)
	    Put(ctx context.Context, sourceID string, records []record.Record) error
	    Close() error
	}

# Errors

Backend failures and rows that cannot be converted to a record.Record are
returned as *Error. A pipeline run treats them as fatal. Missing sources and
timestamps are reported with ErrNotFound, which callers check with errors.Is.

# Usage Example

	store, err := badger.New(badger.Config{Path: "./data"})
	if err != nil {
	    log.Fatal(err)
	}
	defer store.Close()

	n, _ := store.Count(ctx, "logger-07")
	for off := 0; off < n; off += 100 {
	    recs, err := store.FetchChunk(ctx, "logger-07", off, 100)
	    ...
	}
*/
package source
