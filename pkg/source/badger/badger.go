package badger

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/nicktill/wavetrend/pkg/record"
	"github.com/nicktill/wavetrend/pkg/source"
	"github.com/nicktill/wavetrend/pkg/waveform"
)

// Key prefixes. Record keys are [prefixRecord][source hash (8)][timestamp (8)],
// registry keys are [prefixSource][source id].
const (
	prefixRecord byte = 'r'
	prefixSource byte = 's'
)

// Store implements source.Store using BadgerDB (LSM tree)
type Store struct {
	db *badger.DB
}

// Config holds BadgerDB configuration
type Config struct {
	// Path to store database files
	Path string

	// InMemory mode (for testing)
	InMemory bool

	// MaxMemoryMB limits BadgerDB memory usage in MB (0 = laptop-friendly default)
	MaxMemoryMB int64
}

// New opens a BadgerDB record store
func New(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path).WithLogger(nil)

	if cfg.InMemory {
		opts = opts.WithInMemory(true).WithDir("").WithValueDir("")
	}

	// Records are written once and read in long sequential scans, so a small
	// memtable is enough. 16 MB is the floor below which flushes dominate.
	memTableSize := int64(16 << 20)
	if cfg.MaxMemoryMB > 0 {
		memTableSize = cfg.MaxMemoryMB << 20 / 3
	}

	opts = opts.
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(memTableSize).
		WithNumMemtables(3).
		WithBlockCacheSize(memTableSize / 2).
		WithIndexCacheSize(memTableSize / 4).
		WithMaxLevels(4).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithNumCompactors(2).
		// encoded blocks are a few KB; keep them out of the LSM
		WithValueThreshold(1024).
		WithValueLogFileSize(64 << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	return &Store{db: db}, nil
}

// Put stores records, replacing any with the same timestamp
func (s *Store) Put(ctx context.Context, sourceID string, records []record.Record) error {
	return s.run(ctx, "put", sourceID, func() error {
		wb := s.db.NewWriteBatch()
		defer wb.Cancel()

		if err := wb.Set(sourceKey(sourceID), []byte(sourceID)); err != nil {
			return err
		}
		for i, r := range records {
			if i%100 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			val, err := json.Marshal(r)
			if err != nil {
				return fmt.Errorf("failed to encode record %d: %w", r.Timestamp, err)
			}
			if err := wb.Set(recordKey(sourceID, r.Timestamp), val); err != nil {
				return fmt.Errorf("failed to write record %d: %w", r.Timestamp, err)
			}
		}
		return wb.Flush()
	})
}

// ListSources scans the registry and sizes each source
func (s *Store) ListSources(ctx context.Context) ([]source.Info, error) {
	infos := []source.Info{}
	err := s.run(ctx, "list", "", func() error {
		return s.db.View(func(txn *badger.Txn) error {
			var ids []string
			opts := badger.DefaultIteratorOptions
			opts.Prefix = []byte{prefixSource}
			it := txn.NewIterator(opts)
			for it.Rewind(); it.Valid(); it.Next() {
				ids = append(ids, string(it.Item().Key()[1:]))
			}
			it.Close()

			sort.Strings(ids)
			for _, id := range ids {
				info := source.Info{ID: id}
				scanKeys(txn, id, func(ts int64) bool {
					if info.Count == 0 {
						info.Oldest = ts
					}
					info.Newest = ts
					info.Count++
					return true
				})
				infos = append(infos, info)
			}
			return nil
		})
	})
	return infos, err
}

// Count walks the source's keys without loading values
func (s *Store) Count(ctx context.Context, sourceID string) (int, error) {
	var n int
	err := s.run(ctx, "count", sourceID, func() error {
		return s.db.View(func(txn *badger.Txn) error {
			if err := checkSource(txn, sourceID); err != nil {
				return err
			}
			var iterCount int
			var cancelled error
			scanKeys(txn, sourceID, func(int64) bool {
				iterCount++
				if iterCount%1000 == 0 {
					if cancelled = ctx.Err(); cancelled != nil {
						return false
					}
				}
				n++
				return true
			})
			return cancelled
		})
	})
	return n, err
}

// Calibration reads the newest record of the source with a reverse iterator
func (s *Store) Calibration(ctx context.Context, sourceID string) (waveform.Calibration, error) {
	var cal waveform.Calibration
	err := s.run(ctx, "calibration", sourceID, func() error {
		return s.db.View(func(txn *badger.Txn) error {
			if err := checkSource(txn, sourceID); err != nil {
				return err
			}
			opts := badger.DefaultIteratorOptions
			opts.Reverse = true
			opts.PrefetchSize = 1
			opts.Prefix = seriesPrefix(sourceID)
			it := txn.NewIterator(opts)
			defer it.Close()

			seekTo := append(seriesPrefix(sourceID), bytes.Repeat([]byte{0xFF}, 8)...)
			it.Seek(seekTo)
			if !it.Valid() {
				return source.ErrNotFound
			}
			rec, err := decodeItem(it.Item())
			if err != nil {
				return err
			}
			cal = rec.Calibration
			return nil
		})
	})
	return cal, err
}

// FetchChunk skips offset keys and decodes the next limit values
func (s *Store) FetchChunk(ctx context.Context, sourceID string, offset, limit int) ([]record.Record, error) {
	var out []record.Record
	err := s.run(ctx, "fetch chunk", sourceID, func() error {
		return s.db.View(func(txn *badger.Txn) error {
			if err := checkSource(txn, sourceID); err != nil {
				return err
			}
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false
			opts.Prefix = seriesPrefix(sourceID)
			it := txn.NewIterator(opts)
			defer it.Close()

			i := 0
			for it.Rewind(); it.Valid() && len(out) < limit; it.Next() {
				if i < offset {
					i++
					continue
				}
				rec, err := decodeItem(it.Item())
				if err != nil {
					return err
				}
				out = append(out, rec)
			}
			return nil
		})
	})
	return out, err
}

// FetchByTimestamp is a point lookup
func (s *Store) FetchByTimestamp(ctx context.Context, sourceID string, ts int64) (record.Record, error) {
	var rec record.Record
	err := s.run(ctx, "fetch", sourceID, func() error {
		return s.db.View(func(txn *badger.Txn) error {
			item, err := txn.Get(recordKey(sourceID, ts))
			if errors.Is(err, badger.ErrKeyNotFound) {
				return source.ErrNotFound
			}
			if err != nil {
				return err
			}
			rec, err = decodeItem(item)
			return err
		})
	})
	return rec, err
}

// ListTimestamps seeks to from and walks keys until to
func (s *Store) ListTimestamps(ctx context.Context, sourceID string, from, to int64) ([]int64, error) {
	var out []int64
	err := s.run(ctx, "list timestamps", sourceID, func() error {
		return s.db.View(func(txn *badger.Txn) error {
			if err := checkSource(txn, sourceID); err != nil {
				return err
			}
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false
			opts.Prefix = seriesPrefix(sourceID)
			it := txn.NewIterator(opts)
			defer it.Close()

			for it.Seek(recordKey(sourceID, from)); it.Valid(); it.Next() {
				ts := parseTimestamp(it.Item().Key())
				if to > 0 && ts > to {
					break
				}
				out = append(out, ts)
			}
			return nil
		})
	})
	if out == nil && err == nil {
		out = []int64{}
	}
	return out, err
}

// Close shuts down BadgerDB cleanly
func (s *Store) Close() error {
	return s.db.Close()
}

// RunGC runs BadgerDB's value log garbage collection.
// discardRatio: run GC if this fraction of a file can be discarded (0.5 = 50%)
func (s *Store) RunGC(discardRatio float64) error {
	return s.db.RunValueLogGC(discardRatio)
}

// run executes fn in a goroutine so a cancelled context returns promptly
// even while badger is blocked. Errors are wrapped as *source.Error.
func (s *Store) run(ctx context.Context, op, sourceID string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return source.Wrap(op, sourceID, err)
	case <-ctx.Done():
		return fmt.Errorf("%s operation cancelled: %w", op, ctx.Err())
	}
}

func checkSource(txn *badger.Txn, sourceID string) error {
	_, err := txn.Get(sourceKey(sourceID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return source.ErrNotFound
	}
	return err
}

func scanKeys(txn *badger.Txn, sourceID string, fn func(ts int64) bool) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = seriesPrefix(sourceID)
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		if !fn(parseTimestamp(it.Item().Key())) {
			return
		}
	}
}

func decodeItem(item *badger.Item) (record.Record, error) {
	var rec record.Record
	err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	})
	if err != nil {
		return record.Record{}, fmt.Errorf("failed to decode record: %w", err)
	}
	return rec, nil
}

func seriesPrefix(sourceID string) []byte {
	p := make([]byte, 9)
	p[0] = prefixRecord
	binary.BigEndian.PutUint64(p[1:9], xxhash.Sum64String(sourceID))
	return p
}

// recordKey flips the sign bit so negative timestamps still sort first
func recordKey(sourceID string, ts int64) []byte {
	key := make([]byte, 17)
	copy(key, seriesPrefix(sourceID))
	binary.BigEndian.PutUint64(key[9:17], uint64(ts)^(1<<63))
	return key
}

func parseTimestamp(key []byte) int64 {
	return int64(binary.BigEndian.Uint64(key[9:17]) ^ (1 << 63))
}

func sourceKey(sourceID string) []byte {
	return append([]byte{prefixSource}, sourceID...)
}
