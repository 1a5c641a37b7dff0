package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/nicktill/wavetrend/pkg/record"
	"github.com/nicktill/wavetrend/pkg/source"
	"github.com/nicktill/wavetrend/pkg/waveform"
)

// Store keeps records in memory. Data is lost on restart.
// Useful for testing and synthetic runs.
type Store struct {
	mu           sync.RWMutex
	sources      map[string][]record.Record
	calibrations map[string]waveform.Calibration
}

// New creates an empty in-memory store
func New() *Store {
	return &Store{
		sources:      make(map[string][]record.Record),
		calibrations: make(map[string]waveform.Calibration),
	}
}

// SetCalibration overrides the source-level calibration, which otherwise
// comes from the newest record.
func (s *Store) SetCalibration(sourceID string, cal waveform.Calibration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calibrations[sourceID] = cal
}

// Put inserts records, keeping each source sorted by timestamp
func (s *Store) Put(ctx context.Context, sourceID string, records []record.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// copy on write so slices handed to readers stay immutable
	existing := append([]record.Record(nil), s.sources[sourceID]...)
	byTS := make(map[int64]int, len(existing))
	for i, r := range existing {
		byTS[r.Timestamp] = i
	}
	for _, r := range records {
		if i, ok := byTS[r.Timestamp]; ok {
			existing[i] = r
			continue
		}
		byTS[r.Timestamp] = len(existing)
		existing = append(existing, r)
	}
	sort.Slice(existing, func(i, j int) bool {
		return existing[i].Timestamp < existing[j].Timestamp
	})
	s.sources[sourceID] = existing
	return nil
}

// ListSources returns sources sorted by id
func (s *Store) ListSources(ctx context.Context) ([]source.Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]source.Info, 0, len(s.sources))
	for id, recs := range s.sources {
		info := source.Info{ID: id, Count: len(recs)}
		if len(recs) > 0 {
			info.Oldest = recs[0].Timestamp
			info.Newest = recs[len(recs)-1].Timestamp
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos, nil
}

// Count returns the number of records of a source
func (s *Store) Count(ctx context.Context, sourceID string) (int, error) {
	recs, err := s.records("count", sourceID)
	if err != nil {
		return 0, err
	}
	return len(recs), nil
}

// Calibration returns the override if set, else the newest record's calibration
func (s *Store) Calibration(ctx context.Context, sourceID string) (waveform.Calibration, error) {
	s.mu.RLock()
	cal, ok := s.calibrations[sourceID]
	s.mu.RUnlock()
	if ok {
		return cal, nil
	}

	recs, err := s.records("calibration", sourceID)
	if err != nil {
		return waveform.Calibration{}, err
	}
	if len(recs) == 0 {
		return waveform.Calibration{}, &source.Error{Op: "calibration", SourceID: sourceID, Err: source.ErrNotFound}
	}
	return recs[len(recs)-1].Calibration, nil
}

// FetchChunk returns a copy of records[offset:offset+limit]
func (s *Store) FetchChunk(ctx context.Context, sourceID string, offset, limit int) ([]record.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	recs, err := s.records("fetch chunk", sourceID)
	if err != nil {
		return nil, err
	}
	if offset >= len(recs) || limit <= 0 {
		return nil, nil
	}
	end := offset + limit
	if end > len(recs) {
		end = len(recs)
	}
	out := make([]record.Record, end-offset)
	copy(out, recs[offset:end])
	return out, nil
}

// FetchByTimestamp finds a record by binary search
func (s *Store) FetchByTimestamp(ctx context.Context, sourceID string, ts int64) (record.Record, error) {
	recs, err := s.records("fetch", sourceID)
	if err != nil {
		return record.Record{}, err
	}
	i := sort.Search(len(recs), func(i int) bool { return recs[i].Timestamp >= ts })
	if i == len(recs) || recs[i].Timestamp != ts {
		return record.Record{}, &source.Error{Op: "fetch", SourceID: sourceID, Err: source.ErrNotFound}
	}
	return recs[i], nil
}

// ListTimestamps returns timestamps within [from, to]
func (s *Store) ListTimestamps(ctx context.Context, sourceID string, from, to int64) ([]int64, error) {
	recs, err := s.records("list timestamps", sourceID)
	if err != nil {
		return nil, err
	}
	ts := make([]int64, len(recs))
	for i, r := range recs {
		ts[i] = r.Timestamp
	}
	return source.FilterRange(ts, from, to), nil
}

// Close is a no-op for memory storage
func (s *Store) Close() error {
	return nil
}

// records returns the current slice of a source. Put replaces the slice
// rather than mutating it, so it is safe to read without the lock.
func (s *Store) records(op, sourceID string) ([]record.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs, ok := s.sources[sourceID]
	if !ok {
		return nil, &source.Error{Op: op, SourceID: sourceID, Err: source.ErrNotFound}
	}
	return recs, nil
}
