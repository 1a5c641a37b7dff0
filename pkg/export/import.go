package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/nicktill/wavetrend/pkg/record"
	"github.com/nicktill/wavetrend/pkg/source"
)

const (
	// MaxImportBatchSize is the maximum number of records to write at once
	MaxImportBatchSize = 5000
)

// Importer restores RecordFile backups into a writable source
type Importer struct {
	dst source.Writer
}

// NewImporter creates a new importer
func NewImporter(dst source.Writer) *Importer {
	return &Importer{dst: dst}
}

// ImportResult contains stats about the import operation
type ImportResult struct {
	SourceID        string    `json:"source_id"`
	RecordsImported int       `json:"records_imported"`
	BatchesWritten  int       `json:"batches_written"`
	TimeRange       string    `json:"time_range"`
	ImportedAt      time.Time `json:"imported_at"`
	Errors          []string  `json:"errors,omitempty"`
}

// ImportFromJSON reads a RecordFile and writes its valid records to
// sourceID, or to the source named in the file when sourceID is empty.
// Rows that fail conversion are reported in Errors and skipped.
func (im *Importer) ImportFromJSON(ctx context.Context, r io.Reader, sourceID string) (*ImportResult, error) {
	var file RecordFile
	decoder := json.NewDecoder(r)
	decoder.UseNumber()
	if err := decoder.Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to decode JSON: %w", err)
	}

	if sourceID == "" {
		sourceID = file.Metadata.SourceID
	}
	if sourceID == "" {
		return nil, fmt.Errorf("no source id given and none in file metadata")
	}

	result := &ImportResult{SourceID: sourceID, TimeRange: "empty", ImportedAt: time.Now()}
	if len(file.Records) == 0 {
		return result, nil
	}

	valid := make([]record.Record, 0, len(file.Records))
	for i, row := range file.Records {
		rec, err := record.FromRow(normalize(row))
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("record %d: %v", i, err))
			continue
		}
		valid = append(valid, rec)
	}

	for i := 0; i < len(valid); i += MaxImportBatchSize {
		end := i + MaxImportBatchSize
		if end > len(valid) {
			end = len(valid)
		}
		if err := im.dst.Put(ctx, sourceID, valid[i:end]); err != nil {
			return nil, fmt.Errorf("failed to write batch %d: %w", result.BatchesWritten, err)
		}
		result.BatchesWritten++
	}

	result.RecordsImported = len(valid)
	if len(valid) > 0 {
		oldest, newest := valid[0].Timestamp, valid[0].Timestamp
		for _, rec := range valid {
			if rec.Timestamp < oldest {
				oldest = rec.Timestamp
			}
			if rec.Timestamp > newest {
				newest = rec.Timestamp
			}
		}
		result.TimeRange = timeRange(oldest, newest)
	}
	return result, nil
}

// normalize turns json.Number cells into int64 or float64 so FromRow sees
// the same types a database driver returns.
func normalize(row record.Row) record.Row {
	out := make(record.Row, len(row))
	for k, v := range row {
		n, ok := v.(json.Number)
		if !ok {
			out[k] = v
			continue
		}
		if i, err := n.Int64(); err == nil {
			out[k] = i
		} else if f, err := n.Float64(); err == nil {
			out[k] = f
		} else {
			out[k] = n.String()
		}
	}
	return out
}
