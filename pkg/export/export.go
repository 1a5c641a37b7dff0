package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"

	"github.com/nicktill/wavetrend/pkg/record"
	"github.com/nicktill/wavetrend/pkg/segment"
	"github.com/nicktill/wavetrend/pkg/source"
	"github.com/nicktill/wavetrend/pkg/trend"
)

const (
	// FormatVersion is written into every JSON export
	FormatVersion = "1.0"

	// ExportChunkSize is the page size used when walking a source for a backup
	ExportChunkSize = 500
)

// ExportResult contains stats about the export
type ExportResult struct {
	SourceID   string    `json:"source_id"`
	Exported   int       `json:"exported"`
	TimeRange  string    `json:"time_range"`
	Format     string    `json:"format"`
	ExportedAt time.Time `json:"exported_at"`
}

// Metadata heads every JSON export
type Metadata struct {
	SourceID   string    `json:"source_id"`
	ExportedAt time.Time `json:"exported_at"`
	Count      int       `json:"count"`
	Oldest     int64     `json:"oldest"`
	Newest     int64     `json:"newest"`
	Format     string    `json:"format"`
	Version    string    `json:"version"`
}

// TrendFile is the JSON trend export
type TrendFile struct {
	Metadata Metadata        `json:"metadata"`
	Channels []string        `json:"channels"`
	Points   []trend.Point   `json:"points"`
	Result   *segment.Result `json:"result,omitempty"`
}

// TrendToJSON writes points and their segmentation as pretty JSON
func TrendToJSON(w io.Writer, sourceID string, points []trend.Point, result *segment.Result) (*ExportResult, error) {
	file := TrendFile{
		Metadata: metadata(sourceID, "json", timestamps(points)),
		Channels: trend.ChannelNames[:],
		Points:   points,
		Result:   result,
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(file); err != nil {
		return nil, fmt.Errorf("failed to encode JSON: %w", err)
	}
	return resultOf(file.Metadata), nil
}

// TrendToCSV writes one row per point: timestamp then one column per channel.
// Invalid values are written as empty cells.
func TrendToCSV(w io.Writer, sourceID string, points []trend.Point) (*ExportResult, error) {
	writer := csv.NewWriter(w)

	header := append([]string{"timestamp"}, trend.ChannelNames[:]...)
	if err := writer.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, p := range points {
		row := make([]string, 1, len(header))
		row[0] = strconv.FormatInt(p.Timestamp, 10)
		for ch := 0; ch < trend.MaxChannels; ch++ {
			if p.Valid(ch) {
				row = append(row, strconv.FormatFloat(p.Values[ch], 'f', -1, 64))
			} else {
				row = append(row, "")
			}
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush CSV: %w", err)
	}
	return resultOf(metadata(sourceID, "csv", timestamps(points))), nil
}

// TrendFromCSV parses a TrendToCSV export back into points
func TrendFromCSV(r io.Reader) ([]trend.Point, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = trend.MaxChannels + 1

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("missing CSV header")
	}

	points := make([]trend.Point, 0, len(rows)-1)
	for i, row := range rows[1:] {
		ts, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: bad timestamp: %w", i+1, err)
		}
		vals := make([]float64, trend.MaxChannels)
		for ch := range vals {
			cell := row[ch+1]
			if cell == "" {
				vals[ch] = math.NaN()
				continue
			}
			if vals[ch], err = strconv.ParseFloat(cell, 64); err != nil {
				return nil, fmt.Errorf("row %d: bad %s: %w", i+1, trend.ChannelNames[ch], err)
			}
		}
		points = append(points, trend.Point{Timestamp: ts, Values: vals})
	}
	return points, nil
}

// RecordFile is the JSON backup of a source, rows in logger column layout
type RecordFile struct {
	Metadata Metadata     `json:"metadata"`
	Records  []record.Row `json:"records"`
}

// Exporter backs up sources
type Exporter struct {
	src source.Source
}

// NewExporter creates a new exporter
func NewExporter(src source.Source) *Exporter {
	return &Exporter{src: src}
}

// RecordsToJSON walks a source chunk by chunk and writes every record.
// from/to bound the timestamps; to <= 0 is open.
func (e *Exporter) RecordsToJSON(ctx context.Context, w io.Writer, sourceID string, from, to int64) (*ExportResult, error) {
	var rows []record.Row
	var ts []int64
	for offset := 0; ; offset += ExportChunkSize {
		recs, err := e.src.FetchChunk(ctx, sourceID, offset, ExportChunkSize)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch records: %w", err)
		}
		for _, r := range recs {
			if r.Timestamp < from || (to > 0 && r.Timestamp > to) {
				continue
			}
			rows = append(rows, record.ToRow(r))
			ts = append(ts, r.Timestamp)
		}
		if len(recs) < ExportChunkSize {
			break
		}
	}

	file := RecordFile{
		Metadata: metadata(sourceID, "json", ts),
		Records:  rows,
	}
	if file.Records == nil {
		file.Records = []record.Row{}
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(file); err != nil {
		return nil, fmt.Errorf("failed to encode JSON: %w", err)
	}
	return resultOf(file.Metadata), nil
}

func timestamps(points []trend.Point) []int64 {
	ts := make([]int64, len(points))
	for i, p := range points {
		ts[i] = p.Timestamp
	}
	return ts
}

func metadata(sourceID, format string, ts []int64) Metadata {
	m := Metadata{
		SourceID:   sourceID,
		ExportedAt: time.Now().UTC(),
		Count:      len(ts),
		Format:     format,
		Version:    FormatVersion,
	}
	if len(ts) > 0 {
		m.Oldest = ts[0]
		m.Newest = ts[len(ts)-1]
	}
	return m
}

func resultOf(m Metadata) *ExportResult {
	return &ExportResult{
		SourceID:   m.SourceID,
		Exported:   m.Count,
		TimeRange:  timeRange(m.Oldest, m.Newest),
		Format:     m.Format,
		ExportedAt: m.ExportedAt,
	}
}

func timeRange(oldest, newest int64) string {
	if oldest == 0 && newest == 0 {
		return "empty"
	}
	return fmt.Sprintf("%s to %s",
		time.UnixMilli(oldest).UTC().Format(time.RFC3339),
		time.UnixMilli(newest).UTC().Format(time.RFC3339))
}
