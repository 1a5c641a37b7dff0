package export

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/wavetrend/pkg/segment"
	"github.com/nicktill/wavetrend/pkg/source/memory"
	"github.com/nicktill/wavetrend/pkg/synth"
	"github.com/nicktill/wavetrend/pkg/trend"
)

func samplePoints() []trend.Point {
	nan := math.NaN()
	return []trend.Point{
		{Timestamp: 1_720_000_000_000, Values: []float64{230.1, 229.9, 231, 5.5, 5.25, 4.75}},
		{Timestamp: 1_720_000_060_000, Values: []float64{nan, nan, nan, nan, nan, nan}},
		{Timestamp: 1_720_000_120_000, Values: []float64{230, nan, 231.5, 0, 5, 4}},
	}
}

func TestTrendCSV_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	result, err := TrendToCSV(&buf, "logger-a", samplePoints())
	require.NoError(t, err)
	require.Equal(t, 3, result.Exported)
	require.Equal(t, "csv", result.Format)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Equal(t, "timestamp,U_A,U_B,U_C,I_A,I_B,I_C", lines[0])
	require.Equal(t, "1720000060000,,,,,,", lines[2])

	back, err := TrendFromCSV(&buf)
	require.NoError(t, err)
	require.Len(t, back, 3)
	require.Equal(t, 230.1, back[0].Values[0])
	require.True(t, math.IsNaN(back[1].Values[3]))
	require.True(t, math.IsNaN(back[2].Values[1]))
	require.Equal(t, 0.0, back[2].Values[3])
}

func TestTrendFromCSV_BadRows(t *testing.T) {
	_, err := TrendFromCSV(strings.NewReader("timestamp,U_A,U_B,U_C,I_A,I_B,I_C\nx,1,2,3,4,5,6\n"))
	require.ErrorContains(t, err, "bad timestamp")

	_, err = TrendFromCSV(strings.NewReader("timestamp,U_A\n1,2\n"))
	require.Error(t, err)

	_, err = TrendFromCSV(strings.NewReader(""))
	require.Error(t, err)
}

func TestTrendToJSON(t *testing.T) {
	points := samplePoints()
	res := segment.Segment(points, segment.Options{})

	var buf bytes.Buffer
	_, err := TrendToJSON(&buf, "logger-a", points, &res)
	require.NoError(t, err)

	var file TrendFile
	require.NoError(t, json.Unmarshal(buf.Bytes(), &file))
	require.Equal(t, "logger-a", file.Metadata.SourceID)
	require.Equal(t, 3, file.Metadata.Count)
	require.Equal(t, trend.ChannelNames[:], file.Channels)
	require.True(t, math.IsNaN(file.Points[1].Values[0]))
	require.NotNil(t, file.Result)
	require.Len(t, file.Result.Segments, 1)
}

func TestRecordBackup_RoundTrip(t *testing.T) {
	ctx := context.Background()
	src := memory.New()
	recs := synth.Generate(synth.Defaults(1200))
	require.NoError(t, src.Put(ctx, "logger-a", recs))

	var buf bytes.Buffer
	result, err := NewExporter(src).RecordsToJSON(ctx, &buf, "logger-a", 0, 0)
	require.NoError(t, err)
	require.Equal(t, 1200, result.Exported)

	dst := memory.New()
	imported, err := NewImporter(dst).ImportFromJSON(ctx, &buf, "")
	require.NoError(t, err)
	require.Equal(t, "logger-a", imported.SourceID)
	require.Equal(t, 1200, imported.RecordsImported)
	require.Equal(t, 1, imported.BatchesWritten)
	require.Empty(t, imported.Errors)

	got, err := dst.FetchChunk(ctx, "logger-a", 0, 2000)
	require.NoError(t, err)
	require.Equal(t, recs, got)
}

func TestRecordBackup_TimeFilter(t *testing.T) {
	ctx := context.Background()
	src := memory.New()
	recs := synth.Generate(synth.Defaults(10))
	require.NoError(t, src.Put(ctx, "a", recs))

	var buf bytes.Buffer
	result, err := NewExporter(src).RecordsToJSON(ctx, &buf, "a", recs[3].Timestamp, recs[5].Timestamp)
	require.NoError(t, err)
	require.Equal(t, 3, result.Exported)
}

func TestImportFromJSON_InvalidRowsReported(t *testing.T) {
	body := `{
	  "metadata": {"source_id": "x"},
	  "records": [
	    {"timestamp": 1, "mask": "111", "npoints": 0, "points": "AAAA"},
	    {"timestamp": 2, "mask": "1z1", "npoints": 0, "points": "AAAA"},
	    {"mask": "111", "npoints": 0, "points": "AAAA"}
	  ]
	}`

	dst := memory.New()
	result, err := NewImporter(dst).ImportFromJSON(context.Background(), strings.NewReader(body), "y")
	require.NoError(t, err)
	require.Equal(t, "y", result.SourceID)
	require.Equal(t, 1, result.RecordsImported)
	require.Len(t, result.Errors, 2)

	n, err := dst.Count(context.Background(), "y")
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestHandler_ExportImport(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.Put(ctx, "a", synth.Generate(synth.Defaults(5))))

	log := logrus.New()
	h := NewHandler(store, store, log)
	router := mux.NewRouter()
	router.HandleFunc("/v1/sources/{id}/export", h.HandleExport).Methods(http.MethodGet)
	router.HandleFunc("/v1/sources/{id}/import", h.HandleImport).Methods(http.MethodPost)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sources/a/export", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Disposition"), "a-records-")

	req := httptest.NewRequest(http.MethodPost, "/v1/sources/b/import", bytes.NewReader(rec.Body.Bytes()))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	n, err := store.Count(ctx, "b")
	require.NoError(t, err)
	require.Equal(t, 5, n)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sources/missing/export", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sources/a/export?from=10&to=5", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
