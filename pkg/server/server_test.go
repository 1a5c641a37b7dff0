package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/wavetrend/pkg/config"
	"github.com/nicktill/wavetrend/pkg/export"
	"github.com/nicktill/wavetrend/pkg/pipeline"
	"github.com/nicktill/wavetrend/pkg/reduce"
	"github.com/nicktill/wavetrend/pkg/source/memory"
	"github.com/nicktill/wavetrend/pkg/synth"
	"github.com/nicktill/wavetrend/pkg/waveform"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

type fixture struct {
	srv    *Server
	store  *memory.Store
	router *mux.Router
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	srv := New(store, Options{
		Pipeline: pipeline.Config{ChunkSize: 100, Strategy: reduce.RMS},
		Logger:   quietLogger(),
		Port:     config.DefaultPort,
	})
	t.Cleanup(func() { srv.Close() })
	return &fixture{srv: srv, store: store, router: srv.Router()}
}

func (f *fixture) do(t *testing.T, method, path string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) runTrend(t *testing.T, sourceID string) {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/v1/trend/"+sourceID, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.srv.Pipeline().Wait(ctx))
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestTrendLifecycle(t *testing.T) {
	f := newFixture(t)
	recs := synth.Generate(synth.Defaults(250))
	require.NoError(t, f.store.Put(context.Background(), "logger-a", recs))

	f.runTrend(t, "logger-a")

	status := decode[TrendStatus](t, f.do(t, http.MethodGet, "/v1/trend", nil))
	require.Equal(t, pipeline.Done, status.State)
	require.Equal(t, "logger-a", status.SourceID)
	require.Equal(t, 250, status.Points)
	require.Equal(t, 3, status.Stats.Chunks)
	require.NotEmpty(t, status.RunID)
	require.NotNil(t, status.Result)
	require.Len(t, status.Result.Segments, 1)

	snap := decode[pipeline.Snapshot](t, f.do(t, http.MethodGet, "/v1/trend?points=true", nil))
	require.Len(t, snap.Points, 250)
	require.Equal(t, recs[0].Timestamp, snap.Points[0].Timestamp)
	require.InDelta(t, 325/math.Sqrt2, snap.Points[0].Values[0], 1.0)

	health := decode[HealthResponse](t, f.do(t, http.MethodGet, "/v1/health", nil))
	require.Equal(t, "healthy", health.Status)
	require.Equal(t, "done", health.Pipeline)
	require.Equal(t, 250, health.Runs.LastPoints)

	rec := f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `wavetrend_pipeline_runs_total{outcome="done"} 1`)
}

func TestBeginUnknownSource(t *testing.T) {
	f := newFixture(t)
	f.runTrend(t, "nope")

	status := decode[TrendStatus](t, f.do(t, http.MethodGet, "/v1/trend", nil))
	require.Equal(t, pipeline.Error, status.State)
	require.Contains(t, status.Error, "not found")

	health := decode[HealthResponse](t, f.do(t, http.MethodGet, "/v1/health", nil))
	require.Equal(t, "healthy", health.Status)
	require.Equal(t, 1, health.Runs.ConsecutiveErrors)
}

func TestStopWhenIdle(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodDelete, "/v1/trend", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, pipeline.Idle, decode[TrendStatus](t, rec).State)
}

func TestSeriesExport(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/v1/trend/series", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	require.NoError(t, f.store.Put(context.Background(), "logger-a", synth.Generate(synth.Defaults(250))))
	f.runTrend(t, "logger-a")

	rec = f.do(t, http.MethodGet, "/v1/trend/series?format=csv", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	points, err := export.TrendFromCSV(rec.Body)
	require.NoError(t, err)
	require.Len(t, points, 250)

	// 250 one-minute points starting 46m40s into an hour touch five hours
	rec = f.do(t, http.MethodGet, "/v1/trend/series?format=json&bucket=1h", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	file := decode[export.TrendFile](t, rec)
	require.Len(t, file.Points, 5)
	require.Equal(t, "logger-a", file.Metadata.SourceID)

	tests := []struct {
		name  string
		query string
	}{
		{name: "bad format", query: "?format=xml"},
		{name: "bad bucket", query: "?bucket=soon"},
		{name: "negative bucket", query: "?bucket=-5m"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodGet, "/v1/trend/series"+tt.query, nil)
			require.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestRecordEndpoint(t *testing.T) {
	f := newFixture(t)
	opts := synth.Defaults(4)
	opts.EmptyEvery = 2
	recs := synth.Generate(opts)
	require.NoError(t, f.store.Put(context.Background(), "logger-a", recs))

	rec := f.do(t, http.MethodGet, fmt.Sprintf("/v1/sources/logger-a/records/%d", recs[0].Timestamp), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[RecordResponse](t, rec)
	require.Equal(t, 64, resp.Samples)
	require.Equal(t, []string{"U_A", "U_B", "U_C", "I_A", "I_B", "I_C"}, resp.Channels)
	require.Len(t, resp.Signals, 6)
	require.Len(t, resp.Signals[0], 64)
	require.Equal(t, "rms", resp.Strategy)
	require.InDelta(t, 10/math.Sqrt2, resp.Trend.Values[3], 0.1)

	rec = f.do(t, http.MethodGet, fmt.Sprintf("/v1/sources/logger-a/records/%d", recs[1].Timestamp), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decode[RecordResponse](t, rec)
	require.Zero(t, resp.Samples)
	require.Empty(t, resp.Signals)
	require.True(t, math.IsNaN(resp.Trend.Values[0]))

	rec = f.do(t, http.MethodGet, "/v1/sources/logger-a/records/42", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/sources/logger-a/records/abc", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecordEndpoint_BadCalibration(t *testing.T) {
	f := newFixture(t)
	recs := synth.Generate(synth.Defaults(2))
	for i := range recs {
		recs[i].Calibration = waveform.Calibration{}
	}
	require.NoError(t, f.store.Put(context.Background(), "logger-a", recs))

	rec := f.do(t, http.MethodGet, fmt.Sprintf("/v1/sources/logger-a/records/%d", recs[0].Timestamp), nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	f.store.SetCalibration("logger-a", synth.DefaultCalibration)
	rec = f.do(t, http.MethodGet, fmt.Sprintf("/v1/sources/logger-a/records/%d", recs[0].Timestamp), nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestSourcesAndTimestamps(t *testing.T) {
	f := newFixture(t)
	recs := synth.Generate(synth.Defaults(10))
	require.NoError(t, f.store.Put(context.Background(), "logger-a", recs))

	body := decode[map[string]any](t, f.do(t, http.MethodGet, "/v1/sources", nil))
	require.EqualValues(t, 1, body["count"])

	path := fmt.Sprintf("/v1/sources/logger-a/timestamps?from=%d&to=%d", recs[2].Timestamp, recs[4].Timestamp)
	rec := f.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var ts struct {
		Timestamps []int64 `json:"timestamps"`
		Count      int     `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ts))
	require.Equal(t, []int64{recs[2].Timestamp, recs[3].Timestamp, recs[4].Timestamp}, ts.Timestamps)

	rec = f.do(t, http.MethodGet, "/v1/sources/logger-a/timestamps?from=yesterday", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/sources/missing/timestamps", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExportImportRoutes(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Put(context.Background(), "logger-a", synth.Generate(synth.Defaults(3))))

	rec := f.do(t, http.MethodGet, "/v1/sources/logger-a/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/sources/logger-b/import", bytes.NewReader(rec.Body.Bytes()))
	require.Equal(t, http.StatusOK, rec.Code)

	n, err := f.store.Count(context.Background(), "logger-b")
	require.NoError(t, err)
	require.Equal(t, 3, n)
}

func TestCORS(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodOptions, "/v1/trend", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	require.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/v1/trend", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestWebSocketEvents(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Put(context.Background(), "logger-a", synth.Generate(synth.Defaults(150))))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.srv.Run(ctx)

	ts := httptest.NewServer(f.router)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, f.srv.Hub().HasClients, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, f.srv.Pipeline().Begin("logger-a"))

	seen := map[string]int{}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for seen[EventReady] == 0 {
		_, msg, err := conn.ReadMessage()
		require.NoError(t, err)
		var ev Event
		require.NoError(t, json.Unmarshal(msg, &ev))
		require.Equal(t, "logger-a", ev.SourceID)
		seen[ev.Type]++
	}
	require.Equal(t, 2, seen[EventPoints])
	require.NotZero(t, seen[EventState])
	require.NotZero(t, seen[EventProgress])
}

type countingGC struct {
	calls atomic.Int32
}

func (g *countingGC) RunGC(float64) error {
	g.calls.Add(1)
	return nil
}

func TestRunStoreGC(t *testing.T) {
	gc := &countingGC{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunStoreGC(ctx, gc, 5*time.Millisecond, quietLogger())
		close(done)
	}()

	require.Eventually(t, func() bool { return gc.calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	tests := []struct {
		name string
		cfg  config.SourceConfig
	}{
		{name: "memory", cfg: config.SourceConfig{Backend: config.BackendMemory}},
		{name: "sqlite", cfg: config.SourceConfig{Backend: config.BackendSQLite, Path: filepath.Join(dir, "db", "records.db")}},
		{name: "badger", cfg: config.SourceConfig{Backend: config.BackendBadger, Path: filepath.Join(dir, "badger"), MaxMemoryMB: 48}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := OpenStore(ctx, tt.cfg, quietLogger())
			require.NoError(t, err)
			defer store.Close()

			require.NoError(t, store.Put(ctx, "a", synth.Generate(synth.Defaults(3))))
			n, err := store.Count(ctx, "a")
			require.NoError(t, err)
			require.Equal(t, 3, n)
		})
	}

	_, err := OpenStore(ctx, config.SourceConfig{Backend: "tape"}, quietLogger())
	require.Error(t, err)
}

func TestPipelineConfig(t *testing.T) {
	pc := config.Default().Pipeline
	pc.Strategy = "peak"
	pc.Layout = "header"
	pc.TimestampUnit = "s"

	cfg, err := PipelineConfig(pc)
	require.NoError(t, err)
	require.Equal(t, reduce.PeakHalfAmplitude, cfg.Strategy)
	require.Equal(t, waveform.LayoutHeader, cfg.Layout)
	require.Equal(t, 15*time.Minute, cfg.Segment.Threshold)
	require.Equal(t, time.Second, cfg.Segment.TimestampUnit)

	pc.Strategy = "mode"
	_, err = PipelineConfig(pc)
	require.Error(t, err)
}
