package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/nicktill/wavetrend/pkg/config"
	"github.com/nicktill/wavetrend/pkg/downsample"
	"github.com/nicktill/wavetrend/pkg/export"
	"github.com/nicktill/wavetrend/pkg/httpx"
	"github.com/nicktill/wavetrend/pkg/pipeline"
	"github.com/nicktill/wavetrend/pkg/segment"
	"github.com/nicktill/wavetrend/pkg/server/monitor"
	"github.com/nicktill/wavetrend/pkg/source"
	"github.com/nicktill/wavetrend/pkg/trend"
	"github.com/nicktill/wavetrend/pkg/waveform"
)

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status   string            `json:"status"`
	Version  string            `json:"version"`
	Uptime   string            `json:"uptime"`
	Pipeline string            `json:"pipeline"`
	Runs     monitor.RunStatus `json:"runs"`
}

// TrendStatus is a snapshot without the points
type TrendStatus struct {
	State      pipeline.State  `json:"state"`
	SourceID   string          `json:"source_id,omitempty"`
	RunID      string          `json:"run_id,omitempty"`
	Generation uint64          `json:"generation"`
	Stats      pipeline.Stats  `json:"stats"`
	Error      string          `json:"error,omitempty"`
	Points     int             `json:"points"`
	Result     *segment.Result `json:"result,omitempty"`
}

func statusOf(snap pipeline.Snapshot) TrendStatus {
	return TrendStatus{
		State:      snap.State,
		SourceID:   snap.SourceID,
		RunID:      snap.RunID,
		Generation: snap.Generation,
		Stats:      snap.Stats,
		Error:      snap.Error,
		Points:     len(snap.Points),
		Result:     snap.Result,
	}
}

// RecordResponse is one decoded record
type RecordResponse struct {
	SourceID    string               `json:"source_id"`
	Timestamp   int64                `json:"timestamp"`
	Mask        string               `json:"mask"`
	Samples     int                  `json:"samples"`
	Channels    []string             `json:"channels"`
	Calibration waveform.Calibration `json:"calibration"`
	// Signals holds one slice of calibrated samples per channel
	Signals  [][]float64 `json:"signals"`
	Strategy string      `json:"strategy"`
	Trend    trend.Point `json:"trend"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK
	if !s.monitor.IsHealthy() {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	httpx.RespondJSON(w, code, HealthResponse{
		Status:   status,
		Version:  Version,
		Uptime:   time.Since(s.started).Round(time.Second).String(),
		Pipeline: s.pipe.Snapshot().State.String(),
		Runs:     s.monitor.Status(),
	})
}

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), config.RequestTimeout)
	defer cancel()

	infos, err := s.store.ListSources(ctx)
	if err != nil {
		s.respondSourceError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"sources": infos,
		"count":   len(infos),
	})
}

// handleListTimestamps handles GET /v1/sources/{id}/timestamps?from=&to=
func (s *Server) handleListTimestamps(w http.ResponseWriter, r *http.Request) {
	sourceID := mux.Vars(r)["id"]
	query := r.URL.Query()

	from, err := export.ParseTimestamp(query.Get("from"))
	if err != nil {
		httpx.RespondErrorString(w, http.StatusBadRequest, "invalid from: "+err.Error())
		return
	}
	to, err := export.ParseTimestamp(query.Get("to"))
	if err != nil {
		httpx.RespondErrorString(w, http.StatusBadRequest, "invalid to: "+err.Error())
		return
	}
	if to > 0 && to < from {
		httpx.RespondErrorString(w, http.StatusBadRequest, "from must not be after to")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.RequestTimeout)
	defer cancel()

	ts, err := s.store.ListTimestamps(ctx, sourceID, from, to)
	if err != nil {
		s.respondSourceError(w, err)
		return
	}
	if ts == nil {
		ts = []int64{}
	}
	httpx.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"source_id":  sourceID,
		"timestamps": ts,
		"count":      len(ts),
	})
}

// handleRecord handles GET /v1/sources/{id}/records/{ts}: the decoded
// signals of one record and its trend values
func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	sourceID := vars["id"]
	ts, err := strconv.ParseInt(vars["ts"], 10, 64)
	if err != nil {
		httpx.RespondErrorString(w, http.StatusBadRequest, "invalid timestamp")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.RequestTimeout)
	defer cancel()

	rec, err := s.store.FetchByTimestamp(ctx, sourceID, ts)
	if err != nil {
		s.respondSourceError(w, err)
		return
	}

	cal := rec.Calibration
	if cal.Validate() != nil {
		if cal, err = s.store.Calibration(ctx, sourceID); err != nil {
			s.respondSourceError(w, err)
			return
		}
		if err := cal.Validate(); err != nil {
			httpx.RespondError(w, http.StatusUnprocessableEntity, err)
			return
		}
	}

	cfg := s.pipe.Config()
	resp := RecordResponse{
		SourceID:    sourceID,
		Timestamp:   rec.Timestamp,
		Mask:        rec.Mask.String(),
		Calibration: cal,
		Signals:     [][]float64{},
		Channels:    []string{},
		Strategy:    string(cfg.Strategy),
	}

	m, err := rec.Decode(cfg.Layout, cal)
	switch {
	case errors.Is(err, waveform.ErrEmptySignal):
		resp.Trend = trend.NaNPoint(rec.Timestamp)
	case err != nil:
		httpx.RespondError(w, http.StatusUnprocessableEntity, fmt.Errorf("failed to decode record: %w", err))
		return
	default:
		resp.Samples = m.Samples
		for j := 0; j < m.Channels; j++ {
			resp.Signals = append(resp.Signals, m.Channel(j))
			if j < trend.MaxChannels {
				resp.Channels = append(resp.Channels, trend.ChannelNames[j])
			} else {
				resp.Channels = append(resp.Channels, fmt.Sprintf("CH%d", j))
			}
		}
		resp.Trend = trend.Point{
			Timestamp: rec.Timestamp,
			Values:    cfg.Strategy.ReduceTo(m, trend.MaxChannels),
		}
	}

	httpx.RespondJSON(w, http.StatusOK, resp)
}

// handleBeginTrend handles POST /v1/trend/{id}
func (s *Server) handleBeginTrend(w http.ResponseWriter, r *http.Request) {
	sourceID := mux.Vars(r)["id"]
	if err := s.pipe.Begin(sourceID); err != nil {
		if errors.Is(err, pipeline.ErrClosed) {
			httpx.RespondError(w, http.StatusServiceUnavailable, err)
			return
		}
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}
	httpx.RespondJSON(w, http.StatusAccepted, statusOf(s.pipe.Snapshot()))
}

// handleStopTrend handles DELETE /v1/trend
func (s *Server) handleStopTrend(w http.ResponseWriter, r *http.Request) {
	s.pipe.Stop()
	httpx.RespondJSON(w, http.StatusOK, statusOf(s.pipe.Snapshot()))
}

// handleTrend handles GET /v1/trend. Points are included with ?points=true.
func (s *Server) handleTrend(w http.ResponseWriter, r *http.Request) {
	snap := s.pipe.Snapshot()
	if withPoints, _ := strconv.ParseBool(r.URL.Query().Get("points")); withPoints {
		if snap.Points == nil {
			snap.Points = []trend.Point{}
		}
		httpx.RespondJSON(w, http.StatusOK, snap)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, statusOf(snap))
}

// handleSeries handles GET /v1/trend/series?format=json|csv&bucket=5m
func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	format := query.Get("format")
	if format == "" {
		format = config.SeriesDefaultFormat
	}
	if format != "json" && format != "csv" {
		httpx.RespondErrorString(w, http.StatusBadRequest, "format must be json or csv")
		return
	}
	bucket, err := downsample.ParseResolution(query.Get("bucket"))
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	snap := s.pipe.Snapshot()
	if snap.SourceID == "" {
		httpx.RespondErrorString(w, http.StatusNotFound, "no trend has been started")
		return
	}

	points := snap.Points
	if bucket > 0 {
		unit := s.pipe.Config().Segment.TimestampUnit
		if unit <= 0 {
			unit = segment.DefaultTimestampUnit
		}
		points = downsample.Averages(downsample.Series(points, bucket, unit))
	}

	filename := fmt.Sprintf("%s-trend-%s.%s", snap.SourceID, time.Now().Format("20060102-150405"), format)
	var result *export.ExportResult
	if format == "csv" {
		httpx.Attachment(w, "text/csv", filename)
		result, err = export.TrendToCSV(w, snap.SourceID, points)
	} else {
		httpx.Attachment(w, "application/json", filename)
		result, err = export.TrendToJSON(w, snap.SourceID, points, snap.Result)
	}
	if err != nil {
		s.log.WithError(err).Error("series export failed")
		return
	}

	s.log.WithFields(logrus.Fields{
		"source": result.SourceID,
		"points": result.Exported,
		"format": result.Format,
		"bucket": bucket.String(),
	}).Debug("exported series")
}

func (s *Server) respondSourceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, source.ErrNotFound):
		httpx.RespondError(w, http.StatusNotFound, err)
	case errors.Is(err, context.DeadlineExceeded):
		httpx.RespondError(w, http.StatusGatewayTimeout, err)
	default:
		s.log.WithError(err).Error("source request failed")
		httpx.RespondError(w, http.StatusInternalServerError, err)
	}
}
