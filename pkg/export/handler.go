package export

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/nicktill/wavetrend/pkg/httpx"
	"github.com/nicktill/wavetrend/pkg/source"
)

// MaxImportBytes bounds the size of an uploaded backup
const MaxImportBytes = 256 << 20

// Handler serves record backup and restore for one store
type Handler struct {
	exporter *Exporter
	importer *Importer
	log      logrus.FieldLogger
}

// NewHandler creates a new export/import handler. dst may be nil when the
// store is read-only, in which case imports are refused.
func NewHandler(src source.Source, dst source.Writer, log logrus.FieldLogger) *Handler {
	h := &Handler{exporter: NewExporter(src), log: log}
	if dst != nil {
		h.importer = NewImporter(dst)
	}
	return h
}

// HandleExport handles GET /v1/sources/{id}/export
// Query params:
//   - from: first timestamp in ms (default: 0)
//   - to: last timestamp in ms (default: open)
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	sourceID := mux.Vars(r)["id"]
	query := r.URL.Query()

	from, err := ParseTimestamp(query.Get("from"))
	if err != nil {
		httpx.RespondErrorString(w, http.StatusBadRequest, "invalid from: "+err.Error())
		return
	}
	to, err := ParseTimestamp(query.Get("to"))
	if err != nil {
		httpx.RespondErrorString(w, http.StatusBadRequest, "invalid to: "+err.Error())
		return
	}
	if to > 0 && to < from {
		httpx.RespondErrorString(w, http.StatusBadRequest, "from must not be after to")
		return
	}

	// probe first so a missing source is a 404 rather than a half-written body
	if _, err := h.exporter.src.Count(r.Context(), sourceID); err != nil && !errors.Is(err, source.ErrCountUnknown) {
		status := http.StatusInternalServerError
		if errors.Is(err, source.ErrNotFound) {
			status = http.StatusNotFound
		}
		httpx.RespondError(w, status, err)
		return
	}

	stamp := time.Now().Format("20060102-150405")
	httpx.Attachment(w, "application/json", fmt.Sprintf("%s-records-%s.json", sourceID, stamp))

	result, err := h.exporter.RecordsToJSON(r.Context(), w, sourceID, from, to)
	if err != nil {
		h.log.WithError(err).WithField("source", sourceID).Error("record export failed")
		return
	}

	h.log.WithFields(logrus.Fields{
		"source":  sourceID,
		"records": result.Exported,
		"range":   result.TimeRange,
	}).Info("exported records")
}

// HandleImport handles POST /v1/sources/{id}/import
// Accepts a JSON backup produced by HandleExport.
func (h *Handler) HandleImport(w http.ResponseWriter, r *http.Request) {
	if h.importer == nil {
		httpx.RespondErrorString(w, http.StatusMethodNotAllowed, "store is read-only")
		return
	}
	if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		httpx.RespondErrorString(w, http.StatusBadRequest, "Content-Type must be application/json")
		return
	}

	sourceID := mux.Vars(r)["id"]
	body := http.MaxBytesReader(w, r.Body, MaxImportBytes)

	result, err := h.importer.ImportFromJSON(r.Context(), body, sourceID)
	if err != nil {
		h.log.WithError(err).WithField("source", sourceID).Error("record import failed")
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	log := h.log.WithFields(logrus.Fields{
		"source":  result.SourceID,
		"records": result.RecordsImported,
		"batches": result.BatchesWritten,
	})
	if len(result.Errors) > 0 {
		log.WithField("invalid", len(result.Errors)).Warn("import completed with invalid records")
	} else {
		log.Info("imported records")
	}

	httpx.RespondJSON(w, http.StatusOK, result)
}

// ParseTimestamp parses a millisecond timestamp, or RFC3339 for convenience.
// An empty string is 0.
func ParseTimestamp(param string) (int64, error) {
	if param == "" {
		return 0, nil
	}
	if v, err := strconv.ParseInt(param, 10, 64); err == nil {
		return v, nil
	}
	t, err := time.Parse(time.RFC3339, param)
	if err != nil {
		return 0, err
	}
	return t.UnixMilli(), nil
}
