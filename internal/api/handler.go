package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/lo"

	"github.com/gyaneshwarpardhi/camreview/internal/config"
	"github.com/gyaneshwarpardhi/camreview/internal/engine"
	"github.com/gyaneshwarpardhi/camreview/internal/event"
	"github.com/gyaneshwarpardhi/camreview/internal/filter"
)

const maxBatchSize = 500

// PreviewArchive persists registered preview clips.
type PreviewArchive interface {
	SavePreviews(ctx context.Context, previews []event.Preview) error
}

// Handler holds all HTTP handler dependencies.
type Handler struct {
	eng     *engine.Engine
	loader  *config.Loader
	archive PreviewArchive
	mux     *http.ServeMux
}

// New creates an HTTP handler and registers all routes. loader and archive
// may be nil.
func New(eng *engine.Engine, loader *config.Loader, archive PreviewArchive) http.Handler {
	h := &Handler{eng: eng, loader: loader, archive: archive, mux: http.NewServeMux()}

	h.mux.HandleFunc("POST /v1/timeline", h.ingest)
	h.mux.HandleFunc("GET /v1/timeline", h.events)
	h.mux.HandleFunc("GET /v1/timeline/hourly", h.hourly)
	h.mux.HandleFunc("GET /v1/review/cards", h.cards)
	h.mux.HandleFunc("GET /v1/scrubber", h.scrubber)
	h.mux.HandleFunc("POST /v1/previews", h.addPreviews)
	h.mux.HandleFunc("GET /v1/previews", h.listPreviews)
	h.mux.HandleFunc("GET /v1/previews/resolve", h.resolvePreview)
	h.mux.HandleFunc("POST /v1/config/reload", h.reloadConfig)
	h.mux.HandleFunc("GET /healthz", h.healthz)
	h.mux.HandleFunc("GET /readyz", h.readyz)
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return loggingMiddleware(h.mux)
}

// POST /v1/timeline: batch ingestion (up to 500 events). ?wait=true merges
// before responding.
func (h *Handler) ingest(w http.ResponseWriter, r *http.Request) {
	var events []event.Event
	if err := json.NewDecoder(r.Body).Decode(&events); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	if len(events) == 0 {
		writeError(w, http.StatusBadRequest, "batch must contain at least one event")
		return
	}
	if len(events) > maxBatchSize {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("batch size %d exceeds max %d", len(events), maxBatchSize))
		return
	}

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		res, err := h.eng.IngestSync(r.Context(), event.SourceAPI, events)
		if err != nil {
			writeError(w, ingestStatus(err), err.Error())
			return
		}
		respond(w, r, http.StatusOK, res)
		return
	}

	if err := h.eng.IngestAsync(event.SourceAPI, events); err != nil {
		writeError(w, ingestStatus(err), err.Error())
		return
	}
	respond(w, r, http.StatusAccepted, map[string]any{
		"job_id": uuid.New().String(),
		"total":  len(events),
		"queued": len(events),
	})
}

func ingestStatus(err error) int {
	switch {
	case errors.Is(err, engine.ErrQueueFull):
		return http.StatusTooManyRequests
	case errors.Is(err, engine.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	}
	return http.StatusGatewayTimeout
}

// GET /v1/timeline: flat events matching a query.
func (h *Handler) events(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	events, err := h.eng.Events(r.Context(), q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respond(w, r, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}

// GET /v1/timeline/hourly: hour-bucketed snapshot.
func (h *Handler) hourly(w http.ResponseWriter, r *http.Request) {
	q, expr, err := parseSelection(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	respond(w, r, http.StatusOK, h.eng.Hourly(q.After, q.Before, q.Cameras, expr))
}

// GET /v1/review/cards: review cards, newest first, with their day keys.
func (h *Handler) cards(w http.ResponseWriter, r *http.Request) {
	q, expr, err := parseSelection(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var loc *time.Location
	if tz := r.URL.Query().Get("tz"); tz != "" {
		if loc, err = time.LoadLocation(tz); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid tz %q", tz))
			return
		}
	}
	respond(w, r, http.StatusOK, h.eng.Cards(q.After, q.Before, q.Cameras, expr, loc))
}

// GET /v1/scrubber: scrubber track for one tracked subject.
func (h *Handler) scrubber(w http.ResponseWriter, r *http.Request) {
	sourceID := r.URL.Query().Get("source_id")
	if sourceID == "" {
		writeError(w, http.StatusBadRequest, "source_id is required")
		return
	}
	view, err := h.eng.Scrubber(r.Context(), sourceID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respond(w, r, http.StatusOK, view)
}

// POST /v1/previews: register preview clips.
func (h *Handler) addPreviews(w http.ResponseWriter, r *http.Request) {
	var previews []event.Preview
	if err := json.NewDecoder(r.Body).Decode(&previews); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	n, err := h.eng.AddPreviews(previews)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if h.archive != nil {
		if err := h.archive.SavePreviews(r.Context(), previews); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	respond(w, r, http.StatusOK, map[string]any{"stored": n})
}

// GET /v1/previews: clips overlapping a range.
func (h *Handler) listPreviews(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	after, err := floatParam(params.Get("after"), "after")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	before, err := floatParam(params.Get("before"), "before")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	previews := h.eng.Previews(params.Get("camera"), after, before)
	respond(w, r, http.StatusOK, map[string]any{"previews": previews, "count": len(previews)})
}

// GET /v1/previews/resolve: clip covering camera at ts (ms).
func (h *Handler) resolvePreview(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	camera := params.Get("camera")
	if camera == "" || params.Get("ts") == "" {
		writeError(w, http.StatusBadRequest, "camera and ts are required")
		return
	}
	ts, err := floatParam(params.Get("ts"), "ts")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, ok := h.eng.ResolvePreview(camera, ts)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no preview for %s at %v", camera, ts))
		return
	}
	respond(w, r, http.StatusOK, p)
}

// POST /v1/config/reload: re-read the config file and apply review settings.
func (h *Handler) reloadConfig(w http.ResponseWriter, r *http.Request) {
	if h.loader == nil {
		writeError(w, http.StatusNotFound, "config reload not available")
		return
	}
	cfg, err := h.loader.Reload()
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err := h.eng.SetReview(cfg.Review); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reloaded": true,
		"version":  cfg.Version,
	})
}

// GET /healthz: always 200 (liveness).
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /readyz: 503 if ingest queue >80% full.
func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	util := h.eng.QueueUtilization()
	if util > 0.8 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":            "overloaded",
			"queue_utilization": util,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ready",
		"queue_utilization": util,
	})
}

func parseQuery(r *http.Request) (event.Query, error) {
	params := r.URL.Query()
	q := event.Query{
		SourceID: params.Get("source_id"),
		Cameras:  splitList(params.Get("cameras")),
	}
	var err error
	if q.After, err = floatParam(params.Get("after"), "after"); err != nil {
		return q, err
	}
	if q.Before, err = floatParam(params.Get("before"), "before"); err != nil {
		return q, err
	}
	if s := params.Get("limit"); s != "" {
		if q.Limit, err = strconv.Atoi(s); err != nil || q.Limit < 0 {
			return q, fmt.Errorf("invalid limit %q", s)
		}
	}
	return q, nil
}

func parseSelection(r *http.Request) (event.Query, filter.Expr, error) {
	q, err := parseQuery(r)
	if err != nil {
		return q, nil, err
	}
	expr, err := filter.Parse(r.URL.Query().Get("filter"))
	if err != nil {
		return q, nil, fmt.Errorf("invalid filter: %w", err)
	}
	return q, expr, nil
}

func floatParam(s, name string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("invalid %s %q", name, s)
	}
	return v, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return lo.Compact(lo.Map(strings.Split(s, ","), func(p string, _ int) string {
		return strings.TrimSpace(p)
	}))
}
