// Package api exposes the operator-facing HTTP surface: stream CRUD,
// metrics reads, incident workflow, and the WebSocket event push. Handlers
// are thin projections over the supervisor and incident manager; all
// engine semantics live below this layer.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kvkushal/hls-stream-ops/internal/incident"
	"github.com/kvkushal/hls-stream-ops/internal/monitor"
)

// maxMetricsMinutes caps the charting range a single request may ask for.
const maxMetricsMinutes = 60

// StreamStore persists the registered stream set.
type StreamStore interface {
	Save(streams []monitor.StreamConfig) error
}

// Handler wires HTTP routes to the engine.
type Handler struct {
	sup       *monitor.Supervisor
	incidents *incident.Manager
	store     StreamStore // may be nil
	hub       *Hub        // may be nil
	log       *slog.Logger

	// ThumbnailDir, when set, is served at /thumbnails/ so timeline
	// thumbnail URLs resolve.
	ThumbnailDir string
}

// NewHandler creates a Handler. store and hub may be nil to disable
// persistence and the WebSocket endpoint (e.g. in tests).
func NewHandler(sup *monitor.Supervisor, incidents *incident.Manager, store StreamStore, hub *Hub, log *slog.Logger) *Handler {
	return &Handler{sup: sup, incidents: incidents, store: store, hub: hub, log: log}
}

// Router builds the chi route tree.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(RequestLogger(h.log))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.serviceHealth)

		r.Route("/streams", func(r chi.Router) {
			r.Get("/", h.listStreams)
			r.Post("/", h.addStream)
			r.Get("/{id}", h.getStream)
			r.Delete("/{id}", h.deleteStream)
			r.Get("/{id}/metrics", h.streamMetrics)
		})

		r.Route("/incidents", func(r chi.Router) {
			r.Get("/", h.listIncidents)
			r.Get("/{id}", h.getIncident)
			r.Post("/{id}/acknowledge", h.acknowledgeIncident)
		})
	})

	if h.hub != nil {
		r.Get("/ws/streams/{id}", h.hub.ServeStream)
	}

	if h.ThumbnailDir != "" {
		fs := http.StripPrefix("/thumbnails/", http.FileServer(http.Dir(h.ThumbnailDir)))
		r.Get("/thumbnails/*", fs.ServeHTTP)
	}

	return r
}

func (h *Handler) serviceHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"streams":          h.sup.StreamCount(),
		"active_incidents": h.incidents.ActiveCount(),
	})
}

func (h *Handler) listStreams(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"streams": h.sup.ListStreams(),
	})
}

func (h *Handler) addStream(w http.ResponseWriter, r *http.Request) {
	var cfg monitor.StreamConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if cfg.ID == "" {
		cfg.ID = "stream-" + uuid.NewString()[:8]
	}
	if cfg.Name == "" {
		cfg.Name = cfg.ID
	}

	if err := h.sup.AddStream(r.Context(), cfg); err != nil {
		switch {
		case errors.Is(err, monitor.ErrStreamExists):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	h.persist()
	h.log.Info("stream_registered", "stream_id", cfg.ID, "url", cfg.URL)
	writeJSON(w, http.StatusCreated, cfg)
}

func (h *Handler) getStream(w http.ResponseWriter, r *http.Request) {
	details, err := h.sup.StreamDetails(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, details)
}

func (h *Handler) deleteStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.sup.RemoveStream(id); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	h.persist()
	h.log.Info("stream_deregistered", "stream_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) streamMetrics(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	minutes := 10
	if v := r.URL.Query().Get("minutes"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "minutes must be a positive integer")
			return
		}
		minutes = n
	}
	if minutes > maxMetricsMinutes {
		minutes = maxMetricsMinutes
	}

	points, states, err := h.sup.Series(id, time.Duration(minutes)*time.Minute)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	details, err := h.sup.StreamDetails(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"stream_id":        id,
		"minutes":          minutes,
		"points":           points,
		"health_timeline":  states,
		"ttfb_percentiles": details.Percentiles,
	})
}

func (h *Handler) listIncidents(w http.ResponseWriter, r *http.Request) {
	streamID := r.URL.Query().Get("stream_id")
	activeOnly := strings.EqualFold(r.URL.Query().Get("active_only"), "true")

	writeJSON(w, http.StatusOK, map[string]any{
		"incidents": h.incidents.List(streamID, activeOnly),
	})
}

func (h *Handler) getIncident(w http.ResponseWriter, r *http.Request) {
	inc := h.incidents.ByID(chi.URLParam(r, "id"))
	if inc == nil {
		writeError(w, http.StatusNotFound, "incident not found")
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

func (h *Handler) acknowledgeIncident(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	inc := h.incidents.Acknowledge(id)
	if inc == nil {
		writeError(w, http.StatusNotFound, "incident not found or already resolved")
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

// persist saves the current stream set. Failures are logged, never
// surfaced to the client: the in-memory registry is authoritative.
func (h *Handler) persist() {
	if h.store == nil {
		return
	}
	if err := h.store.Save(h.sup.Configs()); err != nil {
		h.log.Error("streams_persist_failed", "error", err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
