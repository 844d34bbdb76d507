package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"reqshield/internal/models"
	"reqshield/internal/ratelimit"
	"reqshield/internal/storage"
	"reqshield/internal/version"
)

// Handlers contains the HTTP handlers served by reqshield itself: health and
// the defense admin API. Everything else is proxied upstream.
type Handlers struct {
	engine  *ratelimit.Engine
	store   storage.SnapshotStore
	version version.Info
	started time.Time
}

// HandlerOption configures optional Handlers dependencies.
type HandlerOption func(*Handlers)

// WithSnapshotStore makes the health check report the snapshot backend.
func WithSnapshotStore(store storage.SnapshotStore) HandlerOption {
	return func(h *Handlers) {
		h.store = store
	}
}

// WithVersion sets the build information reported by the health check.
func WithVersion(ver version.Info) HandlerOption {
	return func(h *Handlers) {
		h.version = ver
	}
}

// NewHandlers creates a new handlers instance
func NewHandlers(engine *ratelimit.Engine, opts ...HandlerOption) *Handlers {
	h := &Handlers{
		engine:  engine,
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HealthCheck handles health check requests
// GET /health
// Reports unhealthy with 503 when the snapshot backend cannot be reached.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := models.HealthCheckResponse{
		Status:    models.StatusHealthy,
		Timestamp: time.Now().UTC(),
		Version:   h.version.Version,
		Uptime:    time.Since(h.started).Round(time.Second).String(),
	}

	status := http.StatusOK
	if h.store != nil {
		if err := h.store.Ping(r.Context()); err != nil {
			slog.Warn("Snapshot store health check failed", "error", err)
			response.Status = models.StatusUnhealthy
			status = http.StatusServiceUnavailable
		}
	}

	h.writeJSONResponse(w, status, response)
}

// writeJSONResponse writes a JSON response
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	writeJSON(w, statusCode, data)
}

// writeErrorResponse writes an error response
func (h *Handlers) writeErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) {
	writeJSON(w, statusCode, models.NewErrorResponse(message, errorCode))
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already written, nothing else can be sent
		slog.Error("Error encoding JSON response", "error", err)
	}
}
