package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"reqshield/internal/models"
	"reqshield/internal/ratelimit"
)

// maxAdminBody bounds the size of admin request bodies.
const maxAdminBody = 1 << 16

func quarantineInfo(q ratelimit.Quarantine) models.QuarantineInfo {
	return models.QuarantineInfo{
		Key:        q.Key,
		Reason:     q.Reason,
		Violations: q.Violations,
		FlaggedAt:  q.FlaggedAt,
		ExpiresAt:  q.ExpiresAt,
	}
}

// DefenseStats returns tracked key counts and per-class decision totals
// GET /admin/defense/stats
func (h *Handlers) DefenseStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSONResponse(w, http.StatusOK, h.engine.Stats())
}

// ListBlocked returns the live quarantine list
// GET /admin/defense/blocked
func (h *Handlers) ListBlocked(w http.ResponseWriter, r *http.Request) {
	entries := h.engine.Registry().List()

	response := models.ListQuarantineResponse{
		Keys:       make([]models.QuarantineInfo, 0, len(entries)),
		TotalCount: len(entries),
	}
	for _, q := range entries {
		response.Keys = append(response.Keys, quarantineInfo(q))
	}

	h.writeJSONResponse(w, http.StatusOK, response)
}

// Block quarantines a key manually
// POST /admin/defense/blocked
func (h *Handlers) Block(w http.ResponseWriter, r *http.Request) {
	var req models.QuarantineRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAdminBody)).Decode(&req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeInvalidRequest, "Invalid JSON body")
		return
	}

	req.Key = strings.TrimSpace(req.Key)
	if req.Key == "" {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeInvalidRequest, "key is required")
		return
	}
	if req.Reason == "" {
		req.Reason = ratelimit.ReasonManual
	}

	q := h.engine.Registry().Flag(req.Key, req.Reason)
	slog.Info("Admin quarantine", "key", q.Key, "reason", q.Reason, "remote_addr", r.RemoteAddr)

	h.writeJSONResponse(w, http.StatusCreated, quarantineInfo(q))
}

// Unblock removes a key from quarantine
// DELETE /admin/defense/blocked/{key}
func (h *Handlers) Unblock(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	if !h.engine.Registry().Unblock(key) {
		h.writeErrorResponse(w, http.StatusNotFound, models.ErrorCodeNotFound, "key is not quarantined")
		return
	}
	slog.Info("Admin unblock", "key", key, "remote_addr", r.RemoteAddr)

	h.writeJSONResponse(w, http.StatusOK, models.MessageResponse{Message: "key unblocked"})
}
