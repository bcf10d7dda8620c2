package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/locationtracker/agent/internal/models"
)

// Pinger reports whether the local store can be reached
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports whether the agent can record and replicate
type HealthHandler struct {
	store Pinger
	sync  SyncController
}

// NewHealthHandler creates a new HealthHandler
func NewHealthHandler(store Pinger, sync SyncController) *HealthHandler {
	return &HealthHandler{store: store, sync: sync}
}

// HealthCheck answers 503 when the local store is unreachable. A failed last
// session only degrades the status; the agent keeps recording offline.
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := models.HealthResponse{
		Status:    models.HealthOK,
		Timestamp: time.Now().UTC(),
		Checks:    map[string]string{},
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		resp.Status = models.HealthUnavailable
		resp.Checks["store"] = err.Error()
		respondJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	resp.Checks["store"] = models.HealthOK

	status := h.sync.Status()
	for d, st := range map[models.Direction]models.DirectionStatus{
		models.DirectionPush: status.Push,
		models.DirectionPull: status.Pull,
	} {
		switch {
		case st.LastResult == nil:
			resp.Checks[d.String()] = "never run"
		case st.LastResult.Success:
			resp.Checks[d.String()] = models.HealthOK
		default:
			resp.Checks[d.String()] = failureReason(*st.LastResult)
			resp.Status = models.HealthDegraded
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

func failureReason(r models.SessionResult) string {
	if msg := r.Error(); msg != "" {
		return msg
	}
	if r.Reason != "" {
		return r.Reason
	}
	return "failed"
}
