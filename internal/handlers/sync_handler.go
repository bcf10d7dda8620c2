package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/locationtracker/agent/internal/models"
	"github.com/locationtracker/agent/internal/observability"
)

// SyncController is the part of the coordinator the HTTP surface drives
type SyncController interface {
	RequestSync(d models.Direction) <-chan models.SessionResult
	Status() models.SyncStatusResponse
}

// Scheduled reports periodic replication
type Scheduled interface {
	Schedule() models.ScheduleStatus
}

// SyncHandler exposes replication control
type SyncHandler struct {
	sync     SyncController
	schedule Scheduled
}

// NewSyncHandler creates a new SyncHandler. schedule may be nil.
func NewSyncHandler(sync SyncController, schedule Scheduled) *SyncHandler {
	return &SyncHandler{sync: sync, schedule: schedule}
}

// TriggerSync requests a session for the direction in the path.
// With ?wait=true the response carries the session result.
func (h *SyncHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	direction, err := models.ParseDirection(chi.URLParam(r, "direction"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	done := h.sync.RequestSync(direction)
	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
	if !wait {
		respondJSON(w, http.StatusAccepted, models.SyncRequestResponse{Direction: direction, Started: true})
		return
	}

	select {
	case result := <-done:
		resp := models.SyncRequestResponse{Direction: direction, Started: true, Result: &result}
		status := http.StatusOK
		if !result.Success {
			resp.Error = result.Error()
			status = http.StatusBadGateway
		}
		respondJSON(w, status, resp)
	case <-r.Context().Done():
		observability.WithContext(r.Context()).Warnf("Client stopped waiting for %s sync", direction)
	}
}

// GetSyncStatus returns both directions' state and the schedule
func (h *SyncHandler) GetSyncStatus(w http.ResponseWriter, r *http.Request) {
	status := h.sync.Status()
	if h.schedule != nil {
		schedule := h.schedule.Schedule()
		status.Schedule = &schedule
	}
	respondJSON(w, http.StatusOK, status)
}
