package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/locationtracker/agent/internal/models"
	"github.com/locationtracker/agent/internal/observability"
	"github.com/locationtracker/agent/internal/services"
)

// LocationHandler handles location endpoints
type LocationHandler struct {
	locations *services.LocationService
}

// NewLocationHandler creates a new LocationHandler
func NewLocationHandler(locations *services.LocationService) *LocationHandler {
	return &LocationHandler{locations: locations}
}

// RecordLocation stores a new fix
func (h *LocationHandler) RecordLocation(w http.ResponseWriter, r *http.Request) {
	var req models.RecordLocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	rec, err := h.locations.Record(r.Context(), req.Latitude, req.Longitude, req.Background)
	if err != nil {
		var modelErr models.ModelError
		if errors.As(err, &modelErr) {
			respondError(w, http.StatusBadRequest, modelErr.Message)
			return
		}
		observability.WithContext(r.Context()).Errorf("Error recording location: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to record location")
		return
	}

	respondJSON(w, http.StatusCreated, rec)
}

// ListLocations returns every local fix, oldest first
func (h *LocationHandler) ListLocations(w http.ResponseWriter, r *http.Request) {
	locs, err := h.locations.Locations(r.Context())
	if err != nil {
		observability.WithContext(r.Context()).Errorf("Error listing locations: %v", err)
		respondError(w, http.StatusInternalServerError, "Database error")
		return
	}

	respondJSON(w, http.StatusOK, models.LocationListResponse{
		Locations:  locs,
		TotalCount: len(locs),
	})
}

// ClearLocations logs out by clearing the local store
func (h *LocationHandler) ClearLocations(w http.ResponseWriter, r *http.Request) {
	if err := h.locations.Logout(r.Context()); err != nil {
		observability.WithContext(r.Context()).Errorf("Error clearing local store: %v", err)
		respondError(w, http.StatusInternalServerError, "Database error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
