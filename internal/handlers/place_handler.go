package handlers

import (
	"net/http"
	"strconv"

	"github.com/locationtracker/agent/internal/models"
	"github.com/locationtracker/agent/internal/observability"
	"github.com/locationtracker/agent/internal/services"
)

// PlaceHandler handles place endpoints
type PlaceHandler struct {
	places *services.PlaceService
}

// NewPlaceHandler creates a new PlaceHandler
func NewPlaceHandler(places *services.PlaceService) *PlaceHandler {
	return &PlaceHandler{places: places}
}

// ListPlaces returns known places. With lat and lon it returns the places
// containing that point, looking them up remotely.
func (h *PlaceHandler) ListPlaces(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("lat") == "" && q.Get("lon") == "" {
		places := h.places.Places()
		respondJSON(w, http.StatusOK, models.PlaceListResponse{Places: places, TotalCount: len(places)})
		return
	}

	lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
	lon, errLon := strconv.ParseFloat(q.Get("lon"), 64)
	if errLat != nil || errLon != nil {
		respondError(w, http.StatusBadRequest, "lat and lon must be numbers")
		return
	}
	pos, err := models.NewGeoPoint(lat, lon)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	places, err := h.places.Nearby(r.Context(), pos)
	if err != nil {
		observability.WithContext(r.Context()).Warnf("Nearby place lookup failed: %v", err)
		respondError(w, http.StatusBadGateway, "Place search failed")
		return
	}
	if places == nil {
		places = []*models.PlaceRecord{}
	}
	respondJSON(w, http.StatusOK, models.PlaceListResponse{Places: places, TotalCount: len(places)})
}
