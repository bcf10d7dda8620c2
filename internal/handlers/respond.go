package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/locationtracker/agent/internal/models"
	"github.com/locationtracker/agent/internal/observability"
)

func respondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		observability.Debugf("Writing %d response: %v", status, err)
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, models.ErrorResponse{Error: msg})
}
