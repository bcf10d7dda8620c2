package models

import "time"

// RecordLocationRequest is the body of POST /api/locations
type RecordLocationRequest struct {
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	Background bool    `json:"background"`
}

// LocationListResponse is returned when listing local locations
type LocationListResponse struct {
	Locations  []*LocationRecord `json:"locations"`
	TotalCount int               `json:"totalCount"`
}

// PlaceListResponse is returned when listing local places
type PlaceListResponse struct {
	Places     []*PlaceRecord `json:"places"`
	TotalCount int            `json:"totalCount"`
}

// Health statuses
const (
	HealthOK          = "ok"
	HealthDegraded    = "degraded"
	HealthUnavailable = "unavailable"
)

// HealthResponse for GET /health. Checks maps store, push and pull to "ok" or a reason.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}
