package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// LocationRecord is a single GPS fix recorded by the client.
// ID is the only identity used when matching local and remote copies.
type LocationRecord struct {
	ID         string   `json:"id"`
	Timestamp  int64    `json:"timestamp"`
	Position   GeoPoint `json:"position"`
	Username   string   `json:"username"`
	SessionID  *string  `json:"sessionId,omitempty"`
	Background bool     `json:"background"`
}

// NewLocationRecord creates a fix with a fresh identity stamped with the current time
func NewLocationRecord(username string, sessionID *string, position GeoPoint, background bool) (*LocationRecord, error) {
	if strings.TrimSpace(username) == "" {
		return nil, ErrEmptyUsername
	}
	if _, err := NewGeoPoint(position.Latitude, position.Longitude); err != nil {
		return nil, err
	}

	return &LocationRecord{
		ID:         uuid.New().String(),
		Timestamp:  NowMillis(),
		Position:   position,
		Username:   username,
		SessionID:  sessionID,
		Background: background,
	}, nil
}

func (r *LocationRecord) RecordID() string {
	return r.ID
}

func (r *LocationRecord) Kind() RecordKind {
	return KindLocation
}

// Time returns the fix timestamp as a UTC time
func (r *LocationRecord) Time() time.Time {
	return time.UnixMilli(r.Timestamp).UTC()
}

// NowMillis returns the wall clock in milliseconds since the Unix epoch
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
