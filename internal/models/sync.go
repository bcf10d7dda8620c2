package models

import (
	"strings"
	"time"
)

// Direction is a replication flow: push copies local data to the remote store,
// pull copies remote data into the local store.
type Direction string

const (
	DirectionPush Direction = "push"
	DirectionPull Direction = "pull"
)

// ParseDirection converts user input into a Direction
func ParseDirection(s string) (Direction, error) {
	switch Direction(strings.ToLower(strings.TrimSpace(s))) {
	case DirectionPush:
		return DirectionPush, nil
	case DirectionPull:
		return DirectionPull, nil
	default:
		return "", ErrUnknownDirection
	}
}

func (d Direction) String() string {
	return string(d)
}

// SessionResult reports the outcome of one replication session
type SessionResult struct {
	Direction        Direction `json:"direction"`
	Success          bool      `json:"success"`
	ChangesProcessed int       `json:"changesProcessed"`
	Skipped          int       `json:"skipped"`
	Rejected         int       `json:"rejected"`
	Err              error     `json:"-"`
	Reason           string    `json:"reason,omitempty"`
	StartedAt        time.Time `json:"startedAt"`
	FinishedAt       time.Time `json:"finishedAt"`
}

// Error returns the failure reason, or an empty string for successful sessions
func (r SessionResult) Error() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Duration returns how long the session ran
func (r SessionResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// DirectionStatus is a point-in-time view of one direction's state
type DirectionStatus struct {
	Active     bool           `json:"active"`
	Pending    bool           `json:"pending"`
	LastResult *SessionResult `json:"lastResult,omitempty"`
}

// ScheduleStatus describes periodic replication
type ScheduleStatus struct {
	Enabled         bool       `json:"enabled"`
	IntervalSeconds int        `json:"intervalSeconds"`
	Ticks           int        `json:"ticks"`
	LastRun         *time.Time `json:"lastRun,omitempty"`
	NextRun         *time.Time `json:"nextRun,omitempty"`
}

// SyncStatusResponse for GET /api/sync/status
type SyncStatusResponse struct {
	Push     DirectionStatus `json:"push"`
	Pull     DirectionStatus `json:"pull"`
	Schedule *ScheduleStatus `json:"schedule,omitempty"`
}

// SyncRequestResponse for POST /api/sync/{direction}
type SyncRequestResponse struct {
	Direction Direction      `json:"direction"`
	Started   bool           `json:"started"`
	Result    *SessionResult `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
}
