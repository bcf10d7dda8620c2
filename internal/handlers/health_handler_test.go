package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/locationtracker/agent/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func checkHealth(t *testing.T, h *HealthHandler) (int, models.HealthResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	var resp models.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec.Code, resp
}

func TestHealthHandler(t *testing.T) {
	t.Run("ok before any session ran", func(t *testing.T) {
		code, resp := checkHealth(t, NewHealthHandler(stubPinger{}, &stubSync{}))

		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, models.HealthOK, resp.Status)
		assert.Equal(t, "never run", resp.Checks["push"])
		assert.Equal(t, models.HealthOK, resp.Checks["store"])
	})

	t.Run("a failed session degrades", func(t *testing.T) {
		sync := &stubSync{status: models.SyncStatusResponse{
			Push: models.DirectionStatus{LastResult: &models.SessionResult{Success: true}},
			Pull: models.DirectionStatus{LastResult: &models.SessionResult{Err: errors.New("remote unreachable")}},
		}}
		code, resp := checkHealth(t, NewHealthHandler(stubPinger{}, sync))

		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, models.HealthDegraded, resp.Status)
		assert.Equal(t, models.HealthOK, resp.Checks["push"])
		assert.Equal(t, "remote unreachable", resp.Checks["pull"])
	})

	t.Run("an unreachable store is unavailable", func(t *testing.T) {
		code, resp := checkHealth(t, NewHealthHandler(stubPinger{err: errors.New("disk I/O error")}, &stubSync{}))

		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, models.HealthUnavailable, resp.Status)
		assert.Equal(t, "disk I/O error", resp.Checks["store"])
	})
}

func TestVersionHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	NewVersionHandler("mongodb")(rec, httptest.NewRequest(http.MethodGet, "/api/version", nil))

	var resp VersionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, Version, resp.Version)
	assert.Equal(t, "mongodb", resp.Remote)
	assert.NotEmpty(t, resp.GoVersion)
}
