package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/locationtracker/agent/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSync struct {
	requested []models.Direction
	result    models.SessionResult
	status    models.SyncStatusResponse
}

func (s *stubSync) RequestSync(d models.Direction) <-chan models.SessionResult {
	s.requested = append(s.requested, d)
	ch := make(chan models.SessionResult, 1)
	res := s.result
	res.Direction = d
	ch <- res
	return ch
}

func (s *stubSync) Status() models.SyncStatusResponse {
	return s.status
}

type stubSchedule models.ScheduleStatus

func (s stubSchedule) Schedule() models.ScheduleStatus { return models.ScheduleStatus(s) }

func syncRouter(s SyncController, schedule ...Scheduled) http.Handler {
	var sched Scheduled
	if len(schedule) > 0 {
		sched = schedule[0]
	}
	h := NewSyncHandler(s, sched)
	r := chi.NewRouter()
	r.Post("/api/sync/{direction}", h.TriggerSync)
	r.Get("/api/sync/status", h.GetSyncStatus)
	return r
}

func TestSyncHandler_TriggerSync(t *testing.T) {
	t.Run("accepts a request", func(t *testing.T) {
		stub := &stubSync{}
		rec := httptest.NewRecorder()
		syncRouter(stub).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sync/push", nil))

		assert.Equal(t, http.StatusAccepted, rec.Code)
		assert.JSONEq(t, `{"direction":"push","started":true}`, rec.Body.String())
		assert.Equal(t, []models.Direction{models.DirectionPush}, stub.requested)
	})

	t.Run("waits for the result", func(t *testing.T) {
		stub := &stubSync{result: models.SessionResult{Success: true, ChangesProcessed: 4, Skipped: 1}}
		rec := httptest.NewRecorder()
		syncRouter(stub).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sync/pull?wait=true", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		var resp models.SyncRequestResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.NotNil(t, resp.Result)
		assert.Equal(t, models.DirectionPull, resp.Result.Direction)
		assert.Equal(t, 4, resp.Result.ChangesProcessed)
		assert.Equal(t, 1, resp.Result.Skipped)
	})

	t.Run("reports failed sessions", func(t *testing.T) {
		stub := &stubSync{result: models.SessionResult{Err: errors.New("remote fetch changes: status 503")}}
		rec := httptest.NewRecorder()
		syncRouter(stub).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sync/pull?wait=true", nil))

		assert.Equal(t, http.StatusBadGateway, rec.Code)
		var resp models.SyncRequestResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Contains(t, resp.Error, "503")
	})

	t.Run("rejects unknown directions", func(t *testing.T) {
		stub := &stubSync{}
		rec := httptest.NewRecorder()
		syncRouter(stub).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sync/sideways", nil))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, stub.requested)
	})
}

func TestSyncHandler_GetSyncStatus(t *testing.T) {
	stub := &stubSync{status: models.SyncStatusResponse{
		Push: models.DirectionStatus{Active: true, Pending: true},
	}}
	rec := httptest.NewRecorder()
	syncRouter(stub).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sync/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"push":{"active":true,"pending":true},"pull":{"active":false,"pending":false}}`, rec.Body.String())

	t.Run("includes the schedule", func(t *testing.T) {
		rec := httptest.NewRecorder()
		schedule := stubSchedule{Enabled: true, IntervalSeconds: 300, Ticks: 2}
		syncRouter(stub, schedule).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sync/status", nil))

		var resp models.SyncStatusResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.NotNil(t, resp.Schedule)
		assert.Equal(t, 300, resp.Schedule.IntervalSeconds)
		assert.Equal(t, 2, resp.Schedule.Ticks)
	})
}
