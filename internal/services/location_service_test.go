package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/locationtracker/agent/internal/models"
	"github.com/locationtracker/agent/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingRequester struct {
	mu       sync.Mutex
	requests []models.Direction
}

func (r *recordingRequester) RequestSync(d models.Direction) <-chan models.SessionResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, d)
	ch := make(chan models.SessionResult, 1)
	ch <- models.SessionResult{Direction: d, Success: true}
	return ch
}

func TestLocationService_Record(t *testing.T) {
	ctx := context.Background()

	t.Run("stores an unsynchronized fix and requests a push", func(t *testing.T) {
		store := repository.NewMemoryStore()
		req := &recordingRequester{}
		svc := NewLocationService(store, req, nil, "alice", "s1")

		before := models.NowMillis()
		rec, err := svc.Record(ctx, 37.5, -122.3, true)
		require.NoError(t, err)
		assert.NotEmpty(t, rec.ID)
		assert.Equal(t, "alice", rec.Username)
		require.NotNil(t, rec.SessionID)
		assert.Equal(t, "s1", *rec.SessionID)
		assert.True(t, rec.Background)
		assert.GreaterOrEqual(t, rec.Timestamp, before)

		pending, err := store.GetUnsynchronized(ctx, models.KindLocation)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, rec.ID, pending[0].RecordID())
		assert.Equal(t, []models.Direction{models.DirectionPush}, req.requests)
	})

	t.Run("without a session", func(t *testing.T) {
		svc := NewLocationService(repository.NewMemoryStore(), &recordingRequester{}, nil, "alice", "")
		rec, err := svc.Record(ctx, 1, 2, false)
		require.NoError(t, err)
		assert.Nil(t, rec.SessionID)
	})

	t.Run("rejects invalid coordinates", func(t *testing.T) {
		store := repository.NewMemoryStore()
		req := &recordingRequester{}
		svc := NewLocationService(store, req, nil, "alice", "")

		_, err := svc.Record(ctx, 91, 0, false)
		assert.ErrorIs(t, err, models.ErrInvalidLatitude)
		_, err = svc.Record(ctx, 0, 181, false)
		assert.ErrorIs(t, err, models.ErrInvalidLongitude)

		recs, err := store.GetAll(ctx, models.KindLocation)
		require.NoError(t, err)
		assert.Empty(t, recs)
		assert.Empty(t, req.requests)
	})

	t.Run("rejects an empty username", func(t *testing.T) {
		svc := NewLocationService(repository.NewMemoryStore(), &recordingRequester{}, nil, " ", "")
		_, err := svc.Record(ctx, 1, 2, false)
		assert.ErrorIs(t, err, models.ErrEmptyUsername)
	})

	t.Run("place lookup failures do not fail the recording", func(t *testing.T) {
		places := NewPlaceService("http://127.0.0.1:1", 100, repository.NewMemoryStore(), nil, time.Minute, nil)
		svc := NewLocationService(repository.NewMemoryStore(), &recordingRequester{}, places, "alice", "")

		rec, err := svc.Record(ctx, 1, 2, false)
		require.NoError(t, err)
		assert.NotNil(t, rec)
	})

	t.Run("pushes through the coordinator end to end", func(t *testing.T) {
		store := repository.NewMemoryStore()
		rem := newFakeRemote()
		coord := NewSyncCoordinator(store, rem, time.Minute, nil)
		svc := NewLocationService(store, coord, nil, "alice", "")

		_, err := svc.Record(ctx, 37.5, -122.3, false)
		require.NoError(t, err)
		require.NoError(t, coord.Wait(ctx))

		pending, err := store.GetUnsynchronized(ctx, models.KindLocation)
		require.NoError(t, err)
		assert.Empty(t, pending)
		_, submits := rem.calls()
		assert.Equal(t, 1, submits)
	})
}

func TestLocationService_LocationsAndLogout(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	seed(t, store, true, storedLocation("b", 2), storedLocation("a", 1))
	places := NewPlaceService("", 100, store, nil, time.Minute, nil)
	svc := NewLocationService(store, &recordingRequester{}, places, "alice", "")

	locs, err := svc.Locations(ctx)
	require.NoError(t, err)
	require.Len(t, locs, 2)
	assert.Equal(t, "a", locs[0].ID)

	require.NoError(t, svc.Logout(ctx))
	locs, err = svc.Locations(ctx)
	require.NoError(t, err)
	assert.Empty(t, locs)
}
