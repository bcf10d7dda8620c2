package services

import (
	"context"

	"github.com/locationtracker/agent/internal/models"
	"github.com/locationtracker/agent/internal/observability"
	"github.com/locationtracker/agent/internal/repository"
)

// SyncRequester starts replication sessions
type SyncRequester interface {
	RequestSync(d models.Direction) <-chan models.SessionResult
}

// LocationService records fixes for one user
type LocationService struct {
	store     repository.LocalStore
	sync      SyncRequester
	places    *PlaceService
	username  string
	sessionID *string
}

// NewLocationService creates a LocationService. places may be nil; an empty
// sessionID records fixes without a session.
func NewLocationService(store repository.LocalStore, sync SyncRequester, places *PlaceService, username, sessionID string) *LocationService {
	s := &LocationService{
		store:    store,
		sync:     sync,
		places:   places,
		username: username,
	}
	if sessionID != "" {
		s.sessionID = &sessionID
	}
	return s
}

// Record stores a new fix, requests a push and refreshes nearby places.
// A failed place lookup does not fail the recording.
func (s *LocationService) Record(ctx context.Context, latitude, longitude float64, background bool) (*models.LocationRecord, error) {
	pos, err := models.NewGeoPoint(latitude, longitude)
	if err != nil {
		return nil, err
	}

	rec, err := models.NewLocationRecord(s.username, s.sessionID, pos, background)
	if err != nil {
		return nil, err
	}

	err = s.store.WithTx(ctx, func(tx repository.StoreTx) error {
		return tx.Upsert(ctx, rec, false)
	})
	if err != nil {
		return nil, err
	}

	observability.WithContext(ctx).ForRecord(models.KindLocation, rec.ID).Debug("Recorded location")
	s.sync.RequestSync(models.DirectionPush)

	if s.places != nil {
		if _, err := s.places.Nearby(ctx, pos); err != nil {
			observability.WithContext(ctx).Warnf("Nearby place lookup failed: %v", err)
		}
	}
	return rec, nil
}

// Locations returns every stored fix, oldest first
func (s *LocationService) Locations(ctx context.Context) ([]*models.LocationRecord, error) {
	recs, err := s.store.GetAll(ctx, models.KindLocation)
	if err != nil {
		return nil, err
	}
	out := make([]*models.LocationRecord, 0, len(recs))
	for _, rec := range recs {
		if loc, ok := rec.(*models.LocationRecord); ok {
			out = append(out, loc)
		}
	}
	return out, nil
}

// Logout removes every local record and cursor
func (s *LocationService) Logout(ctx context.Context) error {
	if err := s.store.DeleteAll(ctx); err != nil {
		return err
	}
	if s.places != nil {
		s.places.Reset()
	}
	observability.WithContext(ctx).Info("Local store cleared")
	return nil
}
