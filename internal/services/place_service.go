package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/locationtracker/agent/internal/cache"
	"github.com/locationtracker/agent/internal/codec"
	"github.com/locationtracker/agent/internal/models"
	"github.com/locationtracker/agent/internal/observability"
	"github.com/locationtracker/agent/internal/repository"
)

// PlaceService looks up places near recorded fixes and keeps them in the local store.
// Places are not replicated.
type PlaceService struct {
	baseURL    string
	radius     float64
	httpClient *http.Client
	cache      PlaceCache
	cacheTTL   time.Duration
	store      repository.LocalStore
	places     *models.PlaceSet
	observer   Observer
}

// PlaceCache keeps raw search rows between lookups. *cache.Cache implements it.
type PlaceCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type placesResponse struct {
	Rows []codec.Document `json:"rows"`
}

// NewPlaceService creates a place lookup against baseURL. cache and observer may be nil.
func NewPlaceService(baseURL string, radiusMeters float64, store repository.LocalStore, c PlaceCache, cacheTTL time.Duration, observer Observer) *PlaceService {
	if c == nil {
		c = &cache.Cache{}
	}
	return &PlaceService{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		radius:     radiusMeters,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		cache:      c,
		cacheTTL:   cacheTTL,
		store:      store,
		places:     models.NewPlaceSet(),
		observer:   observer,
	}
}

// Enabled reports whether a place search endpoint is configured
func (s *PlaceService) Enabled() bool {
	return s.baseURL != ""
}

// Load fills the in-memory set from the local store
func (s *PlaceService) Load(ctx context.Context) error {
	recs, err := s.store.GetAll(ctx, models.KindPlace)
	if err != nil {
		return err
	}
	s.places.Clear()
	for _, rec := range recs {
		if p, ok := rec.(*models.PlaceRecord); ok {
			s.places.Add(p)
		}
	}
	return nil
}

// Places returns the known places
func (s *PlaceService) Places() []*models.PlaceRecord {
	return s.places.Places()
}

// Reset forgets every known place
func (s *PlaceService) Reset() {
	s.places.Clear()
}

// Nearby returns the places containing pos. Newly seen places are stored locally
// and observers are told the place list changed.
func (s *PlaceService) Nearby(ctx context.Context, pos models.GeoPoint) ([]*models.PlaceRecord, error) {
	if !s.Enabled() {
		return nil, nil
	}

	ctx, span := observability.StartPlaceLookupSpan(ctx, pos)
	found, err := s.nearby(ctx, pos)
	observability.Finish(span, err)
	return found, err
}

func (s *PlaceService) nearby(ctx context.Context, pos models.GeoPoint) ([]*models.PlaceRecord, error) {
	rows, err := s.rows(ctx, pos)
	if err != nil {
		return nil, err
	}

	logger := observability.WithContext(ctx)
	found := make([]*models.PlaceRecord, 0, len(rows))
	batch := models.NewPlaceSet()
	var added []*models.PlaceRecord
	for _, row := range rows {
		place, err := codec.DecodePlaceRow(row)
		if err != nil {
			logger.Warnf("Skipping place row: %v", err)
			continue
		}
		found = append(found, place)
		if !s.places.Contains(place) && batch.Add(place) {
			added = append(added, place)
		}
	}

	if len(added) > 0 {
		err := s.store.WithTx(ctx, func(tx repository.StoreTx) error {
			for _, place := range added {
				if err := tx.Upsert(ctx, place, true); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return found, err
		}
		// Only committed places become known, so a failed write is retried next lookup
		for _, place := range added {
			s.places.Add(place)
		}
		if s.observer != nil {
			s.observer.LocalRecordsChanged(models.KindPlace)
		}
	}

	return found, nil
}

func (s *PlaceService) rows(ctx context.Context, pos models.GeoPoint) ([]codec.Document, error) {
	key := cacheKey(pos, s.radius)

	var rows []codec.Document
	err := s.cache.Get(ctx, key, &rows)
	if err == nil {
		return rows, nil
	}
	switch {
	case errors.Is(err, cache.ErrMiss):
	case errors.Is(err, cache.ErrCorrupt):
		observability.Warnf("Dropping place cache entry: %v", err)
		if err := s.cache.Delete(ctx, key); err != nil {
			observability.Warnf("Place cache delete failed: %v", err)
		}
	default:
		observability.Warnf("Place cache read failed: %v", err)
	}

	rows, err = s.fetch(ctx, pos)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, key, rows, s.cacheTTL); err != nil {
		observability.Warnf("Place cache write failed: %v", err)
	}
	return rows, nil
}

func (s *PlaceService) fetch(ctx context.Context, pos models.GeoPoint) ([]codec.Document, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(pos.Latitude, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(pos.Longitude, 'f', -1, 64))
	q.Set("radius", strconv.FormatFloat(s.radius, 'f', -1, 64))
	q.Set("relation", "contains")
	q.Set("nearest", "true")
	q.Set("include_docs", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/api/places?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("place search failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("place search returned status %d", resp.StatusCode)
	}

	var body placesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("invalid place search response: %w", err)
	}
	return body.Rows, nil
}

// cacheKey rounds to about 11m so nearby fixes share cached results
func cacheKey(pos models.GeoPoint, radius float64) string {
	return fmt.Sprintf("nearby:%.4f:%.4f:%g", pos.Latitude, pos.Longitude, radius)
}
