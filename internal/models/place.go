package models

import "sync"

// PlaceRecord is a named point of interest found near a recorded location.
// Places returned by the remote search carry the remote id; locally created ones may not.
type PlaceRecord struct {
	ID        *string  `json:"id,omitempty"`
	Name      string   `json:"name"`
	Position  GeoPoint `json:"position"`
	Timestamp int64    `json:"timestamp"`
}

// NewPlaceRecord creates a place stamped with the local creation time
func NewPlaceRecord(id *string, name string, position GeoPoint) *PlaceRecord {
	return &PlaceRecord{
		ID:        id,
		Name:      name,
		Position:  position,
		Timestamp: NowMillis(),
	}
}

// RecordID returns the place id, or an empty string for places without one
func (p *PlaceRecord) RecordID() string {
	if p.ID == nil {
		return ""
	}
	return *p.ID
}

func (p *PlaceRecord) Kind() RecordKind {
	return KindPlace
}

// SamePlace reports whether both places carry the same non-nil id
func (p *PlaceRecord) SamePlace(other *PlaceRecord) bool {
	if p.ID == nil || other == nil || other.ID == nil {
		return false
	}
	return *p.ID == *other.ID
}

// PlaceSet is an ordered, concurrency-safe collection of places unique by id
type PlaceSet struct {
	mu     sync.RWMutex
	places []*PlaceRecord
}

// NewPlaceSet creates an empty set
func NewPlaceSet() *PlaceSet {
	return &PlaceSet{}
}

// Add appends the place unless one with the same id is already present.
// Places without an id are always added.
func (s *PlaceSet) Add(place *PlaceRecord) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.places {
		if existing.SamePlace(place) {
			return false
		}
	}
	s.places = append(s.places, place)
	return true
}

// Contains reports whether a place with the same id is present.
// Places without an id are never contained.
func (s *PlaceSet) Contains(place *PlaceRecord) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, existing := range s.places {
		if existing.SamePlace(place) {
			return true
		}
	}
	return false
}

// Places returns a snapshot in insertion order
func (s *PlaceSet) Places() []*PlaceRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*PlaceRecord, len(s.places))
	copy(out, s.places)
	return out
}

// Len returns the number of places
func (s *PlaceSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.places)
}

// Clear removes every place
func (s *PlaceSet) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.places = nil
}
