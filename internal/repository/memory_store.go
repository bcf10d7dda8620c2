package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/locationtracker/agent/internal/models"
)

type memoryState struct {
	locations map[string]models.LocationRecord
	places    []models.PlaceRecord
	synced    map[string]bool
	cursors   map[string]string
	seq       map[string]int
	next      int
}

func newMemoryState() *memoryState {
	return &memoryState{
		locations: make(map[string]models.LocationRecord),
		synced:    make(map[string]bool),
		cursors:   make(map[string]string),
		seq:       make(map[string]int),
	}
}

func (s *memoryState) clone() *memoryState {
	c := &memoryState{
		locations: make(map[string]models.LocationRecord, len(s.locations)),
		places:    make([]models.PlaceRecord, len(s.places)),
		synced:    make(map[string]bool, len(s.synced)),
		cursors:   make(map[string]string, len(s.cursors)),
		seq:       make(map[string]int, len(s.seq)),
		next:      s.next,
	}
	for k, v := range s.locations {
		c.locations[k] = v
	}
	copy(c.places, s.places)
	for k, v := range s.synced {
		c.synced[k] = v
	}
	for k, v := range s.cursors {
		c.cursors[k] = v
	}
	for k, v := range s.seq {
		c.seq[k] = v
	}
	return c
}

// MemoryStore is a LocalStore kept entirely in memory. Transactions work on
// a copy that replaces the live state only when fn succeeds.
type MemoryStore struct {
	mu    sync.RWMutex
	state *memoryState
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemoryState()}
}

func (m *MemoryStore) GetAll(ctx context.Context, kind models.RecordKind) ([]models.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.records(kind, func(string, bool) bool { return true })
}

func (m *MemoryStore) GetUnsynchronized(ctx context.Context, kind models.RecordKind) ([]models.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.records(kind, func(_ string, synced bool) bool { return !synced })
}

func (m *MemoryStore) Cursor(ctx context.Context, name string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.cursors[name], nil
}

func (m *MemoryStore) WithTx(ctx context.Context, fn func(tx StoreTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	working := m.state.clone()
	if err := fn(&memoryTx{state: working}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return storeErr("commit", err)
	}
	m.state = working
	return nil
}

func (m *MemoryStore) MarkSynchronized(ctx context.Context, ids ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range ids {
		if id != "" {
			m.state.synced[id] = true
		}
	}
	return nil
}

func (m *MemoryStore) DeleteAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = newMemoryState()
	return nil
}

func (s *memoryState) records(kind models.RecordKind, keep func(id string, synced bool) bool) ([]models.Record, error) {
	out := []models.Record{}
	switch kind {
	case models.KindLocation:
		ids := make([]string, 0, len(s.locations))
		for id := range s.locations {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool {
			a, b := s.locations[ids[i]], s.locations[ids[j]]
			if a.Timestamp != b.Timestamp {
				return a.Timestamp < b.Timestamp
			}
			return s.seq[a.ID] < s.seq[b.ID]
		})
		for _, id := range ids {
			if keep(id, s.synced[id]) {
				rec := s.locations[id]
				out = append(out, &rec)
			}
		}
	case models.KindPlace:
		idx := make([]int, len(s.places))
		for i := range idx {
			idx[i] = i
		}
		sort.SliceStable(idx, func(i, j int) bool {
			return s.places[idx[i]].Timestamp < s.places[idx[j]].Timestamp
		})
		for _, i := range idx {
			place := s.places[i]
			id := place.RecordID()
			if keep(id, id != "" && s.synced[id]) {
				out = append(out, &place)
			}
		}
	default:
		return nil, storeErr("get", fmt.Errorf("%w: %s", models.ErrUnknownKind, kind))
	}
	return out, nil
}

type memoryTx struct {
	state *memoryState
}

func (t *memoryTx) Get(ctx context.Context, kind models.RecordKind, id string) (models.Record, error) {
	switch kind {
	case models.KindLocation:
		if rec, ok := t.state.locations[id]; ok {
			return &rec, nil
		}
	case models.KindPlace:
		for _, place := range t.state.places {
			if place.RecordID() == id && id != "" {
				p := place
				return &p, nil
			}
		}
	default:
		return nil, storeErr("get", fmt.Errorf("%w: %s", models.ErrUnknownKind, kind))
	}
	return nil, nil
}

func (t *memoryTx) Upsert(ctx context.Context, rec models.Record, synchronized bool) error {
	switch r := rec.(type) {
	case *models.LocationRecord:
		if _, exists := t.state.locations[r.ID]; !exists {
			t.state.next++
			t.state.seq[r.ID] = t.state.next
		}
		t.state.locations[r.ID] = *r
		t.state.synced[r.ID] = synchronized
	case *models.PlaceRecord:
		id := r.RecordID()
		if id != "" {
			t.state.synced[id] = synchronized
			for i, place := range t.state.places {
				if place.RecordID() == id {
					t.state.places[i] = *r
					return nil
				}
			}
		}
		t.state.places = append(t.state.places, *r)
	default:
		return storeErr("upsert", fmt.Errorf("%w: %T", models.ErrUnknownKind, rec))
	}
	return nil
}

func (t *memoryTx) SetCursor(ctx context.Context, name, cursor string) error {
	t.state.cursors[name] = cursor
	return nil
}
