package world

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store. All methods are safe for concurrent use.
type MemoryStore struct {
	mu        sync.RWMutex
	locations map[string]Location
	creatures map[string]Creature
	byLoc     map[string]map[string]bool // locationID → creature ids
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locations: make(map[string]Location),
		creatures: make(map[string]Creature),
		byLoc:     make(map[string]map[string]bool),
	}
}

// PutLocation implements Store.
func (m *MemoryStore) PutLocation(_ context.Context, loc Location) error {
	if loc.ID == "" {
		return fmt.Errorf("world: location id must not be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locations[loc.ID] = loc
	return nil
}

// Location implements Store.
func (m *MemoryStore) Location(_ context.Context, id string) (Location, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	loc, ok := m.locations[id]
	if !ok {
		return Location{}, ErrLocationNotFound
	}
	return loc, nil
}

// Locations implements Store. The result is sorted by id.
func (m *MemoryStore) Locations(_ context.Context) ([]Location, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Location, 0, len(m.locations))
	for _, l := range m.locations {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CreaturesAt implements Store. The result is sorted by id.
func (m *MemoryStore) CreaturesAt(_ context.Context, locationID string) ([]Creature, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.byLoc[locationID]
	out := make([]Creature, 0, len(ids))
	for id := range ids {
		out = append(out, m.creatures[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Creature implements Store.
func (m *MemoryStore) Creature(_ context.Context, id string) (Creature, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.creatures[id]
	if !ok {
		return Creature{}, ErrCreatureNotFound
	}
	return c, nil
}

// AddCreature implements Store.
//
// Precondition: locationID names a known location.
func (m *MemoryStore) AddCreature(_ context.Context, locationID, templateID string) (Creature, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.locations[locationID]; !ok {
		return Creature{}, fmt.Errorf("adding %q to %q: %w", templateID, locationID, ErrLocationNotFound)
	}
	c := Creature{ID: uuid.NewString(), TemplateID: templateID, LocationID: locationID}
	m.creatures[c.ID] = c
	if m.byLoc[locationID] == nil {
		m.byLoc[locationID] = make(map[string]bool)
	}
	m.byLoc[locationID][c.ID] = true
	return c, nil
}

// RemoveCreature implements Store.
func (m *MemoryStore) RemoveCreature(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.creatures[id]
	if !ok {
		return ErrCreatureNotFound
	}
	if set := m.byLoc[c.LocationID]; set != nil {
		delete(set, id)
		if len(set) == 0 {
			delete(m.byLoc, c.LocationID)
		}
	}
	delete(m.creatures, id)
	return nil
}
