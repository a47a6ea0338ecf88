package character

import (
	"context"
	"maps"
	"sync"
)

// MemoryStore is an in-process Store used by tests and the development
// server.
type MemoryStore struct {
	mu    sync.Mutex
	users map[string]*User
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]*User)}
}

// Put inserts or replaces a copy of u.
func (s *MemoryStore) Put(u *User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u.Clone()
}

// Create inserts a copy of u, or returns ErrUserExists.
func (s *MemoryStore) Create(_ context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; ok {
		return ErrUserExists
	}
	s.users[u.ID] = u.Clone()
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return u.Clone(), nil
}

// SaveCombatState implements Store.
func (s *MemoryStore) SaveCombatState(_ context.Context, id string, hp int, cooldowns map[string]int) error {
	return s.update(id, func(u *User) {
		u.CurrentHP = clamp(hp, 0, u.MaxHP)
		u.Cooldowns = maps.Clone(cooldowns)
	})
}

// SaveVitals implements Store.
func (s *MemoryStore) SaveVitals(_ context.Context, id string, v Vitals) error {
	return s.update(id, func(u *User) {
		u.CurrentHP = clamp(v.HP, 0, u.MaxHP)
		u.Mana = clamp(v.Mana, 0, u.MaxMana)
		u.Stamina = clamp(v.Stamina, 0, u.MaxStamina)
	})
}

// AwardRewards implements Store.
func (s *MemoryStore) AwardRewards(_ context.Context, id string, xp, gold int) error {
	return s.update(id, func(u *User) {
		u.Experience += xp
		u.Gold += gold
	})
}

// SetActiveSession implements Store.
func (s *MemoryStore) SetActiveSession(_ context.Context, id, sessionID string) error {
	return s.update(id, func(u *User) { u.ActiveSession = sessionID })
}

// ClearActiveSession implements Store.
func (s *MemoryStore) ClearActiveSession(_ context.Context, id string) error {
	return s.update(id, func(u *User) { u.ActiveSession = "" })
}

func (s *MemoryStore) update(id string, fn func(*User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrUserNotFound
	}
	fn(u)
	return nil
}
