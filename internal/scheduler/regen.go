package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/cory-johannsen/skirmish/internal/game/character"
)

// Presence lists the users with a live connection.
type Presence interface {
	Connected() []string
}

// SessionChecker reports whether a user is attached to a combat session.
type SessionChecker interface {
	InSession(userID string) bool
}

// Regenerator restores vitals of connected users outside combat and counts
// down their carried ability cooldowns, once per tick.
type Regenerator struct {
	users  character.Store
	online Presence
	combat SessionChecker
	gain   character.Vitals
	logger *zap.Logger

	mu   sync.Mutex
	last map[string]int64 // userID → last tick regenerated
}

// NewRegenerator creates a Regenerator that adds gain per tick.
//
// Precondition: every argument is non-nil.
func NewRegenerator(users character.Store, online Presence, combat SessionChecker, gain character.Vitals, logger *zap.Logger) *Regenerator {
	return &Regenerator{
		users:  users,
		online: online,
		combat: combat,
		gain:   gain,
		logger: logger,
		last:   make(map[string]int64),
	}
}

// Run regenerates every connected user that is not in combat and has not yet
// been handled in tick. It returns the number of users whose record changed.
// Per-user failures are joined; the rest are still processed.
func (r *Regenerator) Run(ctx context.Context, tick int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	online := r.online.Connected()
	seen := make(map[string]bool, len(online))
	changed := 0
	var errs []error
	for _, id := range online {
		seen[id] = true
		if r.last[id] == tick || r.combat.InSession(id) {
			continue
		}
		r.last[id] = tick
		ok, err := r.regenerate(ctx, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			changed++
		}
	}
	for id := range r.last {
		if !seen[id] {
			delete(r.last, id)
		}
	}
	if changed > 0 {
		r.logger.Debug("passive regeneration", zap.Int64("tick", tick), zap.Int("users", changed))
	}
	return changed, errors.Join(errs...)
}

func (r *Regenerator) regenerate(ctx context.Context, id string) (bool, error) {
	u, err := r.users.Get(ctx, id)
	if err != nil {
		return false, fmt.Errorf("loading user %s: %w", id, err)
	}
	changed := false
	v := u.Regenerate(r.gain)
	if v != u.Vitals() {
		if err := r.users.SaveVitals(ctx, id, v); err != nil {
			return false, fmt.Errorf("saving vitals for %s: %w", id, err)
		}
		changed = true
	}
	if len(u.Cooldowns) > 0 {
		next := make(map[string]int, len(u.Cooldowns))
		for ability, rounds := range u.Cooldowns {
			if rounds > 1 {
				next[ability] = rounds - 1
			}
		}
		if err := r.users.SaveCombatState(ctx, id, v.HP, next); err != nil {
			return changed, fmt.Errorf("saving cooldowns for %s: %w", id, err)
		}
		changed = true
	}
	return changed, nil
}
