// Package character defines the persistent player record the combat engine
// reads stats from and writes combat results back to.
package character

import (
	"context"
	"errors"
	"maps"
	"slices"
)

// ErrUserNotFound is returned when no user matches the requested id.
var ErrUserNotFound = errors.New("user not found")

// Vitals holds the regenerating resource pools of a user.
type Vitals struct {
	HP      int
	Mana    int
	Stamina int
}

// User is a player's persistent state.
//
// Invariant: 0 <= CurrentHP <= MaxHP, 0 <= Mana <= MaxMana, 0 <= Stamina <= MaxStamina.
type User struct {
	ID         string
	Name       string
	Level      int
	Experience int
	Gold       int
	LocationID string

	MaxHP      int
	CurrentHP  int
	MaxMana    int
	Mana       int
	MaxStamina int
	Stamina    int

	Accuracy        int
	Evasion         int
	CritBonus       float64
	InitiativeBonus int

	Abilities []string
	// Cooldowns maps ability id to rounds remaining; carried across sessions.
	Cooldowns map[string]int
	// ActiveSession is the id of the combat session the user is in, or "".
	ActiveSession string
}

// Clone returns a deep copy of u.
func (u *User) Clone() *User {
	cp := *u
	cp.Abilities = slices.Clone(u.Abilities)
	cp.Cooldowns = maps.Clone(u.Cooldowns)
	return &cp
}

// Vitals returns the user's current resource pools.
func (u *User) Vitals() Vitals {
	return Vitals{HP: u.CurrentHP, Mana: u.Mana, Stamina: u.Stamina}
}

// Regenerate returns v raised by gain and clamped to the user's maxima.
//
// Postcondition: each pool of the result is within [0, max].
func (u *User) Regenerate(gain Vitals) Vitals {
	return Vitals{
		HP:      clamp(u.CurrentHP+gain.HP, 0, u.MaxHP),
		Mana:    clamp(u.Mana+gain.Mana, 0, u.MaxMana),
		Stamina: clamp(u.Stamina+gain.Stamina, 0, u.MaxStamina),
	}
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

// Store is the persistence boundary for user records. Each call is atomic on
// its own; no cross-call transactions are assumed.
type Store interface {
	// Get returns a copy of the user with id, or ErrUserNotFound.
	Get(ctx context.Context, id string) (*User, error)
	// SaveCombatState writes back authoritative HP and ability cooldowns.
	SaveCombatState(ctx context.Context, id string, hp int, cooldowns map[string]int) error
	// SaveVitals writes regenerated resource pools.
	SaveVitals(ctx context.Context, id string, v Vitals) error
	// AwardRewards adds experience and gold.
	AwardRewards(ctx context.Context, id string, xp, gold int) error
	// SetActiveSession records the combat session the user is in.
	SetActiveSession(ctx context.Context, id, sessionID string) error
	// ClearActiveSession removes the user's combat session pointer.
	ClearActiveSession(ctx context.Context, id string) error
}
