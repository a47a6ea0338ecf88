// Package combat implements the round-based combat session engine: the
// probability model, round resolution, status effects and the registry that
// owns every live session.
package combat

import (
	"maps"
	"slices"
)

// Kind distinguishes player combatants from creature combatants.
type Kind string

const (
	KindPlayer   Kind = "PLAYER"
	KindCreature Kind = "CREATURE"
)

// Status is a combatant's participation state.
type Status string

const (
	// StatusAlive combatants act and can be targeted.
	StatusAlive Status = "ALIVE"
	// StatusDefeated combatants reached 0 HP.
	StatusDefeated Status = "DEFEATED"
	// StatusFled combatants left the encounter and keep their HP.
	StatusFled Status = "FLED"
)

// EffectKind selects whether a status effect damages or heals each round.
type EffectKind string

const (
	EffectDOT EffectKind = "DOT"
	EffectHOT EffectKind = "HOT"
)

// StatusEffect is a timed, round-ticking modifier.
type StatusEffect struct {
	SourceID        string     `json:"sourceId"`
	Kind            EffectKind `json:"kind"`
	Value           int        `json:"value"`
	RemainingRounds int        `json:"remainingRounds"`
}

// Combatant is one participant of a session.
//
// Invariant: 0 <= CurrentHP <= MaxHP; Status == StatusDefeated iff the
// combatant was reduced to 0 HP while alive.
type Combatant struct {
	ID         string         `json:"id"`
	Kind       Kind           `json:"kind"`
	Name       string         `json:"name"`
	TemplateID string         `json:"templateId,omitempty"`
	Level      int            `json:"level"`
	MaxHP      int            `json:"maxHp"`
	CurrentHP  int            `json:"currentHp"`
	Accuracy   int            `json:"-"`
	Evasion    int            `json:"-"`
	CritBonus  float64        `json:"-"`
	Initiative int            `json:"initiative"`
	Abilities  []string       `json:"abilities,omitempty"`
	Cooldowns  map[string]int `json:"cooldowns,omitempty"`
	// FleeCooldown is the number of rounds before another flee attempt.
	FleeCooldown int            `json:"fleeCooldown,omitempty"`
	Effects      []StatusEffect `json:"effects,omitempty"`
	Status       Status         `json:"status"`
	// TargetID is the creature AI's declared target.
	TargetID string `json:"targetId,omitempty"`

	// fleeFresh marks a flee cooldown set during the round being collected.
	fleeFresh bool
}

// IsAlive reports whether c still participates in rounds.
func (c *Combatant) IsAlive() bool { return c.Status == StatusAlive }

// IsPlayer reports whether c is a player.
func (c *Combatant) IsPlayer() bool { return c.Kind == KindPlayer }

// ApplyDamage subtracts dmg from CurrentHP, floored at 0, and returns the
// amount actually removed. A combatant brought to 0 HP becomes defeated.
//
// Precondition: dmg >= 0.
func (c *Combatant) ApplyDamage(dmg int) int {
	if dmg <= 0 || !c.IsAlive() {
		return 0
	}
	dealt := min(dmg, c.CurrentHP)
	c.CurrentHP -= dealt
	if c.CurrentHP == 0 {
		c.Status = StatusDefeated
		c.Effects = nil
		c.TargetID = ""
	}
	return dealt
}

// ApplyHeal adds amount to CurrentHP, capped at MaxHP, and returns the amount
// actually restored. Non-alive combatants cannot be healed.
func (c *Combatant) ApplyHeal(amount int) int {
	if amount <= 0 || !c.IsAlive() {
		return 0
	}
	healed := min(amount, c.MaxHP-c.CurrentHP)
	c.CurrentHP += healed
	return healed
}

// Clone returns a deep copy of c.
func (c *Combatant) Clone() *Combatant {
	cp := *c
	cp.Abilities = slices.Clone(c.Abilities)
	cp.Cooldowns = maps.Clone(c.Cooldowns)
	if cp.Cooldowns == nil {
		cp.Cooldowns = make(map[string]int)
	}
	cp.Effects = slices.Clone(c.Effects)
	return &cp
}

func cloneAll(cs []*Combatant) []*Combatant {
	out := make([]*Combatant, len(cs))
	for i, c := range cs {
		out[i] = c.Clone()
	}
	return out
}

func findCombatant(cs []*Combatant, id string) *Combatant {
	for _, c := range cs {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func hasLiving(cs []*Combatant, k Kind) bool {
	for _, c := range cs {
		if c.Kind == k && c.IsAlive() {
			return true
		}
	}
	return false
}
