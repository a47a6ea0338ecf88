// Package content holds the read-only definitions the combat engine looks up
// by id: abilities, creature templates, wandering tables and location seeds.
package content

import (
	"fmt"

	"github.com/cory-johannsen/skirmish/internal/game/dice"
)

// AbilityKind selects how an ability's power is applied.
type AbilityKind string

const (
	// AbilityDamage subtracts power from the target after a hit roll.
	AbilityDamage AbilityKind = "damage"
	// AbilityHeal restores power to the target without a hit roll.
	AbilityHeal AbilityKind = "heal"
)

// TargetMode selects which combatants an ability affects.
type TargetMode string

const (
	TargetEnemy TargetMode = "enemy"
	TargetAlly  TargetMode = "ally"
	TargetSelf  TargetMode = "self"
	TargetArea  TargetMode = "area"
)

// EffectSpec describes a status effect an ability leaves behind when it lands.
type EffectSpec struct {
	Kind   string `yaml:"kind"` // "dot" or "hot"
	Value  int    `yaml:"value"`
	Rounds int    `yaml:"rounds"`
}

// Ability is a usable combat action.
type Ability struct {
	ID       string      `yaml:"id"`
	Name     string      `yaml:"name"`
	Kind     AbilityKind `yaml:"kind"`
	Target   TargetMode  `yaml:"target"`
	Power    int         `yaml:"power"`
	Cooldown int         `yaml:"cooldown"`
	Effect   *EffectSpec `yaml:"effect"`
}

// RequiresTarget reports whether a caller must name a target when queueing a.
func (a *Ability) RequiresTarget() bool {
	return a.Target == TargetEnemy || a.Target == TargetAlly
}

// Validate checks structural invariants of a.
//
// Postcondition: returns nil iff id and name are set, kind and target are
// known, power and cooldown are non-negative, and the effect (if any) is sane.
func (a *Ability) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("ability: id must not be empty")
	}
	if a.Name == "" {
		return fmt.Errorf("ability %q: name must not be empty", a.ID)
	}
	switch a.Kind {
	case AbilityDamage, AbilityHeal:
	default:
		return fmt.Errorf("ability %q: unknown kind %q", a.ID, a.Kind)
	}
	switch a.Target {
	case TargetEnemy, TargetAlly, TargetSelf, TargetArea:
	default:
		return fmt.Errorf("ability %q: unknown target %q", a.ID, a.Target)
	}
	if a.Power < 0 || a.Cooldown < 0 {
		return fmt.Errorf("ability %q: power and cooldown must be >= 0", a.ID)
	}
	if e := a.Effect; e != nil {
		if e.Kind != "dot" && e.Kind != "hot" {
			return fmt.Errorf("ability %q: effect kind must be dot or hot, got %q", a.ID, e.Kind)
		}
		if e.Value <= 0 || e.Rounds <= 0 {
			return fmt.Errorf("ability %q: effect value and rounds must be > 0", a.ID)
		}
	}
	return nil
}

// CreatureTemplate defines a reusable creature archetype.
type CreatureTemplate struct {
	ID         string   `yaml:"id"`
	Name       string   `yaml:"name"`
	Level      int      `yaml:"level"`
	MaxHP      int      `yaml:"max_hp"`
	Accuracy   int      `yaml:"accuracy"`
	Evasion    int      `yaml:"evasion"`
	CritBonus  float64  `yaml:"crit_bonus"`
	Initiative string   `yaml:"initiative"` // dice expression, e.g. "1d20+2"
	Abilities  []string `yaml:"abilities"`
	XP         int      `yaml:"xp"`
	Gold       int      `yaml:"gold"`
}

// Validate checks structural invariants of t.
func (t *CreatureTemplate) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("creature template: id must not be empty")
	}
	if t.Name == "" {
		return fmt.Errorf("creature template %q: name must not be empty", t.ID)
	}
	if t.Level < 1 {
		return fmt.Errorf("creature template %q: level must be >= 1", t.ID)
	}
	if t.MaxHP < 1 {
		return fmt.Errorf("creature template %q: max_hp must be >= 1", t.ID)
	}
	if t.XP < 0 || t.Gold < 0 {
		return fmt.Errorf("creature template %q: xp and gold must be >= 0", t.ID)
	}
	if t.Initiative != "" {
		if _, err := dice.Parse(t.Initiative); err != nil {
			return fmt.Errorf("creature template %q: %w", t.ID, err)
		}
	}
	return nil
}

// WanderEntry is one weighted candidate of a wandering table.
type WanderEntry struct {
	TemplateID string `yaml:"template"`
	Weight     int    `yaml:"weight"`
}

// WanderTable lists the creatures that may wander into locations of a biome.
type WanderTable struct {
	Biome   string        `yaml:"biome"`
	Entries []WanderEntry `yaml:"entries"`
}

// Pick selects a template id with probability proportional to its weight.
//
// Postcondition: returns ("", false) when the table has no positive weight.
func (w *WanderTable) Pick(src dice.Source) (string, bool) {
	total := 0
	for _, e := range w.Entries {
		if e.Weight > 0 {
			total += e.Weight
		}
	}
	if total == 0 {
		return "", false
	}
	n := src.Intn(total)
	for _, e := range w.Entries {
		if e.Weight <= 0 {
			continue
		}
		if n < e.Weight {
			return e.TemplateID, true
		}
		n -= e.Weight
	}
	return "", false
}

// SpawnSeed places Count creatures of a template in a location at world start.
type SpawnSeed struct {
	TemplateID string `yaml:"template"`
	Count      int    `yaml:"count"`
}

// LocationSeed describes a location and its initial creature population.
type LocationSeed struct {
	ID     string      `yaml:"id"`
	AreaID string      `yaml:"area"`
	Biome  string      `yaml:"biome"`
	Spawns []SpawnSeed `yaml:"spawns"`
}
