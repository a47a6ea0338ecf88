package combat

import (
	"fmt"

	"github.com/cory-johannsen/skirmish/internal/broadcast"
)

// ProcessEffects ticks every status effect once: DOTs damage (floor 0), HOTs
// heal (ceiling MaxHP), durations drop by one and exhausted effects expire.
// Effects on combatants that are no longer alive are discarded.
//
// Postcondition: no returned combatant carries an effect with RemainingRounds <= 0.
func ProcessEffects(sessionID string, round int, cs []*Combatant) ([]broadcast.Envelope, []LogEntry) {
	var events []broadcast.Envelope
	var log []LogEntry
	for _, c := range cs {
		if !c.IsAlive() {
			c.Effects = nil
			continue
		}
		kept := c.Effects[:0]
		for _, eff := range c.Effects {
			var change int
			switch eff.Kind {
			case EffectDOT:
				change = -c.ApplyDamage(eff.Value)
			case EffectHOT:
				change = c.ApplyHeal(eff.Value)
			}
			if change != 0 {
				events = append(events, envelope(sessionID, MsgHealthUpdate, HealthUpdate{
					CombatantID:  c.ID,
					CurrentHP:    c.CurrentHP,
					MaxHP:        c.MaxHP,
					ChangeAmount: change,
					SourceID:     eff.SourceID,
				}))
				log = append(log, LogEntry{Round: round, ActorID: eff.SourceID, TargetID: c.ID, Amount: max(change, -change),
					Text: effectText(c, eff, change)})
			}
			if !c.IsAlive() {
				// Defeated mid-tick; ApplyDamage already cleared c.Effects.
				break
			}
			eff.RemainingRounds--
			if eff.RemainingRounds <= 0 {
				events = append(events, envelope(sessionID, MsgStatusEffectExpired, StatusEffectChange{CombatantID: c.ID, Effect: eff}))
				continue
			}
			kept = append(kept, eff)
		}
		if c.IsAlive() {
			c.Effects = kept
		}
	}
	return events, log
}

// DecayCooldowns lowers every ability cooldown and the flee cooldown by one,
// deleting ability entries that reach zero. exempt skips ability cooldowns
// that were set during the current round; a flee cooldown set during the
// round is skipped the same way.
//
// Postcondition: no cooldown is negative and no ability entry is zero.
func DecayCooldowns(cs []*Combatant, exempt func(combatantID, abilityID string) bool) {
	for _, c := range cs {
		for id, rounds := range c.Cooldowns {
			if exempt != nil && exempt(c.ID, id) {
				continue
			}
			if rounds <= 1 {
				delete(c.Cooldowns, id)
				continue
			}
			c.Cooldowns[id] = rounds - 1
		}
		switch {
		case c.fleeFresh:
			c.fleeFresh = false
		case c.FleeCooldown > 0:
			c.FleeCooldown--
		}
	}
}

func effectText(c *Combatant, eff StatusEffect, change int) string {
	if eff.Kind == EffectDOT {
		return fmt.Sprintf("%s suffers %d damage over time", c.Name, -change)
	}
	return fmt.Sprintf("%s recovers %d health over time", c.Name, change)
}
