package combat

// CreatureAI chooses which player a creature focuses on. Selection only
// declares intent; creatures do not act on it during resolution.
type CreatureAI interface {
	// SelectTarget returns the id of one of players, or "" for no target.
	SelectTarget(creature *Combatant, players []*Combatant) string
}

// StickyTargetAI keeps a creature's current target while it stays alive and
// otherwise picks the first living player in join order.
type StickyTargetAI struct{}

// SelectTarget implements CreatureAI.
func (StickyTargetAI) SelectTarget(creature *Combatant, players []*Combatant) string {
	for _, p := range players {
		if p.ID == creature.TargetID {
			return p.ID
		}
	}
	if len(players) > 0 {
		return players[0].ID
	}
	return ""
}
