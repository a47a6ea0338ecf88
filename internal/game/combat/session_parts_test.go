package combat_test

import (
	"testing"

	"github.com/cory-johannsen/skirmish/internal/game/combat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestActionQueue_OnePendingPerCombatant(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		q := combat.NewActionQueue()
		actors := []string{"a", "b", "c", "d"}
		last := map[string]string{}
		n := rapid.IntRange(0, 50).Draw(rt, "n")
		for i := 0; i < n; i++ {
			actor := rapid.SampledFrom(actors).Draw(rt, "actor")
			if rapid.IntRange(0, 5).Draw(rt, "remove") == 0 {
				q.Remove(actor)
				delete(last, actor)
				continue
			}
			ability := rapid.SampledFrom([]string{"x", "y", "z"}).Draw(rt, "ability")
			q.Queue(combat.Action{CombatantID: actor, AbilityID: ability})
			last[actor] = ability
		}
		require.Equal(rt, len(last), q.Len())
		seen := map[string]bool{}
		for _, a := range q.Actions() {
			assert.False(rt, seen[a.CombatantID], "duplicate pending action for %s", a.CombatantID)
			seen[a.CombatantID] = true
			assert.Equal(rt, last[a.CombatantID], a.AbilityID, "last submission wins")
		}
	})
}

func TestActionQueue_RequeueMovesToBack(t *testing.T) {
	q := combat.NewActionQueue()
	q.Queue(combat.Action{CombatantID: "a", AbilityID: "x"})
	q.Queue(combat.Action{CombatantID: "b", AbilityID: "x"})
	q.Queue(combat.Action{CombatantID: "a", AbilityID: "y"})
	got := q.Actions()
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].CombatantID)
	assert.Equal(t, "a", got[1].CombatantID)
	assert.Equal(t, "y", got[1].AbilityID)
}

func TestCombatant_HPClamped(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		max := rapid.IntRange(1, 100).Draw(rt, "max")
		c := &combat.Combatant{ID: "c", MaxHP: max, CurrentHP: rapid.IntRange(1, max).Draw(rt, "hp"), Status: combat.StatusAlive}
		for i, n := 0, rapid.IntRange(1, 20).Draw(rt, "ops"); i < n; i++ {
			amt := rapid.IntRange(0, 150).Draw(rt, "amt")
			if rapid.Bool().Draw(rt, "heal") {
				c.ApplyHeal(amt)
			} else {
				c.ApplyDamage(amt)
			}
			assert.GreaterOrEqual(rt, c.CurrentHP, 0)
			assert.LessOrEqual(rt, c.CurrentHP, c.MaxHP)
			assert.Equal(rt, c.CurrentHP > 0, c.IsAlive())
		}
	})
}

func TestCombatant_DefeatedCannotBeHealed(t *testing.T) {
	c := &combat.Combatant{ID: "c", MaxHP: 10, CurrentHP: 3, Status: combat.StatusAlive}
	assert.Equal(t, 3, c.ApplyDamage(8))
	assert.Equal(t, combat.StatusDefeated, c.Status)
	assert.Zero(t, c.ApplyHeal(5))
	assert.Zero(t, c.CurrentHP)
}

func TestProcessEffects_DotHotAndExpiry(t *testing.T) {
	c := &combat.Combatant{ID: "c", Name: "C", MaxHP: 20, CurrentHP: 10, Status: combat.StatusAlive, Effects: []combat.StatusEffect{
		{SourceID: "x", Kind: combat.EffectDOT, Value: 3, RemainingRounds: 1},
		{SourceID: "y", Kind: combat.EffectHOT, Value: 15, RemainingRounds: 2},
	}}
	events, log := combat.ProcessEffects("s", 1, []*combat.Combatant{c})

	assert.Equal(t, 20, c.CurrentHP, "10 - 3 + min(15, 13)")
	require.Len(t, c.Effects, 1)
	assert.Equal(t, combat.EffectHOT, c.Effects[0].Kind)
	assert.Equal(t, 1, c.Effects[0].RemainingRounds)
	assert.Len(t, log, 2)

	var types []string
	for _, e := range events {
		types = append(types, e.Type)
	}
	assert.Equal(t, []string{combat.MsgHealthUpdate, combat.MsgStatusEffectExpired, combat.MsgHealthUpdate}, types)
}

func TestProcessEffects_LethalDotClearsEffects(t *testing.T) {
	c := &combat.Combatant{ID: "c", MaxHP: 20, CurrentHP: 2, Status: combat.StatusAlive, Effects: []combat.StatusEffect{
		{Kind: combat.EffectDOT, Value: 5, RemainingRounds: 3},
		{Kind: combat.EffectHOT, Value: 5, RemainingRounds: 3},
	}}
	combat.ProcessEffects("s", 1, []*combat.Combatant{c})
	assert.Zero(t, c.CurrentHP)
	assert.Equal(t, combat.StatusDefeated, c.Status)
	assert.Empty(t, c.Effects)
}

func TestDecayCooldowns_StrictlyDecreaseAndVanishAtZero(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		before := rapid.MapOf(rapid.StringMatching(`[a-e]`), rapid.IntRange(1, 5)).Draw(rt, "cooldowns")
		flee := rapid.IntRange(0, 3).Draw(rt, "flee")
		c := &combat.Combatant{ID: "c", Cooldowns: map[string]int{}, FleeCooldown: flee}
		for k, v := range before {
			c.Cooldowns[k] = v
		}
		combat.DecayCooldowns([]*combat.Combatant{c}, nil)
		for k, v := range before {
			got, ok := c.Cooldowns[k]
			if v == 1 {
				assert.False(rt, ok, "%s should be removed at zero", k)
				continue
			}
			assert.Equal(rt, v-1, got)
		}
		for _, v := range c.Cooldowns {
			assert.Positive(rt, v)
		}
		assert.Equal(rt, max(0, flee-1), c.FleeCooldown)
	})
}
