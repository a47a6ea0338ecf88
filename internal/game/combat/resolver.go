package combat

import (
	"fmt"
	"sort"
	"time"

	"github.com/cory-johannsen/skirmish/internal/broadcast"
	"github.com/cory-johannsen/skirmish/internal/game/content"
	"github.com/cory-johannsen/skirmish/internal/game/dice"
)

// Definitions resolves ability and creature template ids.
type Definitions interface {
	Ability(id string) (*content.Ability, bool)
	Creature(id string) (*content.CreatureTemplate, bool)
}

// RoundResult is the outcome of resolving one round against a working copy
// of a session's combatants.
type RoundResult struct {
	Round      int
	NextRound  int
	Combatants []*Combatant
	Log        []LogEntry
	Events     []broadcast.Envelope
	EndReason  EndReason
}

// Resolver turns a session's pending actions into a RoundResult.
type Resolver struct {
	Engine        ProbabilityEngine
	Defs          Definitions
	AI            CreatureAI
	MaxRounds     int
	RoundDuration time.Duration
}

type roundState struct {
	sessionID string
	round     int
	working   []*Combatant
	events    []broadcast.Envelope
	log       []LogEntry
	// fresh records cooldowns set this round so they are not decayed immediately.
	fresh map[string]map[string]bool
}

func (st *roundState) emit(msgType string, payload any) {
	st.events = append(st.events, envelope(st.sessionID, msgType, payload))
}

func (st *roundState) note(e LogEntry) {
	e.Round = st.round
	st.log = append(st.log, e)
}

// Resolve runs the round algorithm for sess. sess itself is never modified.
//
// Precondition: sess.State == StateActive.
// Postcondition: every combatant of the result has 0 <= CurrentHP <= MaxHP.
func (r *Resolver) Resolve(src dice.Source, sess *Session) *RoundResult {
	st := &roundState{
		sessionID: sess.ID,
		round:     sess.Round,
		working:   cloneAll(sess.Combatants),
		fresh:     make(map[string]map[string]bool),
	}

	st.emit(MsgRoundStart, RoundStart{
		RoundNumber: st.round,
		DurationMs:  r.RoundDuration.Milliseconds(),
		Combatants:  cloneAll(st.working),
	})

	for _, a := range r.order(sess.Pending.Actions(), st.working) {
		r.resolveAction(src, st, a)
	}

	effEvents, effLog := ProcessEffects(st.sessionID, st.round, st.working)
	st.events = append(st.events, effEvents...)
	st.log = append(st.log, effLog...)

	DecayCooldowns(st.working, func(cid, aid string) bool { return st.fresh[cid][aid] })

	r.selectTargets(st)

	st.emit(MsgRoundEnd, RoundEnd{
		RoundNumber: st.round,
		Combatants:  cloneAll(st.working),
		LogEntries:  st.log,
	})

	return &RoundResult{
		Round:      st.round,
		NextRound:  st.round + 1,
		Combatants: st.working,
		Log:        st.log,
		Events:     st.events,
		EndReason:  EvaluateEnd(st.working, st.round, r.MaxRounds),
	}
}

// order sorts actions by actor initiative, highest first. The sort is stable
// over submission order, so equal initiatives resolve first-come first-served.
func (r *Resolver) order(actions []Action, cs []*Combatant) []Action {
	initiative := func(a Action) int {
		if c := findCombatant(cs, a.CombatantID); c != nil {
			return c.Initiative
		}
		return -1 << 31
	}
	sort.SliceStable(actions, func(i, j int) bool {
		return initiative(actions[i]) > initiative(actions[j])
	})
	return actions
}

func (r *Resolver) resolveAction(src dice.Source, st *roundState, a Action) {
	actor := findCombatant(st.working, a.CombatantID)
	if actor == nil || !actor.IsAlive() {
		name := a.CombatantID
		if actor != nil {
			name = actor.Name
		}
		st.note(LogEntry{ActorID: a.CombatantID, AbilityID: a.AbilityID, Text: name + " is unable to act"})
		return
	}
	ability, ok := r.Defs.Ability(a.AbilityID)
	if !ok {
		st.note(LogEntry{ActorID: actor.ID, AbilityID: a.AbilityID, Text: fmt.Sprintf("%s fumbles an unknown ability", actor.Name)})
		return
	}

	targets := r.targets(st.working, actor, ability, a.TargetID)
	if len(targets) == 0 {
		st.note(LogEntry{ActorID: actor.ID, TargetID: a.TargetID, AbilityID: ability.ID,
			Text: fmt.Sprintf("%s's %s finds no target", actor.Name, ability.Name)})
		return
	}

	for _, t := range targets {
		switch ability.Kind {
		case content.AbilityHeal:
			r.applyHeal(src, st, actor, t, ability)
		default:
			r.applyDamage(src, st, actor, t, ability)
		}
	}

	if ability.Cooldown > 0 {
		actor.Cooldowns[ability.ID] = ability.Cooldown
		if st.fresh[actor.ID] == nil {
			st.fresh[actor.ID] = make(map[string]bool)
		}
		st.fresh[actor.ID][ability.ID] = true
	}
}

func (r *Resolver) targets(cs []*Combatant, actor *Combatant, ability *content.Ability, targetID string) []*Combatant {
	switch ability.Target {
	case content.TargetSelf:
		return []*Combatant{actor}
	case content.TargetArea:
		var out []*Combatant
		for _, c := range cs {
			if !c.IsAlive() {
				continue
			}
			ally := c.Kind == actor.Kind
			if (ability.Kind == content.AbilityHeal) == ally {
				out = append(out, c)
			}
		}
		return out
	default:
		t := findCombatant(cs, targetID)
		if t == nil || !t.IsAlive() {
			return nil
		}
		return []*Combatant{t}
	}
}

func (r *Resolver) applyDamage(src dice.Source, st *roundState, actor, target *Combatant, ability *content.Ability) {
	hit := r.Engine.HitChance(actor.Accuracy, target.Evasion, actor.Level-target.Level)
	crit := r.Engine.CritChance(actor.CritBonus)
	result := r.Engine.RollToHit(src, hit, crit)
	amount, _ := r.Engine.Damage(src, ability.Power, result)
	dealt := target.ApplyDamage(amount)

	st.emit(MsgAbilityResolved, AbilityResolved{
		ActorID: actor.ID, ActorName: actor.Name,
		TargetID: target.ID, TargetName: target.Name,
		AbilityID: ability.ID, AbilityName: ability.Name,
		Result: result, Amount: dealt,
	})
	st.note(LogEntry{ActorID: actor.ID, TargetID: target.ID, AbilityID: ability.ID, Result: result, Amount: dealt,
		Text: damageText(actor, target, ability, result, dealt)})
	if dealt > 0 {
		st.emit(MsgHealthUpdate, HealthUpdate{
			CombatantID: target.ID, CurrentHP: target.CurrentHP, MaxHP: target.MaxHP,
			ChangeAmount: -dealt, SourceID: actor.ID,
		})
	}
	if result != Miss {
		r.applyEffect(st, actor, target, ability)
	}
}

func (r *Resolver) applyHeal(src dice.Source, st *roundState, actor, target *Combatant, ability *content.Ability) {
	amount, _ := r.Engine.Heal(src, ability.Power)
	healed := target.ApplyHeal(amount)

	st.emit(MsgAbilityResolved, AbilityResolved{
		ActorID: actor.ID, ActorName: actor.Name,
		TargetID: target.ID, TargetName: target.Name,
		AbilityID: ability.ID, AbilityName: ability.Name,
		Result: Hit, Amount: healed,
	})
	st.note(LogEntry{ActorID: actor.ID, TargetID: target.ID, AbilityID: ability.ID, Result: Hit, Amount: healed,
		Text: fmt.Sprintf("%s's %s restores %d health to %s", actor.Name, ability.Name, healed, target.Name)})
	if healed > 0 {
		st.emit(MsgHealthUpdate, HealthUpdate{
			CombatantID: target.ID, CurrentHP: target.CurrentHP, MaxHP: target.MaxHP,
			ChangeAmount: healed, SourceID: actor.ID,
		})
	}
	r.applyEffect(st, actor, target, ability)
}

func (r *Resolver) applyEffect(st *roundState, actor, target *Combatant, ability *content.Ability) {
	def := ability.Effect
	if def == nil || !target.IsAlive() {
		return
	}
	kind := EffectDOT
	if def.Kind == "hot" {
		kind = EffectHOT
	}
	eff := StatusEffect{SourceID: actor.ID, Kind: kind, Value: def.Value, RemainingRounds: def.Rounds}
	target.Effects = append(target.Effects, eff)
	st.emit(MsgStatusEffectApplied, StatusEffectChange{CombatantID: target.ID, Effect: eff})
}

// selectTargets lets every living creature declare a target. No damage is
// applied here.
func (r *Resolver) selectTargets(st *roundState) {
	if r.AI == nil {
		return
	}
	var players []*Combatant
	for _, c := range st.working {
		if c.Kind == KindPlayer && c.IsAlive() {
			players = append(players, c)
		}
	}
	for _, c := range st.working {
		if c.Kind != KindCreature || !c.IsAlive() {
			continue
		}
		target := r.AI.SelectTarget(c, players)
		if target == c.TargetID {
			continue
		}
		c.TargetID = target
		if target != "" {
			st.emit(MsgCreatureIntent, CreatureIntent{CreatureID: c.ID, TargetID: target})
		}
	}
}

// EvaluateEnd applies the end conditions in priority order.
func EvaluateEnd(cs []*Combatant, round, maxRounds int) EndReason {
	anyAlive, creaturesExisted, playerDefeated := false, false, false
	for _, c := range cs {
		if c.IsAlive() {
			anyAlive = true
		}
		if c.Kind == KindCreature {
			creaturesExisted = true
		}
		if c.Kind == KindPlayer && c.Status == StatusDefeated {
			playerDefeated = true
		}
	}
	switch {
	case !anyAlive:
		return EndReasonTimeout
	case !hasLiving(cs, KindPlayer):
		if playerDefeated {
			return EndReasonAllPlayersDefeated
		}
		return EndReasonAllPlayersFled
	case creaturesExisted && !hasLiving(cs, KindCreature):
		return EndReasonAllEnemiesDefeated
	case maxRounds > 0 && round >= maxRounds:
		return EndReasonTimeout
	}
	return EndReasonNone
}

func damageText(actor, target *Combatant, ability *content.Ability, result HitResult, dealt int) string {
	switch result {
	case Miss:
		return fmt.Sprintf("%s's %s misses %s", actor.Name, ability.Name, target.Name)
	case Critical:
		return fmt.Sprintf("%s's %s critically hits %s for %d", actor.Name, ability.Name, target.Name, dealt)
	case Glancing:
		return fmt.Sprintf("%s's %s glances off %s for %d", actor.Name, ability.Name, target.Name, dealt)
	}
	return fmt.Sprintf("%s's %s hits %s for %d", actor.Name, ability.Name, target.Name, dealt)
}
