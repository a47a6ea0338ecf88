package combat_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cory-johannsen/skirmish/internal/game/combat"
	"github.com/cory-johannsen/skirmish/internal/game/content"
	"github.com/cory-johannsen/skirmish/internal/game/dice"
	"github.com/cory-johannsen/skirmish/internal/game/world"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenario_LethalHitEndsSession(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testConfig(), steady())
	h.addUser("p1", 20, "strike")
	dummy := h.addCreature(t, "dummy")

	snap, err := h.reg.StartCombat(ctx, "p1", "arena", nil)
	require.NoError(t, err)
	require.Equal(t, combat.StateActive, snap.State)
	require.Len(t, snap.Combatants, 2)

	require.NoError(t, h.reg.QueueAbility(ctx, "p1", snap.ID, "strike", dummy.ID))
	require.Equal(t, 1, h.tick())

	final, ok := h.reg.Snapshot(snap.ID)
	require.True(t, ok)
	assert.Equal(t, combat.StateEnded, final.State)
	assert.Equal(t, combat.EndReasonAllEnemiesDefeated, final.EndReason)
	c := final.Combatant(dummy.ID)
	assert.Zero(t, c.CurrentHP)
	assert.False(t, c.IsAlive())

	u, err := h.users.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, u.ActiveSession)
	assert.Equal(t, 20, u.CurrentHP)
	assert.Equal(t, 30, u.Experience)
	assert.Equal(t, 6, u.Gold)
	assert.False(t, h.reg.InSession("p1"))

	_, err = h.world.Creature(ctx, dummy.ID)
	assert.ErrorIs(t, err, world.ErrCreatureNotFound)
	require.Len(t, h.deaths.dead, 1)
	assert.Equal(t, dummy.ID, h.deaths.dead[0].ID)

	ended, ok := h.notifier.last(combat.MsgCombatEnded)
	require.True(t, ok)
	assert.Equal(t, []string{"p1"}, ended.to)
	payload := ended.env.Payload.(combat.CombatEnded)
	assert.Equal(t, 30, payload.ExperienceGained)
	assert.Equal(t, []string{"p1"}, payload.Victors)
	assert.Equal(t, []string{dummy.ID}, payload.Defeated)
}

func TestScenario_TargetRequired(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testConfig(), steady())
	h.addUser("p1", 20, "strike")
	h.addCreature(t, "dummy")
	snap, err := h.reg.StartCombat(ctx, "p1", "arena", nil)
	require.NoError(t, err)

	err = h.reg.QueueAbility(ctx, "p1", snap.ID, "strike", "")
	assert.ErrorIs(t, err, combat.ErrTargetRequired)

	after, _ := h.reg.Snapshot(snap.ID)
	assert.Empty(t, after.Pending)
}

func TestScenario_FleeOnCooldown(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.FleeChance = 0
	h := newHarness(t, cfg, steady())
	h.addUser("p1", 20, "strike")
	h.addCreature(t, "brute")
	snap, err := h.reg.StartCombat(ctx, "p1", "arena", nil)
	require.NoError(t, err)

	ok, err := h.reg.AttemptFlee(ctx, "p1", snap.ID)
	require.NoError(t, err)
	require.False(t, ok)

	before, _ := h.reg.Snapshot(snap.ID)
	ok, err = h.reg.AttemptFlee(ctx, "p1", snap.ID)
	assert.False(t, ok)
	require.ErrorIs(t, err, combat.ErrFleeOnCooldown)
	var cd *combat.CooldownError
	require.True(t, errors.As(err, &cd))
	assert.Equal(t, 2, cd.Remaining)
	after, _ := h.reg.Snapshot(snap.ID)
	assert.Equal(t, before, after)

	// The round in which the flee failed does not count against the cooldown,
	// matching ability cooldowns: two full rounds stay blocked.
	h.tick()
	_, err = h.reg.AttemptFlee(ctx, "p1", snap.ID)
	require.True(t, errors.As(err, &cd))
	assert.Equal(t, 2, cd.Remaining)

	h.tick()
	_, err = h.reg.AttemptFlee(ctx, "p1", snap.ID)
	require.True(t, errors.As(err, &cd))
	assert.Equal(t, 1, cd.Remaining)

	h.tick()
	ok, err = h.reg.AttemptFlee(ctx, "p1", snap.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStartCombat_DuplicateTargetsEngageOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testConfig(), steady())
	h.addUser("p1", 20, "strike")
	dummy := h.addCreature(t, "dummy")

	snap, err := h.reg.StartCombat(ctx, "p1", "arena", []string{dummy.ID, dummy.ID})
	require.NoError(t, err)
	require.Len(t, snap.Combatants, 2)

	require.NoError(t, h.reg.QueueAbility(ctx, "p1", snap.ID, "strike", dummy.ID))
	require.Equal(t, 1, h.tick())

	final, ok := h.reg.Snapshot(snap.ID)
	require.True(t, ok)
	assert.Equal(t, combat.StateEnded, final.State)
	assert.Equal(t, combat.EndReasonAllEnemiesDefeated, final.EndReason)
	require.Len(t, h.deaths.dead, 1)
	assert.Equal(t, dummy.ID, h.deaths.dead[0].ID)
}

func TestRemoveCreatureIfUnengaged(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testConfig(), steady())
	h.addUser("p1", 20, "strike")
	held := h.addCreature(t, "dummy")
	idle := h.addCreature(t, "dummy")

	_, err := h.reg.StartCombat(ctx, "p1", "arena", []string{held.ID})
	require.NoError(t, err)

	removed, err := h.reg.RemoveCreatureIfUnengaged(ctx, held.ID)
	require.NoError(t, err)
	assert.False(t, removed)
	_, err = h.world.Creature(ctx, held.ID)
	assert.NoError(t, err)

	removed, err = h.reg.RemoveCreatureIfUnengaged(ctx, idle.ID)
	require.NoError(t, err)
	assert.True(t, removed)
	_, err = h.world.Creature(ctx, idle.ID)
	assert.ErrorIs(t, err, world.ErrCreatureNotFound)

	_, err = h.reg.RemoveCreatureIfUnengaged(ctx, idle.ID)
	assert.ErrorIs(t, err, world.ErrCreatureNotFound)
}

func TestRoundProcessingGatedByDuration(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testConfig(), steady())
	h.addUser("p1", 20, "jab")
	h.addCreature(t, "brute")
	snap, err := h.reg.StartCombat(ctx, "p1", "arena", nil)
	require.NoError(t, err)
	start := h.clock.Now()

	for _, early := range []time.Duration{0, time.Second, roundDuration - time.Millisecond} {
		assert.Zero(t, h.reg.ProcessDue(ctx, start.Add(early)))
	}
	s, _ := h.reg.Snapshot(snap.ID)
	assert.Equal(t, 1, s.Round)

	assert.Equal(t, 1, h.reg.ProcessDue(ctx, start.Add(roundDuration)))
	s, _ = h.reg.Snapshot(snap.ID)
	assert.Equal(t, 2, s.Round)
	assert.Zero(t, h.reg.ProcessDue(ctx, start.Add(roundDuration+time.Second)))
}

func TestStartCombat_Errors(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testConfig(), steady())
	h.addUser("p1", 20, "strike")
	h.addUser("hurt", 0, "strike")
	require.NoError(t, h.world.PutLocation(ctx, world.Location{ID: "void", AreaID: "nowhere"}))
	h.addCreature(t, "dummy")

	_, err := h.reg.StartCombat(ctx, "hurt", "arena", nil)
	assert.ErrorIs(t, err, combat.ErrIncapacitated)

	_, err = h.reg.StartCombat(ctx, "p1", "void", nil)
	assert.ErrorIs(t, err, combat.ErrNoCreatures)

	_, err = h.reg.StartCombat(ctx, "p1", "arena", []string{"ghost"})
	assert.ErrorIs(t, err, combat.ErrTargetNotFound)

	_, err = h.reg.StartCombat(ctx, "nobody", "arena", nil)
	assert.Error(t, err)

	_, err = h.reg.StartCombat(ctx, "p1", "arena", nil)
	require.NoError(t, err)
	_, err = h.reg.StartCombat(ctx, "p1", "arena", nil)
	assert.ErrorIs(t, err, combat.ErrAlreadyInCombat)
	assert.Equal(t, 1, h.reg.ActiveSessionCount())
}

func TestStartCombat_TargetsRestrictEngagement(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testConfig(), steady())
	h.addUser("p1", 20, "strike")
	picked := h.addCreature(t, "dummy")
	other := h.addCreature(t, "dummy")

	snap, err := h.reg.StartCombat(ctx, "p1", "arena", []string{picked.ID})
	require.NoError(t, err)
	assert.NotNil(t, snap.Combatant(picked.ID))
	assert.Nil(t, snap.Combatant(other.ID))
	assert.True(t, h.reg.IsCreatureEngaged(picked.ID))
	assert.False(t, h.reg.IsCreatureEngaged(other.ID))
}

func TestStartCombat_SecondPlayerJoinsExistingSession(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testConfig(), steady())
	h.addUser("p1", 20, "strike")
	h.addUser("p2", 20, "strike")
	h.addCreature(t, "brute")

	first, err := h.reg.StartCombat(ctx, "p1", "arena", nil)
	require.NoError(t, err)
	h.notifier.reset()
	second, err := h.reg.StartCombat(ctx, "p2", "arena", nil)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, second.Combatants, 3)
	started, ok := h.notifier.last(combat.MsgCombatStarted)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"p1", "p2"}, started.to)
	assert.Equal(t, "p2", started.env.Payload.(combat.CombatStarted).Joining.ID)

	u, _ := h.users.Get(ctx, "p2")
	assert.Equal(t, first.ID, u.ActiveSession)
}

func TestQueueAbility_Validation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testConfig(), steady())
	h.addUser("p1", 10, "strike", "mend", "jab")
	h.addUser("p2", 20, "strike")
	h.addUser("outsider", 20, "strike")
	brute := h.addCreature(t, "brute")
	snap, err := h.reg.StartCombat(ctx, "p1", "arena", nil)
	require.NoError(t, err)
	_, err = h.reg.StartCombat(ctx, "p2", "arena", nil)
	require.NoError(t, err)

	assert.ErrorIs(t, h.reg.QueueAbility(ctx, "p1", "missing", "strike", brute.ID), combat.ErrSessionNotFound)
	assert.ErrorIs(t, h.reg.QueueAbility(ctx, "outsider", snap.ID, "strike", brute.ID), combat.ErrNotParticipant)
	assert.ErrorIs(t, h.reg.QueueAbility(ctx, "p1", snap.ID, "fireball", brute.ID), combat.ErrAbilityNotFound)
	assert.ErrorIs(t, h.reg.QueueAbility(ctx, "p2", snap.ID, "mend", ""), combat.ErrAbilityNotFound, "p2 does not know mend")
	assert.ErrorIs(t, h.reg.QueueAbility(ctx, "p1", snap.ID, "strike", "p2"), combat.ErrInvalidTarget)
	assert.ErrorIs(t, h.reg.QueueAbility(ctx, "p1", snap.ID, "strike", "ghost"), combat.ErrInvalidTarget)

	require.NoError(t, h.reg.QueueAbility(ctx, "p1", snap.ID, "jab", brute.ID))
	require.NoError(t, h.reg.QueueAbility(ctx, "p1", snap.ID, "mend", "ignored"))
	s, _ := h.reg.Snapshot(snap.ID)
	require.Len(t, s.Pending, 1)
	assert.Equal(t, "mend", s.Pending[0].AbilityID)
	assert.Empty(t, s.Pending[0].TargetID)

	h.tick()
	err = h.reg.QueueAbility(ctx, "p1", snap.ID, "mend", "")
	require.ErrorIs(t, err, combat.ErrAbilityOnCooldown)
	var cd *combat.CooldownError
	require.True(t, errors.As(err, &cd))
	assert.Equal(t, 3, cd.Remaining)
}

func TestAttemptFlee_SuccessReleasesPlayer(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.FleeChance = 1
	h := newHarness(t, cfg, steady())
	h.addUser("p1", 17, "jab")
	brute := h.addCreature(t, "brute")
	snap, err := h.reg.StartCombat(ctx, "p1", "arena", nil)
	require.NoError(t, err)
	require.NoError(t, h.reg.QueueAbility(ctx, "p1", snap.ID, "jab", brute.ID))

	ok, err := h.reg.AttemptFlee(ctx, "p1", snap.ID)
	require.NoError(t, err)
	require.True(t, ok)

	s, _ := h.reg.Snapshot(snap.ID)
	p := s.Combatant("p1")
	assert.Equal(t, combat.StatusFled, p.Status)
	assert.Equal(t, 17, p.CurrentHP, "fleeing keeps hit points")
	assert.Empty(t, s.Pending)
	assert.False(t, h.reg.InSession("p1"))
	u, _ := h.users.Get(ctx, "p1")
	assert.Empty(t, u.ActiveSession)

	flee, found := h.notifier.last(combat.MsgFleeResult)
	require.True(t, found)
	assert.Equal(t, []string{"p1"}, flee.to, "the fleeing player hears the result")

	h.tick()
	s, _ = h.reg.Snapshot(snap.ID)
	assert.Equal(t, combat.StateEnded, s.State)
	assert.Equal(t, combat.EndReasonAllPlayersFled, s.EndReason)
	_, err = h.world.Creature(ctx, brute.ID)
	assert.NoError(t, err, "surviving creatures stay in the world")
	assert.Empty(t, h.deaths.dead)
}

func TestFleeSuccessRateConverges(t *testing.T) {
	ctx := context.Background()
	const p, n = 0.3, 4000
	cfg := testConfig()
	cfg.FleeChance = p
	cfg.FleeCooldownRounds = 0
	h := newHarness(t, cfg, dice.NewSeededSource(20261015))
	h.addUser("p1", 20, "jab")
	h.addCreature(t, "brute")

	successes := 0
	for i := 0; i < n; i++ {
		if !h.reg.InSession("p1") {
			_, err := h.reg.StartCombat(ctx, "p1", "arena", nil)
			require.NoError(t, err)
		}
		sid, _ := h.reg.SessionFor("p1")
		ok, err := h.reg.AttemptFlee(ctx, "p1", sid)
		require.NoError(t, err)
		if ok {
			successes++
		}
	}
	assert.InDelta(t, p, float64(successes)/n, 0.03)
}

func TestEndedSessionIsImmutable(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testConfig(), steady())
	h.addUser("p1", 20, "strike")
	dummy := h.addCreature(t, "dummy")
	snap, err := h.reg.StartCombat(ctx, "p1", "arena", nil)
	require.NoError(t, err)
	require.NoError(t, h.reg.QueueAbility(ctx, "p1", snap.ID, "strike", dummy.ID))
	h.tick()

	ended, _ := h.reg.Snapshot(snap.ID)
	require.Equal(t, combat.StateEnded, ended.State)

	assert.ErrorIs(t, h.reg.QueueAbility(ctx, "p1", snap.ID, "strike", dummy.ID), combat.ErrSessionNotActive)
	_, err = h.reg.AttemptFlee(ctx, "p1", snap.ID)
	assert.ErrorIs(t, err, combat.ErrSessionNotActive)
	assert.Zero(t, h.tick())

	again, _ := h.reg.Snapshot(snap.ID)
	assert.Equal(t, ended, again)
}

func TestEndedSessionsArePruned(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testConfig(), steady())
	h.addUser("p1", 20, "strike")
	dummy := h.addCreature(t, "dummy")
	snap, err := h.reg.StartCombat(ctx, "p1", "arena", nil)
	require.NoError(t, err)
	require.NoError(t, h.reg.QueueAbility(ctx, "p1", snap.ID, "strike", dummy.ID))
	h.tick()

	assert.Zero(t, h.reg.PruneEnded(h.clock.Now().Add(time.Minute-time.Second)))
	_, ok := h.reg.Snapshot(snap.ID)
	assert.True(t, ok, "ended sessions stay readable during retention")

	h.reg.ProcessDue(ctx, h.clock.Advance(time.Minute))
	_, ok = h.reg.Snapshot(snap.ID)
	assert.False(t, ok)
	assert.Zero(t, h.reg.ActiveSessionCount())
}

func TestRoundMessagesReachOnlyPlayers(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testConfig(), steady())
	h.addUser("p1", 20, "jab")
	brute := h.addCreature(t, "brute")
	snap, err := h.reg.StartCombat(ctx, "p1", "arena", nil)
	require.NoError(t, err)
	require.NoError(t, h.reg.QueueAbility(ctx, "p1", snap.ID, "jab", brute.ID))
	h.notifier.reset()
	h.tick()

	assert.Equal(t, []string{
		combat.MsgRoundStart,
		combat.MsgAbilityResolved,
		combat.MsgHealthUpdate,
		combat.MsgCreatureIntent,
		combat.MsgRoundEnd,
	}, h.notifier.types())
	for _, s := range h.notifier.sent {
		assert.Equal(t, []string{"p1"}, s.to)
		assert.Equal(t, snap.ID, s.env.SessionID)
	}
}

func TestDisconnectDropsPendingAction(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testConfig(), steady())
	h.addUser("p1", 20, "jab")
	brute := h.addCreature(t, "brute")
	snap, err := h.reg.StartCombat(ctx, "p1", "arena", nil)
	require.NoError(t, err)
	require.NoError(t, h.reg.QueueAbility(ctx, "p1", snap.ID, "jab", brute.ID))

	h.reg.Disconnect(ctx, "p1")
	s, _ := h.reg.Snapshot(snap.ID)
	assert.Empty(t, s.Pending)
	sid, ok := h.reg.SessionFor("p1")
	assert.True(t, ok)
	assert.Equal(t, snap.ID, sid)
}

// armedDefs panics on ability lookup while armed.
type armedDefs struct {
	*content.Registry
	armed atomic.Bool
}

func (d *armedDefs) Ability(id string) (*content.Ability, bool) {
	if d.armed.Load() {
		panic("definition store unavailable")
	}
	return d.Registry.Ability(id)
}

func TestProcessDue_FailedSessionIsRetried(t *testing.T) {
	ctx := context.Background()
	defs := &armedDefs{Registry: testDefs(t)}
	h := newHarnessWithDefs(t, testConfig(), steady(), defs)
	h.addUser("p1", 20, "jab")
	brute := h.addCreature(t, "brute")
	snap, err := h.reg.StartCombat(ctx, "p1", "arena", nil)
	require.NoError(t, err)
	require.NoError(t, h.reg.QueueAbility(ctx, "p1", snap.ID, "jab", brute.ID))

	defs.armed.Store(true)
	assert.Zero(t, h.tick())
	s, _ := h.reg.Snapshot(snap.ID)
	assert.Equal(t, 1, s.Round)
	assert.Len(t, s.Pending, 1, "a failed round leaves the session untouched")

	defs.armed.Store(false)
	assert.Equal(t, 1, h.tick())
	s, _ = h.reg.Snapshot(snap.ID)
	assert.Equal(t, 2, s.Round)
	assert.Equal(t, 198, s.Combatant(brute.ID).CurrentHP)
}

func TestConcurrentCallsAndTicks(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testConfig(), dice.NewSeededSource(7))
	users := []string{"a", "b", "c", "d"}
	for _, u := range users {
		h.addUser(u, 20, "jab", "mend")
	}
	brute := h.addCreature(t, "brute")

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for _, u := range users {
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				sid, ok := h.reg.SessionFor(u)
				if !ok {
					_, _ = h.reg.StartCombat(ctx, u, "arena", nil)
					continue
				}
				_ = h.reg.QueueAbility(ctx, u, sid, "jab", brute.ID)
				_ = h.reg.QueueAbility(ctx, u, sid, "mend", "")
				if s, ok := h.reg.Snapshot(sid); ok {
					seen := map[string]bool{}
					for _, a := range s.Pending {
						assert.False(t, seen[a.CombatantID])
						seen[a.CombatantID] = true
					}
				}
			}
		}(u)
	}
	for i := 0; i < 50; i++ {
		h.tick()
	}
	close(stop)
	wg.Wait()
}
