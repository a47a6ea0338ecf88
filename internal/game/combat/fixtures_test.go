package combat_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cory-johannsen/skirmish/internal/broadcast"
	"github.com/cory-johannsen/skirmish/internal/game/character"
	"github.com/cory-johannsen/skirmish/internal/game/combat"
	"github.com/cory-johannsen/skirmish/internal/game/content"
	"github.com/cory-johannsen/skirmish/internal/game/dice"
	"github.com/cory-johannsen/skirmish/internal/game/world"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// scriptedSource replays floats in order, then repeats fallback. Intn always
// returns 0 so every d20 rolls a 1.
type scriptedSource struct {
	mu       sync.Mutex
	floats   []float64
	fallback float64
}

func (s *scriptedSource) Intn(int) int { return 0 }

func (s *scriptedSource) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.floats) == 0 {
		return s.fallback
	}
	f := s.floats[0]
	s.floats = s.floats[1:]
	return f
}

// steady lands every attack as a plain HIT with no variance drift.
func steady() *scriptedSource { return &scriptedSource{fallback: 0.5} }

type sent struct {
	to  []string
	env broadcast.Envelope
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sent
}

func (f *fakeNotifier) Broadcast(a broadcast.Audience, env broadcast.Envelope) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := append([]string(nil), a.PlayerIDs()...)
	f.sent = append(f.sent, sent{to: ids, env: env})
	return len(ids)
}

func (f *fakeNotifier) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	for i, s := range f.sent {
		out[i] = s.env.Type
	}
	return out
}

func (f *fakeNotifier) last(msgType string) (sent, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.sent) - 1; i >= 0; i-- {
		if f.sent[i].env.Type == msgType {
			return f.sent[i], true
		}
	}
	return sent{}, false
}

func (f *fakeNotifier) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = nil
}

type deathLog struct {
	mu   sync.Mutex
	dead []world.Creature
}

func (d *deathLog) CreatureDefeated(_ context.Context, c world.Creature) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dead = append(d.dead, c)
}

func testDefs(t testing.TB) *content.Registry {
	t.Helper()
	reg, err := content.NewRegistry(&content.File{
		Abilities: []*content.Ability{
			{ID: "strike", Name: "Strike", Kind: content.AbilityDamage, Target: content.TargetEnemy, Power: 10},
			{ID: "jab", Name: "Jab", Kind: content.AbilityDamage, Target: content.TargetEnemy, Power: 2},
			{ID: "cleave", Name: "Cleave", Kind: content.AbilityDamage, Target: content.TargetArea, Power: 3, Cooldown: 2},
			{ID: "mend", Name: "Mend", Kind: content.AbilityHeal, Target: content.TargetSelf, Power: 5, Cooldown: 3},
			{ID: "aid", Name: "Aid", Kind: content.AbilityHeal, Target: content.TargetAlly, Power: 4},
			{ID: "poison", Name: "Poison Dart", Kind: content.AbilityDamage, Target: content.TargetEnemy, Power: 1,
				Effect: &content.EffectSpec{Kind: "dot", Value: 2, Rounds: 2}},
		},
		Creatures: []*content.CreatureTemplate{
			{ID: "dummy", Name: "Training Dummy", Level: 1, MaxHP: 10, XP: 30, Gold: 6},
			{ID: "brute", Name: "Brute", Level: 1, MaxHP: 200, XP: 50, Gold: 10, Abilities: []string{"jab"}},
		},
	})
	require.NoError(t, err)
	return reg
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

type harness struct {
	reg      *combat.Registry
	users    *character.MemoryStore
	world    *world.MemoryStore
	notifier *fakeNotifier
	deaths   *deathLog
	clock    *clock
}

const roundDuration = 3 * time.Second

func testConfig() combat.RegistryConfig {
	p := combat.DefaultParams()
	p.Variance = 0
	return combat.RegistryConfig{
		RoundDuration:      roundDuration,
		MaxRounds:          100,
		FleeChance:         0.5,
		FleeCooldownRounds: 2,
		EndedRetention:     time.Minute,
		Probability:        p,
	}
}

func newHarness(t testing.TB, cfg combat.RegistryConfig, src dice.Source) *harness {
	t.Helper()
	return newHarnessWithDefs(t, cfg, src, testDefs(t))
}

func newHarnessWithDefs(t testing.TB, cfg combat.RegistryConfig, src dice.Source, defs combat.Definitions) *harness {
	t.Helper()
	h := &harness{
		users:    character.NewMemoryStore(),
		world:    world.NewMemoryStore(),
		notifier: &fakeNotifier{},
		deaths:   &deathLog{},
		clock:    &clock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)},
	}
	reg, err := combat.NewRegistry(cfg, combat.RegistryDeps{
		Users:     h.users,
		Locations: h.world,
		Defs:      defs,
		Notifier:  h.notifier,
		Source:    src,
		Deaths:    h.deaths,
		Logger:    zap.NewNop(),
		Clock:     h.clock.Now,
	})
	require.NoError(t, err)
	h.reg = reg
	require.NoError(t, h.world.PutLocation(context.Background(), world.Location{ID: "arena", AreaID: "town", Biome: "urban"}))
	return h
}

func (h *harness) addUser(id string, hp int, abilities ...string) {
	h.users.Put(&character.User{
		ID: id, Name: id, Level: 1, MaxHP: 20, CurrentHP: hp,
		MaxMana: 10, MaxStamina: 10, Abilities: abilities,
	})
}

func (h *harness) addCreature(t testing.TB, templateID string) world.Creature {
	t.Helper()
	c, err := h.world.AddCreature(context.Background(), "arena", templateID)
	require.NoError(t, err)
	return c
}

func (h *harness) tick() int {
	return h.reg.ProcessDue(context.Background(), h.clock.Advance(roundDuration))
}
