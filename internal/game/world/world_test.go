package world_test

import (
	"context"
	"testing"

	"github.com/cory-johannsen/skirmish/internal/game/content"
	"github.com/cory-johannsen/skirmish/internal/game/world"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedSource always returns the same values.
type fixedSource struct {
	f float64
	n int
}

func (s fixedSource) Intn(n int) int {
	if s.n >= n {
		return n - 1
	}
	return s.n
}
func (s fixedSource) Float64() float64 { return s.f }

func testSeeds() []*content.LocationSeed {
	return []*content.LocationSeed{
		{ID: "sewer-1", AreaID: "sewers", Biome: "sewer", Spawns: []content.SpawnSeed{{TemplateID: "rat", Count: 2}}},
		{ID: "sewer-2", AreaID: "sewers", Biome: "sewer", Spawns: []content.SpawnSeed{{TemplateID: "rat", Count: 1}, {TemplateID: "ooze", Count: 1}}},
		{ID: "glade", AreaID: "forest", Biome: "forest"},
	}
}

func seededStore(t *testing.T) *world.MemoryStore {
	t.Helper()
	store := world.NewMemoryStore()
	n, err := world.Seed(context.Background(), store, testSeeds())
	require.NoError(t, err)
	require.Equal(t, 4, n)
	return store
}

func TestMemoryStore_AddRemove(t *testing.T) {
	ctx := context.Background()
	store := world.NewMemoryStore()
	require.NoError(t, store.PutLocation(ctx, world.Location{ID: "a", AreaID: "x"}))

	_, err := store.AddCreature(ctx, "nowhere", "rat")
	assert.ErrorIs(t, err, world.ErrLocationNotFound)

	c, err := store.AddCreature(ctx, "a", "rat")
	require.NoError(t, err)
	got, err := store.Creature(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c, got)

	require.NoError(t, store.RemoveCreature(ctx, c.ID))
	assert.ErrorIs(t, store.RemoveCreature(ctx, c.ID), world.ErrCreatureNotFound)
	at, _ := store.CreaturesAt(ctx, "a")
	assert.Empty(t, at)
}

func TestSeed_SkipsPopulatedLocations(t *testing.T) {
	ctx := context.Background()
	store := seededStore(t)
	n, err := world.Seed(ctx, store, []*content.LocationSeed{
		{ID: "sewer-1", AreaID: "sewers", Biome: "sewer", Spawns: []content.SpawnSeed{{TemplateID: "rat", Count: 5}}},
	})
	require.NoError(t, err)
	assert.Zero(t, n)
	at, _ := store.CreaturesAt(ctx, "sewer-1")
	assert.Len(t, at, 2)
}

func TestPresence_ActiveLocations(t *testing.T) {
	p := world.NewPresence()
	p.Enter("u1", "b")
	p.Enter("u2", "a")
	p.Enter("u3", "b")
	assert.Equal(t, []string{"a", "b"}, p.ActiveLocations())
	p.Leave("u2")
	p.Enter("u3", "c")
	assert.Equal(t, []string{"b", "c"}, p.ActiveLocations())
}
