package postgres_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/skirmish/internal/game/world"
	"github.com/cory-johannsen/skirmish/internal/storage/postgres"
	"github.com/cory-johannsen/skirmish/internal/testutil"
)

func TestWorldRepository(t *testing.T) {
	repo := postgres.NewWorldRepository(testutil.NewPool(t))
	ctx := context.Background()

	require.NoError(t, repo.PutLocation(ctx, world.Location{ID: "glade", AreaID: "forest", Biome: "woods"}))
	require.NoError(t, repo.PutLocation(ctx, world.Location{ID: "cave", AreaID: "forest", Biome: "cavern"}))

	t.Run("locations", func(t *testing.T) {
		require.NoError(t, repo.PutLocation(ctx, world.Location{ID: "glade", AreaID: "forest", Biome: "meadow"}))
		loc, err := repo.Location(ctx, "glade")
		require.NoError(t, err)
		assert.Equal(t, "meadow", loc.Biome)

		locs, err := repo.Locations(ctx)
		require.NoError(t, err)
		require.Len(t, locs, 2)
		assert.Equal(t, "cave", locs[0].ID)

		_, err = repo.Location(ctx, "void")
		assert.ErrorIs(t, err, world.ErrLocationNotFound)
		assert.Error(t, repo.PutLocation(ctx, world.Location{}))
	})

	t.Run("creatures", func(t *testing.T) {
		a, err := repo.AddCreature(ctx, "cave", "goblin")
		require.NoError(t, err)
		b, err := repo.AddCreature(ctx, "cave", "wolf")
		require.NoError(t, err)

		got, err := repo.Creature(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, a, got)

		at, err := repo.CreaturesAt(ctx, "cave")
		require.NoError(t, err)
		require.Len(t, at, 2)
		assert.ElementsMatch(t, []world.Creature{a, b}, at)
		assert.Less(t, at[0].ID, at[1].ID)

		require.NoError(t, repo.RemoveCreature(ctx, a.ID))
		assert.ErrorIs(t, repo.RemoveCreature(ctx, a.ID), world.ErrCreatureNotFound)
		_, err = repo.Creature(ctx, a.ID)
		assert.ErrorIs(t, err, world.ErrCreatureNotFound)
		_, err = repo.Creature(ctx, "not-a-uuid")
		assert.ErrorIs(t, err, world.ErrCreatureNotFound)
	})

	t.Run("unknown location", func(t *testing.T) {
		_, err := repo.AddCreature(ctx, "void", "goblin")
		assert.ErrorIs(t, err, world.ErrLocationNotFound)
	})
}
