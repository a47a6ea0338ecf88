package character_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/skirmish/internal/game/character"
)

const playersYAML = `
players:
  - id: ana
    name: Ana
    level: 2
    location: glade
    max_hp: 40
    max_mana: 10
    max_stamina: 20
    abilities: [strike, mend]
  - id: bo
    name: Bo
    max_hp: 30
`

func TestParseUsers_StartAtFullVitals(t *testing.T) {
	users, err := character.ParseUsers([]byte(playersYAML))
	require.NoError(t, err)
	require.Len(t, users, 2)

	ana := users[0]
	assert.Equal(t, character.Vitals{HP: 40, Mana: 10, Stamina: 20}, ana.Vitals())
	assert.Equal(t, []string{"strike", "mend"}, ana.Abilities)
	assert.Equal(t, "glade", ana.LocationID)
	assert.Equal(t, 1, users[1].Level)
}

func TestParseUsers_Rejects(t *testing.T) {
	for name, doc := range map[string]string{
		"unknown field": "players:\n  - {id: a, name: A, max_hp: 1, wings: 2}\n",
		"missing name":  "players:\n  - {id: a, max_hp: 1}\n",
		"duplicate":     "players:\n  - {id: a, name: A, max_hp: 1}\n  - {id: a, name: B, max_hp: 1}\n",
		"no hp":         "players:\n  - {id: a, name: A}\n",
	} {
		_, err := character.ParseUsers([]byte(doc))
		assert.Error(t, err, name)
	}
}

func TestSeedFile_SkipsExistingUsers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "players.yaml")
	require.NoError(t, os.WriteFile(path, []byte(playersYAML), 0o644))
	store := character.NewMemoryStore()
	ctx := context.Background()

	n, err := character.SeedFile(ctx, store, path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, store.SaveVitals(ctx, "ana", character.Vitals{HP: 5}))
	n, err = character.SeedFile(ctx, store, path)
	require.NoError(t, err)
	assert.Zero(t, n)

	ana, err := store.Get(ctx, "ana")
	require.NoError(t, err)
	assert.Equal(t, 5, ana.CurrentHP)
}

func TestMemoryStore_CreateRejectsDuplicate(t *testing.T) {
	store := character.NewMemoryStore()
	u := &character.User{ID: "x", Name: "X", MaxHP: 1, CurrentHP: 1}
	require.NoError(t, store.Create(context.Background(), u))
	assert.ErrorIs(t, store.Create(context.Background(), u), character.ErrUserExists)
}
