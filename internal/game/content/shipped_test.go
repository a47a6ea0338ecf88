package content_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/skirmish/internal/game/content"
)

func TestShippedContentLoads(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	dir := filepath.Join(wd, "..", "..", "..", "content")

	reg, err := content.LoadDir(dir)
	require.NoError(t, err)
	assert.Positive(t, reg.AbilityCount())
	assert.Positive(t, reg.CreatureCount())

	for _, loc := range reg.Locations() {
		_, ok := reg.WanderTable(loc.Biome)
		assert.True(t, ok, "location %s has biome %q without a wandering table", loc.ID, loc.Biome)
	}
}
