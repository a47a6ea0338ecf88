package world

import (
	"context"
	"fmt"

	"github.com/cory-johannsen/skirmish/internal/game/content"
)

// Seed writes every location seed to store and spawns its initial creatures.
// Locations that already hold creatures are left as they are, so seeding a
// persistent store on every boot does not inflate populations.
//
// Postcondition: returns the number of creatures spawned.
func Seed(ctx context.Context, store Store, seeds []*content.LocationSeed) (int, error) {
	spawned := 0
	for _, s := range seeds {
		if err := store.PutLocation(ctx, Location{ID: s.ID, AreaID: s.AreaID, Biome: s.Biome}); err != nil {
			return spawned, fmt.Errorf("seeding location %q: %w", s.ID, err)
		}
		existing, err := store.CreaturesAt(ctx, s.ID)
		if err != nil {
			return spawned, fmt.Errorf("seeding location %q: %w", s.ID, err)
		}
		if len(existing) > 0 {
			continue
		}
		for _, sp := range s.Spawns {
			for i := 0; i < sp.Count; i++ {
				if _, err := store.AddCreature(ctx, s.ID, sp.TemplateID); err != nil {
					return spawned, fmt.Errorf("seeding %q at %q: %w", sp.TemplateID, s.ID, err)
				}
				spawned++
			}
		}
	}
	return spawned, nil
}
