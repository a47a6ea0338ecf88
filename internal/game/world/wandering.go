package world

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cory-johannsen/skirmish/internal/game/content"
	"github.com/cory-johannsen/skirmish/internal/game/dice"
	"go.uber.org/zap"
)

// WanderingConfig tunes random encounter injection.
type WanderingConfig struct {
	// Chance is the per-check probability that an eligible location gets a wanderer.
	Chance float64
	// CheckIntervalTicks is how often locations are rolled. Zero disables spawning.
	CheckIntervalTicks int64
	// DespawnAfterTicks removes a wanderer that has gone unengaged this long.
	DespawnAfterTicks int64
	// MaxPerLocation caps concurrent wanderers in one location.
	MaxPerLocation int
}

// WanderTables resolves the biome-weighted candidate table for a location.
type WanderTables interface {
	WanderTable(biome string) (*content.WanderTable, bool)
}

// EngagementChecker removes creatures that no live combat session holds. The
// engagement check and the removal are one atomic step on the checker's side.
type EngagementChecker interface {
	RemoveCreatureIfUnengaged(ctx context.Context, creatureID string) (bool, error)
}

type wanderer struct {
	locationID  string
	spawnedTick int64
}

// WanderingCoordinator injects wandering creatures into occupied locations
// and despawns the ones nobody fights.
type WanderingCoordinator struct {
	cfg      WanderingConfig
	store    Store
	tables   WanderTables
	presence *Presence
	src      dice.Source
	logger   *zap.Logger

	mu        sync.Mutex
	engaged   EngagementChecker
	wanderers map[string]wanderer
}

// NewWanderingCoordinator creates a coordinator. SetEngagementChecker must be
// called before Process if wanderers can be fought.
func NewWanderingCoordinator(store Store, tables WanderTables, presence *Presence, src dice.Source, cfg WanderingConfig, logger *zap.Logger) *WanderingCoordinator {
	return &WanderingCoordinator{
		cfg:       cfg,
		store:     store,
		tables:    tables,
		presence:  presence,
		src:       src,
		logger:    logger,
		wanderers: make(map[string]wanderer),
	}
}

// SetEngagementChecker wires the combat registry in after construction.
func (w *WanderingCoordinator) SetEngagementChecker(e EngagementChecker) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.engaged = e
}

// IsWanderer reports whether id is a tracked wandering creature.
func (w *WanderingCoordinator) IsWanderer(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.wanderers[id]
	return ok
}

// Forget stops tracking id and reports whether it was a wanderer.
func (w *WanderingCoordinator) Forget(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.wanderers[id]
	delete(w.wanderers, id)
	return ok
}

// Count returns the number of tracked wanderers.
func (w *WanderingCoordinator) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.wanderers)
}

// Process runs the despawn sweep and, on check ticks, the spawn roll.
func (w *WanderingCoordinator) Process(ctx context.Context, tick int64) (spawned, despawned int, err error) {
	var errs []error
	despawned, derr := w.despawn(ctx, tick)
	if derr != nil {
		errs = append(errs, derr)
	}
	if w.cfg.CheckIntervalTicks > 0 && tick%w.cfg.CheckIntervalTicks == 0 {
		n, serr := w.spawn(ctx, tick)
		spawned = n
		if serr != nil {
			errs = append(errs, serr)
		}
	}
	return spawned, despawned, errors.Join(errs...)
}

func (w *WanderingCoordinator) spawn(ctx context.Context, tick int64) (int, error) {
	var errs []error
	spawned := 0
	for _, locID := range w.presence.ActiveLocations() {
		if w.countAt(locID) >= w.cfg.MaxPerLocation {
			continue
		}
		if w.src.Float64() >= w.cfg.Chance {
			continue
		}
		loc, err := w.store.Location(ctx, locID)
		if err != nil {
			errs = append(errs, fmt.Errorf("wandering at %q: %w", locID, err))
			continue
		}
		table, ok := w.tables.WanderTable(loc.Biome)
		if !ok {
			continue
		}
		templateID, ok := table.Pick(w.src)
		if !ok {
			continue
		}
		c, err := w.store.AddCreature(ctx, locID, templateID)
		if err != nil {
			errs = append(errs, fmt.Errorf("wandering %q at %q: %w", templateID, locID, err))
			continue
		}
		w.mu.Lock()
		w.wanderers[c.ID] = wanderer{locationID: locID, spawnedTick: tick}
		w.mu.Unlock()
		spawned++
		w.logger.Info("wandering creature appeared",
			zap.String("creature", c.ID), zap.String("template", templateID),
			zap.String("location", locID), zap.String("biome", loc.Biome))
	}
	return spawned, errors.Join(errs...)
}

func (w *WanderingCoordinator) countAt(locationID string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, wd := range w.wanderers {
		if wd.locationID == locationID {
			n++
		}
	}
	return n
}

// despawn removes expired wanderers that are not in combat. Engaged
// wanderers stay tracked until combat ends; a combat death forgets them.
func (w *WanderingCoordinator) despawn(ctx context.Context, tick int64) (int, error) {
	w.mu.Lock()
	engaged := w.engaged
	var expired []string
	for id, wd := range w.wanderers {
		if tick-wd.spawnedTick >= w.cfg.DespawnAfterTicks {
			expired = append(expired, id)
		}
	}
	w.mu.Unlock()

	var errs []error
	removed := 0
	for _, id := range expired {
		ok, err := w.remove(ctx, engaged, id)
		switch {
		case errors.Is(err, ErrCreatureNotFound):
			w.Forget(id)
			continue
		case err != nil:
			errs = append(errs, fmt.Errorf("despawning %q: %w", id, err))
			continue
		case !ok:
			continue
		}
		w.Forget(id)
		removed++
		w.logger.Debug("wandering creature despawned", zap.String("creature", id), zap.Int64("tick", tick))
	}
	return removed, errors.Join(errs...)
}

func (w *WanderingCoordinator) remove(ctx context.Context, engaged EngagementChecker, id string) (bool, error) {
	if engaged != nil {
		return engaged.RemoveCreatureIfUnengaged(ctx, id)
	}
	if err := w.store.RemoveCreature(ctx, id); err != nil {
		return false, err
	}
	return true, nil
}
