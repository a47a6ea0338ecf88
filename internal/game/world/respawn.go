package world

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/cory-johannsen/skirmish/internal/game/content"
)

// RespawnConfig throttles repopulation.
type RespawnConfig struct {
	// MinDelayTicks is how many scheduler ticks a death waits before its
	// replacement becomes eligible.
	MinDelayTicks int64
	// MaxPerTick caps spawns per Process call. Zero means unlimited.
	MaxPerTick int
}

// PendingRespawn is one queued replacement.
type PendingRespawn struct {
	TemplateID   string
	AreaID       string
	LocationID   string
	EligibleTick int64
}

// RespawnCoordinator refills area populations toward the quotas captured at
// world start.
//
// Invariant: Process never raises an area's population of a template above
// its captured quota.
type RespawnCoordinator struct {
	mu      sync.Mutex
	cfg     RespawnConfig
	store   Store
	logger  *zap.Logger
	quotas  map[string]map[string]int // areaID → templateID → count
	areaOf  map[string]string         // locationID → areaID
	areaLoc map[string][]string       // areaID → locationIDs
	pending []PendingRespawn
}

// NewRespawnCoordinator creates a coordinator with no quotas; call Capture
// once the world is seeded.
func NewRespawnCoordinator(store Store, cfg RespawnConfig, logger *zap.Logger) *RespawnCoordinator {
	return &RespawnCoordinator{
		cfg:     cfg,
		store:   store,
		logger:  logger,
		quotas:  make(map[string]map[string]int),
		areaOf:  make(map[string]string),
		areaLoc: make(map[string][]string),
	}
}

// Capture records the current per-area creature counts as quotas.
//
// Postcondition: quotas reflect the store's population at call time; any
// previously captured quotas are replaced.
func (r *RespawnCoordinator) Capture(ctx context.Context) error {
	locs, err := r.store.Locations(ctx)
	if err != nil {
		return fmt.Errorf("capturing quotas: %w", err)
	}
	quotas := make(map[string]map[string]int)
	areaOf := make(map[string]string, len(locs))
	areaLoc := make(map[string][]string)
	for _, l := range locs {
		areaOf[l.ID] = l.AreaID
		areaLoc[l.AreaID] = append(areaLoc[l.AreaID], l.ID)
		creatures, err := r.store.CreaturesAt(ctx, l.ID)
		if err != nil {
			return fmt.Errorf("capturing quotas at %q: %w", l.ID, err)
		}
		for _, c := range creatures {
			if quotas[l.AreaID] == nil {
				quotas[l.AreaID] = make(map[string]int)
			}
			quotas[l.AreaID][c.TemplateID]++
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.quotas, r.areaOf, r.areaLoc = quotas, areaOf, areaLoc
	r.logger.Info("respawn quotas captured", zap.Int("areas", len(quotas)), zap.Int("locations", len(locs)))
	return nil
}

// CaptureSeeds records quotas from the seeded populations instead of the
// store's current one. Locations that hold fewer creatures of a template than
// their seed get replacements queued as immediately eligible, so a persistent
// store that lost creatures before a restart refills to its seeded size.
//
// Postcondition: quotas equal the seed counts summed per area; previously
// captured quotas and pending entries are replaced.
func (r *RespawnCoordinator) CaptureSeeds(ctx context.Context, seeds []*content.LocationSeed) error {
	locs, err := r.store.Locations(ctx)
	if err != nil {
		return fmt.Errorf("capturing quotas: %w", err)
	}
	areaOf := make(map[string]string, len(locs))
	areaLoc := make(map[string][]string)
	for _, l := range locs {
		areaOf[l.ID] = l.AreaID
		areaLoc[l.AreaID] = append(areaLoc[l.AreaID], l.ID)
	}

	quotas := make(map[string]map[string]int)
	var pending []PendingRespawn
	for _, s := range seeds {
		if len(s.Spawns) == 0 {
			continue
		}
		present, err := r.store.CreaturesAt(ctx, s.ID)
		if err != nil {
			return fmt.Errorf("capturing quotas at %q: %w", s.ID, err)
		}
		have := make(map[string]int)
		for _, c := range present {
			have[c.TemplateID]++
		}
		if quotas[s.AreaID] == nil {
			quotas[s.AreaID] = make(map[string]int)
		}
		for _, sp := range s.Spawns {
			quotas[s.AreaID][sp.TemplateID] += sp.Count
			for i := have[sp.TemplateID]; i < sp.Count; i++ {
				pending = append(pending, PendingRespawn{TemplateID: sp.TemplateID, AreaID: s.AreaID, LocationID: s.ID})
			}
			have[sp.TemplateID] = max(0, have[sp.TemplateID]-sp.Count)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.quotas, r.areaOf, r.areaLoc, r.pending = quotas, areaOf, areaLoc, pending
	r.logger.Info("respawn quotas captured from seeds",
		zap.Int("areas", len(quotas)), zap.Int("refills", len(pending)))
	return nil
}

// Quota returns the captured quota of templateID in areaID.
func (r *RespawnCoordinator) Quota(areaID, templateID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.quotas[areaID][templateID]
}

// RecordDeath queues a replacement for a creature that died at tick.
// Creatures whose template has no quota in the area are not replaced.
func (r *RespawnCoordinator) RecordDeath(c Creature, tick int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	area, ok := r.areaOf[c.LocationID]
	if !ok || r.quotas[area][c.TemplateID] == 0 {
		return
	}
	r.pending = append(r.pending, PendingRespawn{
		TemplateID:   c.TemplateID,
		AreaID:       area,
		LocationID:   c.LocationID,
		EligibleTick: tick + r.cfg.MinDelayTicks,
	})
}

// Pending returns a copy of the queue in FIFO order.
func (r *RespawnCoordinator) Pending() []PendingRespawn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]PendingRespawn(nil), r.pending...)
}

// Process spawns eligible replacements in FIFO order. Entries whose area is
// already at quota are dropped; entries that are not yet eligible, exceed the
// per-tick throttle, or fail to spawn stay queued. exclude filters creatures
// out of population counts (wandering creatures do not occupy quota).
//
// Postcondition: at most cfg.MaxPerTick creatures are spawned.
func (r *RespawnCoordinator) Process(ctx context.Context, tick int64, exclude func(id string) bool) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	type key struct{ area, template string }
	population := make(map[key]int)
	counted := make(map[key]bool)
	var errs []error
	spawned := 0
	keep := r.pending[:0:0]

	for _, e := range r.pending {
		if e.EligibleTick > tick || (r.cfg.MaxPerTick > 0 && spawned >= r.cfg.MaxPerTick) {
			keep = append(keep, e)
			continue
		}
		k := key{e.AreaID, e.TemplateID}
		if !counted[k] {
			n, err := r.countLocked(ctx, e.AreaID, e.TemplateID, exclude)
			if err != nil {
				errs = append(errs, err)
				keep = append(keep, e)
				continue
			}
			population[k], counted[k] = n, true
		}
		if population[k] >= r.quotas[e.AreaID][e.TemplateID] {
			r.logger.Debug("respawn dropped: area at quota",
				zap.String("area", e.AreaID), zap.String("template", e.TemplateID))
			continue
		}
		c, err := r.store.AddCreature(ctx, e.LocationID, e.TemplateID)
		if err != nil {
			errs = append(errs, fmt.Errorf("respawning %q at %q: %w", e.TemplateID, e.LocationID, err))
			keep = append(keep, e)
			continue
		}
		population[k]++
		spawned++
		r.logger.Info("creature respawned",
			zap.String("creature", c.ID), zap.String("template", c.TemplateID),
			zap.String("location", c.LocationID), zap.Int64("tick", tick))
	}
	r.pending = keep
	return spawned, errors.Join(errs...)
}

func (r *RespawnCoordinator) countLocked(ctx context.Context, areaID, templateID string, exclude func(string) bool) (int, error) {
	n := 0
	for _, loc := range r.areaLoc[areaID] {
		creatures, err := r.store.CreaturesAt(ctx, loc)
		if err != nil {
			return 0, fmt.Errorf("counting %q in %q: %w", templateID, loc, err)
		}
		for _, c := range creatures {
			if c.TemplateID == templateID && (exclude == nil || !exclude(c.ID)) {
				n++
			}
		}
	}
	return n, nil
}
