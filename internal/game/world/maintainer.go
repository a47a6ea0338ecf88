package world

import (
	"context"
	"errors"
	"sync/atomic"

	"go.uber.org/zap"
)

// Maintainer runs respawn and wandering maintenance from one scheduler phase
// and routes creature deaths to the right coordinator.
type Maintainer struct {
	respawn   *RespawnCoordinator
	wandering *WanderingCoordinator
	logger    *zap.Logger
	tick      atomic.Int64
}

// NewMaintainer composes the two coordinators.
//
// Precondition: respawn and wandering must be non-nil.
func NewMaintainer(respawn *RespawnCoordinator, wandering *WanderingCoordinator, logger *zap.Logger) *Maintainer {
	return &Maintainer{respawn: respawn, wandering: wandering, logger: logger}
}

// CreatureDefeated records a combat death. Wandering creatures are forgotten;
// all others queue a respawn relative to the last processed tick.
func (m *Maintainer) CreatureDefeated(_ context.Context, c Creature) {
	if m.wandering.Forget(c.ID) {
		return
	}
	m.respawn.RecordDeath(c, m.tick.Load())
}

// Process runs both coordinators. A failure in one never prevents the other.
func (m *Maintainer) Process(ctx context.Context, tick int64) error {
	m.tick.Store(tick)
	var errs []error

	respawned, err := m.respawn.Process(ctx, tick, m.wandering.IsWanderer)
	if err != nil {
		errs = append(errs, err)
	}
	spawned, despawned, err := m.wandering.Process(ctx, tick)
	if err != nil {
		errs = append(errs, err)
	}
	if respawned+spawned+despawned > 0 {
		m.logger.Debug("world maintenance",
			zap.Int64("tick", tick),
			zap.Int("respawned", respawned),
			zap.Int("wandering_spawned", spawned),
			zap.Int("wandering_despawned", despawned))
	}
	return errors.Join(errs...)
}
