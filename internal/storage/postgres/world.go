package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/skirmish/internal/game/world"
)

// WorldRepository is a world.Store backed by PostgreSQL.
type WorldRepository struct {
	db *pgxpool.Pool
}

// NewWorldRepository creates a WorldRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewWorldRepository(db *pgxpool.Pool) *WorldRepository {
	return &WorldRepository{db: db}
}

// PutLocation implements world.Store.
func (r *WorldRepository) PutLocation(ctx context.Context, loc world.Location) error {
	if loc.ID == "" {
		return fmt.Errorf("world: location id must not be empty")
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO locations (id, area_id, biome) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET area_id = EXCLUDED.area_id, biome = EXCLUDED.biome`,
		loc.ID, loc.AreaID, loc.Biome)
	if err != nil {
		return fmt.Errorf("upserting location %s: %w", loc.ID, err)
	}
	return nil
}

// Location implements world.Store.
func (r *WorldRepository) Location(ctx context.Context, id string) (world.Location, error) {
	var loc world.Location
	err := r.db.QueryRow(ctx, `SELECT id, area_id, biome FROM locations WHERE id = $1`, id).
		Scan(&loc.ID, &loc.AreaID, &loc.Biome)
	if errors.Is(err, pgx.ErrNoRows) {
		return world.Location{}, world.ErrLocationNotFound
	}
	if err != nil {
		return world.Location{}, fmt.Errorf("querying location %s: %w", id, err)
	}
	return loc, nil
}

// Locations implements world.Store. The result is sorted by id.
func (r *WorldRepository) Locations(ctx context.Context) ([]world.Location, error) {
	rows, err := r.db.Query(ctx, `SELECT id, area_id, biome FROM locations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing locations: %w", err)
	}
	locs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (world.Location, error) {
		var l world.Location
		err := row.Scan(&l.ID, &l.AreaID, &l.Biome)
		return l, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning locations: %w", err)
	}
	return locs, nil
}

// CreaturesAt implements world.Store. The result is sorted by id.
func (r *WorldRepository) CreaturesAt(ctx context.Context, locationID string) ([]world.Creature, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id::text, template_id, location_id FROM creatures
		WHERE location_id = $1 ORDER BY id`, locationID)
	if err != nil {
		return nil, fmt.Errorf("listing creatures at %s: %w", locationID, err)
	}
	cs, err := pgx.CollectRows(rows, scanCreature)
	if err != nil {
		return nil, fmt.Errorf("scanning creatures at %s: %w", locationID, err)
	}
	return cs, nil
}

// Creature implements world.Store.
func (r *WorldRepository) Creature(ctx context.Context, id string) (world.Creature, error) {
	if _, err := uuid.Parse(id); err != nil {
		return world.Creature{}, world.ErrCreatureNotFound
	}
	rows, err := r.db.Query(ctx, `SELECT id::text, template_id, location_id FROM creatures WHERE id = $1`, id)
	if err != nil {
		return world.Creature{}, fmt.Errorf("querying creature %s: %w", id, err)
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanCreature)
	if errors.Is(err, pgx.ErrNoRows) {
		return world.Creature{}, world.ErrCreatureNotFound
	}
	if err != nil {
		return world.Creature{}, fmt.Errorf("scanning creature %s: %w", id, err)
	}
	return c, nil
}

// AddCreature implements world.Store.
//
// Precondition: locationID names a stored location.
func (r *WorldRepository) AddCreature(ctx context.Context, locationID, templateID string) (world.Creature, error) {
	c := world.Creature{ID: uuid.NewString(), TemplateID: templateID, LocationID: locationID}
	_, err := r.db.Exec(ctx,
		`INSERT INTO creatures (id, template_id, location_id) VALUES ($1, $2, $3)`,
		c.ID, c.TemplateID, c.LocationID)
	if err != nil {
		if sqlState(err) == foreignKeyViolation {
			return world.Creature{}, fmt.Errorf("adding %q to %q: %w", templateID, locationID, world.ErrLocationNotFound)
		}
		return world.Creature{}, fmt.Errorf("inserting creature: %w", err)
	}
	return c, nil
}

// RemoveCreature implements world.Store.
func (r *WorldRepository) RemoveCreature(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return world.ErrCreatureNotFound
	}
	tag, err := r.db.Exec(ctx, `DELETE FROM creatures WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting creature %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return world.ErrCreatureNotFound
	}
	return nil
}

func scanCreature(row pgx.CollectableRow) (world.Creature, error) {
	var c world.Creature
	err := row.Scan(&c.ID, &c.TemplateID, &c.LocationID)
	return c, err
}
