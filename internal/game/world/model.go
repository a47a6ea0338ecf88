// Package world owns creature placement: the location store port, an
// in-memory implementation, and the coordinators that keep populations alive.
package world

import (
	"context"
	"errors"
)

var (
	// ErrLocationNotFound is returned when no location matches the id.
	ErrLocationNotFound = errors.New("location not found")
	// ErrCreatureNotFound is returned when no live creature matches the id.
	ErrCreatureNotFound = errors.New("creature not found")
)

// Location is a place creatures and players occupy.
type Location struct {
	ID     string
	AreaID string
	Biome  string
}

// Creature is a live creature instance.
type Creature struct {
	ID         string
	TemplateID string
	LocationID string
}

// Store is the persistence boundary for locations and live creatures.
type Store interface {
	// PutLocation inserts or updates a location.
	PutLocation(ctx context.Context, loc Location) error
	// Location returns the location with id, or ErrLocationNotFound.
	Location(ctx context.Context, id string) (Location, error)
	// Locations returns every known location.
	Locations(ctx context.Context) ([]Location, error)
	// CreaturesAt returns the live creatures at locationID.
	CreaturesAt(ctx context.Context, locationID string) ([]Creature, error)
	// Creature returns the live creature with id, or ErrCreatureNotFound.
	Creature(ctx context.Context, id string) (Creature, error)
	// AddCreature spawns a new creature of templateID at locationID.
	AddCreature(ctx context.Context, locationID, templateID string) (Creature, error)
	// RemoveCreature deletes a live creature, or returns ErrCreatureNotFound.
	RemoveCreature(ctx context.Context, id string) error
}
