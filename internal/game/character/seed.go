package character

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrUserExists is returned by a Seeder when the user is already stored.
var ErrUserExists = errors.New("user already exists")

type userRecord struct {
	ID              string   `yaml:"id"`
	Name            string   `yaml:"name"`
	Level           int      `yaml:"level"`
	LocationID      string   `yaml:"location"`
	MaxHP           int      `yaml:"max_hp"`
	MaxMana         int      `yaml:"max_mana"`
	MaxStamina      int      `yaml:"max_stamina"`
	Accuracy        int      `yaml:"accuracy"`
	Evasion         int      `yaml:"evasion"`
	CritBonus       float64  `yaml:"crit_bonus"`
	InitiativeBonus int      `yaml:"initiative_bonus"`
	Abilities       []string `yaml:"abilities"`
}

// ParseUsers decodes a YAML list of starting players. Every player begins at
// full vitals with no cooldowns.
//
// Postcondition: returns an error for unknown fields, empty ids or names,
// duplicate ids, or a max_hp below 1.
func ParseUsers(data []byte) ([]*User, error) {
	var doc struct {
		Players []userRecord `yaml:"players"`
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding players: %w", err)
	}
	seen := make(map[string]bool, len(doc.Players))
	out := make([]*User, 0, len(doc.Players))
	for _, r := range doc.Players {
		switch {
		case r.ID == "" || r.Name == "":
			return nil, fmt.Errorf("player %q: id and name must not be empty", r.ID)
		case seen[r.ID]:
			return nil, fmt.Errorf("player %q: duplicate id", r.ID)
		case r.MaxHP < 1:
			return nil, fmt.Errorf("player %q: max_hp must be >= 1", r.ID)
		}
		seen[r.ID] = true
		out = append(out, &User{
			ID:              r.ID,
			Name:            r.Name,
			Level:           max(r.Level, 1),
			LocationID:      r.LocationID,
			MaxHP:           r.MaxHP,
			CurrentHP:       r.MaxHP,
			MaxMana:         r.MaxMana,
			Mana:            r.MaxMana,
			MaxStamina:      r.MaxStamina,
			Stamina:         r.MaxStamina,
			Accuracy:        r.Accuracy,
			Evasion:         r.Evasion,
			CritBonus:       r.CritBonus,
			InitiativeBonus: r.InitiativeBonus,
			Abilities:       r.Abilities,
			Cooldowns:       map[string]int{},
		})
	}
	return out, nil
}

// Seeder stores new users.
type Seeder interface {
	Create(ctx context.Context, u *User) error
}

// SeedFile loads the players in path into s. Players already stored are left
// untouched.
//
// Postcondition: returns the number of players created.
func SeedFile(ctx context.Context, s Seeder, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", path, err)
	}
	users, err := ParseUsers(data)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}
	created := 0
	for _, u := range users {
		err := s.Create(ctx, u)
		if errors.Is(err, ErrUserExists) {
			continue
		}
		if err != nil {
			return created, fmt.Errorf("seeding player %s: %w", u.ID, err)
		}
		created++
	}
	return created, nil
}
