package content

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// File is the on-disk shape of one content YAML document. Any section may be
// omitted.
type File struct {
	Abilities []*Ability          `yaml:"abilities"`
	Creatures []*CreatureTemplate `yaml:"creatures"`
	Wandering []*WanderTable      `yaml:"wandering"`
	Locations []*LocationSeed     `yaml:"locations"`
}

// Registry is an immutable, id-indexed view of loaded content.
//
// Invariant: after a successful Load every cross reference resolves.
type Registry struct {
	abilities map[string]*Ability
	creatures map[string]*CreatureTemplate
	wandering map[string]*WanderTable
	locations []*LocationSeed
}

// NewRegistry builds a Registry from already parsed files and validates it.
//
// Postcondition: returns an error naming every duplicate id, invalid record
// or dangling reference found.
func NewRegistry(files ...*File) (*Registry, error) {
	r := &Registry{
		abilities: make(map[string]*Ability),
		creatures: make(map[string]*CreatureTemplate),
		wandering: make(map[string]*WanderTable),
	}
	var errs []error
	seenLoc := make(map[string]bool)
	for _, f := range files {
		for _, a := range f.Abilities {
			if err := a.Validate(); err != nil {
				errs = append(errs, err)
				continue
			}
			if _, dup := r.abilities[a.ID]; dup {
				errs = append(errs, fmt.Errorf("ability %q: duplicate id", a.ID))
				continue
			}
			r.abilities[a.ID] = a
		}
		for _, c := range f.Creatures {
			if err := c.Validate(); err != nil {
				errs = append(errs, err)
				continue
			}
			if _, dup := r.creatures[c.ID]; dup {
				errs = append(errs, fmt.Errorf("creature template %q: duplicate id", c.ID))
				continue
			}
			r.creatures[c.ID] = c
		}
		for _, w := range f.Wandering {
			if w.Biome == "" {
				errs = append(errs, fmt.Errorf("wandering table: biome must not be empty"))
				continue
			}
			if _, dup := r.wandering[w.Biome]; dup {
				errs = append(errs, fmt.Errorf("wandering table %q: duplicate biome", w.Biome))
				continue
			}
			r.wandering[w.Biome] = w
		}
		for _, l := range f.Locations {
			if l.ID == "" || l.AreaID == "" {
				errs = append(errs, fmt.Errorf("location: id and area must not be empty"))
				continue
			}
			if seenLoc[l.ID] {
				errs = append(errs, fmt.Errorf("location %q: duplicate id", l.ID))
				continue
			}
			seenLoc[l.ID] = true
			r.locations = append(r.locations, l)
		}
	}

	for _, c := range r.creatures {
		for _, id := range c.Abilities {
			if _, ok := r.abilities[id]; !ok {
				errs = append(errs, fmt.Errorf("creature template %q: unknown ability %q", c.ID, id))
			}
		}
	}
	for _, w := range r.wandering {
		for _, e := range w.Entries {
			if _, ok := r.creatures[e.TemplateID]; !ok {
				errs = append(errs, fmt.Errorf("wandering table %q: unknown creature %q", w.Biome, e.TemplateID))
			}
		}
	}
	for _, l := range r.locations {
		for _, s := range l.Spawns {
			if _, ok := r.creatures[s.TemplateID]; !ok {
				errs = append(errs, fmt.Errorf("location %q: unknown creature %q", l.ID, s.TemplateID))
			}
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return r, nil
}

// ParseFile decodes one YAML document, rejecting unknown fields.
func ParseFile(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parsing content YAML: %w", err)
	}
	return &f, nil
}

// LoadDir reads every *.yaml file under dir (non-recursive, sorted by name)
// and builds a Registry from them.
//
// Precondition: dir must be a readable directory.
func LoadDir(dir string) (*Registry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading content dir %q: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !(strings.HasSuffix(e.Name(), ".yaml") || strings.HasSuffix(e.Name(), ".yml")) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	files := make([]*File, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %q: %w", path, err)
		}
		f, err := ParseFile(data)
		if err != nil {
			return nil, fmt.Errorf("loading %q: %w", path, err)
		}
		files = append(files, f)
	}
	return NewRegistry(files...)
}

// Ability returns the ability with id.
func (r *Registry) Ability(id string) (*Ability, bool) {
	a, ok := r.abilities[id]
	return a, ok
}

// Creature returns the creature template with id.
func (r *Registry) Creature(id string) (*CreatureTemplate, bool) {
	c, ok := r.creatures[id]
	return c, ok
}

// WanderTable returns the wandering table for biome.
func (r *Registry) WanderTable(biome string) (*WanderTable, bool) {
	w, ok := r.wandering[biome]
	return w, ok
}

// Locations returns the location seeds in load order.
func (r *Registry) Locations() []*LocationSeed {
	return r.locations
}

// AbilityCount returns the number of loaded abilities.
func (r *Registry) AbilityCount() int { return len(r.abilities) }

// CreatureCount returns the number of loaded creature templates.
func (r *Registry) CreatureCount() int { return len(r.creatures) }
