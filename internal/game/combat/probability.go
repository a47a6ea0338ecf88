package combat

import (
	"errors"
	"fmt"
	"math"

	"github.com/cory-johannsen/skirmish/internal/game/dice"
)

// HitResult is the four-tier outcome of a to-hit roll.
type HitResult string

const (
	Miss     HitResult = "MISS"
	Glancing HitResult = "GLANCING"
	Hit      HitResult = "HIT"
	Critical HitResult = "CRITICAL"
)

// Params tunes the probability model.
type Params struct {
	BaseHit            float64 `mapstructure:"base_hit"`
	AccuracyFactor     float64 `mapstructure:"accuracy_factor"`
	LevelFactor        float64 `mapstructure:"level_factor"`
	MinHit             float64 `mapstructure:"min_hit"`
	MaxHit             float64 `mapstructure:"max_hit"`
	BaseCrit           float64 `mapstructure:"base_crit"`
	MaxCrit            float64 `mapstructure:"max_crit"`
	GlancingBand       float64 `mapstructure:"glancing_band"`
	CritMultiplier     float64 `mapstructure:"crit_multiplier"`
	GlancingMultiplier float64 `mapstructure:"glancing_multiplier"`
	Variance           float64 `mapstructure:"variance"`
}

// DefaultParams returns the stock probability model.
func DefaultParams() Params {
	return Params{
		BaseHit:            0.75,
		AccuracyFactor:     0.01,
		LevelFactor:        0.02,
		MinHit:             0.05,
		MaxHit:             0.95,
		BaseCrit:           0.05,
		MaxCrit:            0.5,
		GlancingBand:       0.1,
		CritMultiplier:     2.0,
		GlancingMultiplier: 0.5,
		Variance:           0.1,
	}
}

// Validate reports every out-of-range parameter.
func (p Params) Validate() error {
	var errs []error
	if p.MinHit <= 0 || p.MaxHit >= 1 || p.MinHit > p.MaxHit {
		errs = append(errs, fmt.Errorf("hit band must satisfy 0 < min_hit <= max_hit < 1, got [%v, %v]", p.MinHit, p.MaxHit))
	}
	if p.BaseCrit < 0 || p.MaxCrit < p.BaseCrit || p.MaxCrit > 1 {
		errs = append(errs, fmt.Errorf("crit chance must satisfy 0 <= base_crit <= max_crit <= 1"))
	}
	if p.GlancingBand < 0 || p.GlancingBand >= 1 {
		errs = append(errs, fmt.Errorf("glancing_band must be in [0, 1), got %v", p.GlancingBand))
	}
	if p.CritMultiplier < 1 {
		errs = append(errs, fmt.Errorf("crit_multiplier must be >= 1, got %v", p.CritMultiplier))
	}
	if p.GlancingMultiplier <= 0 || p.GlancingMultiplier > 1 {
		errs = append(errs, fmt.Errorf("glancing_multiplier must be in (0, 1], got %v", p.GlancingMultiplier))
	}
	if p.Variance < 0 || p.Variance >= 1 {
		errs = append(errs, fmt.Errorf("variance must be in [0, 1), got %v", p.Variance))
	}
	return errors.Join(errs...)
}

// ProbabilityEngine computes hit, crit and damage outcomes. It holds no
// mutable state; every random draw comes from the Source passed in.
type ProbabilityEngine struct {
	p Params
}

// NewProbabilityEngine creates an engine over p.
//
// Precondition: p.Validate() == nil.
func NewProbabilityEngine(p Params) ProbabilityEngine {
	return ProbabilityEngine{p: p}
}

// HitChance returns the chance an attack lands.
//
// Postcondition: result is within [MinHit, MaxHit].
func (e ProbabilityEngine) HitChance(accuracy, evasion, levelDiff int) float64 {
	c := e.p.BaseHit + float64(accuracy-evasion)*e.p.AccuracyFactor + float64(levelDiff)*e.p.LevelFactor
	return math.Max(e.p.MinHit, math.Min(e.p.MaxHit, c))
}

// CritChance returns the share of landed attacks that are critical.
//
// Postcondition: result is within [0, MaxCrit].
func (e ProbabilityEngine) CritChance(bonus float64) float64 {
	return math.Max(0, math.Min(e.p.MaxCrit, e.p.BaseCrit+bonus))
}

// RollToHit classifies one uniform draw r: r >= hit misses; r below
// hit*crit is critical; the top GlancingBand slice of the hit range glances.
func (e ProbabilityEngine) RollToHit(src dice.Source, hitChance, critChance float64) HitResult {
	r := src.Float64()
	switch {
	case r >= hitChance:
		return Miss
	case r < hitChance*critChance:
		return Critical
	case r >= hitChance*(1-e.p.GlancingBand):
		return Glancing
	default:
		return Hit
	}
}

// Damage scales base by a bounded jitter and the outcome multiplier.
//
// Postcondition: amount >= 0; amount == 0 when result == Miss.
func (e ProbabilityEngine) Damage(src dice.Source, base int, result HitResult) (amount int, variance float64) {
	variance = e.jitter(src)
	if result == Miss || base <= 0 {
		return 0, variance
	}
	v := float64(base) * variance
	switch result {
	case Critical:
		v *= e.p.CritMultiplier
	case Glancing:
		v *= e.p.GlancingMultiplier
	}
	return max(0, int(math.Round(v))), variance
}

// Heal scales base by the same bounded jitter; heals never miss.
func (e ProbabilityEngine) Heal(src dice.Source, base int) (amount int, variance float64) {
	variance = e.jitter(src)
	if base <= 0 {
		return 0, variance
	}
	return max(0, int(math.Round(float64(base)*variance))), variance
}

// jitter returns a multiplier in [1-Variance, 1+Variance).
func (e ProbabilityEngine) jitter(src dice.Source) float64 {
	return 1 + (src.Float64()*2-1)*e.p.Variance
}
