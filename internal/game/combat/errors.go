package combat

import (
	"errors"
	"fmt"
)

var (
	ErrSessionNotFound   = errors.New("combat session not found")
	ErrSessionNotActive  = errors.New("combat session is not active")
	ErrSessionEnded      = errors.New("combat session has ended")
	ErrNotParticipant    = errors.New("not a living participant of this session")
	ErrAbilityNotFound   = errors.New("ability not found")
	ErrAbilityOnCooldown = errors.New("ability on cooldown")
	ErrFleeOnCooldown    = errors.New("flee on cooldown")
	ErrTargetRequired    = errors.New("ability requires a target")
	ErrInvalidTarget     = errors.New("invalid target")
	ErrAlreadyInCombat   = errors.New("already in combat")
	ErrNoCreatures       = errors.New("no creatures to fight here")
	ErrTargetNotFound    = errors.New("target creature not found at location")
	ErrIncapacitated     = errors.New("too wounded to fight")
)

// CooldownError reports how many rounds remain before an ability, or a flee
// attempt when AbilityID is empty, is usable again.
type CooldownError struct {
	AbilityID string
	Remaining int
}

func (e *CooldownError) Error() string {
	if e.AbilityID == "" {
		return fmt.Sprintf("flee on cooldown: %d round(s) remaining", e.Remaining)
	}
	return fmt.Sprintf("ability %q on cooldown: %d round(s) remaining", e.AbilityID, e.Remaining)
}

// Is matches ErrFleeOnCooldown or ErrAbilityOnCooldown.
func (e *CooldownError) Is(target error) bool {
	if e.AbilityID == "" {
		return target == ErrFleeOnCooldown
	}
	return target == ErrAbilityOnCooldown
}
