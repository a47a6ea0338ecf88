package gateway

import (
	"errors"

	"github.com/cory-johannsen/skirmish/internal/game/combat"
)

// Inbound operations.
const (
	OpStart = "start"
	OpQueue = "queue"
	OpFlee  = "flee"
)

// Gateway-only outbound message types.
const (
	MsgAck   = "Ack"
	MsgError = "Error"
)

// Request is one inbound client message. SessionID defaults to the player's
// current session; LocationID defaults to the player's stored location.
type Request struct {
	Op         string   `json:"op"`
	RequestID  string   `json:"requestId,omitempty"`
	LocationID string   `json:"locationId,omitempty"`
	Targets    []string `json:"targets,omitempty"`
	SessionID  string   `json:"sessionId,omitempty"`
	AbilityID  string   `json:"abilityId,omitempty"`
	TargetID   string   `json:"targetId,omitempty"`
}

// Ack confirms a request.
type Ack struct {
	RequestID string `json:"requestId,omitempty"`
	Op        string `json:"op"`
	SessionID string `json:"sessionId,omitempty"`
	// Fled reports the outcome of a flee request.
	Fled *bool `json:"fled,omitempty"`
}

// Error rejects a request. The connection stays open.
type Error struct {
	RequestID string `json:"requestId,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	// Remaining is the cooldown left, in rounds, for ON_COOLDOWN errors.
	Remaining int `json:"remaining,omitempty"`
}

// Error codes.
const (
	CodeBadRequest       = "BAD_REQUEST"
	CodeSessionNotFound  = "SESSION_NOT_FOUND"
	CodeSessionNotActive = "SESSION_NOT_ACTIVE"
	CodeNotParticipant   = "NOT_PARTICIPANT"
	CodeAbilityNotFound  = "ABILITY_NOT_FOUND"
	CodeOnCooldown       = "ON_COOLDOWN"
	CodeTargetRequired   = "TARGET_REQUIRED"
	CodeInvalidTarget    = "INVALID_TARGET"
	CodeAlreadyInCombat  = "ALREADY_IN_COMBAT"
	CodeNoCreatures      = "NO_CREATURES"
	CodeTargetNotFound   = "TARGET_NOT_FOUND"
	CodeIncapacitated    = "INCAPACITATED"
	CodeInternal         = "INTERNAL"
)

var errorCodes = []struct {
	err  error
	code string
}{
	{combat.ErrSessionNotFound, CodeSessionNotFound},
	{combat.ErrSessionNotActive, CodeSessionNotActive},
	{combat.ErrSessionEnded, CodeSessionNotActive},
	{combat.ErrNotParticipant, CodeNotParticipant},
	{combat.ErrAbilityNotFound, CodeAbilityNotFound},
	{combat.ErrAbilityOnCooldown, CodeOnCooldown},
	{combat.ErrFleeOnCooldown, CodeOnCooldown},
	{combat.ErrTargetRequired, CodeTargetRequired},
	{combat.ErrInvalidTarget, CodeInvalidTarget},
	{combat.ErrAlreadyInCombat, CodeAlreadyInCombat},
	{combat.ErrNoCreatures, CodeNoCreatures},
	{combat.ErrTargetNotFound, CodeTargetNotFound},
	{combat.ErrIncapacitated, CodeIncapacitated},
}

// errorFor maps a registry error onto its wire form.
func errorFor(requestID string, err error) Error {
	e := Error{RequestID: requestID, Code: CodeInternal, Message: err.Error()}
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			e.Code = ec.code
			break
		}
	}
	var cd *combat.CooldownError
	if errors.As(err, &cd) {
		e.Remaining = cd.Remaining
	}
	if e.Code == CodeInternal {
		e.Message = "internal error"
	}
	return e
}
