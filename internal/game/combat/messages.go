package combat

import "github.com/cory-johannsen/skirmish/internal/broadcast"

// Outbound message types.
const (
	MsgCombatStarted       = "CombatStarted"
	MsgAbilityQueued       = "AbilityQueued"
	MsgRoundStart          = "RoundStart"
	MsgAbilityResolved     = "AbilityResolved"
	MsgHealthUpdate        = "HealthUpdate"
	MsgStatusEffectApplied = "StatusEffectApplied"
	MsgStatusEffectExpired = "StatusEffectExpired"
	MsgRoundEnd            = "RoundEnd"
	MsgFleeResult          = "FleeResult"
	MsgCombatEnded         = "CombatEnded"
	MsgCreatureIntent      = "CreatureIntent"
)

type CombatStarted struct {
	Session Snapshot   `json:"session"`
	Joining *Combatant `json:"joiningCombatant"`
}

type AbilityQueued struct {
	CombatantID string `json:"combatantId"`
	AbilityID   string `json:"abilityId"`
	TargetID    string `json:"targetId,omitempty"`
}

type RoundStart struct {
	RoundNumber int          `json:"roundNumber"`
	DurationMs  int64        `json:"durationMs"`
	Combatants  []*Combatant `json:"combatants"`
}

type AbilityResolved struct {
	ActorID     string    `json:"actorId"`
	ActorName   string    `json:"actorName"`
	TargetID    string    `json:"targetId"`
	TargetName  string    `json:"targetName"`
	AbilityID   string    `json:"abilityId"`
	AbilityName string    `json:"abilityName"`
	Result      HitResult `json:"result"`
	Amount      int       `json:"amount"`
}

type HealthUpdate struct {
	CombatantID  string `json:"combatantId"`
	CurrentHP    int    `json:"currentHp"`
	MaxHP        int    `json:"maxHp"`
	ChangeAmount int    `json:"changeAmount"`
	SourceID     string `json:"sourceId"`
}

// StatusEffectChange is the payload of both applied and expired messages.
type StatusEffectChange struct {
	CombatantID string       `json:"combatantId"`
	Effect      StatusEffect `json:"effect"`
}

type RoundEnd struct {
	RoundNumber int          `json:"roundNumber"`
	Combatants  []*Combatant `json:"combatants"`
	LogEntries  []LogEntry   `json:"logEntries"`
}

type FleeResult struct {
	UserID  string `json:"userId"`
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type CombatEnded struct {
	Reason           EndReason `json:"reason"`
	Victors          []string  `json:"victors"`
	Defeated         []string  `json:"defeated"`
	ExperienceGained int       `json:"experienceGained"`
	GoldGained       int       `json:"goldGained"`
}

type CreatureIntent struct {
	CreatureID string `json:"creatureId"`
	TargetID   string `json:"targetId"`
}

func envelope(sessionID, msgType string, payload any) broadcast.Envelope {
	return broadcast.Envelope{Type: msgType, SessionID: sessionID, Payload: payload}
}
