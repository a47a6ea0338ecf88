package combat

import "time"

// State is a session's lifecycle phase.
type State string

const (
	StateWaiting State = "WAITING"
	StateActive  State = "ACTIVE"
	StateEnded   State = "ENDED"
)

// EndReason explains why a session ended.
type EndReason string

const (
	EndReasonNone               EndReason = ""
	EndReasonAllEnemiesDefeated EndReason = "ALL_ENEMIES_DEFEATED"
	EndReasonAllPlayersDefeated EndReason = "ALL_PLAYERS_DEFEATED"
	EndReasonAllPlayersFled     EndReason = "ALL_PLAYERS_FLED"
	EndReasonTimeout            EndReason = "TIMEOUT"
)

// LogEntry is one line of the append-only combat log.
type LogEntry struct {
	Round     int       `json:"round"`
	ActorID   string    `json:"actorId,omitempty"`
	TargetID  string    `json:"targetId,omitempty"`
	AbilityID string    `json:"abilityId,omitempty"`
	Result    HitResult `json:"result,omitempty"`
	Amount    int       `json:"amount,omitempty"`
	Text      string    `json:"text"`
}

// Session is the per-location encounter aggregate. It is not safe for
// concurrent use; the Registry serialises all access.
//
// Invariant: once State == StateEnded no field changes again.
type Session struct {
	ID         string
	LocationID string
	State      State
	Combatants []*Combatant
	Pending    *ActionQueue
	Round      int
	RoundStart time.Time
	Log        []LogEntry
	EndReason  EndReason
	CreatedAt  time.Time
	EndedAt    time.Time
}

func newSession(id, locationID string, now time.Time) *Session {
	return &Session{
		ID:         id,
		LocationID: locationID,
		State:      StateWaiting,
		Pending:    NewActionQueue(),
		CreatedAt:  now,
	}
}

// Combatant returns the combatant with id, or nil.
func (s *Session) Combatant(id string) *Combatant {
	return findCombatant(s.Combatants, id)
}

// PlayerIDs returns the players still attached to the session. Fled players
// are detached and receive no further session messages.
func (s *Session) PlayerIDs() []string {
	var ids []string
	for _, c := range s.Combatants {
		if c.Kind == KindPlayer && c.Status != StatusFled {
			ids = append(ids, c.ID)
		}
	}
	return ids
}

func (s *Session) add(c *Combatant) error {
	if s.State == StateEnded {
		return ErrSessionEnded
	}
	s.Combatants = append(s.Combatants, c)
	return nil
}

// join adds a player, replacing the entry left behind if they fled earlier.
func (s *Session) join(c *Combatant) error {
	if s.State == StateEnded {
		return ErrSessionEnded
	}
	for i, existing := range s.Combatants {
		if existing.ID == c.ID {
			s.Combatants[i] = c
			return nil
		}
	}
	s.Combatants = append(s.Combatants, c)
	return nil
}

// canActivate reports whether both sides have a living member.
func (s *Session) canActivate() bool {
	return hasLiving(s.Combatants, KindPlayer) && hasLiving(s.Combatants, KindCreature)
}

func (s *Session) activate(now time.Time) bool {
	if s.State != StateWaiting || !s.canActivate() {
		return false
	}
	s.State = StateActive
	s.Round = 1
	s.RoundStart = now
	return true
}

// due reports whether the current round has run its full duration.
func (s *Session) due(now time.Time, roundDuration time.Duration) bool {
	return s.State == StateActive && now.Sub(s.RoundStart) >= roundDuration
}

func (s *Session) commit(r *RoundResult, now time.Time) error {
	if s.State == StateEnded {
		return ErrSessionEnded
	}
	s.Combatants = r.Combatants
	s.Log = append(s.Log, r.Log...)
	s.Pending.Clear()
	s.Round = r.NextRound
	s.RoundStart = now
	return nil
}

func (s *Session) end(reason EndReason, now time.Time) error {
	if s.State == StateEnded {
		return ErrSessionEnded
	}
	s.State = StateEnded
	s.EndReason = reason
	s.EndedAt = now
	s.Pending.Clear()
	return nil
}

// Snapshot is an immutable copy of a session for callers outside the registry.
type Snapshot struct {
	ID         string       `json:"id"`
	LocationID string       `json:"locationId"`
	State      State        `json:"state"`
	Round      int          `json:"round"`
	Combatants []*Combatant `json:"combatants"`
	Pending    []Action     `json:"-"`
	EndReason  EndReason    `json:"endReason,omitempty"`
	LogSize    int          `json:"-"`
}

func (s *Session) snapshot() Snapshot {
	return Snapshot{
		ID:         s.ID,
		LocationID: s.LocationID,
		State:      s.State,
		Round:      s.Round,
		Combatants: cloneAll(s.Combatants),
		Pending:    s.Pending.Actions(),
		EndReason:  s.EndReason,
		LogSize:    len(s.Log),
	}
}

// Combatant returns the snapshot's combatant with id, or nil.
func (s Snapshot) Combatant(id string) *Combatant {
	return findCombatant(s.Combatants, id)
}
