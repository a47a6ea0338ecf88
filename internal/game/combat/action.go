package combat

// Action is one queued ability use.
type Action struct {
	CombatantID string `json:"combatantId"`
	AbilityID   string `json:"abilityId"`
	TargetID    string `json:"targetId,omitempty"`
	seq         uint64
}

// ActionQueue holds at most one pending action per combatant, remembering
// the order in which actions were submitted.
//
// Invariant: len(Actions()) == number of distinct combatants with a pending action.
type ActionQueue struct {
	byActor map[string]Action
	next    uint64
}

// NewActionQueue creates an empty queue.
func NewActionQueue() *ActionQueue {
	return &ActionQueue{byActor: make(map[string]Action)}
}

// Queue records a for its combatant, replacing any prior action. The
// replacement takes the position of a fresh submission.
func (q *ActionQueue) Queue(a Action) {
	q.next++
	a.seq = q.next
	q.byActor[a.CombatantID] = a
}

// Remove drops the pending action of combatantID, if any.
func (q *ActionQueue) Remove(combatantID string) {
	delete(q.byActor, combatantID)
}

// Pending returns the action of combatantID, if any.
func (q *ActionQueue) Pending(combatantID string) (Action, bool) {
	a, ok := q.byActor[combatantID]
	return a, ok
}

// Len returns the number of pending actions.
func (q *ActionQueue) Len() int { return len(q.byActor) }

// Actions returns the pending actions in submission order.
func (q *ActionQueue) Actions() []Action {
	out := make([]Action, 0, len(q.byActor))
	for _, a := range q.byActor {
		out = append(out, a)
	}
	sortBySeq(out)
	return out
}

// Clear drops every pending action.
func (q *ActionQueue) Clear() {
	clear(q.byActor)
}

func sortBySeq(as []Action) {
	// Small n; insertion sort keeps this allocation free.
	for i := 1; i < len(as); i++ {
		for j := i; j > 0 && as[j].seq < as[j-1].seq; j-- {
			as[j], as[j-1] = as[j-1], as[j]
		}
	}
}
