package world

import (
	"sort"
	"sync"
)

// Presence tracks which location each connected player occupies. A location
// with at least one player present is active.
type Presence struct {
	mu    sync.RWMutex
	users map[string]string // userID → locationID
}

// NewPresence creates an empty Presence.
func NewPresence() *Presence {
	return &Presence{users: make(map[string]string)}
}

// Enter records userID at locationID, replacing any prior location.
func (p *Presence) Enter(userID, locationID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.users[userID] = locationID
}

// Leave forgets userID.
func (p *Presence) Leave(userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.users, userID)
}

// ActiveLocations returns the distinct occupied locations sorted by id.
func (p *Presence) ActiveLocations() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	seen := make(map[string]bool, len(p.users))
	out := make([]string, 0, len(p.users))
	for _, loc := range p.users {
		if loc == "" || seen[loc] {
			continue
		}
		seen[loc] = true
		out = append(out, loc)
	}
	sort.Strings(out)
	return out
}
