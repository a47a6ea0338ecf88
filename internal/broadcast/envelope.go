// Package broadcast delivers outbound messages to connected players and
// isolates delivery failures per recipient.
package broadcast

import "encoding/json"

// Envelope is one outbound message.
type Envelope struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// Encode returns the wire form of e.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Channel is a live outbound connection to one player.
type Channel interface {
	Send(env Envelope) error
}

// Audience names the players a message goes to.
type Audience interface {
	PlayerIDs() []string
}

// Recipients is an explicit Audience.
type Recipients []string

// PlayerIDs implements Audience.
func (r Recipients) PlayerIDs() []string { return r }
