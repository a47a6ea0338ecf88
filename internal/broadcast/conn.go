package broadcast

import (
	"fmt"
	"sync"
)

// Conn is a bounded, non-blocking Channel that buffers encoded frames for a
// writer goroutine.
type Conn struct {
	userID string
	frames chan []byte
	mu     sync.Mutex
	closed bool
}

// NewConn creates a Conn for userID.
//
// Postcondition: a bufferSize <= 0 falls back to 64.
func NewConn(userID string, bufferSize int) *Conn {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Conn{userID: userID, frames: make(chan []byte, bufferSize)}
}

// UserID returns the owning player's id.
func (c *Conn) UserID() string { return c.userID }

// Send encodes env and enqueues it without blocking.
//
// Postcondition: returns an error when the Conn is closed or its buffer is full.
func (c *Conn) Send(env Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return fmt.Errorf("encoding %s for %s: %w", env.Type, c.userID, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("connection %s is closed", c.userID)
	}
	select {
	case c.frames <- data:
		return nil
	default:
		return fmt.Errorf("connection %s buffer full", c.userID)
	}
}

// Frames returns the read side consumed by the writer goroutine.
func (c *Conn) Frames() <-chan []byte { return c.frames }

// Close closes the frame channel. Further sends fail.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.frames)
	}
	return nil
}
