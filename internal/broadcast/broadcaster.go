package broadcast

import (
	"fmt"
	"io"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Broadcaster maps player ids to their live Channel.
// All methods are safe for concurrent use.
type Broadcaster struct {
	mu       sync.RWMutex
	channels map[string]Channel
	logger   *zap.Logger
}

// NewBroadcaster creates an empty Broadcaster.
func NewBroadcaster(logger *zap.Logger) *Broadcaster {
	return &Broadcaster{channels: make(map[string]Channel), logger: logger}
}

// Register binds ch to userID. A previously registered channel is closed
// when it implements io.Closer.
func (b *Broadcaster) Register(userID string, ch Channel) {
	b.mu.Lock()
	old := b.channels[userID]
	b.channels[userID] = ch
	b.mu.Unlock()
	if old != nil {
		b.closeChannel(userID, old)
	}
	b.logger.Debug("connection registered", zap.String("user", userID))
}

// Unregister removes and closes the channel of userID, if any.
func (b *Broadcaster) Unregister(userID string) {
	b.mu.Lock()
	old := b.channels[userID]
	delete(b.channels, userID)
	b.mu.Unlock()
	if old != nil {
		b.closeChannel(userID, old)
	}
}

// UnregisterIf removes userID only when it is still bound to ch, so a stale
// connection closing late cannot evict its replacement.
func (b *Broadcaster) UnregisterIf(userID string, ch Channel) bool {
	b.mu.Lock()
	cur, ok := b.channels[userID]
	if !ok || cur != ch {
		b.mu.Unlock()
		return false
	}
	delete(b.channels, userID)
	b.mu.Unlock()
	b.closeChannel(userID, cur)
	return true
}

// IsConnected reports whether userID has a registered channel.
func (b *Broadcaster) IsConnected(userID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.channels[userID]
	return ok
}

// Connected returns the registered user ids sorted.
func (b *Broadcaster) Connected() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ids := make([]string, 0, len(b.channels))
	for id := range b.channels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Broadcast sends env to each player of a independently. Players without a
// channel are skipped; a failed or panicking send is logged and does not
// affect the other recipients.
//
// Postcondition: returns the number of successful deliveries.
func (b *Broadcaster) Broadcast(a Audience, env Envelope) int {
	delivered := 0
	for _, id := range a.PlayerIDs() {
		if b.SendTo(id, env) == nil {
			delivered++
		}
	}
	return delivered
}

// SendTo delivers env to one player.
func (b *Broadcaster) SendTo(userID string, env Envelope) (err error) {
	b.mu.RLock()
	ch, ok := b.channels[userID]
	b.mu.RUnlock()
	if !ok {
		return fmt.Errorf("user %s not connected", userID)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("send to %s panicked: %v", userID, r)
		}
		if err != nil {
			b.logger.Warn("broadcast delivery failed",
				zap.String("user", userID),
				zap.String("type", env.Type),
				zap.String("session", env.SessionID),
				zap.Error(err))
		}
	}()
	return ch.Send(env)
}

func (b *Broadcaster) closeChannel(userID string, ch Channel) {
	c, ok := ch.(io.Closer)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		b.logger.Debug("closing connection", zap.String("user", userID), zap.Error(err))
	}
}
