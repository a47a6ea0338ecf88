package messaging

import (
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/cory-johannsen/skirmish/internal/broadcast"
)

// Publisher publishes encoded envelopes to one subject per player.
type Publisher struct {
	conn   *nats.Conn
	prefix string
	logger *zap.Logger
}

// Connect dials url and returns a Publisher using subjects
// "<prefix>.<userID>".
//
// Precondition: prefix is non-empty.
func Connect(url, prefix string, logger *zap.Logger) (*Publisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("skirmish-combat"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats at %s: %w", url, err)
	}
	return &Publisher{conn: conn, prefix: prefix, logger: logger}, nil
}

// Subject returns the subject carrying userID's events.
func (p *Publisher) Subject(userID string) string {
	return p.prefix + "." + userID
}

// Publish encodes env onto userID's subject.
func (p *Publisher) Publish(userID string, env broadcast.Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return fmt.Errorf("encoding %s for %s: %w", env.Type, userID, err)
	}
	if err := p.conn.Publish(p.Subject(userID), data); err != nil {
		return fmt.Errorf("publishing %s for %s: %w", env.Type, userID, err)
	}
	return nil
}

// Channel returns a broadcast.Channel that mirrors userID's events.
func (p *Publisher) Channel(userID string) broadcast.Channel {
	return userChannel{p: p, userID: userID}
}

// Flush waits until the server has processed everything published so far.
func (p *Publisher) Flush() error {
	return p.conn.Flush()
}

// Close drains pending messages and closes the connection.
func (p *Publisher) Close() error {
	return p.conn.Drain()
}

type userChannel struct {
	p      *Publisher
	userID string
}

func (c userChannel) Send(env broadcast.Envelope) error {
	return c.p.Publish(c.userID, env)
}
