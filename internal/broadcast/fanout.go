package broadcast

import (
	"errors"
	"io"
)

// Fanout sends every message to each of its channels. It is used through a
// pointer so a registered Fanout can be compared by identity.
type Fanout struct {
	channels []Channel
}

// NewFanout creates a Fanout over chs.
func NewFanout(chs ...Channel) *Fanout {
	return &Fanout{channels: chs}
}

// Send implements Channel. Every child is attempted; failures are joined.
func (f *Fanout) Send(env Envelope) error {
	var errs []error
	for _, ch := range f.channels {
		if err := ch.Send(env); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every child that is an io.Closer.
func (f *Fanout) Close() error {
	var errs []error
	for _, ch := range f.channels {
		if c, ok := ch.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
