// Package messaging mirrors per-player combat events onto NATS subjects and
// can host an embedded NATS server for single-process deployments.
package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"go.uber.org/zap"
)

// EmbeddedServer is an in-process NATS server.
type EmbeddedServer struct {
	ns     *server.Server
	logger *zap.Logger

	startTimeout time.Duration
	host         string
	port         int
}

// ServerOpt configures an EmbeddedServer.
type ServerOpt func(*EmbeddedServer)

// WithHost sets the listen host. The default is 127.0.0.1.
func WithHost(host string) ServerOpt {
	return func(s *EmbeddedServer) { s.host = host }
}

// WithPort sets the listen port. -1 picks a free port.
func WithPort(port int) ServerOpt {
	return func(s *EmbeddedServer) { s.port = port }
}

// WithStartTimeout bounds how long Listen waits for the server to accept
// connections. The default is 10s.
func WithStartTimeout(d time.Duration) ServerOpt {
	return func(s *EmbeddedServer) { s.startTimeout = d }
}

// NewEmbeddedServer creates, but does not start, an embedded server.
func NewEmbeddedServer(logger *zap.Logger, opts ...ServerOpt) (*EmbeddedServer, error) {
	s := &EmbeddedServer{
		logger:       logger,
		startTimeout: 10 * time.Second,
		host:         "127.0.0.1",
		port:         server.DEFAULT_PORT,
	}
	for _, opt := range opts {
		opt(s)
	}
	ns, err := server.NewServer(&server.Options{
		Host:   s.host,
		Port:   s.port,
		NoSigs: true,
		NoLog:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating nats server: %w", err)
	}
	s.ns = ns
	return s, nil
}

// Listen starts the server and waits until it accepts connections.
func (s *EmbeddedServer) Listen() error {
	go s.ns.Start()
	if !s.ns.ReadyForConnections(s.startTimeout) {
		return fmt.Errorf("nats server not ready for connections after %s", s.startTimeout)
	}
	s.logger.Info("embedded nats server listening", zap.String("url", s.ClientURL()))
	return nil
}

// ClientURL returns the URL clients connect to.
//
// Precondition: Listen returned nil.
func (s *EmbeddedServer) ClientURL() string {
	return s.ns.ClientURL()
}

// Start blocks until ctx is cancelled, then shuts the server down.
func (s *EmbeddedServer) Start(ctx context.Context) error {
	<-ctx.Done()
	s.shutdown()
	return nil
}

// Stop shuts the server down.
func (s *EmbeddedServer) Stop(context.Context) error {
	s.shutdown()
	return nil
}

func (s *EmbeddedServer) shutdown() {
	if s.ns.Running() {
		s.ns.Shutdown()
		s.ns.WaitForShutdown()
	}
}
