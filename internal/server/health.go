package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthCheck reports a dependency failure as a non-nil error.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// HealthServer serves the standard gRPC health protocol. The overall ("")
// status is SERVING only while every check passes.
type HealthServer struct {
	addr     string
	interval time.Duration
	checks   []HealthCheck
	logger   *zap.Logger

	grpc   *grpc.Server
	health *health.Server

	mu       sync.Mutex
	listener net.Listener
	failing  map[string]bool
}

// NewHealthServer creates a HealthServer on addr re-evaluating checks every
// interval.
//
// Precondition: interval > 0.
func NewHealthServer(addr string, interval time.Duration, logger *zap.Logger, checks ...HealthCheck) *HealthServer {
	h := &HealthServer{
		addr:     addr,
		interval: interval,
		checks:   checks,
		logger:   logger,
		grpc:     grpc.NewServer(),
		health:   health.NewServer(),
		failing:  make(map[string]bool),
	}
	healthpb.RegisterHealthServer(h.grpc, h.health)
	h.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// Listen binds the listening socket without serving.
func (h *HealthServer) Listen() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listener != nil {
		return nil
	}
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", h.addr, err)
	}
	h.listener = ln
	return nil
}

// Addr returns the bound address, or the configured one before Listen.
func (h *HealthServer) Addr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listener != nil {
		return h.listener.Addr().String()
	}
	return h.addr
}

// Evaluate runs every check once and updates the served status.
//
// Postcondition: returns true iff every check passed.
func (h *HealthServer) Evaluate(ctx context.Context) bool {
	ok := true
	for _, c := range h.checks {
		err := c.Check(ctx)
		h.mu.Lock()
		was := h.failing[c.Name]
		h.failing[c.Name] = err != nil
		h.mu.Unlock()
		switch {
		case err != nil && !was:
			h.logger.Warn("health check failing", zap.String("check", c.Name), zap.Error(err))
		case err == nil && was:
			h.logger.Info("health check recovered", zap.String("check", c.Name))
		}
		ok = ok && err == nil
	}

	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus("", status)
	return ok
}

// Start serves health checks until Stop is called, re-evaluating the checks
// every interval.
func (h *HealthServer) Start(ctx context.Context) error {
	if err := h.Listen(); err != nil {
		return err
	}
	h.mu.Lock()
	ln := h.listener
	h.mu.Unlock()

	go func() {
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()
		for {
			h.Evaluate(ctx)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	h.logger.Info("health server listening", zap.String("addr", ln.Addr().String()))
	if err := h.grpc.Serve(ln); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("serving health: %w", err)
	}
	return nil
}

// Stop marks every service NOT_SERVING and stops the gRPC server, forcing it
// closed if ctx ends first.
func (h *HealthServer) Stop(ctx context.Context) error {
	h.health.Shutdown()
	done := make(chan struct{})
	go func() {
		h.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		h.grpc.Stop()
		return ctx.Err()
	}
}

// TickFreshness fails when the last completed tick is older than staleAfter.
// A zero last tick fails until the first tick completes.
func TickFreshness(last func() time.Time, staleAfter time.Duration, now func() time.Time) HealthCheck {
	return HealthCheck{
		Name: "scheduler",
		Check: func(context.Context) error {
			t := last()
			if t.IsZero() {
				return errors.New("no tick has completed")
			}
			if age := now().Sub(t); age > staleAfter {
				return fmt.Errorf("last tick %s ago exceeds %s", age.Round(time.Millisecond), staleAfter)
			}
			return nil
		},
	}
}
