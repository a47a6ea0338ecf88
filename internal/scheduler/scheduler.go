// Package scheduler drives the server's global tick: passive regeneration,
// due combat rounds and world maintenance, in that order, once per interval.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/cory-johannsen/skirmish/internal/scheduler")

// ErrAlreadyRunning is returned by Start when the loop is already running.
var ErrAlreadyRunning = errors.New("scheduler already running")

// Config tunes the tick loop.
type Config struct {
	// Interval is the target period between tick starts.
	Interval time.Duration
	// MinSleep is the shortest pause between ticks, applied when a tick
	// overruns Interval.
	MinSleep time.Duration
}

// DefaultConfig returns a 3s interval with a 50ms minimum sleep.
func DefaultConfig() Config {
	return Config{Interval: 3 * time.Second, MinSleep: 50 * time.Millisecond}
}

// SleepAfter returns how long to wait after a tick that took elapsed.
func (c Config) SleepAfter(elapsed time.Duration) time.Duration {
	return max(c.Interval-elapsed, c.MinSleep)
}

// CombatProcessor resolves combat rounds that are due at now.
type CombatProcessor interface {
	ProcessDue(ctx context.Context, now time.Time) int
}

// WorldProcessor runs per-tick world maintenance.
type WorldProcessor interface {
	Process(ctx context.Context, tick int64) error
}

// RegenProcessor applies passive regeneration for one tick.
type RegenProcessor interface {
	Run(ctx context.Context, tick int64) (int, error)
}

// Deps are the phases driven by the Scheduler. Any of Regen, Combat and World
// may be nil to skip that phase. Clock defaults to time.Now.
type Deps struct {
	Regen  RegenProcessor
	Combat CombatProcessor
	World  WorldProcessor
	Logger *zap.Logger
	Clock  func() time.Time
}

// Report summarises one tick.
type Report struct {
	Tick        int64
	Regenerated int
	Sessions    int
	// Failed names the phases that returned an error or panicked.
	Failed []string
}

// Scheduler is the single global tick loop.
type Scheduler struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger
	now    func() time.Time

	ticks    atomic.Int64
	lastTick atomic.Int64 // unix nanos of the last completed tick

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// New creates a Scheduler.
//
// Precondition: cfg.Interval > 0; deps.Logger is non-nil.
func New(cfg Config, deps Deps) *Scheduler {
	if cfg.Interval <= 0 {
		panic("scheduler.New: interval must be > 0")
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	return &Scheduler{cfg: cfg, deps: deps, logger: deps.Logger, now: now}
}

// Start runs the loop until ctx is cancelled or Stop is called. A stop never
// interrupts a tick in progress.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stop, s.done
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		close(done)
	}()

	s.logger.Info("tick scheduler started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Duration("min_sleep", s.cfg.MinSleep))
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-stop:
			s.logger.Info("tick scheduler stopped", zap.Int64("ticks", s.TickCount()))
			return nil
		case <-ctx.Done():
			s.logger.Info("tick scheduler cancelled", zap.Int64("ticks", s.TickCount()))
			return nil
		case <-timer.C:
		}
		started := time.Now()
		s.Tick(context.WithoutCancel(ctx))
		timer.Reset(s.cfg.SleepAfter(time.Since(started)))
	}
}

// Stop signals the loop and waits for the tick in flight to finish, or for
// ctx to end. Stopping a scheduler that is not running is a no-op.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	done := s.done
	s.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for tick to finish: %w", ctx.Err())
	}
}

// TickCount returns the number of ticks started.
func (s *Scheduler) TickCount() int64 {
	return s.ticks.Load()
}

// LastTick returns when the last tick completed, or the zero time.
func (s *Scheduler) LastTick() time.Time {
	n := s.lastTick.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Tick runs one iteration of all phases. A failing phase is logged and the
// remaining phases still run.
func (s *Scheduler) Tick(ctx context.Context) Report {
	n := s.ticks.Add(1)
	ctx, span := tracer.Start(ctx, "scheduler.tick")
	defer span.End()

	rep := Report{Tick: n}
	if s.deps.Regen != nil {
		s.phase(ctx, &rep, "regen", func(ctx context.Context) (err error) {
			rep.Regenerated, err = s.deps.Regen.Run(ctx, n)
			return err
		})
	}
	if s.deps.Combat != nil {
		s.phase(ctx, &rep, "combat", func(ctx context.Context) error {
			rep.Sessions = s.deps.Combat.ProcessDue(ctx, s.now())
			return nil
		})
	}
	if s.deps.World != nil {
		s.phase(ctx, &rep, "world", func(ctx context.Context) error {
			return s.deps.World.Process(ctx, n)
		})
	}

	span.SetAttributes(
		attribute.Int64("tick", n),
		attribute.Int("sessions.processed", rep.Sessions),
		attribute.Int("users.regenerated", rep.Regenerated))
	if len(rep.Failed) > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("phases failed: %v", rep.Failed))
	}
	s.lastTick.Store(s.now().UnixNano())
	return rep
}

func (s *Scheduler) phase(ctx context.Context, rep *Report, name string, fn func(context.Context) error) {
	ctx, span := tracer.Start(ctx, "scheduler."+name, trace.WithAttributes(attribute.Int64("tick", rep.Tick)))
	defer span.End()
	defer func() {
		if p := recover(); p != nil {
			rep.Failed = append(rep.Failed, name)
			span.SetStatus(codes.Error, "panic")
			s.logger.Error("tick phase panicked",
				zap.String("phase", name),
				zap.Int64("tick", rep.Tick),
				zap.Any("panic", p),
				zap.ByteString("stack", debug.Stack()))
		}
	}()
	if err := fn(ctx); err != nil {
		rep.Failed = append(rep.Failed, name)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error("tick phase failed",
			zap.String("phase", name),
			zap.Int64("tick", rep.Tick),
			zap.Error(err))
	}
}
