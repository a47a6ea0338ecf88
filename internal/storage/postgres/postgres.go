// Package postgres persists users and the world in PostgreSQL using pgx v5.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/skirmish/internal/config"
	"github.com/cory-johannsen/skirmish/internal/server"
)

// DefaultPingTimeout bounds a health ping when the config leaves it unset.
const DefaultPingTimeout = 2 * time.Second

// Pool owns the connection pool shared by the user and world repositories.
type Pool struct {
	pool        *pgxpool.Pool
	pingTimeout time.Duration
}

// NewPool connects to the database described by cfg and verifies it answers.
//
// Precondition: cfg has passed config validation.
// Postcondition: returns a pool that has answered one ping, or a non-nil error.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	if cfg.ApplicationName != "" {
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	timeout := cfg.PingTimeout
	if timeout <= 0 {
		timeout = DefaultPingTimeout
	}
	p := &Pool{pingTimeout: timeout}
	p.pool, err = pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := p.Ping(ctx); err != nil {
		p.pool.Close()
		return nil, fmt.Errorf("pinging %s:%d/%s: %w", cfg.Host, cfg.Port, cfg.Name, err)
	}
	return p, nil
}

// Ping checks the database answers within the configured ping timeout.
func (p *Pool) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.pingTimeout)
	defer cancel()
	return p.pool.Ping(ctx)
}

// HealthCheck reports the pool to the gRPC health server as "database".
func (p *Pool) HealthCheck() server.HealthCheck {
	return server.HealthCheck{Name: "database", Check: p.Ping}
}

// Close releases every connection. The pool is unusable afterwards.
func (p *Pool) Close() {
	p.pool.Close()
}

// DB returns the pgx pool the repositories query through.
func (p *Pool) DB() *pgxpool.Pool {
	return p.pool
}
