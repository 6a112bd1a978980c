// Package graph manages the connection pool to the graph database behind
// the gateway. Credentials come from the vault, never from code.
package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/koopa0/opsgate/internal/vault"
)

// Connection errors.
var (
	ErrNoCredentials = errors.New("graph credentials unavailable")
)

// Pool tuning. Conservative defaults for a single-tenant gateway.
const (
	maxConns          = 10
	minConns          = 2
	maxConnLifetime   = 30 * time.Minute
	maxConnIdleTime   = 5 * time.Minute
	healthCheckPeriod = time.Minute
	pingTimeout       = 5 * time.Second
)

// Connector owns the database pool for graph queries.
type Connector struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Connect builds a pool from vaulted credentials and verifies it with a
// bounded ping. The returned Connector must be Closed by the caller.
func Connect(ctx context.Context, creds vault.Credentials, logger *slog.Logger) (*Connector, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if creds.URI == "" {
		return nil, ErrNoCredentials
	}

	cfg, err := pgxpool.ParseConfig(creds.URI)
	if err != nil {
		return nil, fmt.Errorf("parse graph connection string: %w", err)
	}
	if creds.User != "" {
		cfg.ConnConfig.User = creds.User
	}
	if creds.Password != "" {
		cfg.ConnConfig.Password = creds.Password
	}

	cfg.MaxConns = maxConns
	cfg.MinConns = minConns
	cfg.MaxConnLifetime = maxConnLifetime
	cfg.MaxConnIdleTime = maxConnIdleTime
	cfg.HealthCheckPeriod = healthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create graph pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping graph database: %w", err)
	}

	logger.Info("graph database connected",
		"host", cfg.ConnConfig.Host,
		"database", cfg.ConnConfig.Database)
	return &Connector{pool: pool, logger: logger}, nil
}

// Pool exposes the underlying pool for query execution.
func (c *Connector) Pool() *pgxpool.Pool { return c.pool }

// Ping re-verifies connectivity, bounded by pingTimeout.
func (c *Connector) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return c.pool.Ping(pingCtx)
}

// Close releases the pool. Safe to call once.
func (c *Connector) Close() {
	c.pool.Close()
	c.logger.Debug("graph database pool closed")
}
