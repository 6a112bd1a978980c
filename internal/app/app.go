// Package app assembles the runtime: configuration, logging, vault,
// rate limiter, session store, command validator, executor, and the
// optional graph and cloud connectors. Wiring is explicit; every
// component receives its dependencies through its constructor.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/koopa0/opsgate/internal/cloud"
	"github.com/koopa0/opsgate/internal/config"
	"github.com/koopa0/opsgate/internal/executor"
	"github.com/koopa0/opsgate/internal/graph"
	"github.com/koopa0/opsgate/internal/log"
	"github.com/koopa0/opsgate/internal/ratelimit"
	"github.com/koopa0/opsgate/internal/security"
	"github.com/koopa0/opsgate/internal/session"
	"github.com/koopa0/opsgate/internal/vault"
)

// App is the assembled runtime container.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Vault     *vault.Vault
	Store     *session.Store
	Limiter   *ratelimit.Limiter
	Validator *security.Validator
	Runner    executor.Runner

	// Graph is nil when the graph store is not configured or unreachable.
	Graph *graph.Connector

	// Cloud is nil when no cloud identity is vaulted.
	Cloud *cloud.Identity
}

// Setup builds the application container from configuration. The graph
// and cloud connectors are optional: missing credentials degrade those
// surfaces instead of failing startup. Everything else is fatal.
func Setup(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, config.ErrConfigNil
	}

	logger := newLogger(cfg)

	v := vault.New(cfg.VaultDir, cfg.IsProduction(), logger)
	if err := v.Initialize(); err != nil {
		return nil, fmt.Errorf("initializing vault: %w", err)
	}

	validator, err := newValidator(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("building command validator: %w", err)
	}

	a := &App{
		Config: cfg,
		Logger: logger,
		Vault:  v,
		Store: session.NewStore(logger,
			session.WithTTL(cfg.SessionTTL),
			session.WithUserCap(cfg.SessionCap)),
		Limiter:   ratelimit.New(logger),
		Validator: validator,
		Runner:    executor.NewExecRunner(cfg.CommandBaseDir, cfg.CommandTimeout, logger),
	}

	a.Graph = connectGraph(ctx, v, logger)
	a.Cloud = loadCloudIdentity(v, logger)

	logger.Info("application ready",
		"mode", cfg.Mode,
		"graph", a.Graph != nil,
		"cloud", a.Cloud != nil,
	)
	return a, nil
}

// Close releases held resources. Safe to call once.
func (a *App) Close() error {
	a.Logger.Info("shutting down application")
	if a.Graph != nil {
		a.Graph.Close()
	}
	return nil
}

// newLogger derives the logger from the operating mode: JSON at info
// level in production, text at debug level in development.
func newLogger(cfg *config.Config) *slog.Logger {
	if cfg.IsProduction() {
		return log.New(log.Config{Level: slog.LevelInfo, JSON: true})
	}
	return log.New(log.Config{Level: slog.LevelDebug})
}

// newValidator builds the command validator, from the policy file when
// one is configured and from the built-in whitelist otherwise.
func newValidator(cfg *config.Config, logger *slog.Logger) (*security.Validator, error) {
	if cfg.CommandPolicyFile != "" {
		return security.NewValidatorWithPolicy(cfg.CommandPolicyFile, logger)
	}
	return security.NewValidator(logger), nil
}

// connectGraph resolves graph credentials through the vault and opens the
// pool. Failure is downgraded to a warning; the gateway rejects query
// traffic while the connector is absent.
func connectGraph(ctx context.Context, v *vault.Vault, logger *slog.Logger) *graph.Connector {
	creds, err := v.GetCredentials(vault.KindGraph)
	if err != nil {
		logger.Warn("graph credentials unavailable, query surface disabled", "error", err)
		return nil
	}
	conn, err := graph.Connect(ctx, creds, logger)
	if err != nil {
		logger.Warn("graph connection failed, query surface disabled", "error", err)
		return nil
	}
	return conn
}

// loadCloudIdentity resolves the cloud identity through the vault.
func loadCloudIdentity(v *vault.Vault, logger *slog.Logger) *cloud.Identity {
	creds, err := v.GetCredentials(vault.KindCloud)
	if err != nil {
		logger.Warn("cloud credentials unavailable", "error", err)
		return nil
	}
	id, err := cloud.NewIdentity(creds, logger)
	if err != nil {
		logger.Warn("cloud identity rejected", "error", err)
		return nil
	}
	return id
}
