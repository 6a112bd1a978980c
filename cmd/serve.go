package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/koopa0/opsgate/internal/app"
	"github.com/koopa0/opsgate/internal/config"
	"github.com/koopa0/opsgate/internal/gateway"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

// runServe assembles the application and serves until interrupted.
func runServe(parent context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if serveAddr != "" {
		cfg.ListenAddr = serveAddr
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("validating listen address: %w", err)
		}
	}

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Setup(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			a.Logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	srv, err := gateway.NewServer(ctx, gateway.Config{
		Logger:            a.Logger,
		Store:             a.Store,
		Limiter:           a.Limiter,
		Validator:         a.Validator,
		Runner:            a.Runner,
		Graph:             a.Graph,
		TrustProxy:        cfg.TrustProxy,
		Production:        cfg.IsProduction(),
		HeartbeatInterval: cfg.HeartbeatInterval,
		HeartbeatTimeout:  cfg.HeartbeatTimeout,
	})
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	a.Logger.Info("starting gateway", "version", AppVersion)
	return srv.Run(ctx, cfg.ListenAddr)
}
