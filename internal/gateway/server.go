package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/koopa0/opsgate/internal/executor"
	"github.com/koopa0/opsgate/internal/graph"
	"github.com/koopa0/opsgate/internal/ratelimit"
	"github.com/koopa0/opsgate/internal/security"
	"github.com/koopa0/opsgate/internal/session"
)

// Server timeout configuration.
const (
	readHeaderTimeout = 10 * time.Second
	readTimeout       = 30 * time.Second
	writeTimeout      = 2 * time.Minute
	idleTimeout       = 2 * time.Minute
	shutdownTimeout   = 30 * time.Second

	// sweepInterval drives expired-session and stale-limiter cleanup.
	sweepInterval = time.Hour
)

// Config contains everything the gateway needs. Store, Limiter,
// Validator and Runner are required; Graph is optional and only affects
// query handling and readiness.
type Config struct {
	Logger    *slog.Logger
	Store     *session.Store
	Limiter   *ratelimit.Limiter
	Validator *security.Validator
	Runner    executor.Runner
	Graph     *graph.Connector

	TrustProxy        bool
	Production        bool
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	RateBurst         int // edge limiter burst per IP (0 = default 60)
}

// Server is the HTTP and WebSocket front of the gateway.
type Server struct {
	mux    *http.ServeMux
	logger *slog.Logger

	store     *session.Store
	limiter   *ratelimit.Limiter
	auth      *session.Authenticator
	validator *security.Validator
	runner    executor.Runner
	graph     *graph.Connector
	conns     *connRegistry

	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration
	trustProxy        bool
	production        bool
}

// NewServer wires the pipeline and routes.
// ctx bounds the background sweep goroutine.
func NewServer(ctx context.Context, cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("session store is required")
	}
	if cfg.Limiter == nil {
		return nil, errors.New("rate limiter is required")
	}
	if cfg.Validator == nil {
		return nil, errors.New("command validator is required")
	}
	if cfg.Runner == nil {
		return nil, errors.New("command runner is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	hbInterval := cfg.HeartbeatInterval
	if hbInterval <= 0 {
		hbInterval = 30 * time.Second
	}
	hbTimeout := cfg.HeartbeatTimeout
	if hbTimeout <= 0 {
		hbTimeout = 10 * time.Second
	}

	s := &Server{
		logger:            logger,
		store:             cfg.Store,
		limiter:           cfg.Limiter,
		auth:              session.NewAuthenticator(cfg.Store, cfg.Limiter, logger),
		validator:         cfg.Validator,
		runner:            cfg.Runner,
		graph:             cfg.Graph,
		conns:             newConnRegistry(),
		heartbeatInterval: hbInterval,
		heartbeatTimeout:  hbTimeout,
		trustProxy:        cfg.TrustProxy,
		production:        cfg.Production,
	}

	go s.sweepLoop(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/login", s.handleLogin)
	mux.HandleFunc("GET /api/session", s.handleSessionInfo)
	mux.HandleFunc("DELETE /api/session", s.handleLogout)
	mux.HandleFunc("GET /ws", s.handleWS)

	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newIPLimiter(1.0, burst)

	// Middleware stack, outermost first:
	//   Recovery -> Logging -> EdgeRateLimit -> Routes
	var handler http.Handler = mux
	handler = ipLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = recoveryMiddleware(logger)(handler)

	production := cfg.Production
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w, production)
		handler.ServeHTTP(w, r)
	})

	// Top-level mux keeps health probes out of the middleware stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", s.handleHealth)
	topMux.HandleFunc("GET /ready", s.handleReady)
	topMux.Handle("/", final)

	s.mux = topMux
	return s, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run serves on addr until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	s.logger.Info("gateway ready",
		"addr", addr,
		"endpoints", "/api/login, /ws, /health, /ready",
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down gateway")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down gateway: %w", err)
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("gateway: %w", err)
	}
}

// sweepLoop evicts expired sessions and idle limiter records on a fixed
// cadence. Exits when ctx is canceled.
func (s *Server) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sessions := s.store.SweepExpired()
			records := s.limiter.Sweep()
			if sessions > 0 || records > 0 {
				s.logger.Debug("sweep complete",
					"expired_sessions", sessions,
					"stale_limiter_records", records,
				)
			}
		}
	}
}

// handleHealth is a liveness probe.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady reports readiness, including graph connectivity when a
// connector is configured.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":   "ok",
		"sessions": s.store.Len(),
	}
	if s.graph != nil {
		if err := s.graph.Ping(r.Context()); err != nil {
			resp["status"] = "degraded"
			resp["graph"] = "unreachable"
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
		resp["graph"] = "ok"
	}
	writeJSON(w, http.StatusOK, resp)
}
