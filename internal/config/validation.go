package config

import (
	"fmt"
	"net"
	"path/filepath"
	"time"
)

// Validation bounds. TTLs below a minute make every session race its own
// sweep; caps above 100 defeat the point of a cap.
const (
	MinSessionTTL = time.Minute
	MaxSessionTTL = 7 * 24 * time.Hour
	MinSessionCap = 1
	MaxSessionCap = 100
)

// Validate checks the configuration for consistency. Called by Load; callers
// constructing Config directly (tests, wiring) should call it themselves.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if c.Mode != ModeProduction && c.Mode != ModeDevelopment {
		return fmt.Errorf("%w: %q (want %q or %q)", ErrInvalidMode, c.Mode, ModeProduction, ModeDevelopment)
	}

	if c.ListenAddr == "" {
		return fmt.Errorf("%w: empty", ErrInvalidListenAddr)
	}
	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidListenAddr, c.ListenAddr)
	}

	if c.SessionTTL < MinSessionTTL || c.SessionTTL > MaxSessionTTL {
		return fmt.Errorf("%w: %s (want %s..%s)", ErrInvalidSessionTTL, c.SessionTTL, MinSessionTTL, MaxSessionTTL)
	}
	if c.SessionCap < MinSessionCap || c.SessionCap > MaxSessionCap {
		return fmt.Errorf("%w: %d (want %d..%d)", ErrInvalidSessionCap, c.SessionCap, MinSessionCap, MaxSessionCap)
	}

	if c.HeartbeatInterval <= 0 || c.HeartbeatTimeout <= 0 {
		return fmt.Errorf("%w: interval and timeout must be positive", ErrInvalidHeartbeat)
	}
	if c.HeartbeatTimeout >= c.HeartbeatInterval {
		return fmt.Errorf("%w: timeout %s must be shorter than interval %s", ErrInvalidHeartbeat, c.HeartbeatTimeout, c.HeartbeatInterval)
	}

	if !filepath.IsAbs(c.CommandBaseDir) {
		return fmt.Errorf("%w: %q must be absolute", ErrInvalidBaseDir, c.CommandBaseDir)
	}

	return nil
}
