// Package config provides opsgate configuration management with multi-source
// priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (OPSGATE_ prefix, runtime override)
//  2. Config file (~/.opsgate/config.yaml or ./config.yaml)
//  3. Default values
//
// Config carries no credential material; the vault owns secret
// resolution. The config directory is created with 0750 permissions.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Operating modes. Production refuses generated key material and plain-env
// credential fallbacks; development tolerates both with loud warnings.
const (
	ModeProduction  = "production"
	ModeDevelopment = "development"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidMode indicates the mode flag is neither production nor development.
	ErrInvalidMode = errors.New("invalid mode")

	// ErrInvalidListenAddr indicates the listen address is empty or malformed.
	ErrInvalidListenAddr = errors.New("invalid listen address")

	// ErrInvalidSessionTTL indicates the session TTL is out of range.
	ErrInvalidSessionTTL = errors.New("invalid session TTL")

	// ErrInvalidSessionCap indicates the per-user session cap is out of range.
	ErrInvalidSessionCap = errors.New("invalid session cap")

	// ErrInvalidBaseDir indicates the command base directory is not absolute.
	ErrInvalidBaseDir = errors.New("invalid base directory")

	// ErrInvalidHeartbeat indicates heartbeat interval/timeout are inconsistent.
	ErrInvalidHeartbeat = errors.New("invalid heartbeat settings")
)

const (
	// DefaultListenAddr binds to loopback by default; production deployments
	// front this with a reverse proxy.
	DefaultListenAddr = "127.0.0.1:8420"

	// DefaultSessionTTL is the absolute session lifetime.
	DefaultSessionTTL = 24 * time.Hour

	// DefaultSessionCap is the maximum number of concurrent sessions per user.
	DefaultSessionCap = 5

	// DefaultHeartbeatInterval is how often an idle connection is pinged.
	DefaultHeartbeatInterval = 30 * time.Second

	// DefaultHeartbeatTimeout is how long a ping may go unanswered before the
	// connection is declared dead.
	DefaultHeartbeatTimeout = 10 * time.Second
)

// Config stores opsgate configuration. It deliberately carries no
// secrets; credential material lives in the vault.
type Config struct {
	// Mode selects production or development behavior.
	Mode string `mapstructure:"mode" json:"mode"`

	// Server configuration
	ListenAddr string `mapstructure:"listen_addr" json:"listen_addr"`
	TrustProxy bool   `mapstructure:"trust_proxy" json:"trust_proxy"` // Trust X-Real-IP/X-Forwarded-For (set true behind reverse proxy)

	// Session configuration
	SessionTTL        time.Duration `mapstructure:"session_ttl" json:"session_ttl"`
	SessionCap        int           `mapstructure:"session_cap" json:"session_cap"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" json:"heartbeat_interval"`
	HeartbeatTimeout  time.Duration `mapstructure:"heartbeat_timeout" json:"heartbeat_timeout"`

	// Command execution configuration
	CommandBaseDir string        `mapstructure:"command_base_dir" json:"command_base_dir"`
	CommandTimeout time.Duration `mapstructure:"command_timeout" json:"command_timeout"`

	// CommandPolicyFile optionally overrides the built-in command whitelist
	// with a YAML policy file. Empty means built-in policy.
	CommandPolicyFile string `mapstructure:"command_policy_file" json:"command_policy_file"`

	// Vault configuration. Dir holds the local key file and encrypted
	// credential envelopes in development mode. Downstream credentials
	// (graph, cloud) never pass through Config: the vault resolves them
	// itself, from OPSGATE_* environment variables or envelopes.
	VaultDir string `mapstructure:"vault_dir" json:"vault_dir"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".opsgate")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v, configDir)

	v.SetEnvPrefix("OPSGATE")
	v.AutomaticEnv()
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is not an error; defaults plus env suffice.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(v *viper.Viper, configDir string) {
	v.SetDefault("mode", ModeDevelopment)
	v.SetDefault("listen_addr", DefaultListenAddr)
	v.SetDefault("trust_proxy", false)

	v.SetDefault("session_ttl", DefaultSessionTTL)
	v.SetDefault("session_cap", DefaultSessionCap)
	v.SetDefault("heartbeat_interval", DefaultHeartbeatInterval)
	v.SetDefault("heartbeat_timeout", DefaultHeartbeatTimeout)

	v.SetDefault("command_base_dir", "/app/data")
	v.SetDefault("command_timeout", 30*time.Second)
	v.SetDefault("command_policy_file", "")

	v.SetDefault("vault_dir", configDir)
}

// bindEnvVariables binds keys that must resolve from the environment even
// when no config key was ever set.
func bindEnvVariables(v *viper.Viper) {
	for _, key := range []string{
		"mode",
		"listen_addr", "trust_proxy",
		"vault_dir",
	} {
		// BindEnv only errors on empty input, which cannot happen here.
		_ = v.BindEnv(key)
	}
}

// IsProduction reports whether the config is in production mode.
func (c *Config) IsProduction() bool {
	return c.Mode == ModeProduction
}
