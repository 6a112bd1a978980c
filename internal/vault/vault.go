package vault

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
)

// Configuration errors.
var (
	ErrMasterKeyRequired = errors.New("master key must be supplied via OPSGATE_MASTER_KEY in production")
	ErrMasterKeyFormat   = errors.New("master key must be 64 hex characters")
	ErrCredentialsUnset  = errors.New("credentials unresolvable")
	ErrNotInitialized    = errors.New("vault not initialized")
	ErrRotateEnvKey      = errors.New("cannot rotate an environment-supplied master key; update the environment instead")
)

// Environment variables consumed by the vault.
const (
	// EnvMasterKey supplies the master key as 64 hex characters.
	EnvMasterKey = "OPSGATE_MASTER_KEY"
)

// On-disk names inside the vault directory. Development-mode only;
// production deployments must not rely on these files.
const (
	keyFileName  = "master.key"
	lockFileName = ".vault.lock"
)

// masterKeyLen is the raw master key size: 32 bytes.
const masterKeyLen = 32

// envVarsFor maps a credential kind to its canonical environment
// variables, in struct-field order.
var envVarsFor = map[Kind][3]string{
	KindGraph: {"OPSGATE_GRAPH_URI", "OPSGATE_GRAPH_USER", "OPSGATE_GRAPH_PASSWORD"},
	KindCloud: {"OPSGATE_CLOUD_TENANT", "OPSGATE_CLOUD_CLIENT", "OPSGATE_CLOUD_SECRET"},
}

// legacyEnvVarsFor maps a kind to the unprefixed variables accepted only
// by the development-mode fallback.
var legacyEnvVarsFor = map[Kind][3]string{
	KindGraph: {"GRAPH_URI", "GRAPH_USER", "GRAPH_PASSWORD"},
	KindCloud: {"CLOUD_TENANT", "CLOUD_CLIENT", "CLOUD_SECRET"},
}

// Vault encrypts, decrypts, validates, and rotates the long-lived secrets
// used to reach downstream systems. Construct one at startup and pass it
// by handle; it is not a global.
//
// Safe for concurrent use.
type Vault struct {
	mu         sync.Mutex
	dir        string
	production bool
	masterKey  []byte
	keyFromEnv bool
	logger     *slog.Logger
}

// New creates a Vault rooted at dir. Call Initialize before use.
func New(dir string, production bool, logger *slog.Logger) *Vault {
	if logger == nil {
		logger = slog.Default()
	}
	return &Vault{dir: dir, production: production, logger: logger}
}

// Initialize resolves the master key: environment variable first, then the
// persisted local key file, then — only outside production — a freshly
// generated key that is immediately persisted.
func (v *Vault) Initialize() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if raw := os.Getenv(EnvMasterKey); raw != "" {
		key, err := hex.DecodeString(raw)
		if err != nil || len(key) != masterKeyLen {
			return ErrMasterKeyFormat
		}
		v.masterKey = key
		v.keyFromEnv = true
		v.logger.Info("master key loaded from environment")
		return nil
	}

	keyPath := filepath.Join(v.dir, keyFileName)
	if data, err := os.ReadFile(keyPath); err == nil {
		key, err := hex.DecodeString(string(data))
		if err != nil || len(key) != masterKeyLen {
			return fmt.Errorf("%w: key file %s", ErrMasterKeyFormat, keyPath)
		}
		v.masterKey = key
		v.logger.Info("master key loaded from key file", "path", keyPath)
		return nil
	}

	if v.production {
		return ErrMasterKeyRequired
	}

	// Development-mode only: generate and persist. This weakens the
	// security model (plaintext key on disk) and is deliberately loud.
	key := make([]byte, masterKeyLen)
	if _, err := rand.Read(key); err != nil {
		return fmt.Errorf("generating master key: %w", err)
	}
	if err := v.writeKeyFileLocked(key); err != nil {
		return err
	}
	v.masterKey = key
	v.logger.Warn("generated development master key and persisted it in PLAINTEXT",
		"path", keyPath,
		"security_event", "dev_master_key_generated")
	return nil
}

// writeKeyFileLocked persists the key file under an advisory file lock so
// concurrent dev processes do not interleave writes. Caller holds v.mu.
func (v *Vault) writeKeyFileLocked(key []byte) error {
	if err := os.MkdirAll(v.dir, 0o700); err != nil {
		return fmt.Errorf("creating vault directory: %w", err)
	}

	fl := flock.New(filepath.Join(v.dir, lockFileName))
	if err := fl.Lock(); err != nil {
		return fmt.Errorf("locking vault directory: %w", err)
	}
	defer func() {
		if err := fl.Unlock(); err != nil {
			v.logger.Warn("releasing vault lock", "error", err)
		}
	}()

	keyPath := filepath.Join(v.dir, keyFileName)
	if err := os.WriteFile(keyPath, []byte(hex.EncodeToString(key)), 0o600); err != nil {
		return fmt.Errorf("writing key file: %w", err)
	}
	return nil
}

// envelopePath is the on-disk location of a kind's encrypted bundle.
func (v *Vault) envelopePath(kind Kind) string {
	return filepath.Join(v.dir, fmt.Sprintf("credentials.%s.enc", kind))
}

// GetCredentials resolves the secret bundle for a downstream system.
// Resolution order: canonical environment variables, then the encrypted
// envelope on disk, then — development mode only — legacy plain
// environment variables. Fails with an error naming the first missing
// variable when nothing resolves.
func (v *Vault) GetCredentials(kind Kind) (Credentials, error) {
	vars, ok := envVarsFor[kind]
	if !ok {
		return Credentials{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	if creds, ok := credsFromEnv(kind, vars); ok {
		return creds, nil
	}

	if env, err := v.readEnvelope(kind); err == nil {
		plaintext, err := v.Decrypt(env)
		if err != nil {
			return Credentials{}, err
		}
		var creds Credentials
		if err := json.Unmarshal(plaintext, &creds); err != nil {
			return Credentials{}, fmt.Errorf("%w: envelope payload", ErrMalformedEnvelope)
		}
		return creds, nil
	}

	if !v.production {
		if creds, ok := credsFromEnv(kind, legacyEnvVarsFor[kind]); ok {
			v.logger.Warn("credentials resolved from plain environment (development fallback)",
				"kind", kind,
				"security_event", "plain_env_credentials")
			return creds, nil
		}
	}

	return Credentials{}, fmt.Errorf("%w: %s not set and no envelope present", ErrCredentialsUnset, vars[0])
}

// credsFromEnv assembles a bundle from three environment variables,
// reporting false unless all three are set.
func credsFromEnv(kind Kind, vars [3]string) (Credentials, bool) {
	a, b, c := os.Getenv(vars[0]), os.Getenv(vars[1]), os.Getenv(vars[2])
	if a == "" || b == "" || c == "" {
		return Credentials{}, false
	}
	switch kind {
	case KindGraph:
		return Credentials{URI: a, User: b, Password: c}, true
	case KindCloud:
		return Credentials{Tenant: a, Client: b, Secret: c}, true
	}
	return Credentials{}, false
}

// SaveCredentials validates, encrypts, and persists a bundle, replacing
// any previous envelope for the kind wholesale.
func (v *Vault) SaveCredentials(kind Kind, creds Credentials) error {
	if err := ValidateFormat(kind, creds); err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.masterKey == nil {
		return ErrNotInitialized
	}

	plaintext, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("serializing credentials: %w", err)
	}
	env, err := seal(v.masterKey, plaintext)
	if err != nil {
		return err
	}
	if err := v.writeEnvelopeLocked(kind, env); err != nil {
		return err
	}

	v.logger.Info("credentials saved", "kind", kind)
	return nil
}

// Decrypt opens an envelope under the current master key. Fails closed
// with ErrDecrypt on any tamper or key mismatch.
func (v *Vault) Decrypt(env *Envelope) ([]byte, error) {
	v.mu.Lock()
	key := v.masterKey
	v.mu.Unlock()
	if key == nil {
		return nil, ErrNotInitialized
	}
	return open(key, env)
}

// readEnvelope loads a kind's envelope from disk.
func (v *Vault) readEnvelope(kind Kind) (*Envelope, error) {
	data, err := os.ReadFile(v.envelopePath(kind))
	if err != nil {
		return nil, err
	}
	return unmarshalEnvelope(data)
}

// writeEnvelopeLocked persists an envelope under the directory lock.
// Caller holds v.mu.
func (v *Vault) writeEnvelopeLocked(kind Kind, env *Envelope) error {
	if err := os.MkdirAll(v.dir, 0o700); err != nil {
		return fmt.Errorf("creating vault directory: %w", err)
	}

	fl := flock.New(filepath.Join(v.dir, lockFileName))
	if err := fl.Lock(); err != nil {
		return fmt.Errorf("locking vault directory: %w", err)
	}
	defer func() {
		if err := fl.Unlock(); err != nil {
			v.logger.Warn("releasing vault lock", "error", err)
		}
	}()

	data, err := marshalEnvelope(env)
	if err != nil {
		return fmt.Errorf("serializing envelope: %w", err)
	}
	if err := os.WriteFile(v.envelopePath(kind), data, 0o600); err != nil {
		return fmt.Errorf("writing envelope: %w", err)
	}
	return nil
}

// Rotate generates a new master key, re-encrypts every stored envelope
// under it, and only then persists the new key material. On any failure
// the old key is restored and previously written envelopes are rolled
// back, so no half-rotated state is observable.
func (v *Vault) Rotate() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.masterKey == nil {
		return ErrNotInitialized
	}
	if v.keyFromEnv {
		// Persisting a rotated key to disk would silently downgrade an
		// externally managed key to a local file.
		return ErrRotateEnvKey
	}

	oldKey := v.masterKey

	// Decrypt everything under the old key before touching anything.
	type staged struct {
		kind      Kind
		plaintext []byte
		original  []byte // raw file bytes, for rollback
	}
	var bundles []staged
	for _, kind := range []Kind{KindGraph, KindCloud} {
		raw, err := os.ReadFile(v.envelopePath(kind))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf("reading envelope for rotation: %w", err)
		}
		env, err := unmarshalEnvelope(raw)
		if err != nil {
			return err
		}
		plaintext, err := open(oldKey, env)
		if err != nil {
			return fmt.Errorf("rotating %s credentials: %w", kind, err)
		}
		bundles = append(bundles, staged{kind: kind, plaintext: plaintext, original: raw})
	}

	newKey := make([]byte, masterKeyLen)
	if _, err := rand.Read(newKey); err != nil {
		return fmt.Errorf("generating new master key: %w", err)
	}

	// Re-encrypt and write. Any failure rolls written envelopes back to
	// their pre-rotation bytes; the new key is never persisted.
	written := make([]staged, 0, len(bundles))
	rollback := func() {
		for _, b := range written {
			if err := os.WriteFile(v.envelopePath(b.kind), b.original, 0o600); err != nil {
				v.logger.Error("rotation rollback failed; envelope needs manual restore",
					"kind", b.kind, "error", err)
			}
		}
	}
	for _, b := range bundles {
		env, err := seal(newKey, b.plaintext)
		if err != nil {
			rollback()
			return fmt.Errorf("re-encrypting %s credentials: %w", b.kind, err)
		}
		if err := v.writeEnvelopeLocked(b.kind, env); err != nil {
			rollback()
			return err
		}
		written = append(written, b)
	}

	if err := v.writeKeyFileLocked(newKey); err != nil {
		rollback()
		return err
	}

	v.masterKey = newKey
	v.logger.Info("master key rotated", "envelopes", len(bundles))
	return nil
}
