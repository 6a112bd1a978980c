package vault

import (
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/koopa0/opsgate/internal/log"
)

func graphCreds() Credentials {
	return Credentials{URI: "bolt://graph:7687", User: "ops", Password: "hunter2"}
}

func cloudCreds() Credentials {
	return Credentials{Tenant: "acme.example", Client: "2b1f34aa-11d2-4c8e-9f00-8d8e1a7b0c9d", Secret: "s3cr3t"}
}

// newDevVault returns an initialized development-mode vault in a temp dir.
func newDevVault(t *testing.T) *Vault {
	t.Helper()
	v := New(t.TempDir(), false, log.NewNop())
	if err := v.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return v
}

func TestInitialize_EnvKeyWins(t *testing.T) {
	key := testKey(7)
	t.Setenv(EnvMasterKey, hex.EncodeToString(key))

	dir := t.TempDir()
	v := New(dir, true, log.NewNop())
	if err := v.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	// Nothing written: the env-supplied key lives only in memory.
	if _, err := os.Stat(filepath.Join(dir, "master.key")); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("env-supplied key must not be persisted")
	}
}

func TestInitialize_BadEnvKey(t *testing.T) {
	t.Setenv(EnvMasterKey, "not-hex")

	v := New(t.TempDir(), false, log.NewNop())
	if err := v.Initialize(); !errors.Is(err, ErrMasterKeyFormat) {
		t.Fatalf("expected ErrMasterKeyFormat, got %v", err)
	}
}

func TestInitialize_ProductionRequiresKey(t *testing.T) {
	v := New(t.TempDir(), true, log.NewNop())
	if err := v.Initialize(); !errors.Is(err, ErrMasterKeyRequired) {
		t.Fatalf("expected ErrMasterKeyRequired, got %v", err)
	}
}

func TestInitialize_DevelopmentGeneratesAndPersists(t *testing.T) {
	dir := t.TempDir()
	v := New(dir, false, log.NewNop())
	if err := v.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "master.key"))
	if err != nil {
		t.Fatalf("key file not persisted: %v", err)
	}
	if key, err := hex.DecodeString(string(data)); err != nil || len(key) != masterKeyLen {
		t.Fatalf("persisted key malformed: %q", data)
	}

	// A second vault over the same directory loads the persisted key.
	v2 := New(dir, false, log.NewNop())
	if err := v2.Initialize(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if err := v.SaveCredentials(KindGraph, graphCreds()); err != nil {
		t.Fatal(err)
	}
	if _, err := v2.GetCredentials(KindGraph); err != nil {
		t.Fatalf("second vault should decrypt the first one's envelope: %v", err)
	}
}

func TestGetCredentials_EnvFirst(t *testing.T) {
	v := newDevVault(t)

	// Envelope on disk says one thing...
	if err := v.SaveCredentials(KindGraph, graphCreds()); err != nil {
		t.Fatal(err)
	}
	// ...but the canonical env vars win.
	t.Setenv("OPSGATE_GRAPH_URI", "bolt://other:7687")
	t.Setenv("OPSGATE_GRAPH_USER", "env-user")
	t.Setenv("OPSGATE_GRAPH_PASSWORD", "env-pass")

	creds, err := v.GetCredentials(KindGraph)
	if err != nil {
		t.Fatal(err)
	}
	if creds.User != "env-user" {
		t.Fatalf("expected env credentials to win, got %+v", creds)
	}
}

func TestGetCredentials_EnvelopeRoundTrip(t *testing.T) {
	v := newDevVault(t)

	want := cloudCreds()
	if err := v.SaveCredentials(KindCloud, want); err != nil {
		t.Fatal(err)
	}

	got, err := v.GetCredentials(KindCloud)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Fatalf("round trip mismatch: %+v vs %+v", got, want)
	}
}

func TestGetCredentials_LegacyFallbackDevOnly(t *testing.T) {
	t.Setenv("GRAPH_URI", "bolt://legacy:7687")
	t.Setenv("GRAPH_USER", "legacy")
	t.Setenv("GRAPH_PASSWORD", "legacy-pass")

	dev := newDevVault(t)
	creds, err := dev.GetCredentials(KindGraph)
	if err != nil {
		t.Fatalf("development fallback should resolve: %v", err)
	}
	if creds.User != "legacy" {
		t.Fatalf("unexpected credentials: %+v", creds)
	}

	t.Setenv(EnvMasterKey, hex.EncodeToString(testKey(9)))
	prod := New(t.TempDir(), true, log.NewNop())
	if err := prod.Initialize(); err != nil {
		t.Fatal(err)
	}
	if _, err := prod.GetCredentials(KindGraph); !errors.Is(err, ErrCredentialsUnset) {
		t.Fatalf("production must not read legacy plain env vars, got %v", err)
	}
}

func TestGetCredentials_MissingNamesVariable(t *testing.T) {
	v := newDevVault(t)
	_, err := v.GetCredentials(KindCloud)
	if !errors.Is(err, ErrCredentialsUnset) {
		t.Fatalf("expected ErrCredentialsUnset, got %v", err)
	}
	if want := "OPSGATE_CLOUD_TENANT"; !strings.Contains(err.Error(), want) {
		t.Fatalf("error should name the missing variable %s: %v", want, err)
	}
}

func TestSaveCredentials_RejectsBadFormat(t *testing.T) {
	v := newDevVault(t)
	err := v.SaveCredentials(KindGraph, Credentials{URI: "not a uri", User: "u", Password: "p"})
	if !errors.Is(err, ErrInvalidURI) {
		t.Fatalf("expected ErrInvalidURI, got %v", err)
	}
}

func TestRotate(t *testing.T) {
	dir := t.TempDir()
	v := New(dir, false, log.NewNop())
	if err := v.Initialize(); err != nil {
		t.Fatal(err)
	}
	if err := v.SaveCredentials(KindGraph, graphCreds()); err != nil {
		t.Fatal(err)
	}
	if err := v.SaveCredentials(KindCloud, cloudCreds()); err != nil {
		t.Fatal(err)
	}

	oldKeyFile, err := os.ReadFile(filepath.Join(dir, "master.key"))
	if err != nil {
		t.Fatal(err)
	}

	if err := v.Rotate(); err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	newKeyFile, err := os.ReadFile(filepath.Join(dir, "master.key"))
	if err != nil {
		t.Fatal(err)
	}
	if string(oldKeyFile) == string(newKeyFile) {
		t.Fatal("key file unchanged after rotation")
	}

	// Envelopes decrypt under the rotated key.
	if got, err := v.GetCredentials(KindGraph); err != nil || got != graphCreds() {
		t.Fatalf("graph credentials lost in rotation: %+v, %v", got, err)
	}
	if got, err := v.GetCredentials(KindCloud); err != nil || got != cloudCreds() {
		t.Fatalf("cloud credentials lost in rotation: %+v, %v", got, err)
	}

	// A fresh vault loading the new key file also decrypts them.
	v2 := New(dir, false, log.NewNop())
	if err := v2.Initialize(); err != nil {
		t.Fatal(err)
	}
	if _, err := v2.GetCredentials(KindGraph); err != nil {
		t.Fatalf("rotated envelope unreadable after reload: %v", err)
	}
}

func TestRotate_FailureLeavesOldStateDecryptable(t *testing.T) {
	dir := t.TempDir()
	v := New(dir, false, log.NewNop())
	if err := v.Initialize(); err != nil {
		t.Fatal(err)
	}
	if err := v.SaveCredentials(KindGraph, graphCreds()); err != nil {
		t.Fatal(err)
	}

	// Corrupt the cloud envelope so rotation fails mid-flight, after the
	// graph envelope was already read.
	if err := os.WriteFile(v.envelopePath(KindCloud), []byte(`{"ciphertext":"/w==","nonce":"/w==","salt":"/w=="}`), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := v.Rotate(); err == nil {
		t.Fatal("expected rotation to fail on the corrupt envelope")
	}

	// The pre-rotation key still decrypts the untouched envelope.
	if got, err := v.GetCredentials(KindGraph); err != nil || got != graphCreds() {
		t.Fatalf("pre-rotation state must survive a failed rotation: %+v, %v", got, err)
	}
}

func TestRotate_RefusesEnvKey(t *testing.T) {
	t.Setenv(EnvMasterKey, hex.EncodeToString(testKey(3)))
	v := New(t.TempDir(), false, log.NewNop())
	if err := v.Initialize(); err != nil {
		t.Fatal(err)
	}
	if err := v.Rotate(); !errors.Is(err, ErrRotateEnvKey) {
		t.Fatalf("expected ErrRotateEnvKey, got %v", err)
	}
}
