package cloud

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/koopa0/opsgate/internal/log"
	"github.com/koopa0/opsgate/internal/vault"
)

func TestNewIdentity(t *testing.T) {
	valid := vault.Credentials{
		Tenant: "11111111-2222-3333-4444-555555555555",
		Client: "app-client",
		Secret: "s3cret-value",
	}

	t.Run("valid", func(t *testing.T) {
		id, err := NewIdentity(valid, log.NewNop())
		if err != nil {
			t.Fatalf("NewIdentity: %v", err)
		}
		if id.Secret() != valid.Secret {
			t.Fatal("secret not preserved")
		}
	})

	t.Run("missing fields", func(t *testing.T) {
		for _, creds := range []vault.Credentials{
			{Client: valid.Client, Secret: valid.Secret},
			{Tenant: valid.Tenant, Secret: valid.Secret},
			{Tenant: valid.Tenant, Client: valid.Client},
		} {
			if _, err := NewIdentity(creds, log.NewNop()); !errors.Is(err, ErrNoIdentity) {
				t.Errorf("creds %+v: expected ErrNoIdentity, got %v", creds, err)
			}
		}
	})

	t.Run("bad format", func(t *testing.T) {
		creds := valid
		creds.Tenant = "tenant with spaces"
		if _, err := NewIdentity(creds, log.NewNop()); err == nil {
			t.Fatal("expected format error")
		}
	})
}

func TestIdentityLogValueHidesSecret(t *testing.T) {
	id, err := NewIdentity(vault.Credentials{
		Tenant: "t1", Client: "c1", Secret: "do-not-log",
	}, log.NewNop())
	if err != nil {
		t.Fatalf("NewIdentity: %v", err)
	}
	rendered := fmt.Sprintf("%v", id.LogValue())
	if strings.Contains(rendered, "do-not-log") {
		t.Fatal("secret leaked through LogValue")
	}
}
