// Package cloud holds the identity used to reach the cloud management
// plane. The gateway only brokers these values between the vault and
// outbound clients; it never logs or returns the secret.
package cloud

import (
	"errors"
	"log/slog"

	"github.com/koopa0/opsgate/internal/vault"
)

var ErrNoIdentity = errors.New("cloud identity unavailable")

// Identity is a tenant-scoped service principal.
type Identity struct {
	Tenant string
	Client string
	secret string
}

// NewIdentity validates the vaulted credentials and wraps them. The
// secret is kept unexported so it cannot leak through reflection-based
// encoders.
func NewIdentity(creds vault.Credentials, logger *slog.Logger) (*Identity, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if creds.Tenant == "" || creds.Client == "" || creds.Secret == "" {
		return nil, ErrNoIdentity
	}
	if err := vault.ValidateFormat(vault.KindCloud, creds); err != nil {
		return nil, err
	}
	logger.Debug("cloud identity loaded", "tenant", creds.Tenant, "client", creds.Client)
	return &Identity{Tenant: creds.Tenant, Client: creds.Client, secret: creds.Secret}, nil
}

// Secret returns the client secret for outbound authentication.
func (i *Identity) Secret() string { return i.secret }

// LogValue implements slog.LogValuer so the identity can be logged
// without exposing the secret.
func (i *Identity) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("tenant", i.Tenant),
		slog.String("client", i.Client),
	)
}
