package vault

import (
	"errors"
	"fmt"
	"regexp"
)

// Kind names the downstream system a credential bundle belongs to.
type Kind string

const (
	// KindGraph is the persistent graph store, reached via a connection
	// string plus user/password.
	KindGraph Kind = "graph"

	// KindCloud is the cloud identity store, reached via tenant/client
	// identifiers plus a client secret.
	KindCloud Kind = "cloud"
)

// Format validation errors.
var (
	ErrUnknownKind     = errors.New("unknown credential kind")
	ErrInvalidURI      = errors.New("connection string does not match scheme://host[:port][/path]")
	ErrInvalidIdentity = errors.New("identifier contains forbidden characters")
	ErrEmptyCredential = errors.New("credential field cannot be empty")
)

// Credentials is one secret bundle. Graph bundles fill URI/User/Password;
// cloud bundles fill Tenant/Client/Secret.
type Credentials struct {
	URI      string `json:"uri,omitempty"`
	User     string `json:"user,omitempty"`
	Password string `json:"password,omitempty"`

	Tenant string `json:"tenant,omitempty"`
	Client string `json:"client,omitempty"`
	Secret string `json:"secret,omitempty"`
}

var (
	// connectionStringPattern accepts scheme://host with optional port,
	// path, and query. Deliberately strict about the scheme/host shape and
	// indifferent to the rest.
	connectionStringPattern = regexp.MustCompile(`^[a-z][a-z0-9+.-]*://[^\s/@]+(:\d+)?(/\S*)?$`)

	// identityPattern covers tenant and client identifiers: alphanumeric
	// plus dash/underscore/dot (GUIDs and DNS-style tenant names both fit).
	identityPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)
)

// ValidateFormat performs structural checks on a credential bundle,
// independent of encryption. Used before credentials are ever encrypted
// or handed downstream.
func ValidateFormat(kind Kind, creds Credentials) error {
	switch kind {
	case KindGraph:
		if creds.URI == "" {
			return fmt.Errorf("%w: graph URI", ErrEmptyCredential)
		}
		if !connectionStringPattern.MatchString(creds.URI) {
			return ErrInvalidURI
		}
		if creds.User == "" {
			return fmt.Errorf("%w: graph user", ErrEmptyCredential)
		}
		if creds.Password == "" {
			return fmt.Errorf("%w: graph password", ErrEmptyCredential)
		}
	case KindCloud:
		if creds.Tenant == "" {
			return fmt.Errorf("%w: cloud tenant", ErrEmptyCredential)
		}
		if !identityPattern.MatchString(creds.Tenant) {
			return fmt.Errorf("%w: tenant", ErrInvalidIdentity)
		}
		if creds.Client == "" {
			return fmt.Errorf("%w: cloud client", ErrEmptyCredential)
		}
		if !identityPattern.MatchString(creds.Client) {
			return fmt.Errorf("%w: client", ErrInvalidIdentity)
		}
		if creds.Secret == "" {
			return fmt.Errorf("%w: cloud secret", ErrEmptyCredential)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return nil
}
