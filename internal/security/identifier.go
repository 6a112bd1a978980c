package security

import (
	"errors"
	"fmt"
	"regexp"
)

// Identifier kinds with dedicated charset rules.
const (
	KindTenant        = "tenant"
	KindResourceGroup = "resource-group"
	KindLabel         = "label"
)

// Identifier validation errors.
var (
	ErrIdentifierEmpty   = errors.New("identifier cannot be empty")
	ErrIdentifierTooLong = errors.New("identifier too long")
	ErrIdentifierCharset = errors.New("identifier contains forbidden characters")
	ErrUnknownKind       = errors.New("unknown identifier kind")
)

// identifierRule pairs a charset pattern with a length cap.
type identifierRule struct {
	pattern *regexp.Regexp
	maxLen  int
}

var identifierRules = map[string]identifierRule{
	// Tenant names: alphanumeric plus dash/underscore.
	KindTenant: {regexp.MustCompile(`^[A-Za-z0-9_-]+$`), 64},

	// Azure resource-group charset: alphanumerics, underscores, parentheses,
	// hyphens, periods; must not end with a period.
	KindResourceGroup: {regexp.MustCompile(`^[A-Za-z0-9_()\-.]*[A-Za-z0-9_()\-]$`), 90},

	// Graph labels: letter first, then alphanumeric/underscore.
	KindLabel: {regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`), 128},
}

// ValidateIdentifier checks value against the charset and length rules for
// the given kind and returns it unchanged. Unknown kinds fail closed.
func ValidateIdentifier(value, kind string) (string, error) {
	rule, ok := identifierRules[kind]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if value == "" {
		return "", fmt.Errorf("%s: %w", kind, ErrIdentifierEmpty)
	}
	if len(value) > rule.maxLen {
		return "", fmt.Errorf("%s: %w (max %d)", kind, ErrIdentifierTooLong, rule.maxLen)
	}
	if !rule.pattern.MatchString(value) {
		return "", fmt.Errorf("%s: %w", kind, ErrIdentifierCharset)
	}
	return value, nil
}
