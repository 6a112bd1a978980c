package security

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Policy file errors.
var (
	ErrPolicyEmpty = errors.New("policy file defines no commands")
)

// Policy is the on-disk shape of a command whitelist override. A deployment
// that fronts a narrower command surface ships a policy file instead of
// patching the built-in lists.
type Policy struct {
	Commands []string `yaml:"commands"`
	Flags    []string `yaml:"flags"`
}

// NewValidatorWithPolicy creates a Validator from a YAML policy file. The
// policy replaces the built-in whitelists wholesale; an empty commands list
// is rejected rather than silently allowing nothing or everything.
func NewValidatorWithPolicy(path string, logger *slog.Logger) (*Validator, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied policy path from config
	if err != nil {
		return nil, fmt.Errorf("reading policy file: %w", err)
	}

	var policy Policy
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return nil, fmt.Errorf("parsing policy file: %w", err)
	}
	if len(policy.Commands) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrPolicyEmpty)
	}

	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("command policy loaded",
		"path", path,
		"commands", len(policy.Commands),
		"flags", len(policy.Flags))
	return newValidator(policy.Commands, policy.Flags, logger), nil
}
