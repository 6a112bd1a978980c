package security

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Validation errors. Messages name the violated rule but never echo the
// violating input, so a rejection cannot reflect an injection payload back
// to the remote caller. The full input is logged server-side for audit.
var (
	ErrEmptyCommand      = errors.New("command cannot be empty")
	ErrCommandTooLong    = errors.New("command name too long")
	ErrCommandNotAllowed = errors.New("command is not whitelisted")
	ErrArgumentTooLong   = errors.New("argument exceeds maximum length")
	ErrDangerousArgument = errors.New("argument contains a forbidden pattern")
	ErrFlagNotAllowed    = errors.New("flag is not whitelisted")
)

// Length caps. Commands are short words; arguments are bounded to keep a
// single request from carrying a payload-sized blob.
const (
	MaxCommandLength  = 64
	MaxArgumentLength = 1024
)

// SafeCommand is the validated, ready-to-execute unit. It is only
// constructible through Validator.BuildSafeCommand, never persisted, and
// discarded after execution.
type SafeCommand struct {
	Name string
	Args []string

	// AuditHash is SHA-256 over the canonical invocation string, for
	// correlating audit log entries with executions.
	AuditHash string
}

// Validator whitelists commands and flags, and rejects dangerous argument
// patterns, before anything reaches process execution.
type Validator struct {
	commands map[string]struct{}
	flags    map[string]struct{}
	logger   *slog.Logger
}

// defaultCommands is the fixed command whitelist: the read-only graph and
// cloud inspection surface this service fronts.
var defaultCommands = []string{
	// Graph inspection
	"scan", "query", "traverse", "neighbors", "shortest-path",

	// Resource inspection (read-only)
	"get", "list", "show", "describe", "status",

	// Reporting
	"export", "report", "summarize",

	// Service
	"version", "help",
}

// defaultFlags is the fixed flag whitelist shared by all commands.
var defaultFlags = []string{
	"-o", "--output",
	"-f", "--format",
	"-q", "--quiet",
	"-v", "--verbose",
	"--json",
	"--limit",
	"--depth",
	"--filter",
	"--type",
	"--label",
	"--name",
	"--id",
	"--tenant",
	"--resource-group",
	"--subscription",
	"--region",
}

// NewValidator creates a Validator with the built-in command and flag
// whitelists. Use NewValidatorWithPolicy to load a policy file instead.
func NewValidator(logger *slog.Logger) *Validator {
	return newValidator(defaultCommands, defaultFlags, logger)
}

func newValidator(commands, flags []string, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	v := &Validator{
		commands: make(map[string]struct{}, len(commands)),
		flags:    make(map[string]struct{}, len(flags)),
		logger:   logger,
	}
	for _, c := range commands {
		v.commands[strings.ToLower(c)] = struct{}{}
	}
	for _, f := range flags {
		v.flags[strings.ToLower(f)] = struct{}{}
	}
	return v
}

// ValidateCommand normalizes a command name (case, surrounding whitespace)
// and checks it against the whitelist. Returns the canonical name.
func (v *Validator) ValidateCommand(name string) (string, error) {
	canonical := strings.ToLower(strings.TrimSpace(name))
	if canonical == "" {
		return "", ErrEmptyCommand
	}
	if len(canonical) > MaxCommandLength {
		return "", ErrCommandTooLong
	}
	if _, ok := v.commands[canonical]; !ok {
		v.logger.Warn("command not in whitelist",
			"command", name,
			"security_event", "command_whitelist_violation")
		return "", ErrCommandNotAllowed
	}
	return canonical, nil
}

// shellMetachars are characters that have meaning to a shell. The executor
// never invokes a shell, but arguments are rejected anyway: the commands
// this service fronts may themselves pass arguments onward, so the
// validator stays fail-closed.
const shellMetachars = ";|&`$<>(){}"

// dangerousArgPattern reports which forbidden pattern an argument contains,
// or "" if none.
func dangerousArgPattern(arg string) string {
	switch {
	case strings.ContainsRune(arg, 0):
		return "null byte"
	case strings.ContainsAny(arg, "\n\r"):
		return "line break"
	case strings.Contains(arg, ".."):
		return "parent-directory traversal"
	case strings.ContainsAny(arg, shellMetachars):
		return "shell metacharacter"
	}
	return ""
}

// ValidateArgs checks every argument for length, dangerous patterns, and —
// for anything that looks like a flag — membership in the flag whitelist.
func (v *Validator) ValidateArgs(args []string) error {
	for i, arg := range args {
		if len(arg) > MaxArgumentLength {
			return fmt.Errorf("argument %d: %w", i, ErrArgumentTooLong)
		}
		if pattern := dangerousArgPattern(arg); pattern != "" {
			v.logger.Warn("dangerous argument rejected",
				"arg_index", i,
				"arg_value", arg,
				"pattern", pattern,
				"security_event", "dangerous_argument")
			return fmt.Errorf("argument %d contains %s: %w", i, pattern, ErrDangerousArgument)
		}
		if strings.HasPrefix(arg, "-") {
			// --flag=value forms are matched on the flag part.
			flag := strings.ToLower(arg)
			if eq := strings.IndexByte(flag, '='); eq >= 0 {
				flag = flag[:eq]
			}
			if _, ok := v.flags[flag]; !ok {
				v.logger.Warn("flag not in whitelist",
					"arg_index", i,
					"flag", arg,
					"security_event", "flag_whitelist_violation")
				return fmt.Errorf("argument %d: %w", i, ErrFlagNotAllowed)
			}
		}
	}
	return nil
}

// BuildSafeCommand runs the full validation pipeline and returns the
// validated descriptor, or an error if any sub-validation fails. There is
// no partially valid descriptor.
func (v *Validator) BuildSafeCommand(name string, args []string) (*SafeCommand, error) {
	canonical, err := v.ValidateCommand(name)
	if err != nil {
		return nil, err
	}
	if err := v.ValidateArgs(args); err != nil {
		return nil, err
	}

	invocation := canonical
	if len(args) > 0 {
		invocation += " " + strings.Join(args, " ")
	}
	sum := sha256.Sum256([]byte(invocation))

	safe := &SafeCommand{
		Name:      canonical,
		Args:      append([]string(nil), args...),
		AuditHash: hex.EncodeToString(sum[:]),
	}
	v.logger.Debug("command validated",
		"command", canonical,
		"arg_count", len(args),
		"audit_hash", safe.AuditHash)
	return safe, nil
}
