// Package executor runs validated commands against the local process
// boundary. It accepts only *security.SafeCommand — the type is not
// constructible outside the validation pipeline — and sanitizes everything
// that comes back before a remote caller can see it.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/koopa0/opsgate/internal/security"
)

// Execution errors.
var (
	ErrNilCommand = errors.New("nil command descriptor")
)

// DefaultTimeout bounds a single command execution.
const DefaultTimeout = 30 * time.Second

// Runner is the process-execution facility the gateway depends on.
// Implementations return the command's combined output with secrets and
// terminal escapes already removed.
type Runner interface {
	Run(ctx context.Context, cmd *security.SafeCommand) (string, error)
}

// ExecRunner runs commands through os/exec with a per-invocation timeout.
// Arguments are passed as an argv vector, never through a shell.
type ExecRunner struct {
	timeout time.Duration
	dir     string
	logger  *slog.Logger
}

// NewExecRunner creates an ExecRunner. dir is the working directory for
// every command; timeout <= 0 selects DefaultTimeout.
func NewExecRunner(dir string, timeout time.Duration, logger *slog.Logger) *ExecRunner {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecRunner{timeout: timeout, dir: dir, logger: logger}
}

// Run executes the validated command and returns its sanitized combined
// output. Execution failures surface the sanitized output too, so callers
// can relay stderr without a second sanitation pass.
func (r *ExecRunner) Run(ctx context.Context, cmd *security.SafeCommand) (string, error) {
	if cmd == nil {
		return "", ErrNilCommand
	}

	if err := r.checkPathArgs(cmd.Args); err != nil {
		return "", err
	}

	execCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	r.logger.Info("executing command",
		"command", cmd.Name,
		"arg_count", len(cmd.Args),
		"audit_hash", cmd.AuditHash)

	c := exec.CommandContext(execCtx, cmd.Name, cmd.Args...) // #nosec G204 -- SafeCommand is only constructible via the validator
	c.Dir = r.dir
	output, err := c.CombinedOutput()
	sanitized := security.SanitizeOutput(string(output))
	if err != nil {
		if execCtx.Err() != nil {
			return sanitized, fmt.Errorf("command timed out: %w", execCtx.Err())
		}
		r.logger.Warn("command failed",
			"command", cmd.Name,
			"audit_hash", cmd.AuditHash,
			"error", err)
		return sanitized, fmt.Errorf("command execution failed: %w", err)
	}

	r.logger.Debug("command succeeded",
		"command", cmd.Name,
		"audit_hash", cmd.AuditHash,
		"output_length", len(sanitized))
	return sanitized, nil
}

// checkPathArgs confines path-shaped arguments to the working directory.
// Flag values are inspected too: "--out=/etc/passwd" is as dangerous as a
// bare path.
func (r *ExecRunner) checkPathArgs(args []string) error {
	for _, arg := range args {
		candidate := arg
		if strings.HasPrefix(candidate, "--") {
			_, value, ok := strings.Cut(candidate, "=")
			if !ok {
				continue
			}
			candidate = value
		}
		if !strings.ContainsAny(candidate, "/\\") {
			continue
		}
		if _, err := security.ValidatePath(candidate, r.dir); err != nil {
			r.logger.Warn("path argument rejected",
				"security_event", "path_rejected",
				"error", err)
			return fmt.Errorf("path argument rejected: %w", err)
		}
	}
	return nil
}
