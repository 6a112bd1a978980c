// Package security provides the validators that sit between remote input
// and process execution.
//
// # Overview
//
// This package is the last gate before a command reaches os/exec and the
// first filter on anything that comes back:
//   - Command injection (CWE-78): whitelist validation of command names,
//     flags, and arguments
//   - Path traversal (CWE-22): base-directory containment for any
//     path-shaped argument
//   - Information disclosure: ANSI stripping and secret redaction of
//     command output before it crosses the connection boundary
//
// Every check is fail-closed: ambiguous or partially matching input is
// rejected, never passed through modified-but-accepted. Unknown commands
// are rejected outright; there is no "unlisted but probably safe" path.
//
// # Usage
//
//	validator := security.NewValidator(logger)
//	safe, err := validator.BuildSafeCommand(name, args)
//	if err != nil {
//	    return err // rejection reason is logged, input is not echoed
//	}
//	out, err := runner.Run(ctx, safe)
//	return security.SanitizeOutput(out)
//
// The SafeCommand returned by BuildSafeCommand is the only type the
// executor accepts, so there is no code path that hands raw user text
// to process execution.
package security
