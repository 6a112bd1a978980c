package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/koopa0/opsgate/internal/log"
	"github.com/koopa0/opsgate/internal/security"
)

func TestRun_NilCommand(t *testing.T) {
	r := NewExecRunner(t.TempDir(), time.Second, log.NewNop())
	if _, err := r.Run(context.Background(), nil); !errors.Is(err, ErrNilCommand) {
		t.Fatalf("expected ErrNilCommand, got %v", err)
	}
}

func TestRun_UnknownBinaryFailsSafely(t *testing.T) {
	r := NewExecRunner(t.TempDir(), time.Second, log.NewNop())

	// A descriptor for a command that passed validation but has no binary
	// on this host: execution fails, nothing panics, output stays empty.
	cmd := &security.SafeCommand{Name: "shortest-path", Args: nil, AuditHash: "test"}
	out, err := r.Run(context.Background(), cmd)
	if err == nil {
		t.Fatal("expected execution failure for a missing binary")
	}
	if out != "" {
		t.Fatalf("expected no output, got %q", out)
	}
}

func TestRun_PathArgsConfined(t *testing.T) {
	base := t.TempDir()
	r := NewExecRunner(base, time.Second, log.NewNop())

	tests := []struct {
		name string
		args []string
	}{
		{"absolute escape", []string{"/etc/passwd"}},
		{"flag value escape", []string{"--out=/etc/passwd"}},
		{"relative traversal", []string{"sub/../../escape"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := &security.SafeCommand{Name: "export", Args: tt.args, AuditHash: "test"}
			if _, err := r.Run(context.Background(), cmd); err == nil {
				t.Fatal("expected path containment error")
			}
		})
	}

	// A path inside the base directory passes containment and reaches
	// execution (which then fails on the missing binary, not the path).
	cmd := &security.SafeCommand{Name: "export", Args: []string{"sub/report.json"}, AuditHash: "test"}
	_, err := r.Run(context.Background(), cmd)
	if err != nil && errors.Is(err, ErrNilCommand) {
		t.Fatalf("unexpected error class: %v", err)
	}
}

func TestRun_ContextCancellation(t *testing.T) {
	r := NewExecRunner(t.TempDir(), time.Minute, log.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cmd := &security.SafeCommand{Name: "scan", AuditHash: "test"}
	if _, err := r.Run(ctx, cmd); err == nil {
		t.Fatal("expected error for canceled context")
	}
}
