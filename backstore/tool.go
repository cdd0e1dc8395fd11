package backstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/branchfs/branchfs/core"
)

// ToolRunner executes one native-tool invocation and returns its stdout.
// Implementations are injected into [Real] so tests can fake the host's
// volume tooling.
type ToolRunner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// ToolError carries the diagnostics of a failed native-tool call. The raw
// stderr is preserved for error messages even after classification.
type ToolError struct {
	Tool   string
	Args   []string
	Stderr string
	cause  error
}

func (e *ToolError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" && e.cause != nil {
		msg = e.cause.Error()
	}
	return fmt.Sprintf("%s %s: %s", e.Tool, strings.Join(e.Args, " "), msg)
}

func (e *ToolError) Unwrap() error { return e.cause }

type execRunner struct{}

// NewExecRunner returns the ToolRunner backed by os/exec.
func NewExecRunner() ToolRunner { return execRunner{} }

func (execRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.String(), &ToolError{
			Tool:   name,
			Args:   args,
			Stderr: stderr.String(),
			cause:  err,
		}
	}
	return stdout.String(), nil
}

// classifyToolError maps known native-tool diagnostics onto the shared
// taxonomy. Anything unrecognized stays a raw ToolError so the
// diagnostics are preserved.
func classifyToolError(err error) error {
	if err == nil {
		return nil
	}
	var te *ToolError
	if !errors.As(err, &te) {
		return err
	}
	// A missing tool binary means the capability is absent on this host,
	// not that the call was wrong.
	if errors.Is(te.cause, exec.ErrNotFound) {
		return fmt.Errorf("%w: %w", core.ErrUnsupported, te)
	}
	switch {
	case strings.Contains(te.Stderr, "Permission denied"),
		strings.Contains(te.Stderr, "permission denied"):
		return fmt.Errorf("%w: %w", core.ErrAccessDenied, te)
	case strings.Contains(te.Stderr, "No space left"):
		return fmt.Errorf("%w: %w", core.ErrNoSpace, te)
	case strings.Contains(te.Stderr, "did not recognize"),
		strings.Contains(te.Stderr, "unknown command"):
		return fmt.Errorf("%w: %w", core.ErrUnsupported, te)
	case strings.Contains(te.Stderr, "No such file or directory"):
		return fmt.Errorf("%w: %w", core.ErrNotFound, te)
	case strings.Contains(te.Stderr, "File exists"):
		return fmt.Errorf("%w: %w", core.ErrAlreadyExists, te)
	default:
		return te
	}
}
