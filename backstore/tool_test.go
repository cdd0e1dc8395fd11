package backstore

import (
	"context"
	"errors"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/branchfs/branchfs/core"
)

func TestClassifyToolError(t *testing.T) {
	tests := []struct {
		name   string
		stderr string
		cause  error
		want   error
	}{
		{name: "permission", stderr: "ERROR: Permission denied", want: core.ErrAccessDenied},
		{name: "no space", stderr: "ERROR: No space left on device", want: core.ErrNoSpace},
		{name: "unknown verb", stderr: "btrfs did not recognize 'frobnicate'", want: core.ErrUnsupported},
		{name: "unknown command", stderr: "ERROR: unknown command 'snapshit'", want: core.ErrUnsupported},
		{name: "missing path", stderr: "ERROR: No such file or directory", want: core.ErrNotFound},
		{name: "exists", stderr: "ERROR: File exists", want: core.ErrAlreadyExists},
		{name: "missing binary", cause: exec.ErrNotFound, want: core.ErrUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := &ToolError{Tool: "btrfs", Stderr: tt.stderr, cause: tt.cause}
			require.ErrorIs(t, classifyToolError(in), tt.want)
		})
	}
}

func TestClassifyToolError_UnmatchedPreservesDiagnostics(t *testing.T) {
	in := &ToolError{Tool: "btrfs", Args: []string{"subvolume", "snapshot"}, Stderr: "something exotic happened"}
	out := classifyToolError(in)

	var te *ToolError
	require.ErrorAs(t, out, &te)
	require.Contains(t, te.Error(), "something exotic happened")
	for _, sentinel := range []error{core.ErrAccessDenied, core.ErrNoSpace, core.ErrUnsupported, core.ErrNotFound} {
		require.NotErrorIs(t, out, sentinel)
	}
}

func TestClassifyToolError_PassThrough(t *testing.T) {
	require.NoError(t, classifyToolError(nil))
	plain := errors.New("not a tool error")
	require.Equal(t, plain, classifyToolError(plain))
}

func TestParseSnapshotArtifact(t *testing.T) {
	out := "Create a readonly snapshot of '/srv/root' in '/srv/.native-snapshots/snap-3-daily'\n"
	require.Equal(t, "/srv/.native-snapshots/snap-3-daily", parseSnapshotArtifact(out, "/fallback"))
	require.Equal(t, "/fallback", parseSnapshotArtifact("unexpected output", "/fallback"))
}

// fakeRunner records invocations and replies from a script keyed by the
// tool verb.
type fakeRunner struct {
	calls   [][]string
	replies map[string]fakeReply
}

type fakeReply struct {
	out string
	err error
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	call := append([]string{name}, args...)
	f.calls = append(f.calls, call)
	key := name
	if len(args) > 0 {
		key = name + " " + args[0]
	}
	if r, ok := f.replies[key]; ok {
		return r.out, r.err
	}
	return "", nil
}
