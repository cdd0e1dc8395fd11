package backstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/branchfs/branchfs/core"
)

// Options configure a Real backstore.
type Options struct {
	// Root is an existing directory to serve from. Ignored when
	// EphemeralVolumeMB is set.
	Root string

	// EphemeralVolumeMB, when positive, provisions a memory-backed CoW
	// volume of that size owned by the backstore for its whole lifetime.
	EphemeralVolumeMB int64

	// Runner executes native tools. Defaults to os/exec.
	Runner ToolRunner

	// Logger receives teardown and probe diagnostics. Defaults to a
	// discarding logger.
	Logger *slog.Logger
}

// DefaultOptions are the options used when none are supplied.
var DefaultOptions = Options{
	Runner: NewExecRunner(),
}

// Real is the production Backstore. It probes the host filesystem type at
// construction, uses the native clone syscall with a byte-copy fallback,
// and drives the host's volume tooling for snapshots. It optionally owns
// one ephemeral volume, torn down exactly once on Close.
type Real struct {
	storeFS
	snapshots *snapshotTable
	runner    ToolRunner
	logger    *slog.Logger
	volume    *ephemeralVolume
	fsType    string

	nativeSnapshots bool
	nativeReflink   bool

	closeOnce sync.Once
	closeErr  error
}

var _ Backstore = (*Real)(nil)

// NewReal constructs a Real backstore. Capabilities are computed once
// here from the probed filesystem type and never change afterwards.
func NewReal(ctx context.Context, optFns ...func(o *Options)) (*Real, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Runner == nil {
		opts.Runner = NewExecRunner()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	r := &Real{
		snapshots: newSnapshotTable(),
		runner:    opts.Runner,
		logger:    opts.Logger,
	}

	switch {
	case opts.EphemeralVolumeMB > 0:
		vol, err := provisionVolume(ctx, opts.Runner, opts.Logger, opts.EphemeralVolumeMB)
		if err != nil {
			return nil, err
		}
		r.volume = vol
		if _, err := opts.Runner.Run(ctx, "btrfs", "subvolume", "create", vol.subvolPath()); err != nil {
			vol.teardown()
			return nil, classifyToolError(err)
		}
		r.root = vol.subvolPath()
	case opts.Root != "":
		abs, err := filepath.Abs(opts.Root)
		if err != nil {
			return nil, core.FromOSError("backstore", err)
		}
		if st, err := os.Stat(abs); err != nil {
			return nil, core.FromOSError("backstore", err)
		} else if !st.IsDir() {
			return nil, fmt.Errorf("backstore root %q is not a directory: %w", abs, core.ErrInvalidArgument)
		}
		r.root = abs
	default:
		return nil, fmt.Errorf("backstore: no root and no ephemeral volume requested: %w", core.ErrInvalidArgument)
	}

	r.fsType = probeFSType(r.root)
	r.nativeSnapshots = r.fsType == "btrfs"
	r.nativeReflink = r.fsType == "btrfs" || r.fsType == "xfs"
	r.logger.Debug("backstore probed",
		"root", r.root,
		"fs_type", r.fsType,
		"native_snapshots", r.nativeSnapshots,
		"native_reflink", r.nativeReflink,
	)
	return r, nil
}

func (r *Real) SupportsNativeSnapshots() bool { return r.nativeSnapshots }
func (r *Real) SupportsNativeReflink() bool { return r.nativeReflink }
func (r *Real) FSType() string { return r.fsType }

func (r *Real) MountPoint() (string, bool) {
	if r.volume == nil {
		return "", false
	}
	return r.volume.mountPoint, true
}

// SnapshotNative takes a read-only btrfs snapshot of the store root and
// records the artifact path the tool reports under id.
func (r *Real) SnapshotNative(id core.SnapshotID, name string) error {
	if !r.nativeSnapshots {
		return fmt.Errorf("snapshot_native: %w", core.ErrUnsupported)
	}
	snapDir := filepath.Join(r.snapshotParent(), ".native-snapshots")
	if err := os.MkdirAll(snapDir, 0o755); err != nil {
		return core.FromOSError("snapshot_native", err)
	}
	target := filepath.Join(snapDir, fmt.Sprintf("%s-%s", id, sanitizeName(name)))

	out, err := r.runner.Run(context.Background(), "btrfs", "subvolume", "snapshot", "-r", r.root, target)
	if err != nil {
		return classifyToolError(err)
	}
	artifact := parseSnapshotArtifact(out, target)
	r.snapshots.put(id, artifact)
	return nil
}

// parseSnapshotArtifact extracts the created snapshot path from the
// tool's stdout ("Create a readonly snapshot of '<src>' in '<dst>'"),
// falling back to the requested target when the format is unfamiliar.
func parseSnapshotArtifact(out, fallback string) string {
	if i := strings.LastIndex(out, " in '"); i >= 0 {
		rest := out[i+len(" in '"):]
		if j := strings.Index(rest, "'"); j > 0 {
			return rest[:j]
		}
	}
	return fallback
}

func sanitizeName(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\x00':
			return '-'
		}
		return r
	}, name)
}

func (r *Real) snapshotParent() string {
	if r.volume != nil {
		return r.volume.mountPoint
	}
	return r.root
}

func (r *Real) SnapshotMaterialize(id core.SnapshotID, name string, entries []CloneEntry) (string, error) {
	treeRoot := filepath.Join(r.snapshotParent(), ".snapshots", id.String())
	if err := os.MkdirAll(treeRoot, 0o755); err != nil {
		return "", core.FromOSError("snapshot_materialize", err)
	}
	if err := materialize(treeRoot, entries, r.nativeReflink); err != nil {
		return "", err
	}
	r.snapshots.put(id, treeRoot)
	return treeRoot, nil
}

// DeleteSnapshot drops the id's mapping unconditionally, then removes the
// native artifact. A failed artifact removal still leaves the id gone.
func (r *Real) DeleteSnapshot(id core.SnapshotID) error {
	artifact, ok := r.snapshots.take(id)
	if !ok {
		return fmt.Errorf("delete_snapshot %s: %w", id, core.ErrNotFound)
	}
	if strings.Contains(artifact, ".native-snapshots") {
		_, err := r.runner.Run(context.Background(), "btrfs", "subvolume", "delete", artifact)
		if err != nil {
			return classifyToolError(err)
		}
		return nil
	}
	if err := os.RemoveAll(artifact); err != nil {
		return core.FromOSError("delete_snapshot", err)
	}
	return nil
}

func (r *Real) ListSnapshots() []core.SnapshotID { return r.snapshots.list() }

func (r *Real) SnapshotPath(id core.SnapshotID) (string, error) {
	path, ok := r.snapshots.get(id)
	if !ok {
		return "", fmt.Errorf("snapshot %s: %w", id, core.ErrNotFound)
	}
	return path, nil
}

func (r *Real) Reflink(src, dst string) error {
	return cloneFile(src, dst, r.nativeReflink)
}

// Close tears the ephemeral volume down. Only the first call does work;
// the volume is destroyed exactly once per backstore.
func (r *Real) Close() error {
	r.closeOnce.Do(func() {
		if r.volume != nil {
			r.volume.teardown()
		}
	})
	return r.closeErr
}
