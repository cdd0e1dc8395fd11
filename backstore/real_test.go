package backstore

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/branchfs/branchfs/core"
)

func TestNewReal_RequiresRootOrVolume(t *testing.T) {
	_, err := NewReal(context.Background())
	require.ErrorIs(t, err, core.ErrInvalidArgument)
}

func TestNewReal_ProbesExistingRoot(t *testing.T) {
	dir := t.TempDir()
	r, err := NewReal(context.Background(), func(o *Options) {
		o.Root = dir
		o.Runner = &fakeRunner{}
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	require.Equal(t, dir, r.RootPath())
	require.NotEmpty(t, r.FSType())
	_, owned := r.MountPoint()
	require.False(t, owned)

	// Capabilities are static; without them snapshot_native is always
	// unsupported.
	if !r.SupportsNativeSnapshots() {
		err := r.SnapshotNative(core.SnapshotID(1), "n")
		require.ErrorIs(t, err, core.ErrUnsupported)
	}
}

func TestReal_DeleteSnapshotUnknownID(t *testing.T) {
	r, err := NewReal(context.Background(), func(o *Options) {
		o.Root = t.TempDir()
		o.Runner = &fakeRunner{}
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	require.ErrorIs(t, r.DeleteSnapshot(core.SnapshotID(42)), core.ErrNotFound)
}

func TestReal_MaterializeAndReflinkFallback(t *testing.T) {
	// On a plain temp dir the clone syscall is typically unavailable;
	// the fallback byte copy must behave identically.
	r, err := NewReal(context.Background(), func(o *Options) {
		o.Root = t.TempDir()
		o.Runner = &fakeRunner{}
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	require.NoError(t, r.WriteFile("upper/a.txt", []byte("A"), 0o644))

	id := core.SnapshotID(3)
	tree, err := r.SnapshotMaterialize(id, "first", []CloneEntry{
		{UpperPath: filepath.Join(r.RootPath(), "upper/a.txt"), OverlayPath: "/a.txt"},
	})
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(tree, "a.txt"))
	require.NoError(t, err)
	require.Equal(t, []byte("A"), got)

	recorded, err := r.SnapshotPath(id)
	require.NoError(t, err)
	require.Equal(t, tree, recorded)

	require.NoError(t, r.DeleteSnapshot(id))
	require.NotContains(t, r.ListSnapshots(), id)
	_, err = r.SnapshotPath(id)
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestReal_ReflinkSharesBlocks(t *testing.T) {
	r, err := NewReal(context.Background(), func(o *Options) {
		o.Root = t.TempDir()
		o.Runner = &fakeRunner{}
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	if !r.SupportsNativeReflink() {
		t.Skipf("%s does not support block cloning", r.FSType())
	}

	const size = 1 << 20
	payload := bytes.Repeat([]byte("branchfs"), size/8)
	src := filepath.Join(r.RootPath(), "big.bin")
	require.NoError(t, os.WriteFile(src, payload, 0o644))
	syscall.Sync()

	var before syscall.Statfs_t
	require.NoError(t, syscall.Statfs(r.RootPath(), &before))

	dst := filepath.Join(r.RootPath(), "clone.bin")
	require.NoError(t, r.Reflink(src, dst))
	syscall.Sync()

	var after syscall.Statfs_t
	require.NoError(t, syscall.Statfs(r.RootPath(), &after))

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, payload, got)

	// The clone shares the source's extents. Allow generous slack for
	// metadata churn, but nowhere near another megabyte of data blocks.
	consumed := (int64(before.Bfree) - int64(after.Bfree)) * int64(before.Bsize)
	require.Less(t, consumed, int64(size/2))
}

func TestProvisionVolume_RollsBackOnFormatFailure(t *testing.T) {
	runner := &fakeRunner{replies: map[string]fakeReply{
		"losetup --find": {out: "/dev/loop9\n"},
		"mkfs.btrfs -q":  {err: &ToolError{Tool: "mkfs.btrfs", Stderr: "No space left on device"}},
	}}

	_, err := provisionVolume(context.Background(), runner, nil, 64)
	require.ErrorIs(t, err, core.ErrNoSpace)

	// Rollback scans for loop devices referencing the backing file.
	var sawScan bool
	for _, call := range runner.calls {
		if call[0] == "losetup" && call[1] == "-j" {
			sawScan = true
		}
	}
	require.True(t, sawScan, "teardown must scan for stale loop devices")
}
