package vfs

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/branchfs/branchfs/core"
)

func TestProcess_ResolvePath(t *testing.T) {
	p := newProcess(1, "/bin/sh")

	// Absolute paths ignore the dirfd entirely.
	got, err := p.ResolvePath(7, "/etc/passwd")
	require.NoError(t, err)
	require.Equal(t, "/etc/passwd", got)

	// AT_FDCWD resolves against the tracked working directory.
	got, err = p.ResolvePath(AtFdCwd, "file.txt")
	require.NoError(t, err)
	require.Equal(t, "/file.txt", got)

	require.NoError(t, p.SetCwd("/work/sub"))
	got, err = p.ResolvePath(AtFdCwd, "../up.txt")
	require.NoError(t, err)
	require.Equal(t, "/work/up.txt", got)

	// Tracked directory descriptors anchor relative paths.
	require.NoError(t, p.TrackDirfd(5, "/data"))
	got, err = p.ResolvePath(5, "nested/f.bin")
	require.NoError(t, err)
	require.Equal(t, "/data/nested/f.bin", got)

	// Untracked descriptors are rejected, not guessed at.
	_, err = p.ResolvePath(9, "x")
	require.ErrorIs(t, err, core.ErrInvalidArgument)
}

func TestProcess_DirfdTable(t *testing.T) {
	p := newProcess(2, "/bin/sh")
	require.NoError(t, p.TrackDirfd(3, "/a"))
	require.NoError(t, p.TrackDirfd(4, "/b"))
	require.Equal(t, 2, p.DirfdCount())

	// dup copies the mapping; dup onto an unmapped source clears the
	// destination.
	p.DupFd(3, 10)
	got, err := p.ResolvePath(10, ".")
	require.NoError(t, err)
	require.Equal(t, "/a", got)
	p.DupFd(99, 10)
	_, err = p.ResolvePath(10, ".")
	require.ErrorIs(t, err, core.ErrInvalidArgument)

	p.CloseFd(3)
	p.CloseFd(3)
	_, err = p.ResolvePath(3, ".")
	require.ErrorIs(t, err, core.ErrInvalidArgument)
	require.Equal(t, 1, p.DirfdCount())

	require.Error(t, p.SetCwd("relative"))
	require.Error(t, p.TrackDirfd(6, "relative"))
}

func TestInoAllocator(t *testing.T) {
	a := newInoAllocator()
	require.True(t, a.live(1))
	require.Equal(t, uint64(1), a.count())

	first := a.alloc()
	second := a.alloc()
	require.Equal(t, uint64(2), first)
	require.Equal(t, uint64(3), second)
	require.Equal(t, uint64(3), a.count())

	a.free(first)
	require.False(t, a.live(first))
	require.Equal(t, uint64(2), a.count())
}
