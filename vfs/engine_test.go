package vfs

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/branchfs/branchfs/backstore"
	"github.com/branchfs/branchfs/core"
	"github.com/branchfs/branchfs/wire"
)

func newTestEngine(t *testing.T, lowerFiles map[string]string) (*Engine, string) {
	t.Helper()

	lower := t.TempDir()
	for p, content := range lowerFiles {
		full := filepath.Join(lower, p)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}

	store, err := backstore.NewMock()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	e, err := New(store, func(o *Options) { o.LowerDir = lower })
	require.NoError(t, err)
	return e, lower
}

func readHandle(t *testing.T, h *Handle) string {
	t.Helper()
	_, err := h.File().Seek(0, io.SeekStart)
	require.NoError(t, err)
	data, err := io.ReadAll(h.File())
	require.NoError(t, err)
	return string(data)
}

func TestEngine_SnapshotBranchIsolation(t *testing.T) {
	e, lower := newTestEngine(t, map[string]string{"data.txt": "LOWER"})
	proc := e.RegisterProcess(100, "/usr/bin/worker")

	// 1. The lower file is visible through the default branch.
	h, err := e.Open(proc, "/data.txt", uint32(os.O_RDONLY), 0)
	require.NoError(t, err)
	require.Equal(t, "LOWER", readHandle(t, h))
	require.NoError(t, e.CloseHandle(h.ID))

	// 2. Writing copies the file up and replaces the content.
	h, err = e.Open(proc, "/data.txt", uint32(os.O_WRONLY|os.O_TRUNC), 0o644)
	require.NoError(t, err)
	_, err = h.File().WriteString("UPPER")
	require.NoError(t, err)
	require.NoError(t, e.CloseHandle(h.ID))

	// 3. Snapshot the branch and fork a new branch off the snapshot.
	snapID, err := e.SnapshotCreate(e.DefaultBranch(), "before-release")
	require.NoError(t, err)
	branchID, err := e.BranchCreateFromSnapshot(snapID, "release")
	require.NoError(t, err)
	require.NoError(t, e.BindProcessToBranch(proc.PID, branchID))

	// 4. The forked branch sees the snapshotted content.
	h, err = e.Open(proc, "/data.txt", uint32(os.O_RDONLY), 0)
	require.NoError(t, err)
	require.Equal(t, "UPPER", readHandle(t, h))
	require.NoError(t, e.CloseHandle(h.ID))

	// 5. The real lower file never changed.
	raw, err := os.ReadFile(filepath.Join(lower, "data.txt"))
	require.NoError(t, err)
	require.Equal(t, "LOWER", string(raw))
}

func TestEngine_BranchesDivergeAfterFork(t *testing.T) {
	e, _ := newTestEngine(t, map[string]string{"shared.txt": "v1"})
	proc := e.RegisterProcess(200, "/usr/bin/worker")

	snapID, err := e.SnapshotCreate(e.DefaultBranch(), "base")
	require.NoError(t, err)
	forkID, err := e.BranchCreateFromSnapshot(snapID, "fork")
	require.NoError(t, err)

	// Write v2 into the fork.
	require.NoError(t, e.BindProcessToBranch(proc.PID, forkID))
	h, err := e.Open(proc, "/shared.txt", uint32(os.O_WRONLY|os.O_TRUNC), 0o644)
	require.NoError(t, err)
	_, err = h.File().WriteString("v2")
	require.NoError(t, err)
	require.NoError(t, e.CloseHandle(h.ID))

	// The original branch still serves v1.
	require.NoError(t, e.BindProcessToBranch(proc.PID, e.DefaultBranch()))
	h, err = e.Open(proc, "/shared.txt", uint32(os.O_RDONLY), 0)
	require.NoError(t, err)
	require.Equal(t, "v1", readHandle(t, h))
	require.NoError(t, e.CloseHandle(h.ID))
}

func TestEngine_UnlinkHidesLowerFile(t *testing.T) {
	e, lower := newTestEngine(t, map[string]string{"doomed.txt": "still here"})
	proc := e.RegisterProcess(300, "/bin/rm")

	require.NoError(t, e.PathOp(proc, wire.PathOpUnlink, "/doomed.txt", "", 0))

	_, err := e.Open(proc, "/doomed.txt", uint32(os.O_RDONLY), 0)
	require.ErrorIs(t, err, core.ErrNotFound)
	_, err = e.Getattr(proc, "/doomed.txt", true)
	require.ErrorIs(t, err, core.ErrNotFound)

	// The lower file itself is untouched.
	_, err = os.Stat(filepath.Join(lower, "doomed.txt"))
	require.NoError(t, err)

	// Re-creating the name revives it.
	h, err := e.Open(proc, "/doomed.txt", uint32(os.O_WRONLY|os.O_CREATE), 0o644)
	require.NoError(t, err)
	_, err = h.File().WriteString("reborn")
	require.NoError(t, err)
	require.NoError(t, e.CloseHandle(h.ID))

	h, err = e.Open(proc, "/doomed.txt", uint32(os.O_RDONLY), 0)
	require.NoError(t, err)
	require.Equal(t, "reborn", readHandle(t, h))
	require.NoError(t, e.CloseHandle(h.ID))
}

func TestEngine_DirStreamMergesLayers(t *testing.T) {
	e, _ := newTestEngine(t, map[string]string{
		"dir/lower-a.txt": "a",
		"dir/lower-b.txt": "b",
	})
	proc := e.RegisterProcess(400, "/bin/ls")

	// Add an upper entry and hide one lower entry.
	h, err := e.Open(proc, "/dir/upper-c.txt", uint32(os.O_WRONLY|os.O_CREATE), 0o644)
	require.NoError(t, err)
	require.NoError(t, e.CloseHandle(h.ID))
	require.NoError(t, e.PathOp(proc, wire.PathOpUnlink, "/dir/lower-b.txt", "", 0))

	dh, err := e.OpenDir(proc, "/dir")
	require.NoError(t, err)
	var names []string
	for {
		ent, end, err := e.ReadDir(dh.ID)
		require.NoError(t, err)
		if end {
			break
		}
		require.NotZero(t, ent.Ino)
		names = append(names, ent.Name)
	}
	require.Equal(t, []string{"lower-a.txt", "upper-c.txt"}, names)

	require.NoError(t, e.RewindDir(dh.ID))
	ent, end, err := e.ReadDir(dh.ID)
	require.NoError(t, err)
	require.False(t, end)
	require.Equal(t, "lower-a.txt", ent.Name)
	require.NoError(t, e.CloseHandle(dh.ID))
}

func TestEngine_MkdirRmdirRename(t *testing.T) {
	e, _ := newTestEngine(t, map[string]string{"src.txt": "payload"})
	proc := e.RegisterProcess(500, "/bin/mv")

	require.NoError(t, e.PathOp(proc, wire.PathOpMkdir, "/newdir", "", 0o755))
	st, err := e.Getattr(proc, "/newdir", true)
	require.NoError(t, err)
	require.NotZero(t, st.Mode&uint32(0o040000))

	// Duplicate mkdir fails.
	err = e.PathOp(proc, wire.PathOpMkdir, "/newdir", "", 0o755)
	require.ErrorIs(t, err, core.ErrAlreadyExists)

	// Rename a lower file into the new directory.
	require.NoError(t, e.PathOp(proc, wire.PathOpRename, "/src.txt", "/newdir/dst.txt", 0))
	_, err = e.Getattr(proc, "/src.txt", true)
	require.ErrorIs(t, err, core.ErrNotFound)
	h, err := e.Open(proc, "/newdir/dst.txt", uint32(os.O_RDONLY), 0)
	require.NoError(t, err)
	require.Equal(t, "payload", readHandle(t, h))
	require.NoError(t, e.CloseHandle(h.ID))

	// Rmdir refuses a non-empty directory, then succeeds once drained.
	err = e.PathOp(proc, wire.PathOpRmdir, "/newdir", "", 0)
	require.ErrorIs(t, err, core.ErrBusy)
	require.NoError(t, e.PathOp(proc, wire.PathOpUnlink, "/newdir/dst.txt", "", 0))
	require.NoError(t, e.PathOp(proc, wire.PathOpRmdir, "/newdir", "", 0))
	_, err = e.Getattr(proc, "/newdir", true)
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestEngine_RenameDirectoryKeepsLowerChildren(t *testing.T) {
	e, _ := newTestEngine(t, map[string]string{
		"d/child.txt":    "from below",
		"d/sub/leaf.txt": "deep",
	})
	proc := e.RegisterProcess(550, "/bin/mv")

	// 1. Mix in an upper-only file so both layers travel together.
	h, err := e.Open(proc, "/d/fresh.txt", uint32(os.O_WRONLY|os.O_CREATE), 0o644)
	require.NoError(t, err)
	_, err = h.File().WriteString("from above")
	require.NoError(t, err)
	require.NoError(t, e.CloseHandle(h.ID))

	before, err := e.Getattr(proc, "/d/child.txt", true)
	require.NoError(t, err)

	// 2. Rename the directory itself.
	require.NoError(t, e.PathOp(proc, wire.PathOpRename, "/d", "/d2", 0))

	// 3. Every child, lower and upper, is reachable under the new name.
	for p, want := range map[string]string{
		"/d2/child.txt":    "from below",
		"/d2/sub/leaf.txt": "deep",
		"/d2/fresh.txt":    "from above",
	} {
		h, err := e.Open(proc, p, uint32(os.O_RDONLY), 0)
		require.NoError(t, err, p)
		require.Equal(t, want, readHandle(t, h))
		require.NoError(t, e.CloseHandle(h.ID))
	}

	// 4. The old name is fully hidden.
	_, err = e.Getattr(proc, "/d", true)
	require.ErrorIs(t, err, core.ErrNotFound)
	_, err = e.Getattr(proc, "/d/child.txt", true)
	require.ErrorIs(t, err, core.ErrNotFound)

	// 5. Inode numbers follow the files across the rename.
	after, err := e.Getattr(proc, "/d2/child.txt", true)
	require.NoError(t, err)
	require.Equal(t, before.Ino, after.Ino)
}

func TestEngine_SnapshotCarriesDeletions(t *testing.T) {
	e, _ := newTestEngine(t, map[string]string{"gone.txt": "x", "kept.txt": "y"})
	proc := e.RegisterProcess(600, "/bin/sh")

	require.NoError(t, e.PathOp(proc, wire.PathOpUnlink, "/gone.txt", "", 0))
	snapID, err := e.SnapshotCreate(e.DefaultBranch(), "after-delete")
	require.NoError(t, err)
	forkID, err := e.BranchCreateFromSnapshot(snapID, "fork")
	require.NoError(t, err)
	require.NoError(t, e.BindProcessToBranch(proc.PID, forkID))

	_, err = e.Getattr(proc, "/gone.txt", true)
	require.ErrorIs(t, err, core.ErrNotFound)
	_, err = e.Getattr(proc, "/kept.txt", true)
	require.NoError(t, err)
}

func TestEngine_SymlinkAndReadlink(t *testing.T) {
	e, _ := newTestEngine(t, map[string]string{"target.txt": "data"})
	proc := e.RegisterProcess(700, "/bin/ln")

	require.NoError(t, e.Symlink(proc, "/target.txt", "/link"))
	target, err := e.Readlink(proc, "/link")
	require.NoError(t, err)
	require.Equal(t, "/target.txt", target)

	st, err := e.Getattr(proc, "/link", false)
	require.NoError(t, err)
	require.Equal(t, uint32(0o120000), st.Mode&uint32(0o170000))

	err = e.Symlink(proc, "/elsewhere", "/link")
	require.ErrorIs(t, err, core.ErrAlreadyExists)
}

func TestEngine_MetadataOps(t *testing.T) {
	e, _ := newTestEngine(t, map[string]string{"meta.txt": "0123456789"})
	proc := e.RegisterProcess(800, "/bin/chmod")

	require.NoError(t, e.Chmod(proc, "/meta.txt", 0o600))
	st, err := e.Getattr(proc, "/meta.txt", true)
	require.NoError(t, err)
	require.Equal(t, uint32(0o600), st.Mode&0o777)

	require.NoError(t, e.Truncate(proc, "/meta.txt", 4))
	st, err = e.Getattr(proc, "/meta.txt", true)
	require.NoError(t, err)
	require.Equal(t, int64(4), st.Size)

	require.NoError(t, e.Utimens(proc, "/meta.txt", wire.TimeSpec{Sec: 1000}, wire.TimeSpec{Sec: 2000}))
	st, err = e.Getattr(proc, "/meta.txt", true)
	require.NoError(t, err)
	require.Equal(t, int64(2000), st.Mtime.Sec)
}

func TestEngine_HandleMetadataOps(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	proc := e.RegisterProcess(900, "/bin/dd")

	h, err := e.Open(proc, "/f.bin", uint32(os.O_RDWR|os.O_CREATE), 0o644)
	require.NoError(t, err)
	_, err = h.File().WriteString("0123456789")
	require.NoError(t, err)

	require.NoError(t, e.TruncateHandle(h.ID, 3))
	st, err := e.GetattrHandle(h.ID)
	require.NoError(t, err)
	require.Equal(t, int64(3), st.Size)

	require.NoError(t, e.ChmodHandle(h.ID, 0o400))
	st, err = e.GetattrHandle(h.ID)
	require.NoError(t, err)
	require.Equal(t, uint32(0o400), st.Mode&0o777)

	dup, err := e.Dup(h.ID)
	require.NoError(t, err)
	require.NotEqual(t, h.ID, dup.ID)
	require.Equal(t, "0123456789"[:3], readHandle(t, dup))

	require.NoError(t, e.CloseHandle(dup.ID))
	require.NoError(t, e.CloseHandle(h.ID))
	require.ErrorIs(t, e.CloseHandle(h.ID), core.ErrNotFound)
}

func TestEngine_StatfsAndWalk(t *testing.T) {
	e, _ := newTestEngine(t, map[string]string{
		"a/x.txt": "xx",
		"b.txt":   "b",
	})
	proc := e.RegisterProcess(1000, "/bin/df")

	sf, err := e.Statfs(proc, "/")
	require.NoError(t, err)
	require.Equal(t, statfsMagic, sf.Type)
	require.Equal(t, uint32(255), uint32(sf.NameLen))

	require.NoError(t, e.Symlink(proc, "/b.txt", "/lnk"))
	entries, err := e.Walk(e.DefaultBranch())
	require.NoError(t, err)

	byPath := make(map[string]wire.FsEntry, len(entries))
	for _, ent := range entries {
		byPath[ent.Path] = ent
	}
	require.Equal(t, wire.KindDir, byPath["/"].Kind)
	require.Equal(t, wire.KindDir, byPath["/a"].Kind)
	require.Equal(t, wire.KindFile, byPath["/a/x.txt"].Kind)
	require.Equal(t, int64(2), byPath["/a/x.txt"].Size)
	require.Equal(t, wire.KindSymlink, byPath["/lnk"].Kind)
	require.Equal(t, "/b.txt", byPath["/lnk"].Target)
	for i := 1; i < len(entries); i++ {
		require.Less(t, entries[i-1].Path, entries[i].Path)
	}
}

func TestEngine_ProcessLifecycle(t *testing.T) {
	e, _ := newTestEngine(t, nil)

	p1 := e.RegisterProcess(42, "/bin/a")
	p2 := e.RegisterProcess(42, "/bin/b")
	require.Same(t, p1, p2)
	require.Equal(t, e.DefaultBranch(), p1.Branch())

	err := e.BindProcessToBranch(42, core.BranchID(999))
	require.ErrorIs(t, err, core.ErrNotFound)
	err = e.BindProcessToBranch(999, e.DefaultBranch())
	require.ErrorIs(t, err, core.ErrNotFound)

	h, err := e.Open(p1, "/tmp.txt", uint32(os.O_WRONLY|os.O_CREATE), 0o644)
	require.NoError(t, err)
	require.Equal(t, uint64(1), e.OpenHandleCount())
	e.CloseProcessHandles(42)
	require.Equal(t, uint64(0), e.OpenHandleCount())
	require.ErrorIs(t, e.CloseHandle(h.ID), core.ErrNotFound)
}

func TestEngine_ConcurrentInoAllocation(t *testing.T) {
	e, _ := newTestEngine(t, map[string]string{"f.txt": "v"})

	// First touches of the same path racing must settle on one inode
	// number and allocate exactly once.
	base := e.NodeCount()
	inos := make([]uint64, 16)
	var wg sync.WaitGroup
	for i := range inos {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			inos[i] = e.inoFor(e.DefaultBranch(), "/f.txt")
		}(i)
	}
	wg.Wait()

	for _, ino := range inos[1:] {
		require.Equal(t, inos[0], ino)
	}
	require.Equal(t, base+1, e.NodeCount())
}

func TestEngine_SnapshotDelete(t *testing.T) {
	e, _ := newTestEngine(t, map[string]string{"f.txt": "v"})
	proc := e.RegisterProcess(1100, "/bin/sh")

	h, err := e.Open(proc, "/f.txt", uint32(os.O_WRONLY|os.O_TRUNC), 0o644)
	require.NoError(t, err)
	_, err = h.File().WriteString("v2")
	require.NoError(t, err)
	require.NoError(t, e.CloseHandle(h.ID))

	snapID, err := e.SnapshotCreate(e.DefaultBranch(), "tmp")
	require.NoError(t, err)
	require.NoError(t, e.SnapshotDelete(snapID))
	require.ErrorIs(t, e.SnapshotDelete(snapID), core.ErrNotFound)
	_, err = e.BranchCreateFromSnapshot(snapID, "late")
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestEngine_PathValidation(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	proc := e.RegisterProcess(1200, "/bin/sh")

	_, err := e.Open(proc, "", uint32(os.O_RDONLY), 0)
	require.ErrorIs(t, err, core.ErrInvalidArgument)
	_, err = e.Open(proc, "relative/path", uint32(os.O_RDONLY), 0)
	require.ErrorIs(t, err, core.ErrInvalidArgument)
	err = e.PathOp(proc, "chmodx", "/f", "", 0)
	require.ErrorIs(t, err, core.ErrUnsupported)
}
