package backstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/branchfs/branchfs/core"
)

func TestMock_CloneChainPreservesContent(t *testing.T) {
	m := NewMockAt(t.TempDir())

	content := []byte("for any content C, chained clones read back C")
	a := filepath.Join(m.RootPath(), "a")
	require.NoError(t, os.WriteFile(a, content, 0o644))

	// 1. Chain A -> B -> D
	b := filepath.Join(m.RootPath(), "b")
	d := filepath.Join(m.RootPath(), "d")
	require.NoError(t, m.Reflink(a, b))
	require.NoError(t, m.Reflink(b, d))

	for _, p := range []string{a, b, d} {
		got, err := os.ReadFile(p)
		require.NoError(t, err)
		require.Equal(t, content, got)
	}

	// 2. Writing to a clone target never changes the source.
	f, err := os.OpenFile(d, os.O_WRONLY|os.O_APPEND, 0)
	require.NoError(t, err)
	_, err = f.Write([]byte(" plus arbitrary appended bytes"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	got, err := os.ReadFile(a)
	require.NoError(t, err)
	require.Equal(t, content, got)
	got, err = os.ReadFile(b)
	require.NoError(t, err)
	require.Equal(t, content, got)
}

func TestMock_DeepCloneChainWithCrossLinks(t *testing.T) {
	m := NewMockAt(t.TempDir())

	content := []byte("original bytes")
	prev := filepath.Join(m.RootPath(), "f0")
	require.NoError(t, os.WriteFile(prev, content, 0o644))

	// 10-deep chain f0 -> f1 -> ... -> f10.
	var last string
	for i := 1; i <= 10; i++ {
		next := filepath.Join(m.RootPath(), "f"+string(rune('0'+i/10))+string(rune('0'+i%10)))
		require.NoError(t, m.Reflink(prev, next))
		prev = next
		last = next
	}

	// Cross-links from both ends of the chain.
	head := filepath.Join(m.RootPath(), "from-head")
	tail := filepath.Join(m.RootPath(), "from-tail")
	require.NoError(t, m.Reflink(filepath.Join(m.RootPath(), "f0"), head))
	require.NoError(t, m.Reflink(last, tail))

	entries, err := os.ReadDir(m.RootPath())
	require.NoError(t, err)
	require.Len(t, entries, 13)
	for _, e := range entries {
		got, err := os.ReadFile(filepath.Join(m.RootPath(), e.Name()))
		require.NoError(t, err)
		require.Equal(t, content, got, "file %s diverged", e.Name())
	}
}

func TestMock_ReflinkErrorMapping(t *testing.T) {
	m := NewMockAt(t.TempDir())

	src := filepath.Join(m.RootPath(), "src")
	dst := filepath.Join(m.RootPath(), "dst")

	err := m.Reflink(filepath.Join(m.RootPath(), "missing"), dst)
	require.ErrorIs(t, err, core.ErrNotFound)

	require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(dst, []byte("y"), 0o644))
	err = m.Reflink(src, dst)
	require.ErrorIs(t, err, core.ErrAlreadyExists)
}

func TestMock_NativeSnapshotsUnsupported(t *testing.T) {
	m := NewMockAt(t.TempDir())

	require.False(t, m.SupportsNativeSnapshots())
	require.False(t, m.SupportsNativeReflink())
	err := m.SnapshotNative(core.SnapshotID(1), "nope")
	require.ErrorIs(t, err, core.ErrUnsupported)
}

func TestMock_SnapshotLifecycle(t *testing.T) {
	m := NewMockAt(t.TempDir())

	require.NoError(t, m.WriteFile("data/hello.txt", []byte("hello"), 0o644))

	id := core.SnapshotID(7)
	treeRoot, err := m.SnapshotMaterialize(id, "first", []CloneEntry{
		{UpperPath: filepath.Join(m.RootPath(), "data/hello.txt"), OverlayPath: "/data/hello.txt"},
		{UpperPath: filepath.Join(m.RootPath(), "data/vanished.txt"), OverlayPath: "/data/vanished.txt"},
	})
	require.NoError(t, err)

	// Vanished upper files are skipped, existing ones mirrored at the
	// same relative path.
	got, err := os.ReadFile(filepath.Join(treeRoot, "data/hello.txt"))
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), got)
	_, err = os.Lstat(filepath.Join(treeRoot, "data/vanished.txt"))
	require.True(t, os.IsNotExist(err))

	require.Contains(t, m.ListSnapshots(), id)

	require.NoError(t, m.DeleteSnapshot(id))
	require.NotContains(t, m.ListSnapshots(), id)

	err = m.DeleteSnapshot(id)
	require.ErrorIs(t, err, core.ErrNotFound)
	err = m.DeleteSnapshot(core.SnapshotID(999))
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestMock_PrimitiveMutators(t *testing.T) {
	m := NewMockAt(t.TempDir())

	require.NoError(t, m.CreateDir("a/b/c", 0o755))
	st, err := os.Stat(filepath.Join(m.RootPath(), "a/b/c"))
	require.NoError(t, err)
	require.True(t, st.IsDir())

	require.NoError(t, m.WriteFile("a/b/file", []byte("body"), 0o600))
	require.NoError(t, m.SetMode("a/b/file", 0o644))
	st, err = os.Stat(filepath.Join(m.RootPath(), "a/b/file"))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o644), st.Mode().Perm())

	require.NoError(t, m.CreateSymlink("../b/file", "a/link"))
	target, err := os.Readlink(filepath.Join(m.RootPath(), "a/link"))
	require.NoError(t, err)
	require.Equal(t, "../b/file", target)

	err = m.WriteFile("../escape", []byte("no"), 0o644)
	require.ErrorIs(t, err, core.ErrInvalidArgument)
}
