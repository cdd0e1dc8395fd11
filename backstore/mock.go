package backstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/branchfs/branchfs/core"
)

// Mock is a temp-directory emulation of the Backstore contract for tests
// and platforms without native copy-on-write support. Cloning is a byte
// copy and native snapshots are always unsupported; everything else
// behaves identically to [Real].
type Mock struct {
	storeFS
	snapshots *snapshotTable
	owned     bool
	closeOnce sync.Once
}

var _ Backstore = (*Mock)(nil)

// NewMock creates a Mock rooted at a fresh temporary directory. The
// directory is removed on Close.
func NewMock() (*Mock, error) {
	dir, err := os.MkdirTemp("", "branchfs-mock-*")
	if err != nil {
		return nil, core.FromOSError("mock_backstore", err)
	}
	return &Mock{
		storeFS:   storeFS{root: dir},
		snapshots: newSnapshotTable(),
		owned:     true,
	}, nil
}

// NewMockAt creates a Mock rooted at an existing directory, which the
// caller keeps ownership of.
func NewMockAt(root string) *Mock {
	return &Mock{
		storeFS:   storeFS{root: root},
		snapshots: newSnapshotTable(),
	}
}

func (m *Mock) SupportsNativeSnapshots() bool { return false }
func (m *Mock) SupportsNativeReflink() bool { return false }
func (m *Mock) FSType() string { return "mock" }

func (m *Mock) MountPoint() (string, bool) { return "", false }

func (m *Mock) SnapshotNative(id core.SnapshotID, name string) error {
	return fmt.Errorf("snapshot_native: %w", core.ErrUnsupported)
}

func (m *Mock) SnapshotMaterialize(id core.SnapshotID, name string, entries []CloneEntry) (string, error) {
	treeRoot := filepath.Join(m.root, ".snapshots", id.String())
	if err := os.MkdirAll(treeRoot, 0o755); err != nil {
		return "", core.FromOSError("snapshot_materialize", err)
	}
	if err := materialize(treeRoot, entries, false); err != nil {
		return "", err
	}
	m.snapshots.put(id, treeRoot)
	return treeRoot, nil
}

func (m *Mock) DeleteSnapshot(id core.SnapshotID) error {
	treeRoot, ok := m.snapshots.take(id)
	if !ok {
		return fmt.Errorf("delete_snapshot %s: %w", id, core.ErrNotFound)
	}
	if err := os.RemoveAll(treeRoot); err != nil {
		return core.FromOSError("delete_snapshot", err)
	}
	return nil
}

func (m *Mock) ListSnapshots() []core.SnapshotID { return m.snapshots.list() }

func (m *Mock) SnapshotPath(id core.SnapshotID) (string, error) {
	path, ok := m.snapshots.get(id)
	if !ok {
		return "", fmt.Errorf("snapshot %s: %w", id, core.ErrNotFound)
	}
	return path, nil
}

func (m *Mock) Reflink(src, dst string) error {
	return cloneFile(src, dst, false)
}

func (m *Mock) Close() error {
	var err error
	m.closeOnce.Do(func() {
		if m.owned {
			err = os.RemoveAll(m.root)
		}
	})
	return err
}
