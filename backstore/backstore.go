package backstore

import (
	"sync"

	"github.com/branchfs/branchfs/core"
)

// CloneEntry names one materialized upper file and its path relative to
// the namespace root. SnapshotMaterialize mirrors each entry into a
// per-snapshot tree at the same relative path.
type CloneEntry struct {
	UpperPath   string
	OverlayPath string
}

// Backstore is the storage-provider abstraction behind the namespace
// engine: copy-on-write cloning plus point-in-time snapshotting.
// Capabilities are probed once at construction and are static afterwards.
//
// Implementations must be safe for concurrent use.
type Backstore interface {
	// SupportsNativeSnapshots reports whether the backing filesystem can
	// take snapshots through the host's native volume tooling.
	SupportsNativeSnapshots() bool

	// SupportsNativeReflink reports whether the backing filesystem can
	// clone files by sharing blocks.
	SupportsNativeReflink() bool

	// SnapshotNative creates a read-only point-in-time image of the whole
	// store via the native volume tool and records it under id.
	// Returns core.ErrUnsupported when the capability is absent.
	SnapshotNative(id core.SnapshotID, name string) error

	// SnapshotMaterialize clones every currently-existing entry into a
	// per-snapshot mirrored tree, creating parent directories as needed.
	// Files that vanished between listing and cloning are skipped.
	// Returns the root of the snapshot tree.
	SnapshotMaterialize(id core.SnapshotID, name string, entries []CloneEntry) (string, error)

	// DeleteSnapshot removes the snapshot's artifact and its mapping. The
	// mapping is removed unconditionally even when artifact removal
	// fails; an unknown id returns core.ErrNotFound.
	DeleteSnapshot(id core.SnapshotID) error

	// ListSnapshots returns the ids of all currently mapped snapshots.
	ListSnapshots() []core.SnapshotID

	// SnapshotPath returns the artifact path recorded for id.
	SnapshotPath(id core.SnapshotID) (string, error)

	// Reflink duplicates src to dst copy-on-write when supported, falling
	// back silently to a byte copy where block sharing is unavailable.
	// dst must not already exist.
	Reflink(src, dst string) error

	// CreateDir, CreateSymlink, WriteFile, and SetMode are the primitive
	// mutators the engine uses to materialize changes onto the backing
	// store. All take paths relative to RootPath and create missing
	// parent directories transparently.
	CreateDir(rel string, mode uint32) error
	CreateSymlink(target, rel string) error
	WriteFile(rel string, data []byte, mode uint32) error
	SetMode(rel string, mode uint32) error

	// RootPath returns the absolute directory this store is rooted at.
	RootPath() string

	// MountPoint returns the mount point of the store's ephemeral volume,
	// if it owns one.
	MountPoint() (string, bool)

	// FSType returns the probed filesystem type name.
	FSType() string

	// Close tears down anything the store owns, most notably its
	// ephemeral volume. Teardown runs at most once; later calls are
	// no-ops.
	Close() error
}

// snapshotTable maps snapshot ids to artifact paths under a lock. The
// critical sections stay short; slow native-tool work happens outside.
type snapshotTable struct {
	mu       sync.Mutex
	artifact map[core.SnapshotID]string
}

func newSnapshotTable() *snapshotTable {
	return &snapshotTable{artifact: make(map[core.SnapshotID]string)}
}

func (t *snapshotTable) put(id core.SnapshotID, path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.artifact[id] = path
}

// take removes the mapping and returns the artifact path that was bound
// to id. Removal happens regardless of what the caller does with the
// artifact afterwards.
func (t *snapshotTable) take(id core.SnapshotID) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	path, ok := t.artifact[id]
	if ok {
		delete(t.artifact, id)
	}
	return path, ok
}

func (t *snapshotTable) get(id core.SnapshotID) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	path, ok := t.artifact[id]
	return path, ok
}

func (t *snapshotTable) list() []core.SnapshotID {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]core.SnapshotID, 0, len(t.artifact))
	for id := range t.artifact {
		ids = append(ids, id)
	}
	return ids
}
