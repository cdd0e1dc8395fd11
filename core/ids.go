package core

import "fmt"

// SnapshotID is the unique identifier for a point-in-time snapshot, minted
// by the filesystem service. A Backstore maps it 1:1 to a native or
// emulated storage artifact.
type SnapshotID uint64

// String returns a string representation of the SnapshotID.
func (id SnapshotID) String() string {
	return fmt.Sprintf("snap-%d", uint64(id))
}

// BranchID identifies a named, independently-mutable view created from a
// snapshot.
type BranchID uint64

// String returns a string representation of the BranchID.
func (id BranchID) String() string {
	return fmt.Sprintf("branch-%d", uint64(id))
}

// HandleID is an opaque token for an open file or directory. It is
// interpreted only by the daemon; clients may reuse it directly as an
// opaque directory-stream pointer within one process's lifetime.
type HandleID uint64

// String returns a string representation of the HandleID.
func (id HandleID) String() string {
	return fmt.Sprintf("fh-%d", uint64(id))
}
