package branchfs

import (
	"errors"
	"fmt"

	"github.com/branchfs/branchfs/archive"
	"github.com/branchfs/branchfs/core"
)

// The shared error taxonomy, re-exported so callers can test facade
// results without importing core.
var (
	// ErrNotFound is returned when a path, snapshot, branch, or archive
	// does not exist.
	ErrNotFound = core.ErrNotFound
	// ErrAlreadyExists is returned when a target already exists.
	ErrAlreadyExists = core.ErrAlreadyExists
	// ErrAccessDenied is returned when the OS or a native tool refuses access.
	ErrAccessDenied = core.ErrAccessDenied
	// ErrInvalidArgument is returned for malformed paths or arguments.
	ErrInvalidArgument = core.ErrInvalidArgument
	// ErrNoSpace is returned when the backing store is out of space.
	ErrNoSpace = core.ErrNoSpace
	// ErrBusy is returned when a resource is in use and cannot be mutated.
	ErrBusy = core.ErrBusy
	// ErrUnsupported is returned when the platform or backstore lacks the
	// requested capability.
	ErrUnsupported = core.ErrUnsupported

	// ErrClosed is returned by operations on a closed BranchFS.
	ErrClosed = errors.New("branchfs: closed")

	// ErrNoArchiveSink is returned by archive operations when no sink was
	// configured with WithArchiveSink.
	ErrNoArchiveSink = errors.New("branchfs: no archive sink configured")
)

// translateError normalizes subsystem errors onto the facade taxonomy.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, archive.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return err
}
