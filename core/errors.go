package core

import (
	"errors"
	"fmt"
	"syscall"
)

// Sentinel errors shared by every layer of the system. Backstores, the
// namespace engine, and the daemon all normalize OS and native-tool
// failures into this closed set before surfacing them.
var (
	// ErrNotFound is returned when a path, snapshot, or handle does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a target path or artifact already exists.
	ErrAlreadyExists = errors.New("already exists")
	// ErrAccessDenied is returned when the OS or a native tool refuses access.
	ErrAccessDenied = errors.New("access denied")
	// ErrInvalidArgument is returned for malformed paths or arguments.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNoSpace is returned when the backing store is out of space.
	ErrNoSpace = errors.New("no space left")
	// ErrBusy is returned when a resource is in use and cannot be mutated.
	ErrBusy = errors.New("resource busy")
	// ErrUnsupported is returned when the platform or backstore lacks the
	// requested capability.
	ErrUnsupported = errors.New("unsupported")
)

// IOError wraps an OS-level failure that matched nothing more specific in
// the taxonomy. The original error (if any) can be accessed via
// errors.Unwrap.
type IOError struct {
	Op    string
	Errno syscall.Errno
	cause error
}

// NewIOError builds an IOError for op carrying errno and the underlying
// cause.
func NewIOError(op string, errno syscall.Errno, cause error) *IOError {
	return &IOError{Op: op, Errno: errno, cause: cause}
}

func (e *IOError) Error() string {
	if e.Errno != 0 {
		return fmt.Sprintf("%s: i/o error (errno %d: %s)", e.Op, int(e.Errno), e.Errno.Error())
	}
	return fmt.Sprintf("%s: i/o error", e.Op)
}

func (e *IOError) Unwrap() error { return e.cause }

// FromErrno maps an OS errno onto the shared taxonomy. Unmatched values
// become an IOError preserving the raw code.
func FromErrno(op string, errno syscall.Errno) error {
	switch errno {
	case 0:
		return nil
	case syscall.ENOENT:
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case syscall.EEXIST:
		return fmt.Errorf("%s: %w", op, ErrAlreadyExists)
	case syscall.EPERM, syscall.EACCES:
		return fmt.Errorf("%s: %w", op, ErrAccessDenied)
	case syscall.EINVAL:
		return fmt.Errorf("%s: %w", op, ErrInvalidArgument)
	case syscall.ENOSPC:
		return fmt.Errorf("%s: %w", op, ErrNoSpace)
	case syscall.EBUSY:
		return fmt.Errorf("%s: %w", op, ErrBusy)
	case syscall.ENOTSUP, syscall.ENOSYS:
		return fmt.Errorf("%s: %w", op, ErrUnsupported)
	default:
		return NewIOError(op, errno, errno)
	}
}

// FromOSError normalizes an arbitrary error from the os package. Errors
// that do not carry an errno fall through unchanged.
func FromOSError(op string, err error) error {
	if err == nil {
		return nil
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		mapped := FromErrno(op, errno)
		var ioErr *IOError
		if errors.As(mapped, &ioErr) {
			return NewIOError(op, errno, err)
		}
		return mapped
	}
	return fmt.Errorf("%s: %w", op, err)
}
