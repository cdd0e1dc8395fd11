package vfs

import (
	"fmt"
	"os"
	"sync"

	"github.com/branchfs/branchfs/core"
	"github.com/branchfs/branchfs/wire"
)

// Handle is one open file or directory stream. File handles wrap the
// real *os.File opened in the branch layers, so the file descriptor can
// be shipped to the client as-is. Directory handles carry a merged,
// sorted entry stream read eagerly at open time.
type Handle struct {
	ID     core.HandleID
	PID    int64
	Path   string
	Branch core.BranchID

	file *os.File

	mu      sync.Mutex
	entries []wire.DirEntry
	pos     int
}

// File returns the underlying file, or nil for directory handles.
func (h *Handle) File() *os.File { return h.file }

// IsDir reports whether the handle is a directory stream.
func (h *Handle) IsDir() bool { return h.file == nil }

// next pops the next directory entry. end is true once the stream is
// exhausted.
func (h *Handle) next() (ent wire.DirEntry, end bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pos >= len(h.entries) {
		return wire.DirEntry{}, true
	}
	ent = h.entries[h.pos]
	h.pos++
	return ent, false
}

// rewind resets a directory stream to its first entry.
func (h *Handle) rewind() {
	h.mu.Lock()
	h.pos = 0
	h.mu.Unlock()
}

func (e *Engine) trackHandle(h *Handle) core.HandleID {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := core.HandleID(e.nextHandle)
	e.nextHandle++
	e.issued++
	h.ID = id
	e.handles[id] = h
	return id
}

// Handle looks an open handle up by id.
func (e *Engine) Handle(id core.HandleID) (*Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.handles[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, core.ErrNotFound)
	}
	return h, nil
}

// CloseHandle releases id and closes the underlying file if any.
func (e *Engine) CloseHandle(id core.HandleID) error {
	e.mu.Lock()
	h, ok := e.handles[id]
	delete(e.handles, id)
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s: %w", id, core.ErrNotFound)
	}
	if h.file != nil {
		if err := h.file.Close(); err != nil {
			return core.FromOSError("close", err)
		}
	}
	return nil
}

// CloseProcessHandles drops every handle pid still holds. Used when a
// client connection goes away.
func (e *Engine) CloseProcessHandles(pid int64) {
	e.mu.Lock()
	var stale []*Handle
	for id, h := range e.handles {
		if h.PID == pid {
			stale = append(stale, h)
			delete(e.handles, id)
		}
	}
	e.mu.Unlock()
	for _, h := range stale {
		if h.file != nil {
			_ = h.file.Close()
		}
	}
	if len(stale) > 0 {
		e.logger.Debug("reaped handles", "pid", pid, "count", len(stale))
	}
}

// OpenHandleCount reports the number of currently open handles.
func (e *Engine) OpenHandleCount() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return uint64(len(e.handles))
}

// IssuedHandleCount reports the number of handles issued since start.
func (e *Engine) IssuedHandleCount() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.issued
}
