package vfs

import (
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/branchfs/branchfs/core"
	"github.com/branchfs/branchfs/wire"
)

// AtFdCwd is the sentinel descriptor resolving against the process's
// tracked working directory, mirroring AT_FDCWD.
const AtFdCwd = wire.AtFdCwd

// Process tracks one registered OS process: its branch binding, tracked
// working directory, and dirfd table. The dirfd table is an explicit map
// from descriptor number to resolved absolute path, mutated only through
// the bookkeeping operations. Nothing here is inferred from the host's
// descriptor table.
type Process struct {
	PID     int64
	ExePath string

	mu     sync.Mutex
	branch core.BranchID
	cwd    string
	dirfds map[int64]string
}

func newProcess(pid int64, exe string) *Process {
	return &Process{
		PID:     pid,
		ExePath: exe,
		cwd:     "/",
		dirfds:  make(map[int64]string),
	}
}

// Branch returns the branch this process is bound to.
func (p *Process) Branch() core.BranchID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.branch
}

func (p *Process) bind(id core.BranchID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.branch = id
}

// Cwd returns the tracked working directory.
func (p *Process) Cwd() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cwd
}

// SetCwd updates the tracked working directory. The path must be
// absolute: the virtual namespace can diverge from the host's, so the
// host cwd is never consulted.
func (p *Process) SetCwd(dir string) error {
	if !strings.HasPrefix(dir, "/") {
		return fmt.Errorf("set_cwd %q: %w", dir, core.ErrInvalidArgument)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cwd = path.Clean(dir)
	return nil
}

// TrackDirfd records fd as an open directory descriptor for dir.
func (p *Process) TrackDirfd(fd int64, dir string) error {
	if fd < 0 {
		return fmt.Errorf("dirfd %d: %w", fd, core.ErrInvalidArgument)
	}
	if !strings.HasPrefix(dir, "/") {
		return fmt.Errorf("dirfd path %q: %w", dir, core.ErrInvalidArgument)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dirfds[fd] = path.Clean(dir)
	return nil
}

// CloseFd drops fd from the table. Closing an untracked fd is not an
// error; most descriptors a process closes were never directories.
func (p *Process) CloseFd(fd int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.dirfds, fd)
}

// DupFd copies the entry of oldFd onto newFd. Untracked sources just
// clear any stale entry at the target, matching dup over an unrelated
// descriptor.
func (p *Process) DupFd(oldFd, newFd int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if dir, ok := p.dirfds[oldFd]; ok {
		p.dirfds[newFd] = dir
	} else {
		delete(p.dirfds, newFd)
	}
}

// DirfdCount returns the number of tracked directory descriptors.
func (p *Process) DirfdCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.dirfds)
}

// ResolvePath resolves (dirfd, rel) to an absolute namespace path.
// Absolute inputs ignore dirfd; AtFdCwd resolves against the tracked
// working directory, never the host's.
func (p *Process) ResolvePath(dirfd int64, rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("resolve_path: empty path: %w", core.ErrInvalidArgument)
	}
	if strings.HasPrefix(rel, "/") {
		return path.Clean(rel), nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	base := p.cwd
	if dirfd != AtFdCwd {
		dir, ok := p.dirfds[dirfd]
		if !ok {
			return "", fmt.Errorf("resolve_path: dirfd %d untracked: %w", dirfd, core.ErrInvalidArgument)
		}
		base = dir
	}
	return path.Join(base, rel), nil
}
