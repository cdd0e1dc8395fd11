package vfs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"syscall"
	"time"

	"github.com/branchfs/branchfs/core"
	"github.com/branchfs/branchfs/wire"
)

// statfsMagic identifies the virtual filesystem in Statfs replies.
const statfsMagic uint64 = 0x62726673

// wantsWrite reports whether open flags imply write intent.
func wantsWrite(flags uint32) bool {
	switch flags & uint32(os.O_WRONLY|os.O_RDWR) {
	case uint32(os.O_WRONLY), uint32(os.O_RDWR):
		return true
	}
	return flags&uint32(os.O_CREATE|os.O_TRUNC|os.O_APPEND) != 0
}

// Open opens p for proc and returns a tracked handle wrapping the real
// open file. The caller ships the file descriptor to the client.
func (e *Engine) Open(proc *Process, p string, flags uint32, mode uint32) (*Handle, error) {
	if err := validPath(p); err != nil {
		return nil, err
	}
	b, err := e.branchFor(proc)
	if err != nil {
		return nil, err
	}
	p = path.Clean(p)

	var real string
	if wantsWrite(flags) {
		real, err = b.resolveForWrite(p, e.store)
		if err != nil {
			if flags&uint32(os.O_CREATE) == 0 || !errors.Is(err, core.ErrNotFound) {
				return nil, err
			}
			// Creating a file that has no lower counterpart.
			if err := b.ensureUpperParent(p); err != nil {
				return nil, err
			}
			real = b.upperPath(p)
		}
	} else {
		var where layer
		real, where = b.resolve(p)
		if where == layerNone {
			return nil, fmt.Errorf("%s: %w", p, core.ErrNotFound)
		}
	}

	f, err := os.OpenFile(real, int(flags), fs.FileMode(mode))
	if err != nil {
		return nil, core.FromOSError("open", err)
	}
	// A successful create revives a whited-out name.
	b.setWhiteout(p, false)
	e.inoFor(b.ID, p)

	h := &Handle{PID: proc.PID, Path: p, Branch: b.ID, file: f}
	e.trackHandle(h)
	e.logger.Debug("open", "pid", proc.PID, "path", p, "handle", h.ID.String())
	return h, nil
}

// Dup issues a second handle over a duplicated descriptor of id.
func (e *Engine) Dup(id core.HandleID) (*Handle, error) {
	h, err := e.Handle(id)
	if err != nil {
		return nil, err
	}
	if h.IsDir() {
		return nil, fmt.Errorf("%s is a directory stream: %w", id, core.ErrInvalidArgument)
	}
	fd, err := syscall.Dup(int(h.file.Fd()))
	if err != nil {
		return nil, core.FromOSError("dup", err)
	}
	dup := &Handle{PID: h.PID, Path: h.Path, Branch: h.Branch, file: os.NewFile(uintptr(fd), h.file.Name())}
	e.trackHandle(dup)
	return dup, nil
}

// OpenDir opens a merged directory stream over p.
func (e *Engine) OpenDir(proc *Process, p string) (*Handle, error) {
	if err := validPath(p); err != nil {
		return nil, err
	}
	b, err := e.branchFor(proc)
	if err != nil {
		return nil, err
	}
	p = path.Clean(p)

	st, err := e.statPath(b, p, true)
	if err != nil {
		return nil, err
	}
	if st.Mode&uint32(syscall.S_IFMT) != uint32(syscall.S_IFDIR) {
		return nil, fmt.Errorf("%s is not a directory: %w", p, core.ErrInvalidArgument)
	}

	names, err := b.readDir(p)
	if err != nil {
		return nil, err
	}
	entries := make([]wire.DirEntry, 0, len(names))
	for _, name := range names {
		child := path.Join(p, name)
		real, where := b.resolve(child)
		if where == layerNone {
			continue
		}
		kind := wire.KindFile
		if fi, err := os.Lstat(real); err == nil {
			switch {
			case fi.IsDir():
				kind = wire.KindDir
			case fi.Mode()&fs.ModeSymlink != 0:
				kind = wire.KindSymlink
			}
		}
		entries = append(entries, wire.DirEntry{Name: name, Kind: kind, Ino: e.inoFor(b.ID, child)})
	}

	h := &Handle{PID: proc.PID, Path: p, Branch: b.ID, entries: entries}
	e.trackHandle(h)
	return h, nil
}

// ReadDir pops the next entry off the directory stream id.
func (e *Engine) ReadDir(id core.HandleID) (wire.DirEntry, bool, error) {
	h, err := e.Handle(id)
	if err != nil {
		return wire.DirEntry{}, false, err
	}
	if !h.IsDir() {
		return wire.DirEntry{}, false, fmt.Errorf("%s is not a directory stream: %w", id, core.ErrInvalidArgument)
	}
	ent, end := h.next()
	return ent, end, nil
}

// RewindDir resets the directory stream id to its beginning.
func (e *Engine) RewindDir(id core.HandleID) error {
	h, err := e.Handle(id)
	if err != nil {
		return err
	}
	if !h.IsDir() {
		return fmt.Errorf("%s is not a directory stream: %w", id, core.ErrInvalidArgument)
	}
	h.rewind()
	return nil
}

func (e *Engine) statPath(b *Branch, p string, follow bool) (wire.Stat, error) {
	p = path.Clean(p)
	real, where := b.resolve(p)
	if where == layerNone {
		return wire.Stat{}, fmt.Errorf("%s: %w", p, core.ErrNotFound)
	}
	var fi os.FileInfo
	var err error
	if follow {
		fi, err = os.Stat(real)
	} else {
		fi, err = os.Lstat(real)
	}
	if err != nil {
		return wire.Stat{}, core.FromOSError("stat", err)
	}
	st := statFromInfo(fi)
	st.Ino = e.inoFor(b.ID, p)
	st.Dev = statfsMagic
	return st, nil
}

// Getattr stats p in proc's branch. follow controls symlink traversal.
func (e *Engine) Getattr(proc *Process, p string, follow bool) (wire.Stat, error) {
	if err := validPath(p); err != nil {
		return wire.Stat{}, err
	}
	b, err := e.branchFor(proc)
	if err != nil {
		return wire.Stat{}, err
	}
	return e.statPath(b, p, follow)
}

// GetattrHandle stats the file behind an open handle.
func (e *Engine) GetattrHandle(id core.HandleID) (wire.Stat, error) {
	h, err := e.Handle(id)
	if err != nil {
		return wire.Stat{}, err
	}
	if h.IsDir() {
		b, err := e.Branch(h.Branch)
		if err != nil {
			return wire.Stat{}, err
		}
		return e.statPath(b, h.Path, true)
	}
	fi, err := h.file.Stat()
	if err != nil {
		return wire.Stat{}, core.FromOSError("fstat", err)
	}
	st := statFromInfo(fi)
	st.Ino = e.inoFor(h.Branch, h.Path)
	st.Dev = statfsMagic
	return st, nil
}

// Readlink reads the target of the symlink at p.
func (e *Engine) Readlink(proc *Process, p string) (string, error) {
	if err := validPath(p); err != nil {
		return "", err
	}
	b, err := e.branchFor(proc)
	if err != nil {
		return "", err
	}
	real, where := b.resolve(p)
	if where == layerNone {
		return "", fmt.Errorf("%s: %w", p, core.ErrNotFound)
	}
	target, err := os.Readlink(real)
	if err != nil {
		return "", core.FromOSError("readlink", err)
	}
	return target, nil
}

// Symlink creates a symlink at linkPath pointing at target.
func (e *Engine) Symlink(proc *Process, target, linkPath string) error {
	if err := validPath(linkPath); err != nil {
		return err
	}
	b, err := e.branchFor(proc)
	if err != nil {
		return err
	}
	linkPath = path.Clean(linkPath)
	if _, where := b.resolve(linkPath); where != layerNone {
		return fmt.Errorf("%s: %w", linkPath, core.ErrAlreadyExists)
	}
	if err := b.ensureUpperParent(linkPath); err != nil {
		return err
	}
	if err := os.Symlink(target, b.upperPath(linkPath)); err != nil {
		return core.FromOSError("symlink", err)
	}
	b.setWhiteout(linkPath, false)
	e.inoFor(b.ID, linkPath)
	return nil
}

// Link creates a hard link at newPath referring to oldPath. The source
// is copied up first so the link lands entirely in the upper layer.
func (e *Engine) Link(proc *Process, oldPath, newPath string) error {
	if err := validPath(oldPath); err != nil {
		return err
	}
	if err := validPath(newPath); err != nil {
		return err
	}
	b, err := e.branchFor(proc)
	if err != nil {
		return err
	}
	newPath = path.Clean(newPath)
	if _, where := b.resolve(newPath); where != layerNone {
		return fmt.Errorf("%s: %w", newPath, core.ErrAlreadyExists)
	}
	src, err := b.resolveForWrite(path.Clean(oldPath), e.store)
	if err != nil {
		return err
	}
	if err := b.ensureUpperParent(newPath); err != nil {
		return err
	}
	if err := os.Link(src, b.upperPath(newPath)); err != nil {
		return core.FromOSError("link", err)
	}
	b.setWhiteout(newPath, false)
	e.inoFor(b.ID, newPath)
	return nil
}

// PathOp performs one of the namespace mutations: unlink, mkdir, rmdir
// or rename.
func (e *Engine) PathOp(proc *Process, verb, p, p2 string, mode uint32) error {
	if err := validPath(p); err != nil {
		return err
	}
	b, err := e.branchFor(proc)
	if err != nil {
		return err
	}
	p = path.Clean(p)

	switch verb {
	case wire.PathOpUnlink:
		return e.unlink(b, p, false)
	case wire.PathOpRmdir:
		return e.rmdir(b, p)
	case wire.PathOpMkdir:
		return e.mkdir(b, p, mode)
	case wire.PathOpRename:
		if err := validPath(p2); err != nil {
			return err
		}
		return e.rename(b, p, path.Clean(p2))
	default:
		return fmt.Errorf("path_op verb %q: %w", verb, core.ErrUnsupported)
	}
}

func (e *Engine) unlink(b *Branch, p string, wantDir bool) error {
	real, where := b.resolve(p)
	if where == layerNone {
		return fmt.Errorf("%s: %w", p, core.ErrNotFound)
	}
	fi, err := os.Lstat(real)
	if err != nil {
		return core.FromOSError("unlink", err)
	}
	if fi.IsDir() != wantDir {
		if wantDir {
			return fmt.Errorf("%s is not a directory: %w", p, core.ErrInvalidArgument)
		}
		return fmt.Errorf("%s is a directory: %w", p, core.ErrInvalidArgument)
	}
	if where == layerUpper {
		if err := os.Remove(real); err != nil {
			return core.FromOSError("unlink", err)
		}
	}
	// Lower entries stay on disk; a whiteout hides the name. An upper
	// removal still needs the whiteout when a lower twin exists.
	b.setWhiteout(p, true)
	e.dropIno(b.ID, p)
	return nil
}

func (e *Engine) rmdir(b *Branch, p string) error {
	if p == "/" {
		return fmt.Errorf("cannot remove root: %w", core.ErrInvalidArgument)
	}
	names, err := b.readDir(p)
	if err != nil {
		return err
	}
	if len(names) > 0 {
		return fmt.Errorf("%s: directory not empty: %w", p, core.ErrBusy)
	}
	return e.unlink(b, p, true)
}

func (e *Engine) mkdir(b *Branch, p string, mode uint32) error {
	if _, where := b.resolve(p); where != layerNone {
		return fmt.Errorf("%s: %w", p, core.ErrAlreadyExists)
	}
	if err := b.ensureUpperParent(p); err != nil {
		return err
	}
	if err := os.Mkdir(b.upperPath(p), fs.FileMode(mode)); err != nil {
		return core.FromOSError("mkdir", err)
	}
	b.setWhiteout(p, false)
	e.inoFor(b.ID, p)
	return nil
}

func (e *Engine) rename(b *Branch, from, to string) error {
	// Renames always land in the upper layer, so copy the source up
	// first.
	src, err := b.resolveForWrite(from, e.store)
	if err != nil {
		return err
	}
	st, err := os.Lstat(src)
	if err != nil {
		return core.FromOSError("rename", err)
	}
	if st.IsDir() {
		// Pull the lower children up so the move carries the whole
		// subtree, not just the upper mirror.
		if err := b.copyUpTree(from, e.store); err != nil {
			return err
		}
	}
	if err := b.ensureUpperParent(to); err != nil {
		return err
	}
	if err := os.Rename(src, b.upperPath(to)); err != nil {
		return core.FromOSError("rename", err)
	}
	b.setWhiteout(from, true)
	b.setWhiteout(to, false)
	e.moveIno(b.ID, from, to)
	return nil
}

// writablePath copies p up and returns the real upper path, for
// metadata mutations.
func (e *Engine) writablePath(proc *Process, p string) (*Branch, string, error) {
	if err := validPath(p); err != nil {
		return nil, "", err
	}
	b, err := e.branchFor(proc)
	if err != nil {
		return nil, "", err
	}
	real, err := b.resolveForWrite(path.Clean(p), e.store)
	if err != nil {
		return nil, "", err
	}
	return b, real, nil
}

// Chmod changes the permission bits of p.
func (e *Engine) Chmod(proc *Process, p string, mode uint32) error {
	_, real, err := e.writablePath(proc, p)
	if err != nil {
		return err
	}
	if err := os.Chmod(real, fs.FileMode(mode)); err != nil {
		return core.FromOSError("chmod", err)
	}
	return nil
}

// ChmodHandle changes the permission bits of an open file.
func (e *Engine) ChmodHandle(id core.HandleID, mode uint32) error {
	h, err := e.Handle(id)
	if err != nil {
		return err
	}
	if h.IsDir() {
		return fmt.Errorf("%s is a directory stream: %w", id, core.ErrInvalidArgument)
	}
	if err := h.file.Chmod(fs.FileMode(mode)); err != nil {
		return core.FromOSError("fchmod", err)
	}
	return nil
}

// Chown changes ownership of p. follow controls symlink traversal.
func (e *Engine) Chown(proc *Process, p string, uid, gid int64, follow bool) error {
	_, real, err := e.writablePath(proc, p)
	if err != nil {
		return err
	}
	if follow {
		err = os.Chown(real, int(uid), int(gid))
	} else {
		err = os.Lchown(real, int(uid), int(gid))
	}
	if err != nil {
		return core.FromOSError("chown", err)
	}
	return nil
}

// ChownHandle changes ownership of an open file.
func (e *Engine) ChownHandle(id core.HandleID, uid, gid int64) error {
	h, err := e.Handle(id)
	if err != nil {
		return err
	}
	if h.IsDir() {
		return fmt.Errorf("%s is a directory stream: %w", id, core.ErrInvalidArgument)
	}
	if err := h.file.Chown(int(uid), int(gid)); err != nil {
		return core.FromOSError("fchown", err)
	}
	return nil
}

// Truncate sets the size of the file at p.
func (e *Engine) Truncate(proc *Process, p string, size int64) error {
	_, real, err := e.writablePath(proc, p)
	if err != nil {
		return err
	}
	if err := os.Truncate(real, size); err != nil {
		return core.FromOSError("truncate", err)
	}
	return nil
}

// TruncateHandle sets the size of an open file.
func (e *Engine) TruncateHandle(id core.HandleID, size int64) error {
	h, err := e.Handle(id)
	if err != nil {
		return err
	}
	if h.IsDir() {
		return fmt.Errorf("%s is a directory stream: %w", id, core.ErrInvalidArgument)
	}
	if err := h.file.Truncate(size); err != nil {
		return core.FromOSError("ftruncate", err)
	}
	return nil
}

func toTime(ts wire.TimeSpec) time.Time {
	if ts.Sec == 0 && ts.Nsec == 0 {
		return time.Now()
	}
	return time.Unix(ts.Sec, ts.Nsec)
}

// Utimens sets the access and modification times of p.
func (e *Engine) Utimens(proc *Process, p string, atime, mtime wire.TimeSpec) error {
	_, real, err := e.writablePath(proc, p)
	if err != nil {
		return err
	}
	if err := os.Chtimes(real, toTime(atime), toTime(mtime)); err != nil {
		return core.FromOSError("utimens", err)
	}
	return nil
}

// UtimensHandle sets the access and modification times of an open file.
func (e *Engine) UtimensHandle(id core.HandleID, atime, mtime wire.TimeSpec) error {
	h, err := e.Handle(id)
	if err != nil {
		return err
	}
	if h.IsDir() {
		return fmt.Errorf("%s is a directory stream: %w", id, core.ErrInvalidArgument)
	}
	if err := os.Chtimes(h.file.Name(), toTime(atime), toTime(mtime)); err != nil {
		return core.FromOSError("futimens", err)
	}
	return nil
}

// Statfs reports synthetic filesystem-level numbers for the virtual
// namespace. Block counts come from the backing store.
func (e *Engine) Statfs(proc *Process, p string) (wire.Statfs, error) {
	if err := validPath(p); err != nil {
		return wire.Statfs{}, err
	}
	out := wire.Statfs{
		Type:    statfsMagic,
		Bsize:   4096,
		NameLen: 255,
		Files:   e.NodeCount(),
	}
	fillStorefs(e.store.RootPath(), &out)
	return out, nil
}

// StatfsHandle reports the same numbers for an open handle.
func (e *Engine) StatfsHandle(id core.HandleID) (wire.Statfs, error) {
	h, err := e.Handle(id)
	if err != nil {
		return wire.Statfs{}, err
	}
	proc, ok := e.Process(h.PID)
	if !ok {
		return wire.Statfs{}, fmt.Errorf("pid %d: %w", h.PID, core.ErrNotFound)
	}
	return e.Statfs(proc, h.Path)
}

// Walk returns every node visible in the branch, sorted by path. Used
// by the introspection surface.
func (e *Engine) Walk(branchID core.BranchID) ([]wire.FsEntry, error) {
	b, err := e.Branch(branchID)
	if err != nil {
		return nil, err
	}
	var out []wire.FsEntry
	var walk func(p string) error
	walk = func(p string) error {
		real, where := b.resolve(p)
		if where == layerNone && p != "/" {
			return nil
		}
		ent := wire.FsEntry{Path: p, Kind: wire.KindDir}
		var isDir bool
		if p == "/" {
			isDir = true
		} else {
			fi, err := os.Lstat(real)
			if err != nil {
				return nil
			}
			switch {
			case fi.IsDir():
				isDir = true
			case fi.Mode()&fs.ModeSymlink != 0:
				ent.Kind = wire.KindSymlink
				ent.Target, _ = os.Readlink(real)
			default:
				ent.Kind = wire.KindFile
				ent.Size = fi.Size()
			}
		}
		out = append(out, ent)
		if !isDir {
			return nil
		}
		names, err := b.readDir(p)
		if err != nil {
			return nil
		}
		for _, name := range names {
			if err := walk(path.Join(p, name)); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk("/"); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}
