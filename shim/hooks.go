package shim

import (
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/branchfs/branchfs/wire"
)

// checkPath rejects arguments a syscall would reject, before any wire
// traffic.
func checkPath(name string) error {
	if name == "" {
		return syscall.EINVAL
	}
	if strings.ContainsRune(name, 0) {
		return syscall.EINVAL
	}
	return nil
}

// resolve turns name into an absolute namespace path. Relative names go
// through the daemon's tracked working directory.
func (c *Client) resolve(name string) (string, error) {
	if filepath.IsAbs(name) {
		return path.Clean(filepath.ToSlash(name)), nil
	}
	return c.resolveAt(wire.AtFdCwd, name)
}

func (c *Client) resolveAt(dirfd int64, name string) (string, error) {
	resp, err := c.call(&wire.ResolvePathReq{Dirfd: dirfd, Path: name})
	if err != nil {
		return "", err
	}
	r, ok := resp.(*wire.ResolvePathResp)
	if !ok {
		return "", errUnexpectedResponse(resp)
	}
	return r.Path, nil
}

// fallback reports whether err warrants retrying the call natively. A
// typed daemon answer is authoritative and is returned to the caller;
// only transport-level failures fall back.
func (c *Client) fallback(op string, err error) bool {
	if wire.IsDaemonError(err) {
		return false
	}
	c.logger.Debug("native fallback", "op", op, "error", err)
	return true
}

// Open opens name in the virtual namespace. The returned *os.File is a
// real descriptor received from the daemon, so reads and writes after
// open never touch the wire.
func (c *Client) Open(name string, flag int, perm os.FileMode) (*os.File, error) {
	if err := checkPath(name); err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}
	if c.Interposing() {
		f, err := c.remoteOpen(name, flag, perm)
		if err == nil {
			return f, nil
		}
		if !c.fallback("open", err) {
			return nil, &fs.PathError{Op: "open", Path: name, Err: err}
		}
	}
	return os.OpenFile(name, flag, perm)
}

func (c *Client) remoteOpen(name string, flag int, perm os.FileMode) (*os.File, error) {
	abs, err := c.resolve(name)
	if err != nil {
		return nil, err
	}
	resp, fd, err := c.roundTrip(&wire.FdOpenReq{Path: abs, Flags: uint32(flag), Mode: uint32(perm)})
	if err != nil {
		return nil, err
	}
	r, ok := resp.(*wire.FdOpenResp)
	if !ok {
		closeFile(fd)
		return nil, errUnexpectedResponse(resp)
	}
	if !r.FdFollows || fd == nil {
		closeFile(fd)
		// The daemon holds the handle but this transport cannot
		// deliver the descriptor.
		return nil, errNoDescriptor
	}
	return fd, nil
}

// Stat stats name, following symlinks.
func (c *Client) Stat(name string) (fs.FileInfo, error) {
	return c.stat("stat", name, true)
}

// Lstat stats name without following a final symlink.
func (c *Client) Lstat(name string) (fs.FileInfo, error) {
	return c.stat("lstat", name, false)
}

func (c *Client) stat(op, name string, follow bool) (fs.FileInfo, error) {
	if err := checkPath(name); err != nil {
		return nil, &fs.PathError{Op: op, Path: name, Err: err}
	}
	if c.Interposing() {
		fi, err := c.remoteStat(name, follow)
		if err == nil {
			return fi, nil
		}
		if !c.fallback(op, err) {
			return nil, &fs.PathError{Op: op, Path: name, Err: err}
		}
	}
	if follow {
		return os.Stat(name)
	}
	return os.Lstat(name)
}

func (c *Client) remoteStat(name string, follow bool) (fs.FileInfo, error) {
	abs, err := c.resolve(name)
	if err != nil {
		return nil, err
	}
	var req wire.Request
	if follow {
		q := &wire.StatReq{}
		q.Path = abs
		req = q
	} else {
		q := &wire.LstatReq{}
		q.Path = abs
		req = q
	}
	resp, err := c.call(req)
	if err != nil {
		return nil, err
	}
	r, ok := resp.(*wire.StatResp)
	if !ok {
		return nil, errUnexpectedResponse(resp)
	}
	return newFileInfo(path.Base(abs), r.Stat), nil
}

// StatAt stats name relative to a tracked directory descriptor.
func (c *Client) StatAt(dirfd int64, name string, noFollow bool) (fs.FileInfo, error) {
	if err := checkPath(name); err != nil {
		return nil, &fs.PathError{Op: "fstatat", Path: name, Err: err}
	}
	if !c.Interposing() {
		return nil, errNotConnected
	}
	abs, err := c.resolveAt(dirfd, name)
	if err != nil {
		return nil, err
	}
	resp, err := c.call(&wire.FstatatReq{Path: abs, NoFollow: noFollow})
	if err != nil {
		return nil, &fs.PathError{Op: "fstatat", Path: name, Err: err}
	}
	r, ok := resp.(*wire.StatResp)
	if !ok {
		return nil, errUnexpectedResponse(resp)
	}
	return newFileInfo(path.Base(abs), r.Stat), nil
}

// ReadDir lists name, merged across layers and sorted by entry name.
func (c *Client) ReadDir(name string) ([]wire.DirEntry, error) {
	if err := checkPath(name); err != nil {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: err}
	}
	if c.Interposing() {
		entries, err := c.remoteReadDir(name)
		if err == nil {
			return entries, nil
		}
		if !c.fallback("readdir", err) {
			return nil, &fs.PathError{Op: "readdir", Path: name, Err: err}
		}
	}
	native, err := os.ReadDir(name)
	if err != nil {
		return nil, err
	}
	entries := make([]wire.DirEntry, 0, len(native))
	for _, de := range native {
		kind := wire.KindFile
		switch {
		case de.IsDir():
			kind = wire.KindDir
		case de.Type()&fs.ModeSymlink != 0:
			kind = wire.KindSymlink
		}
		entries = append(entries, wire.DirEntry{Name: de.Name(), Kind: kind})
	}
	return entries, nil
}

func (c *Client) remoteReadDir(name string) ([]wire.DirEntry, error) {
	abs, err := c.resolve(name)
	if err != nil {
		return nil, err
	}
	resp, err := c.call(&wire.DirOpenReq{Path: abs})
	if err != nil {
		return nil, err
	}
	open, ok := resp.(*wire.HandleResp)
	if !ok {
		return nil, errUnexpectedResponse(resp)
	}
	defer c.call(&wire.DirCloseReq{Handle: open.Handle})

	var entries []wire.DirEntry
	for {
		resp, err := c.call(&wire.DirReadReq{Handle: open.Handle})
		if err != nil {
			return nil, err
		}
		r, ok := resp.(*wire.DirReadResp)
		if !ok {
			return nil, errUnexpectedResponse(resp)
		}
		if r.End {
			return entries, nil
		}
		entries = append(entries, r.Entry)
	}
}

// Readlink reads the target of the symlink at name.
func (c *Client) Readlink(name string) (string, error) {
	if err := checkPath(name); err != nil {
		return "", &fs.PathError{Op: "readlink", Path: name, Err: err}
	}
	if c.Interposing() {
		abs, err := c.resolve(name)
		if err == nil {
			resp, callErr := c.call(&wire.ReadlinkReq{Path: abs})
			if callErr == nil {
				if r, ok := resp.(*wire.ReadlinkResp); ok {
					return r.Target, nil
				}
				return "", errUnexpectedResponse(resp)
			}
			err = callErr
		}
		if !c.fallback("readlink", err) {
			return "", &fs.PathError{Op: "readlink", Path: name, Err: err}
		}
	}
	return os.Readlink(name)
}

// Symlink creates newname pointing at oldname.
func (c *Client) Symlink(oldname, newname string) error {
	if err := checkPath(newname); err != nil {
		return &fs.PathError{Op: "symlink", Path: newname, Err: err}
	}
	native := func() error { return os.Symlink(oldname, newname) }
	return c.mutate("symlink", newname, native, func(abs string) (wire.Request, error) {
		return &wire.SymlinkatReq{Target: oldname, NewPath: abs}, nil
	})
}

// Link creates a hard link newname referring to oldname.
func (c *Client) Link(oldname, newname string) error {
	if err := checkPath(oldname); err != nil {
		return &fs.PathError{Op: "link", Path: oldname, Err: err}
	}
	if err := checkPath(newname); err != nil {
		return &fs.PathError{Op: "link", Path: newname, Err: err}
	}
	native := func() error { return os.Link(oldname, newname) }
	return c.mutate("link", newname, native, func(abs string) (wire.Request, error) {
		absOld, err := c.resolve(oldname)
		if err != nil {
			return nil, err
		}
		return &wire.LinkatReq{OldPath: absOld, NewPath: abs}, nil
	})
}

// Mkdir creates a directory.
func (c *Client) Mkdir(name string, perm os.FileMode) error {
	native := func() error { return os.Mkdir(name, perm) }
	return c.mutate("mkdir", name, native, func(abs string) (wire.Request, error) {
		return &wire.PathOpReq{Verb: wire.PathOpMkdir, Path: abs, Mode: uint32(perm)}, nil
	})
}

// Remove unlinks a file.
func (c *Client) Remove(name string) error {
	native := func() error { return os.Remove(name) }
	return c.mutate("unlink", name, native, func(abs string) (wire.Request, error) {
		return &wire.PathOpReq{Verb: wire.PathOpUnlink, Path: abs}, nil
	})
}

// RemoveDir removes an empty directory.
func (c *Client) RemoveDir(name string) error {
	native := func() error { return os.Remove(name) }
	return c.mutate("rmdir", name, native, func(abs string) (wire.Request, error) {
		return &wire.PathOpReq{Verb: wire.PathOpRmdir, Path: abs}, nil
	})
}

// Rename moves oldname to newname.
func (c *Client) Rename(oldname, newname string) error {
	if err := checkPath(newname); err != nil {
		return &fs.PathError{Op: "rename", Path: newname, Err: err}
	}
	native := func() error { return os.Rename(oldname, newname) }
	return c.mutate("rename", oldname, native, func(abs string) (wire.Request, error) {
		absNew, err := c.resolve(newname)
		if err != nil {
			return nil, err
		}
		return &wire.PathOpReq{Verb: wire.PathOpRename, Path: abs, Path2: absNew}, nil
	})
}

// Chmod changes the mode of name.
func (c *Client) Chmod(name string, mode os.FileMode) error {
	native := func() error { return os.Chmod(name, mode) }
	return c.mutate("chmod", name, native, func(abs string) (wire.Request, error) {
		return &wire.ChmodReq{Path: abs, Mode: uint32(mode)}, nil
	})
}

// Chown changes ownership of name, following symlinks.
func (c *Client) Chown(name string, uid, gid int) error {
	native := func() error { return os.Chown(name, uid, gid) }
	return c.mutate("chown", name, native, func(abs string) (wire.Request, error) {
		q := &wire.ChownReq{}
		q.Path, q.UID, q.GID = abs, uint32(uid), uint32(gid)
		return q, nil
	})
}

// Lchown changes ownership without following a final symlink.
func (c *Client) Lchown(name string, uid, gid int) error {
	native := func() error { return os.Lchown(name, uid, gid) }
	return c.mutate("lchown", name, native, func(abs string) (wire.Request, error) {
		q := &wire.LchownReq{}
		q.Path, q.UID, q.GID = abs, uint32(uid), uint32(gid)
		return q, nil
	})
}

// Truncate sets the size of name.
func (c *Client) Truncate(name string, size int64) error {
	native := func() error { return os.Truncate(name, size) }
	return c.mutate("truncate", name, native, func(abs string) (wire.Request, error) {
		return &wire.TruncateReq{Path: abs, Size: size}, nil
	})
}

// Chtimes sets the access and modification times of name.
func (c *Client) Chtimes(name string, atime, mtime time.Time) error {
	native := func() error { return os.Chtimes(name, atime, mtime) }
	return c.mutate("utimes", name, native, func(abs string) (wire.Request, error) {
		return &wire.UtimesReq{
			Path:  abs,
			Atime: wire.TimeSpec{Sec: atime.Unix(), Nsec: int64(atime.Nanosecond())},
			Mtime: wire.TimeSpec{Sec: mtime.Unix(), Nsec: int64(mtime.Nanosecond())},
		}, nil
	})
}

// mutate is the shared shape of the path-mutating hooks: resolve,
// forward, fall back to the native call on transport failure.
func (c *Client) mutate(op, name string, native func() error, build func(abs string) (wire.Request, error)) error {
	if err := checkPath(name); err != nil {
		return &fs.PathError{Op: op, Path: name, Err: err}
	}
	if c.Interposing() {
		err := c.remoteMutate(name, build)
		if err == nil {
			return nil
		}
		if !c.fallback(op, err) {
			return &fs.PathError{Op: op, Path: name, Err: err}
		}
	}
	return native()
}

func (c *Client) remoteMutate(name string, build func(abs string) (wire.Request, error)) error {
	abs, err := c.resolve(name)
	if err != nil {
		return err
	}
	req, err := build(abs)
	if err != nil {
		return err
	}
	_, err = c.call(req)
	return err
}

// Chdir updates the daemon-tracked working directory. The OS working
// directory is changed too so native fallbacks stay coherent.
func (c *Client) Chdir(dir string) error {
	if err := checkPath(dir); err != nil {
		return &fs.PathError{Op: "chdir", Path: dir, Err: err}
	}
	if c.Interposing() {
		abs, err := c.resolve(dir)
		if err == nil {
			req := &wire.SetCwdReq{}
			req.Path = abs
			_, err = c.call(req)
		}
		if err != nil && !c.fallback("chdir", err) {
			return &fs.PathError{Op: "chdir", Path: dir, Err: err}
		}
	}
	return os.Chdir(dir)
}

// TrackDirfd records fd as naming dir in the daemon's dirfd table.
func (c *Client) TrackDirfd(fd int64, dir string) error {
	if err := checkPath(dir); err != nil {
		return &fs.PathError{Op: "dirfd_open_dir", Path: dir, Err: err}
	}
	if !c.Interposing() {
		return errNotConnected
	}
	abs, err := c.resolve(dir)
	if err != nil {
		return err
	}
	_, err = c.call(&wire.DirfdOpenDirReq{Fd: fd, Path: abs})
	return err
}

// CloseFd drops fd from the daemon's dirfd table.
func (c *Client) CloseFd(fd int64) error {
	if !c.Interposing() {
		return nil
	}
	_, err := c.call(&wire.CloseFdReq{Fd: fd})
	return err
}

// DupFd mirrors a descriptor duplication into the dirfd table.
func (c *Client) DupFd(oldFd, newFd int64) error {
	if !c.Interposing() {
		return nil
	}
	_, err := c.call(&wire.DupFdReq{OldFd: oldFd, NewFd: newFd})
	return err
}

// Statfs reports filesystem-level numbers for the namespace at name.
func (c *Client) Statfs(name string) (wire.Statfs, error) {
	if err := checkPath(name); err != nil {
		return wire.Statfs{}, &fs.PathError{Op: "statfs", Path: name, Err: err}
	}
	if !c.Interposing() {
		return wire.Statfs{}, errNotConnected
	}
	abs, err := c.resolve(name)
	if err != nil {
		return wire.Statfs{}, err
	}
	req := &wire.StatfsReq{}
	req.Path = abs
	resp, err := c.call(req)
	if err != nil {
		return wire.Statfs{}, err
	}
	r, ok := resp.(*wire.StatfsResp)
	if !ok {
		return wire.Statfs{}, errUnexpectedResponse(resp)
	}
	return r.Statfs, nil
}

// Processes returns the daemon's registered-process table.
func (c *Client) Processes() ([]wire.ProcessInfo, error) {
	resp, err := c.call(&wire.StateProcessesReq{})
	if err != nil {
		return nil, err
	}
	r, ok := resp.(*wire.StateProcessesResp)
	if !ok {
		return nil, errUnexpectedResponse(resp)
	}
	return r.Processes, nil
}

// DaemonStats returns the daemon's counter snapshot.
func (c *Client) DaemonStats() (wire.StatsInfo, error) {
	resp, err := c.call(&wire.StateStatsReq{})
	if err != nil {
		return wire.StatsInfo{}, err
	}
	r, ok := resp.(*wire.StateStatsResp)
	if !ok {
		return wire.StatsInfo{}, errUnexpectedResponse(resp)
	}
	return r.Stats, nil
}

// FilesystemState returns the sorted walk of the bound branch.
func (c *Client) FilesystemState() ([]wire.FsEntry, error) {
	resp, err := c.call(&wire.StateFilesystemReq{})
	if err != nil {
		return nil, err
	}
	r, ok := resp.(*wire.StateFilesystemResp)
	if !ok {
		return nil, errUnexpectedResponse(resp)
	}
	return r.Entries, nil
}
