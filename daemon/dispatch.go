package daemon

import (
	"fmt"
	"os"
	"syscall"

	"github.com/branchfs/branchfs/core"
	"github.com/branchfs/branchfs/vfs"
	"github.com/branchfs/branchfs/wire"
)

// dispatch routes one decoded request to the engine. fdCapable is true
// when the transport can carry a descriptor as ancillary data; it only
// affects fd_open.
func (d *Daemon) dispatch(proc *vfs.Process, req wire.Request, fdCapable bool) (wire.Response, *os.File, error) {
	switch q := req.(type) {
	case *wire.FdOpenReq:
		h, err := d.engine.Open(proc, q.Path, q.Flags, q.Mode)
		if err != nil {
			return nil, nil, err
		}
		if !fdCapable {
			return wire.NewFdOpenResp(wire.TagFdOpen, uint64(h.ID), false), nil, nil
		}
		dupFd, err := syscall.Dup(int(h.File().Fd()))
		if err != nil {
			_ = d.engine.CloseHandle(h.ID)
			return nil, nil, core.FromOSError("open", err)
		}
		return wire.NewFdOpenResp(wire.TagFdOpen, uint64(h.ID), true), os.NewFile(uintptr(dupFd), q.Path), nil

	case *wire.DirOpenReq:
		h, err := d.engine.OpenDir(proc, q.Path)
		if err != nil {
			return nil, nil, err
		}
		return wire.NewHandleResp(wire.TagDirOpen, uint64(h.ID)), nil, nil

	case *wire.DirReadReq:
		ent, end, err := d.engine.ReadDir(core.HandleID(q.Handle))
		if err != nil {
			return nil, nil, err
		}
		return &wire.DirReadResp{End: end, Entry: ent}, nil, nil

	case *wire.DirCloseReq:
		if err := d.engine.CloseHandle(core.HandleID(q.Handle)); err != nil {
			return nil, nil, err
		}
		return wire.NewOKResp(wire.TagDirClose), nil, nil

	case *wire.ReadlinkReq:
		target, err := d.engine.Readlink(proc, q.Path)
		if err != nil {
			return nil, nil, err
		}
		return &wire.ReadlinkResp{Target: target}, nil, nil

	case *wire.LinkatReq:
		if err := d.engine.Link(proc, q.OldPath, q.NewPath); err != nil {
			return nil, nil, err
		}
		return wire.NewOKResp(wire.TagLinkat), nil, nil

	case *wire.SymlinkatReq:
		if err := d.engine.Symlink(proc, q.Target, q.NewPath); err != nil {
			return nil, nil, err
		}
		return wire.NewOKResp(wire.TagSymlinkat), nil, nil

	case *wire.FdDupReq:
		dup, err := d.engine.Dup(core.HandleID(q.Handle))
		if err != nil {
			return nil, nil, err
		}
		return wire.NewHandleResp(wire.TagFdDup, uint64(dup.ID)), nil, nil

	case *wire.PathOpReq:
		if err := d.engine.PathOp(proc, q.Verb, q.Path, q.Path2, q.Mode); err != nil {
			return nil, nil, err
		}
		return wire.NewOKResp(wire.TagPathOp), nil, nil

	case *wire.StatReq:
		st, err := d.engine.Getattr(proc, q.Path, true)
		if err != nil {
			return nil, nil, err
		}
		return wire.NewStatResp(wire.TagStat, st), nil, nil

	case *wire.LstatReq:
		st, err := d.engine.Getattr(proc, q.Path, false)
		if err != nil {
			return nil, nil, err
		}
		return wire.NewStatResp(wire.TagLstat, st), nil, nil

	case *wire.FstatReq:
		st, err := d.engine.GetattrHandle(core.HandleID(q.Handle))
		if err != nil {
			return nil, nil, err
		}
		return wire.NewStatResp(wire.TagFstat, st), nil, nil

	case *wire.FstatatReq:
		st, err := d.engine.Getattr(proc, q.Path, !q.NoFollow)
		if err != nil {
			return nil, nil, err
		}
		return wire.NewStatResp(wire.TagFstatat, st), nil, nil

	case *wire.ChmodReq:
		if err := d.engine.Chmod(proc, q.Path, q.Mode); err != nil {
			return nil, nil, err
		}
		return wire.NewOKResp(wire.TagChmod), nil, nil

	case *wire.FchmodReq:
		if err := d.engine.ChmodHandle(core.HandleID(q.Handle), q.Mode); err != nil {
			return nil, nil, err
		}
		return wire.NewOKResp(wire.TagFchmod), nil, nil

	case *wire.FchmodatReq:
		if err := d.engine.Chmod(proc, q.Path, q.Mode); err != nil {
			return nil, nil, err
		}
		return wire.NewOKResp(wire.TagFchmodat), nil, nil

	case *wire.ChownReq:
		if err := d.engine.Chown(proc, q.Path, int64(q.UID), int64(q.GID), true); err != nil {
			return nil, nil, err
		}
		return wire.NewOKResp(wire.TagChown), nil, nil

	case *wire.LchownReq:
		if err := d.engine.Chown(proc, q.Path, int64(q.UID), int64(q.GID), false); err != nil {
			return nil, nil, err
		}
		return wire.NewOKResp(wire.TagLchown), nil, nil

	case *wire.FchownReq:
		if err := d.engine.ChownHandle(core.HandleID(q.Handle), int64(q.UID), int64(q.GID)); err != nil {
			return nil, nil, err
		}
		return wire.NewOKResp(wire.TagFchown), nil, nil

	case *wire.FchownatReq:
		if err := d.engine.Chown(proc, q.Path, int64(q.UID), int64(q.GID), !q.NoFollow); err != nil {
			return nil, nil, err
		}
		return wire.NewOKResp(wire.TagFchownat), nil, nil

	case *wire.TruncateReq:
		if err := d.engine.Truncate(proc, q.Path, q.Size); err != nil {
			return nil, nil, err
		}
		return wire.NewOKResp(wire.TagTruncate), nil, nil

	case *wire.FtruncateReq:
		if err := d.engine.TruncateHandle(core.HandleID(q.Handle), q.Size); err != nil {
			return nil, nil, err
		}
		return wire.NewOKResp(wire.TagFtruncate), nil, nil

	case *wire.UtimesReq:
		if err := d.engine.Utimens(proc, q.Path, q.Atime, q.Mtime); err != nil {
			return nil, nil, err
		}
		return wire.NewOKResp(wire.TagUtimes), nil, nil

	case *wire.FutimesReq:
		if err := d.engine.UtimensHandle(core.HandleID(q.Handle), q.Atime, q.Mtime); err != nil {
			return nil, nil, err
		}
		return wire.NewOKResp(wire.TagFutimes), nil, nil

	case *wire.UtimensatReq:
		if err := d.engine.Utimens(proc, q.Path, q.Atime, q.Mtime); err != nil {
			return nil, nil, err
		}
		return wire.NewOKResp(wire.TagUtimensat), nil, nil

	case *wire.FutimensReq:
		if err := d.engine.UtimensHandle(core.HandleID(q.Handle), q.Atime, q.Mtime); err != nil {
			return nil, nil, err
		}
		return wire.NewOKResp(wire.TagFutimens), nil, nil

	case *wire.StatfsReq:
		st, err := d.engine.Statfs(proc, q.Path)
		if err != nil {
			return nil, nil, err
		}
		return wire.NewStatfsResp(wire.TagStatfs, st), nil, nil

	case *wire.FstatfsReq:
		st, err := d.engine.StatfsHandle(core.HandleID(q.Handle))
		if err != nil {
			return nil, nil, err
		}
		return wire.NewStatfsResp(wire.TagFstatfs, st), nil, nil

	case *wire.DirfdOpenDirReq:
		if err := proc.TrackDirfd(q.Fd, q.Path); err != nil {
			return nil, nil, err
		}
		return wire.NewOKResp(wire.TagDirfdOpenDir), nil, nil

	case *wire.CloseFdReq:
		// Client descriptor numbers are a separate namespace from
		// daemon handles; this only touches the dirfd table. Closing
		// an untracked number is not an error.
		proc.CloseFd(q.Fd)
		return wire.NewOKResp(wire.TagCloseFd), nil, nil

	case *wire.DupFdReq:
		proc.DupFd(q.OldFd, q.NewFd)
		return wire.NewOKResp(wire.TagDupFd), nil, nil

	case *wire.SetCwdReq:
		if err := proc.SetCwd(q.Path); err != nil {
			return nil, nil, err
		}
		return wire.NewOKResp(wire.TagSetCwd), nil, nil

	case *wire.ResolvePathReq:
		resolved, err := proc.ResolvePath(q.Dirfd, q.Path)
		if err != nil {
			return nil, nil, err
		}
		return &wire.ResolvePathResp{Path: resolved}, nil, nil

	case *wire.StateProcessesReq:
		procs := d.engine.Processes()
		infos := make([]wire.ProcessInfo, 0, len(procs))
		for _, p := range procs {
			infos = append(infos, wire.ProcessInfo{
				PID:    p.PID,
				Branch: uint64(p.Branch()),
				Cwd:    p.Cwd(),
				Dirfds: uint64(p.DirfdCount()),
			})
		}
		return &wire.StateProcessesResp{Processes: infos}, nil, nil

	case *wire.StateStatsReq:
		info := d.stats.snapshot()
		info.OpenHandles = d.engine.OpenHandleCount()
		info.HandlesIssued = d.engine.IssuedHandleCount()
		return &wire.StateStatsResp{Stats: info}, nil, nil

	case *wire.StateFilesystemReq:
		entries, err := d.engine.Walk(proc.Branch())
		if err != nil {
			return nil, nil, err
		}
		return &wire.StateFilesystemResp{Entries: entries}, nil, nil

	default:
		return nil, nil, fmt.Errorf("operation %s: %w", req.Tag(), core.ErrUnsupported)
	}
}
