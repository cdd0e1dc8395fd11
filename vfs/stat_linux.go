//go:build linux

package vfs

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/branchfs/branchfs/wire"
)

// statFromInfo lifts the kernel stat of the real backing file into the
// wire shape. Dev and Ino are overwritten by the caller with virtual
// values.
func statFromInfo(fi os.FileInfo) wire.Stat {
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return statFromMode(fi)
	}
	return wire.Stat{
		Mode:    st.Mode,
		Nlink:   uint32(st.Nlink),
		UID:     st.Uid,
		GID:     st.Gid,
		Size:    st.Size,
		Blksize: int64(st.Blksize),
		Blocks:  st.Blocks,
		Atime:   wire.TimeSpec{Sec: st.Atim.Sec, Nsec: st.Atim.Nsec},
		Mtime:   wire.TimeSpec{Sec: st.Mtim.Sec, Nsec: st.Mtim.Nsec},
		Ctime:   wire.TimeSpec{Sec: st.Ctim.Sec, Nsec: st.Ctim.Nsec},
	}
}

// fillStorefs copies the backing store's block counters into out so
// free-space queries reflect the real device.
func fillStorefs(root string, out *wire.Statfs) {
	var st unix.Statfs_t
	if err := unix.Statfs(root, &st); err != nil {
		return
	}
	out.Bsize = int64(st.Bsize)
	out.Blocks = st.Blocks
	out.Bfree = st.Bfree
	out.Bavail = st.Bavail
	out.Ffree = st.Ffree
}
