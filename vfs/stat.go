package vfs

import (
	"io/fs"
	"os"
	"syscall"

	"github.com/branchfs/branchfs/wire"
)

// statFromMode is the portable fallback: it rebuilds the stat shape
// from os.FileInfo alone.
func statFromMode(fi os.FileInfo) wire.Stat {
	mode := uint32(fi.Mode().Perm())
	switch {
	case fi.IsDir():
		mode |= uint32(syscall.S_IFDIR)
	case fi.Mode()&fs.ModeSymlink != 0:
		mode |= uint32(syscall.S_IFLNK)
	default:
		mode |= uint32(syscall.S_IFREG)
	}
	ts := wire.TimeSpec{Sec: fi.ModTime().Unix(), Nsec: int64(fi.ModTime().Nanosecond())}
	return wire.Stat{
		Mode:    mode,
		Nlink:   1,
		Size:    fi.Size(),
		Blksize: 4096,
		Blocks:  (fi.Size() + 511) / 512,
		Atime:   ts,
		Mtime:   ts,
		Ctime:   ts,
	}
}
