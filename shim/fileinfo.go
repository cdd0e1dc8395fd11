package shim

import (
	"io/fs"
	"syscall"
	"time"

	"github.com/branchfs/branchfs/wire"
)

// fileInfo adapts a wire stat to fs.FileInfo.
type fileInfo struct {
	name string
	stat wire.Stat
}

func newFileInfo(name string, st wire.Stat) fs.FileInfo {
	return &fileInfo{name: name, stat: st}
}

func (fi *fileInfo) Name() string { return fi.name }
func (fi *fileInfo) Size() int64  { return fi.stat.Size }
func (fi *fileInfo) Mode() fs.FileMode {
	mode := fs.FileMode(fi.stat.Mode & 0o777)
	switch fi.stat.Mode & uint32(syscall.S_IFMT) {
	case uint32(syscall.S_IFDIR):
		mode |= fs.ModeDir
	case uint32(syscall.S_IFLNK):
		mode |= fs.ModeSymlink
	case uint32(syscall.S_IFIFO):
		mode |= fs.ModeNamedPipe
	case uint32(syscall.S_IFSOCK):
		mode |= fs.ModeSocket
	case uint32(syscall.S_IFCHR):
		mode |= fs.ModeDevice | fs.ModeCharDevice
	case uint32(syscall.S_IFBLK):
		mode |= fs.ModeDevice
	}
	return mode
}
func (fi *fileInfo) ModTime() time.Time {
	return time.Unix(fi.stat.Mtime.Sec, fi.stat.Mtime.Nsec)
}
func (fi *fileInfo) IsDir() bool { return fi.Mode().IsDir() }
func (fi *fileInfo) Sys() any    { return &fi.stat }
