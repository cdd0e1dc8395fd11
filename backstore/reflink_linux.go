//go:build linux

package backstore

import (
	"os"

	"golang.org/x/sys/unix"
)

// reflinkFd clones the whole of src into dst using FICLONE. Both files
// must live on the same CoW-capable filesystem.
func reflinkFd(dst, src *os.File) error {
	return unix.IoctlFileClone(int(dst.Fd()), int(src.Fd()))
}

// probeFSType returns the filesystem type name backing path.
func probeFSType(path string) string {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return "unknown"
	}
	switch st.Type {
	case unix.BTRFS_SUPER_MAGIC:
		return "btrfs"
	case unix.XFS_SUPER_MAGIC:
		return "xfs"
	case unix.EXT4_SUPER_MAGIC:
		return "ext4"
	case unix.TMPFS_MAGIC:
		return "tmpfs"
	case unix.OVERLAYFS_SUPER_MAGIC:
		return "overlayfs"
	default:
		return "unknown"
	}
}
