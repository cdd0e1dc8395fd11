//go:build !linux

package vfs

import (
	"os"

	"github.com/branchfs/branchfs/wire"
)

func statFromInfo(fi os.FileInfo) wire.Stat {
	return statFromMode(fi)
}

func fillStorefs(root string, out *wire.Statfs) {}
