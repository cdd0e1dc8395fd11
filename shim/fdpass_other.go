//go:build !linux

package shim

import (
	"net"
	"os"

	"github.com/branchfs/branchfs/wire"
)

func features() []string { return nil }

func recvFrame(conn *net.UnixConn) ([]byte, *os.File, error) {
	frame, err := wire.ReadFrame(conn)
	return frame, nil, err
}
