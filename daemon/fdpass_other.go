//go:build !linux

package daemon

import (
	"net"
	"os"

	"github.com/branchfs/branchfs/wire"
)

const fdPassingSupported = false

func (d *Daemon) writeResponse(conn net.Conn, payload []byte, fd *os.File) error {
	if fd != nil {
		fd.Close()
	}
	return wire.WriteFrame(conn, payload)
}
