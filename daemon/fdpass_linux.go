//go:build linux

package daemon

import (
	"encoding/binary"
	"net"
	"os"

	"golang.org/x/sys/unix"

	"github.com/branchfs/branchfs/wire"
)

const fdPassingSupported = true

// writeResponse frames and sends one response payload. When fd is
// non-nil the descriptor rides along as SCM_RIGHTS ancillary data on
// the same message, so the client receives frame and descriptor
// atomically.
func (d *Daemon) writeResponse(conn net.Conn, payload []byte, fd *os.File) error {
	if fd == nil {
		return wire.WriteFrame(conn, payload)
	}
	defer fd.Close()
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return wire.WriteFrame(conn, payload)
	}
	buf := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[4:], payload)
	oob := unix.UnixRights(int(fd.Fd()))
	_, _, err := uc.WriteMsgUnix(buf, oob, nil)
	return err
}
