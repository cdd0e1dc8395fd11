//go:build linux

package shim

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"os"

	"golang.org/x/sys/unix"

	"github.com/branchfs/branchfs/wire"
)

func features() []string { return []string{"fd-pass"} }

// recvFrame reads one length-prefixed response frame together with any
// SCM_RIGHTS descriptor attached to it. The descriptor arrives on the
// same message as the first bytes of the frame; the remainder is read
// as a plain stream.
func recvFrame(conn *net.UnixConn) ([]byte, *os.File, error) {
	buf := make([]byte, 64<<10)
	oob := make([]byte, 128)
	n, oobn, _, _, err := conn.ReadMsgUnix(buf, oob)
	if err != nil {
		return nil, nil, err
	}

	var file *os.File
	if oobn > 0 {
		if file, err = parseRights(oob[:oobn]); err != nil {
			return nil, nil, err
		}
	}

	if n < 4 {
		if _, err := io.ReadFull(conn, buf[n:4]); err != nil {
			closeFile(file)
			return nil, nil, err
		}
		n = 4
	}
	size := binary.LittleEndian.Uint32(buf[:4])
	if size > wire.MaxFrameSize {
		closeFile(file)
		return nil, nil, fmt.Errorf("shim: oversized frame (%d bytes)", size)
	}
	frame := make([]byte, size)
	copied := copy(frame, buf[4:n])
	if copied < int(size) {
		if _, err := io.ReadFull(conn, frame[copied:]); err != nil {
			closeFile(file)
			return nil, nil, err
		}
	}
	return frame, file, nil
}

func parseRights(oob []byte) (*os.File, error) {
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil, err
	}
	for _, msg := range msgs {
		fds, err := unix.ParseUnixRights(&msg)
		if err != nil || len(fds) == 0 {
			continue
		}
		unix.CloseOnExec(fds[0])
		// Never more than one descriptor per response.
		for _, extra := range fds[1:] {
			unix.Close(extra)
		}
		return os.NewFile(uintptr(fds[0]), "branchfs"), nil
	}
	return nil, nil
}

func closeFile(f *os.File) {
	if f != nil {
		f.Close()
	}
}
