package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var errShortBuffer = errors.New("wire: short buffer")

func appendUvarint(buf []byte, v uint64) []byte {
	return binary.AppendUvarint(buf, v)
}

func appendVarint(buf []byte, v int64) []byte {
	return binary.AppendVarint(buf, v)
}

func appendString(buf []byte, s string) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

func appendBool(buf []byte, b bool) []byte {
	if b {
		return append(buf, 1)
	}
	return append(buf, 0)
}

// reader consumes the append* encoding above from a byte slice.
type reader struct {
	data []byte
}

func (r *reader) uvarint() (uint64, error) {
	v, n := binary.Uvarint(r.data)
	if n <= 0 {
		return 0, errShortBuffer
	}
	r.data = r.data[n:]
	return v, nil
}

func (r *reader) varint() (int64, error) {
	v, n := binary.Varint(r.data)
	if n <= 0 {
		return 0, errShortBuffer
	}
	r.data = r.data[n:]
	return v, nil
}

func (r *reader) string_() (string, error) {
	l, err := r.uvarint()
	if err != nil {
		return "", err
	}
	if uint64(len(r.data)) < l {
		return "", errShortBuffer
	}
	s := string(r.data[:l])
	r.data = r.data[l:]
	return s, nil
}

func (r *reader) bool_() (bool, error) {
	if len(r.data) < 1 {
		return false, errShortBuffer
	}
	b := r.data[0]
	r.data = r.data[1:]
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("wire: invalid bool byte %d", b)
	}
}

func (r *reader) byte_() (byte, error) {
	if len(r.data) < 1 {
		return 0, errShortBuffer
	}
	b := r.data[0]
	r.data = r.data[1:]
	return b, nil
}
