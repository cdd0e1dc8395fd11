package wire

import "fmt"

// AllowDecision is the allow-list evidence captured once per process at
// attach time. It never changes for the lifetime of the process.
type AllowDecision struct {
	Allowed bool
	// Rule is the allow-list entry that matched, "*" for the wildcard,
	// or empty when the list itself was empty.
	Rule string
}

// Handshake is the first message on every connection. No Request is
// answered before one is accepted.
type Handshake struct {
	Version     uint64
	PID         int64
	PPID        int64
	UID         uint32
	GID         uint32
	ExePath     string
	ExeName     string
	ShimName    string
	ShimVersion string
	Features    []string
	Decision    AllowDecision
	UnixNano    int64
}

// EncodeHandshake frames the handshake payload.
func EncodeHandshake(h *Handshake) []byte {
	buf := make([]byte, 0, 128)
	buf = appendUvarint(buf, h.Version)
	buf = appendVarint(buf, h.PID)
	buf = appendVarint(buf, h.PPID)
	buf = appendUvarint(buf, uint64(h.UID))
	buf = appendUvarint(buf, uint64(h.GID))
	buf = appendString(buf, h.ExePath)
	buf = appendString(buf, h.ExeName)
	buf = appendString(buf, h.ShimName)
	buf = appendString(buf, h.ShimVersion)
	buf = appendUvarint(buf, uint64(len(h.Features)))
	for _, f := range h.Features {
		buf = appendString(buf, f)
	}
	buf = appendBool(buf, h.Decision.Allowed)
	buf = appendString(buf, h.Decision.Rule)
	return appendVarint(buf, h.UnixNano)
}

// DecodeHandshake parses a handshake frame.
func DecodeHandshake(frame []byte) (*Handshake, error) {
	r := &reader{data: frame}
	h := &Handshake{}
	var err error
	if h.Version, err = r.uvarint(); err != nil {
		return nil, err
	}
	if h.Version > ProtocolVersion {
		return nil, fmt.Errorf("wire: unsupported handshake version %d", h.Version)
	}
	if h.PID, err = r.varint(); err != nil {
		return nil, err
	}
	if h.PPID, err = r.varint(); err != nil {
		return nil, err
	}
	u, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	h.UID = uint32(u)
	if u, err = r.uvarint(); err != nil {
		return nil, err
	}
	h.GID = uint32(u)
	if h.ExePath, err = r.string_(); err != nil {
		return nil, err
	}
	if h.ExeName, err = r.string_(); err != nil {
		return nil, err
	}
	if h.ShimName, err = r.string_(); err != nil {
		return nil, err
	}
	if h.ShimVersion, err = r.string_(); err != nil {
		return nil, err
	}
	count, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	h.Features = make([]string, 0, count)
	for range count {
		f, err := r.string_()
		if err != nil {
			return nil, err
		}
		h.Features = append(h.Features, f)
	}
	if h.Decision.Allowed, err = r.bool_(); err != nil {
		return nil, err
	}
	if h.Decision.Rule, err = r.string_(); err != nil {
		return nil, err
	}
	if h.UnixNano, err = r.varint(); err != nil {
		return nil, err
	}
	return h, nil
}

// HandshakeAck acknowledges, or refuses, a handshake.
type HandshakeAck struct {
	OK            bool
	DaemonVersion string
	Message       string
}

// EncodeHandshakeAck frames the acknowledgement payload.
func EncodeHandshakeAck(a *HandshakeAck) []byte {
	buf := make([]byte, 0, 32)
	buf = appendUvarint(buf, ProtocolVersion)
	buf = appendBool(buf, a.OK)
	buf = appendString(buf, a.DaemonVersion)
	return appendString(buf, a.Message)
}

// DecodeHandshakeAck parses an acknowledgement frame.
func DecodeHandshakeAck(frame []byte) (*HandshakeAck, error) {
	r := &reader{data: frame}
	version, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	if version > ProtocolVersion {
		return nil, fmt.Errorf("wire: unsupported ack version %d", version)
	}
	a := &HandshakeAck{}
	if a.OK, err = r.bool_(); err != nil {
		return nil, err
	}
	if a.DaemonVersion, err = r.string_(); err != nil {
		return nil, err
	}
	if a.Message, err = r.string_(); err != nil {
		return nil, err
	}
	return a, nil
}
