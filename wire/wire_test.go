package wire

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("some payload")
	require.NoError(t, WriteFrame(&buf, payload))

	// 4-byte little-endian prefix.
	require.Equal(t, byte(len(payload)), buf.Bytes()[0])
	require.Equal(t, []byte{0, 0, 0}, buf.Bytes()[1:4])

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestReadFrame_Truncated(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("full message")))
	truncated := buf.Bytes()[:buf.Len()-3]

	_, err := ReadFrame(bytes.NewReader(truncated))
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestRequestRoundTrip(t *testing.T) {
	reqs := []Request{
		&FdOpenReq{Path: "/etc/passwd", Flags: 0x241, Mode: 0o644},
		&PathOpReq{Verb: PathOpRename, Path: "/a", Path2: "/b"},
		&FstatatReq{Path: "/dir/file", NoFollow: true},
		&UtimensatReq{Path: "/f", Atime: TimeSpec{Sec: 1, Nsec: 2}, Mtime: TimeSpec{Sec: 3, Nsec: 4}, NoFollow: true},
		&ResolvePathReq{Dirfd: -100, Path: "rel/path"},
		&StateFilesystemReq{},
	}
	for _, req := range reqs {
		frame := EncodeRequest(req)
		decoded, err := DecodeRequest(frame)
		require.NoError(t, err, "op %s", req.Tag())
		require.Equal(t, req, decoded)
	}
}

func TestResponseRoundTrip(t *testing.T) {
	st := Stat{
		Dev: 7, Ino: 42, Mode: 0o100644, Nlink: 2, UID: 1000, GID: 1000,
		Size: 4096, Blksize: 512, Blocks: 8,
		Atime: TimeSpec{Sec: 1700000000, Nsec: 999999999},
		Mtime: TimeSpec{Sec: 1700000001, Nsec: 1},
		Ctime: TimeSpec{Sec: 1700000002, Nsec: 0},
	}
	resps := []Response{
		NewFdOpenResp(TagFdOpen, 9, true),
		NewStatResp(TagLstat, st),
		&DirReadResp{Entry: DirEntry{Name: "x.txt", Kind: KindFile, Ino: 3}},
		&DirReadResp{End: true},
		&StateProcessesResp{Processes: []ProcessInfo{{PID: 123, Branch: 2, Cwd: "/work", Dirfds: 1}}},
		&StateFilesystemResp{Entries: []FsEntry{
			{Path: "/", Kind: KindDir},
			{Path: "/link", Kind: KindSymlink, Target: "/elsewhere"},
		}},
	}
	for _, resp := range resps {
		frame := EncodeResponse(resp)
		decoded, err := DecodeResponse(frame)
		require.NoError(t, err, "op %s", resp.Tag())
		require.Equal(t, resp, decoded)
	}
}

func TestDecodeRequest_UnknownTag(t *testing.T) {
	buf := appendUvarint(nil, ProtocolVersion)
	buf = append(buf, 0xEE)

	_, err := DecodeRequest(buf)
	var unknown *UnknownTagError
	require.ErrorAs(t, err, &unknown)
	require.Equal(t, Tag(0xEE), unknown.Tag)
}

func TestDecodeRequest_FutureVersionRejected(t *testing.T) {
	buf := appendUvarint(nil, ProtocolVersion+1)
	buf = append(buf, byte(TagStat))
	_, err := DecodeRequest(buf)
	require.Error(t, err)
}

func TestExpect(t *testing.T) {
	frame := EncodeResponse(&ReadlinkResp{Target: "/real"})
	resp, err := Expect[*ReadlinkResp](frame, TagReadlink)
	require.NoError(t, err)
	require.Equal(t, "/real", resp.Target)

	// A daemon error envelope surfaces as the error itself.
	frame = EncodeResponse(&ErrorResp{Category: CategoryProtocol, Message: "unsupported operation"})
	_, err = Expect[*ReadlinkResp](frame, TagReadlink)
	require.True(t, IsDaemonError(err))

	// A mismatched success response is a decode failure, not a panic.
	frame = EncodeResponse(NewOKResp(TagChmod))
	_, err = Expect[*ReadlinkResp](frame, TagReadlink)
	require.Error(t, err)
}

func TestHandshakeRoundTrip(t *testing.T) {
	h := &Handshake{
		Version: ProtocolVersion,
		PID:     4242, PPID: 1, UID: 1000, GID: 100,
		ExePath: "/usr/bin/sh", ExeName: "sh",
		ShimName: "branchfs-shim", ShimVersion: "0.3.0",
		Features: []string{"fd-pass", "dirfd-table"},
		Decision: AllowDecision{Allowed: true, Rule: "sh"},
		UnixNano: 1700000000123456789,
	}
	decoded, err := DecodeHandshake(EncodeHandshake(h))
	require.NoError(t, err)
	require.Equal(t, h, decoded)

	ack := &HandshakeAck{OK: true, DaemonVersion: "0.3.0"}
	gotAck, err := DecodeHandshakeAck(EncodeHandshakeAck(ack))
	require.NoError(t, err)
	require.Equal(t, ack, gotAck)
}
