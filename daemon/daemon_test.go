package daemon

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/branchfs/branchfs/backstore"
	"github.com/branchfs/branchfs/core"
	"github.com/branchfs/branchfs/vfs"
	"github.com/branchfs/branchfs/wire"
)

func startDaemon(t *testing.T, lowerFiles map[string]string) (*Daemon, *vfs.Engine, string) {
	t.Helper()

	lower := t.TempDir()
	for p, content := range lowerFiles {
		full := filepath.Join(lower, p)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}

	store, err := backstore.NewMock()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	engine, err := vfs.New(store, func(o *vfs.Options) { o.LowerDir = lower })
	require.NoError(t, err)

	sock := filepath.Join(t.TempDir(), "branchfsd.sock")
	d := New(engine, func(o *Options) { o.SocketPath = sock })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.ListenAndServe(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("daemon did not stop")
		}
	})

	require.Eventually(t, func() bool {
		_, err := os.Stat(sock)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	return d, engine, sock
}

func dialAndShake(t *testing.T, sock string, pid int64) *net.UnixConn {
	t.Helper()
	raw, err := net.Dial("unix", sock)
	require.NoError(t, err)
	conn := raw.(*net.UnixConn)
	t.Cleanup(func() { conn.Close() })

	hs := &wire.Handshake{
		Version:  wire.ProtocolVersion,
		PID:      pid,
		ExePath:  "/usr/bin/test-client",
		ExeName:  "test-client",
		ShimName: "test",
		Decision: wire.AllowDecision{Allowed: true, Rule: "*"},
	}
	require.NoError(t, wire.WriteFrame(conn, wire.EncodeHandshake(hs)))
	frame, err := wire.ReadFrame(conn)
	require.NoError(t, err)
	ack, err := wire.DecodeHandshakeAck(frame)
	require.NoError(t, err)
	require.True(t, ack.OK)
	require.Equal(t, Version, ack.DaemonVersion)
	return conn
}

func roundTrip(t *testing.T, conn *net.UnixConn, req wire.Request) wire.Response {
	t.Helper()
	require.NoError(t, wire.WriteFrame(conn, wire.EncodeRequest(req)))
	frame, err := wire.ReadFrame(conn)
	require.NoError(t, err)
	resp, err := wire.DecodeResponse(frame)
	require.NoError(t, err)
	return resp
}

func TestDaemon_HandshakeThenDispatch(t *testing.T) {
	_, engine, sock := startDaemon(t, map[string]string{"hello.txt": "hi"})
	conn := dialAndShake(t, sock, 4242)

	// The handshake registered the process.
	_, ok := engine.Process(4242)
	require.True(t, ok)

	q := &wire.StatReq{}
	q.Path = "/hello.txt"
	resp := roundTrip(t, conn, q)
	st, ok := resp.(*wire.StatResp)
	require.True(t, ok)
	require.Equal(t, int64(2), st.Stat.Size)
}

func TestDaemon_RefusesDisallowedClient(t *testing.T) {
	_, _, sock := startDaemon(t, nil)

	raw, err := net.Dial("unix", sock)
	require.NoError(t, err)
	defer raw.Close()

	hs := &wire.Handshake{
		Version:  wire.ProtocolVersion,
		PID:      1,
		ExeName:  "intruder",
		Decision: wire.AllowDecision{Allowed: false},
	}
	require.NoError(t, wire.WriteFrame(raw, wire.EncodeHandshake(hs)))
	frame, err := wire.ReadFrame(raw)
	require.NoError(t, err)
	ack, err := wire.DecodeHandshakeAck(frame)
	require.NoError(t, err)
	require.False(t, ack.OK)
	require.Contains(t, ack.Message, "allow list")
}

func TestDaemon_UnknownTagKeepsConnection(t *testing.T) {
	_, _, sock := startDaemon(t, map[string]string{"f.txt": "x"})
	conn := dialAndShake(t, sock, 77)

	// A tag outside the operation set gets a typed protocol error.
	bad := []byte{wire.ProtocolVersion, 0xEE}
	require.NoError(t, wire.WriteFrame(conn, bad))
	frame, err := wire.ReadFrame(conn)
	require.NoError(t, err)
	resp, err := wire.DecodeResponse(frame)
	require.NoError(t, err)
	errResp, ok := resp.(*wire.ErrorResp)
	require.True(t, ok)
	require.Equal(t, wire.CategoryProtocol, errResp.Category)

	// The connection survives and keeps serving.
	q := &wire.StatReq{}
	q.Path = "/f.txt"
	resp = roundTrip(t, conn, q)
	_, ok = resp.(*wire.StatResp)
	require.True(t, ok)
}

func TestDaemon_ErrorCategories(t *testing.T) {
	_, _, sock := startDaemon(t, nil)
	conn := dialAndShake(t, sock, 88)

	q := &wire.StatReq{}
	q.Path = "/missing"
	resp := roundTrip(t, conn, q)
	errResp, ok := resp.(*wire.ErrorResp)
	require.True(t, ok)
	require.Equal(t, wire.CategoryPath, errResp.Category)

	resp = roundTrip(t, conn, &wire.PathOpReq{Verb: "bogus", Path: "/x"})
	errResp, ok = resp.(*wire.ErrorResp)
	require.True(t, ok)
	require.Equal(t, wire.CategoryProtocol, errResp.Category)
}

func TestDaemon_MutationsAndDirStream(t *testing.T) {
	_, engine, sock := startDaemon(t, map[string]string{"dir/a.txt": "a"})
	conn := dialAndShake(t, sock, 99)

	resp := roundTrip(t, conn, &wire.PathOpReq{Verb: wire.PathOpMkdir, Path: "/dir/sub", Mode: 0o755})
	_, ok := resp.(*wire.OKResp)
	require.True(t, ok)

	resp = roundTrip(t, conn, &wire.DirOpenReq{Path: "/dir"})
	open, ok := resp.(*wire.HandleResp)
	require.True(t, ok)

	var names []string
	for {
		resp = roundTrip(t, conn, &wire.DirReadReq{Handle: open.Handle})
		r, ok := resp.(*wire.DirReadResp)
		require.True(t, ok)
		if r.End {
			break
		}
		names = append(names, r.Entry.Name)
	}
	require.Equal(t, []string{"a.txt", "sub"}, names)

	resp = roundTrip(t, conn, &wire.DirCloseReq{Handle: open.Handle})
	_, ok = resp.(*wire.OKResp)
	require.True(t, ok)

	// Mutations are visible to the engine directly.
	proc, _ := engine.Process(99)
	_, err := engine.Getattr(proc, "/dir/sub", true)
	require.NoError(t, err)
}

func TestDaemon_DirfdAndCwdTracking(t *testing.T) {
	_, engine, sock := startDaemon(t, map[string]string{"work/data.txt": "d"})
	conn := dialAndShake(t, sock, 111)

	req := &wire.SetCwdReq{}
	req.Path = "/work"
	resp := roundTrip(t, conn, req)
	_, ok := resp.(*wire.OKResp)
	require.True(t, ok)

	resp = roundTrip(t, conn, &wire.ResolvePathReq{Dirfd: wire.AtFdCwd, Path: "data.txt"})
	r, ok := resp.(*wire.ResolvePathResp)
	require.True(t, ok)
	require.Equal(t, "/work/data.txt", r.Path)

	resp = roundTrip(t, conn, &wire.DirfdOpenDirReq{Fd: 7, Path: "/work"})
	_, ok = resp.(*wire.OKResp)
	require.True(t, ok)
	resp = roundTrip(t, conn, &wire.DupFdReq{OldFd: 7, NewFd: 8})
	_, ok = resp.(*wire.OKResp)
	require.True(t, ok)
	resp = roundTrip(t, conn, &wire.ResolvePathReq{Dirfd: 8, Path: "data.txt"})
	r, ok = resp.(*wire.ResolvePathResp)
	require.True(t, ok)
	require.Equal(t, "/work/data.txt", r.Path)

	resp = roundTrip(t, conn, &wire.CloseFdReq{Fd: 8})
	_, ok = resp.(*wire.OKResp)
	require.True(t, ok)
	resp = roundTrip(t, conn, &wire.ResolvePathReq{Dirfd: 8, Path: "x"})
	errResp, ok := resp.(*wire.ErrorResp)
	require.True(t, ok)
	require.Equal(t, wire.CategoryPath, errResp.Category)

	proc, _ := engine.Process(111)
	require.Equal(t, "/work", proc.Cwd())
	require.Equal(t, 1, proc.DirfdCount())
}

func TestDaemon_Introspection(t *testing.T) {
	_, _, sock := startDaemon(t, map[string]string{"seen.txt": "1"})
	conn := dialAndShake(t, sock, 222)

	q := &wire.StatReq{}
	q.Path = "/seen.txt"
	roundTrip(t, conn, q)
	q2 := &wire.StatReq{}
	q2.Path = "/missing"
	roundTrip(t, conn, q2)

	resp := roundTrip(t, conn, &wire.StateProcessesReq{})
	procs, ok := resp.(*wire.StateProcessesResp)
	require.True(t, ok)
	require.Len(t, procs.Processes, 1)
	require.Equal(t, int64(222), procs.Processes[0].PID)

	resp = roundTrip(t, conn, &wire.StateStatsReq{})
	stats, ok := resp.(*wire.StateStatsResp)
	require.True(t, ok)
	require.Equal(t, uint64(1), stats.Stats.Connections)
	require.GreaterOrEqual(t, stats.Stats.Requests, uint64(3))
	require.Equal(t, uint64(1), stats.Stats.Errors)

	// Connections is a live gauge: a second client raises it and its
	// disconnect lowers it again.
	conn2 := dialAndShake(t, sock, 223)
	resp = roundTrip(t, conn, &wire.StateStatsReq{})
	stats, ok = resp.(*wire.StateStatsResp)
	require.True(t, ok)
	require.Equal(t, uint64(2), stats.Stats.Connections)

	conn2.Close()
	require.Eventually(t, func() bool {
		r := roundTrip(t, conn, &wire.StateStatsReq{})
		st, ok := r.(*wire.StateStatsResp)
		return ok && st.Stats.Connections == 1
	}, 5*time.Second, 10*time.Millisecond)

	resp = roundTrip(t, conn, &wire.StateFilesystemReq{})
	fsState, ok := resp.(*wire.StateFilesystemResp)
	require.True(t, ok)
	require.Equal(t, "/", fsState.Entries[0].Path)
	found := false
	for _, ent := range fsState.Entries {
		if ent.Path == "/seen.txt" {
			found = true
			require.Equal(t, wire.KindFile, ent.Kind)
		}
	}
	require.True(t, found)
}

func TestDaemon_ReapsHandlesOnDisconnect(t *testing.T) {
	_, engine, sock := startDaemon(t, map[string]string{"d/x": "x"})
	conn := dialAndShake(t, sock, 333)

	resp := roundTrip(t, conn, &wire.DirOpenReq{Path: "/d"})
	_, ok := resp.(*wire.HandleResp)
	require.True(t, ok)
	require.Equal(t, uint64(1), engine.OpenHandleCount())

	conn.Close()
	require.Eventually(t, func() bool {
		return engine.OpenHandleCount() == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestDaemon_StatsOpBreakdown(t *testing.T) {
	d, _, sock := startDaemon(t, map[string]string{"f": "1"})
	conn := dialAndShake(t, sock, 444)

	q := &wire.StatReq{}
	q.Path = "/f"
	roundTrip(t, conn, q)
	roundTrip(t, conn, q)
	roundTrip(t, conn, &wire.StateStatsReq{})

	counts := d.stats.opCounts()
	require.Equal(t, uint64(2), counts[wire.TagStat])
	require.Equal(t, uint64(1), counts[wire.TagStateStats])
}

func TestDaemon_HandleOpsOverWire(t *testing.T) {
	_, engine, sock := startDaemon(t, nil)
	conn := dialAndShake(t, sock, 555)

	proc, _ := engine.Process(555)
	h, err := engine.Open(proc, "/t.bin", uint32(os.O_RDWR|os.O_CREATE), 0o644)
	require.NoError(t, err)
	_, err = h.File().WriteString("0123456789")
	require.NoError(t, err)

	resp := roundTrip(t, conn, &wire.FtruncateReq{Handle: uint64(h.ID), Size: 4})
	_, ok := resp.(*wire.OKResp)
	require.True(t, ok)

	fq := &wire.FstatReq{}
	fq.Handle = uint64(h.ID)
	resp = roundTrip(t, conn, fq)
	st, ok := resp.(*wire.StatResp)
	require.True(t, ok)
	require.Equal(t, int64(4), st.Stat.Size)

	require.ErrorIs(t, func() error {
		_, _, err := engine.ReadDir(h.ID)
		return err
	}(), core.ErrInvalidArgument)
}
