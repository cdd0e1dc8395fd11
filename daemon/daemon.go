package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/branchfs/branchfs/vfs"
	"github.com/branchfs/branchfs/wire"
)

// Version is reported to clients in the handshake acknowledgement.
const Version = "1.0.0"

// Options configure a Daemon.
type Options struct {
	// SocketPath is where ListenAndServe binds its unix socket.
	SocketPath string

	// Logger receives connection and request diagnostics. Defaults to
	// a discarding logger.
	Logger *slog.Logger
}

// Daemon serves the virtual-filesystem protocol over unix sockets. One
// goroutine runs per connection; the engine does its own locking.
type Daemon struct {
	engine *vfs.Engine
	logger *slog.Logger
	opts   Options
	stats  *stats
}

// New creates a Daemon over engine.
func New(engine *vfs.Engine, optFns ...func(o *Options)) *Daemon {
	var opts Options
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Daemon{
		engine: engine,
		logger: opts.Logger,
		opts:   opts,
		stats:  newStats(),
	}
}

// ListenAndServe binds the configured unix socket and serves until ctx
// is cancelled. A stale socket file from a previous run is removed
// first.
func (d *Daemon) ListenAndServe(ctx context.Context) error {
	if d.opts.SocketPath == "" {
		return errors.New("daemon: no socket path configured")
	}
	_ = os.Remove(d.opts.SocketPath)
	ln, err := net.Listen("unix", d.opts.SocketPath)
	if err != nil {
		return fmt.Errorf("daemon: listen: %w", err)
	}
	return d.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled. It owns ln
// and closes it on return.
func (d *Daemon) Serve(ctx context.Context, ln net.Listener) error {
	d.logger.Info("serving", "addr", ln.Addr().String())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		return ln.Close()
	})
	g.Go(func() error {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("daemon: accept: %w", err)
			}
			d.stats.connOpened()
			g.Go(func() error {
				defer d.stats.connClosed()
				d.serveConn(conn)
				return nil
			})
		}
	})

	err := g.Wait()
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// serveConn runs one connection: handshake first, then the request
// loop. Protocol-level failures answer with a typed error; only
// transport failures end the connection.
func (d *Daemon) serveConn(conn net.Conn) {
	defer conn.Close()

	proc, ok := d.handshake(conn)
	if !ok {
		return
	}
	logger := d.logger.With("pid", proc.PID)
	defer d.engine.CloseProcessHandles(proc.PID)

	_, isUnix := conn.(*net.UnixConn)
	fdCapable := isUnix && fdPassingSupported

	for {
		frame, err := wire.ReadFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				logger.Debug("connection lost", "error", err)
			}
			return
		}
		d.stats.request(len(frame))

		resp, fd := d.handle(proc, frame, fdCapable)
		if resp.Tag() == wire.TagError {
			d.stats.failure()
		}
		out := wire.EncodeResponse(resp)
		d.stats.responded(len(out))
		if err := d.writeResponse(conn, out, fd); err != nil {
			logger.Debug("write failed", "error", err)
			return
		}
	}
}

// handshake reads and answers the mandatory first message. It returns
// the registered process, or ok=false when the connection must close.
func (d *Daemon) handshake(conn net.Conn) (*vfs.Process, bool) {
	frame, err := wire.ReadFrame(conn)
	if err != nil {
		return nil, false
	}
	hs, err := wire.DecodeHandshake(frame)
	if err != nil {
		d.logger.Warn("bad handshake", "error", err)
		ack := &wire.HandshakeAck{DaemonVersion: Version, Message: err.Error()}
		_ = wire.WriteFrame(conn, wire.EncodeHandshakeAck(ack))
		return nil, false
	}
	if !hs.Decision.Allowed {
		ack := &wire.HandshakeAck{DaemonVersion: Version, Message: "client not on allow list"}
		_ = wire.WriteFrame(conn, wire.EncodeHandshakeAck(ack))
		return nil, false
	}

	proc := d.engine.RegisterProcess(hs.PID, hs.ExePath)
	d.stats.processSeen()
	d.logger.Info("client attached",
		"pid", hs.PID,
		"exe", hs.ExeName,
		"shim", hs.ShimName+"/"+hs.ShimVersion,
		"rule", hs.Decision.Rule,
	)

	ack := &wire.HandshakeAck{OK: true, DaemonVersion: Version}
	if err := wire.WriteFrame(conn, wire.EncodeHandshakeAck(ack)); err != nil {
		return nil, false
	}
	return proc, true
}

// handle decodes one request frame and dispatches it. It never returns
// a nil response; a file is returned only for fd_open on transports
// that can carry it.
func (d *Daemon) handle(proc *vfs.Process, frame []byte, fdCapable bool) (wire.Response, *os.File) {
	req, err := wire.DecodeRequest(frame)
	if err != nil {
		var unknown *wire.UnknownTagError
		if errors.As(err, &unknown) {
			return &wire.ErrorResp{
				Category: wire.CategoryProtocol,
				Message:  unknown.Error(),
			}, nil
		}
		return &wire.ErrorResp{
			Category: wire.CategoryProtocol,
			Message:  err.Error(),
		}, nil
	}
	d.stats.op(req.Tag())
	resp, fd, err := d.dispatch(proc, req, fdCapable)
	if err != nil {
		return toErrorResp(req.Tag(), err), nil
	}
	return resp, fd
}
