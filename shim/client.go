package shim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/branchfs/branchfs/wire"
)

// ShimName and ShimVersion identify this client in handshakes.
const (
	ShimName    = "branchfs-go"
	ShimVersion = "1.0.0"
)

// State is the client's attach state. It is decided once, at Attach.
type State int

const (
	// StateUninitialized means Attach has not run yet.
	StateUninitialized State = iota
	// StateDisabled means interception was not requested.
	StateDisabled
	// StateSkipped means the executable did not match the allow list.
	StateSkipped
	// StateFailed means attach was attempted and failed; every call
	// runs native.
	StateFailed
	// StateConnected means calls are forwarded to the daemon.
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisabled:
		return "disabled"
	case StateSkipped:
		return "skipped"
	case StateFailed:
		return "failed"
	case StateConnected:
		return "connected"
	default:
		return "uninitialized"
	}
}

var errNotConnected = errors.New("shim: not connected")

// Options configure a Client beyond its environment-derived Config.
type Options struct {
	Config      *Config
	Logger      *slog.Logger
	DialTimeout time.Duration
	AckTimeout  time.Duration
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() Options {
	return Options{
		DialTimeout: 3 * time.Second,
		AckTimeout:  3 * time.Second,
	}
}

// Client is an explicit interposition context. Construct one with
// NewClient and Attach it, or use Default for a process-wide instance.
// All methods are safe for concurrent use; requests are serialized on
// the connection.
type Client struct {
	opts   Options
	cfg    Config
	logger *slog.Logger

	mu    sync.Mutex
	state State
	conn  *net.UnixConn
}

// NewClient builds a detached client. Attach decides its state.
func NewClient(optFns ...func(o *Options)) *Client {
	opts := DefaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	var cfg Config
	if opts.Config != nil {
		cfg = *opts.Config
	} else {
		cfg = ConfigFromEnv()
	}
	logger := opts.Logger
	if logger == nil {
		logger = newEnvLogger(cfg.LogLevel)
	}
	return &Client{opts: opts, cfg: cfg, logger: logger, state: StateUninitialized}
}

func newEnvLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return slog.New(slog.DiscardHandler)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// Attach connects to the daemon according to the configuration. It is
// a no-op when interception is off or the executable is not allowed.
// Allow-list denies and connection failures are hard errors only under
// FailFast; otherwise the client degrades to native passthrough.
func (c *Client) Attach(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateUninitialized {
		return nil
	}

	if !c.cfg.Intercept {
		c.state = StateDisabled
		return nil
	}

	exePath, err := os.Executable()
	if err != nil {
		exePath = os.Args[0]
	}
	decision := matchAllowList(c.cfg.Allow, exePath)
	if !decision.Allowed {
		c.state = StateSkipped
		c.logger.Debug("not on allow list", "exe", exePath)
		if c.cfg.FailFast {
			return fmt.Errorf("shim: %s not on allow list", exePath)
		}
		return nil
	}

	if err := c.connect(ctx, exePath, decision); err != nil {
		c.state = StateFailed
		c.logger.Warn("attach failed", "error", err)
		if c.cfg.FailFast {
			return fmt.Errorf("shim: attach: %w", err)
		}
		return nil
	}
	c.state = StateConnected
	c.logger.Debug("attached", "socket", c.cfg.SocketPath)
	return nil
}

func (c *Client) connect(ctx context.Context, exePath string, decision wire.AllowDecision) error {
	dialer := net.Dialer{Timeout: c.opts.DialTimeout}
	raw, err := dialer.DialContext(ctx, "unix", c.cfg.SocketPath)
	if err != nil {
		return err
	}
	conn, ok := raw.(*net.UnixConn)
	if !ok {
		raw.Close()
		return errors.New("not a unix connection")
	}

	hs := &wire.Handshake{
		Version:     wire.ProtocolVersion,
		PID:         int64(os.Getpid()),
		PPID:        int64(os.Getppid()),
		UID:         uint32(os.Getuid()),
		GID:         uint32(os.Getgid()),
		ExePath:     exePath,
		ExeName:     filepath.Base(exePath),
		ShimName:    ShimName,
		ShimVersion: ShimVersion,
		Features:    features(),
		Decision:    decision,
		UnixNano:    time.Now().UnixNano(),
	}
	if err := wire.WriteFrame(conn, wire.EncodeHandshake(hs)); err != nil {
		conn.Close()
		return err
	}

	if c.opts.AckTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(c.opts.AckTimeout))
	}
	frame, err := wire.ReadFrame(conn)
	if err != nil {
		conn.Close()
		return err
	}
	_ = conn.SetReadDeadline(time.Time{})
	ack, err := wire.DecodeHandshakeAck(frame)
	if err != nil {
		conn.Close()
		return err
	}
	if !ack.OK {
		conn.Close()
		return fmt.Errorf("daemon refused handshake: %s", ack.Message)
	}

	c.conn = conn
	return nil
}

// State reports the attach decision.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Interposing reports whether calls are being forwarded.
func (c *Client) Interposing() bool { return c.State() == StateConnected }

// Close detaches from the daemon. Subsequent calls run native.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	if c.state == StateConnected {
		c.state = StateFailed
	}
	return err
}

// roundTrip sends one request and reads its response, including any
// descriptor riding along as ancillary data. The connection carries one
// request at a time.
func (c *Client) roundTrip(req wire.Request) (wire.Response, *os.File, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected || c.conn == nil {
		return nil, nil, errNotConnected
	}
	if err := wire.WriteFrame(c.conn, wire.EncodeRequest(req)); err != nil {
		return nil, nil, err
	}
	frame, fd, err := recvFrame(c.conn)
	if err != nil {
		return nil, nil, err
	}
	resp, err := wire.DecodeResponse(frame)
	if err != nil {
		if fd != nil {
			fd.Close()
		}
		return nil, nil, err
	}
	if errResp, ok := resp.(*wire.ErrorResp); ok {
		if fd != nil {
			fd.Close()
		}
		return nil, nil, errResp
	}
	return resp, fd, nil
}

// call is roundTrip for operations that never carry a descriptor.
func (c *Client) call(req wire.Request) (wire.Response, error) {
	resp, fd, err := c.roundTrip(req)
	if fd != nil {
		fd.Close()
	}
	return resp, err
}
