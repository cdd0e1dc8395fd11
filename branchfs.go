package branchfs

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/branchfs/branchfs/archive"
	"github.com/branchfs/branchfs/backstore"
	"github.com/branchfs/branchfs/core"
	"github.com/branchfs/branchfs/daemon"
	"github.com/branchfs/branchfs/vfs"
)

// BranchFS bundles a backstore, the namespace engine, and a daemon into
// one managed instance. Construct it with Open, serve clients with
// Serve, and release everything with Close.
type BranchFS struct {
	store     backstore.Backstore
	ownsStore bool
	engine    *vfs.Engine
	daemon    *daemon.Daemon
	archiver  *archive.Archiver
	logger    *Logger
	metrics   MetricsCollector

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Open constructs a BranchFS from functional options.
//
// The backstore is chosen by the store options: an injected store
// (WithBackstore), the real store (WithStoreRoot, WithEphemeralVolume),
// or a mock in a temporary directory when none are given. Stores the
// facade creates itself are closed by Close; injected stores are not.
func Open(ctx context.Context, optFns ...Option) (*BranchFS, error) {
	opts := applyOptions(optFns)

	store, ownsStore, err := openStore(ctx, opts)
	if err != nil {
		return nil, translateError(err)
	}

	engine, err := vfs.New(store, func(o *vfs.Options) {
		o.LowerDir = opts.lowerDir
		o.Logger = opts.logger.Logger
	})
	if err != nil {
		if ownsStore {
			_ = store.Close()
		}
		return nil, translateError(err)
	}

	d := daemon.New(engine, func(o *daemon.Options) {
		o.SocketPath = opts.socketPath
		o.Logger = opts.logger.Logger
	})

	fs := &BranchFS{
		store:     store,
		ownsStore: ownsStore,
		engine:    engine,
		daemon:    d,
		logger:    opts.logger,
		metrics:   opts.metricsCollector,
	}
	if opts.archiveSink != nil {
		archiveOptFns := append([]func(*archive.Options){
			func(o *archive.Options) {
				o.Logger = opts.logger.Logger
			},
		}, opts.archiveOptions...)
		fs.archiver = archive.New(opts.archiveSink, archiveOptFns...)
	}
	return fs, nil
}

func openStore(ctx context.Context, opts options) (backstore.Backstore, bool, error) {
	if opts.store != nil {
		return opts.store, false, nil
	}
	if opts.storeRoot != "" || opts.ephemeralVolumeMB > 0 {
		store, err := backstore.NewReal(ctx, func(o *backstore.Options) {
			o.Root = opts.storeRoot
			o.EphemeralVolumeMB = opts.ephemeralVolumeMB
			o.Logger = opts.logger.Logger
		})
		if err != nil {
			return nil, false, err
		}
		return store, true, nil
	}
	store, err := backstore.NewMock()
	if err != nil {
		return nil, false, err
	}
	return store, true, nil
}

// Engine exposes the namespace engine for direct (in-process) use.
func (fs *BranchFS) Engine() *vfs.Engine { return fs.engine }

// Store exposes the underlying backstore.
func (fs *BranchFS) Store() backstore.Backstore { return fs.store }

// Daemon exposes the wire-protocol server.
func (fs *BranchFS) Daemon() *daemon.Daemon { return fs.daemon }

// Serve binds the configured unix socket and serves clients until ctx
// is cancelled.
func (fs *BranchFS) Serve(ctx context.Context) error {
	if fs.closed.Load() {
		return ErrClosed
	}
	return fs.daemon.ListenAndServe(ctx)
}

// ServeListener serves clients on an already-bound listener until ctx
// is cancelled. The daemon owns ln and closes it on return.
func (fs *BranchFS) ServeListener(ctx context.Context, ln net.Listener) error {
	if fs.closed.Load() {
		return ErrClosed
	}
	return fs.daemon.Serve(ctx, ln)
}

// Snapshot records a point-in-time image of the default branch.
func (fs *BranchFS) Snapshot(name string) (core.SnapshotID, error) {
	return fs.SnapshotBranch(fs.engine.DefaultBranch(), name)
}

// SnapshotBranch records a point-in-time image of one branch.
func (fs *BranchFS) SnapshotBranch(branch core.BranchID, name string) (core.SnapshotID, error) {
	if fs.closed.Load() {
		return 0, ErrClosed
	}
	start := time.Now()
	id, err := fs.engine.SnapshotCreate(branch, name)
	err = translateError(err)
	fs.metrics.RecordSnapshot(time.Since(start), err)
	fs.logger.LogSnapshot(context.Background(), id, name, err)
	return id, err
}

// BranchFromSnapshot forks a new branch off a recorded snapshot.
func (fs *BranchFS) BranchFromSnapshot(snap core.SnapshotID, name string) (core.BranchID, error) {
	if fs.closed.Load() {
		return 0, ErrClosed
	}
	start := time.Now()
	id, err := fs.engine.BranchCreateFromSnapshot(snap, name)
	err = translateError(err)
	fs.metrics.RecordBranch(time.Since(start), err)
	fs.logger.LogBranch(context.Background(), id, snap, err)
	return id, err
}

// DeleteSnapshot removes a snapshot and its materialized tree.
func (fs *BranchFS) DeleteSnapshot(id core.SnapshotID) error {
	if fs.closed.Load() {
		return ErrClosed
	}
	return translateError(fs.engine.SnapshotDelete(id))
}

// Snapshots lists every recorded snapshot.
func (fs *BranchFS) Snapshots() []*vfs.Snapshot { return fs.engine.Snapshots() }

// Branches lists every live branch.
func (fs *BranchFS) Branches() []*vfs.Branch { return fs.engine.Branches() }

// ArchiveSnapshot exports one snapshot to the configured sink and
// returns the object key it was stored under.
func (fs *BranchFS) ArchiveSnapshot(ctx context.Context, id core.SnapshotID) (string, error) {
	if fs.closed.Load() {
		return "", ErrClosed
	}
	if fs.archiver == nil {
		return "", ErrNoArchiveSink
	}
	start := time.Now()
	snap, err := fs.engine.Snapshot(id)
	if err != nil {
		err = translateError(err)
		fs.metrics.RecordArchive(time.Since(start), err)
		fs.logger.LogArchive(ctx, id, "", err)
		return "", err
	}
	key, err := fs.archiver.Archive(ctx, id, snap.TreePath)
	err = translateError(err)
	fs.metrics.RecordArchive(time.Since(start), err)
	fs.logger.LogArchive(ctx, id, key, err)
	return key, err
}

// ArchiveAllSnapshots exports every recorded snapshot, uploading in
// parallel, and returns the object key for each.
func (fs *BranchFS) ArchiveAllSnapshots(ctx context.Context) (map[core.SnapshotID]string, error) {
	if fs.closed.Load() {
		return nil, ErrClosed
	}
	if fs.archiver == nil {
		return nil, ErrNoArchiveSink
	}
	trees := make(map[core.SnapshotID]string)
	for _, snap := range fs.engine.Snapshots() {
		trees[snap.ID] = snap.TreePath
	}
	keys, err := fs.archiver.ArchiveAll(ctx, trees)
	return keys, translateError(err)
}

// RestoreSnapshot downloads an archived snapshot and unpacks its tree
// into destDir.
func (fs *BranchFS) RestoreSnapshot(ctx context.Context, key, destDir string) error {
	if fs.closed.Load() {
		return ErrClosed
	}
	if fs.archiver == nil {
		return ErrNoArchiveSink
	}
	start := time.Now()
	err := translateError(fs.archiver.Restore(ctx, key, destDir))
	fs.metrics.RecordRestore(time.Since(start), err)
	fs.logger.LogRestore(ctx, key, destDir, err)
	return err
}

// ListArchives lists the object keys of every archived snapshot in the
// configured sink.
func (fs *BranchFS) ListArchives(ctx context.Context) ([]string, error) {
	if fs.closed.Load() {
		return nil, ErrClosed
	}
	if fs.archiver == nil {
		return nil, ErrNoArchiveSink
	}
	keys, err := fs.archiver.List(ctx)
	return keys, translateError(err)
}
