package branchfs

import (
	"log/slog"

	"github.com/branchfs/branchfs/archive"
	"github.com/branchfs/branchfs/backstore"
)

type options struct {
	store             backstore.Backstore
	storeRoot         string
	ephemeralVolumeMB int64
	lowerDir          string
	socketPath        string
	logger            *Logger
	metricsCollector  MetricsCollector
	archiveSink       archive.Sink
	archiveOptions    []func(*archive.Options)
}

// Option configures BranchFS construction.
type Option func(*options)

// WithBackstore supplies a pre-built backstore. The caller retains
// ownership: Close does not close a store injected this way.
//
// When no store option is given, a mock backstore in a temporary
// directory is used.
func WithBackstore(store backstore.Backstore) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithStoreRoot serves branches and snapshots from an existing
// directory through the real backstore. Native CoW is used when the
// directory sits on a filesystem that supports it; otherwise snapshots
// and reflinks degrade to byte copies.
func WithStoreRoot(root string) Option {
	return func(o *options) {
		o.storeRoot = root
	}
}

// WithEphemeralVolume provisions a memory-backed CoW volume of sizeMB
// mebibytes, owned by the store and torn down on Close. Takes
// precedence over WithStoreRoot.
func WithEphemeralVolume(sizeMB int64) Option {
	return func(o *options) {
		o.ephemeralVolumeMB = sizeMB
	}
}

// WithLowerDir sets the read-only base tree every branch is layered
// over. Empty means branches start from an empty namespace.
func WithLowerDir(dir string) Option {
	return func(o *options) {
		o.lowerDir = dir
	}
}

// WithSocketPath sets the unix socket the daemon listens on.
func WithSocketPath(path string) Option {
	return func(o *options) {
		o.socketPath = path
	}
}

// WithArchiveSink enables snapshot export/import through the given
// sink. Archive options (codec, parallelism) may be supplied the same
// way they would be to archive.New.
//
// Example:
//
//	sink, _ := archive.NewLocalSink("/var/backups/branchfs")
//	fs, _ := branchfs.Open(ctx, branchfs.WithArchiveSink(sink, func(o *archive.Options) {
//	    o.Codec = archive.LZ4{}
//	}))
func WithArchiveSink(sink archive.Sink, optFns ...func(*archive.Options)) Option {
	return func(o *options) {
		o.archiveSink = sink
		o.archiveOptions = optFns
	}
}

// WithMetricsCollector configures a metrics collector for monitoring
// operations. Pass nil to disable metrics collection.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.metricsCollector == nil {
		o.metricsCollector = NoopMetricsCollector{}
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	return o
}
