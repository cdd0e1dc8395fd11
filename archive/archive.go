package archive

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/branchfs/branchfs/core"
)

// Options configure an Archiver.
type Options struct {
	// Codec selects the compression. Defaults to zstd.
	Codec Codec

	// Parallelism bounds concurrent snapshot uploads in ArchiveAll.
	Parallelism int

	// Logger receives per-snapshot progress. Defaults to a discarding
	// logger.
	Logger *slog.Logger
}

// Archiver ships materialized snapshot trees to a Sink as compressed
// tar streams and restores them.
type Archiver struct {
	sink        Sink
	codec       Codec
	parallelism int
	logger      *slog.Logger
}

// New creates an Archiver over sink.
func New(sink Sink, optFns ...func(o *Options)) *Archiver {
	opts := Options{Codec: Default, Parallelism: 4}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Codec == nil {
		opts.Codec = Default
	}
	if opts.Parallelism < 1 {
		opts.Parallelism = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Archiver{
		sink:        sink,
		codec:       opts.Codec,
		parallelism: opts.Parallelism,
		logger:      opts.Logger,
	}
}

// Key returns the sink key for a snapshot. The codec name is embedded
// so restores pick the right decompressor without side metadata.
func (a *Archiver) Key(id core.SnapshotID) string {
	return fmt.Sprintf("snapshots/%s.tar.%s", id, a.codec.Name())
}

// codecForKey recovers the codec from a key produced by Key.
func codecForKey(key string) (Codec, error) {
	idx := strings.LastIndex(key, ".")
	if idx < 0 {
		return nil, fmt.Errorf("archive: key %q has no codec suffix", key)
	}
	c, ok := ByName(key[idx+1:])
	if !ok {
		return nil, fmt.Errorf("archive: unknown codec %q in key", key[idx+1:])
	}
	return c, nil
}

// Archive packs the snapshot tree at treePath and streams it to the
// sink. The tar stream is compressed on the fly; nothing is staged on
// local disk.
func (a *Archiver) Archive(ctx context.Context, id core.SnapshotID, treePath string) (string, error) {
	key := a.Key(id)

	pr, pw := io.Pipe()
	go func() {
		cw, err := a.codec.Compress(pw)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if err := packTree(ctx, treePath, cw); err != nil {
			cw.Close()
			pw.CloseWithError(err)
			return
		}
		if err := cw.Close(); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.Close()
	}()

	if err := a.sink.Put(ctx, key, pr); err != nil {
		pr.CloseWithError(err)
		return "", fmt.Errorf("archive: upload %s: %w", key, err)
	}
	a.logger.Info("snapshot archived", "snapshot", id.String(), "key", key)
	return key, nil
}

// ArchiveAll archives several snapshots concurrently, bounded by the
// configured parallelism. The first failure cancels the rest.
func (a *Archiver) ArchiveAll(ctx context.Context, trees map[core.SnapshotID]string) (map[core.SnapshotID]string, error) {
	keys := make(map[core.SnapshotID]string, len(trees))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(a.parallelism)
	for id, tree := range trees {
		g.Go(func() error {
			key, err := a.Archive(ctx, id, tree)
			if err != nil {
				return err
			}
			mu.Lock()
			keys[id] = key
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return keys, nil
}

// Restore downloads the archive at key and unpacks it into destDir.
func (a *Archiver) Restore(ctx context.Context, key, destDir string) error {
	codec, err := codecForKey(key)
	if err != nil {
		return err
	}
	rc, err := a.sink.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("archive: fetch %s: %w", key, err)
	}
	defer rc.Close()

	dr, err := codec.Decompress(rc)
	if err != nil {
		return err
	}
	defer dr.Close()

	if err := unpackTree(ctx, dr, destDir); err != nil {
		return fmt.Errorf("archive: unpack %s: %w", key, err)
	}
	a.logger.Info("snapshot restored", "key", key, "dest", destDir)
	return nil
}

// Delete removes the archive at key from the sink.
func (a *Archiver) Delete(ctx context.Context, key string) error {
	return a.sink.Delete(ctx, key)
}

// List returns the archived snapshot keys, sorted.
func (a *Archiver) List(ctx context.Context) ([]string, error) {
	return a.sink.List(ctx, "snapshots/")
}
