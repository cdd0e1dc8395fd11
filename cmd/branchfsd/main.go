// Command branchfsd serves a branchfs namespace over a unix socket.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/branchfs/branchfs"
	"github.com/branchfs/branchfs/archive"
	archives3 "github.com/branchfs/branchfs/archive/s3"
	"github.com/branchfs/branchfs/shim"
)

type config struct {
	socketPath   string
	storeRoot    string
	ephemeralMB  int64
	lowerDir     string
	archiveDir   string
	s3Bucket     string
	s3Prefix     string
	archiveCodec string
	logLevel     string
	logJSON      bool
}

func main() {
	var cfg config
	flag.StringVar(&cfg.socketPath, "socket", shim.DefaultSocketPath, "unix socket to listen on")
	flag.StringVar(&cfg.storeRoot, "store-root", "", "serve branches from this directory (real backstore)")
	flag.Int64Var(&cfg.ephemeralMB, "ephemeral-mb", 0, "provision a memory-backed CoW volume of this many MiB")
	flag.StringVar(&cfg.lowerDir, "lower", "", "read-only base tree branches are layered over")
	flag.StringVar(&cfg.archiveDir, "archive-dir", "", "local directory snapshots are archived to")
	flag.StringVar(&cfg.s3Bucket, "archive-s3-bucket", "", "S3 bucket snapshots are archived to")
	flag.StringVar(&cfg.s3Prefix, "archive-s3-prefix", "branchfs/", "key prefix inside the S3 bucket")
	flag.StringVar(&cfg.archiveCodec, "archive-codec", "zstd", "archive compression: zstd, lz4, or none")
	flag.StringVar(&cfg.logLevel, "log-level", "info", "log level: debug, info, warn, or error")
	flag.BoolVar(&cfg.logJSON, "log-json", false, "emit JSON-formatted logs")
	flag.Parse()

	if err := run(cfg); err != nil {
		fmt.Fprintln(os.Stderr, "branchfsd:", err)
		os.Exit(1)
	}
}

func run(cfg config) error {
	level, err := parseLevel(cfg.logLevel)
	if err != nil {
		return err
	}
	logger := branchfs.NewTextLogger(level)
	if cfg.logJSON {
		logger = branchfs.NewJSONLogger(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	optFns := []branchfs.Option{
		branchfs.WithSocketPath(cfg.socketPath),
		branchfs.WithLowerDir(cfg.lowerDir),
		branchfs.WithLogger(logger),
	}
	if cfg.storeRoot != "" {
		optFns = append(optFns, branchfs.WithStoreRoot(cfg.storeRoot))
	}
	if cfg.ephemeralMB > 0 {
		optFns = append(optFns, branchfs.WithEphemeralVolume(cfg.ephemeralMB))
	}

	sink, err := buildSink(ctx, cfg)
	if err != nil {
		return err
	}
	if sink != nil {
		codec, ok := archive.ByName(cfg.archiveCodec)
		if !ok {
			return fmt.Errorf("unknown archive codec %q", cfg.archiveCodec)
		}
		optFns = append(optFns, branchfs.WithArchiveSink(sink, func(o *archive.Options) {
			o.Codec = codec
		}))
	}

	fs, err := branchfs.Open(ctx, optFns...)
	if err != nil {
		return err
	}
	defer fs.Close()

	logger.Info("branchfsd starting", "socket", cfg.socketPath, "store", fs.Store().FSType())
	if err := fs.Serve(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	logger.Info("branchfsd stopped")
	return nil
}

func buildSink(ctx context.Context, cfg config) (archive.Sink, error) {
	switch {
	case cfg.archiveDir != "" && cfg.s3Bucket != "":
		return nil, fmt.Errorf("archive-dir and archive-s3-bucket are mutually exclusive")
	case cfg.archiveDir != "":
		sink, err := archive.NewLocalSink(cfg.archiveDir)
		if err != nil {
			return nil, fmt.Errorf("archive dir: %w", err)
		}
		return sink, nil
	case cfg.s3Bucket != "":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("aws config: %w", err)
		}
		return archives3.NewSink(s3.NewFromConfig(awsCfg), cfg.s3Bucket, cfg.s3Prefix), nil
	default:
		return nil, nil
	}
}

func parseLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}
