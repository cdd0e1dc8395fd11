// Package branchfs provides a transparent snapshot/branch filesystem
// service for Go.
//
// Branchfs layers writable branches over a shared read-only lower tree
// with copy-on-write semantics, and serves that namespace to client
// processes over a unix-socket protocol:
//
//   - Backstore: CoW storage with native snapshot/reflink support
//     (btrfs) and a portable mock for tests
//   - Engine: branches, point-in-time snapshots, per-process namespace
//     state (cwd, dirfd table, branch binding)
//   - Daemon: handshake-then-dispatch wire protocol with SCM_RIGHTS
//     descriptor passing
//   - Shim: explicit client library with allow-list gating and
//     per-call native fallback
//   - Archive: snapshot export/import as compressed tar streams to a
//     local directory, MinIO, or S3
//
// # Quick Start
//
// Serve a namespace from a mock backstore:
//
//	ctx := context.Background()
//	fs, err := branchfs.Open(ctx,
//	    branchfs.WithLowerDir("/srv/base"),
//	    branchfs.WithSocketPath("/run/branchfs/branchfsd.sock"),
//	)
//	if err != nil {
//	    panic(err)
//	}
//	defer fs.Close()
//
//	go fs.Serve(ctx)
//
// Take a snapshot of the default branch and fork a new branch from it:
//
//	snap, err := fs.Snapshot("before-upgrade")
//	branch, err := fs.BranchFromSnapshot(snap, "experiment")
//
// Clients attach with the shim package:
//
//	client := shim.NewClient(func(o *shim.Options) {
//	    o.Config = &shim.Config{Intercept: true, SocketPath: "/run/branchfs/branchfsd.sock"}
//	})
//	client.Attach(ctx)
//	f, err := client.Open("/etc/app.conf", os.O_RDONLY, 0)
//
// # Backstores
//
// The default backstore is the mock, which emulates snapshots and
// reflinks with byte copies and works on any filesystem. For real CoW
// semantics, point the store at a btrfs directory or let it provision
// an ephemeral loop-device volume:
//
//	fs, err := branchfs.Open(ctx,
//	    branchfs.WithStoreRoot("/mnt/btrfs/branchfs"),
//	)
//
//	fs, err := branchfs.Open(ctx,
//	    branchfs.WithEphemeralVolume(512), // 512 MiB loop-device volume
//	)
//
// # Snapshot Archives
//
// With an archive sink configured, snapshots can be exported as
// compressed tar streams and restored later:
//
//	sink, _ := archive.NewLocalSink("/var/backups/branchfs")
//	fs, _ := branchfs.Open(ctx, branchfs.WithArchiveSink(sink))
//
//	key, err := fs.ArchiveSnapshot(ctx, snap)
//	err = fs.RestoreSnapshot(ctx, key, "/tmp/restored")
package branchfs
