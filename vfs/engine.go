package vfs

import (
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/branchfs/branchfs/backstore"
	"github.com/branchfs/branchfs/core"
)

// Options configure an Engine.
type Options struct {
	// LowerDir is the read-only base tree every branch is layered over.
	// Empty means branches start from an empty namespace.
	LowerDir string

	// Logger receives engine diagnostics. Defaults to a discarding
	// logger.
	Logger *slog.Logger
}

// Snapshot is a recorded point-in-time image of one branch.
type Snapshot struct {
	ID       core.SnapshotID
	Name     string
	Branch   core.BranchID
	TreePath string

	whiteouts map[string]bool
}

// Engine is the namespace/branch service the daemon drives. It layers
// writable branch trees over a shared read-only lower tree, registers
// processes, and issues handles. All shared tables are guarded by one
// short-critical-section lock; file I/O happens outside it.
type Engine struct {
	store    backstore.Backstore
	lowerDir string
	logger   *slog.Logger
	inos     *inoAllocator

	mu           sync.Mutex
	branches     map[core.BranchID]*Branch
	snapshots    map[core.SnapshotID]*Snapshot
	procs        map[int64]*Process
	handles      map[core.HandleID]*Handle
	pathInos     map[string]uint64
	nextBranch   uint64
	nextSnapshot uint64
	nextHandle   uint64
	issued       uint64

	defaultBranch core.BranchID
}

// New creates an Engine on top of store with a default branch named
// "main".
func New(store backstore.Backstore, optFns ...func(o *Options)) (*Engine, error) {
	var opts Options
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.LowerDir != "" {
		abs, err := filepath.Abs(opts.LowerDir)
		if err != nil {
			return nil, core.FromOSError("engine", err)
		}
		opts.LowerDir = abs
	}

	e := &Engine{
		store:        store,
		lowerDir:     opts.LowerDir,
		logger:       opts.Logger,
		inos:         newInoAllocator(),
		branches:     make(map[core.BranchID]*Branch),
		snapshots:    make(map[core.SnapshotID]*Snapshot),
		procs:        make(map[int64]*Process),
		handles:      make(map[core.HandleID]*Handle),
		pathInos:     make(map[string]uint64),
		nextBranch:   1,
		nextSnapshot: 1,
		nextHandle:   1,
	}
	main, err := e.createBranch("main")
	if err != nil {
		return nil, err
	}
	e.defaultBranch = main.ID
	return e, nil
}

func (e *Engine) createBranch(name string) (*Branch, error) {
	e.mu.Lock()
	id := core.BranchID(e.nextBranch)
	e.nextBranch++
	e.mu.Unlock()

	upper := filepath.Join(e.store.RootPath(), "branches", id.String())
	b, err := newBranch(id, name, upper, e.lowerDir)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.branches[id] = b
	e.mu.Unlock()
	return b, nil
}

// DefaultBranch returns the branch new processes are bound to.
func (e *Engine) DefaultBranch() core.BranchID { return e.defaultBranch }

// Branch looks a branch up by id.
func (e *Engine) Branch(id core.BranchID) (*Branch, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.branches[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, core.ErrNotFound)
	}
	return b, nil
}

// Branches returns every live branch, sorted by id.
func (e *Engine) Branches() []*Branch {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Branch, 0, len(e.branches))
	for _, b := range e.branches {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Snapshots returns every recorded snapshot, sorted by id.
func (e *Engine) Snapshots() []*Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Snapshot, 0, len(e.snapshots))
	for _, s := range e.snapshots {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RegisterProcess registers pid, idempotently: re-registration returns
// the existing handle untouched.
func (e *Engine) RegisterProcess(pid int64, exePath string) *Process {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p, ok := e.procs[pid]; ok {
		return p
	}
	p := newProcess(pid, exePath)
	p.branch = e.defaultBranch
	e.procs[pid] = p
	e.logger.Debug("process registered", "pid", pid, "exe", exePath)
	return p
}

// Process looks a registered process up by pid.
func (e *Engine) Process(pid int64) (*Process, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.procs[pid]
	return p, ok
}

// Processes returns every registered process.
func (e *Engine) Processes() []*Process {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Process, 0, len(e.procs))
	for _, p := range e.procs {
		out = append(out, p)
	}
	return out
}

// BindProcessToBranch rebinds pid's view of the namespace.
func (e *Engine) BindProcessToBranch(pid int64, id core.BranchID) error {
	e.mu.Lock()
	p, okP := e.procs[pid]
	_, okB := e.branches[id]
	e.mu.Unlock()
	if !okP {
		return fmt.Errorf("pid %d: %w", pid, core.ErrNotFound)
	}
	if !okB {
		return fmt.Errorf("%s: %w", id, core.ErrNotFound)
	}
	p.bind(id)
	e.logger.Debug("process bound", "pid", pid, "branch", id.String())
	return nil
}

// SnapshotCreate records a point-in-time image of branchID. The upper
// tree is materialized through the backstore, so on hosts with native
// block cloning the snapshot costs metadata only.
func (e *Engine) SnapshotCreate(branchID core.BranchID, name string) (core.SnapshotID, error) {
	b, err := e.Branch(branchID)
	if err != nil {
		return 0, err
	}

	e.mu.Lock()
	id := core.SnapshotID(e.nextSnapshot)
	e.nextSnapshot++
	e.mu.Unlock()

	entries, err := b.collectUpper()
	if err != nil {
		return 0, err
	}
	tree, err := e.store.SnapshotMaterialize(id, name, entries)
	if err != nil {
		return 0, err
	}

	snap := &Snapshot{
		ID:        id,
		Name:      name,
		Branch:    branchID,
		TreePath:  tree,
		whiteouts: b.whiteoutSnapshot(),
	}
	e.mu.Lock()
	e.snapshots[id] = snap
	e.mu.Unlock()
	e.logger.Info("snapshot created", "snapshot", id.String(), "branch", branchID.String(), "name", name)
	return id, nil
}

// Snapshot looks a snapshot up by id.
func (e *Engine) Snapshot(id core.SnapshotID) (*Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.snapshots[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, core.ErrNotFound)
	}
	return s, nil
}

// SnapshotDelete removes the snapshot's engine record and its backstore
// artifact. The record goes regardless of how artifact removal fares.
func (e *Engine) SnapshotDelete(id core.SnapshotID) error {
	e.mu.Lock()
	_, ok := e.snapshots[id]
	delete(e.snapshots, id)
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s: %w", id, core.ErrNotFound)
	}
	return e.store.DeleteSnapshot(id)
}

// BranchCreateFromSnapshot builds a new branch whose upper tree is a
// clone of the snapshot's materialized tree.
func (e *Engine) BranchCreateFromSnapshot(snapID core.SnapshotID, name string) (core.BranchID, error) {
	snap, err := e.Snapshot(snapID)
	if err != nil {
		return 0, err
	}
	b, err := e.createBranch(name)
	if err != nil {
		return 0, err
	}
	if err := e.cloneTree(snap.TreePath, b.upperDir); err != nil {
		return 0, err
	}
	b.setWhiteouts(snap.whiteouts)
	e.logger.Info("branch created", "branch", b.ID.String(), "snapshot", snapID.String(), "name", name)
	return b.ID, nil
}

// cloneTree mirrors src into dst, cloning files through the backstore
// and recreating directories and symlinks.
func (e *Engine) cloneTree(src, dst string) error {
	return filepath.WalkDir(src, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return core.FromOSError("branch_clone", err)
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return core.FromOSError("branch_clone", err)
		}
		target := filepath.Join(dst, rel)
		switch {
		case d.IsDir():
			return os.MkdirAll(target, 0o755)
		case d.Type()&os.ModeSymlink != 0:
			linkTarget, err := os.Readlink(p)
			if err != nil {
				return core.FromOSError("branch_clone", err)
			}
			return os.Symlink(linkTarget, target)
		default:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return core.FromOSError("branch_clone", err)
			}
			return e.store.Reflink(p, target)
		}
	})
}

// branchFor returns the branch p is bound to.
func (e *Engine) branchFor(p *Process) (*Branch, error) {
	return e.Branch(p.Branch())
}

// inoFor returns the stable inode number for (branch, path), minting one
// on first sight.
func (e *Engine) inoFor(branch core.BranchID, p string) uint64 {
	if path.Clean(p) == "/" {
		return 1
	}
	key := branch.String() + ":" + path.Clean(p)
	e.mu.Lock()
	defer e.mu.Unlock()
	if ino, ok := e.pathInos[key]; ok {
		return ino
	}
	ino := e.inos.alloc()
	e.pathInos[key] = ino
	return ino
}

// dropIno releases the inode number bound to (branch, path).
func (e *Engine) dropIno(branch core.BranchID, p string) {
	key := branch.String() + ":" + path.Clean(p)
	e.mu.Lock()
	ino, ok := e.pathInos[key]
	delete(e.pathInos, key)
	e.mu.Unlock()
	if ok {
		e.inos.free(ino)
	}
}

// moveIno carries inode numbers across a rename, descendants included.
func (e *Engine) moveIno(branch core.BranchID, from, to string) {
	fromKey := branch.String() + ":" + path.Clean(from)
	toKey := branch.String() + ":" + path.Clean(to)
	e.mu.Lock()
	defer e.mu.Unlock()
	if ino, ok := e.pathInos[fromKey]; ok {
		delete(e.pathInos, fromKey)
		e.pathInos[toKey] = ino
	}
	prefix := fromKey + "/"
	moved := make(map[string]uint64)
	for key, ino := range e.pathInos {
		if strings.HasPrefix(key, prefix) {
			moved[toKey+"/"+key[len(prefix):]] = ino
			delete(e.pathInos, key)
		}
	}
	for key, ino := range moved {
		e.pathInos[key] = ino
	}
}

// NodeCount reports the number of live inode numbers, root included.
func (e *Engine) NodeCount() uint64 { return e.inos.count() }

func validPath(p string) error {
	if p == "" {
		return fmt.Errorf("empty path: %w", core.ErrInvalidArgument)
	}
	if !strings.HasPrefix(p, "/") {
		return fmt.Errorf("path %q is not absolute: %w", p, core.ErrInvalidArgument)
	}
	if strings.ContainsRune(p, 0) {
		return fmt.Errorf("path contains NUL: %w", core.ErrInvalidArgument)
	}
	return nil
}
