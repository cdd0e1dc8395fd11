package vfs

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/branchfs/branchfs/backstore"
	"github.com/branchfs/branchfs/core"
)

// Branch is one independently-mutable view of the namespace: a writable
// upper tree layered over the engine's read-only lower tree. Writes copy
// up; deletions of lower entries become whiteouts.
type Branch struct {
	ID   core.BranchID
	Name string

	upperDir string
	lowerDir string

	mu        sync.Mutex
	whiteouts map[string]bool
}

// layer tells which tree a resolved path came from.
type layer int

const (
	layerNone layer = iota
	layerUpper
	layerLower
)

func newBranch(id core.BranchID, name, upperDir, lowerDir string) (*Branch, error) {
	if err := os.MkdirAll(upperDir, 0o755); err != nil {
		return nil, core.FromOSError("branch_create", err)
	}
	return &Branch{
		ID:        id,
		Name:      name,
		upperDir:  upperDir,
		lowerDir:  lowerDir,
		whiteouts: make(map[string]bool),
	}, nil
}

// UpperDir returns the branch's writable tree root.
func (b *Branch) UpperDir() string { return b.upperDir }

func (b *Branch) upperPath(p string) string {
	return filepath.Join(b.upperDir, strings.TrimPrefix(path.Clean(p), "/"))
}

func (b *Branch) lowerPath(p string) (string, bool) {
	if b.lowerDir == "" {
		return "", false
	}
	return filepath.Join(b.lowerDir, strings.TrimPrefix(path.Clean(p), "/")), true
}

func (b *Branch) isWhiteout(p string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	p = path.Clean(p)
	for p != "/" {
		if b.whiteouts[p] {
			return true
		}
		p = path.Dir(p)
	}
	return false
}

func (b *Branch) setWhiteout(p string, on bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if on {
		b.whiteouts[path.Clean(p)] = true
	} else {
		delete(b.whiteouts, path.Clean(p))
	}
}

func (b *Branch) whiteoutSnapshot() map[string]bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]bool, len(b.whiteouts))
	for k, v := range b.whiteouts {
		out[k] = v
	}
	return out
}

func (b *Branch) setWhiteouts(w map[string]bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.whiteouts = make(map[string]bool, len(w))
	for k, v := range w {
		b.whiteouts[k] = v
	}
}

// resolve maps an overlay path to the real file serving it. The upper
// layer wins; whiteouts hide lower entries entirely.
func (b *Branch) resolve(p string) (real string, where layer) {
	p = path.Clean(p)
	upper := b.upperPath(p)
	if _, err := os.Lstat(upper); err == nil {
		return upper, layerUpper
	}
	if b.isWhiteout(p) {
		return "", layerNone
	}
	if lower, ok := b.lowerPath(p); ok {
		if _, err := os.Lstat(lower); err == nil {
			return lower, layerLower
		}
	}
	return "", layerNone
}

// resolveForWrite returns the upper-layer real path for p, copying the
// lower file up first when needed. The clone goes through the backstore
// so block sharing is used where the host supports it.
func (b *Branch) resolveForWrite(p string, store backstore.Backstore) (string, error) {
	p = path.Clean(p)
	upper := b.upperPath(p)
	if _, err := os.Lstat(upper); err == nil {
		return upper, nil
	}
	if b.isWhiteout(p) {
		return "", fmt.Errorf("%s: %w", p, core.ErrNotFound)
	}
	lower, ok := b.lowerPath(p)
	if !ok {
		return "", fmt.Errorf("%s: %w", p, core.ErrNotFound)
	}
	st, err := os.Lstat(lower)
	if err != nil {
		return "", fmt.Errorf("%s: %w", p, core.ErrNotFound)
	}
	if err := os.MkdirAll(filepath.Dir(upper), 0o755); err != nil {
		return "", core.FromOSError("copy_up", err)
	}
	switch {
	case st.Mode().IsDir():
		if err := os.MkdirAll(upper, st.Mode().Perm()); err != nil {
			return "", core.FromOSError("copy_up", err)
		}
	case st.Mode()&fs.ModeSymlink != 0:
		target, err := os.Readlink(lower)
		if err != nil {
			return "", core.FromOSError("copy_up", err)
		}
		if err := os.Symlink(target, upper); err != nil {
			return "", core.FromOSError("copy_up", err)
		}
	default:
		if err := store.Reflink(lower, upper); err != nil {
			return "", err
		}
	}
	return upper, nil
}

// copyUpTree materializes every overlay child of the directory p in the
// upper layer. The upper copy of a lower directory starts out empty, so
// a rename of the upper path alone would drop the lower children.
func (b *Branch) copyUpTree(p string, store backstore.Backstore) error {
	names, err := b.readDir(p)
	if err != nil {
		return err
	}
	for _, name := range names {
		child := path.Join(p, name)
		real, err := b.resolveForWrite(child, store)
		if err != nil {
			return err
		}
		st, err := os.Lstat(real)
		if err != nil {
			return core.FromOSError("copy_up", err)
		}
		if st.IsDir() {
			if err := b.copyUpTree(child, store); err != nil {
				return err
			}
		}
	}
	return nil
}

// ensureUpperParent makes sure the parent directory of p exists in the
// upper layer, so new entries can be created under lower-only dirs.
func (b *Branch) ensureUpperParent(p string) error {
	parent := path.Dir(path.Clean(p))
	if parent == "/" {
		return nil
	}
	// The parent must exist somewhere in the overlay.
	if _, where := b.resolve(parent); where == layerNone {
		return fmt.Errorf("%s: %w", parent, core.ErrNotFound)
	}
	if err := os.MkdirAll(b.upperPath(parent), 0o755); err != nil {
		return core.FromOSError("mkdir", err)
	}
	return nil
}

// readDir merges the upper and lower listings of p, hiding whiteouts.
// Entries come back sorted by name.
func (b *Branch) readDir(p string) ([]string, error) {
	p = path.Clean(p)
	seen := make(map[string]bool)

	_, where := b.resolve(p)
	if where == layerNone {
		return nil, fmt.Errorf("%s: %w", p, core.ErrNotFound)
	}

	if entries, err := os.ReadDir(b.upperPath(p)); err == nil {
		for _, e := range entries {
			seen[e.Name()] = true
		}
	}
	if lower, ok := b.lowerPath(p); ok && !b.isWhiteout(p) {
		if entries, err := os.ReadDir(lower); err == nil {
			for _, e := range entries {
				child := path.Join(p, e.Name())
				if b.isWhiteout(child) {
					continue
				}
				seen[e.Name()] = true
			}
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// collectUpper walks the branch's upper tree and returns one CloneEntry
// per regular file, keyed by overlay-relative path.
func (b *Branch) collectUpper() ([]backstore.CloneEntry, error) {
	var entries []backstore.CloneEntry
	err := filepath.WalkDir(b.upperDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		rel, err := filepath.Rel(b.upperDir, p)
		if err != nil {
			return err
		}
		entries = append(entries, backstore.CloneEntry{
			UpperPath:   p,
			OverlayPath: "/" + filepath.ToSlash(rel),
		})
		return nil
	})
	if err != nil {
		return nil, core.FromOSError("snapshot_collect", err)
	}
	return entries, nil
}
