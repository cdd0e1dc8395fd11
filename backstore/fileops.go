package backstore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/branchfs/branchfs/core"
)

// storeFS implements the primitive mutators shared by both backstore
// implementations. All paths are relative to root and parent directories
// are created transparently.
type storeFS struct {
	root string
}

func (s storeFS) RootPath() string { return s.root }

func (s storeFS) abs(rel string) (string, error) {
	rel = strings.TrimPrefix(rel, "/")
	clean := filepath.Clean(rel)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("path %q escapes store root: %w", rel, core.ErrInvalidArgument)
	}
	return filepath.Join(s.root, clean), nil
}

func (s storeFS) CreateDir(rel string, mode uint32) error {
	path, err := s.abs(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(path, os.FileMode(mode)); err != nil {
		return core.FromOSError("create_dir", err)
	}
	return nil
}

func (s storeFS) CreateSymlink(target, rel string) error {
	path, err := s.abs(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return core.FromOSError("create_symlink", err)
	}
	if err := os.Symlink(target, path); err != nil {
		return core.FromOSError("create_symlink", err)
	}
	return nil
}

func (s storeFS) WriteFile(rel string, data []byte, mode uint32) error {
	path, err := s.abs(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return core.FromOSError("write_file", err)
	}
	if err := os.WriteFile(path, data, os.FileMode(mode)); err != nil {
		return core.FromOSError("write_file", err)
	}
	return nil
}

func (s storeFS) SetMode(rel string, mode uint32) error {
	path, err := s.abs(rel)
	if err != nil {
		return err
	}
	if err := os.Chmod(path, os.FileMode(mode)); err != nil {
		return core.FromOSError("set_mode", err)
	}
	return nil
}

// cloneFile duplicates src to dst. With native block cloning available it
// tries the clone syscall first; ENOTSUP and ENOSPC degrade silently to a
// byte copy, so callers never observe either condition as an error. dst
// must not already exist.
func cloneFile(src, dst string, native bool) error {
	in, err := os.Open(src)
	if err != nil {
		return core.FromOSError("reflink", err)
	}
	defer in.Close()

	st, err := in.Stat()
	if err != nil {
		return core.FromOSError("reflink", err)
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, st.Mode().Perm())
	if err != nil {
		return core.FromOSError("reflink", err)
	}

	if native {
		switch err := reflinkFd(out, in); {
		case err == nil:
			return out.Close()
		case errors.Is(err, syscall.ENOTSUP) || errors.Is(err, syscall.ENOSPC):
			// Fall through to the byte copy below.
		default:
			out.Close()
			os.Remove(dst)
			return core.FromOSError("reflink", err)
		}
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return core.FromOSError("reflink", err)
	}
	return out.Close()
}

// materialize clones entries into treeRoot at their overlay-relative
// paths. Entries whose upper file vanished are skipped.
func materialize(treeRoot string, entries []CloneEntry, native bool) error {
	for _, e := range entries {
		rel := strings.TrimPrefix(e.OverlayPath, "/")
		dst := filepath.Join(treeRoot, filepath.Clean(rel))
		if _, err := os.Lstat(e.UpperPath); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return core.FromOSError("snapshot_materialize", err)
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return core.FromOSError("snapshot_materialize", err)
		}
		if err := cloneFile(e.UpperPath, dst, native); err != nil {
			if errors.Is(err, core.ErrNotFound) {
				continue
			}
			return err
		}
	}
	return nil
}
