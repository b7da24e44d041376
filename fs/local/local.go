// Package local implements the storage backend abstraction in package fs
// over a directory on local disk.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"os"
	"path/filepath"

	ocflfs "github.com/ocflkit/ocfl/fs"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

// FS is a local-disk storage backend rooted at a directory.
type FS struct {
	path string
}

var (
	_ ocflfs.WriteFS      = (*FS)(nil)
	_ ocflfs.DirEntriesFS = (*FS)(nil)
	_ ocflfs.CopyFS       = (*FS)(nil)
)

// NewFS returns a new local FS rooted at dir, which must already exist.
func NewFS(dir string) (*FS, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("local.NewFS: %w", err)
	}
	return &FS{path: abs}, nil
}

// Root returns the OS path the FS is rooted at.
func (fsys *FS) Root() string { return fsys.path }

func (fsys *FS) OpenFile(ctx context.Context, name string) (fs.File, error) {
	full, err := fsys.osPath(name)
	if err != nil {
		return nil, &fs.PathError{Op: "openfile", Path: name, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.IsDir() {
		f.Close()
		return nil, &fs.PathError{Op: "openfile", Path: name, Err: ocflfs.ErrNotFile}
	}
	return f, nil
}

func (fsys *FS) DirEntries(ctx context.Context, name string) iter.Seq2[fs.DirEntry, error] {
	return func(yield func(fs.DirEntry, error) bool) {
		full, err := fsys.osPath(name)
		if err != nil {
			yield(nil, &fs.PathError{Op: "readdir", Path: name, Err: err})
			return
		}
		if err := ctx.Err(); err != nil {
			yield(nil, err)
			return
		}
		entries, err := os.ReadDir(full)
		if err != nil {
			yield(nil, err)
			return
		}
		for _, e := range entries {
			if !yield(e, nil) {
				return
			}
		}
	}
}

func (fsys *FS) Write(ctx context.Context, name string, src io.Reader) (int64, error) {
	full, err := fsys.osPath(name)
	if err != nil {
		return 0, &fs.PathError{Op: "write", Path: name, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return 0, &fs.PathError{Op: "write", Path: name, Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(full), dirPerm); err != nil {
		return 0, &fs.PathError{Op: "write", Path: name, Err: err}
	}
	dst, err := os.OpenFile(full, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, filePerm)
	if err != nil {
		return 0, &fs.PathError{Op: "write", Path: name, Err: err}
	}
	n, err := io.Copy(dst, src)
	if err != nil {
		dst.Close()
		return n, &fs.PathError{Op: "write", Path: name, Err: err}
	}
	if err := dst.Close(); err != nil {
		return n, &fs.PathError{Op: "write", Path: name, Err: err}
	}
	return n, nil
}

func (fsys *FS) Remove(ctx context.Context, name string) error {
	full, err := fsys.osPath(name)
	if err != nil {
		return &fs.PathError{Op: "remove", Path: name, Err: err}
	}
	if name == "." {
		return &fs.PathError{Op: "remove", Path: name, Err: errors.New("cannot remove top-level directory")}
	}
	if err := ctx.Err(); err != nil {
		return &fs.PathError{Op: "remove", Path: name, Err: err}
	}
	if err := os.Remove(full); err != nil {
		return &fs.PathError{Op: "remove", Path: name, Err: err}
	}
	return nil
}

func (fsys *FS) RemoveAll(ctx context.Context, name string) error {
	full, err := fsys.osPath(name)
	if err != nil {
		return &fs.PathError{Op: "remove_all", Path: name, Err: err}
	}
	if name == "." {
		return &fs.PathError{Op: "remove_all", Path: name, Err: errors.New("cannot remove top-level directory")}
	}
	if err := ctx.Err(); err != nil {
		return &fs.PathError{Op: "remove_all", Path: name, Err: err}
	}
	if err := os.RemoveAll(full); err != nil {
		return &fs.PathError{Op: "remove_all", Path: name, Err: err}
	}
	return nil
}

// Copy copies src to dst within the same local tree, without streaming
// through the caller.
func (fsys *FS) Copy(ctx context.Context, dst, src string) (int64, error) {
	srcFull, err := fsys.osPath(src)
	if err != nil {
		return 0, &fs.PathError{Op: "copy", Path: src, Err: err}
	}
	dstFull, err := fsys.osPath(dst)
	if err != nil {
		return 0, &fs.PathError{Op: "copy", Path: dst, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	in, err := os.Open(srcFull)
	if err != nil {
		return 0, &fs.PathError{Op: "copy", Path: src, Err: err}
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dstFull), dirPerm); err != nil {
		return 0, &fs.PathError{Op: "copy", Path: dst, Err: err}
	}
	out, err := os.OpenFile(dstFull, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, filePerm)
	if err != nil {
		return 0, &fs.PathError{Op: "copy", Path: dst, Err: err}
	}
	n, err := io.Copy(out, in)
	if err != nil {
		out.Close()
		return n, &fs.PathError{Op: "copy", Path: dst, Err: err}
	}
	if err := out.Close(); err != nil {
		return n, &fs.PathError{Op: "copy", Path: dst, Err: err}
	}
	return n, nil
}

func (fsys *FS) osPath(name string) (string, error) {
	if !fs.ValidPath(name) {
		return "", fs.ErrInvalid
	}
	return filepath.Join(fsys.path, filepath.FromSlash(name)), nil
}
