// Package fs is the storage backend abstraction the repository engine is
// built against: a minimal read/write file system interface plus helpers,
// satisfied by both the local-disk backend (package fs/local) and the
// cloud-object-store backend (package fs/cloud).
package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"path"
	"slices"
	"strings"
)

var (
	// ErrOpUnsupported is returned when a backend is asked to perform an
	// operation it does not implement (e.g. Write on a read-only backend).
	ErrOpUnsupported = errors.New("operation not supported by the file system")
	// ErrNotFile indicates a path expected to be a regular file is not.
	ErrNotFile = errors.New("not a file")
)

// FS reads named files. Unlike io/fs.FS, OpenFile always errors on a
// directory path — OCFL content addressing never needs to open one.
type FS interface {
	OpenFile(ctx context.Context, name string) (fs.File, error)
}

// DirEntriesFS additionally lists directory entries.
type DirEntriesFS interface {
	FS
	// DirEntries yields the entries of the named directory in sorted
	// order, or an error. Iteration stops after the first error.
	DirEntries(ctx context.Context, name string) iter.Seq2[fs.DirEntry, error]
}

// WriteFS additionally supports mutation.
type WriteFS interface {
	FS
	Write(ctx context.Context, name string, src io.Reader) (int64, error)
	Remove(ctx context.Context, name string) error
	// RemoveAll removes name and, if name is a directory, its contents. A
	// missing name is not an error.
	RemoveAll(ctx context.Context, name string) error
}

// CopyFS is a WriteFS that can copy within itself without a round trip
// through the caller — local disk backends use a rename/hardlink-free
// copy, cloud backends issue a server-side copy request.
type CopyFS interface {
	WriteFS
	Copy(ctx context.Context, dst string, src string) (int64, error)
}

// Copy copies src (read from srcFS) to dst (written to dstFS), using
// dstFS's native Copy when srcFS and dstFS are the same backend.
func Copy(ctx context.Context, dstFS FS, dst string, srcFS FS, src string) (n int64, err error) {
	if cp, ok := dstFS.(CopyFS); ok && dstFS == srcFS {
		n, err = cp.Copy(ctx, dst, src)
		if err != nil {
			err = fmt.Errorf("during copy: %w", err)
		}
		return n, err
	}
	srcF, err := srcFS.OpenFile(ctx, src)
	if err != nil {
		return 0, fmt.Errorf("opening for copy: %w", err)
	}
	defer func() {
		if cerr := srcF.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()
	n, err = Write(ctx, dstFS, dst, srcF)
	if err != nil {
		err = fmt.Errorf("writing during copy: %w", err)
	}
	return n, err
}

// DirEntries lists a directory if fsys supports it.
func DirEntries(ctx context.Context, fsys FS, name string) iter.Seq2[fs.DirEntry, error] {
	d, ok := fsys.(DirEntriesFS)
	if !ok {
		err := &fs.PathError{Op: "readdir", Path: name, Err: ErrOpUnsupported}
		return func(yield func(fs.DirEntry, error) bool) { yield(nil, err) }
	}
	return d.DirEntries(ctx, name)
}

// ReadDir collects DirEntries into a sorted slice.
func ReadDir(ctx context.Context, fsys FS, name string) ([]fs.DirEntry, error) {
	var entries []fs.DirEntry
	for e, err := range DirEntries(ctx, fsys, name) {
		if e != nil {
			entries = append(entries, e)
		}
		if err != nil {
			return entries, err
		}
	}
	slices.SortFunc(entries, func(a, b fs.DirEntry) int { return strings.Compare(a.Name(), b.Name()) })
	return entries, nil
}

// ReadAll reads the full contents of a file.
func ReadAll(ctx context.Context, fsys FS, name string) ([]byte, error) {
	f, err := fsys.OpenFile(ctx, name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// Write calls fsys.Write if fsys is a WriteFS.
func Write(ctx context.Context, fsys FS, name string, r io.Reader) (int64, error) {
	w, ok := fsys.(WriteFS)
	if !ok {
		return 0, &fs.PathError{Op: "write", Path: name, Err: ErrOpUnsupported}
	}
	return w.Write(ctx, name, r)
}

// Remove calls fsys.Remove if fsys is a WriteFS.
func Remove(ctx context.Context, fsys FS, name string) error {
	w, ok := fsys.(WriteFS)
	if !ok {
		return &fs.PathError{Op: "remove", Path: name, Err: ErrOpUnsupported}
	}
	return w.Remove(ctx, name)
}

// RemoveAll calls fsys.RemoveAll if fsys is a WriteFS.
func RemoveAll(ctx context.Context, fsys FS, name string) error {
	w, ok := fsys.(WriteFS)
	if !ok {
		return &fs.PathError{Op: "remove_all", Path: name, Err: ErrOpUnsupported}
	}
	return w.RemoveAll(ctx, name)
}

// StatFile opens and stats a file in one step.
func StatFile(ctx context.Context, fsys FS, name string) (fs.FileInfo, error) {
	f, err := fsys.OpenFile(ctx, name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return f.Stat()
}

// WalkFiles recursively yields every regular file under dir, depth first.
func WalkFiles(ctx context.Context, fsys FS, dir string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		walkDir(ctx, fsys, dir, yield)
	}
}

func walkDir(ctx context.Context, fsys FS, dir string, yield func(string, error) bool) bool {
	for e, err := range DirEntries(ctx, fsys, dir) {
		if err != nil {
			return yield("", err)
		}
		p := path.Join(dir, e.Name())
		if e.IsDir() {
			if !walkDir(ctx, fsys, p, yield) {
				return false
			}
			continue
		}
		if !yield(p, nil) {
			return false
		}
	}
	return true
}

// ListObjectRoots walks root looking for OCFL object declaration files
// ("0=ocfl_object_*"), yielding the directory path of each object found.
// Once a directory is identified as an object root, its subtree is not
// descended into further (an OCFL object's content directory can itself
// resemble a directory tree, but never nests another object).
func ListObjectRoots(ctx context.Context, fsys FS, root string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		walkObjectRoots(ctx, fsys, root, yield)
	}
}

func walkObjectRoots(ctx context.Context, fsys FS, dir string, yield func(string, error) bool) bool {
	entries, err := ReadDir(ctx, fsys, dir)
	if err != nil {
		return yield("", err)
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "0=ocfl_object_") {
			return yield(dir, nil)
		}
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if !walkObjectRoots(ctx, fsys, path.Join(dir, e.Name()), yield) {
			return false
		}
	}
	return true
}
