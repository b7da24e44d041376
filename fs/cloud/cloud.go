// Package cloud implements the storage backend abstraction in package fs
// over a gocloud.dev/blob.Bucket, so the repository engine can run against
// any blob driver gocloud.dev supports (S3, GCS, Azure Blob, memory, etc.)
// without a backend-specific implementation.
package cloud

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	stditer "iter"
	"path"
	"time"

	ocflfs "github.com/ocflkit/ocfl/fs"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// FS adapts a blob.Bucket to the fs.WriteFS/DirEntriesFS/CopyFS contract.
type FS struct {
	bucket     *blob.Bucket
	writerOpts *blob.WriterOptions
	readerOpts *blob.ReaderOptions
}

var (
	_ ocflfs.WriteFS      = (*FS)(nil)
	_ ocflfs.DirEntriesFS = (*FS)(nil)
	_ ocflfs.CopyFS       = (*FS)(nil)
)

// NewFS wraps an open blob.Bucket.
func NewFS(b *blob.Bucket) *FS { return &FS{bucket: b} }

// WithWriterOptions returns a copy of fsys that applies opts to every
// subsequent Write, e.g. to set content type or cloud-specific metadata.
func (fsys *FS) WithWriterOptions(opts *blob.WriterOptions) *FS {
	return &FS{bucket: fsys.bucket, writerOpts: opts, readerOpts: fsys.readerOpts}
}

func (fsys *FS) OpenFile(ctx context.Context, name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "openfile", Path: name, Err: fs.ErrInvalid}
	}
	r, err := fsys.bucket.NewReader(ctx, name, fsys.readerOpts)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			err = errors.Join(err, fs.ErrNotExist)
		}
		return nil, &fs.PathError{Op: "openfile", Path: name, Err: err}
	}
	return &file{ReadCloser: r, info: &fileInfo{name: path.Base(name), size: r.Size(), modTime: r.ModTime()}}, nil
}

func (fsys *FS) DirEntries(ctx context.Context, name string) stditer.Seq2[fs.DirEntry, error] {
	return func(yield func(fs.DirEntry, error) bool) {
		if !fs.ValidPath(name) {
			yield(nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrInvalid})
			return
		}
		const pageSize = 1000
		opts := &blob.ListOptions{Delimiter: "/"}
		if name != "." {
			opts.Prefix = name + "/"
		}
		token := blob.FirstPageToken
		any := false
		for {
			list, next, err := fsys.bucket.ListPage(ctx, token, pageSize, opts)
			if err != nil {
				if errors.Is(err, io.EOF) {
					break
				}
				if gcerrors.Code(err) == gcerrors.NotFound {
					err = errors.Join(err, fs.ErrNotExist)
				}
				yield(nil, &fs.PathError{Op: "readdir", Path: name, Err: err})
				return
			}
			for _, item := range list {
				any = true
				info := &fileInfo{name: path.Base(item.Key), size: item.Size, modTime: item.ModTime}
				if item.IsDir {
					info.mode = fs.ModeDir
				}
				if !yield(info, nil) {
					return
				}
			}
			token = next
			if len(token) == 0 {
				break
			}
		}
		if !any && name != "." {
			yield(nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrNotExist})
		}
	}
}

func (fsys *FS) Write(ctx context.Context, name string, r io.Reader) (int64, error) {
	if !fs.ValidPath(name) || name == "." {
		return 0, &fs.PathError{Op: "write", Path: name, Err: fs.ErrInvalid}
	}
	w, err := fsys.bucket.NewWriter(ctx, name, fsys.writerOpts)
	if err != nil {
		return 0, &fs.PathError{Op: "write", Path: name, Err: err}
	}
	n, writeErr := w.ReadFrom(r)
	closeErr := w.Close()
	if writeErr != nil {
		return n, &fs.PathError{Op: "write", Path: name, Err: writeErr}
	}
	if closeErr != nil {
		return n, &fs.PathError{Op: "write", Path: name, Err: closeErr}
	}
	return n, nil
}

func (fsys *FS) Remove(ctx context.Context, name string) error {
	if !fs.ValidPath(name) {
		return &fs.PathError{Op: "remove", Path: name, Err: fs.ErrInvalid}
	}
	if name == "." {
		return &fs.PathError{Op: "remove", Path: name, Err: errors.New("cannot remove top-level directory")}
	}
	if err := fsys.bucket.Delete(ctx, name); err != nil {
		return &fs.PathError{Op: "remove", Path: name, Err: err}
	}
	return nil
}

func (fsys *FS) RemoveAll(ctx context.Context, name string) error {
	if !fs.ValidPath(name) {
		return &fs.PathError{Op: "remove_all", Path: name, Err: fs.ErrInvalid}
	}
	if name == "." {
		return &fs.PathError{Op: "remove_all", Path: name, Err: errors.New("cannot remove top-level directory")}
	}
	iter := fsys.bucket.List(&blob.ListOptions{Prefix: name + "/"})
	for {
		obj, err := iter.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return &fs.PathError{Op: "remove_all", Path: name, Err: err}
		}
		if err := fsys.bucket.Delete(ctx, obj.Key); err != nil {
			return &fs.PathError{Op: "remove_all", Path: obj.Key, Err: err}
		}
	}
	if err := fsys.bucket.Delete(ctx, name); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
		return &fs.PathError{Op: "remove_all", Path: name, Err: err}
	}
	return nil
}

func (fsys *FS) Copy(ctx context.Context, dst, src string) (int64, error) {
	for _, p := range []string{src, dst} {
		if !fs.ValidPath(p) || p == "." {
			return 0, &fs.PathError{Op: "copy", Path: p, Err: fs.ErrInvalid}
		}
	}
	if err := fsys.bucket.Copy(ctx, dst, src, &blob.CopyOptions{}); err != nil {
		return 0, fmt.Errorf("cloud copy: %w", err)
	}
	attrs, err := fsys.bucket.Attributes(ctx, dst)
	if err != nil {
		return 0, nil
	}
	return attrs.Size, nil
}

type file struct {
	io.ReadCloser
	info *fileInfo
}

func (f *file) Stat() (fs.FileInfo, error) { return f.info, nil }

type fileInfo struct {
	name    string
	size    int64
	mode    fs.FileMode
	modTime time.Time
}

func (i *fileInfo) Name() string       { return i.name }
func (i *fileInfo) Size() int64        { return i.size }
func (i *fileInfo) Mode() fs.FileMode  { return i.mode }
func (i *fileInfo) ModTime() time.Time { return i.modTime }
func (i *fileInfo) IsDir() bool        { return i.mode.IsDir() }
func (i *fileInfo) Sys() any           { return nil }

func (i *fileInfo) Type() fs.FileMode          { return i.mode.Type() }
func (i *fileInfo) Info() (fs.FileInfo, error) { return i, nil }
