package repo

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"path"
	"strings"
	"time"

	"github.com/ocflkit/ocfl"
	ocflfs "github.com/ocflkit/ocfl/fs"
	"github.com/ocflkit/ocfl/inventory"
	"github.com/ocflkit/ocfl/object"
)

// UpdateFunc mutates an in-progress object version through u.
type UpdateFunc func(ctx context.Context, u *object.Updater) error

// UpdateObject applies updateFn's changes as the next version of objectID,
// creating the object if it doesn't already exist. It refuses objects with
// a mutable HEAD, per spec.md's state machine (promote or purge staged
// changes first). srcFS is the backend new content is read from; it may be
// nil if updateFn only rearranges existing content (rename/remove/reinstate).
func (r *Repository) UpdateObject(ctx context.Context, objectID string, vi VersionInfo, srcFS ocflfs.FS, updateFn UpdateFunc, opts ...object.CommitOption) error {
	return r.lock.DoInWriteLock(ctx, objectID, r.lockTimeout, func(ctx context.Context) error {
		objPath, err := r.resolvePath(objectID)
		if err != nil {
			return err
		}
		if has, err := r.hasMutableHead(ctx, objPath); err != nil {
			return err
		} else if has {
			return ocfl.NewErrorf(ocfl.KindState, "object %s has a mutable HEAD; commit or purge staged changes first", objectID)
		}
		existing, err := object.GetObject(ctx, r.fsys, objPath)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return ocfl.NewError(ocfl.KindIO, err)
		}
		var base *inventory.Inventory
		if existing != nil {
			base = existing.Inventory
		}
		src := srcFS
		if src == nil {
			src = r.fsys
		}
		u := object.NewUpdater(r.digReg, r.alg, src, base)
		if err := updateFn(ctx, u); err != nil {
			return err
		}
		allOpts := append([]object.CommitOption{
			object.WithStoreSpec(r.spec),
			object.WithMessage(vi.Message),
			object.WithUser(vi.User),
		}, opts...)
		if !vi.Created.IsZero() {
			allOpts = append(allOpts, object.WithCreated(vi.Created))
		}
		if err := object.Commit(ctx, r.fsys, objPath, objectID, u, allOpts...); err != nil {
			return err
		}
		return r.refreshCache(ctx, objectID, objPath, 0)
	})
}

// PutObject replaces objectID's entire content with the tree rooted at
// srcDir on srcTree, equivalent to UpdateObject with a ClearState followed
// by adding every file under srcDir.
func (r *Repository) PutObject(ctx context.Context, objectID string, srcTree ocflfs.FS, srcDir string, vi VersionInfo, opts ...object.CommitOption) error {
	updateFn := func(ctx context.Context, u *object.Updater) error {
		u.ClearState()
		for p, err := range ocflfs.WalkFiles(ctx, srcTree, srcDir) {
			if err != nil {
				return ocfl.NewError(ocfl.KindIO, err)
			}
			lpath, err := ocfl.NewLPath(strippedPrefix(p, srcDir))
			if err != nil {
				return ocfl.NewError(ocfl.KindInput, err)
			}
			if err := u.AddPath(ctx, lpath.String(), p, object.Options{}); err != nil {
				return err
			}
		}
		return nil
	}
	return r.UpdateObject(ctx, objectID, vi, srcTree, updateFn, opts...)
}

func strippedPrefix(p, prefix string) string {
	if prefix == "" || prefix == "." {
		return p
	}
	rel := p[len(prefix):]
	for len(rel) > 0 && rel[0] == '/' {
		rel = rel[1:]
	}
	return rel
}

// GetObject reconstructs version (ocfl.Head for the current head) of
// objectID into destDir on destFS, verifying every file's content against
// the inventory's manifest digest and rolling back (deleting destDir) on
// any fixity failure.
func (r *Repository) GetObject(ctx context.Context, objectID string, version ocfl.VNum, destFS ocflfs.WriteFS, destDir string) error {
	return r.lock.DoInReadLock(ctx, objectID, r.lockTimeout, func(ctx context.Context) error {
		objPath, err := r.resolvePath(objectID)
		if err != nil {
			return err
		}
		obj, err := r.getObject(ctx, objectID, objPath)
		if err != nil {
			return notFoundErr(err, objectID)
		}
		inv := obj.Inventory
		alg, err := r.digReg.Get(inv.DigestAlgorithm)
		if err != nil {
			return ocfl.NewError(ocfl.KindCorrupt, err)
		}
		err = inv.EachStatePath(version, func(logical, dig string, contentPaths []string) error {
			src := path.Join(objPath, contentPaths[0])
			dst := path.Join(destDir, logical)
			return r.copyVerified(ctx, destFS, dst, src, alg, dig)
		})
		if err != nil {
			_ = ocflfs.RemoveAll(ctx, destFS, destDir)
			return err
		}
		return nil
	})
}

// ReadObject streams every file in version's state to fn, each wrapped in
// a fixity-checking reader that's verified once fn returns, without
// materialising anything to a destination tree.
func (r *Repository) ReadObject(ctx context.Context, objectID string, version ocfl.VNum, fn func(logical string, content io.Reader) error) error {
	return r.lock.DoInReadLock(ctx, objectID, r.lockTimeout, func(ctx context.Context) error {
		objPath, err := r.resolvePath(objectID)
		if err != nil {
			return err
		}
		obj, err := r.getObject(ctx, objectID, objPath)
		if err != nil {
			return notFoundErr(err, objectID)
		}
		inv := obj.Inventory
		alg, err := r.digReg.Get(inv.DigestAlgorithm)
		if err != nil {
			return ocfl.NewError(ocfl.KindCorrupt, err)
		}
		return inv.EachStatePath(version, func(logical, dig string, contentPaths []string) error {
			f, err := r.fsys.OpenFile(ctx, path.Join(objPath, contentPaths[0]))
			if err != nil {
				return ocfl.NewError(ocfl.KindIO, err)
			}
			defer f.Close()
			d := alg.Digester()
			if err := fn(logical, io.TeeReader(f, d)); err != nil {
				return err
			}
			if !strings.EqualFold(d.String(), dig) {
				return ocfl.NewErrorf(ocfl.KindFixity, "content for %s: digest mismatch", logical)
			}
			return nil
		})
	})
}

// VersionDescription summarizes one version of an object.
type VersionDescription struct {
	Num     ocfl.VNum
	Created time.Time
	Message string
	User    *inventory.User
	State   map[string]string // logical path -> digest
}

// ObjectDescription summarizes an object's current state.
type ObjectDescription struct {
	ID               string
	Head             ocfl.VNum
	Spec             ocfl.Spec
	DigestAlgorithm  string
	ContentDirectory string
	HasMutableHead   bool
	Versions         []VersionDescription
}

// DescribeObject summarizes objectID's inventory.
func (r *Repository) DescribeObject(ctx context.Context, objectID string) (*ObjectDescription, error) {
	var desc *ObjectDescription
	err := r.lock.DoInReadLock(ctx, objectID, r.lockTimeout, func(ctx context.Context) error {
		objPath, err := r.resolvePath(objectID)
		if err != nil {
			return err
		}
		obj, err := r.getObject(ctx, objectID, objPath)
		if err != nil {
			return notFoundErr(err, objectID)
		}
		inv := obj.Inventory
		mutable, err := r.hasMutableHead(ctx, objPath)
		if err != nil {
			return err
		}
		desc = &ObjectDescription{
			ID:               inv.ID,
			Head:             inv.Head,
			Spec:             inv.Type.Spec,
			DigestAlgorithm:  inv.DigestAlgorithm,
			ContentDirectory: inv.ContentDirectory,
			HasMutableHead:   mutable,
		}
		for _, v := range inv.VNums() {
			desc.Versions = append(desc.Versions, versionDescription(v, inv.GetVersion(v)))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return desc, nil
}

// DescribeVersion summarizes a single version of objectID.
func (r *Repository) DescribeVersion(ctx context.Context, objectID string, version ocfl.VNum) (*VersionDescription, error) {
	var desc *VersionDescription
	err := r.lock.DoInReadLock(ctx, objectID, r.lockTimeout, func(ctx context.Context) error {
		objPath, err := r.resolvePath(objectID)
		if err != nil {
			return err
		}
		obj, err := r.getObject(ctx, objectID, objPath)
		if err != nil {
			return notFoundErr(err, objectID)
		}
		ver := obj.Inventory.GetVersion(version)
		if ver == nil {
			return ocfl.NewErrorf(ocfl.KindNotFound, "object %s has no version %s", objectID, version)
		}
		v := version
		if v.IsZero() {
			v = obj.Inventory.Head
		}
		d := versionDescription(v, ver)
		desc = &d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return desc, nil
}

func versionDescription(v ocfl.VNum, ver *inventory.Version) VersionDescription {
	return VersionDescription{
		Num:     v,
		Created: ver.Created,
		Message: ver.Message,
		User:    ver.User,
		State:   ver.State.AllPaths(),
	}
}

// ChangeEvent is one entry in a logical path's history across an object's
// versions.
type ChangeEvent struct {
	Version ocfl.VNum
	Kind    string // "UPDATE" or "REMOVE"
	Digest  string // empty for REMOVE
}

// FileChangeHistory walks objectID's versions in order, emitting an UPDATE
// event whenever logicalPath's digest changes and a REMOVE event whenever
// it disappears from the state.
func (r *Repository) FileChangeHistory(ctx context.Context, objectID, logicalPath string) ([]ChangeEvent, error) {
	var events []ChangeEvent
	err := r.lock.DoInReadLock(ctx, objectID, r.lockTimeout, func(ctx context.Context) error {
		objPath, err := r.resolvePath(objectID)
		if err != nil {
			return err
		}
		obj, err := r.getObject(ctx, objectID, objPath)
		if err != nil {
			return notFoundErr(err, objectID)
		}
		vnums := obj.Inventory.VNums()
		prev := ""
		for _, v := range vnums {
			ver := obj.Inventory.GetVersion(v)
			cur := ver.State.GetDigest(logicalPath)
			switch {
			case cur == "" && prev != "":
				events = append(events, ChangeEvent{Version: v, Kind: "REMOVE"})
			case cur != "" && cur != prev:
				events = append(events, ChangeEvent{Version: v, Kind: "UPDATE", Digest: cur})
			}
			prev = cur
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// RollbackToVersion deletes every version directory after version, rewrites
// the root inventory to version's, and discards any mutable HEAD.
func (r *Repository) RollbackToVersion(ctx context.Context, objectID string, version ocfl.VNum) error {
	return r.lock.DoInWriteLock(ctx, objectID, r.lockTimeout, func(ctx context.Context) error {
		objPath, err := r.resolvePath(objectID)
		if err != nil {
			return err
		}
		obj, err := r.getObject(ctx, objectID, objPath)
		if err != nil {
			return notFoundErr(err, objectID)
		}
		inv := obj.Inventory
		if version.Num() > inv.Head.Num() {
			return ocfl.NewErrorf(ocfl.KindInput, "cannot roll back %s to %s: not an earlier version", objectID, version)
		}
		targetInv, err := inventory.Read(ctx, r.fsys, path.Join(objPath, version.String()))
		if err != nil {
			return ocfl.NewErrorf(ocfl.KindCorrupt, "reading version %s: %w", version, err)
		}
		for _, v := range inv.VNums() {
			if v.Num() > version.Num() {
				if err := ocflfs.RemoveAll(ctx, r.fsys, path.Join(objPath, v.String())); err != nil {
					return &ocfl.RepoError{Kind: ocfl.KindIO, Err: err, Dirty: true}
				}
			}
		}
		if err := ocflfs.RemoveAll(ctx, r.fsys, r.mutableHeadDir(objPath)); err != nil {
			return &ocfl.RepoError{Kind: ocfl.KindIO, Err: err, Dirty: true}
		}
		if err := inventory.Write(ctx, r.fsys, targetInv, objPath); err != nil {
			return &ocfl.RepoError{Kind: ocfl.KindIO, Err: err, Dirty: true}
		}
		return r.refreshCache(ctx, objectID, objPath, 0)
	})
}

// ReplicateVersionAsHead creates a new version whose state equals version's,
// reusing the existing manifest entries without copying any content. It
// refuses objects with a mutable HEAD.
func (r *Repository) ReplicateVersionAsHead(ctx context.Context, objectID string, version ocfl.VNum, vi VersionInfo) error {
	return r.lock.DoInWriteLock(ctx, objectID, r.lockTimeout, func(ctx context.Context) error {
		objPath, err := r.resolvePath(objectID)
		if err != nil {
			return err
		}
		if has, err := r.hasMutableHead(ctx, objPath); err != nil {
			return err
		} else if has {
			return ocfl.NewErrorf(ocfl.KindState, "object %s has a mutable HEAD; commit or purge staged changes first", objectID)
		}
		existing, err := object.GetObject(ctx, r.fsys, objPath)
		if err != nil {
			return notFoundErr(err, objectID)
		}
		base := existing.Inventory
		ver := base.GetVersion(version)
		if ver == nil {
			return ocfl.NewErrorf(ocfl.KindNotFound, "object %s has no version %s", objectID, version)
		}
		u := object.NewUpdater(r.digReg, r.alg, r.fsys, base)
		u.ClearState()
		if err := ver.State.EachPath(func(lpath, dig string) error {
			return u.UnsafeAddPath(lpath, "", dig, object.Options{})
		}); err != nil {
			return ocfl.NewError(ocfl.KindInput, err)
		}
		opts := []object.CommitOption{
			object.WithStoreSpec(r.spec),
			object.WithMessage(vi.Message),
			object.WithUser(vi.User),
			object.WithAllowUnchanged(true),
		}
		if !vi.Created.IsZero() {
			opts = append(opts, object.WithCreated(vi.Created))
		}
		if err := object.Commit(ctx, r.fsys, objPath, objectID, u, opts...); err != nil {
			return err
		}
		return r.refreshCache(ctx, objectID, objPath, 0)
	})
}

func notFoundErr(err error, objectID string) error {
	if errors.Is(err, fs.ErrNotExist) {
		return ocfl.NewErrorf(ocfl.KindNotFound, "object not found: %s", objectID)
	}
	return ocfl.NewError(ocfl.KindIO, err)
}
