package repo

import (
	"context"
	"errors"
	"io/fs"
	"iter"
	"path"
	"strings"

	"github.com/ocflkit/ocfl"
	ocflfs "github.com/ocflkit/ocfl/fs"
	"github.com/ocflkit/ocfl/inventory"
	"github.com/ocflkit/ocfl/namaste"
	"github.com/ocflkit/ocfl/object"
)

// ExportObject copies objectID's entire object root, byte for byte,
// including its mutable HEAD (if any), into destDir on destFS.
func (r *Repository) ExportObject(ctx context.Context, objectID string, destFS ocflfs.WriteFS, destDir string) error {
	return r.lock.DoInReadLock(ctx, objectID, r.lockTimeout, func(ctx context.Context) error {
		objPath, err := r.resolvePath(objectID)
		if err != nil {
			return err
		}
		if _, err := r.getObject(ctx, objectID, objPath); err != nil {
			return notFoundErr(err, objectID)
		}
		return copyTree(ctx, destFS, destDir, r.fsys, objPath)
	})
}

// ExportVersion copies objectID as it existed at version into destDir on
// destFS: the NAMASTE declaration, every version directory from v1 through
// version, and version's own inventory written at destDir's root. Later
// versions and any staged mutable HEAD are excluded.
func (r *Repository) ExportVersion(ctx context.Context, objectID string, version ocfl.VNum, destFS ocflfs.WriteFS, destDir string) error {
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
		ver := inv.GetVersion(version)
		if ver == nil {
			return ocfl.NewErrorf(ocfl.KindNotFound, "object %s has no version %s", objectID, version)
		}
		targetInv, err := inventory.Read(ctx, r.fsys, path.Join(objPath, version.String()))
		if err != nil {
			return ocfl.NewErrorf(ocfl.KindCorrupt, "reading version %s: %w", version, err)
		}
		entries, err := ocflfs.ReadDir(ctx, r.fsys, objPath)
		if err != nil {
			return ocfl.NewError(ocfl.KindIO, err)
		}
		decl, err := namaste.FindDeclaration(entries)
		if err != nil {
			return ocfl.NewErrorf(ocfl.KindCorrupt, "object %s: %w", objectID, err)
		}
		declName := decl.Name()
		if _, err := ocflfs.Copy(ctx, destFS, path.Join(destDir, declName), r.fsys, path.Join(objPath, declName)); err != nil {
			return ocfl.NewError(ocfl.KindIO, err)
		}
		for _, v := range inv.VNums() {
			if v.Num() > version.Num() {
				continue
			}
			if err := copyTree(ctx, destFS, path.Join(destDir, v.String()), r.fsys, path.Join(objPath, v.String())); err != nil {
				return err
			}
		}
		return inventory.Write(ctx, destFS, targetInv, destDir)
	})
}

// ImportObject copies the object root found at srcDir on srcFS into the
// path destObjectID resolves to, refusing to overwrite an existing object
// and refusing any archive carrying a staged mutable HEAD — a repository's
// layout and concurrency control only apply once content arrives through
// UpdateObject/PutObject/StageChanges, so an imported mutable HEAD could
// silently bypass the next writer's optimistic check.
func (r *Repository) ImportObject(ctx context.Context, srcFS ocflfs.FS, srcDir string, destObjectID string) error {
	return r.lock.DoInWriteLock(ctx, destObjectID, r.lockTimeout, func(ctx context.Context) error {
		objPath, err := r.resolvePath(destObjectID)
		if err != nil {
			return err
		}
		if ok, err := object.Exists(ctx, r.fsys, objPath); err != nil {
			return ocfl.NewError(ocfl.KindIO, err)
		} else if ok {
			return ocfl.NewErrorf(ocfl.KindOverwrite, "object already exists at %s", objPath)
		}
		if _, err := ocflfs.StatFile(ctx, srcFS, path.Join(srcDir, extensionsDir, mutableHeadExt, "head", "inventory.json")); err == nil {
			return ocfl.NewErrorf(ocfl.KindInput, "refusing to import %s: carries a staged mutable HEAD", srcDir)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return ocfl.NewError(ocfl.KindIO, err)
		}
		inv, err := inventory.Read(ctx, srcFS, srcDir)
		if err != nil {
			return ocfl.NewErrorf(ocfl.KindCorrupt, "reading inventory at %s: %w", srcDir, err)
		}
		if inv.ID != destObjectID {
			return ocfl.NewErrorf(ocfl.KindInput, "object at %s declares id %q, not %q", srcDir, inv.ID, destObjectID)
		}
		if err := copyTree(ctx, r.fsys, objPath, srcFS, srcDir); err != nil {
			return err
		}
		return r.refreshCache(ctx, destObjectID, objPath, 0)
	})
}

// PurgeObject deletes objectID's entire object root, including any staged
// mutable HEAD, and drops its cache entry. A missing object is not an
// error, matching the idempotent-delete style of spec.md's purge operation.
func (r *Repository) PurgeObject(ctx context.Context, objectID string) error {
	return r.lock.DoInWriteLock(ctx, objectID, r.lockTimeout, func(ctx context.Context) error {
		objPath, err := r.resolvePath(objectID)
		if err != nil {
			return err
		}
		if err := ocflfs.RemoveAll(ctx, r.fsys, objPath); err != nil {
			return &ocfl.RepoError{Kind: ocfl.KindIO, Err: err, Dirty: true}
		}
		if r.cache != nil {
			if err := r.cache.Delete(ctx, objectID); err != nil {
				return ocfl.NewError(ocfl.KindDB, err)
			}
		}
		return nil
	})
}

// InvalidateCache drops objectID's cached details row, or every row if
// objectID is empty. A no-op if no cache is configured.
func (r *Repository) InvalidateCache(ctx context.Context, objectID string) error {
	if r.cache == nil {
		return nil
	}
	if objectID == "" {
		return ocfl.NewError(ocfl.KindDB, r.cache.Clear(ctx))
	}
	return ocfl.NewError(ocfl.KindDB, r.cache.Delete(ctx, objectID))
}

// ListObjectIds yields every object ID found under the storage root, by
// walking for NAMASTE object declarations and reading each root's declared
// inventory ID.
func (r *Repository) ListObjectIds(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for objPath, err := range ocflfs.ListObjectRoots(ctx, r.fsys, r.root) {
			if err != nil {
				yield("", ocfl.NewError(ocfl.KindIO, err))
				return
			}
			inv, err := inventory.Read(ctx, r.fsys, objPath)
			if err != nil {
				if !yield("", ocfl.NewErrorf(ocfl.KindCorrupt, "reading inventory at %s: %w", objPath, err)) {
					return
				}
				continue
			}
			if !yield(inv.ID, nil) {
				return
			}
		}
	}
}

// ValidationResult is the outcome of ValidateObject: a lightweight
// structural check, not a full spec conformance validator.
type ValidationResult struct {
	Valid  bool
	Errors []string
}

// ValidateObject re-reads objectID's inventory and checks it against the
// object root's actual content: every version number forms a valid,
// contiguous, consistently-padded sequence, and every manifest entry's
// content path exists on disk. It does not re-verify digests — that is
// GetObject/ReadObject's job on actual reads — only structural agreement
// between the inventory and the filesystem.
func (r *Repository) ValidateObject(ctx context.Context, objectID string) (*ValidationResult, error) {
	var result *ValidationResult
	err := r.lock.DoInReadLock(ctx, objectID, r.lockTimeout, func(ctx context.Context) error {
		objPath, err := r.resolvePath(objectID)
		if err != nil {
			return err
		}
		obj, err := r.getObject(ctx, objectID, objPath)
		if err != nil {
			return notFoundErr(err, objectID)
		}
		res := &ValidationResult{Valid: true}
		inv := obj.Inventory
		if err := inv.VNums().Valid(); err != nil {
			res.Valid = false
			res.Errors = append(res.Errors, "version sequence: "+err.Error())
		}
		if inv.VNums().Head() != inv.Head {
			res.Valid = false
			res.Errors = append(res.Errors, "declared head does not match highest version in inventory")
		}
		err = inv.Manifest.EachPath(func(cpath, _ string) error {
			if _, statErr := ocflfs.StatFile(ctx, r.fsys, path.Join(objPath, cpath)); statErr != nil {
				res.Valid = false
				res.Errors = append(res.Errors, "manifest entry missing on disk: "+cpath)
			}
			return nil
		})
		if err != nil {
			return ocfl.NewError(ocfl.KindIO, err)
		}
		for _, v := range inv.VNums() {
			ver := inv.GetVersion(v)
			if err := ver.State.EachPath(func(lpath, dig string) error {
				if !inv.Manifest.DigestExists(dig) {
					res.Valid = false
					res.Errors = append(res.Errors, "version "+v.String()+" path "+lpath+" has no manifest entry")
				}
				return nil
			}); err != nil {
				return ocfl.NewError(ocfl.KindIO, err)
			}
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// copyTree recursively copies every file under srcDir on srcFS to the
// matching relative path under dstDir on dstFS.
func copyTree(ctx context.Context, dstFS ocflfs.WriteFS, dstDir string, srcFS ocflfs.FS, srcDir string) error {
	for p, err := range ocflfs.WalkFiles(ctx, srcFS, srcDir) {
		if err != nil {
			return ocfl.NewError(ocfl.KindIO, err)
		}
		rel := strings.TrimPrefix(strings.TrimPrefix(p, srcDir), "/")
		if _, err := ocflfs.Copy(ctx, dstFS, path.Join(dstDir, rel), srcFS, p); err != nil {
			return ocfl.NewError(ocfl.KindIO, err)
		}
	}
	return nil
}
