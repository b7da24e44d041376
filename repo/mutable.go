package repo

import (
	"context"
	"errors"
	"io/fs"
	"path"
	"strings"

	"github.com/ocflkit/ocfl"
	"github.com/ocflkit/ocfl/cache"
	"github.com/ocflkit/ocfl/digest"
	ocflfs "github.com/ocflkit/ocfl/fs"
	"github.com/ocflkit/ocfl/inventory"
	"github.com/ocflkit/ocfl/object"
)

// rewriteContentMap rewrites every path in m that falls under headPrefix
// (a mutable-HEAD working directory) to its promoted location under
// pendingHead; paths outside headPrefix (content inherited from an earlier
// real version, already manifest-deduped) pass through unchanged. When
// moves is non-nil, every rewritten (old, new) object-relative path pair is
// recorded so the caller can physically relocate the content afterward.
func rewriteContentMap(m *digest.Map, headPrefix string, pendingHead ocfl.VNum, moves map[string]string) (*digest.Map, error) {
	out := digest.NewMap()
	err := m.EachPath(func(p, d string) error {
		if rest, ok := strings.CutPrefix(p, headPrefix); ok {
			newP := path.Join(pendingHead.String(), rest)
			if moves != nil {
				moves[p] = newP
			}
			return out.Add(d, newP)
		}
		return out.Add(d, p)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// mutable-HEAD staging has no teacher grounding (ocflv1 never implements
// extension 0005); this file follows spec.md §4.11 directly, reusing
// object.BuildNextInventory/TransferContent/Updater — the same machinery
// the normal version-publish path (object.Commit) is built on — so a
// staged revision and a published version share one inventory-assembly
// implementation.

func (r *Repository) readMutableHead(ctx context.Context, objPath string) (*inventory.Inventory, error) {
	headDir := path.Join(r.mutableHeadDir(objPath), "head")
	inv, err := inventory.Read(ctx, r.fsys, headDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return inv, nil
}

func (r *Repository) nextRevision(ctx context.Context, objPath string) (ocfl.RevisionNum, error) {
	revDir := path.Join(r.mutableHeadDir(objPath), "revisions")
	entries, err := ocflfs.ReadDir(ctx, r.fsys, revDir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return ocfl.RevisionNum{}, err
	}
	var max ocfl.RevisionNum
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		rn, err := ocfl.ParseRevisionNum(e.Name())
		if err != nil {
			continue
		}
		if max.IsZero() || rn.Num() > max.Num() {
			max = rn
		}
	}
	if max.IsZero() {
		return ocfl.RevisionNum{VNum: ocfl.V(1)}, nil
	}
	return max.Next()
}

// StageChanges applies updateFn's changes as a new mutable-HEAD revision
// for objectID, writing into extensions/0005-mutable-head/head/ and
// recording the revision's commit point as a marker file under
// extensions/0005-mutable-head/revisions/. If a marker for the computed
// revision already exists (a concurrent writer raced this one under the
// same lock acquisition, which should not happen but is checked defensively
// per spec.md), the commit is refused as ObjectOutOfSync.
func (r *Repository) StageChanges(ctx context.Context, objectID string, vi VersionInfo, srcFS ocflfs.FS, updateFn UpdateFunc) error {
	return r.lock.DoInWriteLock(ctx, objectID, r.lockTimeout, func(ctx context.Context) error {
		objPath, err := r.resolvePath(objectID)
		if err != nil {
			return err
		}
		mhInv, err := r.readMutableHead(ctx, objPath)
		if err != nil {
			return ocfl.NewError(ocfl.KindIO, err)
		}
		existing, err := object.GetObject(ctx, r.fsys, objPath)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return ocfl.NewError(ocfl.KindIO, err)
		}
		var normalBase *inventory.Inventory
		if existing != nil {
			normalBase = existing.Inventory
		}

		effectiveBase := mhInv
		pendingHead := ocfl.V(1)
		padding := 0
		if normalBase != nil {
			padding = normalBase.Head.Padding()
		}
		if effectiveBase == nil {
			effectiveBase = normalBase
			if normalBase != nil {
				next, err := normalBase.Head.Next()
				if err != nil {
					return ocfl.NewErrorf(ocfl.KindInput, "%w", err)
				}
				pendingHead = next
			} else {
				pendingHead = ocfl.V(1, padding)
			}
		} else {
			pendingHead = effectiveBase.Head
		}

		revision, err := r.nextRevision(ctx, objPath)
		if err != nil {
			return ocfl.NewError(ocfl.KindIO, err)
		}
		revDir := path.Join(r.mutableHeadDir(objPath), "revisions")
		markerPath := path.Join(revDir, revision.String())
		if _, err := ocflfs.StatFile(ctx, r.fsys, markerPath); err == nil {
			return ocfl.NewErrorf(ocfl.KindOutOfSync, "revision marker %s already exists for %s", revision, objectID)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return ocfl.NewError(ocfl.KindIO, err)
		}

		src := srcFS
		if src == nil {
			src = r.fsys
		}
		u := object.NewUpdater(r.digReg, r.alg, src, effectiveBase)
		if err := updateFn(ctx, u); err != nil {
			return err
		}

		headDir := path.Join(r.mutableHeadDir(objPath), "head")
		params := object.InventoryParams{
			ContentDir: "content",
			PathFn:     func(lpath string) string { return path.Join(revision.String(), lpath) },
			Created:    vi.Created,
			Message:    vi.Message,
			User:       vi.User,
			VersionDir: path.Join(extensionsDir, mutableHeadExt, "head"),
		}
		spec := r.spec
		if normalBase != nil {
			spec = normalBase.Type.Spec
		}
		newInv, xfers, err := object.BuildNextInventory(effectiveBase, u.Stage(), objectID, pendingHead, params, spec)
		if err != nil {
			return ocfl.NewErrorf(ocfl.KindInput, "building mutable-HEAD inventory: %w", err)
		}
		if len(xfers) > 0 {
			if err := object.TransferContent(ctx, r.fsys, objPath, xfers, u.Stage().Content(), 4); err != nil {
				return &ocfl.RepoError{Kind: ocfl.KindIO, Err: err, Dirty: true}
			}
		}
		if err := inventory.Write(ctx, r.fsys, newInv, headDir); err != nil {
			return &ocfl.RepoError{Kind: ocfl.KindIO, Err: err, Dirty: true}
		}
		if _, err := r.fsys.Write(ctx, markerPath, strings.NewReader("")); err != nil {
			return &ocfl.RepoError{Kind: ocfl.KindIO, Err: err, Dirty: true}
		}
		r.pruneOldRevisions(ctx, revDir, revision)

		rowVersion := pendingHead.Num()
		if normalBase != nil {
			rowVersion = normalBase.Head.Num()
		}
		return r.refreshCacheRow(ctx, cache.Details{
			ObjectID:        objectID,
			VersionNum:      rowVersion,
			RevisionNum:     revision.Num(),
			ObjectRootPath:  objPath,
			InventoryDigest: newInv.Digest(),
			DigestAlgorithm: newInv.DigestAlgorithm,
		})
	})
}

// pruneOldRevisions deletes every revision marker other than keep, best
// effort — the markers are advisory bookkeeping, not load-bearing once the
// new one is written.
func (r *Repository) pruneOldRevisions(ctx context.Context, revDir string, keep ocfl.RevisionNum) {
	entries, err := ocflfs.ReadDir(ctx, r.fsys, revDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() || e.Name() == keep.String() {
			continue
		}
		_ = r.fsys.Remove(ctx, path.Join(revDir, e.Name()))
	}
}

// CommitStagedChanges promotes objectID's mutable HEAD to a normal version:
// the staged inventory's content paths are rewritten from
// extensions/0005-mutable-head/head/content/rN/... to vN/content/rN/...,
// the content is moved to live under the new version directory, and the
// mutable-HEAD subtree is removed.
func (r *Repository) CommitStagedChanges(ctx context.Context, objectID string, vi VersionInfo) error {
	return r.lock.DoInWriteLock(ctx, objectID, r.lockTimeout, func(ctx context.Context) error {
		objPath, err := r.resolvePath(objectID)
		if err != nil {
			return err
		}
		mhInv, err := r.readMutableHead(ctx, objPath)
		if err != nil {
			return ocfl.NewError(ocfl.KindIO, err)
		}
		if mhInv == nil {
			return ocfl.NewErrorf(ocfl.KindState, "object %s has no mutable HEAD to commit", objectID)
		}
		headPrefix := path.Join(extensionsDir, mutableHeadExt, "head") + "/"
		pendingHead := mhInv.Head

		moves := map[string]string{} // old object-relative path -> new object-relative path
		newManifest, err := rewriteContentMap(mhInv.Manifest, headPrefix, pendingHead, moves)
		if err != nil {
			return ocfl.NewErrorf(ocfl.KindCorrupt, "rewriting manifest: %w", err)
		}
		newFixity := map[string]*digest.Map{}
		for algID, m := range mhInv.Fixity {
			rw, err := rewriteContentMap(m, headPrefix, pendingHead, nil)
			if err != nil {
				return ocfl.NewErrorf(ocfl.KindCorrupt, "rewriting %s fixity: %w", algID, err)
			}
			newFixity[algID] = rw
		}

		for oldRel, newRel := range moves {
			if _, err := ocflfs.Copy(ctx, r.fsys, path.Join(objPath, newRel), r.fsys, path.Join(objPath, oldRel)); err != nil {
				return &ocfl.RepoError{Kind: ocfl.KindIO, Err: err, Dirty: true}
			}
		}

		finalMessage := mhInv.GetVersion(pendingHead).Message
		finalUser := mhInv.GetVersion(pendingHead).User
		if vi.Message != "" {
			finalMessage = vi.Message
		}
		if vi.User != nil {
			finalUser = vi.User
		}
		versions := map[ocfl.VNum]*inventory.Version{}
		for v, ver := range mhInv.Versions {
			versions[v] = ver
		}
		versions[pendingHead] = &inventory.Version{
			Created: mhInv.GetVersion(pendingHead).Created,
			State:   mhInv.GetVersion(pendingHead).State,
			Message: finalMessage,
			User:    finalUser,
		}

		newInv := &inventory.Inventory{
			ID:               mhInv.ID,
			Type:             mhInv.Type,
			DigestAlgorithm:  mhInv.DigestAlgorithm,
			Head:             pendingHead,
			ContentDirectory: mhInv.ContentDirectory,
			Manifest:         newManifest,
			Versions:         versions,
			Fixity:           newFixity,
		}

		vDir := path.Join(objPath, pendingHead.String())
		if err := inventory.Write(ctx, r.fsys, newInv, objPath, vDir); err != nil {
			return &ocfl.RepoError{Kind: ocfl.KindIO, Err: err, Dirty: true}
		}
		if err := ocflfs.RemoveAll(ctx, r.fsys, r.mutableHeadDir(objPath)); err != nil {
			return &ocfl.RepoError{Kind: ocfl.KindIO, Err: err, Dirty: true}
		}
		return r.refreshCache(ctx, objectID, objPath, 0)
	})
}

// PurgeStagedChanges discards objectID's mutable HEAD unconditionally.
func (r *Repository) PurgeStagedChanges(ctx context.Context, objectID string) error {
	return r.lock.DoInWriteLock(ctx, objectID, r.lockTimeout, func(ctx context.Context) error {
		objPath, err := r.resolvePath(objectID)
		if err != nil {
			return err
		}
		if err := ocflfs.RemoveAll(ctx, r.fsys, r.mutableHeadDir(objPath)); err != nil {
			return &ocfl.RepoError{Kind: ocfl.KindIO, Err: err, Dirty: true}
		}
		return r.refreshCache(ctx, objectID, objPath, 0)
	})
}
