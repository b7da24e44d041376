package object

import (
	"context"
	"io"

	"github.com/ocflkit/ocfl"
	"github.com/ocflkit/ocfl/digest"
	ocflfs "github.com/ocflkit/ocfl/fs"
	"github.com/ocflkit/ocfl/inventory"
	"github.com/ocflkit/ocfl/stage"
)

// Options configures an Updater method call. The zero value is the default
// (OVERWRITE disabled), matching spec.md's description of `options`.
type Options struct {
	// Overwrite allows addPath/writeFile/renameFile/reinstateFile to replace
	// an existing logical path instead of failing with KindOverwrite.
	Overwrite bool
}

// Updater accumulates one object version's changes against a base inventory
// (nil for a brand-new object), grounded on ocflv1/commit.go's Commit
// building a new *Inventory from a *Stage plus the base. It wraps a
// stage.Stage with the base-inventory-aware logic spec.md's C8 describes:
// overwrite policy and reinstateFile's lookup of a digest from a named prior
// version. Dedup against the base manifest happens later, in
// BuildNextInventory.
type Updater struct {
	base  *inventory.Inventory // nil for a new object
	stage *stage.Stage
}

// NewUpdater returns an Updater seeded from base (nil for a new object),
// staging new content onto srcFS with digest algorithm alg.
func NewUpdater(reg *digest.Registry, alg digest.Algorithm, srcFS ocflfs.FS, base *inventory.Inventory) *Updater {
	u := &Updater{base: base, stage: stage.New(reg, alg, srcFS)}
	if base != nil {
		if head := base.GetVersion(ocfl.Head); head != nil {
			_ = head.State.EachPath(func(p, d string) error { return u.stage.State().Add(d, p) })
		}
	}
	return u
}

// Stage returns the underlying stage, for Commit.
func (u *Updater) Stage() *stage.Stage { return u.stage }

func (u *Updater) checkOverwrite(lpath string, opts Options) error {
	if u.stage.State().GetDigest(lpath) == "" {
		return nil
	}
	if !opts.Overwrite {
		return ocfl.NewErrorf(ocfl.KindOverwrite, "path already exists in version state: %s", lpath)
	}
	u.stage.RemoveFile(lpath)
	return nil
}

// AddPath adds the file at srcPath (on the stage's source FS) under
// logicalDest, computing its digest by reading srcPath once.
func (u *Updater) AddPath(ctx context.Context, logicalDest, srcPath string, opts Options) error {
	if err := u.checkOverwrite(logicalDest, opts); err != nil {
		return err
	}
	return u.stage.AddPath(ctx, logicalDest, srcPath)
}

// WriteFile stages the content read from r under logicalDest, writing
// through stagingFS at tmpPath.
func (u *Updater) WriteFile(ctx context.Context, stagingFS ocflfs.WriteFS, tmpPath, logicalDest string, r io.Reader, opts Options) error {
	if err := u.checkOverwrite(logicalDest, opts); err != nil {
		return err
	}
	return u.stage.WriteFile(ctx, stagingFS, tmpPath, logicalDest, r)
}

// UnsafeAddPath adds logicalDest to the version state under a caller-supplied
// digest, without recomputing it.
func (u *Updater) UnsafeAddPath(logicalDest, srcPath, dig string, opts Options) error {
	if err := u.checkOverwrite(logicalDest, opts); err != nil {
		return err
	}
	return u.stage.UnsafeAddPath(logicalDest, srcPath, dig)
}

// RemoveFile removes logicalPath from the version state.
func (u *Updater) RemoveFile(logicalPath string) { u.stage.RemoveFile(logicalPath) }

// RenameFile moves srcLogical to dstLogical within the version state.
func (u *Updater) RenameFile(srcLogical, dstLogical string, opts Options) error {
	if err := u.checkOverwrite(dstLogical, opts); err != nil {
		return err
	}
	return u.stage.RenameFile(srcLogical, dstLogical)
}

// ReinstateFile assigns dstLogical the digest that fromLogical had in
// fromVersion of the base inventory, without copying any content.
func (u *Updater) ReinstateFile(fromVersion ocfl.VNum, fromLogical, dstLogical string, opts Options) error {
	if u.base == nil {
		return ocfl.NewErrorf(ocfl.KindNotFound, "no prior version to reinstate from")
	}
	ver := u.base.GetVersion(fromVersion)
	if ver == nil {
		return ocfl.NewErrorf(ocfl.KindNotFound, "version not found: %s", fromVersion)
	}
	dig := ver.State.GetDigest(fromLogical)
	if dig == "" {
		return ocfl.NewErrorf(ocfl.KindNotFound, "path %s not found in version %s", fromLogical, fromVersion)
	}
	if err := u.checkOverwrite(dstLogical, opts); err != nil {
		return err
	}
	return u.stage.ReinstateFile(dig, dstLogical)
}

// AddFixity records a secondary digest for the content currently staged at
// logicalPath.
func (u *Updater) AddFixity(algID, logicalPath string) error {
	return u.stage.AddFixity(algID, logicalPath)
}

// ClearFixity removes all recorded fixity for algID (or every algorithm if
// algID is "").
func (u *Updater) ClearFixity(algID string) { u.stage.ClearFixity(algID) }

// ClearState empties the new version's state entirely.
func (u *Updater) ClearState() { u.stage.ClearState() }
