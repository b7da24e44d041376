// Package object implements a single OCFL object: reading its inventory
// with crash-tolerant fallback, and committing new versions through an
// Updater built from the engine's staging area.
package object

import (
	"context"
	"errors"
	"io/fs"
	"path"

	"github.com/ocflkit/ocfl"
	ocflfs "github.com/ocflkit/ocfl/fs"
	"github.com/ocflkit/ocfl/inventory"
	"github.com/ocflkit/ocfl/namaste"
)

// Object is an OCFL object root that has been opened and its inventory
// parsed.
type Object struct {
	Path      string
	Inventory *inventory.Inventory
}

// GetObject opens the object rooted at objPath, validating its NAMASTE
// declaration and reading its inventory. If the root inventory is stale
// relative to a version directory left behind by an interrupted commit (the
// version directory is the single atomic publish point; the root-inventory
// copy can lag it), the version directory's own inventory is preferred —
// matching the crash/recovery semantics spec.md describes. A version
// directory with no readable inventory of its own is treated as a ghost of
// an aborted write and ignored, per the engine's resolution of spec.md's
// head-vs-stray-directory open question.
func GetObject(ctx context.Context, fsys ocflfs.FS, objPath string) (*Object, error) {
	entries, err := ocflfs.ReadDir(ctx, fsys, objPath)
	if err != nil {
		return nil, err
	}
	if _, err := namaste.FindDeclaration(entries); err != nil {
		return nil, ocfl.NewErrorf(ocfl.KindCorrupt, "object root %s: %w", objPath, err)
	}
	rootInv, err := inventory.Read(ctx, fsys, objPath)
	if err != nil {
		return nil, ocfl.NewErrorf(ocfl.KindCorrupt, "reading inventory at %s: %w", objPath, err)
	}
	var maxV ocfl.VNum
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		var v ocfl.VNum
		if ocfl.ParseVNum(e.Name(), &v) != nil {
			continue
		}
		if maxV.IsZero() || v.Num() > maxV.Num() {
			maxV = v
		}
	}
	if !maxV.IsZero() && maxV.Num() > rootInv.Head.Num() {
		vDir := path.Join(objPath, maxV.String())
		if vInv, err := inventory.Read(ctx, fsys, vDir); err == nil && vInv.Head == maxV {
			rootInv = vInv
		}
	}
	return &Object{Path: objPath, Inventory: rootInv}, nil
}

// Exists reports whether an object root (any NAMASTE object declaration)
// exists at objPath.
func Exists(ctx context.Context, fsys ocflfs.FS, objPath string) (bool, error) {
	entries, err := ocflfs.ReadDir(ctx, fsys, objPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if _, err := namaste.FindDeclaration(entries); err != nil {
		return false, nil
	}
	return true, nil
}
