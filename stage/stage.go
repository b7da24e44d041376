// Package stage implements the staging area an object update accumulates
// its changes into before they are committed: a logical version state plus
// the new content that must be transferred into object storage to realize
// it.
package stage

import (
	"context"
	"fmt"
	"io"

	"github.com/ocflkit/ocfl/digest"
	ocflfs "github.com/ocflkit/ocfl/fs"
)

// ContentSource resolves a digest to the backend and path holding a staged
// file's content, so the commit step can copy it into object storage
// without buffering it in memory.
type ContentSource interface {
	// GetContent returns the FS and path holding the content for digest,
	// or a nil FS if the stage doesn't have it (the digest may already
	// exist in the object's manifest from an earlier version).
	GetContent(digest string) (ocflfs.FS, string)
}

// fsContentSource is the ContentSource built up by Stage.WriteFile and
// Stage.AddPath, backed by paths on a single source FS.
type fsContentSource struct {
	fsys  ocflfs.FS
	paths map[string]string // digest -> source path
}

func (s *fsContentSource) GetContent(dig string) (ocflfs.FS, string) {
	if s == nil {
		return nil, ""
	}
	p, ok := s.paths[dig]
	if !ok {
		return nil, ""
	}
	return s.fsys, p
}

// Stage accumulates the version state and new content for an in-progress
// object update. It is the engine's C7/C8 working area: callers mutate it
// through AddPath/WriteFile/RemoveFile/RenameFile/ReinstateFile/AddFixity
// /ClearFixity/ClearState, then hand it to object.Commit (or, for a
// mutable HEAD, object.BuildNextInventory and object.TransferContent) to
// realize it in storage.
type Stage struct {
	alg    digest.Algorithm
	reg    *digest.Registry
	state  *digest.Map
	src    *fsContentSource
	fixity map[string]*digest.Map // algID -> digest map keyed by the new content's logical path
}

// New returns an empty Stage using alg as the content digest algorithm, and
// srcFS as the backend new content is read from for AddPath/WriteFile.
func New(reg *digest.Registry, alg digest.Algorithm, srcFS ocflfs.FS) *Stage {
	return &Stage{
		alg:   alg,
		reg:   reg,
		state: digest.NewMap(),
		src:   &fsContentSource{fsys: srcFS, paths: map[string]string{}},
	}
}

// State returns the stage's current logical version state.
func (s *Stage) State() *digest.Map { return s.state }

// DigestAlg returns the stage's digest algorithm.
func (s *Stage) DigestAlg() digest.Algorithm { return s.alg }

// Content returns the stage's content source, for use by the commit step.
func (s *Stage) Content() ContentSource { return s.src }

// HasContent reports whether the stage can supply content for digest
// (as opposed to the digest already existing in the object's manifest).
func (s *Stage) HasContent(dig string) bool {
	_, ok := s.src.paths[dig]
	return ok
}

// AddPath adds the file at srcPath (on the stage's source FS) to the
// logical state at lpath, computing its digest by reading srcPath once.
func (s *Stage) AddPath(ctx context.Context, lpath, srcPath string) error {
	f, err := s.src.fsys.OpenFile(ctx, srcPath)
	if err != nil {
		return err
	}
	defer f.Close()
	d := s.alg.Digester()
	if _, err := io.Copy(d, f); err != nil {
		return err
	}
	sum := d.String()
	if err := s.addLogical(lpath, sum); err != nil {
		return err
	}
	s.src.paths[sum] = srcPath
	return nil
}

// WriteFile stages the content read from r under lpath, writing it to a
// caller-supplied staging backend at tmpPath and computing its digest as
// it streams through — content never needs to be read twice.
func (s *Stage) WriteFile(ctx context.Context, stagingFS ocflfs.WriteFS, tmpPath, lpath string, r io.Reader) error {
	d := s.alg.Digester()
	tee := io.TeeReader(r, d)
	if _, err := stagingFS.Write(ctx, tmpPath, tee); err != nil {
		return err
	}
	sum := d.String()
	if err := s.addLogical(lpath, sum); err != nil {
		return err
	}
	s.src.fsys = stagingFS
	s.src.paths[sum] = tmpPath
	return nil
}

// UnsafeAddPath adds lpath to the state with a caller-supplied digest,
// without reading or verifying the content at srcPath. It exists for
// callers that already trust a digest (e.g. replicating a version from
// another object) and accept responsibility for it being correct.
func (s *Stage) UnsafeAddPath(lpath, srcPath, dig string) error {
	if err := s.addLogical(lpath, dig); err != nil {
		return err
	}
	s.src.paths[dig] = srcPath
	return nil
}

func (s *Stage) addLogical(lpath, dig string) error {
	if s.state.GetDigest(lpath) != "" {
		return fmt.Errorf("stage: path already staged: %s", lpath)
	}
	return s.state.Add(dig, lpath)
}

// RemoveFile removes lpath from the logical state. It is not an error if
// lpath is not present.
func (s *Stage) RemoveFile(lpath string) {
	paths := s.state.AllPaths()
	if _, ok := paths[lpath]; !ok {
		return
	}
	newState := digest.NewMap()
	_ = s.state.EachPath(func(p, d string) error {
		if p == lpath {
			return nil
		}
		return newState.Add(d, p)
	})
	s.state = newState
}

// RenameFile moves the content at srcLogical to dstLogical within the
// logical state, without touching any content.
func (s *Stage) RenameFile(srcLogical, dstLogical string) error {
	dig := s.state.GetDigest(srcLogical)
	if dig == "" {
		return fmt.Errorf("stage: no such path: %s", srcLogical)
	}
	s.RemoveFile(srcLogical)
	return s.addLogical(dstLogical, dig)
}

// ReinstateFile adds dstLogical to the logical state under dig, a digest
// already known to the underlying object, without re-reading or re-staging
// bytes — it is how a deleted or superseded file can be restored from an
// earlier version's manifest.
func (s *Stage) ReinstateFile(dig, dstLogical string) error {
	return s.addLogical(dstLogical, dig)
}

// ClearState empties the logical state (but not staged content), so a
// caller can rebuild it from scratch, e.g. when replicating another
// version's full state.
func (s *Stage) ClearState() { s.state = digest.NewMap() }

// AddFixity records an additional digest, under algorithm algID, for the
// content already staged at lpath.
func (s *Stage) AddFixity(algID, lpath string) error {
	dig := s.state.GetDigest(lpath)
	if dig == "" {
		return fmt.Errorf("stage: no such path: %s", lpath)
	}
	srcFS, srcPath := s.src.GetContent(dig)
	if srcFS == nil {
		return fmt.Errorf("stage: no content source for: %s", lpath)
	}
	f, err := srcFS.OpenFile(context.Background(), srcPath)
	if err != nil {
		return err
	}
	defer f.Close()
	d, err := s.reg.NewDigester(algID)
	if err != nil {
		return err
	}
	if _, err := io.Copy(d, f); err != nil {
		return err
	}
	if s.fixity == nil {
		s.fixity = map[string]*digest.Map{}
	}
	if s.fixity[algID] == nil {
		s.fixity[algID] = digest.NewMap()
	}
	return s.fixity[algID].Add(d.String(), lpath)
}

// ClearFixity removes all recorded fixity for algID, or every algorithm if
// algID is empty.
func (s *Stage) ClearFixity(algID string) {
	if algID == "" {
		s.fixity = nil
		return
	}
	delete(s.fixity, algID)
}

// Fixity returns the stage's recorded fixity digests, keyed by algorithm.
func (s *Stage) Fixity() map[string]*digest.Map { return s.fixity }
