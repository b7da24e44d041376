package object

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"time"

	"github.com/ocflkit/ocfl"
	"github.com/ocflkit/ocfl/digest"
	ocflfs "github.com/ocflkit/ocfl/fs"
	"github.com/ocflkit/ocfl/inventory"
	"github.com/ocflkit/ocfl/namaste"
	"github.com/ocflkit/ocfl/stage"
	"golang.org/x/sync/errgroup"
)

const defaultContentDir = "content"

// commitOpt is the internal option state for Commit, grounded on
// ocflv1/commit.go's commitOpt/CommitOption pair.
type commitOpt struct {
	spec           ocfl.Spec
	storeSpec      ocfl.Spec
	user           *inventory.User
	message        string
	created        time.Time
	allowUnchanged bool
	contentDir     string
	padding        int
	requireHEAD    int
	pathFn         func(lpath string) string
	logger         *slog.Logger
	concurrency    int
}

// CommitOption configures a Commit call.
type CommitOption func(*commitOpt)

// WithOCFLSpec sets the OCFL spec version recorded in the new inventory.
func WithOCFLSpec(spec ocfl.Spec) CommitOption { return func(o *commitOpt) { o.spec = spec } }

// WithStoreSpec is used internally by the repository engine to pass the
// storage root's spec, which bounds the object's spec from above.
func WithStoreSpec(spec ocfl.Spec) CommitOption { return func(o *commitOpt) { o.storeSpec = spec } }

// WithContentDir sets the content directory name for a new object; ignored
// when updating an existing object.
func WithContentDir(cd string) CommitOption { return func(o *commitOpt) { o.contentDir = cd } }

// WithVersionPadding sets the version number zero-padding width for a new
// object; ignored when updating an existing object.
func WithVersionPadding(p int) CommitOption { return func(o *commitOpt) { o.padding = p } }

// WithHEAD constrains the commit to produce the given version number,
// failing otherwise — used to detect a lost update race.
func WithHEAD(v int) CommitOption { return func(o *commitOpt) { o.requireHEAD = v } }

// WithMessage sets the new version's message.
func WithMessage(msg string) CommitOption { return func(o *commitOpt) { o.message = msg } }

// WithUser sets the new version's user.
func WithUser(u *inventory.User) CommitOption { return func(o *commitOpt) { o.user = u } }

// WithCreated overrides the new version's created timestamp (default: now).
func WithCreated(t time.Time) CommitOption { return func(o *commitOpt) { o.created = t } }

// WithManifestPathFunc overrides how a logical path is mapped to its content
// path under the new version's content directory. The default is identity.
func WithManifestPathFunc(fn func(lpath string) string) CommitOption {
	return func(o *commitOpt) { o.pathFn = fn }
}

// WithLogger sets the logger used during commit.
func WithLogger(l *slog.Logger) CommitOption { return func(o *commitOpt) { o.logger = l } }

// WithAllowUnchanged permits committing a version whose state is identical
// to the existing head version's.
func WithAllowUnchanged(v bool) CommitOption { return func(o *commitOpt) { o.allowUnchanged = v } }

// WithConcurrency bounds the number of files transferred into the object
// concurrently during commit.
func WithConcurrency(n int) CommitOption { return func(o *commitOpt) { o.concurrency = n } }

// Commit realizes u's staged changes as a new version of the OCFL object at
// objPath, creating the object if it doesn't already exist. It is the
// engine's single version-publish primitive, grounded directly on
// ocflv1/commit.go's Commit: build the new inventory, declare the object if
// new, transfer new content (bounded concurrency), then write the version
// and root inventories. Any error is an *ocfl.RepoError; Dirty is set once
// storage may have been partially mutated.
func Commit(ctx context.Context, fsys ocflfs.WriteFS, objPath, objID string, u *Updater, optFuncs ...CommitOption) error {
	opts := &commitOpt{
		created:     time.Now().UTC(),
		contentDir:  defaultContentDir,
		logger:      slog.New(discardHandler{}),
		concurrency: 4,
	}
	for _, f := range optFuncs {
		f(opts)
	}
	opts.created = opts.created.Truncate(time.Second)
	opts.logger = opts.logger.With("object_path", objPath, "object_id", objID)

	existing, err := GetObject(ctx, fsys, objPath)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return ocfl.NewErrorf(ocfl.KindIO, "checking for existing object: %w", err)
	}

	var base *inventory.Inventory
	newHead := ocfl.V(1, opts.padding)
	if existing != nil {
		base = existing.Inventory
		if base.ID != objID {
			return ocfl.NewErrorf(ocfl.KindInput, "object at %s has id %q, not %q", objPath, base.ID, objID)
		}
		alg := u.stage.DigestAlg().ID()
		if base.DigestAlgorithm != alg {
			return ocfl.NewErrorf(ocfl.KindInput, "object's digest algorithm (%s) doesn't match stage's (%s)", base.DigestAlgorithm, alg)
		}
		next, err := base.Head.Next()
		if err != nil {
			return ocfl.NewErrorf(ocfl.KindInput, "%w", err)
		}
		newHead = next
		head := base.GetVersion(ocfl.Head)
		if head == nil {
			return ocfl.NewErrorf(ocfl.KindCorrupt, "existing inventory has no head version state")
		}
		if !opts.allowUnchanged && stateEqual(head.State, u.stage.State()) {
			return ocfl.NewErrorf(ocfl.KindInput, "new version would have the same state as the existing head version")
		}
	}
	if opts.requireHEAD > 0 && newHead.Num() != opts.requireHEAD {
		return ocfl.NewError(ocfl.KindOutOfSync, fmt.Errorf(
			"commit requires version %d but the object's next version is %d", opts.requireHEAD, newHead.Num()))
	}

	newSpec := opts.spec
	if newSpec.Empty() {
		switch {
		case !opts.storeSpec.Empty():
			newSpec = opts.storeSpec
		case base != nil:
			newSpec = base.Type.Spec
		default:
			newSpec = ocfl.Spec1_1
		}
	}
	if !opts.storeSpec.Empty() && newSpec.Cmp(opts.storeSpec) > 0 {
		return ocfl.NewErrorf(ocfl.KindState, "new version's OCFL spec can't exceed the storage root's (%s)", opts.storeSpec)
	}
	if base != nil && newSpec.Cmp(base.Type.Spec) < 0 {
		return ocfl.NewErrorf(ocfl.KindState, "new version's OCFL spec can't be lower than the object's current (%s)", base.Type.Spec)
	}

	invParams := InventoryParams{
		ContentDir: opts.contentDir,
		PathFn:     opts.pathFn,
		Created:    opts.created,
		Message:    opts.message,
		User:       opts.user,
	}
	if base != nil {
		cd := base.ContentDirectory
		if cd == "" {
			cd = defaultContentDir
		}
		invParams.ContentDir = cd
	}
	newInv, xfers, err := BuildNextInventory(base, u.stage, objID, newHead, invParams, newSpec)
	if err != nil {
		return ocfl.NewErrorf(ocfl.KindInput, "building new inventory: %w", err)
	}

	if base == nil {
		decl := namaste.Declaration{Type: namaste.ObjectType, Version: newSpec}
		if err := decl.Write(ctx, fsys, objPath); err != nil {
			return &ocfl.RepoError{Kind: ocfl.KindIO, Err: err, Dirty: true}
		}
	}
	if len(xfers) > 0 {
		if err := TransferContent(ctx, fsys, objPath, xfers, u.stage.Content(), opts.concurrency); err != nil {
			return &ocfl.RepoError{Kind: ocfl.KindIO, Err: fmt.Errorf("transferring new content: %w", err), Dirty: true}
		}
	}
	vDir := path.Join(objPath, newInv.Head.String())
	if err := inventory.Write(ctx, fsys, newInv, objPath, vDir); err != nil {
		return &ocfl.RepoError{Kind: ocfl.KindIO, Err: fmt.Errorf("writing inventories: %w", err), Dirty: true}
	}
	return nil
}

func stateEqual(a, b *digest.Map) bool {
	ap, bp := a.AllPaths(), b.AllPaths()
	if len(ap) != len(bp) {
		return false
	}
	for p, d := range ap {
		if bp[p] != d {
			return false
		}
	}
	return true
}

// InventoryParams carries the per-version fields BuildNextInventory needs
// that aren't derivable from base or the stage, so callers outside this
// package (the repository engine's mutable-HEAD path) can reuse it too.
type InventoryParams struct {
	ContentDir string
	PathFn     func(lpath string) string
	Created    time.Time
	Message    string
	User       *inventory.User
	// VersionDir overrides head.String() as the leading path segment new
	// content is placed under. Empty means use head.String(), the normal
	// "vN/content/..." case; the mutable-HEAD commit path sets this to its
	// working directory ("extensions/0005-mutable-head/head") since new
	// revisions are staged there rather than directly under a vN directory.
	VersionDir string
}

// BuildNextInventory derives the new inventory from base (nil for a new
// object) plus the stage's version state, assigning content paths to any
// digest the base manifest doesn't already have. It returns the set of
// newly assigned content paths (digest -> paths) that must be transferred
// from the stage's content source, grounded on ocflv1/commit.go's
// NewInventory/NextVersionInventory/xferMap trio, adapted to this module's
// digest.Map and stage.Stage types. Exported so the repository engine's
// mutable-HEAD commit path (which writes to extensions/0005-mutable-head/
// rather than a vN directory) can share the same inventory-assembly logic.
func BuildNextInventory(base *inventory.Inventory, st *stage.Stage, objID string, head ocfl.VNum, p InventoryParams, spec ocfl.Spec) (*inventory.Inventory, *digest.Map, error) {
	manifest := digest.NewMap()
	contentDir := p.ContentDir
	if contentDir == "" {
		contentDir = defaultContentDir
	}
	alg := st.DigestAlg().ID()
	versions := map[ocfl.VNum]*inventory.Version{}
	fixity := map[string]*digest.Map{}
	if base != nil {
		contentDir = base.ContentDirectory
		if contentDir == "" {
			contentDir = defaultContentDir
		}
		manifest = base.Manifest.Copy()
		for v, ver := range base.Versions {
			versions[v] = ver
		}
		for algID, m := range base.Fixity {
			fixity[algID] = m.Copy()
		}
	}

	xfers := digest.NewMap()
	assigned := map[string]string{} // digest -> content path chosen this version
	err := st.State().EachPath(func(lpath, dig string) error {
		if manifest.DigestExists(dig) {
			return nil
		}
		if _, ok := assigned[dig]; ok {
			return nil
		}
		cpath := lpath
		if p.PathFn != nil {
			cpath = p.PathFn(lpath)
		}
		versionDir := p.VersionDir
		if versionDir == "" {
			versionDir = head.String()
		}
		full := path.Join(versionDir, contentDir, cpath)
		if err := manifest.Add(dig, full); err != nil {
			return err
		}
		if err := xfers.Add(dig, full); err != nil {
			return err
		}
		assigned[dig] = full
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	for algID, m := range st.Fixity() {
		if fixity[algID] == nil {
			fixity[algID] = digest.NewMap()
		}
		addErr := m.EachPath(func(lpath, secondary string) error {
			dig := st.State().GetDigest(lpath)
			if dig == "" {
				return nil
			}
			for _, cp := range manifest.DigestPaths(dig) {
				if fixity[algID].GetDigest(cp) == secondary {
					continue
				}
				if err := fixity[algID].Add(secondary, cp); err != nil {
					return err
				}
			}
			return nil
		})
		if addErr != nil {
			return nil, nil, addErr
		}
	}

	versions[head] = &inventory.Version{
		Created: p.Created,
		State:   st.State(),
		Message: p.Message,
		User:    p.User,
	}

	newInv := &inventory.Inventory{
		ID:               objID,
		Type:             spec.InventoryType(),
		DigestAlgorithm:  alg,
		Head:             head,
		ContentDirectory: contentDir,
		Manifest:         manifest,
		Versions:         versions,
		Fixity:           fixity,
	}
	return newInv, xfers, nil
}

// TransferContent transfers the digests in xfers from src into fsys under
// objPath, bounding concurrency with an errgroup, grounded on
// ocflv1/commit.go's commitCopy. Exported for reuse by the repository
// engine's mutable-HEAD commit path.
func TransferContent(ctx context.Context, fsys ocflfs.WriteFS, objPath string, xfers *digest.Map, src stage.ContentSource, concurrency int) error {
	if concurrency < 1 {
		concurrency = 1
	}
	grp, gctx := errgroup.WithContext(ctx)
	grp.SetLimit(concurrency)
	err := xfers.EachPath(func(dstRel, dig string) error {
		srcFS, srcPath := src.GetContent(dig)
		if srcFS == nil {
			return fmt.Errorf("stage has no content for digest %s", dig)
		}
		dst := path.Join(objPath, dstRel)
		grp.Go(func() error {
			_, err := ocflfs.Copy(gctx, fsys, dst, srcFS, srcPath)
			return err
		})
		return nil
	})
	if err != nil {
		return err
	}
	return grp.Wait()
}

// discardHandler is a slog.Handler that discards everything, used as the
// default logger when the caller doesn't supply one — mirroring the
// teacher's logging.DisabledLogger().
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (h discardHandler) WithAttrs([]slog.Attr) slog.Handler       { return h }
func (h discardHandler) WithGroup(string) slog.Handler            { return h }
