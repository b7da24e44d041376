// Package repo implements the repository engine: the public contract that
// glues the digest, extension-layout, storage-backend, staging, lock and
// cache packages into put/get/update/read/describe/rollback/replicate/purge
// /export/import operations over an OCFL storage root, grounded on
// ocflv1/store.go's Store type and ocflv1/commit.go's Commit orchestration.
package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/ocflkit/ocfl"
	"github.com/ocflkit/ocfl/cache"
	"github.com/ocflkit/ocfl/digest"
	"github.com/ocflkit/ocfl/extension"
	ocflfs "github.com/ocflkit/ocfl/fs"
	"github.com/ocflkit/ocfl/inventory"
	"github.com/ocflkit/ocfl/lock"
	"github.com/ocflkit/ocfl/namaste"
	"github.com/ocflkit/ocfl/object"
)

const (
	layoutFile          = "ocfl_layout.json"
	extensionsDir       = "extensions"
	extensionConfigFile = "config.json"
	mutableHeadExt      = "0005-mutable-head"

	descriptionKey = "description"
	extensionKey   = "extension"
)

// Config configures a Repository. A nil field takes the documented
// default, mirroring the zero-value-is-usable style of ocflv1's
// CommitOption/InitStoreConf pair.
type Config struct {
	DigestRegistry    *digest.Registry    // default: digest.NewRegistry()
	ExtensionRegistry extension.Registry  // default: extension.DefaultRegistry()
	DigestAlgorithm   string              // default: "sha512"
	Lock              lock.Lock           // default: lock.NewInProcess()
	Cache             cache.Cache         // default: nil (disabled)
	LockTimeout       time.Duration       // default: 30s
	Logger            *slog.Logger        // default: slog.Default()
}

func (c *Config) withDefaults() *Config {
	out := Config{}
	if c != nil {
		out = *c
	}
	if out.DigestRegistry == nil {
		out.DigestRegistry = digest.NewRegistry()
	}
	if len(out.ExtensionRegistry.Names()) == 0 {
		out.ExtensionRegistry = extension.DefaultRegistry()
	}
	if out.DigestAlgorithm == "" {
		out.DigestAlgorithm = digest.SHA512.ID()
	}
	if out.Lock == nil {
		out.Lock = lock.NewInProcess()
	}
	if out.LockTimeout <= 0 {
		out.LockTimeout = 30 * time.Second
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	return &out
}

// Repository is an open OCFL storage root plus the engine's supporting
// services (digest registry, layout, lock, cache).
type Repository struct {
	fsys   ocflfs.WriteFS
	root   string
	spec   ocfl.Spec
	layout extension.Layout
	extReg extension.Registry
	digReg *digest.Registry
	alg    digest.Algorithm

	lock        lock.Lock
	lockTimeout time.Duration
	cache       cache.Cache
	logger      *slog.Logger
}

// VersionInfo carries the per-commit metadata an OCFL version record
// stores: when it was created, who created it, and why.
type VersionInfo struct {
	Message string
	User    *inventory.User
	Created time.Time
}

// InitConf configures Init.
type InitConf struct {
	Spec        ocfl.Spec // default ocfl.Spec1_1
	Description string
	Layout      extension.Layout // default extension.Ext0003 (hashed-n-tuple, no id-to-path tricks needed)
	Extensions  []extension.Extension
}

// Init creates a new, empty OCFL storage root at root on fsys and returns a
// Repository open on it, grounded on ocflv1/store.go's InitStore.
func Init(ctx context.Context, fsys ocflfs.WriteFS, root string, conf *InitConf, rconf *Config) (*Repository, error) {
	if conf == nil {
		conf = &InitConf{}
	}
	spec := conf.Spec
	if spec.Empty() {
		spec = ocfl.Spec1_1
	}
	if err := spec.Valid(); err != nil {
		return nil, ocfl.NewErrorf(ocfl.KindInput, "storage root spec: %w", err)
	}
	layout := conf.Layout
	if layout == nil {
		l, err := extension.DefaultRegistry().NewLayout(extension.Ext0003().Name())
		if err != nil {
			return nil, ocfl.NewError(ocfl.KindInput, err)
		}
		layout = l
	}
	entries, err := ocflfs.ReadDir(ctx, fsys, root)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, ocfl.NewError(ocfl.KindIO, err)
	}
	if len(entries) > 0 {
		return nil, ocfl.NewErrorf(ocfl.KindOverwrite, "storage root %s is not empty", root)
	}
	decl := namaste.Declaration{Type: namaste.StoreType, Version: spec}
	if err := decl.Write(ctx, fsys, root); err != nil {
		return nil, ocfl.NewError(ocfl.KindIO, err)
	}
	cfg := map[string]string{descriptionKey: conf.Description, extensionKey: layout.Name()}
	if err := writeJSON(ctx, fsys, path.Join(root, layoutFile), cfg); err != nil {
		return nil, ocfl.NewError(ocfl.KindIO, err)
	}
	for _, e := range append(append([]extension.Extension{}, conf.Extensions...), layout) {
		confPath := path.Join(root, extensionsDir, e.Name(), extensionConfigFile)
		if err := writeJSON(ctx, fsys, confPath, e); err != nil {
			return nil, ocfl.NewError(ocfl.KindIO, err)
		}
	}
	return Open(ctx, fsys, root, rconf)
}

// Open returns a Repository for the existing OCFL storage root at root on
// fsys, reading its declaration and ocfl_layout.json, grounded on
// ocflv1/store.go's GetStore/ReadLayout.
func Open(ctx context.Context, fsys ocflfs.WriteFS, root string, rconf *Config) (*Repository, error) {
	rc := rconf.withDefaults()
	entries, err := ocflfs.ReadDir(ctx, fsys, root)
	if err != nil {
		return nil, ocfl.NewErrorf(ocfl.KindNotFound, "opening storage root %s: %w", root, err)
	}
	decl, err := namaste.FindDeclaration(entries)
	if err != nil || decl.Type != namaste.StoreType {
		return nil, ocfl.NewErrorf(ocfl.KindCorrupt, "storage root %s: missing or invalid NAMASTE declaration", root)
	}
	alg, err := rc.DigestRegistry.Get(rc.DigestAlgorithm)
	if err != nil {
		return nil, ocfl.NewError(ocfl.KindInput, err)
	}
	r := &Repository{
		fsys:        fsys,
		root:        root,
		spec:        decl.Version,
		extReg:      rc.ExtensionRegistry,
		digReg:      rc.DigestRegistry,
		alg:         alg,
		lock:        rc.Lock,
		lockTimeout: rc.LockTimeout,
		cache:       rc.Cache,
		logger:      rc.Logger.With("storage_root", root),
	}
	cfg := map[string]string{}
	if b, err := ocflfs.ReadAll(ctx, fsys, path.Join(root, layoutFile)); err == nil {
		_ = json.Unmarshal(b, &cfg)
		if name := cfg[extensionKey]; name != "" {
			if ext, err := readExtensionConfig(ctx, fsys, root, name, rc.ExtensionRegistry); err == nil {
				if l, ok := ext.(extension.Layout); ok {
					r.layout = l
				}
			}
		}
	}
	return r, nil
}

// Spec returns the storage root's declared OCFL specification version.
func (r *Repository) Spec() ocfl.Spec { return r.spec }

func (r *Repository) resolvePath(id string) (string, error) {
	if r.layout == nil {
		return "", ocfl.NewErrorf(ocfl.KindInput, "storage root has no layout extension configured")
	}
	p, err := r.layout.Resolve(id)
	if err != nil {
		return "", ocfl.NewErrorf(ocfl.KindInput, "resolving object id %q: %w", id, err)
	}
	return path.Join(r.root, p), nil
}

func (r *Repository) mutableHeadDir(objPath string) string {
	return path.Join(objPath, extensionsDir, mutableHeadExt)
}

// hasMutableHead reports whether objPath currently has a mutable-HEAD
// inventory staged under extensions/0005-mutable-head/head/.
func (r *Repository) hasMutableHead(ctx context.Context, objPath string) (bool, error) {
	headDir := path.Join(r.mutableHeadDir(objPath), "head")
	_, err := ocflfs.StatFile(ctx, r.fsys, path.Join(headDir, "inventory.json"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, ocfl.NewError(ocfl.KindIO, err)
	}
	return true, nil
}

// refreshCache updates the object-details cache (if configured) from the
// object's current on-disk inventory.
func (r *Repository) refreshCache(ctx context.Context, objectID, objPath string, revisionNum int) error {
	if r.cache == nil {
		return nil
	}
	obj, err := object.GetObject(ctx, r.fsys, objPath)
	if err != nil {
		return ocfl.NewError(ocfl.KindIO, err)
	}
	return r.refreshCacheFrom(ctx, objectID, objPath, revisionNum, obj.Inventory)
}

// refreshCacheFrom upserts a cache row built from an already-loaded
// inventory, avoiding a redundant storage read when the caller has one in
// hand (notably getObject's cache-miss path).
func (r *Repository) refreshCacheFrom(ctx context.Context, objectID, objPath string, revisionNum int, inv *inventory.Inventory) error {
	if r.cache == nil {
		return nil
	}
	b, err := json.Marshal(inv)
	if err != nil {
		return ocfl.NewError(ocfl.KindIO, err)
	}
	row := cache.Details{
		ObjectID:        objectID,
		VersionNum:      inv.Head.Num(),
		RevisionNum:     revisionNum,
		ObjectRootPath:  objPath,
		InventoryDigest: inv.Digest(),
		DigestAlgorithm: inv.DigestAlgorithm,
		InventoryBytes:  b,
	}
	return r.cache.Upsert(ctx, row, cache.CheckNextVersion(row))
}

// refreshCacheRow upserts an explicit row, used by the mutable-HEAD path
// where the authoritative inventory lives outside the object root.
func (r *Repository) refreshCacheRow(ctx context.Context, row cache.Details) error {
	if r.cache == nil {
		return nil
	}
	return r.cache.Upsert(ctx, row, cache.CheckNextVersion(row))
}

// getObject returns objectID's Object, consulting the configured cache
// first (spec.md §4.10's short-circuit-reads purpose) before falling back
// to object.GetObject's storage read. object.GetObject's own signature
// carries no cache parameter — it has no notion of object identity, only a
// path — so the short-circuit lives here, in the one layer that knows both
// the object ID and the configured Cache.
func (r *Repository) getObject(ctx context.Context, objectID, objPath string) (*object.Object, error) {
	if r.cache != nil {
		if row, err := r.cache.Retrieve(ctx, objectID); err == nil && row != nil &&
			len(row.InventoryBytes) > 0 && row.ObjectRootPath == objPath {
			if inv, err := inventory.FromCachedBytes(row.InventoryBytes, row.InventoryDigest); err == nil {
				return &object.Object{Path: objPath, Inventory: inv}, nil
			}
		}
	}
	obj, err := object.GetObject(ctx, r.fsys, objPath)
	if err != nil {
		return nil, err
	}
	if err := r.refreshCacheFrom(ctx, objectID, objPath, 0, obj.Inventory); err != nil {
		return nil, err
	}
	return obj, nil
}

// copyVerified copies src (on the repository's backend) to dst (on destFS),
// failing with KindFixity if the bytes copied don't hash to want.
func (r *Repository) copyVerified(ctx context.Context, destFS ocflfs.WriteFS, dst, src string, alg digest.Algorithm, want string) error {
	f, err := r.fsys.OpenFile(ctx, src)
	if err != nil {
		return ocfl.NewError(ocfl.KindIO, err)
	}
	defer f.Close()
	d := alg.Digester()
	tee := io.TeeReader(f, d)
	if _, err := destFS.Write(ctx, dst, tee); err != nil {
		return ocfl.NewError(ocfl.KindIO, err)
	}
	if got := d.String(); !strings.EqualFold(got, want) {
		return ocfl.NewErrorf(ocfl.KindFixity, "content at %s: expected digest %s, got %s", src, want, got)
	}
	return nil
}

func writeJSON(ctx context.Context, fsys ocflfs.WriteFS, name string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", name, err)
	}
	_, err = fsys.Write(ctx, name, bytes.NewReader(b))
	return err
}

func readExtensionConfig(ctx context.Context, fsys ocflfs.FS, root, name string, reg extension.Registry) (extension.Extension, error) {
	confPath := path.Join(root, extensionsDir, name, extensionConfigFile)
	b, err := ocflfs.ReadAll(ctx, fsys, confPath)
	if err != nil {
		return nil, err
	}
	return reg.Unmarshal(b)
}
