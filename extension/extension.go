// Package extension implements the OCFL storage-root layout extensions
// used to map object identifiers to storage-root-relative paths.
package extension

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/json"
	"errors"
	"fmt"
	"hash"

	"golang.org/x/crypto/blake2b"
)

const (
	extensionName = "extensionName"
	extensionsDir = "extensions"
)

var (
	ErrNotLayout       = errors.New("extension: not a layout extension")
	ErrUnknown         = errors.New("extension: unrecognized extension")
	ErrInvalidLayoutID = errors.New("extension: invalid object id for layout")
)

// Extension is any OCFL storage-root or object extension.
type Extension interface {
	// Name returns the extension's registered number and slug, e.g.
	// "0003-hash-and-id-n-tuple-storage-layout".
	Name() string
}

// Layout is an Extension that maps an object ID to the path (relative to
// the storage root) where the object is stored.
type Layout interface {
	Extension
	Resolve(id string) (path string, err error)
}

// Base is embedded by layout extensions to supply Name() from the shared
// "extensionName" field, which its json tag provides.
type Base struct {
	ExtensionName string `json:"extensionName"`
}

func (b Base) Name() string { return b.ExtensionName }

func getAlg(name string) hash.Hash {
	switch name {
	case "sha512":
		return sha512.New()
	case "sha256":
		return sha256.New()
	case "sha1":
		return sha1.New()
	case "md5":
		return md5.New()
	case "blake2b-512":
		h, err := blake2b.New512(nil)
		if err != nil {
			panic("extension: creating blake2b hash")
		}
		return h
	default:
		return nil
	}
}

// Registry is an immutable lookup of layout-extension constructors, keyed
// by extension name.
type Registry struct {
	exts map[string]func() Extension
}

// NewRegistry returns a Registry for the given extension constructors.
func NewRegistry(extFns ...func() Extension) Registry {
	r := Registry{exts: make(map[string]func() Extension, len(extFns))}
	for _, fn := range extFns {
		r.exts[fn().Name()] = fn
	}
	return r
}

// DefaultRegistry returns a Registry holding every layout extension this
// engine implements.
func DefaultRegistry() Registry {
	return NewRegistry(
		Ext0002, Ext0003, Ext0004, Ext0006, Ext0007, ExtPairTree,
	)
}

// New returns a new default-valued Extension for name.
func (r Registry) New(name string) (Extension, error) {
	fn, ok := r.exts[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknown, name)
	}
	return fn(), nil
}

// NewLayout is New, additionally confirming the extension is a Layout.
func (r Registry) NewLayout(name string) (Layout, error) {
	ext, err := r.New(name)
	if err != nil {
		return nil, err
	}
	layout, ok := ext.(Layout)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotLayout, name)
	}
	return layout, nil
}

// Append returns a new Registry with extFns added to (or overriding) r.
func (r Registry) Append(extFns ...func() Extension) Registry {
	newR := Registry{exts: make(map[string]func() Extension, len(r.exts)+len(extFns))}
	for n, fn := range r.exts {
		newR.exts[n] = fn
	}
	for _, fn := range extFns {
		newR.exts[fn().Name()] = fn
	}
	return newR
}

// Names returns the names of every extension constructor in r.
func (r Registry) Names() []string {
	names := make([]string, 0, len(r.exts))
	for name := range r.exts {
		names = append(names, name)
	}
	return names
}

// Unmarshal decodes an extension's config.json, dispatching on its
// "extensionName" field to construct the right concrete type.
func (r Registry) Unmarshal(config []byte) (Extension, error) {
	var tmp struct {
		Name string `json:"extensionName"`
	}
	if err := json.Unmarshal(config, &tmp); err != nil {
		return nil, err
	}
	ext, err := r.New(tmp.Name)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(config, ext); err != nil {
		return nil, err
	}
	return ext, nil
}
