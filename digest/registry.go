package digest

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// ErrUnknownAlgorithm is returned by a Registry when asked for an algorithm
// it has no entry for.
var ErrUnknownAlgorithm = fmt.Errorf("unknown digest algorithm")

// registryCtxKey is the context.Context key used by ContextWithRegistry /
// RegistryFromContext.
type registryCtxKey struct{}

// Registry is a concurrency-safe set of named digest algorithms. A fresh
// Registry starts with the OCFL-required algorithms (sha512, sha256) plus
// the commonly used fixity algorithms (sha1, md5, blake2b-512 and its
// shorter variants, sha512/256), and can be extended by callers that need a
// non-standard algorithm for fixity.
type Registry struct {
	algs sync.Map
}

// NewRegistry returns a Registry seeded with the built-in algorithms.
func NewRegistry() *Registry {
	r := &Registry{}
	r.Add(SHA512, SHA256, SHA224, SHA1, MD5, BLAKE2B, BLAKE2B160, BLAKE2B256, BLAKE2B384, SHA512_256, SIZE)
	return r
}

// Add registers algs in r, overwriting any existing entry with the same ID.
func (r *Registry) Add(algs ...Algorithm) {
	for _, a := range algs {
		r.algs.Store(a.ID(), a)
	}
}

// Get returns the algorithm registered under id.
func (r *Registry) Get(id string) (Algorithm, error) {
	v, ok := r.algs.Load(id)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, id)
	}
	return v.(Algorithm), nil
}

// NewDigester returns a new Digester for id.
func (r *Registry) NewDigester(id string) (Digester, error) {
	a, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	return a.Digester(), nil
}

// MultiDigester streams a single io.Reader through several Digesters at
// once, grounded on the teacher's digest.Digester.Reader/ReadFrom pattern
// of wrapping an io.MultiWriter of per-algorithm hash.Hash values.
type MultiDigester struct {
	io.Writer
	digesters map[string]Digester
}

// NewMultiDigester returns a MultiDigester computing every algorithm in ids
// at once. At least one id is required.
func (r *Registry) NewMultiDigester(ids ...string) (*MultiDigester, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("digest: at least one algorithm is required")
	}
	writers := make([]io.Writer, 0, len(ids))
	digesters := make(map[string]Digester, len(ids))
	for _, id := range ids {
		d, err := r.NewDigester(id)
		if err != nil {
			return nil, err
		}
		digesters[id] = d
		writers = append(writers, d)
	}
	return &MultiDigester{Writer: io.MultiWriter(writers...), digesters: digesters}, nil
}

// Reader returns a reader that digests src as it is read by the caller.
func (m *MultiDigester) Reader(src io.Reader) io.Reader {
	return io.TeeReader(src, m)
}

// Sums returns the current digest values for every algorithm in m, keyed by
// algorithm ID.
func (m *MultiDigester) Sums() Set {
	set := make(Set, len(m.digesters))
	for id, d := range m.digesters {
		set[id] = d.String()
	}
	return set
}

// ContextWithRegistry returns a context carrying r, retrievable with
// RegistryFromContext.
func ContextWithRegistry(ctx context.Context, r *Registry) context.Context {
	return context.WithValue(ctx, registryCtxKey{}, r)
}

// RegistryFromContext returns the Registry stored in ctx, or a fresh
// NewRegistry if none is present.
func RegistryFromContext(ctx context.Context) *Registry {
	if v, ok := ctx.Value(registryCtxKey{}).(*Registry); ok {
		return v
	}
	return NewRegistry()
}
