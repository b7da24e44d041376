package digest

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"strings"
)

// DigestConflictErr indicates the same digest (up to case) appears twice in
// a Map, or a path was added under a digest whose normalized form already
// exists under a different case.
type DigestConflictErr struct{ Digest string }

func (e *DigestConflictErr) Error() string { return "digest conflict: " + e.Digest }

// PathConflictErr indicates a path appears twice in a Map.
type PathConflictErr struct{ Path string }

func (e *PathConflictErr) Error() string { return "path conflict: " + e.Path }

// PathInvalidErr indicates a path is not a valid logical or content path.
type PathInvalidErr struct{ Path string }

func (e *PathInvalidErr) Error() string { return "invalid path: " + e.Path }

// BasePathErr indicates one path is an ancestor directory of another,
// which OCFL forbids since every path component of a Map must resolve
// consistently to either a file or a directory, never both.
type BasePathErr struct{ Path string }

func (e *BasePathErr) Error() string { return "base path error: " + e.Path }

// Map is the reverse-index bimap (digest -> paths, path -> digest)
// underlying an inventory's manifest, a version's state, and a fixity
// block. OCFL requires digest string case to be preserved exactly as
// written (manifest and state entries must match byte-for-byte), so Map
// never lowercases a digest it stores — it only uses a lowercased form
// internally to detect same-digest-different-case conflicts.
type Map struct {
	digests     map[string][]string
	files       map[string]string
	dirs        map[string]struct{}
	normDigests map[string]struct{}
}

// NewMap returns an empty Map.
func NewMap() *Map {
	return &Map{digests: make(map[string][]string)}
}

// Add records that digest identifies the content at logical/content path p.
// It fails if p is not a valid relative path, p was already added, p is an
// ancestor or descendant of an existing path's directory, or digest
// conflicts (case-insensitively) with an existing, differently-cased
// digest.
func (dm *Map) Add(digest string, p string) error {
	if digest == "" {
		return fmt.Errorf("add: digest must not be empty")
	}
	if !validPath(p) {
		return &PathInvalidErr{p}
	}
	if dm.isDirty() {
		if err := dm.init(); err != nil {
			return fmt.Errorf("digest map has error: %w", err)
		}
	}
	norm := normalizeDigest(digest)
	_, digestExists := dm.digests[digest]
	_, normExists := dm.normDigests[norm]
	if !digestExists && normExists {
		return fmt.Errorf("add: %w", &DigestConflictErr{digest})
	}
	if _, exists := dm.files[p]; exists {
		return fmt.Errorf("add: %w", &PathConflictErr{p})
	}
	if err := dm.addParents(p); err != nil {
		return fmt.Errorf("add: %w", err)
	}
	dm.files[p] = digest
	dm.digests[digest] = append(dm.digests[digest], p)
	dm.normDigests[norm] = struct{}{}
	return nil
}

// Copy returns an independent copy of dm.
func (dm *Map) Copy() *Map {
	m := NewMap()
	for digest, paths := range dm.digests {
		cp := make([]string, len(paths))
		copy(cp, paths)
		m.digests[digest] = cp
	}
	return m
}

// GetDigest returns the digest recorded for path p, or "" if none.
func (dm *Map) GetDigest(p string) string {
	if dm.isDirty() && dm.init() != nil {
		return ""
	}
	return dm.files[p]
}

// EachPath calls fn once per (path, digest) pair in dm, stopping and
// returning the first non-nil error fn returns.
func (dm *Map) EachPath(fn func(name, digest string) error) error {
	for d, paths := range dm.digests {
		for _, p := range paths {
			if err := fn(p, d); err != nil {
				return err
			}
		}
	}
	return nil
}

// AllDigests returns the set of digests recorded in dm.
func (dm *Map) AllDigests() map[string]struct{} {
	ret := make(map[string]struct{}, len(dm.digests))
	for d := range dm.digests {
		ret[d] = struct{}{}
	}
	return ret
}

// DigestExists reports whether d is recorded in dm.
func (dm *Map) DigestExists(d string) bool {
	_, exists := dm.digests[d]
	return exists
}

// AllPaths returns a copy of the path->digest mapping.
func (dm *Map) AllPaths() map[string]string {
	if dm == nil || (dm.isDirty() && dm.init() != nil) {
		return nil
	}
	ret := make(map[string]string, len(dm.files))
	for f, d := range dm.files {
		ret[f] = d
	}
	return ret
}

// DigestPaths returns the paths recorded under digest.
func (dm *Map) DigestPaths(digest string) []string {
	return append(make([]string, 0, len(dm.digests[digest])), dm.digests[digest]...)
}

// Valid reports whether dm is internally consistent, re-deriving its
// indexes in the process.
func (dm *Map) Valid() error {
	dm.setDirty()
	return dm.init()
}

// Len returns the number of distinct paths recorded in dm.
func (dm *Map) Len() int {
	n := 0
	for _, paths := range dm.digests {
		n += len(paths)
	}
	return n
}

func (dm *Map) init() error {
	dm.files = map[string]string{}
	dm.dirs = map[string]struct{}{}
	dm.normDigests = map[string]struct{}{}
	for d, paths := range dm.digests {
		norm := normalizeDigest(d)
		if _, exists := dm.normDigests[norm]; exists {
			dm.setDirty()
			return &DigestConflictErr{d}
		}
		dm.normDigests[norm] = struct{}{}
		for _, p := range paths {
			if _, exists := dm.files[p]; exists {
				dm.setDirty()
				return &PathConflictErr{p}
			}
			dm.files[p] = d
			if err := dm.addParents(p); err != nil {
				dm.setDirty()
				return err
			}
		}
	}
	return nil
}

func (dm *Map) setDirty() {
	dm.files = nil
	dm.dirs = nil
	dm.normDigests = nil
}

func (dm *Map) isDirty() bool {
	return dm.files == nil || dm.dirs == nil || dm.normDigests == nil
}

func (dm *Map) addParents(file string) error {
	parents, err := parentDirs(file)
	if err != nil {
		return err
	}
	if dm.isDirty() {
		if err := dm.init(); err != nil {
			return err
		}
	}
	if _, exists := dm.dirs[file]; exists {
		return &BasePathErr{file}
	}
	for _, p := range parents {
		if _, exists := dm.files[p]; exists {
			return &BasePathErr{file}
		}
	}
	for _, p := range parents {
		dm.dirs[p] = struct{}{}
	}
	return nil
}

func validPath(p string) bool {
	if p == "." {
		return false
	}
	return fs.ValidPath(p)
}

// parentDirs returns every ancestor directory path of p, e.g.
// "a/b/c/d" -> ["a", "a/b", "a/b/c"].
func parentDirs(p string) ([]string, error) {
	if !validPath(p) {
		return nil, &PathInvalidErr{p}
	}
	p = path.Clean(p)
	names := strings.Split(path.Dir(p), "/")
	if names[0] == "." {
		return nil, nil
	}
	ret := make([]string, len(names))
	for i := range names {
		ret[i] = strings.Join(names[0:i+1], "/")
	}
	return ret, nil
}

func normalizeDigest(d string) string { return strings.ToLower(d) }

func (dm *Map) UnmarshalJSON(b []byte) error {
	return json.Unmarshal(b, &dm.digests)
}

func (dm Map) MarshalJSON() ([]byte, error) {
	return json.Marshal(dm.digests)
}
