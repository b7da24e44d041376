package ocfl

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// LPath is a logical file path: the name a file is known by inside a
// version state, using forward slashes regardless of platform.
type LPath string

// NewLPath validates and normalizes a caller-supplied logical path. It
// rejects absolute paths and paths that climb outside the version's root,
// matching the constraint every [MODULE] of the engine assumes of logical
// and content paths alike.
func NewLPath(p string) (LPath, error) {
	clean := path.Clean(filepath.ToSlash(p))
	if path.IsAbs(clean) {
		return "", fmt.Errorf("not a relative path: %s", p)
	}
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("path out of scope: %s", p)
	}
	for _, part := range strings.Split(clean, "/") {
		switch part {
		case "", ".", "..":
			return "", fmt.Errorf("path out of scope: %s", p)
		}
	}
	return LPath(clean), nil
}

func (p LPath) String() string { return string(p) }

// CPath is a content path: the path a file is stored at under an object's
// content directory (by default "content"), relative to the object root.
type CPath string

// NewCPath validates a content path the same way NewLPath does; the OCFL
// spec imposes identical constraints on both logical and content paths.
func NewCPath(p string) (CPath, error) {
	l, err := NewLPath(p)
	if err != nil {
		return "", err
	}
	return CPath(l), nil
}

func (p CPath) String() string { return string(p) }
