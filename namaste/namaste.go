// Package namaste implements NAMASTE ("Name as Text") type declaration
// files, the "0=TYPE_VERSION" markers OCFL uses to tag storage roots and
// object roots with their spec version.
package namaste

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"regexp"
	"strings"

	"github.com/ocflkit/ocfl"
	ocflfs "github.com/ocflkit/ocfl/fs"
)

// Declaration type strings.
const (
	ObjectType = "ocfl_object"
	StoreType  = "ocfl"
)

var (
	ErrNotExist = errors.New("namaste: declaration not found")
	ErrMultiple = errors.New("namaste: multiple declarations found")
	ErrOpen     = errors.New("namaste: could not open declaration")
	ErrWrite    = errors.New("namaste: could not write declaration")
	ErrContents = errors.New("namaste: invalid declaration contents")

	namasteRE = regexp.MustCompile(`^0=([a-z_]+)_([0-9]+\.[0-9]+)$`)
)

// Declaration is a parsed "0=TYPE_VERSION" marker.
type Declaration struct {
	Type    string
	Version ocfl.Spec
}

// Name returns the marker's file name, e.g. "0=ocfl_object_1.1".
func (d Declaration) Name() string {
	if d.Type == "" || d.Version.Empty() {
		return ""
	}
	return "0=" + d.Type + "_" + string(d.Version)
}

// Contents returns the marker's required file contents.
func (d Declaration) Contents() string {
	if d.Type == "" || d.Version.Empty() {
		return ""
	}
	return d.Type + "_" + string(d.Version) + "\n"
}

// ParseName parses a marker file name into dec.
func ParseName(name string, dec *Declaration) error {
	m := namasteRE.FindStringSubmatch(name)
	if len(m) != 3 {
		return ErrNotExist
	}
	spec := ocfl.Spec(m[2])
	if err := spec.Valid(); err != nil {
		return ErrNotExist
	}
	dec.Type = m[1]
	dec.Version = spec
	return nil
}

// FindDeclaration returns the single declaration among items, failing if
// zero or more than one is present — an object or storage root must have
// exactly one type marker.
func FindDeclaration(items []fs.DirEntry) (Declaration, error) {
	var found []Declaration
	for _, e := range items {
		if e.IsDir() {
			continue
		}
		var dec Declaration
		if err := ParseName(e.Name(), &dec); err != nil {
			continue
		}
		found = append(found, dec)
	}
	switch len(found) {
	case 0:
		return Declaration{}, ErrNotExist
	case 1:
		return found[0], nil
	default:
		return Declaration{}, ErrMultiple
	}
}

// Validate confirms the declaration file named name exists under root and
// its contents match what its file name promises.
func Validate(ctx context.Context, root ocflfs.FS, name string) error {
	var d Declaration
	if err := ParseName(path.Base(name), &d); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := root.OpenFile(ctx, name)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrOpen, err)
	}
	defer f.Close()
	got, err := io.ReadAll(f)
	if err != nil {
		return err
	}
	if string(got) != d.Contents() {
		return ErrContents
	}
	return nil
}

// Write writes d's declaration file into dir.
func (d Declaration) Write(ctx context.Context, root ocflfs.WriteFS, dir string) error {
	_, err := root.Write(ctx, path.Join(dir, d.Name()), strings.NewReader(d.Contents()))
	if err != nil {
		return fmt.Errorf("%w: %s", ErrWrite, err)
	}
	return nil
}
