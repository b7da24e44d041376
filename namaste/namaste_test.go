package namaste_test

import (
	"context"
	"io/fs"
	"testing"
	"testing/fstest"

	"github.com/matryer/is"

	"github.com/ocflkit/ocfl"
	"github.com/ocflkit/ocfl/fs/local"
	"github.com/ocflkit/ocfl/namaste"
)

func TestDeclarationNameAndContents(t *testing.T) {
	is := is.New(t)
	d := namaste.Declaration{Type: namaste.ObjectType, Version: ocfl.Spec1_1}
	is.Equal(d.Name(), "0=ocfl_object_1.1")
	is.Equal(d.Contents(), "ocfl_object_1.1\n")
}

func TestParseName(t *testing.T) {
	is := is.New(t)
	var d namaste.Declaration
	is.NoErr(namaste.ParseName("0=ocfl_1.0", &d))
	is.Equal(d.Type, namaste.StoreType)
	is.Equal(d.Version, ocfl.Spec1_0)

	is.True(namaste.ParseName("not-a-declaration", &d) != nil)
}

func TestFindDeclarationRequiresExactlyOne(t *testing.T) {
	is := is.New(t)

	none := fstest.MapFS{"readme.txt": &fstest.MapFile{}}
	noneEntries, err := fs.ReadDir(none, ".")
	is.NoErr(err)
	_, err = namaste.FindDeclaration(noneEntries)
	is.True(err != nil)

	one := fstest.MapFS{"0=ocfl_object_1.1": &fstest.MapFile{}}
	oneEntries, err := fs.ReadDir(one, ".")
	is.NoErr(err)
	dec, err := namaste.FindDeclaration(oneEntries)
	is.NoErr(err)
	is.Equal(dec.Type, namaste.ObjectType)
	is.Equal(dec.Version, ocfl.Spec1_1)

	many := fstest.MapFS{
		"0=ocfl_object_1.0": &fstest.MapFile{},
		"0=ocfl_object_1.1": &fstest.MapFile{},
	}
	manyEntries, err := fs.ReadDir(many, ".")
	is.NoErr(err)
	_, err = namaste.FindDeclaration(manyEntries)
	is.True(err != nil)
}

func TestWriteAndValidate(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	fsys, err := local.NewFS(t.TempDir())
	is.NoErr(err)

	d := namaste.Declaration{Type: namaste.ObjectType, Version: ocfl.Spec1_1}
	is.NoErr(d.Write(ctx, fsys, "obj"))
	is.NoErr(namaste.Validate(ctx, fsys, "obj/"+d.Name()))
}
