package extension_test

import (
	"testing"

	"github.com/matryer/is"

	"github.com/ocflkit/ocfl/extension"
)

func TestFlatDirectResolveIsIdentity(t *testing.T) {
	is := is.New(t)
	l := extension.Ext0002().(extension.Layout)
	p, err := l.Resolve("urn:test:obj-1")
	is.NoErr(err)
	is.Equal(p, "urn:test:obj-1")
}

func TestHashIDTupleResolveIsDeterministic(t *testing.T) {
	is := is.New(t)
	l := extension.Ext0003().(extension.Layout)
	p1, err := l.Resolve("urn:test:obj-1")
	is.NoErr(err)
	p2, err := l.Resolve("urn:test:obj-1")
	is.NoErr(err)
	is.Equal(p1, p2)

	other, err := l.Resolve("urn:test:obj-2")
	is.NoErr(err)
	is.True(p1 != other)
}

func TestRegistryUnmarshalDispatchesOnExtensionName(t *testing.T) {
	is := is.New(t)
	reg := extension.DefaultRegistry()
	ext := extension.Ext0003()
	cfg, ok := ext.(interface{ MarshalJSON() ([]byte, error) })
	is.True(ok)
	b, err := cfg.MarshalJSON()
	is.NoErr(err)

	got, err := reg.Unmarshal(b)
	is.NoErr(err)
	is.Equal(got.Name(), ext.Name())
}

func TestRegistryNewLayoutRejectsUnknownName(t *testing.T) {
	is := is.New(t)
	reg := extension.DefaultRegistry()
	_, err := reg.NewLayout("does-not-exist")
	is.True(err != nil)
}

func TestRegistryAppendAddsWithoutMutatingOriginal(t *testing.T) {
	is := is.New(t)
	base := extension.NewRegistry(extension.Ext0002)
	extended := base.Append(extension.Ext0003)
	is.Equal(len(base.Names()), 1)
	is.Equal(len(extended.Names()), 2)
}
