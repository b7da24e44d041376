package digest_test

import (
	"strings"
	"testing"

	"github.com/matryer/is"

	"github.com/ocflkit/ocfl/digest"
)

func TestSHA256Digester(t *testing.T) {
	is := is.New(t)
	reg := digest.NewRegistry()
	d, err := reg.NewDigester(digest.SHA256.ID())
	is.NoErr(err)
	_, err = d.Write([]byte("hello"))
	is.NoErr(err)
	is.Equal(d.String(), "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824")
}

// TestSizeDigesterPadsOddLength guards spec.md's requirement that a "size"
// fixity value be rendered as a decimal string of even length, with a
// leading zero prepended when the natural representation is odd.
func TestSizeDigesterPadsOddLength(t *testing.T) {
	is := is.New(t)
	reg := digest.NewRegistry()
	d, err := reg.NewDigester(digest.SIZE.ID())
	is.NoErr(err)
	// Nine bytes of content: "9" would be odd-length without padding.
	_, err = d.Write([]byte(strings.Repeat("a", 9)))
	is.NoErr(err)
	is.Equal(d.String(), "09")
	is.True(len(d.String())%2 == 0)
}

func TestSizeDigesterEvenLengthUnpadded(t *testing.T) {
	is := is.New(t)
	reg := digest.NewRegistry()
	d, err := reg.NewDigester(digest.SIZE.ID())
	is.NoErr(err)
	_, err = d.Write([]byte(strings.Repeat("a", 12)))
	is.NoErr(err)
	is.Equal(d.String(), "12")
}

func TestRegistryUnknownAlgorithm(t *testing.T) {
	is := is.New(t)
	reg := digest.NewRegistry()
	_, err := reg.Get("does-not-exist")
	is.True(err != nil)
}

func TestMultiDigesterSums(t *testing.T) {
	is := is.New(t)
	reg := digest.NewRegistry()
	md, err := reg.NewMultiDigester(digest.SHA256.ID(), digest.MD5.ID())
	is.NoErr(err)
	_, err = md.Write([]byte("hello"))
	is.NoErr(err)
	sums := md.Sums()
	is.Equal(sums[digest.SHA256.ID()], "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824")
	is.Equal(sums[digest.MD5.ID()], "5d41402abc4b2a76b9719d911017c592")
}
