// Package digest implements the OCFL digest algorithms and the manifest /
// version-state / fixity data structure ("Map") built from them.
package digest

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"
	"io"
	"strconv"

	"golang.org/x/crypto/blake2b"
)

// Algorithm IDs as they appear in an OCFL inventory's digestAlgorithm field
// and fixity block keys.
const (
	SHA512      = alg("sha512")
	SHA256      = alg("sha256")
	SHA224      = alg("sha224")
	SHA1        = alg("sha1")
	MD5         = alg("md5")
	BLAKE2B     = alg("blake2b-512")
	BLAKE2B160  = alg("blake2b-160")
	BLAKE2B256  = alg("blake2b-256")
	BLAKE2B384  = alg("blake2b-384")
	SHA512_256  = alg("sha512/256")
	// SIZE is not an OCFL content digest algorithm; it is the "size"
	// pseudo-algorithm, whose value is the content's byte count.
	SIZE = alg("size")
)

// Algorithm identifies a digest algorithm usable in an inventory's
// digestAlgorithm field or a fixity block.
type Algorithm interface {
	// ID returns the algorithm name, e.g. "sha512".
	ID() string
	// Digester returns a new streaming digester for the algorithm.
	Digester() Digester
}

// Digester computes a digest incrementally as bytes are written to it.
type Digester interface {
	io.Writer
	// String returns the current digest value as a lowercase hex string
	// (or, for the "size" pseudo-algorithm, a decimal byte count).
	String() string
}

var builtInDigesters = map[alg]func() Digester{
	SHA512:     func() Digester { return &hashDigester{Hash: sha512.New()} },
	SHA256:     func() Digester { return &hashDigester{Hash: sha256.New()} },
	SHA224:     func() Digester { return &hashDigester{Hash: sha256.New224()} },
	SHA1:       func() Digester { return &hashDigester{Hash: sha1.New()} },
	MD5:        func() Digester { return &hashDigester{Hash: md5.New()} },
	BLAKE2B:    func() Digester { return &hashDigester{Hash: mustNewBlake2B(64)} },
	BLAKE2B160: func() Digester { return &hashDigester{Hash: mustNewBlake2B(20)} },
	BLAKE2B256: func() Digester { return &hashDigester{Hash: mustNewBlake2B(32)} },
	BLAKE2B384: func() Digester { return &hashDigester{Hash: mustNewBlake2B(48)} },
	SHA512_256: func() Digester { return &hashDigester{Hash: sha512.New512_256()} },
	SIZE:       func() Digester { return &sizeDigester{} },
}

// alg is a built-in Algorithm identified by name.
type alg string

func (a alg) ID() string { return string(a) }

func (a alg) Digester() Digester {
	if fn := builtInDigesters[a]; fn != nil {
		return fn()
	}
	return nil
}

type hashDigester struct{ hash.Hash }

func (h hashDigester) String() string { return hex.EncodeToString(h.Sum(nil)) }

type sizeDigester struct{ size int64 }

func (d *sizeDigester) Write(b []byte) (int, error) {
	d.size += int64(len(b))
	return len(b), nil
}

// String renders the byte count as decimal-digit pairs: even length, with a
// leading zero prepended when the natural representation is odd.
func (d *sizeDigester) String() string {
	s := strconv.FormatInt(d.size, 10)
	if len(s)%2 != 0 {
		s = "0" + s
	}
	return s
}

func mustNewBlake2B(size int) hash.Hash {
	h, err := blake2b.New(size, nil)
	if err != nil {
		panic("digest: creating blake2b hash: " + err.Error())
	}
	return h
}
