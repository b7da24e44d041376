package extension

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

const extPairTree = "0003-pairtree-id-encapsulation"

// LayoutPairTree is a community-documented variant of
// 0003-hash-and-id-n-tuple-storage-layout seen in the wild: it fixes the
// tuple size at 2 (the classic "pairtree" convention) and always uses the
// full digest as the encapsulating directory name, rather than a
// percent-encoded copy of the ID. It has no assigned extension number of
// its own; it is registered as a minor variant alongside 0003.
type LayoutPairTree struct {
	DigestAlgorithm string `json:"digestAlgorithm"`
	TupleNum        int    `json:"numberOfTuples"`
}

var (
	_ Layout    = (*LayoutPairTree)(nil)
	_ Extension = (*LayoutPairTree)(nil)
)

// ExtPairTree returns a new LayoutPairTree with sha256 and 3 pairs.
func ExtPairTree() Extension {
	return &LayoutPairTree{DigestAlgorithm: "sha256", TupleNum: 3}
}

func (l LayoutPairTree) Name() string { return extPairTree }

func (l LayoutPairTree) Resolve(id string) (string, error) {
	h := getAlg(l.DigestAlgorithm)
	if h == nil {
		return "", fmt.Errorf("unknown digest algorithm: %q", l.DigestAlgorithm)
	}
	h.Write([]byte(id))
	hID := hex.EncodeToString(h.Sum(nil))
	const pairSize = 2
	if l.TupleNum*pairSize > len(hID) {
		return "", fmt.Errorf("numberOfTuples is too large for %s", l.DigestAlgorithm)
	}
	out := ""
	for i := 0; i < l.TupleNum; i++ {
		out += hID[i*pairSize:(i+1)*pairSize] + "/"
	}
	return out + hID, nil
}

func (l LayoutPairTree) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		extensionName:   extPairTree,
		digestAlgorithm: l.DigestAlgorithm,
		numberOfTuples:  l.TupleNum,
	})
}
