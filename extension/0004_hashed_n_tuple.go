package extension

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	ext0004         = "0004-hashed-n-tuple-storage-layout"
	shortObjectRoot = "shortObjectRoot"
)

// LayoutHashTuple implements 0004-hashed-n-tuple-storage-layout: like 0003
// but the final path component is the full (or, if Short, the remaining)
// hash digest rather than an encoded form of the object ID.
type LayoutHashTuple struct {
	DigestAlgorithm string `json:"digestAlgorithm"`
	TupleSize       int    `json:"tupleSize"`
	TupleNum        int    `json:"numberOfTuples"`
	Short           bool   `json:"shortObjectRoot"`
}

var (
	_ Layout    = (*LayoutHashTuple)(nil)
	_ Extension = (*LayoutHashTuple)(nil)
)

// Ext0004 returns a new 0004-hashed-n-tuple-storage-layout with defaults.
func Ext0004() Extension {
	return &LayoutHashTuple{DigestAlgorithm: "sha256", TupleSize: 3, TupleNum: 3}
}

func (l LayoutHashTuple) Name() string { return ext0004 }

func (l LayoutHashTuple) Resolve(id string) (string, error) {
	h := getAlg(l.DigestAlgorithm)
	if h == nil {
		return "", fmt.Errorf("unknown digest algorithm: %q", l.DigestAlgorithm)
	}
	if l.TupleSize == 0 && l.TupleNum != 0 {
		return "", errors.New(numberOfTuples + " must be 0 if " + tupleSize + " is 0")
	}
	if l.TupleNum == 0 && l.TupleSize != 0 {
		return "", errors.New(tupleSize + " must be 0 if " + numberOfTuples + " is 0")
	}
	h.Write([]byte(id))
	hID := hex.EncodeToString(h.Sum(nil))
	if l.TupleSize*l.TupleNum > len(hID) {
		return "", errors.New("product of tupleSize and numberOfTuples is more than hash length for " + l.DigestAlgorithm)
	}
	tuples := make([]string, l.TupleNum+1)
	for i := 0; i < l.TupleNum; i++ {
		tuples[i] = hID[i*l.TupleSize : (i+1)*l.TupleSize]
	}
	if l.Short {
		tuples[l.TupleNum] = hID[l.TupleNum*l.TupleSize:]
	} else {
		tuples[l.TupleNum] = hID
	}
	return strings.Join(tuples, "/"), nil
}

func (l LayoutHashTuple) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		extensionName:   ext0004,
		digestAlgorithm: l.DigestAlgorithm,
		tupleSize:       l.TupleSize,
		numberOfTuples:  l.TupleNum,
		shortObjectRoot: l.Short,
	})
}
