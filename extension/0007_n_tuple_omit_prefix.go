package extension

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"
)

const (
	ext0007           = "0007-n-tuple-omit-prefix-storage-layout"
	padLeft           = "left"
	padRight          = "right"
	zeroPadding       = "zeroPadding"
	reverseObjectRoot = "reverseObjectRoot"
	delimiterKeyLong  = "delimiter"
)

// LayoutTupleOmitPrefix implements 0007-n-tuple-omit-prefix-storage-layout:
// a prefix up to the last Delimiter is stripped from the object ID, the
// remainder is zero-padded and optionally reversed, then split into
// TupleNum tuples of TupleSize characters to form nested directories, with
// the (unpadded) trimmed ID as the final path component.
type LayoutTupleOmitPrefix struct {
	Base
	Delimiter string `json:"delimiter"`
	TupleSize int    `json:"tupleSize"`
	TupleNum  int    `json:"numberOfTuples"`
	Padding   string `json:"zeroPadding"`
	Reverse   bool   `json:"reverseObjectRoot"`
}

var (
	_ Layout    = (*LayoutTupleOmitPrefix)(nil)
	_ Extension = (*LayoutTupleOmitPrefix)(nil)
)

// Ext0007 returns a new 0007-n-tuple-omit-prefix-storage-layout with
// defaults (":" delimiter, 3 tuples of 3 characters, left-padded).
func Ext0007() Extension {
	return &LayoutTupleOmitPrefix{
		Base:      Base{ExtensionName: ext0007},
		Delimiter: ":",
		TupleSize: 3,
		TupleNum:  3,
		Padding:   padLeft,
	}
}

func (l LayoutTupleOmitPrefix) valid() error {
	if l.TupleSize < 1 {
		return fmt.Errorf("invalid %s: %d", tupleSize, l.TupleSize)
	}
	if l.TupleNum < 1 {
		return fmt.Errorf("invalid %s: %d", numberOfTuples, l.TupleNum)
	}
	if l.Padding != padLeft && l.Padding != padRight {
		return fmt.Errorf("invalid padding: %s", l.Padding)
	}
	return nil
}

func (l LayoutTupleOmitPrefix) Resolve(id string) (string, error) {
	if err := l.valid(); err != nil {
		return "", err
	}
	size := l.TupleNum * l.TupleSize
	for _, b := range []byte(id) {
		if b < 0x20 || b > 0x7F {
			return "", fmt.Errorf("%w: %q", ErrInvalidLayoutID, id)
		}
	}
	trimID := id
	if idx := strings.LastIndex(id, l.Delimiter); idx > 0 {
		prefix := id[:idx+len(l.Delimiter)]
		if prefix == id {
			return "", fmt.Errorf("%w: %q", ErrInvalidLayoutID, id)
		}
		trimID = strings.TrimPrefix(id, prefix)
	}
	if strings.IndexRune(trimID, '/') > 0 {
		return "", fmt.Errorf("%w: %q", ErrInvalidLayoutID, id)
	}
	padded := trimID
	if padlen := size - len(padded); padlen > 0 {
		pad := strings.Repeat("0", padlen)
		if l.Padding == padLeft {
			padded = pad + padded
		} else {
			padded = padded + pad
		}
	}
	if l.Reverse {
		rev := []rune(padded)
		for i, j := 0, len(rev)-1; i < j; i, j = i+1, j-1 {
			rev[i], rev[j] = rev[j], rev[i]
		}
		padded = string(rev)
	}
	tuples := ""
	for i := 0; i < l.TupleNum; i++ {
		tuples = path.Join(tuples, padded[i*l.TupleSize:(i+1)*l.TupleSize])
	}
	return path.Join(tuples, trimID), nil
}

func (l LayoutTupleOmitPrefix) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		extensionName:     ext0007,
		delimiterKeyLong:  l.Delimiter,
		tupleSize:         l.TupleSize,
		numberOfTuples:    l.TupleNum,
		zeroPadding:       l.Padding,
		reverseObjectRoot: l.Reverse,
	})
}
