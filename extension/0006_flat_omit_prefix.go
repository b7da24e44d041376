package extension

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strings"
)

const (
	ext0006       = "0006-flat-omit-prefix-storage-layout"
	delimiterKey  = "delimiter"
)

// LayoutFlatOmitPrefix implements 0006-flat-omit-prefix-storage-layout: the
// object ID, with everything up to and including the last occurrence of
// Delimiter stripped, is used directly as the storage-root-relative path.
type LayoutFlatOmitPrefix struct {
	Delimiter string `json:"delimiter"`
}

var (
	_ Layout    = (*LayoutFlatOmitPrefix)(nil)
	_ Extension = (*LayoutFlatOmitPrefix)(nil)
)

// Ext0006 returns a new 0006-flat-omit-prefix-storage-layout. Delimiter
// must be set by the caller before Resolve is usable.
func Ext0006() Extension { return &LayoutFlatOmitPrefix{} }

func (l LayoutFlatOmitPrefix) Name() string { return ext0006 }

func (l LayoutFlatOmitPrefix) Resolve(id string) (string, error) {
	if l.Delimiter == "" {
		return "", errors.New("missing required layout configuration: " + delimiterKey)
	}
	dir := id
	lowerID := strings.ToLower(id)
	lowerDelim := strings.ToLower(l.Delimiter)
	if offset := strings.LastIndex(lowerID, lowerDelim); offset > -1 {
		dir = id[offset+len(l.Delimiter):]
	}
	if dir == extensionsDir || !fs.ValidPath(dir) {
		return "", fmt.Errorf("%w: %q", ErrInvalidLayoutID, id)
	}
	return dir, nil
}

func (l LayoutFlatOmitPrefix) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		extensionName: ext0006,
		delimiterKey:  l.Delimiter,
	})
}
