package ocfl

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
)

const (
	invTypePrefix = "https://ocfl.io/"
	invTypeSuffix = "/spec/#inventory"
)

// Spec1_0 and Spec1_1 are the OCFL specification versions this engine
// implements.
const (
	Spec1_0 = Spec("1.0")
	Spec1_1 = Spec("1.1")
)

var (
	ErrSpecInvalid = errors.New("invalid OCFL spec version")

	verNumRegex = regexp.MustCompile(`^\d\.\d+(-\w+)?$`)
)

// Spec is an OCFL specification version number, e.g. "1.0" or "1.1".
type Spec string

func (s Spec) Valid() error {
	if !verNumRegex.MatchString(string(s)) {
		return ErrSpecInvalid
	}
	return nil
}

func (s Spec) Empty() bool { return s == Spec("") }

// Cmp orders specs numerically; a valid spec is always greater than an
// invalid one, and a suffixed version (e.g. "1.1-draft") is less than its
// unsuffixed counterpart.
func (v1 Spec) Cmp(v2 Spec) int {
	f1, suf1, err1 := v1.parse()
	f2, suf2, err2 := v2.parse()
	if err1 != nil || err2 != nil {
		switch {
		case err1 == nil:
			return 1
		case err2 == nil:
			return -1
		default:
			return 0
		}
	}
	switch {
	case f1 == f2:
		if suf1 == "" && suf2 != "" {
			return 1
		}
		if suf2 == "" && suf1 != "" {
			return -1
		}
		return 0
	case f1 > f2:
		return 1
	default:
		return -1
	}
}

func (s Spec) parse() (float64, string, error) {
	if err := s.Valid(); err != nil {
		return 0, "", err
	}
	numStr, suffix, _ := strings.Cut(string(s), "-")
	val, err := strconv.ParseFloat(numStr, 64)
	if err != nil {
		return 0, "", ErrSpecInvalid
	}
	return val, suffix, nil
}

// InventoryType returns s rendered as the inventory "type" URI, e.g.
// "https://ocfl.io/1.1/spec/#inventory".
func (s Spec) InventoryType() InventoryType {
	return InventoryType{Spec: s}
}

// InventoryType is the "type" field of an inventory document.
type InventoryType struct {
	Spec
}

func (t InventoryType) String() string {
	return invTypePrefix + string(t.Spec) + invTypeSuffix
}

func (t *InventoryType) UnmarshalText(text []byte) error {
	cut := strings.TrimPrefix(string(text), invTypePrefix)
	cut = strings.TrimSuffix(cut, invTypeSuffix)
	if err := Spec(cut).Valid(); err != nil {
		return err
	}
	t.Spec = Spec(cut)
	return nil
}

func (t InventoryType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}
