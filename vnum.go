package ocfl

import (
	"encoding"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
)

var (
	ErrVNumInvalid = errors.New("invalid version")
	ErrVNumPadding = errors.New("inconsistent version padding in version sequence")
	ErrVNumMissing = errors.New("missing version in version sequence")
	ErrVNumEmpty   = errors.New("no versions found")

	// Head is the zero-value VNum, used by callers to mean "the current
	// head version" without looking it up first.
	Head = VNum{}
)

// VNum is an OCFL version number such as "v1" or "v003". It carries a
// sequence number and an optional zero-padding width; a padding of 0 means
// the number is rendered without leading zeros and has no maximum.
type VNum struct {
	num     int
	padding int
}

// V builds a VNum from a sequence number and optional padding width.
func V(ns ...int) VNum {
	switch len(ns) {
	case 0:
		return VNum{}
	case 1:
		return VNum{num: ns[0]}
	default:
		return VNum{num: ns[0], padding: ns[1]}
	}
}

// ParseVNum parses str (e.g. "v1", "v0003") into vn.
func ParseVNum(str string, vn *VNum) error {
	var n, p int
	var nonzero bool
	if len(str) < 2 {
		return fmt.Errorf("%s: %w", str, ErrVNumInvalid)
	}
	if str[0] != 'v' {
		return fmt.Errorf("%s: %w", str, ErrVNumInvalid)
	}
	if str[1] == '0' {
		p = len(str) - 1
	}
	for i := 1; i < len(str); i++ {
		if str[i] < '0' || str[i] > '9' {
			return fmt.Errorf("%s: %w", str, ErrVNumInvalid)
		}
		if str[i] != '0' {
			nonzero = true
		}
	}
	if !nonzero {
		return fmt.Errorf("%s: %w", str, ErrVNumInvalid)
	}
	var err error
	if n, err = strconv.Atoi(str[1:]); err != nil {
		return fmt.Errorf("%s: %w", str, ErrVNumInvalid)
	}
	vn.num = n
	vn.padding = p
	return nil
}

// MustParseVNum is ParseVNum but panics on error; intended for literals.
func MustParseVNum(str string) VNum {
	v := VNum{}
	if err := ParseVNum(str, &v); err != nil {
		panic(err)
	}
	return v
}

func (v VNum) Num() int     { return v.num }
func (v VNum) Padding() int { return v.padding }

// IsZero reports whether v is the Head sentinel.
func (v VNum) IsZero() bool { return v == Head }

// First reports whether v is version 1.
func (v VNum) First() bool { return v.num == 1 }

// Next returns the version after v with the same padding. It fails if
// incrementing would overflow the padding width.
func (v VNum) Next() (VNum, error) {
	next := VNum{num: v.num + 1, padding: v.padding}
	if next.paddingOverflow() {
		return VNum{}, fmt.Errorf("next version: padding overflow: %w", ErrVNumInvalid)
	}
	return next, nil
}

// Prev returns the version before v, with the same padding.
func (v VNum) Prev() (VNum, error) {
	if v.num == 1 {
		return Head, errors.New("no previous version")
	}
	return VNum{num: v.num - 1, padding: v.padding}, nil
}

func (v VNum) String() string {
	return fmt.Sprintf("v%0*d", v.padding, v.num)
}

// Valid reports whether v is a well-formed, non-overflowing version number.
func (v VNum) Valid() error {
	if v.num <= 0 || v.paddingOverflow() {
		return fmt.Errorf("%w: num=%d, padding=%d", ErrVNumInvalid, v.num, v.padding)
	}
	return nil
}

func (v VNum) paddingOverflow() bool {
	return v.padding > 0 && v.num >= int(math.Pow10(v.padding-1))
}

// Lineage returns the VNums 1..v, all sharing v's padding.
func (v VNum) Lineage() VNums {
	if v.num == 0 {
		return VNums{}
	}
	nums := make(VNums, v.num)
	for i := 0; i < v.num; i++ {
		nums[i] = VNum{num: i + 1, padding: v.padding}
	}
	return nums
}

var (
	_ encoding.TextMarshaler   = VNum{}
	_ encoding.TextUnmarshaler = (*VNum)(nil)
)

func (v *VNum) UnmarshalText(text []byte) error {
	return ParseVNum(string(text), v)
}

func (v VNum) MarshalText() ([]byte, error) {
	if err := v.Valid(); err != nil {
		return nil, err
	}
	return []byte(v.String()), nil
}

// VNums is a sequence of version numbers, normally 1..N with shared padding.
type VNums []VNum

// Valid reports whether vs is non-empty, contiguous starting at 1, and has
// consistent, non-overflowing padding.
func (vs VNums) Valid() error {
	if len(vs) == 0 {
		return ErrVNumEmpty
	}
	if !sort.IsSorted(vs) {
		sort.Sort(vs)
	}
	padding := vs[0].padding
	for i := range vs {
		if vs[i].num != i+1 {
			return fmt.Errorf("%w: %s", ErrVNumMissing, V(i+1, padding))
		}
		if vs[i].padding != padding {
			return ErrVNumPadding
		}
	}
	return vs.Head().Valid()
}

// Head returns the last (most recent) VNum in vs.
func (vs VNums) Head() VNum {
	if len(vs) > 0 {
		return vs[len(vs)-1]
	}
	return VNum{}
}

// Padding returns the shared padding width of vs.
func (vs VNums) Padding() int {
	if len(vs) > 0 {
		return vs[0].Padding()
	}
	return 0
}

var _ sort.Interface = (*VNums)(nil)

func (vs VNums) Len() int           { return len(vs) }
func (vs VNums) Less(i, j int) bool { return vs[i].num < vs[j].num }
func (vs VNums) Swap(i, j int)      { vs[i], vs[j] = vs[j], vs[i] }

// RevisionNum identifies a mutable-HEAD staging revision, e.g. "r1", "r2".
// It reuses VNum's parsing and formatting rules; the OCFL mutable-HEAD
// extension (0005) names revisions with the same "rN" convention versions
// use with "vN".
type RevisionNum struct {
	VNum
}

// ParseRevisionNum parses strings like "r1" into a RevisionNum.
func ParseRevisionNum(str string) (RevisionNum, error) {
	if len(str) < 2 || str[0] != 'r' {
		return RevisionNum{}, fmt.Errorf("%s: %w", str, ErrVNumInvalid)
	}
	var vn VNum
	if err := ParseVNum("v"+str[1:], &vn); err != nil {
		return RevisionNum{}, fmt.Errorf("%s: %w", str, ErrVNumInvalid)
	}
	return RevisionNum{vn}, nil
}

func (r RevisionNum) String() string {
	if r.IsZero() {
		return ""
	}
	return "r" + r.VNum.String()[1:]
}

// Next returns the revision after r, preserving padding.
func (r RevisionNum) Next() (RevisionNum, error) {
	next, err := r.VNum.Next()
	if err != nil {
		return RevisionNum{}, err
	}
	return RevisionNum{next}, nil
}
