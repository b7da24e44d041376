package digest

import (
	"fmt"
	"io"
	"strings"
)

// Set is a set of digest values for a single piece of content, keyed by
// algorithm ID.
type Set map[string]string

// ConflictErr indicates a digest computed from content didn't match an
// expected value for the same algorithm.
type ConflictErr struct {
	Path     string
	AlgID    string
	Got      string
	Expected string
}

func (e *ConflictErr) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("unexpected %s digest: got %s, expected %s", e.AlgID, e.Got, e.Expected)
	}
	return fmt.Sprintf("unexpected %s digest for %q: got %s, expected %s", e.AlgID, e.Path, e.Got, e.Expected)
}

// ConflictWith returns the algorithm IDs present in both s and other whose
// values disagree (case-insensitively, since OCFL preserves digest case but
// treats comparisons as case-insensitive).
func (s Set) ConflictWith(other Set) []string {
	var ids []string
	for id, v := range s {
		if ov, ok := other[id]; ok && !strings.EqualFold(v, ov) {
			ids = append(ids, id)
		}
	}
	return ids
}

// Validate digests r using every algorithm named in s and confirms the
// result matches. It is the all-at-once counterpart to
// FixityCheckingReader for callers that already hold the full content in
// memory or as a single io.Reader pass.
func (s Set) Validate(r *Registry, reader io.Reader) error {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	md, err := r.NewMultiDigester(ids...)
	if err != nil {
		return err
	}
	if _, err := io.Copy(md, reader); err != nil {
		return err
	}
	sums := md.Sums()
	if conflicts := sums.ConflictWith(s); len(conflicts) > 0 {
		id := conflicts[0]
		return &ConflictErr{AlgID: id, Got: sums[id], Expected: s[id]}
	}
	return nil
}

// FixityCheckingReader wraps an io.Reader, computing one or more digests as
// the caller reads through it. After the caller has consumed the reader to
// EOF, Verify confirms the computed digests match an expected Set; it is
// the streaming counterpart to Set.Validate, so that fixity checking never
// requires buffering a whole file or re-reading content from storage.
type FixityCheckingReader struct {
	io.Reader
	md *MultiDigester
}

// NewFixityCheckingReader wraps src so that reading it also computes the
// digests named by algIDs.
func NewFixityCheckingReader(r *Registry, src io.Reader, algIDs ...string) (*FixityCheckingReader, error) {
	md, err := r.NewMultiDigester(algIDs...)
	if err != nil {
		return nil, err
	}
	return &FixityCheckingReader{Reader: md.Reader(src), md: md}, nil
}

// Sums returns the digests computed so far. Call only after the reader has
// been fully consumed.
func (f *FixityCheckingReader) Sums() Set { return f.md.Sums() }

// Verify confirms the digests computed while reading match expected. Call
// only after the reader has been fully consumed.
func (f *FixityCheckingReader) Verify(expected Set) error {
	sums := f.Sums()
	if conflicts := sums.ConflictWith(expected); len(conflicts) > 0 {
		id := conflicts[0]
		return &ConflictErr{AlgID: id, Got: sums[id], Expected: expected[id]}
	}
	return nil
}
