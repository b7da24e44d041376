package ocfl

import (
	"errors"
	"fmt"
)

// Kind identifies the category of a RepoError, matching the error taxonomy
// of the repository engine's contract.
type Kind int

const (
	// KindInput indicates malformed caller arguments.
	KindInput Kind = iota
	// KindNotFound indicates an object or version is missing.
	KindNotFound
	// KindOverwrite indicates a destination exists and OVERWRITE was not given.
	KindOverwrite
	// KindFixity indicates a computed digest disagreed with an expected one.
	KindFixity
	// KindCorrupt indicates on-disk state violates an inventory invariant.
	KindCorrupt
	// KindOutOfSync indicates a concurrent writer raced past the caller.
	KindOutOfSync
	// KindLock indicates a lock acquisition timed out.
	KindLock
	// KindState indicates a legal-but-wrong state transition was attempted.
	KindState
	// KindIO indicates an unwrapped storage backend failure.
	KindIO
	// KindDB indicates an unwrapped object-details-database failure.
	KindDB
)

func (k Kind) String() string {
	switch k {
	case KindInput:
		return "OcflInput"
	case KindNotFound:
		return "NotFound"
	case KindOverwrite:
		return "Overwrite"
	case KindFixity:
		return "FixityCheck"
	case KindCorrupt:
		return "CorruptObject"
	case KindOutOfSync:
		return "ObjectOutOfSync"
	case KindLock:
		return "Lock"
	case KindState:
		return "OcflState"
	case KindIO:
		return "OcflIO"
	case KindDB:
		return "OcflDb"
	default:
		return "Unknown"
	}
}

// RepoError wraps an error from the repository engine with a typed Kind so
// callers can branch on errors.As without depending on the wrapped error's
// concrete type. It mirrors the shape of the teacher's CommitError{Err,
// Dirty}, generalized to all of the engine's operations and every error
// kind from spec.md's error taxonomy.
type RepoError struct {
	Kind Kind
	Err  error

	// Dirty indicates storage may have been partially mutated before the
	// error occurred. Only set for write operations; readers always leave
	// storage untouched.
	Dirty bool
}

func (e *RepoError) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Err)
}

func (e *RepoError) Unwrap() error { return e.Err }

// Is allows errors.Is(err, &ocfl.RepoError{Kind: ocfl.KindLock}) style
// checks via a sentinel-like comparison against another *RepoError with the
// same Kind.
func (e *RepoError) Is(target error) bool {
	var other *RepoError
	if errors.As(target, &other) {
		return other.Kind == e.Kind
	}
	return false
}

// NewError wraps err with kind, returning nil if err is nil.
func NewError(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &RepoError{Kind: kind, Err: err}
}

// NewErrorf is like NewError but formats a new error message, in the
// fmt.Errorf("...: %w", err) style used throughout the teacher's code.
func NewErrorf(kind Kind, format string, args ...any) error {
	return &RepoError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Is reports whether err is a *RepoError with the given kind.
func Is(err error, kind Kind) bool {
	var re *RepoError
	if !errors.As(err, &re) {
		return false
	}
	return re.Kind == kind
}
