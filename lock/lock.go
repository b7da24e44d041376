// Package lock implements the per-object write lock the repository engine
// serializes updates through: an in-process reader-writer lock keyed by
// object ID, and a database-backed variant for multi-process deployments.
package lock

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ocflkit/ocfl"
)

// Lock is the object-lock contract the repository engine consumes,
// grounded on spec.md §6's doInWriteLock/doInReadLock extension point.
type Lock interface {
	// DoInWriteLock acquires an exclusive lock on objectID, calls fn, then
	// releases it. It fails with ocfl.KindLock if the acquisition times out.
	DoInWriteLock(ctx context.Context, objectID string, timeout time.Duration, fn func(context.Context) error) error
	// DoInReadLock acquires a shared lock on objectID, calls fn, then
	// releases it.
	DoInReadLock(ctx context.Context, objectID string, timeout time.Duration, fn func(context.Context) error) error
}

// InProcess is an in-memory Lock implementation: a process-wide map of
// per-object sync.RWMutex values, grounded on digest.Registry's sync.Map
// pattern (digest/registry.go) generalized from an algorithm registry to a
// mutex registry.
type InProcess struct {
	mus sync.Map // object ID -> *sync.RWMutex
}

// NewInProcess returns an empty in-process Lock.
func NewInProcess() *InProcess { return &InProcess{} }

func (l *InProcess) muFor(objectID string) *sync.RWMutex {
	v, _ := l.mus.LoadOrStore(objectID, &sync.RWMutex{})
	return v.(*sync.RWMutex)
}

func (l *InProcess) DoInWriteLock(ctx context.Context, objectID string, timeout time.Duration, fn func(context.Context) error) error {
	mu := l.muFor(objectID)
	if !tryLock(ctx, timeout, mu.TryLock) {
		return ocfl.NewErrorf(ocfl.KindLock, "timed out acquiring write lock for %s", objectID)
	}
	defer mu.Unlock()
	return fn(ctx)
}

func (l *InProcess) DoInReadLock(ctx context.Context, objectID string, timeout time.Duration, fn func(context.Context) error) error {
	mu := l.muFor(objectID)
	if !tryLock(ctx, timeout, mu.TryRLock) {
		return ocfl.NewErrorf(ocfl.KindLock, "timed out acquiring read lock for %s", objectID)
	}
	defer mu.RUnlock()
	return fn(ctx)
}

func tryLock(ctx context.Context, timeout time.Duration, try func() bool) bool {
	deadline := time.Now().Add(timeout)
	for {
		if try() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(time.Millisecond):
		}
	}
}

// DB is a Lock implementation backed by a SQL table, for deployments with
// more than one engine process sharing a storage root. It follows spec.md
// §4.9's protocol: acquisition inserts a row; on a unique-key conflict it
// tries a conditional update whose predicate is that the existing row's
// timestamp is older than maxLockDuration (a stale lock left by a crashed
// holder). The insert-then-update attempt repeats every 5ms until the
// caller's timeout has passed or ctx is done, and then raises
// ocfl.KindLock. There is no
// teacher file implementing a named object lock (the pack's only
// sync.Mutex/RWMutex usages are in unrelated digest/validation code); this
// table shape and retry loop are designed fresh following spec.md directly.
type DB struct {
	db              *sql.DB
	maxLockDuration time.Duration
	inproc          *InProcess // DB locks are also held in-process to avoid a round trip per goroutine on this process
}

// NewDB returns a Lock backed by db, which must already have the schema
// `CREATE TABLE IF NOT EXISTS ocfl_object_locks (object_id TEXT PRIMARY KEY, holder_token TEXT NOT NULL, acquired_at INTEGER NOT NULL)`.
func NewDB(db *sql.DB, maxLockDuration time.Duration) *DB {
	return &DB{db: db, maxLockDuration: maxLockDuration, inproc: NewInProcess()}
}

// InitSchema creates the lock table if it doesn't already exist.
func (l *DB) InitSchema(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS ocfl_object_locks (
		object_id TEXT PRIMARY KEY,
		holder_token TEXT NOT NULL,
		acquired_at INTEGER NOT NULL
	)`)
	return err
}

func (l *DB) DoInWriteLock(ctx context.Context, objectID string, timeout time.Duration, fn func(context.Context) error) error {
	return l.inproc.DoInWriteLock(ctx, objectID, timeout, func(ctx context.Context) error {
		token, err := l.acquire(ctx, objectID, timeout)
		if err != nil {
			return err
		}
		defer l.release(ctx, objectID, token)
		return fn(ctx)
	})
}

// DoInReadLock on the database-backed lock degrades to the same exclusive
// acquisition as DoInWriteLock: the shared SQL table has no cheap way to
// distinguish readers from writers across processes, and spec.md's
// in-process lock is the one relied on for genuine read concurrency.
func (l *DB) DoInReadLock(ctx context.Context, objectID string, timeout time.Duration, fn func(context.Context) error) error {
	return l.DoInWriteLock(ctx, objectID, timeout, fn)
}

// acquire inserts a fresh holder token for objectID, or steals the row from
// a stale holder via a conditional update, and returns the token this call
// now owns. The token (rather than the acquisition timestamp alone) is what
// release matches against, so a holder can only ever clear its own row even
// if another acquisition lands in the same timestamp tick.
func (l *DB) acquire(ctx context.Context, objectID string, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	for {
		token := uuid.NewString()
		now := time.Now().UnixNano()
		_, err := l.db.ExecContext(ctx, `INSERT INTO ocfl_object_locks (object_id, holder_token, acquired_at) VALUES (?, ?, ?)`, objectID, token, now)
		if err == nil {
			return token, nil
		}
		staleBefore := time.Now().Add(-l.maxLockDuration).UnixNano()
		res, updErr := l.db.ExecContext(ctx,
			`UPDATE ocfl_object_locks SET holder_token = ?, acquired_at = ? WHERE object_id = ? AND acquired_at <= ?`,
			token, now, objectID, staleBefore)
		if updErr == nil {
			if n, _ := res.RowsAffected(); n == 1 {
				return token, nil
			}
		}
		if time.Now().After(deadline) {
			return "", ocfl.NewErrorf(ocfl.KindLock, "timed out acquiring database lock for %s: %w", objectID, err)
		}
		select {
		case <-ctx.Done():
			return "", ocfl.NewErrorf(ocfl.KindLock, "context done acquiring lock for %s", objectID)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (l *DB) release(ctx context.Context, objectID string, token string) {
	_, _ = l.db.ExecContext(ctx, `DELETE FROM ocfl_object_locks WHERE object_id = ? AND holder_token = ?`, objectID, token)
}
