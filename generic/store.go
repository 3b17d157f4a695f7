/*
store.go - Persistence interfaces for versions and intervals

PURPOSE:
  Defines the interface between the temporal engine and the database.
  Different implementations can use SQLite, PostgreSQL, or in-memory storage.

KEY INTERFACES:
  VersionReader:   "as of" and history reads for one kind of versioned fact
  VersionStore:    VersionReader plus the single append operation
  IntervalStore:   Reads and the two permitted writes on intervals
  IntervalTxStore: IntervalStore plus WithTx for atomic close-then-open

APPEND-ONLY CONTRACT:
  - VersionStore has Insert() and nothing else that writes
  - IntervalStore has Insert() and Close(); Close only ever sets an end date
    on an open interval. There is no Update() or Delete().

STORE-LEVEL INVARIANTS:
  Implementations must enforce these themselves, not rely on callers:
  - (key, effective_from) unique per version kind   -> ErrDuplicateVersion
  - at most one open interval per subject           -> ErrOverlap
  - database aborts due to concurrent writers       -> ErrSerializationConflict

IMPLEMENTATIONS:
  - store/sqlstore: SQLite and PostgreSQL via sqlx
  - generic/store/memory.go: In-memory for testing

SEE ALSO:
  - versioned.go, interval.go: Services built on these interfaces
*/
package generic

import (
	"context"
	"errors"
)

// =============================================================================
// VERSION STORE - Append-only effective-dated facts
// =============================================================================

// VersionReader is the read side of a version store. Readers obtained from
// inside a transaction see the transaction's snapshot.
type VersionReader[K ~string, V any] interface {
	// AsOf returns the version with the greatest EffectiveFrom <= date.
	// Returns ErrNoVersion if none.
	AsOf(ctx context.Context, key K, date Date) (Version[K, V], error)

	// History returns every version of key, EffectiveFrom descending.
	History(ctx context.Context, key K) ([]Version[K, V], error)
}

// VersionStore appends versions. IMPORTANT: append-only, never rewrites.
type VersionStore[K ~string, V any] interface {
	VersionReader[K, V]

	// Insert appends a version. Returns ErrDuplicateVersion if one already
	// exists for the same key and EffectiveFrom.
	Insert(ctx context.Context, v Version[K, V]) error
}

// =============================================================================
// INTERVAL STORE - Exclusive tenures
// =============================================================================

type IntervalStore interface {
	// LockSubject blocks other writers for subject until the enclosing
	// transaction ends. Outside WithTx it is a no-op.
	LockSubject(ctx context.Context, subjectID string) error

	// BySubject returns all intervals of a subject, Start descending.
	BySubject(ctx context.Context, subjectID string) ([]Interval, error)

	// ActiveInScope returns intervals of scope that contain date.
	ActiveInScope(ctx context.Context, scopeID string, date Date) ([]Interval, error)

	// Insert writes a new interval. Returns ErrOverlap if it is open and the
	// subject already has an open interval.
	Insert(ctx context.Context, iv Interval) error

	// Close sets End on an open interval. Returns ErrNotFound if id is not an
	// open interval.
	Close(ctx context.Context, id string, end Date) error
}

// IntervalTxStore wraps IntervalStore with transaction support.
type IntervalTxStore interface {
	IntervalStore

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(IntervalStore) error) error
}

// =============================================================================
// RETRY
// =============================================================================

// RetryOnce runs fn and, if it failed with a serialization conflict, runs it
// exactly once more. fn must redo all of its reads.
func RetryOnce(fn func() error) error {
	err := fn()
	if errors.Is(err, ErrSerializationConflict) {
		err = fn()
	}
	return err
}
