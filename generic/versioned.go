/*
versioned.go - Append-only effective-dated values

PURPOSE:
  A Version is one fact about a key that holds from EffectiveFrom until a
  later-dated version of the same key supersedes it. EffectiveDated is the
  single place that answers "what was the value on date D".

CRITICAL INVARIANTS:
  1. APPEND-ONLY: A price change is a new version. Old versions stay forever.
  2. UNIQUE: One version per (key, EffectiveFrom).
  3. AS-OF: GetAsOf returns the greatest EffectiveFrom <= date, never a
     version from the future.

WHY APPEND-ONLY?
  Invoices copy the price that was in effect at sale time. Keeping every
  version means any past invoice line can be explained by a history row, and
  backdated invoices price against the rate that applied back then.

EXAMPLE:
  prices := &generic.EffectiveDated[ProductID, generic.Money]{Store: store}
  prices.Put(ctx, "kibble-5kg", usd(100), generic.MustParseDate("2025-01-01"))
  prices.Put(ctx, "kibble-5kg", usd(120), generic.MustParseDate("2025-06-01"))

  v, _ := prices.GetAsOf(ctx, "kibble-5kg", generic.MustParseDate("2025-03-15"))
  // v.Value == usd(100)

SEE ALSO:
  - store.go: VersionStore
  - pricing/catalog.go: Product and service prices
*/
package generic

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Version is one effective-dated value of a key.
type Version[K ~string, V any] struct {
	Key           K
	Value         V
	EffectiveFrom Date
	RecordedAt    time.Time // when the version was appended, for audit
}

// EffectiveDated is the query/append service over a VersionStore.
type EffectiveDated[K ~string, V any] struct {
	Store VersionStore[K, V]
	Clock Clock
}

// NewEffectiveDated creates the service with the wall clock.
func NewEffectiveDated[K ~string, V any](store VersionStore[K, V]) *EffectiveDated[K, V] {
	return &EffectiveDated[K, V]{Store: store}
}

// Put appends a new version of key effective from the given day.
func (e *EffectiveDated[K, V]) Put(ctx context.Context, key K, value V, effectiveFrom Date) (Version[K, V], error) {
	if key == "" {
		return Version[K, V]{}, fmt.Errorf("%w: key is required", ErrInvalidInput)
	}
	if effectiveFrom.IsZero() {
		return Version[K, V]{}, fmt.Errorf("%w: effective date is required", ErrInvalidInput)
	}

	v := Version[K, V]{
		Key:           key,
		Value:         value,
		EffectiveFrom: effectiveFrom,
		RecordedAt:    time.Now().UTC(),
	}
	if err := e.Store.Insert(ctx, v); err != nil {
		if errors.Is(err, ErrDuplicateVersion) {
			return Version[K, V]{}, &DuplicateVersionError{Key: string(key), EffectiveFrom: effectiveFrom}
		}
		return Version[K, V]{}, err
	}
	return v, nil
}

// GetAsOf returns the version in effect on date.
func (e *EffectiveDated[K, V]) GetAsOf(ctx context.Context, key K, date Date) (Version[K, V], error) {
	return LookupAsOf(ctx, e.Store, key, date)
}

// GetCurrent returns the version in effect today.
func (e *EffectiveDated[K, V]) GetCurrent(ctx context.Context, key K) (Version[K, V], error) {
	return e.GetAsOf(ctx, key, e.Clock.now())
}

// GetHistory returns every version of key, newest effective date first.
func (e *EffectiveDated[K, V]) GetHistory(ctx context.Context, key K) ([]Version[K, V], error) {
	return e.Store.History(ctx, key)
}

// LookupAsOf is GetAsOf over any reader, including one scoped to an open
// transaction. A missing version is reported as *NoVersionError.
func LookupAsOf[K ~string, V any](ctx context.Context, r VersionReader[K, V], key K, date Date) (Version[K, V], error) {
	if date.IsZero() {
		return Version[K, V]{}, fmt.Errorf("%w: as-of date is required", ErrInvalidInput)
	}
	v, err := r.AsOf(ctx, key, date)
	if err != nil {
		if errors.Is(err, ErrNoVersion) {
			return Version[K, V]{}, &NoVersionError{Key: string(key), AsOf: date}
		}
		return Version[K, V]{}, err
	}
	return v, nil
}

// SelectAsOf picks the version in effect on date from an unordered slice.
// Stores without an indexed "as of" query use it; ok is false if none applies.
func SelectAsOf[K ~string, V any](versions []Version[K, V], date Date) (Version[K, V], bool) {
	var (
		best  Version[K, V]
		found bool
	)
	for _, v := range versions {
		if v.EffectiveFrom.After(date) {
			continue
		}
		if !found || v.EffectiveFrom.After(best.EffectiveFrom) {
			best, found = v, true
		}
	}
	return best, found
}
