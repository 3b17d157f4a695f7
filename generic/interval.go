/*
interval.go - Exclusive tenures (a subject is in one scope at a time)

PURPOSE:
  Some effective-dated facts are exclusive states rather than values: an
  employee is posted to exactly one branch at a time. Modelling these as
  plain versions would let two tenures silently overlap. The Tracker keeps
  them as explicit [Start, End) intervals with a hard non-overlap rule.

KEY CONCEPTS:
  Interval:
    One tenure of a subject (employee) in a scope (branch).
    End == nil means the interval is open (current).

  Window:
    An interval covers [Start, End). On the handover day the subject belongs
    to the new scope only. An open interval covers [Start, +inf).

INVARIANTS (per subject):
  1. At most one open interval
  2. No two intervals overlap
  3. Start <= End whenever End is set

ASSIGN:
  Assign(e, b2, d2) while e is open at b1 since d1 (d1 < d2):
    b1: [d1, d2)   <- closed in the same transaction
    b2: [d2, open)
  Starting on or before the open interval's start, or inside a closed
  interval, is rejected with OverlapError rather than silently reordered.

CONCURRENCY:
  Assign and Terminate lock the subject inside the store transaction. The
  store also enforces "one open interval per subject" with a unique index,
  so two racing assigns can never both leave an open interval. A storage
  serialization conflict is retried once, then surfaced as ErrOverlap.

SEE ALSO:
  - store.go: IntervalStore
  - staffing/roster.go: Employee/branch wrapper
*/
package generic

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// INTERVAL
// =============================================================================

type Interval struct {
	ID        string
	SubjectID string
	ScopeID   string
	Start     Date
	End       *Date // nil = still open
	CreatedAt time.Time
}

// IsOpen reports whether the interval has no end.
func (iv Interval) IsOpen() bool { return iv.End == nil }

// Contains reports whether date falls in [Start, End).
func (iv Interval) Contains(date Date) bool {
	if date.Before(iv.Start) {
		return false
	}
	if iv.End != nil && !date.Before(*iv.End) {
		return false
	}
	return true
}

// =============================================================================
// TRACKER
// =============================================================================

type Tracker struct {
	Store IntervalTxStore
	Clock Clock

	// NewID generates interval ids. Defaults to UUIDv4.
	NewID func() string
}

func NewTracker(store IntervalTxStore) *Tracker {
	return &Tracker{Store: store}
}

// Assign opens a new interval for subject in scope from start, closing the
// subject's current open interval at start.
func (t *Tracker) Assign(ctx context.Context, subjectID, scopeID string, start Date) (Interval, error) {
	if subjectID == "" || scopeID == "" {
		return Interval{}, fmt.Errorf("%w: subject and scope are required", ErrInvalidInput)
	}
	if start.IsZero() {
		return Interval{}, fmt.Errorf("%w: start date is required", ErrInvalidInput)
	}

	var created Interval
	err := RetryOnce(func() error {
		return t.Store.WithTx(ctx, func(s IntervalStore) error {
			if err := s.LockSubject(ctx, subjectID); err != nil {
				return err
			}
			existing, err := s.BySubject(ctx, subjectID)
			if err != nil {
				return err
			}

			open, err := checkAssignable(existing, subjectID, scopeID, start)
			if err != nil {
				return err
			}
			if open != nil {
				if err := s.Close(ctx, open.ID, start); err != nil {
					return err
				}
			}

			iv := Interval{
				ID:        t.newID(),
				SubjectID: subjectID,
				ScopeID:   scopeID,
				Start:     start,
				CreatedAt: time.Now().UTC(),
			}
			if err := s.Insert(ctx, iv); err != nil {
				return err
			}
			created = iv
			return nil
		})
	})
	if err != nil {
		return Interval{}, asOverlap(err, subjectID, scopeID, start)
	}
	return created, nil
}

// checkAssignable returns the open interval to close, or an OverlapError.
func checkAssignable(existing []Interval, subjectID, scopeID string, start Date) (*Interval, error) {
	var open *Interval
	for i := range existing {
		iv := existing[i]
		if iv.IsOpen() {
			if iv.ScopeID == scopeID {
				return nil, &OverlapError{SubjectID: subjectID, ScopeID: scopeID, Start: start,
					Reason: "already assigned to this scope since " + iv.Start.String()}
			}
			// A same-day move would leave an empty [start, start) interval behind.
			if !start.After(iv.Start) {
				return nil, &OverlapError{SubjectID: subjectID, ScopeID: scopeID, Start: start,
					Reason: "does not start after the open interval at " + iv.ScopeID + " (" + iv.Start.String() + ")"}
			}
			open = &existing[i]
			continue
		}
		if iv.End.After(start) {
			return nil, &OverlapError{SubjectID: subjectID, ScopeID: scopeID, Start: start,
				Reason: "starts inside the closed interval at " + iv.ScopeID + " ending " + iv.End.String()}
		}
	}
	return open, nil
}

// asOverlap turns store-level conflicts into an OverlapError with context.
func asOverlap(err error, subjectID, scopeID string, start Date) error {
	var oe *OverlapError
	switch {
	case errors.As(err, &oe):
		return err
	case errors.Is(err, ErrSerializationConflict):
		return &OverlapError{SubjectID: subjectID, ScopeID: scopeID, Start: start, Reason: "concurrent assignment"}
	case errors.Is(err, ErrOverlap):
		return &OverlapError{SubjectID: subjectID, ScopeID: scopeID, Start: start, Reason: "another open interval exists"}
	default:
		return err
	}
}

// Terminate closes the subject's open interval in scope at end without
// opening a replacement.
func (t *Tracker) Terminate(ctx context.Context, subjectID, scopeID string, end Date) (Interval, error) {
	if end.IsZero() {
		return Interval{}, fmt.Errorf("%w: end date is required", ErrInvalidInput)
	}

	var closed Interval
	err := RetryOnce(func() error {
		return t.Store.WithTx(ctx, func(s IntervalStore) error {
			if err := s.LockSubject(ctx, subjectID); err != nil {
				return err
			}
			existing, err := s.BySubject(ctx, subjectID)
			if err != nil {
				return err
			}

			var open *Interval
			for i := range existing {
				if existing[i].IsOpen() && existing[i].ScopeID == scopeID {
					open = &existing[i]
					break
				}
			}
			if open == nil {
				return &NotFoundError{Kind: "open interval", ID: subjectID + "@" + scopeID}
			}
			if end.Before(open.Start) {
				return &InvalidRangeError{Start: open.Start, End: end}
			}
			if err := s.Close(ctx, open.ID, end); err != nil {
				return err
			}
			closed = *open
			closed.End = &end
			return nil
		})
	})
	if err != nil {
		return Interval{}, err
	}
	return closed, nil
}

// IsActiveAt reports whether subject was in scope on date.
func (t *Tracker) IsActiveAt(ctx context.Context, subjectID, scopeID string, date Date) (bool, error) {
	intervals, err := t.Store.BySubject(ctx, subjectID)
	if err != nil {
		return false, err
	}
	for _, iv := range intervals {
		if iv.ScopeID == scopeID && iv.Contains(date) {
			return true, nil
		}
	}
	return false, nil
}

// Current returns the subject's open interval, or nil.
func (t *Tracker) Current(ctx context.Context, subjectID string) (*Interval, error) {
	intervals, err := t.Store.BySubject(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	for i := range intervals {
		if intervals[i].IsOpen() {
			return &intervals[i], nil
		}
	}
	return nil, nil
}

// ScopeAt returns the scope the subject was in on date.
func (t *Tracker) ScopeAt(ctx context.Context, subjectID string, date Date) (string, bool, error) {
	intervals, err := t.Store.BySubject(ctx, subjectID)
	if err != nil {
		return "", false, err
	}
	for _, iv := range intervals {
		if iv.Contains(date) {
			return iv.ScopeID, true, nil
		}
	}
	return "", false, nil
}

// History returns every interval of the subject, newest first.
func (t *Tracker) History(ctx context.Context, subjectID string) ([]Interval, error) {
	return t.Store.BySubject(ctx, subjectID)
}

// ActiveInScope lists the subjects' intervals covering date in scope.
func (t *Tracker) ActiveInScope(ctx context.Context, scopeID string, date Date) ([]Interval, error) {
	if date.IsZero() {
		date = t.Clock.now()
	}
	return t.Store.ActiveInScope(ctx, scopeID, date)
}

func (t *Tracker) newID() string {
	if t.NewID != nil {
		return t.NewID()
	}
	return uuid.NewString()
}
