/*
interval_test.go - Exclusive tenure tracking

Covers:
  - Assign closes the open interval at the new start; [start, end) windows
  - Re-assign to the same scope and backdating into history are overlaps
  - Terminate: NotFound and InvalidRange leave the store untouched
  - Concurrent assigns for one subject leave exactly one open interval
  - Store-level backstop and retry on serialization conflicts
*/
package generic_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/clinic-engine/generic"
	"github.com/warp/clinic-engine/generic/store"
)

func newTracker() (*generic.Tracker, *store.Intervals) {
	s := store.NewIntervals()
	return generic.NewTracker(s), s
}

func TestTracker_AssignThenReassign(t *testing.T) {
	// GIVEN: e1 at b1 from Jan 1
	ctx := context.Background()
	tr, _ := newTracker()
	_, err := tr.Assign(ctx, "e1", "b1", d("2025-01-01"))
	require.NoError(t, err)

	// WHEN: e1 moves to b2 from Jul 1
	moved, err := tr.Assign(ctx, "e1", "b2", d("2025-07-01"))
	require.NoError(t, err)
	assert.True(t, moved.IsOpen())

	// THEN: b1 ends the day b2 starts
	history, err := tr.History(ctx, "e1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "b2", history[0].ScopeID)
	assert.True(t, history[0].IsOpen())
	assert.Equal(t, "b1", history[1].ScopeID)
	require.NotNil(t, history[1].End)
	assert.Equal(t, "2025-07-01", history[1].End.String())

	// AND: the transfer day belongs to the new scope only
	tests := []struct {
		scope, date string
		want        bool
	}{
		{"b1", "2024-12-31", false},
		{"b1", "2025-01-01", true},
		{"b1", "2025-06-30", true},
		{"b1", "2025-07-01", false},
		{"b2", "2025-06-30", false},
		{"b2", "2025-07-01", true},
		{"b2", "2099-01-01", true},
	}
	for _, tt := range tests {
		active, err := tr.IsActiveAt(ctx, "e1", tt.scope, d(tt.date))
		require.NoError(t, err)
		assert.Equal(t, tt.want, active, "%s on %s", tt.scope, tt.date)
	}

	current, err := tr.Current(ctx, "e1")
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, "b2", current.ScopeID)

	scope, ok, err := tr.ScopeAt(ctx, "e1", d("2025-03-01"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "b1", scope)
}

func TestTracker_AssignRejections(t *testing.T) {
	tests := []struct {
		name  string
		scope string
		start string
	}{
		{"same scope while open", "b2", "2025-08-01"},
		{"before the open interval", "b3", "2025-06-30"},
		{"same day the open interval starts", "b3", "2025-07-01"},
		{"inside a closed interval", "b3", "2025-03-01"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// GIVEN: b1 from Jan 1 to Jul 1, b2 open from Jul 1
			ctx := context.Background()
			tr, _ := newTracker()
			_, err := tr.Assign(ctx, "e1", "b1", d("2025-01-01"))
			require.NoError(t, err)
			_, err = tr.Assign(ctx, "e1", "b2", d("2025-07-01"))
			require.NoError(t, err)

			// WHEN
			_, err = tr.Assign(ctx, "e1", tt.scope, d(tt.start))

			// THEN: overlap, and nothing changed
			assert.ErrorIs(t, err, generic.ErrOverlap)
			var oe *generic.OverlapError
			require.ErrorAs(t, err, &oe)
			assert.Equal(t, "e1", oe.SubjectID)
			assert.NotEmpty(t, oe.Reason)

			history, err := tr.History(ctx, "e1")
			require.NoError(t, err)
			assert.Len(t, history, 2)
			assert.True(t, history[0].IsOpen())
		})
	}
}

func TestTracker_AssignValidation(t *testing.T) {
	tr, _ := newTracker()
	ctx := context.Background()

	_, err := tr.Assign(ctx, "", "b1", d("2025-01-01"))
	assert.ErrorIs(t, err, generic.ErrInvalidInput)

	_, err = tr.Assign(ctx, "e1", "b1", generic.Date{})
	assert.ErrorIs(t, err, generic.ErrInvalidInput)
}

func TestTracker_Terminate(t *testing.T) {
	// GIVEN
	ctx := context.Background()
	tr, _ := newTracker()
	_, err := tr.Assign(ctx, "e1", "b1", d("2025-01-01"))
	require.NoError(t, err)

	// WHEN
	closed, err := tr.Terminate(ctx, "e1", "b1", d("2025-03-01"))

	// THEN
	require.NoError(t, err)
	require.NotNil(t, closed.End)
	assert.Equal(t, "2025-03-01", closed.End.String())

	current, err := tr.Current(ctx, "e1")
	require.NoError(t, err)
	assert.Nil(t, current)

	active, err := tr.IsActiveAt(ctx, "e1", "b1", d("2025-03-01"))
	require.NoError(t, err)
	assert.False(t, active)

	// AND: can be re-hired after the gap
	_, err = tr.Assign(ctx, "e1", "b1", d("2025-05-01"))
	assert.NoError(t, err)
}

func TestTracker_Terminate_NotFoundLeavesStoreUntouched(t *testing.T) {
	// GIVEN: e1 open at b1
	ctx := context.Background()
	tr, _ := newTracker()
	_, err := tr.Assign(ctx, "e1", "b1", d("2025-01-01"))
	require.NoError(t, err)
	before, err := tr.History(ctx, "e1")
	require.NoError(t, err)

	// WHEN: terminating at a scope e1 is not in
	_, err = tr.Terminate(ctx, "e1", "b2", d("2025-03-01"))

	// THEN
	assert.ErrorIs(t, err, generic.ErrNotFound)
	after, err := tr.History(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, before, after)

	// AND: unknown subject
	_, err = tr.Terminate(ctx, "ghost", "b1", d("2025-03-01"))
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestTracker_Terminate_EndBeforeStart(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTracker()
	_, err := tr.Assign(ctx, "e1", "b1", d("2025-03-01"))
	require.NoError(t, err)

	_, err = tr.Terminate(ctx, "e1", "b1", d("2025-02-28"))

	assert.ErrorIs(t, err, generic.ErrInvalidRange)
	current, err := tr.Current(ctx, "e1")
	require.NoError(t, err)
	require.NotNil(t, current, "posting must stay open")
}

func TestTracker_ActiveInScope(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTracker()
	for _, a := range []struct{ subject, scope, start string }{
		{"e2", "b1", "2025-01-01"},
		{"e1", "b1", "2025-01-01"},
		{"e3", "b2", "2025-01-01"},
		{"e1", "b2", "2025-07-01"},
	} {
		_, err := tr.Assign(ctx, a.subject, a.scope, d(a.start))
		require.NoError(t, err)
	}

	staff, err := tr.ActiveInScope(ctx, "b1", d("2025-03-01"))
	require.NoError(t, err)
	require.Len(t, staff, 2)
	assert.Equal(t, "e1", staff[0].SubjectID)
	assert.Equal(t, "e2", staff[1].SubjectID)

	staff, err = tr.ActiveInScope(ctx, "b1", d("2025-07-01"))
	require.NoError(t, err)
	require.Len(t, staff, 1)
	assert.Equal(t, "e2", staff[0].SubjectID)
}

func TestTracker_ConcurrentAssign(t *testing.T) {
	// GIVEN: e1 open at b0
	ctx := context.Background()
	tr, _ := newTracker()
	_, err := tr.Assign(ctx, "e1", "b0", d("2025-01-01"))
	require.NoError(t, err)

	// WHEN: many writers move e1 on the same day
	const writers = 8
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = tr.Assign(ctx, "e1", fmt.Sprintf("b%d", i+1), d("2025-07-01"))
		}(i)
	}
	wg.Wait()

	// THEN: exactly one open interval; non-overlapping history
	history, err := tr.History(ctx, "e1")
	require.NoError(t, err)
	open := 0
	for _, iv := range history {
		if iv.IsOpen() {
			open++
		}
	}
	assert.Equal(t, 1, open)

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, generic.ErrOverlap)
	}
	assert.Equal(t, 1, succeeded)
}

// =============================================================================
// STORE BACKSTOP AND RETRY
// =============================================================================

// conflictingStore fails the first n transactions with a serialization conflict.
type conflictingStore struct {
	*store.Intervals
	failures int
	calls    int
}

func (c *conflictingStore) WithTx(ctx context.Context, fn func(generic.IntervalStore) error) error {
	c.calls++
	if c.calls <= c.failures {
		return fmt.Errorf("commit: %w", generic.ErrSerializationConflict)
	}
	return c.Intervals.WithTx(ctx, fn)
}

func TestTracker_RetriesOnceOnConflict(t *testing.T) {
	s := &conflictingStore{Intervals: store.NewIntervals(), failures: 1}
	tr := generic.NewTracker(s)

	_, err := tr.Assign(context.Background(), "e1", "b1", d("2025-01-01"))

	require.NoError(t, err)
	assert.Equal(t, 2, s.calls)
}

func TestTracker_SecondConflictIsOverlap(t *testing.T) {
	s := &conflictingStore{Intervals: store.NewIntervals(), failures: 2}
	tr := generic.NewTracker(s)

	_, err := tr.Assign(context.Background(), "e1", "b1", d("2025-01-01"))

	assert.ErrorIs(t, err, generic.ErrOverlap)
	assert.Equal(t, 2, s.calls)
}

func TestIntervals_InsertRejectsSecondOpen(t *testing.T) {
	ctx := context.Background()
	s := store.NewIntervals()
	require.NoError(t, s.Insert(ctx, generic.Interval{ID: "1", SubjectID: "e1", ScopeID: "b1", Start: d("2025-01-01")}))

	err := s.Insert(ctx, generic.Interval{ID: "2", SubjectID: "e1", ScopeID: "b2", Start: d("2025-02-01")})

	assert.ErrorIs(t, err, generic.ErrOverlap)
}

func TestIntervals_WithTxRollsBack(t *testing.T) {
	ctx := context.Background()
	s := store.NewIntervals()
	require.NoError(t, s.Insert(ctx, generic.Interval{ID: "1", SubjectID: "e1", ScopeID: "b1", Start: d("2025-01-01")}))

	err := s.WithTx(ctx, func(tx generic.IntervalStore) error {
		require.NoError(t, tx.Close(ctx, "1", d("2025-02-01")))
		return fmt.Errorf("boom")
	})

	require.Error(t, err)
	ivs, err := s.BySubject(ctx, "e1")
	require.NoError(t, err)
	require.Len(t, ivs, 1)
	assert.True(t, ivs[0].IsOpen())
}

func TestInterval_Contains(t *testing.T) {
	end := d("2025-07-01")
	iv := generic.Interval{Start: d("2025-01-01"), End: &end}

	assert.False(t, iv.Contains(d("2024-12-31")))
	assert.True(t, iv.Contains(d("2025-01-01")))
	assert.True(t, iv.Contains(d("2025-06-30")))
	assert.False(t, iv.Contains(d("2025-07-01")))
}
