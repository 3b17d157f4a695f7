/*
Package staffing tracks which branch each employee is posted to, over time.

PURPOSE:
  An employee works at one branch at a time. The Roster is the employee/branch
  face of generic.Tracker: it keeps postings as non-overlapping intervals and
  answers the questions other parts of the clinic ask:

  - access control: "may Dr. Lan act on Branch 2's records today?"
  - attribution:    "was the vet posted at this branch on the exam date?"
  - scheduling:     "where is this employee now?", "who is at Branch 2 today?"

POSTING RULES:
  Assign(e, b2, d) closes e's current posting at d and opens b2 from d.
  Terminate(e, b, d) ends the posting at b without a replacement.
  A posting covers [start, end): on the transfer day the employee is at the
  new branch only.

SEE ALSO:
  - generic/interval.go: Non-overlap rules and transaction handling
  - guard.go: Branch access checks for an explicit Principal
*/
package staffing

import (
	"context"
	"time"

	"github.com/warp/clinic-engine/generic"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EmployeeID string
type BranchID string

// Assignment is one posting of an employee at a branch.
type Assignment struct {
	ID         string
	EmployeeID EmployeeID
	BranchID   BranchID
	StartDate  generic.Date
	EndDate    *generic.Date // nil = current posting
	CreatedAt  time.Time
}

func (a Assignment) IsOpen() bool { return a.EndDate == nil }

func fromInterval(iv generic.Interval) Assignment {
	return Assignment{
		ID:         iv.ID,
		EmployeeID: EmployeeID(iv.SubjectID),
		BranchID:   BranchID(iv.ScopeID),
		StartDate:  iv.Start,
		EndDate:    iv.End,
		CreatedAt:  iv.CreatedAt,
	}
}

func fromIntervals(ivs []generic.Interval) []Assignment {
	result := make([]Assignment, len(ivs))
	for i, iv := range ivs {
		result[i] = fromInterval(iv)
	}
	return result
}

// =============================================================================
// ROSTER
// =============================================================================

type Roster struct {
	tracker *generic.Tracker
}

// NewRoster builds a roster over an interval store holding employee postings.
func NewRoster(store generic.IntervalTxStore, clock generic.Clock) *Roster {
	return &Roster{tracker: &generic.Tracker{Store: store, Clock: clock}}
}

// Assign posts the employee at branch from start, ending any current posting.
func (r *Roster) Assign(ctx context.Context, employeeID EmployeeID, branchID BranchID, start generic.Date) (Assignment, error) {
	iv, err := r.tracker.Assign(ctx, string(employeeID), string(branchID), start)
	if err != nil {
		return Assignment{}, err
	}
	return fromInterval(iv), nil
}

// Terminate ends the employee's current posting at branch.
func (r *Roster) Terminate(ctx context.Context, employeeID EmployeeID, branchID BranchID, end generic.Date) (Assignment, error) {
	iv, err := r.tracker.Terminate(ctx, string(employeeID), string(branchID), end)
	if err != nil {
		return Assignment{}, err
	}
	return fromInterval(iv), nil
}

// IsActiveAt reports whether the employee was posted at branch on date.
func (r *Roster) IsActiveAt(ctx context.Context, employeeID EmployeeID, branchID BranchID, date generic.Date) (bool, error) {
	return r.tracker.IsActiveAt(ctx, string(employeeID), string(branchID), date)
}

// CurrentBranch returns the branch of the employee's open posting.
func (r *Roster) CurrentBranch(ctx context.Context, employeeID EmployeeID) (BranchID, bool, error) {
	iv, err := r.tracker.Current(ctx, string(employeeID))
	if err != nil || iv == nil {
		return "", false, err
	}
	return BranchID(iv.ScopeID), true, nil
}

// BranchAt returns where the employee was posted on date.
func (r *Roster) BranchAt(ctx context.Context, employeeID EmployeeID, date generic.Date) (BranchID, bool, error) {
	scope, ok, err := r.tracker.ScopeAt(ctx, string(employeeID), date)
	return BranchID(scope), ok, err
}

// History lists all postings of the employee, newest first.
func (r *Roster) History(ctx context.Context, employeeID EmployeeID) ([]Assignment, error) {
	ivs, err := r.tracker.History(ctx, string(employeeID))
	if err != nil {
		return nil, err
	}
	return fromIntervals(ivs), nil
}

// StaffAt lists the postings covering date at branch. A zero date means today.
func (r *Roster) StaffAt(ctx context.Context, branchID BranchID, date generic.Date) ([]Assignment, error) {
	ivs, err := r.tracker.ActiveInScope(ctx, string(branchID), date)
	if err != nil {
		return nil, err
	}
	return fromIntervals(ivs), nil
}
