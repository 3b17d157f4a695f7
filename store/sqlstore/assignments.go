package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/warp/clinic-engine/generic"
)

// =============================================================================
// ASSIGNMENT STORE (generic.IntervalTxStore)
// =============================================================================

// Assignments persists employee postings in staff_assignments.
type Assignments struct {
	assignmentQueries
}

// WithTx executes fn within a database transaction.
func (a *Assignments) WithTx(ctx context.Context, fn func(generic.IntervalStore) error) error {
	return a.store.withTx(ctx, func(tx *sqlx.Tx) error {
		return fn(&assignmentQueries{store: a.store, q: tx, inTx: true})
	})
}

// assignmentQueries runs against the database handle or an open transaction.
type assignmentQueries struct {
	store *Store
	q     sqlx.ExtContext
	inTx  bool
}

type assignmentRow struct {
	ID         string         `db:"id"`
	EmployeeID string         `db:"employee_id"`
	BranchID   string         `db:"branch_id"`
	StartDate  string         `db:"start_date"`
	EndDate    sql.NullString `db:"end_date"`
	CreatedAt  string         `db:"created_at"`
}

const assignmentColumns = `id, employee_id, branch_id, start_date, end_date, created_at`

func (a *assignmentQueries) lock(write bool) func() {
	if a.inTx {
		return func() {}
	}
	if write {
		return a.store.writeLock()
	}
	return a.store.readLock()
}

// LockSubject serializes writers for one employee until the transaction ends.
// PostgreSQL takes a transaction-scoped advisory lock; SQLite transactions
// are already exclusive (BEGIN IMMEDIATE under the store mutex).
func (a *assignmentQueries) LockSubject(ctx context.Context, subjectID string) error {
	if !a.inTx || a.store.driver != DriverPostgres {
		return nil
	}
	_, err := a.q.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, subjectID)
	if err != nil {
		return fmt.Errorf("failed to lock employee %s: %w", subjectID, classify(err))
	}
	return nil
}

func (a *assignmentQueries) BySubject(ctx context.Context, subjectID string) ([]generic.Interval, error) {
	defer a.lock(false)()

	query := a.q.Rebind(`
		SELECT ` + assignmentColumns + `
		FROM staff_assignments
		WHERE employee_id = ?
		ORDER BY start_date DESC, created_at DESC
	`)
	return a.query(ctx, query, subjectID)
}

func (a *assignmentQueries) ActiveInScope(ctx context.Context, scopeID string, date generic.Date) ([]generic.Interval, error) {
	defer a.lock(false)()

	d := date.String()
	query := a.q.Rebind(`
		SELECT ` + assignmentColumns + `
		FROM staff_assignments
		WHERE branch_id = ? AND start_date <= ? AND (end_date IS NULL OR end_date > ?)
		ORDER BY employee_id
	`)
	return a.query(ctx, query, scopeID, d, d)
}

func (a *assignmentQueries) Insert(ctx context.Context, iv generic.Interval) error {
	defer a.lock(true)()

	var end sql.NullString
	if iv.End != nil {
		end = sql.NullString{String: iv.End.String(), Valid: true}
	}
	createdAt := iv.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := a.q.Rebind(`
		INSERT INTO staff_assignments (` + assignmentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	_, err := a.q.ExecContext(ctx, query,
		iv.ID, iv.SubjectID, iv.ScopeID, iv.Start.String(), end, createdAt.Format(time.RFC3339Nano))
	if err != nil {
		err = classify(err)
		if errors.Is(err, errUniqueViolation) {
			// idx_unique_open_assignment: the employee already has an open posting.
			return generic.ErrOverlap
		}
		return fmt.Errorf("failed to insert assignment: %w", err)
	}
	return nil
}

func (a *assignmentQueries) Close(ctx context.Context, id string, end generic.Date) error {
	defer a.lock(true)()

	query := a.q.Rebind(`
		UPDATE staff_assignments
		SET end_date = ?
		WHERE id = ? AND end_date IS NULL
	`)
	res, err := a.q.ExecContext(ctx, query, end.String(), id)
	if err != nil {
		return fmt.Errorf("failed to close assignment %s: %w", id, classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &generic.NotFoundError{Kind: "open interval", ID: id}
	}
	return nil
}

func (a *assignmentQueries) query(ctx context.Context, query string, args ...any) ([]generic.Interval, error) {
	var rows []assignmentRow
	if err := sqlx.SelectContext(ctx, a.q, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to load assignments: %w", classify(err))
	}

	result := make([]generic.Interval, 0, len(rows))
	for _, row := range rows {
		iv, err := row.toInterval()
		if err != nil {
			return nil, err
		}
		result = append(result, iv)
	}
	return result, nil
}

func (r assignmentRow) toInterval() (generic.Interval, error) {
	start, err := generic.ParseDate(r.StartDate)
	if err != nil {
		return generic.Interval{}, err
	}
	iv := generic.Interval{
		ID:        r.ID,
		SubjectID: r.EmployeeID,
		ScopeID:   r.BranchID,
		Start:     start,
	}
	if r.EndDate.Valid {
		end, err := generic.ParseDate(r.EndDate.String)
		if err != nil {
			return generic.Interval{}, err
		}
		iv.End = &end
	}
	iv.CreatedAt, _ = time.Parse(time.RFC3339Nano, r.CreatedAt)
	return iv, nil
}
