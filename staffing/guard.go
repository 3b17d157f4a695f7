package staffing

import (
	"context"
	"fmt"

	"github.com/warp/clinic-engine/generic"
)

// Role is the caller's role as established by authentication upstream.
type Role string

const (
	RoleAdmin        Role = "admin"
	RoleManager      Role = "manager"
	RoleVeterinarian Role = "veterinarian"
	RoleCashier      Role = "cashier"
)

// Principal is the authenticated caller. It is passed explicitly to every
// branch-scoped check; nothing reads it from shared state.
type Principal struct {
	EmployeeID EmployeeID
	Role       Role
}

// ActivityChecker is the part of Roster the guard needs.
type ActivityChecker interface {
	IsActiveAt(ctx context.Context, employeeID EmployeeID, branchID BranchID, date generic.Date) (bool, error)
}

// Guard decides whether a principal may act on a branch's data.
type Guard struct {
	Roster ActivityChecker
}

// Authorize returns nil if p may act on branch on date. Admins are not
// branch-scoped; everyone else must be posted at the branch that day.
func (g *Guard) Authorize(ctx context.Context, p Principal, branchID BranchID, date generic.Date) error {
	if p.Role == RoleAdmin {
		return nil
	}
	if p.EmployeeID == "" {
		return fmt.Errorf("%w: anonymous caller", generic.ErrNotPermitted)
	}
	ok, err := g.Roster.IsActiveAt(ctx, p.EmployeeID, branchID, date)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s is not posted at %s on %s", generic.ErrNotPermitted, p.EmployeeID, branchID, date)
	}
	return nil
}
