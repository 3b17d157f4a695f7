/*
Package billing composes invoices: product sales and service charges priced
from effective-dated snapshots and committed as one unit.

KEY CONCEPTS IN THIS FILE (types.go):
  - Invoice: Header plus product and service lines, with a frozen total
  - ProductLine / ServiceLine: Line items carrying their price snapshot
  - ComposeRequest: What an order-entry caller hands to the Composer
  - Collaborator interfaces: ownership, discount tier, inventory, reporting

SNAPSHOTS:
  ProductLine.UnitPrice and ServiceLine.Price are copied from the price
  version in effect on the invoice's IssueDate. They are never re-derived.
  Invoice.Total is computed once at commit and persisted as-is.

SEE ALSO:
  - composer.go: The transaction
  - pricing/resolver.go: Snapshot resolution
*/
package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/clinic-engine/generic"
	"github.com/warp/clinic-engine/pricing"
	"github.com/warp/clinic-engine/staffing"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type InvoiceID string
type CustomerID string
type PetID string

// =============================================================================
// PAYMENT METHOD
// =============================================================================

type PaymentMethod string

const (
	PaymentCash      PaymentMethod = "cash"
	PaymentCard      PaymentMethod = "card"
	PaymentTransfer  PaymentMethod = "transfer"
	PaymentInsurance PaymentMethod = "insurance"
)

func (p PaymentMethod) Valid() bool {
	switch p {
	case PaymentCash, PaymentCard, PaymentTransfer, PaymentInsurance:
		return true
	}
	return false
}

// =============================================================================
// INVOICE
// =============================================================================

type Invoice struct {
	ID            InvoiceID
	CustomerID    CustomerID
	BranchID      staffing.BranchID
	IssuedBy      staffing.EmployeeID
	IssueDate     generic.Date
	PaymentMethod PaymentMethod
	ProductLines  []ProductLine
	ServiceLines  []ServiceLine
	Total         generic.Money
	CreatedAt     time.Time
}

type ProductLine struct {
	ProductID pricing.ProductID
	Quantity  int
	UnitPrice generic.Money // snapshot
}

func (l ProductLine) Subtotal() generic.Money { return l.UnitPrice.MulInt(l.Quantity) }

type ServiceLine struct {
	ServiceID pricing.ServiceID
	PetID     PetID
	Price     generic.Money // snapshot
	SourceRef string        // examination or vaccination id, optional
}

// LinesTotal re-sums the line snapshots. Total is never replaced by this;
// it exists for audits comparing the frozen total with its lines.
func (inv *Invoice) LinesTotal() generic.Money {
	total := inv.Total.Zero()
	for _, l := range inv.ProductLines {
		total = total.Add(l.Subtotal())
	}
	for _, l := range inv.ServiceLines {
		total = total.Add(l.Price)
	}
	return total
}

// =============================================================================
// COMPOSE REQUEST
// =============================================================================

type ProductLineRequest struct {
	ProductID pricing.ProductID
	Quantity  int
}

type ServiceLineRequest struct {
	ServiceID pricing.ServiceID
	PetID     PetID
	SourceRef string
}

type ComposeRequest struct {
	CustomerID    CustomerID
	BranchID      staffing.BranchID
	IssuedBy      staffing.EmployeeID
	IssueDate     generic.Date
	PaymentMethod PaymentMethod
	ProductLines  []ProductLineRequest
	ServiceLines  []ServiceLineRequest
}

// =============================================================================
// ERRORS
// =============================================================================

// LineError points at the offending line of a request.
type LineError struct {
	Kind  string // "product" or "service"
	Index int
	Err   error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("%s line %d: %v", e.Kind, e.Index, e.Err)
}

func (e *LineError) Unwrap() error { return e.Err }

// OwnershipError is a service line for a pet the customer doesn't own.
type OwnershipError struct {
	PetID      PetID
	CustomerID CustomerID
}

func (e *OwnershipError) Error() string {
	return fmt.Sprintf("pet %s does not belong to customer %s", e.PetID, e.CustomerID)
}

func (e *OwnershipError) Unwrap() error { return generic.ErrOwnership }

// =============================================================================
// STORE
// =============================================================================

// Tx is the view of the store inside one invoice transaction.
type Tx interface {
	ProductPrices() generic.VersionReader[pricing.ProductID, generic.Money]
	ServicePrices() generic.VersionReader[pricing.ServiceID, generic.Money]

	// InsertInvoice writes the header and every line as one batch.
	InsertInvoice(ctx context.Context, inv *Invoice) error
}

type Store interface {
	// WithTx executes fn within a transaction, rolling back if it errors.
	WithTx(ctx context.Context, fn func(Tx) error) error

	Invoice(ctx context.Context, id InvoiceID) (*Invoice, error)
	InvoicesByCustomer(ctx context.Context, customerID CustomerID) ([]Invoice, error)
}

// =============================================================================
// COLLABORATORS
// =============================================================================

type OwnershipChecker interface {
	PetBelongsToCustomer(ctx context.Context, petID PetID, customerID CustomerID) (bool, error)
}

// DiscountProvider returns the customer's tier multiplier in (0, 1].
type DiscountProvider interface {
	DiscountMultiplierFor(ctx context.Context, customerID CustomerID) (decimal.Decimal, error)
}

// InventoryAdjuster applies stock movements after an invoice commits.
type InventoryAdjuster interface {
	ApplyStockDelta(ctx context.Context, productID pricing.ProductID, branchID staffing.BranchID, delta int) error
}

// StaffVerifier confirms the issuing employee was posted at the branch.
type StaffVerifier interface {
	IsActiveAt(ctx context.Context, employeeID staffing.EmployeeID, branchID staffing.BranchID, date generic.Date) (bool, error)
}

// Reporter receives outcomes the composer can't return to the caller.
type Reporter interface {
	InvoiceCommitted(ctx context.Context, inv *Invoice)
	InvoiceRejected(ctx context.Context, req ComposeRequest, err error)
	InventoryAdjustFailed(ctx context.Context, inv *Invoice, line ProductLine, err error)
}

type NopReporter struct{}

func (NopReporter) InvoiceCommitted(context.Context, *Invoice)                           {}
func (NopReporter) InvoiceRejected(context.Context, ComposeRequest, error)               {}
func (NopReporter) InventoryAdjustFailed(context.Context, *Invoice, ProductLine, error) {}
