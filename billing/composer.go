/*
composer.go - Atomic invoice composition

PURPOSE:
  Turns a ComposeRequest into a committed Invoice. Either the header and
  every line are written, or nothing is.

STEPS:
  1. Reject an invoice with no lines (ErrEmptyInvoice)
  2. Validate lines: quantity > 0; each service line's pet belongs to the
     customer; the issuing employee is posted at the branch on IssueDate
  3. Inside the store transaction, resolve every price as of IssueDate
     (not "now": a backdated invoice uses the rates of its own day)
  4. total = sum(qty * unit snapshot) + sum(service snapshot)
  5. Insert header + lines as one batch, commit

AFTER COMMIT:
  Product quantities are sent to the InventoryAdjuster. That effect is
  outside the invoice transaction: a failure is reported, never retried,
  and never undoes the invoice.

RETRIES:
  A serialization conflict re-runs the whole transaction once. Prices are
  resolved again on the retry because they are read inside it.

SEE ALSO:
  - types.go: Invoice, collaborators
  - pricing/resolver.go: Snapshot rounding and PriceNotDefinedError
*/
package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/warp/clinic-engine/generic"
	"github.com/warp/clinic-engine/pricing"
)

type Composer struct {
	Store     Store
	Ownership OwnershipChecker

	// Optional collaborators
	Discounts DiscountProvider
	Inventory InventoryAdjuster
	Staff     StaffVerifier
	Reporter  Reporter
	Log       logrus.FieldLogger

	NewID func() InvoiceID
	Now   func() time.Time
}

func NewComposer(store Store, ownership OwnershipChecker) *Composer {
	return &Composer{Store: store, Ownership: ownership}
}

// Compose validates, prices and commits an invoice.
func (c *Composer) Compose(ctx context.Context, req ComposeRequest) (*Invoice, error) {
	inv, err := c.compose(ctx, req)
	if err != nil {
		c.reporter().InvoiceRejected(ctx, req, err)
		return nil, err
	}

	c.reporter().InvoiceCommitted(ctx, inv)
	c.log().WithFields(logrus.Fields{
		"invoice":  inv.ID,
		"customer": inv.CustomerID,
		"branch":   inv.BranchID,
		"total":    inv.Total.String(),
	}).Debug("invoice committed")

	c.applyInventory(ctx, inv)
	return inv, nil
}

func (c *Composer) compose(ctx context.Context, req ComposeRequest) (*Invoice, error) {
	if err := c.validate(ctx, req); err != nil {
		return nil, err
	}

	discount, err := c.discountFor(ctx, req.CustomerID)
	if err != nil {
		return nil, err
	}

	var committed *Invoice
	err = generic.RetryOnce(func() error {
		committed = nil
		return c.Store.WithTx(ctx, func(tx Tx) error {
			inv, err := c.build(ctx, tx, req, discount)
			if err != nil {
				return err
			}
			if err := tx.InsertInvoice(ctx, inv); err != nil {
				return err
			}
			committed = inv
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return committed, nil
}

// validate covers everything that can be checked before opening the transaction.
func (c *Composer) validate(ctx context.Context, req ComposeRequest) error {
	if len(req.ProductLines) == 0 && len(req.ServiceLines) == 0 {
		return generic.ErrEmptyInvoice
	}
	if req.CustomerID == "" || req.BranchID == "" || req.IssuedBy == "" {
		return fmt.Errorf("%w: customer, branch and issuing employee are required", generic.ErrInvalidInput)
	}
	if req.IssueDate.IsZero() {
		return fmt.Errorf("%w: issue date is required", generic.ErrInvalidInput)
	}
	if !req.PaymentMethod.Valid() {
		return fmt.Errorf("%w: %q", generic.ErrInvalidPayment, req.PaymentMethod)
	}

	for i, l := range req.ProductLines {
		if l.ProductID == "" {
			return &LineError{Kind: "product", Index: i, Err: fmt.Errorf("%w: product id is required", generic.ErrInvalidInput)}
		}
		if l.Quantity <= 0 {
			return &LineError{Kind: "product", Index: i, Err: generic.ErrInvalidQuantity}
		}
	}

	for i, l := range req.ServiceLines {
		if l.ServiceID == "" || l.PetID == "" {
			return &LineError{Kind: "service", Index: i, Err: fmt.Errorf("%w: service and pet ids are required", generic.ErrInvalidInput)}
		}
		if c.Ownership == nil {
			return fmt.Errorf("billing: no ownership checker configured")
		}
		ok, err := c.Ownership.PetBelongsToCustomer(ctx, l.PetID, req.CustomerID)
		if err != nil {
			return fmt.Errorf("ownership check for pet %s: %w", l.PetID, err)
		}
		if !ok {
			return &LineError{Kind: "service", Index: i, Err: &OwnershipError{PetID: l.PetID, CustomerID: req.CustomerID}}
		}
	}

	if c.Staff != nil {
		ok, err := c.Staff.IsActiveAt(ctx, req.IssuedBy, req.BranchID, req.IssueDate)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s is not posted at %s on %s",
				generic.ErrNotPermitted, req.IssuedBy, req.BranchID, req.IssueDate)
		}
	}
	return nil
}

func (c *Composer) discountFor(ctx context.Context, customerID CustomerID) (decimal.Decimal, error) {
	if c.Discounts == nil {
		return pricing.NoDiscount, nil
	}
	m, err := c.Discounts.DiscountMultiplierFor(ctx, customerID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("discount lookup for %s: %w", customerID, err)
	}
	if err := pricing.ValidateDiscount(m); err != nil {
		return decimal.Zero, err
	}
	return m, nil
}

// build resolves every snapshot through tx and computes the total.
func (c *Composer) build(ctx context.Context, tx Tx, req ComposeRequest, discount decimal.Decimal) (*Invoice, error) {
	resolver := &pricing.Resolver{Products: tx.ProductPrices(), Services: tx.ServicePrices()}

	inv := &Invoice{
		ID:            c.newID(),
		CustomerID:    req.CustomerID,
		BranchID:      req.BranchID,
		IssuedBy:      req.IssuedBy,
		IssueDate:     req.IssueDate,
		PaymentMethod: req.PaymentMethod,
		ProductLines:  make([]ProductLine, 0, len(req.ProductLines)),
		ServiceLines:  make([]ServiceLine, 0, len(req.ServiceLines)),
		CreatedAt:     c.now(),
	}

	var total *generic.Money
	add := func(m generic.Money) error {
		if total == nil {
			t := m
			total = &t
			return nil
		}
		if m.Currency != total.Currency {
			return fmt.Errorf("%w: mixed currencies %s and %s", generic.ErrInvalidInput, total.Currency, m.Currency)
		}
		*total = total.Add(m)
		return nil
	}

	for i, l := range req.ProductLines {
		unit, err := resolver.ResolveProductPrice(ctx, l.ProductID, req.IssueDate, discount)
		if err != nil {
			return nil, &LineError{Kind: "product", Index: i, Err: err}
		}
		line := ProductLine{ProductID: l.ProductID, Quantity: l.Quantity, UnitPrice: unit}
		if err := add(line.Subtotal()); err != nil {
			return nil, err
		}
		inv.ProductLines = append(inv.ProductLines, line)
	}

	for i, l := range req.ServiceLines {
		price, err := resolver.ResolveServicePrice(ctx, l.ServiceID, req.IssueDate, discount)
		if err != nil {
			return nil, &LineError{Kind: "service", Index: i, Err: err}
		}
		line := ServiceLine{ServiceID: l.ServiceID, PetID: l.PetID, Price: price, SourceRef: l.SourceRef}
		if err := add(line.Price); err != nil {
			return nil, err
		}
		inv.ServiceLines = append(inv.ServiceLines, line)
	}

	inv.Total = *total
	return inv, nil
}

// applyInventory emits the committed quantities. Failures are reported only.
func (c *Composer) applyInventory(ctx context.Context, inv *Invoice) {
	if c.Inventory == nil {
		return
	}
	for _, line := range inv.ProductLines {
		if err := c.Inventory.ApplyStockDelta(ctx, line.ProductID, inv.BranchID, -line.Quantity); err != nil {
			c.log().WithFields(logrus.Fields{
				"invoice": inv.ID,
				"product": line.ProductID,
				"branch":  inv.BranchID,
				"delta":   -line.Quantity,
			}).WithError(err).Warn("inventory adjustment failed after invoice commit")
			c.reporter().InventoryAdjustFailed(ctx, inv, line, err)
		}
	}
}

func (c *Composer) reporter() Reporter {
	if c.Reporter == nil {
		return NopReporter{}
	}
	return c.Reporter
}

func (c *Composer) log() logrus.FieldLogger {
	if c.Log == nil {
		return logrus.StandardLogger()
	}
	return c.Log
}

func (c *Composer) newID() InvoiceID {
	if c.NewID != nil {
		return c.NewID()
	}
	return InvoiceID(uuid.NewString())
}

func (c *Composer) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now().UTC()
}
