package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/clinic-engine/billing"
	"github.com/warp/clinic-engine/generic"
	"github.com/warp/clinic-engine/pricing"
	"github.com/warp/clinic-engine/staffing"
)

// =============================================================================
// CLINIC RECORDS
// =============================================================================

// ErrInsufficientStock is returned by ApplyStockDelta when a sale would take
// the branch below zero.
var ErrInsufficientStock = errors.New("insufficient stock")

type Customer struct {
	ID                 billing.CustomerID
	Name               string
	DiscountMultiplier decimal.Decimal
}

type Pet struct {
	ID         billing.PetID
	CustomerID billing.CustomerID
	Name       string
	Species    string
}

type Branch struct {
	ID   staffing.BranchID
	Name string
}

func now() string { return time.Now().UTC().Format(time.RFC3339Nano) }

// SaveCustomer inserts or replaces a customer. A zero multiplier means no discount.
func (s *Store) SaveCustomer(ctx context.Context, c Customer) error {
	defer s.writeLock()()

	m := c.DiscountMultiplier
	if m.IsZero() {
		m = pricing.NoDiscount
	}
	if err := pricing.ValidateDiscount(m); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO customers (id, name, discount_multiplier, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name, discount_multiplier = excluded.discount_multiplier
	`), string(c.ID), c.Name, m.String(), now())
	if err != nil {
		return fmt.Errorf("failed to save customer %s: %w", c.ID, classify(err))
	}
	return nil
}

func (s *Store) SavePet(ctx context.Context, p Pet) error {
	defer s.writeLock()()

	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO pets (id, customer_id, name, species, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET customer_id = excluded.customer_id, name = excluded.name, species = excluded.species
	`), string(p.ID), string(p.CustomerID), p.Name, p.Species, now())
	if err != nil {
		return fmt.Errorf("failed to save pet %s: %w", p.ID, classify(err))
	}
	return nil
}

func (s *Store) SaveBranch(ctx context.Context, b Branch) error {
	defer s.writeLock()()

	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO branches (id, name, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name
	`), string(b.ID), b.Name, now())
	if err != nil {
		return fmt.Errorf("failed to save branch %s: %w", b.ID, classify(err))
	}
	return nil
}

// =============================================================================
// BILLING COLLABORATORS
// =============================================================================

// PetBelongsToCustomer implements billing.OwnershipChecker.
func (s *Store) PetBelongsToCustomer(ctx context.Context, petID billing.PetID, customerID billing.CustomerID) (bool, error) {
	defer s.readLock()()

	var owner string
	err := s.db.GetContext(ctx, &owner, s.db.Rebind(`SELECT customer_id FROM pets WHERE id = ?`), string(petID))
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load pet %s: %w", petID, err)
	}
	return owner == string(customerID), nil
}

// DiscountMultiplierFor implements billing.DiscountProvider.
func (s *Store) DiscountMultiplierFor(ctx context.Context, customerID billing.CustomerID) (decimal.Decimal, error) {
	defer s.readLock()()

	var raw string
	err := s.db.GetContext(ctx, &raw, s.db.Rebind(`SELECT discount_multiplier FROM customers WHERE id = ?`), string(customerID))
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, &generic.NotFoundError{Kind: "customer", ID: string(customerID)}
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to load customer %s: %w", customerID, err)
	}
	m, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid discount multiplier %q for %s: %w", raw, customerID, err)
	}
	return m, nil
}

// =============================================================================
// STOCK
// =============================================================================

// SetStock overwrites the on-hand quantity of a product at a branch.
func (s *Store) SetStock(ctx context.Context, productID pricing.ProductID, branchID staffing.BranchID, quantity int) error {
	defer s.writeLock()()

	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO branch_stock (product_id, branch_id, quantity)
		VALUES (?, ?, ?)
		ON CONFLICT (product_id, branch_id) DO UPDATE SET quantity = excluded.quantity
	`), string(productID), string(branchID), quantity)
	if err != nil {
		return fmt.Errorf("failed to set stock: %w", classify(err))
	}
	return nil
}

// StockLevel returns the on-hand quantity; 0 when the product was never stocked.
func (s *Store) StockLevel(ctx context.Context, productID pricing.ProductID, branchID staffing.BranchID) (int, error) {
	defer s.readLock()()

	var qty int
	err := s.db.GetContext(ctx, &qty, s.db.Rebind(`
		SELECT quantity FROM branch_stock WHERE product_id = ? AND branch_id = ?
	`), string(productID), string(branchID))
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load stock: %w", err)
	}
	return qty, nil
}

// ApplyStockDelta implements billing.InventoryAdjuster. The guarded update
// never lets a branch go below zero.
func (s *Store) ApplyStockDelta(ctx context.Context, productID pricing.ProductID, branchID staffing.BranchID, delta int) error {
	defer s.writeLock()()

	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE branch_stock
		SET quantity = quantity + ?
		WHERE product_id = ? AND branch_id = ? AND quantity + ? >= 0
	`), delta, string(productID), string(branchID), delta)
	if err != nil {
		return fmt.Errorf("failed to adjust stock: %w", classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: product %s at branch %s (delta %d)", ErrInsufficientStock, productID, branchID, delta)
	}
	return nil
}
