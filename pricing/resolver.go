package pricing

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/clinic-engine/generic"
)

// =============================================================================
// RESOLVER - Price snapshots for invoice lines
// =============================================================================

// Resolver reads prices through readers that may belong to an open
// transaction, so a price can't change between resolution and commit.
type Resolver struct {
	Products generic.VersionReader[ProductID, generic.Money]
	Services generic.VersionReader[ServiceID, generic.Money]
}

// PriceNotDefinedError is a missing price. It aborts the enclosing invoice.
type PriceNotDefinedError struct {
	Kind string // "product" or "service"
	ID   string
	AsOf generic.Date
}

func (e *PriceNotDefinedError) Error() string {
	return fmt.Sprintf("no %s price defined for %s as of %s", e.Kind, e.ID, e.AsOf)
}

func (e *PriceNotDefinedError) Unwrap() []error {
	return []error{generic.ErrPriceNotDefined, generic.ErrNoVersion}
}

// NoDiscount is the multiplier for customers without a tier discount.
var NoDiscount = decimal.NewFromInt(1)

// ValidateDiscount checks the multiplier is in (0, 1].
func ValidateDiscount(m decimal.Decimal) error {
	if !m.IsPositive() || m.GreaterThan(NoDiscount) {
		return fmt.Errorf("%w: got %s", generic.ErrInvalidDiscount, m)
	}
	return nil
}

// ResolveProductPrice returns the unit price in effect on asOf, times
// discount, rounded to the currency's minor unit.
func (r *Resolver) ResolveProductPrice(ctx context.Context, id ProductID, asOf generic.Date, discount decimal.Decimal) (generic.Money, error) {
	if err := ValidateDiscount(discount); err != nil {
		return generic.Money{}, err
	}
	v, err := generic.LookupAsOf(ctx, r.Products, id, asOf)
	if err != nil {
		return generic.Money{}, priceError(err, "product", string(id), asOf)
	}
	return v.Value.Mul(discount).Round(), nil
}

// ResolveServicePrice is ResolveProductPrice for services.
func (r *Resolver) ResolveServicePrice(ctx context.Context, id ServiceID, asOf generic.Date, discount decimal.Decimal) (generic.Money, error) {
	if err := ValidateDiscount(discount); err != nil {
		return generic.Money{}, err
	}
	v, err := generic.LookupAsOf(ctx, r.Services, id, asOf)
	if err != nil {
		return generic.Money{}, priceError(err, "service", string(id), asOf)
	}
	return v.Value.Mul(discount).Round(), nil
}

func priceError(err error, kind, id string, asOf generic.Date) error {
	if errors.Is(err, generic.ErrNoVersion) {
		return &PriceNotDefinedError{Kind: kind, ID: id, AsOf: asOf}
	}
	return err
}
