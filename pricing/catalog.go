/*
Package pricing keeps product and service prices as effective-dated versions
and turns them into immutable invoice snapshots.

FILES:
  - catalog.go:  Catalog, the write/read surface for price history
  - resolver.go: Resolver, price snapshots for invoice lines

PRICE CHANGES:
  A price change is Put() with a new effective date. Nothing is overwritten:
  an invoice issued on 2025-03-15 keeps pointing at the version that was in
  effect that day, even after a 2025-06-01 increase.

SEE ALSO:
  - generic/versioned.go: The underlying EffectiveDated engine
  - billing/composer.go: Consumes Resolver inside the invoice transaction
*/
package pricing

import (
	"context"
	"fmt"

	"github.com/warp/clinic-engine/generic"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ProductID string
type ServiceID string

// Store is the persistence a Catalog needs: one version store per price kind.
type Store interface {
	ProductPrices() generic.VersionStore[ProductID, generic.Money]
	ServicePrices() generic.VersionStore[ServiceID, generic.Money]
}

// One version of a product or service price.
type ProductPrice = generic.Version[ProductID, generic.Money]
type ServicePrice = generic.Version[ServiceID, generic.Money]

// =============================================================================
// CATALOG
// =============================================================================

type Catalog struct {
	Products *generic.EffectiveDated[ProductID, generic.Money]
	Services *generic.EffectiveDated[ServiceID, generic.Money]
	Currency generic.Currency
}

// NewCatalog builds a catalog over store, pricing in currency.
func NewCatalog(store Store, currency generic.Currency, clock generic.Clock) *Catalog {
	return &Catalog{
		Products: &generic.EffectiveDated[ProductID, generic.Money]{Store: store.ProductPrices(), Clock: clock},
		Services: &generic.EffectiveDated[ServiceID, generic.Money]{Store: store.ServicePrices(), Clock: clock},
		Currency: currency,
	}
}

func (c *Catalog) SetProductPrice(ctx context.Context, id ProductID, price generic.Money, from generic.Date) (ProductPrice, error) {
	price, err := c.normalize(price)
	if err != nil {
		return ProductPrice{}, err
	}
	return c.Products.Put(ctx, id, price, from)
}

func (c *Catalog) SetServicePrice(ctx context.Context, id ServiceID, price generic.Money, from generic.Date) (ServicePrice, error) {
	price, err := c.normalize(price)
	if err != nil {
		return ServicePrice{}, err
	}
	return c.Services.Put(ctx, id, price, from)
}

func (c *Catalog) ProductPriceAsOf(ctx context.Context, id ProductID, date generic.Date) (ProductPrice, error) {
	return c.Products.GetAsOf(ctx, id, date)
}

func (c *Catalog) ServicePriceAsOf(ctx context.Context, id ServiceID, date generic.Date) (ServicePrice, error) {
	return c.Services.GetAsOf(ctx, id, date)
}

func (c *Catalog) CurrentProductPrice(ctx context.Context, id ProductID) (ProductPrice, error) {
	return c.Products.GetCurrent(ctx, id)
}

func (c *Catalog) CurrentServicePrice(ctx context.Context, id ServiceID) (ServicePrice, error) {
	return c.Services.GetCurrent(ctx, id)
}

func (c *Catalog) ProductPriceHistory(ctx context.Context, id ProductID) ([]ProductPrice, error) {
	return c.Products.GetHistory(ctx, id)
}

func (c *Catalog) ServicePriceHistory(ctx context.Context, id ServiceID) ([]ServicePrice, error) {
	return c.Services.GetHistory(ctx, id)
}

// normalize fills in the catalog currency and rounds to its minor unit.
func (c *Catalog) normalize(price generic.Money) (generic.Money, error) {
	if price.Currency == "" {
		price.Currency = c.Currency
	}
	if c.Currency != "" && price.Currency != c.Currency {
		return generic.Money{}, fmt.Errorf("%w: price in %s, catalog in %s", generic.ErrInvalidInput, price.Currency, c.Currency)
	}
	if price.IsNegative() {
		return generic.Money{}, fmt.Errorf("%w: price must not be negative", generic.ErrInvalidInput)
	}
	return price.Round(), nil
}
