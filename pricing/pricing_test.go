package pricing_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/clinic-engine/generic"
	"github.com/warp/clinic-engine/generic/store"
	"github.com/warp/clinic-engine/pricing"
)

type memoryPrices struct {
	products *store.Versions[pricing.ProductID, generic.Money]
	services *store.Versions[pricing.ServiceID, generic.Money]
}

func newMemoryPrices() *memoryPrices {
	return &memoryPrices{
		products: store.NewVersions[pricing.ProductID, generic.Money](),
		services: store.NewVersions[pricing.ServiceID, generic.Money](),
	}
}

func (m *memoryPrices) ProductPrices() generic.VersionStore[pricing.ProductID, generic.Money] {
	return m.products
}

func (m *memoryPrices) ServicePrices() generic.VersionStore[pricing.ServiceID, generic.Money] {
	return m.services
}

func d(s string) generic.Date { return generic.MustParseDate(s) }

func money(t *testing.T, amount string, currency generic.Currency) generic.Money {
	t.Helper()
	m, err := generic.ParseMoney(amount, currency)
	require.NoError(t, err)
	return m
}

func setup(t *testing.T) (*pricing.Catalog, *pricing.Resolver) {
	t.Helper()
	mem := newMemoryPrices()
	catalog := pricing.NewCatalog(mem, "USD", generic.FixedClock(d("2025-08-01")))
	resolver := &pricing.Resolver{Products: mem.ProductPrices(), Services: mem.ServicePrices()}
	return catalog, resolver
}

// =============================================================================
// CATALOG
// =============================================================================

func TestCatalog_SetPrice_FillsCurrencyAndRounds(t *testing.T) {
	catalog, _ := setup(t)
	ctx := context.Background()

	v, err := catalog.SetProductPrice(ctx, "kibble", money(t, "99.999", ""), d("2025-01-01"))

	require.NoError(t, err)
	assert.Equal(t, generic.Currency("USD"), v.Value.Currency)
	assert.Equal(t, "100.00", v.Value.Value.StringFixed(2))
}

func TestCatalog_SetPrice_Rejections(t *testing.T) {
	catalog, _ := setup(t)
	ctx := context.Background()

	_, err := catalog.SetProductPrice(ctx, "kibble", money(t, "10", "EUR"), d("2025-01-01"))
	assert.ErrorIs(t, err, generic.ErrInvalidInput)

	_, err = catalog.SetServicePrice(ctx, "exam", money(t, "-1", "USD"), d("2025-01-01"))
	assert.ErrorIs(t, err, generic.ErrInvalidInput)
}

func TestCatalog_CurrentAndHistory(t *testing.T) {
	catalog, _ := setup(t)
	ctx := context.Background()
	_, err := catalog.SetServicePrice(ctx, "exam", money(t, "50", "USD"), d("2025-01-01"))
	require.NoError(t, err)
	_, err = catalog.SetServicePrice(ctx, "exam", money(t, "55", "USD"), d("2025-09-01"))
	require.NoError(t, err)

	// Clock is 2025-08-01: the September price is not current yet
	current, err := catalog.CurrentServicePrice(ctx, "exam")
	require.NoError(t, err)
	assert.Equal(t, "50.00", current.Value.Value.StringFixed(2))

	history, err := catalog.ServicePriceHistory(ctx, "exam")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "2025-09-01", history[0].EffectiveFrom.String())
}

// =============================================================================
// RESOLVER
// =============================================================================

func TestResolver_AppliesDiscountAndRounds(t *testing.T) {
	catalog, resolver := setup(t)
	ctx := context.Background()
	_, err := catalog.SetProductPrice(ctx, "kibble", money(t, "100", ""), d("2025-01-01"))
	require.NoError(t, err)
	_, err = catalog.SetServicePrice(ctx, "vaccination", money(t, "35.25", ""), d("2025-01-01"))
	require.NoError(t, err)

	tests := []struct {
		name     string
		discount string
		product  string
		service  string
	}{
		{"no discount", "1", "100.00", "35.25"},
		{"ten percent", "0.9", "90.00", "31.73"}, // 31.725 rounds away from zero
		{"third off", "0.6667", "66.67", "23.50"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			discount := decimal.RequireFromString(tt.discount)

			p, err := resolver.ResolveProductPrice(ctx, "kibble", d("2025-03-15"), discount)
			require.NoError(t, err)
			assert.Equal(t, tt.product, p.Value.StringFixed(2))

			s, err := resolver.ResolveServicePrice(ctx, "vaccination", d("2025-03-15"), discount)
			require.NoError(t, err)
			assert.Equal(t, tt.service, s.Value.StringFixed(2))
		})
	}
}

func TestResolver_ZeroDecimalCurrency(t *testing.T) {
	mem := newMemoryPrices()
	catalog := pricing.NewCatalog(mem, "JPY", nil)
	resolver := &pricing.Resolver{Products: mem.ProductPrices(), Services: mem.ServicePrices()}
	ctx := context.Background()
	_, err := catalog.SetProductPrice(ctx, "kibble", money(t, "1255", ""), d("2025-01-01"))
	require.NoError(t, err)

	p, err := resolver.ResolveProductPrice(ctx, "kibble", d("2025-01-01"), decimal.RequireFromString("0.9"))

	require.NoError(t, err)
	assert.Equal(t, "1130", p.Value.String()) // 1129.5 -> 1130
}

func TestResolver_PriceNotDefined(t *testing.T) {
	catalog, resolver := setup(t)
	ctx := context.Background()
	_, err := catalog.SetProductPrice(ctx, "kibble", money(t, "100", ""), d("2025-01-01"))
	require.NoError(t, err)

	_, err = resolver.ResolveProductPrice(ctx, "kibble", d("2024-12-31"), pricing.NoDiscount)

	assert.ErrorIs(t, err, generic.ErrPriceNotDefined)
	assert.ErrorIs(t, err, generic.ErrNoVersion)
	var pe *pricing.PriceNotDefinedError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "product", pe.Kind)
	assert.Equal(t, "kibble", pe.ID)

	_, err = resolver.ResolveServicePrice(ctx, "grooming", d("2025-03-01"), pricing.NoDiscount)
	assert.ErrorIs(t, err, generic.ErrPriceNotDefined)
}

func TestValidateDiscount(t *testing.T) {
	for _, ok := range []string{"1", "0.9", "0.01"} {
		assert.NoError(t, pricing.ValidateDiscount(decimal.RequireFromString(ok)), ok)
	}
	for _, bad := range []string{"0", "-0.5", "1.01"} {
		assert.ErrorIs(t, pricing.ValidateDiscount(decimal.RequireFromString(bad)), generic.ErrInvalidDiscount, bad)
	}
}
