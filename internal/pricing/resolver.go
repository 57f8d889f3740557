package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"gerailink/backend/internal/cache"
	"gerailink/backend/internal/domain"
	"gerailink/backend/internal/store"
)

// Reader is the slice of the repository the resolver needs. Resolution is
// read-only; two calls with unchanged pricing data return the same quote.
type Reader interface {
	GetStore(ctx context.Context, storeID string) (*domain.Store, error)
	GetCatalogueItem(ctx context.Context, organizationID string, sku string) (*domain.CatalogueItem, error)
	GetPriceOverride(ctx context.Context, storeID string, sku string) (*domain.StorePriceOverride, error)
}

type Resolver struct {
	reader   Reader
	cache    cache.PriceCache
	cacheTTL time.Duration
}

func NewResolver(reader Reader, cacheStore cache.PriceCache, cacheTTL time.Duration) *Resolver {
	if cacheStore == nil {
		cacheStore = cache.NoopPriceCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}

	return &Resolver{
		reader:   reader,
		cache:    cacheStore,
		cacheTTL: cacheTTL,
	}
}

// Quote resolves the effective sell price for one (store, sku) pair.
// Precedence: active absolute override, then active margin on the catalogue
// base price, then the store's default margin. No base price means no quote.
func (r *Resolver) Quote(ctx context.Context, storeID string, sku string) (*domain.PriceQuote, error) {
	key := cacheKey(storeID, sku)
	if cached, ok, err := r.cache.Get(ctx, key); err == nil && ok {
		return cached, nil
	}

	st, err := r.reader.GetStore(ctx, storeID)
	if err != nil {
		return nil, err
	}

	item, err := r.reader.GetCatalogueItem(ctx, st.OrganizationID, sku)
	if err != nil {
		return nil, err
	}

	override, err := r.reader.GetPriceOverride(ctx, storeID, sku)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		override = nil
	}

	sell, source := EffectivePrice(item.Price, override, st.DiscountRate)
	quote := &domain.PriceQuote{
		StoreID:   storeID,
		SKU:       sku,
		BasePrice: item.Price,
		SellPrice: sell,
		Source:    source,
	}

	_ = r.cache.Set(ctx, key, quote, r.cacheTTL)
	return quote, nil
}

// Invalidate drops the cached quote for one (store, sku) pair. Callers that
// change an override must invalidate, otherwise the old sell price keeps
// serving until the TTL runs out.
func (r *Resolver) Invalidate(ctx context.Context, storeID string, sku string) error {
	return r.cache.Delete(ctx, cacheKey(storeID, sku))
}

// EffectivePrice applies the override precedence to a catalogue base price.
// Percentage margins always apply against the base price, never against
// another override.
func EffectivePrice(base decimal.Decimal, override *domain.StorePriceOverride, storeDiscountRate float64) (decimal.Decimal, string) {
	if override != nil && override.Status == domain.StoreStatusActive {
		if override.HasOverride {
			return override.OverridePrice, domain.PriceSourceOverride
		}
		switch override.MarginType {
		case domain.MarginTypePercentage:
			return base.Add(base.Mul(override.MarginValue).Div(decimal.NewFromInt(100))), domain.PriceSourceMargin
		case domain.MarginTypeAbsolute:
			return base.Add(override.MarginValue), domain.PriceSourceMargin
		}
	}

	rate := decimal.NewFromFloat(storeDiscountRate)
	return base.Add(base.Mul(rate).Div(decimal.NewFromInt(100))), domain.PriceSourceDefault
}

func cacheKey(storeID string, sku string) string {
	return fmt.Sprintf("pricing:quote:%s:%s", storeID, sku)
}
