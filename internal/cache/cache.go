package cache

import (
	"context"
	"time"

	"gerailink/backend/internal/domain"
)

type PriceCache interface {
	Get(ctx context.Context, key string) (*domain.PriceQuote, bool, error)
	Set(ctx context.Context, key string, value *domain.PriceQuote, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type NoopPriceCache struct{}

func (NoopPriceCache) Get(_ context.Context, _ string) (*domain.PriceQuote, bool, error) {
	return nil, false, nil
}

func (NoopPriceCache) Set(_ context.Context, _ string, _ *domain.PriceQuote, _ time.Duration) error {
	return nil
}

func (NoopPriceCache) Delete(_ context.Context, _ string) error {
	return nil
}
