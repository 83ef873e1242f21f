package repository

import (
	"context"
	"errors"

	"github.com/krobus00/quote-stream-service/internal/constant"
	"github.com/krobus00/quote-stream-service/internal/entity"
	"github.com/redis/go-redis/v9"
)

// PriceCacheRepository keeps the last seen price per ticker. Last write wins.
type PriceCacheRepository struct {
	client *redis.Client
}

func NewPriceCacheRepository(client *redis.Client) *PriceCacheRepository {
	return &PriceCacheRepository{client: client}
}

func (r *PriceCacheRepository) SetLastPrice(ctx context.Context, tick entity.PricedTick) error {
	return r.client.Set(ctx, constant.GetLastPriceKey(tick.Ticker), tick.Price.String(), 0).Err()
}

func (r *PriceCacheRepository) GetLastPrice(ctx context.Context, suffix string) (entity.Price, bool, error) {
	raw, err := r.client.Get(ctx, constant.GetLastPriceKey(suffix)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return entity.Price{}, false, nil
		}
		return entity.Price{}, false, err
	}

	price, err := entity.ParsePrice(raw)
	if err != nil {
		return entity.Price{}, false, err
	}

	return price, true, nil
}
