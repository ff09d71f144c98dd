package catalog

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const (
	PricesKey    = "catalog:prices"
	CustomersKey = "customers"
)

// Redis reads prices from a hash of sku -> cents and customers from a set.
// Both are maintained by the catalog team; this side only reads.
type Redis struct {
	rdb *redis.Client
}

func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb}
}

func (r *Redis) GetCurrentPrice(ctx context.Context, sku string) (int64, error) {
	v, err := r.rdb.HGet(ctx, PricesKey, sku).Result()
	if errors.Is(err, redis.Nil) {
		return 0, ErrUnknownSKU
	}
	if err != nil {
		return 0, fmt.Errorf("price lookup %s: %w", sku, err)
	}
	cents, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("price for %s is not integer cents: %w", sku, err)
	}
	return cents, nil
}

func (r *Redis) CustomerExists(ctx context.Context, id string) (bool, error) {
	ok, err := r.rdb.SIsMember(ctx, CustomersKey, id).Result()
	if err != nil {
		return false, fmt.Errorf("customer lookup %s: %w", id, err)
	}
	return ok, nil
}

func (r *Redis) SetPrice(ctx context.Context, sku string, cents int64) error {
	return r.rdb.HSet(ctx, PricesKey, sku, cents).Err()
}

func (r *Redis) AddCustomer(ctx context.Context, ids ...string) error {
	members := make([]any, 0, len(ids))
	for _, id := range ids {
		members = append(members, id)
	}
	return r.rdb.SAdd(ctx, CustomersKey, members...).Err()
}
