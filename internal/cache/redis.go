package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/redis/go-redis/v9"
)

const eventTTL = 72 * time.Hour

func NewRedisCache(client *redis.Client, baseTTL time.Duration) *RedisCache {
	if baseTTL <= 0 {
		baseTTL = 15 * time.Minute
	}
	return &RedisCache{
		client:  client,
		baseTTL: baseTTL,
	}
}

type RedisCache struct {
	client  *redis.Client
	baseTTL time.Duration
}

func (r RedisCache) Get(ctx context.Context, buyerKey string) (*domain.BasketView, error) {
	key := cacheKey(buyerKey)

	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var basket domain.BasketView
	if err2 := json.Unmarshal(data, &basket); err2 != nil {
		return nil, fmt.Errorf("unmarshal basket failed: %w", err2)
	}

	return &basket, nil
}

func (r RedisCache) Version(ctx context.Context, buyerKey string) (int64, error) {
	v, err := r.client.Get(ctx, versionKey(buyerKey)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get version failed: %w", err)
	}
	return v, nil
}

// Set writes the view under WATCH on the version key and gives up with
// ErrStaleVersion when a Delete moved the version past the one passed in.
func (r RedisCache) Set(ctx context.Context, buyerKey string, basket *domain.BasketView, version int64) error {
	key := cacheKey(buyerKey)
	vk := versionKey(buyerKey)
	jsonBasket, err := json.Marshal(basket)
	if err != nil {
		return fmt.Errorf("marshal basket failed: %w", err)
	}

	jitter := time.Duration(rand.Int63n(int64(r.baseTTL/3) + 1))
	ttl := r.baseTTL + jitter

	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, vk).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != version {
			return ErrStaleVersion
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, jsonBasket, ttl)
			return nil
		})
		return err
	}, vk)
	switch {
	case errors.Is(err, ErrStaleVersion), errors.Is(err, redis.TxFailedErr):
		return ErrStaleVersion
	case err != nil:
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Delete drops the view and bumps the version. The version key outlives any
// view so an in-flight fill still sees the bump.
func (r RedisCache) Delete(ctx context.Context, buyerKey string) error {
	vk := versionKey(buyerKey)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, vk)
		pipe.Expire(ctx, vk, 2*r.baseTTL)
		pipe.Del(ctx, cacheKey(buyerKey))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}

	return nil
}

func (r RedisCache) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := r.client.Exists(ctx, eventKey(eventID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists failed: %w", err)
	}
	return n > 0, nil
}

func (r RedisCache) Record(ctx context.Context, eventID string) error {
	if err := r.client.Set(ctx, eventKey(eventID), time.Now().UTC().Format(time.RFC3339), eventTTL).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func cacheKey(buyerKey string) string {
	return fmt.Sprintf("basket:%s", buyerKey)
}

func versionKey(buyerKey string) string {
	return fmt.Sprintf("basket:version:%s", buyerKey)
}

func eventKey(eventID string) string {
	return fmt.Sprintf("webhook:event:%s", eventID)
}
