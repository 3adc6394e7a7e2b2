// Package sessioncache keeps completed payment session -> order id mappings
// in Redis so duplicate completion callbacks are answered without touching
// the database or the payment provider.
package sessioncache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultTTL = 24 * time.Hour

type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func New(client *redis.Client, prefix string, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

// Dial parses a redis:// URL and checks the server answers.
func Dial(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (r *Redis) key(customerID, sessionID string) string {
	return fmt.Sprintf("%s:checkout-session:%s:%s", r.prefix, customerID, sessionID)
}

func (r *Redis) Get(ctx context.Context, customerID, sessionID string) (string, bool, error) {
	orderID, err := r.client.Get(ctx, r.key(customerID, sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return orderID, true, nil
}

func (r *Redis) Set(ctx context.Context, customerID, sessionID, orderID string) error {
	return r.client.Set(ctx, r.key(customerID, sessionID), orderID, r.ttl).Err()
}
