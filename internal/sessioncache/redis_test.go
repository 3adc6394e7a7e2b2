//go:build integration

package sessioncache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/bookstore-checkout/internal/testinfra"
)

func TestRedis(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	url := testinfra.SetupRedis(ctx, t)

	client, err := Dial(ctx, url)
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	cache := New(client, "bookstore-test", time.Second)

	_, ok, err := cache.Get(ctx, "alice", "cs_1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.Set(ctx, "alice", "cs_1", "order-1"))

	id, ok, err := cache.Get(ctx, "alice", "cs_1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "order-1", id)

	_, ok, err = cache.Get(ctx, "bob", "cs_1")
	require.NoError(t, err)
	assert.False(t, ok, "entries are scoped to the customer")

	ttl, err := client.TTL(ctx, cache.key("alice", "cs_1")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Second)
}
