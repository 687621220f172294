//go:build integration

package cache_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/scrapernhl/scrapekit/pkg/batch"
	"github.com/scrapernhl/scrapekit/pkg/cache"
	"github.com/scrapernhl/scrapekit/pkg/ratelimit"
)

// setupRedis starts a Redis container for the test.
func setupRedis(t *testing.T) *redis.Client {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "start Redis container")

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: host + ":" + port.Port()})

	t.Cleanup(func() {
		client.Close()
		_ = container.Terminate(ctx)
	})

	return client
}

func TestRedisStore_ServerSideExpiry(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()
	c := cache.New(cache.NewRedisStore(client, "it:"))

	require.NoError(t, c.Set(ctx, "short", 1, time.Second))
	require.NoError(t, c.Set(ctx, "forever", 2, cache.NoExpiration))

	ttl, err := client.TTL(ctx, "it:"+storageNameOf("short")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	require.Eventually(t, func() bool {
		_, err := c.Get(ctx, "short")
		return err != nil
	}, 5*time.Second, 100*time.Millisecond)

	v, err := cache.GetJSON[int](ctx, c, "forever")
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestRedisStore_BatchRunSharesCache(t *testing.T) {
	client := setupRedis(t)
	c := cache.New(cache.NewRedisStore(client, ""))

	cfg := batch.DefaultConfig[int, int]()
	cfg.Limiter = ratelimit.Unlimited()
	cfg.Cache = c
	cfg.CacheTTL = time.Minute
	cfg.KeyFunc = func(item batch.Item[int]) string {
		return cache.Key{Namespace: "square", Params: map[string]string{"n": item.ID}}.String()
	}

	items := batch.NewItems([]int{1, 2, 3, 4}, strconv.Itoa)

	var calls atomic.Int32
	work := func(_ context.Context, item batch.Item[int]) (int, error) {
		calls.Add(1)
		return item.Payload * item.Payload, nil
	}

	_, err := batch.Run(context.Background(), items, work, cfg)
	require.NoError(t, err)
	second, err := batch.Run(context.Background(), items, work, cfg)
	require.NoError(t, err)

	assert.Equal(t, int32(4), calls.Load())
	for _, o := range second.Successful {
		assert.True(t, o.Cached)
		assert.Equal(t, o.Item.Payload*o.Item.Payload, o.Value)
	}

	stats, err := c.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, stats.ValidEntries)
	assert.Equal(t, "redis", stats.Store)
}

// storageNameOf mirrors the store's hashed entry naming.
func storageNameOf(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
