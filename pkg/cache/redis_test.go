package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// setupTestRedis connects to a local Redis on DB 15 and skips the test when
// none is running. The integration suite covers RedisStore against a
// container started by testcontainers-go.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skipf("Redis not available for testing: %v", err)
	}

	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	return client
}

func TestNewRedisStore(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()

	store := NewRedisStore(client, "")
	if store.prefix != DefaultRedisPrefix {
		t.Errorf("prefix = %q, want %q", store.prefix, DefaultRedisPrefix)
	}
	if store.Kind() != "redis" {
		t.Errorf("Kind() = %q, want redis", store.Kind())
	}
}

func TestNewRedisStore_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewRedisStore should panic with nil redis client")
		}
	}()
	NewRedisStore(nil, "")
}

func TestRedisStore_ReadWriteDelete(t *testing.T) {
	client := setupTestRedis(t)
	store := NewRedisStore(client, "test:")
	ctx := context.Background()

	if _, err := store.Read(ctx, "missing"); err != ErrNotFound {
		t.Fatalf("Read(missing) error = %v, want ErrNotFound", err)
	}

	if err := store.Write(ctx, "abc", []byte(`{"x":1}`), time.Minute); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	data, err := store.Read(ctx, "abc")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if string(data) != `{"x":1}` {
		t.Errorf("Read() = %s", data)
	}

	ttl, err := client.TTL(ctx, "test:abc").Result()
	if err != nil {
		t.Fatalf("TTL() error = %v", err)
	}
	if ttl <= 0 || ttl > time.Minute {
		t.Errorf("server-side TTL = %v, want (0, 1m]", ttl)
	}

	names, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(names) != 1 || names[0] != "abc" {
		t.Errorf("List() = %v, want [abc]", names)
	}

	removed, err := store.Delete(ctx, "abc")
	if err != nil || !removed {
		t.Errorf("Delete() = %v, %v, want true, nil", removed, err)
	}
	removed, _ = store.Delete(ctx, "abc")
	if removed {
		t.Error("second Delete() should report nothing removed")
	}
}

func TestRedisStore_NoExpiration(t *testing.T) {
	client := setupTestRedis(t)
	store := NewRedisStore(client, "test:")
	ctx := context.Background()

	if err := store.Write(ctx, "forever", []byte("1"), NoExpiration); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	ttl, err := client.TTL(ctx, "test:forever").Result()
	if err != nil {
		t.Fatalf("TTL() error = %v", err)
	}
	// -1 means the key exists without expiry
	if ttl != -1 {
		t.Errorf("TTL = %v, want -1 (no expiry)", ttl)
	}
}

func TestCache_WithRedisStore(t *testing.T) {
	client := setupTestRedis(t)
	c := New(NewRedisStore(client, "test:"), WithLogger(zerolog.Nop()))
	ctx := context.Background()

	if err := c.Set(ctx, "scrape:teams", []string{"TOR", "MTL"}, time.Hour); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, err := GetJSON[[]string](ctx, c, "scrape:teams")
	if err != nil {
		t.Fatalf("GetJSON() error = %v", err)
	}
	if len(got) != 2 || got[0] != "TOR" {
		t.Errorf("GetJSON() = %v", got)
	}

	n, err := c.Clear(ctx)
	if err != nil || n != 1 {
		t.Errorf("Clear() = %d, %v, want 1, nil", n, err)
	}
}

func TestRedisStore_DeleteIfUnchanged(t *testing.T) {
	client := setupTestRedis(t)
	store := NewRedisStore(client, "test:")
	ctx := context.Background()

	if err := store.Write(ctx, "abc", []byte("new"), time.Minute); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	removed, err := store.DeleteIfUnchanged(ctx, "abc", []byte("old"))
	if err != nil || removed {
		t.Errorf("DeleteIfUnchanged(old) = %v, %v, want false, nil", removed, err)
	}
	if data, err := store.Read(ctx, "abc"); err != nil || string(data) != "new" {
		t.Errorf("Read() = %s, %v, want new", data, err)
	}

	removed, err = store.DeleteIfUnchanged(ctx, "abc", []byte("new"))
	if err != nil || !removed {
		t.Errorf("DeleteIfUnchanged(new) = %v, %v, want true, nil", removed, err)
	}

	removed, err = store.DeleteIfUnchanged(ctx, "abc", []byte("new"))
	if err != nil || removed {
		t.Errorf("DeleteIfUnchanged() on missing key = %v, %v, want false, nil", removed, err)
	}
}
