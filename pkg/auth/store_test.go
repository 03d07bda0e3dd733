package auth

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// setupTestRedis creates a test Redis client, skipping when Redis is
// unavailable.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // Use a separate DB for tests
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
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

func testToken(lifetime time.Duration) *CachedToken {
	return &CachedToken{
		AccessToken: "test-token",
		ExpiresAt:   time.Now().Add(lifetime),
	}
}

func TestMemoryStore_GetSetClear(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, err := store.Get(ctx, "https://a.example.com"); err != ErrTokenCacheMiss {
		t.Errorf("Get on empty store = %v, want ErrTokenCacheMiss", err)
	}

	tok := testToken(time.Hour)
	if err := store.Set(ctx, "https://a.example.com", tok); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, err := store.Get(ctx, "https://a.example.com")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.AccessToken != "test-token" {
		t.Errorf("AccessToken = %q, want test-token", got.AccessToken)
	}

	// Other resources are independent slots.
	if _, err := store.Get(ctx, "https://b.example.com"); err != ErrTokenCacheMiss {
		t.Errorf("Get for other resource = %v, want ErrTokenCacheMiss", err)
	}

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, err := store.Get(ctx, "https://a.example.com"); err != ErrTokenCacheMiss {
		t.Errorf("Get after clear = %v, want ErrTokenCacheMiss", err)
	}
}

func TestMemoryStore_SetNil(t *testing.T) {
	store := NewMemoryStore()
	if err := store.Set(context.Background(), "https://a.example.com", nil); err == nil {
		t.Error("Expected error for nil token")
	}
}

func TestMemoryStore_ReplacesWholesale(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first := testToken(time.Hour)
	if err := store.Set(ctx, "https://a.example.com", first); err != nil {
		t.Fatalf("Set: %v", err)
	}

	second := &CachedToken{
		AccessToken: "replacement",
		ExpiresAt:   time.Now().Add(2 * time.Hour),
	}
	if err := store.Set(ctx, "https://a.example.com", second); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, err := store.Get(ctx, "https://a.example.com")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.AccessToken != "replacement" {
		t.Errorf("AccessToken = %q, want replacement", got.AccessToken)
	}
}

func TestRedisStore_GetSetClear(t *testing.T) {
	redisClient := setupTestRedis(t)
	store := NewRedisStore(redisClient)
	ctx := context.Background()

	if _, err := store.Get(ctx, "https://a.example.com"); err != ErrTokenCacheMiss {
		t.Errorf("Get on empty store = %v, want ErrTokenCacheMiss", err)
	}

	tok := testToken(time.Hour)
	if err := store.Set(ctx, "https://a.example.com", tok); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, err := store.Get(ctx, "https://a.example.com")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.AccessToken != "test-token" {
		t.Errorf("AccessToken = %q, want test-token", got.AccessToken)
	}
	if !got.Valid() {
		t.Error("Round-tripped token should still be valid")
	}

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, err := store.Get(ctx, "https://a.example.com"); err != ErrTokenCacheMiss {
		t.Errorf("Get after clear = %v, want ErrTokenCacheMiss", err)
	}
}

func TestRedisStore_ExpiredTokenNotStored(t *testing.T) {
	redisClient := setupTestRedis(t)
	store := NewRedisStore(redisClient)
	ctx := context.Background()

	if err := store.Set(ctx, "https://a.example.com", testToken(-time.Minute)); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if _, err := store.Get(ctx, "https://a.example.com"); err != ErrTokenCacheMiss {
		t.Errorf("Get = %v, want ErrTokenCacheMiss (expired token must not be stored)", err)
	}
}

func TestNewRedisStore_NilClient(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("Expected panic for nil redis client")
		}
	}()
	NewRedisStore(nil)
}
