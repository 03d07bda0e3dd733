package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenKeyPrefix namespaces token entries in Redis.
const tokenKeyPrefix = "d365:token:"

// TokenStore caches bearer tokens keyed by resource. A single client
// may acquire tokens for distinct resources; keying by resource keeps
// them from overwriting each other.
type TokenStore interface {
	// Get returns the cached token for a resource, or
	// ErrTokenCacheMiss when none exists.
	Get(ctx context.Context, resource string) (*CachedToken, error)

	// Set replaces the cached token for a resource.
	Set(ctx context.Context, resource string, token *CachedToken) error

	// Clear removes all cached tokens.
	Clear(ctx context.Context) error
}

// MemoryStore is the default in-process token store.
type MemoryStore struct {
	mu     sync.RWMutex
	tokens map[string]CachedToken
}

// NewMemoryStore creates an empty in-memory token store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tokens: make(map[string]CachedToken),
	}
}

// Get returns the cached token for a resource.
func (m *MemoryStore) Get(_ context.Context, resource string) (*CachedToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tok, ok := m.tokens[resource]
	if !ok {
		return nil, ErrTokenCacheMiss
	}
	return &tok, nil
}

// Set replaces the cached token for a resource.
func (m *MemoryStore) Set(_ context.Context, resource string, token *CachedToken) error {
	if token == nil {
		return fmt.Errorf("token cannot be nil")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[resource] = *token
	return nil
}

// Clear removes all cached tokens.
func (m *MemoryStore) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens = make(map[string]CachedToken)
	return nil
}

// RedisStore shares tokens across processes via Redis. Entries expire
// with the token itself, so a stale token is never served to a fresh
// process.
type RedisStore struct {
	redis *redis.Client
}

// NewRedisStore creates a token store with a Redis backend.
func NewRedisStore(redisClient *redis.Client) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &RedisStore{
		redis: redisClient,
	}
}

// Get returns the cached token for a resource.
func (r *RedisStore) Get(ctx context.Context, resource string) (*CachedToken, error) {
	data, err := r.redis.Get(ctx, tokenKeyPrefix+resource).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrTokenCacheMiss
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var tok CachedToken
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("unmarshal token entry: %w", err)
	}

	return &tok, nil
}

// Set replaces the cached token for a resource. Already-expired tokens
// are not stored.
func (r *RedisStore) Set(ctx context.Context, resource string, token *CachedToken) error {
	if token == nil {
		return fmt.Errorf("token cannot be nil")
	}

	ttl := time.Until(token.ExpiresAt)
	if ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("marshal token entry: %w", err)
	}

	if err := r.redis.Set(ctx, tokenKeyPrefix+resource, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}

// Clear removes all cached tokens.
func (r *RedisStore) Clear(ctx context.Context) error {
	keys, err := r.redis.Keys(ctx, tokenKeyPrefix+"*").Result()
	if err != nil {
		return fmt.Errorf("redis keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}

	if err := r.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}

	return nil
}
