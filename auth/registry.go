package auth

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Registry tracks live session ids (JWT "jti"). A token whose id is not
// active is rejected even if its signature and expiry are valid.
type Registry interface {
	Put(ctx context.Context, jti, userID string, ttl time.Duration) error
	Active(ctx context.Context, jti string) (bool, error)
	Revoke(ctx context.Context, jti string) error
}

// =============================================================================
// MEMORY REGISTRY
// =============================================================================

type MemoryRegistry struct {
	mu      sync.Mutex
	expires map[string]time.Time
	now     func() time.Time
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{expires: make(map[string]time.Time), now: time.Now}
}

func (r *MemoryRegistry) Put(_ context.Context, jti, _ string, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expires[jti] = r.now().Add(ttl)
	return nil
}

func (r *MemoryRegistry) Active(_ context.Context, jti string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	exp, ok := r.expires[jti]
	if !ok {
		return false, nil
	}
	if !r.now().Before(exp) {
		delete(r.expires, jti)
		return false, nil
	}
	return true, nil
}

func (r *MemoryRegistry) Revoke(_ context.Context, jti string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.expires, jti)
	return nil
}

// =============================================================================
// REDIS REGISTRY
// =============================================================================

// RedisRegistry stores one key per session with the token's TTL, so expiry
// is handled by Redis.
type RedisRegistry struct {
	client redis.Cmdable
	prefix string
}

func NewRedisRegistry(client redis.Cmdable, prefix string) *RedisRegistry {
	if prefix == "" {
		prefix = "clinic:session:"
	}
	return &RedisRegistry{client: client, prefix: prefix}
}

func (r *RedisRegistry) Put(ctx context.Context, jti, userID string, ttl time.Duration) error {
	return r.client.Set(ctx, r.prefix+jti, userID, ttl).Err()
}

func (r *RedisRegistry) Active(ctx context.Context, jti string) (bool, error) {
	n, err := r.client.Exists(ctx, r.prefix+jti).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *RedisRegistry) Revoke(ctx context.Context, jti string) error {
	return r.client.Del(ctx, r.prefix+jti).Err()
}
