package accounting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// MemoryRegistry keeps handles in process.
type MemoryRegistry struct {
	mu      sync.Mutex
	handles map[string]Handle
	now     func() time.Time
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{handles: make(map[string]Handle), now: time.Now}
}

func (r *MemoryRegistry) Get(_ context.Context, sessionID string) (Handle, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[sessionID]
	return h, ok, nil
}

func (r *MemoryRegistry) Create(_ context.Context, h Handle) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.handles[h.SessionID]; ok && r.now().Before(existing.ExpiresAt) {
		return existing, nil
	}
	r.handles[h.SessionID] = h
	return h, nil
}

func (r *MemoryRegistry) Touch(_ context.Context, sessionID string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.handles[sessionID]; ok {
		h.ExpiresAt = expiresAt
		r.handles[sessionID] = h
	}
	return nil
}

func (r *MemoryRegistry) Delete(_ context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handles, sessionID)
	return nil
}

const cacheKeyPrefix = "vigil:prompt-cache:"

// RedisRegistry shares handles between engine replicas. Keys expire with the
// handle, so an expired handle is simply absent.
type RedisRegistry struct {
	client *redis.Client
}

func NewRedisRegistry(client *redis.Client) *RedisRegistry {
	return &RedisRegistry{client: client}
}

func (r *RedisRegistry) key(sessionID string) string {
	return cacheKeyPrefix + sessionID
}

func (r *RedisRegistry) Get(ctx context.Context, sessionID string) (Handle, bool, error) {
	val, err := r.client.Get(ctx, r.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Handle{}, false, nil
	}
	if err != nil {
		return Handle{}, false, fmt.Errorf("redis get: %w", err)
	}
	var h Handle
	if err := json.Unmarshal(val, &h); err != nil {
		return Handle{}, false, fmt.Errorf("decode handle: %w", err)
	}
	return h, true, nil
}

func (r *RedisRegistry) Create(ctx context.Context, h Handle) (Handle, error) {
	val, err := json.Marshal(h)
	if err != nil {
		return Handle{}, fmt.Errorf("encode handle: %w", err)
	}
	ok, err := r.client.SetNX(ctx, r.key(h.SessionID), val, ttlUntil(h.ExpiresAt)).Result()
	if err != nil {
		return Handle{}, fmt.Errorf("redis setnx: %w", err)
	}
	if ok {
		return h, nil
	}

	existing, found, err := r.Get(ctx, h.SessionID)
	if err != nil {
		return Handle{}, err
	}
	if !found {
		// Expired between SETNX and GET; take the slot.
		if err := r.client.Set(ctx, r.key(h.SessionID), val, ttlUntil(h.ExpiresAt)).Err(); err != nil {
			return Handle{}, fmt.Errorf("redis set: %w", err)
		}
		return h, nil
	}
	return existing, nil
}

func (r *RedisRegistry) Touch(ctx context.Context, sessionID string, expiresAt time.Time) error {
	h, found, err := r.Get(ctx, sessionID)
	if err != nil || !found {
		return err
	}
	h.ExpiresAt = expiresAt
	val, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("encode handle: %w", err)
	}
	if err := r.client.Set(ctx, r.key(sessionID), val, ttlUntil(expiresAt)).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *RedisRegistry) Delete(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, r.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func ttlUntil(t time.Time) time.Duration {
	d := time.Until(t)
	if d < time.Second {
		return time.Second
	}
	return d
}
