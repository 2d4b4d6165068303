package accounting

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// DefaultCacheTTL matches the provider's ephemeral prompt cache lifetime.
const DefaultCacheTTL = 5 * time.Minute

// Handle identifies the cached static prompt prefix of one session. The zero
// Handle means caching is off for the call.
type Handle struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	PrefixKey string    `json:"prefix_key"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`

	// Fresh is set when this Acquire created the handle, so the provider is
	// expected to write the cache rather than read it.
	Fresh bool `json:"-"`
}

func (h Handle) Valid() bool { return h.ID != "" }

// PromptCache hands out per-session cache handles.
type PromptCache interface {
	Acquire(ctx context.Context, sessionID, prefixKey string) (Handle, error)
	Invalidate(ctx context.Context, sessionID string) error
	Release(ctx context.Context, sessionID string) error
}

// Registry stores live handles, keyed by session.
type Registry interface {
	Get(ctx context.Context, sessionID string) (Handle, bool, error)
	// Create stores h unless a handle for the session already exists, in which
	// case the existing handle is returned.
	Create(ctx context.Context, h Handle) (Handle, error)
	Touch(ctx context.Context, sessionID string, expiresAt time.Time) error
	Delete(ctx context.Context, sessionID string) error
}

// EphemeralCache tracks provider-side ephemeral prompt caching. The provider
// keeps a prefix warm for ttl after each use; the handle mirrors that window.
type EphemeralCache struct {
	registry Registry
	ttl      time.Duration
	group    singleflight.Group
	now      func() time.Time
}

func NewEphemeralCache(registry Registry, ttl time.Duration) *EphemeralCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &EphemeralCache{registry: registry, ttl: ttl, now: time.Now}
}

// Acquire returns the session's live handle for prefixKey, creating one when
// none exists, it has expired, or the prefix changed. Concurrent creations for
// one session collapse into a single handle.
func (c *EphemeralCache) Acquire(ctx context.Context, sessionID, prefixKey string) (Handle, error) {
	now := c.now()
	h, ok, err := c.registry.Get(ctx, sessionID)
	if err != nil {
		return Handle{}, fmt.Errorf("get cache handle: %w", err)
	}
	if ok && h.PrefixKey == prefixKey && now.Before(h.ExpiresAt) {
		h.ExpiresAt = now.Add(c.ttl)
		if err := c.registry.Touch(ctx, sessionID, h.ExpiresAt); err != nil {
			return Handle{}, fmt.Errorf("touch cache handle: %w", err)
		}
		h.Fresh = false
		return h, nil
	}

	v, err, _ := c.group.Do(sessionID, func() (any, error) {
		return c.create(ctx, sessionID, prefixKey, ok)
	})
	if err != nil {
		return Handle{}, err
	}
	return v.(Handle), nil
}

func (c *EphemeralCache) create(ctx context.Context, sessionID, prefixKey string, stale bool) (Handle, error) {
	if stale {
		if err := c.registry.Delete(ctx, sessionID); err != nil {
			return Handle{}, fmt.Errorf("delete stale cache handle: %w", err)
		}
	}
	now := c.now()
	h := Handle{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		PrefixKey: prefixKey,
		CreatedAt: now,
		ExpiresAt: now.Add(c.ttl),
	}
	got, err := c.registry.Create(ctx, h)
	if err != nil {
		return Handle{}, fmt.Errorf("create cache handle: %w", err)
	}
	got.Fresh = got.ID == h.ID
	return got, nil
}

// Invalidate drops the session's handle so the next Acquire creates a new one.
func (c *EphemeralCache) Invalidate(ctx context.Context, sessionID string) error {
	if err := c.registry.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("invalidate cache handle: %w", err)
	}
	return nil
}

func (c *EphemeralCache) Release(ctx context.Context, sessionID string) error {
	if err := c.registry.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("release cache handle: %w", err)
	}
	return nil
}

// NoopCache never caches. Every call pays full input price.
type NoopCache struct{}

func (NoopCache) Acquire(context.Context, string, string) (Handle, error) { return Handle{}, nil }
func (NoopCache) Invalidate(context.Context, string) error                { return nil }
func (NoopCache) Release(context.Context, string) error                   { return nil }
