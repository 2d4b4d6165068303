package accounting

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestCache(clock *fakeClock) *EphemeralCache {
	reg := NewMemoryRegistry()
	reg.now = clock.Now
	c := NewEphemeralCache(reg, 5*time.Minute)
	c.now = clock.Now
	return c
}

func TestRateTable_Cost(t *testing.T) {
	rates := RateTable{Input: 3, Output: 15, CacheWrite: 3.75, CacheRead: 0.3}
	u := Usage{InputTokens: 1000, OutputTokens: 200, CacheWriteTokens: 0, CacheReadTokens: 4000}

	want := (1000*3 + 200*15 + 4000*0.3) / 1_000_000.0
	assert.InDelta(t, want, rates.Cost(u), 1e-12)
	assert.Equal(t, 0.0, RateTable{}.Cost(u))
}

func TestEphemeralCache_ReusesLiveHandle(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c := newTestCache(clock)
	ctx := context.Background()

	first, err := c.Acquire(ctx, "s1", "prefix-a")
	require.NoError(t, err)
	assert.True(t, first.Valid())
	assert.True(t, first.Fresh)

	clock.Advance(4 * time.Minute)
	second, err := c.Acquire(ctx, "s1", "prefix-a")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.False(t, second.Fresh)

	// Use refreshed the window, so another 4 minutes is still live.
	clock.Advance(4 * time.Minute)
	third, err := c.Acquire(ctx, "s1", "prefix-a")
	require.NoError(t, err)
	assert.Equal(t, first.ID, third.ID)
}

func TestEphemeralCache_RecreatesOnExpiryOrPrefixChange(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c := newTestCache(clock)
	ctx := context.Background()

	first, err := c.Acquire(ctx, "s1", "prefix-a")
	require.NoError(t, err)

	clock.Advance(6 * time.Minute)
	expired, err := c.Acquire(ctx, "s1", "prefix-a")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, expired.ID)
	assert.True(t, expired.Fresh)

	changed, err := c.Acquire(ctx, "s1", "prefix-b")
	require.NoError(t, err)
	assert.NotEqual(t, expired.ID, changed.ID)
	assert.Equal(t, "prefix-b", changed.PrefixKey)
}

func TestEphemeralCache_SessionsAreIsolated(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c := newTestCache(clock)
	ctx := context.Background()

	a, err := c.Acquire(ctx, "s1", "p")
	require.NoError(t, err)
	b, err := c.Acquire(ctx, "s2", "p")
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)

	require.NoError(t, c.Release(ctx, "s1"))
	again, err := c.Acquire(ctx, "s2", "p")
	require.NoError(t, err)
	assert.Equal(t, b.ID, again.ID)
}

func TestEphemeralCache_ConcurrentAcquireCreatesOneHandle(t *testing.T) {
	c := NewEphemeralCache(NewMemoryRegistry(), time.Minute)
	ctx := context.Background()

	const n = 16
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := c.Acquire(ctx, "s1", "p")
			if err == nil {
				ids[i] = h.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestNoopCache(t *testing.T) {
	h, err := NoopCache{}.Acquire(context.Background(), "s1", "p")
	require.NoError(t, err)
	assert.False(t, h.Valid())
}

type failingCache struct{ NoopCache }

func (failingCache) Acquire(context.Context, string, string) (Handle, error) {
	return Handle{}, errors.New("redis down")
}

func TestAccountant_PrepareFailureDisablesCaching(t *testing.T) {
	a := NewAccountant(failingCache{}, RateTable{Input: 1}, testLogger())

	h := a.Prepare(context.Background(), "s1", "p")
	assert.False(t, h.Valid())

	est := a.Settle(context.Background(), "s1", "p", h, Usage{InputTokens: 1_000_000})
	assert.InDelta(t, 1.0, est.CostUSD, 1e-9)
	assert.False(t, est.CacheHit)
}

func TestAccountant_SettleHitAndTotals(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	a := NewAccountant(newTestCache(clock), RateTable{Input: 3, Output: 15, CacheWrite: 3.75, CacheRead: 0.3}, testLogger())
	ctx := context.Background()

	h := a.Prepare(ctx, "s1", "p")
	first := a.Settle(ctx, "s1", "p", h, Usage{InputTokens: 100, OutputTokens: 50, CacheWriteTokens: 3000})
	assert.False(t, first.CacheHit)
	assert.False(t, first.CacheRecreated)

	h2 := a.Prepare(ctx, "s1", "p")
	assert.Equal(t, h.ID, h2.ID)
	second := a.Settle(ctx, "s1", "p", h2, Usage{InputTokens: 100, OutputTokens: 50, CacheReadTokens: 3000})
	assert.True(t, second.CacheHit)
	assert.Less(t, second.CostUSD, first.CostUSD)

	tot := a.Totals("s1")
	assert.Equal(t, 2, tot.Calls)
	assert.Equal(t, 1, tot.CacheHits)
	assert.Equal(t, 200, tot.Usage.InputTokens)
	assert.InDelta(t, first.CostUSD+second.CostUSD, tot.CostUSD, 1e-12)
}

func TestAccountant_ProviderMissRecreatesHandle(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	a := NewAccountant(newTestCache(clock), RateTable{}, testLogger())
	ctx := context.Background()

	h := a.Prepare(ctx, "s1", "p")
	a.Settle(ctx, "s1", "p", h, Usage{CacheWriteTokens: 3000})

	reused := a.Prepare(ctx, "s1", "p")
	require.Equal(t, h.ID, reused.ID)
	require.False(t, reused.Fresh)

	// The provider evicted the prefix early: the reused handle wrote instead of read.
	est := a.Settle(ctx, "s1", "p", reused, Usage{CacheWriteTokens: 3000})
	assert.True(t, est.CacheRecreated)

	next := a.Prepare(ctx, "s1", "p")
	assert.NotEqual(t, h.ID, next.ID)
	assert.Equal(t, 1, a.Totals("s1").CacheRecreates)
}

func TestAccountant_Release(t *testing.T) {
	a := NewAccountant(NewEphemeralCache(NewMemoryRegistry(), time.Minute), RateTable{Input: 1}, testLogger())
	ctx := context.Background()

	h := a.Prepare(ctx, "s1", "p")
	a.Settle(ctx, "s1", "p", h, Usage{InputTokens: 10})
	a.Release(ctx, "s1")

	assert.Equal(t, Totals{}, a.Totals("s1"))
	next := a.Prepare(ctx, "s1", "p")
	assert.NotEqual(t, h.ID, next.ID)
}

func TestAccountant_AbandonDropsUnusedFreshHandle(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	a := NewAccountant(newTestCache(clock), RateTable{}, testLogger())
	ctx := context.Background()

	h := a.Prepare(ctx, "s1", "p")
	require.True(t, h.Fresh)
	a.Abandon(ctx, "s1", h)

	next := a.Prepare(ctx, "s1", "p")
	assert.NotEqual(t, h.ID, next.ID)
	assert.True(t, next.Fresh)

	est := a.Settle(ctx, "s1", "p", next, Usage{CacheWriteTokens: 3000})
	assert.False(t, est.CacheRecreated)
	assert.Equal(t, 0, a.Totals("s1").CacheRecreates)
}

func TestAccountant_AbandonKeepsReusedHandle(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	a := NewAccountant(newTestCache(clock), RateTable{}, testLogger())
	ctx := context.Background()

	h := a.Prepare(ctx, "s1", "p")
	a.Settle(ctx, "s1", "p", h, Usage{CacheWriteTokens: 3000})

	reused := a.Prepare(ctx, "s1", "p")
	a.Abandon(ctx, "s1", reused)

	assert.Equal(t, h.ID, a.Prepare(ctx, "s1", "p").ID)
}
