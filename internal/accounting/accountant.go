package accounting

import (
	"context"
	"log/slog"
	"sync"

	"github.com/MikeSquared-Agency/vigil/internal/metrics"
)

// Accountant wraps a PromptCache with cost bookkeeping. Cache failures only
// turn caching off for the call; they never fail a tick.
type Accountant struct {
	cache  PromptCache
	rates  RateTable
	logger *slog.Logger

	mu     sync.Mutex
	totals map[string]Totals
}

func NewAccountant(cache PromptCache, rates RateTable, logger *slog.Logger) *Accountant {
	if cache == nil {
		cache = NoopCache{}
	}
	return &Accountant{
		cache:  cache,
		rates:  rates,
		logger: logger,
		totals: make(map[string]Totals),
	}
}

// Prepare returns the handle to use for the next call of sessionID.
func (a *Accountant) Prepare(ctx context.Context, sessionID, prefixKey string) Handle {
	h, err := a.cache.Acquire(ctx, sessionID, prefixKey)
	if err != nil {
		a.logger.Warn("prompt cache unavailable, calling uncached", "session_id", sessionID, "error", err)
		return Handle{}
	}
	return h
}

// Settle records the usage of a call made with h. A reused handle whose call
// wrote the cache instead of reading it means the provider dropped the
// prefix; the handle is recreated so the next call starts a fresh window.
func (a *Accountant) Settle(ctx context.Context, sessionID, prefixKey string, h Handle, u Usage) Estimate {
	est := Estimate{
		Usage:    u,
		CostUSD:  a.rates.Cost(u),
		CacheHit: u.CacheReadTokens > 0,
	}

	switch {
	case !h.Valid():
		metrics.PromptCacheTotal.WithLabelValues("disabled").Inc()
	case est.CacheHit:
		metrics.PromptCacheTotal.WithLabelValues("hit").Inc()
	case !h.Fresh && u.CacheWriteTokens > 0:
		est.CacheRecreated = a.recreate(ctx, sessionID, prefixKey, h)
		metrics.PromptCacheTotal.WithLabelValues("recreate").Inc()
	default:
		metrics.PromptCacheTotal.WithLabelValues("miss").Inc()
	}

	metrics.TokensTotal.WithLabelValues("input").Add(float64(u.InputTokens))
	metrics.TokensTotal.WithLabelValues("output").Add(float64(u.OutputTokens))
	metrics.TokensTotal.WithLabelValues("cache_write").Add(float64(u.CacheWriteTokens))
	metrics.TokensTotal.WithLabelValues("cache_read").Add(float64(u.CacheReadTokens))
	metrics.CostUSDTotal.Add(est.CostUSD)

	a.mu.Lock()
	t := a.totals[sessionID]
	t.Calls++
	t.Usage = t.Usage.add(u)
	t.CostUSD += est.CostUSD
	if est.CacheHit {
		t.CacheHits++
	}
	if est.CacheRecreated {
		t.CacheRecreates++
	}
	a.totals[sessionID] = t
	a.mu.Unlock()

	return est
}

// Abandon is called when no call made with h completed. A handle created for
// that call is dropped, otherwise the next call's cache write would look like
// a provider-side miss on a reused handle.
func (a *Accountant) Abandon(ctx context.Context, sessionID string, h Handle) {
	if !h.Valid() || !h.Fresh {
		return
	}
	if err := a.cache.Invalidate(ctx, sessionID); err != nil {
		a.logger.Warn("drop unused prompt cache handle failed", "session_id", sessionID, "error", err)
	}
}

func (a *Accountant) recreate(ctx context.Context, sessionID, prefixKey string, old Handle) bool {
	if err := a.cache.Invalidate(ctx, sessionID); err != nil {
		a.logger.Warn("invalidate prompt cache failed", "session_id", sessionID, "error", err)
		return false
	}
	h, err := a.cache.Acquire(ctx, sessionID, prefixKey)
	if err != nil {
		a.logger.Warn("recreate prompt cache failed", "session_id", sessionID, "error", err)
		return false
	}
	a.logger.Info("prompt cache expired at provider, handle recreated",
		"session_id", sessionID, "old_handle", old.ID, "new_handle", h.ID)
	return true
}

// Totals returns the aggregated spend of sessionID.
func (a *Accountant) Totals(sessionID string) Totals {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.totals[sessionID]
}

// Release drops the session's cache handle and totals.
func (a *Accountant) Release(ctx context.Context, sessionID string) {
	if err := a.cache.Release(ctx, sessionID); err != nil {
		a.logger.Warn("release prompt cache failed", "session_id", sessionID, "error", err)
	}
	a.mu.Lock()
	delete(a.totals, sessionID)
	a.mu.Unlock()
}
