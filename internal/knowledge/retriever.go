package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/vigil/internal/metrics"
	"github.com/MikeSquared-Agency/vigil/internal/retry"
)

// VectorRetriever embeds the query text and searches an Index. Each call is
// bounded by timeout; transient failures are retried.
type VectorRetriever struct {
	embedder Embedder
	index    Index
	timeout  time.Duration
	policy   retry.Policy
	logger   *slog.Logger
}

func NewVectorRetriever(embedder Embedder, index Index, timeout time.Duration, retries int, logger *slog.Logger) *VectorRetriever {
	return &VectorRetriever{
		embedder: embedder,
		index:    index,
		timeout:  timeout,
		policy:   retry.Policy{Retries: retries, BaseDelay: 100 * time.Millisecond},
		logger:   logger,
	}
}

func (r *VectorRetriever) Retrieve(ctx context.Context, q Query) ([]Passage, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, nil
	}
	if q.TopK <= 0 {
		q.TopK = DefaultTopK
	}

	start := time.Now()
	defer metrics.Since(metrics.RetrievalLatency, start)

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	var (
		vec []float32
		out []Passage
	)
	attempt := 0
	err := retry.Do(ctx, r.policy, func(ctx context.Context) error {
		attempt++
		if vec == nil {
			v, err := r.embedder.Embed(ctx, q.Text)
			if err != nil {
				return classify(fmt.Errorf("embed query: %w", err))
			}
			vec = v
		}
		res, err := r.index.Search(ctx, vec, q)
		if err != nil {
			return classify(fmt.Errorf("search index: %w", err))
		}
		out = res
		return nil
	})
	if err != nil {
		metrics.RetrievalFailuresTotal.Inc()
		return nil, fmt.Errorf("retrieve passages: %w", err)
	}
	if attempt > 1 {
		r.logger.Info("retrieval succeeded after retry", "attempts", attempt)
	}
	return out, nil
}

type retryable interface {
	Retryable() bool
}

// classify marks provider errors that are not retryable as permanent.
func classify(err error) error {
	var t retryable
	if errors.As(err, &t) && !t.Retryable() {
		return retry.Permanent(err)
	}
	return err
}
