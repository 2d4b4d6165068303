// Package advisory turns a classified transcript window and its grounding
// passages into structured advice for the counselor.
package advisory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/vigil/internal/accounting"
	"github.com/MikeSquared-Agency/vigil/internal/knowledge"
	"github.com/MikeSquared-Agency/vigil/internal/metrics"
	"github.com/MikeSquared-Agency/vigil/internal/retry"
	"github.com/MikeSquared-Agency/vigil/internal/risk"
	"github.com/MikeSquared-Agency/vigil/internal/transcript"
)

const excerptRunes = 120

type Config struct {
	Timeout   time.Duration
	Retries   int
	Backoff   time.Duration
	MaxTokens int
}

// Input is everything one tick hands to the generator. CacheKey keys the
// prompt cache handle and cost totals; empty means SessionID.
type Input struct {
	SessionID  string
	CacheKey   string
	Window     transcript.Window
	Assessment risk.Assessment
	Passages   []knowledge.Passage
}

// Generator calls the model and always produces an Advisory. Provider
// failures and unparsable output degrade to a fallback advisory.
type Generator struct {
	model     Model
	modelName string
	acct      *accounting.Accountant
	cfg       Config
	logger    *slog.Logger
	prefixKey string
}

func NewGenerator(model Model, modelName string, acct *accounting.Accountant, cfg Config, logger *slog.Logger) *Generator {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	sum := sha256.Sum256([]byte(modelName + "\x00" + systemPrompt))
	return &Generator{
		model:     model,
		modelName: modelName,
		acct:      acct,
		cfg:       cfg,
		logger:    logger,
		prefixKey: hex.EncodeToString(sum[:8]),
	}
}

func (g *Generator) Generate(ctx context.Context, in Input) *Advisory {
	key := in.CacheKey
	if key == "" {
		key = in.SessionID
	}

	var handle accounting.Handle
	if g.acct != nil {
		handle = g.acct.Prepare(ctx, key, g.prefixKey)
	}

	req := ModelRequest{
		System:      systemPrompt,
		CacheSystem: handle.Valid(),
		Prompt:      buildPrompt(in),
		MaxTokens:   g.cfg.MaxTokens,
	}

	start := time.Now()
	var resp *ModelResponse
	err := retry.Do(ctx, retry.Policy{Retries: g.cfg.Retries, BaseDelay: g.cfg.Backoff}, func(ctx context.Context) error {
		callCtx := ctx
		if g.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
			defer cancel()
		}
		r, err := g.model.Generate(callCtx, req)
		if err != nil {
			g.logger.Warn("model call failed", "session_id", in.SessionID, "error", err)
			return classify(err)
		}
		resp = r
		return nil
	})
	latency := time.Since(start)
	metrics.ModelLatency.Observe(latency.Seconds())

	if err != nil {
		g.logger.Warn("model unavailable, emitting fallback advisory",
			"session_id", in.SessionID,
			"level", in.Assessment.Level,
			"error", err,
		)
		if g.acct != nil {
			g.acct.Abandon(ctx, key, handle)
		}
		return g.fallback(ReasonModelUnavailable, nil, latency)
	}

	var est *accounting.Estimate
	if g.acct != nil {
		e := g.acct.Settle(ctx, key, g.prefixKey, handle, resp.Usage)
		est = &e
	}

	out, err := parseOutput(resp.Text)
	if err != nil {
		g.logger.Error("failed to parse model output",
			"session_id", in.SessionID,
			"error", err,
			"raw", resp.Text,
		)
		return g.fallback(ReasonMalformedOutput, est, latency)
	}

	adv := &Advisory{
		ID:               uuid.New().String(),
		Summary:          out.Summary,
		Alerts:           out.Alerts,
		Suggestions:      out.Suggestions,
		GroundingSources: sources(in.Passages),
		CostEstimate:     est,
		Model:            g.modelName,
		LatencyMS:        latency.Milliseconds(),
		CacheHit:         est != nil && est.CacheHit,
		GeneratedAt:      time.Now().UTC(),
	}

	g.logger.Info("advisory generated",
		"session_id", in.SessionID,
		"level", in.Assessment.Level,
		"alerts", len(adv.Alerts),
		"suggestions", len(adv.Suggestions),
		"grounding", len(adv.GroundingSources),
		"latency_ms", adv.LatencyMS,
		"cache_hit", adv.CacheHit,
	)
	return adv
}

func (g *Generator) fallback(reason string, est *accounting.Estimate, latency time.Duration) *Advisory {
	metrics.FallbacksTotal.WithLabelValues(reason).Inc()
	return &Advisory{
		ID:               uuid.New().String(),
		Summary:          fallbackSummary,
		Alerts:           []Alert{},
		Suggestions:      []string{},
		GroundingSources: []GroundingSource{},
		CostEstimate:     est,
		Fallback:         true,
		FallbackReason:   reason,
		Model:            g.modelName,
		LatencyMS:        latency.Milliseconds(),
		CacheHit:         est != nil && est.CacheHit,
		GeneratedAt:      time.Now().UTC(),
	}
}

func buildPrompt(in Input) string {
	var trigger string
	if in.Assessment.MatchedKeyword != "" {
		trigger = fmt.Sprintf("觸發關鍵字：%s\n", in.Assessment.MatchedKeyword)
	} else if in.Assessment.PositiveKeyword != "" {
		trigger = fmt.Sprintf("正向關鍵字：%s\n", in.Assessment.PositiveKeyword)
	}

	passages := noPassagesText
	if len(in.Passages) > 0 {
		var b strings.Builder
		for i, p := range in.Passages {
			fmt.Fprintf(&b, "[%d] %s\n%s\n\n", i+1, p.Title, p.Text)
		}
		passages = strings.TrimSpace(b.String())
	}

	return fmt.Sprintf(userPromptTemplate, in.Assessment.Level, trigger, passages, in.Window.Text)
}

func sources(passages []knowledge.Passage) []GroundingSource {
	out := make([]GroundingSource, 0, len(passages))
	for _, p := range passages {
		out = append(out, GroundingSource{
			DocumentID: p.DocumentID,
			Title:      p.Title,
			Excerpt:    excerpt(p.Text, excerptRunes),
			Score:      p.Score,
		})
	}
	return out
}

func excerpt(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for count := 0; count < n; count++ {
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
	}
	return s[:i] + "…"
}

type retryable interface {
	Retryable() bool
}

// classify marks provider errors that are not retryable (4xx)
// as permanent. Network errors and timeouts stay retryable.
func classify(err error) error {
	var t retryable
	if errors.As(err, &t) && !t.Retryable() {
		return retry.Permanent(err)
	}
	return err
}
