package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/vigil/internal/advisory"
	"github.com/MikeSquared-Agency/vigil/internal/risk"
)

// AdvisoryRow is one persisted tick result.
type AdvisoryRow struct {
	ID                  uuid.UUID         `json:"id"`
	SessionID           string            `json:"session_id"`
	Level               risk.Level        `json:"level"`
	MatchedKeyword      string            `json:"matched_keyword,omitempty"`
	NextIntervalSeconds int               `json:"next_interval_seconds"`
	Advisory            advisory.Advisory `json:"advisory"`
	CreatedAt           time.Time         `json:"created_at"`
}

// WriteAdvisory records the outcome of one tick.
func (s *Store) WriteAdvisory(ctx context.Context, sessionID string, a risk.Assessment, next time.Duration, adv *advisory.Advisory) (uuid.UUID, error) {
	id, err := uuid.Parse(adv.ID)
	if err != nil {
		id = uuid.New()
	}

	payload, err := json.Marshal(adv)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal advisory: %w", err)
	}

	var cost float64
	if adv.CostEstimate != nil {
		cost = adv.CostEstimate.CostUSD
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO advisories (id, session_id, level, matched_keyword, next_interval_s, fallback, fallback_reason, cost_usd, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())`,
		id, sessionID, string(a.Level), a.MatchedKeyword, int(next.Seconds()),
		adv.Fallback, adv.FallbackReason, cost, payload,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert advisory: %w", err)
	}
	return id, nil
}

// ListAdvisories returns the most recent advisories of a session, newest first.
func (s *Store) ListAdvisories(ctx context.Context, sessionID string, limit int) ([]AdvisoryRow, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, level, matched_keyword, next_interval_s, payload, created_at
		FROM advisories
		WHERE session_id = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query advisories: %w", err)
	}
	defer rows.Close()

	var out []AdvisoryRow
	for rows.Next() {
		var (
			r       AdvisoryRow
			level   string
			payload []byte
		)
		if err := rows.Scan(&r.ID, &r.SessionID, &level, &r.MatchedKeyword, &r.NextIntervalSeconds, &payload, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan advisory: %w", err)
		}
		r.Level = risk.Level(level)
		if err := json.Unmarshal(payload, &r.Advisory); err != nil {
			return nil, fmt.Errorf("decode advisory %s: %w", r.ID, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate advisories: %w", err)
	}
	return out, nil
}
