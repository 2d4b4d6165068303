package advisory

import (
	"time"

	"github.com/MikeSquared-Agency/vigil/internal/accounting"
)

type AlertKind string

const (
	AlertCaution  AlertKind = "caution"
	AlertPositive AlertKind = "positive"
)

// Fallback reasons.
const (
	ReasonMalformedOutput  = "malformed_output"
	ReasonModelUnavailable = "model_unavailable"
)

type Alert struct {
	Kind AlertKind `json:"kind"`
	Text string    `json:"text"`
}

// GroundingSource is a theory passage that was given to the model.
type GroundingSource struct {
	DocumentID string  `json:"document_id,omitempty"`
	Title      string  `json:"title"`
	Excerpt    string  `json:"excerpt"`
	Score      float64 `json:"score"`
}

// Advisory is the structured advice produced by one tick. A fallback advisory
// is still schema-valid: it has a summary and empty alerts and suggestions.
type Advisory struct {
	ID               string               `json:"id"`
	Summary          string               `json:"summary"`
	Alerts           []Alert              `json:"alerts"`
	Suggestions      []string             `json:"suggestions"`
	GroundingSources []GroundingSource    `json:"grounding_sources"`
	CostEstimate     *accounting.Estimate `json:"cost_estimate,omitempty"`
	Fallback         bool                 `json:"fallback"`
	FallbackReason   string               `json:"fallback_reason,omitempty"`
	Model            string               `json:"model,omitempty"`
	LatencyMS        int64                `json:"latency_ms"`
	CacheHit         bool                 `json:"cache_hit"`
	GeneratedAt      time.Time            `json:"generated_at"`
}
