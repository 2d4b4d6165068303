// Package accounting tracks prompt-cache handles and per-session model spend.
package accounting

// RateTable prices tokens in USD per million.
type RateTable struct {
	Input      float64 `json:"input"`
	Output     float64 `json:"output"`
	CacheWrite float64 `json:"cache_write"`
	CacheRead  float64 `json:"cache_read"`
}

// Usage is the token accounting of one model call. InputTokens excludes
// tokens written to or read from the prompt cache.
type Usage struct {
	InputTokens      int `json:"input_tokens"`
	OutputTokens     int `json:"output_tokens"`
	CacheWriteTokens int `json:"cache_write_tokens"`
	CacheReadTokens  int `json:"cache_read_tokens"`
}

func (u Usage) add(o Usage) Usage {
	return Usage{
		InputTokens:      u.InputTokens + o.InputTokens,
		OutputTokens:     u.OutputTokens + o.OutputTokens,
		CacheWriteTokens: u.CacheWriteTokens + o.CacheWriteTokens,
		CacheReadTokens:  u.CacheReadTokens + o.CacheReadTokens,
	}
}

// Cost returns the USD price of u.
func (r RateTable) Cost(u Usage) float64 {
	const perM = 1_000_000
	return (float64(u.InputTokens)*r.Input +
		float64(u.CacheWriteTokens)*r.CacheWrite +
		float64(u.CacheReadTokens)*r.CacheRead +
		float64(u.OutputTokens)*r.Output) / perM
}

// Estimate is the settled cost of one model call. It is informational only.
type Estimate struct {
	Usage
	CostUSD        float64 `json:"cost_usd"`
	CacheHit       bool    `json:"cache_hit"`
	CacheRecreated bool    `json:"cache_recreated,omitempty"`
}

// Totals aggregates the estimates of one session.
type Totals struct {
	Calls          int     `json:"calls"`
	Usage          Usage   `json:"usage"`
	CostUSD        float64 `json:"cost_usd"`
	CacheHits      int     `json:"cache_hits"`
	CacheRecreates int     `json:"cache_recreates"`
}
