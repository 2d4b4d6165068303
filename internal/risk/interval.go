package risk

import (
	"fmt"
	"time"
)

// Default polling intervals per level.
const (
	DefaultRedInterval    = 15 * time.Second
	DefaultYellowInterval = 30 * time.Second
	DefaultGreenInterval  = 60 * time.Second
)

// IntervalTable maps a level to the analysis cadence. Intervals strictly
// increase as risk decreases.
type IntervalTable struct {
	red, yellow, green time.Duration
}

// NewIntervalTable requires 0 < red < yellow < green.
func NewIntervalTable(red, yellow, green time.Duration) (IntervalTable, error) {
	if red <= 0 || yellow <= red || green <= yellow {
		return IntervalTable{}, fmt.Errorf("risk: interval table must satisfy 0 < red < yellow < green, got %s/%s/%s", red, yellow, green)
	}
	return IntervalTable{red: red, yellow: yellow, green: green}, nil
}

// DefaultIntervals returns the 15s/30s/60s table.
func DefaultIntervals() IntervalTable {
	return IntervalTable{red: DefaultRedInterval, yellow: DefaultYellowInterval, green: DefaultGreenInterval}
}

// For returns the bucket for l. Unknown levels get the GREEN bucket.
func (t IntervalTable) For(l Level) time.Duration {
	switch l {
	case Red:
		return t.red
	case Yellow:
		return t.yellow
	default:
		return t.green
	}
}
