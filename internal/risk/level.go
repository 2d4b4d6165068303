package risk

import (
	"fmt"
	"strings"
)

// Level is a safety level, ordered by descending urgency: RED, YELLOW, GREEN.
type Level string

const (
	Red    Level = "RED"
	Yellow Level = "YELLOW"
	Green  Level = "GREEN"
)

// Rank returns 2 for RED, 1 for YELLOW and 0 for GREEN.
func (l Level) Rank() int {
	switch l {
	case Red:
		return 2
	case Yellow:
		return 1
	default:
		return 0
	}
}

// Valid reports whether l is one of the three levels.
func (l Level) Valid() bool {
	return l == Red || l == Yellow || l == Green
}

// ParseLevel accepts a level name in any case.
func ParseLevel(s string) (Level, error) {
	l := Level(strings.ToUpper(strings.TrimSpace(s)))
	if !l.Valid() {
		return "", fmt.Errorf("unknown risk level %q", s)
	}
	return l, nil
}

// Assessment is the classification of one transcript window.
type Assessment struct {
	Level           Level  `json:"level"`
	MatchedKeyword  string `json:"matched_keyword,omitempty"`
	PositiveKeyword string `json:"positive_keyword,omitempty"`
}
