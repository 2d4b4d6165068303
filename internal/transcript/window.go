package transcript

import (
	"strings"
	"unicode/utf8"
)

const (
	DefaultWindowTurns = 10
	DefaultWindowChars = 300
	DefaultMinTurns    = 1
)

// WindowMode records which bound produced a window.
type WindowMode string

const (
	ModeTurns WindowMode = "turns"
	ModeChars WindowMode = "chars"
)

// Window is the recent slice of a transcript that a single analysis looks at.
type Window struct {
	Text      string     `json:"text"`
	TurnCount int        `json:"turn_count"`
	Mode      WindowMode `json:"mode"`
}

// Extractor derives windows. The zero value is not usable; see NewExtractor.
type Extractor struct {
	turns    int
	chars    int
	minTurns int
}

// NewExtractor returns an extractor keeping the last turns speaker turns, or
// the last chars characters when fewer than minTurns turns are usable.
// Non-positive arguments fall back to the defaults.
func NewExtractor(turns, chars, minTurns int) *Extractor {
	if turns <= 0 {
		turns = DefaultWindowTurns
	}
	if chars <= 0 {
		chars = DefaultWindowChars
	}
	if minTurns <= 0 {
		minTurns = DefaultMinTurns
	}
	return &Extractor{turns: turns, chars: chars, minTurns: minTurns}
}

// Extract returns the window for a snapshot. It never fails; a transcript
// shorter than the bound is returned whole.
func (e *Extractor) Extract(s Snapshot) Window {
	if e.turnsUsable(s) {
		recent := s.Turns
		if len(recent) > e.turns {
			recent = recent[len(recent)-e.turns:]
		}
		lines := make([]string, len(recent))
		for i, t := range recent {
			lines[i] = t.Line()
		}
		return Window{
			Text:      strings.Join(lines, "\n"),
			TurnCount: len(recent),
			Mode:      ModeTurns,
		}
	}

	text := TailRunes(s.Text, e.chars)
	return Window{
		Text:      text,
		TurnCount: strings.Count(text, "\n") + boolInt(text != ""),
		Mode:      ModeChars,
	}
}

// turnsUsable reports whether speaker turns describe the recent conversation.
// Turns go stale when unlabelled text has arrived after the last one.
func (e *Extractor) turnsUsable(s Snapshot) bool {
	return len(s.Turns) >= e.minTurns && !s.Unlabelled
}

// TailRunes returns the last n characters of s without splitting a code point.
func TailRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := len(s)
	for count := 0; i > 0 && count < n; count++ {
		_, size := utf8.DecodeLastRuneInString(s[:i])
		i -= size
	}
	return s[i:]
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
