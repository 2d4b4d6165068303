package risk

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/width"

	"github.com/MikeSquared-Agency/vigil/internal/transcript"
)

// Keywords configures the classifier. Red and Yellow must be non-empty and the
// three sets must be disjoint after normalization.
type Keywords struct {
	Red      []string `yaml:"red" json:"red"`
	Yellow   []string `yaml:"yellow" json:"yellow"`
	Positive []string `yaml:"positive" json:"positive"`
}

// A keyword that starts or ends with an ASCII letter or digit only matches on
// a word boundary at that end, so "kill" does not match "skill". CJK keywords
// match anywhere.
type keyword struct {
	raw       string
	norm      string
	wordStart bool
	wordEnd   bool
}

// Classifier assigns a risk level to a transcript window by keyword priority.
// It is immutable after construction and safe for concurrent use.
type Classifier struct {
	red      []keyword
	yellow   []keyword
	positive []keyword
}

// NewClassifier validates kw and returns a classifier over a private copy of it.
func NewClassifier(kw Keywords) (*Classifier, error) {
	red := compile(kw.Red)
	yellow := compile(kw.Yellow)
	positive := compile(kw.Positive)

	var errs []string
	if len(red) == 0 {
		errs = append(errs, "red keyword list is empty")
	}
	if len(yellow) == 0 {
		errs = append(errs, "yellow keyword list is empty")
	}

	owner := make(map[string]string)
	for _, set := range []struct {
		name string
		kws  []keyword
	}{{"red", red}, {"yellow", yellow}, {"positive", positive}} {
		for _, k := range set.kws {
			if prev, ok := owner[k.norm]; ok && prev != set.name {
				errs = append(errs, fmt.Sprintf("keyword %q is in both %s and %s", k.raw, prev, set.name))
				continue
			}
			owner[k.norm] = set.name
		}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("risk: invalid keywords: %s", strings.Join(errs, "; "))
	}
	return &Classifier{red: red, yellow: yellow, positive: positive}, nil
}

// Classify scans only the given window. RED beats YELLOW beats GREEN; within a
// level the keyword occurring earliest in the text is recorded.
func (c *Classifier) Classify(w transcript.Window) Assessment {
	text := Normalize(w.Text)

	if kw, ok := firstMatch(text, c.red); ok {
		return Assessment{Level: Red, MatchedKeyword: kw}
	}
	if kw, ok := firstMatch(text, c.yellow); ok {
		return Assessment{Level: Yellow, MatchedKeyword: kw}
	}

	a := Assessment{Level: Green}
	if kw, ok := firstMatch(text, c.positive); ok {
		a.PositiveKeyword = kw
	}
	return a
}

// ClassifyText is a convenience for classifying free text.
func (c *Classifier) ClassifyText(text string) Assessment {
	return c.Classify(transcript.Window{Text: text})
}

// Normalize folds full-width forms and case so keyword matching ignores them.
func Normalize(s string) string {
	return cases.Fold().String(width.Fold.String(s))
}

func compile(words []string) []keyword {
	out := make([]keyword, 0, len(words))
	seen := make(map[string]bool, len(words))
	for _, w := range words {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		n := Normalize(w)
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, keyword{
			raw:       w,
			norm:      n,
			wordStart: isWordByte(n[0]),
			wordEnd:   isWordByte(n[len(n)-1]),
		})
	}
	return out
}

func firstMatch(text string, kws []keyword) (string, bool) {
	best, bestAt := "", -1
	for _, k := range kws {
		i := k.index(text)
		if i < 0 {
			continue
		}
		if bestAt < 0 || i < bestAt {
			best, bestAt = k.raw, i
		}
	}
	return best, bestAt >= 0
}

// index returns the byte offset of the first occurrence of k in text that
// respects k's word boundaries, or -1.
func (k keyword) index(text string) int {
	from := 0
	for from <= len(text) {
		i := strings.Index(text[from:], k.norm)
		if i < 0 {
			return -1
		}
		i += from
		end := i + len(k.norm)
		startOK := !k.wordStart || i == 0 || !isWordByte(text[i-1])
		endOK := !k.wordEnd || end == len(text) || !isWordByte(text[end])
		if startOK && endOK {
			return i
		}
		from = i + 1
	}
	return -1
}

func isWordByte(b byte) bool {
	return b == '_' || 'a' <= b && b <= 'z' || 'A' <= b && b <= 'Z' || '0' <= b && b <= '9'
}
