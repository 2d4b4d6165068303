// Package replay runs a recorded transcript through the window extractor and
// classifier one turn at a time, without timers or model calls. It is used to
// tune keyword lists and window sizes against real sessions.
package replay

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/vigil/internal/risk"
	"github.com/MikeSquared-Agency/vigil/internal/transcript"
)

// Record is one utterance of a recorded session.
type Record struct {
	SpeakerRole string `json:"speaker_role"`
	Text        string `json:"text"`
}

// Step is the classification after one record was appended.
type Step struct {
	Turn           int                   `json:"turn"`
	SpeakerRole    string                `json:"speaker_role,omitempty"`
	Text           string                `json:"text"`
	Level          risk.Level            `json:"level"`
	MatchedKeyword string                `json:"matched_keyword,omitempty"`
	IntervalS      int                   `json:"interval_seconds"`
	WindowMode     transcript.WindowMode `json:"window_mode"`
	Changed        bool                  `json:"changed"`
}

// Read parses a transcript. Lines starting with "{" are JSON records; other
// lines are "role：text" (full- or half-width colon) or unlabelled text.
// Blank lines are skipped.
func Read(r io.Reader) ([]Record, error) {
	var out []Record
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	line := 0
	for sc.Scan() {
		line++
		s := strings.TrimSpace(sc.Text())
		if s == "" {
			continue
		}
		if strings.HasPrefix(s, "{") {
			var rec Record
			if err := json.Unmarshal([]byte(s), &rec); err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			out = append(out, rec)
			continue
		}
		out = append(out, parseLine(s))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}
	return out, nil
}

// maxRoleRunes bounds what counts as a speaker label before a colon.
const maxRoleRunes = 12

func parseLine(s string) Record {
	for _, sep := range []string{"：", ":"} {
		role, text, ok := strings.Cut(s, sep)
		if ok && role != "" && len([]rune(role)) <= maxRoleRunes && !strings.ContainsAny(role, " \t") {
			return Record{SpeakerRole: role, Text: strings.TrimSpace(text)}
		}
	}
	return Record{Text: s}
}

// Runner replays records against one engine configuration.
type Runner struct {
	classifier *risk.Classifier
	extractor  *transcript.Extractor
	intervals  risk.IntervalTable
}

func NewRunner(c *risk.Classifier, ext *transcript.Extractor, intervals risk.IntervalTable) *Runner {
	return &Runner{classifier: c, extractor: ext, intervals: intervals}
}

// Run classifies the window after every record. The level before the first
// record is GREEN, as for a freshly started session.
func (r *Runner) Run(records []Record) []Step {
	tr := transcript.New()
	prev := risk.Green
	steps := make([]Step, 0, len(records))
	for i, rec := range records {
		tr.Append(rec.SpeakerRole, rec.Text)
		w := r.extractor.Extract(tr.Snapshot())
		a := r.classifier.Classify(w)
		steps = append(steps, Step{
			Turn:           i + 1,
			SpeakerRole:    rec.SpeakerRole,
			Text:           rec.Text,
			Level:          a.Level,
			MatchedKeyword: a.MatchedKeyword,
			IntervalS:      int(r.intervals.For(a.Level) / time.Second),
			WindowMode:     w.Mode,
			Changed:        a.Level != prev,
		})
		prev = a.Level
	}
	return steps
}

// Summary aggregates a replay.
type Summary struct {
	Turns       int                `json:"turns"`
	Levels      map[risk.Level]int `json:"levels"`
	Transitions int                `json:"transitions"`
	Peak        risk.Level         `json:"peak"`
	Keywords    map[string]int     `json:"keywords"`
}

func Summarize(steps []Step) Summary {
	s := Summary{
		Turns:    len(steps),
		Levels:   make(map[risk.Level]int),
		Peak:     risk.Green,
		Keywords: make(map[string]int),
	}
	for _, st := range steps {
		s.Levels[st.Level]++
		if st.Changed {
			s.Transitions++
		}
		if st.Level.Rank() > s.Peak.Rank() {
			s.Peak = st.Level
		}
		if st.MatchedKeyword != "" {
			s.Keywords[st.MatchedKeyword]++
		}
	}
	return s
}
