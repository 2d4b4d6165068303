package replay

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"unicode/utf8"
)

const textColumnRunes = 40

// WriteTable prints the timeline. With changesOnly only level changes are
// listed.
func WriteTable(w io.Writer, steps []Step, changesOnly bool) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TURN\tLEVEL\tKEYWORD\tNEXT\tWINDOW\tTEXT")
	for _, s := range steps {
		if changesOnly && !s.Changed {
			continue
		}
		level := string(s.Level)
		if s.Changed {
			level += " *"
		}
		text := s.Text
		if s.SpeakerRole != "" {
			text = s.SpeakerRole + "：" + text
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%ds\t%s\t%s\n",
			s.Turn, level, dash(s.MatchedKeyword), s.IntervalS, s.WindowMode, clip(text, textColumnRunes))
	}
	return tw.Flush()
}

// WriteSummary prints the aggregate counts.
func WriteSummary(w io.Writer, s Summary) error {
	_, err := fmt.Fprintf(w, "\n%d turns, peak %s, %d transitions (RED %d / YELLOW %d / GREEN %d)\n",
		s.Turns, s.Peak, s.Transitions, s.Levels["RED"], s.Levels["YELLOW"], s.Levels["GREEN"])
	return err
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func clip(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "…"
}
