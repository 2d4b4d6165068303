package transcript

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestExtract_LastTurnsWithLabels(t *testing.T) {
	tr := New()
	for i := 1; i <= 12; i++ {
		role := "案主"
		if i%2 == 0 {
			role = "諮商師"
		}
		tr.Append(role, fmt.Sprintf("第%d句", i))
	}

	w := NewExtractor(10, 300, 1).Extract(tr.Snapshot())

	if w.Mode != ModeTurns {
		t.Fatalf("expected turns mode, got %s", w.Mode)
	}
	if w.TurnCount != 10 {
		t.Fatalf("expected 10 turns, got %d", w.TurnCount)
	}
	lines := strings.Split(w.Text, "\n")
	if lines[0] != "案主：第3句" {
		t.Errorf("expected first line 案主：第3句, got %q", lines[0])
	}
	if lines[9] != "諮商師：第12句" {
		t.Errorf("expected last line 諮商師：第12句, got %q", lines[9])
	}
}

func TestExtract_ShortTranscriptReturnedWhole(t *testing.T) {
	tr := New()
	tr.Append("案主", "我想打死他")

	w := NewExtractor(10, 300, 1).Extract(tr.Snapshot())

	if w.Text != "案主：我想打死他" {
		t.Errorf("unexpected window text %q", w.Text)
	}
	if w.TurnCount != 1 {
		t.Errorf("expected 1 turn, got %d", w.TurnCount)
	}
}

func TestExtract_FallsBackToCharsWithoutTurns(t *testing.T) {
	tr := New()
	tr.Append("", strings.Repeat("一", 200))
	tr.Append("", strings.Repeat("二", 200))

	w := NewExtractor(10, 300, 1).Extract(tr.Snapshot())

	if w.Mode != ModeChars {
		t.Fatalf("expected chars mode, got %s", w.Mode)
	}
	if n := utf8.RuneCountInString(w.Text); n != 300 {
		t.Errorf("expected 300 runes, got %d", n)
	}
	if !utf8.ValidString(w.Text) {
		t.Error("window split a code point")
	}
	if !strings.HasSuffix(w.Text, "二") {
		t.Error("window should end with the newest text")
	}
}

func TestExtract_StaleTurnsFallBackToChars(t *testing.T) {
	tr := New()
	tr.Append("案主", "我很生氣")
	tr.Append("", "後面還有沒有標記說話者的內容")

	w := NewExtractor(10, 300, 1).Extract(tr.Snapshot())

	if w.Mode != ModeChars {
		t.Fatalf("expected chars mode once unlabelled text follows the last turn, got %s", w.Mode)
	}
	if !strings.Contains(w.Text, "後面還有") {
		t.Errorf("window missing newest unlabelled text: %q", w.Text)
	}
}

func TestExtract_MinTurnsThreshold(t *testing.T) {
	tr := New()
	tr.Append("案主", "你好")
	tr.Append("諮商師", "你好，今天想聊什麼")

	w := NewExtractor(10, 300, 3).Extract(tr.Snapshot())
	if w.Mode != ModeChars {
		t.Errorf("expected chars mode below min turns, got %s", w.Mode)
	}

	tr.Append("案主", "最近壓力很大")
	w = NewExtractor(10, 300, 3).Extract(tr.Snapshot())
	if w.Mode != ModeTurns {
		t.Errorf("expected turns mode at min turns, got %s", w.Mode)
	}
}

func TestExtract_EmptyTranscript(t *testing.T) {
	w := NewExtractor(0, 0, 0).Extract(New().Snapshot())
	if w.Text != "" || w.TurnCount != 0 {
		t.Errorf("expected empty window, got %+v", w)
	}
}

func TestSnapshot_IsolatedFromLaterAppends(t *testing.T) {
	tr := New()
	tr.Append("案主", "第一句")
	snap := tr.Snapshot()
	tr.Append("案主", "第二句")

	if len(snap.Turns) != 1 {
		t.Fatalf("snapshot should hold 1 turn, got %d", len(snap.Turns))
	}
	if strings.Contains(snap.Text, "第二句") {
		t.Error("snapshot text saw a later append")
	}
	if tr.Len() != 2 {
		t.Errorf("transcript should hold 2 turns, got %d", tr.Len())
	}
}

func TestAppend_IgnoresBlankText(t *testing.T) {
	tr := New()
	tr.Append("案主", "   ")
	if tr.Len() != 0 {
		t.Errorf("blank utterance should be ignored")
	}
	if !tr.LastAppend().IsZero() {
		t.Errorf("blank utterance should not count as activity")
	}
}

func TestTailRunes(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{name: "ascii", in: "abcdef", n: 3, want: "def"},
		{name: "cjk", in: "我想打死他", n: 2, want: "死他"},
		{name: "longer than input", in: "你好", n: 10, want: "你好"},
		{name: "zero", in: "你好", n: 0, want: ""},
		{name: "emoji", in: "ok😀😀", n: 1, want: "😀"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TailRunes(tt.in, tt.n); got != tt.want {
				t.Errorf("TailRunes(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
			}
		})
	}
}
