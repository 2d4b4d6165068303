package ingest

import (
	"strings"
	"unicode/utf8"
)

const (
	DefaultMaxRunes = 600
	minPassageRunes = 40
)

// ChunkDocument splits a document into passages on paragraph boundaries,
// keeping each passage under maxRunes. A paragraph longer than maxRunes is
// split on sentence ends, or hard-cut as a last resort. Passages shorter
// than minPassageRunes are merged into their predecessor.
func ChunkDocument(doc Document, maxRunes int) []Passage {
	if maxRunes <= 0 {
		maxRunes = DefaultMaxRunes
	}

	var pieces []string
	for _, para := range paragraphs(doc.Text) {
		if utf8.RuneCountInString(para) <= maxRunes {
			pieces = append(pieces, para)
			continue
		}
		pieces = append(pieces, splitLong(para, maxRunes)...)
	}

	var (
		out     []Passage
		current strings.Builder
		size    int
	)
	flush := func() {
		if current.Len() == 0 {
			return
		}
		out = append(out, Passage{
			DocumentID: doc.ID,
			Title:      doc.Title,
			Category:   doc.Category,
			Index:      len(out),
			Text:       current.String(),
		})
		current.Reset()
		size = 0
	}

	for _, p := range pieces {
		n := utf8.RuneCountInString(p)
		if size > 0 && size+n+1 > maxRunes {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n")
			size++
		}
		current.WriteString(p)
		size += n
	}
	flush()

	// Fold a short tail into the previous passage.
	if len(out) > 1 {
		last := out[len(out)-1]
		if utf8.RuneCountInString(last.Text) < minPassageRunes {
			out[len(out)-2].Text += "\n" + last.Text
			out = out[:len(out)-1]
		}
	}
	return out
}

func paragraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var out []string
	for _, block := range strings.Split(text, "\n\n") {
		lines := strings.Split(block, "\n")
		kept := lines[:0]
		for _, l := range lines {
			l = strings.TrimSpace(l)
			if l != "" {
				kept = append(kept, l)
			}
		}
		if len(kept) > 0 {
			out = append(out, strings.Join(kept, " "))
		}
	}
	return out
}

var sentenceEnds = []rune{'。', '！', '？', '.', '!', '?', '；'}

func splitLong(para string, maxRunes int) []string {
	var (
		out   []string
		runes = []rune(para)
		start = 0
	)
	for start < len(runes) {
		end := start + maxRunes
		if end >= len(runes) {
			out = append(out, string(runes[start:]))
			break
		}
		cut := -1
		for i := end - 1; i > start; i-- {
			if isSentenceEnd(runes[i]) {
				cut = i + 1
				break
			}
		}
		if cut < 0 {
			cut = end
		}
		out = append(out, strings.TrimSpace(string(runes[start:cut])))
		start = cut
	}
	return out
}

func isSentenceEnd(r rune) bool {
	for _, e := range sentenceEnds {
		if r == e {
			return true
		}
	}
	return false
}
