package knowledge

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strings"
)

// Chunk is one corpus record as stored in the JSONL corpus file.
type Chunk struct {
	DocumentID string    `json:"document_id"`
	Title      string    `json:"title"`
	Text       string    `json:"chunk_text"`
	Embedding  []float32 `json:"embedding"`
	Category   string    `json:"category,omitempty"`
}

// MemoryIndex holds the whole corpus in memory. It is immutable after
// construction and safe for concurrent searches.
type MemoryIndex struct {
	chunks []Chunk
}

func NewMemoryIndex(chunks []Chunk) *MemoryIndex {
	cp := make([]Chunk, len(chunks))
	copy(cp, chunks)
	return &MemoryIndex{chunks: cp}
}

// LoadMemoryIndex reads a JSONL corpus file.
func LoadMemoryIndex(path string) (*MemoryIndex, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open corpus: %w", err)
	}
	defer f.Close()

	chunks, err := LoadJSONL(f)
	if err != nil {
		return nil, fmt.Errorf("load corpus %s: %w", path, err)
	}
	return NewMemoryIndex(chunks), nil
}

// LoadJSONL decodes one Chunk per non-blank line.
func LoadJSONL(r io.Reader) ([]Chunk, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var chunks []Chunk
	line := 0
	for sc.Scan() {
		line++
		raw := strings.TrimSpace(sc.Text())
		if raw == "" {
			continue
		}
		var c Chunk
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if len(c.Embedding) == 0 {
			return nil, fmt.Errorf("line %d: missing embedding", line)
		}
		chunks = append(chunks, c)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan corpus: %w", err)
	}
	return chunks, nil
}

func (m *MemoryIndex) Len() int { return len(m.chunks) }

// Search ranks chunks by cosine similarity. Equal scores keep corpus order.
func (m *MemoryIndex) Search(ctx context.Context, vec []float32, q Query) ([]Passage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var hits []Passage
	for _, c := range m.chunks {
		if q.Category != "" && c.Category != q.Category {
			continue
		}
		if len(c.Embedding) != len(vec) {
			continue
		}
		score := cosineSimilarity(vec, c.Embedding)
		if score < q.MinScore {
			continue
		}
		hits = append(hits, Passage{
			DocumentID: c.DocumentID,
			Title:      c.Title,
			Text:       c.Text,
			Category:   c.Category,
			Score:      score,
		})
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })

	k := q.TopK
	if k <= 0 {
		k = DefaultTopK
	}
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
