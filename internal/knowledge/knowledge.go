// Package knowledge retrieves counseling-theory passages relevant to the
// current transcript window from a read-only vector corpus.
package knowledge

import "context"

// DefaultTopK is the number of passages requested when a query leaves it unset.
const DefaultTopK = 3

// Passage is one retrieved corpus chunk with its similarity to the query.
type Passage struct {
	DocumentID string  `json:"document_id"`
	Title      string  `json:"title"`
	Text       string  `json:"chunk_text"`
	Category   string  `json:"category,omitempty"`
	Score      float64 `json:"score"`
}

// Query selects passages. An empty Category searches the whole corpus.
type Query struct {
	Text     string
	Category string
	TopK     int
	MinScore float64
}

// Retriever returns at most TopK passages ordered by descending similarity.
// No match is an empty result, not an error.
type Retriever interface {
	Retrieve(ctx context.Context, q Query) ([]Passage, error)
}

// Embedder turns text into a vector in the corpus embedding space.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Index is a nearest-neighbour search over corpus vectors.
type Index interface {
	Search(ctx context.Context, vec []float32, q Query) ([]Passage, error)
}

// NoopRetriever is used when no corpus is configured. Every tick runs ungrounded.
type NoopRetriever struct{}

func (NoopRetriever) Retrieve(context.Context, Query) ([]Passage, error) { return nil, nil }
