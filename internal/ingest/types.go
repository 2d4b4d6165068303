// Package ingest builds the theory corpus the knowledge retriever searches:
// it splits source documents into passages, embeds them and writes them to a
// JSONL corpus file or the theory_chunks table.
package ingest

import (
	"context"

	"github.com/MikeSquared-Agency/vigil/internal/knowledge"
)

// Document is one source text of the corpus.
type Document struct {
	ID       string
	Title    string
	Category string
	Text     string
}

// Passage is a chunk of a document before it is embedded.
type Passage struct {
	DocumentID string
	Title      string
	Category   string
	Index      int
	Text       string
}

// Writer persists embedded chunks.
type Writer interface {
	Write(ctx context.Context, chunks []knowledge.Chunk) error
}
