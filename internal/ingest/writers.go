package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/MikeSquared-Agency/vigil/internal/knowledge"
)

// JSONLWriter appends chunks to a corpus file in the format
// knowledge.LoadMemoryIndex reads.
type JSONLWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewJSONLWriter(w io.Writer) *JSONLWriter {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &JSONLWriter{enc: enc}
}

func (j *JSONLWriter) Write(_ context.Context, chunks []knowledge.Chunk) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, c := range chunks {
		if err := j.enc.Encode(c); err != nil {
			return fmt.Errorf("encode chunk: %w", err)
		}
	}
	return nil
}

// ChunkStore is satisfied by *store.Store.
type ChunkStore interface {
	WriteTheoryChunks(ctx context.Context, chunks []knowledge.Chunk) error
}

// StoreWriter writes chunks to the theory_chunks table.
type StoreWriter struct {
	Store ChunkStore
}

func (s StoreWriter) Write(ctx context.Context, chunks []knowledge.Chunk) error {
	return s.Store.WriteTheoryChunks(ctx, chunks)
}
