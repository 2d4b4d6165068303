package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/MikeSquared-Agency/vigil/internal/knowledge"
)

const insertTheoryChunkSQL = `
	INSERT INTO theory_chunks (document_id, title, chunk_text, category, embedding)
	VALUES ($1, $2, $3, NULLIF($4, ''), $5::vector)`

// WriteTheoryChunks inserts embedded corpus chunks in one batch.
func (s *Store) WriteTheoryChunks(ctx context.Context, chunks []knowledge.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, c := range chunks {
		batch.Queue(insertTheoryChunkSQL, c.DocumentID, c.Title, c.Text, c.Category, knowledge.PGVector(c.Embedding))
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := range chunks {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("insert theory chunk %s: %w", chunks[i].DocumentID, err)
		}
	}
	return nil
}

// DeleteTheoryDocument removes every chunk of a document so it can be
// re-ingested.
func (s *Store) DeleteTheoryDocument(ctx context.Context, documentID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM theory_chunks WHERE document_id = $1`, documentID)
	if err != nil {
		return 0, fmt.Errorf("delete theory document: %w", err)
	}
	return tag.RowsAffected(), nil
}

