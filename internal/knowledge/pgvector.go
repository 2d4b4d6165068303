package knowledge

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
)

// Querier is satisfied by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PGIndex searches the theory_chunks table with pgvector cosine distance.
type PGIndex struct {
	db Querier
}

func NewPGIndex(db Querier) *PGIndex {
	return &PGIndex{db: db}
}

const searchChunksSQL = `
	SELECT document_id, title, chunk_text, COALESCE(category, ''),
		1 - (embedding <=> $1::vector) AS score
	FROM theory_chunks
	WHERE $2::text = '' OR category = $2::text
	ORDER BY embedding <=> $1::vector, id
	LIMIT $3`

func (p *PGIndex) Search(ctx context.Context, vec []float32, q Query) ([]Passage, error) {
	k := q.TopK
	if k <= 0 {
		k = DefaultTopK
	}

	rows, err := p.db.Query(ctx, searchChunksSQL, PGVector(vec), q.Category, k)
	if err != nil {
		return nil, fmt.Errorf("query theory chunks: %w", err)
	}
	defer rows.Close()

	var out []Passage
	for rows.Next() {
		var ps Passage
		if err := rows.Scan(&ps.DocumentID, &ps.Title, &ps.Text, &ps.Category, &ps.Score); err != nil {
			return nil, fmt.Errorf("scan theory chunk: %w", err)
		}
		if ps.Score < q.MinScore {
			continue
		}
		out = append(out, ps)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate theory chunks: %w", err)
	}
	return out, nil
}

// PGVector formats v as a pgvector literal, e.g. "[0.1,0.2,0.3]".
func PGVector(v []float32) string {
	parts := make([]string, len(v))
	for i, f := range v {
		parts[i] = strconv.FormatFloat(float64(f), 'g', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
