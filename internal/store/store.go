package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MikeSquared-Agency/vigil/internal/knowledge"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// TheoryIndex searches the theory_chunks table of this database.
func (s *Store) TheoryIndex() *knowledge.PGIndex {
	return knowledge.NewPGIndex(s.pool)
}

const schema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS advisories (
	id              uuid PRIMARY KEY,
	session_id      text NOT NULL,
	level           text NOT NULL,
	matched_keyword text NOT NULL DEFAULT '',
	next_interval_s integer NOT NULL,
	fallback        boolean NOT NULL DEFAULT false,
	fallback_reason text NOT NULL DEFAULT '',
	cost_usd        double precision NOT NULL DEFAULT 0,
	payload         jsonb NOT NULL,
	created_at      timestamptz NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS advisories_session_created_idx ON advisories (session_id, created_at DESC);

CREATE TABLE IF NOT EXISTS theory_chunks (
	id          bigserial PRIMARY KEY,
	document_id text NOT NULL,
	title       text NOT NULL,
	chunk_text  text NOT NULL,
	category    text,
	embedding   vector NOT NULL
);
`

// Migrate creates the tables vigil owns when they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
