package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/vigil/internal/knowledge"
	"github.com/MikeSquared-Agency/vigil/internal/retry"
)

// Config holds the ingest command configuration.
type Config struct {
	Dir       string
	MaxRunes  int
	StatePath string // empty disables resume
	DryRun    bool
	BatchSize int
	Retries   int
	Backoff   time.Duration
}

// Summary reports what a run did.
type Summary struct {
	Files             int
	Chunks            int
	DuplicatesSkipped int
	Errors            int
}

// Runner walks a corpus directory, embeds every passage and hands the
// chunks to a Writer in batches.
type Runner struct {
	cfg      Config
	embedder knowledge.Embedder
	writer   Writer
	logger   *slog.Logger
}

func NewRunner(cfg Config, embedder knowledge.Embedder, writer Writer, logger *slog.Logger) *Runner {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 500 * time.Millisecond
	}
	return &Runner{cfg: cfg, embedder: embedder, writer: writer, logger: logger}
}

// Run ingests every document under cfg.Dir that the state file has not
// already recorded. A failing document is logged and skipped; the run
// stops only on context cancellation or a writer error.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	var sum Summary

	state, err := LoadState(r.cfg.StatePath)
	if err != nil {
		return sum, fmt.Errorf("load state: %w", err)
	}

	files, err := discoverFiles(r.cfg.Dir)
	if err != nil {
		return sum, fmt.Errorf("discover files: %w", err)
	}
	r.logger.Info("files discovered", "dir", r.cfg.Dir, "files", len(files))

	dupes := seen{}
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			r.logger.Info("ingest interrupted, saving state")
			_ = state.Save()
			return sum, err
		}
		if state.IsProcessed(path) {
			continue
		}

		doc, err := readDocument(r.cfg.Dir, path)
		if err != nil {
			r.logger.Warn("failed to read document", "path", path, "error", err)
			state.AddError(fmt.Sprintf("read %s: %v", path, err))
			sum.Errors++
			continue
		}

		var passages []Passage
		for _, p := range ChunkDocument(doc, r.cfg.MaxRunes) {
			if dupes.check(p.Text) {
				sum.DuplicatesSkipped++
				state.DuplicatesSkipped++
				continue
			}
			passages = append(passages, p)
		}

		written, err := r.ingest(ctx, passages)
		if err != nil {
			if ctx.Err() != nil {
				_ = state.Save()
				return sum, ctx.Err()
			}
			var werr *writeError
			if errors.As(err, &werr) {
				_ = state.Save()
				return sum, err
			}
			r.logger.Error("embedding failed", "document_id", doc.ID, "error", err)
			state.AddError(fmt.Sprintf("embed %s: %v", doc.ID, err))
			sum.Errors++
			continue
		}

		r.logger.Info("document ingested",
			"document_id", doc.ID,
			"category", doc.Category,
			"chunks", written,
			"dry_run", r.cfg.DryRun,
		)
		sum.Files++
		sum.Chunks += written
		state.ChunksWritten += written
		state.MarkProcessed(path)
		_ = state.Save()
	}

	if err := state.Save(); err != nil {
		r.logger.Warn("failed to save state", "error", err)
	}
	r.logger.Info("ingest complete",
		"files", sum.Files,
		"chunks", sum.Chunks,
		"duplicates_skipped", sum.DuplicatesSkipped,
		"errors", sum.Errors,
	)
	return sum, nil
}

// ingest embeds a document's passages and writes them in batches. All
// passages are embedded before the first write so a half-embedded document
// never reaches the corpus.
func (r *Runner) ingest(ctx context.Context, passages []Passage) (int, error) {
	chunks := make([]knowledge.Chunk, 0, len(passages))
	for _, p := range passages {
		vec, err := r.embed(ctx, p.Text)
		if err != nil {
			return 0, fmt.Errorf("passage %d: %w", p.Index, err)
		}
		chunks = append(chunks, knowledge.Chunk{
			DocumentID: p.DocumentID,
			Title:      p.Title,
			Text:       p.Text,
			Embedding:  vec,
			Category:   p.Category,
		})
	}
	if r.cfg.DryRun {
		return len(chunks), nil
	}

	for start := 0; start < len(chunks); start += r.cfg.BatchSize {
		end := min(start+r.cfg.BatchSize, len(chunks))
		if err := r.writer.Write(ctx, chunks[start:end]); err != nil {
			return 0, &writeError{err: err}
		}
	}
	return len(chunks), nil
}

func (r *Runner) embed(ctx context.Context, text string) ([]float32, error) {
	var vec []float32
	err := retry.Do(ctx, retry.Policy{Retries: r.cfg.Retries, BaseDelay: r.cfg.Backoff}, func(ctx context.Context) error {
		v, err := r.embedder.Embed(ctx, text)
		var rt interface{ Retryable() bool }
		if errors.As(err, &rt) && !rt.Retryable() {
			return retry.Permanent(err)
		}
		if err != nil {
			return err
		}
		vec = v
		return nil
	})
	return vec, err
}

type writeError struct{ err error }

func (e *writeError) Error() string { return "write chunks: " + e.err.Error() }
func (e *writeError) Unwrap() error { return e.err }

// discoverFiles returns every .md and .txt file under dir in lexical order.
func discoverFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".md", ".txt":
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// readDocument loads one corpus file. The document id is the path relative
// to root without extension, the category is the parent directory, and the
// title is the first "# " heading or the file name.
func readDocument(root, path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, err
	}

	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = filepath.Base(path)
	}
	rel = filepath.ToSlash(rel)
	id := strings.TrimSuffix(rel, filepath.Ext(rel))

	doc := Document{ID: id, Title: filepath.Base(id)}
	if dir := filepath.Dir(rel); dir != "." {
		doc.Category = filepath.Base(dir)
	}

	lines := strings.Split(string(data), "\n")
	for i, l := range lines {
		t := strings.TrimSpace(l)
		if t == "" {
			continue
		}
		if strings.HasPrefix(t, "# ") {
			doc.Title = strings.TrimSpace(t[2:])
			lines = append(lines[:i:i], lines[i+1:]...)
		}
		break
	}
	doc.Text = strings.Join(lines, "\n")
	return doc, nil
}
