package ingest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/MikeSquared-Agency/vigil/internal/knowledge"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

type statusErr struct{ retryable bool }

func (e statusErr) Error() string   { return "embedding status" }
func (e statusErr) Retryable() bool { return e.retryable }

type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	fail  string // texts containing this are rejected permanently
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail != "" && strings.Contains(text, f.fail) {
		return nil, statusErr{retryable: false}
	}
	return []float32{float32(len(text)), 1}, nil
}

type captureWriter struct {
	chunks []knowledge.Chunk
	err    error
}

func (c *captureWriter) Write(_ context.Context, chunks []knowledge.Chunk) error {
	if c.err != nil {
		return c.err
	}
	c.chunks = append(c.chunks, chunks...)
	return nil
}

func writeCorpus(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"crisis/safety.md": "# 安全計畫\n\n與案主共同擬定具體的安全計畫。\n\n確認緊急聯絡人。",
		"sfbt/miracle.txt": "奇蹟問句：如果明天醒來問題消失了，你會注意到什麼不同？",
		"sfbt/copy.md":     "確認緊急聯絡人。",
		"notes.json":       `{"ignored": true}`,
		".drafts/wip.md":   "草稿",
	}
	for name, body := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestRunner_IngestsCorpus(t *testing.T) {
	dir := writeCorpus(t)
	w := &captureWriter{}
	r := NewRunner(Config{Dir: dir}, &fakeEmbedder{}, w, discardLogger())

	sum, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// sfbt/copy repeats one paragraph of crisis/safety, but passages are
	// compared whole, so it is kept.
	if sum.Files != 3 {
		t.Errorf("files = %d, want 3", sum.Files)
	}
	if len(w.chunks) != sum.Chunks {
		t.Errorf("wrote %d chunks, summary says %d", len(w.chunks), sum.Chunks)
	}

	byDoc := map[string]knowledge.Chunk{}
	for _, c := range w.chunks {
		byDoc[c.DocumentID] = c
		if len(c.Embedding) != 2 {
			t.Errorf("chunk %s missing embedding", c.DocumentID)
		}
	}
	safety, ok := byDoc["crisis/safety"]
	if !ok {
		t.Fatalf("crisis/safety not ingested: %+v", w.chunks)
	}
	if safety.Title != "安全計畫" || safety.Category != "crisis" {
		t.Errorf("safety metadata = %+v", safety)
	}
	if strings.Contains(safety.Text, "#") {
		t.Errorf("heading left in text: %q", safety.Text)
	}
	if miracle := byDoc["sfbt/miracle"]; miracle.Title != "miracle" || miracle.Category != "sfbt" {
		t.Errorf("miracle metadata = %+v", miracle)
	}
	if _, ok := byDoc[".drafts/wip"]; ok {
		t.Error("hidden directory was ingested")
	}
}

func TestRunner_SkipsDuplicatePassages(t *testing.T) {
	dir := t.TempDir()
	body := "危機時先確認案主當下是否安全，並詢問是否有具體計畫。"
	for _, name := range []string{"a.md", "b.md"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	emb := &fakeEmbedder{}
	w := &captureWriter{}
	sum, err := NewRunner(Config{Dir: dir}, emb, w, discardLogger()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if sum.Chunks != 1 || sum.DuplicatesSkipped != 1 {
		t.Errorf("summary = %+v", sum)
	}
	if emb.calls != 1 {
		t.Errorf("embedded %d times, want 1", emb.calls)
	}
}

func TestRunner_ResumesFromState(t *testing.T) {
	dir := writeCorpus(t)
	statePath := filepath.Join(t.TempDir(), "state.json")

	first := &captureWriter{}
	if _, err := NewRunner(Config{Dir: dir, StatePath: statePath}, &fakeEmbedder{}, first, discardLogger()).Run(context.Background()); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if len(first.chunks) == 0 {
		t.Fatal("first run wrote nothing")
	}

	second := &captureWriter{}
	sum, err := NewRunner(Config{Dir: dir, StatePath: statePath}, &fakeEmbedder{}, second, discardLogger()).Run(context.Background())
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if sum.Files != 0 || len(second.chunks) != 0 {
		t.Errorf("second run reprocessed files: %+v", sum)
	}
}

func TestRunner_EmbeddingFailureSkipsDocument(t *testing.T) {
	dir := writeCorpus(t)
	emb := &fakeEmbedder{fail: "奇蹟"}
	w := &captureWriter{}

	sum, err := NewRunner(Config{Dir: dir, Retries: 3}, emb, w, discardLogger()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if sum.Errors != 1 || sum.Files != 2 {
		t.Errorf("summary = %+v", sum)
	}
	for _, c := range w.chunks {
		if c.DocumentID == "sfbt/miracle" {
			t.Error("failed document reached the writer")
		}
	}
}

func TestRunner_WriterFailureStopsRun(t *testing.T) {
	dir := writeCorpus(t)
	w := &captureWriter{err: errors.New("disk full")}

	_, err := NewRunner(Config{Dir: dir}, &fakeEmbedder{}, w, discardLogger()).Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected writer error, got %v", err)
	}
}

func TestRunner_DryRunWritesNothing(t *testing.T) {
	dir := writeCorpus(t)
	w := &captureWriter{}

	sum, err := NewRunner(Config{Dir: dir, DryRun: true}, &fakeEmbedder{}, w, discardLogger()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if sum.Chunks == 0 || len(w.chunks) != 0 {
		t.Errorf("dry run: summary %+v, wrote %d", sum, len(w.chunks))
	}
}

func TestRunner_CancelledContext(t *testing.T) {
	dir := writeCorpus(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewRunner(Config{Dir: dir}, &fakeEmbedder{}, &captureWriter{}, discardLogger()).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestJSONLWriter_RoundTripsThroughMemoryIndex(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf)
	err := w.Write(context.Background(), []knowledge.Chunk{
		{DocumentID: "crisis/safety", Title: "安全計畫", Text: "確認緊急聯絡人。", Category: "crisis", Embedding: []float32{1, 0}},
	})
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	chunks, err := knowledge.LoadJSONL(&buf)
	if err != nil {
		t.Fatalf("LoadJSONL failed: %v", err)
	}
	if len(chunks) != 1 || chunks[0].Title != "安全計畫" || chunks[0].Category != "crisis" {
		t.Errorf("chunks = %+v", chunks)
	}
}
