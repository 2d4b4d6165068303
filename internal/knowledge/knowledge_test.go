package knowledge

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func corpus() []Chunk {
	return []Chunk{
		{DocumentID: "cbt-1", Title: "認知行為治療", Text: "辨識自動化思考", Embedding: []float32{1, 0, 0}, Category: "cbt"},
		{DocumentID: "crisis-1", Title: "危機介入", Text: "評估立即危險", Embedding: []float32{0.9, 0.1, 0}, Category: "crisis"},
		{DocumentID: "crisis-2", Title: "安全計畫", Text: "建立安全計畫", Embedding: []float32{0.9, 0.1, 0}, Category: "crisis"},
		{DocumentID: "sfbt-1", Title: "焦點解決", Text: "例外問句", Embedding: []float32{0, 1, 0}, Category: "sfbt"},
	}
}

func TestMemoryIndex_RanksByCosine(t *testing.T) {
	idx := NewMemoryIndex(corpus())

	got, err := idx.Search(context.Background(), []float32{1, 0, 0}, Query{TopK: 3})
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, "cbt-1", got[0].DocumentID)
	assert.InDelta(t, 1.0, got[0].Score, 1e-6)
	// Equal scores keep corpus order.
	assert.Equal(t, "crisis-1", got[1].DocumentID)
	assert.Equal(t, "crisis-2", got[2].DocumentID)
	assert.GreaterOrEqual(t, got[1].Score, got[2].Score)
}

func TestMemoryIndex_Filters(t *testing.T) {
	idx := NewMemoryIndex(corpus())

	got, err := idx.Search(context.Background(), []float32{1, 0, 0}, Query{TopK: 5, Category: "crisis"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, p := range got {
		assert.Equal(t, "crisis", p.Category)
	}

	got, err = idx.Search(context.Background(), []float32{1, 0, 0}, Query{TopK: 5, MinScore: 0.999})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "cbt-1", got[0].DocumentID)

	got, err = idx.Search(context.Background(), []float32{1, 0, 0}, Query{})
	require.NoError(t, err)
	assert.Len(t, got, DefaultTopK)
}

func TestMemoryIndex_EmptyCorpus(t *testing.T) {
	idx := NewMemoryIndex(nil)

	got, err := idx.Search(context.Background(), []float32{1, 0}, Query{TopK: 3})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemoryIndex_DimensionMismatchSkipped(t *testing.T) {
	idx := NewMemoryIndex(corpus())

	got, err := idx.Search(context.Background(), []float32{1, 0}, Query{TopK: 3})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLoadJSONL(t *testing.T) {
	in := `{"document_id":"a","title":"A","chunk_text":"一","embedding":[1,0],"category":"cbt"}

{"document_id":"b","title":"B","chunk_text":"二","embedding":[0,1]}
`
	chunks, err := LoadJSONL(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "cbt", chunks[0].Category)
	assert.Equal(t, []float32{0, 1}, chunks[1].Embedding)

	_, err = LoadJSONL(strings.NewReader(`{"document_id":"a"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 1: missing embedding")

	_, err = LoadJSONL(strings.NewReader("{\"document_id\":\"a\",\"embedding\":[1]}\nnot json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestPGVector(t *testing.T) {
	assert.Equal(t, "[0.5,-1,0.25]", PGVector([]float32{0.5, -1, 0.25}))
	assert.Equal(t, "[]", PGVector(nil))
}

func TestQdrantHelpers(t *testing.T) {
	assert.Nil(t, categoryFilter(""))

	f := categoryFilter("crisis")
	require.NotNil(t, f)
	require.Len(t, f.Must, 1)
	field := f.Must[0].GetField()
	require.NotNil(t, field)
	assert.Equal(t, "category", field.Key)
	assert.Equal(t, "crisis", field.GetMatch().GetKeyword())

	p := passageFromPoint(&qdrant.ScoredPoint{
		Score: 0.75,
		Payload: map[string]*qdrant.Value{
			"document_id": qdrant.NewValueString("doc-9"),
			"title":       qdrant.NewValueString("動機式晤談"),
			"chunk_text":  qdrant.NewValueString("反映式傾聽"),
			"category":    qdrant.NewValueString("mi"),
		},
	})
	assert.Equal(t, "doc-9", p.DocumentID)
	assert.Equal(t, "動機式晤談", p.Title)
	assert.Equal(t, "反映式傾聽", p.Text)
	assert.Equal(t, "mi", p.Category)
	assert.InDelta(t, 0.75, p.Score, 1e-6)
}

func TestOrderPoints_TiesFollowPointID(t *testing.T) {
	point := func(id *qdrant.PointId, name string, score float32) *qdrant.ScoredPoint {
		return &qdrant.ScoredPoint{
			Id:      id,
			Score:   score,
			Payload: map[string]*qdrant.Value{"document_id": qdrant.NewValueString(name)},
		}
	}
	points := []*qdrant.ScoredPoint{
		point(qdrant.NewIDUUID("6a1f0c1e-1111-4c2e-9a55-000000000002"), "u2", 0.8),
		point(qdrant.NewIDNum(7), "7", 0.8),
		point(qdrant.NewIDNum(9), "9", 0.9),
		point(qdrant.NewIDUUID("6a1f0c1e-1111-4c2e-9a55-000000000001"), "u1", 0.8),
		point(qdrant.NewIDNum(3), "3", 0.8),
	}

	orderPoints(points)

	var got []string
	for _, p := range points {
		got = append(got, passageFromPoint(p).DocumentID)
	}
	assert.Equal(t, []string{"9", "3", "7", "u2", "u1"}, got)
}

type fakeEmbedder struct {
	calls atomic.Int32
	errs  []error
	delay time.Duration
}

func (f *fakeEmbedder) Embed(ctx context.Context, _ string) ([]float32, error) {
	n := int(f.calls.Add(1)) - 1
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	if n < len(f.errs) && f.errs[n] != nil {
		return nil, f.errs[n]
	}
	return []float32{1, 0, 0}, nil
}

type permanentErr struct{}

func (permanentErr) Error() string   { return "bad request" }
func (permanentErr) Retryable() bool { return false }

func TestVectorRetriever_Success(t *testing.T) {
	emb := &fakeEmbedder{}
	r := NewVectorRetriever(emb, NewMemoryIndex(corpus()), time.Second, 1, testLogger())

	got, err := r.Retrieve(context.Background(), Query{Text: "我想打死他", TopK: 2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "cbt-1", got[0].DocumentID)
	assert.Equal(t, int32(1), emb.calls.Load())
}

func TestVectorRetriever_RetriesTransientOnce(t *testing.T) {
	emb := &fakeEmbedder{errs: []error{errors.New("connection reset")}}
	r := NewVectorRetriever(emb, NewMemoryIndex(corpus()), time.Second, 1, testLogger())

	got, err := r.Retrieve(context.Background(), Query{Text: "焦慮"})
	require.NoError(t, err)
	assert.NotEmpty(t, got)
	assert.Equal(t, int32(2), emb.calls.Load())
}

func TestVectorRetriever_GivesUpAfterRetry(t *testing.T) {
	emb := &fakeEmbedder{errs: []error{errors.New("down"), errors.New("down")}}
	r := NewVectorRetriever(emb, NewMemoryIndex(corpus()), time.Second, 1, testLogger())

	_, err := r.Retrieve(context.Background(), Query{Text: "焦慮"})
	require.Error(t, err)
	assert.Equal(t, int32(2), emb.calls.Load())
}

func TestVectorRetriever_PermanentNotRetried(t *testing.T) {
	emb := &fakeEmbedder{errs: []error{permanentErr{}}}
	r := NewVectorRetriever(emb, NewMemoryIndex(corpus()), time.Second, 3, testLogger())

	_, err := r.Retrieve(context.Background(), Query{Text: "焦慮"})
	require.Error(t, err)
	assert.Equal(t, int32(1), emb.calls.Load())
}

func TestVectorRetriever_Timeout(t *testing.T) {
	emb := &fakeEmbedder{delay: time.Second}
	r := NewVectorRetriever(emb, NewMemoryIndex(corpus()), 20*time.Millisecond, 0, testLogger())

	start := time.Now()
	_, err := r.Retrieve(context.Background(), Query{Text: "焦慮"})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestVectorRetriever_EmptyText(t *testing.T) {
	emb := &fakeEmbedder{}
	r := NewVectorRetriever(emb, NewMemoryIndex(corpus()), time.Second, 1, testLogger())

	got, err := r.Retrieve(context.Background(), Query{Text: "  "})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, int32(0), emb.calls.Load())
}
