package knowledge

import (
	"context"
	"fmt"
	"sort"

	"github.com/qdrant/go-client/qdrant"
)

// QdrantConfig locates a Qdrant collection over gRPC.
type QdrantConfig struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
}

// QdrantIndex searches a Qdrant collection whose points carry document_id,
// title, chunk_text and category payload fields.
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
}

func NewQdrantIndex(cfg QdrantConfig) (*QdrantIndex, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("qdrant host is required")
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("qdrant collection is required")
	}
	port := cfg.Port
	if port == 0 {
		port = 6334
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}
	return &QdrantIndex{client: client, collection: cfg.Collection}, nil
}

// Search returns passages by descending score. Qdrant does not order equal
// scores itself, so ties are re-sorted by numeric point id and a collection
// loaded with sequential ids keeps corpus order. A tie that straddles the
// limit may still be cut by Qdrant before it reaches us.
func (q *QdrantIndex) Search(ctx context.Context, vec []float32, query Query) ([]Passage, error) {
	k := query.TopK
	if k <= 0 {
		k = DefaultTopK
	}
	limit := uint64(k)
	threshold := float32(query.MinScore)

	points, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(vec...),
		Limit:          &limit,
		Filter:         categoryFilter(query.Category),
		ScoreThreshold: &threshold,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant query: %w", err)
	}

	orderPoints(points)
	out := make([]Passage, 0, len(points))
	for _, p := range points {
		out = append(out, passageFromPoint(p))
	}
	return out, nil
}

func (q *QdrantIndex) Close() error {
	return q.client.Close()
}

// orderPoints sorts by score descending, then by numeric id ascending. Among
// equal scores, UUID ids follow numeric ones in the order Qdrant returned them.
func orderPoints(points []*qdrant.ScoredPoint) {
	sort.SliceStable(points, func(i, j int) bool {
		a, b := points[i], points[j]
		if a.GetScore() != b.GetScore() {
			return a.GetScore() > b.GetScore()
		}
		an, aok := a.GetId().GetPointIdOptions().(*qdrant.PointId_Num)
		bn, bok := b.GetId().GetPointIdOptions().(*qdrant.PointId_Num)
		if aok && bok {
			return an.Num < bn.Num
		}
		return aok && !bok
	})
}

func categoryFilter(category string) *qdrant.Filter {
	if category == "" {
		return nil
	}
	return &qdrant.Filter{
		Must: []*qdrant.Condition{{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key:   "category",
					Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: category}},
				},
			},
		}},
	}
}

func passageFromPoint(p *qdrant.ScoredPoint) Passage {
	ps := Passage{Score: float64(p.GetScore())}
	for k, v := range p.GetPayload() {
		switch k {
		case "document_id":
			ps.DocumentID = v.GetStringValue()
		case "title":
			ps.Title = v.GetStringValue()
		case "chunk_text":
			ps.Text = v.GetStringValue()
		case "category":
			ps.Category = v.GetStringValue()
		}
	}
	if ps.DocumentID == "" && p.GetId() != nil {
		if id := p.GetId().GetUuid(); id != "" {
			ps.DocumentID = id
		} else {
			ps.DocumentID = fmt.Sprintf("%d", p.GetId().GetNum())
		}
	}
	return ps
}
