package memory

import (
	"context"
	"fmt"
	"math"
	"reflect"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// VectorDocument is one embedded chunk.
type VectorDocument struct {
	ID       string         `json:"id"`
	Vector   []float64      `json:"-"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// VectorMatch is a query hit, ordered by descending Score.
type VectorMatch struct {
	ID       string         `json:"id"`
	Score    float64        `json:"score"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// VectorStore 提供相似度检索。
type VectorStore interface {
	Upsert(ctx context.Context, docs ...VectorDocument) error
	// Query 返回与 vector 最相似的 k 个文档；filter 按元数据等值过滤。
	Query(ctx context.Context, vector []float64, k int, filter map[string]any) ([]VectorMatch, error)
}

// InMemoryVectorStore 使用余弦相似度的内存向量存储。
type InMemoryVectorStore struct {
	mu        sync.RWMutex
	items     map[string]VectorDocument
	dimension int
	logger    *zap.Logger
}

// NewInMemoryVectorStore creates a store; dimension > 0 enforces vector length.
func NewInMemoryVectorStore(dimension int, logger *zap.Logger) *InMemoryVectorStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryVectorStore{
		items:     make(map[string]VectorDocument),
		dimension: dimension,
		logger:    logger.With(zap.String("component", "vector_store_inmemory")),
	}
}

func (s *InMemoryVectorStore) Upsert(ctx context.Context, docs ...VectorDocument) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, d := range docs {
		if d.ID == "" {
			return fmt.Errorf("id is required")
		}
		if len(d.Vector) == 0 {
			return fmt.Errorf("document %s: vector is required", d.ID)
		}
		if s.dimension > 0 && len(d.Vector) != s.dimension {
			return fmt.Errorf("document %s: vector dimension mismatch: got %d want %d", d.ID, len(d.Vector), s.dimension)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range docs {
		d.Vector = append([]float64(nil), d.Vector...)
		d.Metadata = cloneMap(d.Metadata)
		s.items[d.ID] = d
	}
	s.logger.Debug("vectors upserted", zap.Int("count", len(docs)), zap.Int("total", len(s.items)))
	return nil
}

func (s *InMemoryVectorStore) Query(ctx context.Context, vector []float64, k int, filter map[string]any) ([]VectorMatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("query vector is required")
	}
	if s.dimension > 0 && len(vector) != s.dimension {
		return nil, fmt.Errorf("query vector dimension mismatch: got %d want %d", len(vector), s.dimension)
	}
	if k <= 0 {
		return []VectorMatch{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := make([]VectorMatch, 0, len(s.items))
	for id, d := range s.items {
		if !matchesFilter(d.Metadata, filter) {
			continue
		}
		matches = append(matches, VectorMatch{
			ID:       id,
			Score:    cosineSimilarity(vector, d.Vector),
			Text:     d.Text,
			Metadata: cloneMap(d.Metadata),
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score == matches[j].Score {
			return matches[i].ID < matches[j].ID
		}
		return matches[i].Score > matches[j].Score
	})
	if k > len(matches) {
		k = len(matches)
	}
	return matches[:k], nil
}

func (s *InMemoryVectorStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func matchesFilter(metadata, filter map[string]any) bool {
	for k, v := range filter {
		mv, ok := metadata[k]
		if !ok || !reflect.DeepEqual(mv, v) {
			return false
		}
	}
	return true
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
