package mocks

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"unicode"

	"github.com/BaSui01/storyflow/llm/embedding"
)

// MockEmbedder 是确定性的词袋嵌入：每个小写单词哈希到一个维度。
// 共享单词越多的文本余弦相似度越高，足以在测试中验证检索排序。
type MockEmbedder struct {
	dims int
	err  error

	mu    sync.Mutex
	calls int
}

// NewMockEmbedder 创建指定维度的 MockEmbedder，dims<=0 时为 64
func NewMockEmbedder(dims int) *MockEmbedder {
	if dims <= 0 {
		dims = 64
	}
	return &MockEmbedder{dims: dims}
}

// WithError 让后续调用全部失败
func (m *MockEmbedder) WithError(err error) *MockEmbedder {
	m.err = err
	return m
}

// GetCallCount 返回 Embed 被调用的次数
func (m *MockEmbedder) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockEmbedder) Embed(_ context.Context, req *embedding.EmbeddingRequest) (*embedding.EmbeddingResponse, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	resp := &embedding.EmbeddingResponse{Provider: "mock", Model: "mock-bow"}
	for i, text := range req.Input {
		resp.Embeddings = append(resp.Embeddings, embedding.EmbeddingData{Index: i, Embedding: m.vector(text)})
	}
	return resp, nil
}

func (m *MockEmbedder) EmbedQuery(ctx context.Context, query string) ([]float64, error) {
	resp, err := m.Embed(ctx, &embedding.EmbeddingRequest{Input: []string{query}})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings[0].Embedding, nil
}

func (m *MockEmbedder) EmbedDocuments(ctx context.Context, documents []string) ([][]float64, error) {
	resp, err := m.Embed(ctx, &embedding.EmbeddingRequest{Input: documents})
	if err != nil {
		return nil, err
	}
	out := make([][]float64, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		out[i] = e.Embedding
	}
	return out, nil
}

func (m *MockEmbedder) Name() string      { return "mock" }
func (m *MockEmbedder) Dimensions() int   { return m.dims }
func (m *MockEmbedder) MaxBatchSize() int { return 16 }

func (m *MockEmbedder) vector(text string) []float64 {
	v := make([]float64, m.dims)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		v[int(h.Sum32())%m.dims]++
	}
	var norm float64
	for _, x := range v {
		norm += x * x
	}
	if norm == 0 {
		v[0] = 1
		return v
	}
	norm = math.Sqrt(norm)
	for i := range v {
		v[i] /= norm
	}
	return v
}
