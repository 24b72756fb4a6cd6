package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BaSui01/storyflow/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChooseModel(t *testing.T) {
	assert.Equal(t, "req-model", chooseModel("req-model", "default", "fallback"))
	assert.Equal(t, "default", chooseModel("", "default", "fallback"))
	assert.Equal(t, "fallback", chooseModel("", "", "fallback"))
}

func TestNewBaseProvider(t *testing.T) {
	bp := NewBaseProvider(BaseConfig{Name: "test", BaseURL: "http://example.com/"})
	assert.Equal(t, "test", bp.Name())
	assert.Equal(t, 100, bp.MaxBatchSize())
	assert.Equal(t, "http://example.com", bp.baseURL)

	bp = NewBaseProvider(BaseConfig{Name: "custom", Dimensions: 512, MaxBatch: 50, Timeout: 10 * time.Second})
	assert.Equal(t, 512, bp.Dimensions())
	assert.Equal(t, 50, bp.MaxBatchSize())
}

func TestBaseProviderDoRequest_ErrorMapping(t *testing.T) {
	tests := []struct {
		status    int
		body      string
		wantCode  llm.ErrorCode
		retryable bool
	}{
		{http.StatusUnauthorized, `{"error":{"message":"bad key"}}`, llm.ErrUnauthorized, false},
		{http.StatusForbidden, "denied", llm.ErrForbidden, false},
		{http.StatusTooManyRequests, "slow down", llm.ErrRateLimited, true},
		{http.StatusBadRequest, "input too long", llm.ErrInvalidRequest, false},
		{http.StatusInternalServerError, "boom", llm.ErrUpstreamError, true},
		{http.StatusServiceUnavailable, "try later", llm.ErrUpstreamError, true},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			bp := NewBaseProvider(BaseConfig{Name: "test-provider", BaseURL: srv.URL})
			_, err := bp.DoRequest(context.Background(), http.MethodPost, "/v1/embeddings", nil, nil)
			var llmErr *llm.Error
			require.ErrorAs(t, err, &llmErr)
			assert.Equal(t, tt.wantCode, llmErr.Code)
			assert.Equal(t, tt.retryable, llmErr.Retryable)
			assert.Equal(t, "test-provider", llmErr.Provider)
			assert.Equal(t, tt.status, llmErr.HTTPStatus)
		})
	}
}

func TestBaseProviderDoRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/fail" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid key"}`))
			return
		}
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	bp := NewBaseProvider(BaseConfig{Name: "test", BaseURL: srv.URL})
	body, err := bp.DoRequest(context.Background(), http.MethodPost, "/embed", map[string]string{"q": "hello"},
		map[string]string{"Authorization": "Bearer test-key"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))

	_, err = bp.DoRequest(context.Background(), http.MethodPost, "/fail", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid key")
}

func TestBaseProviderEmbedDocuments_Batches(t *testing.T) {
	var batches [][]string
	embedFn := func(_ context.Context, req *EmbeddingRequest) (*EmbeddingResponse, error) {
		batches = append(batches, req.Input)
		assert.Equal(t, InputTypeDocument, req.InputType)
		// reversed order with explicit indices
		out := make([]EmbeddingData, len(req.Input))
		for i := range req.Input {
			j := len(req.Input) - 1 - i
			out[i] = EmbeddingData{Index: j, Embedding: []float64{float64(len(req.Input[j]))}}
		}
		return &EmbeddingResponse{Embeddings: out}, nil
	}

	bp := NewBaseProvider(BaseConfig{Name: "test", MaxBatch: 2})
	vecs, err := bp.EmbedDocuments(context.Background(), []string{"a", "bb", "ccc", "dddd", "eeeee"}, embedFn)
	require.NoError(t, err)
	assert.Len(t, batches, 3)
	assert.Equal(t, [][]float64{{1}, {2}, {3}, {4}, {5}}, vecs)

	short := func(context.Context, *EmbeddingRequest) (*EmbeddingResponse, error) {
		return &EmbeddingResponse{}, nil
	}
	_, err = bp.EmbedDocuments(context.Background(), []string{"a"}, short)
	assert.ErrorContains(t, err, "expected 1 embeddings")

	_, err = bp.EmbedQuery(context.Background(), "q", short)
	assert.ErrorContains(t, err, "no embeddings")
}

func TestOpenAIProviderEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req openAIEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "text-embedding-3-small", req.Model)
		assert.Zero(t, req.Dimensions)

		_, _ = w.Write([]byte(`{
			"object": "list",
			"model": "text-embedding-3-small",
			"data": [{"object": "embedding", "index": 0, "embedding": [0.1, 0.2, 0.3]}],
			"usage": {"prompt_tokens": 5, "total_tokens": 5}
		}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL, Model: "text-embedding-3-small"})
	resp, err := p.Embed(context.Background(), &EmbeddingRequest{Input: []string{"hello world"}})
	require.NoError(t, err)
	assert.Equal(t, "openai-embedding", resp.Provider)
	require.Len(t, resp.Embeddings, 1)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, resp.Embeddings[0].Embedding)
	assert.Equal(t, 5, resp.Usage.PromptTokens)

	vec, err := p.EmbedQuery(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, vec)
}

func TestOpenAIProviderDefaults(t *testing.T) {
	p := NewOpenAIProvider(OpenAIConfig{APIKey: "k"})
	assert.Equal(t, "openai-embedding", p.Name())
	assert.Equal(t, 3072, p.Dimensions())
	assert.Equal(t, 2048, p.MaxBatchSize())
}

func TestProviderServerDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	p := NewOpenAIProvider(OpenAIConfig{APIKey: "k", BaseURL: srv.URL})
	_, err := p.Embed(context.Background(), &EmbeddingRequest{Input: []string{"test"}})
	var llmErr *llm.Error
	require.ErrorAs(t, err, &llmErr)
	assert.True(t, llmErr.Retryable)
}
