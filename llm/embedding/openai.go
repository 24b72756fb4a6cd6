package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const (
	defaultOpenAIModel      = "text-embedding-3-large"
	defaultOpenAIDimensions = 3072
	openAIMaxBatch          = 2048
)

// OpenAIConfig OpenAI 兼容 /v1/embeddings 接口配置
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
	// 0 表示使用模型默认维度
	Dimensions int           `yaml:"dimensions"`
	Timeout    time.Duration `yaml:"timeout"`
}

// DefaultOpenAIConfig 返回默认配置
func DefaultOpenAIConfig() OpenAIConfig {
	return OpenAIConfig{
		BaseURL:    "https://api.openai.com",
		Model:      defaultOpenAIModel,
		Dimensions: defaultOpenAIDimensions,
		Timeout:    30 * time.Second,
	}
}

// OpenAIProvider 通过 OpenAI 兼容接口生成向量
type OpenAIProvider struct {
	*BaseProvider
	cfg OpenAIConfig
}

// NewOpenAIProvider 创建 Provider；未指定模型时使用 text-embedding-3-large。
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	if cfg.Model == "" {
		cfg.Model = defaultOpenAIModel
		if cfg.Dimensions == 0 {
			cfg.Dimensions = defaultOpenAIDimensions
		}
	}

	return &OpenAIProvider{
		BaseProvider: NewBaseProvider(BaseConfig{
			Name:       "openai-embedding",
			BaseURL:    cfg.BaseURL,
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			MaxBatch:   openAIMaxBatch,
			Timeout:    cfg.Timeout,
		}),
		cfg: cfg,
	}
}

type openAIEmbedRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type openAIEmbedResponse struct {
	Model string `json:"model"`
	Data  []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Usage EmbeddingUsage `json:"usage"`
}

// Embed 实现 Provider.Embed
func (p *OpenAIProvider) Embed(ctx context.Context, req *EmbeddingRequest) (*EmbeddingResponse, error) {
	model := chooseModel(req.Model, p.cfg.Model, defaultOpenAIModel)
	dims := req.Dimensions
	if dims == 0 {
		dims = p.cfg.Dimensions
	}

	respBody, err := p.DoRequest(ctx, http.MethodPost, "/v1/embeddings",
		openAIEmbedRequest{Input: req.Input, Model: model, Dimensions: dims},
		map[string]string{"Authorization": "Bearer " + p.cfg.APIKey},
	)
	if err != nil {
		return nil, err
	}

	var oaResp openAIEmbedResponse
	if err := json.Unmarshal(respBody, &oaResp); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}

	out := &EmbeddingResponse{
		Provider:   p.Name(),
		Model:      oaResp.Model,
		Embeddings: make([]EmbeddingData, 0, len(oaResp.Data)),
		Usage:      oaResp.Usage,
		CreatedAt:  time.Now(),
	}
	for _, d := range oaResp.Data {
		out.Embeddings = append(out.Embeddings, EmbeddingData{Index: d.Index, Embedding: d.Embedding})
	}
	return out, nil
}

// EmbedQuery 实现 Provider.EmbedQuery
func (p *OpenAIProvider) EmbedQuery(ctx context.Context, query string) ([]float64, error) {
	return p.BaseProvider.EmbedQuery(ctx, query, p.Embed)
}

// EmbedDocuments 实现 Provider.EmbedDocuments
func (p *OpenAIProvider) EmbedDocuments(ctx context.Context, documents []string) ([][]float64, error) {
	return p.BaseProvider.EmbedDocuments(ctx, documents, p.Embed)
}

func chooseModel(candidates ...string) string {
	for _, m := range candidates {
		if m != "" {
			return m
		}
	}
	return ""
}
