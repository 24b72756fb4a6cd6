// Package webcrawl 抓取网站、把页面文本切块嵌入向量存储，并提供语义查询与在线搜索工具。
package webcrawl

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/BaSui01/storyflow/agent/memory"
	"github.com/BaSui01/storyflow/llm/embedding"
	"github.com/BaSui01/storyflow/llm/tools"
	"github.com/BaSui01/storyflow/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	ChunkSize          = 3
	DefaultQueryLimit  = 3
	DefaultSearchDepth = 3
	maxSearchResults   = 5
	maxSearchContent   = 4000
	crawlTimeout       = 5 * time.Minute
)

var chunkNamespace = uuid.MustParse("8f6d1a52-3c1e-4b8e-9a55-6f0b7c2e91d4")

// Index 负责抓取、切块、嵌入与查询。
type Index struct {
	crawler  *Crawler
	embedder embedding.Provider
	store    memory.VectorStore
	logger   *zap.Logger
}

func NewIndex(crawler *Crawler, embedder embedding.Provider, store memory.VectorStore, logger *zap.Logger) *Index {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Index{
		crawler:  crawler,
		embedder: embedder,
		store:    store,
		logger:   logger.With(zap.String("component", "web_index")),
	}
}

type IndexInput struct {
	BaseURL   string `json:"baseUrl" jsonschema:"format=uri"`
	StepLimit int    `json:"stepLimit,omitempty" jsonschema:"minimum=1,maximum=5,default=1"`
}

type IndexOutput struct {
	Message string       `json:"message"`
	Pages   int          `json:"pages"`
	Chunks  int          `json:"chunks"`
	Failed  []FailedPage `json:"failed,omitempty"`
}

// IndexSite 抓取站点并把每页按 ChunkSize 行切块写入向量存储。
// 块 ID 由 URL 与序号确定，重复索引同一页面会覆盖旧块。
func (x *Index) IndexSite(ctx context.Context, in IndexInput) (*IndexOutput, error) {
	if in.StepLimit <= 0 {
		in.StepLimit = 1
	}
	if in.StepLimit > 5 {
		return nil, types.Errorf(types.ErrToolValidation, "stepLimit must be between 1 and 5, got %d", in.StepLimit)
	}

	result, err := x.crawler.Crawl(ctx, in.BaseURL, in.StepLimit)
	if err != nil {
		return nil, err
	}

	var texts []string
	var docs []memory.VectorDocument
	for _, page := range result.Pages {
		for i, chunk := range Chunk(page.Text, ChunkSize) {
			texts = append(texts, chunk)
			docs = append(docs, memory.VectorDocument{
				ID:   uuid.NewSHA1(chunkNamespace, []byte(fmt.Sprintf("%s#%d", page.URL, i))).String(),
				Text: chunk,
				Metadata: map[string]any{
					"url":        page.URL,
					"title":      page.Title,
					"chunkIndex": i,
				},
			})
		}
	}

	if len(texts) > 0 {
		vectors, err := x.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			return nil, types.Errorf(types.ErrToolFailed, "embed %d chunks: %s", len(texts), err.Error()).WithCause(err)
		}
		if len(vectors) != len(docs) {
			return nil, types.Errorf(types.ErrToolFailed, "embedder returned %d vectors for %d chunks", len(vectors), len(docs))
		}
		for i := range docs {
			docs[i].Vector = vectors[i]
		}
		if err := x.store.Upsert(ctx, docs...); err != nil {
			return nil, types.Errorf(types.ErrToolFailed, "store chunks: %s", err.Error()).WithCause(err)
		}
	}

	x.logger.Info("site indexed",
		zap.String("url", in.BaseURL),
		zap.Int("pages", len(result.Pages)),
		zap.Int("chunks", len(docs)))

	return &IndexOutput{
		Message: fmt.Sprintf("Indexed %s up to %d steps.", in.BaseURL, in.StepLimit),
		Pages:   len(result.Pages),
		Chunks:  len(docs),
		Failed:  result.Failed,
	}, nil
}

type QueryInput struct {
	Query string `json:"query" jsonschema:"minLength=1"`
	Limit int    `json:"limit,omitempty" jsonschema:"minimum=1,maximum=10,default=3"`
}

type QueryResult struct {
	Text       string  `json:"text"`
	URL        string  `json:"url"`
	ChunkIndex int     `json:"chunkIndex"`
	Score      float64 `json:"score"`
}

type QueryOutput struct {
	Results []QueryResult `json:"results"`
}

func (x *Index) Query(ctx context.Context, in QueryInput) (*QueryOutput, error) {
	if in.Limit <= 0 {
		in.Limit = DefaultQueryLimit
	}
	if in.Limit > 10 {
		return nil, types.Errorf(types.ErrToolValidation, "limit must be between 1 and 10, got %d", in.Limit)
	}

	vec, err := x.embedder.EmbedQuery(ctx, in.Query)
	if err != nil {
		return nil, types.Errorf(types.ErrToolFailed, "embed query: %s", err.Error()).WithCause(err)
	}
	matches, err := x.store.Query(ctx, vec, in.Limit, nil)
	if err != nil {
		return nil, types.Errorf(types.ErrToolFailed, "query vector store: %s", err.Error()).WithCause(err)
	}

	out := &QueryOutput{Results: make([]QueryResult, 0, len(matches))}
	for _, m := range matches {
		r := QueryResult{Text: m.Text, Score: m.Score}
		r.URL, _ = m.Metadata["url"].(string)
		switch idx := m.Metadata["chunkIndex"].(type) {
		case int:
			r.ChunkIndex = idx
		case float64:
			r.ChunkIndex = int(idx)
		}
		out.Results = append(out.Results, r)
	}
	return out, nil
}

// =============================================================================
// search-online
// =============================================================================

type SearchInput struct {
	URL   string `json:"url" jsonschema:"format=uri,description=The url to load"`
	Query string `json:"query" jsonschema:"minLength=1,description=The search query for the page"`
	Depth int    `json:"depth,omitempty" jsonschema:"minimum=0,maximum=5"`
}

type SearchResult struct {
	URL     string `json:"url"`
	Title   string `json:"title,omitempty"`
	Content string `json:"content"`
	Score   int    `json:"score"`
}

type SearchOutput struct {
	Results []SearchResult `json:"results"`
}

// Search 抓取站点，并按查询词出现次数对页面排序，返回得分最高的页面内容。
func (c *Crawler) Search(ctx context.Context, in SearchInput) (*SearchOutput, error) {
	depth := in.Depth
	if depth <= 0 {
		depth = DefaultSearchDepth
	}
	result, err := c.Crawl(ctx, in.URL, depth)
	if err != nil {
		return nil, err
	}

	terms := queryTerms(in.Query)
	out := &SearchOutput{Results: []SearchResult{}}
	for _, page := range result.Pages {
		score := keywordScore(page.Title+"\n"+page.Text, terms)
		if score == 0 {
			continue
		}
		out.Results = append(out.Results, SearchResult{
			URL:     page.URL,
			Title:   page.Title,
			Content: truncate(page.Text, maxSearchContent),
			Score:   score,
		})
	}
	sort.SliceStable(out.Results, func(i, j int) bool { return out.Results[i].Score > out.Results[j].Score })
	if len(out.Results) > maxSearchResults {
		out.Results = out.Results[:maxSearchResults]
	}
	return out, nil
}

func queryTerms(q string) []string {
	seen := map[string]bool{}
	var terms []string
	for _, w := range strings.FieldsFunc(strings.ToLower(q), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if utf8.RuneCountInString(w) < 2 || seen[w] {
			continue
		}
		seen[w] = true
		terms = append(terms, w)
	}
	return terms
}

func keywordScore(text string, terms []string) int {
	lower := strings.ToLower(text)
	score := 0
	for _, t := range terms {
		score += strings.Count(lower, t)
	}
	return score
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}

// =============================================================================
// Tools
// =============================================================================

// Tools returns web-crawl-index, web-crawl-query and search-online.
func (x *Index) Tools() []tools.Tool {
	return []tools.Tool{
		tools.New("web-crawl-index",
			"Indexes a website recursively, cleans HTML, chunks text, and stores embeddings for querying.",
			x.IndexSite, tools.WithTimeout(crawlTimeout)),
		tools.New("web-crawl-query",
			"Queries the indexed website content using semantic search.",
			x.Query),
		tools.New("search-online",
			"Using a url, look up and get additional information from the site's pages.",
			x.crawler.Search, tools.WithTimeout(crawlTimeout)),
	}
}
