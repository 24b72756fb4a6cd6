/*
Package embedding 提供文本向量化接口与 OpenAI 兼容实现，
web-crawl 工具用它为抓取的页面建立向量索引并做相似度检索。

# 核心类型

  - Provider：Embed、EmbedQuery、EmbedDocuments
  - BaseProvider：HTTP 调用、错误映射与按 MaxBatchSize 分批
  - OpenAIProvider：/v1/embeddings 实现

# 使用方式

	cfg := embedding.DefaultOpenAIConfig()
	cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	provider := embedding.NewOpenAIProvider(cfg)

	vecs, err := provider.EmbedDocuments(ctx, pages)
	vec, err := provider.EmbedQuery(ctx, "onboarding checklist")
*/
package embedding
