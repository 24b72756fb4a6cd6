// =============================================================================
// 📦 StoryFlow 默认配置
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		LLM:       DefaultLLMConfig(),
		Embedding: DefaultEmbeddingConfig(),
		Redis:     DefaultRedisConfig(),
		Database:  DefaultDatabaseConfig(),
		Mongo:     DefaultMongoConfig(),
		Workflow:  DefaultWorkflowConfig(),
		Memory:    DefaultMemoryConfig(),
		Tools:     DefaultToolsConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    10 * time.Minute,
		ShutdownTimeout: 15 * time.Second,
	}
}

// DefaultLLMConfig 返回默认 LLM 配置
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Provider: "openai",
		BaseURL:  "https://api.openai.com",
		Model:    "gpt-4.1",
		Timeout:  2 * time.Minute,

		MaxRetries:       2,
		BreakerThreshold: 5,
		BreakerReset:     time.Minute,
	}
}

// DefaultEmbeddingConfig 返回默认向量化配置
func DefaultEmbeddingConfig() EmbeddingConfig {
	return EmbeddingConfig{
		BaseURL:    "https://api.openai.com",
		Model:      "text-embedding-3-small",
		Dimensions: 1536,
		Timeout:    30 * time.Second,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "",
		PoolSize:     10,
		MinIdleConns: 2,
		KeyPrefix:    "storyflow:",
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "sqlite",
		Host:            "localhost",
		Name:            "storyflow.db",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		AutoMigrate:     true,
	}
}

// DefaultMongoConfig 返回默认 MongoDB 配置
func DefaultMongoConfig() MongoConfig {
	return MongoConfig{
		Database:   "storyflow",
		Collection: "working_memory",
		Timeout:    10 * time.Second,
	}
}

// DefaultWorkflowConfig 返回默认工作流配置
func DefaultWorkflowConfig() WorkflowConfig {
	return WorkflowConfig{
		ForeachConcurrency:  8,
		ParallelConcurrency: 0,
		SuspendTTL:          24 * time.Hour,
		SuspendStore:        "memory",
		HistoryStore:        "memory",
		EventBuffer:         64,
	}
}

// DefaultMemoryConfig 返回默认工作记忆配置
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		Store:     "memory",
		MaxTokens: 2000,
	}
}

// DefaultToolsConfig 返回默认工具配置
func DefaultToolsConfig() ToolsConfig {
	return ToolsConfig{
		GitHub: GitHubConfig{
			BaseURL:   "https://api.github.com",
			RateLimit: 5,
		},
		Jira: JiraConfig{
			RateLimit: 5,
		},
		Crawl: CrawlConfig{
			MaxPages:    50,
			Concurrency: 4,
			CacheTTL:    time.Hour,
			Timeout:     30 * time.Second,
		},
		Browser: BrowserConfig{
			Headless:    true,
			PageTimeout: 60 * time.Second,
			MaxTabs:     2,
		},
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "storyflow",
		SampleRate:   0.1,
	}
}
