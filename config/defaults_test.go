package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_ContainsSubConfigs(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	assert.NotEqual(t, ServerConfig{}, cfg.Server)
	assert.NotEqual(t, LLMConfig{}, cfg.LLM)
	assert.NotEqual(t, EmbeddingConfig{}, cfg.Embedding)
	assert.NotEqual(t, DatabaseConfig{}, cfg.Database)
	assert.NotEqual(t, WorkflowConfig{}, cfg.Workflow)
	assert.NotEqual(t, MemoryConfig{}, cfg.Memory)
	assert.NotEqual(t, TelemetryConfig{}, cfg.Telemetry)
	// 认证默认关闭
	assert.Equal(t, AuthConfig{}, cfg.Auth)
}

func TestDefaultWorkflowConfig(t *testing.T) {
	cfg := DefaultWorkflowConfig()
	assert.Equal(t, 8, cfg.ForeachConcurrency)
	assert.Equal(t, 0, cfg.ParallelConcurrency)
	assert.Equal(t, 24*time.Hour, cfg.SuspendTTL)
	assert.Equal(t, "memory", cfg.SuspendStore)
	assert.Equal(t, "memory", cfg.HistoryStore)
	assert.Empty(t, cfg.DefinitionsDir)
}

func TestDefaultDatabaseConfig(t *testing.T) {
	cfg := DefaultDatabaseConfig()
	assert.Equal(t, "sqlite", cfg.Driver)
	assert.Equal(t, "storyflow.db", cfg.Name)
	assert.True(t, cfg.AutoMigrate)
	assert.Equal(t, 5*time.Minute, cfg.ConnMaxLifetime)
}

func TestDefaultToolsConfig(t *testing.T) {
	cfg := DefaultToolsConfig()
	assert.Equal(t, "https://api.github.com", cfg.GitHub.BaseURL)
	assert.False(t, cfg.Jira.Enabled())
	assert.Equal(t, 50, cfg.Crawl.MaxPages)
	assert.False(t, cfg.Browser.Enabled)
	assert.True(t, cfg.Browser.Headless)
}

func TestDefaultLogAndTelemetry(t *testing.T) {
	log := DefaultLogConfig()
	assert.Equal(t, "info", log.Level)
	assert.Equal(t, []string{"stdout"}, log.OutputPaths)

	tel := DefaultTelemetryConfig()
	assert.False(t, tel.Enabled)
	assert.Equal(t, "storyflow", tel.ServiceName)
}
