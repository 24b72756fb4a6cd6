package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEnv 让测试不依赖进程环境
func fakeEnv(vars map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func newTestLoader(vars map[string]string) *Loader {
	l := NewLoader()
	l.lookupEnv = fakeEnv(vars)
	return l
}

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := newTestLoader(nil).Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 8, cfg.Workflow.ForeachConcurrency)
	assert.NoError(t, cfg.Validate())
}

func TestLoader_LoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storyflow.yaml")
	content := `
server:
  http_port: 9000
workflow:
  foreach_concurrency: 2
  suspend_ttl: 2h
  definitions_dir: ./pipelines
llm:
  model: gpt-4.1-mini
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := newTestLoader(nil).WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.HTTPPort)
	assert.Equal(t, 2, cfg.Workflow.ForeachConcurrency)
	assert.Equal(t, 2*time.Hour, cfg.Workflow.SuspendTTL)
	assert.Equal(t, "./pipelines", cfg.Workflow.DefinitionsDir)
	assert.Equal(t, "gpt-4.1-mini", cfg.LLM.Model)
	assert.Equal(t, "debug", cfg.Log.Level)
	// 未出现在文件中的字段保留默认值
	assert.Equal(t, "memory", cfg.Workflow.SuspendStore)
}

func TestLoader_MissingFileKeepsDefaults(t *testing.T) {
	cfg, err := newTestLoader(nil).WithConfigPath(filepath.Join(t.TempDir(), "absent.yaml")).Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestLoader_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0o644))

	_, err := newTestLoader(nil).WithConfigPath(path).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestLoader_EnvOverrides(t *testing.T) {
	cfg, err := newTestLoader(map[string]string{
		"STORYFLOW_SERVER_HTTP_PORT":             "7070",
		"STORYFLOW_WORKFLOW_SUSPEND_TTL":         "90m",
		"STORYFLOW_WORKFLOW_SUSPEND_STORE":       "redis",
		"STORYFLOW_REDIS_ADDR":                   "localhost:6379",
		"STORYFLOW_TELEMETRY_SAMPLE_RATE":        "0.5",
		"STORYFLOW_TOOLS_BROWSER_ENABLED":        "true",
		"STORYFLOW_LOG_OUTPUT_PATHS":             "stdout, /var/log/storyflow.log",
		"STORYFLOW_TOOLS_GITHUB_RATE_LIMIT":      "2.5",
		"STORYFLOW_WORKFLOW_FOREACH_CONCURRENCY": "0",
	}).Load()
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.HTTPPort)
	assert.Equal(t, 90*time.Minute, cfg.Workflow.SuspendTTL)
	assert.Equal(t, "redis", cfg.Workflow.SuspendStore)
	assert.Equal(t, 0.5, cfg.Telemetry.SampleRate)
	assert.True(t, cfg.Tools.Browser.Enabled)
	assert.Equal(t, []string{"stdout", "/var/log/storyflow.log"}, cfg.Log.OutputPaths)
	assert.Equal(t, 2.5, cfg.Tools.GitHub.RateLimit)
	assert.Equal(t, 0, cfg.Workflow.ForeachConcurrency)
	assert.NoError(t, cfg.Validate())
}

func TestLoader_PlainCredentialEnv(t *testing.T) {
	cfg, err := newTestLoader(map[string]string{
		"GITHUB_TOKEN":  "ghp_plain",
		"JIRA_EMAIL":    "pm@example.com",
		"JIRA_TOKEN":    "jira-token",
		"JIRA_BASE_URL": "https://acme.atlassian.net",
	}).Load()
	require.NoError(t, err)

	assert.Equal(t, "ghp_plain", cfg.Tools.GitHub.Token)
	assert.Equal(t, "pm@example.com", cfg.Tools.Jira.Email)
	assert.Equal(t, "jira-token", cfg.Tools.Jira.Token)
	assert.True(t, cfg.Tools.Jira.Enabled())
}

func TestLoader_PrefixedEnvBeatsPlainEnv(t *testing.T) {
	cfg, err := newTestLoader(map[string]string{
		"GITHUB_TOKEN":                 "plain",
		"STORYFLOW_TOOLS_GITHUB_TOKEN": "prefixed",
	}).Load()
	require.NoError(t, err)
	assert.Equal(t, "prefixed", cfg.Tools.GitHub.Token)
}

func TestLoader_CustomPrefix(t *testing.T) {
	cfg, err := newTestLoader(map[string]string{
		"SF_SERVER_HTTP_PORT": "6060",
	}).WithEnvPrefix("SF").Load()
	require.NoError(t, err)
	assert.Equal(t, 6060, cfg.Server.HTTPPort)
}

func TestLoader_InvalidEnvValue(t *testing.T) {
	_, err := newTestLoader(map[string]string{
		"STORYFLOW_WORKFLOW_SUSPEND_TTL": "tomorrow",
	}).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STORYFLOW_WORKFLOW_SUSPEND_TTL")
}

func TestLoader_WithValidator(t *testing.T) {
	_, err := newTestLoader(map[string]string{
		"STORYFLOW_MEMORY_STORE": "etcd",
	}).WithValidator((*Config).Validate).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "memory.store")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"bad port", func(c *Config) { c.Server.HTTPPort = 70000 }, "invalid HTTP port"},
		{"negative parallel", func(c *Config) { c.Workflow.ParallelConcurrency = -1 }, "parallel_concurrency"},
		{"negative retries", func(c *Config) { c.LLM.MaxRetries = -1 }, "max_retries"},
		{"zero ttl", func(c *Config) { c.Workflow.SuspendTTL = 0 }, "suspend_ttl"},
		{"unknown history", func(c *Config) { c.Workflow.HistoryStore = "s3" }, "workflow.history_store"},
		{"unknown driver", func(c *Config) { c.Database.Driver = "oracle" }, "database.driver"},
		{"redis without addr", func(c *Config) { c.Workflow.SuspendStore = "redis" }, "redis.addr"},
		{"mongo without uri", func(c *Config) { c.Memory.Store = "mongo" }, "mongo.uri"},
		{"sample rate", func(c *Config) { c.Telemetry.SampleRate = 2 }, "sample_rate"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	pg := DatabaseConfig{Driver: "postgres", Host: "db", Port: 5432, User: "u", Password: "p", Name: "sf", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=sf sslmode=disable", pg.DSN())

	my := DatabaseConfig{Driver: "mysql", Host: "db", Port: 3306, User: "u", Password: "p", Name: "sf"}
	assert.Equal(t, "u:p@tcp(db:3306)/sf?parseTime=true", my.DSN())

	lite := DatabaseConfig{Driver: "sqlite", Name: "/tmp/sf.db"}
	assert.Equal(t, "/tmp/sf.db", lite.DSN())

	assert.Empty(t, (&DatabaseConfig{Driver: "oracle"}).DSN())
}
