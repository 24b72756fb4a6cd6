// =============================================================================
// 📦 StoryFlow 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("STORYFLOW").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 StoryFlow 的完整配置结构
type Config struct {
	Server    ServerConfig    `yaml:"server" env:"SERVER"`
	LLM       LLMConfig       `yaml:"llm" env:"LLM"`
	Embedding EmbeddingConfig `yaml:"embedding" env:"EMBEDDING"`
	Redis     RedisConfig     `yaml:"redis" env:"REDIS"`
	Database  DatabaseConfig  `yaml:"database" env:"DATABASE"`
	Mongo     MongoConfig     `yaml:"mongo" env:"MONGO"`
	Workflow  WorkflowConfig  `yaml:"workflow" env:"WORKFLOW"`
	Memory    MemoryConfig    `yaml:"memory" env:"MEMORY"`
	Tools     ToolsConfig     `yaml:"tools" env:"TOOLS"`
	Auth      AuthConfig      `yaml:"auth" env:"AUTH"`
	Log       LogConfig       `yaml:"log" env:"LOG"`
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时；运行在请求内同步执行，需覆盖最长的工作流
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// LLMConfig OpenAI 兼容的对话模型配置
type LLMConfig struct {
	Provider string        `yaml:"provider" env:"PROVIDER"`
	APIKey   string        `yaml:"api_key" env:"API_KEY"`
	BaseURL  string        `yaml:"base_url" env:"BASE_URL"`
	Model    string        `yaml:"model" env:"MODEL"`
	Timeout  time.Duration `yaml:"timeout" env:"TIMEOUT"`

	// 可重试错误的最大重试次数，0 表示不重试
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`

	// 连续失败多少次后熔断，0 表示关闭熔断
	BreakerThreshold int           `yaml:"breaker_threshold" env:"BREAKER_THRESHOLD"`
	BreakerReset     time.Duration `yaml:"breaker_reset" env:"BREAKER_RESET"`
}

// EmbeddingConfig 向量化模型配置，供 web-crawl 索引使用
type EmbeddingConfig struct {
	APIKey     string        `yaml:"api_key" env:"API_KEY"`
	BaseURL    string        `yaml:"base_url" env:"BASE_URL"`
	Model      string        `yaml:"model" env:"MODEL"`
	Dimensions int           `yaml:"dimensions" env:"DIMENSIONS"`
	Timeout    time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址，为空时不连接 Redis
	Addr         string `yaml:"addr" env:"ADDR"`
	Password     string `yaml:"password" env:"PASSWORD"`
	DB           int    `yaml:"db" env:"DB"`
	PoolSize     int    `yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int    `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	TLS          bool   `yaml:"tls" env:"TLS"`
	// 键前缀，挂起运行、工作记忆与页面缓存各自在其后追加命名空间
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// DatabaseConfig 运行历史数据库配置
type DatabaseConfig struct {
	// 驱动类型: sqlite, postgres, mysql
	Driver string `yaml:"driver" env:"DRIVER"`
	Host   string `yaml:"host" env:"HOST"`
	Port   int    `yaml:"port" env:"PORT"`
	User   string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名；sqlite 时为文件路径
	Name    string `yaml:"name" env:"NAME"`
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`

	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	// 启动时自动执行迁移
	AutoMigrate bool `yaml:"auto_migrate" env:"AUTO_MIGRATE"`
}

// MongoConfig MongoDB 配置，用作工作记忆后端
type MongoConfig struct {
	URI        string        `yaml:"uri" env:"URI"`
	Database   string        `yaml:"database" env:"DATABASE"`
	Collection string        `yaml:"collection" env:"COLLECTION"`
	Timeout    time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// WorkflowConfig 工作流执行配置
type WorkflowConfig struct {
	// foreach 的并发上限，<=0 表示不限制
	ForeachConcurrency int `yaml:"foreach_concurrency" env:"FOREACH_CONCURRENCY"`
	// parallel 的并发上限，0 表示不限制
	ParallelConcurrency int `yaml:"parallel_concurrency" env:"PARALLEL_CONCURRENCY"`
	// 挂起运行可恢复的时长
	SuspendTTL time.Duration `yaml:"suspend_ttl" env:"SUSPEND_TTL"`
	// memory | redis
	SuspendStore string `yaml:"suspend_store" env:"SUSPEND_STORE"`
	// none | memory | database
	HistoryStore string `yaml:"history_store" env:"HISTORY_STORE"`
	// YAML 流水线目录，其中的定义会覆盖同 ID 的内置工作流
	DefinitionsDir string `yaml:"definitions_dir" env:"DEFINITIONS_DIR"`
	// 每个事件订阅者的缓冲大小
	EventBuffer int `yaml:"event_buffer" env:"EVENT_BUFFER"`
}

// MemoryConfig 工作记忆配置
type MemoryConfig struct {
	// memory | redis | mongo
	Store string `yaml:"store" env:"STORE"`
	// 注入提示词前的 token 上限
	MaxTokens int `yaml:"max_tokens" env:"MAX_TOKENS"`
	// Redis 中的过期时间，0 表示不过期
	TTL time.Duration `yaml:"ttl" env:"TTL"`
}

// ToolsConfig 外部工具配置
type ToolsConfig struct {
	GitHub  GitHubConfig  `yaml:"github" env:"GITHUB"`
	Jira    JiraConfig    `yaml:"jira" env:"JIRA"`
	Crawl   CrawlConfig   `yaml:"crawl" env:"CRAWL"`
	Browser BrowserConfig `yaml:"browser" env:"BROWSER"`
}

// GitHubConfig GitHub REST API 配置
type GitHubConfig struct {
	Token     string  `yaml:"token" env:"TOKEN"`
	BaseURL   string  `yaml:"base_url" env:"BASE_URL"`
	RateLimit float64 `yaml:"rate_limit" env:"RATE_LIMIT"`
}

// JiraConfig Jira Cloud 配置
type JiraConfig struct {
	BaseURL   string  `yaml:"base_url" env:"BASE_URL"`
	Email     string  `yaml:"email" env:"EMAIL"`
	Token     string  `yaml:"token" env:"TOKEN"`
	RateLimit float64 `yaml:"rate_limit" env:"RATE_LIMIT"`
}

// Enabled 报告是否配置了 Jira 站点
func (j JiraConfig) Enabled() bool { return j.BaseURL != "" }

// CrawlConfig 网页抓取配置
type CrawlConfig struct {
	MaxPages    int           `yaml:"max_pages" env:"MAX_PAGES"`
	Concurrency int           `yaml:"concurrency" env:"CONCURRENCY"`
	CacheTTL    time.Duration `yaml:"cache_ttl" env:"CACHE_TTL"`
	Timeout     time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// BrowserConfig 无头浏览器配置
type BrowserConfig struct {
	Enabled     bool          `yaml:"enabled" env:"ENABLED"`
	RemoteURL   string        `yaml:"remote_url" env:"REMOTE_URL"`
	Headless    bool          `yaml:"headless" env:"HEADLESS"`
	PageTimeout time.Duration `yaml:"page_timeout" env:"PAGE_TIMEOUT"`
	MaxTabs     int           `yaml:"max_tabs" env:"MAX_TABS"`
}

// AuthConfig API 认证配置
type AuthConfig struct {
	// HS256 密钥，为空时不校验 Bearer token
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
	Issuer    string `yaml:"issuer" env:"ISSUER"`
	Audience  string `yaml:"audience" env:"AUDIENCE"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// plainEnv 是不带前缀、与其他工具共用的凭据变量
var plainEnv = map[string]func(*Config, string){
	"GITHUB_TOKEN":  func(c *Config, v string) { c.Tools.GitHub.Token = v },
	"JIRA_EMAIL":    func(c *Config, v string) { c.Tools.Jira.Email = v },
	"JIRA_TOKEN":    func(c *Config, v string) { c.Tools.Jira.Token = v },
	"JIRA_BASE_URL": func(c *Config, v string) { c.Tools.Jira.BaseURL = v },
}

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	lookupEnv  func(string) (string, bool)
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix: "STORYFLOW",
		lookupEnv: os.LookupEnv,
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 无前缀凭据变量 → 带前缀环境变量
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	for key, set := range plainEnv {
		if v, ok := l.lookupEnv(key); ok && v != "" {
			set(cfg, v)
		}
	}
	if err := l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}
	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置；文件不存在时保留默认值
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		envTag := t.Field(i).Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}
		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct && field.Type() != reflect.TypeOf(time.Duration(0)) {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue, ok := l.lookupEnv(envKey)
		if !ok || envValue == "" {
			continue
		}
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}
	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}
	return nil
}

// =============================================================================
// 🔍 校验与辅助函数
// =============================================================================

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string
	oneOf := func(field, value string, allowed ...string) {
		if !slices.Contains(allowed, value) {
			errs = append(errs, fmt.Sprintf("%s must be one of %s, got %q", field, strings.Join(allowed, "|"), value))
		}
	}

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Workflow.ParallelConcurrency < 0 {
		errs = append(errs, "workflow.parallel_concurrency must not be negative")
	}
	if c.LLM.MaxRetries < 0 {
		errs = append(errs, "llm.max_retries must not be negative")
	}
	if c.Workflow.SuspendTTL <= 0 {
		errs = append(errs, "workflow.suspend_ttl must be positive")
	}
	oneOf("workflow.suspend_store", c.Workflow.SuspendStore, "memory", "redis")
	oneOf("workflow.history_store", c.Workflow.HistoryStore, "none", "memory", "database")
	oneOf("memory.store", c.Memory.Store, "memory", "redis", "mongo")
	oneOf("database.driver", c.Database.Driver, "sqlite", "postgres", "mysql")
	oneOf("log.format", c.Log.Format, "json", "console")

	if (c.Workflow.SuspendStore == "redis" || c.Memory.Store == "redis") && c.Redis.Addr == "" {
		errs = append(errs, "redis.addr is required by the redis stores")
	}
	if c.Memory.Store == "mongo" && c.Mongo.URI == "" {
		errs = append(errs, "mongo.uri is required by the mongo memory store")
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, "telemetry.sample_rate must be between 0 and 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// DSN 返回 gorm 方言使用的连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
