package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.uber.org/zap"

	"github.com/BaSui01/storyflow/agent"
	"github.com/BaSui01/storyflow/agent/memory"
	"github.com/BaSui01/storyflow/api/handlers"
	"github.com/BaSui01/storyflow/config"
	"github.com/BaSui01/storyflow/internal/cache"
	"github.com/BaSui01/storyflow/internal/database"
	"github.com/BaSui01/storyflow/internal/metrics"
	"github.com/BaSui01/storyflow/internal/migration"
	"github.com/BaSui01/storyflow/internal/runstore"
	"github.com/BaSui01/storyflow/internal/telemetry"
	"github.com/BaSui01/storyflow/llm"
	"github.com/BaSui01/storyflow/llm/circuitbreaker"
	"github.com/BaSui01/storyflow/llm/embedding"
	"github.com/BaSui01/storyflow/llm/providers/openaicompat"
	"github.com/BaSui01/storyflow/llm/tools"
	"github.com/BaSui01/storyflow/planning"
	"github.com/BaSui01/storyflow/tools/browser"
	"github.com/BaSui01/storyflow/tools/evaluation"
	"github.com/BaSui01/storyflow/tools/github"
	"github.com/BaSui01/storyflow/tools/jira"
	"github.com/BaSui01/storyflow/tools/webcrawl"
	"github.com/BaSui01/storyflow/workflow"
)

// =============================================================================
// 🧩 App：按配置装配全部组件
// =============================================================================

// App 持有 serve / run / resume 共用的组件。
// 组件按依赖顺序创建，Close 按相反顺序释放。
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	Registry  *prometheus.Registry
	Metrics   *metrics.Collector
	Telemetry *telemetry.Providers
	Catalog   *planning.Catalog
	Executor  *workflow.Executor
	Events    *workflow.EventBus
	History   workflow.HistoryStore
	Checks    []handlers.HealthCheck

	redis   redis.UniversalClient
	closers []namedCloser
}

type namedCloser struct {
	name  string
	close func(ctx context.Context) error
}

// NewApp builds every component the configuration asks for. On error the
// components created so far are released.
func NewApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (app *App, err error) {
	app = &App{
		cfg:    cfg,
		logger: logger,
	}
	defer func() {
		if err != nil {
			app.Close(context.Background())
			app = nil
		}
	}()

	app.initObservability()

	if err := app.initRedis(ctx); err != nil {
		return app, err
	}
	memStore, err := app.initMemoryStore(ctx)
	if err != nil {
		return app, err
	}
	suspendStore := app.initSuspendStore()
	if err := app.initHistory(ctx); err != nil {
		return app, err
	}

	provider := app.newProvider()

	toolset, err := app.buildTools(provider, memStore)
	if err != nil {
		return app, err
	}

	app.Catalog, err = planning.NewCatalog(planning.Deps{
		Provider:    provider,
		Model:       cfg.LLM.Model,
		Tools:       toolset,
		MemoryStore: memStore,
		AgentOptions: []agent.Option{
			agent.WithLogger(logger),
			agent.WithObserver(app.Metrics),
			agent.WithMemoryTokenLimit(cfg.Memory.MaxTokens),
			agent.WithToolExecutorOptions(
				tools.WithAuditLogger(tools.NewZapAuditLogger(logger)),
				tools.WithToolObserver(app.Metrics),
			),
		},
		Logger: logger,
	})
	if err != nil {
		return app, fmt.Errorf("build planning catalog: %w", err)
	}
	if dir := cfg.Workflow.DefinitionsDir; dir != "" {
		ids, err := app.Catalog.LoadDefinitions(dir)
		if err != nil {
			return app, fmt.Errorf("load workflow definitions: %w", err)
		}
		logger.Info("workflow definitions loaded", zap.String("dir", dir), zap.Strings("workflows", ids))
	}

	app.Events = workflow.NewEventBus(cfg.Workflow.EventBuffer, logger)

	opts := []workflow.ExecutorOption{
		workflow.WithLogger(logger),
		workflow.WithForeachConcurrency(cfg.Workflow.ForeachConcurrency),
		workflow.WithParallelConcurrency(cfg.Workflow.ParallelConcurrency),
		workflow.WithSuspendTTL(cfg.Workflow.SuspendTTL),
		workflow.WithObserver(app.runObserver()),
		workflow.WithTracer(app.Telemetry.Tracer()),
		workflow.WithEventSink(app.Events),
	}
	if app.History != nil {
		opts = append(opts, workflow.WithHistory(app.History))
	}
	app.Executor = workflow.NewExecutor(suspendStore, opts...)

	logger.Info("application initialized",
		zap.Strings("workflows", app.Catalog.IDs()),
		zap.Int("tools", len(toolset)),
		zap.String("suspend_store", cfg.Workflow.SuspendStore),
		zap.String("history_store", cfg.Workflow.HistoryStore),
		zap.String("memory_store", cfg.Memory.Store),
		zap.Bool("telemetry", app.Telemetry.Enabled()),
	)
	return app, nil
}

// runObserver 同时上报 Prometheus 与 OTel 指标
func (a *App) runObserver() workflow.Observer {
	recorder, err := telemetry.NewRunRecorder(a.Telemetry.Meter())
	if err != nil {
		a.logger.Warn("failed to create otel run recorder", zap.Error(err))
		return a.Metrics
	}
	return workflow.Observers(a.Metrics, recorder)
}

func (a *App) initObservability() {
	providers, err := telemetry.Init(a.cfg.Telemetry, a.logger)
	if err != nil {
		a.logger.Warn("failed to initialize telemetry", zap.Error(err))
		providers = &telemetry.Providers{}
	}
	a.Telemetry = providers
	a.addCloser("telemetry", providers.Shutdown)

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.Metrics = metrics.NewCollector("storyflow", a.Registry, a.logger)
}

// needsRedis 报告是否有组件使用 Redis
func (a *App) needsRedis() bool {
	return a.cfg.Redis.Addr != ""
}

func (a *App) initRedis(ctx context.Context) error {
	if !a.needsRedis() {
		return nil
	}
	rc := a.cfg.Redis
	client, err := cache.NewRedisClient(ctx, cache.Config{
		Addr:         rc.Addr,
		Password:     rc.Password,
		DB:           rc.DB,
		MaxRetries:   3,
		PoolSize:     rc.PoolSize,
		MinIdleConns: rc.MinIdleConns,
		TLS:          rc.TLS,
	})
	if err != nil {
		return err
	}
	a.redis = client
	a.addCloser("redis", func(context.Context) error { return client.Close() })
	a.Checks = append(a.Checks, handlers.NewPingCheck("redis", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}))
	a.logger.Info("redis connected", zap.String("addr", rc.Addr))
	return nil
}

func (a *App) initMemoryStore(ctx context.Context) (memory.WorkingMemoryStore, error) {
	switch a.cfg.Memory.Store {
	case "redis":
		return memory.NewRedisStore(a.redis, memory.RedisStoreConfig{
			KeyPrefix: a.cfg.Redis.KeyPrefix + "memory:",
			TTL:       a.cfg.Memory.TTL,
		}, a.logger), nil
	case "mongo":
		coll, err := a.connectMongo(ctx)
		if err != nil {
			return nil, err
		}
		return memory.NewMongoStore(coll, a.logger), nil
	default:
		return memory.NewInMemoryStore(a.logger), nil
	}
}

func (a *App) connectMongo(ctx context.Context) (*mongo.Collection, error) {
	mc := a.cfg.Mongo
	client, err := mongo.Connect(options.Client().ApplyURI(mc.URI).SetTimeout(mc.Timeout))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	a.addCloser("mongo", client.Disconnect)

	pingCtx, cancel := context.WithTimeout(ctx, mc.Timeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	a.Checks = append(a.Checks, handlers.NewPingCheck("mongo", func(ctx context.Context) error {
		return client.Ping(ctx, readpref.Primary())
	}))
	a.logger.Info("mongo connected", zap.String("database", mc.Database), zap.String("collection", mc.Collection))
	return client.Database(mc.Database).Collection(mc.Collection), nil
}

func (a *App) initSuspendStore() workflow.SuspendStore {
	if a.cfg.Workflow.SuspendStore == "redis" {
		return workflow.NewRedisSuspendStore(a.redis, a.cfg.Redis.KeyPrefix)
	}
	store := workflow.NewMemorySuspendStore(a.logger)
	sweepCtx, cancel := context.WithCancel(context.Background())
	store.StartSweeper(sweepCtx, time.Minute)
	a.addCloser("suspend store", func(context.Context) error {
		cancel()
		return store.Close()
	})
	return store
}

func (a *App) initHistory(ctx context.Context) error {
	switch a.cfg.Workflow.HistoryStore {
	case "memory":
		a.History = workflow.NewMemoryHistoryStore()
	case "database":
		dbCfg := a.cfg.Database
		if dbCfg.AutoMigrate {
			if err := a.migrate(ctx, dbCfg); err != nil {
				return err
			}
		}
		db, err := database.Open(dbCfg, a.logger)
		if err != nil {
			return err
		}
		pool, err := database.NewPoolManager(db, database.PoolConfigFrom(dbCfg), a.logger,
			database.WithStatsRecorder(a.Metrics),
			database.WithName(dbCfg.Driver),
		)
		if err != nil {
			return err
		}
		a.addCloser("database", func(context.Context) error { return pool.Close() })
		a.Checks = append(a.Checks, handlers.NewPingCheck("database", pool.Ping))
		a.History = runstore.New(pool.DB(), a.logger)
	}
	return nil
}

func (a *App) migrate(ctx context.Context, dbCfg config.DatabaseConfig) error {
	m, err := migration.NewMigratorFromConfig(ctx, dbCfg, a.logger)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer m.Close()
	return m.Up(ctx)
}

// newProvider 创建 OpenAI 兼容 Provider，并按配置加上重试与熔断
func (a *App) newProvider() llm.Provider {
	lc := a.cfg.LLM
	base := openaicompat.New(openaicompat.Config{
		ProviderName:  lc.Provider,
		APIKey:        lc.APIKey,
		BaseURL:       lc.BaseURL,
		DefaultModel:  lc.Model,
		FallbackModel: agent.DefaultModel,
		Timeout:       lc.Timeout,
	}, a.logger)

	rc := llm.DefaultResilienceConfig()
	rc.MaxRetries = lc.MaxRetries
	rc.Breaker = nil
	if lc.BreakerThreshold > 0 {
		rc.Breaker = &circuitbreaker.Config{
			Threshold:    lc.BreakerThreshold,
			ResetTimeout: lc.BreakerReset,
		}
	}
	return llm.NewResilientProvider(base, rc, a.Metrics, a.logger)
}

// buildTools 创建全部外部工具；Agent 按名称挑选自己需要的工具
func (a *App) buildTools(provider llm.Provider, memStore memory.WorkingMemoryStore) ([]tools.Tool, error) {
	tc := a.cfg.Tools
	var out []tools.Tool

	out = append(out, github.NewClient(github.Config{
		Token:     tc.GitHub.Token,
		BaseURL:   tc.GitHub.BaseURL,
		RateLimit: tc.GitHub.RateLimit,
	}, a.logger).Tools()...)

	if tc.Jira.Enabled() {
		out = append(out, jira.NewClient(jira.Config{
			BaseURL:   tc.Jira.BaseURL,
			Email:     tc.Jira.Email,
			Token:     tc.Jira.Token,
			RateLimit: tc.Jira.RateLimit,
		}, memStore, a.logger).Tools()...)
	} else {
		a.logger.Info("jira not configured, jira tools disabled")
	}

	var pageCache webcrawl.PageCache
	if a.redis != nil {
		pages := cache.NewManagerWithClient(a.redis, cache.Config{
			KeyPrefix:  a.cfg.Redis.KeyPrefix + "pages:",
			DefaultTTL: tc.Crawl.CacheTTL,
		}, a.logger)
		pages.SetRecorder(a.Metrics)
		a.addCloser("page cache", func(context.Context) error { return pages.Close() })
		pageCache = pages
	}
	crawler := webcrawl.NewCrawler(webcrawl.CrawlerConfig{
		MaxPages:    tc.Crawl.MaxPages,
		Concurrency: tc.Crawl.Concurrency,
		CacheTTL:    tc.Crawl.CacheTTL,
		Timeout:     tc.Crawl.Timeout,
	}, pageCache, a.logger)
	ec := a.cfg.Embedding
	embedder := embedding.NewOpenAIProvider(embedding.OpenAIConfig{
		APIKey:     ec.APIKey,
		BaseURL:    ec.BaseURL,
		Model:      ec.Model,
		Dimensions: ec.Dimensions,
		Timeout:    ec.Timeout,
	})
	vectors := memory.NewInMemoryVectorStore(ec.Dimensions, a.logger)
	out = append(out, webcrawl.NewIndex(crawler, embedder, vectors, a.logger).Tools()...)

	if tc.Browser.Enabled {
		bc := browser.DefaultConfig()
		bc.RemoteURL = tc.Browser.RemoteURL
		bc.Headless = tc.Browser.Headless
		if tc.Browser.PageTimeout > 0 {
			bc.PageTimeout = tc.Browser.PageTimeout
		}
		if tc.Browser.MaxTabs > 0 {
			bc.MaxTabs = tc.Browser.MaxTabs
		}
		driver := browser.NewChromeDriver(bc, a.logger)
		a.addCloser("browser", func(context.Context) error { return driver.Close() })
		out = append(out, browser.NewTool(driver, a.logger).Tools()...)
	}

	metric, err := evaluation.NewMetric(provider, a.cfg.LLM.Model, nil, a.logger)
	if err != nil {
		return nil, fmt.Errorf("build hallucination metric: %w", err)
	}
	out = append(out, metric.Tools()...)
	return out, nil
}

func (a *App) addCloser(name string, fn func(ctx context.Context) error) {
	a.closers = append(a.closers, namedCloser{name: name, close: fn})
}

// Close releases the components in reverse creation order.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(ctx); err != nil {
			a.logger.Error("failed to close component", zap.String("component", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
