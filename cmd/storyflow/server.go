package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/storyflow/api/handlers"
	"github.com/BaSui01/storyflow/config"
	"github.com/BaSui01/storyflow/internal/server"
	"github.com/BaSui01/storyflow/internal/telemetry"
)

// =============================================================================
// 🖥️ Server
// =============================================================================

// publicPaths 不需要认证
var publicPaths = []string{"/health", "/ready", "/version", "/metrics"}

// Server 是 StoryFlow 的 HTTP 服务
type Server struct {
	cfg    *config.Config
	logger *zap.Logger
	app    *App

	httpManager *server.Manager
	watcher     *config.FileWatcher
	cancel      context.CancelFunc
}

// NewServer 装配应用组件
func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	app, err := NewApp(context.Background(), cfg, logger)
	if err != nil {
		return nil, err
	}
	return &Server{
		cfg:    cfg,
		logger: logger,
		app:    app,
	}, nil
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动定义目录监听和 HTTP 服务（非阻塞）
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	if err := s.startDefinitionsWatcher(ctx); err != nil {
		return fmt.Errorf("failed to watch workflow definitions: %w", err)
	}

	s.httpManager = server.NewManager(s.Handler(), server.ConfigFrom(s.cfg.Server), s.logger)
	if err := s.httpManager.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	s.logger.Info("HTTP server started",
		zap.String("addr", s.httpManager.Addr()),
		zap.Bool("auth", s.cfg.Auth.JWTSecret != ""),
	)
	return nil
}

// Handler 构建路由和中间件链
func (s *Server) Handler() http.Handler {
	app := s.app

	health := handlers.NewHealthHandler(handlers.VersionInfo{
		Version:   telemetry.BuildVersion(),
		BuildTime: BuildTime,
		GitCommit: GitCommit,
	}, s.logger)
	for _, check := range app.Checks {
		health.RegisterCheck(check)
	}
	workflows := handlers.NewWorkflowHandler(app.Catalog, app.Executor, app.History, s.logger)
	events := handlers.NewEventsHandler(app.Events, nil, s.logger)
	agents := handlers.NewAgentHandler(app.Catalog.Agents(), s.logger)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", health.HandleHealth)
	mux.HandleFunc("GET /ready", health.HandleReady)
	mux.HandleFunc("GET /version", health.HandleVersion)
	mux.Handle("GET /metrics", promhttp.HandlerFor(app.Registry, promhttp.HandlerOpts{Registry: app.Registry}))

	mux.HandleFunc("GET /v1/workflows", workflows.HandleListWorkflows)
	mux.HandleFunc("GET /v1/workflows/{id}", workflows.HandleGetWorkflow)
	mux.HandleFunc("POST /v1/workflows/{id}/runs", workflows.HandleStartRun)
	mux.HandleFunc("GET /v1/workflows/{id}/runs", workflows.HandleListRuns)
	mux.HandleFunc("POST /v1/runs/{runId}/resume", workflows.HandleResumeRun)
	mux.HandleFunc("GET /v1/runs/{runId}", workflows.HandleGetRun)
	mux.HandleFunc("GET /v1/runs/{runId}/events", events.HandleRunEvents)
	mux.HandleFunc("GET /v1/events", events.HandleAllEvents)

	mux.HandleFunc("GET /v1/agents", agents.HandleListAgents)
	mux.HandleFunc("GET /v1/agents/{name}", agents.HandleGetAgent)

	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		OTelTracing(),
		MetricsMiddleware(app.Metrics),
		RequestLogger(s.logger),
	}
	if s.cfg.Auth.JWTSecret != "" {
		middlewares = append(middlewares, JWTAuth(s.cfg.Auth, publicPaths, s.logger))
	}
	return Chain(mux, middlewares...)
}

// startDefinitionsWatcher 在定义目录变化时重新加载 YAML 工作流
func (s *Server) startDefinitionsWatcher(ctx context.Context) error {
	dir := s.cfg.Workflow.DefinitionsDir
	if dir == "" {
		return nil
	}
	w, err := config.NewFileWatcher(dir, config.WithWatcherLogger(s.logger))
	if err != nil {
		return err
	}
	w.OnChange(func(changes []config.FileEvent) {
		ids, err := s.app.Catalog.LoadDefinitions(dir)
		if err != nil {
			s.logger.Error("failed to reload workflow definitions", zap.Int("changes", len(changes)), zap.Error(err))
			return
		}
		s.logger.Info("workflow definitions reloaded", zap.Strings("workflows", ids))
	})
	if err := w.Start(ctx); err != nil {
		return err
	}
	s.watcher = w
	return nil
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 阻塞到收到 SIGINT/SIGTERM 或服务出错，然后优雅关闭
func (s *Server) WaitForShutdown() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := s.httpManager.WaitForShutdown(ctx); err != nil {
		s.logger.Error("HTTP server error", zap.Error(err))
	}
	s.Shutdown()
}

// Shutdown 依次停止定义监听、HTTP 服务和应用组件
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx, cancel := context.WithTimeout(context.Background(), server.ConfigFrom(s.cfg.Server).ShutdownTimeout)
	defer cancel()

	if s.cancel != nil {
		s.cancel()
	}
	if s.watcher != nil {
		if err := s.watcher.Stop(); err != nil {
			s.logger.Error("definitions watcher shutdown error", zap.Error(err))
		}
	}
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}
	if err := s.app.Close(ctx); err != nil {
		s.logger.Error("component shutdown error", zap.Error(err))
	}

	s.logger.Info("Graceful shutdown completed")
}
