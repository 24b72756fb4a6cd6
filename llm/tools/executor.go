package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/BaSui01/storyflow/llm"
	"github.com/BaSui01/storyflow/types"
	"go.uber.org/zap"
)

// ToolResult represents tool execution result.
type ToolResult struct {
	ToolCallID string          `json:"tool_call_id"`
	Name       string          `json:"name"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	Duration   time.Duration   `json:"duration"`

	// Err 保留原始错误（*types.Error），供调用方判断错误码。
	Err error `json:"-"`
}

// Content renders the result as the content of a tool message.
func (r ToolResult) Content() string {
	if r.Err != nil {
		data, _ := json.Marshal(map[string]string{"error": r.Error})
		return string(data)
	}
	return string(r.Result)
}

// ====== Registry ======

// Registry 按名称保存工具。
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates a registry holding the given tools. Duplicate names panic.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
	return r
}

func (r *Registry) Register(t Tool) error {
	if t == nil || t.Name() == "" {
		return errors.New("tool must have a name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; exists {
		return fmt.Errorf("tool %s already registered", t.Name())
	}
	r.tools[t.Name()] = t
	return nil
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns the schemas of all tools, sorted by name.
func (r *Registry) List() []llm.ToolSchema {
	names := r.Names()
	r.mu.RLock()
	defer r.mu.RUnlock()
	schemas := make([]llm.ToolSchema, 0, len(names))
	for _, name := range names {
		schemas = append(schemas, Schema(r.tools[name]))
	}
	return schemas
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// ====== Executor ======

// Observer 接收每次工具调用的结果，用于指标采集。
type Observer interface {
	ToolCalled(tool, status string, d time.Duration)
}

type ExecutorOption func(*Executor)

func WithExecutorLogger(logger *zap.Logger) ExecutorOption {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithAuditLogger(a AuditLogger) ExecutorOption {
	return func(e *Executor) { e.audit = a }
}

func WithToolObserver(o Observer) ExecutorOption {
	return func(e *Executor) { e.observer = o }
}

// Executor 执行模型请求的工具调用：查找工具、限流、超时控制并记录审计日志。
type Executor struct {
	registry *Registry
	logger   *zap.Logger
	audit    AuditLogger
	observer Observer
}

func NewExecutor(registry *Registry, opts ...ExecutorOption) *Executor {
	e := &Executor{registry: registry, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(zap.String("component", "tool_executor"))
	if e.audit == nil {
		e.audit = NewZapAuditLogger(e.logger)
	}
	return e
}

// Registry returns the registry the executor resolves tools from.
func (e *Executor) Registry() *Registry { return e.registry }

// Execute runs all calls concurrently. Results keep the order of calls.
func (e *Executor) Execute(ctx context.Context, calls []llm.ToolCall) []ToolResult {
	results := make([]ToolResult, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(idx int, c llm.ToolCall) {
			defer wg.Done()
			results[idx] = e.ExecuteOne(ctx, c)
		}(i, call)
	}
	wg.Wait()

	return results
}

func (e *Executor) ExecuteOne(ctx context.Context, call llm.ToolCall) ToolResult {
	start := time.Now()
	result := ToolResult{ToolCallID: call.ID, Name: call.Name}

	res, err := e.call(ctx, call)
	result.Duration = time.Since(start)
	if err != nil {
		result.Err = err
		result.Error = err.Error()
	} else {
		result.Result = res
	}

	entry := &AuditEntry{
		Timestamp:  start,
		ToolName:   call.Name,
		ToolCallID: call.ID,
		Arguments:  call.Arguments,
		Error:      result.Error,
		ErrorCode:  string(types.GetErrorCode(err)),
		Duration:   result.Duration,
	}
	if auditErr := e.audit.Log(ctx, entry); auditErr != nil {
		e.logger.Warn("audit log failed", zap.String("tool", call.Name), zap.Error(auditErr))
	}
	if e.observer != nil {
		status := "ok"
		if err != nil {
			status = string(types.GetErrorCode(err))
		}
		e.observer.ToolCalled(call.Name, status, result.Duration)
	}
	return result
}

func (e *Executor) call(ctx context.Context, call llm.ToolCall) (json.RawMessage, error) {
	tool, ok := e.registry.Get(call.Name)
	if !ok {
		return nil, types.Errorf(types.ErrToolNotFound, "tool %s not found", call.Name)
	}
	policy := policyOf(tool)

	if policy.Limiter != nil {
		if err := policy.Limiter.Wait(ctx); err != nil {
			e.logger.Warn("rate limit exceeded", zap.String("tool", call.Name))
			return nil, types.Errorf(types.ErrRateLimited, "tool %s: rate limit: %s", call.Name, err.Error()).
				WithRetryable(true).WithCause(err)
		}
	}

	execCtx, cancel := context.WithTimeout(ctx, policy.Timeout)
	defer cancel()

	type outcome struct {
		res json.RawMessage
		err error
	}
	// 带缓冲，超时后工具 goroutine 仍能退出
	done := make(chan outcome, 1)
	go func() {
		res, err := tool.Call(execCtx, call.Arguments)
		done <- outcome{res, err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return nil, wrapToolError(call.Name, o.err)
		}
		return o.res, nil
	case <-execCtx.Done():
		if ctx.Err() != nil {
			return nil, types.Errorf(types.ErrToolFailed, "tool %s: %s", call.Name, ctx.Err().Error()).WithCause(ctx.Err())
		}
		return nil, types.Errorf(types.ErrToolFailed, "tool %s: execution timeout after %s", call.Name, policy.Timeout).
			WithRetryable(true)
	}
}

func wrapToolError(name string, err error) error {
	if _, ok := types.AsError(err); ok {
		return err
	}
	return types.Errorf(types.ErrToolFailed, "tool %s: %s", name, err.Error()).WithCause(err)
}
