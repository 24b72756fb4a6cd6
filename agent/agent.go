package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/storyflow/agent/memory"
	"github.com/BaSui01/storyflow/agent/structured"
	"github.com/BaSui01/storyflow/internal/ctxkeys"
	"github.com/BaSui01/storyflow/llm"
	"github.com/BaSui01/storyflow/llm/tokenizer"
	"github.com/BaSui01/storyflow/llm/tools"
	"github.com/BaSui01/storyflow/types"
	"go.uber.org/zap"
)

const (
	DefaultModel           = "gpt-4.1"
	DefaultMaxToolRounds   = 5
	DefaultMaxMemoryTokens = 2000
)

// MemoryConfig enables working memory for an agent.
type MemoryConfig struct {
	// Template 初始化空会话的工作记忆。
	Template string
	// MaxTokens 限制注入到系统提示中的工作记忆长度，默认 2000。
	MaxTokens int
}

// Config 描述一个 Agent：名称、指令、模型、可用工具和可选的工作记忆。
type Config struct {
	Name          string
	Instructions  string
	Model         string
	Tools         []tools.Tool
	Memory        *MemoryConfig
	MaxToolRounds int
	MaxTokens     int
}

// GenerateOptions 是单次生成的参数。
type GenerateOptions struct {
	SessionID   string
	Temperature float32
}

// Response is the result of a generation.
type Response struct {
	Text      string
	JSON      json.RawMessage
	ToolCalls int
	Usage     llm.ChatUsage
}

// Observer 接收每一次模型调用的结果，用于指标采集。
type Observer interface {
	LLMCalled(agent, model, status string, d time.Duration, usage llm.ChatUsage)
}

type Option func(*Agent)

func WithLogger(logger *zap.Logger) Option {
	return func(a *Agent) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithMemoryStore sets the backend used by agents configured with Memory.
func WithMemoryStore(store memory.WorkingMemoryStore) Option {
	return func(a *Agent) { a.store = store }
}

func WithObserver(o Observer) Option {
	return func(a *Agent) { a.observer = o }
}

func WithTokenizer(t tokenizer.Tokenizer) Option {
	return func(a *Agent) { a.tokenizer = t }
}

// WithMemoryTokenLimit sets the working-memory budget for agents whose
// MemoryConfig leaves MaxTokens unset.
func WithMemoryTokenLimit(n int) Option {
	return func(a *Agent) { a.memTokens = n }
}

// WithToolExecutorOptions forwards options to the agent's tool executor.
func WithToolExecutorOptions(opts ...tools.ExecutorOption) Option {
	return func(a *Agent) { a.execOpts = append(a.execOpts, opts...) }
}

// Agent 调用模型生成符合 schema 的结构化输出，期间可以调用工具。
// Agent 创建后不可变，可被多个工作流并发使用。
type Agent struct {
	cfg       Config
	provider  llm.Provider
	executor  *tools.Executor
	memory    *memory.WorkingMemory
	store     memory.WorkingMemoryStore
	tokenizer tokenizer.Tokenizer
	observer  Observer
	execOpts  []tools.ExecutorOption
	memTokens int
	logger    *zap.Logger
}

func New(cfg Config, provider llm.Provider, opts ...Option) (*Agent, error) {
	if strings.TrimSpace(cfg.Name) == "" {
		return nil, errors.New("agent name is required")
	}
	if provider == nil {
		return nil, fmt.Errorf("agent %s: provider is required", cfg.Name)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = DefaultMaxToolRounds
	}

	a := &Agent{cfg: cfg, provider: provider, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With(zap.String("component", "agent"), zap.String("agent", cfg.Name))

	registry := tools.NewRegistry()
	for _, t := range cfg.Tools {
		if err := registry.Register(t); err != nil {
			return nil, fmt.Errorf("agent %s: %w", cfg.Name, err)
		}
	}
	a.executor = tools.NewExecutor(registry, append([]tools.ExecutorOption{tools.WithExecutorLogger(a.logger)}, a.execOpts...)...)

	if cfg.Memory != nil {
		if a.store == nil {
			a.store = memory.NewInMemoryStore(a.logger)
		}
		if a.tokenizer == nil {
			a.tokenizer = tokenizer.ForModel(cfg.Model)
		}
		mc := *cfg.Memory
		if mc.MaxTokens <= 0 {
			mc.MaxTokens = a.memTokens
		}
		if mc.MaxTokens <= 0 {
			mc.MaxTokens = DefaultMaxMemoryTokens
		}
		a.cfg.Memory = &mc
		a.memory = memory.NewWorkingMemory(a.store, cfg.Name, cfg.Memory.Template)
	}
	return a, nil
}

func (a *Agent) Name() string { return a.cfg.Name }

func (a *Agent) Instructions() string { return a.cfg.Instructions }

// ToolNames returns the names of the agent's tools, sorted.
func (a *Agent) ToolNames() []string { return a.executor.Registry().Names() }

// WorkingMemory returns nil when the agent has no memory configured.
func (a *Agent) WorkingMemory() *memory.WorkingMemory { return a.memory }

// Generate 发送 prompt 并循环执行模型请求的工具调用（最多 MaxToolRounds 轮），
// 最终回复按 schema 校验后解码到 out。schema 为 nil 时 out 可以是 *string。
// 失败时返回 AGENT_FAILED，不做重试。
func (a *Agent) Generate(ctx context.Context, prompt string, schema *structured.JSONSchema, out any, opts GenerateOptions) (*Response, error) {
	system, err := a.systemPrompt(ctx, schema, opts.SessionID)
	if err != nil {
		return nil, a.fail("build system prompt", err)
	}

	req := &llm.ChatRequest{
		Model:       a.cfg.Model,
		Messages:    []llm.Message{llm.SystemMessage(system), llm.UserMessage(prompt)},
		MaxTokens:   a.cfg.MaxTokens,
		Temperature: opts.Temperature,
		Tools:       a.executor.Registry().List(),
	}
	if schema != nil && len(req.Tools) == 0 {
		req.ResponseFormat = &llm.ResponseFormat{Type: "json_object"}
	}

	resp := &Response{}
	var final llm.Message
	for round := 0; ; round++ {
		if err := ctx.Err(); err != nil {
			return nil, a.fail("generation cancelled", err)
		}
		choice, usage, err := a.complete(ctx, req)
		if err != nil {
			return nil, err
		}
		addUsage(&resp.Usage, usage)

		msg := choice.Message
		if len(msg.ToolCalls) == 0 {
			final = msg
			break
		}
		if round >= a.cfg.MaxToolRounds {
			return nil, types.Errorf(types.ErrAgentFailed, "agent %s: exceeded %d tool rounds", a.cfg.Name, a.cfg.MaxToolRounds)
		}

		msg.Role = llm.RoleAssistant
		req.Messages = append(req.Messages, msg)
		results := a.executor.Execute(ctx, msg.ToolCalls)
		for i, res := range results {
			if res.Err != nil {
				return nil, a.fail(fmt.Sprintf("tool %s", res.Name), res.Err)
			}
			req.Messages = append(req.Messages, llm.ToolResultMessage(msg.ToolCalls[i], res.Content()))
		}
		resp.ToolCalls += len(results)
	}

	text, err := a.applyWorkingMemory(ctx, final.Content, opts.SessionID)
	if err != nil {
		return nil, a.fail("update working memory", err)
	}
	resp.Text = text

	if schema == nil {
		if s, ok := out.(*string); ok {
			*s = text
		}
		return resp, nil
	}

	raw := structured.ExtractJSON(text)
	if err := structured.DecodeValidated([]byte(raw), schema, out); err != nil {
		a.logger.Warn("structured output rejected", append(runFields(ctx), zap.Error(err))...)
		return nil, a.fail("invalid structured output", err)
	}
	resp.JSON = json.RawMessage(raw)
	return resp, nil
}

func (a *Agent) complete(ctx context.Context, req *llm.ChatRequest) (llm.ChatChoice, llm.ChatUsage, error) {
	start := time.Now()
	resp, err := a.provider.Completion(ctx, req)
	elapsed := time.Since(start)

	if err != nil {
		a.observe(req.Model, "error", elapsed, llm.ChatUsage{})
		var llmErr *llm.Error
		if errors.As(err, &llmErr) {
			return llm.ChatChoice{}, llm.ChatUsage{}, a.fail("completion", llmErr.ToTypesError())
		}
		return llm.ChatChoice{}, llm.ChatUsage{}, a.fail("completion", err)
	}
	a.observe(req.Model, "ok", elapsed, resp.Usage)
	a.logger.Debug("completion", append(runFields(ctx),
		zap.String("model", resp.Model),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
		zap.Duration("duration", elapsed))...)

	choice, err := llm.FirstChoice(resp)
	if err != nil {
		return llm.ChatChoice{}, llm.ChatUsage{}, a.fail("completion", err)
	}
	return choice, resp.Usage, nil
}

func (a *Agent) observe(model, status string, d time.Duration, usage llm.ChatUsage) {
	if a.observer != nil {
		a.observer.LLMCalled(a.cfg.Name, model, status, d, usage)
	}
}

func (a *Agent) fail(msg string, cause error) error {
	return types.Errorf(types.ErrAgentFailed, "agent %s: %s", a.cfg.Name, msg).WithCause(cause)
}

// runFields 从 ctx 取出所属工作流运行的 ID
func runFields(ctx context.Context) []zap.Field {
	if runID, ok := ctxkeys.RunID(ctx); ok {
		return []zap.Field{zap.String("run_id", runID)}
	}
	return nil
}

func addUsage(total *llm.ChatUsage, u llm.ChatUsage) {
	total.PromptTokens += u.PromptTokens
	total.CompletionTokens += u.CompletionTokens
	total.TotalTokens += u.TotalTokens
}
