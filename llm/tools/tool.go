package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BaSui01/storyflow/agent/structured"
	"github.com/BaSui01/storyflow/llm"
	"github.com/BaSui01/storyflow/types"
	"golang.org/x/time/rate"
)

// DefaultTimeout 是未显式配置时单次工具调用的超时时间。
const DefaultTimeout = 30 * time.Second

// Tool 是 Agent 在生成过程中可以调用的函数。
type Tool interface {
	Name() string
	Description() string
	// Parameters 返回调用参数的 JSON Schema，nil 表示任意 JSON。
	Parameters() *structured.JSONSchema
	Call(ctx context.Context, args json.RawMessage) (json.RawMessage, error)
}

// Policy 描述执行器对单个工具施加的约束。
type Policy struct {
	Timeout time.Duration
	Limiter *rate.Limiter // nil 表示不限流
}

// PolicyProvider 由需要超时或限流的工具实现。
type PolicyProvider interface {
	Policy() Policy
}

// Func is the typed body of a tool built with New.
type Func[In, Out any] func(ctx context.Context, in In) (Out, error)

// Option configures a tool built with New or NewRaw.
type Option func(*toolConfig)

type toolConfig struct {
	timeout time.Duration
	limiter *rate.Limiter
	params  *structured.JSONSchema
}

// WithTimeout bounds a single call of the tool.
func WithTimeout(d time.Duration) Option {
	return func(c *toolConfig) { c.timeout = d }
}

// WithRateLimit applies a token bucket of rps calls per second with the given burst.
// The limiter is shared by every registry the tool is registered in.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *toolConfig) {
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithLimiter shares an existing limiter, e.g. between tools that hit the same API.
func WithLimiter(l *rate.Limiter) Option {
	return func(c *toolConfig) { c.limiter = l }
}

// WithParameters overrides the schema generated from the input type.
func WithParameters(schema *structured.JSONSchema) Option {
	return func(c *toolConfig) { c.params = schema }
}

type funcTool struct {
	name        string
	description string
	params      *structured.JSONSchema
	policy      Policy
	call        func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)
}

func (t *funcTool) Name() string                       { return t.name }
func (t *funcTool) Description() string                { return t.description }
func (t *funcTool) Parameters() *structured.JSONSchema { return t.params }
func (t *funcTool) Policy() Policy                     { return t.policy }

func (t *funcTool) Call(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	if t.params != nil {
		if err := structured.NewValidator().Validate(args, t.params); err != nil {
			return nil, types.NewError(types.ErrToolValidation,
				fmt.Sprintf("tool %s: invalid arguments: %s", t.name, err.Error())).WithCause(err)
		}
	}
	return t.call(ctx, args)
}

// New builds a typed tool. The parameter schema is generated from In and the
// arguments are validated against it before they are decoded.
func New[In, Out any](name, description string, fn Func[In, Out], opts ...Option) Tool {
	cfg := applyOptions(opts)
	params := cfg.params
	if params == nil {
		params = structured.MustSchemaFor[In]()
	}
	return &funcTool{
		name:        name,
		description: description,
		params:      params,
		policy:      Policy{Timeout: cfg.timeout, Limiter: cfg.limiter},
		call: func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
			var in In
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, types.NewError(types.ErrToolValidation,
					fmt.Sprintf("tool %s: decode arguments: %s", name, err.Error())).WithCause(err)
			}
			out, err := fn(ctx, in)
			if err != nil {
				return nil, err
			}
			data, err := json.Marshal(out)
			if err != nil {
				return nil, fmt.Errorf("tool %s: encode result: %w", name, err)
			}
			return data, nil
		},
	}
}

// NewRaw builds a tool over raw JSON arguments.
func NewRaw(name, description string, params *structured.JSONSchema, fn func(ctx context.Context, args json.RawMessage) (json.RawMessage, error), opts ...Option) Tool {
	cfg := applyOptions(opts)
	if cfg.params != nil {
		params = cfg.params
	}
	return &funcTool{
		name:        name,
		description: description,
		params:      params,
		policy:      Policy{Timeout: cfg.timeout, Limiter: cfg.limiter},
		call:        fn,
	}
}

func applyOptions(opts []Option) toolConfig {
	var cfg toolConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Schema 将工具转换为发送给模型的描述。
func Schema(t Tool) llm.ToolSchema {
	schema := llm.ToolSchema{Name: t.Name(), Description: t.Description()}
	params := t.Parameters()
	if params == nil {
		params = structured.NewObjectSchema()
	}
	if data, err := params.ToJSON(); err == nil {
		schema.Parameters = data
	}
	return schema
}

func policyOf(t Tool) Policy {
	var p Policy
	if pp, ok := t.(PolicyProvider); ok {
		p = pp.Policy()
	}
	if p.Timeout <= 0 {
		p.Timeout = DefaultTimeout
	}
	return p
}
