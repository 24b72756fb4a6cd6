package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/BaSui01/storyflow/agent/structured"
)

// Step 工作流步骤接口
// 输入输出均为 JSON 文档，由 InputSchema/OutputSchema 描述（nil 表示任意 JSON）。
type Step interface {
	ID() string
	Description() string
	InputSchema() *structured.JSONSchema
	OutputSchema() *structured.JSONSchema
	Execute(ctx context.Context, sc *StepContext, input json.RawMessage) (json.RawMessage, error)
}

// StepFunc is the body of a typed step.
type StepFunc[In, Out any] func(ctx context.Context, sc *StepContext, in In) (Out, error)

// RawStepFunc is the body of an untyped step.
type RawStepFunc func(ctx context.Context, sc *StepContext, input json.RawMessage) (json.RawMessage, error)

// StepOption configures a step.
type StepOption func(*stepConfig)

type stepConfig struct {
	description string
	input       *structured.JSONSchema
	output      *structured.JSONSchema
	inputSet    bool
	outputSet   bool
}

// WithDescription sets the step description.
func WithDescription(desc string) StepOption {
	return func(c *stepConfig) { c.description = desc }
}

// WithInputSchema overrides the generated input schema.
func WithInputSchema(schema *structured.JSONSchema) StepOption {
	return func(c *stepConfig) {
		c.input = schema
		c.inputSet = true
	}
}

// WithOutputSchema overrides the generated output schema.
func WithOutputSchema(schema *structured.JSONSchema) StepOption {
	return func(c *stepConfig) {
		c.output = schema
		c.outputSet = true
	}
}

// funcStep 函数步骤实现
type funcStep struct {
	id          string
	description string
	input       *structured.JSONSchema
	output      *structured.JSONSchema
	fn          RawStepFunc
	err         error
}

func (s *funcStep) ID() string                           { return s.id }
func (s *funcStep) Description() string                  { return s.description }
func (s *funcStep) InputSchema() *structured.JSONSchema  { return s.input }
func (s *funcStep) OutputSchema() *structured.JSONSchema { return s.output }

func (s *funcStep) Execute(ctx context.Context, sc *StepContext, input json.RawMessage) (json.RawMessage, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.fn(ctx, sc, input)
}

// buildError reports a problem found while constructing the step.
func (s *funcStep) buildError() error { return s.err }

// NewStep creates a typed step. Schemas are generated from In and Out unless
// overridden with WithInputSchema / WithOutputSchema.
func NewStep[In, Out any](id string, fn StepFunc[In, Out], opts ...StepOption) Step {
	cfg := applyStepOptions(opts)
	s := &funcStep{id: id, description: cfg.description}

	s.input = cfg.input
	if !cfg.inputSet {
		schema, err := structured.SchemaFor[In]()
		if err != nil {
			s.err = fmt.Errorf("step %s: input schema: %w", id, err)
		}
		s.input = schema
	}
	s.output = cfg.output
	if !cfg.outputSet {
		schema, err := structured.SchemaFor[Out]()
		if err != nil && s.err == nil {
			s.err = fmt.Errorf("step %s: output schema: %w", id, err)
		}
		s.output = schema
	}

	s.fn = func(ctx context.Context, sc *StepContext, input json.RawMessage) (json.RawMessage, error) {
		var in In
		if len(input) > 0 {
			if err := json.Unmarshal(input, &in); err != nil {
				return nil, fmt.Errorf("decode input: %w", err)
			}
		}
		out, err := fn(ctx, sc, in)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("encode output: %w", err)
		}
		return data, nil
	}
	return s
}

// NewRawStep creates a step that works on JSON directly. Nil schemas accept any JSON.
func NewRawStep(id string, input, output *structured.JSONSchema, fn RawStepFunc, opts ...StepOption) Step {
	cfg := applyStepOptions(opts)
	if cfg.inputSet {
		input = cfg.input
	}
	if cfg.outputSet {
		output = cfg.output
	}
	return &funcStep{
		id:          id,
		description: cfg.description,
		input:       input,
		output:      output,
		fn:          fn,
	}
}

func applyStepOptions(opts []StepOption) stepConfig {
	var cfg stepConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
