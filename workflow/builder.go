package workflow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BaSui01/storyflow/agent/structured"
	"github.com/BaSui01/storyflow/types"
)

// Builder assembles a workflow with then / parallel / foreach / branch
// combinators. Errors are collected and reported by Commit.
//
//	wf, err := workflow.New("story").
//		Then(frame).
//		Parallel(a, b).
//		Then(merge).
//		Commit()
type Builder struct {
	id          string
	description string
	input       *structured.JSONSchema
	output      *structured.JSONSchema
	nodes       []*node
	errs        []error
	committed   bool
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithWorkflowDescription sets the workflow description.
func WithWorkflowDescription(desc string) BuilderOption {
	return func(b *Builder) { b.description = desc }
}

// WithWorkflowInput declares the workflow input schema. It must satisfy the
// first node's input schema.
func WithWorkflowInput(schema *structured.JSONSchema) BuilderOption {
	return func(b *Builder) { b.input = schema }
}

// WithWorkflowOutput declares the workflow output schema. The last node's
// output must satisfy it.
func WithWorkflowOutput(schema *structured.JSONSchema) BuilderOption {
	return func(b *Builder) { b.output = schema }
}

// New 创建工作流构建器
func New(id string, opts ...BuilderOption) *Builder {
	b := &Builder{id: id}
	for _, opt := range opts {
		opt(b)
	}
	if strings.TrimSpace(id) == "" {
		b.errs = append(b.errs, errors.New("workflow id is required"))
	}
	return b
}

// Then appends a sequential step.
func (b *Builder) Then(step Step) *Builder {
	if b.checkMutable() && b.checkStep("then", step) {
		b.nodes = append(b.nodes, &node{kind: NodeThen, steps: []Step{step}})
	}
	return b
}

// Parallel fans the current payload out to every step. It must be followed by
// exactly one Then step that merges the keyed record.
func (b *Builder) Parallel(steps ...Step) *Builder {
	if !b.checkMutable() {
		return b
	}
	if len(steps) == 0 {
		b.errs = append(b.errs, errors.New("parallel requires at least one step"))
		return b
	}
	for _, s := range steps {
		if !b.checkStep("parallel", s) {
			return b
		}
	}
	b.nodes = append(b.nodes, &node{kind: NodeParallel, steps: steps})
	return b
}

// Foreach applies step to every element of the incoming array.
func (b *Builder) Foreach(step Step, opts ...ForeachOption) *Builder {
	if !b.checkMutable() || !b.checkStep("foreach", step) {
		return b
	}
	n := &node{kind: NodeForeach, steps: []Step{step}}
	for _, opt := range opts {
		opt(n)
	}
	b.nodes = append(b.nodes, n)
	return b
}

// Branch routes the payload to the first case whose condition holds.
func (b *Builder) Branch(cases ...BranchCase) *Builder {
	if !b.checkMutable() {
		return b
	}
	if len(cases) == 0 {
		b.errs = append(b.errs, errors.New("branch requires at least one case"))
		return b
	}
	for i, c := range cases {
		if !b.checkStep("branch", c.step) {
			return b
		}
		if c.cond == nil && i != len(cases)-1 {
			b.errs = append(b.errs, fmt.Errorf("branch: otherwise case %s must be last", c.step.ID()))
		}
	}
	b.nodes = append(b.nodes, &node{kind: NodeBranch, cases: cases})
	return b
}

// Commit validates the graph and freezes it. The builder cannot be used
// afterwards.
func (b *Builder) Commit() (*Workflow, error) {
	if b.committed {
		return nil, types.NewError(types.ErrInvalidGraph, fmt.Sprintf("workflow %s already committed", b.id))
	}
	b.committed = true

	errs := append([]error(nil), b.errs...)
	if len(b.nodes) == 0 {
		errs = append(errs, errors.New("workflow has no steps"))
	}
	errs = append(errs, b.checkIDs()...)
	errs = append(errs, b.checkEdges()...)

	if len(errs) > 0 {
		msgs := make([]string, 0, len(errs))
		for _, err := range errs {
			msgs = append(msgs, err.Error())
		}
		return nil, types.Errorf(types.ErrInvalidGraph, "workflow %s: %s", b.id, strings.Join(msgs, "; "))
	}

	wf := &Workflow{
		id:          b.id,
		description: b.description,
		nodes:       b.nodes,
		input:       b.input,
		output:      b.output,
	}
	if wf.input == nil {
		wf.input = b.nodes[0].inputSchema()
	}
	if wf.output == nil {
		wf.output = b.nodes[len(b.nodes)-1].outputSchema()
	}
	return wf, nil
}

func (b *Builder) checkMutable() bool {
	if b.committed {
		b.errs = append(b.errs, errors.New("builder used after commit"))
		return false
	}
	return true
}

func (b *Builder) checkStep(combinator string, step Step) bool {
	if step == nil {
		b.errs = append(b.errs, fmt.Errorf("%s: step is nil", combinator))
		return false
	}
	if strings.TrimSpace(step.ID()) == "" {
		b.errs = append(b.errs, fmt.Errorf("%s: step id is required", combinator))
		return false
	}
	if be, ok := step.(interface{ buildError() error }); ok && be.buildError() != nil {
		b.errs = append(b.errs, be.buildError())
		return false
	}
	return true
}

func (b *Builder) checkIDs() []error {
	var errs []error
	seen := make(map[string]bool)
	for _, n := range b.nodes {
		for _, id := range n.stepIDs() {
			if seen[id] {
				errs = append(errs, fmt.Errorf("duplicate step id %q", id))
			}
			seen[id] = true
		}
	}
	return errs
}

func (b *Builder) checkEdges() []error {
	var errs []error
	if len(b.nodes) == 0 {
		return nil
	}

	if b.input != nil {
		errs = append(errs, feedErrors("workflow input", b.input, b.nodes[0])...)
	}

	for i, n := range b.nodes {
		if n.kind == NodeParallel {
			if i+1 >= len(b.nodes) || b.nodes[i+1].kind != NodeThen {
				errs = append(errs, fmt.Errorf("%s must be followed by a single merge step", n.name()))
			}
		}
		if i == 0 {
			continue
		}
		prev := b.nodes[i-1]
		errs = append(errs, feedErrors(prev.name(), prev.outputSchema(), n)...)
	}

	if b.output != nil {
		last := b.nodes[len(b.nodes)-1]
		if err := structured.Compatible(last.outputSchema(), b.output); err != nil {
			errs = append(errs, fmt.Errorf("%s -> workflow output: %w", last.name(), err))
		}
	}
	return errs
}

// feedErrors checks that a producer schema can feed every step of n.
func feedErrors(from string, produced *structured.JSONSchema, n *node) []error {
	var errs []error
	switch n.kind {
	case NodeForeach:
		step := n.steps[0]
		if produced.IsAny() {
			return nil
		}
		if produced.Type != structured.TypeArray {
			return []error{fmt.Errorf("%s -> %s: foreach needs an array input, got %s", from, step.ID(), describeType(produced))}
		}
		if err := structured.Compatible(produced.Items, step.InputSchema()); err != nil {
			errs = append(errs, fmt.Errorf("%s -> %s: %w", from, step.ID(), err))
		}
	default:
		for _, step := range n.allSteps() {
			if err := structured.Compatible(produced, step.InputSchema()); err != nil {
				errs = append(errs, fmt.Errorf("%s -> %s: %w", from, step.ID(), err))
			}
		}
	}
	return errs
}

func describeType(s *structured.JSONSchema) string {
	if s.Type == "" {
		return "untyped schema"
	}
	return string(s.Type)
}
