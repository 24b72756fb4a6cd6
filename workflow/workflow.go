package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/BaSui01/storyflow/agent/structured"
)

// NodeKind 图节点类型
type NodeKind string

const (
	NodeThen     NodeKind = "then"
	NodeParallel NodeKind = "parallel"
	NodeForeach  NodeKind = "foreach"
	NodeBranch   NodeKind = "branch"
)

// Condition decides whether a branch case runs for the current payload.
type Condition func(ctx context.Context, input json.RawMessage) (bool, error)

// Match adapts a typed predicate into a Condition. Payloads that do not
// decode into T do not match.
func Match[T any](fn func(T) bool) Condition {
	return func(_ context.Context, input json.RawMessage) (bool, error) {
		var v T
		if err := json.Unmarshal(input, &v); err != nil {
			return false, nil
		}
		return fn(v), nil
	}
}

// BranchCase pairs a step with the condition that selects it.
type BranchCase struct {
	step Step
	cond Condition
}

// When creates a branch case that runs step when cond holds.
func When(step Step, cond Condition) BranchCase {
	return BranchCase{step: step, cond: cond}
}

// Otherwise creates a branch case that always matches.
func Otherwise(step Step) BranchCase {
	return BranchCase{step: step}
}

// Step returns the case's step.
func (c BranchCase) Step() Step { return c.step }

func (c BranchCase) matches(ctx context.Context, input json.RawMessage) (bool, error) {
	if c.cond == nil {
		return true, nil
	}
	return c.cond(ctx, input)
}

// ForeachOption configures a foreach node.
type ForeachOption func(*node)

// WithConcurrency bounds how many elements run at once for this node,
// overriding the executor default. n <= 0 means unbounded.
func WithConcurrency(n int) ForeachOption {
	return func(nd *node) {
		nd.concurrency = n
		nd.concurrencySet = true
	}
}

type node struct {
	kind           NodeKind
	steps          []Step
	cases          []BranchCase
	concurrency    int
	concurrencySet bool
}

func (n *node) name() string {
	ids := n.stepIDs()
	if n.kind == NodeThen {
		return ids[0]
	}
	return fmt.Sprintf("%s(%s)", n.kind, strings.Join(ids, ","))
}

// pendingStep maps a suspension key back to the step that owns it:
// the element index for foreach, the step id otherwise.
func (n *node) pendingStep(key string) Step {
	switch n.kind {
	case NodeForeach:
		if i, err := strconv.Atoi(key); err == nil && i >= 0 {
			return n.steps[0]
		}
	case NodeBranch:
		for _, c := range n.cases {
			if c.step.ID() == key {
				return c.step
			}
		}
	default:
		for _, s := range n.steps {
			if s.ID() == key {
				return s
			}
		}
	}
	return nil
}

func (n *node) stepIDs() []string {
	ids := make([]string, 0, len(n.steps)+len(n.cases))
	for _, s := range n.steps {
		ids = append(ids, s.ID())
	}
	for _, c := range n.cases {
		ids = append(ids, c.step.ID())
	}
	return ids
}

func (n *node) allSteps() []Step {
	steps := append([]Step(nil), n.steps...)
	for _, c := range n.cases {
		steps = append(steps, c.step)
	}
	return steps
}

func (n *node) inputSchema() *structured.JSONSchema {
	switch n.kind {
	case NodeThen:
		return n.steps[0].InputSchema()
	case NodeForeach:
		return structured.NewArraySchema(n.steps[0].InputSchema())
	default:
		return intersectInputs(n.allSteps())
	}
}

func (n *node) outputSchema() *structured.JSONSchema {
	switch n.kind {
	case NodeThen:
		return n.steps[0].OutputSchema()
	case NodeForeach:
		return structured.NewArraySchema(n.steps[0].OutputSchema())
	case NodeParallel:
		// fan-in record keyed by branch step ids
		schema := structured.NewObjectSchema().WithAdditionalProperties(false)
		for _, s := range n.steps {
			schema.AddProperty(s.ID(), outputOrAny(s)).AddRequired(s.ID())
		}
		return schema
	default:
		// exactly one key: the id of the executed case
		alts := make([]*structured.JSONSchema, 0, len(n.cases))
		for _, c := range n.cases {
			id := c.step.ID()
			alts = append(alts, structured.NewObjectSchema().
				AddProperty(id, outputOrAny(c.step)).
				AddRequired(id).
				WithAdditionalProperties(false))
		}
		return &structured.JSONSchema{Type: structured.TypeObject, AnyOf: alts}
	}
}

func outputOrAny(s Step) *structured.JSONSchema {
	if out := s.OutputSchema(); out != nil {
		return out
	}
	return &structured.JSONSchema{}
}

// intersectInputs builds the schema a payload must satisfy to be fed to every step.
func intersectInputs(steps []Step) *structured.JSONSchema {
	var merged *structured.JSONSchema
	for _, s := range steps {
		in := s.InputSchema()
		if in.IsAny() {
			continue
		}
		if merged == nil {
			merged = in.Clone()
			continue
		}
		if merged.Type != structured.TypeObject || in.Type != structured.TypeObject {
			continue
		}
		for _, name := range in.PropertyNames() {
			if !merged.HasProperty(name) {
				merged.AddProperty(name, in.Properties[name])
			}
		}
		merged.AddRequired(in.Required...)
	}
	return merged
}

// NodeInfo describes one node of a committed workflow.
type NodeInfo struct {
	Kind  NodeKind `json:"kind"`
	Steps []string `json:"steps"`
}

// Workflow is a committed, immutable graph of steps. It is safe for
// concurrent runs.
type Workflow struct {
	id          string
	description string
	nodes       []*node
	input       *structured.JSONSchema
	output      *structured.JSONSchema
}

// ID 返回工作流 ID
func (w *Workflow) ID() string { return w.id }

// Description 返回工作流描述
func (w *Workflow) Description() string { return w.description }

// InputSchema returns the schema the run input must satisfy.
func (w *Workflow) InputSchema() *structured.JSONSchema { return w.input }

// OutputSchema returns the schema of the final output.
func (w *Workflow) OutputSchema() *structured.JSONSchema { return w.output }

// Nodes returns the node layout in execution order.
func (w *Workflow) Nodes() []NodeInfo {
	infos := make([]NodeInfo, 0, len(w.nodes))
	for _, n := range w.nodes {
		infos = append(infos, NodeInfo{Kind: n.kind, Steps: n.stepIDs()})
	}
	return infos
}

// StepIDs returns every step id in declaration order.
func (w *Workflow) StepIDs() []string {
	var ids []string
	for _, n := range w.nodes {
		ids = append(ids, n.stepIDs()...)
	}
	return ids
}
