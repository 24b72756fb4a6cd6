package dsl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/BaSui01/storyflow/workflow"
	"gopkg.in/yaml.v3"
)

// Parser DSL 解析器
type Parser struct {
	registry *Registry
	// conditionRegistry 命名条件，优先于表达式求值
	conditionRegistry map[string]workflow.Condition
}

// NewParser 创建 DSL 解析器
func NewParser(registry *Registry) *Parser {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Parser{
		registry:          registry,
		conditionRegistry: make(map[string]workflow.Condition),
	}
}

// Registry 返回步骤注册表
func (p *Parser) Registry() *Registry { return p.registry }

// RegisterCondition 注册命名条件，when 字段与名称完全相同时使用
func (p *Parser) RegisterCondition(name string, fn workflow.Condition) {
	p.conditionRegistry[name] = fn
}

// ParseFile 从文件解析 DSL
func (p *Parser) ParseFile(filename string) (*workflow.Workflow, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read DSL file: %w", err)
	}
	wf, err := p.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(filename), err)
	}
	return wf, nil
}

// ParseDir 解析目录下全部 .yaml / .yml 文件，按文件名排序
func (p *Parser) ParseDir(dir string) ([]*workflow.Workflow, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read DSL dir: %w", err)
	}
	var (
		workflows []*workflow.Workflow
		errs      []error
	)
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		wf, err := p.ParseFile(filepath.Join(dir, e.Name()))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		workflows = append(workflows, wf)
	}
	return workflows, errors.Join(errs...)
}

// Parse 从 YAML 字节解析 DSL 并提交为工作流
func (p *Parser) Parse(data []byte) (*workflow.Workflow, error) {
	var dsl PipelineDSL
	if err := yaml.Unmarshal(data, &dsl); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}

	// 1. 验证 DSL
	if err := p.validate(&dsl); err != nil {
		return nil, fmt.Errorf("validate DSL: %w", err)
	}

	// 2. 解析变量默认值
	vars := resolveVariables(dsl.Variables)

	// 3. 通过 Builder 构建并提交
	b := workflow.New(dsl.ID, workflow.WithWorkflowDescription(dsl.Description))
	for i := range dsl.Nodes {
		if err := p.buildNode(b, &dsl.Nodes[i], vars); err != nil {
			return nil, fmt.Errorf("build nodes[%d]: %w", i, err)
		}
	}
	return b.Commit()
}

// validate 验证 DSL
func (p *Parser) validate(dsl *PipelineDSL) error {
	errs := NewValidator(p.registry).Validate(dsl)
	if len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return fmt.Errorf("validation errors: %s", strings.Join(msgs, "; "))
	}
	return nil
}

// buildNode 将单个节点追加到 Builder
func (p *Parser) buildNode(b *workflow.Builder, def *NodeDef, vars map[string]any) error {
	switch def.kind() {
	case "then":
		b.Then(p.mustStep(def.Then))

	case "parallel":
		steps := make([]workflow.Step, len(def.Parallel))
		for i, ref := range def.Parallel {
			steps[i] = p.mustStep(ref)
		}
		b.Parallel(steps...)

	case "foreach":
		var opts []workflow.ForeachOption
		if def.Options != nil && def.Options.Concurrency != nil {
			opts = append(opts, workflow.WithConcurrency(*def.Options.Concurrency))
		}
		b.Foreach(p.mustStep(def.Foreach), opts...)

	case "branch":
		cases := make([]workflow.BranchCase, len(def.Branch))
		for i, c := range def.Branch {
			step := p.mustStep(c.Step)
			if c.When == "" {
				cases[i] = workflow.Otherwise(step)
				continue
			}
			cond, err := p.resolveCondition(c.When, vars)
			if err != nil {
				return fmt.Errorf("case %s: %w", c.Step, err)
			}
			cases[i] = workflow.When(step, cond)
		}
		b.Branch(cases...)

	default:
		return fmt.Errorf("unknown node kind")
	}
	return nil
}

// mustStep 查找已通过验证的步骤引用
func (p *Parser) mustStep(ref string) workflow.Step {
	s, _ := p.registry.Lookup(ref)
	return s
}

// resolveCondition 解析条件表达式
func (p *Parser) resolveCondition(expr string, vars map[string]any) (workflow.Condition, error) {
	// 1. 检查是否是注册的命名条件
	if fn, ok := p.conditionRegistry[expr]; ok {
		return fn, nil
	}

	// 2. 表达式求值
	return p.parseSimpleExpression(expr, vars)
}

// parseSimpleExpression 将表达式编译为条件：变量先插值，再对当前载荷求值。
// 对象载荷的字段可直接引用，整个载荷总可以通过 input 引用。
func (p *Parser) parseSimpleExpression(expr string, vars map[string]any) (workflow.Condition, error) {
	resolved := interpolate(expr, vars)
	compiled, err := compileExpr(resolved)
	if err != nil {
		return nil, err
	}
	return func(_ context.Context, input json.RawMessage) (bool, error) {
		env := maps.Clone(vars)
		if env == nil {
			env = make(map[string]any)
		}
		var payload any
		if len(input) > 0 {
			if err := json.Unmarshal(input, &payload); err != nil {
				return false, fmt.Errorf("decode condition input: %w", err)
			}
		}
		if m, ok := payload.(map[string]any); ok {
			for k, v := range m {
				if _, static := env[k]; !static {
					env[k] = v
				}
			}
		}
		env["input"] = payload
		return toBool(compiled.eval(env)), nil
	}, nil
}

// resolveVariables 解析变量默认值
func resolveVariables(varDefs map[string]VariableDef) map[string]any {
	vars := make(map[string]any)
	for name, def := range varDefs {
		if def.Default != nil {
			vars[name] = def.Default
		}
	}
	return vars
}

// interpolate 变量插值（替换 ${var_name}），按名称排序以保证结果确定
func interpolate(template string, vars map[string]any) string {
	result := template
	for _, name := range slices.Sorted(maps.Keys(vars)) {
		placeholder := "${" + name + "}"
		result = strings.ReplaceAll(result, placeholder, fmt.Sprintf("%v", vars[name]))
	}
	return result
}
