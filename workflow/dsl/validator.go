package dsl

import (
	"fmt"
	"regexp"
)

var variableRefPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Validator DSL 验证器
type Validator struct {
	registry *Registry
}

// NewValidator 创建验证器；registry 为 nil 时不检查步骤引用
func NewValidator(registry *Registry) *Validator {
	return &Validator{registry: registry}
}

// Validate 验证 DSL 定义
func (v *Validator) Validate(dsl *PipelineDSL) []error {
	var errs []error

	if dsl.Version == "" {
		errs = append(errs, fmt.Errorf("version is required"))
	}
	if dsl.ID == "" {
		errs = append(errs, fmt.Errorf("id is required"))
	}
	if len(dsl.Nodes) == 0 {
		errs = append(errs, fmt.Errorf("nodes must have at least one node"))
	}

	for i := range dsl.Nodes {
		errs = append(errs, v.validateNode(i, &dsl.Nodes[i], dsl)...)
	}
	return errs
}

// validateNode 验证单个节点
func (v *Validator) validateNode(idx int, node *NodeDef, dsl *PipelineDSL) []error {
	var errs []error
	where := fmt.Sprintf("nodes[%d]", idx)

	kind := node.kind()
	if kind == "" {
		return []error{fmt.Errorf("%s: exactly one of then, parallel, foreach, branch is required", where)}
	}
	if node.Options != nil && kind != "foreach" {
		errs = append(errs, fmt.Errorf("%s: options are only valid on foreach nodes", where))
	}

	for _, ref := range node.stepRefs() {
		if ref == "" {
			errs = append(errs, fmt.Errorf("%s: step reference is empty", where))
			continue
		}
		if v.registry != nil && !v.registry.Has(ref) {
			errs = append(errs, fmt.Errorf("%s: step %q is not registered", where, ref))
		}
	}

	if kind == "branch" {
		for i, c := range node.Branch {
			if c.When == "" {
				if i != len(node.Branch)-1 {
					errs = append(errs, fmt.Errorf("%s: otherwise case (%s) must be last", where, c.Step))
				}
				continue
			}
			for _, name := range extractVariableRefs(c.When) {
				if _, ok := dsl.Variables[name]; !ok {
					errs = append(errs, fmt.Errorf("%s: undefined variable %q in when %q", where, name, c.When))
				}
			}
			if _, err := compileExpr(interpolate(c.When, resolveVariables(dsl.Variables))); err != nil {
				errs = append(errs, fmt.Errorf("%s: invalid when %q: %w", where, c.When, err))
			}
		}
	}
	return errs
}

// extractVariableRefs 提取 ${var} 变量引用
func extractVariableRefs(s string) []string {
	matches := variableRefPattern.FindAllStringSubmatch(s, -1)
	refs := make([]string, 0, len(matches))
	for _, m := range matches {
		refs = append(refs, m[1])
	}
	return refs
}
