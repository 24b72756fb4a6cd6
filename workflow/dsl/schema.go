package dsl

// PipelineDSL 流水线 DSL 顶层结构
type PipelineDSL struct {
	// Version DSL 版本
	Version string `yaml:"version" json:"version"`
	// ID 工作流 ID（即注册和运行时使用的名称）
	ID string `yaml:"id" json:"id"`
	// Description 工作流描述
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Variables 全局变量，可在 when 表达式中以 ${name} 引用
	Variables map[string]VariableDef `yaml:"variables,omitempty" json:"variables,omitempty"`

	// Nodes 按声明顺序执行的节点
	Nodes []NodeDef `yaml:"nodes" json:"nodes"`

	// Metadata 元数据
	Metadata map[string]any `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// VariableDef 变量定义
type VariableDef struct {
	Type        string `yaml:"type,omitempty" json:"type,omitempty"`               // string, int, float, bool
	Default     any    `yaml:"default,omitempty" json:"default,omitempty"`         // 默认值
	Description string `yaml:"description,omitempty" json:"description,omitempty"` // 描述
}

// NodeDef 节点定义，then / parallel / foreach / branch 四者必须且只能设置一个
type NodeDef struct {
	Then     string      `yaml:"then,omitempty" json:"then,omitempty"`         // 引用注册表中的步骤
	Parallel []string    `yaml:"parallel,omitempty" json:"parallel,omitempty"` // 并行步骤列表
	Foreach  string      `yaml:"foreach,omitempty" json:"foreach,omitempty"`   // 对数组逐元素执行的步骤
	Branch   []CaseDef   `yaml:"branch,omitempty" json:"branch,omitempty"`     // 条件分支
	Options  *ForeachDef `yaml:"options,omitempty" json:"options,omitempty"`   // foreach 选项
}

// CaseDef 分支定义；When 为空表示 otherwise，只能出现在最后
type CaseDef struct {
	When string `yaml:"when,omitempty" json:"when,omitempty"`
	Step string `yaml:"step" json:"step"`
}

// ForeachDef foreach 节点选项
type ForeachDef struct {
	// Concurrency 未设置时沿用执行器默认值；0 或负数表示不限
	Concurrency *int `yaml:"concurrency,omitempty" json:"concurrency,omitempty"`
}

// kind 返回节点类型，未设置或设置多个时返回空字符串
func (n *NodeDef) kind() string {
	var kinds []string
	if n.Then != "" {
		kinds = append(kinds, "then")
	}
	if len(n.Parallel) > 0 {
		kinds = append(kinds, "parallel")
	}
	if n.Foreach != "" {
		kinds = append(kinds, "foreach")
	}
	if len(n.Branch) > 0 {
		kinds = append(kinds, "branch")
	}
	if len(kinds) != 1 {
		return ""
	}
	return kinds[0]
}

// stepRefs 返回节点引用的全部步骤名
func (n *NodeDef) stepRefs() []string {
	switch n.kind() {
	case "then":
		return []string{n.Then}
	case "parallel":
		return n.Parallel
	case "foreach":
		return []string{n.Foreach}
	case "branch":
		refs := make([]string, 0, len(n.Branch))
		for _, c := range n.Branch {
			refs = append(refs, c.Step)
		}
		return refs
	}
	return nil
}
