package dsl

import (
	"fmt"
	"slices"
	"sync"

	"github.com/BaSui01/storyflow/workflow"
)

// Registry 步骤注册表，DSL 中的步骤名在此解析为具体 Step
type Registry struct {
	mu    sync.RWMutex
	steps map[string]workflow.Step
}

// NewRegistry 创建注册表，并注册给定步骤。重复或缺少 ID 的步骤会 panic，
// 运行期注册请用 Register 处理错误。
func NewRegistry(steps ...workflow.Step) *Registry {
	r := &Registry{steps: make(map[string]workflow.Step)}
	for _, s := range steps {
		if err := r.Register(s); err != nil {
			panic(err)
		}
	}
	return r
}

// Register 按 Step.ID 注册步骤，重复 ID 返回错误
func (r *Registry) Register(step workflow.Step) error {
	if step == nil || step.ID() == "" {
		return fmt.Errorf("step must have an id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.steps[step.ID()]; exists {
		return fmt.Errorf("step %q already registered", step.ID())
	}
	r.steps[step.ID()] = step
	return nil
}

// Lookup 查找步骤
func (r *Registry) Lookup(id string) (workflow.Step, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.steps[id]
	return s, ok
}

// Has 判断步骤是否已注册
func (r *Registry) Has(id string) bool {
	_, ok := r.Lookup(id)
	return ok
}

// IDs 返回已注册的步骤 ID（已排序）
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.steps))
	for id := range r.steps {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
