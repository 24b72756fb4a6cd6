package agent

import (
	"fmt"
	"sort"
	"sync"
)

// Registry 按名称保存已创建的 Agent。它是显式传递的依赖，没有包级单例。
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*Agent
}

func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]*Agent)}
}

func (r *Registry) Register(a *Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.agents[a.Name()]; exists {
		return fmt.Errorf("agent %s already registered", a.Name())
	}
	r.agents[a.Name()] = a
	return nil
}

func (r *Registry) Get(name string) (*Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[name]
	return a, ok
}

// MustGet panics when name is not registered; for wiring code only.
func (r *Registry) MustGet(name string) *Agent {
	a, ok := r.Get(name)
	if !ok {
		panic(fmt.Sprintf("agent %s not registered", name))
	}
	return a
}

// Names returns the registered agent names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
