package memory

import (
	"context"
	"strings"
)

// UpdateFunc computes the next working memory from the current one. exists is
// false when nothing has been stored under the key yet.
type UpdateFunc func(current string, exists bool) (string, error)

// WorkingMemoryStore 保存每个 (agent, session) 的工作记忆文本。
// Update 对同一个 key 的并发写入是串行化的：fn 总是看到上一次成功写入的值。
type WorkingMemoryStore interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Update(ctx context.Context, key string, fn UpdateFunc) (string, error)
}

// Key builds the store key for an agent session. An empty session maps to "default".
func Key(agent, session string) string {
	if session == "" {
		session = "default"
	}
	return normalize(agent) + ":" + session
}

func normalize(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "-")
}

// WorkingMemory binds a store to one agent and its template.
type WorkingMemory struct {
	store    WorkingMemoryStore
	agent    string
	template string
}

func NewWorkingMemory(store WorkingMemoryStore, agent, template string) *WorkingMemory {
	return &WorkingMemory{store: store, agent: agent, template: strings.TrimSpace(template)}
}

// Template returns the template used to seed empty sessions.
func (w *WorkingMemory) Template() string { return w.template }

// Load returns the session's memory, or the template when the session has none.
func (w *WorkingMemory) Load(ctx context.Context, session string) (string, error) {
	value, ok, err := w.store.Get(ctx, Key(w.agent, session))
	if err != nil {
		return "", err
	}
	if !ok {
		return w.template, nil
	}
	return value, nil
}

// Save replaces the session's memory.
func (w *WorkingMemory) Save(ctx context.Context, session, value string) error {
	return w.store.Set(ctx, Key(w.agent, session), strings.TrimSpace(value))
}

// Update applies fn to the session's memory; an empty session starts from the template.
func (w *WorkingMemory) Update(ctx context.Context, session string, fn func(current string) (string, error)) (string, error) {
	return w.store.Update(ctx, Key(w.agent, session), func(current string, exists bool) (string, error) {
		if !exists {
			current = w.template
		}
		return fn(current)
	})
}
