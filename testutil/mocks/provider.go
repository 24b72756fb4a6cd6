// MockProvider 的 LLM 提供商测试模拟实现。
//
// 支持按顺序脚本化回复、按请求路由回复与错误注入。
package mocks

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/storyflow/llm"
)

// --- MockProvider 结构 ---

// MockProvider 是 llm.Provider 的模拟实现。回复的选择顺序：
// 预设错误 → 路由函数 → 脚本队列 → 默认回复。
type MockProvider struct {
	mu sync.Mutex

	response string
	script   []*llm.ChatResponse
	err      error
	router   func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)

	promptTokens     int
	completionTokens int
	delay            time.Duration

	calls []MockProviderCall
}

// MockProviderCall 记录单次调用
type MockProviderCall struct {
	Request  *llm.ChatRequest
	Response *llm.ChatResponse
	Error    error
}

// --- 构造函数和 Builder 方法 ---

// NewMockProvider 创建新的 MockProvider
func NewMockProvider() *MockProvider {
	return &MockProvider{
		response:         "Mock response",
		promptTokens:     10,
		completionTokens: 20,
	}
}

// WithResponse 设置脚本耗尽后的默认回复
func (m *MockProvider) WithResponse(response string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.response = response
	return m
}

// WithError 设置返回错误
func (m *MockProvider) WithError(err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithDelay 模拟调用延迟，延迟期间响应 ctx 取消
func (m *MockProvider) WithDelay(d time.Duration) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// WithRouter 根据请求内容决定回复，适合多个 Agent 并发共享一个 Provider 的场景
func (m *MockProvider) WithRouter(fn func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.router = fn
	return m
}

// ThenText 追加一条文本回复
func (m *MockProvider) ThenText(content string) *MockProvider {
	return m.Then(TextResponse(content))
}

// ThenToolCalls 追加一条工具调用回复
func (m *MockProvider) ThenToolCalls(calls ...llm.ToolCall) *MockProvider {
	return m.Then(ToolCallResponse(calls...))
}

// Then 追加一条完整回复
func (m *MockProvider) Then(resp *llm.ChatResponse) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, resp)
	return m
}

func (m *MockProvider) Name() string { return "mock" }

// Completion 生成响应
func (m *MockProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	m.mu.Lock()
	delay := m.delay
	m.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			m.record(req, nil, ctx.Err())
			return nil, ctx.Err()
		}
	}

	resp, err := m.next(ctx, req)
	if resp != nil {
		if resp.Model == "" {
			resp.Model = req.Model
		}
		if resp.Usage.TotalTokens == 0 {
			resp.Usage = llm.ChatUsage{
				PromptTokens:     m.promptTokens,
				CompletionTokens: m.completionTokens,
				TotalTokens:      m.promptTokens + m.completionTokens,
			}
		}
	}
	m.record(req, resp, err)
	return resp, err
}

func (m *MockProvider) next(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	m.mu.Lock()
	if m.err != nil {
		err := m.err
		m.mu.Unlock()
		return nil, err
	}
	router := m.router
	if router == nil && len(m.script) > 0 {
		resp := m.script[0]
		m.script = m.script[1:]
		m.mu.Unlock()
		return resp, nil
	}
	fallback := m.response
	m.mu.Unlock()

	if router != nil {
		return router(ctx, req)
	}
	return TextResponse(fallback), nil
}

func (m *MockProvider) record(req *llm.ChatRequest, resp *llm.ChatResponse, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockProviderCall{Request: req, Response: resp, Error: err})
}

// --- 查询方法 ---

// GetCalls 获取所有调用记录
func (m *MockProvider) GetCalls() []MockProviderCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockProviderCall{}, m.calls...)
}

// GetCallCount 获取调用次数
func (m *MockProvider) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// GetLastCall 获取最后一次调用
func (m *MockProvider) GetLastCall() *MockProviderCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return nil
	}
	call := m.calls[len(m.calls)-1]
	return &call
}

// Reset 重置所有状态
func (m *MockProvider) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.script = nil
	m.err = nil
}

// --- 回复构造 ---

// TextResponse 构造一条纯文本回复
func TextResponse(content string) *llm.ChatResponse {
	return &llm.ChatResponse{
		ID:       "mock-response-id",
		Provider: "mock",
		Choices: []llm.ChatChoice{{
			FinishReason: "stop",
			Message:      llm.Message{Role: llm.RoleAssistant, Content: content},
		}},
		CreatedAt: time.Now(),
	}
}

// ToolCallResponse 构造一条要求执行工具的回复
func ToolCallResponse(calls ...llm.ToolCall) *llm.ChatResponse {
	return &llm.ChatResponse{
		ID:       "mock-response-id",
		Provider: "mock",
		Choices: []llm.ChatChoice{{
			FinishReason: "tool_calls",
			Message:      llm.Message{Role: llm.RoleAssistant, ToolCalls: calls},
		}},
		CreatedAt: time.Now(),
	}
}

// SystemPrompt 返回请求中的系统提示
func SystemPrompt(req *llm.ChatRequest) string {
	for _, msg := range req.Messages {
		if msg.Role == llm.RoleSystem {
			return msg.Content
		}
	}
	return ""
}

// UserPrompt 返回请求中最后一条用户消息
func UserPrompt(req *llm.ChatRequest) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == llm.RoleUser {
			return req.Messages[i].Content
		}
	}
	return ""
}

// --- 预设 Provider 工厂 ---

// NewSuccessProvider 创建总是成功的 Provider
func NewSuccessProvider(response string) *MockProvider {
	return NewMockProvider().WithResponse(response)
}

// NewErrorProvider 创建总是失败的 Provider
func NewErrorProvider(err error) *MockProvider {
	return NewMockProvider().WithError(err)
}

// NewKeywordProvider 根据系统提示中包含的关键字选择回复；没有匹配时返回错误
func NewKeywordProvider(replies map[string]string) *MockProvider {
	return NewMockProvider().WithRouter(func(_ context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
		system := SystemPrompt(req)
		best := ""
		for keyword := range replies {
			if strings.Contains(system, keyword) && len(keyword) > len(best) {
				best = keyword
			}
		}
		if best == "" {
			return nil, errors.New("mock provider: no scripted reply for request")
		}
		return TextResponse(replies[best]), nil
	})
}
