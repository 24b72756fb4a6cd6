package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/storyflow/agent/memory"
	"github.com/BaSui01/storyflow/agent/structured"
	"github.com/BaSui01/storyflow/llm"
	"github.com/BaSui01/storyflow/llm/tools"
	"github.com/BaSui01/storyflow/testutil"
	"github.com/BaSui01/storyflow/testutil/mocks"
	"github.com/BaSui01/storyflow/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type persona struct {
	Name  string   `json:"name"`
	Goals []string `json:"goals"`
}

type personas struct {
	Personas []persona `json:"personas"`
}

type lookupInput struct {
	Topic string `json:"topic"`
}

func lookupTool(calls *int) tools.Tool {
	var mu sync.Mutex
	return tools.New("lookup", "Looks up a topic", func(_ context.Context, in lookupInput) (map[string]string, error) {
		mu.Lock()
		*calls++
		mu.Unlock()
		return map[string]string{"topic": in.Topic, "summary": "found"}, nil
	})
}

func newAgent(t *testing.T, cfg Config, provider llm.Provider, opts ...Option) *Agent {
	t.Helper()
	a, err := New(cfg, provider, opts...)
	require.NoError(t, err)
	return a
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{}, mocks.NewMockProvider())
	assert.Error(t, err)

	_, err = New(Config{Name: "x"}, nil)
	assert.Error(t, err)

	dup := tools.NewRaw("t", "", nil, func(context.Context, json.RawMessage) (json.RawMessage, error) { return nil, nil })
	_, err = New(Config{Name: "x", Tools: []tools.Tool{dup, dup}}, mocks.NewMockProvider())
	assert.Error(t, err)

	a := newAgent(t, Config{Name: "x"}, mocks.NewMockProvider())
	assert.Equal(t, DefaultModel, a.cfg.Model)
	assert.Equal(t, DefaultMaxToolRounds, a.cfg.MaxToolRounds)
	assert.Nil(t, a.WorkingMemory())
}

func TestGenerate_StructuredOutput(t *testing.T) {
	provider := mocks.NewMockProvider().
		ThenText("Here you go:\n```json\n{\"personas\":[{\"name\":\"Dev\",\"goals\":[\"ship\"]}]}\n```")
	a := newAgent(t, Config{Name: "Identify Personas Agent", Instructions: "Find personas."}, provider)

	var out personas
	resp, err := a.Generate(testutil.TestContext(t), "a todo app", structured.MustSchemaFor[personas](), &out, GenerateOptions{Temperature: 0.2})
	require.NoError(t, err)
	require.Len(t, out.Personas, 1)
	assert.Equal(t, "Dev", out.Personas[0].Name)
	testutil.AssertJSONEqual(t, `{"personas":[{"name":"Dev","goals":["ship"]}]}`, resp.JSON)
	assert.Equal(t, 30, resp.Usage.TotalTokens)

	req := provider.GetLastCall().Request
	assert.Equal(t, DefaultModel, req.Model)
	assert.InDelta(t, 0.2, req.Temperature, 1e-6)
	require.NotNil(t, req.ResponseFormat)
	system := mocks.SystemPrompt(req)
	assert.True(t, strings.HasPrefix(system, "Find personas."))
	assert.Contains(t, system, "JSON Schema")
	assert.Equal(t, "a todo app", mocks.UserPrompt(req))
}

func TestGenerate_InvalidStructuredOutput(t *testing.T) {
	provider := mocks.NewMockProvider().ThenText(`{"personas":"nope"}`)
	a := newAgent(t, Config{Name: "p"}, provider)

	var out personas
	_, err := a.Generate(context.Background(), "x", structured.MustSchemaFor[personas](), &out, GenerateOptions{})
	require.Error(t, err)
	assert.Equal(t, types.ErrAgentFailed, types.GetErrorCode(err))

	var verrs *structured.ValidationErrors
	assert.True(t, errors.As(err, &verrs))
}

func TestGenerate_PlainText(t *testing.T) {
	a := newAgent(t, Config{Name: "p"}, mocks.NewSuccessProvider("just words"))

	var out string
	resp, err := a.Generate(context.Background(), "x", nil, &out, GenerateOptions{})
	require.NoError(t, err)
	assert.Equal(t, "just words", out)
	assert.Equal(t, "just words", resp.Text)
	assert.Nil(t, resp.JSON)
}

func TestGenerate_ToolLoop(t *testing.T) {
	calls := 0
	provider := mocks.NewMockProvider().
		ThenToolCalls(
			llm.ToolCall{ID: "c1", Name: "lookup", Arguments: json.RawMessage(`{"topic":"a"}`)},
			llm.ToolCall{ID: "c2", Name: "lookup", Arguments: json.RawMessage(`{"topic":"b"}`)},
		).
		ThenText(`{"personas":[]}`)
	a := newAgent(t, Config{Name: "researcher", Tools: []tools.Tool{lookupTool(&calls)}}, provider)

	var out personas
	resp, err := a.Generate(context.Background(), "x", structured.MustSchemaFor[personas](), &out, GenerateOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 2, resp.ToolCalls)
	assert.Equal(t, []string{"lookup"}, a.ToolNames())

	last := provider.GetLastCall().Request
	require.Len(t, last.Tools, 1)
	assert.Nil(t, last.ResponseFormat)
	// system, user, assistant(tool calls), tool, tool
	require.Len(t, last.Messages, 5)
	assert.Equal(t, llm.RoleAssistant, last.Messages[2].Role)
	assert.Equal(t, llm.RoleTool, last.Messages[3].Role)
	assert.Equal(t, "c1", last.Messages[3].ToolCallID)
	assert.Contains(t, last.Messages[4].Content, `"topic":"b"`)
}

func TestGenerate_ToolFailurePropagates(t *testing.T) {
	failing := tools.NewRaw("jira", "", nil, func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return nil, types.NewError(types.ErrToolFailed, "jira returned 500")
	})
	provider := mocks.NewMockProvider().
		ThenToolCalls(llm.ToolCall{ID: "1", Name: "jira", Arguments: json.RawMessage(`{}`)})
	a := newAgent(t, Config{Name: "pm", Tools: []tools.Tool{failing}}, provider)

	_, err := a.Generate(context.Background(), "x", nil, nil, GenerateOptions{})
	require.Error(t, err)
	assert.Equal(t, types.ErrAgentFailed, types.GetErrorCode(err))
	assert.True(t, types.IsErrorCode(err, types.ErrToolFailed))
	assert.Equal(t, 1, provider.GetCallCount())
}

func TestGenerate_MaxToolRounds(t *testing.T) {
	calls := 0
	provider := mocks.NewMockProvider().WithRouter(func(context.Context, *llm.ChatRequest) (*llm.ChatResponse, error) {
		return mocks.ToolCallResponse(llm.ToolCall{ID: "x", Name: "lookup", Arguments: json.RawMessage(`{"topic":"loop"}`)}), nil
	})
	a := newAgent(t, Config{Name: "looper", MaxToolRounds: 2, Tools: []tools.Tool{lookupTool(&calls)}}, provider)

	_, err := a.Generate(context.Background(), "x", nil, nil, GenerateOptions{})
	require.Error(t, err)
	assert.Equal(t, types.ErrAgentFailed, types.GetErrorCode(err))
	assert.Contains(t, err.Error(), "exceeded 2 tool rounds")
	assert.Equal(t, 2, calls)
	assert.Equal(t, 3, provider.GetCallCount())
}

func TestGenerate_ProviderError(t *testing.T) {
	upstream := &llm.Error{Code: llm.ErrRateLimited, Message: "slow down", HTTPStatus: 429, Retryable: true, Provider: "openai"}
	a := newAgent(t, Config{Name: "p"}, mocks.NewErrorProvider(upstream))

	_, err := a.Generate(context.Background(), "x", nil, nil, GenerateOptions{})
	require.Error(t, err)
	assert.Equal(t, types.ErrAgentFailed, types.GetErrorCode(err))
	assert.True(t, types.IsErrorCode(err, types.ErrRateLimited))
}

func TestGenerate_Cancelled(t *testing.T) {
	a := newAgent(t, Config{Name: "p"}, mocks.NewMockProvider().WithDelay(time.Second))

	_, err := a.Generate(testutil.CancelledContext(), "x", nil, nil, GenerateOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGenerate_WorkingMemory(t *testing.T) {
	store := memory.NewInMemoryStore(nil)
	provider := mocks.NewMockProvider().
		ThenText("Noted.\n<working_memory>\ncurrentProjectKey: SCRUM\n</working_memory>").
		ThenText("Still SCRUM.")
	a := newAgent(t, Config{
		Name:   "Information Agent",
		Memory: &MemoryConfig{Template: "currentProjectKey:"},
	}, provider, WithMemoryStore(store))

	ctx := context.Background()
	first, err := a.Generate(ctx, "use SCRUM", nil, nil, GenerateOptions{SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, "Noted.", first.Text)
	assert.Contains(t, mocks.SystemPrompt(provider.GetLastCall().Request), "<working_memory>\ncurrentProjectKey:\n</working_memory>")

	stored, ok, err := store.Get(ctx, memory.Key("Information Agent", "s1"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "currentProjectKey: SCRUM", stored)

	_, err = a.Generate(ctx, "which project?", nil, nil, GenerateOptions{SessionID: "s1"})
	require.NoError(t, err)
	assert.Contains(t, mocks.SystemPrompt(provider.GetLastCall().Request), "currentProjectKey: SCRUM")

	// other sessions still start from the template
	v, err := a.WorkingMemory().Load(ctx, "s2")
	require.NoError(t, err)
	assert.Equal(t, "currentProjectKey:", v)
}

func TestGenerate_WorkingMemoryTrimmed(t *testing.T) {
	provider := mocks.NewSuccessProvider("ok")
	long := strings.Repeat("word ", 500)
	a := newAgent(t, Config{
		Name:   "trim",
		Memory: &MemoryConfig{Template: long, MaxTokens: 10},
	}, provider)

	_, err := a.Generate(context.Background(), "x", nil, nil, GenerateOptions{})
	require.NoError(t, err)
	system := mocks.SystemPrompt(provider.GetLastCall().Request)
	assert.Less(t, len(system), len(long))
}

func TestNew_MemoryTokenLimit(t *testing.T) {
	shared := &MemoryConfig{Template: "notes:"}
	limited := newAgent(t, Config{Name: "limited", Memory: shared}, mocks.NewMockProvider(), WithMemoryTokenLimit(50))
	assert.Equal(t, 50, limited.cfg.Memory.MaxTokens)

	// 共享的 MemoryConfig 不会被修改
	assert.Zero(t, shared.MaxTokens)
	plain := newAgent(t, Config{Name: "plain", Memory: shared}, mocks.NewMockProvider())
	assert.Equal(t, DefaultMaxMemoryTokens, plain.cfg.Memory.MaxTokens)

	explicit := newAgent(t, Config{Name: "explicit", Memory: &MemoryConfig{MaxTokens: 7}}, mocks.NewMockProvider(), WithMemoryTokenLimit(50))
	assert.Equal(t, 7, explicit.cfg.Memory.MaxTokens)
}

type countingObserver struct {
	mu       sync.Mutex
	statuses []string
}

func (o *countingObserver) LLMCalled(_, _, status string, _ time.Duration, _ llm.ChatUsage) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.statuses = append(o.statuses, status)
}

func TestGenerate_Observer(t *testing.T) {
	obs := &countingObserver{}
	a := newAgent(t, Config{Name: "p"}, mocks.NewSuccessProvider("ok"), WithObserver(obs))
	_, err := a.Generate(context.Background(), "x", nil, nil, GenerateOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, obs.statuses)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	a := newAgent(t, Config{Name: "b"}, mocks.NewMockProvider())
	require.NoError(t, r.Register(a))
	require.NoError(t, r.Register(newAgent(t, Config{Name: "a"}, mocks.NewMockProvider())))
	assert.Error(t, r.Register(a))

	got, ok := r.Get("b")
	assert.True(t, ok)
	assert.Same(t, a, got)
	assert.Equal(t, []string{"a", "b"}, r.Names())
	assert.Panics(t, func() { r.MustGet("missing") })
}
