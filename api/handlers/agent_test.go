package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/storyflow/agent"
	"github.com/BaSui01/storyflow/llm/tools"
	"github.com/BaSui01/storyflow/testutil/mocks"
)

type topicInput struct {
	Topic string `json:"topic"`
}

func newTestAgents(t *testing.T) *agent.Registry {
	t.Helper()
	provider := mocks.NewMockProvider()
	lookup := tools.New("lookup", "Looks up a topic", func(_ context.Context, in topicInput) (string, error) {
		return in.Topic, nil
	})

	reg := agent.NewRegistry()
	researcher, err := agent.New(agent.Config{
		Name:         "research-agent",
		Instructions: "Research the question.",
		Tools:        []tools.Tool{lookup},
	}, provider)
	require.NoError(t, err)
	require.NoError(t, reg.Register(researcher))

	facilitator, err := agent.New(agent.Config{
		Name:         "facilitator-agent",
		Instructions: "Facilitate the session.",
		Memory:       &agent.MemoryConfig{Template: "# Notes"},
	}, provider)
	require.NoError(t, err)
	require.NoError(t, reg.Register(facilitator))
	return reg
}

func TestAgentHandler_HandleListAgents(t *testing.T) {
	handler := NewAgentHandler(newTestAgents(t), zap.NewNop())

	w := httptest.NewRecorder()
	handler.HandleListAgents(w, httptest.NewRequest(http.MethodGet, "/v1/agents", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decodeResponse(t, w)
	assert.True(t, resp.Success)

	agents, ok := resp.Data.([]any)
	require.True(t, ok)
	require.Len(t, agents, 2)
	first := agents[0].(map[string]any)
	assert.Equal(t, "facilitator-agent", first["name"])
	assert.Equal(t, true, first["memory"])
	assert.Empty(t, first["tools"])
}

func TestAgentHandler_HandleGetAgent(t *testing.T) {
	mux := http.NewServeMux()
	handler := NewAgentHandler(newTestAgents(t), nil)
	mux.HandleFunc("GET /v1/agents/{name}", handler.HandleGetAgent)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/agents/research-agent", nil))
	require.Equal(t, http.StatusOK, w.Code)
	info := decodeResponse(t, w).Data.(map[string]any)
	assert.Equal(t, []any{"lookup"}, info["tools"])
	assert.Equal(t, false, info["memory"])

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/agents/ghost", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
