package handlers

import (
	"net/http"

	"github.com/BaSui01/storyflow/agent"
	"github.com/BaSui01/storyflow/api"
	"github.com/BaSui01/storyflow/types"
	"go.uber.org/zap"
)

// =============================================================================
// Agent Catalog Handler
// =============================================================================

// AgentLister is the read side of agent.Registry
type AgentLister interface {
	Names() []string
	Get(name string) (*agent.Agent, bool)
}

// AgentHandler exposes the agent catalog
type AgentHandler struct {
	agents AgentLister
	logger *zap.Logger
}

// NewAgentHandler creates an Agent handler
func NewAgentHandler(agents AgentLister, logger *zap.Logger) *AgentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AgentHandler{
		agents: agents,
		logger: logger.With(zap.String("component", "agent_handler")),
	}
}

// HandleListAgents lists all registered agents
// @Summary List agents
// @Tags agent
// @Produce json
// @Success 200 {object} Response{data=[]api.AgentInfo} "Agent list"
// @Security BearerAuth
// @Router /v1/agents [get]
func (h *AgentHandler) HandleListAgents(w http.ResponseWriter, r *http.Request) {
	names := h.agents.Names()
	result := make([]api.AgentInfo, 0, len(names))
	for _, name := range names {
		if a, ok := h.agents.Get(name); ok {
			result = append(result, toAgentInfo(a))
		}
	}
	WriteSuccess(w, r, result)
}

// HandleGetAgent gets a single agent's information
// @Summary Get agent
// @Tags agent
// @Produce json
// @Param name path string true "Agent name"
// @Success 200 {object} Response{data=api.AgentInfo} "Agent info"
// @Failure 404 {object} Response "Agent not found"
// @Security BearerAuth
// @Router /v1/agents/{name} [get]
func (h *AgentHandler) HandleGetAgent(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	a, ok := h.agents.Get(name)
	if !ok {
		WriteErrorMessage(w, r, http.StatusNotFound, types.ErrInvalidRequest, "agent "+name+" not found", h.logger)
		return
	}
	WriteSuccess(w, r, toAgentInfo(a))
}

func toAgentInfo(a *agent.Agent) api.AgentInfo {
	tools := a.ToolNames()
	if tools == nil {
		tools = []string{}
	}
	return api.AgentInfo{
		Name:         a.Name(),
		Instructions: a.Instructions(),
		Tools:        tools,
		Memory:       a.WorkingMemory() != nil,
	}
}
