package api

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/BaSui01/storyflow/agent/structured"
	"github.com/BaSui01/storyflow/workflow"
)

// =============================================================================
// 工作流类型
// =============================================================================

// WorkflowInfo 描述一个已注册的工作流。
// @Description 工作流摘要
type WorkflowInfo struct {
	// 工作流 ID
	ID string `json:"id" example:"story-mapping-workflow"`
	// 工作流描述
	Description string `json:"description,omitempty"`
	// 运行输入需满足的 schema
	InputSchema *structured.JSONSchema `json:"input_schema,omitempty"`
	// 最终输出的 schema
	OutputSchema *structured.JSONSchema `json:"output_schema,omitempty"`
	// 按执行顺序排列的节点
	Nodes []workflow.NodeInfo `json:"nodes"`
}

// NewWorkflowInfo converts a committed workflow to its API form.
func NewWorkflowInfo(wf *workflow.Workflow) WorkflowInfo {
	return WorkflowInfo{
		ID:           wf.ID(),
		Description:  wf.Description(),
		InputSchema:  wf.InputSchema(),
		OutputSchema: wf.OutputSchema(),
		Nodes:        wf.Nodes(),
	}
}

// =============================================================================
// 运行类型
// =============================================================================

// StartRunRequest 启动一次工作流运行。
// @Description 启动运行请求
type StartRunRequest struct {
	// 运行输入，缺省为 {}
	Input json.RawMessage `json:"input,omitempty" swaggertype:"object"`
	// 只读运行时上下文，例如访问令牌
	Runtime map[string]string `json:"runtime,omitempty"`
}

// ResumeRunRequest 恢复一次挂起的运行。
// @Description 恢复运行请求
type ResumeRunRequest struct {
	// 与挂起负载深度合并后交给挂起的步骤
	Input json.RawMessage `json:"input,omitempty" swaggertype:"object"`
}

// SuspensionInfo 描述挂起点。
type SuspensionInfo struct {
	StepID    string          `json:"step_id"`
	Payload   json.RawMessage `json:"payload,omitempty" swaggertype:"object"`
	Pending   []string        `json:"pending"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// RunResponse 是 Run/Resume/Get 的统一返回。
// @Description 工作流运行状态
type RunResponse struct {
	RunID      string                `json:"run_id"`
	WorkflowID string                `json:"workflow_id"`
	Status     workflow.RunStatus    `json:"status" example:"completed"`
	Output     json.RawMessage       `json:"output,omitempty" swaggertype:"object"`
	Error      string                `json:"error,omitempty"`
	Suspended  *SuspensionInfo       `json:"suspended,omitempty"`
	Steps      []workflow.StepRecord `json:"steps"`
	StartedAt  *time.Time            `json:"started_at,omitempty"`
	FinishedAt *time.Time            `json:"finished_at,omitempty"`
}

// NewRunResponse converts an executor result.
func NewRunResponse(res *workflow.RunResult) RunResponse {
	out := RunResponse{
		RunID:      res.RunID,
		WorkflowID: res.WorkflowID,
		Status:     res.Status,
		Output:     res.Output,
		Steps:      nonNilSteps(res.Steps),
	}
	if res.Suspended != nil {
		out.Suspended = newSuspensionInfo(res.Suspended)
	}
	return out
}

// NewRunResponseFromRecord converts a stored history record.
func NewRunResponseFromRecord(rec *workflow.RunRecord) RunResponse {
	out := RunResponse{
		RunID:      rec.RunID,
		WorkflowID: rec.WorkflowID,
		Status:     rec.Status,
		Output:     rec.Output,
		Error:      rec.Error,
		Steps:      nonNilSteps(rec.Steps),
	}
	if !rec.StartedAt.IsZero() {
		t := rec.StartedAt
		out.StartedAt = &t
	}
	if !rec.FinishedAt.IsZero() {
		t := rec.FinishedAt
		out.FinishedAt = &t
	}
	return out
}

// NewRunResponseFromSuspended describes a run known only to the suspend store.
func NewRunResponseFromSuspended(state *workflow.SuspendedState) RunResponse {
	started := state.StartedAt
	return RunResponse{
		RunID:      state.RunID,
		WorkflowID: state.WorkflowID,
		Status:     workflow.RunStatusSuspended,
		Suspended:  newSuspensionInfo(state),
		Steps:      nonNilSteps(state.Steps),
		StartedAt:  &started,
	}
}

func newSuspensionInfo(state *workflow.SuspendedState) *SuspensionInfo {
	pending := make([]string, 0, len(state.Pending))
	for id := range state.Pending {
		pending = append(pending, id)
	}
	sort.Strings(pending)
	return &SuspensionInfo{
		StepID:    state.StepID,
		Payload:   state.Payload,
		Pending:   pending,
		ExpiresAt: state.ExpiresAt,
	}
}

func nonNilSteps(steps []workflow.StepRecord) []workflow.StepRecord {
	if steps == nil {
		return []workflow.StepRecord{}
	}
	return steps
}

// =============================================================================
// Agent 类型
// =============================================================================

// AgentInfo 描述目录中的一个 Agent。
// @Description Agent 信息
type AgentInfo struct {
	Name         string   `json:"name" example:"identify-personas-agent"`
	Instructions string   `json:"instructions,omitempty"`
	Tools        []string `json:"tools"`
	Memory       bool     `json:"memory"`
}
