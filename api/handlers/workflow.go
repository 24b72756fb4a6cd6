package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/BaSui01/storyflow/api"
	"github.com/BaSui01/storyflow/internal/ctxkeys"
	"github.com/BaSui01/storyflow/types"
	"github.com/BaSui01/storyflow/workflow"
	"go.uber.org/zap"
)

// =============================================================================
// 🔀 Workflow Handler
// =============================================================================

const (
	defaultListLimit = 20
	maxListLimit     = 200
)

// WorkflowCatalog 提供按 ID 查找已提交的工作流
type WorkflowCatalog interface {
	Workflow(id string) (*workflow.Workflow, error)
	Workflows() []*workflow.Workflow
}

// RunExecutor 是 *workflow.Executor 中 handler 用到的部分
type RunExecutor interface {
	Run(ctx context.Context, wf *workflow.Workflow, input json.RawMessage, runtime workflow.RuntimeContext) (*workflow.RunResult, error)
	Resume(ctx context.Context, wf *workflow.Workflow, runID string, resumeInput json.RawMessage) (*workflow.RunResult, error)
	Inspect(ctx context.Context, runID string) (*workflow.SuspendedState, error)
}

// WorkflowHandler 处理工作流列表、运行、恢复与运行查询
type WorkflowHandler struct {
	catalog  WorkflowCatalog
	executor RunExecutor
	history  workflow.HistoryStore
	logger   *zap.Logger
}

// NewWorkflowHandler 创建工作流 handler；history 为 nil 时只能查询挂起中的运行
func NewWorkflowHandler(catalog WorkflowCatalog, executor RunExecutor, history workflow.HistoryStore, logger *zap.Logger) *WorkflowHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkflowHandler{
		catalog:  catalog,
		executor: executor,
		history:  history,
		logger:   logger.With(zap.String("component", "workflow_handler")),
	}
}

// HandleListWorkflows lists registered workflows
// @Summary List workflows
// @Tags workflow
// @Produce json
// @Success 200 {object} Response{data=[]api.WorkflowInfo} "Workflow list"
// @Security BearerAuth
// @Router /v1/workflows [get]
func (h *WorkflowHandler) HandleListWorkflows(w http.ResponseWriter, r *http.Request) {
	wfs := h.catalog.Workflows()
	out := make([]api.WorkflowInfo, 0, len(wfs))
	for _, wf := range wfs {
		out = append(out, api.NewWorkflowInfo(wf))
	}
	WriteSuccess(w, r, out)
}

// HandleGetWorkflow returns one workflow
// @Summary Get workflow
// @Tags workflow
// @Produce json
// @Param id path string true "Workflow ID"
// @Success 200 {object} Response{data=api.WorkflowInfo}
// @Failure 404 {object} Response "Workflow not found"
// @Security BearerAuth
// @Router /v1/workflows/{id} [get]
func (h *WorkflowHandler) HandleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := h.catalog.Workflow(r.PathValue("id"))
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, api.NewWorkflowInfo(wf))
}

// HandleStartRun 同步执行一次运行；挂起不是错误，返回 status=suspended
// @Summary Start run
// @Tags workflow
// @Accept json
// @Produce json
// @Param id path string true "Workflow ID"
// @Param request body api.StartRunRequest false "Run input"
// @Success 200 {object} Response{data=api.RunResponse}
// @Failure 400 {object} Response "Invalid input"
// @Failure 404 {object} Response "Workflow not found"
// @Security BearerAuth
// @Router /v1/workflows/{id}/runs [post]
func (h *WorkflowHandler) HandleStartRun(w http.ResponseWriter, r *http.Request) {
	wf, err := h.catalog.Workflow(r.PathValue("id"))
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	var req api.StartRunRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	res, err := h.executor.Run(r.Context(), wf, req.Input, workflow.RuntimeContext(req.Runtime))
	h.writeRunResult(w, r, res, err)
}

// HandleResumeRun 恢复挂起的运行，工作流由挂起状态确定
// @Summary Resume run
// @Tags workflow
// @Accept json
// @Produce json
// @Param runId path string true "Run ID"
// @Param request body api.ResumeRunRequest false "Resume input"
// @Success 200 {object} Response{data=api.RunResponse}
// @Failure 404 {object} Response "Run not found"
// @Failure 410 {object} Response "Run expired"
// @Security BearerAuth
// @Router /v1/runs/{runId}/resume [post]
func (h *WorkflowHandler) HandleResumeRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("runId")

	var req api.ResumeRunRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	state, err := h.executor.Inspect(r.Context(), runID)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	wf, err := h.catalog.Workflow(state.WorkflowID)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	res, err := h.executor.Resume(r.Context(), wf, runID, req.Input)
	h.writeRunResult(w, r, res, err)
}

// HandleGetRun 先查运行历史，再查挂起存储
// @Summary Get run
// @Tags workflow
// @Produce json
// @Param runId path string true "Run ID"
// @Success 200 {object} Response{data=api.RunResponse}
// @Failure 404 {object} Response "Run not found"
// @Security BearerAuth
// @Router /v1/runs/{runId} [get]
func (h *WorkflowHandler) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("runId")

	if h.history != nil {
		rec, err := h.history.GetRun(r.Context(), runID)
		switch {
		case err == nil:
			WriteSuccess(w, r, api.NewRunResponseFromRecord(rec))
			return
		case !errors.Is(err, workflow.ErrRunNotFound):
			WriteError(w, r, types.Errorf(types.ErrInternalError, "load run %s", runID).WithCause(err), h.logger)
			return
		}
	}

	state, err := h.executor.Inspect(r.Context(), runID)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, api.NewRunResponseFromSuspended(state))
}

// HandleListRuns lists recent runs of a workflow, newest first
// @Summary List runs
// @Tags workflow
// @Produce json
// @Param id path string true "Workflow ID"
// @Param limit query int false "Max results (default 20, max 200)"
// @Success 200 {object} Response{data=[]api.RunResponse}
// @Failure 503 {object} Response "Run history disabled"
// @Security BearerAuth
// @Router /v1/workflows/{id}/runs [get]
func (h *WorkflowHandler) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		WriteErrorMessage(w, r, http.StatusServiceUnavailable, types.ErrServiceUnavailable, "run history is disabled", h.logger)
		return
	}
	workflowID := r.PathValue("id")
	if _, err := h.catalog.Workflow(workflowID); err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidRequest, "limit must be a positive integer", h.logger)
			return
		}
		limit = min(n, maxListLimit)
	}

	recs, err := h.history.ListRuns(r.Context(), workflowID, limit)
	if err != nil {
		WriteError(w, r, types.Errorf(types.ErrInternalError, "list runs of %s", workflowID).WithCause(err), h.logger)
		return
	}
	out := make([]api.RunResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, api.NewRunResponseFromRecord(rec))
	}
	WriteSuccess(w, r, out)
}

func (h *WorkflowHandler) writeRunResult(w http.ResponseWriter, r *http.Request, res *workflow.RunResult, err error) {
	if res != nil && res.RunID != "" {
		w.Header().Set("X-Run-ID", res.RunID)
	}
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	fields := []zap.Field{
		zap.String("run_id", res.RunID),
		zap.String("workflow", res.WorkflowID),
		zap.String("status", string(res.Status)),
		zap.String("request_id", requestID(r)),
	}
	if sub, ok := ctxkeys.Subject(r.Context()); ok {
		fields = append(fields, zap.String("subject", sub))
	}
	h.logger.Info("run finished", fields...)
	WriteSuccess(w, r, api.NewRunResponse(res))
}
