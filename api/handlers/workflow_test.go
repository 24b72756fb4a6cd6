package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/storyflow/api"
	"github.com/BaSui01/storyflow/types"
	"github.com/BaSui01/storyflow/workflow"
)

// mapCatalog 是测试用的工作流目录
type mapCatalog map[string]*workflow.Workflow

func (c mapCatalog) Workflow(id string) (*workflow.Workflow, error) {
	wf, ok := c[id]
	if !ok {
		return nil, types.Errorf(types.ErrWorkflowNotFound, "workflow %s not found", id)
	}
	return wf, nil
}

func (c mapCatalog) Workflows() []*workflow.Workflow {
	out := make([]*workflow.Workflow, 0, len(c))
	for _, wf := range c {
		out = append(out, wf)
	}
	return out
}

type ideaInput struct {
	Idea   string `json:"idea"`
	Answer string `json:"answer,omitempty"`
}

type ideaOutput struct {
	Text string `json:"text"`
}

func newTestWorkflows(t *testing.T) mapCatalog {
	t.Helper()
	echo := workflow.NewStep("echo", func(_ context.Context, sc *workflow.StepContext, in ideaInput) (ideaOutput, error) {
		token, _ := sc.Runtime().Get("token")
		return ideaOutput{Text: in.Idea + token}, nil
	})
	echoWF, err := workflow.New("echo").Then(echo).Commit()
	require.NoError(t, err)

	ask := workflow.NewStep("ask", func(_ context.Context, sc *workflow.StepContext, in ideaInput) (ideaOutput, error) {
		if !sc.IsResumed() {
			return ideaOutput{}, sc.Suspend(map[string]string{"question": "who is it for?"})
		}
		return ideaOutput{Text: in.Idea + " for " + in.Answer}, nil
	})
	askWF, err := workflow.New("ask").Then(ask).Commit()
	require.NoError(t, err)

	boom := workflow.NewRawStep("boom", nil, nil, func(context.Context, *workflow.StepContext, json.RawMessage) (json.RawMessage, error) {
		return nil, errors.New("kaboom")
	})
	boomWF, err := workflow.New("boom").Then(boom).Commit()
	require.NoError(t, err)

	return mapCatalog{"echo": echoWF, "ask": askWF, "boom": boomWF}
}

func newTestMux(t *testing.T, withHistory bool) *http.ServeMux {
	t.Helper()
	var history workflow.HistoryStore
	opts := []workflow.ExecutorOption{workflow.WithLogger(zap.NewNop())}
	if withHistory {
		h := workflow.NewMemoryHistoryStore()
		history = h
		opts = append(opts, workflow.WithHistory(h))
	}
	exec := workflow.NewExecutor(workflow.NewMemorySuspendStore(nil), opts...)
	h := NewWorkflowHandler(newTestWorkflows(t), exec, history, zap.NewNop())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/workflows", h.HandleListWorkflows)
	mux.HandleFunc("GET /v1/workflows/{id}", h.HandleGetWorkflow)
	mux.HandleFunc("POST /v1/workflows/{id}/runs", h.HandleStartRun)
	mux.HandleFunc("GET /v1/workflows/{id}/runs", h.HandleListRuns)
	mux.HandleFunc("POST /v1/runs/{runId}/resume", h.HandleResumeRun)
	mux.HandleFunc("GET /v1/runs/{runId}", h.HandleGetRun)
	return mux
}

func doRequest(mux http.Handler, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(method, path, strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	mux.ServeHTTP(w, r)
	return w
}

func decodeRun(t *testing.T, w *httptest.ResponseRecorder) api.RunResponse {
	t.Helper()
	resp := decodeResponse(t, w)
	require.True(t, resp.Success, "error: %+v", resp.Error)
	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var run api.RunResponse
	require.NoError(t, json.Unmarshal(raw, &run))
	return run
}

func TestWorkflowHandler_ListAndGet(t *testing.T) {
	mux := newTestMux(t, false)

	w := doRequest(mux, http.MethodGet, "/v1/workflows", "")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeResponse(t, w)
	list, ok := resp.Data.([]any)
	require.True(t, ok)
	assert.Len(t, list, 3)

	w = doRequest(mux, http.MethodGet, "/v1/workflows/echo", "")
	require.Equal(t, http.StatusOK, w.Code)
	info := decodeResponse(t, w).Data.(map[string]any)
	assert.Equal(t, "echo", info["id"])
	assert.NotNil(t, info["input_schema"])

	w = doRequest(mux, http.MethodGet, "/v1/workflows/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "WORKFLOW_NOT_FOUND", decodeResponse(t, w).Error.Code)
}

func TestWorkflowHandler_StartRun(t *testing.T) {
	mux := newTestMux(t, false)

	w := doRequest(mux, http.MethodPost, "/v1/workflows/echo/runs", `{"input":{"idea":"todo"},"runtime":{"token":"-42"}}`)
	require.Equal(t, http.StatusOK, w.Code)
	run := decodeRun(t, w)
	assert.Equal(t, workflow.RunStatusCompleted, run.Status)
	assert.JSONEq(t, `{"text":"todo-42"}`, string(run.Output))
	assert.Equal(t, run.RunID, w.Header().Get("X-Run-ID"))
	require.Len(t, run.Steps, 1)
	assert.Equal(t, "echo", run.Steps[0].StepID)
}

func TestWorkflowHandler_StartRunErrors(t *testing.T) {
	mux := newTestMux(t, false)

	tests := []struct {
		name       string
		path       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"unknown workflow", "/v1/workflows/nope/runs", `{}`, http.StatusNotFound, "WORKFLOW_NOT_FOUND"},
		{"malformed body", "/v1/workflows/echo/runs", `{"input":`, http.StatusBadRequest, "INVALID_REQUEST"},
		{"unknown field", "/v1/workflows/echo/runs", `{"inputs":{}}`, http.StatusBadRequest, "INVALID_REQUEST"},
		{"shape mismatch", "/v1/workflows/echo/runs", `{"input":{"idea":7}}`, http.StatusBadRequest, "INVALID_SHAPE"},
		{"step failure", "/v1/workflows/boom/runs", ``, http.StatusBadGateway, "STEP_FAILED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(mux, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.wantStatus, w.Code)
			resp := decodeResponse(t, w)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
		})
	}
}

func TestWorkflowHandler_SuspendResume(t *testing.T) {
	mux := newTestMux(t, false)

	w := doRequest(mux, http.MethodPost, "/v1/workflows/ask/runs", `{"input":{"idea":"todo app"}}`)
	require.Equal(t, http.StatusOK, w.Code)
	run := decodeRun(t, w)
	require.Equal(t, workflow.RunStatusSuspended, run.Status)
	require.NotNil(t, run.Suspended)
	assert.Equal(t, "ask", run.Suspended.StepID)
	assert.Equal(t, []string{"ask"}, run.Suspended.Pending)
	assert.JSONEq(t, `{"question":"who is it for?"}`, string(run.Suspended.Payload))

	// 没有历史存储时从挂起存储读取
	w = doRequest(mux, http.MethodGet, "/v1/runs/"+run.RunID, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, workflow.RunStatusSuspended, decodeRun(t, w).Status)

	w = doRequest(mux, http.MethodPost, "/v1/runs/"+run.RunID+"/resume", `{"input":{"idea":"todo app","answer":"developers"}}`)
	require.Equal(t, http.StatusOK, w.Code)
	done := decodeRun(t, w)
	assert.Equal(t, workflow.RunStatusCompleted, done.Status)
	assert.Equal(t, run.RunID, done.RunID)
	assert.JSONEq(t, `{"text":"todo app for developers"}`, string(done.Output))

	// 已恢复的运行不能再次恢复
	w = doRequest(mux, http.MethodPost, "/v1/runs/"+run.RunID+"/resume", `{}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "RUN_NOT_FOUND", decodeResponse(t, w).Error.Code)
}

func TestWorkflowHandler_GetRunFromHistory(t *testing.T) {
	mux := newTestMux(t, true)

	w := doRequest(mux, http.MethodPost, "/v1/workflows/echo/runs", `{"input":{"idea":"a"}}`)
	require.Equal(t, http.StatusOK, w.Code)
	runID := decodeRun(t, w).RunID

	w = doRequest(mux, http.MethodGet, "/v1/runs/"+runID, "")
	require.Equal(t, http.StatusOK, w.Code)
	got := decodeRun(t, w)
	assert.Equal(t, workflow.RunStatusCompleted, got.Status)
	assert.Equal(t, "echo", got.WorkflowID)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.FinishedAt)

	w = doRequest(mux, http.MethodGet, "/v1/runs/unknown", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWorkflowHandler_ListRuns(t *testing.T) {
	mux := newTestMux(t, true)
	for _, idea := range []string{"a", "b", "c"} {
		w := doRequest(mux, http.MethodPost, "/v1/workflows/echo/runs", `{"input":{"idea":"`+idea+`"}}`)
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := doRequest(mux, http.MethodGet, "/v1/workflows/echo/runs?limit=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	runs := decodeResponse(t, w).Data.([]any)
	assert.Len(t, runs, 2)

	w = doRequest(mux, http.MethodGet, "/v1/workflows/echo/runs?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(newTestMux(t, false), http.MethodGet, "/v1/workflows/echo/runs", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
