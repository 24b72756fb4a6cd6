package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/storyflow/api/handlers"
	"github.com/BaSui01/storyflow/config"
	"github.com/BaSui01/storyflow/workflow"
)

type noteInput struct {
	Note   string `json:"note"`
	Answer string `json:"answer,omitempty"`
}

type noteOutput struct {
	Text string `json:"text"`
}

// askWorkflow 首次执行时挂起，恢复后拼接答案
func askWorkflow(t *testing.T) *workflow.Workflow {
	t.Helper()
	ask := workflow.NewStep("ask-note", func(_ context.Context, sc *workflow.StepContext, in noteInput) (noteOutput, error) {
		if !sc.IsResumed() {
			return noteOutput{}, sc.Suspend(map[string]string{"question": "why?"})
		}
		return noteOutput{Text: in.Note + ": " + in.Answer}, nil
	})
	wf, err := workflow.New("ask-note-workflow").Then(ask).Commit()
	require.NoError(t, err)
	return wf
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.LLM.APIKey = "test-key"
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	app, err := NewApp(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })
	return app
}

func TestNewApp_Defaults(t *testing.T) {
	app := newTestApp(t, testConfig())

	ids := app.Catalog.IDs()
	assert.Contains(t, ids, "story-mapping-workflow")
	assert.Contains(t, ids, "epic-mapping-workflow")
	assert.Contains(t, ids, "project-workflow")
	assert.Contains(t, ids, "role-contributions-workflow")
	assert.NotEmpty(t, app.Catalog.Agents().Names())

	assert.NotNil(t, app.History)
	assert.Empty(t, app.Checks)
	assert.False(t, app.Telemetry.Enabled())
}

func TestNewApp_RedisAndDatabase(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := testConfig()
	cfg.Redis.Addr = mr.Addr()
	cfg.Workflow.SuspendStore = "redis"
	cfg.Memory.Store = "redis"
	cfg.Workflow.HistoryStore = "database"
	cfg.Database.Driver = "sqlite"
	cfg.Database.Name = filepath.Join(t.TempDir(), "runs.db")
	require.NoError(t, cfg.Validate())

	app := newTestApp(t, cfg)

	names := make([]string, 0, len(app.Checks))
	for _, c := range app.Checks {
		names = append(names, c.Name())
		assert.NoError(t, c.Check(context.Background()))
	}
	assert.ElementsMatch(t, []string{"redis", "database"}, names)

	wf := askWorkflow(t)
	app.Catalog.Register(wf)

	ctx := context.Background()
	res, err := app.Executor.Run(ctx, wf, json.RawMessage(`{"note":"ship it"}`), nil)
	require.NoError(t, err)
	require.Equal(t, workflow.RunStatusSuspended, res.Status)
	assert.True(t, mr.Exists(cfg.Redis.KeyPrefix+"suspended:"+res.RunID))

	done, err := app.Executor.Resume(ctx, wf, res.RunID, json.RawMessage(`{"note":"ship it","answer":"users asked"}`))
	require.NoError(t, err)
	assert.Equal(t, workflow.RunStatusCompleted, done.Status)
	assert.JSONEq(t, `{"text":"ship it: users asked"}`, string(done.Output))

	rec, err := app.History.GetRun(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, workflow.RunStatusCompleted, rec.Status)
}

func TestNewApp_RedisUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := testConfig()
	cfg.Redis.Addr = addr
	cfg.Workflow.SuspendStore = "redis"

	_, err := NewApp(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis")
}

func testServer(t *testing.T, cfg *config.Config) *httptest.Server {
	t.Helper()
	s := &Server{cfg: cfg, logger: zap.NewNop(), app: newTestApp(t, cfg)}
	s.app.Catalog.Register(askWorkflow(t))
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func getBody(t *testing.T, client *http.Client, req *http.Request) (int, string) {
	t.Helper()
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestServer_Routes(t *testing.T) {
	ts := testServer(t, testConfig())
	client := ts.Client()

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/health", nil)
	status, body := getBody(t, client, req)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "healthy")

	req, _ = http.NewRequest(http.MethodGet, ts.URL+"/v1/workflows/story-mapping-workflow", nil)
	status, body = getBody(t, client, req)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `"id":"story-mapping-workflow"`)

	req, _ = http.NewRequest(http.MethodPost, ts.URL+"/v1/workflows/ask-note-workflow/runs", strings.NewReader(`{"input":{"note":"n"}}`))
	status, body = getBody(t, client, req)
	require.Equal(t, http.StatusOK, status, body)
	var resp handlers.Response
	require.NoError(t, json.Unmarshal([]byte(body), &resp))
	data := resp.Data.(map[string]any)
	assert.Equal(t, "suspended", data["status"])

	req, _ = http.NewRequest(http.MethodGet, ts.URL+"/v1/agents", nil)
	status, _ = getBody(t, client, req)
	assert.Equal(t, http.StatusOK, status)

	req, _ = http.NewRequest(http.MethodGet, ts.URL+"/metrics", nil)
	status, body = getBody(t, client, req)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "storyflow_http_requests_total")
	assert.Contains(t, body, "storyflow_workflow_runs_total")
	assert.Contains(t, body, "go_goroutines")
}

func TestServer_Auth(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.JWTSecret = "s3cret"
	ts := testServer(t, cfg)
	client := ts.Client()

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/v1/workflows", nil)
	status, _ := getBody(t, client, req)
	assert.Equal(t, http.StatusUnauthorized, status)

	req, _ = http.NewRequest(http.MethodGet, ts.URL+"/health", nil)
	status, _ = getBody(t, client, req)
	assert.Equal(t, http.StatusOK, status)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "bob",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("s3cret"))
	require.NoError(t, err)
	req, _ = http.NewRequest(http.MethodGet, ts.URL+"/v1/workflows", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	status, _ = getBody(t, client, req)
	assert.Equal(t, http.StatusOK, status)
}
