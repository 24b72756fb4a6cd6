package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/storyflow/workflow"
)

func newEventsServer(t *testing.T) (*workflow.EventBus, string) {
	t.Helper()
	bus := workflow.NewEventBus(8, zap.NewNop())
	h := NewEventsHandler(bus, nil, zap.NewNop())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/runs/{runId}/events", h.HandleRunEvents)
	mux.HandleFunc("GET /v1/events", h.HandleAllEvents)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return bus, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestEventsHandler_RunStreamClosesOnTerminal(t *testing.T) {
	bus, base := newEventsServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, base+"/v1/runs/run-1/events", nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	bus.Publish(workflow.Event{Type: workflow.EventStepStarted, RunID: "run-2", StepID: "other"})
	bus.Publish(workflow.Event{Type: workflow.EventStepStarted, RunID: "run-1", StepID: "frame-problem"})
	bus.Publish(workflow.Event{Type: workflow.EventRunCompleted, RunID: "run-1"})

	var ev workflow.Event
	require.NoError(t, wsjson.Read(ctx, conn, &ev))
	assert.Equal(t, workflow.EventStepStarted, ev.Type)
	assert.Equal(t, "frame-problem", ev.StepID)

	require.NoError(t, wsjson.Read(ctx, conn, &ev))
	assert.Equal(t, workflow.EventRunCompleted, ev.Type)

	_, _, err = conn.Read(ctx)
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
}

func TestEventsHandler_AllRuns(t *testing.T) {
	bus, base := newEventsServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, base+"/v1/events", nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	bus.Publish(workflow.Event{Type: workflow.EventRunCompleted, RunID: "a"})
	bus.Publish(workflow.Event{Type: workflow.EventRunStarted, RunID: "b"})

	var ev workflow.Event
	require.NoError(t, wsjson.Read(ctx, conn, &ev))
	assert.Equal(t, "a", ev.RunID)
	// 全量流不会因单个运行结束而关闭
	require.NoError(t, wsjson.Read(ctx, conn, &ev))
	assert.Equal(t, "b", ev.RunID)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "done"))
}

func TestEventsHandler_RejectsPlainHTTP(t *testing.T) {
	bus := workflow.NewEventBus(1, nil)
	h := NewEventsHandler(bus, nil, nil)

	w := httptest.NewRecorder()
	h.HandleAllEvents(w, httptest.NewRequest(http.MethodGet, "/v1/events", nil))
	assert.GreaterOrEqual(t, w.Code, http.StatusBadRequest)
}
