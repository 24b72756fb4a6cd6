package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/BaSui01/storyflow/workflow"
)

const eventWriteTimeout = 10 * time.Second

// EventSubscriber 是 *workflow.EventBus 的订阅部分
type EventSubscriber interface {
	Subscribe(runID string) (<-chan workflow.Event, func())
}

// EventsHandler 通过 websocket 推送运行事件。
// 单个运行的流在终止事件（suspended/completed/failed）后正常关闭；
// 全量流一直保持到客户端断开。
type EventsHandler struct {
	bus            EventSubscriber
	originPatterns []string
	logger         *zap.Logger
}

// NewEventsHandler 创建事件推送 handler。originPatterns 为空时只接受同源请求。
func NewEventsHandler(bus EventSubscriber, originPatterns []string, logger *zap.Logger) *EventsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventsHandler{
		bus:            bus,
		originPatterns: originPatterns,
		logger:         logger.With(zap.String("component", "run_events")),
	}
}

// HandleRunEvents streams the events of one run
// @Summary Run event stream
// @Tags workflow
// @Param runId path string true "Run ID"
// @Success 101 "Switching protocols"
// @Security BearerAuth
// @Router /v1/runs/{runId}/events [get]
func (h *EventsHandler) HandleRunEvents(w http.ResponseWriter, r *http.Request) {
	h.stream(w, r, r.PathValue("runId"))
}

// HandleAllEvents streams the events of every run
// @Summary Event stream of all runs
// @Tags workflow
// @Success 101 "Switching protocols"
// @Security BearerAuth
// @Router /v1/events [get]
func (h *EventsHandler) HandleAllEvents(w http.ResponseWriter, r *http.Request) {
	h.stream(w, r, "")
}

func (h *EventsHandler) stream(w http.ResponseWriter, r *http.Request, runID string) {
	// 先订阅再升级，升级期间发生的事件不会丢失
	events, unsubscribe := h.bus.Subscribe(runID)
	defer unsubscribe()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		// Accept 已经写出了错误响应
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	logger := h.logger.With(zap.String("run_id", runID), zap.String("request_id", requestID(r)))
	logger.Debug("event stream opened")

	// 客户端不发送数据；CloseRead 负责处理 close 帧并在断开时取消 ctx
	ctx := conn.CloseRead(r.Context())

	for {
		select {
		case <-ctx.Done():
			logger.Debug("event stream closed by client")
			return
		case ev, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "event stream closed")
				return
			}
			if err := writeEvent(ctx, conn, ev); err != nil {
				if !errors.Is(err, context.Canceled) {
					logger.Warn("failed to write event", zap.Error(err))
				}
				return
			}
			if runID != "" && ev.Terminal() {
				conn.Close(websocket.StatusNormalClosure, string(ev.Type))
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, ev workflow.Event) error {
	ctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, ev)
}
