package controller

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"judgelet/internal/judge/stream"
	appErr "judgelet/pkg/errors"
	"judgelet/pkg/utils/logger"
)

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The service sits behind the platform gateway which enforces origins.
	CheckOrigin: func(*http.Request) bool { return true },
}

// RunWS mirrors the SSE run endpoint over a WebSocket. The client sends one
// RunRequest as its first text message and receives the same JSON events the
// SSE stream carries, one per message, followed by a close frame.
func (h *JudgeController) RunWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn(c.Request.Context(), "websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	var req RunRequest
	if err := conn.ReadJSON(&req); err != nil {
		writeWSError(conn, "invalid request: "+err.Error())
		return
	}
	if req.Code == "" || req.Language == "" {
		writeWSError(conn, "code and language are required")
		return
	}

	ctx := c.Request.Context()
	job, err := h.buildJob(ctx, c.Param("problem_slug"), req)
	if err != nil {
		writeWSError(conn, appErr.GetError(err).Error())
		return
	}

	h.totalRuns.Add(1)
	err = h.runner.StreamExecution(ctx, *job, func(e stream.Event) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteJSON(e)
	})
	if err != nil {
		h.failedRuns.Add(1)
		logger.Info(ctx, "websocket run ended early", zap.Error(err))
		return
	}
	h.successfulRuns.Add(1)

	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func writeWSError(conn *websocket.Conn, message string) {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	_ = conn.WriteJSON(stream.Event{Type: stream.EventError, Message: message})
}
