package controller

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"judgelet/pkg/utils/contextkey"
)

// TraceMiddleware assigns every request a trace id (honoring X-Trace-Id from
// the gateway) and a fresh run id, and threads both through the request
// context for log correlation.
func TraceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader("X-Trace-Id")
		if traceID == "" {
			traceID = uuid.NewString()
		}
		runID := uuid.NewString()

		c.Set("trace_id", traceID)
		ctx := context.WithValue(c.Request.Context(), contextkey.TraceID, traceID)
		ctx = context.WithValue(ctx, contextkey.RunID, runID)
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Trace-Id", traceID)

		c.Next()
	}
}
