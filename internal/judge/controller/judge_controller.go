// Package controller exposes the execution core over HTTP: an SSE run
// endpoint, a WebSocket mirror, and health/stats probes.
package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"judgelet/internal/judge/language"
	"judgelet/internal/judge/problem"
	"judgelet/internal/judge/sandbox/boxpool"
	"judgelet/internal/judge/sandbox/isolate"
	"judgelet/internal/judge/stream"
	"judgelet/internal/judge/wrapper"
	appErr "judgelet/pkg/errors"
	"judgelet/pkg/utils/logger"
	"judgelet/pkg/utils/response"
)

// Request validation caps.
const (
	MaxCodeBytes  = 50000
	MaxInputBytes = 1000
)

// healthyFreeBoxes is the free-box threshold below which the service
// reports itself degraded.
const healthyFreeBoxes = 10

// RunRequest is the body of POST /api/run/:problem_slug. A non-nil
// CustomInput selects custom-run mode; TestCases are extra caller-supplied
// tests appended after the problem's own in submit mode. TimeLimit and
// MemoryLimit override the default run limits within fixed caps.
type RunRequest struct {
	Code        string            `json:"code" binding:"required"`
	Language    string            `json:"language" binding:"required"`
	CustomInput *string           `json:"custom_input"`
	TestCases   []stream.TestCase `json:"test_cases"`
	TimeLimit   float64           `json:"time_limit"`
	MemoryLimit int64             `json:"memory_limit"`
}

// MetadataStore is the problem lookup surface the controller needs.
type MetadataStore interface {
	GetTestsAndExecution(ctx context.Context, problemSlug, languageTag string) (*problem.Data, error)
}

// JudgeController wires HTTP requests into the streaming runner.
type JudgeController struct {
	runner    *stream.Runner
	store     MetadataStore
	pool      *boxpool.Pool
	languages *language.Registry

	totalRuns      atomic.Int64
	successfulRuns atomic.Int64
	failedRuns     atomic.Int64
}

// NewJudgeController creates the controller.
func NewJudgeController(runner *stream.Runner, store MetadataStore, pool *boxpool.Pool, languages *language.Registry) *JudgeController {
	return &JudgeController{runner: runner, store: store, pool: pool, languages: languages}
}

// RegisterRoutes mounts the API on a gin engine.
func (h *JudgeController) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)
	api := r.Group("/api")
	{
		api.POST("/run/:problem_slug", h.Run)
		api.GET("/ws/run/:problem_slug", h.RunWS)
		api.GET("/stats", h.Stats)
		api.GET("/languages", h.Languages)
	}
}

// Run streams execution events for a submission as server-sent events.
func (h *JudgeController) Run(c *gin.Context) {
	var req RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body: "+err.Error())
		return
	}
	job, err := h.buildJob(c.Request.Context(), c.Param("problem_slug"), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.Flush()

	ctx := c.Request.Context()
	h.totalRuns.Add(1)
	err = h.runner.StreamExecution(ctx, *job, func(e stream.Event) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
			return err
		}
		c.Writer.Flush()
		return nil
	})
	if err != nil {
		h.failedRuns.Add(1)
		logger.Info(ctx, "run stream ended early", zap.Error(err))
		return
	}
	h.successfulRuns.Add(1)
}

// buildJob validates the request and assembles the streaming job. Failures
// come back as coded errors so both transports can map them to a response.
func (h *JudgeController) buildJob(ctx context.Context, slug string, req RunRequest) (*stream.Job, error) {
	if len(req.Code) > MaxCodeBytes {
		return nil, appErr.Newf(appErr.CodeTooLarge, "code exceeds %d bytes", MaxCodeBytes)
	}
	if !h.languages.Supported(req.Language) {
		return nil, appErr.Newf(appErr.LanguageNotSupported, "unsupported language: %s", req.Language)
	}
	if req.CustomInput != nil && len(*req.CustomInput) > MaxInputBytes {
		return nil, appErr.Newf(appErr.InputTooLarge, "custom input exceeds %d bytes", MaxInputBytes)
	}

	job := &stream.Job{
		Language: req.Language,
		Code:     req.Code,
		Limits:   limitOverride(req),
	}

	if req.CustomInput != nil {
		job.IsCustomRun = true
		job.Tests = append(job.Tests, stream.TestCase{Input: *req.CustomInput})
		job.Tests = append(job.Tests, req.TestCases...)
		// Custom runs still execute under the problem's wrapper when one
		// exists; an unknown slug just runs the code as-is.
		if data, err := h.store.GetTestsAndExecution(ctx, slug, req.Language); err == nil && data != nil {
			job.Code = wrapper.Wrap(req.Code, data.Wrapper)
		}
		return job, nil
	}

	data, err := h.store.GetTestsAndExecution(ctx, slug, req.Language)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, appErr.Newf(appErr.ProblemNotFound, "problem or language not found: %s", slug)
	}
	job.Code = wrapper.Wrap(req.Code, data.Wrapper)
	job.Tests = append(job.Tests, data.TestCases...)
	job.Tests = append(job.Tests, req.TestCases...)
	return job, nil
}

func limitOverride(req RunRequest) *isolate.Limits {
	if req.TimeLimit <= 0 && req.MemoryLimit <= 0 {
		return nil
	}
	return &isolate.Limits{
		CPUTimeSec: req.TimeLimit,
		MemoryKB:   req.MemoryLimit,
	}
}

// Health reports pool-derived service health.
func (h *JudgeController) Health(c *gin.Context) {
	st := h.pool.Stats()
	status := "healthy"
	code := http.StatusOK
	if st.Free <= healthyFreeBoxes {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":      status,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"total_boxes": st.Total,
		"in_use":      st.InUse,
		"available":   st.Free,
	})
}

// Stats reports pool occupancy and run counters.
func (h *JudgeController) Stats(c *gin.Context) {
	total := h.totalRuns.Load()
	successful := h.successfulRuns.Load()
	rate := 0.0
	if total > 0 {
		rate = float64(successful) / float64(total) * 100
	}
	response.Success(c, gin.H{
		"pool":           h.pool.Stats(),
		"total_requests": total,
		"successful":     successful,
		"failed":         h.failedRuns.Load(),
		"success_rate":   rate,
	})
}

// Languages lists the supported language tags.
func (h *JudgeController) Languages(c *gin.Context) {
	response.Success(c, gin.H{"languages": h.languages.Tags()})
}
