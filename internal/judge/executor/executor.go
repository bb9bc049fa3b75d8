// Package executor runs one (code, input, expected) triple inside a fresh
// sandbox box and classifies the outcome.
package executor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"judgelet/internal/judge/language"
	"judgelet/internal/judge/observer"
	"judgelet/internal/judge/sandbox/boxpool"
	"judgelet/internal/judge/sandbox/isolate"
	"judgelet/internal/judge/verdict"
	"judgelet/pkg/utils/logger"
)

// Per-invocation override caps.
const (
	MaxCPUTimeSec = 10.0
	MaxMemoryKB   = 1024 * 1024
)

// Compile steps get more headroom than the solution run.
var compileLimits = isolate.Limits{
	CPUTimeSec:  10,
	WallTimeSec: 20,
	MemoryKB:    isolate.DefaultMemoryKB * 2,
}

// SandboxDriver is the box lifecycle surface the executor needs.
type SandboxDriver interface {
	Init(ctx context.Context, boxID int) error
	WriteSource(boxID int, filename, text string) error
	Run(ctx context.Context, boxID int, argv []string, stdinText string, extraEnv []string, limits isolate.Limits) (isolate.RunResult, error)
	Cleanup(ctx context.Context, boxID int)
}

// BoxProvider hands out exclusive box ids.
type BoxProvider interface {
	Acquire(ctx context.Context) (int, error)
	Release(id int)
	Stats() boxpool.Stats
}

// Request is one test execution. Limits, when non-nil, overrides the default
// run limits and is clamped to the caps above.
type Request struct {
	Language string
	Code     string
	Input    string
	Expected string
	Limits   *isolate.Limits
}

// Executor orchestrates pool, driver, registry and classifier for one test.
type Executor struct {
	driver    SandboxDriver
	pool      BoxProvider
	languages *language.Registry
	limits    isolate.Limits
	metrics   observer.MetricsRecorder
}

// New builds an executor. metrics may be nil.
func New(driver SandboxDriver, pool BoxProvider, languages *language.Registry, defaults isolate.Limits, metrics observer.MetricsRecorder) *Executor {
	if metrics == nil {
		metrics = observer.Noop{}
	}
	return &Executor{
		driver:    driver,
		pool:      pool,
		languages: languages,
		limits:    defaults.Normalized(),
		metrics:   metrics,
	}
}

// Execute runs one test. Infrastructure failures come back as IE verdicts,
// never as errors; the acquired box is cleaned up and released on every exit
// path, including panics.
func (e *Executor) Execute(ctx context.Context, req Request) verdict.Verdict {
	started := time.Now()
	v := e.execute(ctx, req)
	e.metrics.TestFinished(string(v.Status), time.Since(started))
	return v
}

func (e *Executor) execute(ctx context.Context, req Request) verdict.Verdict {
	boxID, err := e.pool.Acquire(ctx)
	if err != nil {
		return internalError("no sandbox available", err)
	}
	defer func() {
		e.driver.Cleanup(ctx, boxID)
		e.pool.Release(boxID)
		st := e.pool.Stats()
		e.metrics.PoolState(st.Total, st.InUse, st.Free)
	}()
	st := e.pool.Stats()
	e.metrics.PoolState(st.Total, st.InUse, st.Free)

	if err := e.driver.Init(ctx, boxID); err != nil {
		logger.Error(ctx, "sandbox init failed", zap.Int("box_id", boxID), zap.Error(err))
		return internalError("sandbox initialization failed", err)
	}

	spec, err := e.languages.Lookup(req.Language)
	if err != nil {
		return internalError("unsupported language", err)
	}

	if err := e.driver.WriteSource(boxID, spec.SourceFile, req.Code); err != nil {
		logger.Error(ctx, "write source failed", zap.Int("box_id", boxID), zap.Error(err))
		return internalError("failed to write source", err)
	}

	var compile *verdict.CompileOutcome
	if spec.Compiled() {
		res, err := e.driver.Run(ctx, boxID, spec.CompileCmd, "", spec.Env, compileLimits)
		if err != nil {
			logger.Error(ctx, "compile step failed", zap.Int("box_id", boxID), zap.Error(err))
			return internalError("compile step failed", err)
		}
		meta, err := isolate.ParseMeta(res.MetaText)
		if err != nil {
			return internalError("compile meta unparsable", err)
		}
		compile = &verdict.CompileOutcome{
			Ran:        true,
			MetaStatus: meta.Status,
			ExitCode:   meta.ExitCode,
			Stderr:     res.Stderr,
		}
		if compile.MetaStatus != "" || (compile.ExitCode != 0 && compile.Stderr != "") {
			return verdict.Classify(compile, verdict.RunOutcome{}, req.Expected, e.limits.MemoryKB)
		}
	}

	limits := e.runLimits(req.Limits)
	res, err := e.driver.Run(ctx, boxID, spec.RunCmd, req.Input, spec.Env, limits)
	if err != nil {
		logger.Error(ctx, "sandbox run failed", zap.Int("box_id", boxID), zap.Error(err))
		return internalError("sandbox run failed", err)
	}
	meta, err := isolate.ParseMeta(res.MetaText)
	if err != nil {
		logger.Error(ctx, "meta unparsable", zap.Int("box_id", boxID), zap.Error(err))
		return internalError("run meta unparsable", err)
	}

	run := verdict.RunOutcome{
		MetaStatus: meta.Status,
		TimeSec:    meta.TimeSec,
		MemoryKB:   meta.MemoryKB,
		ExitCode:   meta.ExitCode,
		Stdout:     res.Stdout,
		Stderr:     res.Stderr,
	}
	return verdict.Classify(compile, run, req.Expected, limits.MemoryKB)
}

// runLimits merges a per-request override onto the defaults, clamped to caps.
func (e *Executor) runLimits(override *isolate.Limits) isolate.Limits {
	if override == nil {
		return e.limits
	}
	merged := e.limits
	if override.CPUTimeSec > 0 {
		merged.CPUTimeSec = min(override.CPUTimeSec, MaxCPUTimeSec)
		merged.WallTimeSec = 0
	}
	if override.WallTimeSec > 0 {
		merged.WallTimeSec = override.WallTimeSec
	}
	if override.MemoryKB > 0 {
		merged.MemoryKB = min(override.MemoryKB, MaxMemoryKB)
	}
	return merged.Normalized()
}

func internalError(msg string, err error) verdict.Verdict {
	v := verdict.Verdict{Status: verdict.StatusIE, Message: msg}
	if err != nil {
		v.Stderr = err.Error()
	}
	return v
}
