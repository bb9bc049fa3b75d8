// Package stream runs many tests concurrently against one submission and
// emits an ordered event sequence with a final summary.
package stream

import (
	"context"
	"time"

	"go.uber.org/zap"

	"judgelet/internal/judge/executor"
	"judgelet/internal/judge/observer"
	"judgelet/internal/judge/sandbox/isolate"
	"judgelet/internal/judge/verdict"
	"judgelet/pkg/utils/logger"
)

// Event types on the wire.
const (
	EventStart      = "start"
	EventTest       = "test"
	EventCustom     = "custom"
	EventNeedsInput = "needs_input"
	EventError      = "error"
	EventComplete   = "complete"
)

// TestCase is one input/expected pair.
type TestCase struct {
	Input    string `json:"input"`
	Expected string `json:"expected_output"`
	IsSample bool   `json:"is_sample"`
}

// Job is one streaming run.
type Job struct {
	Language    string
	Code        string
	Tests       []TestCase
	IsCustomRun bool
	Limits      *isolate.Limits
}

// TestPayload carries the per-test fields of a test/custom/needs_input event.
type TestPayload struct {
	Index    int             `json:"index"`
	IsSample bool            `json:"is_sample"`
	Result   verdict.Verdict `json:"result"`
	Progress int             `json:"progress"`
	Passed   int             `json:"passed"`
	Failed   int             `json:"failed"`
}

// Summary aggregates a submit-mode run.
type Summary struct {
	Total       int     `json:"total"`
	Passed      int     `json:"passed"`
	Failed      int     `json:"failed"`
	SuccessRate float64 `json:"success_rate"`
}

// Event is one stream element. Exactly the fields for its Type are set.
// Total stays in the encoding even at zero so the start event keeps its
// shape for an empty run.
type Event struct {
	Type  string `json:"type"`
	Total int    `json:"total"`
	*TestPayload
	Message string   `json:"message,omitempty"`
	Summary *Summary `json:"summary,omitempty"`
}

// EmitFunc delivers one event to the consumer. A returned error means the
// consumer is gone and the run must be cancelled.
type EmitFunc func(Event) error

// TestExecutor runs a single test; the concrete implementation is
// executor.Executor.
type TestExecutor interface {
	Execute(ctx context.Context, req executor.Request) verdict.Verdict
}

// Runner dispatches tests concurrently and re-serializes results in input
// order.
type Runner struct {
	exec        TestExecutor
	concurrency int
	metrics     observer.MetricsRecorder
}

// New builds a runner. concurrency bounds in-flight tests on top of the box
// pool's own back-pressure; metrics may be nil.
func New(exec TestExecutor, concurrency int, metrics observer.MetricsRecorder) *Runner {
	if concurrency <= 0 {
		concurrency = 4
	}
	if metrics == nil {
		metrics = observer.Noop{}
	}
	return &Runner{exec: exec, concurrency: concurrency, metrics: metrics}
}

// StreamExecution runs the job and emits start, one event per test in input
// order, then complete. Dispatch is concurrent; ordering is restored through
// one result slot per index, consumed as a contiguous prefix. A consumer
// disconnect (emit error) cancels all in-flight executions.
func (r *Runner) StreamExecution(ctx context.Context, job Job, emit EmitFunc) error {
	started := time.Now()
	r.metrics.RunStarted()
	ok, err := r.run(ctx, job, emit)
	r.metrics.RunFinished(ok, time.Since(started))
	return err
}

func (r *Runner) run(ctx context.Context, job Job, emit EmitFunc) (bool, error) {
	tests := job.Tests
	if len(tests) == 0 {
		if !job.IsCustomRun {
			// A submission with no tests to judge is an infrastructure problem.
			if err := emit(Event{Type: EventStart, Total: 0}); err != nil {
				return false, err
			}
			if err := emit(Event{Type: EventError, Message: "no test cases available"}); err != nil {
				return false, err
			}
			err := emit(Event{Type: EventComplete, Summary: &Summary{}})
			return false, err
		}
		tests = []TestCase{{}}
	}

	total := len(tests)
	if err := emit(Event{Type: EventStart, Total: total}); err != nil {
		return false, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	slots := make([]chan verdict.Verdict, total)
	for i := range slots {
		slots[i] = make(chan verdict.Verdict, 1)
	}
	sem := make(chan struct{}, r.concurrency)
	for i, tc := range tests {
		go func(i int, tc TestCase) {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-sem }()
			slots[i] <- r.exec.Execute(ctx, executor.Request{
				Language: job.Language,
				Code:     job.Code,
				Input:    tc.Input,
				Expected: tc.Expected,
				Limits:   job.Limits,
			})
		}(i, tc)
	}

	eventType := EventTest
	if job.IsCustomRun {
		eventType = EventCustom
	}

	passed, failed := 0, 0
	for i := 0; i < total; i++ {
		var v verdict.Verdict
		select {
		case v = <-slots[i]:
		case <-ctx.Done():
			return false, ctx.Err()
		}

		if accepted(job.IsCustomRun, v) {
			passed++
		} else {
			failed++
		}
		payload := &TestPayload{
			Index:    i,
			IsSample: tests[i].IsSample,
			Result:   v,
			Progress: i + 1,
			Passed:   passed,
			Failed:   failed,
		}

		if job.IsCustomRun && v.Status == verdict.StatusNeedsInput {
			// Interactive programs are unsupported; stop the stream here.
			if err := emit(Event{Type: EventNeedsInput, TestPayload: payload}); err != nil {
				return false, err
			}
			err := emit(Event{Type: EventError, Message: "program requires input; interactive runs are not supported"})
			return false, err
		}

		if err := emit(Event{Type: eventType, TestPayload: payload}); err != nil {
			logger.Debug(ctx, "stream consumer disconnected", zap.Int("index", i))
			return false, err
		}
	}

	complete := Event{Type: EventComplete}
	if !job.IsCustomRun {
		rate := 0.0
		if total > 0 {
			rate = float64(passed) / float64(total) * 100
		}
		complete.Summary = &Summary{Total: total, Passed: passed, Failed: failed, SuccessRate: rate}
	}
	if err := emit(complete); err != nil {
		return false, err
	}
	return true, nil
}

func accepted(customRun bool, v verdict.Verdict) bool {
	if customRun {
		return v.Status == verdict.StatusOK
	}
	return v.IsAccepted
}
