package stream_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"judgelet/internal/judge/executor"
	"judgelet/internal/judge/stream"
	"judgelet/internal/judge/verdict"
)

// fakeExec resolves verdicts by test input, with optional per-input delays.
type fakeExec struct {
	mu       sync.Mutex
	verdicts map[string]verdict.Verdict
	delays   map[string]time.Duration
	inputs   []string
}

func (f *fakeExec) Execute(ctx context.Context, req executor.Request) verdict.Verdict {
	f.mu.Lock()
	f.inputs = append(f.inputs, req.Input)
	v, ok := f.verdicts[req.Input]
	delay := f.delays[req.Input]
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return verdict.Verdict{Status: verdict.StatusIE, Message: "cancelled"}
		}
	}
	if !ok {
		return verdict.Verdict{Status: verdict.StatusIE, Message: "unexpected input"}
	}
	return v
}

func collect(t *testing.T, r *stream.Runner, job stream.Job) []stream.Event {
	t.Helper()
	var events []stream.Event
	err := r.StreamExecution(context.Background(), job, func(e stream.Event) error {
		events = append(events, e)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamExecution failed: %v", err)
	}
	return events
}

func acVerdict(out string) verdict.Verdict {
	return verdict.Verdict{Status: verdict.StatusAC, Stdout: out, IsAccepted: true}
}

func TestStreamOrderUnderParallelism(t *testing.T) {
	exec := &fakeExec{
		verdicts: map[string]verdict.Verdict{
			"t0": acVerdict("a"),
			"t1": acVerdict("b"),
			"t2": {Status: verdict.StatusWA, Stdout: "x"},
			"t3": acVerdict("c"),
			"t4": acVerdict("d"),
		},
		// The middle test finishes last; the event order must not change.
		delays: map[string]time.Duration{"t2": 150 * time.Millisecond},
	}
	r := stream.New(exec, 5, nil)

	job := stream.Job{Language: "python", Code: "c"}
	for _, in := range []string{"t0", "t1", "t2", "t3", "t4"} {
		job.Tests = append(job.Tests, stream.TestCase{Input: in, Expected: "y"})
	}
	events := collect(t, r, job)

	if len(events) != 7 {
		t.Fatalf("expected start + 5 tests + complete, got %d events", len(events))
	}
	if events[0].Type != stream.EventStart || events[0].Total != 5 {
		t.Fatalf("bad start event: %+v", events[0])
	}
	for i := 0; i < 5; i++ {
		e := events[i+1]
		if e.Type != stream.EventTest {
			t.Fatalf("event %d: expected test, got %s", i, e.Type)
		}
		if e.Index != i {
			t.Fatalf("event %d out of order: index %d", i, e.Index)
		}
		if e.Progress != i+1 {
			t.Fatalf("event %d: progress %d", i, e.Progress)
		}
	}
	last := events[6]
	if last.Type != stream.EventComplete {
		t.Fatalf("expected complete last, got %s", last.Type)
	}
	if last.Summary == nil || last.Summary.Passed != 4 || last.Summary.Failed != 1 {
		t.Fatalf("bad summary: %+v", last.Summary)
	}
	if last.Summary.SuccessRate != 80 {
		t.Fatalf("bad success rate: %v", last.Summary.SuccessRate)
	}
}

func TestStreamCustomRun(t *testing.T) {
	exec := &fakeExec{verdicts: map[string]verdict.Verdict{
		"in": {Status: verdict.StatusOK, Stdout: "Hello World"},
	}}
	r := stream.New(exec, 2, nil)

	events := collect(t, r, stream.Job{
		Language:    "python",
		Code:        "c",
		Tests:       []stream.TestCase{{Input: "in"}},
		IsCustomRun: true,
	})
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[1].Type != stream.EventCustom {
		t.Fatalf("expected custom event, got %s", events[1].Type)
	}
	if events[1].Passed != 1 {
		t.Fatalf("OK run must count as passed in custom mode: %+v", events[1].TestPayload)
	}
	if events[2].Type != stream.EventComplete || events[2].Summary != nil {
		t.Fatalf("custom-run complete must be bare: %+v", events[2])
	}
}

func TestStreamCustomRunEmptyTests(t *testing.T) {
	exec := &fakeExec{verdicts: map[string]verdict.Verdict{
		"": {Status: verdict.StatusOK, Stdout: "x"},
	}}
	r := stream.New(exec, 1, nil)

	events := collect(t, r, stream.Job{Language: "python", Code: "c", IsCustomRun: true})
	if len(events) != 3 {
		t.Fatalf("expected synthetic single test, got %d events", len(events))
	}
	if events[0].Total != 1 {
		t.Fatalf("start total = %d, want 1", events[0].Total)
	}
	exec.mu.Lock()
	defer exec.mu.Unlock()
	if len(exec.inputs) != 1 || exec.inputs[0] != "" {
		t.Fatalf("expected one execution with empty input, got %v", exec.inputs)
	}
}

func TestStreamSubmitEmptyTests(t *testing.T) {
	exec := &fakeExec{}
	r := stream.New(exec, 1, nil)

	events := collect(t, r, stream.Job{Language: "python", Code: "c"})
	if len(events) != 3 {
		t.Fatalf("expected start, error, complete; got %d events", len(events))
	}
	if events[1].Type != stream.EventError {
		t.Fatalf("expected error event, got %s", events[1].Type)
	}
	if events[2].Type != stream.EventComplete {
		t.Fatalf("expected complete, got %s", events[2].Type)
	}
	// The start event keeps its total field even at zero.
	raw, err := json.Marshal(events[0])
	if err != nil {
		t.Fatalf("marshal start event: %v", err)
	}
	if !strings.Contains(string(raw), `"total":0`) {
		t.Fatalf("start event lost its total field: %s", raw)
	}
	exec.mu.Lock()
	defer exec.mu.Unlock()
	if len(exec.inputs) != 0 {
		t.Fatalf("nothing should execute without tests, ran %v", exec.inputs)
	}
}

func TestStreamNeedsInputTerminatesCustomRun(t *testing.T) {
	exec := &fakeExec{verdicts: map[string]verdict.Verdict{
		"in": {Status: verdict.StatusNeedsInput, Message: "Program requires input from stdin"},
	}}
	r := stream.New(exec, 1, nil)

	events := collect(t, r, stream.Job{
		Language:    "python",
		Code:        "c",
		Tests:       []stream.TestCase{{Input: "in"}},
		IsCustomRun: true,
	})
	if len(events) != 3 {
		t.Fatalf("expected start, needs_input, error; got %d events", len(events))
	}
	if events[1].Type != stream.EventNeedsInput {
		t.Fatalf("expected needs_input, got %s", events[1].Type)
	}
	if events[2].Type != stream.EventError {
		t.Fatalf("expected error, got %s", events[2].Type)
	}
	for _, e := range events {
		if e.Type == stream.EventComplete {
			t.Fatalf("terminated stream must not complete")
		}
	}
}

func TestStreamNeedsInputContinuesInSubmitMode(t *testing.T) {
	exec := &fakeExec{verdicts: map[string]verdict.Verdict{
		"t0": {Status: verdict.StatusNeedsInput},
		"t1": acVerdict("ok"),
	}}
	r := stream.New(exec, 2, nil)

	events := collect(t, r, stream.Job{
		Language: "python",
		Code:     "c",
		Tests:    []stream.TestCase{{Input: "t0", Expected: "y"}, {Input: "t1", Expected: "y"}},
	})
	if len(events) != 4 {
		t.Fatalf("submit mode must run all tests, got %d events", len(events))
	}
	summary := events[3].Summary
	if summary == nil || summary.Passed != 1 || summary.Failed != 1 {
		t.Fatalf("bad summary: %+v", summary)
	}
}

func TestStreamConsumerDisconnectCancels(t *testing.T) {
	exec := &fakeExec{
		verdicts: map[string]verdict.Verdict{
			"t0": acVerdict("a"),
			"t1": acVerdict("b"),
		},
		delays: map[string]time.Duration{"t1": 5 * time.Second},
	}
	r := stream.New(exec, 2, nil)

	emitted := 0
	disconnect := errors.New("consumer gone")
	start := time.Now()
	err := r.StreamExecution(context.Background(), stream.Job{
		Language: "python",
		Code:     "c",
		Tests:    []stream.TestCase{{Input: "t0", Expected: "y"}, {Input: "t1", Expected: "y"}},
	}, func(e stream.Event) error {
		emitted++
		if emitted >= 2 {
			return disconnect
		}
		return nil
	})
	if !errors.Is(err, disconnect) {
		t.Fatalf("expected disconnect error, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("in-flight work was not cancelled, run took %v", elapsed)
	}
}

func TestStreamSampleFlagCarried(t *testing.T) {
	exec := &fakeExec{verdicts: map[string]verdict.Verdict{
		"s": acVerdict("a"),
		"h": acVerdict("b"),
	}}
	r := stream.New(exec, 1, nil)

	events := collect(t, r, stream.Job{
		Language: "python",
		Code:     "c",
		Tests: []stream.TestCase{
			{Input: "s", Expected: "a", IsSample: true},
			{Input: "h", Expected: "b"},
		},
	})
	if !events[1].IsSample || events[2].IsSample {
		t.Fatalf("sample flags wrong: %+v %+v", events[1].TestPayload, events[2].TestPayload)
	}
}
