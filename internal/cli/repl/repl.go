// Package repl is the interactive shell of the judgelet CLI.
package repl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"
	"github.com/google/shlex"

	httpclient "judgelet/internal/cli/http"
	"judgelet/internal/judge/stream"
)

// Session holds REPL state.
type Session struct {
	client *httpclient.Client
}

// New creates a session against one service.
func New(client *httpclient.Client) *Session {
	return &Session{client: client}
}

// Run reads commands until EOF or exit.
func (s *Session) Run(ctx context.Context) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "judgelet> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return nil
		}
		if err := s.dispatch(ctx, line); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
}

func (s *Session) dispatch(ctx context.Context, line string) error {
	args, err := shlex.Split(line)
	if err != nil {
		return err
	}
	switch args[0] {
	case "help":
		printHelp()
		return nil
	case "langs":
		return s.showJSON(ctx, "/api/languages")
	case "stats":
		return s.showJSON(ctx, "/api/stats")
	case "health":
		return s.showJSON(ctx, "/health")
	case "run":
		return s.runCustom(ctx, args[1:])
	case "submit":
		return s.submit(ctx, args[1:])
	default:
		return fmt.Errorf("unknown command %q, try help", args[0])
	}
}

func printHelp() {
	fmt.Println(`commands:
  run <language> <source-file> [input-file]   execute code with custom input
  submit <problem-slug> <language> <source-file>   judge against problem tests
  langs     list supported languages
  stats     show service statistics
  health    show service health
  exit      leave`)
}

func (s *Session) runCustom(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: run <language> <source-file> [input-file]")
	}
	code, err := os.ReadFile(args[1])
	if err != nil {
		return err
	}
	input := ""
	if len(args) >= 3 {
		raw, err := os.ReadFile(args[2])
		if err != nil {
			return err
		}
		input = string(raw)
	}
	req := httpclient.RunRequest{Code: string(code), Language: args[0], CustomInput: &input}
	return s.client.Run(ctx, "custom", req, printEvent)
}

func (s *Session) submit(ctx context.Context, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: submit <problem-slug> <language> <source-file>")
	}
	code, err := os.ReadFile(args[2])
	if err != nil {
		return err
	}
	req := httpclient.RunRequest{Code: string(code), Language: args[1]}
	return s.client.Run(ctx, args[0], req, printEvent)
}

func printEvent(e stream.Event) {
	switch e.Type {
	case stream.EventStart:
		fmt.Printf("running %d test(s)\n", e.Total)
	case stream.EventTest, stream.EventCustom, stream.EventNeedsInput:
		if e.TestPayload == nil {
			return
		}
		r := e.Result
		fmt.Printf("  #%d %-12s time=%.3fs mem=%dKB", e.Index, r.Status, r.TimeSec, r.MemoryKB)
		if r.Status == "OK" && r.Stdout != "" {
			fmt.Printf("  output=%q", r.Stdout)
		}
		if r.Message != "" {
			fmt.Printf("  %s", r.Message)
		}
		fmt.Println()
	case stream.EventError:
		fmt.Printf("stream error: %s\n", e.Message)
	case stream.EventComplete:
		if e.Summary != nil {
			fmt.Printf("done: %d/%d passed (%.1f%%)\n", e.Summary.Passed, e.Summary.Total, e.Summary.SuccessRate)
			return
		}
		fmt.Println("done")
	default:
		raw, _ := json.Marshal(e)
		fmt.Println(string(raw))
	}
}

func (s *Session) showJSON(ctx context.Context, path string) error {
	var out map[string]interface{}
	if err := s.client.GetJSON(ctx, path, &out); err != nil {
		return err
	}
	pretty, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(pretty))
	return nil
}
