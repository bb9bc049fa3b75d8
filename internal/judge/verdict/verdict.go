// Package verdict defines execution statuses and the rules that map raw
// sandbox outcomes onto them.
package verdict

import "strings"

// Status is the classified outcome of executing one test case.
type Status string

const (
	StatusAC         Status = "AC"
	StatusWA         Status = "WA"
	StatusCE         Status = "CE"
	StatusRE         Status = "RE"
	StatusTLE        Status = "TLE"
	StatusMLE        Status = "MLE"
	StatusRTE        Status = "RTE"
	StatusIE         Status = "IE"
	StatusOK         Status = "OK"
	StatusNeedsInput Status = "NEEDS_INPUT"
)

// Isolator meta status tags. OK is implicit (empty).
const (
	MetaStatusRE = "RE"
	MetaStatusTO = "TO"
	MetaStatusSG = "SG"
	MetaStatusXX = "XX"
)

const messageMaxLen = 500

// Verdict carries the classified status plus the observed execution data.
type Verdict struct {
	Status     Status  `json:"status"`
	Stdout     string  `json:"output"`
	Stderr     string  `json:"error"`
	Expected   string  `json:"expected,omitempty"`
	TimeSec    float64 `json:"time"`
	MemoryKB   int64   `json:"memory"`
	ExitCode   int     `json:"exit_code"`
	Message    string  `json:"message,omitempty"`
	IsAccepted bool    `json:"is_accepted"`
}

// CompileOutcome is the raw result of an optional compile step.
type CompileOutcome struct {
	Ran        bool
	MetaStatus string
	ExitCode   int
	Stderr     string
}

// RunOutcome is the raw result of the run step.
type RunOutcome struct {
	MetaStatus string
	TimeSec    float64
	MemoryKB   int64
	ExitCode   int
	Stdout     string
	Stderr     string
}

// needsInputMarkers are stderr fragments that indicate the program tried to
// read past the provided stdin.
var needsInputMarkers = []string{
	"EOFError",
	"InputMismatchException",
	"NoSuchElementException",
	"EOF when reading",
	"Scanner is closed",
}

// Classify maps compile and run outcomes onto a Verdict. memLimitKB is the
// memory limit the run executed under; a signal kill at or above it is MLE.
// An empty expected output means "do not compare" and yields OK on a clean run.
func Classify(compile *CompileOutcome, run RunOutcome, expected string, memLimitKB int64) Verdict {
	if compile != nil && compile.Ran {
		if compile.MetaStatus != "" || (compile.ExitCode != 0 && compile.Stderr != "") {
			return Verdict{
				Status:   StatusCE,
				Stderr:   compile.Stderr,
				ExitCode: compile.ExitCode,
				Message:  truncate(compile.Stderr, messageMaxLen),
			}
		}
	}

	base := Verdict{
		Stdout:   run.Stdout,
		Stderr:   run.Stderr,
		TimeSec:  run.TimeSec,
		MemoryKB: run.MemoryKB,
		ExitCode: run.ExitCode,
	}

	switch run.MetaStatus {
	case MetaStatusTO:
		base.Status = StatusTLE
		base.Message = "Time Limit Exceeded"
		return base
	case MetaStatusSG:
		if memLimitKB > 0 && run.MemoryKB >= memLimitKB {
			base.Status = StatusMLE
			base.Message = "Memory Limit Exceeded"
			return base
		}
		base.Status = StatusRTE
		base.Message = "Runtime Error"
		return base
	case MetaStatusRE:
		if matchesNeedsInput(run.Stderr) {
			base.Status = StatusNeedsInput
			base.Message = "Program requires input from stdin"
			return base
		}
		base.Status = StatusRE
		base.Message = truncate(run.Stderr, messageMaxLen)
		return base
	case MetaStatusXX:
		base.Status = StatusIE
		base.Message = "isolator internal failure"
		return base
	}

	if expected == "" {
		base.Status = StatusOK
		return base
	}

	equal, collapsed := Match(run.Stdout, expected)
	if equal {
		base.Status = StatusAC
		base.IsAccepted = true
		if collapsed {
			base.Message = "accepted after whitespace normalization"
		}
		return base
	}

	base.Status = StatusWA
	base.Expected = expected
	return base
}

func matchesNeedsInput(stderr string) bool {
	for _, marker := range needsInputMarkers {
		if strings.Contains(stderr, marker) {
			return true
		}
	}
	return false
}

// Normalize trims trailing whitespace from every line and strips leading and
// trailing blank lines. Normalize is idempotent.
func Normalize(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\r")
	}
	start := 0
	end := len(lines)
	for start < end && lines[start] == "" {
		start++
	}
	for end > start && lines[end-1] == "" {
		end--
	}
	return strings.Join(lines[start:end], "\n")
}

// Match compares actual and expected program output. It first compares the
// normalized forms; if unequal it collapses every run of whitespace to one
// space on both sides and compares again. The second return value reports
// whether equality was only reached through the collapsed comparison.
func Match(actual, expected string) (equal bool, collapsed bool) {
	na := Normalize(actual)
	ne := Normalize(expected)
	if na == ne {
		return true, false
	}
	if collapseWhitespace(na) == collapseWhitespace(ne) {
		return true, true
	}
	return false, false
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
