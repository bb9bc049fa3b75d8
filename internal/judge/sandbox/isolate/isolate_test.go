package isolate_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"judgelet/internal/judge/sandbox/isolate"
)

// writeScript drops an executable shell script standing in for the isolate
// binary.
func writeScript(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "isolate")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write fake isolate: %v", err)
	}
	return path
}

func makeBox(t *testing.T, root string, boxID int) string {
	t.Helper()
	boxDir := filepath.Join(root, fmt.Sprintf("%d", boxID), "box")
	if err := os.MkdirAll(boxDir, 0o755); err != nil {
		t.Fatalf("mkdir box: %v", err)
	}
	return boxDir
}

func TestLimitsNormalized(t *testing.T) {
	def := isolate.Limits{}.Normalized()
	if def != isolate.DefaultLimits() {
		t.Fatalf("zero limits must normalize to defaults, got %+v", def)
	}

	l := isolate.Limits{CPUTimeSec: 8, WallTimeSec: 3}.Normalized()
	if l.WallTimeSec <= l.CPUTimeSec {
		t.Fatalf("wall limit must exceed CPU limit, got %+v", l)
	}
}

func TestBoxDir(t *testing.T) {
	d := isolate.NewDriver(isolate.Config{BoxRoot: "/var/local/lib/isolate"})
	if got := d.BoxDir(7); got != "/var/local/lib/isolate/7/box" {
		t.Fatalf("BoxDir = %q", got)
	}
}

func TestRunReadsOutputsAndMeta(t *testing.T) {
	tmp := t.TempDir()
	root := filepath.Join(tmp, "boxes")
	boxDir := makeBox(t, root, 3)

	bin := writeScript(t, tmp, fmt.Sprintf(
		"printf 'Hello World' > %[1]s/out.txt\n"+
			"printf '' > %[1]s/err.txt\n"+
			"printf 'time:0.015\\ntime-wall:0.020\\nmax-rss:3188\\nexitcode:0\\n' > %[1]s/meta.txt\n",
		boxDir))

	d := isolate.NewDriver(isolate.Config{BinaryPath: bin, BoxRoot: root})
	res, err := d.Run(context.Background(), 3, []string{"/usr/bin/python3", "solution.py"}, "", nil, isolate.Limits{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Stdout != "Hello World" {
		t.Fatalf("stdout %q", res.Stdout)
	}
	meta, err := isolate.ParseMeta(res.MetaText)
	if err != nil {
		t.Fatalf("ParseMeta failed: %v", err)
	}
	if meta.ExitCode != 0 || meta.Status != "" {
		t.Fatalf("unexpected meta %+v", meta)
	}

	// input.txt is written even for empty stdin.
	if _, err := os.Stat(filepath.Join(boxDir, "input.txt")); err != nil {
		t.Fatalf("input.txt missing: %v", err)
	}
}

func TestRunWritesStdin(t *testing.T) {
	tmp := t.TempDir()
	root := filepath.Join(tmp, "boxes")
	boxDir := makeBox(t, root, 0)

	bin := writeScript(t, tmp, fmt.Sprintf("printf 'exitcode:0\\n' > %s/meta.txt\n", boxDir))
	d := isolate.NewDriver(isolate.Config{BinaryPath: bin, BoxRoot: root})
	if _, err := d.Run(context.Background(), 0, []string{"./solution"}, "3 7", nil, isolate.Limits{}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(boxDir, "input.txt"))
	if err != nil {
		t.Fatalf("read input.txt: %v", err)
	}
	if string(data) != "3 7" {
		t.Fatalf("input.txt = %q", data)
	}
}

func TestRunMetaFallbackToParentDir(t *testing.T) {
	tmp := t.TempDir()
	root := filepath.Join(tmp, "boxes")
	boxDir := makeBox(t, root, 1)
	parent := filepath.Dir(boxDir)

	bin := writeScript(t, tmp, fmt.Sprintf("printf 'status:RE\\nexitcode:1\\n' > %s/meta.txt\n", parent))
	d := isolate.NewDriver(isolate.Config{BinaryPath: bin, BoxRoot: root})
	res, err := d.Run(context.Background(), 1, []string{"./solution"}, "", nil, isolate.Limits{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	meta, err := isolate.ParseMeta(res.MetaText)
	if err != nil {
		t.Fatalf("ParseMeta failed: %v", err)
	}
	if meta.Status != "RE" {
		t.Fatalf("expected RE from parent meta, got %+v", meta)
	}
}

func TestRunMissingMetaIsError(t *testing.T) {
	tmp := t.TempDir()
	root := filepath.Join(tmp, "boxes")
	makeBox(t, root, 2)

	bin := writeScript(t, tmp, "exit 0\n")
	d := isolate.NewDriver(isolate.Config{BinaryPath: bin, BoxRoot: root})
	if _, err := d.Run(context.Background(), 2, []string{"./solution"}, "", nil, isolate.Limits{}); err == nil {
		t.Fatalf("expected error when no meta file appears")
	}
}

func TestRunIgnoresStaleMeta(t *testing.T) {
	tmp := t.TempDir()
	root := filepath.Join(tmp, "boxes")
	boxDir := makeBox(t, root, 5)

	// Leftovers from a previous step in both meta locations.
	for _, path := range []string{
		filepath.Join(boxDir, "meta.txt"),
		filepath.Join(filepath.Dir(boxDir), "meta.txt"),
	} {
		if err := os.WriteFile(path, []byte("exitcode:0\n"), 0o644); err != nil {
			t.Fatalf("write stale meta: %v", err)
		}
	}

	// The isolator dies without writing a meta file.
	bin := writeScript(t, tmp, "exit 1\n")
	d := isolate.NewDriver(isolate.Config{BinaryPath: bin, BoxRoot: root})
	if _, err := d.Run(context.Background(), 5, []string{"./solution"}, "", nil, isolate.Limits{}); err == nil {
		t.Fatalf("expected error, stale meta must not classify as a clean run")
	}
}

func TestRunSupervisoryTimeout(t *testing.T) {
	tmp := t.TempDir()
	root := filepath.Join(tmp, "boxes")
	makeBox(t, root, 4)

	bin := writeScript(t, tmp, "sleep 30\n")
	d := isolate.NewDriver(isolate.Config{
		BinaryPath:      bin,
		BoxRoot:         root,
		SuperviseBuffer: 100 * time.Millisecond,
	})

	start := time.Now()
	res, err := d.Run(context.Background(), 4, []string{"./solution"}, "", nil,
		isolate.Limits{CPUTimeSec: 0.1, WallTimeSec: 0.2})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("watchdog did not fire, run took %v", elapsed)
	}
	if !res.SyntheticTimeout {
		t.Fatalf("expected synthetic timeout result")
	}
	meta, err := isolate.ParseMeta(res.MetaText)
	if err != nil {
		t.Fatalf("ParseMeta failed: %v", err)
	}
	if meta.Status != "TO" {
		t.Fatalf("expected synthetic TO, got %+v", meta)
	}
}

func TestRunOutputCap(t *testing.T) {
	tmp := t.TempDir()
	root := filepath.Join(tmp, "boxes")
	boxDir := makeBox(t, root, 6)

	bin := writeScript(t, tmp, fmt.Sprintf(
		"head -c 4096 /dev/zero | tr '\\0' 'x' > %[1]s/out.txt\n"+
			"printf 'exitcode:0\\n' > %[1]s/meta.txt\n", boxDir))
	d := isolate.NewDriver(isolate.Config{BinaryPath: bin, BoxRoot: root, OutputCapBytes: 100})
	res, err := d.Run(context.Background(), 6, []string{"./solution"}, "", nil, isolate.Limits{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(res.Stdout) != 100 {
		t.Fatalf("stdout not capped: %d bytes", len(res.Stdout))
	}
}

func TestWriteSource(t *testing.T) {
	tmp := t.TempDir()
	root := filepath.Join(tmp, "boxes")
	boxDir := makeBox(t, root, 9)

	d := isolate.NewDriver(isolate.Config{BoxRoot: root})
	if err := d.WriteSource(9, "solution.py", "print('x')\n"); err != nil {
		t.Fatalf("WriteSource failed: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(boxDir, "solution.py"))
	if err != nil {
		t.Fatalf("read source: %v", err)
	}
	if string(data) != "print('x')\n" {
		t.Fatalf("source = %q", data)
	}
}

func TestInitRetriesMountpointFailures(t *testing.T) {
	tmp := t.TempDir()
	root := filepath.Join(tmp, "boxes")
	countFile := filepath.Join(tmp, "count")

	bin := writeScript(t, tmp, fmt.Sprintf(
		`case "$2" in
--cleanup) exit 0 ;;
--init)
  n=$(cat %[1]s 2>/dev/null || echo 0)
  n=$((n+1))
  echo $n > %[1]s
  if [ $n -le 2 ]; then
    echo "Unexpected mountpoint" >&2
    exit 1
  fi
  exit 0 ;;
esac
`, countFile))

	d := isolate.NewDriver(isolate.Config{
		BinaryPath:     bin,
		BoxRoot:        root,
		InitAttempts:   3,
		InitRetryDelay: time.Millisecond,
	})
	if err := d.Init(context.Background(), 0); err != nil {
		t.Fatalf("Init failed after retryable errors: %v", err)
	}
	data, _ := os.ReadFile(countFile)
	if got := strings.TrimSpace(string(data)); got != "3" {
		t.Fatalf("expected 3 init attempts, got %q", got)
	}
}

func TestInitPermanentFailureDoesNotRetry(t *testing.T) {
	tmp := t.TempDir()
	root := filepath.Join(tmp, "boxes")
	countFile := filepath.Join(tmp, "count")

	bin := writeScript(t, tmp, fmt.Sprintf(
		`case "$2" in
--cleanup) exit 0 ;;
--init)
  n=$(cat %[1]s 2>/dev/null || echo 0)
  n=$((n+1))
  echo $n > %[1]s
  echo "Cannot run proxy" >&2
  exit 1 ;;
esac
`, countFile))

	d := isolate.NewDriver(isolate.Config{
		BinaryPath:     bin,
		BoxRoot:        root,
		InitAttempts:   3,
		InitRetryDelay: time.Millisecond,
	})
	if err := d.Init(context.Background(), 0); err == nil {
		t.Fatalf("expected Init to fail")
	}
	data, _ := os.ReadFile(countFile)
	if got := strings.TrimSpace(string(data)); got != "1" {
		t.Fatalf("expected a single init attempt, got %q", got)
	}
}

func TestCleanupBestEffort(t *testing.T) {
	tmp := t.TempDir()
	root := filepath.Join(tmp, "boxes")
	makeBox(t, root, 8)

	bin := writeScript(t, tmp, "echo boom >&2\nexit 1\n")
	d := isolate.NewDriver(isolate.Config{BinaryPath: bin, BoxRoot: root})
	// Must not panic or leave the box directory behind.
	d.Cleanup(context.Background(), 8)
	if _, err := os.Stat(filepath.Join(root, "8")); !os.IsNotExist(err) {
		t.Fatalf("box directory survived cleanup")
	}
}
