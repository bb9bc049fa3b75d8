package isolate_test

import (
	"testing"

	"judgelet/internal/judge/sandbox/isolate"
)

func TestParseMeta(t *testing.T) {
	text := "time:0.015\ntime-wall:0.021\nmax-rss:3188\ncg-mem:0\nexitcode:0\n"
	meta, err := isolate.ParseMeta(text)
	if err != nil {
		t.Fatalf("ParseMeta failed: %v", err)
	}
	if meta.TimeSec != 0.015 || meta.WallTimeSec != 0.021 {
		t.Fatalf("bad times: %+v", meta)
	}
	if meta.MemoryKB != 3188 {
		t.Fatalf("bad memory: %+v", meta)
	}
	if meta.ExitCode != 0 || meta.Status != "" {
		t.Fatalf("clean run must have empty status: %+v", meta)
	}
}

func TestParseMetaStatus(t *testing.T) {
	meta, err := isolate.ParseMeta("status:TO\ntime:2.001\nmessage:Time limit exceeded\n")
	if err != nil {
		t.Fatalf("ParseMeta failed: %v", err)
	}
	if meta.Status != "TO" {
		t.Fatalf("expected status TO, got %q", meta.Status)
	}
}

func TestParseMetaSkipsNoise(t *testing.T) {
	meta, err := isolate.ParseMeta("\n\nnot a pair\nstatus:RE\nexitcode:1\n")
	if err != nil {
		t.Fatalf("ParseMeta failed: %v", err)
	}
	if meta.Status != "RE" || meta.ExitCode != 1 {
		t.Fatalf("unexpected meta: %+v", meta)
	}
}

func TestParseMetaBadValue(t *testing.T) {
	if _, err := isolate.ParseMeta("time:garbage\n"); err == nil {
		t.Fatalf("expected error for unparsable time")
	}
}

func TestParseMetaEmpty(t *testing.T) {
	meta, err := isolate.ParseMeta("")
	if err != nil {
		t.Fatalf("ParseMeta failed: %v", err)
	}
	if meta != (isolate.Meta{}) {
		t.Fatalf("expected zero meta, got %+v", meta)
	}
}
