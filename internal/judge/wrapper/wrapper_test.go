package wrapper_test

import (
	"testing"

	"judgelet/internal/judge/wrapper"
)

func TestWrapNil(t *testing.T) {
	code := "print('x')"
	if got := wrapper.Wrap(code, nil); got != code {
		t.Fatalf("nil wrapper must return code unchanged, got %q", got)
	}
}

func TestWrapEmptyParts(t *testing.T) {
	code := "print('x')"
	if got := wrapper.Wrap(code, &wrapper.Wrapper{Top: "  \n", Bottom: ""}); got != code {
		t.Fatalf("blank wrapper must return code unchanged, got %q", got)
	}
}

func TestWrapBothParts(t *testing.T) {
	w := &wrapper.Wrapper{Top: "import sys\n", Bottom: "\nmain()"}
	got := wrapper.Wrap("def main():\n    pass", w)
	want := "import sys\n\ndef main():\n    pass\n\nmain()"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestWrapTopOnly(t *testing.T) {
	got := wrapper.Wrap("x = 1", &wrapper.Wrapper{Top: "import math"})
	if got != "import math\n\nx = 1" {
		t.Fatalf("got %q", got)
	}
}

func TestWrapBottomOnly(t *testing.T) {
	got := wrapper.Wrap("x = 1", &wrapper.Wrapper{Bottom: "print(x)"})
	if got != "x = 1\n\nprint(x)" {
		t.Fatalf("got %q", got)
	}
}
