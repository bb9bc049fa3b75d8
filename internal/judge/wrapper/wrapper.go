// Package wrapper surrounds user code with problem-specific harness snippets.
package wrapper

import "strings"

// Wrapper is an optional pair of source snippets placed around user code.
// Both parts are pre-formatted for the target language; no re-indentation
// happens here.
type Wrapper struct {
	Top    string `json:"top"`
	Bottom string `json:"bottom"`
}

// Wrap concatenates top, code and bottom with blank-line separators. A nil
// wrapper, or one with both parts empty, returns the code unchanged.
func Wrap(code string, w *Wrapper) string {
	if w == nil {
		return code
	}
	top := strings.TrimSpace(w.Top)
	bottom := strings.TrimSpace(w.Bottom)
	if top == "" && bottom == "" {
		return code
	}

	parts := make([]string, 0, 3)
	if top != "" {
		parts = append(parts, top)
	}
	parts = append(parts, code)
	if bottom != "" {
		parts = append(parts, bottom)
	}
	return strings.Join(parts, "\n\n")
}
