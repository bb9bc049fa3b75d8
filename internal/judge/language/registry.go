// Package language holds the static table that maps a language tag to its
// source filename, compile command and run command inside a sandbox box.
package language

import (
	"sort"

	"github.com/google/shlex"

	appErr "judgelet/pkg/errors"
)

// Supported language tags.
const (
	TagPython     = "python"
	TagC          = "c"
	TagCPP        = "cpp"
	TagJava       = "java"
	TagGo         = "go"
	TagJavaScript = "javascript"
	TagTypeScript = "typescript"
)

// Spec describes how one language is built and executed. CompileCmd is nil
// for interpreted languages; when present, RunCmd refers to the compiled
// artifact written into the same box.
type Spec struct {
	Tag        string
	SourceFile string
	CompileCmd []string
	RunCmd     []string
	Env        []string
}

// Compiled reports whether the language needs a compile step.
func (s Spec) Compiled() bool {
	return len(s.CompileCmd) > 0
}

// Override adjusts one built-in entry from configuration. Compile and Run are
// shell-like command strings split with shlex; empty fields keep the default.
type Override struct {
	Tag        string   `yaml:"tag"`
	SourceFile string   `yaml:"sourceFile"`
	Compile    string   `yaml:"compile"`
	Run        string   `yaml:"run"`
	Env        []string `yaml:"env"`
}

// Registry is the per-process language table.
type Registry struct {
	specs map[string]Spec
}

// NewRegistry returns a registry preloaded with the built-in language table.
// Tool paths are absolute and chosen for the deploy image.
func NewRegistry() *Registry {
	specs := map[string]Spec{
		TagPython: {
			Tag:        TagPython,
			SourceFile: "solution.py",
			RunCmd:     []string{"/usr/bin/python3", "solution.py"},
		},
		TagC: {
			Tag:        TagC,
			SourceFile: "solution.c",
			CompileCmd: []string{"/usr/bin/gcc", "-O2", "solution.c", "-o", "solution"},
			RunCmd:     []string{"./solution"},
		},
		TagCPP: {
			Tag:        TagCPP,
			SourceFile: "solution.cpp",
			CompileCmd: []string{"/usr/bin/g++", "-O2", "-std=c++17", "solution.cpp", "-o", "solution"},
			RunCmd:     []string{"./solution"},
		},
		TagJava: {
			// The main class must be named Solution, so the filename is fixed.
			Tag:        TagJava,
			SourceFile: "Solution.java",
			CompileCmd: []string{"/usr/bin/javac", "-J-Xms128M", "-J-Xmx512M", "Solution.java"},
			RunCmd:     []string{"/usr/bin/java", "-Xmx512M", "Solution"},
		},
		TagGo: {
			Tag:        TagGo,
			SourceFile: "solution.go",
			CompileCmd: []string{"/usr/bin/go", "build", "-o", "solution", "solution.go"},
			RunCmd:     []string{"./solution"},
			Env:        []string{"GOCACHE=/tmp", "HOME=/tmp"},
		},
		TagJavaScript: {
			Tag:        TagJavaScript,
			SourceFile: "solution.js",
			RunCmd:     []string{"/usr/bin/node", "solution.js"},
		},
		TagTypeScript: {
			// tsc emits solution.js next to the source; the run step executes that.
			Tag:        TagTypeScript,
			SourceFile: "solution.ts",
			CompileCmd: []string{"/usr/bin/node", "/usr/bin/tsc", "solution.ts", "--target", "ES2020", "--module", "CommonJS"},
			RunCmd:     []string{"/usr/bin/node", "solution.js"},
		},
	}
	return &Registry{specs: specs}
}

// Lookup returns the spec for a language tag.
func (r *Registry) Lookup(tag string) (Spec, error) {
	spec, ok := r.specs[tag]
	if !ok {
		return Spec{}, appErr.New(appErr.LanguageNotSupported).WithMessage("unsupported language")
	}
	return spec, nil
}

// Supported reports whether the tag is in the table.
func (r *Registry) Supported(tag string) bool {
	_, ok := r.specs[tag]
	return ok
}

// Tags returns the supported tags in sorted order.
func (r *Registry) Tags() []string {
	tags := make([]string, 0, len(r.specs))
	for tag := range r.specs {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Apply overlays configuration overrides onto the built-in table.
func (r *Registry) Apply(overrides []Override) error {
	for _, ov := range overrides {
		spec, ok := r.specs[ov.Tag]
		if !ok {
			return appErr.Newf(appErr.LanguageNotSupported, "unknown language in config: %s", ov.Tag)
		}
		if ov.SourceFile != "" {
			spec.SourceFile = ov.SourceFile
		}
		if ov.Compile != "" {
			cmd, err := shlex.Split(ov.Compile)
			if err != nil {
				return appErr.Wrapf(err, appErr.InvalidParams, "parse compile command for %s failed", ov.Tag)
			}
			spec.CompileCmd = cmd
		}
		if ov.Run != "" {
			cmd, err := shlex.Split(ov.Run)
			if err != nil {
				return appErr.Wrapf(err, appErr.InvalidParams, "parse run command for %s failed", ov.Tag)
			}
			if len(cmd) == 0 {
				return appErr.Newf(appErr.InvalidParams, "empty run command for %s", ov.Tag)
			}
			spec.RunCmd = cmd
		}
		if len(ov.Env) > 0 {
			spec.Env = ov.Env
		}
		r.specs[ov.Tag] = spec
	}
	return nil
}
