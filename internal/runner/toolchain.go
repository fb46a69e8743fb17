package runner

import (
	"maps"
	"time"

	"github.com/felixgeelhaar/drillgrade/internal/language"
)

// Toolchain describes how one language runs inside a sandbox runtime.
type Toolchain struct {
	Image string
	// Build compiles the harness program before Command runs. A failed
	// build is a compile error.
	Build   []string
	Command []string
	Env     []string
	// BuildAllowance bounds the build step. The run timeout applies to
	// Command alone.
	BuildAllowance time.Duration
}

// DefaultToolchains returns default toolchains for the sandboxed languages
func DefaultToolchains() map[string]Toolchain {
	return map[string]Toolchain{
		language.Go: {
			Image:          "golang:1.23-alpine",
			Build:          []string{"go", "build", "-o", "drill", goMainFile},
			Command:        []string{"./drill"},
			Env:            []string{"CGO_ENABLED=0", "GOTOOLCHAIN=local", "GOFLAGS=-buildvcs=false"},
			BuildAllowance: 30 * time.Second,
		},
		language.Python: {
			Image:   "python:3.12-alpine",
			Command: []string{"python3", "-I", "-B", "main.py"},
		},
		language.JavaScript: {
			Image:   "node:22-alpine",
			Command: []string{"node", "main.js"},
		},
		language.Ruby: {
			Image:   "ruby:3.3-alpine",
			Command: []string{"ruby", "main.rb"},
		},
	}
}

// harness turns a request into the files of a runnable program that
// reports the captured value after marker, and condenses the program's
// error output into diagnostics.
type harness interface {
	Files(req Request, marker string) (map[string]string, error)
	Diagnostics(output string) []string
}

func harnessFor(lang string) (harness, bool) {
	switch lang {
	case language.Go:
		return goHarness{}, true
	case language.Python:
		return pythonHarness{}, true
	case language.JavaScript:
		return javascriptHarness{}, true
	case language.Ruby:
		return rubyHarness{}, true
	}
	return nil, false
}

// MergeToolchains overlays overrides on base. Empty override fields keep
// the base value.
func MergeToolchains(base, overrides map[string]Toolchain) map[string]Toolchain {
	out := maps.Clone(base)
	for lang, o := range overrides {
		tc := out[lang]
		if o.Image != "" {
			tc.Image = o.Image
		}
		if len(o.Build) > 0 {
			tc.Build = o.Build
		}
		if len(o.Command) > 0 {
			tc.Command = o.Command
		}
		if len(o.Env) > 0 {
			tc.Env = o.Env
		}
		if o.BuildAllowance > 0 {
			tc.BuildAllowance = o.BuildAllowance
		}
		out[lang] = tc
	}
	return out
}
