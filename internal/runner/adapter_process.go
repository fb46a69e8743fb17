package runner

import (
	"context"
	"errors"
	"fmt"

	"github.com/felixgeelhaar/drillgrade/internal/domain"
	"github.com/felixgeelhaar/drillgrade/internal/sandbox"
)

// ProcessAdapter runs a language through a harness program inside a
// sandbox runtime.
type ProcessAdapter struct {
	lang      string
	harness   harness
	toolchain Toolchain
	runtime   sandbox.Runtime
	limits    sandbox.Limits
}

// NewProcessAdapter creates an adapter for one of the harnessed languages.
func NewProcessAdapter(lang string, tc Toolchain, rt sandbox.Runtime, limits sandbox.Limits) (*ProcessAdapter, error) {
	h, ok := harnessFor(lang)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoAdapter, lang)
	}
	if len(tc.Command) == 0 {
		return nil, fmt.Errorf("%w: %s toolchain has no command", ErrNoAdapter, lang)
	}
	return &ProcessAdapter{
		lang:      lang,
		harness:   h,
		toolchain: tc,
		runtime:   rt,
		limits:    limits,
	}, nil
}

var _ Adapter = (*ProcessAdapter)(nil)

// Language returns the language this adapter handles
func (a *ProcessAdapter) Language() string {
	return a.lang
}

// Run executes one submission.
func (a *ProcessAdapter) Run(ctx context.Context, req Request) Outcome {
	marker := newResultMarker()
	files, err := a.harness.Files(req, marker)
	if err != nil {
		var ce *CompileError
		if errors.As(err, &ce) {
			return failure(domain.ErrorCompile, ce.Diagnostics...)
		}
		return failure(domain.ErrorRuntime, err.Error())
	}

	res, err := a.runtime.Exec(ctx, sandbox.Job{
		Language:     a.lang,
		Image:        a.toolchain.Image,
		Files:        files,
		Build:        a.toolchain.Build,
		BuildTimeout: a.toolchain.BuildAllowance,
		Cmd:          a.toolchain.Command,
		Env:          a.toolchain.Env,
		Timeout:      req.Timeout,
		Limits:       a.limits,
	})
	if err != nil {
		return fromError(err, req.Timeout)
	}
	return fromResult(res, req, marker, a.harness.Diagnostics)
}
