// Package runner executes submissions for imperative languages and turns
// what they produced into a value or a classified failure.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/felixgeelhaar/drillgrade/internal/domain"
	"github.com/felixgeelhaar/drillgrade/internal/sandbox"
)

// Request is one submission run.
type Request struct {
	Setup   string
	Code    string
	Timeout time.Duration
	// Capture asks the adapter to report the value of the submission's
	// final expression or trailing assignment.
	Capture bool
}

// Outcome is what a run produced. Kind is empty on success.
type Outcome struct {
	Kind        domain.ErrorKind
	Value       any
	HasValue    bool
	Stdout      string
	Diagnostics []string
	Duration    time.Duration
}

// Failed reports whether the run ended in a classified failure.
func (o Outcome) Failed() bool {
	return o.Kind != ""
}

func failure(kind domain.ErrorKind, diagnostics ...string) Outcome {
	return Outcome{Kind: kind, Diagnostics: diagnostics}
}

// Adapter runs submissions of one language.
type Adapter interface {
	Language() string
	Run(ctx context.Context, req Request) Outcome
}

var (
	ErrNoAdapter   = errors.New("no adapter registered for language")
	ErrRunNotFound = errors.New("run not found")
)

// fromError classifies an error returned by a sandbox runtime.
func fromError(err error, timeout time.Duration) Outcome {
	switch {
	case errors.Is(err, context.Canceled):
		return failure(domain.ErrorCanceled, "run was canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return failure(domain.ErrorTimeout, fmt.Sprintf("execution exceeded %s", timeout))
	default:
		return failure(domain.ErrorSandboxUnavailable, err.Error())
	}
}

// fromResult interprets a finished sandbox run. A failed build step and
// the exitCompile status both mean the submission does not compile, and
// harnesses report the value on a line that starts with the run's marker.
func fromResult(res *sandbox.ExecResult, req Request, marker string, diagnose func(string) []string) Outcome {
	stdout, raw, found := extractResult(res.Stdout, marker)
	out := Outcome{Stdout: stdout, Duration: res.Duration}

	switch {
	case res.BuildFailed:
		out.Kind = domain.ErrorCompile
		switch {
		case res.TimedOut:
			out.Diagnostics = []string{fmt.Sprintf("build did not finish within %s", res.Duration.Round(time.Millisecond))}
		case res.Stderr != "":
			out.Diagnostics = diagnose(res.Stderr)
		default:
			out.Diagnostics = diagnose(res.Stdout)
		}
		out.Stdout = ""
	case res.TimedOut:
		out.Kind = domain.ErrorTimeout
		out.Diagnostics = []string{fmt.Sprintf("execution exceeded %s", req.Timeout)}
	case res.OOMKilled:
		out.Kind = domain.ErrorRuntime
		out.Diagnostics = []string{"memory limit exceeded"}
	case res.ExitCode == exitCompile:
		out.Kind = domain.ErrorCompile
		out.Diagnostics = diagnose(res.Stderr)
	case res.ExitCode != 0:
		out.Kind = domain.ErrorRuntime
		msg := res.Stderr
		if msg == "" {
			msg = stdout
		}
		out.Diagnostics = append(diagnose(msg), fmt.Sprintf("exit status %d", res.ExitCode))
	case req.Capture && found:
		v, err := domain.DecodeValue([]byte(raw))
		if err != nil {
			out.Kind = domain.ErrorRuntime
			out.Diagnostics = []string{"result could not be decoded: " + err.Error()}
			break
		}
		out.Value, out.HasValue = v, true
	}

	if res.Truncated {
		out.Diagnostics = append(out.Diagnostics, "output was truncated")
	}
	return out
}
