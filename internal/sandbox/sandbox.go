// Package sandbox runs untrusted programs in isolated, resource-limited
// runtimes and reports what they printed and how they exited.
package sandbox

import (
	"context"
	"errors"
	"time"
)

// Job is one program run. Files are written into an empty working
// directory before Cmd starts in it. When Build is set it runs first in the
// same directory under BuildTimeout, and Timeout bounds Cmd alone.
type Job struct {
	Language     string            `json:"language"`
	Image        string            `json:"image"`
	Files        map[string]string `json:"files"`
	Build        []string          `json:"build,omitempty"`
	BuildTimeout time.Duration     `json:"build_timeout,omitempty"`
	Cmd          []string          `json:"cmd"`
	Env          []string          `json:"env,omitempty"`
	Timeout      time.Duration     `json:"timeout"`
	Limits       Limits            `json:"limits"`
}

// Limits bounds the resources of a single run.
type Limits struct {
	MemoryMB    int     `json:"memory_mb"`
	CPULimit    float64 `json:"cpu_limit"`
	PidsLimit   int64   `json:"pids_limit"`
	OutputBytes int     `json:"output_bytes"`
}

// DefaultOutputBytes caps each captured stream.
const DefaultOutputBytes = 64 * 1024

// DefaultBuildTimeout bounds a build step when the job does not.
const DefaultBuildTimeout = 30 * time.Second

// DefaultLimits returns sensible defaults for a single drill run.
func DefaultLimits() Limits {
	return Limits{
		MemoryMB:    256,
		CPULimit:    0.5,
		PidsLimit:   64,
		OutputBytes: DefaultOutputBytes,
	}
}

// ExecResult holds the output from a sandbox execution. When the build
// step fails, BuildFailed is set and the other fields describe the build;
// otherwise they describe Cmd and Duration excludes the build.
type ExecResult struct {
	ExitCode      int           `json:"exit_code"`
	Stdout        string        `json:"stdout"`
	Stderr        string        `json:"stderr"`
	Duration      time.Duration `json:"duration"`
	BuildDuration time.Duration `json:"build_duration,omitempty"`
	BuildFailed   bool          `json:"build_failed,omitempty"`
	TimedOut      bool          `json:"timed_out,omitempty"`
	OOMKilled     bool          `json:"oom_killed,omitempty"`
	Truncated     bool          `json:"truncated,omitempty"`
}

// Runtime executes jobs in isolation. A run that exceeds its own timeout
// returns a result with TimedOut set. Errors are reserved for failures of
// the runtime itself and for cancellation of ctx, in which case the
// returned error wraps ctx.Err().
type Runtime interface {
	Name() string
	Exec(ctx context.Context, job Job) (*ExecResult, error)
	Close() error
}

var (
	ErrUnavailable  = errors.New("sandbox unavailable")
	ErrInvalidJob   = errors.New("invalid sandbox job")
	ErrImageMissing = errors.New("sandbox image missing")
)

func validateJob(job Job) error {
	if len(job.Cmd) == 0 {
		return errors.Join(ErrInvalidJob, errors.New("empty command"))
	}
	if job.Timeout <= 0 {
		return errors.Join(ErrInvalidJob, errors.New("timeout must be positive"))
	}
	return nil
}

func buildTimeout(job Job) time.Duration {
	if job.BuildTimeout <= 0 {
		return DefaultBuildTimeout
	}
	return job.BuildTimeout
}

// buildFailed reports whether a finished build step stops the job.
func buildFailed(res *ExecResult) bool {
	return res.TimedOut || res.OOMKilled || res.ExitCode != 0
}

func outputLimit(l Limits) int {
	if l.OutputBytes <= 0 {
		return DefaultOutputBytes
	}
	return l.OutputBytes
}
