package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ProcessConfig configures a ProcessRuntime.
type ProcessConfig struct {
	// TempDir is where per-run working directories are created. Empty
	// means the system temp dir.
	TempDir string
	// AddressSpaceLimit applies the job's memory limit with ulimit -v.
	// Runtimes that reserve large virtual ranges up front (V8, for one)
	// cannot start under it, so it is off by default.
	AddressSpaceLimit bool
	// WaitDelay bounds how long output pipes are drained after the process
	// is killed.
	WaitDelay time.Duration
}

// ProcessRuntime runs jobs as local child processes in a throwaway working
// directory. It isolates runs from each other but not from the host and is
// meant for development and CI, where Docker is not available.
type ProcessRuntime struct {
	cfg ProcessConfig
}

// NewProcessRuntime creates a new local process runtime.
func NewProcessRuntime(cfg ProcessConfig) *ProcessRuntime {
	if cfg.WaitDelay <= 0 {
		cfg.WaitDelay = 200 * time.Millisecond
	}
	return &ProcessRuntime{cfg: cfg}
}

// Name returns the runtime name
func (r *ProcessRuntime) Name() string { return "process" }

// Close is a no-op.
func (r *ProcessRuntime) Close() error { return nil }

// Exec runs a job as a child process.
func (r *ProcessRuntime) Exec(ctx context.Context, job Job) (*ExecResult, error) {
	if err := validateJob(job); err != nil {
		return nil, err
	}

	dir, err := createWorkDir(r.cfg.TempDir, job.Files)
	if errors.Is(err, ErrInvalidJob) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: prepare workspace: %v", ErrUnavailable, err)
	}
	defer os.RemoveAll(dir)

	var buildTime time.Duration
	if len(job.Build) > 0 {
		build, err := r.run(ctx, dir, job, job.Build, buildTimeout(job))
		if err != nil {
			return nil, err
		}
		if buildFailed(build) {
			build.BuildFailed = true
			build.BuildDuration = build.Duration
			return build, nil
		}
		buildTime = build.Duration
	}

	result, err := r.run(ctx, dir, job, job.Cmd, job.Timeout)
	if err != nil {
		return nil, err
	}
	result.BuildDuration = buildTime
	return result, nil
}

// run executes one command of a job in dir under timeout.
func (r *ProcessRuntime) run(ctx context.Context, dir string, job Job, argv []string, timeout time.Duration) (*ExecResult, error) {
	if r.cfg.AddressSpaceLimit && job.Limits.MemoryMB > 0 {
		argv = withAddressSpaceLimit(argv, job.Limits.MemoryMB)
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	limit := outputLimit(job.Limits)
	stdout, stderr := newCappedBuffer(limit), newCappedBuffer(limit)

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = append(baseEnv(dir), job.Env...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = r.cfg.WaitDelay
	configureProcessGroup(cmd)

	start := time.Now()
	runErr := cmd.Run()
	result := &ExecResult{
		ExitCode:  0,
		Duration:  time.Since(start),
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Truncated: stdout.Truncated() || stderr.Truncated(),
	}

	if runCtx.Err() != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("sandbox run: %w", ctx.Err())
		}
		result.TimedOut = true
		result.ExitCode = -1
		return result, nil
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		if errors.Is(runErr, exec.ErrWaitDelay) {
			return result, nil
		}
		return nil, fmt.Errorf("%w: start %s: %v", ErrUnavailable, argv[0], runErr)
	}

	return result, nil
}

func createWorkDir(base string, files map[string]string) (string, error) {
	dir, err := os.MkdirTemp(base, "drillgrade-run-*")
	if err != nil {
		return "", err
	}

	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		if !strings.HasPrefix(p, dir+string(filepath.Separator)) {
			os.RemoveAll(dir)
			return "", fmt.Errorf("%w: file %q escapes the workspace", ErrInvalidJob, name)
		}
		if parent := filepath.Dir(p); parent != dir {
			if err := os.MkdirAll(parent, 0o755); err != nil {
				os.RemoveAll(dir)
				return "", err
			}
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			os.RemoveAll(dir)
			return "", err
		}
	}

	return dir, nil
}

// passthroughEnv lists the host variables a child process inherits.
// Everything else, credentials included, is withheld.
var passthroughEnv = []string{
	"PATH", "LANG", "LC_ALL", "SYSTEMROOT",
	"GOROOT", "GOPATH", "GOMODCACHE", "GOCACHE", "GOTOOLCHAIN",
	"XDG_CACHE_HOME",
}

func baseEnv(dir string) []string {
	env := []string{"HOME=" + dir, "TMPDIR=" + dir}
	for _, key := range passthroughEnv {
		if v, ok := os.LookupEnv(key); ok {
			env = append(env, key+"="+v)
		}
	}
	if _, ok := os.LookupEnv("GOCACHE"); !ok {
		if cache, err := os.UserCacheDir(); err == nil {
			env = append(env, "GOCACHE="+filepath.Join(cache, "go-build"))
		}
	}
	return env
}

func withAddressSpaceLimit(argv []string, memoryMB int) []string {
	kb := strconv.Itoa(memoryMB * 1024)
	return append([]string{"sh", "-c", `ulimit -v ` + kb + ` && exec "$@"`, "sh"}, argv...)
}
