//go:build unix

package sandbox

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func shJob(script string, timeout time.Duration) Job {
	return Job{
		Language: "sh",
		Files:    map[string]string{"main.sh": script},
		Cmd:      []string{"sh", "main.sh"},
		Timeout:  timeout,
		Limits:   DefaultLimits(),
	}
}

func TestProcessRuntime_Exec(t *testing.T) {
	rt := NewProcessRuntime(ProcessConfig{})

	res, err := rt.Exec(context.Background(), shJob("echo out; echo err >&2; exit 3", 5*time.Second))
	if err != nil {
		t.Fatalf("Exec() error = %v", err)
	}

	if res.ExitCode != 3 {
		t.Errorf("ExitCode = %d; want 3", res.ExitCode)
	}
	if strings.TrimSpace(res.Stdout) != "out" {
		t.Errorf("Stdout = %q; want out", res.Stdout)
	}
	if strings.TrimSpace(res.Stderr) != "err" {
		t.Errorf("Stderr = %q; want err", res.Stderr)
	}
	if res.TimedOut {
		t.Error("TimedOut = true; want false")
	}
}

func TestProcessRuntime_WorkingDirectory(t *testing.T) {
	rt := NewProcessRuntime(ProcessConfig{})
	job := shJob("cat data/input.txt", 5*time.Second)
	job.Files["data/input.txt"] = "hello"

	res, err := rt.Exec(context.Background(), job)
	if err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	if res.Stdout != "hello" {
		t.Errorf("Stdout = %q; want hello", res.Stdout)
	}
}

func TestProcessRuntime_Timeout(t *testing.T) {
	rt := NewProcessRuntime(ProcessConfig{})

	start := time.Now()
	res, err := rt.Exec(context.Background(), shJob("sleep 5 & sleep 5; wait", 200*time.Millisecond))
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	if !res.TimedOut {
		t.Error("TimedOut = false; want true")
	}
	if elapsed > 2*time.Second {
		t.Errorf("Exec() took %v; the process group should be killed at the timeout", elapsed)
	}
}

func TestProcessRuntime_Canceled(t *testing.T) {
	rt := NewProcessRuntime(ProcessConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	_, err := rt.Exec(ctx, shJob("sleep 5", 10*time.Second))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Exec() error = %v; want context.Canceled", err)
	}
}

func TestProcessRuntime_OutputCap(t *testing.T) {
	rt := NewProcessRuntime(ProcessConfig{})
	job := shJob("i=0; while [ $i -lt 200 ]; do echo 0123456789; i=$((i+1)); done", 5*time.Second)
	job.Limits.OutputBytes = 100

	res, err := rt.Exec(context.Background(), job)
	if err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	if len(res.Stdout) != 100 {
		t.Errorf("len(Stdout) = %d; want 100", len(res.Stdout))
	}
	if !res.Truncated {
		t.Error("Truncated = false; want true")
	}
}

func TestProcessRuntime_EnvIsScrubbed(t *testing.T) {
	t.Setenv("DRILLGRADE_SECRET", "hunter2")
	rt := NewProcessRuntime(ProcessConfig{})

	res, err := rt.Exec(context.Background(), shJob(`echo "[$DRILLGRADE_SECRET]"`, 5*time.Second))
	if err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	if strings.TrimSpace(res.Stdout) != "[]" {
		t.Errorf("Stdout = %q; host variables should not leak", res.Stdout)
	}
}

func TestProcessRuntime_MissingBinary(t *testing.T) {
	rt := NewProcessRuntime(ProcessConfig{})
	job := shJob("", time.Second)
	job.Cmd = []string{"drillgrade-no-such-binary"}

	_, err := rt.Exec(context.Background(), job)
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Exec() error = %v; want ErrUnavailable", err)
	}
}

func TestProcessRuntime_InvalidJob(t *testing.T) {
	rt := NewProcessRuntime(ProcessConfig{})

	_, err := rt.Exec(context.Background(), Job{Timeout: time.Second})
	if !errors.Is(err, ErrInvalidJob) {
		t.Errorf("Exec(no cmd) error = %v; want ErrInvalidJob", err)
	}

	job := shJob("true", time.Second)
	job.Files["../escape.txt"] = "x"
	_, err = rt.Exec(context.Background(), job)
	if !errors.Is(err, ErrInvalidJob) {
		t.Errorf("Exec(escaping file) error = %v; want ErrInvalidJob", err)
	}
}

func TestProcessRuntime_BuildStep(t *testing.T) {
	rt := NewProcessRuntime(ProcessConfig{})
	job := shJob("cat built.txt", 300*time.Millisecond)
	job.Build = []string{"sh", "-c", "sleep 0.5; echo ok > built.txt"}
	job.BuildTimeout = 5 * time.Second

	res, err := rt.Exec(context.Background(), job)
	if err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	if res.BuildFailed || res.TimedOut {
		t.Fatalf("BuildFailed = %v, TimedOut = %v; the build time must not count against Timeout", res.BuildFailed, res.TimedOut)
	}
	if strings.TrimSpace(res.Stdout) != "ok" {
		t.Errorf("Stdout = %q; want ok", res.Stdout)
	}
	if res.BuildDuration < 500*time.Millisecond {
		t.Errorf("BuildDuration = %v; want at least 500ms", res.BuildDuration)
	}
	if res.Duration >= 500*time.Millisecond {
		t.Errorf("Duration = %v; want the run alone", res.Duration)
	}
}

func TestProcessRuntime_BuildFailure(t *testing.T) {
	rt := NewProcessRuntime(ProcessConfig{})

	job := shJob("echo should not run", time.Second)
	job.Build = []string{"sh", "-c", "echo 'main.go:3: undefined: x' >&2; exit 1"}
	res, err := rt.Exec(context.Background(), job)
	if err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	if !res.BuildFailed || res.ExitCode != 1 {
		t.Errorf("BuildFailed = %v, ExitCode = %d; want true, 1", res.BuildFailed, res.ExitCode)
	}
	if !strings.Contains(res.Stderr, "undefined: x") || res.Stdout != "" {
		t.Errorf("Stdout = %q, Stderr = %q; want the build output only", res.Stdout, res.Stderr)
	}

	job.Build = []string{"sleep", "5"}
	job.BuildTimeout = 100 * time.Millisecond
	res, err = rt.Exec(context.Background(), job)
	if err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	if !res.BuildFailed || !res.TimedOut {
		t.Errorf("BuildFailed = %v, TimedOut = %v; want both", res.BuildFailed, res.TimedOut)
	}
}

func TestProcessRuntime_RunTimeoutExcludesBuild(t *testing.T) {
	rt := NewProcessRuntime(ProcessConfig{})
	timeout := 300 * time.Millisecond
	job := shJob("while :; do :; done", timeout)
	job.Build = []string{"sleep", "0.5"}

	res, err := rt.Exec(context.Background(), job)
	if err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	if res.BuildFailed || !res.TimedOut {
		t.Fatalf("BuildFailed = %v, TimedOut = %v; want a run timeout", res.BuildFailed, res.TimedOut)
	}
	if res.Duration > timeout+200*time.Millisecond {
		t.Errorf("Duration = %v; want at most %v", res.Duration, timeout+200*time.Millisecond)
	}
}
