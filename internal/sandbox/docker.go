package sandbox

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

const (
	labelSandbox  = "drillgrade.sandbox"
	labelLanguage = "drillgrade.lang"
	workDir       = "/workspace"
)

// DockerRuntime runs every job in a fresh container with networking
// disabled, capped memory, CPU and process count, and removes the container
// afterwards.
type DockerRuntime struct {
	client *client.Client

	mu     sync.Mutex
	images map[string]bool
	pull   bool
}

// DockerOption configures a DockerRuntime.
type DockerOption func(*DockerRuntime)

// WithImagePull lets the runtime pull images that are not present locally.
func WithImagePull(pull bool) DockerOption {
	return func(r *DockerRuntime) { r.pull = pull }
}

// NewDockerRuntime creates a new Docker runtime.
func NewDockerRuntime(opts ...DockerOption) (*DockerRuntime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("%w: create docker client: %v", ErrUnavailable, err)
	}

	// Verify Docker is reachable
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(ctx); err != nil {
		cli.Close()
		return nil, fmt.Errorf("%w: docker not reachable: %v", ErrUnavailable, err)
	}

	r := &DockerRuntime{client: cli, images: make(map[string]bool), pull: true}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Name returns the runtime name
func (r *DockerRuntime) Name() string { return "docker" }

// Exec runs a job in a new container. A build step runs in a container of
// its own, and its working directory is copied into the run container.
func (r *DockerRuntime) Exec(ctx context.Context, job Job) (*ExecResult, error) {
	if err := validateJob(job); err != nil {
		return nil, err
	}
	if err := r.ensureImage(ctx, job.Image); err != nil {
		return nil, r.infraError(ctx, "ensure image", err)
	}

	archive, err := workspaceArchive(job.Files)
	if err != nil {
		return nil, err
	}

	var workspace io.Reader = archive
	var buildTime time.Duration
	if len(job.Build) > 0 {
		build, id, err := r.runContainer(ctx, job, job.Build, buildTimeout(job), workspace)
		if id != "" {
			defer r.remove(id)
		}
		if err != nil {
			return nil, err
		}
		if buildFailed(build) {
			build.BuildFailed = true
			build.BuildDuration = build.Duration
			return build, nil
		}
		built, _, err := r.client.CopyFromContainer(ctx, id, workDir)
		if err != nil {
			return nil, r.infraError(ctx, "copy build output", err)
		}
		defer built.Close()
		workspace = built
		buildTime = build.Duration
	}

	result, id, err := r.runContainer(ctx, job, job.Cmd, job.Timeout, workspace)
	if id != "" {
		defer r.remove(id)
	}
	if err != nil {
		return nil, err
	}
	result.BuildDuration = buildTime
	return result, nil
}

// runContainer creates a container for cmd, extracts workspace at its root
// and runs it under timeout. The returned id is set whenever a container
// was created, and the caller removes it.
func (r *DockerRuntime) runContainer(ctx context.Context, job Job, cmd []string, timeout time.Duration, workspace io.Reader) (*ExecResult, string, error) {
	containerCfg := &container.Config{
		Image:           job.Image,
		Cmd:             cmd,
		Env:             job.Env,
		WorkingDir:      workDir,
		NetworkDisabled: true,
		Tty:             false,
		Labels: map[string]string{
			labelSandbox:  "true",
			labelLanguage: job.Language,
		},
	}

	memory := int64(job.Limits.MemoryMB) * 1024 * 1024
	hostCfg := &container.HostConfig{
		NetworkMode: "none",
		CapDrop:     []string{"ALL"},
		SecurityOpt: []string{"no-new-privileges"},
		Resources: container.Resources{
			Memory:     memory,
			MemorySwap: memory,
			NanoCPUs:   int64(job.Limits.CPULimit * 1e9),
		},
	}
	if job.Limits.PidsLimit > 0 {
		pids := job.Limits.PidsLimit
		hostCfg.Resources.PidsLimit = &pids
	}

	resp, err := r.client.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, "")
	if err != nil {
		return nil, "", r.infraError(ctx, "create container", err)
	}
	id := resp.ID

	if err := r.client.CopyToContainer(ctx, id, "/", workspace, container.CopyToContainerOptions{}); err != nil {
		return nil, id, r.infraError(ctx, "copy files", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	if err := r.client.ContainerStart(runCtx, id, container.StartOptions{}); err != nil {
		return nil, id, r.infraError(ctx, "start container", err)
	}

	result := &ExecResult{ExitCode: -1}
	waitCh, errCh := r.client.ContainerWait(runCtx, id, container.WaitConditionNotRunning)
	select {
	case w := <-waitCh:
		result.ExitCode = int(w.StatusCode)
	case err := <-errCh:
		if runCtx.Err() == nil {
			return nil, id, r.infraError(ctx, "wait container", err)
		}
	}
	result.Duration = time.Since(start)

	if runCtx.Err() != nil {
		killCtx, killCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = r.client.ContainerKill(killCtx, id, "KILL")
		killCancel()
		if ctx.Err() != nil {
			return nil, id, fmt.Errorf("sandbox run: %w", ctx.Err())
		}
		result.TimedOut = true
	}

	// Logs and state are read after the run, so a background context keeps
	// them available when the run itself timed out.
	readCtx, readCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer readCancel()

	if err := r.collectLogs(readCtx, id, outputLimit(job.Limits), result); err != nil {
		slog.Warn("failed to read sandbox logs", "container_id", id, "error", err)
	}
	if info, err := r.client.ContainerInspect(readCtx, id); err == nil && info.State != nil {
		result.OOMKilled = info.State.OOMKilled
	}

	return result, id, nil
}

// remove force-removes a container. It runs even when the job's context is
// already canceled.
func (r *DockerRuntime) remove(id string) {
	rmCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.client.ContainerRemove(rmCtx, id, container.RemoveOptions{Force: true}); err != nil {
		slog.Warn("failed to remove sandbox container", "container_id", id, "error", err)
	}
}

func (r *DockerRuntime) collectLogs(ctx context.Context, id string, limit int, result *ExecResult) error {
	logs, err := r.client.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return err
	}
	defer logs.Close()

	stdout, stderr := newCappedBuffer(limit), newCappedBuffer(limit)
	if _, err := stdcopy.StdCopy(stdout, stderr, logs); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()
	result.Truncated = stdout.Truncated() || stderr.Truncated()
	return nil
}

// infraError maps a Docker failure to ErrUnavailable unless the caller
// canceled the run.
func (r *DockerRuntime) infraError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("sandbox %s: %w", op, ctx.Err())
	}
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}

func (r *DockerRuntime) ensureImage(ctx context.Context, img string) error {
	r.mu.Lock()
	known := r.images[img]
	r.mu.Unlock()
	if known {
		return nil
	}

	if _, err := r.client.ImageInspect(ctx, img); err != nil {
		if !r.pull {
			return fmt.Errorf("%w: %s", ErrImageMissing, img)
		}
		slog.Info("pulling sandbox image", "image", img)
		reader, err := r.client.ImagePull(ctx, img, image.PullOptions{})
		if err != nil {
			return fmt.Errorf("pull image %s: %w", img, err)
		}
		// Drain the reader to complete the pull
		_, _ = io.Copy(io.Discard, reader)
		reader.Close()
	}

	r.mu.Lock()
	r.images[img] = true
	r.mu.Unlock()
	return nil
}

// Sweep removes sandbox containers older than maxAge. Containers are
// normally removed by Exec; this catches leftovers from a crashed process.
func (r *DockerRuntime) Sweep(ctx context.Context, maxAge time.Duration) (int, error) {
	list, err := r.client.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", labelSandbox+"=true")),
	})
	if err != nil {
		return 0, fmt.Errorf("list sandbox containers: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, c := range list {
		if time.Unix(c.Created, 0).After(cutoff) {
			continue
		}
		if err := r.client.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true}); err != nil {
			slog.Warn("sweep: failed to remove container", "container_id", c.ID, "error", err)
			continue
		}
		removed++
	}

	if removed > 0 {
		slog.Info("sandbox sweep complete", "removed", removed)
	}
	return removed, nil
}

// StartSweepLoop starts a background goroutine that periodically sweeps
// leftover containers.
func (r *DockerRuntime) StartSweepLoop(ctx context.Context, interval, maxAge time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := r.Sweep(ctx, maxAge); err != nil {
					slog.Warn("sandbox sweep error", "error", err)
				}
			}
		}
	}()
}

// Close closes the Docker client.
func (r *DockerRuntime) Close() error {
	return r.client.Close()
}

// workspaceArchive builds a tar stream that creates the working directory
// and the job's files when extracted at the container root.
func workspaceArchive(files map[string]string) (*bytes.Buffer, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	root := path.Base(workDir)
	if err := tw.WriteHeader(&tar.Header{
		Name:     root + "/",
		Mode:     0o777,
		Typeflag: tar.TypeDir,
	}); err != nil {
		return nil, fmt.Errorf("write tar header: %w", err)
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		content := files[name]
		header := &tar.Header{
			Name: path.Join(root, name),
			Mode: 0o644,
			Size: int64(len(content)),
		}
		if err := tw.WriteHeader(header); err != nil {
			return nil, fmt.Errorf("write tar header: %w", err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			return nil, fmt.Errorf("write tar content: %w", err)
		}
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("close tar: %w", err)
	}
	return &buf, nil
}
