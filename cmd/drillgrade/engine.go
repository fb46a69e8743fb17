package main

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/felixgeelhaar/drillgrade/drills"
	"github.com/felixgeelhaar/drillgrade/internal/catalog"
	"github.com/felixgeelhaar/drillgrade/internal/config"
	"github.com/felixgeelhaar/drillgrade/internal/grader"
	"github.com/felixgeelhaar/drillgrade/internal/runner"
	"github.com/felixgeelhaar/drillgrade/internal/sandbox"
)

const (
	sweepInterval = 5 * time.Minute
	sweepMaxAge   = 10 * time.Minute
)

// engineOptions selects the runtime and catalog an engine grades with
type engineOptions struct {
	Runner      config.RunnerConfig
	CatalogPath string
}

// newEngine wires a catalog, a sandbox runtime and the runner service into
// a grading engine. When the configured runtime is unavailable, execution
// drills outside Lua report sandbox_unavailable instead of failing startup.
func newEngine(ctx context.Context, opts engineOptions) (*grader.Engine, func(), error) {
	svcCfg, err := opts.Runner.ServiceConfig()
	if err != nil {
		return nil, nil, err
	}

	var rt sandbox.Runtime
	if base := newRuntime(ctx, opts.Runner); base != nil {
		rt = sandbox.Guard(base, sandbox.GuardConfig{
			MaxConcurrent:    opts.Runner.PoolSize,
			QueueTimeout:     30 * time.Second,
			FailureThreshold: 5,
			OpenTimeout:      30 * time.Second,
		})
	}
	cleanup := func() {
		if rt != nil {
			if err := rt.Close(); err != nil {
				slog.Warn("failed to close sandbox runtime", "error", err)
			}
		}
	}

	svc, err := runner.NewService(svcCfg, rt)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("create runner service: %w", err)
	}

	cat := catalog.New(catalog.NewLoader(catalogFS(opts.CatalogPath), nil))
	if err := cat.Load(); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("load catalog: %w", err)
	}
	stats := cat.Snapshot().Stats()
	slog.Debug("catalog loaded", "problems", stats.ProblemCount, "languages", len(stats.ByLanguage))

	engine := grader.NewEngine(cat, svc, grader.Config{
		Timeout:  opts.Runner.Timeout(),
		PoolSize: opts.Runner.PoolSize,
	})
	return engine, cleanup, nil
}

// newRuntime returns the configured sandbox runtime, or nil when it cannot
// be reached.
func newRuntime(ctx context.Context, cfg config.RunnerConfig) sandbox.Runtime {
	switch cfg.Backend {
	case config.BackendLocal:
		slog.Warn("using local process runtime: submissions run unisolated on this host")
		return sandbox.NewProcessRuntime(sandbox.ProcessConfig{})
	default:
		rt, err := sandbox.NewDockerRuntime(sandbox.WithImagePull(cfg.PullImages))
		if err != nil {
			slog.Warn("docker unavailable, only in-process languages can be executed", "error", err)
			return nil
		}
		rt.StartSweepLoop(ctx, sweepInterval, sweepMaxAge)
		return rt
	}
}

func catalogFS(path string) fs.FS {
	if path == "" {
		return drills.FS
	}
	return os.DirFS(path)
}

// loadLocal loads ~/.drillgrade/config.yaml and sets up logging for a
// command.
func loadLocal(name string) (*config.LocalConfig, func(), error) {
	dir, err := config.EnsureDrillgradeDir()
	if err != nil {
		return nil, nil, fmt.Errorf("ensure drillgrade dir: %w", err)
	}
	cfg, err := config.LoadLocalConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logFile, err := setupLogging(dir, name, parseLogLevel(cfg.LogLevel))
	if err != nil {
		return nil, nil, fmt.Errorf("setup logging: %w", err)
	}
	return cfg, func() {
		if logFile != nil {
			logFile.Close()
		}
	}, nil
}

// databasePath returns the regression history database path
func databasePath() (string, error) {
	dir, err := config.DrillgradeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "data", "drillgrade.db"), nil
}

// signalContext returns a context canceled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// loadConfigQuiet loads the local config for commands that only read the
// catalog and keep logging on stderr.
func loadConfigQuiet() (*config.LocalConfig, error) {
	cfg, err := config.LoadLocalConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if _, err := setupLogging("", "", parseLogLevel(cfg.LogLevel)); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadSnapshot(path string) (*catalog.Snapshot, error) {
	snap, err := catalog.NewLoader(catalogFS(path), nil).LoadAll()
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	return snap, nil
}
