package config

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/felixgeelhaar/drillgrade/internal/runner"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestDrillgradeDir(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	dir, err := DrillgradeDir()
	if err != nil {
		t.Fatalf("DrillgradeDir() error = %v", err)
	}
	if filepath.Base(dir) != ".drillgrade" {
		t.Errorf("DrillgradeDir() = %q; want ending with .drillgrade", dir)
	}
	if !filepath.IsAbs(dir) {
		t.Errorf("DrillgradeDir() = %q; want absolute path", dir)
	}
}

func TestEnsureDrillgradeDir(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	dir, err := EnsureDrillgradeDir()
	if err != nil {
		t.Fatalf("EnsureDrillgradeDir() error = %v", err)
	}
	if want := filepath.Join(home, ".drillgrade"); dir != want {
		t.Errorf("EnsureDrillgradeDir() = %q; want %q", dir, want)
	}
	for _, sub := range []string{"logs", "data"} {
		if _, err := os.Stat(filepath.Join(dir, sub)); err != nil {
			t.Errorf("EnsureDrillgradeDir() should create %s: %v", sub, err)
		}
	}
}

func TestDefaultLocalConfig(t *testing.T) {
	cfg := DefaultLocalConfig()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if cfg.Runner.Backend != BackendDocker {
		t.Errorf("Runner.Backend = %q; want docker", cfg.Runner.Backend)
	}
	if cfg.Runner.Timeout() != 5*time.Second {
		t.Errorf("Runner.Timeout() = %v; want 5s", cfg.Runner.Timeout())
	}
	if cfg.Catalog.Path != "" {
		t.Errorf("Catalog.Path = %q; want embedded catalog", cfg.Catalog.Path)
	}
}

func TestLoadLocalConfigFrom_Missing(t *testing.T) {
	cfg, err := LoadLocalConfigFrom(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadLocalConfigFrom() error = %v", err)
	}
	if cfg.Runner.PoolSize != DefaultLocalConfig().Runner.PoolSize {
		t.Errorf("PoolSize = %d; want default", cfg.Runner.PoolSize)
	}
}

func TestLoadLocalConfigFrom_Overrides(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", `
log_level: debug
catalog:
  path: /srv/drills
runner:
  backend: local
  timeout_ms: 2000
  memory_mb: 512
  languages:
    python:
      command: "python3.13 -I 'main.py'"
    go:
      image: golang:1.24-alpine
      build_allowance_ms: 20000
`)

	cfg, err := LoadLocalConfigFrom(path)
	if err != nil {
		t.Fatalf("LoadLocalConfigFrom() error = %v", err)
	}

	if cfg.LogLevel != "debug" || cfg.Catalog.Path != "/srv/drills" {
		t.Errorf("log level = %q, catalog = %q", cfg.LogLevel, cfg.Catalog.Path)
	}
	if cfg.Runner.Backend != BackendLocal || cfg.Runner.Timeout() != 2*time.Second {
		t.Errorf("runner = %q/%v; want local/2s", cfg.Runner.Backend, cfg.Runner.Timeout())
	}
	// Unset fields keep their defaults.
	if cfg.Runner.PoolSize != 4 || cfg.Queue.Workers != 3 {
		t.Errorf("pool = %d, workers = %d; want defaults", cfg.Runner.PoolSize, cfg.Queue.Workers)
	}
	if limits := cfg.Runner.Limits(); limits.MemoryMB != 512 || limits.CPULimit != 0.5 {
		t.Errorf("Limits() = %+v; want 512MB, 0.5 CPU", limits)
	}
}

func TestLoadLocalConfigFrom_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown backend", "runner:\n  backend: podman\n"},
		{"timeout too small", "runner:\n  timeout_ms: 5\n"},
		{"bad log level", "log_level: loud\n"},
		{"unterminated quote", "runner:\n  languages:\n    ruby:\n      command: \"ruby 'main.rb\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "config.yaml", tt.content)
			_, err := LoadLocalConfigFrom(path)
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("LoadLocalConfigFrom() error = %v; want ErrInvalidConfig", err)
			}
		})
	}
}

func TestLoadLocalConfigFrom_Malformed(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", "runner: [")
	if _, err := LoadLocalConfigFrom(path); err == nil {
		t.Error("LoadLocalConfigFrom() expected parse error")
	}
}

func TestRunnerConfig_Toolchains(t *testing.T) {
	rc := DefaultLocalConfig().Runner
	rc.Languages = map[string]LanguageConfig{
		"python": {Command: `python3 -c "print('hi')"`},
		"ruby":   {Image: "ruby:3.4-alpine"},
		"go":     {Build: "go build -trimpath -o drill main.go", BuildAllowanceMs: 20000},
	}

	toolchains, err := rc.Toolchains()
	if err != nil {
		t.Fatalf("Toolchains() error = %v", err)
	}

	want := []string{"python3", "-c", "print('hi')"}
	if got := toolchains["python"].Command; !slices.Equal(got, want) {
		t.Errorf("python command = %q; want %q", got, want)
	}
	def := runner.DefaultToolchains()
	if toolchains["python"].Image != def["python"].Image {
		t.Errorf("python image = %q; want default kept", toolchains["python"].Image)
	}
	if toolchains["ruby"].Image != "ruby:3.4-alpine" {
		t.Errorf("ruby image = %q; want override", toolchains["ruby"].Image)
	}
	if !slices.Equal(toolchains["go"].Command, def["go"].Command) {
		t.Error("go command should keep the default")
	}
	wantBuild := []string{"go", "build", "-trimpath", "-o", "drill", "main.go"}
	if got := toolchains["go"].Build; !slices.Equal(got, wantBuild) {
		t.Errorf("go build = %q; want %q", got, wantBuild)
	}
	if toolchains["go"].BuildAllowance != 20*time.Second {
		t.Errorf("go build allowance = %v; want 20s", toolchains["go"].BuildAllowance)
	}
}

func TestRunnerConfig_ServiceConfig(t *testing.T) {
	sc, err := DefaultLocalConfig().Runner.ServiceConfig()
	if err != nil {
		t.Fatalf("ServiceConfig() error = %v", err)
	}
	if sc.Timeout != 5*time.Second || sc.Limits.MemoryMB != 256 || len(sc.Toolchains) == 0 {
		t.Errorf("ServiceConfig() = %+v", sc)
	}
}

func TestSaveLocalConfig_RoundTrip(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg := DefaultLocalConfig()
	cfg.Runner.Backend = BackendLocal
	cfg.Runner.Languages = map[string]LanguageConfig{"javascript": {Image: "node:20-alpine"}}

	if err := SaveLocalConfig(cfg); err != nil {
		t.Fatalf("SaveLocalConfig() error = %v", err)
	}

	loaded, err := LoadLocalConfig()
	if err != nil {
		t.Fatalf("LoadLocalConfig() error = %v", err)
	}
	if loaded.Runner.Backend != BackendLocal {
		t.Errorf("Backend = %q; want local", loaded.Runner.Backend)
	}
	if loaded.Runner.Languages["javascript"].Image != "node:20-alpine" {
		t.Errorf("javascript image = %q", loaded.Runner.Languages["javascript"].Image)
	}
}
