package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds configuration read from the environment. The worker uses it
// when it runs inside a container and has no home directory config.
type Config struct {
	Debug    bool
	LogLevel string

	// RabbitMQ
	RabbitMQURL   string
	QueueWorkers  int
	QueuePrefetch int

	// Storage
	DataDir string

	// Catalog directory; empty means the embedded drills
	DrillsPath string

	// Runner
	RunnerBackend   string // docker or local
	RunnerPoolSize  int
	RunnerTimeoutMs int
	RunnerMemoryMB  int
	RunnerCPULimit  float64
	RunnerPull      bool
}

// Load reads configuration from environment variables, after loading a
// .env file from the working directory when one exists.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	} else if err != nil {
		slog.Debug("no .env file found, relying on environment variables")
	}

	def := DefaultLocalConfig()
	cfg := &Config{
		Debug:           getEnvBool("DRILLGRADE_DEBUG", false),
		LogLevel:        getEnv("DRILLGRADE_LOG_LEVEL", def.LogLevel),
		RabbitMQURL:     getEnv("RABBITMQ_URL", def.Queue.URL),
		QueueWorkers:    getEnvInt("QUEUE_WORKERS", def.Queue.Workers),
		QueuePrefetch:   getEnvInt("QUEUE_PREFETCH", def.Queue.Prefetch),
		DataDir:         getEnv("DRILLGRADE_DATA_DIR", ""),
		DrillsPath:      getEnv("DRILLGRADE_DRILLS_PATH", ""),
		RunnerBackend:   getEnv("RUNNER_BACKEND", def.Runner.Backend),
		RunnerPoolSize:  getEnvInt("RUNNER_POOL_SIZE", def.Runner.PoolSize),
		RunnerTimeoutMs: getEnvInt("RUNNER_TIMEOUT_MS", def.Runner.TimeoutMs),
		RunnerMemoryMB:  getEnvInt("RUNNER_MEMORY_MB", def.Runner.MemoryMB),
		RunnerCPULimit:  getEnvFloat("RUNNER_CPU_LIMIT", def.Runner.CPULimit),
		RunnerPull:      getEnvBool("RUNNER_PULL_IMAGES", def.Runner.PullImages),
	}
	if cfg.Debug {
		cfg.LogLevel = "debug"
	}

	if err := cfg.Runner().Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Runner returns the runner settings of the environment configuration
func (c *Config) Runner() RunnerConfig {
	return RunnerConfig{
		Backend:    c.RunnerBackend,
		TimeoutMs:  c.RunnerTimeoutMs,
		PoolSize:   c.RunnerPoolSize,
		MemoryMB:   c.RunnerMemoryMB,
		CPULimit:   c.RunnerCPULimit,
		PullImages: c.RunnerPull,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
