package main

import (
	"fmt"
	"log/slog"

	"github.com/felixgeelhaar/drillgrade/internal/config"
	"github.com/felixgeelhaar/drillgrade/internal/queue"
)

// cmdWorker consumes grading jobs from RabbitMQ until interrupted. It is
// configured from the environment so that it can run in a container.
func cmdWorker() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logFile, err := setupLogging(cfg.DataDir, "worker", parseLogLevel(cfg.LogLevel))
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}

	ctx, cancel := signalContext()
	defer cancel()

	engine, cleanup, err := newEngine(ctx, engineOptions{Runner: cfg.Runner(), CatalogPath: cfg.DrillsPath})
	if err != nil {
		return err
	}
	defer cleanup()

	conn, err := queue.NewConnection(cfg.RabbitMQURL)
	if err != nil {
		return err
	}
	defer conn.Close()

	consumer := queue.NewConsumer(conn, queue.NewGradeHandler(engine, queue.DefaultRetryConfig()), queue.ConsumerConfig{
		Workers:  cfg.QueueWorkers,
		Prefetch: cfg.QueuePrefetch,
	})
	if err := consumer.Start(ctx); err != nil {
		return err
	}

	slog.Info("worker started", "workers", cfg.QueueWorkers, "backend", cfg.RunnerBackend)
	<-ctx.Done()

	slog.Info("received signal, shutting down")
	consumer.Stop()
	return nil
}
