package main

import (
	mcpserver "github.com/felixgeelhaar/drillgrade/internal/mcp"
)

// cmdMCP serves the grading tools over MCP on stdio. Stdout carries the
// protocol, so logs go to the log file and stderr.
func cmdMCP() error {
	cfg, closeLog, err := loadLocal("mcp")
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, cancel := signalContext()
	defer cancel()

	engine, cleanup, err := newEngine(ctx, engineOptions{Runner: cfg.Runner, CatalogPath: cfg.Catalog.Path})
	if err != nil {
		return err
	}
	defer cleanup()

	return mcpserver.NewServer(mcpserver.Config{Engine: engine, Version: Version}).ServeStdio(ctx)
}
