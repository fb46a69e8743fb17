package main

import (
	"fmt"
	"os"
	"strings"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "regress":
		err = cmdRegress(os.Args[2:])
	case "history":
		err = cmdHistory(os.Args[2:])
	case "validate":
		err = cmdValidate(os.Args[2:])
	case "list":
		err = cmdList(os.Args[2:])
	case "languages":
		err = cmdLanguages()
	case "worker":
		err = cmdWorker()
	case "mcp":
		err = cmdMCP()
	case "help", "-h", "--help":
		printUsage()
	case "version", "-v", "--version":
		fmt.Printf("drillgrade %s\n", Version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`drillgrade - Grading engine for code drills

Usage:
  drillgrade <command> [arguments]

Catalog Commands:
  list            List drills (-lang, -difficulty, -tag)
  languages       Show supported languages and how they are graded
  validate        Grade a submission: validate <problem-id> [file|-]

Regression Commands:
  regress         Check every sample solution (-lang, -concurrency, -no-store)
  history         List stored regression runs, or show one: history [run-id]
  history problem Show recorded failures of one drill

Service Commands:
  worker          Consume grading jobs from RabbitMQ (configured by environment)
  mcp             Start MCP server on stdio

Other:
  help            Show this help message
  version         Show version information

Examples:
  drillgrade validate sql-select-all <<< 'SELECT * FROM users;'
  drillgrade regress -lang python,lua
  drillgrade history
  drillgrade mcp`)
}

// splitList splits a comma separated flag value, dropping empty entries
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// renderProgressBar creates a visual progress bar
func renderProgressBar(value float64, width int) string {
	filled := int(value * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	empty := width - filled

	return "[" + strings.Repeat("█", filled) + strings.Repeat("░", empty) + "]"
}
