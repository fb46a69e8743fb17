package runner

import (
	"bufio"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const maxDiagnostics = 10

// goErrorRegex matches: file.go:line:col: message
var goErrorRegex = regexp.MustCompile(`^(?:\./)?(\S+\.go):(\d+)(?::\d+)?:\s*(.+)$`)

// goDiagnostics parses go build output. Positions inside the submission
// are reported by line; errors elsewhere come from the setup code.
func goDiagnostics(output string) []string {
	var diags []string

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		matches := goErrorRegex.FindStringSubmatch(line)
		switch {
		case matches == nil:
			diags = append(diags, line)
		case matches[1] == goSubmissionFile:
			n, _ := strconv.Atoi(matches[2])
			diags = append(diags, fmt.Sprintf("line %d: %s", n, matches[3]))
		default:
			diags = append(diags, "setup: "+matches[3])
		}

		if len(diags) == maxDiagnostics {
			break
		}
	}

	if len(diags) == 0 {
		return []string{"compilation failed"}
	}
	return diags
}

// tailDiagnostics keeps the last non-empty lines of interpreter output,
// where the exception message is.
func tailDiagnostics(output string) []string {
	var lines []string
	for _, line := range strings.Split(output, "\n") {
		if line = strings.TrimRight(line, " \t\r"); strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) > maxDiagnostics {
		lines = lines[len(lines)-maxDiagnostics:]
	}
	return lines
}
