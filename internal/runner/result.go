package runner

import (
	"strings"

	"github.com/google/uuid"
)

const (
	// resultMarkerPrefix starts the marker a harness prints, followed by the
	// JSON encoding of the captured value, on a line of its own.
	resultMarkerPrefix = "__DRILLGRADE_RESULT_"

	// exitCompile is the harness exit status for a submission that failed
	// to parse or compile. Any other non-zero status is a runtime error.
	exitCompile = 65
	// exitRuntime is the status harnesses use for uncaught errors.
	exitRuntime = 70
)

// newResultMarker returns a marker unique to one run. The submission never
// sees it in its own source, so nothing it prints can pass for a value.
func newResultMarker() string {
	return resultMarkerPrefix + strings.ReplaceAll(uuid.NewString(), "-", "") + "__"
}

// extractResult splits harness output into the program's own output and
// the raw JSON of the last line that starts with marker.
func extractResult(output, marker string) (stdout, raw string, found bool) {
	if marker == "" {
		return output, "", false
	}
	idx := strings.LastIndex(output, "\n"+marker)
	start := idx + 1
	if idx < 0 {
		if !strings.HasPrefix(output, marker) {
			return output, "", false
		}
		start = 0
	}

	rest := output[start+len(marker):]
	line, _, _ := strings.Cut(rest, "\n")
	if start > 0 {
		// Harnesses write a newline before the marker so it always starts
		// a line; drop it along with the marker line.
		stdout = output[:start-1]
	}
	return stdout, strings.TrimSpace(line), true
}
