package runner

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/felixgeelhaar/drillgrade/internal/domain"
	"github.com/felixgeelhaar/drillgrade/internal/sandbox"
)

const testMarker = resultMarkerPrefix + "0123456789abcdef__"

func TestExtractResult(t *testing.T) {
	tests := []struct {
		name       string
		output     string
		wantStdout string
		wantRaw    string
		wantFound  bool
	}{
		{"no marker", "hello\n", "hello\n", "", false},
		{"marker only", testMarker + "42\n", "", "42", true},
		{"output then marker", "hi\n\n" + testMarker + "[1,2]\n", "hi\n", "[1,2]", true},
		{"last marker wins", "\n" + testMarker + "1\n\n" + testMarker + "2\n", "\n" + testMarker + "1\n", "2", true},
		{"marker mid-line ignored", "x" + testMarker + "1\n", "x" + testMarker + "1\n", "", false},
		{"other run's marker ignored", "\n" + resultMarkerPrefix + "ffffffffffffffff__[1]\n", "\n" + resultMarkerPrefix + "ffffffffffffffff__[1]\n", "", false},
		{"bare prefix ignored", "\n" + resultMarkerPrefix + "[1]\n", "\n" + resultMarkerPrefix + "[1]\n", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stdout, raw, found := extractResult(tt.output, testMarker)
			if stdout != tt.wantStdout {
				t.Errorf("stdout = %q; want %q", stdout, tt.wantStdout)
			}
			if raw != tt.wantRaw {
				t.Errorf("raw = %q; want %q", raw, tt.wantRaw)
			}
			if found != tt.wantFound {
				t.Errorf("found = %v; want %v", found, tt.wantFound)
			}
		})
	}
}

func TestFromResult(t *testing.T) {
	req := Request{Timeout: time.Second, Capture: true}

	tests := []struct {
		name     string
		res      sandbox.ExecResult
		wantKind domain.ErrorKind
		wantDiag string
	}{
		{"timeout", sandbox.ExecResult{TimedOut: true, ExitCode: -1}, domain.ErrorTimeout, "execution exceeded 1s"},
		{"oom", sandbox.ExecResult{OOMKilled: true, ExitCode: 137}, domain.ErrorRuntime, "memory limit exceeded"},
		{"build failed", sandbox.ExecResult{BuildFailed: true, ExitCode: 1, Stderr: "./submission.go:2:1: undefined: x\n"}, domain.ErrorCompile, "undefined: x"},
		{"build timed out", sandbox.ExecResult{BuildFailed: true, TimedOut: true, ExitCode: -1, Duration: 30 * time.Second}, domain.ErrorCompile, "build did not finish within 30s"},
		{"compile", sandbox.ExecResult{ExitCode: exitCompile, Stderr: "SyntaxError: invalid syntax\n"}, domain.ErrorCompile, "SyntaxError: invalid syntax"},
		{"runtime", sandbox.ExecResult{ExitCode: exitRuntime, Stderr: "ZeroDivisionError: division by zero\n"}, domain.ErrorRuntime, "ZeroDivisionError: division by zero"},
		{"bad value", sandbox.ExecResult{Stdout: "\n" + testMarker + "{oops\n"}, domain.ErrorRuntime, "result could not be decoded"},
		{"value", sandbox.ExecResult{Stdout: "\n" + testMarker + "[1,2]\n"}, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := fromResult(&tt.res, req, testMarker, tailDiagnostics)
			if out.Kind != tt.wantKind {
				t.Errorf("Kind = %q; want %q", out.Kind, tt.wantKind)
			}
			if tt.wantDiag != "" && (len(out.Diagnostics) == 0 || !strings.Contains(out.Diagnostics[0], tt.wantDiag)) {
				t.Errorf("Diagnostics = %v; want first to contain %q", out.Diagnostics, tt.wantDiag)
			}
		})
	}
}

func TestFromResult_Value(t *testing.T) {
	res := &sandbox.ExecResult{Stdout: "printed\n\n" + testMarker + `{"a":[1,{"$float":"NaN"}]}` + "\n"}

	out := fromResult(res, Request{Capture: true}, testMarker, tailDiagnostics)
	if out.Failed() {
		t.Fatalf("Kind = %q; want success", out.Kind)
	}
	if !out.HasValue {
		t.Fatal("HasValue = false; want true")
	}
	if out.Stdout != "printed\n" {
		t.Errorf("Stdout = %q; want %q", out.Stdout, "printed\n")
	}
	obj, ok := out.Value.(map[string]any)
	if !ok {
		t.Fatalf("Value = %#v; want object", out.Value)
	}
	list, ok := obj["a"].([]any)
	if !ok || len(list) != 2 {
		t.Fatalf("a = %#v; want 2-element list", obj["a"])
	}
	if n, ok := list[0].(json.Number); !ok || n.String() != "1" {
		t.Errorf("a[0] = %#v; want 1", list[0])
	}
}

func TestFromResult_NoCapture(t *testing.T) {
	res := &sandbox.ExecResult{Stdout: "\n" + testMarker + "1\n", Truncated: true}

	out := fromResult(res, Request{}, testMarker, tailDiagnostics)
	if out.Failed() || out.HasValue {
		t.Errorf("Outcome = %+v; want success without value", out)
	}
	if len(out.Diagnostics) != 1 || out.Diagnostics[0] != "output was truncated" {
		t.Errorf("Diagnostics = %v; want truncation note", out.Diagnostics)
	}
}

func TestGoDiagnostics(t *testing.T) {
	output := `# command-line-arguments
./submission.go:3:2: undefined: totl
./main.go:4:6: x declared and not used
`
	got := goDiagnostics(output)
	want := []string{"line 3: undefined: totl", "setup: x declared and not used"}
	if len(got) != len(want) {
		t.Fatalf("goDiagnostics() = %v; want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("goDiagnostics()[%d] = %q; want %q", i, got[i], want[i])
		}
	}

	if got := goDiagnostics(""); len(got) != 1 || got[0] != "compilation failed" {
		t.Errorf("goDiagnostics(\"\") = %v; want [compilation failed]", got)
	}
}

func TestTailDiagnostics(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 15; i++ {
		b.WriteString("line\n\n")
	}
	b.WriteString("Error: boom\n")

	got := tailDiagnostics(b.String())
	if len(got) != maxDiagnostics {
		t.Fatalf("len = %d; want %d", len(got), maxDiagnostics)
	}
	if got[len(got)-1] != "Error: boom" {
		t.Errorf("last = %q; want Error: boom", got[len(got)-1])
	}
}

func TestNewResultMarker(t *testing.T) {
	a, b := newResultMarker(), newResultMarker()
	if a == b {
		t.Errorf("newResultMarker() returned %q twice; want a fresh marker per run", a)
	}
	if !strings.HasPrefix(a, resultMarkerPrefix) || strings.ContainsAny(a, " \n\"'\\") {
		t.Errorf("newResultMarker() = %q; want a plain token starting with %q", a, resultMarkerPrefix)
	}
}

func TestFromResult_PrintedMarkerIsNotAValue(t *testing.T) {
	// The submission printed what looks like a result line, but the harness
	// itself reported nothing.
	res := &sandbox.ExecResult{Stdout: "\n" + resultMarkerPrefix + "[1, 2, 3, 4]\n\n__DRILLGRADE_RESULT__[1, 2, 3, 4]\n"}

	out := fromResult(res, Request{Capture: true}, testMarker, tailDiagnostics)
	if out.Failed() {
		t.Fatalf("Kind = %q; want success", out.Kind)
	}
	if out.HasValue {
		t.Errorf("HasValue = true, Value = %v; want no value", out.Value)
	}
	if out.Stdout != res.Stdout {
		t.Errorf("Stdout = %q; want the printed output untouched", out.Stdout)
	}
}
