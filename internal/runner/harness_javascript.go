package runner

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// javascriptHarness evaluates setup and submission as one script in a
// fresh vm context. The script's completion value is the final expression;
// when the submission ends with a declaration, the declared name is
// appended so that its value becomes the completion value.
type javascriptHarness struct{}

var (
	jsDeclRegex         = regexp.MustCompile(`^(?:const|let|var)\s+([A-Za-z_$][\w$]*)\s*=`)
	jsContinuationRegex = regexp.MustCompile(`^(?:[.)\]}?:+\-*/%,&|]|//)`)
)

func (javascriptHarness) Files(req Request, marker string) (map[string]string, error) {
	source := req.Setup + "\n;\n" + req.Code
	if req.Capture {
		if name := jsTrailingBinding(req.Code); name != "" {
			source += "\n;" + name
		}
	}

	src, err := json.Marshal(source)
	if err != nil {
		return nil, err
	}
	capture := "false"
	if req.Capture {
		capture = "true"
	}

	return map[string]string{
		"main.js": fmt.Sprintf(javascriptTemplate, src, capture, marker, exitCompile, exitRuntime),
	}, nil
}

func (javascriptHarness) Diagnostics(output string) []string {
	return tailDiagnostics(output)
}

// jsTrailingBinding returns the name declared by the submission's last
// statement, if that statement is a single-name declaration. Lines after
// the declaration that continue an expression do not end it.
func jsTrailingBinding(code string) string {
	lines := strings.Split(code, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" || line == ";" {
			continue
		}
		if m := jsDeclRegex.FindStringSubmatch(line); m != nil {
			return m[1]
		}
		if !jsContinuationRegex.MatchString(line) {
			return ""
		}
	}
	return ""
}

const javascriptTemplate = `"use strict";
const vm = require("vm");

const SOURCE = %s;
const CAPTURE = %s;
const MARKER = %q;
const EXIT_COMPILE = %d;
const EXIT_RUNTIME = %d;

function describe(err) {
  if (err && err.name && err.message !== undefined) {
    return err.name + ": " + err.message;
  }
  return String(err);
}

function norm(v, depth) {
  if (depth > 64) return "[depth limit]";
  if (v === undefined || v === null) return null;
  switch (typeof v) {
    case "number":
      if (Number.isNaN(v)) return { "$float": "NaN" };
      if (!Number.isFinite(v)) return { "$float": v > 0 ? "Infinity" : "-Infinity" };
      return v;
    case "bigint":
      return Number(v);
    case "string":
    case "boolean":
      return v;
    case "function":
    case "symbol":
      return String(v);
  }
  if (Array.isArray(v)) return v.map((x) => norm(x, depth + 1));
  if (ArrayBuffer.isView(v)) return Array.from(v, (x) => norm(x, depth + 1));
  const tag = Object.prototype.toString.call(v);
  if (tag === "[object Map]") {
    const out = {};
    for (const [k, x] of v) out[String(k)] = norm(x, depth + 1);
    return out;
  }
  if (tag === "[object Set]") return Array.from(v, (x) => norm(x, depth + 1));
  if (tag === "[object Date]") return v.toISOString();
  const out = {};
  for (const k of Object.keys(v)) out[k] = norm(v[k], depth + 1);
  return out;
}

let script;
try {
  script = new vm.Script(SOURCE, { filename: "submission.js" });
} catch (err) {
  console.error(describe(err));
  process.exit(EXIT_COMPILE);
}

const context = vm.createContext({ console });
let value;
try {
  value = script.runInContext(context);
} catch (err) {
  console.error(describe(err));
  process.exit(EXIT_RUNTIME);
}

Promise.resolve(value).then(
  (v) => {
    if (CAPTURE) {
      process.stdout.write("\n" + MARKER + JSON.stringify(norm(v, 0)) + "\n");
    }
  },
  (err) => {
    console.error(describe(err));
    process.exit(EXIT_RUNTIME);
  },
);
`
