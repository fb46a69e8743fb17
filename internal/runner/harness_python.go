package runner

import (
	"encoding/json"
	"fmt"
)

// pythonHarness runs setup and submission in one module namespace. The
// submission is parsed with ast so that a trailing expression can be
// evaluated separately and a trailing assignment can be read back.
type pythonHarness struct{}

func (pythonHarness) Files(req Request, marker string) (map[string]string, error) {
	setup, err := json.Marshal(req.Setup)
	if err != nil {
		return nil, err
	}
	code, err := json.Marshal(req.Code)
	if err != nil {
		return nil, err
	}
	capture := "False"
	if req.Capture {
		capture = "True"
	}

	src := fmt.Sprintf(pythonTemplate, setup, code, capture, marker, exitCompile, exitRuntime)
	return map[string]string{"main.py": src}, nil
}

func (pythonHarness) Diagnostics(output string) []string {
	return tailDiagnostics(output)
}

// JSON string literals are valid Python string literals.
const pythonTemplate = `import ast
import json
import math
import sys
import traceback

SETUP = %s
CODE = %s
CAPTURE = %s
MARKER = %q
EXIT_COMPILE = %d
EXIT_RUNTIME = %d


def norm(v, depth=0):
    if depth > 64:
        return "[depth limit]"
    if v is None or isinstance(v, (bool, int, str)):
        return v
    if isinstance(v, float):
        if math.isnan(v):
            return {"$float": "NaN"}
        if math.isinf(v):
            return {"$float": "Infinity" if v > 0 else "-Infinity"}
        return v
    if isinstance(v, dict):
        return {str(k): norm(x, depth + 1) for k, x in v.items()}
    if isinstance(v, (list, tuple, set, frozenset, range)):
        return [norm(x, depth + 1) for x in v]
    return repr(v)


def report(exc):
    line = None
    for frame in traceback.extract_tb(exc.__traceback__):
        if frame.filename == "<submission>":
            line = frame.lineno
    msg = "".join(traceback.format_exception_only(type(exc), exc)).strip()
    if line is not None:
        msg += " (line %%d)" %% line
    print(msg, file=sys.stderr)


def main():
    scope = {"__name__": "__main__", "__builtins__": __builtins__}
    tail = None
    name = None
    try:
        setup = compile(SETUP, "<setup>", "exec")
        tree = ast.parse(CODE, "<submission>", "exec")
        if CAPTURE and tree.body:
            last = tree.body[-1]
            if isinstance(last, ast.Expr):
                tree.body.pop()
                tail = compile(ast.Expression(body=last.value), "<submission>", "eval")
            elif isinstance(last, (ast.Assign, ast.AnnAssign, ast.AugAssign)):
                targets = last.targets if isinstance(last, ast.Assign) else [last.target]
                if len(targets) == 1 and isinstance(targets[0], ast.Name):
                    name = targets[0].id
        body = compile(tree, "<submission>", "exec")
    except SyntaxError as exc:
        print("%%s: %%s (line %%s)" %% (type(exc).__name__, exc.msg, exc.lineno), file=sys.stderr)
        sys.exit(EXIT_COMPILE)

    has_value = False
    value = None
    try:
        exec(setup, scope)
        exec(body, scope)
        if tail is not None:
            value, has_value = eval(tail, scope), True
        elif name is not None:
            value, has_value = scope.get(name), True
    except SystemExit:
        raise
    except BaseException as exc:
        report(exc)
        sys.exit(EXIT_RUNTIME)

    if CAPTURE and has_value:
        sys.stdout.write("\n" + MARKER + json.dumps(norm(value), allow_nan=False) + "\n")
        sys.stdout.flush()


main()
`
