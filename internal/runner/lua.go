package runner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/felixgeelhaar/drillgrade/internal/domain"
	"github.com/felixgeelhaar/drillgrade/internal/language"
	"github.com/felixgeelhaar/drillgrade/internal/sandbox"
)

const (
	luaCallStackSize   = 200
	luaRegistryMaxSize = 256 * 1024
	luaMaxDepth        = 64
)

// luaUnsafeGlobals are removed from the base library after it is opened.
var luaUnsafeGlobals = []string{"dofile", "loadfile", "load", "loadstring", "require", "module"}

// LuaAdapter runs Lua submissions inside the process on a fresh
// interpreter per run. Only the base, table, string and math libraries are
// available, and allocations are charged against the memory limit.
type LuaAdapter struct {
	outputBytes int
	memoryBytes int64
}

// NewLuaAdapter creates the in-process Lua adapter. Zero limits fall back
// to sandbox.DefaultLimits.
func NewLuaAdapter(limits sandbox.Limits) *LuaAdapter {
	defaults := sandbox.DefaultLimits()
	if limits.MemoryMB <= 0 {
		limits.MemoryMB = defaults.MemoryMB
	}
	if limits.OutputBytes <= 0 {
		limits.OutputBytes = defaults.OutputBytes
	}
	return &LuaAdapter{
		outputBytes: limits.OutputBytes,
		memoryBytes: int64(limits.MemoryMB) << 20,
	}
}

var _ Adapter = (*LuaAdapter)(nil)

// Language returns the language this adapter handles
func (a *LuaAdapter) Language() string {
	return language.Lua
}

// Run executes one submission.
func (a *LuaAdapter) Run(ctx context.Context, req Request) Outcome {
	start := time.Now()

	runCtx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	L := newLuaState(runCtx)
	defer L.Close()
	budget := newLuaBudget(L, a.memoryBytes)
	budget.guardLibraries(L)

	var stdout strings.Builder
	L.SetGlobal("print", L.NewFunction(func(L *lua.LState) int {
		parts := make([]string, L.GetTop())
		for i := range parts {
			parts[i] = L.ToStringMeta(L.Get(i + 1)).String()
		}
		if stdout.Len() < a.outputBytes {
			stdout.WriteString(strings.Join(parts, "\t"))
			stdout.WriteString("\n")
		}
		return 0
	}))

	finish := func(out Outcome) Outcome {
		out.Stdout = stdout.String()
		out.Duration = time.Since(start)
		return out
	}

	if strings.TrimSpace(req.Setup) != "" {
		fn, err := budget.load(L, req.Setup, "setup")
		if err != nil {
			return finish(failure(domain.ErrorCompile, luaDiagnostics("setup: ", err)...))
		}
		if out, ok := a.call(ctx, runCtx, L, budget, fn, req.Timeout, "setup: "); !ok {
			return finish(out)
		}
		L.SetTop(0)
	}

	// A bare expression is not a valid chunk, so the capturing variants are
	// tried before the code as written.
	var fn *lua.LFunction
	if req.Capture {
		fn = luaCapturing(L, budget, req.Code)
	}
	if fn == nil {
		var err error
		if fn, err = budget.load(L, req.Code, "submission"); err != nil {
			return finish(failure(domain.ErrorCompile, luaDiagnostics("", err)...))
		}
	}

	out, ok := a.call(ctx, runCtx, L, budget, fn, req.Timeout, "")
	if !ok || !req.Capture {
		return finish(out)
	}
	if L.GetTop() == 0 {
		return finish(out)
	}

	v, err := fromLua(L.Get(1), 0)
	if err != nil {
		return finish(failure(domain.ErrorRuntime, err.Error()))
	}
	out.Value, out.HasValue = v, true
	return finish(out)
}

// call runs fn with the budget helpers as its arguments and classifies a
// raised error. The boolean is false when the run failed.
func (a *LuaAdapter) call(parent, runCtx context.Context, L *lua.LState, budget *luaBudget, fn *lua.LFunction, timeout time.Duration, prefix string) (Outcome, bool) {
	L.Push(fn)
	L.Push(budget.alloc)
	L.Push(budget.concat)
	err := L.PCall(2, lua.MultRet, nil)
	if err == nil {
		return Outcome{}, true
	}

	switch {
	case parent.Err() != nil:
		return fromError(parent.Err(), timeout), false
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return failure(domain.ErrorTimeout, fmt.Sprintf("execution exceeded %s", timeout)), false
	}
	return failure(domain.ErrorRuntime, luaDiagnostics(prefix, err)...), false
}

// luaCapturing compiles a variant of code that returns the value of its
// final expression: the whole chunk as one expression, then the last line
// as a return statement, then the variable of a trailing assignment. It
// returns nil when no variant compiles.
func luaCapturing(L *lua.LState, budget *luaBudget, code string) *lua.LFunction {
	code = strings.TrimRight(code, " \t\r\n")

	candidates := []string{"return " + code}
	head, last := splitLastLine(code)
	if last != "" {
		candidates = append(candidates, head+"return "+last)
		if name := luaAssignedName(last); name != "" {
			candidates = append(candidates, code+"\nreturn "+name)
		}
	}

	for _, src := range candidates {
		if fn, err := budget.load(L, src, "submission"); err == nil {
			return fn
		}
	}
	return nil
}

func splitLastLine(code string) (head, last string) {
	idx := strings.LastIndex(code, "\n")
	if idx < 0 {
		return "", strings.TrimSpace(code)
	}
	return code[:idx+1], strings.TrimSpace(code[idx+1:])
}

// luaAssignedName returns the target of "name = expr" or
// "local name = expr".
func luaAssignedName(line string) string {
	line = strings.TrimPrefix(line, "local ")
	lhs, _, ok := strings.Cut(line, "=")
	if !ok || strings.HasPrefix(line[len(lhs):], "==") {
		return ""
	}
	name := strings.TrimSpace(lhs)
	if name == "" || strings.ContainsAny(name, " ,.[]()~<>") {
		return ""
	}
	return name
}

func newLuaState(ctx context.Context) *lua.LState {
	L := lua.NewState(lua.Options{
		SkipOpenLibs:        true,
		CallStackSize:       luaCallStackSize,
		RegistryMaxSize:     luaRegistryMaxSize,
		MinimizeStackMemory: true,
	})
	for _, lib := range []struct {
		name string
		open lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.open))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
	for _, name := range luaUnsafeGlobals {
		L.SetGlobal(name, lua.LNil)
	}
	L.SetContext(ctx)
	return L
}

func luaDiagnostics(prefix string, err error) []string {
	msg := err.Error()
	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) && apiErr.Object != nil {
		msg = apiErr.Object.String()
	}
	lines := tailDiagnostics(msg)
	for i, line := range lines {
		lines[i] = prefix + line
	}
	if len(lines) == 0 {
		return []string{prefix + "error"}
	}
	return lines
}

// fromLua converts an interpreter value into a language-neutral value.
// A table whose keys are exactly 1..n becomes a list, and an empty table
// becomes an empty list.
func fromLua(v lua.LValue, depth int) (any, error) {
	if depth > luaMaxDepth {
		return nil, errors.New("value is nested too deeply")
	}

	switch x := v.(type) {
	case *lua.LNilType:
		return nil, nil
	case lua.LBool:
		return bool(x), nil
	case lua.LString:
		return string(x), nil
	case lua.LNumber:
		f := float64(x)
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return int64(f), nil
		}
		return f, nil
	case *lua.LTable:
		return fromLuaTable(x, depth)
	}
	return nil, fmt.Errorf("result of type %s cannot be compared", v.Type())
}

func fromLuaTable(t *lua.LTable, depth int) (any, error) {
	n := t.MaxN()
	count := 0
	t.ForEach(func(lua.LValue, lua.LValue) { count++ })

	if count == n {
		list := make([]any, 0, n)
		for i := 1; i <= n; i++ {
			e, err := fromLua(t.RawGetInt(i), depth+1)
			if err != nil {
				return nil, err
			}
			list = append(list, e)
		}
		return list, nil
	}

	obj := make(map[string]any, count)
	var firstErr error
	t.ForEach(func(k, e lua.LValue) {
		if firstErr != nil {
			return
		}
		key := k.String()
		if num, ok := k.(lua.LNumber); ok {
			key = strconv.FormatFloat(float64(num), 'f', -1, 64)
		}
		v, err := fromLua(e, depth+1)
		if err != nil {
			firstErr = err
			return
		}
		obj[key] = v
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return obj, nil
}
