package runner

import (
	"math"
	"strconv"
	"strings"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/ast"
	"github.com/yuin/gopher-lua/parse"
)

// Approximate heap cost of values the interpreter allocates outside of
// strings.
const (
	luaSlotBytes    = 32
	luaTableBytes   = 96
	luaClosureBytes = 96
)

// Compiled chunks receive the allocation helpers as varargs and bind them
// to locals whose names cannot be written in Lua source.
const (
	luaAllocName  = "(alloc)"
	luaConcatName = "(concat)"
)

// luaBudget bounds what one run may allocate. Every string the run builds,
// every table slot it fills and every table or closure it creates is
// charged before the allocation happens, so a run that asks for more than
// its limit fails with a runtime error instead of growing the heap.
type luaBudget struct {
	limit int64
	used  int64

	alloc  *lua.LFunction
	concat *lua.LFunction
}

func newLuaBudget(L *lua.LState, limit int64) *luaBudget {
	b := &luaBudget{limit: limit}
	b.alloc = L.NewFunction(b.allocate)
	b.concat = L.NewFunction(b.concatenate)
	return b
}

func (b *luaBudget) remaining() int64 {
	return b.limit - b.used
}

func (b *luaBudget) check(L *lua.LState, n int64) {
	if n < 0 || n > b.remaining() {
		L.RaiseError("memory limit exceeded (%d MiB)", b.limit>>20)
	}
}

func (b *luaBudget) charge(L *lua.LState, n int64) {
	b.check(L, n)
	b.used += n
}

// allocate implements (alloc)(value, bytes): it charges bytes and returns
// value unchanged.
func (b *luaBudget) allocate(L *lua.LState) int {
	v := L.Get(1)
	b.charge(L, int64(L.CheckNumber(2)))
	L.Push(v)
	return 1
}

// concatenate implements the .. operator.
func (b *luaBudget) concatenate(L *lua.LState) int {
	lhs, rhs := L.Get(1), L.Get(2)
	if lua.LVCanConvToString(lhs) && lua.LVCanConvToString(rhs) {
		l, r := lua.LVAsString(lhs), lua.LVAsString(rhs)
		b.charge(L, int64(len(l))+int64(len(r)))
		L.Push(lua.LString(l + r))
		return 1
	}

	op := L.GetMetaField(lhs, "__concat")
	if op == lua.LNil {
		op = L.GetMetaField(rhs, "__concat")
	}
	if op.Type() != lua.LTFunction {
		L.RaiseError("cannot perform concat operation between %v and %v", lhs.Type().String(), rhs.Type().String())
	}
	L.Push(op)
	L.Push(lhs)
	L.Push(rhs)
	L.Call(2, 1)
	return 1
}

// load compiles src with every allocation routed through the budget.
func (b *luaBudget) load(L *lua.LState, src, name string) (*lua.LFunction, error) {
	chunk, err := parse.Parse(strings.NewReader(src), name)
	if err != nil {
		return nil, err
	}
	proto, err := lua.Compile(budgetChunk(chunk), name)
	if err != nil {
		return nil, err
	}
	return L.NewFunctionFromProto(proto), nil
}

// guardLibraries wraps the library functions that can build large strings
// or grow tables from a single call.
func (b *luaBudget) guardLibraries(L *lua.LState) {
	strlib, _ := L.GetGlobal(lua.StringLibName).(*lua.LTable)
	tablib, _ := L.GetGlobal(lua.TabLibName).(*lua.LTable)
	if strlib == nil || tablib == nil {
		return
	}

	b.guard(L, strlib, "rep", b.chargeRep, false)
	b.guard(L, strlib, "format", checkLuaFormat, true)
	b.guard(L, strlib, "gsub", b.checkGsub, true)
	for _, name := range []string{"upper", "lower", "reverse"} {
		b.guard(L, strlib, name, nil, true)
	}
	b.guard(L, tablib, "concat", b.chargeTableConcat, false)
	b.guard(L, tablib, "insert", func(L *lua.LState) { b.charge(L, luaSlotBytes) }, false)
}

// guard replaces lib[name]. before runs ahead of the original function;
// when after is set the string it returns is charged.
func (b *luaBudget) guard(L *lua.LState, lib *lua.LTable, name string, before func(*lua.LState), after bool) {
	fn, ok := lib.RawGetString(name).(*lua.LFunction)
	if !ok || fn.GFunction == nil {
		return
	}
	orig := fn.GFunction
	lib.RawSetString(name, L.NewFunction(func(L *lua.LState) int {
		if before != nil {
			before(L)
		}
		n := orig(L)
		if after && n > 0 {
			if s, ok := L.Get(-n).(lua.LString); ok {
				b.charge(L, int64(len(s)))
			}
		}
		return n
	}))
}

func (b *luaBudget) chargeRep(L *lua.LState) {
	s := L.CheckString(1)
	n := L.CheckInt(2)
	if n <= 0 {
		return
	}
	b.charge(L, mulSize(int64(len(s)), int64(n)))
}

func (b *luaBudget) chargeTableConcat(L *lua.LState) {
	t := L.CheckTable(1)
	sep := int64(len(L.OptString(2, "")))
	n := t.Len()

	size := mulSize(sep, int64(max(n-1, 0)))
	for i := 1; i <= n; i++ {
		if v := t.RawGetInt(i); lua.LVCanConvToString(v) {
			size += int64(len(lua.LVAsString(v)))
		}
		if size > b.remaining() {
			break
		}
	}
	b.charge(L, size)
}

// checkGsub rejects a replacement whose worst case cannot fit. The actual
// result is charged afterwards.
func (b *luaBudget) checkGsub(L *lua.LState) {
	s := int64(len(L.CheckString(1)))
	repl, ok := L.Get(3).(lua.LString)
	if !ok {
		return
	}

	matches := s + 1
	if limit, ok := L.Get(4).(lua.LNumber); ok && int64(limit) < matches {
		matches = max(int64(limit), 0)
	}
	perMatch := int64(len(repl)) + mulSize(int64(strings.Count(string(repl), "%")), s)
	b.check(L, s+mulSize(matches, perMatch))
}

// checkLuaFormat applies the two digit limit Lua puts on field widths and
// precisions.
func checkLuaFormat(L *lua.LState) {
	f := L.CheckString(1)
	digits := func(i int) (int, int) {
		n := 0
		for i < len(f) && f[i] >= '0' && f[i] <= '9' {
			i++
			n++
		}
		return i, n
	}

	for i := 0; i < len(f); i++ {
		if f[i] != '%' {
			continue
		}
		i++
		if i < len(f) && f[i] == '%' {
			continue
		}
		for i < len(f) && strings.IndexByte("-+ #0", f[i]) >= 0 {
			i++
		}
		var width, precision int
		i, width = digits(i)
		if i < len(f) && f[i] == '.' {
			i, precision = digits(i + 1)
		}
		if width > 2 || precision > 2 {
			L.RaiseError("invalid format (width or precision too long)")
		}
	}
}

func mulSize(a, b int64) int64 {
	if a == 0 || b == 0 {
		return 0
	}
	if a > math.MaxInt64/b {
		return math.MaxInt64
	}
	return a * b
}

// budgetChunk rewrites a parsed chunk so that concatenation goes through
// (concat) and table, closure and slot allocations are charged through
// (alloc).
func budgetChunk(chunk []ast.Stmt) []ast.Stmt {
	bind := &ast.LocalAssignStmt{
		Names: []string{luaAllocName, luaConcatName},
		Exprs: []ast.Expr{&ast.Comma3Expr{}},
	}
	bind.SetLine(1)
	bind.SetLastLine(1)
	return append([]ast.Stmt{bind}, budgetStmts(chunk)...)
}

func budgetStmts(stmts []ast.Stmt) []ast.Stmt {
	out := make([]ast.Stmt, 0, len(stmts))
	for _, st := range stmts {
		if n := stmtCost(st); n > 0 {
			out = append(out, chargeStmt(st.Line(), n))
		}
		budgetStmt(st)
		out = append(out, st)
	}
	return out
}

// stmtCost is what a statement allocates that cannot be charged from
// inside an expression.
func stmtCost(st ast.Stmt) int {
	switch s := st.(type) {
	case *ast.AssignStmt:
		n := 0
		for _, e := range s.Lhs {
			if _, ok := e.(*ast.AttrGetExpr); ok {
				n += luaSlotBytes
			}
		}
		return n
	case *ast.LocalAssignStmt:
		if isLocalFunction(s) {
			return luaClosureBytes
		}
	case *ast.FuncDefStmt:
		if _, ok := s.Name.Func.(*ast.AttrGetExpr); ok || s.Name.Receiver != nil {
			return luaClosureBytes + luaSlotBytes
		}
		return luaClosureBytes
	}
	return 0
}

// isLocalFunction matches "local function f", which must stay a bare
// function expression for f to be visible inside its own body.
func isLocalFunction(s *ast.LocalAssignStmt) bool {
	if len(s.Names) != 1 || len(s.Exprs) != 1 {
		return false
	}
	_, ok := s.Exprs[0].(*ast.FunctionExpr)
	return ok
}

func budgetStmt(st ast.Stmt) {
	switch s := st.(type) {
	case *ast.AssignStmt:
		budgetExprs(s.Lhs)
		budgetExprs(s.Rhs)
	case *ast.LocalAssignStmt:
		if isLocalFunction(s) {
			fn := s.Exprs[0].(*ast.FunctionExpr)
			fn.Stmts = budgetStmts(fn.Stmts)
			return
		}
		budgetExprs(s.Exprs)
	case *ast.FuncCallStmt:
		s.Expr = budgetExpr(s.Expr)
	case *ast.DoBlockStmt:
		s.Stmts = budgetStmts(s.Stmts)
	case *ast.WhileStmt:
		s.Condition = budgetExpr(s.Condition)
		s.Stmts = budgetStmts(s.Stmts)
	case *ast.RepeatStmt:
		s.Condition = budgetExpr(s.Condition)
		s.Stmts = budgetStmts(s.Stmts)
	case *ast.IfStmt:
		s.Condition = budgetExpr(s.Condition)
		s.Then = budgetStmts(s.Then)
		s.Else = budgetStmts(s.Else)
	case *ast.NumberForStmt:
		s.Init = budgetExpr(s.Init)
		s.Limit = budgetExpr(s.Limit)
		if s.Step != nil {
			s.Step = budgetExpr(s.Step)
		}
		s.Stmts = budgetStmts(s.Stmts)
	case *ast.GenericForStmt:
		budgetExprs(s.Exprs)
		s.Stmts = budgetStmts(s.Stmts)
	case *ast.FuncDefStmt:
		s.Func.Stmts = budgetStmts(s.Func.Stmts)
	case *ast.ReturnStmt:
		budgetExprs(s.Exprs)
	}
}

func budgetExprs(exprs []ast.Expr) {
	for i, e := range exprs {
		exprs[i] = budgetExpr(e)
	}
}

func budgetExpr(e ast.Expr) ast.Expr {
	switch x := e.(type) {
	case *ast.StringConcatOpExpr:
		return helperCall(x, luaConcatName, budgetExpr(x.Lhs), budgetExpr(x.Rhs))
	case *ast.TableExpr:
		for _, f := range x.Fields {
			if f.Key != nil {
				f.Key = budgetExpr(f.Key)
			}
			f.Value = budgetExpr(f.Value)
		}
		return helperCall(x, luaAllocName, x, sizeExpr(x, luaTableBytes+len(x.Fields)*luaSlotBytes))
	case *ast.FunctionExpr:
		x.Stmts = budgetStmts(x.Stmts)
		return helperCall(x, luaAllocName, x, sizeExpr(x, luaClosureBytes))
	case *ast.AttrGetExpr:
		x.Object = budgetExpr(x.Object)
		x.Key = budgetExpr(x.Key)
	case *ast.FuncCallExpr:
		if x.Func != nil {
			x.Func = budgetExpr(x.Func)
		}
		if x.Receiver != nil {
			x.Receiver = budgetExpr(x.Receiver)
		}
		budgetExprs(x.Args)
	case *ast.LogicalOpExpr:
		x.Lhs, x.Rhs = budgetExpr(x.Lhs), budgetExpr(x.Rhs)
	case *ast.RelationalOpExpr:
		x.Lhs, x.Rhs = budgetExpr(x.Lhs), budgetExpr(x.Rhs)
	case *ast.ArithmeticOpExpr:
		x.Lhs, x.Rhs = budgetExpr(x.Lhs), budgetExpr(x.Rhs)
	case *ast.UnaryMinusOpExpr:
		x.Expr = budgetExpr(x.Expr)
	case *ast.UnaryNotOpExpr:
		x.Expr = budgetExpr(x.Expr)
	case *ast.UnaryLenOpExpr:
		x.Expr = budgetExpr(x.Expr)
	}
	return e
}

func helperCall(at ast.PositionHolder, name string, args ...ast.Expr) *ast.FuncCallExpr {
	fn := &ast.IdentExpr{Value: name}
	setPos(fn, at)
	call := &ast.FuncCallExpr{Func: fn, Args: args}
	setPos(call, at)
	return call
}

func sizeExpr(at ast.PositionHolder, n int) ast.Expr {
	num := &ast.NumberExpr{Value: strconv.Itoa(n)}
	setPos(num, at)
	return num
}

func chargeStmt(line, n int) ast.Stmt {
	nilArg := &ast.NilExpr{}
	nilArg.SetLine(line)
	nilArg.SetLastLine(line)
	call := helperCall(nilArg, luaAllocName, nilArg, sizeExpr(nilArg, n))
	st := &ast.FuncCallStmt{Expr: call}
	st.SetLine(line)
	st.SetLastLine(line)
	return st
}

func setPos(n, at ast.PositionHolder) {
	n.SetLine(at.Line())
	n.SetLastLine(at.LastLine())
}
