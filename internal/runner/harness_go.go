package runner

import (
	"errors"
	"fmt"
	"go/ast"
	"go/importer"
	"go/parser"
	"go/scanner"
	"go/token"
	"go/types"
	"strings"
	"sync"

	"golang.org/x/tools/imports"
)

const (
	goMainFile       = "main.go"
	goSubmissionFile = "submission.go"
)

// goHarness wraps a submission in a main function. Setup made of top-level
// declarations is placed at file scope; setup statements run at the start
// of main. The final expression statement, when it yields exactly one
// value, or the variable assigned by a trailing assignment, is passed to
// __drillEmit, and missing imports are added with goimports.
type goHarness struct{}

func (goHarness) Files(req Request, marker string) (map[string]string, error) {
	src, err := buildGoProgram(req.Setup, req.Code, req.Capture, marker)
	if err != nil {
		return nil, err
	}
	return map[string]string{goMainFile: src}, nil
}

func (goHarness) Diagnostics(output string) []string {
	return goDiagnostics(output)
}

func buildGoProgram(setup, code string, capture bool, marker string) (string, error) {
	var (
		hoisted string
		body    string
		bound   []string
	)
	if strings.TrimSpace(setup) != "" {
		if isGoTopLevel(setup) {
			hoisted = setup
		} else {
			names, err := goBoundNames(setup)
			if err != nil {
				return "", &CompileError{Diagnostics: []string{"setup: " + err.Error()}}
			}
			body, bound = setup, names
		}
	}

	var b strings.Builder
	b.WriteString("package main\n\n")
	if hoisted != "" {
		b.WriteString(hoisted)
		b.WriteString("\n\n")
	}
	b.WriteString("func main() {\n\tdefer __drillRecover()\n")
	if body != "" {
		b.WriteString(body)
		b.WriteString("\n")
	}
	for _, name := range bound {
		fmt.Fprintf(&b, "\t_ = %s\n", name)
	}
	codeStart := b.Len()
	// Positions after this directive are reported relative to the
	// submission, so compiler errors point at the learner's own lines.
	fmt.Fprintf(&b, "/*line %s:1*/", goSubmissionFile)
	b.WriteString(code)
	b.WriteString("\n}\n")
	fmt.Fprintf(&b, "\nconst __drillMarker = %q\n", marker)
	b.WriteString(goHelpers)

	src := b.String()
	if capture {
		var err error
		src, err = emitLastValue(src, codeStart, goTrailingResults(src))
		if err != nil {
			return "", err
		}
	}

	out, err := imports.Process(goMainFile, []byte(src), &imports.Options{
		Comments:  true,
		TabIndent: true,
		TabWidth:  8,
	})
	if err != nil {
		return "", goSyntaxError(err)
	}
	return string(out), nil
}

// isGoTopLevel reports whether setup consists only of declarations that
// are valid at file scope.
func isGoTopLevel(setup string) bool {
	f, err := parser.ParseFile(token.NewFileSet(), "", "package main\n"+setup, parser.SkipObjectResolution)
	return err == nil && len(f.Decls) > 0
}

// goBoundNames returns the variables and constants that statement-style
// setup declares, so that the harness can mark them used.
func goBoundNames(setup string) ([]string, error) {
	src := "package main\nfunc main() {\n" + setup + "\n}\n"
	f, err := parser.ParseFile(token.NewFileSet(), "", src, parser.SkipObjectResolution)
	if err != nil {
		return nil, err
	}

	var names []string
	add := func(id *ast.Ident) {
		if id != nil && id.Name != "_" {
			names = append(names, id.Name)
		}
	}

	fn := f.Decls[0].(*ast.FuncDecl)
	for _, stmt := range fn.Body.List {
		switch s := stmt.(type) {
		case *ast.AssignStmt:
			if s.Tok != token.DEFINE {
				continue
			}
			for _, lhs := range s.Lhs {
				if id, ok := lhs.(*ast.Ident); ok {
					add(id)
				}
			}
		case *ast.DeclStmt:
			gen, ok := s.Decl.(*ast.GenDecl)
			if !ok || (gen.Tok != token.VAR && gen.Tok != token.CONST) {
				continue
			}
			for _, spec := range gen.Specs {
				for _, id := range spec.(*ast.ValueSpec).Names {
					add(id)
				}
			}
		}
	}
	return names, nil
}

// emitLastValue rewrites the last statement of main, when it lies in the
// submission, so that its value is reported. results is the number of
// values a trailing expression statement yields, or -1 when unknown; only
// a single value is emitted.
func emitLastValue(src string, codeStart, results int) (string, error) {
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, goMainFile, src, parser.ParseComments|parser.SkipObjectResolution)
	if err != nil {
		return "", goSyntaxError(err)
	}

	last := lastMainStmt(f)
	if last == nil {
		return src, nil
	}

	file := fset.File(f.Pos())
	start, end := file.Offset(last.Pos()), file.Offset(last.End())
	if start < codeStart {
		return src, nil
	}

	switch s := last.(type) {
	case *ast.ExprStmt:
		if results >= 0 && results != 1 {
			return src, nil
		}
		return src[:start] + "__drillEmit(" + src[start:end] + ")" + src[end:], nil
	case *ast.AssignStmt:
		if len(s.Lhs) == 1 {
			if id, ok := s.Lhs[0].(*ast.Ident); ok && id.Name != "_" {
				return src[:end] + "\n__drillEmit(" + id.Name + ")" + src[end:], nil
			}
		}
	case *ast.IncDecStmt:
		if id, ok := s.X.(*ast.Ident); ok {
			return src[:end] + "\n__drillEmit(" + id.Name + ")" + src[end:], nil
		}
	case *ast.DeclStmt:
		if gen, ok := s.Decl.(*ast.GenDecl); ok && gen.Tok == token.VAR && len(gen.Specs) == 1 {
			if spec := gen.Specs[0].(*ast.ValueSpec); len(spec.Names) == 1 && spec.Names[0].Name != "_" {
				return src[:end] + "\n__drillEmit(" + spec.Names[0].Name + ")" + src[end:], nil
			}
		}
	}
	return src, nil
}

func lastMainStmt(f *ast.File) ast.Stmt {
	for _, decl := range f.Decls {
		if fn, ok := decl.(*ast.FuncDecl); ok && fn.Recv == nil && fn.Name.Name == "main" && fn.Body != nil {
			if n := len(fn.Body.List); n > 0 {
				return fn.Body.List[n-1]
			}
			return nil
		}
	}
	return nil
}

// goSourceImporter type-checks imported packages from GOROOT sources. It
// caches what it has loaded and is not safe for concurrent use.
var goSourceImporter = struct {
	sync.Mutex
	fset *token.FileSet
	imp  types.Importer
}{fset: token.NewFileSet()}

// goTrailingResults returns how many values the final statement of main
// yields when it is an expression statement, or -1 when the type checker
// cannot tell, for instance because GOROOT sources are not available.
func goTrailingResults(src string) int {
	processed, err := imports.Process(goMainFile, []byte(src), nil)
	if err != nil {
		return -1
	}
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, goMainFile, processed, parser.SkipObjectResolution)
	if err != nil {
		return -1
	}
	stmt, ok := lastMainStmt(f).(*ast.ExprStmt)
	if !ok {
		return -1
	}

	info := &types.Info{Types: make(map[ast.Expr]types.TypeAndValue)}

	goSourceImporter.Lock()
	if goSourceImporter.imp == nil {
		goSourceImporter.imp = importer.ForCompiler(goSourceImporter.fset, "source", nil)
	}
	conf := types.Config{Importer: goSourceImporter.imp, Error: func(error) {}}
	_, _ = conf.Check("main", fset, []*ast.File{f}, info)
	goSourceImporter.Unlock()

	tv, ok := info.Types[stmt.X]
	switch {
	case !ok:
		return -1
	case tv.IsVoid():
		return 0
	case tv.Type == nil || tv.Type == types.Typ[types.Invalid]:
		return -1
	}
	if tuple, ok := tv.Type.(*types.Tuple); ok {
		return tuple.Len()
	}
	return 1
}

// CompileError is returned by a harness that rejects a submission before
// it reaches the sandbox.
type CompileError struct {
	Diagnostics []string
}

func (e *CompileError) Error() string {
	return "compile error: " + strings.Join(e.Diagnostics, "; ")
}

func goSyntaxError(err error) error {
	var list scanner.ErrorList
	if errors.As(err, &list) {
		var lines []string
		for _, e := range list {
			lines = append(lines, e.Error())
			if len(lines) == maxDiagnostics {
				break
			}
		}
		return &CompileError{Diagnostics: goDiagnostics(strings.Join(lines, "\n"))}
	}
	return &CompileError{Diagnostics: goDiagnostics(err.Error())}
}

const goHelpers = `
func __drillRecover() {
	if r := recover(); r != nil {
		fmt.Fprintln(os.Stderr, "panic:", r)
		os.Exit(70)
	}
}

func __drillEmit(vs ...any) {
	if len(vs) != 1 {
		return
	}
	data, err := json.Marshal(__drillNorm(reflect.ValueOf(vs[0]), 0))
	if err != nil {
		fmt.Fprintln(os.Stderr, "result is not serializable:", err)
		os.Exit(70)
	}
	fmt.Println()
	fmt.Println(__drillMarker + string(data))
}

func __drillNorm(v reflect.Value, depth int) any {
	if !v.IsValid() {
		return nil
	}
	if depth > 64 {
		return "[depth limit]"
	}
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return __drillNorm(v.Elem(), depth+1)
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		switch {
		case math.IsNaN(f):
			return map[string]string{"$float": "NaN"}
		case math.IsInf(f, 1):
			return map[string]string{"$float": "Infinity"}
		case math.IsInf(f, -1):
			return map[string]string{"$float": "-Infinity"}
		}
		return f
	case reflect.Slice, reflect.Array:
		out := make([]any, v.Len())
		for i := range out {
			out[i] = __drillNorm(v.Index(i), depth+1)
		}
		return out
	case reflect.Map:
		out := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out[fmt.Sprint(iter.Key().Interface())] = __drillNorm(iter.Value(), depth+1)
		}
		return out
	case reflect.Struct:
		out := make(map[string]any)
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			if t.Field(i).IsExported() {
				out[t.Field(i).Name] = __drillNorm(v.Field(i), depth+1)
			}
		}
		return out
	case reflect.Chan, reflect.Func, reflect.UnsafePointer, reflect.Complex64, reflect.Complex128:
		return fmt.Sprint(v)
	}
	return v.Interface()
}
`
