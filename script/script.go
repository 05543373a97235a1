// Package script prepares submitted source for execution.
//
// User source is treated as the body of a function named Script1 that
// receives the explicit output handle as its only parameter:
//
//	(function Script1(out) {
//	<user source>
//	})
//
// Wrapping gives every invocation a fresh scope for its var, let, const and
// class bindings, allows a top-level return, and keeps the runtime's global
// object free of the script's declarations. The value of the last top-level
// expression statement becomes the script's result.
package script

import (
	"errors"
	"regexp"
	"strings"

	"github.com/dop251/goja"
	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/file"
	"github.com/dop251/goja/parser"

	"github.com/caffeineduck/webconsole/diag"
)

const (
	// SourceName names the user's script in diagnostics and stack frames.
	SourceName = "Script1.js"
	// FuncName is the name of the wrapper function.
	FuncName = "Script1"
	// OutParam is the name the output handle is bound to.
	OutParam = "out"
	// SpecBase is the name of the specification base type.
	SpecBase = "Specification"
	// SpecNamespace qualifies SpecBase.
	SpecNamespace = "spec"

	header        = "function " + FuncName + "(" + OutParam + ") {\n"
	footer        = "\n}"
	returnKeyword = "return "
)

var specPattern = regexp.MustCompile(`extends\s+(?:` + SpecNamespace + `\.)?` + SpecBase + `\b`)

// IsSpecification reports whether src follows the specification convention:
// it declares a class extending Specification, optionally written as
// spec.Specification.
func IsSpecification(src string) bool {
	return specPattern.MatchString(src)
}

// Mode selects how the wrapped source completes.
type Mode int

const (
	// ModeEval returns the value of the last top-level expression statement.
	ModeEval Mode = iota
	// ModeSpec returns the specification classes declared at top level.
	ModeSpec
)

func (m Mode) String() string {
	if m == ModeSpec {
		return "spec"
	}
	return "eval"
}

// Unit is parsed user source.
type Unit struct {
	src     string
	lines   []int // offsets of line starts in src
	program *ast.Program
	body    *ast.FunctionLiteral

	completion *ast.ExpressionStatement
	returnAt   int // offset in src where the return keyword goes, -1 for none
	returnLine int
	returnCol  int

	specs []string
}

// Parse parses src. Syntax errors are reported as a *diag.CompileError with
// positions in the user's coordinates.
func Parse(src string) (*Unit, error) {
	u := &Unit{src: src, returnAt: -1, lines: lineStarts(src)}

	text := header + src + footer
	prog, err := parser.ParseFile(nil, SourceName, text, 0)
	if err != nil {
		var list parser.ErrorList
		if errors.As(err, &list) {
			return nil, diag.FromParser(u.userErrors(list), u.fromAnalysis)
		}
		return nil, diag.Errorf("%s: %v", SourceName, err)
	}
	u.program = prog

	// Anything outside the wrapper means the source closed it early.
	var fn *ast.FunctionLiteral
	if len(prog.Body) > 0 {
		if decl, ok := prog.Body[0].(*ast.FunctionDeclaration); ok {
			fn = decl.Function
		}
	}
	if fn == nil || len(prog.Body) != 1 || int(fn.Body.RightBrace) != prog.File.Base()+len(text)-1 {
		at := len(text) - 1
		if fn != nil {
			at = int(fn.Body.RightBrace) - prog.File.Base()
		}
		line, col := u.analysisOffset(at)
		return nil, diag.NewCompileError(diag.Diagnostic{
			Kind:    diag.Syntax,
			Source:  SourceName,
			Message: "Unexpected token }",
			Line:    line,
			Column:  col,
		})
	}
	u.body = fn

	if n := len(fn.Body.List); n > 0 {
		if es, ok := fn.Body.List[n-1].(*ast.ExpressionStatement); ok {
			u.completion = es
			u.returnAt = u.statementStart(u.userOffset(es.Idx0()))
			u.returnLine, u.returnCol = u.lineCol(u.returnAt)
		}
	}
	u.specs = findSpecifications(fn.Body.List)
	return u, nil
}

// Code returns the user's source.
func (u *Unit) Code() string { return u.src }

// Program returns the parsed wrapper program.
func (u *Unit) Program() *ast.Program { return u.program }

// Statements returns the top-level statements of the user's source.
func (u *Unit) Statements() []ast.Statement { return u.body.Body.List }

// Completion returns the statement whose value is the script's result, or
// nil when the last statement is not an expression.
func (u *Unit) Completion() *ast.ExpressionStatement { return u.completion }

// Specifications lists the top-level classes extending the specification
// base type, in declaration order.
func (u *Unit) Specifications() []string {
	return append([]string(nil), u.specs...)
}

// Source renders the wrapped source that is compiled for mode.
func (u *Unit) Source(mode Mode) string {
	var b strings.Builder
	b.WriteString("(")
	b.WriteString(header)
	switch {
	case mode == ModeSpec:
		b.WriteString(u.src)
		b.WriteString("\n;return [")
		b.WriteString(strings.Join(u.specs, ", "))
		b.WriteString("];")
	case u.returnAt >= 0:
		b.WriteString(u.src[:u.returnAt])
		b.WriteString(returnKeyword)
		b.WriteString(u.src[u.returnAt:])
	default:
		b.WriteString(u.src)
	}
	b.WriteString(footer)
	b.WriteString(")")
	return b.String()
}

// Compile compiles the wrapped source. Evaluating the program yields the
// wrapper function.
func (u *Unit) Compile(mode Mode) (*goja.Program, error) {
	if mode == ModeSpec && len(u.specs) == 0 {
		return nil, diag.Errorf("%s: no specification found; declare a top-level class that extends %s", SourceName, SpecBase)
	}
	p, err := goja.Compile(SourceName, u.Source(mode), false)
	if err != nil {
		if ce, ok := diag.FromCompiler(err, u.PositionFor(mode)); ok {
			return nil, ce
		}
		return nil, err
	}
	return p, nil
}

// Position maps a line and column of the source compiled in ModeEval back
// to the user's source.
func (u *Unit) Position(line, col int) (int, int) {
	return u.PositionFor(ModeEval)(line, col)
}

// PositionFor maps positions of the source compiled in mode back to the
// user's source.
func (u *Unit) PositionFor(mode Mode) diag.PositionFunc {
	return func(line, col int) (int, int) {
		line--
		if mode == ModeEval && u.returnAt >= 0 && line == u.returnLine && col > u.returnCol {
			col -= len(returnKeyword)
			if col < u.returnCol {
				col = u.returnCol
			}
		}
		return u.clamp(line, col)
	}
}

// NodePosition returns the user's line and column of a parsed node index.
func (u *Unit) NodePosition(idx file.Idx) (int, int) {
	return u.lineCol(u.userOffset(idx))
}

func (u *Unit) userOffset(idx file.Idx) int {
	return int(idx) - u.program.File.Base() - len(header)
}

// userErrors drops the errors the parser reports on the wrapper's closing
// line once one inside the source is known. A first error on that line means
// the source ended early; it is reported as such at the end of the source.
func (u *Unit) userErrors(list parser.ErrorList) parser.ErrorList {
	closing := len(u.lines) + 2 // header line, source lines, "}"
	kept := make(parser.ErrorList, 0, len(list))
	for _, e := range list {
		if e.Position.Line < closing {
			kept = append(kept, e)
			continue
		}
		if len(kept) > 0 {
			continue
		}
		pos := e.Position
		pos.Line = closing - 1
		pos.Column = len(u.src) - u.lines[len(u.lines)-1] + 1
		kept = append(kept, &parser.Error{Position: pos, Message: "Unexpected end of input"})
	}
	return kept
}

func (u *Unit) fromAnalysis(line, col int) (int, int) {
	return u.clamp(line-1, col)
}

func (u *Unit) analysisOffset(off int) (int, int) {
	return u.lineCol(off - len(header))
}

// statementStart widens an expression start over the parentheses the parser
// leaves out of the tree, so that "return" precedes "(" rather than follows it.
func (u *Unit) statementStart(off int) int {
	start := off
	for i := off - 1; i >= 0; i-- {
		switch u.src[i] {
		case ' ', '\t', '\n', '\r':
			continue
		case '(':
			start = i
			continue
		}
		break
	}
	return start
}

func (u *Unit) lineCol(off int) (int, int) {
	if off < 0 {
		return 1, 1
	}
	if off > len(u.src) {
		off = len(u.src)
	}
	line := 0
	for line+1 < len(u.lines) && u.lines[line+1] <= off {
		line++
	}
	return line + 1, off - u.lines[line] + 1
}

// clamp keeps positions that fall on the wrapper's own lines inside the
// user's source.
func (u *Unit) clamp(line, col int) (int, int) {
	if line < 1 {
		return 1, 1
	}
	if line > len(u.lines) {
		last := len(u.lines) - 1
		return len(u.lines), len(u.src) - u.lines[last] + 1
	}
	return line, col
}

func lineStarts(src string) []int {
	starts := []int{0}
	for i := 0; i < len(src); i++ {
		if src[i] == '\n' {
			starts = append(starts, i+1)
		}
	}
	return starts
}

func findSpecifications(stmts []ast.Statement) []string {
	var names []string
	bind := func(list []*ast.Binding) {
		for _, b := range list {
			id, ok := b.Target.(*ast.Identifier)
			if !ok {
				continue
			}
			if cls, ok := b.Initializer.(*ast.ClassLiteral); ok && extendsSpec(cls) {
				names = append(names, string(id.Name))
			}
		}
	}
	for _, stmt := range stmts {
		switch s := stmt.(type) {
		case *ast.ClassDeclaration:
			if s.Class.Name != nil && extendsSpec(s.Class) {
				names = append(names, string(s.Class.Name.Name))
			}
		case *ast.LexicalDeclaration:
			bind(s.List)
		case *ast.VariableStatement:
			bind(s.List)
		}
	}
	return names
}

// IsSpecBase reports whether expr names the specification base type.
func IsSpecBase(expr ast.Expression) bool {
	switch e := expr.(type) {
	case *ast.Identifier:
		return e.Name == SpecBase
	case *ast.DotExpression:
		left, ok := e.Left.(*ast.Identifier)
		return ok && left.Name == SpecNamespace && e.Identifier.Name == SpecBase
	}
	return false
}

func extendsSpec(cls *ast.ClassLiteral) bool {
	return cls.SuperClass != nil && IsSpecBase(cls.SuperClass)
}
