// Package diag classifies failures of a script invocation into the text
// reported to the caller.
//
// Compile-time failures are a list of [Diagnostic] entries carried by a
// [CompileError]; their messages are concatenated in order and never include
// a stack trace. Every other failure is a runtime failure, rendered by a
// [Classifier] as type, message, sanitized frames and cause chain.
package diag

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dop251/goja"
	"github.com/dop251/goja/parser"
)

// Kind distinguishes the shapes a compile diagnostic can take.
type Kind int

const (
	// Plain is a bare message.
	Plain Kind = iota
	// Exception is an error raised by the compiler, reported by name and message.
	Exception
	// Syntax is a parser error with a source position.
	Syntax
)

func (k Kind) String() string {
	switch k {
	case Plain:
		return "plain"
	case Exception:
		return "exception"
	case Syntax:
		return "syntax"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Diagnostic is one compile-time message.
type Diagnostic struct {
	Kind    Kind
	Name    string // error name for Exception entries, e.g. "SyntaxError"
	Source  string
	Message string
	Line    int
	Column  int
}

// Text renders the human-readable message. Positioned entries end with
// "@ line N, column M." so editors can place a marker.
func (d Diagnostic) Text() string {
	var b strings.Builder
	switch d.Kind {
	case Exception:
		if d.Name != "" {
			b.WriteString(d.Name)
			b.WriteString(": ")
		}
	case Syntax:
		if d.Source != "" {
			b.WriteString(d.Source)
			b.WriteString(": ")
		}
	}
	b.WriteString(d.Message)
	if d.Kind != Plain && d.Line > 0 {
		fmt.Fprintf(&b, " @ line %d, column %d.", d.Line, d.Column)
	}
	return b.String()
}

// CompileError is a compile-time failure.
type CompileError struct {
	Diagnostics []Diagnostic
}

// NewCompileError returns a compile error carrying diags.
func NewCompileError(diags ...Diagnostic) *CompileError {
	return &CompileError{Diagnostics: diags}
}

// Errorf returns a compile error with a single plain diagnostic.
func Errorf(format string, args ...any) *CompileError {
	return NewCompileError(Diagnostic{Kind: Plain, Message: fmt.Sprintf(format, args...)})
}

// Error concatenates the diagnostics, one per line.
func (e *CompileError) Error() string {
	texts := make([]string, len(e.Diagnostics))
	for i, d := range e.Diagnostics {
		texts[i] = d.Text()
	}
	return strings.Join(texts, "\n")
}

// PositionFunc maps a position in compiled source back to the user's source.
type PositionFunc func(line, column int) (int, int)

func identity(line, column int) (int, int) { return line, column }

// FromParser converts a parser error list into syntax diagnostics, keeping
// the parser's order.
func FromParser(list parser.ErrorList, pos PositionFunc) *CompileError {
	if pos == nil {
		pos = identity
	}
	diags := make([]Diagnostic, 0, len(list))
	for _, e := range list {
		line, col := pos(e.Position.Line, e.Position.Column)
		diags = append(diags, Diagnostic{
			Kind:    Syntax,
			Source:  e.Position.Filename,
			Message: e.Message,
			Line:    line,
			Column:  col,
		})
	}
	return NewCompileError(diags...)
}

// FromCompiler converts errors raised while compiling a parsed program.
// It reports false when err is not a compile-time failure.
func FromCompiler(err error, pos PositionFunc) (*CompileError, bool) {
	if pos == nil {
		pos = identity
	}
	var ce *CompileError
	if errors.As(err, &ce) {
		return ce, true
	}
	var list parser.ErrorList
	if errors.As(err, &list) {
		return FromParser(list, pos), true
	}
	var pe *parser.Error
	if errors.As(err, &pe) {
		return FromParser(parser.ErrorList{pe}, pos), true
	}

	var (
		name string
		base goja.CompilerError
	)
	var syn *goja.CompilerSyntaxError
	var ref *goja.CompilerReferenceError
	switch {
	case errors.As(err, &syn):
		name, base = "SyntaxError", syn.CompilerError
	case errors.As(err, &ref):
		name, base = "ReferenceError", ref.CompilerError
	default:
		return nil, false
	}

	d := Diagnostic{Kind: Exception, Name: name, Message: base.Message}
	if base.File != nil {
		p := base.File.Position(base.Offset)
		d.Source = p.Filename
		d.Line, d.Column = pos(p.Line, p.Column)
	}
	return NewCompileError(d), true
}
