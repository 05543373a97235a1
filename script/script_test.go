package script

import (
	"errors"
	"strings"
	"testing"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caffeineduck/webconsole/diag"
)

func mustParse(t *testing.T, src string) *Unit {
	t.Helper()
	u, err := Parse(src)
	require.NoError(t, err)
	return u
}

// eval compiles u and calls the wrapper with a nil output handle.
func eval(t *testing.T, u *Unit, mode Mode) goja.Value {
	t.Helper()
	p, err := u.Compile(mode)
	require.NoError(t, err)
	vm := goja.New()
	fnv, err := vm.RunProgram(p)
	require.NoError(t, err)
	fn, ok := goja.AssertFunction(fnv)
	require.True(t, ok)
	v, err := fn(goja.Undefined(), goja.Null())
	require.NoError(t, err)
	return v
}

func TestIsSpecification(t *testing.T) {
	tests := map[string]bool{
		"class A extends Specification {}":          true,
		"class A extends spec.Specification {}":     true,
		"const A = class extends  Specification {}": true,
		"class A extends\n\tSpecification {}":       true,
		"class A extends Specifications {}":         false,
		"class A extends other.Specification {}":    false,
		"1 + 1":                                     false,
	}
	for src, want := range tests {
		assert.Equal(t, want, IsSpecification(src), src)
	}
}

func TestCompletionValue(t *testing.T) {
	tests := []struct {
		src  string
		want any
	}{
		{"1 + 1", int64(2)},
		{"var x = 20;\nx * 2 + 2", int64(42)},
		{"(1 + 2) * 3", int64(9)},
		{"var a = 1;\n(a)", int64(1)},
		{"return 7", int64(7)},
		{"var x = 1", nil},
		{"", nil},
		{"if (true) { 5 }", nil},
		{"function f() { return 3 }\nf()", int64(3)},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			v := eval(t, mustParse(t, tt.src), ModeEval)
			assert.Equal(t, tt.want, v.Export())
		})
	}
}

func TestBindingsAreLocalToTheWrapper(t *testing.T) {
	u := mustParse(t, "var local = 1; let block = 2;\nlocal + block")
	p, err := u.Compile(ModeEval)
	require.NoError(t, err)

	vm := goja.New()
	fnv, err := vm.RunProgram(p)
	require.NoError(t, err)
	fn, _ := goja.AssertFunction(fnv)
	_, err = fn(goja.Undefined(), goja.Null())
	require.NoError(t, err)

	assert.Nil(t, vm.Get("local"))
	assert.Nil(t, vm.Get("block"))
}

func TestSourceSplicesReturn(t *testing.T) {
	u := mustParse(t, "var a = 1;\n  (a + 1)")
	assert.Equal(t, "(function Script1(out) {\nvar a = 1;\n  return (a + 1)\n})", u.Source(ModeEval))
	assert.NotNil(t, u.Completion())
}

func TestSyntaxErrorIsMappedToUserPosition(t *testing.T) {
	_, err := Parse("var ok = 1;\nvar x = ;")
	require.Error(t, err)

	var ce *diag.CompileError
	require.True(t, errors.As(err, &ce))
	require.NotEmpty(t, ce.Diagnostics)
	d := ce.Diagnostics[0]
	assert.Equal(t, diag.Syntax, d.Kind)
	assert.Equal(t, SourceName, d.Source)
	assert.Equal(t, 2, d.Line)
	assert.Equal(t, 9, d.Column)
	assert.NotContains(t, err.Error(), "\tat")
	assert.True(t, strings.HasSuffix(err.Error(), "@ line 2, column 9."), err.Error())
}

func TestWrapperDoesNotAddDiagnostics(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"var x = ;", "Script1.js: Unexpected token ; @ line 1, column 9."},
		{"a +", "Script1.js: Unexpected end of input @ line 1, column 4."},
		{"f(1,\n  2", "Script1.js: Unexpected end of input @ line 2, column 4."},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			_, err := Parse(tt.src)
			require.Error(t, err)

			var ce *diag.CompileError
			require.True(t, errors.As(err, &ce))
			require.Len(t, ce.Diagnostics, 1, err.Error())
			assert.Equal(t, tt.want, err.Error())
		})
	}
}

func TestUnterminatedBlockStaysInsideSource(t *testing.T) {
	_, err := Parse("if (x) {")
	require.Error(t, err)

	var ce *diag.CompileError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, 1, ce.Diagnostics[0].Line)
}

func TestStrayBraceIsRejected(t *testing.T) {
	_, err := Parse("1 }\nfunction escaped() {")
	require.Error(t, err)

	var ce *diag.CompileError
	require.True(t, errors.As(err, &ce))
	d := ce.Diagnostics[0]
	assert.Equal(t, "Unexpected token }", d.Message)
	assert.Equal(t, 1, d.Line)
	assert.Equal(t, 3, d.Column)
}

func TestCompileErrorsAreDiagnostics(t *testing.T) {
	u := mustParse(t, "let x = 1;\nlet x = 2;")
	_, err := u.Compile(ModeEval)
	require.Error(t, err)

	var ce *diag.CompileError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, diag.Exception, ce.Diagnostics[0].Kind)
	assert.Equal(t, 2, ce.Diagnostics[0].Line)
}

func TestSpecificationsAreFound(t *testing.T) {
	u := mustParse(t, `
class Helper {}
class MathSpec extends Specification {}
const Other = class extends spec.Specification {};
let notSpec = class extends Helper {};
function inner() { class Hidden extends Specification {} }
`)
	assert.Equal(t, []string{"MathSpec", "Other"}, u.Specifications())
}

func TestSpecModeReturnsClasses(t *testing.T) {
	u := mustParse(t, "class Specification {}\nclass A extends Specification {}\n42")
	v := eval(t, u, ModeSpec)

	obj := v.(*goja.Object)
	assert.Equal(t, int64(1), obj.Get("length").ToInteger())
	assert.True(t, strings.Contains(u.Source(ModeSpec), ";return [A];"))
}

func TestSpecModeWithoutClasses(t *testing.T) {
	u := mustParse(t, "// extends Specification\n1")
	_, err := u.Compile(ModeSpec)

	var ce *diag.CompileError
	require.True(t, errors.As(err, &ce))
	assert.Contains(t, err.Error(), "no specification found")
}

func TestPosition(t *testing.T) {
	u := mustParse(t, "var a = 1;\n  a.b.c")
	// "  return a.b.c" sits on compiled line 3.
	line, col := u.Position(3, 10)
	assert.Equal(t, 2, line)
	assert.Equal(t, 3, col)

	line, col = u.Position(3, 5)
	assert.Equal(t, 2, line)
	assert.Equal(t, 3, col, "positions inside the inserted keyword collapse to the statement start")

	line, _ = u.Position(1, 1)
	assert.Equal(t, 1, line)
}

func TestNodePosition(t *testing.T) {
	u := mustParse(t, "var a = 1;\nvar b = 2;")
	stmts := u.Statements()
	require.Len(t, stmts, 2)

	line, col := u.NodePosition(stmts[1].Idx0())
	assert.Equal(t, 2, line)
	assert.Equal(t, 1, col)
}
