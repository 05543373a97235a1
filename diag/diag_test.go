package diag

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/dop251/goja"
	"github.com/dop251/goja/parser"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClassifier(t *testing.T, vm *goja.Runtime, opts ...Option) *Classifier {
	t.Helper()
	c, err := NewClassifier(vm, opts...)
	require.NoError(t, err)
	return c
}

func TestDiagnosticText(t *testing.T) {
	tests := []struct {
		name string
		diag Diagnostic
		want string
	}{
		{"plain", Diagnostic{Kind: Plain, Message: "unknown phase"}, "unknown phase"},
		{"plain ignores position", Diagnostic{Kind: Plain, Message: "m", Line: 3}, "m"},
		{
			"syntax",
			Diagnostic{Kind: Syntax, Source: "Script1.js", Message: "Unexpected token ;", Line: 1, Column: 9},
			"Script1.js: Unexpected token ; @ line 1, column 9.",
		},
		{
			"exception",
			Diagnostic{Kind: Exception, Name: "SyntaxError", Message: "Identifier 'x' has already been declared", Line: 2, Column: 5},
			"SyntaxError: Identifier 'x' has already been declared @ line 2, column 5.",
		},
		{"exception without position", Diagnostic{Kind: Exception, Name: "ReferenceError", Message: "bad"}, "ReferenceError: bad"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.diag.Text())
		})
	}
}

func TestCompileErrorConcatenatesInOrder(t *testing.T) {
	err := NewCompileError(
		Diagnostic{Kind: Plain, Message: "first"},
		Diagnostic{Kind: Syntax, Message: "second", Line: 1, Column: 2},
	)
	assert.Equal(t, "first\nsecond @ line 1, column 2.", err.Error())
	assert.Empty(t, NewCompileError().Error())
}

func TestFromParserMapsPositions(t *testing.T) {
	_, err := parser.ParseFile(nil, "Script1.js", "function Script1(out) {\nvar x = ;\n}", 0)
	require.Error(t, err)

	var list parser.ErrorList
	require.True(t, errors.As(err, &list))
	ce := FromParser(list, func(line, col int) (int, int) { return line - 1, col })

	require.Len(t, ce.Diagnostics, len(list))
	d := ce.Diagnostics[0]
	assert.Equal(t, Syntax, d.Kind)
	assert.Equal(t, list[0].Message, d.Message)
	assert.Equal(t, 1, d.Line)
	assert.Equal(t, 9, d.Column)
	assert.Equal(t, "Script1.js", d.Source)
	assert.NotContains(t, ce.Error(), "\tat ")
}

func TestClassifyCompileErrorHasNoFrames(t *testing.T) {
	c := newClassifier(t, nil)
	got := c.Classify(fmt.Errorf("wrapped: %w", Errorf("unsupported phase %q", "X")))
	assert.Equal(t, `unsupported phase "X"`, got)
}

func TestClassifyNil(t *testing.T) {
	assert.Empty(t, newClassifier(t, nil).Classify(nil))
}

func TestClassifyScriptException(t *testing.T) {
	vm := goja.New()
	c := newClassifier(t, vm)

	_, err := vm.RunScript("Script1.js", "function explode() {\n  throw new TypeError('boom');\n}\nexplode();")
	require.Error(t, err)

	r := c.Report(err)
	assert.Equal(t, "TypeError", r.Type)
	assert.Equal(t, "boom", r.Message)
	require.NotEmpty(t, r.Frames)
	top := r.Frames[0]
	assert.Equal(t, "explode", top.Func)
	assert.Equal(t, "Script1.js", top.Source)
	assert.Equal(t, 2, top.Line)

	text := c.Classify(err)
	assert.True(t, strings.HasPrefix(text, "TypeError: boom\n\tat explode (Script1.js:2:"), text)
}

func TestClassifyCauseChain(t *testing.T) {
	vm := goja.New()
	c := newClassifier(t, vm)

	_, err := vm.RunScript("Script1.js", `
		var inner = new Error("disk full");
		var outer = new Error("save failed");
		outer.cause = inner;
		throw outer;`)
	require.Error(t, err)

	text := c.Classify(err)
	assert.Contains(t, text, "Error: save failed")
	assert.Contains(t, text, "\nCaused by: Error: disk full")
}

func TestClassifyCyclicCauseTerminates(t *testing.T) {
	vm := goja.New()
	c := newClassifier(t, vm)

	_, err := vm.RunScript("Script1.js", `var e = new Error("loop"); e.cause = e; throw e;`)
	require.Error(t, err)

	text := c.Classify(err)
	assert.Equal(t, maxCauses, strings.Count(text, "Caused by:"))
}

func TestClassifyThrownPrimitive(t *testing.T) {
	vm := goja.New()
	c := newClassifier(t, vm)

	tests := map[string]string{
		`throw "plain string";`: "Uncaught plain string\n\tat Script1.js:1:",
		`throw 5;`:              "Uncaught 5\n\tat Script1.js:1:",
		`throw null;`:           "Uncaught null\n\tat Script1.js:1:",
		"function f() {\n  throw undefined;\n}\nf();": "Uncaught undefined\n\tat f (Script1.js:2:",
	}
	for src, want := range tests {
		t.Run(src, func(t *testing.T) {
			_, err := vm.RunScript("Script1.js", src)
			require.Error(t, err)
			got := c.Classify(err)
			assert.True(t, strings.HasPrefix(got, want), got)
		})
	}
}

func TestClassifyRejectedPrimitive(t *testing.T) {
	vm := goja.New()
	c := newClassifier(t, vm)
	got := c.Classify(&Rejection{Value: vm.ToValue(5)})
	assert.Equal(t, "Uncaught (in promise) 5", got)
}

func TestClassifyHostileGetter(t *testing.T) {
	vm := goja.New()
	c := newClassifier(t, vm)

	_, err := vm.RunScript("Script1.js", `
		var e = new Error("x");
		Object.defineProperty(e, "message", { get: function () { throw new Error("nope"); } });
		throw e;`)
	require.Error(t, err)
	assert.NotPanics(t, func() { c.Classify(err) })
}

func TestClassifyGoErrorFromHostFunction(t *testing.T) {
	vm := goja.New()
	c := newClassifier(t, vm)
	root := errors.New("connection refused")
	require.NoError(t, vm.Set("fetch", func() (string, error) {
		return "", fmt.Errorf("fetch example.com: %w", root)
	}))

	_, err := vm.RunScript("Script1.js", `fetch();`)
	require.Error(t, err)

	text := c.Classify(err)
	assert.True(t, strings.HasPrefix(text, "GoError: fetch example.com: connection refused"), text)
	assert.Contains(t, text, "Caused by: *errors.errorString: connection refused")
	assert.NotContains(t, text, "native")
}

func TestSanitizeDropsDenylistedFrames(t *testing.T) {
	c := newClassifier(t, nil)
	frames := []Frame{
		{Func: "Script1", Source: "Script1.js", Line: 3, Column: 1},
		{Func: "map", Source: "<native>"},
		{Func: "run", Source: "specrun:spec.js", Line: 10, Column: 2},
		{Func: "print", Source: "webconsole:stdlib.js", Line: 1, Column: 1},
		{Func: "github.com/dop251/goja.(*vm).run", Source: "vm.go", Line: 1, Go: true},
		{Func: "runtime.gopanic", Source: "panic.go", Line: 1, Go: true},
		{Func: "net/http.(*conn).serve", Source: "server.go", Line: 1, Go: true},
		{Func: "encoding/json.Marshal", Source: "encode.go", Line: 1, Go: true},
		{Func: "github.com/caffeineduck/webconsole/engine.(*Engine).Run", Source: "engine.go", Line: 1, Go: true},
		{Func: "github.com/acme/plugin.Call", Source: "plugin.go", Line: 7, Go: true},
	}

	got := c.WithPosition("Script1.js", func(line, col int) (int, int) { return line - 1, col }).Sanitize(frames)
	want := []Frame{
		{Func: "Script1", Source: "Script1.js", Line: 2, Column: 1},
		{Func: "github.com/acme/plugin.Call", Source: "plugin.go", Line: 7, Go: true},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Sanitize() mismatch (-want +got):\n%s", diff)
	}
}

func TestWithStdlibFrames(t *testing.T) {
	c := newClassifier(t, nil, WithStdlibFrames(), WithDenylist())
	got := c.Sanitize([]Frame{{Func: "encoding/json.Marshal", Source: "encode.go", Line: 1, Go: true}})
	assert.Len(t, got, 1)
}

func TestClassifyPanic(t *testing.T) {
	c := newClassifier(t, nil)
	var pe *PanicError
	func() {
		defer func() { pe = Recovered(recover()) }()
		panic("index out of range")
	}()

	text := c.Classify(pe)
	assert.True(t, strings.HasPrefix(text, "panic: index out of range"), text)
	assert.NotContains(t, text, "runtime.")
	assert.NotContains(t, text, "webconsole/diag")
}

func TestClassifyGoErrorChain(t *testing.T) {
	c := newClassifier(t, nil)
	err := fmt.Errorf("outer: %w", errors.New("inner"))
	assert.Equal(t, "*fmt.wrapError: outer: inner\nCaused by: *errors.errorString: inner", c.Classify(err))
}

func TestClassifyStackOverflow(t *testing.T) {
	vm := goja.New()
	vm.SetMaxCallStackSize(64)
	c := newClassifier(t, vm)

	_, err := vm.RunScript("Script1.js", "function down(n) { return down(n + 1); }\ndown(0);")
	require.Error(t, err)

	text := c.Classify(err)
	assert.True(t, strings.HasPrefix(text, "RangeError: Maximum call stack size exceeded"), text)
	assert.Contains(t, text, "repeated")
	assert.Less(t, strings.Count(text, "\n"), 10)
}

func TestClassifyInterrupt(t *testing.T) {
	vm := goja.New()
	c := newClassifier(t, vm)
	vm.Interrupt("halt")
	_, err := vm.RunScript("Script1.js", "for (;;) {}")
	require.Error(t, err)

	assert.True(t, strings.HasPrefix(c.Classify(err), "InterruptedError: halt"))
}

func TestParseScriptStack(t *testing.T) {
	stack := "Error: x\n\tat inner (Script1.js:3:7(12))\n\tat Script1.js:5:1(20)\n\tat map (native)\n\tat run (specrun:spec.js:4:2(9))\n"
	want := []Frame{
		{Func: "inner", Source: "Script1.js", Line: 3, Column: 7},
		{Source: "Script1.js", Line: 5, Column: 1},
		{Func: "map", Source: "<native>"},
		{Func: "run", Source: "specrun:spec.js", Line: 4, Column: 2},
	}
	if diff := cmp.Diff(want, ParseScriptStack(stack)); diff != "" {
		t.Errorf("ParseScriptStack() mismatch (-want +got):\n%s", diff)
	}
}

func TestParseGoStack(t *testing.T) {
	stack := []byte(`goroutine 7 [running]:
runtime/debug.Stack()
	/usr/local/go/src/runtime/debug/stack.go:26 +0x5e
github.com/acme/plugin.(*Host).Call(0xc000010000, {0x1, 0x2})
	/src/plugin/host.go:42 +0x1d
created by net/http.(*Server).Serve in goroutine 1
	/usr/local/go/src/net/http/server.go:3285 +0x4b4
`)
	want := []Frame{
		{Func: "runtime/debug.Stack", Source: "stack.go", Line: 26, Go: true},
		{Func: "github.com/acme/plugin.(*Host).Call", Source: "host.go", Line: 42, Go: true},
		{Func: "net/http.(*Server).Serve", Source: "server.go", Line: 3285, Go: true},
	}
	if diff := cmp.Diff(want, ParseGoStack(stack)); diff != "" {
		t.Errorf("ParseGoStack() mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "github.com/acme/plugin", want[1].Package())
	assert.Equal(t, "runtime/debug", want[0].Package())
}

func TestFrameString(t *testing.T) {
	assert.Equal(t, "\tat f (Script1.js:1:2)", Frame{Func: "f", Source: "Script1.js", Line: 1, Column: 2}.String())
	assert.Equal(t, "\tat Script1.js:1:2", Frame{Source: "Script1.js", Line: 1, Column: 2}.String())
	assert.Equal(t, "\tat pkg.F (f.go:9)", Frame{Func: "pkg.F", Source: "f.go", Line: 9, Go: true}.String())
}
