package engine

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/dop251/goja"
)

const consoleSourceName = "webconsole:console.js"

//go:embed console.js
var consoleSource string

var consoleProgram = goja.MustCompile(consoleSourceName, consoleSource, true)

// printerFunc builds an output handle writing to w.
type printerFunc func(w io.Writer) (goja.Value, error)

// installConsole defines print, println, printf and console on the global
// object, all writing to w. It returns the factory of output handles.
func installConsole(vm *goja.Runtime, w io.Writer) (printerFunc, error) {
	factory, err := vm.RunProgram(consoleProgram)
	if err != nil {
		return nil, fmt.Errorf("engine: load console: %w", err)
	}
	build, ok := goja.AssertFunction(factory)
	if !ok {
		return nil, errors.New("engine: console factory is not callable")
	}
	v, err := build(goja.Undefined(), vm.GlobalObject(), vm.ToValue(sinkFunc(w)), vm.ToValue(sprintf))
	if err != nil {
		return nil, fmt.Errorf("engine: install console: %w", err)
	}
	printer, ok := goja.AssertFunction(v)
	if !ok {
		return nil, errors.New("engine: console printer is not callable")
	}
	return func(w io.Writer) (goja.Value, error) {
		return printer(goja.Undefined(), vm.ToValue(sinkFunc(w)))
	}, nil
}

func sinkFunc(w io.Writer) func(string) {
	return func(s string) {
		io.WriteString(w, s)
	}
}

// sprintf formats like fmt.Sprintf, except that %s and %v accept any value
// and render script numbers without their Go type.
func sprintf(format string, args []any) string {
	conv := make([]any, len(args))
	copy(conv, args)

	arg := 0
	for i := 0; i < len(format); i++ {
		if format[i] != '%' {
			continue
		}
		i++
		for i < len(format) && isFlag(format[i]) {
			if format[i] == '*' {
				arg++
			}
			i++
		}
		if i >= len(format) || format[i] == '%' {
			continue
		}
		if (format[i] == 's' || format[i] == 'v') && arg < len(conv) {
			conv[arg] = display(conv[arg])
		}
		arg++
	}
	return fmt.Sprintf(format, conv...)
}

func isFlag(c byte) bool {
	switch c {
	case '+', '-', '#', ' ', '0', '.', '*':
		return true
	}
	return c >= '1' && c <= '9'
}

func display(v any) any {
	switch x := v.(type) {
	case nil:
		return "null"
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		switch {
		case math.IsNaN(x):
			return "NaN"
		case math.IsInf(x, 1):
			return "Infinity"
		case math.IsInf(x, -1):
			return "-Infinity"
		case x == math.Trunc(x) && math.Abs(x) < 1e21:
			return strconv.FormatFloat(x, 'f', -1, 64)
		}
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	}
	return v
}
