package hostfunc

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/dop251/goja"
)

// StdlibSource is the name the script library's frames carry in stack
// traces.
const StdlibSource = "webconsole:stdlib.js"

//go:embed stdlib.js
var stdlibSource string

var stdlibProgram = goja.MustCompile(StdlibSource, stdlibSource, true)

// ContextFunc returns the context of the invocation currently running.
type ContextFunc func() context.Context

// Install makes reg reachable from scripts on vm through the host global
// and defines the System, http and wasm globals on top of it. Host function failures are thrown as
// GoError values wrapping the returned error.
func Install(vm *goja.Runtime, reg *Registry, ctxFn ContextFunc) error {
	if ctxFn == nil {
		ctxFn = context.Background
	}
	call := func(fc goja.FunctionCall) goja.Value {
		name := fc.Argument(0).String()
		args, err := exportArgs(fc.Argument(1))
		if err != nil {
			panic(vm.NewGoError(fmt.Errorf("%s: %w", name, err)))
		}
		res, err := reg.Call(ctxFn(), name, args)
		if err != nil {
			panic(vm.NewGoError(err))
		}
		return vm.ToValue(res)
	}
	has := func(name string) bool {
		_, ok := reg.Get(name)
		return ok
	}

	v, err := vm.RunProgram(stdlibProgram)
	if err != nil {
		return fmt.Errorf("hostfunc: load stdlib: %w", err)
	}
	factory, ok := goja.AssertFunction(v)
	if !ok {
		return errors.New("hostfunc: stdlib is not a function")
	}
	if _, err := factory(goja.Undefined(), vm.GlobalObject(), vm.ToValue(call), vm.ToValue(has)); err != nil {
		return fmt.Errorf("hostfunc: install stdlib: %w", err)
	}
	return nil
}

func exportArgs(v goja.Value) (map[string]any, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return map[string]any{}, nil
	}
	args, ok := v.Export().(map[string]any)
	if !ok {
		return nil, fmt.Errorf("arguments must be an object, got %T", v.Export())
	}
	return args, nil
}
