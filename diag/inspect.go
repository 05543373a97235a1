package diag

import (
	"fmt"

	"github.com/dop251/goja"
)

// inspectSource reads the interesting properties of a thrown value. Every
// access is guarded because a script may throw objects with hostile getters.
const inspectSource = `(function () {
	"use strict";
	var toString = String;
	var create = Object.create;
	function text(v) {
		try { return toString(v); } catch (e) { return "<unprintable value>"; }
	}
	return function (e) {
		var r = create(null);
		r.name = "";
		r.message = "";
		r.stack = "";
		r.hasCause = false;
		r.cause = undefined;
		r.value = undefined;
		if ((typeof e !== "object" || e === null) && typeof e !== "function") {
			r.message = text(e);
			return r;
		}
		try { r.name = e.name === undefined ? "" : text(e.name); } catch (x) {}
		try { r.message = e.message === undefined ? "" : text(e.message); } catch (x) {}
		try { if (typeof e.stack === "string") { r.stack = e.stack; } } catch (x) {}
		try { if ("cause" in e && e.cause !== undefined) { r.hasCause = true; r.cause = e.cause; } } catch (x) {}
		try { if (r.name === "GoError") { r.value = e.value; } } catch (x) {}
		if (r.name === "" && r.message === "") {
			r.message = text(e);
		}
		return r;
	};
})()`

var inspectProgram = goja.MustCompile("webconsole:inspect.js", inspectSource, true)

func newInspector(vm *goja.Runtime) (goja.Callable, error) {
	v, err := vm.RunProgram(inspectProgram)
	if err != nil {
		return nil, fmt.Errorf("diag: load inspector: %w", err)
	}
	fn, ok := goja.AssertFunction(v)
	if !ok {
		return nil, fmt.Errorf("diag: inspector is not callable")
	}
	return fn, nil
}

type thrown struct {
	name    string
	message string
	stack   string
	cause   goja.Value
	goErr   error
}

func (c *Classifier) describe(v goja.Value) thrown {
	if v == nil {
		return thrown{message: "<nil>"}
	}
	if c.inspect == nil {
		if obj, ok := v.(*goja.Object); ok {
			if err, ok := obj.Export().(error); ok {
				return thrown{name: "GoError", message: err.Error(), goErr: err}
			}
			return thrown{message: "[object]"}
		}
		return thrown{message: v.String()}
	}

	res, err := c.inspect(goja.Undefined(), v)
	if err != nil {
		return thrown{message: "<unprintable value>"}
	}
	obj, ok := res.(*goja.Object)
	if !ok {
		return thrown{message: res.String()}
	}
	t := thrown{
		name:    obj.Get("name").String(),
		message: obj.Get("message").String(),
		stack:   obj.Get("stack").String(),
	}
	if obj.Get("hasCause").ToBoolean() {
		t.cause = obj.Get("cause")
	}
	if gv := obj.Get("value"); gv != nil && !goja.IsUndefined(gv) {
		if err, ok := gv.Export().(error); ok {
			t.goErr = err
		}
	}
	return t
}
