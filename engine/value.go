package engine

import (
	"fmt"
	"reflect"
	"strconv"

	"github.com/dop251/goja"

	"github.com/caffeineduck/webconsole/wire"
)

// maxArrayLength bounds the arrays converted element by element; a sparse
// array can claim a length far beyond its contents.
const maxArrayLength = 1 << 24

var (
	typeObject  = reflect.TypeOf(map[string]any(nil))
	typeArray   = reflect.TypeOf([]any(nil))
	typeEntries = reflect.TypeOf([][2]any(nil))
	typePromise = reflect.TypeOf((*goja.Promise)(nil))
)

// asPromise returns the promise v holds. It reads no properties, so it never
// runs script code.
func asPromise(v goja.Value) (*goja.Promise, bool) {
	obj, ok := v.(*goja.Object)
	if !ok || obj.ExportType() != typePromise {
		return nil, false
	}
	p, ok := obj.Export().(*goja.Promise)
	return p, ok
}

// converter turns script values into Go values for the wire. Objects are
// memoized so a cyclic script value becomes a cyclic Go value and shared
// subtrees stay shared.
type converter struct {
	seen map[*goja.Object]any
}

func newConverter() *converter {
	return &converter{seen: make(map[*goja.Object]any)}
}

// convert may run script getters; callers run it inside [goja.Runtime.Try].
func (c *converter) convert(v goja.Value) any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		if sym, ok := v.(*goja.Symbol); ok {
			return unserializable("%s is not data", sym.String())
		}
		return v.Export()
	}
	if r, ok := c.seen[obj]; ok {
		return r
	}
	if _, ok := goja.AssertFunction(obj); ok {
		return unserializable("function values are not data")
	}

	switch obj.ClassName() {
	case "Error":
		return c.errorValue(obj)
	case "Array":
		if obj.ExportType() == typeArray {
			return c.array(obj)
		}
	}

	switch obj.ExportType() {
	case typeObject:
		return c.object(obj)
	case typeEntries:
		return c.entries(obj)
	}

	if _, ok := asPromise(obj); ok {
		return unserializable("promise values are not data")
	}
	return obj.Export()
}

func (c *converter) object(obj *goja.Object) any {
	m := make(map[string]any)
	c.seen[obj] = m
	for _, k := range obj.Keys() {
		m[k] = c.convert(obj.Get(k))
	}
	return m
}

func (c *converter) array(obj *goja.Object) any {
	n := obj.Get("length").ToInteger()
	if n > maxArrayLength {
		return unserializable("array of length %d is too large", n)
	}
	s := make([]any, n)
	c.seen[obj] = s
	for i := range s {
		s[i] = c.convert(obj.Get(strconv.Itoa(i)))
	}
	return s
}

// entries converts a Map. Keys are rendered as text; values keep their
// exported form.
func (c *converter) entries(obj *goja.Object) any {
	pairs, _ := obj.Export().([][2]any)
	m := make(map[string]any, len(pairs))
	c.seen[obj] = m
	for _, p := range pairs {
		m[fmt.Sprint(p[0])] = p[1]
	}
	return m
}

func (c *converter) errorValue(obj *goja.Object) any {
	m := map[string]any{
		"name":    text(obj.Get("name")),
		"message": text(obj.Get("message")),
	}
	c.seen[obj] = m
	return m
}

func text(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	return v.String()
}

func unserializable(format string, args ...any) wire.Unserializable {
	return wire.Unserializable{Err: fmt.Errorf(format, args...)}
}
