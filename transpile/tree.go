package transpile

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/file"

	"github.com/caffeineduck/webconsole/script"
)

const maxTreeDepth = 256

var (
	idxType  = reflect.TypeOf(file.Idx(0))
	nodeType = reflect.TypeOf((*ast.Node)(nil)).Elem()
)

// Fields that repeat information already present in the tree.
var skipFields = map[string]bool{
	"Source":          true,
	"DeclarationList": true,
}

type treePrinter struct {
	unit *script.Unit
	b    strings.Builder
}

func dumpTree(unit *script.Unit) string {
	p := &treePrinter{unit: unit}
	p.b.WriteString(script.SourceName)
	p.b.WriteByte('\n')
	for _, stmt := range unit.Statements() {
		p.node(reflect.ValueOf(stmt), "", 1)
	}
	return p.b.String()
}

func (p *treePrinter) node(v reflect.Value, label string, depth int) {
	for v.Kind() == reflect.Interface {
		if v.IsNil() {
			return
		}
		v = v.Elem()
	}
	ptr := v
	switch v.Kind() {
	case reflect.Pointer:
		if v.IsNil() {
			return
		}
		v = v.Elem()
	case reflect.Struct:
		if v.CanAddr() {
			ptr = v.Addr()
		}
	}
	if v.Kind() != reflect.Struct {
		return
	}
	indent := strings.Repeat("  ", depth)
	if depth > maxTreeDepth {
		p.b.WriteString(indent + "...\n")
		return
	}

	p.b.WriteString(indent)
	if label != "" {
		p.b.WriteString(label + ": ")
	}
	p.b.WriteString(v.Type().Name())
	if pos, ok := p.position(ptr); ok {
		p.b.WriteString(" [" + pos + "]")
	}

	type child struct {
		label string
		value reflect.Value
	}
	var children []child
	for i := 0; i < v.NumField(); i++ {
		f := v.Type().Field(i)
		fv := v.Field(i)
		if !f.IsExported() || f.Type == idxType || skipFields[f.Name] {
			continue
		}
		switch {
		case isNodeLike(f.Type):
			children = append(children, child{f.Name, fv})
		case f.Type.Kind() == reflect.Slice && isNodeLike(f.Type.Elem()):
			for j := 0; j < fv.Len(); j++ {
				children = append(children, child{f.Name + "[" + strconv.Itoa(j) + "]", fv.Index(j)})
			}
		default:
			if s, ok := scalar(fv); ok {
				p.b.WriteString(" " + f.Name + "=" + s)
			}
		}
	}
	p.b.WriteByte('\n')
	for _, c := range children {
		p.node(c.value, c.label, depth+1)
	}
}

func (p *treePrinter) position(v reflect.Value) (pos string, ok bool) {
	n, isNode := v.Interface().(ast.Node)
	if !isNode {
		return "", false
	}
	defer func() {
		if recover() != nil {
			pos, ok = "", false
		}
	}()
	idx := n.Idx0()
	if idx <= 0 {
		return "", false
	}
	line, col := p.unit.NodePosition(idx)
	return fmt.Sprintf("%d:%d", line, col), true
}

// isNodeLike reports whether values of t are printed as child nodes.
func isNodeLike(t reflect.Type) bool {
	if t.Implements(nodeType) || reflect.PointerTo(t).Implements(nodeType) {
		return true
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Kind() == reflect.Struct && t.PkgPath() == nodeType.PkgPath()
}

func scalar(v reflect.Value) (string, bool) {
	if v.Kind() == reflect.Interface {
		if v.IsNil() {
			return "", false
		}
		v = v.Elem()
	}
	if s, ok := v.Interface().(fmt.Stringer); ok && v.Kind() != reflect.String {
		return s.String(), true
	}
	switch v.Kind() {
	case reflect.String:
		if v.Len() == 0 {
			return "", false
		}
		return strconv.Quote(v.String()), true
	case reflect.Bool:
		if !v.Bool() {
			return "", false
		}
		return "true", true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(v.Int(), 10), true
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(v.Float(), 'g', -1, 64), true
	}
	return "", false
}
