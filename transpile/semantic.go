package transpile

import (
	"fmt"
	"strings"

	"github.com/dop251/goja/ast"

	"github.com/caffeineduck/webconsole/script"
)

// fixtures are the lifecycle methods of a specification; they are never
// reported as features.
var fixtures = map[string]bool{
	"constructor": true,
	"setup":       true,
	"cleanup":     true,
	"setupSpec":   true,
	"cleanupSpec": true,
}

func analyze(unit *script.Unit, mode script.Mode) string {
	var b strings.Builder
	fmt.Fprintf(&b, "script: %s\n", script.SourceName)
	fmt.Fprintf(&b, "mode: %s\n", mode)

	b.WriteString("declarations:\n")
	decls := 0
	for _, stmt := range unit.Statements() {
		for _, d := range declarations(unit, stmt) {
			b.WriteString("  " + d + "\n")
			decls++
		}
	}
	if decls == 0 {
		b.WriteString("  (none)\n")
	}

	if specs := specClasses(unit); len(specs) > 0 {
		b.WriteString("specifications:\n")
		for _, s := range specs {
			fmt.Fprintf(&b, "  %s\n", s.name)
			for _, f := range s.features {
				fmt.Fprintf(&b, "    feature %q\n", f)
			}
			if len(s.features) == 0 {
				b.WriteString("    (no features)\n")
			}
		}
	}

	b.WriteString("result: ")
	switch c := unit.Completion(); {
	case mode == script.ModeSpec:
		b.WriteString("specification report\n")
	case c != nil:
		line, col := unit.NodePosition(c.Idx0())
		fmt.Fprintf(&b, "expression at %d:%d\n", line, col)
	default:
		b.WriteString("null\n")
	}
	return b.String()
}

func declarations(unit *script.Unit, stmt ast.Statement) []string {
	at := func(n ast.Node) string {
		line, col := unit.NodePosition(n.Idx0())
		return fmt.Sprintf("%d:%d", line, col)
	}
	var out []string
	bindings := func(kind string, list []*ast.Binding) {
		for _, bnd := range list {
			name := "<pattern>"
			if id, ok := bnd.Target.(*ast.Identifier); ok {
				name = string(id.Name)
			}
			desc := kind + " " + name
			if cls, ok := bnd.Initializer.(*ast.ClassLiteral); ok {
				desc += classSuffix(cls)
			}
			out = append(out, desc+" ["+at(bnd)+"]")
		}
	}
	switch s := stmt.(type) {
	case *ast.VariableStatement:
		bindings("var", s.List)
	case *ast.LexicalDeclaration:
		bindings(s.Token.String(), s.List)
	case *ast.FunctionDeclaration:
		name := "<anonymous>"
		if s.Function.Name != nil {
			name = string(s.Function.Name.Name)
		}
		kind := "function"
		if s.Function.Async {
			kind = "async " + kind
		}
		if s.Function.Generator {
			kind += "*"
		}
		out = append(out, kind+" "+name+" ["+at(s)+"]")
	case *ast.ClassDeclaration:
		name := "<anonymous>"
		if s.Class.Name != nil {
			name = string(s.Class.Name.Name)
		}
		out = append(out, "class "+name+classSuffix(s.Class)+" ["+at(s)+"]")
	}
	return out
}

func classSuffix(cls *ast.ClassLiteral) string {
	switch {
	case cls.SuperClass == nil:
		return ""
	case script.IsSpecBase(cls.SuperClass):
		return " extends " + script.SpecBase + " (specification)"
	}
	if id, ok := cls.SuperClass.(*ast.Identifier); ok {
		return " extends " + string(id.Name)
	}
	return " extends <expression>"
}

type specClass struct {
	name     string
	features []string
}

func specClasses(unit *script.Unit) []specClass {
	want := make(map[string]bool)
	for _, n := range unit.Specifications() {
		want[n] = true
	}
	var out []specClass
	add := func(name string, cls *ast.ClassLiteral) {
		if want[name] {
			out = append(out, specClass{name: name, features: features(cls)})
		}
	}
	for _, stmt := range unit.Statements() {
		switch s := stmt.(type) {
		case *ast.ClassDeclaration:
			if s.Class.Name != nil {
				add(string(s.Class.Name.Name), s.Class)
			}
		case *ast.LexicalDeclaration:
			for _, bnd := range s.List {
				if id, ok := bnd.Target.(*ast.Identifier); ok {
					if cls, ok := bnd.Initializer.(*ast.ClassLiteral); ok {
						add(string(id.Name), cls)
					}
				}
			}
		case *ast.VariableStatement:
			for _, bnd := range s.List {
				if id, ok := bnd.Target.(*ast.Identifier); ok {
					if cls, ok := bnd.Initializer.(*ast.ClassLiteral); ok {
						add(string(id.Name), cls)
					}
				}
			}
		}
	}
	return out
}

// features lists the instance methods a specification runner would execute.
func features(cls *ast.ClassLiteral) []string {
	var names []string
	for _, el := range cls.Body {
		m, ok := el.(*ast.MethodDefinition)
		if !ok || m.Static || m.Computed || m.Kind != ast.PropertyKindMethod {
			continue
		}
		var name string
		switch k := m.Key.(type) {
		case *ast.Identifier:
			name = string(k.Name)
		case *ast.StringLiteral:
			name = string(k.Value)
		default:
			continue
		}
		if fixtures[name] || strings.HasPrefix(name, "_") {
			continue
		}
		names = append(names, name)
	}
	return names
}
