// Package transpile renders the compiler's view of a script without running
// it.
//
// Three phases are supported, named after the stages a script goes through
// before it is executed:
//
//	PARSING            the syntax tree, one node per line, in user coordinates
//	SEMANTIC_ANALYSIS  top-level declarations, specifications and the
//	                   statement that produces the result
//	CANONICALIZATION   the exact wrapped source the engine compiles
package transpile

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/caffeineduck/webconsole/diag"
	"github.com/caffeineduck/webconsole/script"
)

// Phase is a rendering phase.
type Phase string

const (
	Parsing          Phase = "PARSING"
	SemanticAnalysis Phase = "SEMANTIC_ANALYSIS"
	Canonicalization Phase = "CANONICALIZATION"
)

// Phases lists the supported phases in pipeline order.
func Phases() []Phase {
	return []Phase{Parsing, SemanticAnalysis, Canonicalization}
}

var upper = cases.Upper(language.Und)

// ParsePhase resolves a phase name. Names are case-insensitive and dashes or
// spaces may stand for underscores; the empty name selects [Parsing].
func ParsePhase(name string) (Phase, error) {
	norm := strings.TrimSpace(name)
	if norm == "" {
		return Parsing, nil
	}
	norm = strings.NewReplacer("-", "_", " ", "_").Replace(upper.String(norm))
	for _, p := range Phases() {
		if Phase(norm) == p {
			return p, nil
		}
	}
	names := make([]string, 0, len(Phases()))
	for _, p := range Phases() {
		names = append(names, string(p))
	}
	return "", diag.Errorf("unsupported AST phase %q; supported phases: %s", name, strings.Join(names, ", "))
}

// Render renders unit at the named phase. isSpec tells the renderer that the
// source follows the specification convention, which changes the canonical
// form. Only an unknown phase is an error.
func Render(unit *script.Unit, phase string, isSpec bool) (string, error) {
	p, err := ParsePhase(phase)
	if err != nil {
		return "", err
	}
	mode := script.ModeEval
	if isSpec && len(unit.Specifications()) > 0 {
		mode = script.ModeSpec
	}

	switch p {
	case Parsing:
		return dumpTree(unit), nil
	case SemanticAnalysis:
		return analyze(unit, mode), nil
	case Canonicalization:
		return unit.Source(mode) + "\n", nil
	default:
		return "", fmt.Errorf("transpile: phase %s not handled", p)
	}
}
