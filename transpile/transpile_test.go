package transpile

import (
	"errors"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caffeineduck/webconsole/diag"
	"github.com/caffeineduck/webconsole/script"
)

const evalSource = `var total = 0;
function add(n) { total += n; }
add(40);
total + 2`

const specSource = `class MathSpec extends Specification {
  setup() { this.x = 1 }
  "adds numbers"() { this.assertEquals(2, 1 + 1) }
  _helper() {}
  subtracts() {}
}`

func newGoldie(t *testing.T) *goldie.Goldie {
	t.Helper()
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func render(t *testing.T, src, phase string) string {
	t.Helper()
	u, err := script.Parse(src)
	require.NoError(t, err)
	out, err := Render(u, phase, script.IsSpecification(src))
	require.NoError(t, err)
	return out
}

func TestGolden(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		phase string
	}{
		{"eval_canonicalization", evalSource, "CANONICALIZATION"},
		{"eval_semantic_analysis", evalSource, "semantic-analysis"},
		{"spec_canonicalization", specSource, "canonicalization"},
		{"spec_semantic_analysis", specSource, "Semantic Analysis"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			newGoldie(t).Assert(t, tt.name, []byte(render(t, tt.src, tt.phase)))
		})
	}
}

func TestParsingDump(t *testing.T) {
	out := render(t, "var x = 1 + 2;\nprintln(x)", "")

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.NotEmpty(t, lines)
	assert.Equal(t, script.SourceName, lines[0])
	assert.Contains(t, out, "  VariableStatement [1:1]\n")
	assert.Contains(t, out, `Target: Identifier [1:5] Name="x"`)
	assert.Contains(t, out, "Initializer: BinaryExpression [1:9] Operator=+")
	assert.Contains(t, out, "  ExpressionStatement [2:1]\n")
	assert.Contains(t, out, `Callee: Identifier [2:1] Name="println"`)
}

func TestParsingDumpHandlesClassesAndTemplates(t *testing.T) {
	out := render(t, "class A { m() { return `v=${1}` } }\nnew A().m()", "PARSING")
	assert.Contains(t, out, "ClassDeclaration [1:1]")
	assert.Contains(t, out, "MethodDefinition")
	assert.Contains(t, out, "TemplateLiteral")
}

func TestRenderDoesNotExecute(t *testing.T) {
	// The source would loop forever if it ran.
	for _, phase := range Phases() {
		out := render(t, "while (true) {}", string(phase))
		assert.NotEmpty(t, out, phase)
	}
}

func TestSpecFlagWithoutClassesFallsBackToEval(t *testing.T) {
	u, err := script.Parse("// extends Specification\n1")
	require.NoError(t, err)

	out, err := Render(u, "CANONICALIZATION", true)
	require.NoError(t, err)
	assert.Contains(t, out, "return 1")
}

func TestUnknownPhase(t *testing.T) {
	u, err := script.Parse("1")
	require.NoError(t, err)

	_, err = Render(u, "INSTRUCTION_SELECTION", false)
	require.Error(t, err)

	var ce *diag.CompileError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, diag.Plain, ce.Diagnostics[0].Kind)
	assert.Contains(t, err.Error(), "PARSING, SEMANTIC_ANALYSIS, CANONICALIZATION")
}

func TestParsePhase(t *testing.T) {
	tests := map[string]Phase{
		"":                  Parsing,
		"  parsing ":        Parsing,
		"Semantic_Analysis": SemanticAnalysis,
		"canonicalization":  Canonicalization,
	}
	for in, want := range tests {
		got, err := ParsePhase(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}
