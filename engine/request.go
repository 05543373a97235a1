package engine

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/caffeineduck/webconsole/wire"
)

// Action is what the caller asks the engine to do with the code.
type Action string

const (
	ActionRun Action = "run"
	ActionAST Action = "ast"
)

var lower = cases.Lower(language.Und)

// ParseAction resolves an action name case-insensitively. Any name other
// than "ast" runs the code.
func ParseAction(name string) Action {
	if Action(lower.String(strings.TrimSpace(name))) == ActionAST {
		return ActionAST
	}
	return ActionRun
}

// Request is one invocation.
type Request struct {
	Code     string `json:"code"`
	Action   string `json:"action,omitempty"`
	ASTPhase string `json:"astPhase,omitempty"`
}

// Stats holds the measurements of one invocation.
type Stats = wire.Stats

// Result is the outcome of one invocation. Stdout is always the captured
// text; exactly one of Error and Value is meaningful.
type Result struct {
	Stdout string
	Error  string
	Value  any
	Stats  Stats
}

// Response converts r to its wire form. A failed invocation has no result.
func (r Result) Response() wire.Response {
	resp := wire.Response{
		Out:   r.Stdout,
		Err:   r.Error,
		Stats: r.Stats,
	}
	if r.Error == "" {
		resp.Result = r.Value
	}
	return resp
}
