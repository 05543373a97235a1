package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/dop251/goja"

	"github.com/caffeineduck/webconsole/capture"
	"github.com/caffeineduck/webconsole/diag"
	"github.com/caffeineduck/webconsole/script"
	"github.com/caffeineduck/webconsole/transpile"
)

// Strategy is the way an invocation processes its code.
type Strategy int

const (
	// StrategyEval evaluates the code and returns its final value.
	StrategyEval Strategy = iota
	// StrategySpec runs the specifications the code declares.
	StrategySpec
	// StrategyAST renders the code at a compilation phase without running
	// it.
	StrategyAST
)

func (s Strategy) String() string {
	switch s {
	case StrategyEval:
		return "eval"
	case StrategySpec:
		return "spec"
	case StrategyAST:
		return "ast"
	}
	return fmt.Sprintf("Strategy(%d)", int(s))
}

// Select picks the strategy for req. An AST request always renders, even
// when the code is a specification.
func Select(req Request) Strategy {
	switch {
	case ParseAction(req.Action) == ActionAST:
		return StrategyAST
	case script.IsSpecification(req.Code):
		return StrategySpec
	}
	return StrategyEval
}

// execution is one strategy run against a runtime.
type execution struct {
	ctx      context.Context
	rt       *runtime
	req      Request
	capture  *capture.Capture
	unit     *script.Unit
	strategy Strategy
}

// classifier returns the classifier mapping positions of the code as it was
// compiled for this execution.
func (x *execution) classifier() *diag.Classifier {
	if x.unit == nil {
		return x.rt.classifier
	}
	mode := script.ModeEval
	if x.strategy == StrategySpec {
		mode = script.ModeSpec
	}
	return x.rt.classifier.WithPosition(script.SourceName, x.unit.PositionFor(mode))
}

func (x *execution) run() (any, error) {
	unit, err := script.Parse(x.req.Code)
	if err != nil {
		return nil, err
	}
	x.unit = unit

	switch x.strategy {
	case StrategyAST:
		return transpile.Render(unit, x.req.ASTPhase, script.IsSpecification(x.req.Code))
	case StrategySpec:
		return x.spec()
	default:
		return x.eval()
	}
}

// call compiles the unit in mode and calls the wrapper with a fresh output
// handle bound to the capture.
func (x *execution) call(mode script.Mode) (goja.Value, error) {
	prog, err := x.unit.Compile(mode)
	if err != nil {
		return nil, err
	}
	wrapper, err := x.rt.vm.RunProgram(prog)
	if err != nil {
		return nil, err
	}
	fn, ok := goja.AssertFunction(wrapper)
	if !ok {
		return nil, errors.New("engine: compiled script is not callable")
	}
	out, err := x.rt.printer(x.capture.Writer())
	if err != nil {
		return nil, err
	}
	return fn(goja.Undefined(), out)
}

func (x *execution) eval() (any, error) {
	v, err := x.call(script.ModeEval)
	if err != nil {
		return nil, err
	}
	if p, ok := asPromise(v); ok {
		switch p.State() {
		case goja.PromiseStateRejected:
			return nil, &diag.Rejection{Value: p.Result()}
		case goja.PromiseStatePending:
			return nil, errors.New("the script's result is a promise that never settled")
		}
		v = p.Result()
	}

	var value any
	if ex := x.rt.vm.Try(func() {
		value = newConverter().convert(v)
	}); ex != nil {
		r := x.classifier().Report(ex)
		return unserializable("%s", r.Headline()), nil
	}
	return value, nil
}

func (x *execution) spec() (any, error) {
	classes, err := x.call(script.ModeSpec)
	if err != nil {
		return nil, err
	}
	return x.rt.specs.Run(classes, x.classifier().Classify), nil
}
