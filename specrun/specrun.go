// Package specrun executes specification-style scripts.
//
// A specification is a class extending the Specification base installed by
// [Install]. Every instance method that is not a fixture and does not start
// with an underscore is a feature. Each feature runs on a fresh instance:
//
//	setup() -> feature() -> cleanup()
//
// setupSpec and cleanupSpec run once per class on a shared instance. A
// feature passes when it returns normally, fails when it throws an
// AssertionError, is skipped when it calls skip(), and errors otherwise.
// Async features are settled before the next one starts.
package specrun

import (
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"

	"github.com/caffeineduck/webconsole/diag"
)

// SourceName is the name the prelude's frames carry in stack traces.
const SourceName = "specrun:spec.js"

//go:embed spec.js
var preludeSource string

var preludeProgram = goja.MustCompile(SourceName, preludeSource, true)

// Status is the outcome of one feature.
type Status string

const (
	Passed  Status = "PASSED"
	Failed  Status = "FAILED"
	Errored Status = "ERROR"
	Skipped Status = "SKIPPED"
)

// Feature is the result of one feature method.
type Feature struct {
	Name           string `json:"name"`
	Status         Status `json:"status"`
	Message        string `json:"message,omitempty"`
	DurationMillis int64  `json:"durationMillis"`
}

// Specification is the result of one specification class.
type Specification struct {
	Name     string    `json:"name"`
	Features []Feature `json:"features"`
	// Error is set when the class itself could not be run, for example
	// when its constructor or setupSpec throws.
	Error string `json:"error,omitempty"`
}

// Summary counts feature outcomes across a run.
type Summary struct {
	Run            int   `json:"run"`
	Passed         int   `json:"passed"`
	Failed         int   `json:"failed"`
	Errored        int   `json:"errored"`
	Skipped        int   `json:"skipped"`
	Successful     bool  `json:"successful"`
	DurationMillis int64 `json:"durationMillis"`
}

// Report is the structured result of running specifications.
type Report struct {
	Specifications []Specification `json:"specifications"`
	Summary        Summary         `json:"summary"`
}

// DescribeFunc renders an unexpected feature error.
type DescribeFunc func(error) string

// Runner runs specification classes on the runtime it was installed into.
type Runner struct {
	vm        *goja.Runtime
	features  goja.Callable
	outcome   goja.Callable
	message   goja.Callable
	className goja.Callable
}

// Install defines Specification, AssertionError and the spec namespace on
// vm's global object and returns a runner bound to vm.
func Install(vm *goja.Runtime) (*Runner, error) {
	v, err := vm.RunProgram(preludeProgram)
	if err != nil {
		return nil, fmt.Errorf("specrun: load prelude: %w", err)
	}
	factory, ok := goja.AssertFunction(v)
	if !ok {
		return nil, errors.New("specrun: prelude is not a function")
	}
	helpers, err := factory(goja.Undefined(), vm.GlobalObject())
	if err != nil {
		return nil, fmt.Errorf("specrun: install prelude: %w", err)
	}
	obj := helpers.ToObject(vm)

	r := &Runner{vm: vm}
	for name, dst := range map[string]*goja.Callable{
		"features":  &r.features,
		"outcome":   &r.outcome,
		"message":   &r.message,
		"className": &r.className,
	} {
		fn, ok := goja.AssertFunction(obj.Get(name))
		if !ok {
			return nil, fmt.Errorf("specrun: prelude helper %s missing", name)
		}
		*dst = fn
	}
	return r, nil
}

// Run runs every class in classes, an array of constructors, and reports
// the outcome. describe renders errors that are neither assertion failures
// nor skips; when nil, the error text is used.
func (r *Runner) Run(classes goja.Value, describe DescribeFunc) *Report {
	if describe == nil {
		describe = func(err error) string { return err.Error() }
	}
	start := time.Now()
	report := &Report{Specifications: []Specification{}}

	for _, cls := range r.list(classes) {
		report.Specifications = append(report.Specifications, r.runClass(cls, describe))
	}

	s := &report.Summary
	for _, spec := range report.Specifications {
		if spec.Error != "" {
			s.Errored++
		}
		for _, f := range spec.Features {
			switch f.Status {
			case Passed:
				s.Passed++
			case Failed:
				s.Failed++
			case Errored:
				s.Errored++
			case Skipped:
				s.Skipped++
				continue
			}
			s.Run++
		}
	}
	s.Successful = s.Failed == 0 && s.Errored == 0
	s.DurationMillis = time.Since(start).Milliseconds()
	return report
}

func (r *Runner) list(classes goja.Value) []goja.Value {
	if classes == nil || goja.IsUndefined(classes) || goja.IsNull(classes) {
		return nil
	}
	obj := classes.ToObject(r.vm)
	n := int(obj.Get("length").ToInteger())
	out := make([]goja.Value, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, obj.Get(fmt.Sprint(i)))
	}
	return out
}

func (r *Runner) runClass(cls goja.Value, describe DescribeFunc) Specification {
	spec := Specification{Name: r.name(cls), Features: []Feature{}}

	names, err := r.featureNames(cls)
	if err != nil {
		spec.Error = describe(err)
		return spec
	}

	shared, err := r.vm.New(cls)
	if err != nil {
		spec.Error = describe(err)
		return spec
	}
	if err := r.call(shared, "setupSpec"); err != nil {
		spec.Error = describe(err)
		return spec
	}
	for _, name := range names {
		spec.Features = append(spec.Features, r.runFeature(cls, name, describe))
	}
	if err := r.call(shared, "cleanupSpec"); err != nil {
		spec.Error = describe(err)
	}
	return spec
}

func (r *Runner) runFeature(cls goja.Value, name string, describe DescribeFunc) Feature {
	start := time.Now()
	f := Feature{Name: name, Status: Passed}

	err := r.invoke(cls, name)
	if err != nil {
		f.Status, f.Message = r.classify(err, describe)
	}
	f.DurationMillis = time.Since(start).Milliseconds()
	return f
}

// invoke runs one feature on a fresh instance. cleanup always runs once
// setup has succeeded; the first error wins.
func (r *Runner) invoke(cls goja.Value, name string) error {
	inst, err := r.vm.New(cls)
	if err != nil {
		return err
	}
	if err := r.call(inst, "setup"); err != nil {
		return err
	}
	err = r.call(inst, name)
	if cerr := r.call(inst, "cleanup"); err == nil {
		err = cerr
	}
	return err
}

// call invokes the named method of obj if it exists and settles a returned
// promise.
func (r *Runner) call(obj *goja.Object, name string) error {
	fn, ok := goja.AssertFunction(obj.Get(name))
	if !ok {
		return nil
	}
	v, err := fn(obj)
	if err != nil {
		return err
	}
	if v == nil {
		return nil
	}
	if p, ok := v.Export().(*goja.Promise); ok {
		switch p.State() {
		case goja.PromiseStateRejected:
			return &diag.Rejection{Value: p.Result()}
		case goja.PromiseStatePending:
			return fmt.Errorf("%s did not settle: the returned promise is still pending", name)
		}
	}
	return nil
}

func (r *Runner) classify(err error, describe DescribeFunc) (Status, string) {
	var thrown goja.Value
	var ex *goja.Exception
	var rej *diag.Rejection
	switch {
	case errors.As(err, &ex):
		thrown = ex.Value()
	case errors.As(err, &rej):
		thrown = rej.Value
	default:
		return Errored, describe(err)
	}

	kind, kerr := r.outcome(goja.Undefined(), thrown)
	if kerr != nil {
		return Errored, describe(err)
	}
	switch kind.String() {
	case "skipped":
		return Skipped, r.text(thrown)
	case "failed":
		return Failed, r.text(thrown)
	}
	return Errored, describe(err)
}

func (r *Runner) text(v goja.Value) string {
	m, err := r.message(goja.Undefined(), v)
	if err != nil {
		return ""
	}
	return m.String()
}

func (r *Runner) name(cls goja.Value) string {
	v, err := r.className(goja.Undefined(), cls)
	if err != nil {
		return "<anonymous>"
	}
	return v.String()
}

func (r *Runner) featureNames(cls goja.Value) ([]string, error) {
	if _, ok := goja.AssertConstructor(cls); !ok {
		return nil, fmt.Errorf("%s is not a class", r.name(cls))
	}
	v, err := r.features(goja.Undefined(), cls)
	if err != nil {
		return nil, err
	}
	var names []string
	if err := r.vm.ExportTo(v, &names); err != nil {
		return nil, fmt.Errorf("specrun: read features: %w", err)
	}
	return names, nil
}
