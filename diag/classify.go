package diag

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dop251/goja"
)

// maxCauses bounds the rendered cause chain; JS causes may form a cycle.
const maxCauses = 16

// DefaultDenylist lists the origin prefixes of frames that never reach the
// caller: the Go runtime, the HTTP server, the scripting runtime, the
// specification extension and this engine.
func DefaultDenylist() []string {
	return []string{
		"runtime.",
		"net/http.",
		"github.com/dop251/goja",
		"<native>",
		"specrun:",
		"github.com/caffeineduck/webconsole/specrun.",
		"webconsole:",
		"github.com/caffeineduck/webconsole/",
	}
}

// Rejection is a script value that failed an operation without being thrown
// through the runtime, such as the reason of a rejected promise.
type Rejection struct {
	Value goja.Value
}

func (r *Rejection) Error() string { return "promise rejected" }

// Report is the structured form of a runtime failure.
type Report struct {
	Type    string
	Message string
	Frames  []Frame
	Cause   *Report
}

// String renders the report as "Type: message", one "\tat" line per frame
// and a "Caused by:" section per cause.
func (r *Report) String() string {
	var b strings.Builder
	for i, cur := 0, r; cur != nil; i, cur = i+1, cur.Cause {
		if i > 0 {
			b.WriteString("\nCaused by: ")
		}
		b.WriteString(cur.Headline())
		for _, f := range collapse(cur.Frames) {
			b.WriteByte('\n')
			b.WriteString(f)
		}
	}
	return b.String()
}

// Headline renders "Type: message" without frames.
func (r *Report) Headline() string {
	switch {
	case r.Type == "":
		return r.Message
	case r.Message == "":
		return r.Type
	default:
		return r.Type + ": " + r.Message
	}
}

// collapse folds runs of identical frames, which deep recursion produces.
func collapse(frames []Frame) []string {
	var out []string
	for i := 0; i < len(frames); {
		j := i + 1
		for j < len(frames) && frames[j] == frames[i] {
			j++
		}
		out = append(out, frames[i].String())
		if n := j - i - 1; n > 0 {
			out = append(out, fmt.Sprintf("\t... repeated %d more times", n))
		}
		i = j
	}
	return out
}

// Option configures a [Classifier].
type Option func(*Classifier)

// WithDenylist replaces the frame denylist.
func WithDenylist(prefixes ...string) Option {
	return func(c *Classifier) {
		c.denylist = append([]string(nil), prefixes...)
	}
}

// WithStdlibFrames keeps Go standard library frames in reports.
func WithStdlibFrames() Option {
	return func(c *Classifier) {
		c.hideStdlib = false
	}
}

// Classifier renders failures. A Classifier is immutable; [Classifier.WithPosition]
// derives a copy bound to one invocation's source mapping.
type Classifier struct {
	denylist   []string
	hideStdlib bool
	script     string
	position   PositionFunc
	inspect    goja.Callable
}

// NewClassifier returns a classifier. vm may be nil, in which case thrown
// script values are reported without reading their properties.
func NewClassifier(vm *goja.Runtime, opts ...Option) (*Classifier, error) {
	c := &Classifier{
		denylist:   DefaultDenylist(),
		hideStdlib: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	if vm != nil {
		fn, err := newInspector(vm)
		if err != nil {
			return nil, err
		}
		c.inspect = fn
	}
	return c, nil
}

// WithPosition returns a copy of c that maps the positions of frames in
// the script named source through pos.
func (c *Classifier) WithPosition(source string, pos PositionFunc) *Classifier {
	cp := *c
	cp.script = source
	cp.position = pos
	return &cp
}

// Classify renders err. Compile-time failures yield their concatenated
// diagnostics; anything else yields the sanitized runtime report. A nil
// error yields the empty string.
func (c *Classifier) Classify(err error) string {
	if err == nil {
		return ""
	}
	if ce, ok := FromCompiler(err, c.position); ok {
		return ce.Error()
	}
	return c.Report(err).String()
}

// Report builds the runtime report for err.
func (c *Classifier) Report(err error) *Report {
	return c.report(err, 0)
}

func (c *Classifier) report(err error, depth int) *Report {
	var r *Report

	var interrupted *goja.InterruptedError
	var overflow *goja.StackOverflowError
	var ex *goja.Exception
	var pe *PanicError
	var rej *Rejection
	switch {
	case errors.As(err, &interrupted):
		r = &Report{Type: "InterruptedError", Message: fmt.Sprint(interrupted.Value())}
		r.Frames = ParseScriptStack(interrupted.String())
		if cause := interrupted.Unwrap(); cause != nil && depth < maxCauses {
			r.Cause = c.report(cause, depth+1)
		}
	case errors.As(err, &overflow):
		r = &Report{Type: "RangeError", Message: "Maximum call stack size exceeded"}
		r.Frames = ParseScriptStack(overflow.String())
	case errors.As(err, &ex):
		r = c.exception(ex.Value(), depth)
		if isPrimitive(ex.Value()) {
			// A thrown primitive has no stack of its own; the exception does.
			r.Message = "Uncaught " + r.Message
			r.Frames = ParseScriptStack(ex.String())
		}
	case errors.As(err, &rej):
		r = c.exception(rej.Value, depth)
		if isPrimitive(rej.Value) {
			r.Message = "Uncaught (in promise) " + r.Message
		}
	case errors.As(err, &pe):
		r = &Report{Type: "panic", Message: fmt.Sprint(pe.Value), Frames: pe.Frames()}
		if cause, ok := pe.Value.(error); ok && depth < maxCauses {
			r.Cause = c.report(cause, depth+1)
		}
	default:
		r = &Report{Type: fmt.Sprintf("%T", err), Message: err.Error()}
		if cause := errors.Unwrap(err); cause != nil && depth < maxCauses {
			r.Cause = c.report(cause, depth+1)
		}
	}
	r.Frames = c.Sanitize(r.Frames)
	return r
}

// exception reports a thrown script value.
func (c *Classifier) exception(v goja.Value, depth int) *Report {
	info := c.describe(v)
	r := &Report{Type: info.name, Message: info.message, Frames: ParseScriptStack(info.stack)}
	if depth >= maxCauses {
		return r
	}
	switch {
	case info.goErr != nil:
		if cause := errors.Unwrap(info.goErr); cause != nil {
			r.Cause = c.report(cause, depth+1)
		}
	case info.cause != nil:
		r.Cause = c.exception(info.cause, depth+1)
		r.Cause.Frames = c.Sanitize(r.Cause.Frames)
	}
	return r
}

func isPrimitive(v goja.Value) bool {
	_, ok := v.(*goja.Object)
	return v != nil && !ok
}

// Sanitize drops denylisted frames and maps the script's frames back to
// user coordinates.
func (c *Classifier) Sanitize(frames []Frame) []Frame {
	kept := frames[:0:0]
	for _, f := range frames {
		if c.denied(f) {
			continue
		}
		if c.position != nil && f.Source == c.script && f.Line > 0 {
			f.Line, f.Column = c.position(f.Line, f.Column)
		}
		kept = append(kept, f)
	}
	return kept
}

func (c *Classifier) denied(f Frame) bool {
	origin := f.Origin()
	for _, prefix := range c.denylist {
		if strings.HasPrefix(origin, prefix) {
			return true
		}
	}
	return f.Go && c.hideStdlib && isStdlib(f.Package())
}

// isStdlib reports whether pkg is a standard library import path: its first
// element has no dot. The main package is the program's own.
func isStdlib(pkg string) bool {
	if pkg == "" || pkg == "main" {
		return false
	}
	first, _, _ := strings.Cut(pkg, "/")
	return !strings.Contains(first, ".")
}
