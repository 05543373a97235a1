package diag

import (
	"bufio"
	"fmt"
	"regexp"
	"runtime/debug"
	"strconv"
	"strings"
)

// Frame is one stack frame of a script or of the Go host.
type Frame struct {
	Func   string
	Source string
	Line   int
	Column int
	Go     bool
}

// Origin is the namespace the frame is matched against when sanitizing: the
// qualified function name of Go frames and the source name of script frames.
func (f Frame) Origin() string {
	if f.Go {
		return f.Func
	}
	return f.Source
}

// Package returns the import path of a Go frame's function.
func (f Frame) Package() string {
	if !f.Go {
		return ""
	}
	name := f.Func
	slash := strings.LastIndexByte(name, '/')
	if dot := strings.IndexByte(name[slash+1:], '.'); dot >= 0 {
		return name[:slash+1+dot]
	}
	return name
}

// String renders the frame as a "\tat" line.
func (f Frame) String() string {
	var loc string
	switch {
	case f.Line <= 0:
		loc = f.Source
	case f.Go || f.Column <= 0:
		loc = fmt.Sprintf("%s:%d", f.Source, f.Line)
	default:
		loc = fmt.Sprintf("%s:%d:%d", f.Source, f.Line, f.Column)
	}
	if f.Func == "" {
		return "\tat " + loc
	}
	return "\tat " + f.Func + " (" + loc + ")"
}

var (
	scriptFrame = regexp.MustCompile(`^\tat (?:(.+?) \()?(.+?):(\d+):(\d+)\(\d+\)\)?$`)
	nativeFrame = regexp.MustCompile(`^\tat (?:(.+?) \()?native\)?$`)
)

// ParseScriptStack extracts frames from the runtime's textual stack trace,
// innermost first. Lines that are not frames are skipped.
func ParseScriptStack(stack string) []Frame {
	var frames []Frame
	for _, line := range strings.Split(stack, "\n") {
		if m := scriptFrame.FindStringSubmatch(line); m != nil {
			ln, _ := strconv.Atoi(m[3])
			col, _ := strconv.Atoi(m[4])
			frames = append(frames, Frame{Func: m[1], Source: m[2], Line: ln, Column: col})
			continue
		}
		if m := nativeFrame.FindStringSubmatch(line); m != nil {
			frames = append(frames, Frame{Func: m[1], Source: "<native>"})
		}
	}
	return frames
}

// ParseGoStack extracts frames from a goroutine dump as produced by
// debug.Stack.
func ParseGoStack(stack []byte) []Frame {
	var frames []Frame
	sc := bufio.NewScanner(strings.NewReader(string(stack)))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var fn string
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "goroutine "):
			fn = ""
		case strings.HasPrefix(line, "\t"):
			if fn == "" {
				continue
			}
			loc := strings.TrimSpace(line)
			if sp := strings.LastIndexByte(loc, ' '); sp >= 0 {
				loc = loc[:sp]
			}
			f := Frame{Func: fn, Source: loc, Go: true}
			if colon := strings.LastIndexByte(loc, ':'); colon >= 0 {
				if n, err := strconv.Atoi(loc[colon+1:]); err == nil {
					f.Source, f.Line = loc[:colon], n
				}
			}
			if slash := strings.LastIndexByte(f.Source, '/'); slash >= 0 {
				f.Source = f.Source[slash+1:]
			}
			frames = append(frames, f)
			fn = ""
		case line != "":
			fn = line
			if strings.HasPrefix(fn, "created by ") {
				fn = strings.TrimPrefix(fn, "created by ")
				if i := strings.Index(fn, " in goroutine"); i >= 0 {
					fn = fn[:i]
				}
			} else if paren := strings.LastIndexByte(fn, '('); paren > 0 {
				fn = fn[:paren]
			}
		}
	}
	return frames
}

// PanicError is a Go panic recovered while running a script.
type PanicError struct {
	Value any
	Stack []byte
}

// Recovered wraps a value returned by recover together with the current
// goroutine's stack.
func Recovered(v any) *PanicError {
	return &PanicError{Value: v, Stack: debug.Stack()}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap returns the panic value when it is an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// Frames parses the recorded stack.
func (e *PanicError) Frames() []Frame {
	return ParseGoStack(e.Stack)
}
