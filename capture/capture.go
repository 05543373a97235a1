// Package capture redirects the output channel shared by every print binding
// of the script runtime into a per-invocation buffer.
//
// A [Sink] is the process-wide writer that scripts print to. [Sink.Begin]
// swaps its target for an in-memory buffer and [Capture.End] swaps it back:
//
//	c := sink.Begin()
//	fmt.Fprintln(sink, "hi")      // attributed to c
//	fmt.Fprint(c.Writer(), "x")   // explicit target, same buffer
//	text := c.End()               // "hi\nx"
package capture

import (
	"bytes"
	"io"
	"sync"
)

// Sink is a writer whose destination can be swapped for the duration of a
// capture. The zero value discards output until a capture begins.
type Sink struct {
	mu     sync.Mutex
	target io.Writer
}

// NewSink returns a sink writing to w when no capture is active.
func NewSink(w io.Writer) *Sink {
	if w == nil {
		w = io.Discard
	}
	return &Sink{target: w}
}

// Write forwards p to the current target.
func (s *Sink) Write(p []byte) (int, error) {
	s.mu.Lock()
	target := s.target
	s.mu.Unlock()
	if target == nil {
		return len(p), nil
	}
	return target.Write(p)
}

// Begin starts capturing everything written to the sink.
func (s *Sink) Begin() *Capture {
	c := &Capture{sink: s}
	s.mu.Lock()
	c.prev = s.target
	s.target = &c.buf
	s.mu.Unlock()
	return c
}

// Capture is the handle of one active redirection.
type Capture struct {
	sink *Sink
	prev io.Writer
	buf  lockedBuffer

	once sync.Once
	text string
}

// Writer returns a writer that appends directly to the capture buffer,
// regardless of where the sink currently points.
func (c *Capture) Writer() io.Writer {
	return &c.buf
}

// End restores the sink's previous target and returns the captured text
// verbatim. Calls after the first return the same text.
func (c *Capture) End() string {
	c.once.Do(func() {
		c.sink.mu.Lock()
		if c.sink.target == &c.buf {
			c.sink.target = c.prev
		}
		c.sink.mu.Unlock()
		c.text = c.buf.String()
	})
	return c.text
}

// Release ends the capture. It lets a capture sit on a guard stack.
func (c *Capture) Release() error {
	c.End()
	return nil
}

// String returns the text captured so far.
func (c *Capture) String() string {
	return c.buf.String()
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
