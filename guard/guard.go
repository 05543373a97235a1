// Package guard implements scoped acquisition of process-wide state.
//
// A guard snapshots a shared resource when it is acquired and restores the
// snapshot when it is released. Guards are pushed on a [Stack] as they are
// acquired and the stack releases them in reverse order, exactly once, on
// every exit path of the guarded region.
package guard

import (
	"errors"
	"fmt"
)

// Resource is a scoped resource that undoes its acquisition on Release.
type Resource interface {
	Release() error
}

// Func adapts a plain function to [Resource].
type Func func() error

// Release calls f.
func (f Func) Release() error { return f() }

type entry struct {
	name     string
	resource Resource
}

// Stack releases resources in LIFO order. The zero value is ready to use.
type Stack struct {
	entries  []entry
	released bool
}

// Push records a newly acquired resource.
func (s *Stack) Push(name string, r Resource) {
	if s.released {
		panic("guard: push on released stack")
	}
	s.entries = append(s.entries, entry{name: name, resource: r})
}

// Len reports how many resources are held.
func (s *Stack) Len() int {
	return len(s.entries)
}

// Release releases every held resource in reverse order of acquisition.
// A failing release does not stop the remaining ones; all failures are
// joined into the returned error. Subsequent calls do nothing.
func (s *Stack) Release() error {
	if s.released {
		return nil
	}
	s.released = true

	var errs []error
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if err := release(e.resource); err != nil {
			errs = append(errs, fmt.Errorf("release %s: %w", e.name, err))
		}
	}
	s.entries = nil
	return errors.Join(errs...)
}

// release converts a panicking Release into an error so that one broken
// guard cannot skip the ones acquired before it.
func release(r Resource) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return r.Release()
}
