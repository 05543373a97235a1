// Package dispatch guards the runtime's method dispatch registry.
//
// Scripts can monkey-patch the runtime's intrinsic objects: add methods to
// Array.prototype, replace String.prototype.trim, swap an object's
// prototype, or define globals by assignment. Those objects are shared by
// every invocation, so a [Guard] snapshots the own property descriptors,
// prototype and extensibility of every intrinsic reachable at boot and puts
// them back on release.
//
// The snapshot and restore steps run inside the runtime using pristine
// Reflect functions captured when the [Registry] was created, so nothing a
// script redefines is consulted while restoring.
package dispatch

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dop251/goja"
)

//go:embed registry.js
var registrySource string

var registryProgram = goja.MustCompile("webconsole:registry.js", registrySource, true)

// ErrRestore reports that the registry could not be brought back to its
// snapshot. The runtime should be discarded when it is returned.
var ErrRestore = errors.New("dispatch: registry could not be restored")

// Registry is the set of intrinsic objects of one runtime.
type Registry struct {
	vm       *goja.Runtime
	size     int
	names    []string
	snapshot goja.Callable
	restore  goja.Callable
}

// New walks every object reachable from the runtime's global object and the
// hidden intrinsics. Bindings installed after New are not guarded.
func New(vm *goja.Runtime) (*Registry, error) {
	factory, err := vm.RunProgram(registryProgram)
	if err != nil {
		return nil, fmt.Errorf("dispatch: load registry: %w", err)
	}
	build, ok := goja.AssertFunction(factory)
	if !ok {
		return nil, errors.New("dispatch: registry factory is not callable")
	}
	v, err := build(goja.Undefined(), vm.GlobalObject())
	if err != nil {
		return nil, fmt.Errorf("dispatch: collect intrinsics: %w", err)
	}
	obj := v.ToObject(vm)

	r := &Registry{vm: vm, size: int(obj.Get("size").ToInteger())}
	if r.snapshot, ok = goja.AssertFunction(obj.Get("snapshot")); !ok {
		return nil, errors.New("dispatch: snapshot is not callable")
	}
	if r.restore, ok = goja.AssertFunction(obj.Get("restore")); !ok {
		return nil, errors.New("dispatch: restore is not callable")
	}
	if err := vm.ExportTo(obj.Get("names"), &r.names); err != nil {
		return nil, fmt.Errorf("dispatch: export names: %w", err)
	}
	return r, nil
}

// Len reports how many objects are guarded.
func (r *Registry) Len() int {
	return r.size
}

// Names lists the guarded objects by the path they were first reached by.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// Acquire snapshots the registry.
func (r *Registry) Acquire() (*Guard, error) {
	snap, err := r.snapshot(goja.Undefined())
	if err != nil {
		return nil, fmt.Errorf("dispatch: snapshot: %w", err)
	}
	return &Guard{registry: r, snap: snap}, nil
}

// Guard restores the registry to the snapshot taken by Acquire.
type Guard struct {
	registry *Registry
	snap     goja.Value

	once sync.Once
	err  error
}

// Release restores prototypes, removes added properties and redefines every
// snapshotted descriptor. Only the first call has an effect; later calls
// return the first call's result.
func (g *Guard) Release() error {
	g.once.Do(func() {
		g.err = g.registry.restoreFrom(g.snap)
		g.snap = nil
	})
	return g.err
}

func (r *Registry) restoreFrom(snap goja.Value) error {
	v, err := r.restore(goja.Undefined(), snap)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRestore, err)
	}
	var problems []string
	if err := r.vm.ExportTo(v, &problems); err != nil {
		return fmt.Errorf("%w: %v", ErrRestore, err)
	}
	if len(problems) == 0 {
		return nil
	}
	const shown = 5
	msg := strings.Join(problems[:min(len(problems), shown)], "; ")
	if len(problems) > shown {
		msg += fmt.Sprintf(" (and %d more)", len(problems)-shown)
	}
	return fmt.Errorf("%w: %s", ErrRestore, msg)
}
