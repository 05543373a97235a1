package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"
)

// interrupter stops a running script on timeout or cancellation. After stop
// returns the runtime is never interrupted by it again.
type interrupter struct {
	vm    *goja.Runtime
	mu    sync.Mutex
	done  bool
	timer *time.Timer
	after func() bool
}

func newInterrupter(ctx context.Context, vm *goja.Runtime, timeout time.Duration, onCancel bool) *interrupter {
	in := &interrupter{vm: vm}
	if timeout > 0 {
		in.timer = time.AfterFunc(timeout, func() {
			in.fire(fmt.Sprintf("execution timed out after %v", timeout))
		})
	}
	if onCancel {
		in.after = context.AfterFunc(ctx, func() {
			in.fire(context.Cause(ctx))
		})
	}
	return in
}

func (in *interrupter) fire(v any) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if !in.done {
		in.vm.Interrupt(v)
	}
}

func (in *interrupter) stop() {
	in.mu.Lock()
	in.done = true
	in.mu.Unlock()

	if in.timer != nil {
		in.timer.Stop()
	}
	if in.after != nil {
		in.after()
	}
	in.vm.ClearInterrupt()
}
