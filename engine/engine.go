package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/google/uuid"

	"github.com/caffeineduck/webconsole/capture"
	"github.com/caffeineduck/webconsole/diag"
	"github.com/caffeineduck/webconsole/dispatch"
	"github.com/caffeineduck/webconsole/guard"
	"github.com/caffeineduck/webconsole/hostfunc"
	"github.com/caffeineduck/webconsole/specrun"
	"github.com/caffeineduck/webconsole/sysprop"
	"github.com/caffeineduck/webconsole/wire"
)

// ErrClosed is reported by invocations on a closed Engine.
var ErrClosed = errors.New("engine: closed")

// Invocation outcomes, as logged.
const (
	outcomeSucceeded     = "succeeded"
	outcomeCompileFailed = "compile_failed"
	outcomeRuntimeFailed = "runtime_failed"
)

// runtime is one scripting runtime with everything installed into it.
type runtime struct {
	vm         *goja.Runtime
	registry   *dispatch.Registry
	specs      *specrun.Runner
	classifier *diag.Classifier
	printer    printerFunc
}

// Engine runs scripts one at a time in a long-lived runtime. Every
// invocation starts from the state the runtime had when it was created:
// changes a script makes to the intrinsic objects or the configuration
// properties are undone when it finishes.
type Engine struct {
	cfg    engineConfig
	logger *slog.Logger
	sink   *capture.Sink
	props  *sysprop.Table
	hosts  *hostfunc.Registry
	wasm   *hostfunc.WASM

	mu     sync.Mutex
	rt     *runtime
	ctx    context.Context
	closed bool
}

// New creates an Engine and boots its runtime.
func New(opts ...Option) (*Engine, error) {
	cfg := defaultEngineConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	e := &Engine{
		cfg:    cfg,
		logger: cfg.logger,
		sink:   capture.NewSink(cfg.stdout),
		props:  cfg.properties,
		hosts:  hostfunc.NewRegistry(),
		ctx:    context.Background(),
	}
	if e.props == nil {
		e.props = sysprop.Global()
	}
	e.props.Merge(sysprop.Defaults())
	e.props.Merge(cfg.startup)

	if cfg.registry != nil {
		for _, name := range cfg.registry.List() {
			fn, _ := cfg.registry.Get(name)
			e.hosts.Register(name, fn)
		}
	}
	hostfunc.Properties(e.hosts, e.props)
	e.hosts.Register("time_now", func(context.Context, map[string]any) (any, error) {
		return time.Now().UnixMilli(), nil
	})
	if len(cfg.httpConfig.AllowedHosts) > 0 {
		h := hostfunc.NewHTTP(cfg.httpConfig)
		e.hosts.Register("http_request", h.Request)
		e.hosts.Register("http_get", h.Get)
	}
	if !cfg.wasmDisabled {
		w, err := hostfunc.NewWASM(cfg.wasmConfig, e.sink)
		if err != nil {
			return nil, fmt.Errorf("engine: %w", err)
		}
		e.wasm = w
		e.hosts.Register("wasm_call", w.Call)
		e.hosts.Register("wasm_exports", w.Exports)
	}

	rt, err := e.boot()
	if err != nil {
		e.Close()
		return nil, err
	}
	e.rt = rt
	return e, nil
}

// boot creates a runtime. The dispatch registry is collected last so that
// every binding installed before it is restored after each invocation.
func (e *Engine) boot() (*runtime, error) {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	vm.SetMaxCallStackSize(e.cfg.maxCallStackSize)

	printer, err := installConsole(vm, e.sink)
	if err != nil {
		return nil, err
	}
	if err := hostfunc.Install(vm, e.hosts, e.context); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	specs, err := specrun.Install(vm)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	var copts []diag.Option
	if e.cfg.denylist != nil {
		copts = append(copts, diag.WithDenylist(e.cfg.denylist...))
	}
	classifier, err := diag.NewClassifier(vm, copts...)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	registry, err := dispatch.New(vm)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	return &runtime{
		vm:         vm,
		registry:   registry,
		specs:      specs,
		classifier: classifier,
		printer:    printer,
	}, nil
}

// context is the context host functions run with.
func (e *Engine) context() context.Context {
	return e.ctx
}

// Run executes one invocation. Script failures are reported in the result,
// never as a Go error or panic.
func (e *Engine) Run(ctx context.Context, req Request) Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return Result{Error: ErrClosed.Error()}
	}

	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	strategy := Select(req)
	log := e.logger.With("invocation", id.String(), "strategy", strategy.String())
	log.Debug("input code", "code", req.Code)

	res, outcome, elapsed := e.invoke(ctx, log, req, strategy)

	log.Debug("output", "out", res.Stdout)
	if res.Error != "" {
		log.Debug("error", "err", res.Error)
	} else {
		log.Debug("result", "result", resultValue{res.Value})
	}
	log.Info("invocation finished", "outcome", outcome, "duration", elapsed)
	return res
}

// Invoke executes one invocation and serializes its result.
func (e *Engine) Invoke(ctx context.Context, req Request) []byte {
	return wire.Encode(e.Run(ctx, req).Response())
}

func (e *Engine) invoke(ctx context.Context, log *slog.Logger, req Request, strategy Strategy) (Result, string, time.Duration) {
	rt := e.rt
	if rt == nil {
		var err error
		if rt, err = e.boot(); err != nil {
			log.Error("runtime unavailable", "error", err)
			return Result{Error: err.Error()}, outcomeRuntimeFailed, 0
		}
		e.rt = rt
	}

	var guards guard.Stack
	dg, err := rt.registry.Acquire()
	if err != nil {
		log.Warn("dispatch registry unavailable; rebuilding runtime", "error", err)
		e.rt = nil
		return Result{Error: err.Error()}, outcomeRuntimeFailed, 0
	}
	guards.Push("dispatch registry", dg)
	guards.Push("configuration properties", e.props.Acquire())
	capt := e.sink.Begin()
	guards.Push("output capture", capt)

	e.ctx = ctx
	defer func() { e.ctx = context.Background() }()

	x := &execution{ctx: ctx, rt: rt, req: req, capture: capt, strategy: strategy}
	in := newInterrupter(ctx, rt.vm, e.cfg.timeout, e.cfg.interruptOnCancel)
	start := time.Now()
	var value any
	panicked := protect(&err, func() {
		value, err = x.run()
	})
	elapsed := time.Since(start)
	in.stop()

	var text string
	if err != nil {
		if protect(nil, func() { text = x.classifier().Classify(err) }) {
			text = err.Error()
		}
	}

	if rerr := guards.Release(); rerr != nil {
		log.Warn("guard release failed", "error", rerr)
		if errors.Is(rerr, dispatch.ErrRestore) {
			e.rt = nil
		}
	}
	if panicked {
		// The runtime may have been left mid-call.
		e.rt = nil
	}

	res := Result{
		Stdout: capt.End(),
		Stats:  Stats{ExecutionTimeMillis: elapsed.Milliseconds()},
	}
	var ce *diag.CompileError
	switch {
	case err == nil:
		res.Value = value
		return res, outcomeSucceeded, elapsed
	case errors.As(err, &ce):
		res.Error = text
		return res, outcomeCompileFailed, elapsed
	default:
		res.Error = text
		return res, outcomeRuntimeFailed, elapsed
	}
}

// protect runs fn and turns a panic into a [diag.PanicError] stored in
// *errp, when errp is not nil. It reports whether fn panicked.
func protect(errp *error, fn func()) (panicked bool) {
	defer func() {
		if v := recover(); v != nil {
			panicked = true
			if errp != nil {
				*errp = diag.Recovered(v)
			}
		}
	}()
	fn()
	return false
}

// Close releases the WebAssembly runtime. Invocations after Close fail with
// [ErrClosed].
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	e.rt = nil
	if e.wasm != nil {
		return e.wasm.Close()
	}
	return nil
}

// resultValue renders a result for the log without following cycles.
type resultValue struct {
	v any
}

func (r resultValue) LogValue() slog.Value {
	data, err := wire.MarshalValue(r.v)
	if err != nil {
		return slog.StringValue("<" + err.Error() + ">")
	}
	return slog.StringValue(string(data))
}
