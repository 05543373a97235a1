package hostfunc

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"
)

const (
	DefaultMaxModuleSize = 8 << 20 // 8MB
	DefaultCallTimeout   = 10 * time.Second
)

// Memory limit constants for convenience. Each page is 64KB.
const (
	MemoryLimit1MB   uint32 = 16
	MemoryLimit16MB  uint32 = 256
	MemoryLimit64MB  uint32 = 1024
	MemoryLimit256MB uint32 = 4096
	MemoryLimit1GB   uint32 = 16384
)

type WASMConfig struct {
	// MemoryLimitPages caps the memory of every module; 0 keeps the wazero
	// default of 4GB.
	MemoryLimitPages uint32
	MaxModuleSize    int
	CallTimeout      time.Duration
	// CacheDir enables a persistent compilation cache in the directory.
	// Empty keeps compiled modules in memory only.
	CacheDir string
}

// WASM compiles and calls WebAssembly modules on behalf of scripts.
// Compiled modules are cached by content hash; every call instantiates a
// fresh module so no state survives between calls.
type WASM struct {
	cfg      WASMConfig
	runtime  wazero.Runtime
	cache    wazero.CompilationCache
	stdout   io.Writer
	compiled map[string]wazero.CompiledModule
	mu       sync.RWMutex
	closed   bool
}

// NewWASM creates the wazero runtime. Module stdout and stderr are written
// to stdout.
func NewWASM(cfg WASMConfig, stdout io.Writer) (*WASM, error) {
	if cfg.MaxModuleSize == 0 {
		cfg.MaxModuleSize = DefaultMaxModuleSize
	}
	if cfg.CallTimeout == 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if stdout == nil {
		stdout = io.Discard
	}

	ctx := context.Background()

	var cache wazero.CompilationCache
	if cfg.CacheDir != "" {
		var err error
		cache, err = wazero.NewCompilationCacheWithDir(cfg.CacheDir)
		if err != nil {
			return nil, fmt.Errorf("create disk cache: %w", err)
		}
	}

	rtConfig := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if cache != nil {
		rtConfig = rtConfig.WithCompilationCache(cache)
	}
	if cfg.MemoryLimitPages > 0 {
		rtConfig = rtConfig.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}

	rt := wazero.NewRuntimeWithConfig(ctx, rtConfig)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		if cache != nil {
			cache.Close(ctx)
		}
		rt.Close(ctx)
		return nil, fmt.Errorf("instantiate WASI: %w", err)
	}

	return &WASM{
		cfg:      cfg,
		runtime:  rt,
		cache:    cache,
		stdout:   stdout,
		compiled: make(map[string]wazero.CompiledModule),
	}, nil
}

// Call instantiates args["module"] and calls args["export"] with
// args["params"]. Calling "_start" runs a WASI command and returns null.
// Results are numbers; several results are returned as an array.
func (w *WASM) Call(ctx context.Context, args map[string]any) (any, error) {
	name, _ := args["export"].(string)
	if name == "" {
		return nil, fmt.Errorf("export required")
	}
	compiled, err := w.load(ctx, args["module"])
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, w.cfg.CallTimeout)
	defer cancel()

	config := wazero.NewModuleConfig().
		WithStdout(w.stdout).
		WithStderr(w.stdout).
		WithName("")

	if name == "_start" {
		mod, err := w.runtime.InstantiateModule(ctx, compiled, config.WithStartFunctions("_start"))
		if mod != nil {
			defer mod.Close(ctx)
		}
		if err := exitError(ctx, err); err != nil {
			return nil, err
		}
		return nil, nil
	}

	def, ok := compiled.ExportedFunctions()[name]
	if !ok {
		return nil, fmt.Errorf("export not found: %s", name)
	}
	params, err := encodeParams(name, def, args["params"])
	if err != nil {
		return nil, err
	}

	mod, err := w.runtime.InstantiateModule(ctx, compiled, config.WithStartFunctions("_initialize"))
	if err != nil {
		return nil, exitError(ctx, err)
	}
	defer mod.Close(ctx)

	results, err := mod.ExportedFunction(name).Call(ctx, params...)
	if err := exitError(ctx, err); err != nil {
		return nil, err
	}
	return decodeResults(def, results)
}

// Exports lists the functions exported by args["module"].
func (w *WASM) Exports(ctx context.Context, args map[string]any) (any, error) {
	compiled, err := w.load(ctx, args["module"])
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(compiled.ExportedFunctions()))
	for name := range compiled.ExportedFunctions() {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (w *WASM) load(ctx context.Context, module any) (wazero.CompiledModule, error) {
	bin, err := moduleBytes(module)
	if err != nil {
		return nil, err
	}
	if len(bin) > w.cfg.MaxModuleSize {
		return nil, fmt.Errorf("module exceeds max size")
	}
	return w.getCompiled(ctx, bin)
}

// getCompiled returns a cached compiled module, compiling if necessary.
func (w *WASM) getCompiled(ctx context.Context, bin []byte) (wazero.CompiledModule, error) {
	sum := sha256.Sum256(bin)
	key := hex.EncodeToString(sum[:])

	w.mu.RLock()
	if w.closed {
		w.mu.RUnlock()
		return nil, errors.New("wasm runtime closed")
	}
	if compiled, ok := w.compiled[key]; ok {
		w.mu.RUnlock()
		return compiled, nil
	}
	w.mu.RUnlock()

	w.mu.Lock()
	defer w.mu.Unlock()

	if compiled, ok := w.compiled[key]; ok {
		return compiled, nil
	}

	compiled, err := w.runtime.CompileModule(ctx, bin)
	if err != nil {
		return nil, fmt.Errorf("compile module: %w", err)
	}

	w.compiled[key] = compiled
	return compiled, nil
}

// Close releases the runtime and every compiled module.
func (w *WASM) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	ctx := context.Background()

	var errs []error
	if err := w.runtime.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if w.cache != nil {
		if err := w.cache.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DefaultCacheDir returns the per-user compilation cache directory.
func DefaultCacheDir() string {
	if dir := os.Getenv("XDG_CACHE_HOME"); dir != "" {
		return filepath.Join(dir, "webconsole")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".cache", "webconsole")
	}
	return filepath.Join(os.TempDir(), "webconsole-cache")
}

func exitError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	var exit *sys.ExitError
	if errors.As(err, &exit) {
		switch {
		case exit.ExitCode() == 0:
			return nil
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			return fmt.Errorf("wasm call timed out")
		}
		return fmt.Errorf("module exited with code %d", exit.ExitCode())
	}
	return fmt.Errorf("wasm call failed: %w", err)
}

func moduleBytes(v any) ([]byte, error) {
	switch m := v.(type) {
	case []byte:
		return m, nil
	case goja.ArrayBuffer:
		return m.Bytes(), nil
	case string:
		b, err := base64.StdEncoding.DecodeString(m)
		if err != nil {
			return nil, fmt.Errorf("module string must be base64: %w", err)
		}
		return b, nil
	case []any:
		b := make([]byte, len(m))
		for i, e := range m {
			n, ok := number(e)
			if !ok || n < 0 || n > 255 || n != math.Trunc(n) {
				return nil, fmt.Errorf("module[%d] is not a byte", i)
			}
			b[i] = byte(n)
		}
		return b, nil
	case nil:
		return nil, fmt.Errorf("module required")
	default:
		return nil, fmt.Errorf("unsupported module type %T", v)
	}
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case float64:
		return n, true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func encodeParams(name string, def api.FunctionDefinition, raw any) ([]uint64, error) {
	var args []any
	switch p := raw.(type) {
	case nil:
	case []any:
		args = p
	default:
		return nil, fmt.Errorf("params must be an array")
	}
	types := def.ParamTypes()
	if len(args) != len(types) {
		return nil, fmt.Errorf("%s expects %d params, got %d", name, len(types), len(args))
	}
	out := make([]uint64, len(args))
	for i, a := range args {
		n, ok := number(a)
		if !ok {
			return nil, fmt.Errorf("param %d is not a number", i)
		}
		switch types[i] {
		case api.ValueTypeI32:
			out[i] = api.EncodeI32(int32(n))
		case api.ValueTypeI64:
			out[i] = api.EncodeI64(int64(n))
		case api.ValueTypeF32:
			out[i] = api.EncodeF32(float32(n))
		case api.ValueTypeF64:
			out[i] = api.EncodeF64(n)
		default:
			return nil, fmt.Errorf("param %d has unsupported type %s", i, api.ValueTypeName(types[i]))
		}
	}
	return out, nil
}

func decodeResults(def api.FunctionDefinition, raw []uint64) (any, error) {
	types := def.ResultTypes()
	out := make([]any, len(raw))
	for i, r := range raw {
		switch types[i] {
		case api.ValueTypeI32:
			out[i] = int64(api.DecodeI32(r))
		case api.ValueTypeI64:
			out[i] = int64(r)
		case api.ValueTypeF32:
			out[i] = float64(api.DecodeF32(r))
		case api.ValueTypeF64:
			out[i] = api.DecodeF64(r)
		default:
			return nil, fmt.Errorf("result %d has unsupported type %s", i, api.ValueTypeName(types[i]))
		}
	}
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		return out[0], nil
	}
	return out, nil
}
