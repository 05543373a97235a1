package hostfunc

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// addModule exports add(i32, i32) -> i32.
var addModule = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	0x01, 0x07, 0x01, 0x60, 0x02, 0x7f, 0x7f, 0x01, 0x7f,
	0x03, 0x02, 0x01, 0x00,
	0x07, 0x07, 0x01, 0x03, 'a', 'd', 'd', 0x00, 0x00,
	0x0a, 0x09, 0x01, 0x07, 0x00, 0x20, 0x00, 0x20, 0x01, 0x6a, 0x0b,
}

func newWASM(t *testing.T, cfg WASMConfig) *WASM {
	t.Helper()
	w, err := NewWASM(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return w
}

func TestWASMCall(t *testing.T) {
	w := newWASM(t, WASMConfig{})
	res, err := w.Call(context.Background(), map[string]any{
		"module": addModule,
		"export": "add",
		"params": []any{int64(40), float64(2)},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), res)
}

func TestWASMCallNegativeResult(t *testing.T) {
	w := newWASM(t, WASMConfig{})
	res, err := w.Call(context.Background(), map[string]any{
		"module": addModule,
		"export": "add",
		"params": []any{int64(-50), int64(8)},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(-42), res)
}

func TestWASMModuleEncodings(t *testing.T) {
	w := newWASM(t, WASMConfig{})
	asNumbers := make([]any, len(addModule))
	for i, b := range addModule {
		asNumbers[i] = int64(b)
	}

	for name, module := range map[string]any{
		"bytes":   addModule,
		"base64":  base64.StdEncoding.EncodeToString(addModule),
		"numbers": asNumbers,
	} {
		t.Run(name, func(t *testing.T) {
			res, err := w.Call(context.Background(), map[string]any{
				"module": module,
				"export": "add",
				"params": []any{int64(1), int64(2)},
			})
			require.NoError(t, err)
			assert.Equal(t, int64(3), res)
		})
	}
	assert.Len(t, w.compiled, 1, "one module compiled once regardless of encoding")
}

func TestWASMErrors(t *testing.T) {
	w := newWASM(t, WASMConfig{MaxModuleSize: 64})
	tests := map[string]struct {
		args map[string]any
		want string
	}{
		"no export":    {map[string]any{"module": addModule}, "export required"},
		"no module":    {map[string]any{"export": "add"}, "module required"},
		"unknown":      {map[string]any{"module": addModule, "export": "sub"}, "export not found: sub"},
		"arity":        {map[string]any{"module": addModule, "export": "add", "params": []any{int64(1)}}, "add expects 2 params, got 1"},
		"not a number": {map[string]any{"module": addModule, "export": "add", "params": []any{"a", "b"}}, "param 0 is not a number"},
		"bad base64":   {map[string]any{"module": "!!", "export": "add"}, "module string must be base64"},
		"too large":    {map[string]any{"module": make([]byte, 65), "export": "add"}, "module exceeds max size"},
		"invalid":      {map[string]any{"module": []byte("not wasm"), "export": "add"}, "compile module"},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := w.Call(context.Background(), tt.args)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestWASMExports(t *testing.T) {
	w := newWASM(t, WASMConfig{})
	names, err := w.Exports(context.Background(), map[string]any{"module": addModule})
	require.NoError(t, err)
	assert.Equal(t, []string{"add"}, names)
}

func TestWASMClosed(t *testing.T) {
	w, err := NewWASM(WASMConfig{}, nil)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	_, err = w.Call(context.Background(), map[string]any{"module": addModule, "export": "add"})
	assert.EqualError(t, err, "wasm runtime closed")
}

func TestWASMDiskCache(t *testing.T) {
	w := newWASM(t, WASMConfig{CacheDir: t.TempDir(), MemoryLimitPages: MemoryLimit16MB})
	res, err := w.Call(context.Background(), map[string]any{
		"module": addModule,
		"export": "add",
		"params": []any{int64(2), int64(2)},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(4), res)
}
