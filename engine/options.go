package engine

import (
	"io"
	"log/slog"
	"time"

	"github.com/caffeineduck/webconsole/hostfunc"
	"github.com/caffeineduck/webconsole/sysprop"
)

// DefaultMaxCallStackSize bounds script recursion so runaway recursion is
// reported as a RangeError instead of exhausting the Go stack.
const DefaultMaxCallStackSize = 4096

// Option configures an Engine.
type Option func(*engineConfig)

type engineConfig struct {
	logger            *slog.Logger
	stdout            io.Writer
	maxCallStackSize  int
	timeout           time.Duration
	interruptOnCancel bool
	registry          *hostfunc.Registry
	httpConfig        hostfunc.HTTPConfig
	wasmConfig        hostfunc.WASMConfig
	wasmDisabled      bool
	properties        *sysprop.Table
	startup           map[string]string
	denylist          []string
}

func defaultEngineConfig() engineConfig {
	return engineConfig{
		logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
		stdout:           io.Discard,
		maxCallStackSize: DefaultMaxCallStackSize,
	}
}

// WithLogger sets the logger invocations are reported to.
func WithLogger(l *slog.Logger) Option {
	return func(c *engineConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithStdout sets where output goes when no invocation is capturing it.
func WithStdout(w io.Writer) Option {
	return func(c *engineConfig) {
		if w != nil {
			c.stdout = w
		}
	}
}

// WithMaxCallStackSize sets the maximum script call depth.
func WithMaxCallStackSize(n int) Option {
	return func(c *engineConfig) {
		c.maxCallStackSize = n
	}
}

// WithTimeout interrupts invocations that run longer than d. Zero, the
// default, never interrupts.
func WithTimeout(d time.Duration) Option {
	return func(c *engineConfig) {
		c.timeout = d
	}
}

// WithInterruptOnCancel interrupts a running script when the context passed
// to Run is done.
func WithInterruptOnCancel() Option {
	return func(c *engineConfig) {
		c.interruptOnCancel = true
	}
}

// WithHostRegistry adds the functions of reg to the ones the engine
// registers itself. Functions registered by the engine take precedence.
func WithHostRegistry(reg *hostfunc.Registry) Option {
	return func(c *engineConfig) {
		c.registry = reg
	}
}

// WithAllowedHosts enables http.request and http.get for the given hosts.
func WithAllowedHosts(hosts []string) Option {
	return func(c *engineConfig) {
		c.httpConfig.AllowedHosts = hosts
	}
}

// WithHTTPConfig sets the outbound HTTP limits, allowed hosts included.
func WithHTTPConfig(cfg hostfunc.HTTPConfig) Option {
	return func(c *engineConfig) {
		c.httpConfig = cfg
	}
}

// WithWASMConfig sets the WebAssembly runtime limits.
func WithWASMConfig(cfg hostfunc.WASMConfig) Option {
	return func(c *engineConfig) {
		c.wasmConfig = cfg
	}
}

// WithoutWASM leaves wasm.call and wasm.exports disabled.
func WithoutWASM() Option {
	return func(c *engineConfig) {
		c.wasmDisabled = true
	}
}

// WithProperties sets the configuration property table scripts read and
// write. The default is [sysprop.Global]. props are merged into the table
// on top of [sysprop.Defaults] when the engine is created.
func WithProperties(table *sysprop.Table, props map[string]string) Option {
	return func(c *engineConfig) {
		c.properties = table
		c.startup = props
	}
}

// WithDenylist replaces the frame origins hidden from runtime diagnostics.
func WithDenylist(prefixes ...string) Option {
	return func(c *engineConfig) {
		c.denylist = prefixes
	}
}
