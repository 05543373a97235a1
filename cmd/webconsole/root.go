package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/caffeineduck/webconsole/config"
	"github.com/caffeineduck/webconsole/engine"
	"github.com/caffeineduck/webconsole/hostfunc"
	"github.com/caffeineduck/webconsole/sysprop"
)

// errScriptFailed is returned when a script fails; the failure itself has
// already been printed.
var errScriptFailed = errors.New("script failed")

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "webconsole [file]",
		Short: "Isolated script execution service",
		Long: `webconsole - run JavaScript snippets in an isolated, reusable runtime.

Every invocation starts from a clean runtime: changes a script makes to the
built-in prototypes, the global object or the system properties are undone
when it finishes. Output printed by the script is captured and returned with
the script's result.

Run code from files, inline strings or stdin, start an interactive REPL, or
serve the single HTTP endpoint the web console talks to.`,
		Args:          cobra.MaximumNArgs(1),
		RunE:          runRun,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("config", "", "Path to a YAML configuration file")
	root.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	root.PersistentFlags().String("log-format", "", "Log format: text, json")
	root.PersistentFlags().Bool("no-cache", false, "Disable the WebAssembly compilation cache")

	// The root command behaves like run.
	addRunFlags(root)

	root.AddCommand(newRunCmd(), newServeCmd(), newReplCmd())
	return root
}

func addEngineFlags(cmd *cobra.Command) {
	cmd.Flags().Duration("timeout", 0, "Interrupt scripts running longer than this (0 never interrupts)")
	cmd.Flags().StringSlice("allow-host", nil, "Allow HTTP to host (repeatable)")
	cmd.Flags().String("memory", "", "WebAssembly memory limit: 1mb, 16mb, 64mb, 256mb, 1gb")
}

// loadConfig reads the configuration file and applies the flags that were
// set explicitly on top of it.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Log.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-format") {
		cfg.Log.Format, _ = flags.GetString("log-format")
	}
	if flags.Changed("timeout") {
		cfg.Engine.Timeout, _ = flags.GetDuration("timeout")
	}
	if flags.Changed("allow-host") {
		hosts, _ := flags.GetStringSlice("allow-host")
		cfg.HTTP.AllowedHosts = append(cfg.HTTP.AllowedHosts, hosts...)
	}
	if flags.Changed("memory") {
		s, _ := flags.GetString("memory")
		pages, err := parseMemoryLimit(s)
		if err != nil {
			return config.Config{}, err
		}
		cfg.WASM.MemoryLimitPages = pages
	}
	if flags.Changed("listen") {
		cfg.Listen, _ = flags.GetString("listen")
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// newEngine builds an engine from cfg. Scripts read and write the
// process-wide system properties.
func newEngine(cmd *cobra.Command, cfg config.Config, logger *slog.Logger, extra ...engine.Option) (*engine.Engine, error) {
	noCache, _ := cmd.Flags().GetBool("no-cache")
	cacheDir := cfg.WASM.CacheDir
	if cacheDir == "" {
		cacheDir = hostfunc.DefaultCacheDir()
	}
	if noCache {
		cacheDir = ""
	}

	opts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithStdout(cmd.OutOrStdout()),
		engine.WithMaxCallStackSize(cfg.Engine.MaxCallStack),
		engine.WithTimeout(cfg.Engine.Timeout),
		engine.WithProperties(sysprop.Global(), cfg.Properties),
		engine.WithHTTPConfig(hostfunc.HTTPConfig{
			AllowedHosts:   cfg.HTTP.AllowedHosts,
			MaxBodySize:    cfg.HTTP.MaxBodySize,
			MaxURLLength:   cfg.HTTP.MaxURLLength,
			RequestTimeout: cfg.HTTP.Timeout,
		}),
		engine.WithWASMConfig(hostfunc.WASMConfig{
			MemoryLimitPages: cfg.WASM.MemoryLimitPages,
			CacheDir:         cacheDir,
		}),
	}
	if cfg.WASM.Disabled {
		opts = append(opts, engine.WithoutWASM())
	}
	return engine.New(append(opts, extra...)...)
}

func parseMemoryLimit(s string) (uint32, error) {
	switch strings.ToLower(s) {
	case "", "default":
		return 0, nil
	case "1mb":
		return hostfunc.MemoryLimit1MB, nil
	case "16mb":
		return hostfunc.MemoryLimit16MB, nil
	case "64mb":
		return hostfunc.MemoryLimit64MB, nil
	case "256mb":
		return hostfunc.MemoryLimit256MB, nil
	case "1gb":
		return hostfunc.MemoryLimit1GB, nil
	default:
		return 0, fmt.Errorf("invalid memory limit %q (expected 1mb, 16mb, 64mb, 256mb or 1gb)", s)
	}
}
