// Package config loads the service configuration.
//
// The configuration is an optional YAML file merged over [Default]:
//
//	listen: ":8080"
//	log:
//	  level: info        # debug, info, warn or error
//	  format: text       # text or json
//	engine:
//	  max_call_stack: 4096
//	  timeout: 0s        # 0 never interrupts a script
//	http:
//	  allowed_hosts: [api.example.com]
//	  max_url_length: 8192
//	  max_body_size: 1048576
//	  timeout: 30s
//	wasm:
//	  memory_limit_pages: 256
//	  cache_dir: ""
//	properties:
//	  grape.root: /var/cache/grapes
//
// Unknown fields are rejected so typos surface at startup.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Listen     string            `yaml:"listen"`
	Log        Log               `yaml:"log"`
	Engine     Engine            `yaml:"engine"`
	HTTP       HTTP              `yaml:"http"`
	WASM       WASM              `yaml:"wasm"`
	Properties map[string]string `yaml:"properties"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Engine struct {
	MaxCallStack int           `yaml:"max_call_stack"`
	Timeout      time.Duration `yaml:"timeout"`
}

type HTTP struct {
	AllowedHosts []string      `yaml:"allowed_hosts"`
	MaxURLLength int           `yaml:"max_url_length"`
	MaxBodySize  int64         `yaml:"max_body_size"`
	Timeout      time.Duration `yaml:"timeout"`
}

type WASM struct {
	Disabled         bool   `yaml:"disabled"`
	MemoryLimitPages uint32 `yaml:"memory_limit_pages"`
	CacheDir         string `yaml:"cache_dir"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Listen: ":8080",
		Log: Log{
			Level:  "info",
			Format: "text",
		},
		Engine: Engine{
			MaxCallStack: 4096,
		},
		HTTP: HTTP{
			MaxURLLength: 8192,
			MaxBodySize:  1 << 20,
			Timeout:      30 * time.Second,
		},
	}
}

// Load reads the file at path over [Default]. An empty path yields the
// defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := Decode(data, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Decode merges the YAML document in data into cfg and validates the result.
func Decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return cfg.Validate()
}

// Validate checks enumerations and ranges.
func (c Config) Validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: log.level %q must be debug, info, warn or error", ErrInvalid, c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: log.format %q must be text or json", ErrInvalid, c.Log.Format)
	}
	if c.Listen == "" {
		return fmt.Errorf("%w: listen is required", ErrInvalid)
	}
	if c.Engine.MaxCallStack <= 0 {
		return fmt.Errorf("%w: engine.max_call_stack must be positive", ErrInvalid)
	}
	if c.Engine.Timeout < 0 {
		return fmt.Errorf("%w: engine.timeout must not be negative", ErrInvalid)
	}
	if c.HTTP.MaxURLLength <= 0 || c.HTTP.MaxBodySize <= 0 || c.HTTP.Timeout <= 0 {
		return fmt.Errorf("%w: http limits must be positive", ErrInvalid)
	}
	if c.WASM.MemoryLimitPages > 65536 {
		return fmt.Errorf("%w: wasm.memory_limit_pages must be at most 65536", ErrInvalid)
	}
	for k := range c.Properties {
		if k == "" {
			return fmt.Errorf("%w: property names must not be empty", ErrInvalid)
		}
	}
	return nil
}
