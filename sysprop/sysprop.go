// Package sysprop holds the process-wide configuration properties visible to
// scripts through System.getProperty and friends.
//
// The table is shared by every invocation in the process, so each invocation
// acquires a [Guard] that resets it afterwards.
package sysprop

import (
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
)

// Version is reported as the console.version property.
const Version = "1.0.0"

// Table is a concurrency-safe string property table.
type Table struct {
	mu    sync.RWMutex
	props map[string]string
}

var global = New(nil)

// Global returns the process-wide table.
func Global() *Table {
	return global
}

// New returns a table seeded with a copy of initial.
func New(initial map[string]string) *Table {
	t := &Table{props: make(map[string]string, len(initial))}
	for k, v := range initial {
		t.props[k] = v
	}
	return t
}

// Get returns the value of key.
func (t *Table) Get(key string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.props[key]
	return v, ok
}

// Set stores value under key and returns the previous value, if any.
func (t *Table) Set(key, value string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev, ok := t.props[key]
	t.props[key] = value
	return prev, ok
}

// Clear removes key and returns the removed value, if any.
func (t *Table) Clear(key string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev, ok := t.props[key]
	delete(t.props, key)
	return prev, ok
}

// Keys returns the property names in sorted order.
func (t *Table) Keys() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	keys := make([]string, 0, len(t.props))
	for k := range t.props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot returns a copy of the whole table.
func (t *Table) Snapshot() map[string]string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	snap := make(map[string]string, len(t.props))
	for k, v := range t.props {
		snap[k] = v
	}
	return snap
}

// Replace resets the table to exactly the contents of props.
func (t *Table) Replace(props map[string]string) {
	next := make(map[string]string, len(props))
	for k, v := range props {
		next[k] = v
	}
	t.mu.Lock()
	t.props = next
	t.mu.Unlock()
}

// Merge sets every entry of props without removing anything.
func (t *Table) Merge(props map[string]string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, v := range props {
		t.props[k] = v
	}
}

// Guard restores a table to the state it had when the guard was acquired.
type Guard struct {
	table    *Table
	snapshot map[string]string
	once     sync.Once
}

// Acquire snapshots the table.
func (t *Table) Acquire() *Guard {
	return &Guard{table: t, snapshot: t.Snapshot()}
}

// Release discards additions, removals and mutations made since Acquire.
// Only the first call has an effect.
func (g *Guard) Release() error {
	g.once.Do(func() {
		g.table.Replace(g.snapshot)
	})
	return nil
}

// Defaults returns the properties every process starts with.
func Defaults() map[string]string {
	props := map[string]string{
		"console.version": Version,
		"file.separator":  string(filepath.Separator),
		"go.version":      runtime.Version(),
		"line.separator":  "\n",
		"os.arch":         runtime.GOARCH,
		"os.name":         runtime.GOOS,
		"runtime.name":    "goja",
	}
	if wd, err := os.Getwd(); err == nil {
		props["user.dir"] = wd
	}
	if dir, err := os.UserHomeDir(); err == nil {
		props["user.home"] = dir
	}
	props["java.io.tmpdir"] = os.TempDir()
	return props
}
