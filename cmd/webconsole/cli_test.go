package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

func executeCommand(root *cobra.Command, args ...string) (string, error) {
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetIn(strings.NewReader(""))
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestCLIHelp(t *testing.T) {
	output, err := executeCommand(newRootCmd(), "--help")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expectedPhrases := []string{
		"webconsole",
		"isolated",
		"run",
		"repl",
		"serve",
		"--config",
		"--log-level",
	}

	for _, phrase := range expectedPhrases {
		if !strings.Contains(output, phrase) {
			t.Errorf("help output should contain %q", phrase)
		}
	}
}

func TestCLIRunHelp(t *testing.T) {
	output, err := executeCommand(newRootCmd(), "run", "--help")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expectedPhrases := []string{
		"--code",
		"--action",
		"--phase",
		"--format",
		"--timeout",
		"--allow-host",
		"--memory",
	}

	for _, phrase := range expectedPhrases {
		if !strings.Contains(output, phrase) {
			t.Errorf("run help output should contain %q", phrase)
		}
	}
}

func TestCLIReplHelp(t *testing.T) {
	output, err := executeCommand(newRootCmd(), "repl", "--help")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expectedPhrases := []string{
		"--history",
		"Command history",
		"Line editing",
	}

	for _, phrase := range expectedPhrases {
		if !strings.Contains(output, phrase) {
			t.Errorf("repl help output should contain %q", phrase)
		}
	}
}

func TestCLIServeHelp(t *testing.T) {
	output, err := executeCommand(newRootCmd(), "serve", "--help")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, phrase := range []string{"--listen", "OPTIONS", "204"} {
		if !strings.Contains(output, phrase) {
			t.Errorf("serve help output should contain %q", phrase)
		}
	}
}

func TestCLIRunInlineText(t *testing.T) {
	output, err := executeCommand(newRootCmd(), "run", "--no-cache", "--log-level", "warn", "-c", "println('hello'); 'done'")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if output != "hello\ndone\n" {
		t.Errorf("expected 'hello\\ndone\\n', got %q", output)
	}
}

func TestCLIRunJSON(t *testing.T) {
	output, err := executeCommand(newRootCmd(), "run", "--no-cache", "--log-level", "warn", "-c", "1+1", "--format", "json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, phrase := range []string{`"out":""`, `"err":""`, `"result":2`, `"executionTimeMillis"`} {
		if !strings.Contains(output, phrase) {
			t.Errorf("json output should contain %q, got %q", phrase, output)
		}
	}
}

func TestCLIRootBehavesLikeRun(t *testing.T) {
	output, err := executeCommand(newRootCmd(), "--no-cache", "--log-level", "warn", "-c", "[1, 2]")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(output) != "[1,2]" {
		t.Errorf("expected [1,2], got %q", output)
	}
}

func TestCLIRunFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "script.js")
	if err := os.WriteFile(path, []byte("print(typeof print)"), 0o644); err != nil {
		t.Fatal(err)
	}

	output, err := executeCommand(newRootCmd(), "run", "--no-cache", "--log-level", "warn", path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if output != "function" {
		t.Errorf("expected 'function', got %q", output)
	}
}

func TestCLIRunStdin(t *testing.T) {
	root := newRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetIn(strings.NewReader("40 + 2"))
	root.SetArgs([]string{"run", "--no-cache", "--log-level", "warn"})
	if err := root.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if buf.String() != "42\n" {
		t.Errorf("expected '42\\n', got %q", buf.String())
	}
}

func TestCLIScriptError(t *testing.T) {
	output, err := executeCommand(newRootCmd(), "run", "--no-cache", "--log-level", "warn", "-c", "throw new Error('boom')")
	if !errors.Is(err, errScriptFailed) {
		t.Fatalf("expected errScriptFailed, got %v", err)
	}
	if !strings.Contains(output, "Error: boom") {
		t.Errorf("expected error in output, got %q", output)
	}
}

func TestCLIAST(t *testing.T) {
	output, err := executeCommand(newRootCmd(), "run", "--no-cache", "--log-level", "warn", "--action", "ast", "-c", "var x = 1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(output, "VariableStatement") {
		t.Errorf("expected AST dump, got %q", output)
	}
}

func TestCLIInvalidFlags(t *testing.T) {
	tests := [][]string{
		{"run", "-c", "1", "--format", "xml"},
		{"run", "-c", "1", "--memory", "3mb"},
		{"run", "-c", "1", "--log-level", "loud"},
	}
	for _, args := range tests {
		_, err := executeCommand(newRootCmd(), args...)
		if err == nil {
			t.Errorf("%v: expected error", args)
		}
	}
}

func TestParseMemoryLimit(t *testing.T) {
	pages, err := parseMemoryLimit("16MB")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pages != 256 {
		t.Errorf("expected 256 pages, got %d", pages)
	}
	if _, err := parseMemoryLimit("2mb"); err == nil {
		t.Error("expected error for unsupported limit")
	}
}
