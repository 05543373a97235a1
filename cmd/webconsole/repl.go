package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/caffeineduck/webconsole/engine"
)

func newReplCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Interactive REPL",
		Long: `Start an interactive REPL (Read-Eval-Print Loop).

Every entry is an independent invocation: bindings and changes to built-in
objects do not carry over to the next entry.

Features:
  - Command history (up/down arrows)
  - Line editing (left/right, backspace, delete)
  - History search (Ctrl+R)
  - Multi-line input (end line with \)

Type 'exit' or 'quit' to end the session, or press Ctrl+D.`,
		Args: cobra.NoArgs,
		RunE: runRepl,
	}
	cmd.Flags().String("history", "", "History file path (default: ~/.webconsole_history)")
	addEngineFlags(cmd)
	return cmd
}

func runRepl(cmd *cobra.Command, args []string) error {
	historyFile, _ := cmd.Flags().GetString("history")
	if historyFile == "" {
		home, _ := os.UserHomeDir()
		historyFile = filepath.Join(home, ".webconsole_history")
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr())
	eng, err := newEngine(cmd, cfg, logger)
	if err != nil {
		return err
	}
	defer eng.Close()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            "> ",
		HistoryFile:       historyFile,
		HistoryLimit:      1000,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
		Stdout:            cmd.OutOrStdout(),
		Stderr:            cmd.ErrOrStderr(),
	})
	if err != nil {
		return fmt.Errorf("initializing readline: %w", err)
	}
	defer rl.Close()

	fmt.Fprintln(cmd.ErrOrStderr(), "webconsole REPL (type 'exit' to quit, Ctrl+D to exit)")

	var multiLine strings.Builder
	inMultiLine := false

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				if inMultiLine {
					multiLine.Reset()
					inMultiLine = false
					rl.SetPrompt("> ")
				}
				continue
			}
			if err == io.EOF {
				fmt.Fprintln(cmd.OutOrStdout())
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		}

		// Handle multi-line input
		if strings.HasSuffix(line, "\\") {
			multiLine.WriteString(strings.TrimSuffix(line, "\\"))
			multiLine.WriteString("\n")
			inMultiLine = true
			rl.SetPrompt("... ")
			continue
		}

		if inMultiLine {
			multiLine.WriteString(line)
			line = multiLine.String()
			multiLine.Reset()
			inMultiLine = false
			rl.SetPrompt("> ")
		}

		if strings.TrimSpace(line) == "" {
			continue
		}
		if t := strings.TrimSpace(line); t == "exit" || t == "quit" {
			return nil
		}

		evalEntry(cmd, eng, line)
	}
}

// evalEntry runs one REPL entry and prints its output and result.
func evalEntry(cmd *cobra.Command, eng *engine.Engine, code string) {
	doc := eng.Invoke(context.Background(), engine.Request{Code: code})
	out := cmd.OutOrStdout()
	var resp runResponse
	if err := json.Unmarshal(doc, &resp); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
		return
	}
	if resp.Out != "" {
		fmt.Fprint(out, resp.Out)
		if !strings.HasSuffix(resp.Out, "\n") {
			fmt.Fprintln(out)
		}
	}
	if resp.Err != "" {
		fmt.Fprintln(cmd.ErrOrStderr(), resp.Err)
		return
	}
	if len(resp.Result) > 0 && string(resp.Result) != "null" {
		fmt.Fprintf(out, "=> %s\n", resp.Result)
	}
}
