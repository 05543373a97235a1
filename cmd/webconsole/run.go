package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/caffeineduck/webconsole/engine"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [file]",
		Short: "Run a script once",
		Long: `Execute a script once and print its output and result.

Code can be provided via:
  - File argument: webconsole run script.js
  - Inline flag: webconsole run -c 'println(1 + 1)'
  - Stdin: echo 'println(1 + 1)' | webconsole run

A script declaring a class that extends Specification runs its features
and prints the report. With --action ast the code is not executed; the
compiler's view of it at --phase is printed instead.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runRun,
	}
	addRunFlags(cmd)
	return cmd
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("code", "c", "", "Code to execute")
	cmd.Flags().String("action", "run", "Action: run, ast")
	cmd.Flags().String("phase", "", "AST phase: PARSING, SEMANTIC_ANALYSIS, CANONICALIZATION")
	cmd.Flags().String("format", "text", "Output format: text, json")
	addEngineFlags(cmd)
}

// runResponse is the subset of the wire document the text format prints.
type runResponse struct {
	Out    string          `json:"out"`
	Err    string          `json:"err"`
	Result json.RawMessage `json:"result"`
}

func runRun(cmd *cobra.Command, args []string) error {
	code, _ := cmd.Flags().GetString("code")
	action, _ := cmd.Flags().GetString("action")
	phase, _ := cmd.Flags().GetString("phase")
	format, _ := cmd.Flags().GetString("format")

	if format != "text" && format != "json" {
		return fmt.Errorf("unknown format %q: use text or json", format)
	}

	source, ok, err := readSource(cmd, code, args)
	if err != nil {
		return err
	}
	if !ok {
		return cmd.Help()
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

	doc := eng.Invoke(cmd.Context(), engine.Request{Code: source, Action: action, ASTPhase: phase})

	out := cmd.OutOrStdout()
	if format == "json" {
		fmt.Fprintf(out, "%s\n", doc)
		var resp runResponse
		if err := json.Unmarshal(doc, &resp); err == nil && resp.Err != "" {
			return errScriptFailed
		}
		return nil
	}
	return printText(cmd, doc)
}

// printText prints the captured output, then the result or the error.
func printText(cmd *cobra.Command, doc []byte) error {
	var resp runResponse
	if err := json.Unmarshal(doc, &resp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprint(out, resp.Out)
	if resp.Err != "" {
		fmt.Fprintln(cmd.ErrOrStderr(), resp.Err)
		return errScriptFailed
	}

	switch {
	case len(resp.Result) == 0 || string(resp.Result) == "null":
	case resp.Result[0] == '"':
		var s string
		if err := json.Unmarshal(resp.Result, &s); err != nil {
			return err
		}
		fmt.Fprintln(out, s)
	default:
		fmt.Fprintln(out, string(resp.Result))
	}
	return nil
}

// readSource returns the code from the flag, the file argument or piped
// stdin, in that order. ok is false when there is nothing to run.
func readSource(cmd *cobra.Command, code string, args []string) (string, bool, error) {
	switch {
	case code != "":
		return code, true, nil
	case len(args) > 0:
		data, err := os.ReadFile(args[0])
		if err != nil {
			return "", false, err
		}
		return string(data), true, nil
	}

	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok {
		// Check if stdin has data (not a terminal)
		stat, err := f.Stat()
		if err != nil || stat.Mode()&os.ModeCharDevice != 0 {
			return "", false, nil
		}
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return "", false, err
	}
	if len(data) == 0 {
		return "", false, nil
	}
	return string(data), true, nil
}
