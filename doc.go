// Package webconsole runs JavaScript snippets in an isolated, reusable
// runtime and reports what they printed and returned.
//
// # Overview
//
// A single runtime serves every invocation. Each invocation starts from a
// clean state: redefinitions a script makes to built-in prototypes or the
// global object are rolled back, configuration properties it sets are
// restored, and output it prints is captured rather than written to the
// process stdout.
//
// # Basic Usage
//
//	eng, _ := engine.New(engine.WithLogger(logger))
//	defer eng.Close()
//
//	res := eng.Run(ctx, engine.Request{Code: `println("hello"); 6 * 7`})
//	fmt.Print(res.Stdout) // hello
//	fmt.Println(res.Value) // 42
//
//	// The wire document served by the HTTP endpoint
//	doc := eng.Invoke(ctx, engine.Request{Code: `[1, 2]`})
//	// {"out":"","err":"","result":[1,2],"stats":{"executionTimeMillis":0}}
//
// # Strategies
//
// A request is executed as a plain script, as a specification (a class
// extending Specification whose feature methods are run), or, with the
// "ast" action, rendered as a syntax tree without being executed.
//
// # Packages
//
//	engine     invocation coordinator and strategy selection
//	capture    per-invocation output capture
//	dispatch   built-in registry snapshot and restore
//	sysprop    configuration property table and its guard
//	guard      ordered acquisition and release of invocation guards
//	diag       error classification and stack rendering
//	wire       response document and serialization fallbacks
//	script     source preparation and position mapping
//	specrun    specification runner
//	transpile  syntax tree rendering
//	hostfunc   host functions reachable from scripts
//	config     YAML configuration
//
// The webconsole command in cmd/webconsole runs scripts once, in a REPL,
// or behind the HTTP endpoint.
package webconsole
