// Package hostfunc provides the host functions scripts can call.
//
// Host functions are Go functions reachable from the scripting runtime,
// enabling controlled access to process state and external resources.
//
// # Registry
//
// The [Registry] manages available host functions:
//
//	registry := hostfunc.NewRegistry()
//	registry.Register("my_func", func(ctx context.Context, args map[string]any) (any, error) {
//	    return "result", nil
//	})
//
// [Install] exposes a registry to a runtime and defines the script-facing
// globals built on it:
//
//	System.getProperty(key[, default])   sysprop_get
//	System.setProperty(key, value)       sysprop_set
//	System.clearProperty(key)            sysprop_clear
//	System.getProperties()               sysprop_list
//	System.currentTimeMillis()           time_now
//	http.request({method, url, body, headers})
//	http.get(url[, headers])
//	wasm.call(module, export, ...params)
//	wasm.exports(module)
//	host.call(name[, args])              any registered function
//	host.has(name)
//
// A global whose host function is not registered throws "<name> is not
// enabled". Errors returned by host functions are thrown as GoError values.
//
// # Built-in Capabilities
//
// Properties: the configuration property table via [Properties].
//
// HTTP: Controlled network access via [HTTP] and [HTTPConfig]. Both globals
// return {status, ok, url, body, truncated, headers}; a non-string body is
// sent as JSON.
//
//	http := hostfunc.NewHTTP(hostfunc.HTTPConfig{
//	    AllowedHosts: []string{"api.example.com"},
//	})
//	registry.Register("http_request", http.Request)
//
// WebAssembly: modules compiled and run by wazero via [WASM] and
// [WASMConfig]. Module output goes to the writer given to [NewWASM].
//
// # Security Model
//
//   - HTTP requests are limited to explicitly allowed hosts
//   - WebAssembly modules get WASI output only, no filesystem or network
//   - All operations have configurable size and time limits
package hostfunc
