// Package engine runs submitted scripts in isolation.
//
// An [Engine] owns one long-lived scripting runtime and serializes
// invocations on it. Each invocation goes through the same steps:
//
//	guards acquired    dispatch registry, then configuration properties
//	capturing          output redirected to a per-invocation buffer
//	strategy running   eval, spec or ast, see [Select]
//	guards released    capture ended, properties and intrinsics restored
//
// Mutations a script makes to the intrinsic objects (String.prototype and
// friends), to the global object, or to the configuration properties never
// reach the next invocation. If the intrinsics cannot be restored the
// runtime is discarded and rebuilt.
//
// Basic usage:
//
//	eng, err := engine.New(engine.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	defer eng.Close()
//
//	res := eng.Run(ctx, engine.Request{Code: `println("hi"); 1 + 1`})
//	fmt.Print(res.Stdout) // hi
//	fmt.Println(res.Value) // 2
//
// [Engine.Invoke] returns the same result serialized for the wire.
package engine
