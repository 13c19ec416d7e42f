// Package hostfunc provides Go functions callable from inside interpreters.
//
// Host functions are plain Go code. They take positional and keyword
// arguments and run on the calling thread, so they see values already
// rebuilt in the calling interpreter. A host function crosses interpreters
// by reference.
//
// # Registry
//
// The [Registry] holds the functions installed into interpreters whose
// config enables builtins:
//
//	registry := hostfunc.NewRegistry()
//	hostfunc.RegisterBuiltins(registry)
//	registry.Register("greet", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
//	    return "hello", nil
//	})
//
// # Shared Key-Value Store
//
// [KV] is a store shared by all interpreters of an executor. Values are
// held as cross-interpreter envelopes, so only natively shareable values
// are accepted and every read yields a fresh copy in the reader:
//
//	kv := hostfunc.NewKV(exec.Registry(), hostfunc.DefaultKVConfig())
//	kv.Register(registry)
//
// Errors meant for script code are returned as *xidata.Exception values
// with an exception type name such as TypeError or ValueError.
package hostfunc
