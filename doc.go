// Package xinterp runs code in isolated interpreters inside one process and
// moves data between them.
//
// # Overview
//
// Each interpreter owns its runtime, its main namespace and a wasm heap
// for raw buffers. Values never cross directly: they travel as envelopes
// that are rebuilt in the receiving interpreter, as proxies whose
// operations run back in the owner, or as buffer views that borrow the
// owner's memory until released.
//
// # Basic Usage
//
//	funcs := hostfunc.NewRegistry()
//	hostfunc.RegisterBuiltins(funcs)
//	exec, _ := executor.New(funcs, executor.WithLanguage(javascript.New()))
//	defer exec.Close()
//
//	th := exec.MainThread()
//	id, _ := exec.Create(executor.DefaultConfig())
//
//	// Run code with shared values bound into the interpreter
//	info, err := exec.Exec(th, id, `total = a + b`, map[string]any{"a": 1, "b": 2})
//
//	// Call a function inside the interpreter
//	fn, _ := funcs.Get("len")
//	n, info, err := exec.Call(th, id, fn, []any{"hello"}, nil, true) // 5
//
// Failures raised by the code come back as an [xidata.FailureInfo]
// snapshot; the error return is reserved for lookup, state and sharing
// failures.
//
// See the [executor], [xidata], [hostfunc] and [language/javascript]
// packages for detailed API documentation.
package xinterp
