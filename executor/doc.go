// Package executor runs isolated interpreters in one process and moves
// values between them.
//
// # Overview
//
// An [Executor] owns the main interpreter and every interpreter created
// after it. Each [Interpreter] has its own language runtime, its own
// runtime lock (or the shared one in legacy mode) and a private wasm heap
// for raw buffers. A [Thread] is bound to exactly one interpreter at a time
// and switches between them through sessions.
//
// # Basic Usage
//
//	exec, err := executor.New(funcs, executor.WithLanguage(javascript.New()))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer exec.Close()
//
//	id, _ := exec.Create(executor.DefaultConfig())
//	th := exec.MainThread()
//	fn, _ := funcs.Get("len")
//	res, info, err := exec.Call(th, id, fn, []any{"hello"}, nil, true)
//
// A failure raised inside the target comes back as a [xidata.FailureInfo];
// err is reserved for failures to get into or out of the interpreter.
//
// # Sessions
//
// A [Session] enters an interpreter, binds shared values into its main
// namespace, and restores the thread on exit:
//
//	s := th.NewSession()
//	if err := s.Enter(interp, map[string]any{"n": 3}); err != nil {
//	    return err
//	}
//	err := interp.Runtime().Exec(th, "m = n")
//	res, err := s.Exit(err)
//
// # Sharing
//
// Values cross interpreters as [xidata.Data] envelopes. Scalars, bytes,
// tuples of shareable items, host functions, buffers and proxies are
// shareable natively. Anything else may cross as a [Proxy] whose operations
// run back in the owning interpreter.
//
// # Language Interface
//
// To add a language, implement [Language] and [Runtime].
// See [github.com/caffeineduck/xinterp/language/javascript] for an example.
package executor
