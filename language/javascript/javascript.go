package javascript

import (
	"errors"
	"fmt"

	"github.com/dop251/goja"

	"github.com/caffeineduck/xinterp/executor"
)

// JavaScript implements the executor.Language interface with goja.
type JavaScript struct{}

// New returns a JavaScript language adapter.
func New() *JavaScript {
	return &JavaScript{}
}

// Name returns "javascript".
func (j *JavaScript) Name() string {
	return "javascript"
}

// NewRuntime starts a goja VM for interp with the print, console and xi
// globals and, when the interpreter's config enables builtins, one global
// per host function.
func (j *JavaScript) NewRuntime(interp *executor.Interpreter) (executor.Runtime, error) {
	return newRuntime(interp)
}

var errClosed = errors.New("javascript runtime closed")

// Runtime is a goja VM bound to one interpreter. The executor serializes
// every entry into it with the interpreter's runtime lock.
type Runtime struct {
	interp *executor.Interpreter
	vm     *goja.Runtime
	ref    *goja.Symbol
	ops    map[executor.Op]goja.Callable

	// th is the thread currently running script code. Nested entries from
	// proxied callbacks save and restore it.
	th     *executor.Thread
	closed bool
}

func newRuntime(interp *executor.Interpreter) (*Runtime, error) {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	r := &Runtime{
		interp: interp,
		vm:     vm,
		ref:    goja.NewSymbol("xinterp.ref"),
	}
	if err := r.compileOps(); err != nil {
		return nil, fmt.Errorf("compile operators: %w", err)
	}
	if err := r.installGlobals(); err != nil {
		return nil, fmt.Errorf("install globals: %w", err)
	}
	return r, nil
}

// VM returns the underlying goja runtime.
// Use sparingly - prefer the executor operations.
func (r *Runtime) VM() *goja.Runtime {
	return r.vm
}

// Interrupt stops the script currently running in the VM.
// Safe to call from another goroutine (e.g., for timeout enforcement).
func (r *Runtime) Interrupt(reason any) {
	r.vm.Interrupt(reason)
}

// ClearInterrupt resets an interrupt that did not fire.
func (r *Runtime) ClearInterrupt() {
	r.vm.ClearInterrupt()
}

// enter records th as the thread running script code until the returned
// func is called.
func (r *Runtime) enter(th *executor.Thread) func() {
	prev := r.th
	r.th = th
	return func() { r.th = prev }
}

// thread returns the thread running script code. It throws in the VM when
// called from outside an entry.
func (r *Runtime) thread() *executor.Thread {
	if r.th == nil {
		panic(r.vm.NewGoError(errors.New("no thread is executing in this interpreter")))
	}
	return r.th
}

func (r *Runtime) Get(name string) (any, bool) {
	if r.closed {
		return nil, false
	}
	v := r.vm.Get(name)
	if v == nil {
		return nil, false
	}
	return r.toGo(v), true
}

func (r *Runtime) Set(name string, v any) error {
	if r.closed {
		return errClosed
	}
	return r.vm.Set(name, r.toJS(v))
}

// Exec runs code as a script in the global scope.
func (r *Runtime) Exec(th *executor.Thread, code string) error {
	if r.closed {
		return errClosed
	}
	defer r.enter(th)()
	_, err := r.vm.RunString(code)
	return r.toError(err)
}

// Eval runs code and returns the value of its last expression.
func (r *Runtime) Eval(th *executor.Thread, code string) (any, error) {
	if r.closed {
		return nil, errClosed
	}
	defer r.enter(th)()
	v, err := r.vm.RunString(code)
	if err != nil {
		return nil, r.toError(err)
	}
	return r.toGo(v), nil
}

// Owns reports whether v is an object of this VM.
func (r *Runtime) Owns(v any) bool {
	o, ok := v.(*Object)
	return ok && o.rt == r
}

func (r *Runtime) Callable(v any) bool {
	o, ok := v.(*Object)
	if !ok || o.rt != r {
		return false
	}
	_, ok = goja.AssertFunction(o.obj)
	return ok
}

func (r *Runtime) Close() error {
	r.closed = true
	r.ops = nil
	r.vm.Interrupt(errClosed)
	return nil
}

// Compile-time interface checks
var (
	_ executor.Language = (*JavaScript)(nil)
	_ executor.Runtime  = (*Runtime)(nil)
)
