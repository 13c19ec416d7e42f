package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/caffeineduck/xinterp/hostfunc"
)

// State is an interpreter's lifecycle state.
type State int32

const (
	StateUninitialized State = iota
	StateReady
	StateRunning
	StateFinalizing
	StateDestroyed
)

var stateNames = [...]string{"uninitialized", "ready", "running", "finalizing", "destroyed"}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Whence records who created an interpreter.
type Whence int

const (
	WhenceUnknown Whence = iota
	WhenceRuntime
	WhenceLegacyCAPI
	WhenceCAPI
	WhenceXI
	WhenceStdlib
)

var whenceNames = [...]string{
	WhenceUnknown:    "unknown",
	WhenceRuntime:    "runtime init",
	WhenceLegacyCAPI: "legacy C-API",
	WhenceCAPI:       "C-API",
	WhenceXI:         "cross-interpreter C-API",
	WhenceStdlib:     "_interpreters module",
}

func (w Whence) String() string {
	if w >= 0 && int(w) < len(whenceNames) {
		return whenceNames[w]
	}
	return fmt.Sprintf("Whence(%d)", int(w))
}

// Interpreter is an isolated execution environment with its own runtime,
// heap and namespace. Values owned by one interpreter reach others only as
// envelopes or proxies.
type Interpreter struct {
	id     int64
	whence Whence
	cfg    Config
	exec   *Executor
	lock   *runtimeLock

	mu          sync.Mutex
	state       State
	active      int
	refs        int64
	requireRefs bool
	pins        int
	views       map[*BufferView]struct{}
	runtime     Runtime
	heap        *heap
}

func (i *Interpreter) ID() int64 { return i.id }
func (i *Interpreter) Whence() Whence { return i.whence }
func (i *Interpreter) Config() Config { return i.cfg }
func (i *Interpreter) Executor() *Executor { return i.exec }
func (i *Interpreter) isMain() bool { return i == i.exec.main }
func (i *Interpreter) Funcs() *hostfunc.Registry { return i.exec.funcs }

// Runtime returns the interpreter's evaluator, or nil when it has none.
// It may only be used by a thread holding the interpreter's runtime lock.
func (i *Interpreter) Runtime() Runtime {
	return i.runtime
}

// State returns the lifecycle state. A ready interpreter with a thread
// executing in it reports StateRunning.
func (i *Interpreter) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.state == StateReady && (i.active > 0 || i.isMain()) {
		return StateRunning
	}
	return i.state
}

// IsRunning reports whether a thread is executing in the interpreter. The
// main interpreter is always running.
func (i *Interpreter) IsRunning() bool {
	return i.State() == StateRunning
}

// Refcount returns the handle reference count.
func (i *Interpreter) Refcount() int64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.refs
}

func (i *Interpreter) ready() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state == StateReady
}

func (i *Interpreter) beginUse() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	switch i.state {
	case StateReady:
		i.active++
		return nil
	case StateDestroyed:
		return notFound(i.id)
	default:
		return interpError("interpreter %d is %s", i.id, i.state)
	}
}

func (i *Interpreter) endUse() {
	i.mu.Lock()
	i.active--
	i.mu.Unlock()
}

func (i *Interpreter) trackView(bv *BufferView) {
	i.mu.Lock()
	if i.views != nil {
		i.views[bv] = struct{}{}
	}
	i.mu.Unlock()
}

func (i *Interpreter) untrackView(bv *BufferView) {
	i.mu.Lock()
	delete(i.views, bv)
	i.mu.Unlock()
}

func (i *Interpreter) pin() {
	i.mu.Lock()
	i.pins++
	i.mu.Unlock()
}

func (i *Interpreter) unpin() {
	i.mu.Lock()
	i.pins--
	i.mu.Unlock()
}

// Views returns the number of borrowed buffer views still held by the
// interpreter.
func (i *Interpreter) Views() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.views)
}

// finalize tears the interpreter down once it is out of the registry.
func (i *Interpreter) finalize(th *Thread, views []*BufferView) error {
	var errs []error
	for _, bv := range views {
		if err := bv.Close(th); err != nil {
			errs = append(errs, err)
		}
	}
	if i.runtime != nil {
		if err := i.runtime.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close runtime: %w", err))
		}
	}
	if i.heap != nil {
		if err := i.heap.close(context.Background()); err != nil {
			errs = append(errs, fmt.Errorf("close heap: %w", err))
		}
	}

	i.mu.Lock()
	i.state = StateDestroyed
	i.mu.Unlock()
	return errors.Join(errs...)
}

// invoke applies op to a value owned by this interpreter. th must be
// bound to the interpreter.
func (i *Interpreter) invoke(th *Thread, op Op, target any, args []any, kwargs map[string]any) (any, error) {
	switch t := target.(type) {
	case *Proxy:
		return t.forward(th, op, args, kwargs)
	case Code:
		if op != OpCall {
			break
		}
		if i.runtime == nil {
			return nil, ErrNoRuntime
		}
		fn, err := i.runtime.Eval(th, string(t))
		if err != nil {
			return nil, err
		}
		return i.invoke(th, op, fn, args, kwargs)
	}
	if i.runtime != nil && i.runtime.Owns(target) {
		return i.runtime.Invoke(th, op, target, args, kwargs)
	}
	return invokeNative(th, op, target, args, kwargs)
}

func (i *Interpreter) isCallable(v any) bool {
	switch t := v.(type) {
	case hostfunc.Func, Code:
		return true
	case *Proxy:
		return t.Callable()
	}
	if i.runtime != nil && i.runtime.Owns(v) {
		return i.runtime.Callable(v)
	}
	return false
}
