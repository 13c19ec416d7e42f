package executor

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/caffeineduck/xinterp/xidata"
)

// mockLanguage implements Language for testing executor logic without a
// real script engine. Its programs are lines of:
//
//	name = expr
//	raise Type: message
//
// where expr is an integer, a quoted string, a name, "object" (a fresh
// runtime-owned object) or "lambda: expr" (a runtime-owned function whose
// body is evaluated on call with its arguments bound to args).
type mockLanguage struct{}

func (m *mockLanguage) Name() string {
	return "mock"
}

func (m *mockLanguage) NewRuntime(interp *Interpreter) (Runtime, error) {
	return &mockRuntime{interp: interp, ns: make(map[string]any)}, nil
}

func newMockLanguage() *mockLanguage {
	return &mockLanguage{}
}

type mockRuntime struct {
	interp *Interpreter
	mu     sync.Mutex
	ns     map[string]any
	closed bool
}

// mockObject is an attribute bag owned by one runtime.
type mockObject struct {
	rt    *mockRuntime
	attrs map[string]any
}

// mockFunc records the interpreter it last ran in.
type mockFunc struct {
	rt       *mockRuntime
	body     string
	calledIn int64
	calls    int
}

func (r *mockRuntime) Get(name string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.ns[name]
	return v, ok
}

func (r *mockRuntime) Set(name string, v any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrNoRuntime
	}
	r.ns[name] = v
	return nil
}

func (r *mockRuntime) Exec(th *Thread, code string) error {
	for _, line := range strings.Split(code, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "raise ") {
			return r.raise(line)
		}
		name, expr, ok := strings.Cut(line, "=")
		if !ok {
			return xidata.NewException("SyntaxError", "invalid syntax: %q", line)
		}
		v, err := r.Eval(th, expr)
		if err != nil {
			return err
		}
		if err := r.Set(strings.TrimSpace(name), v); err != nil {
			return err
		}
	}
	return nil
}

func (r *mockRuntime) raise(line string) error {
	typ, msg, _ := strings.Cut(strings.TrimPrefix(line, "raise "), ":")
	return xidata.NewException(strings.TrimSpace(typ), "%s", strings.TrimSpace(msg))
}

func (r *mockRuntime) Eval(th *Thread, code string) (any, error) {
	expr := strings.TrimSpace(code)
	switch {
	case strings.HasPrefix(expr, "raise "):
		return nil, r.raise(expr)
	case strings.HasPrefix(expr, "lambda:"):
		return &mockFunc{rt: r, body: strings.TrimPrefix(expr, "lambda:"), calledIn: -1}, nil
	case expr == "object":
		return &mockObject{rt: r, attrs: make(map[string]any)}, nil
	case expr == "None":
		return nil, nil
	case strings.HasPrefix(expr, `"`):
		return strconv.Unquote(expr)
	}
	if n, err := strconv.ParseInt(expr, 10, 64); err == nil {
		return n, nil
	}
	if v, ok := r.Get(expr); ok {
		return v, nil
	}
	return nil, xidata.NewException("NameError", "name '%s' is not defined", expr)
}

func (r *mockRuntime) Owns(v any) bool {
	switch t := v.(type) {
	case *mockObject:
		return t.rt == r
	case *mockFunc:
		return t.rt == r
	}
	return false
}

func (r *mockRuntime) Callable(v any) bool {
	_, ok := v.(*mockFunc)
	return ok
}

func (r *mockRuntime) Invoke(th *Thread, op Op, target any, args []any, kwargs map[string]any) (any, error) {
	if th.Current() != r.interp {
		return nil, fmt.Errorf("mock runtime of interpreter %d used from %d", r.interp.id, th.InterpreterID())
	}
	switch t := target.(type) {
	case *mockFunc:
		if op != OpCall {
			return invokeNative(th, op, fmt.Sprintf("<lambda:%s>", t.body), args, kwargs)
		}
		t.calledIn = th.InterpreterID()
		t.calls++
		if err := r.Set("args", xidata.Tuple(args)); err != nil {
			return nil, err
		}
		return r.Eval(th, t.body)
	case *mockObject:
		switch op {
		case OpGetAttr:
			name, _ := args[0].(string)
			if v, ok := t.attrs[name]; ok {
				return v, nil
			}
			return nil, xidata.NewException(xidata.AttributeError, "'object' object has no attribute '%s'", name)
		case OpRepr, OpStr:
			return "<object>", nil
		}
		return invokeNative(th, op, t.attrs, args, kwargs)
	}
	return nil, fmt.Errorf("not a mock value: %T", target)
}

func (r *mockRuntime) Close() error {
	r.mu.Lock()
	r.closed = true
	r.ns = nil
	r.mu.Unlock()
	return nil
}
