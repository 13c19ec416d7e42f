package javascript

import (
	"context"
	"errors"
	"fmt"

	"github.com/dop251/goja"

	"github.com/caffeineduck/xinterp/executor"
	"github.com/caffeineduck/xinterp/hostfunc"
	"github.com/caffeineduck/xinterp/xidata"
)

// Object is a JavaScript object owned by one runtime. Other interpreters
// only ever see it through a proxy.
type Object struct {
	rt  *Runtime
	obj *goja.Object
}

// JS returns the wrapped goja object.
func (o *Object) JS() *goja.Object { return o.obj }

// String does not run script code, so it is safe to call outside the
// owning interpreter.
func (o *Object) String() string {
	return fmt.Sprintf("<javascript %s of interpreter %d>", o.obj.ClassName(), o.rt.interp.ID())
}

// goRef tags a script-side wrapper with the Go value it stands for.
type goRef struct{ v any }

// goValuer is implemented by the dynamic objects wrapping Go values.
type goValuer interface {
	goValue() any
}

// toGo converts a script value to its Go form. Primitives become int64,
// float64, string or bool; ArrayBuffers become a []byte copy; wrappers of
// Go values unwrap; anything else stays an Object of this runtime.
func (r *Runtime) toGo(v goja.Value) any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return v.Export()
	}

	switch obj.ClassName() {
	case "Function", "Error":
		if ref, ok := r.tagged(obj); ok {
			return ref
		}
	case "Object", "ArrayBuffer":
		// ArrayBuffers report the Object class; only the export tells.
		switch t := obj.Export().(type) {
		case goja.ArrayBuffer:
			return append([]byte(nil), t.Bytes()...)
		case goValuer:
			return t.goValue()
		}
	}
	return &Object{rt: r, obj: obj}
}

func (r *Runtime) tagged(obj *goja.Object) (any, bool) {
	ref := obj.GetSymbol(r.ref)
	if ref == nil || goja.IsUndefined(ref) {
		return nil, false
	}
	h, ok := ref.Export().(*goRef)
	if !ok {
		return nil, false
	}
	return h.v, true
}

func (r *Runtime) tag(obj *goja.Object, v any) {
	_ = obj.SetSymbol(r.ref, r.vm.ToValue(&goRef{v: v}))
}

func (r *Runtime) toJS(v any) goja.Value {
	switch t := v.(type) {
	case nil:
		return goja.Null()
	case goja.Value:
		return t
	case *Object:
		if t.rt == r {
			return t.obj
		}
		return r.wrapProxy(executor.NewProxy(t, t.rt.interp))
	case *executor.Proxy:
		return r.wrapProxy(t)
	case hostfunc.Func:
		return r.wrapFunc(t)
	case func(context.Context, []any, map[string]any) (any, error):
		return r.wrapFunc(t)
	case *executor.MemoryView:
		return r.vm.NewDynamicObject(&viewObject{r: r, mv: t})
	case *executor.HeapBlock:
		return r.vm.NewDynamicObject(&blockObject{r: r, b: t})
	case xidata.Tuple:
		items := make([]any, len(t))
		for i, item := range t {
			items[i] = r.toJS(item)
		}
		return r.vm.NewArray(items...)
	case []byte:
		return r.vm.ToValue(r.vm.NewArrayBuffer(append([]byte(nil), t...)))
	case error:
		return r.errorValue(t)
	}
	return r.vm.ToValue(v)
}

func (r *Runtime) args(vs []goja.Value) []any {
	if len(vs) == 0 {
		return nil
	}
	out := make([]any, len(vs))
	for i, v := range vs {
		out[i] = r.toGo(v)
	}
	return out
}

func (r *Runtime) jsArgs(vs []any) []goja.Value {
	out := make([]goja.Value, len(vs))
	for i, v := range vs {
		out[i] = r.toJS(v)
	}
	return out
}

// wrapProxy exposes p to scripts. Callable proxies become functions;
// others become objects whose properties forward to the owner.
func (r *Runtime) wrapProxy(p *executor.Proxy) goja.Value {
	if !p.Callable() {
		return r.vm.NewDynamicObject(&proxyObject{r: r, p: p})
	}
	fn := r.vm.ToValue(func(call goja.FunctionCall) goja.Value {
		res, err := p.Call(r.thread(), r.args(call.Arguments), nil)
		if err != nil {
			r.throw(err)
		}
		return r.toJS(res)
	}).(*goja.Object)
	r.tag(fn, p)
	return fn
}

func (r *Runtime) wrapFunc(fn hostfunc.Func) goja.Value {
	obj := r.vm.ToValue(func(call goja.FunctionCall) goja.Value {
		ctx := xidata.WithThread(context.Background(), r.thread())
		res, err := fn(ctx, r.args(call.Arguments), nil)
		if err != nil {
			r.throw(err)
		}
		return r.toJS(res)
	}).(*goja.Object)
	r.tag(obj, fn)
	return obj
}

// errorValue builds a script error for err. Its name is the exception
// type err presents as and the Go error rides along for toError.
func (r *Runtime) errorValue(err error) *goja.Object {
	obj := r.vm.NewGoError(err)
	_ = obj.Set("name", xidata.Capture(err).Type.Name)
	r.tag(obj, err)
	return obj
}

// throw raises err in the running script. Only call it from code goja
// invokes as a native function.
func (r *Runtime) throw(err error) {
	panic(r.errorValue(err))
}

// toError converts an error returned by goja into one the executor can
// capture. Errors that started as Go errors come back unchanged.
func (r *Runtime) toError(err error) error {
	if err == nil {
		return nil
	}
	var ex *goja.Exception
	if errors.As(err, &ex) {
		return r.valueError(ex.Value(), ex.String())
	}
	var se *goja.CompilerSyntaxError
	if errors.As(err, &se) {
		return xidata.NewException("SyntaxError", "%s", se.Error())
	}
	var ie *goja.InterruptedError
	if errors.As(err, &ie) {
		return xidata.NewException(xidata.RuntimeError, "interrupted: %v", ie.Value())
	}
	return err
}

// valueError converts a thrown script value into an error carrying trace.
func (r *Runtime) valueError(v goja.Value, trace string) error {
	obj, ok := v.(*goja.Object)
	if !ok {
		msg := "undefined"
		if v != nil {
			msg = v.String()
		}
		exc := xidata.NewException("Error", "%s", msg)
		exc.Trace = trace
		return exc
	}
	if ref, ok := r.tagged(obj); ok {
		if err, ok := ref.(error); ok {
			return err
		}
	}
	name := "Error"
	if n := obj.Get("name"); n != nil && !goja.IsUndefined(n) {
		name = n.String()
	}
	msg := ""
	if m := obj.Get("message"); m != nil && !goja.IsUndefined(m) {
		msg = m.String()
	} else {
		msg = r.display(obj)
	}
	exc := xidata.NewException(name, "%s", msg)
	exc.Trace = trace
	return exc
}

// display renders v the way print does: strings as-is, everything else
// through toString.
func (r *Runtime) display(v goja.Value) string {
	if v == nil {
		return "undefined"
	}
	var s string
	if ex := r.vm.Try(func() { s = v.String() }); ex != nil {
		return fmt.Sprintf("<%s>", v.ExportType())
	}
	return s
}
