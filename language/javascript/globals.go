package javascript

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dop251/goja"

	"github.com/caffeineduck/xinterp/executor"
	"github.com/caffeineduck/xinterp/xidata"
)

func (r *Runtime) installGlobals() error {
	out := r.interp.Executor().Output()
	printFn := func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, a := range call.Arguments {
			parts[i] = r.display(a)
		}
		fmt.Fprintln(out, strings.Join(parts, " "))
		return goja.Undefined()
	}

	console := r.vm.NewObject()
	for _, name := range []string{"log", "info", "warn", "error"} {
		if err := console.Set(name, printFn); err != nil {
			return err
		}
	}
	if err := r.vm.Set("print", printFn); err != nil {
		return err
	}
	if err := r.vm.Set("console", console); err != nil {
		return err
	}

	if r.interp.Config().Builtins {
		funcs := r.interp.Funcs()
		for _, name := range funcs.List() {
			fn, _ := funcs.Get(name)
			if err := r.vm.Set(name, r.wrapFunc(fn)); err != nil {
				return err
			}
		}
	}
	return r.vm.Set("xi", r.newXI())
}

// newXI builds the xi global, the script face of the executor. Every
// function runs on the thread currently executing script code.
func (r *Runtime) newXI() *goja.Object {
	exec := r.interp.Executor()
	xi := r.vm.NewObject()
	set := func(name string, fn func(call goja.FunctionCall) goja.Value) {
		_ = xi.Set(name, fn)
	}
	check := func(err error) {
		if err != nil {
			r.throw(err)
		}
	}
	id := func(v goja.Value) int64 {
		if v == nil || goja.IsUndefined(v) {
			r.throw(typeError("interpreter id required"))
		}
		return v.ToInteger()
	}

	_ = xi.Set("id", r.interp.ID())

	set("share", func(call goja.FunctionCall) goja.Value {
		return r.toJS(exec.Share(r.thread(), r.toGo(call.Argument(0))))
	})
	set("isShareable", func(call goja.FunctionCall) goja.Value {
		return r.vm.ToValue(exec.IsShareable(r.thread(), r.toGo(call.Argument(0))))
	})
	set("alloc", func(call goja.FunctionCall) goja.Value {
		b, err := exec.Alloc(r.thread(), int(call.Argument(0).ToInteger()))
		check(err)
		return r.toJS(b)
	})

	set("create", func(call goja.FunctionCall) goja.Value {
		name := ""
		if a := call.Argument(0); !goja.IsUndefined(a) {
			name = a.String()
		}
		cfg, err := executor.NewConfig(name, nil)
		check(err)
		newID, err := exec.Create(cfg)
		check(err)
		return r.vm.ToValue(newID)
	})
	set("destroy", func(call goja.FunctionCall) goja.Value {
		check(exec.Destroy(r.thread(), id(call.Argument(0))))
		return goja.Undefined()
	})
	set("list", func(goja.FunctionCall) goja.Value {
		var ids []any
		for _, s := range exec.List(true) {
			ids = append(ids, s.ID)
		}
		return r.vm.NewArray(ids...)
	})

	set("exec", func(call goja.FunctionCall) goja.Value {
		shared, err := r.namespace(call.Argument(2))
		check(err)
		info, err := exec.Exec(r.thread(), id(call.Argument(0)), call.Argument(1).String(), shared)
		check(err)
		if info != nil {
			r.throw(info)
		}
		return goja.Undefined()
	})
	set("run", func(call goja.FunctionCall) goja.Value {
		v, info, err := exec.RunString(r.thread(), id(call.Argument(0)), call.Argument(1).String())
		check(err)
		if info != nil {
			r.throw(info)
		}
		return r.toJS(v)
	})
	set("call", func(call goja.FunctionCall) goja.Value {
		var callable any = r.toGo(call.Argument(1))
		if s, ok := callable.(string); ok {
			callable = executor.Code(s)
		}
		var args []any
		if len(call.Arguments) > 2 {
			args = r.args(call.Arguments[2:])
		}
		v, info, err := exec.Call(r.thread(), id(call.Argument(0)), callable, args, nil, true)
		check(err)
		if info != nil {
			r.throw(info)
		}
		return r.toJS(v)
	})

	set("raise", func(call goja.FunctionCall) goja.Value {
		r.throw(xidata.NewException(call.Argument(0).String(), "%s", r.display(call.Argument(1))))
		return nil
	})

	set("len", func(call goja.FunctionCall) goja.Value {
		p := r.proxyArg(call.Argument(0))
		n, err := p.Len(r.thread())
		check(err)
		return r.vm.ToValue(n)
	})
	set("repr", func(call goja.FunctionCall) goja.Value {
		p := r.proxyArg(call.Argument(0))
		s, err := p.Repr(r.thread())
		check(err)
		return r.vm.ToValue(s)
	})
	set("items", func(call goja.FunctionCall) goja.Value {
		th := r.thread()
		p := r.proxyArg(call.Argument(0))
		it, err := p.Iter(th)
		check(err)
		iter, ok := it.(*executor.Proxy)
		if !ok {
			r.throw(typeError("iterator is not a proxy (type %T)", it))
		}
		var items []any
		for {
			v, err := iter.Next(th)
			if err != nil {
				if isStopIteration(err) {
					break
				}
				r.throw(err)
			}
			items = append(items, r.toJS(v))
		}
		return r.vm.NewArray(items...)
	})
	return xi
}

func (r *Runtime) proxyArg(v goja.Value) *executor.Proxy {
	p, ok := r.toGo(v).(*executor.Proxy)
	if !ok {
		r.throw(typeError("expected a proxy, got %s", r.display(v)))
	}
	return p
}

// namespace converts a plain script object into shared bindings.
func (r *Runtime) namespace(v goja.Value) (map[string]any, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil, typeError("shared must be an object")
	}
	shared := make(map[string]any)
	for _, key := range obj.Keys() {
		shared[key] = r.toGo(obj.Get(key))
	}
	return shared, nil
}

func isStopIteration(err error) bool {
	var pe *executor.ProxyError
	if errors.As(err, &pe) {
		return pe.Info.Type.Name == xidata.StopIteration
	}
	return xidata.IsException(err, xidata.StopIteration)
}
