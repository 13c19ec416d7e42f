package javascript

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/dop251/goja"

	"github.com/caffeineduck/xinterp/executor"
	"github.com/caffeineduck/xinterp/xidata"
)

// Number operators follow the script's semantics except floordiv and mod,
// which floor like the rest of the executor's arithmetic.
const opSource = `({
	add: (a, b) => a + b,
	sub: (a, b) => a - b,
	mul: (a, b) => a * b,
	truediv: (a, b) => a / b,
	floordiv: (a, b) => Math.floor(a / b),
	mod: (a, b) => ((a % b) + b) % b,
	pow: (a, b) => Math.pow(a, b),
	lshift: (a, b) => a << b,
	rshift: (a, b) => a >> b,
	and: (a, b) => a & b,
	or: (a, b) => a | b,
	xor: (a, b) => a ^ b,
	neg: (a) => -a,
	pos: (a) => +a,
	invert: (a) => ~a,
	abs: (a) => Math.abs(a),
	eq: (a, b) => a === b,
	lt: (a, b) => a < b,
})`

func (r *Runtime) compileOps() error {
	v, err := r.vm.RunString(opSource)
	if err != nil {
		return err
	}
	table := v.ToObject(r.vm)
	r.ops = make(map[executor.Op]goja.Callable)
	ops := []executor.Op{executor.OpEq, executor.OpLt}
	for op := executor.OpAdd; op <= executor.OpAbs; op++ {
		ops = append(ops, op)
	}
	for _, op := range ops {
		fn, ok := goja.AssertFunction(table.Get(op.String()))
		if !ok {
			return fmt.Errorf("no script operator for %s", op)
		}
		r.ops[op] = fn
	}
	return nil
}

// Invoke applies op to a JavaScript object owned by this runtime.
func (r *Runtime) Invoke(th *executor.Thread, op executor.Op, target any, args []any, kwargs map[string]any) (any, error) {
	o, ok := target.(*Object)
	if !ok || o.rt != r {
		return nil, fmt.Errorf("javascript: %T is not owned by interpreter %d", target, r.interp.ID())
	}
	if r.closed {
		return nil, errClosed
	}
	defer r.enter(th)()

	var v any
	var err error
	if ex := r.vm.Try(func() { v, err = r.invoke(op, o.obj, args, kwargs) }); ex != nil {
		err = ex
	}
	if err != nil {
		return nil, r.toError(err)
	}
	return v, nil
}

func (r *Runtime) invoke(op executor.Op, obj *goja.Object, args []any, kwargs map[string]any) (any, error) {
	switch op {
	case executor.OpCall:
		fn, ok := goja.AssertFunction(obj)
		if !ok {
			return nil, typeError("'%s' object is not callable", obj.ClassName())
		}
		jsArgs := r.jsArgs(args)
		if len(kwargs) > 0 {
			jsArgs = append(jsArgs, r.kwargsObject(kwargs))
		}
		return r.call(fn, goja.Undefined(), jsArgs...)

	case executor.OpGetAttr:
		name, err := attrName(args[0])
		if err != nil {
			return nil, err
		}
		v := obj.Get(name)
		if v == nil {
			return nil, attributeError(obj, name)
		}
		if fn, ok := v.(*goja.Object); ok {
			if _, ok := goja.AssertFunction(fn); ok {
				return r.bind(fn, obj)
			}
		}
		return r.toGo(v), nil

	case executor.OpSetAttr:
		name, err := attrName(args[0])
		if err != nil {
			return nil, err
		}
		return nil, obj.Set(name, r.toJS(args[1]))

	case executor.OpDelAttr:
		name, err := attrName(args[0])
		if err != nil {
			return nil, err
		}
		if obj.Get(name) == nil {
			return nil, attributeError(obj, name)
		}
		return nil, obj.Delete(name)

	case executor.OpRepr:
		return r.repr(obj), nil

	case executor.OpStr:
		return r.display(obj), nil

	case executor.OpHash:
		return nil, typeError("unhashable type: '%s'", obj.ClassName())

	case executor.OpBool:
		return true, nil

	case executor.OpLen:
		for _, key := range []string{"length", "size"} {
			if v := obj.Get(key); v != nil {
				if n, ok := v.Export().(int64); ok {
					return n, nil
				}
			}
		}
		return nil, typeError("object of type '%s' has no len()", obj.ClassName())

	case executor.OpGetItem:
		key, err := r.itemKey(obj, args[0])
		if err != nil {
			return nil, err
		}
		v := obj.Get(key)
		if v == nil {
			return nil, xidata.NewException(xidata.KeyError, "%v", args[0])
		}
		return r.toGo(v), nil

	case executor.OpSetItem:
		key, err := r.itemKey(obj, args[0])
		if err != nil {
			return nil, err
		}
		return nil, obj.Set(key, r.toJS(args[1]))

	case executor.OpDelItem:
		key, err := r.itemKey(obj, args[0])
		if err != nil {
			return nil, err
		}
		if obj.Get(key) == nil {
			return nil, xidata.NewException(xidata.KeyError, "%v", args[0])
		}
		return nil, obj.Delete(key)

	case executor.OpContains:
		if includes, ok := goja.AssertFunction(obj.Get("includes")); ok {
			v, err := includes(obj, r.toJS(args[0]))
			if err != nil {
				return nil, err
			}
			return v.ToBoolean(), nil
		}
		key, ok := args[0].(string)
		return ok && obj.Get(key) != nil, nil

	case executor.OpIter:
		fn, ok := goja.AssertFunction(obj.GetSymbol(goja.SymIterator))
		if !ok {
			return nil, typeError("'%s' object is not iterable", obj.ClassName())
		}
		return r.call(fn, obj)

	case executor.OpNext:
		next, ok := goja.AssertFunction(obj.Get("next"))
		if !ok {
			return nil, typeError("'%s' object is not an iterator", obj.ClassName())
		}
		res, err := next(obj)
		if err != nil {
			return nil, err
		}
		step := res.ToObject(r.vm)
		if done := step.Get("done"); done != nil && done.ToBoolean() {
			return nil, xidata.NewException(xidata.StopIteration, "")
		}
		return r.toGo(step.Get("value")), nil

	case executor.OpAwait:
		p, ok := obj.Export().(*goja.Promise)
		if !ok {
			return nil, typeError("object %s can't be used in 'await' expression", obj.ClassName())
		}
		switch p.State() {
		case goja.PromiseStateFulfilled:
			return r.toGo(p.Result()), nil
		case goja.PromiseStateRejected:
			return nil, r.valueError(p.Result(), "")
		}
		return nil, xidata.NewException(xidata.RuntimeError, "promise is still pending")
	}

	if fn, ok := r.ops[op]; ok {
		return r.call(fn, goja.Undefined(), append([]goja.Value{obj}, r.jsArgs(args)...)...)
	}
	return nil, fmt.Errorf("javascript: unsupported operation %s", op)
}

func (r *Runtime) call(fn goja.Callable, this goja.Value, args ...goja.Value) (any, error) {
	v, err := fn(this, args...)
	if err != nil {
		return nil, err
	}
	return r.toGo(v), nil
}

// bind returns fn bound to obj so a later call sees it as this.
func (r *Runtime) bind(fn, obj *goja.Object) (any, error) {
	bindFn, ok := goja.AssertFunction(fn.Get("bind"))
	if !ok {
		return &Object{rt: r, obj: fn}, nil
	}
	return r.call(bindFn, fn, obj)
}

func (r *Runtime) kwargsObject(kwargs map[string]any) *goja.Object {
	obj := r.vm.NewObject()
	names := make([]string, 0, len(kwargs))
	for name := range kwargs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		_ = obj.Set(name, r.toJS(kwargs[name]))
	}
	return obj
}

// itemKey turns a subscript into a property key. Arrays take integer
// indices, negative ones counting from the end.
func (r *Runtime) itemKey(obj *goja.Object, key any) (string, error) {
	if obj.ClassName() == "Array" {
		i, ok := intKey(key)
		if !ok {
			return "", typeError("list indices must be integers, not %T", key)
		}
		n := obj.Get("length").ToInteger()
		if i < 0 {
			i += n
		}
		if i < 0 || i >= n {
			return "", xidata.NewException(xidata.IndexError, "list index out of range")
		}
		return strconv.FormatInt(i, 10), nil
	}
	switch k := key.(type) {
	case string:
		return k, nil
	case float64:
		if k == math.Trunc(k) {
			return strconv.FormatInt(int64(k), 10), nil
		}
		return strconv.FormatFloat(k, 'g', -1, 64), nil
	}
	if i, ok := intKey(key); ok {
		return strconv.FormatInt(i, 10), nil
	}
	return "", typeError("unsupported key type %T", key)
}

func intKey(key any) (int64, bool) {
	switch k := key.(type) {
	case int:
		return int64(k), true
	case int64:
		return k, true
	case int32:
		return int64(k), true
	case float64:
		if k == math.Trunc(k) {
			return int64(k), true
		}
	}
	return 0, false
}

// repr renders obj as JSON where it can and falls back to its class.
func (r *Runtime) repr(obj *goja.Object) string {
	if _, ok := goja.AssertFunction(obj); ok {
		return fmt.Sprintf("<function %s>", obj.Get("name"))
	}
	if b, err := obj.MarshalJSON(); err == nil && string(b) != "null" {
		return string(b)
	}
	return fmt.Sprintf("<%s object>", obj.ClassName())
}

func attrName(v any) (string, error) {
	name, ok := v.(string)
	if !ok {
		return "", typeError("attribute name must be string, not %T", v)
	}
	return name, nil
}

func attributeError(obj *goja.Object, name string) error {
	return xidata.NewException(xidata.AttributeError, "'%s' object has no attribute '%s'", obj.ClassName(), name)
}

func typeError(format string, args ...any) error {
	return xidata.NewException(xidata.TypeError, format, args...)
}
