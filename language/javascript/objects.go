package javascript

import (
	"fmt"
	"strconv"

	"github.com/dop251/goja"

	"github.com/caffeineduck/xinterp/executor"
)

// proxyObject exposes an executor.Proxy to scripts. Property reads,
// writes and deletes run in the owning interpreter.
type proxyObject struct {
	r *Runtime
	p *executor.Proxy
}

func (o *proxyObject) goValue() any { return o.p }

func (o *proxyObject) Get(key string) goja.Value {
	switch key {
	case "toString":
		return o.r.vm.ToValue(func(goja.FunctionCall) goja.Value {
			s, err := o.p.Str(o.r.thread())
			if err != nil {
				o.r.throw(err)
			}
			return o.r.vm.ToValue(s)
		})
	case "valueOf", "then", "toJSON":
		return nil
	}
	v, err := o.p.GetAttr(o.r.thread(), key)
	if err != nil {
		o.r.throw(err)
	}
	return o.r.toJS(v)
}

func (o *proxyObject) Set(key string, val goja.Value) bool {
	if err := o.p.SetAttr(o.r.thread(), key, o.r.toGo(val)); err != nil {
		o.r.throw(err)
	}
	return true
}

func (o *proxyObject) Has(key string) bool {
	_, err := o.p.GetAttr(o.r.thread(), key)
	return err == nil
}

func (o *proxyObject) Delete(key string) bool {
	return o.p.DelAttr(o.r.thread(), key) == nil
}

func (o *proxyObject) Keys() []string { return nil }

// viewObject exposes a MemoryView. Indexing reads and writes single bytes;
// buffer is an ArrayBuffer aliasing the view's memory.
type viewObject struct {
	r  *Runtime
	mv *executor.MemoryView
}

func (o *viewObject) goValue() any { return o.mv }

var viewKeys = []string{"length", "readonly", "released", "buffer"}

func (o *viewObject) Get(key string) goja.Value {
	switch key {
	case "length":
		return o.r.vm.ToValue(o.mv.Len())
	case "readonly":
		return o.r.vm.ToValue(o.mv.ReadOnly())
	case "released":
		return o.r.vm.ToValue(o.mv.Released())
	case "buffer":
		if o.mv.Released() {
			return nil
		}
		return o.r.vm.ToValue(o.r.vm.NewArrayBuffer(o.mv.Bytes()))
	case "release":
		return o.r.vm.ToValue(func(goja.FunctionCall) goja.Value {
			if err := o.mv.Release(o.r.thread()); err != nil {
				o.r.throw(err)
			}
			return goja.Undefined()
		})
	case "toString":
		return o.r.vm.ToValue(func(goja.FunctionCall) goja.Value {
			return o.r.vm.ToValue(fmt.Sprintf("<memoryview of %d bytes>", o.mv.Len()))
		})
	}
	return byteAt(o.r, o.mv.Bytes(), key)
}

func (o *viewObject) Set(key string, val goja.Value) bool {
	if o.mv.ReadOnly() {
		return false
	}
	return setByte(o.mv.Bytes(), key, val)
}

func (o *viewObject) Has(key string) bool {
	return hasKey(viewKeys, key, len(o.mv.Bytes()))
}

func (o *viewObject) Delete(string) bool { return false }
func (o *viewObject) Keys() []string     { return viewKeys }

// blockObject exposes a HeapBlock of the interpreter's own heap.
type blockObject struct {
	r *Runtime
	b *executor.HeapBlock
}

func (o *blockObject) goValue() any { return o.b }

var blockKeys = []string{"offset", "length", "buffer"}

func (o *blockObject) Get(key string) goja.Value {
	switch key {
	case "offset":
		return o.r.vm.ToValue(int64(o.b.Offset()))
	case "length":
		return o.r.vm.ToValue(len(o.b.Bytes()))
	case "buffer":
		if o.b.Bytes() == nil {
			return nil
		}
		return o.r.vm.ToValue(o.r.vm.NewArrayBuffer(o.b.Bytes()))
	case "free":
		return o.r.vm.ToValue(func(goja.FunctionCall) goja.Value {
			if err := o.b.Free(); err != nil {
				o.r.throw(err)
			}
			return goja.Undefined()
		})
	case "toString":
		return o.r.vm.ToValue(func(goja.FunctionCall) goja.Value {
			return o.r.vm.ToValue(fmt.Sprintf("<heap block at %d>", o.b.Offset()))
		})
	}
	return byteAt(o.r, o.b.Bytes(), key)
}

func (o *blockObject) Set(key string, val goja.Value) bool {
	return setByte(o.b.Bytes(), key, val)
}

func (o *blockObject) Has(key string) bool {
	return hasKey(blockKeys, key, len(o.b.Bytes()))
}

func (o *blockObject) Delete(string) bool { return false }
func (o *blockObject) Keys() []string     { return blockKeys }

func index(key string, n int) (int, bool) {
	i, err := strconv.Atoi(key)
	if err != nil || i < 0 || i >= n {
		return 0, false
	}
	return i, true
}

func byteAt(r *Runtime, b []byte, key string) goja.Value {
	i, ok := index(key, len(b))
	if !ok {
		return nil
	}
	return r.vm.ToValue(int64(b[i]))
}

func setByte(b []byte, key string, val goja.Value) bool {
	i, ok := index(key, len(b))
	if !ok {
		return false
	}
	n := val.ToInteger()
	if n < 0 || n > 255 {
		return false
	}
	b[i] = byte(n)
	return true
}

func hasKey(keys []string, key string, n int) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	_, ok := index(key, n)
	return ok
}

var (
	_ goja.DynamicObject = (*proxyObject)(nil)
	_ goja.DynamicObject = (*viewObject)(nil)
	_ goja.DynamicObject = (*blockObject)(nil)
)
