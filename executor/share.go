package executor

import (
	"fmt"
	"reflect"

	"github.com/caffeineduck/xinterp/hostfunc"
	"github.com/caffeineduck/xinterp/xidata"
)

// registerConverters installs the executor's kinds into the registry and
// makes proxies the fallback for everything else.
func (e *Executor) registerConverters() error {
	for kind, fn := range map[reflect.Type]xidata.ShareFunc{
		reflect.TypeOf((*MemoryView)(nil)): shareExporter,
		reflect.TypeOf((*HeapBlock)(nil)):  shareExporter,
		reflect.TypeOf((*Proxy)(nil)):      shareProxy,
		reflect.TypeOf(hostfunc.Func(nil)): shareFunc,
		reflect.TypeOf(Code("")):           shareCode,
	} {
		if err := e.registry.Register(kind, fn); err != nil {
			return fmt.Errorf("register %v: %w", kind, err)
		}
	}
	e.registry.SetFallback(shareByProxy)
	return nil
}

// RegisterExporter makes values of kind shareable as raw buffers. kind must
// implement Exporter; other interpreters receive a *MemoryView over the
// exported memory and the release runs back in the exporting interpreter.
func (e *Executor) RegisterExporter(kind reflect.Type) error {
	if !kind.Implements(reflect.TypeOf((*Exporter)(nil)).Elem()) {
		return fmt.Errorf("%v does not implement Exporter", kind)
	}
	return e.registry.Register(kind, shareExporter)
}

// shareByProxy wraps v in a proxy owned by the thread's current interpreter.
func shareByProxy(xth xidata.Thread, v any, d *xidata.Data) error {
	th, err := asThread(xth)
	if err != nil {
		return err
	}
	p := NewProxy(v, th.Current())
	d.Init(th, p, v, newProxyObject)
	return nil
}

func shareProxy(th xidata.Thread, v any, d *xidata.Data) error {
	p := v.(*Proxy)
	if _, err := p.target(); err != nil {
		return err
	}
	d.Init(th, p, nil, newProxyObject)
	return nil
}

// newProxyObject yields the wrapped value when reconstructed in the owner
// and a proxy everywhere else.
func newProxyObject(xth xidata.Thread, d *xidata.Data) (any, error) {
	th, err := asThread(xth)
	if err != nil {
		return nil, err
	}
	p := d.Payload().(*Proxy)
	if th.Current() == p.owner {
		return p.target()
	}
	return p.clone(), nil
}

// Host functions are stateless Go code and cross by reference.
func shareFunc(th xidata.Thread, v any, d *xidata.Data) error {
	d.Init(th, v, nil, func(_ xidata.Thread, d *xidata.Data) (any, error) {
		return d.Payload(), nil
	})
	return nil
}

func shareCode(th xidata.Thread, v any, d *xidata.Data) error {
	d.Init(th, string(v.(Code)), nil, func(_ xidata.Thread, d *xidata.Data) (any, error) {
		return Code(d.Payload().(string)), nil
	})
	return nil
}
