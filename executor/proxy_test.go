package executor

import (
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/caffeineduck/xinterp/xidata"
)

func TestProxyAttributeMiss(t *testing.T) {
	exec := newTestExecutor(t)
	a := createInterp(t, exec, "isolated")
	b := createInterp(t, exec, "isolated")
	thA := threadIn(t, exec, a)
	thB := threadIn(t, exec, b)

	obj, err := a.Runtime().Eval(thA, "object")
	if err != nil {
		t.Fatalf("eval failed: %v", err)
	}
	p, ok := exec.Share(thA, obj).(*Proxy)
	if !ok {
		t.Fatal("share should wrap a runtime object in a proxy")
	}

	if err := p.SetAttr(thB, "present", int64(1)); err != nil {
		t.Fatalf("setattr failed: %v", err)
	}
	if v, err := p.GetAttr(thB, "present"); err != nil || v != int64(1) {
		t.Errorf("getattr = %v, %v", v, err)
	}

	_, err = p.GetAttr(thB, "missing")
	var pe *ProxyError
	if !errors.As(err, &pe) {
		t.Fatalf("error = %v (%T), want *ProxyError", err, err)
	}
	if pe.InterpID != a.ID() || pe.Op != OpGetAttr {
		t.Errorf("proxy error from %d during %v", pe.InterpID, pe.Op)
	}
	if pe.Info.Type.Name != xidata.AttributeError {
		t.Errorf("wrapped type = %q, want AttributeError", pe.Info.Type.Name)
	}
	if !xidata.IsException(err, xidata.RuntimeError) {
		t.Error("proxy error should present as RuntimeError")
	}
	var info *xidata.FailureInfo
	if !errors.As(err, &info) || info.Msg == "" {
		t.Error("failure info should be reachable through the proxy error")
	}
	if thB.Current() != b || thB.Depth() != 0 {
		t.Errorf("thread left in %d at depth %d", thB.InterpreterID(), thB.Depth())
	}
}

func TestProxyRepeatTooLong(t *testing.T) {
	exec := newTestExecutor(t)
	th := exec.MainThread()
	a := createInterp(t, exec, "isolated")
	p := NewProxy(xidata.Tuple{int64(1)}, a)

	_, err := p.Binary(th, OpMul, int64(1)<<62)
	var pe *ProxyError
	if !errors.As(err, &pe) {
		t.Fatalf("error = %v (%T), want *ProxyError", err, err)
	}
	if pe.Info.Type.Name != xidata.OverflowError {
		t.Errorf("wrapped type = %q, want OverflowError", pe.Info.Type.Name)
	}
	if th.Current() != exec.Main() || th.Depth() != 0 {
		t.Errorf("thread left in %d at depth %d", th.InterpreterID(), th.Depth())
	}

	v, err := p.Binary(th, OpMul, int64(2))
	if err != nil {
		t.Fatalf("repeat after failure: %v", err)
	}
	if !reflect.DeepEqual(v, xidata.Tuple{int64(1), int64(1)}) {
		t.Errorf("repeat = %#v", v)
	}
	if err := exec.Destroy(th, a.ID()); err != nil {
		t.Errorf("destroy after failed repeat: %v", err)
	}
}

func TestProxyAttributeMissOnGoValue(t *testing.T) {
	exec := newTestExecutor(t)
	a := createInterp(t, exec, "isolated")
	thA := threadIn(t, exec, a)

	p := exec.Share(thA, map[string]any{"x": "y"}).(*Proxy)
	_, err := p.GetAttr(exec.MainThread(), "nope")
	var pe *ProxyError
	if !errors.As(err, &pe) || pe.Info.Type.Name != xidata.AttributeError {
		t.Errorf("error = %v, want wrapped AttributeError", err)
	}
}

func TestProxySameInterpreterNative(t *testing.T) {
	exec := newTestExecutor(t)
	a := createInterp(t, exec, "isolated")
	thA := threadIn(t, exec, a)

	p := NewProxy(map[string]any{}, a)
	_, err := p.GetAttr(thA, "missing")
	var pe *ProxyError
	if errors.As(err, &pe) {
		t.Fatal("same-interpreter error should not be wrapped")
	}
	if !xidata.IsException(err, xidata.AttributeError) {
		t.Errorf("error = %v, want AttributeError", err)
	}
}

func TestProxyFallbackTotality(t *testing.T) {
	exec := newTestExecutor(t)
	th := exec.MainThread()
	reg := exec.Registry()

	type local struct{ n int }
	values := []any{
		local{1},
		&local{2},
		[]any{1},
		map[string]any{},
		make(chan int),
		func() {},
		[]int{1, 2},
		struct{}{},
		errors.New("e"),
	}
	for _, v := range values {
		d, err := reg.Convert(th, v, xidata.FullFallback)
		if err != nil {
			t.Errorf("full-fallback convert of %T failed: %v", v, err)
			continue
		}
		got, err := d.NewObject(th)
		if err != nil {
			t.Errorf("reconstruct of %T failed: %v", v, err)
		}
		if reflect.TypeOf(got) != reflect.TypeOf(v) {
			t.Errorf("reconstruct in owner gave %T, want %T", got, v)
		}
		d.Release(th)

		if _, err := reg.Convert(th, v, xidata.NoFallback); !errors.Is(err, xidata.ErrNotShareable) {
			t.Errorf("no-fallback convert of %T = %v, want ErrNotShareable", v, err)
		}
	}
}

func TestProxyUnwrapsInOwner(t *testing.T) {
	exec := newTestExecutor(t)
	a := createInterp(t, exec, "isolated")
	b := createInterp(t, exec, "isolated")
	thA := threadIn(t, exec, a)
	thB := threadIn(t, exec, b)

	m := map[string]any{"k": "v"}
	p := exec.Share(thA, m).(*Proxy)

	d, err := exec.Registry().Convert(thB, p, xidata.NoFallback)
	if err != nil {
		t.Fatalf("proxy should be natively shareable: %v", err)
	}
	defer d.Release(thB)

	inB, _ := d.NewObject(thB)
	if _, ok := inB.(*Proxy); !ok {
		t.Errorf("reconstructed in B as %T, want *Proxy", inB)
	}
	inA, _ := d.NewObject(thA)
	if reflect.ValueOf(inA).Pointer() != reflect.ValueOf(m).Pointer() {
		t.Error("reconstructed in the owner should yield the wrapped map")
	}
}

func TestProxyCallbackIntoCaller(t *testing.T) {
	exec := newTestExecutor(t)
	a := createInterp(t, exec, "isolated")
	b := createInterp(t, exec, "isolated")
	thB := threadIn(t, exec, b)

	if info, err := exec.Exec(exec.MainThread(), a.ID(), "f = lambda: args", nil); err != nil || info != nil {
		t.Fatalf("exec failed: %v %v", err, info)
	}
	raw, _ := a.Runtime().Get("f")
	fn := raw.(*mockFunc)
	p := NewProxy(fn, a)
	if !p.Callable() {
		t.Fatal("proxy of a function should be callable")
	}

	local := map[string]any{"owner": "b"}
	res, err := p.Call(thB, []any{local, "plain"}, nil)
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}
	if fn.calledIn != a.ID() {
		t.Errorf("function ran in %d, want %d", fn.calledIn, a.ID())
	}
	tup, ok := res.(xidata.Tuple)
	if !ok || len(tup) != 2 {
		t.Fatalf("result = %#v", res)
	}
	if reflect.ValueOf(tup[0]).Pointer() != reflect.ValueOf(local).Pointer() {
		t.Errorf("argument proxy did not unwrap back in its owner: %T", tup[0])
	}
	if tup[1] != "plain" {
		t.Errorf("second argument = %v", tup[1])
	}
}

func TestProxyCallRaises(t *testing.T) {
	exec := newTestExecutor(t)
	th := exec.MainThread()
	a := createInterp(t, exec, "isolated")

	exec.Exec(th, a.ID(), "f = lambda: raise ValueError: boom", nil)
	raw, _ := a.Runtime().Get("f")
	p := NewProxy(raw, a)

	_, err := p.Call(th, nil, nil)
	var pe *ProxyError
	if !errors.As(err, &pe) {
		t.Fatalf("error = %v, want *ProxyError", err)
	}
	if pe.Info.Type.Name != xidata.ValueError || pe.Info.Msg != "boom" {
		t.Errorf("wrapped failure %+v", pe.Info)
	}
	if th.Current() != exec.Main() || a.IsRunning() {
		t.Error("failed call left the thread switched")
	}
}

func TestProxyClosed(t *testing.T) {
	exec := newTestExecutor(t)
	th := exec.MainThread()
	p := NewProxy([]any{1}, exec.Main())
	p.Close()

	if _, err := p.Len(th); !errors.Is(err, ErrProxyClosed) {
		t.Errorf("error = %v, want ErrProxyClosed", err)
	}
	if _, err := exec.Registry().Convert(th, p, xidata.NoFallback); err == nil {
		t.Error("closed proxy should not be shareable")
	}
}

func TestProxyArity(t *testing.T) {
	exec := newTestExecutor(t)
	a := createInterp(t, exec, "isolated")
	p := NewProxy(map[string]any{}, a)

	_, err := p.Do(exec.MainThread(), OpGetAttr)
	if !xidata.IsException(err, xidata.TypeError) {
		t.Errorf("error = %v, want TypeError", err)
	}
	if _, err := p.Binary(exec.MainThread(), OpLen, 1); err == nil {
		t.Error("expected error for a non-binary op")
	}
}

func TestProxyOperations(t *testing.T) {
	exec := newTestExecutor(t)
	th := exec.MainThread()
	a := createInterp(t, exec, "isolated")

	list := NewProxy([]any{int64(1), "two", int64(3)}, a)

	if n, err := list.Len(th); err != nil || n != 3 {
		t.Errorf("len = %d, %v", n, err)
	}
	if v, err := list.GetItem(th, -1); err != nil || v != int64(3) {
		t.Errorf("getitem(-1) = %v, %v", v, err)
	}
	if err := list.SetItem(th, 0, int64(10)); err != nil {
		t.Errorf("setitem failed: %v", err)
	}
	if ok, err := list.Contains(th, int64(10)); err != nil || !ok {
		t.Errorf("contains = %v, %v", ok, err)
	}
	if ok, err := list.Bool(th); err != nil || !ok {
		t.Errorf("bool = %v, %v", ok, err)
	}
	if s, err := list.Repr(th); err != nil || s != `[10, "two", 3]` {
		t.Errorf("repr = %q, %v", s, err)
	}
	if _, err := list.Hash(th); err == nil {
		t.Error("list should be unhashable")
	}

	it, err := list.Iter(th)
	if err != nil {
		t.Fatalf("iter failed: %v", err)
	}
	iter, ok := it.(*Proxy)
	if !ok {
		t.Fatalf("iterator = %T, want *Proxy", it)
	}
	var items []any
	for {
		v, err := iter.Next(th)
		if err != nil {
			var pe *ProxyError
			if !errors.As(err, &pe) || pe.Info.Type.Name != xidata.StopIteration {
				t.Fatalf("next error = %v, want StopIteration", err)
			}
			break
		}
		items = append(items, v)
	}
	if len(items) != 3 {
		t.Errorf("iterated %v", items)
	}

	num := NewProxy(int64(-7), a)
	if v, err := num.Binary(th, OpFloorDiv, int64(2)); err != nil || v != int64(-4) {
		t.Errorf("-7 // 2 = %v, %v", v, err)
	}
	if v, err := num.Unary(th, OpAbs); err != nil || v != int64(7) {
		t.Errorf("abs(-7) = %v, %v", v, err)
	}
	if ok, err := num.Lt(th, int64(0)); err != nil || !ok {
		t.Errorf("-7 < 0 = %v, %v", ok, err)
	}
	if ok, err := num.Eq(th, -7.0); err != nil || !ok {
		t.Errorf("-7 == -7.0 = %v, %v", ok, err)
	}
	if _, err := num.Binary(th, OpTrueDiv, 0); err == nil {
		t.Error("expected ZeroDivisionError")
	}
}

func TestProxyConcurrentCallers(t *testing.T) {
	exec := newTestExecutor(t)
	a := createInterp(t, exec, "isolated")
	p := NewProxy(map[string]any{"a": 1, "b": 2}, a)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			th := exec.MainThread()
			for j := 0; j < 20; j++ {
				n, err := p.Len(th)
				if err != nil {
					errs <- err
					return
				}
				if n != 2 {
					errs <- errors.New("wrong length")
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	if a.IsRunning() {
		t.Error("interpreter still running after all callers returned")
	}
}
