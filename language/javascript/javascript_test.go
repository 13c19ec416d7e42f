package javascript

import (
	"bytes"
	"errors"
	"math"
	"reflect"
	"strings"
	"testing"

	"github.com/caffeineduck/xinterp/executor"
	"github.com/caffeineduck/xinterp/hostfunc"
	"github.com/caffeineduck/xinterp/internal/logging"
	"github.com/caffeineduck/xinterp/xidata"
)

func newTestExecutor(t *testing.T, opts ...executor.ExecutorOption) (*executor.Executor, *bytes.Buffer) {
	t.Helper()
	registry := hostfunc.NewRegistry()
	hostfunc.RegisterBuiltins(registry)
	var out bytes.Buffer
	opts = append([]executor.ExecutorOption{
		executor.WithLanguage(New()),
		executor.WithLogger(logging.Discard()),
		executor.WithOutput(&out),
	}, opts...)
	exec, err := executor.New(registry, opts...)
	if err != nil {
		t.Fatalf("failed to create executor: %v", err)
	}
	t.Cleanup(func() { exec.Close() })
	return exec, &out
}

func createInterp(t *testing.T, exec *executor.Executor) int64 {
	t.Helper()
	id, err := exec.Create(executor.DefaultConfig())
	if err != nil {
		t.Fatalf("failed to create interpreter: %v", err)
	}
	return id
}

func mustExec(t *testing.T, exec *executor.Executor, id int64, code string, shared map[string]any) {
	t.Helper()
	info, err := exec.Exec(exec.MainThread(), id, code, shared)
	if err != nil {
		t.Fatalf("exec failed: %v", err)
	}
	if info != nil {
		t.Fatalf("script raised: %s", info.Formatted)
	}
}

func mustRun(t *testing.T, exec *executor.Executor, id int64, code string) any {
	t.Helper()
	v, info, err := exec.RunString(exec.MainThread(), id, code)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if info != nil {
		t.Fatalf("script raised: %s", info.Formatted)
	}
	return v
}

// number reads back a script number whether goja exported it as an
// integer or a float.
func number(v any) float64 {
	switch n := v.(type) {
	case int64:
		return float64(n)
	case float64:
		return n
	}
	return math.NaN()
}

func TestJavaScriptLenHello(t *testing.T) {
	exec, _ := newTestExecutor(t)
	id := createInterp(t, exec)

	if v := mustRun(t, exec, id, `len("hello")`); v != int64(5) {
		t.Errorf("len from script = %#v, want 5", v)
	}

	fn, _ := exec.Funcs().Get("len")
	v, info, err := exec.Call(exec.MainThread(), id, fn, []any{"hello"}, nil, true)
	if err != nil || info != nil {
		t.Fatalf("call failed: %v %v", err, info)
	}
	if v != 5 {
		t.Errorf("call len = %#v, want 5", v)
	}
}

func TestJavaScriptCapturesException(t *testing.T) {
	exec, _ := newTestExecutor(t)
	th := exec.MainThread()
	id := createInterp(t, exec)

	info, err := exec.Exec(th, id, `xi.raise("ValueError", "boom")`, nil)
	if err != nil {
		t.Fatalf("exec failed: %v", err)
	}
	if info == nil || info.Type.Name != xidata.ValueError {
		t.Fatalf("failure = %+v, want ValueError", info)
	}
	if !strings.Contains(info.Formatted, "boom") {
		t.Errorf("formatted %q does not mention boom", info.Formatted)
	}

	info, _ = exec.Exec(th, id, `throw new TypeError("bad input")`, nil)
	if info == nil || info.Type.Name != "TypeError" || info.Msg != "bad input" {
		t.Fatalf("failure = %+v", info)
	}
	if !strings.Contains(info.Formatted, "bad input") {
		t.Errorf("formatted %q lacks the message", info.Formatted)
	}

	info, _ = exec.Exec(th, id, `throw "plain"`, nil)
	if info == nil || info.Msg != "plain" {
		t.Errorf("thrown string gave %+v", info)
	}

	info, _ = exec.Exec(th, id, `let = ;`, nil)
	if info == nil || info.Type.Name != "SyntaxError" {
		t.Errorf("syntax error gave %+v", info)
	}

	if th.Current() != exec.Main() || th.Depth() != 0 {
		t.Error("failed exec left the thread switched")
	}
}

func TestJavaScriptPrint(t *testing.T) {
	exec, out := newTestExecutor(t)
	id := createInterp(t, exec)

	mustExec(t, exec, id, `print("hello", 1 + 2); console.log("again")`, nil)
	if got := out.String(); got != "hello 3\nagain\n" {
		t.Errorf("output = %q", got)
	}
}

func TestJavaScriptSharedBindings(t *testing.T) {
	exec, _ := newTestExecutor(t)
	id := createInterp(t, exec)

	mustExec(t, exec, id, `out = greeting + n; raw = new Uint8Array(data)[1]`, map[string]any{
		"greeting": "hi ",
		"n":        int64(2),
		"data":     []byte{4, 5, 6},
		"pair":     xidata.Tuple{"a", int64(1)},
	})
	if v := mustRun(t, exec, id, "out"); v != "hi 2" {
		t.Errorf("out = %#v", v)
	}
	if v := mustRun(t, exec, id, "raw"); v != int64(5) {
		t.Errorf("raw = %#v", v)
	}
	if v := mustRun(t, exec, id, "pair[0] + pair[1]"); v != "a1" {
		t.Errorf("tuple = %#v", v)
	}

	_, err := exec.Exec(exec.MainThread(), id, "x = 1", map[string]any{"bad": []any{1}})
	if !errors.Is(err, xidata.ErrNotShareable) {
		t.Errorf("error = %v, want ErrNotShareable", err)
	}
}

func TestJavaScriptConversions(t *testing.T) {
	exec, _ := newTestExecutor(t)
	id := createInterp(t, exec)

	tests := []struct {
		code string
		want any
	}{
		{"null", nil},
		{"undefined", nil},
		{"1.5", 1.5},
		{"40 + 2", int64(42)},
		{`"s" + "t"`, "st"},
		{"true", true},
		{"new Uint8Array([1, 2]).buffer", []byte{1, 2}},
	}
	for _, tt := range tests {
		if got := mustRun(t, exec, id, tt.code); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("%s = %#v, want %#v", tt.code, got, tt.want)
		}
	}

	if _, ok := mustRun(t, exec, id, "({a: 1})").(*executor.Proxy); !ok {
		t.Error("object should come back as a proxy")
	}
}

func TestJavaScriptBytesAcrossInterpreters(t *testing.T) {
	reg := xidata.NewRegistry()
	funcs := hostfunc.NewRegistry()
	hostfunc.NewKV(reg, hostfunc.DefaultKVConfig()).Register(funcs)
	exec, err := executor.New(funcs,
		executor.WithLanguage(New()),
		executor.WithRegistry(reg),
		executor.WithLogger(logging.Discard()),
	)
	if err != nil {
		t.Fatalf("failed to create executor: %v", err)
	}
	defer exec.Close()
	a := createInterp(t, exec)
	b := createInterp(t, exec)

	mustExec(t, exec, a, `kv_set("blob", new Uint8Array([7, 8, 9]).buffer)`, nil)
	if got := number(mustRun(t, exec, b, `new Uint8Array(kv_get("blob"))[1]`)); got != 8 {
		t.Errorf("byte read back in another interpreter = %v, want 8", got)
	}

	fn := executor.Code("() => new Uint8Array([3, 4]).buffer")
	v, info, err := exec.Call(exec.MainThread(), a, fn, nil, nil, true)
	if err != nil || info != nil {
		t.Fatalf("call failed: %v %v", err, info)
	}
	if !reflect.DeepEqual(v, []byte{3, 4}) {
		t.Errorf("call result = %#v, want []byte{3, 4}", v)
	}
}

func TestJavaScriptFunctionProxy(t *testing.T) {
	exec, _ := newTestExecutor(t)
	th := exec.MainThread()
	a := createInterp(t, exec)
	b := createInterp(t, exec)

	mustExec(t, exec, a, `function add(x, y) { return x + y }`, nil)
	p, ok := mustRun(t, exec, a, "add").(*executor.Proxy)
	if !ok || !p.Callable() {
		t.Fatalf("function should come back as a callable proxy")
	}

	v, err := p.Call(th, []any{int64(2), int64(3)}, nil)
	if err != nil || v != int64(5) {
		t.Errorf("add(2, 3) = %v, %v", v, err)
	}

	mustExec(t, exec, b, `sum = add(4, 5)`, map[string]any{"add": p})
	if v := mustRun(t, exec, b, "sum"); v != int64(9) {
		t.Errorf("sum in b = %#v", v)
	}

	v, info, err := exec.Call(th, a, executor.Code("(s, opts) => s.repeat(opts.times)"), []any{"ab"}, map[string]any{"times": int64(2)}, true)
	if err != nil || info != nil || v != "abab" {
		t.Errorf("code call = %v, %v, %v", v, info, err)
	}
}

func TestJavaScriptProxyAttributeMiss(t *testing.T) {
	exec, _ := newTestExecutor(t)
	th := exec.MainThread()
	a := createInterp(t, exec)
	b := createInterp(t, exec)

	mustExec(t, exec, a, `obj = {x: 1}`, nil)
	p, ok := mustRun(t, exec, a, "obj").(*executor.Proxy)
	if !ok {
		t.Fatal("object should come back as a proxy")
	}

	if v, err := p.GetAttr(th, "x"); err != nil || v != int64(1) {
		t.Errorf("getattr x = %v, %v", v, err)
	}
	_, err := p.GetAttr(th, "missing")
	var pe *executor.ProxyError
	if !errors.As(err, &pe) {
		t.Fatalf("error = %v, want *ProxyError", err)
	}
	if pe.InterpID != a || pe.Info.Type.Name != xidata.AttributeError {
		t.Errorf("proxy error from %d wrapping %s", pe.InterpID, pe.Info.Type.Name)
	}

	mustExec(t, exec, b, `
		seen = o.x;
		try { o.missing } catch (e) { caught = e.name }
	`, map[string]any{"o": p})
	if v := mustRun(t, exec, b, "seen"); v != int64(1) {
		t.Errorf("o.x in b = %#v", v)
	}
	if v := mustRun(t, exec, b, "caught"); v != xidata.RuntimeError {
		t.Errorf("caught %#v, want RuntimeError", v)
	}

	info, err := exec.Exec(th, b, `o.missing`, map[string]any{"o": p})
	if err != nil {
		t.Fatalf("exec failed: %v", err)
	}
	if info == nil || info.Type.Name != xidata.RuntimeError {
		t.Fatalf("failure = %+v, want RuntimeError", info)
	}
	if info.Cause == nil || info.Cause.Type.Name != xidata.AttributeError {
		t.Errorf("cause = %+v, want AttributeError", info.Cause)
	}

	if err := p.SetAttr(th, "y", "set"); err != nil {
		t.Fatalf("setattr failed: %v", err)
	}
	if v := mustRun(t, exec, a, "obj.y"); v != "set" {
		t.Errorf("obj.y = %#v", v)
	}
	if err := p.DelAttr(th, "y"); err != nil {
		t.Errorf("delattr failed: %v", err)
	}
}

func TestJavaScriptProxyOperations(t *testing.T) {
	exec, _ := newTestExecutor(t)
	th := exec.MainThread()
	a := createInterp(t, exec)

	mustExec(t, exec, a, `
		arr = [1, 2, 3];
		num = {valueOf() { return 7 }};
		done = Promise.resolve(42);
		failed = Promise.reject(new RangeError("no"));
		failed.catch(() => {});
	`, nil)
	proxy := func(name string) *executor.Proxy {
		p, ok := mustRun(t, exec, a, name).(*executor.Proxy)
		if !ok {
			t.Fatalf("%s is not a proxy", name)
		}
		return p
	}

	arr := proxy("arr")
	if n, err := arr.Len(th); err != nil || n != 3 {
		t.Errorf("len = %d, %v", n, err)
	}
	if v, err := arr.GetItem(th, -1); err != nil || v != int64(3) {
		t.Errorf("arr[-1] = %v, %v", v, err)
	}
	if err := arr.SetItem(th, 0, int64(10)); err != nil {
		t.Errorf("setitem failed: %v", err)
	}
	if ok, err := arr.Contains(th, int64(10)); err != nil || !ok {
		t.Errorf("contains 10 = %v, %v", ok, err)
	}
	if s, err := arr.Repr(th); err != nil || s != "[10,2,3]" {
		t.Errorf("repr = %q, %v", s, err)
	}
	if _, err := arr.Hash(th); err == nil {
		t.Error("array should be unhashable")
	}
	_, err := arr.GetItem(th, 5)
	var pe *executor.ProxyError
	if !errors.As(err, &pe) || pe.Info.Type.Name != xidata.IndexError {
		t.Errorf("arr[5] error = %v, want IndexError", err)
	}

	it, err := arr.Iter(th)
	if err != nil {
		t.Fatalf("iter failed: %v", err)
	}
	iter := it.(*executor.Proxy)
	var items []any
	for {
		v, err := iter.Next(th)
		if err != nil {
			if !isStopIteration(err) {
				t.Fatalf("next error = %v", err)
			}
			break
		}
		items = append(items, v)
	}
	if !reflect.DeepEqual(items, []any{int64(10), int64(2), int64(3)}) {
		t.Errorf("iterated %v", items)
	}

	num := proxy("num")
	if v, err := num.Binary(th, executor.OpAdd, int64(1)); err != nil || v != int64(8) {
		t.Errorf("num + 1 = %v, %v", v, err)
	}
	if v, err := num.Binary(th, executor.OpFloorDiv, int64(-2)); err != nil || number(v) != -4 {
		t.Errorf("num // -2 = %v, %v", v, err)
	}
	if v, err := num.Unary(th, executor.OpNeg); err != nil || v != int64(-7) {
		t.Errorf("-num = %v, %v", v, err)
	}
	if ok, err := num.Lt(th, int64(10)); err != nil || !ok {
		t.Errorf("num < 10 = %v, %v", ok, err)
	}

	if v, err := proxy("done").Await(th); err != nil || v != int64(42) {
		t.Errorf("await done = %v, %v", v, err)
	}
	_, err = proxy("failed").Await(th)
	if !errors.As(err, &pe) || pe.Info.Type.Name != "RangeError" {
		t.Errorf("await failed = %v, want RangeError", err)
	}
}

func TestJavaScriptXI(t *testing.T) {
	exec, _ := newTestExecutor(t)
	main := exec.Main().ID()

	mustExec(t, exec, main, `
		var id = xi.create();
		r1 = xi.call(id, "(s) => s.length", "hello");
		r2 = xi.run(id, "6 * 7");
		try { xi.exec(id, 'xi.raise("ValueError", "boom")') } catch (e) { caught = e.name + "|" + e.message }
		shareable = xi.isShareable("s") && !xi.isShareable({});
		listed = xi.list().includes(id);
		xi.destroy(id);
		gone = !xi.list().includes(id);
	`, nil)

	if v := mustRun(t, exec, main, "r1"); v != int64(5) {
		t.Errorf("r1 = %#v", v)
	}
	if v := mustRun(t, exec, main, "r2"); v != int64(42) {
		t.Errorf("r2 = %#v", v)
	}
	caught, _ := mustRun(t, exec, main, "caught").(string)
	if !strings.HasPrefix(caught, "ValueError|") || !strings.Contains(caught, "boom") {
		t.Errorf("caught = %q", caught)
	}
	for _, name := range []string{"shareable", "listed", "gone"} {
		if v := mustRun(t, exec, main, name); v != true {
			t.Errorf("%s = %#v", name, v)
		}
	}
}

func TestJavaScriptProxyItems(t *testing.T) {
	exec, _ := newTestExecutor(t)
	a := createInterp(t, exec)
	b := createInterp(t, exec)

	mustExec(t, exec, a, `letters = ["x", "y"]`, nil)
	p := mustRun(t, exec, a, "letters")
	mustExec(t, exec, b, `joined = xi.items(l).join("-"); n = xi.len(l); r = xi.repr(l)`, map[string]any{"l": p})

	if v := mustRun(t, exec, b, "joined"); v != "x-y" {
		t.Errorf("joined = %#v", v)
	}
	if v := mustRun(t, exec, b, "n"); v != int64(2) {
		t.Errorf("n = %#v", v)
	}
	if v := mustRun(t, exec, b, "r"); v != `["x","y"]` {
		t.Errorf("r = %#v", v)
	}
}

func TestJavaScriptBuffers(t *testing.T) {
	exec, _ := newTestExecutor(t)
	th := exec.MainThread()
	a := createInterp(t, exec)
	b := createInterp(t, exec)

	mustExec(t, exec, a, `
		blk = xi.alloc(8);
		blk[0] = 9;
		new Uint8Array(blk.buffer)[1] = 7;
		size = blk.length;
	`, nil)
	if v := mustRun(t, exec, a, "size"); v != int64(8) {
		t.Errorf("block length = %#v", v)
	}

	mv, ok := mustRun(t, exec, a, "blk").(*executor.MemoryView)
	if !ok {
		t.Fatal("heap block should arrive as a memoryview")
	}
	if got := mv.Bytes()[:2]; !bytes.Equal(got, []byte{9, 7}) {
		t.Errorf("view bytes = %v", got)
	}

	mustExec(t, exec, b, `first = view[1]; n = view.length; view.release(); gone = view.released`, map[string]any{"view": mv})
	if v := mustRun(t, exec, b, "first"); v != int64(7) {
		t.Errorf("view[1] in b = %#v", v)
	}
	if v := mustRun(t, exec, b, "gone"); v != true {
		t.Error("view not released in b")
	}

	if err := mv.Release(th); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	mustExec(t, exec, a, `blk.free()`, nil)

	// Owner destroyed before the borrower lets go.
	mustExec(t, exec, a, `blk2 = xi.alloc(4)`, nil)
	mv2 := mustRun(t, exec, a, "blk2").(*executor.MemoryView)
	if err := exec.Destroy(th, a); err != nil {
		t.Fatalf("destroy owner: %v", err)
	}
	if err := mv2.Release(th); err != nil {
		t.Errorf("release after owner destroyed: %v", err)
	}
}

func TestJavaScriptNotRunning(t *testing.T) {
	exec, _ := newTestExecutor(t)
	id := createInterp(t, exec)
	interp, err := exec.Lookup(id)
	if err != nil {
		t.Fatal(err)
	}
	rt := interp.Runtime().(*Runtime)

	if err := rt.Set("v", int64(3)); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if v, ok := rt.Get("v"); !ok || v != int64(3) {
		t.Errorf("get = %v, %v", v, ok)
	}
	if _, ok := rt.Get("nope"); ok {
		t.Error("missing global reported present")
	}

	// xi functions need a running thread.
	if _, err := rt.VM().RunString(`xi.share(1)`); err == nil {
		t.Error("expected error outside an entry")
	}
}
