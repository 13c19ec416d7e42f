package executor

import (
	"fmt"
	"sort"
	"sync"

	"code.hybscloud.com/atomix"

	"github.com/caffeineduck/xinterp/xidata"
)

// maxCachedStates bounds the per-proxy table of execution-context handles.
const maxCachedStates = 64

type proxyTarget struct {
	v any
}

// Proxy stands in for a value owned by another interpreter. Every operation
// on it runs inside the owner: arguments are shared out of the caller, the
// thread switches to the owner, and the result is shared back. Values that
// cannot be shared natively travel as further proxies.
type Proxy struct {
	owner    *Interpreter
	obj      atomix.Pointer[proxyTarget]
	callable bool

	mu     sync.Mutex
	states map[*Thread]*threadState
}

// NewProxy wraps obj, which must belong to owner.
func NewProxy(obj any, owner *Interpreter) *Proxy {
	p := &Proxy{owner: owner, callable: owner.isCallable(obj)}
	p.obj.StoreRelease(&proxyTarget{v: obj})
	return p
}

// Owner returns the interpreter the wrapped value belongs to.
func (p *Proxy) Owner() *Interpreter { return p.owner }

// Callable reports whether the wrapped value can be called.
func (p *Proxy) Callable() bool { return p.callable }

// Close drops the wrapped value. Later operations fail with ErrProxyClosed.
func (p *Proxy) Close() {
	p.obj.StoreRelease(nil)
	p.mu.Lock()
	p.states = nil
	p.mu.Unlock()
}

func (p *Proxy) String() string {
	return fmt.Sprintf("<proxy of interpreter %d>", p.owner.id)
}

func (p *Proxy) target() (any, error) {
	t := p.obj.LoadAcquire()
	if t == nil {
		return nil, ErrProxyClosed
	}
	return t.v, nil
}

// clone returns a proxy for the same owner and value.
func (p *Proxy) clone() *Proxy {
	c := &Proxy{owner: p.owner, callable: p.callable}
	c.obj.StoreRelease(p.obj.LoadAcquire())
	return c
}

// handle returns an idle execution-context handle for th in the owner,
// reusing the one cached from an earlier call when it is not in use.
func (p *Proxy) handle(th *Thread) *threadState {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ts, ok := p.states[th]; ok && !ts.inUse {
		ts.inUse = true
		return ts
	}
	ts := &threadState{interp: p.owner, thread: th, inUse: true}
	if p.states == nil {
		p.states = make(map[*Thread]*threadState)
	}
	if _, ok := p.states[th]; !ok && len(p.states) < maxCachedStates {
		p.states[th] = ts
	}
	return ts
}

func (p *Proxy) done(ts *threadState) {
	p.mu.Lock()
	ts.inUse = false
	p.mu.Unlock()
}

// forward runs op on the wrapped value inside the owner.
func (p *Proxy) forward(th *Thread, op Op, args []any, kwargs map[string]any) (any, error) {
	if err := checkArity(op, args); err != nil {
		return nil, err
	}
	obj, err := p.target()
	if err != nil {
		return nil, err
	}
	if th.Current() == p.owner {
		return p.owner.invoke(th, op, obj, args, kwargs)
	}

	reg := th.exec.registry
	argData, err := reg.ConvertAll(th, args, xidata.FullFallback)
	if err != nil {
		return nil, err
	}
	kwNames, kwData, err := shareKwargs(th, reg, kwargs)
	if err != nil {
		xidata.ReleaseAll(th, argData...)
		return nil, err
	}
	defer func() {
		xidata.ReleaseAll(th, argData...)
		xidata.ReleaseAll(th, kwData...)
	}()

	ts := p.handle(th)
	defer p.done(ts)
	sw, err := th.enter(p.owner, ts)
	if err != nil {
		return nil, err
	}

	res, err := p.run(th, op, obj, argData, kwNames, kwData)
	if err != nil {
		info := xidata.Capture(err)
		th.exec.logger.Warn("unraisable exception in proxied operation",
			"interp", p.owner.id, "op", op.String(), "err", err)
		th.exit(sw)
		return nil, &ProxyError{Op: op, InterpID: p.owner.id, Info: info}
	}

	mode := xidata.NoFallback
	if op.wraps() {
		mode = xidata.FullFallback
	}
	resData, err := reg.Convert(th, res, mode)
	th.exit(sw)
	if err != nil {
		return nil, fmt.Errorf("%s result: %w", op, err)
	}
	defer resData.Release(th)
	return resData.NewObject(th)
}

// run reconstructs the arguments under the owner and applies op.
func (p *Proxy) run(th *Thread, op Op, obj any, argData []*xidata.Data, kwNames []string, kwData []*xidata.Data) (any, error) {
	args, err := xidata.NewObjects(th, argData)
	if err != nil {
		return nil, err
	}
	var kwargs map[string]any
	if len(kwNames) > 0 {
		vals, err := xidata.NewObjects(th, kwData)
		if err != nil {
			return nil, err
		}
		kwargs = make(map[string]any, len(kwNames))
		for i, name := range kwNames {
			kwargs[name] = vals[i]
		}
	}
	return p.owner.invoke(th, op, obj, args, kwargs)
}

func shareKwargs(th *Thread, reg *xidata.Registry, kwargs map[string]any) ([]string, []*xidata.Data, error) {
	if len(kwargs) == 0 {
		return nil, nil, nil
	}
	names := make([]string, 0, len(kwargs))
	for name := range kwargs {
		names = append(names, name)
	}
	sort.Strings(names)
	vals := make([]any, len(names))
	for i, name := range names {
		vals[i] = kwargs[name]
	}
	ds, err := reg.ConvertAll(th, vals, xidata.FullFallback)
	if err != nil {
		return nil, nil, err
	}
	return names, ds, nil
}

// Do applies an arbitrary operation.
func (p *Proxy) Do(th *Thread, op Op, args ...any) (any, error) {
	return p.forward(th, op, args, nil)
}

func (p *Proxy) Call(th *Thread, args []any, kwargs map[string]any) (any, error) {
	return p.forward(th, OpCall, args, kwargs)
}

func (p *Proxy) GetAttr(th *Thread, name string) (any, error) {
	return p.forward(th, OpGetAttr, []any{name}, nil)
}

func (p *Proxy) SetAttr(th *Thread, name string, v any) error {
	_, err := p.forward(th, OpSetAttr, []any{name, v}, nil)
	return err
}

func (p *Proxy) DelAttr(th *Thread, name string) error {
	_, err := p.forward(th, OpDelAttr, []any{name}, nil)
	return err
}

func (p *Proxy) Repr(th *Thread) (string, error) {
	return p.text(th, OpRepr)
}

func (p *Proxy) Str(th *Thread) (string, error) {
	return p.text(th, OpStr)
}

func (p *Proxy) text(th *Thread, op Op) (string, error) {
	v, err := p.forward(th, op, nil, nil)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", typeError("%s returned non-string (type %s)", op, typeName(v))
	}
	return s, nil
}

func (p *Proxy) Hash(th *Thread) (int64, error) {
	v, err := p.forward(th, OpHash, nil, nil)
	if err != nil {
		return 0, err
	}
	n, ok := toNumber(v)
	if !ok || n.float {
		return 0, typeError("hash returned non-integer (type %s)", typeName(v))
	}
	return n.i, nil
}

func (p *Proxy) Bool(th *Thread) (bool, error) {
	v, err := p.forward(th, OpBool, nil, nil)
	if err != nil {
		return false, err
	}
	return truth(v), nil
}

func (p *Proxy) Len(th *Thread) (int, error) {
	v, err := p.forward(th, OpLen, nil, nil)
	if err != nil {
		return 0, err
	}
	n, ok := toNumber(v)
	if !ok || n.float || n.i < 0 {
		return 0, typeError("len returned invalid value (type %s)", typeName(v))
	}
	return int(n.i), nil
}

func (p *Proxy) GetItem(th *Thread, key any) (any, error) {
	return p.forward(th, OpGetItem, []any{key}, nil)
}

func (p *Proxy) SetItem(th *Thread, key, v any) error {
	_, err := p.forward(th, OpSetItem, []any{key, v}, nil)
	return err
}

func (p *Proxy) DelItem(th *Thread, key any) error {
	_, err := p.forward(th, OpDelItem, []any{key}, nil)
	return err
}

func (p *Proxy) Contains(th *Thread, item any) (bool, error) {
	v, err := p.forward(th, OpContains, []any{item}, nil)
	if err != nil {
		return false, err
	}
	return truth(v), nil
}

func (p *Proxy) Iter(th *Thread) (any, error) {
	return p.forward(th, OpIter, nil, nil)
}

func (p *Proxy) Next(th *Thread) (any, error) {
	return p.forward(th, OpNext, nil, nil)
}

// Binary applies a binary number operation with the proxy as left operand.
func (p *Proxy) Binary(th *Thread, op Op, other any) (any, error) {
	if !op.IsBinary() {
		return nil, fmt.Errorf("%s is not a binary operation", op)
	}
	return p.forward(th, op, []any{other}, nil)
}

// Unary applies a unary number operation.
func (p *Proxy) Unary(th *Thread, op Op) (any, error) {
	if !op.IsUnary() {
		return nil, fmt.Errorf("%s is not a unary operation", op)
	}
	return p.forward(th, op, nil, nil)
}

func (p *Proxy) Eq(th *Thread, other any) (bool, error) {
	v, err := p.forward(th, OpEq, []any{other}, nil)
	if err != nil {
		return false, err
	}
	return truth(v), nil
}

func (p *Proxy) Lt(th *Thread, other any) (bool, error) {
	v, err := p.forward(th, OpLt, []any{other}, nil)
	if err != nil {
		return false, err
	}
	return truth(v), nil
}

// Await waits for the wrapped awaitable in its owner and returns its result.
func (p *Proxy) Await(th *Thread) (any, error) {
	return p.forward(th, OpAwait, nil, nil)
}
