package executor

import (
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/caffeineduck/xinterp/hostfunc"
	"github.com/caffeineduck/xinterp/xidata"
)

// Attributer is implemented by Go values that expose named attributes to
// other interpreters.
type Attributer interface {
	GetAttr(name string) (any, error)
	SetAttr(name string, v any) error
}

// Awaitable is implemented by Go values that complete later.
type Awaitable interface {
	Await() (any, error)
}

// invokeNative applies op to a plain Go value.
func invokeNative(th *Thread, op Op, target any, args []any, kwargs map[string]any) (any, error) {
	if err := checkArity(op, args); err != nil {
		return nil, err
	}
	if op != OpCall && len(kwargs) > 0 {
		return nil, typeError("%s takes no keyword arguments", op)
	}

	switch {
	case op.IsBinary():
		return binaryOp(op, target, args[0])
	case op.IsUnary():
		return unaryOp(op, target)
	}

	switch op {
	case OpCall:
		return callNative(th, target, args, kwargs)
	case OpGetAttr:
		name, err := attrName(args[0])
		if err != nil {
			return nil, err
		}
		return getAttr(target, name)
	case OpSetAttr:
		name, err := attrName(args[0])
		if err != nil {
			return nil, err
		}
		return nil, setAttr(target, name, args[1])
	case OpDelAttr:
		name, err := attrName(args[0])
		if err != nil {
			return nil, err
		}
		return nil, delAttr(target, name)
	case OpRepr:
		return repr(target), nil
	case OpStr:
		return str(target), nil
	case OpHash:
		return hashValue(target)
	case OpBool:
		return truth(target), nil
	case OpLen:
		return length(target)
	case OpGetItem:
		return getItem(target, args[0])
	case OpSetItem:
		return nil, setItem(target, args[0], args[1])
	case OpDelItem:
		return nil, delItem(target, args[0])
	case OpContains:
		return contains(target, args[0])
	case OpIter:
		return iterate(target)
	case OpNext:
		return next(target)
	case OpEq:
		return equal(target, args[0]), nil
	case OpLt:
		return less(target, args[0])
	case OpAwait:
		if a, ok := target.(Awaitable); ok {
			return a.Await()
		}
		return nil, typeError("object %s can't be used in 'await' expression", typeName(target))
	}
	return nil, fmt.Errorf("unknown operation %v", op)
}

func callNative(th *Thread, target any, args []any, kwargs map[string]any) (any, error) {
	if fn, ok := target.(hostfunc.Func); ok {
		ctx := xidata.WithThread(context.Background(), th)
		return fn(ctx, args, kwargs)
	}
	return nil, typeError("'%s' object is not callable", typeName(target))
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "NoneType"
	case bool:
		return "bool"
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return "int"
	case float32, float64:
		return "float"
	case string:
		return "str"
	case []byte:
		return "bytes"
	case []any:
		return "list"
	case xidata.Tuple:
		return "tuple"
	case map[string]any:
		return "dict"
	case hostfunc.Func:
		return "function"
	case *MemoryView:
		return "memoryview"
	case *sliceIterator:
		return "iterator"
	}
	return reflect.TypeOf(v).String()
}

func attrName(v any) (string, error) {
	name, ok := v.(string)
	if !ok {
		return "", typeError("attribute name must be string, not '%s'", typeName(v))
	}
	return name, nil
}

func attrError(target any, name string) error {
	return xidata.NewException(xidata.AttributeError, "'%s' object has no attribute '%s'", typeName(target), name)
}

func getAttr(target any, name string) (any, error) {
	switch t := target.(type) {
	case map[string]any:
		if v, ok := t[name]; ok {
			return v, nil
		}
	case Attributer:
		return t.GetAttr(name)
	}
	return nil, attrError(target, name)
}

func setAttr(target any, name string, v any) error {
	switch t := target.(type) {
	case map[string]any:
		t[name] = v
		return nil
	case Attributer:
		return t.SetAttr(name, v)
	}
	return attrError(target, name)
}

func delAttr(target any, name string) error {
	if m, ok := target.(map[string]any); ok {
		if _, exists := m[name]; exists {
			delete(m, name)
			return nil
		}
	}
	return attrError(target, name)
}

func repr(v any) string {
	switch t := v.(type) {
	case nil:
		return "None"
	case bool:
		if t {
			return "True"
		}
		return "False"
	case string:
		return strconv.Quote(t)
	case []byte:
		return "b" + strconv.Quote(string(t))
	case float64:
		return formatFloat(t)
	case float32:
		return formatFloat(float64(t))
	case xidata.Tuple:
		if len(t) == 1 {
			return "(" + repr(t[0]) + ",)"
		}
		return "(" + joinRepr(t) + ")"
	case []any:
		return "[" + joinRepr(t) + "]"
	case map[string]any:
		keys := sortedKeys(t)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = strconv.Quote(k) + ": " + repr(t[k])
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case hostfunc.Func:
		return "<host function>"
	case *MemoryView:
		return fmt.Sprintf("<memory at %p>", t)
	case fmt.Stringer:
		return t.String()
	}
	return fmt.Sprint(v)
}

func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eIN") {
		s += ".0"
	}
	return s
}

func joinRepr(items []any) string {
	parts := make([]string, len(items))
	for i, item := range items {
		parts[i] = repr(item)
	}
	return strings.Join(parts, ", ")
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func str(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return repr(v)
}

func hashKey(v any) (string, bool) {
	if n, ok := toNumber(v); ok {
		if n.float {
			if n.f == math.Trunc(n.f) && math.Abs(n.f) < 1<<63 {
				return "n" + strconv.FormatInt(int64(n.f), 10), true
			}
			return "f" + strconv.FormatFloat(n.f, 'g', -1, 64), true
		}
		return "n" + strconv.FormatInt(n.i, 10), true
	}
	switch t := v.(type) {
	case nil:
		return "None", true
	case string:
		return "s" + t, true
	case []byte:
		return "b" + string(t), true
	case xidata.Tuple:
		parts := make([]string, len(t))
		for i, item := range t {
			k, ok := hashKey(item)
			if !ok {
				return "", false
			}
			parts[i] = strconv.Quote(k)
		}
		return "t(" + strings.Join(parts, ",") + ")", true
	}
	return "", false
}

func hashValue(v any) (any, error) {
	key, ok := hashKey(v)
	if !ok {
		return nil, typeError("unhashable type: '%s'", typeName(v))
	}
	h := fnv.New64a()
	h.Write([]byte(key))
	return int64(h.Sum64()), nil
}

func truth(v any) bool {
	if n, ok := toNumber(v); ok {
		return n.asFloat() != 0
	}
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case []byte:
		return len(t) > 0
	case []any:
		return len(t) > 0
	case xidata.Tuple:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	case *MemoryView:
		return t.Len() > 0
	}
	return true
}

func length(v any) (any, error) {
	switch t := v.(type) {
	case string:
		return utf8.RuneCountInString(t), nil
	case []byte:
		return len(t), nil
	case []any:
		return len(t), nil
	case xidata.Tuple:
		return len(t), nil
	case map[string]any:
		return len(t), nil
	case *MemoryView:
		return t.Len(), nil
	case interface{ Len() int }:
		return t.Len(), nil
	}
	return nil, typeError("object of type '%s' has no len()", typeName(v))
}

func toIndex(key any, n int) (int, error) {
	k, ok := toNumber(key)
	if !ok || k.float {
		if _, isBool := key.(bool); !isBool {
			return 0, typeError("indices must be integers, not %s", typeName(key))
		}
	}
	i := int(k.i)
	if i < 0 {
		i += n
	}
	if i < 0 || i >= n {
		return 0, xidata.NewException(xidata.IndexError, "index out of range")
	}
	return i, nil
}

func getItem(target, key any) (any, error) {
	switch t := target.(type) {
	case []any:
		i, err := toIndex(key, len(t))
		if err != nil {
			return nil, err
		}
		return t[i], nil
	case xidata.Tuple:
		i, err := toIndex(key, len(t))
		if err != nil {
			return nil, err
		}
		return t[i], nil
	case string:
		runes := []rune(t)
		i, err := toIndex(key, len(runes))
		if err != nil {
			return nil, err
		}
		return string(runes[i]), nil
	case []byte:
		i, err := toIndex(key, len(t))
		if err != nil {
			return nil, err
		}
		return int64(t[i]), nil
	case *MemoryView:
		b := t.Bytes()
		i, err := toIndex(key, len(b))
		if err != nil {
			return nil, err
		}
		return int64(b[i]), nil
	case map[string]any:
		if k, ok := key.(string); ok {
			if v, exists := t[k]; exists {
				return v, nil
			}
		}
		return nil, xidata.NewException(xidata.KeyError, "%s", repr(key))
	}
	return nil, typeError("'%s' object is not subscriptable", typeName(target))
}

func setItem(target, key, v any) error {
	switch t := target.(type) {
	case []any:
		i, err := toIndex(key, len(t))
		if err != nil {
			return err
		}
		t[i] = v
		return nil
	case map[string]any:
		k, ok := key.(string)
		if !ok {
			return typeError("dict keys must be str, not %s", typeName(key))
		}
		t[k] = v
		return nil
	case *MemoryView:
		if t.ReadOnly() {
			return typeError("cannot modify read-only memory")
		}
		b := t.Bytes()
		i, err := toIndex(key, len(b))
		if err != nil {
			return err
		}
		n, ok := toNumber(v)
		if !ok || n.float || n.i < 0 || n.i > 255 {
			return xidata.NewException(xidata.ValueError, "memoryview: invalid value for format 'B'")
		}
		b[i] = byte(n.i)
		return nil
	}
	return typeError("'%s' object does not support item assignment", typeName(target))
}

func delItem(target, key any) error {
	if m, ok := target.(map[string]any); ok {
		if k, isString := key.(string); isString {
			if _, exists := m[k]; exists {
				delete(m, k)
				return nil
			}
		}
		return xidata.NewException(xidata.KeyError, "%s", repr(key))
	}
	return typeError("'%s' object does not support item deletion", typeName(target))
}

func contains(target, item any) (any, error) {
	switch t := target.(type) {
	case string:
		s, ok := item.(string)
		if !ok {
			return nil, typeError("'in <string>' requires string as left operand, not %s", typeName(item))
		}
		return strings.Contains(t, s), nil
	case []byte:
		if b, ok := item.([]byte); ok {
			return bytes.Contains(t, b), nil
		}
		n, ok := toNumber(item)
		if !ok || n.float {
			return nil, typeError("a bytes-like object is required, not '%s'", typeName(item))
		}
		return bytes.IndexByte(t, byte(n.i)) >= 0, nil
	case []any:
		return anyEqual(t, item), nil
	case xidata.Tuple:
		return anyEqual(t, item), nil
	case map[string]any:
		k, ok := item.(string)
		if !ok {
			return false, nil
		}
		_, exists := t[k]
		return exists, nil
	}
	return nil, typeError("argument of type '%s' is not iterable", typeName(target))
}

func anyEqual(items []any, v any) bool {
	for _, item := range items {
		if equal(item, v) {
			return true
		}
	}
	return false
}

// sliceIterator iterates over a snapshot of a Go sequence.
type sliceIterator struct {
	items []any
	pos   int
}

func (it *sliceIterator) Next() (any, bool) {
	if it.pos >= len(it.items) {
		return nil, false
	}
	v := it.items[it.pos]
	it.pos++
	return v, true
}

func iterate(target any) (any, error) {
	switch t := target.(type) {
	case *sliceIterator:
		return t, nil
	case []any:
		return &sliceIterator{items: append([]any(nil), t...)}, nil
	case xidata.Tuple:
		return &sliceIterator{items: append([]any(nil), t...)}, nil
	case string:
		items := make([]any, 0, len(t))
		for _, r := range t {
			items = append(items, string(r))
		}
		return &sliceIterator{items: items}, nil
	case []byte:
		items := make([]any, len(t))
		for i, b := range t {
			items[i] = int64(b)
		}
		return &sliceIterator{items: items}, nil
	case map[string]any:
		keys := sortedKeys(t)
		items := make([]any, len(keys))
		for i, k := range keys {
			items[i] = k
		}
		return &sliceIterator{items: items}, nil
	}
	return nil, typeError("'%s' object is not iterable", typeName(target))
}

func next(target any) (any, error) {
	it, ok := target.(*sliceIterator)
	if !ok {
		return nil, typeError("'%s' object is not an iterator", typeName(target))
	}
	v, more := it.Next()
	if !more {
		return nil, xidata.NewException(xidata.StopIteration, "")
	}
	return v, nil
}

func equal(a, b any) bool {
	if x, ok := toNumber(a); ok {
		if y, ok := toNumber(b); ok {
			if !x.float && !y.float {
				return x.i == y.i
			}
			return x.asFloat() == y.asFloat()
		}
		return false
	}
	switch t := a.(type) {
	case []byte:
		u, ok := b.([]byte)
		return ok && bytes.Equal(t, u)
	case xidata.Tuple:
		u, ok := b.(xidata.Tuple)
		return ok && seqEqual(t, u)
	case []any:
		u, ok := b.([]any)
		return ok && seqEqual(t, u)
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	if ta == nil || ta.Comparable() {
		return a == b
	}
	return reflect.DeepEqual(a, b)
}

func seqEqual(a, b []any) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

func less(a, b any) (any, error) {
	if x, ok := toNumber(a); ok {
		if y, ok := toNumber(b); ok {
			if !x.float && !y.float {
				return x.i < y.i, nil
			}
			return x.asFloat() < y.asFloat(), nil
		}
	}
	if s, ok := a.(string); ok {
		if u, ok := b.(string); ok {
			return s < u, nil
		}
	}
	return nil, typeError("'<' not supported between instances of '%s' and '%s'", typeName(a), typeName(b))
}

type number struct {
	i     int64
	f     float64
	float bool
}

func toNumber(v any) (number, bool) {
	switch t := v.(type) {
	case bool:
		if t {
			return number{i: 1}, true
		}
		return number{}, true
	case int:
		return number{i: int64(t)}, true
	case int8:
		return number{i: int64(t)}, true
	case int16:
		return number{i: int64(t)}, true
	case int32:
		return number{i: int64(t)}, true
	case int64:
		return number{i: t}, true
	case uint:
		return number{i: int64(t)}, true
	case uint8:
		return number{i: int64(t)}, true
	case uint16:
		return number{i: int64(t)}, true
	case uint32:
		return number{i: int64(t)}, true
	case uint64:
		return number{i: int64(t)}, true
	case float32:
		return number{f: float64(t), float: true}, true
	case float64:
		return number{f: t, float: true}, true
	}
	return number{}, false
}

func (n number) asFloat() float64 {
	if n.float {
		return n.f
	}
	return float64(n.i)
}

var opSymbols = map[Op]string{
	OpAdd: "+", OpSub: "-", OpMul: "*", OpTrueDiv: "/", OpFloorDiv: "//",
	OpMod: "%", OpPow: "**", OpLShift: "<<", OpRShift: ">>",
	OpAnd: "&", OpOr: "|", OpXor: "^",
	OpNeg: "unary -", OpPos: "unary +", OpInvert: "unary ~", OpAbs: "abs()",
}

func operandError(op Op, a, b any) error {
	return typeError("unsupported operand type(s) for %s: '%s' and '%s'", opSymbols[op], typeName(a), typeName(b))
}

func binaryOp(op Op, a, b any) (any, error) {
	if x, ok := toNumber(a); ok {
		if y, ok := toNumber(b); ok {
			return numeric(op, x, y, a, b)
		}
	}

	switch op {
	case OpAdd:
		switch t := a.(type) {
		case string:
			if u, ok := b.(string); ok {
				return t + u, nil
			}
		case []byte:
			if u, ok := b.([]byte); ok {
				return append(append([]byte(nil), t...), u...), nil
			}
		case []any:
			if u, ok := b.([]any); ok {
				return append(append([]any(nil), t...), u...), nil
			}
		case xidata.Tuple:
			if u, ok := b.(xidata.Tuple); ok {
				return append(append(xidata.Tuple(nil), t...), u...), nil
			}
		}
	case OpMul:
		if n, ok := toNumber(b); ok && !n.float {
			return repeat(a, n.i, op, b)
		}
		if n, ok := toNumber(a); ok && !n.float {
			return repeat(b, n.i, op, a)
		}
	}
	return nil, operandError(op, a, b)
}

// maxRepeatLen bounds the length of a sequence built by repetition.
const maxRepeatLen = 1 << 28

func repeat(seq any, n int64, op Op, other any) (any, error) {
	l := seqLen(seq)
	if n < 0 || l == 0 {
		n = 0
	}
	if l > 0 && n > maxRepeatLen/int64(l) {
		return nil, xidata.NewException(xidata.OverflowError, "repeated sequence is too long")
	}
	switch t := seq.(type) {
	case string:
		return strings.Repeat(t, int(n)), nil
	case []byte:
		return bytes.Repeat(t, int(n)), nil
	case []any:
		out := make([]any, 0, len(t)*int(n))
		for range n {
			out = append(out, t...)
		}
		return out, nil
	case xidata.Tuple:
		out := make(xidata.Tuple, 0, len(t)*int(n))
		for range n {
			out = append(out, t...)
		}
		return out, nil
	}
	return nil, operandError(op, seq, other)
}

// seqLen returns the length of a repeatable sequence, or -1.
func seqLen(seq any) int {
	switch t := seq.(type) {
	case string:
		return len(t)
	case []byte:
		return len(t)
	case []any:
		return len(t)
	case xidata.Tuple:
		return len(t)
	}
	return -1
}

func overflowError() error {
	return xidata.NewException(xidata.OverflowError, "integer result out of range")
}

func numeric(op Op, x, y number, a, b any) (any, error) {
	ints := !x.float && !y.float
	xf, yf := x.asFloat(), y.asFloat()

	switch op {
	case OpAdd:
		if ints {
			r := x.i + y.i
			if (x.i^r)&(y.i^r) < 0 {
				return nil, overflowError()
			}
			return r, nil
		}
		return xf + yf, nil
	case OpSub:
		if ints {
			r := x.i - y.i
			if (x.i^y.i)&(x.i^r) < 0 {
				return nil, overflowError()
			}
			return r, nil
		}
		return xf - yf, nil
	case OpMul:
		if ints {
			r, ok := mulInt(x.i, y.i)
			if !ok {
				return nil, overflowError()
			}
			return r, nil
		}
		return xf * yf, nil
	case OpTrueDiv:
		if yf == 0 {
			return nil, xidata.NewException(xidata.ZeroDivisionError, "division by zero")
		}
		return xf / yf, nil
	case OpFloorDiv:
		if ints {
			if y.i == 0 {
				return nil, xidata.NewException(xidata.ZeroDivisionError, "integer division or modulo by zero")
			}
			if x.i == math.MinInt64 && y.i == -1 {
				return nil, overflowError()
			}
			return floorDiv(x.i, y.i), nil
		}
		if yf == 0 {
			return nil, xidata.NewException(xidata.ZeroDivisionError, "float floor division by zero")
		}
		return math.Floor(xf / yf), nil
	case OpMod:
		if ints {
			if y.i == 0 {
				return nil, xidata.NewException(xidata.ZeroDivisionError, "integer division or modulo by zero")
			}
			return floorMod(x.i, y.i), nil
		}
		if yf == 0 {
			return nil, xidata.NewException(xidata.ZeroDivisionError, "float modulo")
		}
		m := math.Mod(xf, yf)
		if m != 0 && (m < 0) != (yf < 0) {
			m += yf
		}
		return m, nil
	case OpPow:
		if ints && y.i >= 0 {
			r, ok := ipow(x.i, y.i)
			if !ok {
				return nil, overflowError()
			}
			return r, nil
		}
		if xf == 0 && yf < 0 {
			return nil, xidata.NewException(xidata.ZeroDivisionError, "0.0 cannot be raised to a negative power")
		}
		return math.Pow(xf, yf), nil
	}

	if !ints {
		return nil, operandError(op, a, b)
	}
	switch op {
	case OpLShift, OpRShift:
		if y.i < 0 {
			return nil, xidata.NewException(xidata.ValueError, "negative shift count")
		}
		shift := uint(min(y.i, 63))
		if op == OpLShift {
			r := x.i << shift
			if y.i > 63 && x.i != 0 || r>>shift != x.i {
				return nil, overflowError()
			}
			return r, nil
		}
		return x.i >> shift, nil
	case OpAnd:
		return x.i & y.i, nil
	case OpOr:
		return x.i | y.i, nil
	case OpXor:
		return x.i ^ y.i, nil
	}
	return nil, operandError(op, a, b)
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

func floorMod(a, b int64) int64 {
	m := a % b
	if m != 0 && (m < 0) != (b < 0) {
		m += b
	}
	return m
}

// mulInt multiplies a and b, reporting false on overflow.
func mulInt(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	r := a * b
	if (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) || r/b != a {
		return 0, false
	}
	return r, true
}

// ipow raises base to exp by squaring, reporting false on overflow.
func ipow(base, exp int64) (int64, bool) {
	result := int64(1)
	for exp > 0 {
		var ok bool
		if exp&1 == 1 {
			if result, ok = mulInt(result, base); !ok {
				return 0, false
			}
		}
		exp >>= 1
		if exp > 0 {
			if base, ok = mulInt(base, base); !ok {
				return 0, false
			}
		}
	}
	return result, true
}

func unaryOp(op Op, v any) (any, error) {
	n, ok := toNumber(v)
	if !ok {
		return nil, typeError("bad operand type for %s: '%s'", opSymbols[op], typeName(v))
	}
	switch op {
	case OpNeg:
		if n.float {
			return -n.f, nil
		}
		if n.i == math.MinInt64 {
			return nil, overflowError()
		}
		return -n.i, nil
	case OpPos:
		if n.float {
			return n.f, nil
		}
		return n.i, nil
	case OpAbs:
		if n.float {
			return math.Abs(n.f), nil
		}
		if n.i == math.MinInt64 {
			return nil, overflowError()
		}
		if n.i < 0 {
			return -n.i, nil
		}
		return n.i, nil
	case OpInvert:
		if n.float {
			return nil, typeError("bad operand type for unary ~: 'float'")
		}
		return ^n.i, nil
	}
	return nil, fmt.Errorf("unknown operation %v", op)
}
