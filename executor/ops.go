package executor

import "fmt"

// Op identifies an operation a proxy forwards to its owner.
type Op uint8

const (
	OpCall Op = iota
	OpGetAttr
	OpSetAttr
	OpDelAttr
	OpRepr
	OpStr
	OpHash
	OpBool
	OpLen
	OpGetItem
	OpSetItem
	OpDelItem
	OpContains
	OpIter
	OpNext
	OpAdd
	OpSub
	OpMul
	OpTrueDiv
	OpFloorDiv
	OpMod
	OpPow
	OpLShift
	OpRShift
	OpAnd
	OpOr
	OpXor
	OpNeg
	OpPos
	OpInvert
	OpAbs
	OpEq
	OpLt
	OpAwait
	opCount
)

// opInfo describes how an operation is forwarded. arity is the number of
// positional arguments, or -1 for any. wrap is set when the result may be
// an arbitrary value and falls back to a proxy; otherwise the result must
// be natively shareable.
type opInfo struct {
	name  string
	arity int
	wrap  bool
}

var opTable = [opCount]opInfo{
	OpCall:     {"call", -1, true},
	OpGetAttr:  {"getattr", 1, true},
	OpSetAttr:  {"setattr", 2, false},
	OpDelAttr:  {"delattr", 1, false},
	OpRepr:     {"repr", 0, false},
	OpStr:      {"str", 0, false},
	OpHash:     {"hash", 0, false},
	OpBool:     {"bool", 0, false},
	OpLen:      {"len", 0, false},
	OpGetItem:  {"getitem", 1, true},
	OpSetItem:  {"setitem", 2, false},
	OpDelItem:  {"delitem", 1, false},
	OpContains: {"contains", 1, false},
	OpIter:     {"iter", 0, true},
	OpNext:     {"next", 0, true},
	OpAdd:      {"add", 1, true},
	OpSub:      {"sub", 1, true},
	OpMul:      {"mul", 1, true},
	OpTrueDiv:  {"truediv", 1, true},
	OpFloorDiv: {"floordiv", 1, true},
	OpMod:      {"mod", 1, true},
	OpPow:      {"pow", 1, true},
	OpLShift:   {"lshift", 1, true},
	OpRShift:   {"rshift", 1, true},
	OpAnd:      {"and", 1, true},
	OpOr:       {"or", 1, true},
	OpXor:      {"xor", 1, true},
	OpNeg:      {"neg", 0, true},
	OpPos:      {"pos", 0, true},
	OpInvert:   {"invert", 0, true},
	OpAbs:      {"abs", 0, true},
	OpEq:       {"eq", 1, false},
	OpLt:       {"lt", 1, false},
	OpAwait:    {"await", 0, true},
}

func (o Op) String() string {
	if o < opCount {
		return opTable[o].name
	}
	return fmt.Sprintf("Op(%d)", uint8(o))
}

// Arity returns the number of positional arguments, or -1 for any.
func (o Op) Arity() int {
	if o < opCount {
		return opTable[o].arity
	}
	return 0
}

// IsBinary reports whether o is a binary number operation.
func (o Op) IsBinary() bool {
	return o >= OpAdd && o <= OpXor
}

// IsUnary reports whether o is a unary number operation.
func (o Op) IsUnary() bool {
	return o >= OpNeg && o <= OpAbs
}

func (o Op) wraps() bool {
	return o < opCount && opTable[o].wrap
}

func (o Op) valid() bool {
	return o < opCount
}

func checkArity(op Op, args []any) error {
	if !op.valid() {
		return fmt.Errorf("unknown operation %d", uint8(op))
	}
	if n := op.Arity(); n >= 0 && len(args) != n {
		return typeError("%s expected %d arguments, got %d", op, n, len(args))
	}
	return nil
}
