package executor

import (
	"errors"
	"fmt"

	"github.com/caffeineduck/xinterp/xidata"
)

var (
	// ErrInterpreter reports an operation the interpreter's lifecycle or
	// running state does not allow.
	ErrInterpreter = errors.New("interpreter error")

	// ErrInterpreterNotFound reports an id with no live interpreter. It
	// matches ErrInterpreter as well.
	ErrInterpreterNotFound = fmt.Errorf("%w: interpreter not found", ErrInterpreter)

	ErrInterpreterCreation = errors.New("interpreter creation failed")
	ErrSessionState        = errors.New("invalid session state")
	ErrProxyClosed         = errors.New("proxy closed")
	ErrExecutorClosed      = errors.New("executor closed")
	ErrBufferExported      = errors.New("buffer has exported views")
	ErrBufferReleased      = errors.New("buffer released")
	ErrNoRuntime           = errors.New("interpreter has no language runtime")
)

func notFound(id int64) error {
	return fmt.Errorf("%w: unrecognized interpreter ID %d", ErrInterpreterNotFound, id)
}

func interpError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInterpreter, fmt.Sprintf(format, args...))
}

// ProxyError is returned in the calling interpreter when a forwarded
// operation raised in the proxy's owner. The original failure is kept as a
// snapshot and is reachable through errors.As and errors.Unwrap.
type ProxyError struct {
	Op       Op
	InterpID int64
	Info     *xidata.FailureInfo
}

func (e *ProxyError) Error() string {
	return fmt.Sprintf("exception in interpreter %d during %s: %v", e.InterpID, e.Op, e.Info)
}

func (e *ProxyError) Unwrap() error {
	if e.Info == nil {
		return nil
	}
	return e.Info
}

func (e *ProxyError) ExcType() xidata.TypeInfo {
	return xidata.TypeInfo{Name: xidata.RuntimeError, QualName: xidata.RuntimeError, Module: "builtins"}
}

func (e *ProxyError) ExcMsg() string {
	return "exception in interpreter"
}

func typeError(format string, args ...any) error {
	return xidata.NewException(xidata.TypeError, format, args...)
}
