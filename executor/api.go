package executor

import (
	"errors"
	"fmt"

	"github.com/caffeineduck/xinterp/xidata"
)

const resultKey = "result"

// Current returns the interpreter th is bound to.
func (e *Executor) Current(th *Thread) *Interpreter {
	return th.Current()
}

// Exec runs code in the interpreter id with shared bound into its main
// namespace. An error raised by the code is returned as a FailureInfo;
// the error return is reserved for lookup, state and sharing failures.
func (e *Executor) Exec(th *Thread, id int64, code string, shared map[string]any) (*xidata.FailureInfo, error) {
	interp, err := e.lookup(id)
	if err != nil {
		return nil, err
	}
	if interp.runtime == nil {
		return nil, fmt.Errorf("interpreter %d: %w", id, ErrNoRuntime)
	}

	s := th.NewSession()
	if err := s.Enter(interp, shared); err != nil {
		return nil, err
	}
	runErr := interp.runtime.Exec(th, code)
	res, err := s.Exit(runErr)
	res.Release()
	if err != nil {
		return xidata.Capture(err), nil
	}
	return res.Failure, nil
}

// Call calls callable in the interpreter id. The callable, args and kwargs
// must be natively shareable; a result that is not comes back as a proxy.
// An error raised by the callable is returned as a FailureInfo. Without
// preserveExc only its summary line is kept.
func (e *Executor) Call(th *Thread, id int64, callable any, args []any, kwargs map[string]any, preserveExc bool) (any, *xidata.FailureInfo, error) {
	interp, err := e.lookup(id)
	if err != nil {
		return nil, nil, err
	}

	reg := e.registry
	fnData, err := reg.Convert(th, callable, xidata.NoFallback)
	if err != nil {
		return nil, nil, fmt.Errorf("callable: %w", err)
	}
	defer fnData.Release(th)
	argData, err := reg.ConvertAll(th, args, xidata.NoFallback)
	if err != nil {
		return nil, nil, fmt.Errorf("args: %w", err)
	}
	defer xidata.ReleaseAll(th, argData...)
	kwNames, kwData, err := shareNamespace(th, kwargs)
	if err != nil {
		return nil, nil, fmt.Errorf("kwargs: %w", err)
	}
	defer xidata.ReleaseAll(th, kwData...)

	s := th.NewSession()
	if err := s.Enter(interp, nil); err != nil {
		return nil, nil, err
	}

	callErr, setupErr := callIn(s, fnData, argData, kwNames, kwData)
	if setupErr != nil {
		res, _ := s.Exit(nil)
		res.Release()
		return nil, nil, setupErr
	}

	res, err := s.Exit(callErr)
	defer res.Release()
	info := res.Failure
	if err != nil {
		info = xidata.Capture(err)
	}
	if info != nil {
		if !preserveExc {
			info.Formatted = summary(info)
		}
		return nil, info, nil
	}

	v, err := res.Preserved(resultKey)
	if err != nil {
		return nil, nil, err
	}
	return v, nil, nil
}

// callIn runs the call on the entered session. The first error is one
// raised by the callable; the second is a marshaling failure.
func callIn(s *Session, fnData *xidata.Data, argData []*xidata.Data, kwNames []string, kwData []*xidata.Data) (error, error) {
	th := s.th
	fn, err := fnData.NewObject(th)
	if err != nil {
		return nil, err
	}
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

	v, err := s.interp.invoke(th, OpCall, fn, args, kwargs)
	if err != nil {
		return err, nil
	}
	return nil, s.Preserve(resultKey, v)
}

func summary(info *xidata.FailureInfo) string {
	if info.Msg == "" {
		return info.Type.Name
	}
	return info.Type.Name + ": " + info.Msg
}

// RunString evaluates code in the interpreter id and returns the value of
// its last expression.
func (e *Executor) RunString(th *Thread, id int64, code string) (any, *xidata.FailureInfo, error) {
	interp, err := e.lookup(id)
	if err != nil {
		return nil, nil, err
	}
	if interp.runtime == nil {
		return nil, nil, fmt.Errorf("interpreter %d: %w", id, ErrNoRuntime)
	}

	s := th.NewSession()
	if err := s.Enter(interp, nil); err != nil {
		return nil, nil, err
	}
	v, evalErr := interp.runtime.Eval(th, code)
	var setupErr error
	if evalErr == nil {
		setupErr = s.Preserve(resultKey, v)
	}
	res, err := s.Exit(evalErr)
	defer res.Release()
	if setupErr != nil {
		return nil, nil, setupErr
	}
	if err != nil {
		return nil, xidata.Capture(err), nil
	}
	if res.Failure != nil {
		return nil, res.Failure, nil
	}
	v, err = res.Preserved(resultKey)
	if err != nil {
		return nil, nil, err
	}
	return v, nil, nil
}

// Share returns v when it is natively shareable and a proxy owned by the
// thread's current interpreter otherwise.
func (e *Executor) Share(th *Thread, v any) any {
	if e.registry.IsShareable(th, v) {
		return v
	}
	return NewProxy(v, th.Current())
}

// IsShareable reports whether v crosses interpreters without a proxy.
func (e *Executor) IsShareable(th *Thread, v any) bool {
	return e.registry.IsShareable(th, v)
}

// CaptureException snapshots err. It returns nil for a nil err.
func (e *Executor) CaptureException(err error) *xidata.FailureInfo {
	return xidata.Capture(err)
}

// SetMainAttrs binds updates into the main namespace of the interpreter id.
func (e *Executor) SetMainAttrs(th *Thread, id int64, updates map[string]any) error {
	interp, err := e.lookup(id)
	if err != nil {
		return err
	}
	s := th.NewSession()
	if err := s.Enter(interp, updates); err != nil {
		return err
	}
	res, err := s.Exit(nil)
	res.Release()
	return err
}

// Alloc reserves n bytes on the heap of the thread's current interpreter.
func (e *Executor) Alloc(th *Thread, n int) (*HeapBlock, error) {
	interp := th.Current()
	if interp.heap == nil {
		return nil, interpError("interpreter %d has no heap", interp.id)
	}
	if n <= 0 {
		return nil, errors.New("allocation size must be positive")
	}
	off, data, err := interp.heap.alloc(uint64(n))
	if err != nil {
		return nil, err
	}
	return &HeapBlock{heap: interp.heap, interp: interp, off: off, data: data}, nil
}
