package executor

import (
	"errors"
	"fmt"
	"sort"

	"github.com/caffeineduck/xinterp/xidata"
)

// ErrNotPreserved is returned for a name that was never preserved.
var ErrNotPreserved = errors.New("object not preserved")

type sessionState int

const (
	sessionIdle sessionState = iota
	sessionEntered
	sessionExited
)

// Session switches a thread into an interpreter for one unit of work and
// back. A session is used once: Enter, the work, then Exit. A failed Enter
// leaves the session idle and the thread where it was; Exit must not be
// called in that case.
type Session struct {
	th        *Thread
	state     sessionState
	interp    *Interpreter
	sw        switchState
	preserved map[string]*xidata.Data
}

// NewSession returns an idle session for t.
func (t *Thread) NewSession() *Session {
	return &Session{th: t}
}

// Enter switches the thread into interp and binds shared into its main
// namespace. Shared values must be natively shareable.
func (s *Session) Enter(interp *Interpreter, shared map[string]any) error {
	if s.state != sessionIdle {
		return fmt.Errorf("%w: enter on a used session", ErrSessionState)
	}
	if interp == nil {
		return interpError("no target interpreter")
	}
	switch st := interp.State(); st {
	case StateReady, StateRunning:
	case StateDestroyed:
		return notFound(interp.id)
	default:
		return interpError("interpreter %d is %s", interp.id, st)
	}

	th := s.th
	names, ds, err := shareNamespace(th, shared)
	if err != nil {
		return err
	}

	sw, err := th.enter(interp, nil)
	if err != nil {
		xidata.ReleaseAll(th, ds...)
		return err
	}
	err = bindNamespace(th, interp, names, ds)
	xidata.ReleaseAll(th, ds...)
	if err != nil {
		th.exit(sw)
		return err
	}

	s.interp = interp
	s.sw = sw
	s.state = sessionEntered
	return nil
}

func shareNamespace(th *Thread, shared map[string]any) ([]string, []*xidata.Data, error) {
	if len(shared) == 0 {
		return nil, nil, nil
	}
	names := make([]string, 0, len(shared))
	for name := range shared {
		names = append(names, name)
	}
	sort.Strings(names)
	vals := make([]any, len(names))
	for i, name := range names {
		vals[i] = shared[name]
	}
	ds, err := th.exec.registry.ConvertAll(th, vals, xidata.NoFallback)
	if err != nil {
		return nil, nil, err
	}
	return names, ds, nil
}

func bindNamespace(th *Thread, interp *Interpreter, names []string, ds []*xidata.Data) error {
	if len(names) == 0 {
		return nil
	}
	if interp.runtime == nil {
		return fmt.Errorf("%v: %w", xidata.FailureMainNS, ErrNoRuntime)
	}
	vals, err := xidata.NewObjects(th, ds)
	if err != nil {
		return fmt.Errorf("%v: %w", xidata.FailureApplyNS, err)
	}
	for i, name := range names {
		if err := interp.runtime.Set(name, vals[i]); err != nil {
			return fmt.Errorf("%v: %s: %w", xidata.FailureApplyNS, name, err)
		}
	}
	return nil
}

// Interpreter returns the entered interpreter.
func (s *Session) Interpreter() *Interpreter { return s.interp }

// MainNamespace returns the entered interpreter's top-level bindings.
func (s *Session) MainNamespace() (Namespace, error) {
	if s.state != sessionEntered {
		return nil, fmt.Errorf("%w: session not entered", ErrSessionState)
	}
	if s.interp.runtime == nil {
		return nil, fmt.Errorf("%v: %w", xidata.FailureMainNS, ErrNoRuntime)
	}
	return s.interp.runtime, nil
}

// Preserve keeps v under name so it can be read after Exit. v is shared
// relative to the entered interpreter; values without a native converter
// come back as proxies.
func (s *Session) Preserve(name string, v any) error {
	if s.state != sessionEntered {
		return fmt.Errorf("%w: session not entered", ErrSessionState)
	}
	d, err := s.th.exec.registry.Convert(s.th, v, xidata.FullFallback)
	if err != nil {
		return fmt.Errorf("%v: %w", xidata.FailurePreserve, err)
	}
	if s.preserved == nil {
		s.preserved = make(map[string]*xidata.Data)
	}
	if old, ok := s.preserved[name]; ok {
		old.Release(s.th)
	}
	s.preserved[name] = d
	return nil
}

// Exit switches the thread back. When the work crossed into another
// interpreter, workErr is captured into Result.Failure; otherwise it is
// returned as is.
func (s *Session) Exit(workErr error) (*Result, error) {
	if s.state != sessionEntered {
		return nil, fmt.Errorf("%w: exit without enter", ErrSessionState)
	}
	th := s.th
	res := &Result{th: th, preserved: s.preserved}
	var native error
	if workErr != nil {
		if s.sw.switched {
			res.Failure = xidata.Capture(workErr)
		} else {
			native = workErr
		}
	}
	th.exit(s.sw)
	s.preserved = nil
	s.state = sessionExited
	return res, native
}

// Result is the outcome of a session.
type Result struct {
	Failure *xidata.FailureInfo

	th        *Thread
	preserved map[string]*xidata.Data
}

// Preserved rebuilds the value kept under name in the thread's current
// interpreter. Each name can be read once.
func (r *Result) Preserved(name string) (any, error) {
	d, ok := r.preserved[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotPreserved, name)
	}
	delete(r.preserved, name)
	defer d.Release(r.th)
	return d.NewObject(r.th)
}

// Release drops every preserved value that was not read.
func (r *Result) Release() {
	for name, d := range r.preserved {
		d.Release(r.th)
		delete(r.preserved, name)
	}
}
