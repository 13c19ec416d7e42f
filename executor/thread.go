package executor

import (
	"code.hybscloud.com/atomix"
)

var threadSerial atomix.Uint32

// threadState is an execution-context handle: the binding of one thread to
// one interpreter.
type threadState struct {
	interp *Interpreter
	thread *Thread
	inUse  bool
}

// Thread is a logical thread of control. It is bound to exactly one
// interpreter at a time and must only be used by one goroutine at a time.
type Thread struct {
	id    uint32
	exec  *Executor
	ts    *threadState
	depth int

	// waiting is the runtime lock the thread is blocked on, if any.
	waiting atomix.Pointer[runtimeLock]
}

// NewThread returns a thread bound to the interpreter id. Interpreters other
// than main must allow threads in their config.
func (e *Executor) NewThread(id int64) (*Thread, error) {
	interp, err := e.lookup(id)
	if err != nil {
		return nil, err
	}
	if !interp.isMain() && !interp.cfg.AllowThreads {
		return nil, interpError("interpreter %d does not allow threads", id)
	}
	if !interp.ready() {
		return nil, interpError("interpreter %d is not ready", id)
	}
	return newThread(e, interp), nil
}

func newThread(e *Executor, interp *Interpreter) *Thread {
	th := &Thread{id: threadSerial.Add(1), exec: e}
	th.ts = &threadState{interp: interp, thread: th}
	return th
}

// ID returns the thread's serial number.
func (t *Thread) ID() uint32 { return t.id }

// Executor returns the executor the thread belongs to.
func (t *Thread) Executor() *Executor { return t.exec }

// Current returns the interpreter the thread is bound to.
func (t *Thread) Current() *Interpreter { return t.ts.interp }

// InterpreterID returns the id of the interpreter the thread is bound to.
func (t *Thread) InterpreterID() int64 { return t.ts.interp.id }

// Depth returns the number of active switches on the thread.
func (t *Thread) Depth() int { return t.depth }

// switchState records one enter so the matching exit can undo it.
type switchState struct {
	interp   *Interpreter
	prev     *threadState
	switched bool
}

// enter binds t to target for the duration of a unit of work. When t is
// already bound to target no new handle is attached. ts, when not nil, is
// an unused handle bound to target to attach instead of a fresh one.
//
// Every successful enter must be paired with exit.
func (t *Thread) enter(target *Interpreter, ts *threadState) (switchState, error) {
	if err := target.beginUse(); err != nil {
		return switchState{}, err
	}
	if err := target.lock.acquire(t); err != nil {
		target.endUse()
		return switchState{}, interpError("entering interpreter %d from %d: %v", target.id, t.ts.interp.id, err)
	}

	sw := switchState{interp: target}
	if t.ts.interp != target {
		if ts == nil {
			ts = &threadState{interp: target, thread: t}
		}
		sw.prev = t.ts
		sw.switched = true
		t.ts = ts
	}
	t.depth++
	return sw, nil
}

func (t *Thread) exit(sw switchState) {
	if sw.switched {
		t.ts = sw.prev
	}
	t.depth--
	sw.interp.lock.release(t)
	sw.interp.endUse()
}

// run executes fn with t bound to target.
func (t *Thread) run(target *Interpreter, fn func() error) error {
	sw, err := t.enter(target, nil)
	if err != nil {
		return err
	}
	defer t.exit(sw)
	return fn()
}
