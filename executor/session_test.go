package executor

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/caffeineduck/xinterp/xidata"
)

func TestSessionSharedBinding(t *testing.T) {
	exec := newTestExecutor(t)
	th := exec.MainThread()
	a := createInterp(t, exec, "isolated")

	s := th.NewSession()
	if err := s.Enter(a, map[string]any{"greeting": "hi", "n": int64(2)}); err != nil {
		t.Fatalf("enter failed: %v", err)
	}
	if th.Current() != a {
		t.Fatalf("thread bound to %d, want %d", th.InterpreterID(), a.ID())
	}
	ns, err := s.MainNamespace()
	if err != nil {
		t.Fatalf("main namespace failed: %v", err)
	}
	if v, ok := ns.Get("greeting"); !ok || v != "hi" {
		t.Errorf("greeting = %v, %v", v, ok)
	}
	res, err := s.Exit(nil)
	if err != nil {
		t.Fatalf("exit failed: %v", err)
	}
	if res.Failure != nil {
		t.Errorf("unexpected failure %v", res.Failure)
	}
	if th.Current() != exec.Main() {
		t.Error("thread not restored")
	}
}

func TestSessionEnterFailureStaysIdle(t *testing.T) {
	exec := newTestExecutor(t)
	th := exec.MainThread()
	a := createInterp(t, exec, "isolated")

	s := th.NewSession()
	err := s.Enter(a, map[string]any{"bad": []any{1}})
	if !errors.Is(err, xidata.ErrNotShareable) {
		t.Fatalf("error = %v, want ErrNotShareable", err)
	}
	if th.Current() != exec.Main() || th.Depth() != 0 {
		t.Error("failed enter switched the thread")
	}
	if a.IsRunning() {
		t.Error("failed enter left the target running")
	}
	if _, err := s.Exit(nil); !errors.Is(err, ErrSessionState) {
		t.Errorf("exit after failed enter = %v, want ErrSessionState", err)
	}

	// The session is still idle and can be entered.
	if err := s.Enter(a, nil); err != nil {
		t.Fatalf("enter after failure: %v", err)
	}
	if _, err := s.Exit(nil); err != nil {
		t.Fatalf("exit failed: %v", err)
	}
}

func TestSessionEnterDestroyed(t *testing.T) {
	exec := newTestExecutor(t)
	th := exec.MainThread()
	a := createInterp(t, exec, "isolated")
	exec.Destroy(th, a.ID())

	err := th.NewSession().Enter(a, nil)
	if !errors.Is(err, ErrInterpreterNotFound) {
		t.Errorf("error = %v, want ErrInterpreterNotFound", err)
	}
	if th.Current() != exec.Main() {
		t.Error("thread switched")
	}
}

func TestSessionMisuse(t *testing.T) {
	exec := newTestExecutor(t)
	th := exec.MainThread()
	a := createInterp(t, exec, "isolated")

	s := th.NewSession()
	if _, err := s.MainNamespace(); !errors.Is(err, ErrSessionState) {
		t.Errorf("namespace before enter = %v", err)
	}
	if err := s.Preserve("x", 1); !errors.Is(err, ErrSessionState) {
		t.Errorf("preserve before enter = %v", err)
	}
	s.Enter(a, nil)
	s.Exit(nil)
	if _, err := s.Exit(nil); !errors.Is(err, ErrSessionState) {
		t.Errorf("second exit = %v", err)
	}
	if err := s.Enter(a, nil); !errors.Is(err, ErrSessionState) {
		t.Errorf("enter on used session = %v", err)
	}
}

func TestSessionCapturesFailure(t *testing.T) {
	exec := newTestExecutor(t)
	th := exec.MainThread()
	a := createInterp(t, exec, "isolated")

	s := th.NewSession()
	s.Enter(a, nil)
	res, err := s.Exit(xidata.NewException(xidata.ValueError, "boom"))
	if err != nil {
		t.Fatalf("crossing failure returned natively: %v", err)
	}
	if res.Failure == nil || res.Failure.Type.Name != xidata.ValueError {
		t.Errorf("unexpected failure %v", res.Failure)
	}
}

func TestSessionSameInterpreterPropagates(t *testing.T) {
	exec := newTestExecutor(t)
	a := createInterp(t, exec, "isolated")
	th := threadIn(t, exec, a)

	work := xidata.NewException(xidata.ValueError, "boom")
	s := th.NewSession()
	if err := s.Enter(a, nil); err != nil {
		t.Fatalf("enter failed: %v", err)
	}
	res, err := s.Exit(work)
	if err != work {
		t.Errorf("error = %v, want the work error itself", err)
	}
	if res.Failure != nil {
		t.Errorf("same-interpreter failure captured: %v", res.Failure)
	}
}

func TestSessionPreserve(t *testing.T) {
	exec := newTestExecutor(t)
	th := exec.MainThread()
	a := createInterp(t, exec, "isolated")

	s := th.NewSession()
	s.Enter(a, nil)
	obj, err := a.Runtime().Eval(th, "object")
	if err != nil {
		t.Fatalf("eval failed: %v", err)
	}
	s.Preserve("n", int64(5))
	s.Preserve("n", int64(6))
	s.Preserve("obj", obj)
	res, _ := s.Exit(nil)
	defer res.Release()

	n, err := res.Preserved("n")
	if err != nil || n != int64(6) {
		t.Errorf("n = %v, %v", n, err)
	}
	v, err := res.Preserved("obj")
	if err != nil {
		t.Fatalf("preserved obj: %v", err)
	}
	p, ok := v.(*Proxy)
	if !ok || p.Owner() != a {
		t.Errorf("obj = %T, want proxy owned by %d", v, a.ID())
	}
	if _, err := res.Preserved("n"); !errors.Is(err, ErrNotPreserved) {
		t.Errorf("second read = %v, want ErrNotPreserved", err)
	}
}

// nest enters a random interpreter depth times, optionally failing the work
// or the enter, and checks that every exit restores the thread.
func nest(t *testing.T, rng *rand.Rand, th *Thread, targets []*Interpreter, depth int) {
	t.Helper()
	if depth == 0 {
		return
	}
	before, beforeDepth := th.Current(), th.Depth()

	target := targets[rng.IntN(len(targets))]
	s := th.NewSession()
	if err := s.Enter(target, nil); err != nil {
		if th.Current() != before || th.Depth() != beforeDepth {
			t.Fatalf("failed enter into %d moved the thread", target.ID())
		}
		nest(t, rng, th, targets, depth-1)
		return
	}
	if th.Current() != target {
		t.Fatalf("bound to %d after enter, want %d", th.InterpreterID(), target.ID())
	}

	nest(t, rng, th, targets, depth-1)

	var work error
	if rng.IntN(2) == 0 {
		work = xidata.NewException(xidata.RuntimeError, "work failed")
	}
	if _, err := s.Exit(work); err != nil && err != work {
		t.Fatalf("exit failed: %v", err)
	}
	if th.Current() != before || th.Depth() != beforeDepth {
		t.Fatalf("exit restored %d at depth %d, want %d at depth %d",
			th.InterpreterID(), th.Depth(), before.ID(), beforeDepth)
	}
}

func TestSessionBalanceRandomNesting(t *testing.T) {
	exec := newTestExecutor(t)
	a := createInterp(t, exec, "isolated")
	b := createInterp(t, exec, "legacy")
	c := createInterp(t, exec, "isolated")
	gone := createInterp(t, exec, "isolated")
	exec.Destroy(exec.MainThread(), gone.ID())

	targets := []*Interpreter{exec.Main(), a, b, c, gone}
	rng := rand.New(rand.NewPCG(1, 2))

	for i := 0; i < 200; i++ {
		th := exec.MainThread()
		depth := rng.IntN(6)
		nest(t, rng, th, targets, depth)
		if th.Current() != exec.Main() || th.Depth() != 0 {
			t.Fatalf("round %d: thread ended in %d at depth %d", i, th.InterpreterID(), th.Depth())
		}
	}
	for _, interp := range []*Interpreter{a, b, c} {
		if interp.IsRunning() {
			t.Errorf("interpreter %d still running", interp.ID())
		}
	}
}
