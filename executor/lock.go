package executor

import (
	"errors"
	"sync"

	"code.hybscloud.com/iox"
)

var errDeadlock = errors.New("runtime lock wait would deadlock")

// runtimeLock serializes use of an interpreter's runtime. It is reentrant
// for the thread that holds it: a thread switching back into an interpreter
// it is already executing in does not wait on itself.
type runtimeLock struct {
	mu    sync.Mutex
	owner *Thread
	depth int
}

func (l *runtimeLock) tryAcquire(th *Thread) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.owner != nil && l.owner != th {
		return false
	}
	l.owner = th
	l.depth++
	return true
}

// maxWaitChain bounds the walk along waits-for edges.
const maxWaitChain = 64

// acquire waits with adaptive backoff until th holds the lock. While it
// waits, th publishes the lock it waits for. When the holders form a cycle
// back to th, the thread with the highest id in the cycle gives up with
// errDeadlock and the others keep waiting for it to unwind.
func (l *runtimeLock) acquire(th *Thread) error {
	if l.tryAcquire(th) {
		return nil
	}
	th.waiting.StoreRelease(l)
	defer th.waiting.StoreRelease(nil)

	var bo iox.Backoff
	for !l.tryAcquire(th) {
		if victim, ok := l.cycleTo(th); ok && victim == th {
			return errDeadlock
		}
		bo.Wait()
	}
	return nil
}

// cycleTo follows holders and the locks they wait for, starting at l. It
// reports whether the chain leads back to th and which thread in it has the
// highest id.
func (l *runtimeLock) cycleTo(th *Thread) (*Thread, bool) {
	victim := th
	lock := l
	for range maxWaitChain {
		owner := lock.holder()
		if owner == nil {
			return nil, false
		}
		if owner == th {
			return victim, true
		}
		if owner.id > victim.id {
			victim = owner
		}
		if lock = owner.waiting.LoadAcquire(); lock == nil {
			return nil, false
		}
	}
	return nil, false
}

func (l *runtimeLock) holder() *Thread {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.owner
}

func (l *runtimeLock) release(th *Thread) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.owner != th || l.depth == 0 {
		panic("executor: runtime lock released by a thread that does not hold it")
	}
	l.depth--
	if l.depth == 0 {
		l.owner = nil
	}
}

func (l *runtimeLock) heldBy(th *Thread) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.owner == th && l.depth > 0
}
