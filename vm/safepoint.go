package vm

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/tliron/commonlog"
)

var safepointLog = commonlog.GetLogger("garnet.safepoint")

// Visitor is called once per heap object reached during a graph walk. The
// walk descends into the object's referents only when it returns true.
type Visitor func(HeapObject) bool

// SafepointCoordinator stops every interpreter thread at a checkpoint so
// the heap can be walked consistently.
//
// Protocol:
//  1. The initiator leaves the global lock, takes the in-flight mutex and
//     invalidates the pending-safepoint token.
//  2. Running threads notice at their next checkpoint, release the global
//     lock and park. Threads outside the lock stay out: entering parks them.
//  3. Once no other thread is running the initiator takes the global lock.
//     Parked threads visit their own stacks; the initiator visits the
//     global roots and the stacks of threads that were outside the lock.
//  4. When every parked thread has finished visiting, the initiator runs
//     its stopped callback, if any, while nothing else can touch the heap.
//     Then the token is renewed and all threads resume.
//
// A thread that never reaches a checkpoint stalls step 2 indefinitely.
type SafepointCoordinator struct {
	rt       *Runtime
	inflight sync.Mutex
	token    atomic.Pointer[Assumption]

	mu       sync.Mutex
	cond     *sync.Cond
	active   bool
	visiting bool
	epoch    uint64
	stopped  map[*Thread]bool // parked at a checkpoint this epoch
	pending  int
	visit    Visitor

	visitMu sync.Mutex

	count        atomic.Uint64
	lastDuration atomic.Int64
}

func newSafepointCoordinator(rt *Runtime) *SafepointCoordinator {
	s := &SafepointCoordinator{rt: rt}
	s.cond = sync.NewCond(&s.mu)
	s.token.Store(NewAssumption("no safepoint pending"))
	return s
}

// Count returns the number of completed safepoints.
func (s *SafepointCoordinator) Count() uint64 { return s.count.Load() }

// LastDuration returns how long the most recent safepoint took.
func (s *SafepointCoordinator) LastDuration() time.Duration {
	return time.Duration(s.lastDuration.Load())
}

// Run performs one safepoint, calling visit for every heap object reachable
// from the roots and from every thread's stack. t is the calling
// interpreter thread, or nil for a host goroutine that is not one.
func (s *SafepointCoordinator) Run(t *Thread, visit Visitor) {
	s.RunStopped(t, visit, nil)
}

// RunStopped is Run, then calls stopped after the whole graph was visited
// and before any thread resumes.
func (s *SafepointCoordinator) RunStopped(t *Thread, visit Visitor, stopped func()) {
	held := t != nil && t.holds
	if held {
		t.LeaveGlobalLock()
	}

	s.inflight.Lock()
	defer s.inflight.Unlock()
	start := time.Now()

	// Phase 1: stop everyone.
	s.mu.Lock()
	s.epoch++
	s.active = true
	s.visiting = false
	s.stopped = make(map[*Thread]bool)
	s.token.Load().Invalidate()
	for !s.othersQuiescent(t) {
		s.cond.Wait()
	}
	s.mu.Unlock()

	s.rt.gil.acquire(t)

	// Phase 2: visit.
	s.mu.Lock()
	var outside []*Thread
	for _, th := range s.rt.Threads() {
		if th != t && !s.stopped[th] {
			outside = append(outside, th)
		}
	}
	s.visit = visit
	s.pending = len(s.stopped)
	s.visiting = true
	s.cond.Broadcast()
	s.mu.Unlock()

	walk := walker(visit)
	s.visitMu.Lock()
	s.visitRoots(walk)
	if t != nil {
		t.visitStack(walk)
	}
	for _, th := range outside {
		th.visitStack(walk)
	}
	s.visitMu.Unlock()

	// Resume once every parked thread has visited its stack.
	s.mu.Lock()
	for s.pending > 0 {
		s.cond.Wait()
	}
	s.mu.Unlock()

	if stopped != nil {
		stopped()
	}

	s.mu.Lock()
	s.token.Store(NewAssumption("no safepoint pending"))
	s.active = false
	s.visiting = false
	s.stopped = nil
	s.visit = nil
	s.cond.Broadcast()
	s.mu.Unlock()

	s.rt.gil.release(t)

	elapsed := time.Since(start)
	s.count.Add(1)
	s.lastDuration.Store(int64(elapsed))
	safepointLog.Debugf("safepoint complete in %s (%d threads outside the lock)", elapsed, len(outside))

	if held {
		t.EnterGlobalLock()
	}
}

// othersQuiescent reports whether every thread other than self is parked,
// blocked, new or dead. Caller holds s.mu.
func (s *SafepointCoordinator) othersQuiescent(self *Thread) bool {
	for _, th := range s.rt.Threads() {
		if th != self && !th.State().quiescent() {
			return false
		}
	}
	return true
}

// park stops t at a checkpoint until the pending safepoint completes,
// visiting t's stack when asked to.
func (s *SafepointCoordinator) park(t *Thread) {
	t.holds = false
	s.rt.gil.release(t)

	s.mu.Lock()
	epoch := s.epoch
	if s.active && !s.visiting {
		s.stopped[t] = true
	}
	t.state.Store(int32(ThreadParked))
	s.cond.Broadcast()

	for s.active && s.epoch == epoch && !s.visiting {
		s.cond.Wait()
	}
	if s.active && s.epoch == epoch && s.stopped[t] {
		visit := s.visit
		s.mu.Unlock()

		s.visitMu.Lock()
		t.visitStack(walker(visit))
		s.visitMu.Unlock()

		s.mu.Lock()
		s.pending--
		s.cond.Broadcast()
	}
	for s.active && s.epoch == epoch {
		s.cond.Wait()
	}
	t.state.Store(int32(ThreadRunning))
	s.mu.Unlock()

	s.rt.gil.acquire(t)
	t.holds = true
}

// enter waits out an in-flight safepoint before a thread takes the global
// lock, then marks it running.
func (s *SafepointCoordinator) enter(t *Thread) {
	s.mu.Lock()
	for s.active {
		t.state.Store(int32(ThreadParked))
		s.cond.Broadcast()
		s.cond.Wait()
	}
	t.state.Store(int32(ThreadRunning))
	s.mu.Unlock()
}

func (s *SafepointCoordinator) setState(t *Thread, state ThreadState) {
	s.mu.Lock()
	t.state.Store(int32(state))
	s.cond.Broadcast()
	s.mu.Unlock()
}

// visitRoots walks the globals table, the main object and the class
// hierarchy reachable from Object.
func (s *SafepointCoordinator) visitRoots(walk func(Value)) {
	rt := s.rt
	for _, v := range rt.globalValues() {
		walk(v)
	}
	walk(rt.Main)
	walk(rt.BasicObjectClass)
	walk(rt.ObjectClass)
}

// walker returns a function that walks the object graph from a root,
// depth first, consulting visit at each heap object.
func walker(visit Visitor) func(Value) {
	var stack []HeapObject
	push := func(v Value) {
		if h, ok := v.(HeapObject); ok {
			stack = append(stack, h)
		}
	}
	return func(root Value) {
		push(root)
		for len(stack) > 0 {
			h := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if visit(h) {
				h.visitReferents(push)
			}
		}
	}
}
