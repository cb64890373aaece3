package vm

import (
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// ThreadState tracks where an interpreter thread is relative to the global
// lock and the safepoint protocol.
type ThreadState int32

const (
	ThreadNew     ThreadState = iota // registered, not yet running
	ThreadRunning                    // holds or is acquiring the global lock
	ThreadBlocked                    // outside the global lock in a blocking region
	ThreadParked                     // stopped at a safepoint
	ThreadDead                       // finished
)

func (s ThreadState) String() string {
	switch s {
	case ThreadNew:
		return "new"
	case ThreadRunning:
		return "running"
	case ThreadBlocked:
		return "blocked"
	case ThreadParked:
		return "parked"
	default:
		return "dead"
	}
}

// quiescent reports whether a thread in this state cannot touch the heap.
func (s ThreadState) quiescent() bool {
	return s != ThreadRunning
}

// Thread is an interpreter thread: one goroutine executing language code
// under the global lock. A Thread must only be used by the goroutine that
// runs it.
type Thread struct {
	id    int64
	name  string
	rt    *Runtime
	state atomic.Int32
	holds bool
	ticks uint32

	frames []*Frame
}

// SwitchInterval is how many checkpoints a thread passes before it offers
// the global lock to a waiting thread.
const SwitchInterval = 1024

// Name returns the thread's name.
func (t *Thread) Name() string { return t.name }

// ID returns the thread's runtime-unique id.
func (t *Thread) ID() int64 { return t.id }

// Runtime returns the runtime the thread belongs to.
func (t *Thread) Runtime() *Runtime { return t.rt }

// State returns the thread's current state.
func (t *Thread) State() ThreadState { return ThreadState(t.state.Load()) }

// HoldsGlobalLock reports whether the thread currently holds the lock.
func (t *Thread) HoldsGlobalLock() bool { return t.holds }

// EnterGlobalLock acquires the global lock, first waiting out any
// safepoint in progress.
func (t *Thread) EnterGlobalLock() {
	t.rt.safepoint.enter(t)
	t.rt.gil.acquire(t)
	t.holds = true
	t.Checkpoint()
}

// LeaveGlobalLock releases the global lock. The thread counts as blocked
// until it enters again.
func (t *Thread) LeaveGlobalLock() {
	t.holds = false
	t.rt.gil.release(t)
	t.rt.safepoint.setState(t, ThreadBlocked)
}

// Blocking runs fn outside the global lock. Use it around any wait that
// could take unbounded time so other threads and safepoints can proceed.
func (t *Thread) Blocking(fn func()) {
	t.LeaveGlobalLock()
	defer t.EnterGlobalLock()
	fn()
}

// Pass yields the global lock to other threads.
func (t *Thread) Pass() {
	t.LeaveGlobalLock()
	runtime.Gosched()
	t.EnterGlobalLock()
}

// Checkpoint parks the thread if a safepoint is pending, and every
// SwitchInterval calls yields the global lock when another thread wants it.
func (t *Thread) Checkpoint() {
	if !t.holds {
		return
	}
	if !t.rt.safepoint.token.Load().IsValid() {
		t.rt.safepoint.park(t)
		return
	}
	t.ticks++
	if t.ticks%SwitchInterval == 0 && t.rt.gil.Waiting() > 0 {
		t.Pass()
	}
}

// ---------------------------------------------------------------------------
// Frames
// ---------------------------------------------------------------------------

// PushFrame makes f the thread's current frame.
func (t *Thread) PushFrame(f *Frame) *Frame {
	f.thread = t
	t.frames = append(t.frames, f)
	return f
}

// PopFrame removes the current frame.
func (t *Thread) PopFrame() {
	t.frames[len(t.frames)-1] = nil
	t.frames = t.frames[:len(t.frames)-1]
}

// CurrentFrame returns the innermost frame, nil when idle.
func (t *Thread) CurrentFrame() *Frame {
	if len(t.frames) == 0 {
		return nil
	}
	return t.frames[len(t.frames)-1]
}

// Self returns the current frame's self, or the main object when idle.
func (t *Thread) Self() Value {
	if f := t.CurrentFrame(); f != nil {
		return f.Self
	}
	return t.rt.Main
}

// Depth returns the number of frames on the stack.
func (t *Thread) Depth() int { return len(t.frames) }

func (t *Thread) visitStack(fn func(Value)) {
	for _, f := range t.frames {
		f.visitValues(fn)
	}
}

// ---------------------------------------------------------------------------
// Starting threads
// ---------------------------------------------------------------------------

// NewThread registers a thread that has not started yet.
func (rt *Runtime) NewThread(name string) *Thread {
	t := &Thread{id: rt.allocID(), name: name, rt: rt}
	t.state.Store(int32(ThreadNew))
	rt.threadsMu.Lock()
	rt.threads[t] = struct{}{}
	rt.threadsMu.Unlock()
	return t
}

// Run executes fn on t under the global lock and retires the thread when
// fn returns.
func (t *Thread) Run(fn func(t *Thread) error) error {
	t.EnterGlobalLock()
	defer t.retire()
	return fn(t)
}

func (t *Thread) retire() {
	if t.holds {
		t.holds = false
		t.rt.gil.release(t)
	}
	t.rt.safepoint.setState(t, ThreadDead)
	t.rt.threadsMu.Lock()
	delete(t.rt.threads, t)
	t.rt.threadsMu.Unlock()
}

// Threads returns a snapshot of the registered threads.
func (rt *Runtime) Threads() []*Thread {
	rt.threadsMu.Lock()
	defer rt.threadsMu.Unlock()
	out := make([]*Thread, 0, len(rt.threads))
	for t := range rt.threads {
		out = append(out, t)
	}
	return out
}

// ThreadGroup starts interpreter threads and joins them.
type ThreadGroup struct {
	rt *Runtime
	g  errgroup.Group
}

// NewThreadGroup creates an empty group.
func (rt *Runtime) NewThreadGroup() *ThreadGroup {
	return &ThreadGroup{rt: rt}
}

// Go starts fn on a new interpreter thread. The thread is registered
// before the goroutine starts, so a safepoint never misses it.
func (g *ThreadGroup) Go(name string, fn func(t *Thread) error) {
	t := g.rt.NewThread(name)
	g.g.Go(func() error {
		return t.Run(fn)
	})
}

// Wait blocks until every thread in the group finishes and returns the
// first error. A thread holding the global lock must wrap Wait in
// Thread.Blocking.
func (g *ThreadGroup) Wait() error {
	return g.g.Wait()
}
