package vm

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// FinalizationManager: finalizers keyed by object id
// ---------------------------------------------------------------------------

var finalizerLog = commonlog.GetLogger("garnet.finalizer")

// finalizerJob is the finalizer list of one object that is ready to run.
type finalizerJob struct {
	id        int64
	callables []Value
}

// FinalizationManager tracks objects with finalizers in a side table keyed
// by object id. Finalizers of an object are scheduled when its owner
// releases it or when a liveness sweep no longer reaches it, and run in
// registration order on a dedicated interpreter thread.
//
// Errors raised by finalizers are logged and discarded.
type FinalizationManager struct {
	rt *Runtime

	mu       sync.Mutex
	cond     *sync.Cond
	tracked  map[int64][]Value
	ready    []finalizerJob
	running  int // jobs taken by the worker but not finished
	worker   *Thread
	done     chan struct{}
	stopping bool

	ran    atomic.Uint64
	failed atomic.Uint64
}

func newFinalizationManager(rt *Runtime) *FinalizationManager {
	fm := &FinalizationManager{
		rt:      rt,
		tracked: make(map[int64][]Value),
	}
	fm.cond = sync.NewCond(&fm.mu)
	return fm
}

// DefineFinalizer appends callable to obj's finalizers and starts the
// worker thread on first use. callable must respond to call; it receives
// the object id.
func (fm *FinalizationManager) DefineFinalizer(t *Thread, obj, callable Value) error {
	rt := fm.rt
	h, ok := obj.(HeapObject)
	if !ok {
		return rt.Raise(rt.ArgumentError, "cannot define finalizer for %s", rt.ClassOf(obj).Name())
	}
	ok, err := rt.RespondTo(t, callable, "call")
	if err != nil {
		return err
	}
	if !ok {
		return rt.Raise(rt.ArgumentError, "wrong type argument %s (should be callable)", rt.ClassOf(callable).Name())
	}

	fm.mu.Lock()
	defer fm.mu.Unlock()
	if fm.stopping {
		return rt.Raise(rt.RuntimeError, "finalizers are shut down")
	}
	id := h.ObjectID()
	fm.tracked[id] = append(fm.tracked[id], callable)
	if fm.worker == nil {
		fm.startWorker()
	}
	return nil
}

// UndefineFinalizer forgets every finalizer of obj.
func (fm *FinalizationManager) UndefineFinalizer(obj Value) {
	h, ok := obj.(HeapObject)
	if !ok {
		return
	}
	fm.mu.Lock()
	delete(fm.tracked, h.ObjectID())
	fm.mu.Unlock()
}

// Release schedules the finalizers of the object with the given id, for
// owners that know the object is gone. It reports whether any were
// scheduled.
func (fm *FinalizationManager) Release(id int64) bool {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	return fm.scheduleLocked(id)
}

// sweep schedules the finalizers of every tracked object absent from live
// and returns the number scheduled. It must run inside the safepoint that
// collected live: a finalizer defined after the threads resume belongs to
// an object the walk never saw.
func (fm *FinalizationManager) sweep(live map[int64]HeapObject) int {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	var dead []int64
	for id := range fm.tracked {
		if _, ok := live[id]; !ok {
			dead = append(dead, id)
		}
	}
	sort.Slice(dead, func(i, j int) bool { return dead[i] < dead[j] })
	for _, id := range dead {
		fm.scheduleLocked(id)
	}
	if len(dead) > 0 {
		finalizerLog.Debugf("sweep scheduled %d finalized objects", len(dead))
	}
	return len(dead)
}

func (fm *FinalizationManager) scheduleLocked(id int64) bool {
	callables, ok := fm.tracked[id]
	if !ok {
		return false
	}
	delete(fm.tracked, id)
	fm.ready = append(fm.ready, finalizerJob{id: id, callables: callables})
	fm.cond.Broadcast()
	return true
}

// Tracked returns the number of objects with finalizers.
func (fm *FinalizationManager) Tracked() int {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	return len(fm.tracked)
}

// Pending returns the number of objects whose finalizers are waiting to
// run.
func (fm *FinalizationManager) Pending() int {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	return len(fm.ready) + fm.running
}

// Ran returns how many finalizers completed.
func (fm *FinalizationManager) Ran() uint64 { return fm.ran.Load() }

// Failed returns how many finalizers raised.
func (fm *FinalizationManager) Failed() uint64 { return fm.failed.Load() }

// Drain waits until every scheduled finalizer has run. When t holds the
// global lock it is released while waiting.
func (fm *FinalizationManager) Drain(t *Thread) {
	wait := func() {
		fm.mu.Lock()
		for (len(fm.ready) > 0 || fm.running > 0) && fm.worker != nil {
			fm.cond.Wait()
		}
		fm.mu.Unlock()
	}
	if t != nil && t.holds {
		t.Blocking(wait)
		return
	}
	wait()
}

// Shutdown stops the worker after it drains the queue, then runs the
// finalizers of every object still tracked on t, which must hold the
// global lock. A nil t runs them on a thread of their own.
func (fm *FinalizationManager) Shutdown(t *Thread) {
	if t == nil {
		_ = fm.rt.NewThread("finalizer-shutdown").Run(func(t *Thread) error {
			fm.Shutdown(t)
			return nil
		})
		return
	}

	fm.mu.Lock()
	fm.stopping = true
	done := fm.done
	fm.cond.Broadcast()
	fm.mu.Unlock()

	if done != nil {
		t.Blocking(func() { <-done })
	}

	fm.mu.Lock()
	ids := make([]int64, 0, len(fm.tracked))
	for id := range fm.tracked {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	jobs := make([]finalizerJob, 0, len(ids)+len(fm.ready))
	jobs = append(jobs, fm.ready...)
	for _, id := range ids {
		jobs = append(jobs, finalizerJob{id: id, callables: fm.tracked[id]})
	}
	fm.ready = nil
	fm.tracked = make(map[int64][]Value)
	fm.mu.Unlock()

	for _, job := range jobs {
		fm.run(t, job)
	}
	if len(jobs) > 0 {
		finalizerLog.Infof("ran finalizers of %d objects at shutdown", len(jobs))
	}
}

// ---------------------------------------------------------------------------
// Worker
// ---------------------------------------------------------------------------

// startWorker launches the worker thread. Caller holds fm.mu.
func (fm *FinalizationManager) startWorker() {
	fm.worker = fm.rt.NewThread("finalizer")
	fm.done = make(chan struct{})
	worker, done := fm.worker, fm.done
	go func() {
		defer close(done)
		_ = worker.Run(fm.work)
	}()
	finalizerLog.Debug("finalizer thread started")
}

func (fm *FinalizationManager) work(t *Thread) error {
	for {
		job, ok := fm.next(t)
		if !ok {
			return nil
		}
		fm.run(t, job)
		fm.mu.Lock()
		fm.running--
		fm.cond.Broadcast()
		fm.mu.Unlock()
	}
}

// next takes the next ready job, waiting outside the global lock while the
// queue is empty. It returns false once stopping with nothing left.
func (fm *FinalizationManager) next(t *Thread) (finalizerJob, bool) {
	for {
		fm.mu.Lock()
		if len(fm.ready) > 0 {
			job := fm.ready[0]
			fm.ready = fm.ready[1:]
			fm.running++
			fm.mu.Unlock()
			return job, true
		}
		if fm.stopping {
			fm.mu.Unlock()
			return finalizerJob{}, false
		}
		fm.mu.Unlock()

		t.Blocking(func() {
			fm.mu.Lock()
			for len(fm.ready) == 0 && !fm.stopping {
				fm.cond.Wait()
			}
			fm.mu.Unlock()
		})
	}
}

// run calls every finalizer of job in registration order.
func (fm *FinalizationManager) run(t *Thread, job finalizerJob) {
	for _, callable := range job.callables {
		if err := fm.invoke(t, job.id, callable); err != nil {
			fm.failed.Add(1)
			finalizerLog.Warningf("finalizer for object %d failed: %s", job.id, err)
			continue
		}
		fm.ran.Add(1)
	}
}

// invoke calls one finalizer, turning a panic from a host callable into an
// error. Shape inconsistencies are runtime bugs and keep panicking.
func (fm *FinalizationManager) invoke(t *Thread, id int64, callable Value) (err error) {
	depth := t.Depth()
	defer func() {
		if r := recover(); r != nil {
			if _, fatal := r.(*ShapeInconsistencyError); fatal {
				panic(r)
			}
			for t.Depth() > depth {
				t.PopFrame()
			}
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	_, err = fm.rt.Send(t, callable, "call", id)
	return err
}
