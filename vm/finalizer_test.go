package vm

import (
	"sync"
	"testing"
	"time"
)

// recorder collects the object ids finalizers were called with.
type recorder struct {
	mu  sync.Mutex
	ids []int64
}

func (r *recorder) proc(rt *Runtime) *Proc {
	return rt.NewNativeProc(func(t *Thread, args []Value) (Value, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.ids = append(r.ids, args[0].(int64))
		return nil, nil
	})
}

func (r *recorder) seen() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.ids...)
}

func collect(t *testing.T, rt *Runtime) int {
	t.Helper()
	var n int
	err := rt.Run(func(th *Thread) error {
		n = rt.GarbageCollect(th)
		rt.Finalizers.Drain(th)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func define(t *testing.T, rt *Runtime, obj, callable Value) error {
	t.Helper()
	return rt.Run(func(th *Thread) error {
		return rt.Finalizers.DefineFinalizer(th, obj, callable)
	})
}

func TestFinalizerRunsForUnreachableObject(t *testing.T) {
	rt := NewRuntime(DefaultOptions())
	defer rt.Shutdown()
	var rec recorder

	dead := rt.NewObject(rt.ObjectClass)
	kept := rt.NewObject(rt.ObjectClass)
	rt.SetGlobal("$kept", kept)

	for _, obj := range []*Object{dead, kept} {
		if err := define(t, rt, obj, rec.proc(rt)); err != nil {
			t.Fatal(err)
		}
	}
	if n := rt.Finalizers.Tracked(); n != 2 {
		t.Fatalf("Expected 2 tracked objects, got %d", n)
	}

	if n := collect(t, rt); n != 1 {
		t.Errorf("Expected 1 object scheduled, got %d", n)
	}
	ids := rec.seen()
	if len(ids) != 1 || ids[0] != dead.ObjectID() {
		t.Errorf("Expected finalizer for %d, got %v", dead.ObjectID(), ids)
	}
	if rt.Finalizers.Tracked() != 1 {
		t.Errorf("Expected the reachable object to stay tracked")
	}

	// A second collection does not run it again.
	collect(t, rt)
	if len(rec.seen()) != 1 {
		t.Error("Expected each finalizer to run once")
	}
}

func TestFinalizerErrorsAreIsolated(t *testing.T) {
	rt := NewRuntime(DefaultOptions())
	defer rt.Shutdown()
	var rec recorder

	failing := rt.NewNativeProc(func(th *Thread, args []Value) (Value, error) {
		return nil, rt.Raise(rt.RuntimeError, "finalizer failed")
	})
	panicking := rt.NewNativeProc(func(th *Thread, args []Value) (Value, error) {
		panic("host bug")
	})

	a := rt.NewObject(rt.ObjectClass)
	b := rt.NewObject(rt.ObjectClass)
	for _, def := range []struct {
		obj      *Object
		callable Value
	}{
		{a, failing},
		{a, rec.proc(rt)},
		{b, panicking},
		{b, rec.proc(rt)},
	} {
		if err := define(t, rt, def.obj, def.callable); err != nil {
			t.Fatal(err)
		}
	}

	collect(t, rt)

	ids := rec.seen()
	if len(ids) != 2 || ids[0] != a.ObjectID() || ids[1] != b.ObjectID() {
		t.Errorf("Expected later finalizers to run after failures, got %v", ids)
	}
	if f := rt.Finalizers.Failed(); f != 2 {
		t.Errorf("Expected 2 failures, got %d", f)
	}
	if r := rt.Finalizers.Ran(); r != 2 {
		t.Errorf("Expected 2 successful runs, got %d", r)
	}
}

func TestUndefineFinalizer(t *testing.T) {
	rt := NewRuntime(DefaultOptions())
	defer rt.Shutdown()
	var rec recorder

	obj := rt.NewObject(rt.ObjectClass)
	if err := define(t, rt, obj, rec.proc(rt)); err != nil {
		t.Fatal(err)
	}
	rt.Finalizers.UndefineFinalizer(obj)
	collect(t, rt)
	if len(rec.seen()) != 0 {
		t.Error("Expected an undefined finalizer not to run")
	}
}

func TestFinalizerRelease(t *testing.T) {
	rt := NewRuntime(DefaultOptions())
	defer rt.Shutdown()
	var rec recorder

	obj := rt.NewObject(rt.ObjectClass)
	rt.SetGlobal("$obj", obj)
	if err := define(t, rt, obj, rec.proc(rt)); err != nil {
		t.Fatal(err)
	}
	if !rt.Finalizers.Release(obj.ObjectID()) {
		t.Fatal("Expected Release to schedule the finalizer")
	}
	if rt.Finalizers.Release(obj.ObjectID()) {
		t.Error("Expected a second Release to find nothing")
	}
	rt.Finalizers.Drain(nil)
	if len(rec.seen()) != 1 {
		t.Error("Expected the released object's finalizer to run")
	}
}

func TestFinalizerArgumentErrors(t *testing.T) {
	rt := NewRuntime(DefaultOptions())
	defer rt.Shutdown()

	err := define(t, rt, int64(1), rt.NewNativeProc(func(*Thread, []Value) (Value, error) { return nil, nil }))
	expectRaise(t, err, rt.ArgumentError)

	err = define(t, rt, rt.NewObject(rt.ObjectClass), "not callable")
	expectRaise(t, err, rt.ArgumentError)
}

func TestFinalizerShutdownRunsTracked(t *testing.T) {
	rt := NewRuntime(DefaultOptions())
	var rec recorder

	obj := rt.NewObject(rt.ObjectClass)
	rt.SetGlobal("$obj", obj)
	if err := define(t, rt, obj, rec.proc(rt)); err != nil {
		t.Fatal(err)
	}

	rt.Shutdown()
	if ids := rec.seen(); len(ids) != 1 || ids[0] != obj.ObjectID() {
		t.Errorf("Expected shutdown to run the remaining finalizer, got %v", ids)
	}
	if rt.Finalizers.Tracked() != 0 {
		t.Error("Expected nothing tracked after shutdown")
	}

	err := define(t, rt, rt.NewObject(rt.ObjectClass), rec.proc(rt))
	expectRaise(t, err, rt.RuntimeError)
}

func TestObjectSpaceDefineFinalizer(t *testing.T) {
	rt := NewRuntime(DefaultOptions())
	defer rt.Shutdown()
	var rec recorder

	obj := rt.NewObject(rt.ObjectClass)
	p := rec.proc(rt)
	v := mustRun(t, rt, NewCall(lit(rt.ObjectSpaceModule), "define_finalizer", lit(obj), lit(p)))
	arr, ok := v.(*Array)
	if !ok || arr.Len() != 2 || arr.At(0) != int64(0) || arr.At(1) != p {
		t.Errorf("Expected [0, proc], got %v", Inspect(v))
	}

	n := mustRun(t, rt, NewCall(lit(rt.ObjectSpaceModule), "garbage_collect"))
	if n != int64(1) {
		t.Errorf("Expected garbage_collect to schedule 1 object, got %v", Inspect(n))
	}
	rt.Finalizers.Drain(nil)
	if len(rec.seen()) != 1 {
		t.Error("Expected the finalizer to run")
	}
}

func TestFinalizerShutdownWithoutThread(t *testing.T) {
	rt := NewRuntime(DefaultOptions())
	defer rt.Shutdown()
	var rec recorder

	obj := rt.NewObject(rt.ObjectClass)
	rt.SetGlobal("$obj", obj)
	if err := define(t, rt, obj, rec.proc(rt)); err != nil {
		t.Fatal(err)
	}

	rt.Finalizers.Shutdown(nil)
	if ids := rec.seen(); len(ids) != 1 || ids[0] != obj.ObjectID() {
		t.Errorf("Expected shutdown to run the remaining finalizer, got %v", ids)
	}
	if rt.Finalizers.Tracked() != 0 {
		t.Error("Expected nothing tracked after shutdown")
	}
}

func TestCollectionKeepsObjectsRegisteredMeanwhile(t *testing.T) {
	rt := NewRuntime(DefaultOptions())
	defer rt.Shutdown()
	var rec recorder
	p := rec.proc(rt)
	kept := rt.NewArray()
	rt.SetGlobal("$kept", kept)

	var started sync.WaitGroup
	started.Add(1)
	g := rt.NewThreadGroup()
	g.Go("registrar", func(th *Thread) error {
		started.Done()
		for i := 0; i < 100000; i++ {
			if v, _ := rt.Global("$stop"); Truthy(v) {
				return nil
			}
			obj := rt.NewObject(rt.ObjectClass)
			kept.Push(obj)
			if err := rt.Finalizers.DefineFinalizer(th, obj, p); err != nil {
				return err
			}
			th.Checkpoint()
		}
		return nil
	})
	started.Wait()

	withTimeout(t, 30*time.Second, func() {
		for i := 0; i < 50; i++ {
			if n := rt.GarbageCollect(nil); n != 0 {
				t.Errorf("Collection %d scheduled %d reachable objects", i, n)
			}
		}
	})
	rt.SetGlobal("$stop", true)
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	rt.Finalizers.Drain(nil)
	if ids := rec.seen(); len(ids) != 0 {
		t.Errorf("Expected no finalizer for a reachable object, got %d", len(ids))
	}
	if n := rt.Finalizers.Tracked(); n != kept.Len() {
		t.Errorf("Expected %d tracked objects, got %d", kept.Len(), n)
	}
}
