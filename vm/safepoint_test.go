package vm

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// spinUntilStopped calls ping on marker until $stop is set. marker stays on
// the thread's stack as frame self and in a local.
func spinUntilStopped(rt *Runtime, marker *Object, started *sync.WaitGroup) func(t *Thread) error {
	return func(t *Thread) error {
		f := t.PushFrame(NewFrame(t, marker, rt.ObjectClass, 1))
		f.SetLocal(0, marker)
		defer t.PopFrame()
		started.Done()
		for {
			if v, _ := rt.Global("$stop"); Truthy(v) {
				return nil
			}
			if _, err := rt.Send(t, marker, "ping"); err != nil {
				return err
			}
		}
	}
}

func withTimeout(t *testing.T, d time.Duration, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatal("timed out waiting for safepoint")
	}
}

func TestSafepointVisitsEveryThreadStack(t *testing.T) {
	rt := NewRuntime(DefaultOptions())
	class := rt.DefineClass("Marker", nil, nil)
	returns(class, "ping", nil)

	const n = 4
	var started sync.WaitGroup
	started.Add(n)
	markers := make([]*Object, n)
	g := rt.NewThreadGroup()
	for i := range markers {
		markers[i] = rt.NewObject(class)
		g.Go("spinner", spinUntilStopped(rt, markers[i], &started))
	}
	started.Wait()

	for round := 0; round < 5; round++ {
		seen := make(map[int64]bool)
		withTimeout(t, 10*time.Second, func() {
			rt.Safepoints().Run(nil, func(h HeapObject) bool {
				if seen[h.ObjectID()] {
					return false
				}
				seen[h.ObjectID()] = true
				return true
			})
		})
		for i, m := range markers {
			if !seen[m.ObjectID()] {
				t.Errorf("Round %d: marker %d on a running thread was not visited", round, i)
			}
		}
	}

	rt.SetGlobal("$stop", true)
	if err := g.Wait(); err != nil {
		t.Fatalf("Thread failed: %v", err)
	}
	if c := rt.Safepoints().Count(); c != 5 {
		t.Errorf("Expected 5 safepoints, got %d", c)
	}
}

func TestSafepointWithBlockedThread(t *testing.T) {
	rt := NewRuntime(DefaultOptions())
	marker := rt.NewObject(rt.ObjectClass)

	inside := make(chan struct{})
	release := make(chan struct{})
	g := rt.NewThreadGroup()
	g.Go("blocker", func(th *Thread) error {
		th.PushFrame(NewFrame(th, marker, rt.ObjectClass, 0))
		defer th.PopFrame()
		th.Blocking(func() {
			close(inside)
			<-release
		})
		return nil
	})
	<-inside

	var found bool
	withTimeout(t, 10*time.Second, func() {
		found = rt.CollectLiveObjects(nil)[marker.ObjectID()] != nil
	})
	if !found {
		t.Error("Expected the stack of a blocked thread to be visited")
	}

	close(release)
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
}

func TestSafepointWithPassingThreads(t *testing.T) {
	rt := NewRuntime(DefaultOptions())

	var started sync.WaitGroup
	started.Add(2)
	g := rt.NewThreadGroup()
	for i := 0; i < 2; i++ {
		g.Go("passer", func(th *Thread) error {
			started.Done()
			for {
				if v, _ := rt.Global("$stop"); Truthy(v) {
					return nil
				}
				th.Pass()
			}
		})
	}
	started.Wait()

	withTimeout(t, 10*time.Second, func() {
		for i := 0; i < 10; i++ {
			rt.CollectLiveObjects(nil)
		}
	})
	rt.SetGlobal("$stop", true)
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if c := rt.Safepoints().Count(); c != 10 {
		t.Errorf("Expected 10 safepoints, got %d", c)
	}
}

func TestSafepointFromInterpreterThread(t *testing.T) {
	rt := NewRuntime(DefaultOptions())
	class := rt.DefineClass("Marker", nil, nil)
	returns(class, "ping", nil)

	var started sync.WaitGroup
	started.Add(1)
	g := rt.NewThreadGroup()
	other := rt.NewObject(class)
	g.Go("spinner", spinUntilStopped(rt, other, &started))
	started.Wait()

	mine := rt.NewObject(class)
	withTimeout(t, 10*time.Second, func() {
		err := rt.Run(func(th *Thread) error {
			th.PushFrame(NewFrame(th, mine, rt.ObjectClass, 0))
			defer th.PopFrame()
			live := rt.CollectLiveObjects(th)
			if live[mine.ObjectID()] == nil {
				t.Error("Expected the initiating thread's stack to be visited")
			}
			if live[other.ObjectID()] == nil {
				t.Error("Expected the other thread's stack to be visited")
			}
			if !th.HoldsGlobalLock() {
				t.Error("Expected the initiator to hold the global lock again")
			}
			return nil
		})
		if err != nil {
			t.Error(err)
		}
	})

	rt.SetGlobal("$stop", true)
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
}

func TestThreadStates(t *testing.T) {
	rt := NewRuntime(DefaultOptions())
	th := rt.NewThread("worker")
	if th.State() != ThreadNew {
		t.Errorf("Expected new, got %v", th.State())
	}
	err := th.Run(func(th *Thread) error {
		if th.State() != ThreadRunning {
			t.Errorf("Expected running, got %v", th.State())
		}
		if rt.GlobalLock().Holder() != th {
			t.Error("Expected the thread to hold the global lock")
		}
		th.Blocking(func() {
			if th.State() != ThreadBlocked {
				t.Errorf("Expected blocked, got %v", th.State())
			}
		})
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if th.State() != ThreadDead {
		t.Errorf("Expected dead, got %v", th.State())
	}
	for _, other := range rt.Threads() {
		if other == th {
			t.Error("Expected a finished thread to be unregistered")
		}
	}
}

func TestConcurrentSafepointInitiators(t *testing.T) {
	rt := NewRuntime(DefaultOptions())
	class := rt.DefineClass("Marker", nil, nil)
	returns(class, "ping", nil)

	var started sync.WaitGroup
	started.Add(1)
	spinners := rt.NewThreadGroup()
	marker := rt.NewObject(class)
	spinners.Go("spinner", spinUntilStopped(rt, marker, &started))
	started.Wait()

	const initiators, rounds = 3, 10
	var inside, overlaps, missed atomic.Int32
	g := rt.NewThreadGroup()
	for i := 0; i < initiators; i++ {
		g.Go("initiator", func(th *Thread) error {
			for r := 0; r < rounds; r++ {
				live := make(map[int64]HeapObject)
				rt.Safepoints().RunStopped(th, collectInto(live), func() {
					if inside.Add(1) != 1 {
						overlaps.Add(1)
					}
					time.Sleep(time.Millisecond)
					inside.Add(-1)
				})
				if live[marker.ObjectID()] == nil {
					missed.Add(1)
				}
			}
			return nil
		})
	}
	withTimeout(t, 30*time.Second, func() {
		if err := g.Wait(); err != nil {
			t.Error(err)
		}
	})

	rt.SetGlobal("$stop", true)
	if err := spinners.Wait(); err != nil {
		t.Fatal(err)
	}
	if n := overlaps.Load(); n != 0 {
		t.Errorf("Expected one safepoint at a time, %d overlapped", n)
	}
	if n := missed.Load(); n != 0 {
		t.Errorf("Expected every safepoint to visit the spinner's stack, %d missed it", n)
	}
	if c := rt.Safepoints().Count(); c != initiators*rounds {
		t.Errorf("Expected %d safepoints, got %d", initiators*rounds, c)
	}
}

func TestFinalizerWaitsForSafepoint(t *testing.T) {
	rt := NewRuntime(DefaultOptions())
	defer rt.Shutdown()
	var rec recorder

	obj := rt.NewObject(rt.ObjectClass)
	rt.SetGlobal("$obj", obj)
	if err := define(t, rt, obj, rec.proc(rt)); err != nil {
		t.Fatal(err)
	}

	var release sync.Once
	var during, after []int64
	live := make(map[int64]HeapObject)
	collectLive := collectInto(live)
	withTimeout(t, 10*time.Second, func() {
		rt.Safepoints().RunStopped(nil, func(h HeapObject) bool {
			release.Do(func() { rt.Finalizers.Release(obj.ObjectID()) })
			return collectLive(h)
		}, func() {
			time.Sleep(20 * time.Millisecond)
			during = rec.seen()
		})
	})
	if len(during) != 0 {
		t.Errorf("Expected no finalizer to run while threads are stopped, got %v", during)
	}

	rt.Finalizers.Drain(nil)
	after = rec.seen()
	if len(after) != 1 || after[0] != obj.ObjectID() {
		t.Errorf("Expected the finalizer to run after the safepoint, got %v", after)
	}
}
