package vm

import "sort"

// ---------------------------------------------------------------------------
// ObjectSpace: whole-heap queries driven by safepoints
// ---------------------------------------------------------------------------

// CollectLiveObjects stops every thread, walks the object graph from the
// roots and all stacks, and returns the reachable heap objects by id.
// t is the calling interpreter thread, or nil for a host goroutine.
func (rt *Runtime) CollectLiveObjects(t *Thread) map[int64]HeapObject {
	live := make(map[int64]HeapObject)
	rt.safepoint.Run(t, collectInto(live))
	return live
}

func collectInto(live map[int64]HeapObject) Visitor {
	return func(h HeapObject) bool {
		id := h.ObjectID()
		if _, seen := live[id]; seen {
			return false
		}
		live[id] = h
		return true
	}
}

// collectAndSweep walks the object graph and, before any thread resumes,
// schedules the finalizers of tracked objects the walk did not reach. An
// object allocated after the walk can never be mistaken for garbage.
func (rt *Runtime) collectAndSweep(t *Thread) (live map[int64]HeapObject, scheduled int) {
	live = make(map[int64]HeapObject)
	rt.safepoint.RunStopped(t, collectInto(live), func() {
		scheduled = rt.Finalizers.sweep(live)
	})
	return live, scheduled
}

// LookupID finds the live heap object with the given id.
func (rt *Runtime) LookupID(t *Thread, id int64) (HeapObject, bool) {
	var found HeapObject
	seen := make(map[int64]bool)
	rt.safepoint.Run(t, func(h HeapObject) bool {
		if found != nil || seen[h.ObjectID()] {
			return false
		}
		seen[h.ObjectID()] = true
		if h.ObjectID() == id {
			found = h
			return false
		}
		return true
	})
	return found, found != nil
}

// EachObject calls fn for every live object that is a kind of class (every
// live object when class is nil), in allocation order, and returns the
// count.
func (rt *Runtime) EachObject(t *Thread, class *Module, fn func(HeapObject)) int {
	live := rt.CollectLiveObjects(t)
	ids := make([]int64, 0, len(live))
	for id, h := range live {
		if class == nil || rt.IsKindOf(h, class) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		fn(live[id])
	}
	return len(ids)
}

// GarbageCollect finds the live objects and schedules the finalizers of
// tracked objects that are no longer reachable. It returns the number of
// objects scheduled.
func (rt *Runtime) GarbageCollect(t *Thread) int {
	_, n := rt.collectAndSweep(t)
	return n
}

func (rt *Runtime) registerObjectSpacePrimitives() {
	os := rt.ObjectSpaceModule.Metaclass()

	os.Def0("garbage_collect", func(t *Thread, self Value) (Value, error) {
		return int64(rt.GarbageCollect(t)), nil
	})
	os.DefN("define_finalizer", Arity{Required: 1, Optional: 1}, func(t *Thread, inv *Invocation) (Value, error) {
		var callable Value = inv.Block
		if len(inv.Args) > 1 {
			callable = inv.Args[1]
		}
		if err := rt.Finalizers.DefineFinalizer(t, inv.Args[0], callable); err != nil {
			return nil, err
		}
		return rt.NewArray(int64(0), callable), nil
	})
	os.Def1("undefine_finalizer", func(t *Thread, self, obj Value) (Value, error) {
		rt.Finalizers.UndefineFinalizer(obj)
		return obj, nil
	})
	os.Def1("_id2ref", func(t *Thread, self, id Value) (Value, error) {
		n, ok := id.(int64)
		if !ok {
			return nil, rt.Raise(rt.TypeError, "no implicit conversion of %s into Integer", rt.ClassOf(id).Name())
		}
		h, ok := rt.LookupID(t, n)
		if !ok {
			return nil, rt.Raise(rt.RangeError, "%d is not id value", n)
		}
		return h, nil
	})
	os.DefN("each_object", Arity{Optional: 1}, func(t *Thread, inv *Invocation) (Value, error) {
		var class *Module
		if len(inv.Args) > 0 {
			c, err := rt.moduleArg(inv.Args[0])
			if err != nil {
				return nil, err
			}
			class = c
		}
		var objs []HeapObject
		n := rt.EachObject(t, class, func(h HeapObject) { objs = append(objs, h) })
		if inv.Block == nil {
			return int64(n), nil
		}
		for _, h := range objs {
			if _, err := inv.Block.Call(t, []Value{h}, nil); err != nil {
				return nil, err
			}
		}
		return int64(n), nil
	})
}
