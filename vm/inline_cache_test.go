package vm

import (
	"testing"
)

func TestInlineCacheMonomorphic(t *testing.T) {
	rt := NewRuntime(DefaultOptions())
	class := rt.DefineClass("A", nil, nil)
	returns(class, "foo", int64(1))

	obj := rt.NewObject(class)
	site := NewCall(lit(obj), "foo")
	for i := 0; i < 5; i++ {
		if v := mustRun(t, rt, site); v != int64(1) {
			t.Fatalf("Expected 1, got %v", v)
		}
	}

	chain := site.Chain(rt)
	if chain.State() != CacheMonomorphic {
		t.Errorf("Expected monomorphic, got %v", chain.State())
	}
	if chain.Misses() != 1 {
		t.Errorf("Expected 1 miss, got %d", chain.Misses())
	}
	if chain.Hits() != 4 {
		t.Errorf("Expected 4 hits, got %d", chain.Hits())
	}
}

func TestInlineCacheUpgradeToPolymorphic(t *testing.T) {
	rt := NewRuntime(DefaultOptions())
	site := NewCall(&LocalRead{Index: 0}, "foo")

	for i, name := range []string{"A", "B", "C"} {
		class := rt.DefineClass(name, nil, nil)
		returns(class, "foo", int64(i))
		obj := rt.NewObject(class)
		for j := 0; j < 3; j++ {
			v := mustRun(t, rt, &Sequence{Nodes: []Node{
				&LocalWrite{Index: 0, Value: lit(obj)},
				site,
			}})
			if v != int64(i) {
				t.Fatalf("%s: expected %d, got %v", name, i, v)
			}
		}
	}

	chain := site.Chain(rt)
	if chain.State() != CachePolymorphic {
		t.Errorf("Expected polymorphic, got %v", chain.State())
	}
	if chain.Len() != 3 {
		t.Errorf("Expected 3 entries, got %d", chain.Len())
	}
	if chain.Misses() != 3 || chain.Hits() != 6 {
		t.Errorf("Expected 3 misses and 6 hits, got %d and %d", chain.Misses(), chain.Hits())
	}
}

func TestInlineCacheMegamorphic(t *testing.T) {
	rt := NewRuntime(Options{MaxCacheEntries: 2})
	site := NewCall(&LocalRead{Index: 0}, "foo")

	for i := 0; i < 4; i++ {
		class := rt.NewClass(rt.ObjectClass)
		returns(class, "foo", int64(i))
		v := mustRun(t, rt, &Sequence{Nodes: []Node{
			&LocalWrite{Index: 0, Value: lit(rt.NewObject(class))},
			site,
		}})
		if v != int64(i) {
			t.Errorf("Expected %d from megamorphic dispatch, got %v", i, v)
		}
	}

	chain := site.Chain(rt)
	if chain.State() != CacheMegamorphic {
		t.Errorf("Expected megamorphic, got %v", chain.State())
	}
	if chain.Len() != 0 {
		t.Errorf("Expected no specialized entries, got %d", chain.Len())
	}
}

func TestInlineCacheSameClassDifferentShapes(t *testing.T) {
	rt := NewRuntime(DefaultOptions())
	class := rt.DefineClass("A", nil, nil)
	returns(class, "foo", int64(1))

	plain := rt.NewObject(class)
	withField := rt.NewObject(class)
	rt.WriteField(withField, "@x", int64(1))

	site := NewCall(&LocalRead{Index: 0}, "foo")
	for _, obj := range []*Object{plain, withField, plain} {
		mustRun(t, rt, &Sequence{Nodes: []Node{&LocalWrite{Index: 0, Value: lit(obj)}, site}})
	}
	if n := site.Chain(rt).Len(); n != 2 {
		t.Errorf("Expected one entry per shape, got %d", n)
	}
}

func TestInlineCacheUnboxedBeforeBoxed(t *testing.T) {
	rt := NewRuntime(DefaultOptions())
	site := NewCall(&LocalRead{Index: 0}, "to_s")

	receivers := []Value{rt.NewObject(rt.ObjectClass), int64(3), "s", 1.5, nil}
	for _, r := range receivers {
		mustRun(t, rt, &Sequence{Nodes: []Node{&LocalWrite{Index: 0, Value: lit(r)}, site}})
	}

	chain := site.Chain(rt)
	snap := chain.snap.Load()
	if len(snap.entries) != len(receivers) {
		t.Fatalf("Expected %d entries, got %d", len(receivers), len(snap.entries))
	}
	if snap.boundary != 4 {
		t.Errorf("Expected 4 unboxed entries before the boundary, got %d", snap.boundary)
	}
	for i, e := range snap.entries {
		unboxed := e.guard == guardCategory
		if unboxed != (i < snap.boundary) {
			t.Errorf("Entry %d on the wrong side of the boundary", i)
		}
	}
}

func TestInlineCacheInvalidatedByRedefinition(t *testing.T) {
	rt := NewRuntime(DefaultOptions())
	class := rt.DefineClass("A", nil, nil)
	returns(class, "foo", int64(1))
	site := NewCall(lit(rt.NewObject(class)), "foo")

	if v := mustRun(t, rt, site); v != int64(1) {
		t.Fatalf("Expected 1, got %v", v)
	}
	returns(class, "foo", int64(2))
	if v := mustRun(t, rt, site); v != int64(2) {
		t.Errorf("Expected the redefined method, got %v", v)
	}

	chain := site.Chain(rt)
	if chain.Respecializations() != 1 {
		t.Errorf("Expected 1 respecialization, got %d", chain.Respecializations())
	}
	if chain.Len() != 1 {
		t.Errorf("Expected the stale entry to be replaced, got %d entries", chain.Len())
	}
}

func TestInlineCacheInvalidatedBySubclassOverride(t *testing.T) {
	rt := NewRuntime(DefaultOptions())
	base := rt.DefineClass("Base", nil, nil)
	returns(base, "foo", "base")
	sub := rt.DefineClass("Sub", base, nil)
	site := NewCall(lit(rt.NewObject(sub)), "foo")

	if v := mustRun(t, rt, site); v != "base" {
		t.Fatalf("Expected inherited method, got %v", v)
	}

	mixin := rt.DefineModule("Mixin", nil)
	returns(mixin, "foo", "mixin")
	if err := sub.Include(mixin); err != nil {
		t.Fatal(err)
	}
	if v := mustRun(t, rt, site); v != "mixin" {
		t.Errorf("Expected included module to win over superclass, got %v", v)
	}

	returns(sub, "foo", "sub")
	if v := mustRun(t, rt, site); v != "sub" {
		t.Errorf("Expected own method to win, got %v", v)
	}

	// Changing a module already in the lookup path also invalidates.
	returns(mixin, "bar", "bar")
	bar := NewCall(lit(rt.NewObject(sub)), "bar")
	if v := mustRun(t, rt, bar); v != "bar" {
		t.Errorf("Expected bar from the mixin, got %v", v)
	}
}

func TestInlineCacheRemoveAndUndef(t *testing.T) {
	rt := NewRuntime(DefaultOptions())
	base := rt.DefineClass("Base", nil, nil)
	returns(base, "foo", "base")
	sub := rt.DefineClass("Sub", base, nil)
	returns(sub, "foo", "sub")
	site := NewCall(lit(rt.NewObject(sub)), "foo")

	if v := mustRun(t, rt, site); v != "sub" {
		t.Fatalf("Expected sub, got %v", v)
	}

	// remove_method uncovers the inherited definition.
	if err := sub.RemoveMethod("foo"); err != nil {
		t.Fatal(err)
	}
	if v := mustRun(t, rt, site); v != "base" {
		t.Errorf("Expected base after remove_method, got %v", v)
	}

	// undef_method hides it entirely.
	if err := sub.UndefMethod("foo"); err != nil {
		t.Fatal(err)
	}
	_, err := run(rt, site)
	expectRaise(t, err, rt.NoMethodError)

	if sub.MethodDefined("foo") {
		t.Error("Expected method_defined? to be false after undef")
	}
	if err := sub.RemoveMethod("foo"); err == nil {
		t.Error("Expected remove_method of an undef marker to fail")
	}
	if err := sub.UndefMethod("foo"); err == nil {
		t.Error("Expected undef_method of an undefined method to fail")
	}
}

func TestInlineCacheCachesMissingMethod(t *testing.T) {
	rt := NewRuntime(DefaultOptions())
	class := rt.DefineClass("A", nil, nil)
	site := NewCall(lit(rt.NewObject(class)), "foo")

	for i := 0; i < 2; i++ {
		_, err := run(rt, site)
		raised := expectRaise(t, err, rt.NoMethodError)
		if raised.Message() != "undefined method 'foo' for "+Inspect(site.Receiver.(*Literal).Value) {
			t.Errorf("Unexpected message %q", raised.Message())
		}
	}
	chain := site.Chain(rt)
	if chain.Hits() != 1 || chain.Misses() != 1 {
		t.Errorf("Expected the negative lookup to be cached, got %d hits %d misses", chain.Hits(), chain.Misses())
	}

	returns(class, "foo", int64(7))
	if v := mustRun(t, rt, site); v != int64(7) {
		t.Errorf("Expected newly defined method, got %v", v)
	}
}

func TestInlineCacheRespondToSharesSite(t *testing.T) {
	rt := NewRuntime(DefaultOptions())
	class := rt.DefineClass("A", nil, nil)
	returns(class, "foo", int64(1))
	obj := rt.NewObject(class)

	chain := rt.NewCacheChain("foo", false)
	err := rt.Run(func(th *Thread) error {
		v, err := chain.Dispatch(th, obj, nil, nil, ActionRespondTo)
		if err != nil {
			return err
		}
		if v != true {
			t.Errorf("Expected respond_to true, got %v", v)
		}
		v, err = chain.Dispatch(th, obj, nil, nil, ActionCall)
		if err != nil {
			return err
		}
		if v != int64(1) {
			t.Errorf("Expected 1, got %v", v)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if chain.Len() != 2 {
		t.Errorf("Expected one entry per action, got %d", chain.Len())
	}
}

func TestInlineCacheConstantRead(t *testing.T) {
	rt := NewRuntime(DefaultOptions())
	a := rt.DefineModule("A", nil)
	b := rt.DefineModule("B", nil)
	a.SetConstant("X", int64(1))
	b.SetConstant("X", int64(2))

	site := NewConstRead(&LocalRead{Index: 0}, "X")
	read := func(scope *Module) Value {
		return mustRun(t, rt, &Sequence{Nodes: []Node{&LocalWrite{Index: 0, Value: lit(scope)}, site}})
	}

	if v := read(a); v != int64(1) {
		t.Errorf("Expected A::X = 1, got %v", v)
	}
	if v := read(b); v != int64(2) {
		t.Errorf("Expected B::X = 2, got %v", v)
	}
	a.SetConstant("X", int64(3))
	if v := read(a); v != int64(3) {
		t.Errorf("Expected reassigned constant, got %v", v)
	}

	_, err := run(rt, NewConstRead(lit(a), "Missing"))
	expectRaise(t, err, rt.NameError)
}

func TestInlineCacheReset(t *testing.T) {
	rt := NewRuntime(DefaultOptions())
	site := NewCall(lit(int64(1)), "to_s")
	mustRun(t, rt, site)

	chain := site.Chain(rt)
	chain.Reset()
	if chain.State() != CacheUninitialized || chain.Hits() != 0 || chain.Misses() != 0 {
		t.Errorf("Expected a cleared chain, got %v with %d/%d", chain.State(), chain.Hits(), chain.Misses())
	}
}

func TestCacheStats(t *testing.T) {
	rt := NewRuntime(DefaultOptions())
	class := rt.DefineClass("A", nil, nil)
	returns(class, "foo", int64(1))
	hot := NewCall(lit(rt.NewObject(class)), "foo")
	for i := 0; i < 10; i++ {
		mustRun(t, rt, hot)
	}
	rt.NewCacheChain("unused", false)

	stats := rt.CacheStats()
	if stats.TotalCallSites < 2 {
		t.Errorf("Expected at least 2 call sites, got %d", stats.TotalCallSites)
	}
	if stats.Empty < 1 {
		t.Errorf("Expected the unused site to count as empty, got %d", stats.Empty)
	}
	if stats.TotalHits < 9 {
		t.Errorf("Expected at least 9 hits, got %d", stats.TotalHits)
	}

	top := rt.HottestSites(1)
	if len(top) != 1 || top[0].Name != "foo" {
		t.Errorf("Expected foo to be the hottest site, got %+v", top)
	}
}

func TestInlineCacheDropsGeneralizedShapes(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxCacheEntries = 1
	rt := NewRuntime(opts)
	class := rt.DefineClass("Cell", nil, nil)
	returns(class, "get", int64(7))

	a := rt.NewObject(class)
	b := rt.NewObject(class)
	rt.WriteField(a, "@v", int64(1))
	rt.WriteField(b, "@v", int64(2))
	site := NewCall(lit(a), "get")
	mustRun(t, rt, site)

	old := a.Shape()
	rt.WriteField(b, "@v", "text")
	if a.Shape() != old {
		t.Fatal("Expected a to stay on the obsolete shape until its next access")
	}

	for i := 0; i < 3; i++ {
		if v := mustRun(t, rt, site); v != int64(7) {
			t.Fatalf("Expected 7, got %v", v)
		}
	}
	if a.Shape() != b.Shape() {
		t.Error("Expected dispatch to migrate the receiver onto the generalized shape")
	}

	chain := site.Chain(rt)
	if chain.State() != CacheMonomorphic {
		t.Errorf("Expected the stale entry to be replaced, got %v", chain.State())
	}
	recv := chain.Receivers()
	if len(recv) != 1 {
		t.Fatalf("Expected 1 receiver, got %+v", recv)
	}
	if len(recv[0].Fields) != 1 || recv[0].Fields[0] != "@v" {
		t.Errorf("Expected fields [@v], got %v", recv[0].Fields)
	}
	if recv[0].Hits != 2 {
		t.Errorf("Expected 2 hits on the new entry, got %d", recv[0].Hits)
	}
	if chain.Misses() != 2 {
		t.Errorf("Expected 2 misses, got %d", chain.Misses())
	}
}
