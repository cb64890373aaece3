package main

import (
	"fmt"
	"sync/atomic"

	"github.com/chazu/garnet/manifest"
	"github.com/chazu/garnet/vm"
)

// Locals of the per-thread loop.
const (
	slotShapes = iota
	slotIndex
	slotSum
	slotObject
	loopLocals
)

// finalizeEvery is how often the loop attaches a finalizer to the object
// it just built.
const finalizeEvery = 1000

// workload is a polymorphic call loop. Each thread walks the same syntax
// tree, so the call sites and field sites are shared and their caches see
// every class the threads instantiate.
type workload struct {
	cfg     manifest.Workload
	classes []*vm.Module
	loop    vm.Node

	finalized atomic.Int64
	sums      []int64
}

func i64(n int) vm.Node { return &vm.Literal{Value: int64(n)} }

func local(i int) vm.Node { return &vm.LocalRead{Index: i} }

func setLocal(i int, v vm.Node) vm.Node { return &vm.LocalWrite{Index: i, Value: v} }

// newWorkload defines cfg.Shapes classes, each laying out its instance
// variables in a different order, and builds the loop that exercises them.
func newWorkload(rt *vm.Runtime, cfg manifest.Workload) *workload {
	w := &workload{cfg: cfg, sums: make([]int64, cfg.Threads)}

	shapes := cfg.Shapes
	if shapes < 1 {
		shapes = 1
	}
	for k := 0; k < shapes; k++ {
		cls := rt.DefineClass(fmt.Sprintf("Shape%d", k), nil, nil)

		writes := []vm.Node{
			vm.NewFieldWrite(nil, "@x", local(0)),
			vm.NewFieldWrite(nil, "@scale", i64(k+1)),
			vm.NewFieldWrite(nil, fmt.Sprintf("@tag%d", k), i64(k)),
		}
		if k%2 == 1 {
			writes[0], writes[1] = writes[1], writes[0]
		}
		cls.Def("initialize", &vm.MethodBody{
			Required: 1,
			Locals:   1,
			Body:     &vm.Sequence{Nodes: writes},
		}, vm.Private)

		cls.Def("area", &vm.MethodBody{
			Body: vm.NewCall(vm.NewFieldRead(nil, "@x"), "*", vm.NewFieldRead(nil, "@scale")),
		}, vm.Public)

		cls.DefineAttrAccessor("hits")
		w.classes = append(w.classes, cls)
	}
	rt.SetGlobal("$shapes", rt.NewArray(classValues(w.classes)...))

	// shapes = $shapes; sum = 0; i = 0
	// while i < iterations
	//   obj = shapes[i % shapes.size].new(i)
	//   obj.hits = i
	//   sum = sum + obj.area
	//   i = i + 1
	// end
	// sum
	w.loop = &vm.Sequence{Nodes: []vm.Node{
		setLocal(slotShapes, &vm.GlobalRead{Name: "$shapes"}),
		setLocal(slotSum, i64(0)),
		setLocal(slotIndex, i64(0)),
		&vm.While{
			Cond: vm.NewCall(local(slotIndex), "<", i64(cfg.Iterations)),
			Body: &vm.Sequence{Nodes: []vm.Node{
				setLocal(slotObject, vm.NewCall(
					vm.NewCall(local(slotShapes), "[]",
						vm.NewCall(local(slotIndex), "%", vm.NewCall(local(slotShapes), "size"))),
					"new", local(slotIndex))),
				vm.NewCall(local(slotObject), "hits=", local(slotIndex)),
				setLocal(slotSum, vm.NewCall(local(slotSum), "+", vm.NewCall(local(slotObject), "area"))),
				&vm.If{
					Cond: vm.NewCall(vm.NewCall(local(slotIndex), "%", i64(finalizeEvery)), "==", i64(0)),
					Then: vm.NewCall(nil, "track", local(slotObject)),
				},
				setLocal(slotIndex, vm.NewCall(local(slotIndex), "+", i64(1))),
			}},
		},
		local(slotSum),
	}}

	// track(obj) attaches a finalizer counting reclaimed objects.
	track := vm.Method1Func(func(t *vm.Thread, self, obj vm.Value) (vm.Value, error) {
		fin := rt.NewNativeProc(func(t *vm.Thread, args []vm.Value) (vm.Value, error) {
			w.finalized.Add(1)
			return nil, nil
		})
		return obj, rt.Finalizers.DefineFinalizer(t, obj, fin)
	})
	rt.ObjectClass.DefineMethod(&vm.MethodEntry{
		Name:       "track",
		Body:       track,
		Arity:      vm.Arity{Required: 1},
		Visibility: vm.Private,
	})
	return w
}

func classValues(classes []*vm.Module) []vm.Value {
	out := make([]vm.Value, len(classes))
	for i, c := range classes {
		out[i] = c
	}
	return out
}

// run starts the configured number of threads and waits for them.
func (w *workload) run(rt *vm.Runtime) error {
	g := rt.NewThreadGroup()
	for i := 0; i < w.cfg.Threads; i++ {
		i := i
		g.Go(fmt.Sprintf("worker-%d", i), func(t *vm.Thread) error {
			v, err := rt.Execute(t, w.loop, loopLocals)
			if err != nil {
				return fmt.Errorf("worker-%d: %w", i, err)
			}
			w.sums[i], _ = v.(int64)
			return nil
		})
	}
	return g.Wait()
}

// expected is the sum each thread should produce.
func (w *workload) expected() int64 {
	var sum int64
	n := len(w.classes)
	for i := 0; i < w.cfg.Iterations; i++ {
		sum += int64(i) * int64(i%n+1)
	}
	return sum
}
